package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/argon2"
)

func DeriveKey(password string, salt []byte) []byte {
	// Argon2id parameters: 1 pass, 64MB memory, 4 threads, 32 bytes key
	return argon2.IDKey([]byte(password), salt, 1, 64*1024, 4, 32)
}

func Encrypt(text string, key []byte) (string, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err = io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(text), nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

func Decrypt(cryptoText string, key []byte) (string, error) {
	ciphertext, err := base64.StdEncoding.DecodeString(cryptoText)
	if err != nil {
		return "", err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}

	nonceSize := gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return "", fmt.Errorf("ciphertext too short")
	}

	nonce, ciphertext := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", err
	}

	return string(plaintext), nil
}

const (
	sealedPrefix = "enc:"
	// plainPrefix marks an unencrypted value that would otherwise look tagged.
	plainPrefix = "raw:"
	commentSalt = "leavedesk/leave-comments/v1"
)

var ErrNoKey = errors.New("sealed value but no comment secret configured")

// Sealer encrypts free-text columns at rest. A Sealer built from an empty
// secret stores values in plain text, so rows written before a secret was
// configured stay readable.
type Sealer struct {
	key []byte
}

func NewSealer(secret string) *Sealer {
	if secret == "" {
		return &Sealer{}
	}
	return &Sealer{key: DeriveKey(secret, []byte(commentSalt))}
}

func (s *Sealer) Configured() bool {
	return s != nil && len(s.key) == 32
}

func hasTag(v string) bool {
	return strings.HasPrefix(v, sealedPrefix) || strings.HasPrefix(v, plainPrefix)
}

// Seal returns the stored form of plain. Only values Seal encrypted carry
// the enc: tag.
func (s *Sealer) Seal(plain string) (string, error) {
	if plain == "" {
		return "", nil
	}
	if !s.Configured() {
		if hasTag(plain) {
			return plainPrefix + plain, nil
		}
		return plain, nil
	}
	enc, err := Encrypt(plain, s.key)
	if err != nil {
		return "", err
	}
	return sealedPrefix + enc, nil
}

func (s *Sealer) Open(stored string) (string, error) {
	switch {
	case strings.HasPrefix(stored, plainPrefix):
		return strings.TrimPrefix(stored, plainPrefix), nil
	case strings.HasPrefix(stored, sealedPrefix):
		if !s.Configured() {
			return "", ErrNoKey
		}
		return Decrypt(strings.TrimPrefix(stored, sealedPrefix), s.key)
	}
	return stored, nil
}
