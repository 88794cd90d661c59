package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"net/http"

	"leavedesk/config"
	"leavedesk/db"

	"github.com/gorilla/sessions"
)

var Store *sessions.CookieStore

func InitStore() {
	// Derive two 32-byte keys from the session key
	authKey := sha256.Sum256([]byte(config.AppConfig.SessionKey + "auth"))
	encKey := sha256.Sum256([]byte(config.AppConfig.SessionKey + "encryption"))

	Store = sessions.NewCookieStore(authKey[:], encKey[:])

	Store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   86400 * 7, // 7 days
		HttpOnly: true,
		Secure:   config.AppConfig.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	}
}

const SessionName = "leavedesk-session"

// Session is the per-request login state. The zero value is a logged-out visitor.
type Session struct {
	LoggedIn bool
	Username string
}

func Load(r *http.Request) Session {
	session, _ := Store.Get(r, SessionName)
	username, ok := session.Values["username"].(string)
	if !ok || username == "" {
		return Session{}
	}
	return Session{LoggedIn: true, Username: username}
}

func SetSession(w http.ResponseWriter, r *http.Request, username string) error {
	session, _ := Store.Get(r, SessionName)
	session.Values["username"] = username
	return session.Save(r, w)
}

func ClearSession(w http.ResponseWriter, r *http.Request) {
	session, _ := Store.Get(r, SessionName)
	delete(session.Values, "username")
	session.Options.MaxAge = -1
	session.Save(r, w)
}

func AddFlash(w http.ResponseWriter, r *http.Request, message string) {
	session, _ := Store.Get(r, SessionName)
	session.AddFlash(message)
	if err := session.Save(r, w); err != nil {
		log.Printf("Error saving flash: %v", err)
	}
}

// Flashes pops pending flash messages. Call it before the response body is written.
func Flashes(w http.ResponseWriter, r *http.Request) []string {
	session, _ := Store.Get(r, SessionName)
	raw := session.Flashes()
	if len(raw) == 0 {
		return nil
	}
	session.Save(r, w)

	messages := make([]string, 0, len(raw))
	for _, f := range raw {
		if msg, ok := f.(string); ok {
			messages = append(messages, msg)
		}
	}
	return messages
}

type ctxKey string

const sessionKey ctxKey = "session"

func WithSession(ctx context.Context, s Session) context.Context {
	return context.WithValue(ctx, sessionKey, s)
}

func FromContext(ctx context.Context) Session {
	if s, ok := ctx.Value(sessionKey).(Session); ok {
		return s
	}
	return Session{}
}

// Tokens issues and resolves persistent API tokens.
type Tokens struct {
	store *db.Store
}

func NewTokens(store *db.Store) *Tokens {
	return &Tokens{store: store}
}

func (t *Tokens) Create(ctx context.Context, username string) (string, error) {
	token := generateRandomToken(32)
	err := t.store.WithConn(ctx, func(conn *sql.Conn) error {
		_, err := conn.ExecContext(ctx, "INSERT INTO api_sessions (token, username) VALUES (?, ?)", token, username)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("create api token: %w", err)
	}
	return token, nil
}

func (t *Tokens) Lookup(ctx context.Context, token string) (string, bool) {
	if token == "" {
		return "", false
	}
	var username string
	err := t.store.WithConn(ctx, func(conn *sql.Conn) error {
		return conn.QueryRowContext(ctx, "SELECT username FROM api_sessions WHERE token = ?", token).Scan(&username)
	})
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			log.Printf("Error looking up API token: %v", err)
		}
		return "", false
	}
	return username, true
}

func (t *Tokens) Revoke(ctx context.Context, token string) error {
	return t.store.WithConn(ctx, func(conn *sql.Conn) error {
		_, err := conn.ExecContext(ctx, "DELETE FROM api_sessions WHERE token = ?", token)
		return err
	})
}

func generateRandomToken(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		// If we can't generate random numbers, the system is in a critical state.
		panic(fmt.Sprintf("critical security error: failed to generate random token: %v", err))
	}
	return base64.URLEncoding.EncodeToString(b)
}
