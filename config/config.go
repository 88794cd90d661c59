package config

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"log"
	"os"
)

type Config struct {
	AppName        string `json:"app_name"`
	ListenIP       string `json:"listen_ip"`
	ListenPort     int    `json:"listen_port"`
	SessionKey     string `json:"session_key"`
	DatabasePath   string `json:"database_path"`
	SecureCookies  bool   `json:"secure_cookies"`
	CaptchaEnabled bool   `json:"captcha_enabled"`
	// CommentSecret enables at-rest encryption of leave comments when set.
	CommentSecret string `json:"comment_secret"`
}

var AppConfig Config

func defaults() Config {
	return Config{
		AppName:      "Leave Management System",
		ListenIP:     "127.0.0.1",
		ListenPort:   8080,
		DatabasePath: "./leaves.db",
	}
}

func LoadConfig(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	cfg := defaults()
	decoder := json.NewDecoder(file)
	if err := decoder.Decode(&cfg); err != nil {
		return err
	}
	AppConfig = cfg

	// Override with environment variables if present
	if envKey := os.Getenv("LEAVEDESK_SESSION_KEY"); envKey != "" {
		AppConfig.SessionKey = envKey
	}
	if envPath := os.Getenv("LEAVEDESK_DATABASE_PATH"); envPath != "" {
		AppConfig.DatabasePath = envPath
	}
	if envSecret := os.Getenv("LEAVEDESK_COMMENT_SECRET"); envSecret != "" {
		AppConfig.CommentSecret = envSecret
	}

	if AppConfig.SessionKey == "" || AppConfig.SessionKey == "CHANGE_ME_IN_PRODUCTION" {
		log.Println("WARNING: No session key configured. Generating a random key. Sessions will be invalidated on restart.")
		randomKey := make([]byte, 32)
		if _, err := rand.Read(randomKey); err != nil {
			return err
		}
		AppConfig.SessionKey = hex.EncodeToString(randomKey)
	}

	return nil
}
