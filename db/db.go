package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"

	"github.com/mattn/go-sqlite3"
	"golang.org/x/crypto/bcrypt"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	username TEXT PRIMARY KEY,
	password TEXT NOT NULL,
	role TEXT NOT NULL,
	manager TEXT
);

CREATE TABLE IF NOT EXISTS leaves (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	username TEXT NOT NULL,
	date TEXT NOT NULL,
	leave_type TEXT NOT NULL,
	comment TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'Waiting'
);

CREATE TABLE IF NOT EXISTS api_sessions (
	token TEXT PRIMARY KEY,
	username TEXT NOT NULL,
	created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
`

// Store is the single-file relational store shared by the directory,
// the ledger and the API token table.
type Store struct {
	db *sql.DB
}

func InitDB(dataSourceName string) (*Store, error) {
	db, err := sql.Open("sqlite3", dataSourceName+"?_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating tables: %w", err)
	}

	log.Printf("Database ready at %s", dataSourceName)
	return &Store{db: db}, nil
}

// WithConn holds one connection for the duration of fn and releases it on
// every return path.
func (s *Store) WithConn(ctx context.Context, fn func(conn *sql.Conn) error) error {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Close()
	return fn(conn)
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	return s.db.Close()
}

// IsUniqueViolation reports whether err is a primary key or unique constraint failure.
func IsUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey ||
		sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
}

// DummyHash is compared against when a username is unknown so that login
// timing does not reveal which accounts exist.
var DummyHash string

func init() {
	hash, err := HashPassword("leavedesk-dummy-password")
	if err != nil {
		panic(fmt.Sprintf("generating dummy hash: %v", err))
	}
	DummyHash = hash
}

// MaxPasswordBytes is the longest password bcrypt accepts.
const MaxPasswordBytes = 72

func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(bytes), err
}

func CheckPasswordHash(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}
