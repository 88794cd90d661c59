// Package directory manages accounts: registration, credential checks and
// the employee-to-manager assignment.
package directory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"leavedesk/db"
	"leavedesk/models"
)

type Directory struct {
	store *db.Store
}

func New(store *db.Store) *Directory {
	return &Directory{store: store}
}

// Register creates an account. Employees must name an existing manager;
// managers must not have one.
func (d *Directory) Register(ctx context.Context, username, password string, role models.Role, manager string) error {
	if strings.TrimSpace(username) == "" {
		return models.Invalid("username", "username is required")
	}
	if password == "" {
		return models.Invalid("password", "password is required")
	}
	if len(password) > db.MaxPasswordBytes {
		return models.Invalid("password", fmt.Sprintf("password must be at most %d bytes", db.MaxPasswordBytes))
	}
	if !role.Valid() {
		return models.Invalid("role", "role must be Employee or Manager")
	}

	hash, err := db.HashPassword(password)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	return d.store.WithConn(ctx, func(conn *sql.Conn) error {
		var managerValue sql.NullString
		switch role {
		case models.RoleEmployee:
			if manager == "" {
				return models.Invalid("manager", "please select a manager")
			}
			managerRole, err := roleOf(ctx, conn, manager)
			if errors.Is(err, models.ErrNotFound) || (err == nil && managerRole != models.RoleManager) {
				return models.Invalid("manager", "manager must be a registered Manager")
			}
			if err != nil {
				return err
			}
			managerValue = sql.NullString{String: manager, Valid: true}
		case models.RoleManager:
			if manager != "" {
				return models.Invalid("manager", "managers cannot have a manager")
			}
		}

		_, err := conn.ExecContext(ctx,
			"INSERT INTO users (username, password, role, manager) VALUES (?, ?, ?, ?)",
			username, hash, string(role), managerValue)
		if db.IsUniqueViolation(err) {
			return models.ErrDuplicateUsername
		}
		if err != nil {
			return fmt.Errorf("insert user: %w", err)
		}
		return nil
	})
}

// Authenticate returns the account when username and password both match.
// Any mismatch yields models.ErrNotFound.
func (d *Directory) Authenticate(ctx context.Context, username, password string) (models.User, error) {
	var user models.User
	err := d.store.WithConn(ctx, func(conn *sql.Conn) error {
		var role string
		var manager sql.NullString
		err := conn.QueryRowContext(ctx,
			"SELECT username, password, role, manager FROM users WHERE username = ?", username).
			Scan(&user.Username, &user.PasswordHash, &role, &manager)
		if errors.Is(err, sql.ErrNoRows) {
			// Keep timing uniform for unknown accounts.
			db.CheckPasswordHash(password, db.DummyHash)
			return models.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("lookup user: %w", err)
		}
		user.Role = models.Role(role)
		user.Manager = manager.String
		return nil
	})
	if err != nil {
		return models.User{}, err
	}
	if !db.CheckPasswordHash(password, user.PasswordHash) {
		return models.User{}, models.ErrNotFound
	}
	return user, nil
}

func (d *Directory) ListManagers(ctx context.Context) ([]string, error) {
	managers := []string{}
	err := d.store.WithConn(ctx, func(conn *sql.Conn) error {
		rows, err := conn.QueryContext(ctx,
			"SELECT username FROM users WHERE role = ? ORDER BY rowid", string(models.RoleManager))
		if err != nil {
			return fmt.Errorf("list managers: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var name string
			if err := rows.Scan(&name); err != nil {
				return err
			}
			managers = append(managers, name)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return managers, nil
}

func (d *Directory) Role(ctx context.Context, username string) (models.Role, error) {
	var role models.Role
	err := d.store.WithConn(ctx, func(conn *sql.Conn) error {
		var err error
		role, err = roleOf(ctx, conn, username)
		return err
	})
	return role, err
}

// ManagerOf returns the assigned manager. ok is false when the user has none.
func (d *Directory) ManagerOf(ctx context.Context, username string) (manager string, ok bool, err error) {
	err = d.store.WithConn(ctx, func(conn *sql.Conn) error {
		var value sql.NullString
		err := conn.QueryRowContext(ctx, "SELECT manager FROM users WHERE username = ?", username).Scan(&value)
		if errors.Is(err, sql.ErrNoRows) {
			return models.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("lookup manager: %w", err)
		}
		manager, ok = value.String, value.Valid && value.String != ""
		return nil
	})
	return manager, ok, err
}

func roleOf(ctx context.Context, conn *sql.Conn, username string) (models.Role, error) {
	var role string
	err := conn.QueryRowContext(ctx, "SELECT role FROM users WHERE username = ?", username).Scan(&role)
	if errors.Is(err, sql.ErrNoRows) {
		return "", models.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("lookup role: %w", err)
	}
	return models.Role(role), nil
}
