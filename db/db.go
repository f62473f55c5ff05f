// Package db is the optional Postgres-backed store for user accounts, HTTP
// sessions, and vault registrations. Entirely optional: auth falls back to
// its in-memory maps when no DatabaseURL is configured.
package db

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/sirupsen/logrus"

	"axiomvault/vaulterr"
)

var log = logrus.WithField("component", "db")

// DB wraps a single pgx connection. The service holds at most one of these;
// callers serialize access (matches the teacher's single-connection style,
// good enough at personal-vault scale).
type DB struct {
	conn *pgx.Conn
}

// Connect opens a connection and ensures the schema this package owns
// exists.
func Connect(ctx context.Context, url string) (*DB, error) {
	conn, err := pgx.Connect(ctx, url)
	if err != nil {
		return nil, vaulterr.NetworkWrap(err, "connect to database")
	}
	d := &DB{conn: conn}
	if err := d.migrate(ctx); err != nil {
		_ = conn.Close(ctx)
		return nil, err
	}
	return d, nil
}

func (d *DB) Close(ctx context.Context) error {
	return d.conn.Close(ctx)
}

func (d *DB) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			email TEXT PRIMARY KEY,
			username TEXT NOT NULL,
			password_hash TEXT NOT NULL,
			user_id TEXT NOT NULL UNIQUE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS vault_registrations (
			user_id TEXT PRIMARY KEY REFERENCES users(user_id),
			vault_id TEXT NOT NULL UNIQUE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS sessions (
			session_token TEXT PRIMARY KEY,
			user_id TEXT NOT NULL REFERENCES users(user_id),
			csrf_token TEXT NOT NULL,
			expires_at TIMESTAMPTZ NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := d.conn.Exec(ctx, stmt); err != nil {
			return vaulterr.StorageWrap(err, "migrate schema")
		}
	}
	return nil
}

// UserRecord mirrors the users table.
type UserRecord struct {
	Email        string
	Username     string
	PasswordHash string
	UserID       string
}

func (d *DB) CreateUser(ctx context.Context, u UserRecord) error {
	_, err := d.conn.Exec(ctx,
		`INSERT INTO users (email, username, password_hash, user_id) VALUES ($1, $2, $3, $4)`,
		u.Email, u.Username, u.PasswordHash, u.UserID)
	if err != nil {
		return vaulterr.StorageWrap(err, "insert user")
	}
	return nil
}

func (d *DB) GetUserByEmail(ctx context.Context, email string) (UserRecord, error) {
	var u UserRecord
	err := d.conn.QueryRow(ctx,
		`SELECT email, username, password_hash, user_id FROM users WHERE email = $1`, email,
	).Scan(&u.Email, &u.Username, &u.PasswordHash, &u.UserID)
	if err != nil {
		if err == pgx.ErrNoRows {
			return UserRecord{}, vaulterr.NotFoundf("no user with email %q", email)
		}
		return UserRecord{}, vaulterr.StorageWrap(err, "query user")
	}
	return u, nil
}

// RegisterVault records which on-disk vault belongs to which user.
func (d *DB) RegisterVault(ctx context.Context, userID, vaultID string) error {
	_, err := d.conn.Exec(ctx,
		`INSERT INTO vault_registrations (user_id, vault_id) VALUES ($1, $2)`, userID, vaultID)
	if err != nil {
		return vaulterr.StorageWrap(err, "register vault")
	}
	return nil
}

func (d *DB) VaultIDForUser(ctx context.Context, userID string) (string, error) {
	var vaultID string
	err := d.conn.QueryRow(ctx,
		`SELECT vault_id FROM vault_registrations WHERE user_id = $1`, userID,
	).Scan(&vaultID)
	if err != nil {
		if err == pgx.ErrNoRows {
			return "", vaulterr.NotFoundf("no vault registered for user %q", userID)
		}
		return "", vaulterr.StorageWrap(err, "query vault registration")
	}
	return vaultID, nil
}

// PersistSession upserts a session row so sessions survive a process
// restart; auth's in-memory map remains the fast path, this is a mirror.
func (d *DB) PersistSession(ctx context.Context, sessionToken, userID, csrfToken string, expiresAt time.Time) error {
	_, err := d.conn.Exec(ctx,
		`INSERT INTO sessions (session_token, user_id, csrf_token, expires_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (session_token) DO UPDATE SET csrf_token = $3, expires_at = $4`,
		sessionToken, userID, csrfToken, expiresAt)
	if err != nil {
		return vaulterr.StorageWrap(err, "persist session")
	}
	return nil
}
