package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
    local_id    TEXT PRIMARY KEY,
    external_id TEXT NOT NULL UNIQUE,
    email       TEXT NOT NULL DEFAULT '',
    first_name  TEXT NOT NULL DEFAULT '',
    last_name   TEXT NOT NULL DEFAULT '',
    avatar_url  TEXT NOT NULL DEFAULT '',
    created_at  TIMESTAMP NOT NULL,
    updated_at  TIMESTAMP NOT NULL
);
`

// Database is the local user directory, keyed by the provider's external id
type Database struct {
	db *sql.DB
}

// User represents a user record in the local directory
type User struct {
	LocalID    string
	ExternalID string
	Email      string
	FirstName  string
	LastName   string
	AvatarURL  string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// UserRecord holds the provider-owned fields written on every upsert
type UserRecord struct {
	ExternalID string
	Email      string
	FirstName  string
	LastName   string
	AvatarURL  string
}

// UpsertResult reports the local id of the record and whether this call created it
type UpsertResult struct {
	LocalID string
	Created bool
}

// NewDatabase opens the SQLite database at path and applies the schema
func NewDatabase(path string) (*Database, error) {
	dsn := path
	if path != ":memory:" {
		dsn = fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate", escapeDSNPath(path))
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Every connection to :memory: is a separate database
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	logger.Info("Database initialized", zap.String("path", path))
	return &Database{db: db}, nil
}

// escapeDSNPath percent-encodes the characters that end the path part of a
// SQLite URI filename
func escapeDSNPath(path string) string {
	return dsnPathEscaper.Replace(path)
}

var dsnPathEscaper = strings.NewReplacer("%", "%25", "?", "%3F", "#", "%23")

// UpsertUser creates or replaces the user identified by record.ExternalID.
// The local id is generated on first insert and never changes afterwards.
func (d *Database) UpsertUser(ctx context.Context, record UserRecord) (UpsertResult, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return UpsertResult{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	now := time.Now().UTC()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO users (local_id, external_id, email, first_name, last_name, avatar_url, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(external_id) DO NOTHING`,
		uuid.NewString(), record.ExternalID, record.Email, record.FirstName, record.LastName, record.AvatarURL, now, now,
	)
	if err != nil {
		return UpsertResult{}, fmt.Errorf("failed to insert user: %w", err)
	}

	inserted, err := res.RowsAffected()
	if err != nil {
		return UpsertResult{}, fmt.Errorf("failed to read affected rows: %w", err)
	}

	if inserted == 0 {
		_, err = tx.ExecContext(ctx, `
			UPDATE users
			SET email = ?, first_name = ?, last_name = ?, avatar_url = ?, updated_at = ?
			WHERE external_id = ?`,
			record.Email, record.FirstName, record.LastName, record.AvatarURL, now, record.ExternalID,
		)
		if err != nil {
			return UpsertResult{}, fmt.Errorf("failed to update user: %w", err)
		}
	}

	var localID string
	if err := tx.QueryRowContext(ctx, "SELECT local_id FROM users WHERE external_id = ?", record.ExternalID).Scan(&localID); err != nil {
		return UpsertResult{}, fmt.Errorf("failed to read local id: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return UpsertResult{}, fmt.Errorf("failed to commit: %w", err)
	}

	logger.Debug("User upserted",
		zap.String("externalId", record.ExternalID),
		zap.String("localId", localID),
		zap.Bool("created", inserted == 1))

	return UpsertResult{LocalID: localID, Created: inserted == 1}, nil
}

// DeleteUser removes the user with the given external id.
// It returns ErrUserNotFound when no record matched.
func (d *Database) DeleteUser(ctx context.Context, externalID string) error {
	res, err := d.db.ExecContext(ctx, "DELETE FROM users WHERE external_id = ?", externalID)
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}

	deleted, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if deleted == 0 {
		return ErrUserNotFound
	}

	logger.Debug("User deleted", zap.String("externalId", externalID))
	return nil
}

// GetUserByExternalID returns the user with the given external id
func (d *Database) GetUserByExternalID(ctx context.Context, externalID string) (*User, error) {
	var u User
	err := d.db.QueryRowContext(ctx, `
		SELECT local_id, external_id, email, first_name, last_name, avatar_url, created_at, updated_at
		FROM users WHERE external_id = ?`, externalID,
	).Scan(&u.LocalID, &u.ExternalID, &u.Email, &u.FirstName, &u.LastName, &u.AvatarURL, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	return &u, nil
}

// CountUsers returns the number of users in the directory
func (d *Database) CountUsers(ctx context.Context) (int, error) {
	var count int
	if err := d.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM users").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count users: %w", err)
	}
	return count, nil
}

// Ping checks that the database is reachable
func (d *Database) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

// Close closes the underlying database
func (d *Database) Close() error {
	return d.db.Close()
}
