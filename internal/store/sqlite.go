// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides location/API key persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS locations (
			user_id   TEXT PRIMARY KEY,
			latitude  REAL NOT NULL,
			longitude REAL NOT NULL,
			timestamp DATETIME NOT NULL,

			CHECK (latitude >= -90 AND latitude <= 90),
			CHECK (longitude >= -180 AND longitude <= 180)
		);

		CREATE TABLE IF NOT EXISTS api_keys (
			key_id     TEXT PRIMARY KEY,
			key_hash   TEXT NOT NULL UNIQUE,
			key_prefix TEXT NOT NULL,
			user_id    TEXT NOT NULL,
			name       TEXT,
			created_at DATETIME NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_api_keys_user ON api_keys(user_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// SetLocation upserts the user's current position with a UTC timestamp.
func (s *SQLiteStore) SetLocation(ctx context.Context, userID string, latitude, longitude float64) (*Location, error) {
	if err := validateCoordinates(latitude, longitude); err != nil {
		return nil, err
	}

	loc := &Location{
		UserID:    userID,
		Latitude:  latitude,
		Longitude: longitude,
		Timestamp: time.Now().UTC(),
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO locations (user_id, latitude, longitude, timestamp)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			latitude = excluded.latitude,
			longitude = excluded.longitude,
			timestamp = excluded.timestamp
	`, loc.UserID, loc.Latitude, loc.Longitude, loc.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("upserting location: %w", err)
	}

	return loc, nil
}

// GetLocation returns the user's position or ErrNotFound.
func (s *SQLiteStore) GetLocation(ctx context.Context, userID string) (*Location, error) {
	loc := &Location{}
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, latitude, longitude, timestamp
		FROM locations WHERE user_id = ?
	`, userID).Scan(&loc.UserID, &loc.Latitude, &loc.Longitude, &loc.Timestamp)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying location: %w", err)
	}
	return loc, nil
}

// RemoveLocation deletes the user's position.
func (s *SQLiteStore) RemoveLocation(ctx context.Context, userID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM locations WHERE user_id = ?`, userID)
	if err != nil {
		return false, fmt.Errorf("deleting location: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("checking rows affected: %w", err)
	}
	return n > 0, nil
}

// CreateAPIKey mints a new key; the raw secret is returned only here.
func (s *SQLiteStore) CreateAPIKey(ctx context.Context, userID, name string) (*APIKey, string, error) {
	rawKey, err := generateRawKey()
	if err != nil {
		return nil, "", fmt.Errorf("generating key: %w", err)
	}

	key := &APIKey{
		ID:        uuid.New().String(),
		KeyPrefix: displayPrefix(rawKey),
		UserID:    userID,
		Name:      name,
		CreatedAt: time.Now().UTC(),
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO api_keys (key_id, key_hash, key_prefix, user_id, name, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, key.ID, hashKey(rawKey), key.KeyPrefix, key.UserID, key.Name, key.CreatedAt)
	if err != nil {
		return nil, "", fmt.Errorf("inserting api key: %w", err)
	}

	s.logger.Info("API key created", "user_id", userID, "key_id", key.ID)
	return key, rawKey, nil
}

// ValidateAPIKey maps a raw key to its owner's user ID or ErrNotFound.
func (s *SQLiteStore) ValidateAPIKey(ctx context.Context, rawKey string) (string, error) {
	var userID string
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id FROM api_keys WHERE key_hash = ?
	`, hashKey(rawKey)).Scan(&userID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("querying api key: %w", err)
	}
	return userID, nil
}

// ListAPIKeys returns the user's keys, newest first.
func (s *SQLiteStore) ListAPIKeys(ctx context.Context, userID string) ([]*APIKey, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT key_id, key_prefix, user_id, COALESCE(name, ''), created_at
		FROM api_keys WHERE user_id = ?
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("querying api keys: %w", err)
	}
	defer rows.Close()

	var keys []*APIKey
	for rows.Next() {
		key := &APIKey{}
		if err := rows.Scan(&key.ID, &key.KeyPrefix, &key.UserID, &key.Name, &key.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning api key: %w", err)
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// DeleteAPIKey removes a key owned by the user.
func (s *SQLiteStore) DeleteAPIKey(ctx context.Context, userID, keyID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM api_keys WHERE key_id = ? AND user_id = ?
	`, keyID, userID)
	if err != nil {
		return false, fmt.Errorf("deleting api key: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("checking rows affected: %w", err)
	}
	return n > 0, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
