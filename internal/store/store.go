// ABOUTME: Store interface and data types for location-gateway persistence
// ABOUTME: Defines Location, APIKey structs and the Store interface for database operations

package store

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// Coordinate validation errors
var (
	ErrInvalidLatitude  = errors.New("latitude must be between -90 and 90")
	ErrInvalidLongitude = errors.New("longitude must be between -180 and 180")
)

// keyPrefixLen is the number of leading raw-key characters kept for display.
const keyPrefixLen = 8

// Location represents a user's most recently shared GPS position
type Location struct {
	UserID    string    `json:"userId"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Timestamp time.Time `json:"timestamp"`
}

// APIKey represents a stored API key. The raw secret is returned exactly
// once at creation time and never stored; only its digest and a short
// display prefix are persisted.
type APIKey struct {
	ID        string    `json:"id"`
	KeyPrefix string    `json:"keyPrefix"`
	UserID    string    `json:"userId"`
	Name      string    `json:"name,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Store is the persistence interface for locations and API keys
type Store interface {
	// SetLocation upserts the user's current position, stamping UTC now.
	// Coordinates outside the valid ranges are rejected.
	SetLocation(ctx context.Context, userID string, latitude, longitude float64) (*Location, error)

	// GetLocation returns the user's position, or ErrNotFound when the user
	// has never shared one.
	GetLocation(ctx context.Context, userID string) (*Location, error)

	// RemoveLocation deletes the user's position. Returns true if one existed.
	RemoveLocation(ctx context.Context, userID string) (bool, error)

	// CreateAPIKey mints a new key for the user. The second return value is
	// the raw secret, available only here.
	CreateAPIKey(ctx context.Context, userID, name string) (*APIKey, string, error)

	// ValidateAPIKey maps a presented raw key to its owner's user ID, or
	// ErrNotFound when no key matches.
	ValidateAPIKey(ctx context.Context, rawKey string) (string, error)

	// ListAPIKeys returns the user's keys, raw secrets excluded.
	ListAPIKeys(ctx context.Context, userID string) ([]*APIKey, error)

	// DeleteAPIKey removes a key owned by the user. Returns true if it existed.
	DeleteAPIKey(ctx context.Context, userID, keyID string) (bool, error)

	// Close releases underlying resources.
	Close() error
}

// validateCoordinates checks latitude/longitude ranges.
func validateCoordinates(latitude, longitude float64) error {
	if latitude < -90 || latitude > 90 {
		return ErrInvalidLatitude
	}
	if longitude < -180 || longitude > 180 {
		return ErrInvalidLongitude
	}
	return nil
}

// generateRawKey produces a new API key secret: a recognizable prefix plus
// 192 bits of URL-safe randomness.
func generateRawKey() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return "lmk_" + base64.RawURLEncoding.EncodeToString(buf), nil
}

// hashKey returns the hex SHA-256 digest under which a raw key is stored.
func hashKey(rawKey string) string {
	sum := sha256.Sum256([]byte(rawKey))
	return hex.EncodeToString(sum[:])
}

// displayPrefix returns the short prefix of a raw key kept for listings.
func displayPrefix(rawKey string) string {
	if len(rawKey) < keyPrefixLen {
		return rawKey
	}
	return rawKey[:keyPrefixLen]
}
