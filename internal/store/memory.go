// ABOUTME: In-memory implementation of the Store interface for tests
// ABOUTME: Mirrors SQLiteStore semantics including upserts and owner-scoped deletes

package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// memKey is an API key record with its lookup digest.
type memKey struct {
	key  APIKey
	hash string
}

// MemStore is a thread-safe in-memory Store used by tests.
type MemStore struct {
	mu        sync.RWMutex
	locations map[string]Location // userID -> location
	keys      map[string]memKey   // keyID -> record
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		locations: make(map[string]Location),
		keys:      make(map[string]memKey),
	}
}

// SetLocation upserts the user's current position with a UTC timestamp.
func (m *MemStore) SetLocation(_ context.Context, userID string, latitude, longitude float64) (*Location, error) {
	if err := validateCoordinates(latitude, longitude); err != nil {
		return nil, err
	}

	loc := Location{
		UserID:    userID,
		Latitude:  latitude,
		Longitude: longitude,
		Timestamp: time.Now().UTC(),
	}

	m.mu.Lock()
	m.locations[userID] = loc
	m.mu.Unlock()

	out := loc
	return &out, nil
}

// GetLocation returns the user's position or ErrNotFound.
func (m *MemStore) GetLocation(_ context.Context, userID string) (*Location, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	loc, ok := m.locations[userID]
	if !ok {
		return nil, ErrNotFound
	}
	out := loc
	return &out, nil
}

// RemoveLocation deletes the user's position.
func (m *MemStore) RemoveLocation(_ context.Context, userID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.locations[userID]
	delete(m.locations, userID)
	return ok, nil
}

// CreateAPIKey mints a new key; the raw secret is returned only here.
func (m *MemStore) CreateAPIKey(_ context.Context, userID, name string) (*APIKey, string, error) {
	rawKey, err := generateRawKey()
	if err != nil {
		return nil, "", err
	}

	key := APIKey{
		ID:        uuid.New().String(),
		KeyPrefix: displayPrefix(rawKey),
		UserID:    userID,
		Name:      name,
		CreatedAt: time.Now().UTC(),
	}

	m.mu.Lock()
	m.keys[key.ID] = memKey{key: key, hash: hashKey(rawKey)}
	m.mu.Unlock()

	out := key
	return &out, rawKey, nil
}

// ValidateAPIKey maps a raw key to its owner's user ID or ErrNotFound.
func (m *MemStore) ValidateAPIKey(_ context.Context, rawKey string) (string, error) {
	digest := hashKey(rawKey)

	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, rec := range m.keys {
		if rec.hash == digest {
			return rec.key.UserID, nil
		}
	}
	return "", ErrNotFound
}

// ListAPIKeys returns the user's keys.
func (m *MemStore) ListAPIKeys(_ context.Context, userID string) ([]*APIKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var keys []*APIKey
	for _, rec := range m.keys {
		if rec.key.UserID == userID {
			out := rec.key
			keys = append(keys, &out)
		}
	}
	return keys, nil
}

// DeleteAPIKey removes a key owned by the user.
func (m *MemStore) DeleteAPIKey(_ context.Context, userID, keyID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.keys[keyID]
	if !ok || rec.key.UserID != userID {
		return false, nil
	}
	delete(m.keys, keyID)
	return true, nil
}

// Close is a no-op for the in-memory store.
func (m *MemStore) Close() error {
	return nil
}
