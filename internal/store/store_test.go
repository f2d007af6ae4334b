// ABOUTME: Conformance tests for the Store implementations
// ABOUTME: Runs the same suite against SQLiteStore and MemStore

package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// storeFactories builds each implementation fresh per subtest.
func storeFactories(t *testing.T) map[string]func(t *testing.T) Store {
	t.Helper()
	return map[string]func(t *testing.T) Store{
		"sqlite": func(t *testing.T) Store {
			t.Helper()
			s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "gateway.db"))
			require.NoError(t, err)
			t.Cleanup(func() { s.Close() })
			return s
		},
		"memory": func(t *testing.T) Store {
			t.Helper()
			s := NewMemStore()
			t.Cleanup(func() { s.Close() })
			return s
		},
	}
}

func TestSetLocation_Roundtrip(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := factory(t)
			ctx := context.Background()

			before := time.Now().UTC().Add(-time.Second)
			loc, err := s.SetLocation(ctx, "user-a", 37.7, -122.4)
			require.NoError(t, err)
			assert.Equal(t, "user-a", loc.UserID)
			assert.Equal(t, 37.7, loc.Latitude)
			assert.Equal(t, -122.4, loc.Longitude)
			assert.False(t, loc.Timestamp.Before(before), "timestamp should be set at write time")

			got, err := s.GetLocation(ctx, "user-a")
			require.NoError(t, err)
			assert.Equal(t, loc.Latitude, got.Latitude)
			assert.Equal(t, loc.Longitude, got.Longitude)
		})
	}
}

func TestSetLocation_UpsertReplacesPrevious(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := factory(t)
			ctx := context.Background()

			_, err := s.SetLocation(ctx, "user-a", 10, 20)
			require.NoError(t, err)
			_, err = s.SetLocation(ctx, "user-a", 30, 40)
			require.NoError(t, err)

			got, err := s.GetLocation(ctx, "user-a")
			require.NoError(t, err)
			assert.Equal(t, 30.0, got.Latitude)
			assert.Equal(t, 40.0, got.Longitude)
		})
	}
}

func TestSetLocation_RejectsOutOfRange(t *testing.T) {
	cases := []struct {
		name     string
		lat, lon float64
		wantErr  error
	}{
		{"latitude too high", 90.01, 0, ErrInvalidLatitude},
		{"latitude too low", -90.01, 0, ErrInvalidLatitude},
		{"longitude too high", 0, 180.01, ErrInvalidLongitude},
		{"longitude too low", 0, -180.01, ErrInvalidLongitude},
	}

	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := factory(t)
			ctx := context.Background()

			for _, tc := range cases {
				t.Run(tc.name, func(t *testing.T) {
					_, err := s.SetLocation(ctx, "user-a", tc.lat, tc.lon)
					assert.ErrorIs(t, err, tc.wantErr)
				})
			}

			// Boundary values are accepted
			_, err := s.SetLocation(ctx, "user-a", 90, 180)
			assert.NoError(t, err)
			_, err = s.SetLocation(ctx, "user-a", -90, -180)
			assert.NoError(t, err)
		})
	}
}

func TestGetLocation_NotFound(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := factory(t)

			_, err := s.GetLocation(context.Background(), "nobody")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestRemoveLocation(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := factory(t)
			ctx := context.Background()

			removed, err := s.RemoveLocation(ctx, "user-a")
			require.NoError(t, err)
			assert.False(t, removed, "removing a never-set location should report false")

			_, err = s.SetLocation(ctx, "user-a", 1, 2)
			require.NoError(t, err)

			removed, err = s.RemoveLocation(ctx, "user-a")
			require.NoError(t, err)
			assert.True(t, removed)

			_, err = s.GetLocation(ctx, "user-a")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestAPIKeyLifecycle(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := factory(t)
			ctx := context.Background()

			key, raw, err := s.CreateAPIKey(ctx, "user-a", "phone")
			require.NoError(t, err)
			require.NotEmpty(t, raw)
			assert.True(t, len(raw) > 20, "raw key should carry real entropy")
			assert.Equal(t, raw[:8], key.KeyPrefix)
			assert.Equal(t, "user-a", key.UserID)
			assert.Equal(t, "phone", key.Name)
			assert.NotEmpty(t, key.ID)

			// The raw key validates to its owner
			userID, err := s.ValidateAPIKey(ctx, raw)
			require.NoError(t, err)
			assert.Equal(t, "user-a", userID)

			// An unknown key does not validate
			_, err = s.ValidateAPIKey(ctx, "lmk_garbage")
			assert.ErrorIs(t, err, ErrNotFound)

			// Listing shows metadata, never the secret
			keys, err := s.ListAPIKeys(ctx, "user-a")
			require.NoError(t, err)
			require.Len(t, keys, 1)
			assert.Equal(t, key.ID, keys[0].ID)

			// Deletion is owner-scoped
			deleted, err := s.DeleteAPIKey(ctx, "user-b", key.ID)
			require.NoError(t, err)
			assert.False(t, deleted, "another user must not delete the key")

			deleted, err = s.DeleteAPIKey(ctx, "user-a", key.ID)
			require.NoError(t, err)
			assert.True(t, deleted)

			_, err = s.ValidateAPIKey(ctx, raw)
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestCreateAPIKey_DistinctSecrets(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := factory(t)
			ctx := context.Background()

			_, raw1, err := s.CreateAPIKey(ctx, "user-a", "")
			require.NoError(t, err)
			_, raw2, err := s.CreateAPIKey(ctx, "user-a", "")
			require.NoError(t, err)

			assert.NotEqual(t, raw1, raw2)

			keys, err := s.ListAPIKeys(ctx, "user-a")
			require.NoError(t, err)
			assert.Len(t, keys, 2)
		})
	}
}

func TestListAPIKeys_ScopedToUser(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := factory(t)
			ctx := context.Background()

			_, _, err := s.CreateAPIKey(ctx, "user-a", "a-key")
			require.NoError(t, err)
			_, _, err = s.CreateAPIKey(ctx, "user-b", "b-key")
			require.NoError(t, err)

			keys, err := s.ListAPIKeys(ctx, "user-a")
			require.NoError(t, err)
			require.Len(t, keys, 1)
			assert.Equal(t, "user-a", keys[0].UserID)
		})
	}
}

func TestHashKey_Deterministic(t *testing.T) {
	h1 := hashKey("lmk_example")
	h2 := hashKey("lmk_example")
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64)
	assert.NotEqual(t, h1, hashKey("lmk_other"))
}

func TestGenerateRawKey_Format(t *testing.T) {
	raw, err := generateRawKey()
	require.NoError(t, err)
	assert.True(t, len(raw) > len("lmk_"))
	assert.Equal(t, "lmk_", raw[:4])
}

func TestValidateCoordinates(t *testing.T) {
	assert.NoError(t, validateCoordinates(0, 0))
	assert.NoError(t, validateCoordinates(90, 180))
	assert.NoError(t, validateCoordinates(-90, -180))
	assert.True(t, errors.Is(validateCoordinates(91, 0), ErrInvalidLatitude))
	assert.True(t, errors.Is(validateCoordinates(0, 181), ErrInvalidLongitude))
}
