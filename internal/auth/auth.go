// ABOUTME: API key authentication for HTTP requests
// ABOUTME: Extracts a candidate key from headers or query parameters and resolves it to a user ID

package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Authentication errors. The adapter maps these to the two 401 bodies; no
// other detail about which check failed is ever surfaced.
var (
	ErrNoAPIKey      = errors.New("API key required")
	ErrInvalidAPIKey = errors.New("invalid API key")
)

// KeyValidator maps a presented raw API key to a user ID.
// Returns store.ErrNotFound-style errors for unknown keys.
type KeyValidator interface {
	ValidateAPIKey(ctx context.Context, rawKey string) (string, error)
}

// Authenticator resolves a caller identity from an HTTP request.
// Candidate key sources are checked in order, first match wins:
// X-API-Key header, Authorization Bearer token, apiKey query parameter,
// api_key query parameter.
type Authenticator struct {
	validator KeyValidator
	cache     *keyCache
	logger    *slog.Logger
}

// NewAuthenticator creates an Authenticator backed by the given validator.
// Validated keys are cached for cacheTTL (0 disables caching).
func NewAuthenticator(validator KeyValidator, cacheTTL time.Duration, logger *slog.Logger) *Authenticator {
	if logger == nil {
		logger = slog.Default()
	}

	var cache *keyCache
	if cacheTTL > 0 {
		cache = newKeyCache(cacheTTL, defaultCacheSize)
	}

	return &Authenticator{
		validator: validator,
		cache:     cache,
		logger:    logger.With("component", "auth"),
	}
}

// extractCandidateKey pulls the first populated key slot from the request.
// Returns empty string when none is present.
func extractCandidateKey(r *http.Request) string {
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}
	if authHeader := r.Header.Get("Authorization"); strings.HasPrefix(authHeader, "Bearer ") {
		if token := strings.TrimPrefix(authHeader, "Bearer "); token != "" {
			return token
		}
	}
	if key := r.URL.Query().Get("apiKey"); key != "" {
		return key
	}
	if key := r.URL.Query().Get("api_key"); key != "" {
		return key
	}
	return ""
}

// Authenticate resolves the request to a verified user ID.
// Any validator fault is treated as an invalid key (fail closed).
func (a *Authenticator) Authenticate(r *http.Request) (string, error) {
	rawKey := extractCandidateKey(r)
	if rawKey == "" {
		return "", ErrNoAPIKey
	}

	if a.cache != nil {
		if userID, ok := a.cache.get(rawKey); ok {
			return userID, nil
		}
	}

	userID, err := a.validator.ValidateAPIKey(r.Context(), rawKey)
	if err != nil {
		// Fail closed: validator faults and unknown keys are indistinguishable
		// to the caller. Full detail goes to the server log only.
		a.logger.Debug("API key validation failed", "error", err)
		return "", ErrInvalidAPIKey
	}

	if a.cache != nil {
		a.cache.put(rawKey, userID)
	}
	return userID, nil
}

// Purge drops all cached validations. Called after key deletion so a
// revoked key stops working immediately rather than at TTL expiry.
func (a *Authenticator) Purge() {
	if a.cache != nil {
		a.cache.purge()
	}
}

// Close stops the cache's background sweeper.
func (a *Authenticator) Close() {
	if a.cache != nil {
		a.cache.close()
	}
}
