// ABOUTME: HTTP API handlers for location updates and API key management
// ABOUTME: Location endpoints use API key auth; key endpoints use identity-provider bearer tokens

package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/marcopolo39/location-gateway/internal/auth"
	"github.com/marcopolo39/location-gateway/internal/store"
)

// LocationUpdateRequest is the JSON body for POST /api/location.
// Pointer fields distinguish "absent" from zero coordinates.
type LocationUpdateRequest struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

// LocationUpdateResponse is the JSON response for POST /api/location.
type LocationUpdateResponse struct {
	Success  bool            `json:"success"`
	Location *store.Location `json:"location"`
}

// CreateKeyRequest is the JSON body for POST /api/keys.
type CreateKeyRequest struct {
	Name string `json:"name,omitempty"`
}

// CreateKeyResponse is the JSON response for POST /api/keys. Key carries
// the raw secret; it is available only in this response.
type CreateKeyResponse struct {
	Success bool          `json:"success"`
	Key     string        `json:"key"`
	APIKey  *store.APIKey `json:"apiKey"`
}

// ListKeysResponse is the JSON response for GET /api/keys.
type ListKeysResponse struct {
	Keys []*store.APIKey `json:"keys"`
}

// errorResponse is the shared JSON error envelope.
type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// sendJSONError writes the {error, message} envelope with the given status.
func sendJSONError(w http.ResponseWriter, status int, errText, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorResponse{Error: errText, Message: message})
}

// sendJSON writes a 200 JSON response.
func sendJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// authenticateAPIKey resolves the request's API key to a user ID, writing
// the 401 envelope on failure. Returns "" when authentication failed.
func (g *Gateway) authenticateAPIKey(w http.ResponseWriter, r *http.Request) string {
	userID, err := g.authenticator.Authenticate(r)
	if err != nil {
		if errors.Is(err, auth.ErrNoAPIKey) {
			sendJSONError(w, http.StatusUnauthorized, "Unauthorized",
				"API key required. Pass as X-API-Key header or apiKey query parameter.")
		} else {
			sendJSONError(w, http.StatusUnauthorized, "Unauthorized", "Invalid API key")
		}
		return ""
	}
	return userID
}

// handleLocation handles GET and POST /api/location requests.
func (g *Gateway) handleLocation(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		g.handleLocationUpdate(w, r)
	case http.MethodGet:
		g.handleLocationFetch(w, r)
	case http.MethodDelete:
		g.handleLocationRemove(w, r)
	default:
		w.Header().Set("Allow", "GET, POST, DELETE")
		sendJSONError(w, http.StatusMethodNotAllowed, "Method Not Allowed", "")
	}
}

// handleLocationUpdate stores the caller's current coordinates.
func (g *Gateway) handleLocationUpdate(w http.ResponseWriter, r *http.Request) {
	userID := g.authenticateAPIKey(w, r)
	if userID == "" {
		return
	}

	var req LocationUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendJSONError(w, http.StatusBadRequest, "Invalid request", "Invalid JSON body")
		return
	}

	if req.Latitude == nil || req.Longitude == nil {
		sendJSONError(w, http.StatusBadRequest, "Invalid request", "latitude and longitude are required")
		return
	}

	loc, err := g.store.SetLocation(r.Context(), userID, *req.Latitude, *req.Longitude)
	if errors.Is(err, store.ErrInvalidLatitude) {
		sendJSONError(w, http.StatusBadRequest, "Invalid latitude", "Latitude must be between -90 and 90")
		return
	}
	if errors.Is(err, store.ErrInvalidLongitude) {
		sendJSONError(w, http.StatusBadRequest, "Invalid longitude", "Longitude must be between -180 and 180")
		return
	}
	if err != nil {
		g.logger.Error("failed to set location", "error", err, "user_id", userID)
		sendJSONError(w, http.StatusInternalServerError, "Internal server error", "")
		return
	}

	// Wake any live MCP streaming channel for this identity
	g.adapter.NotifyLocationUpdated(userID)

	g.logger.Info("location updated", "user_id", userID)
	sendJSON(w, LocationUpdateResponse{Success: true, Location: loc})
}

// handleLocationFetch returns the caller's stored location. This is the
// only path that surfaces "no data" as a 404; the MCP tools answer with
// descriptive text instead.
func (g *Gateway) handleLocationFetch(w http.ResponseWriter, r *http.Request) {
	userID := g.authenticateAPIKey(w, r)
	if userID == "" {
		return
	}

	loc, err := g.store.GetLocation(r.Context(), userID)
	if errors.Is(err, store.ErrNotFound) {
		sendJSONError(w, http.StatusNotFound, "Not found", "No location data available")
		return
	}
	if err != nil {
		g.logger.Error("failed to get location", "error", err, "user_id", userID)
		sendJSONError(w, http.StatusInternalServerError, "Internal server error", "")
		return
	}

	sendJSON(w, loc)
}

// handleLocationRemove stops sharing: the stored position is deleted and
// any live MCP stream is told the resource changed.
func (g *Gateway) handleLocationRemove(w http.ResponseWriter, r *http.Request) {
	userID := g.authenticateAPIKey(w, r)
	if userID == "" {
		return
	}

	removed, err := g.store.RemoveLocation(r.Context(), userID)
	if err != nil {
		g.logger.Error("failed to remove location", "error", err, "user_id", userID)
		sendJSONError(w, http.StatusInternalServerError, "Internal server error", "")
		return
	}
	if !removed {
		sendJSONError(w, http.StatusNotFound, "Not found", "No location data available")
		return
	}

	g.adapter.NotifyLocationUpdated(userID)
	g.logger.Info("location removed", "user_id", userID)
	w.WriteHeader(http.StatusNoContent)
}

// extractBearerToken extracts a bearer token from the Authorization header.
// Returns the token and an error message (empty if successful).
func extractBearerToken(authHeader string) (string, string) {
	if authHeader == "" {
		return "", "Authorization header with Bearer token required"
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", "invalid authorization header format"
	}
	token := strings.TrimPrefix(authHeader, "Bearer ")
	if token == "" {
		return "", "empty token"
	}
	return token, ""
}

// authenticateIDToken resolves the identity-provider bearer token to a user
// ID, writing the 401 envelope on failure. Returns "" when it failed.
func (g *Gateway) authenticateIDToken(w http.ResponseWriter, r *http.Request) string {
	token, errMsg := extractBearerToken(r.Header.Get("Authorization"))
	if errMsg != "" {
		sendJSONError(w, http.StatusUnauthorized, "Unauthorized", errMsg)
		return ""
	}

	userID, err := g.verifier.Verify(token)
	if err != nil {
		sendJSONError(w, http.StatusUnauthorized, "Unauthorized", "Invalid or expired token")
		return ""
	}
	return userID
}

// handleKeys handles POST, GET and DELETE /api/keys requests.
func (g *Gateway) handleKeys(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		g.handleKeyCreate(w, r)
	case http.MethodGet:
		g.handleKeyList(w, r)
	case http.MethodDelete:
		g.handleKeyDelete(w, r)
	default:
		w.Header().Set("Allow", "GET, POST, DELETE")
		sendJSONError(w, http.StatusMethodNotAllowed, "Method Not Allowed", "")
	}
}

// handleKeyCreate mints a new API key. The raw key appears only in this
// response.
func (g *Gateway) handleKeyCreate(w http.ResponseWriter, r *http.Request) {
	userID := g.authenticateIDToken(w, r)
	if userID == "" {
		return
	}

	var req CreateKeyRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			sendJSONError(w, http.StatusBadRequest, "Invalid request", "Invalid JSON body")
			return
		}
	}

	key, rawKey, err := g.store.CreateAPIKey(r.Context(), userID, req.Name)
	if err != nil {
		g.logger.Error("failed to create API key", "error", err, "user_id", userID)
		sendJSONError(w, http.StatusInternalServerError, "Internal server error", "")
		return
	}

	sendJSON(w, CreateKeyResponse{Success: true, Key: rawKey, APIKey: key})
}

// handleKeyList returns the caller's keys, raw secrets excluded.
func (g *Gateway) handleKeyList(w http.ResponseWriter, r *http.Request) {
	userID := g.authenticateIDToken(w, r)
	if userID == "" {
		return
	}

	keys, err := g.store.ListAPIKeys(r.Context(), userID)
	if err != nil {
		g.logger.Error("failed to list API keys", "error", err, "user_id", userID)
		sendJSONError(w, http.StatusInternalServerError, "Internal server error", "")
		return
	}
	if keys == nil {
		keys = []*store.APIKey{}
	}

	sendJSON(w, ListKeysResponse{Keys: keys})
}

// handleKeyDelete removes one of the caller's keys and purges the
// validation cache so the key stops working immediately.
func (g *Gateway) handleKeyDelete(w http.ResponseWriter, r *http.Request) {
	userID := g.authenticateIDToken(w, r)
	if userID == "" {
		return
	}

	keyID := r.URL.Query().Get("id")
	if keyID == "" {
		sendJSONError(w, http.StatusBadRequest, "Invalid request", "id query parameter is required")
		return
	}

	deleted, err := g.store.DeleteAPIKey(r.Context(), userID, keyID)
	if err != nil {
		g.logger.Error("failed to delete API key", "error", err, "user_id", userID)
		sendJSONError(w, http.StatusInternalServerError, "Internal server error", "")
		return
	}
	if !deleted {
		sendJSONError(w, http.StatusNotFound, "Not found", "no such key")
		return
	}

	g.authenticator.Purge()
	g.logger.Info("API key deleted", "user_id", userID, "key_id", keyID)
	w.WriteHeader(http.StatusNoContent)
}
