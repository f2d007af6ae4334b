// ABOUTME: HTTP transport adapter bridging request/response cycles to the MCP message model
// ABOUTME: Handles unary JSON-RPC over POST, SSE streaming over GET, session teardown over DELETE

package mcp

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/marcopolo39/location-gateway/internal/auth"
)

// MaxRequestBodySize is the maximum allowed size for request bodies (1MB).
const MaxRequestBodySize = 1 << 20

// Adapter translates between the platform's HTTP request/response objects
// and the MCP message/streaming model. One adapter serves every identity;
// per-identity state lives in the SessionProvider.
type Adapter struct {
	provider      SessionProvider
	authenticator *auth.Authenticator
	logger        *slog.Logger
}

// NewAdapter creates a transport adapter over the given session provider.
func NewAdapter(provider SessionProvider, authenticator *auth.Authenticator, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{
		provider:      provider,
		authenticator: authenticator,
		logger:        logger.With("component", "mcp-adapter"),
	}
}

// NotifyLocationUpdated pushes a resource-updated notification to the
// identity's live streaming channel, if one exists.
func (a *Adapter) NotifyLocationUpdated(userID string) {
	a.provider.Notify(userID, "notifications/resources/updated", map[string]string{
		"uri": locationResourceURI,
	})
}

// Close tears down all sessions.
func (a *Adapter) Close() {
	a.provider.Close()
}

// ServeHTTP is the single MCP endpoint supporting POST, GET, DELETE and
// OPTIONS. CORS headers are set on every response so browser-based MCP
// clients can connect cross-origin.
func (a *Adapter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	cw := &commitWriter{ResponseWriter: w}
	setCORSHeaders(cw.Header())

	// OPTIONS carries no payload, so no identity check is required
	if r.Method == http.MethodOptions {
		cw.WriteHeader(http.StatusNoContent)
		return
	}

	// Once the status is committed we must not attempt to change it:
	// a fault mid-stream ends the response as-is.
	defer func() {
		if rec := recover(); rec != nil {
			a.logger.Error("panic while bridging MCP request", "panic", rec)
			if !cw.committed {
				writeJSONError(cw, http.StatusInternalServerError, "Internal server error", "")
			}
		}
	}()

	userID, err := a.authenticator.Authenticate(r)
	if err != nil {
		if errors.Is(err, auth.ErrNoAPIKey) {
			writeJSONError(cw, http.StatusUnauthorized, "Unauthorized",
				"API key required. Pass as X-API-Key header or apiKey query parameter.")
			return
		}
		writeJSONError(cw, http.StatusUnauthorized, "Unauthorized", "Invalid API key")
		return
	}

	// Validate MCP-Protocol-Version when the client sends one
	if protoVersion := r.Header.Get("Mcp-Protocol-Version"); protoVersion != "" {
		if !supportedProtocolVersions[protoVersion] {
			writeJSONError(cw, http.StatusBadRequest, "Bad Request", "unsupported MCP-Protocol-Version")
			return
		}
	}

	a.logger.Debug("MCP request", "method", r.Method, "user_id", userID)

	switch r.Method {
	case http.MethodPost:
		a.handlePost(cw, r, userID)
	case http.MethodGet:
		a.handleGet(cw, r, userID)
	case http.MethodDelete:
		a.handleDelete(cw, userID)
	default:
		cw.Header().Set("Allow", "GET, POST, DELETE, OPTIONS")
		writeJSONError(cw, http.StatusMethodNotAllowed, "Method Not Allowed", "")
	}
}

// handlePost processes one JSON-RPC request or batch sent via HTTP POST.
func (a *Adapter) handlePost(w *commitWriter, r *http.Request, userID string) {
	body, err := io.ReadAll(io.LimitReader(r.Body, MaxRequestBodySize+1))
	if err != nil {
		a.sendResponse(w, newError(nil, JSONRPCParseError, "failed to read request body"))
		return
	}
	if int64(len(body)) > MaxRequestBodySize {
		a.sendResponse(w, newError(nil, JSONRPCInvalidRequest, "request body too large"))
		return
	}

	sess, err := a.provider.Acquire(r.Context(), userID)
	if err != nil {
		a.logger.Error("acquiring session", "error", err, "user_id", userID)
		writeJSONError(w, http.StatusInternalServerError, "Internal server error", "")
		return
	}
	defer a.provider.Release(sess)

	if isBatch(body) {
		a.handleBatch(w, r, sess, body)
		return
	}

	var req JSONRPCRequest
	if err := json.Unmarshal(body, &req); err != nil {
		a.sendResponse(w, newError(nil, JSONRPCParseError, "invalid JSON"))
		return
	}

	if req.JSONRPC != "2.0" {
		a.sendResponse(w, newError(req.ID, JSONRPCInvalidRequest, "invalid JSON-RPC version"))
		return
	}

	// Notifications are accepted with no body
	if req.IsNotification() {
		if !strings.HasPrefix(req.Method, "notifications/") {
			a.logger.Warn("received notification for non-notification method", "method", req.Method)
		}
		w.WriteHeader(http.StatusAccepted)
		return
	}

	resp := sess.Dispatch(r.Context(), req)

	// Advertise the session ID on initialize so clients can reference the
	// conversation; requests are still routed by identity, not session ID.
	if req.Method == "initialize" && a.provider.Stateful() {
		w.Header().Set("Mcp-Session-Id", sess.ID())
	}

	a.sendResponse(w, resp)
}

// handleBatch processes a JSON-RPC batch. Responses for non-notification
// entries are returned as an array; an all-notification batch yields 202.
func (a *Adapter) handleBatch(w *commitWriter, r *http.Request, sess *Session, body []byte) {
	var reqs []JSONRPCRequest
	if err := json.Unmarshal(body, &reqs); err != nil {
		a.sendResponse(w, newError(nil, JSONRPCParseError, "invalid JSON"))
		return
	}
	if len(reqs) == 0 {
		a.sendResponse(w, newError(nil, JSONRPCInvalidRequest, "empty batch"))
		return
	}

	responses := make([]*JSONRPCResponse, 0, len(reqs))
	for _, req := range reqs {
		if req.JSONRPC != "2.0" {
			responses = append(responses, newError(req.ID, JSONRPCInvalidRequest, "invalid JSON-RPC version"))
			continue
		}
		if req.IsNotification() {
			continue
		}
		responses = append(responses, sess.Dispatch(r.Context(), req))
	}

	if len(responses) == 0 {
		w.WriteHeader(http.StatusAccepted)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(responses); err != nil {
		a.logger.Warn("failed to encode JSON-RPC batch response", "error", err)
	}
}

// handleGet opens the long-lived SSE channel carrying server-initiated
// messages. Only the stateful design has a channel that can outlive one
// exchange.
func (a *Adapter) handleGet(w *commitWriter, r *http.Request, userID string) {
	if !a.provider.Stateful() {
		w.Header().Set("Allow", "POST, DELETE, OPTIONS")
		writeJSONError(w, http.StatusMethodNotAllowed, "Method Not Allowed",
			"streaming channels are not available in stateless mode")
		return
	}

	flusher, ok := w.ResponseWriter.(http.Flusher)
	if !ok {
		a.logger.Error("streaming not supported")
		writeJSONError(w, http.StatusInternalServerError, "Internal server error", "")
		return
	}

	sess, err := a.provider.Acquire(r.Context(), userID)
	if err != nil {
		a.logger.Error("acquiring session", "error", err, "user_id", userID)
		writeJSONError(w, http.StatusInternalServerError, "Internal server error", "")
		return
	}
	defer a.provider.Release(sess)

	if !sess.BeginStream() {
		writeJSONError(w, http.StatusConflict, "Conflict",
			"a streaming channel is already open for this session")
		return
	}
	defer sess.EndStream()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Mcp-Session-Id", sess.ID())
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	// Forward frames in production order until the client disconnects or
	// the session is torn down. No reordering or replay buffer is kept.
	for {
		select {
		case <-r.Context().Done():
			return
		case <-sess.Done():
			return
		case frame := <-sess.Events():
			if _, err := fmt.Fprintf(w, "event: message\ndata: %s\n\n", frame); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// handleDelete tears down session state for the identity.
func (a *Adapter) handleDelete(w *commitWriter, userID string) {
	if !a.provider.Terminate(userID) {
		writeJSONError(w, http.StatusNotFound, "Not found", "no active session")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// sendResponse writes a unary JSON-RPC response with status 200.
func (a *Adapter) sendResponse(w *commitWriter, resp *JSONRPCResponse) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		a.logger.Warn("failed to encode JSON-RPC response", "error", err)
	}
}

// isBatch reports whether the body is a JSON array.
func isBatch(body []byte) bool {
	for _, b := range body {
		switch b {
		case ' ', '\t', '\r', '\n':
			continue
		case '[':
			return true
		default:
			return false
		}
	}
	return false
}

// setCORSHeaders applies the permissive CORS policy required by
// browser-based and cross-origin MCP clients.
func setCORSHeaders(h http.Header) {
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS, DELETE")
	h.Set("Access-Control-Allow-Headers", "Content-Type, X-API-Key, Authorization, Mcp-Session-Id, Mcp-Protocol-Version, Accept")
	h.Set("Access-Control-Expose-Headers", "Mcp-Session-Id")
}

// errorBody is the JSON error envelope shared with the HTTP API.
type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// writeJSONError writes the {error, message} envelope with the given status.
func writeJSONError(w http.ResponseWriter, status int, errText, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorBody{Error: errText, Message: message})
}

// commitWriter tracks whether a status has been committed so a fault after
// the first write never attempts to rewrite headers.
type commitWriter struct {
	http.ResponseWriter
	committed bool
}

func (w *commitWriter) WriteHeader(status int) {
	w.committed = true
	w.ResponseWriter.WriteHeader(status)
}

func (w *commitWriter) Write(b []byte) (int, error) {
	w.committed = true
	return w.ResponseWriter.Write(b)
}
