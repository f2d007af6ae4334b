// ABOUTME: Per-identity MCP server exposing location tools and resources
// ABOUTME: Every handler closes over exactly one user ID; instances are never shared across identities

package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/marcopolo39/location-gateway/internal/geocode"
	"github.com/marcopolo39/location-gateway/internal/store"
)

// locationResourceURI identifies the caller's own location resource.
const locationResourceURI = "location://me"

// notShared is the tool text returned when a user has never shared a
// location. This is a normal successful result, not an error: it
// distinguishes "you haven't shared yet" from "your location feature errored".
const notShared = "Your location has not been shared yet. Please update your location from the mobile app first."

// Geocoder resolves coordinates to an address, nil on any failure.
type Geocoder interface {
	ReverseGeocode(ctx context.Context, latitude, longitude float64) *geocode.Address
}

// ToolInfo describes an MCP tool.
type ToolInfo struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

// ResourceInfo describes an MCP resource.
type ResourceInfo struct {
	URI         string `json:"uri"`
	Name        string `json:"name"`
	Description string `json:"description"`
	MimeType    string `json:"mimeType"`
}

// ListToolsResult is the result for tools/list.
type ListToolsResult struct {
	Tools []ToolInfo `json:"tools"`
}

// ListResourcesResult is the result for resources/list.
type ListResourcesResult struct {
	Resources []ResourceInfo `json:"resources"`
}

// CallToolParams are the params for tools/call.
type CallToolParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// CallToolResult is the result for tools/call.
type CallToolResult struct {
	Content []Content `json:"content"`
	IsError bool      `json:"isError,omitempty"`
}

// Content represents content in a tool result.
type Content struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// ReadResourceParams are the params for resources/read.
type ReadResourceParams struct {
	URI string `json:"uri"`
}

// ResourceContents is one entry of a resources/read result.
type ResourceContents struct {
	URI      string `json:"uri"`
	MimeType string `json:"mimeType"`
	Text     string `json:"text"`
}

// ReadResourceResult is the result for resources/read.
type ReadResourceResult struct {
	Contents []ResourceContents `json:"contents"`
}

// sharingStatus is the is_sharing_location tool payload.
type sharingStatus struct {
	IsSharing   bool    `json:"isSharing"`
	LastUpdated *string `json:"lastUpdated"`
}

// locationPayload is the location JSON exposed through tools and resources,
// optionally enriched with a reverse-geocoded address.
type locationPayload struct {
	*store.Location
	Address *geocode.Address `json:"address,omitempty"`
}

// LocationServer handles MCP messages for a single authenticated identity.
// The bound user ID is fixed at construction; a handler can never reach
// another identity's data.
type LocationServer struct {
	userID   string
	store    store.Store
	geocoder Geocoder
	logger   *slog.Logger
}

// NewLocationServer creates an MCP server bound to the given user ID.
// geocoder may be nil, in which case tool output carries no address.
func NewLocationServer(userID string, st store.Store, geocoder Geocoder, logger *slog.Logger) *LocationServer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LocationServer{
		userID:   userID,
		store:    st,
		geocoder: geocoder,
		logger:   logger.With("component", "mcp", "user_id", userID),
	}
}

// UserID returns the identity this server is bound to.
func (s *LocationServer) UserID() string {
	return s.userID
}

// HandleMessage dispatches a single non-notification JSON-RPC request and
// returns its response. Unknown methods yield a method-not-found error.
func (s *LocationServer) HandleMessage(ctx context.Context, req JSONRPCRequest) *JSONRPCResponse {
	s.logger.Debug("MCP request", "method", req.Method)

	switch req.Method {
	case "initialize":
		return s.handleInitialize(req)
	case "ping":
		return newResult(req.ID, struct{}{})
	case "tools/list":
		return s.handleToolsList(req)
	case "tools/call":
		return s.handleToolsCall(ctx, req)
	case "resources/list":
		return s.handleResourcesList(req)
	case "resources/read":
		return s.handleResourcesRead(ctx, req)
	default:
		return newError(req.ID, JSONRPCMethodNotFound, "method not found")
	}
}

// handleInitialize handles the MCP initialize handshake.
func (s *LocationServer) handleInitialize(req JSONRPCRequest) *JSONRPCResponse {
	result := map[string]any{
		"protocolVersion": latestProtocolVersion,
		"capabilities": map[string]any{
			"tools":     map[string]any{},
			"resources": map[string]any{},
		},
		"serverInfo": map[string]any{
			"name":    "location-mcp",
			"version": "1.0.0",
		},
	}
	return newResult(req.ID, result)
}

// handleToolsList returns the capability set bound to this identity.
func (s *LocationServer) handleToolsList(req JSONRPCRequest) *JSONRPCResponse {
	result := ListToolsResult{
		Tools: []ToolInfo{
			{
				Name:        "get_my_location",
				Description: "Get your current location",
				InputSchema: json.RawMessage(`{"type":"object","properties":{}}`),
			},
			{
				Name:        "is_sharing_location",
				Description: "Check if you are currently sharing your location",
				InputSchema: json.RawMessage(`{"type":"object","properties":{}}`),
			},
		},
	}
	return newResult(req.ID, result)
}

// handleToolsCall dispatches a tool invocation.
func (s *LocationServer) handleToolsCall(ctx context.Context, req JSONRPCRequest) *JSONRPCResponse {
	var params CallToolParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return newError(req.ID, JSONRPCInvalidParams, "invalid params")
		}
	}

	if params.Name == "" {
		return newError(req.ID, JSONRPCInvalidParams, "tool name is required")
	}

	switch params.Name {
	case "get_my_location":
		return newResult(req.ID, s.getMyLocation(ctx))
	case "is_sharing_location":
		return newResult(req.ID, s.isSharingLocation(ctx))
	default:
		return newError(req.ID, JSONRPCInvalidParams, "tool not found")
	}
}

// getMyLocation executes the get_my_location tool.
// "No location yet" is a normal text result, never an error.
func (s *LocationServer) getMyLocation(ctx context.Context) CallToolResult {
	loc, err := s.store.GetLocation(ctx, s.userID)
	if errors.Is(err, store.ErrNotFound) {
		return CallToolResult{
			Content: []Content{{Type: "text", Text: notShared}},
		}
	}
	if err != nil {
		s.logger.Error("location lookup failed", "error", err)
		return CallToolResult{
			Content: []Content{{Type: "text", Text: "Failed to look up your location"}},
			IsError: true,
		}
	}

	return CallToolResult{
		Content: []Content{{Type: "text", Text: s.renderLocation(ctx, loc)}},
	}
}

// isSharingLocation executes the is_sharing_location tool.
func (s *LocationServer) isSharingLocation(ctx context.Context) CallToolResult {
	status := sharingStatus{}

	loc, err := s.store.GetLocation(ctx, s.userID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		s.logger.Error("location lookup failed", "error", err)
		return CallToolResult{
			Content: []Content{{Type: "text", Text: "Failed to look up your sharing status"}},
			IsError: true,
		}
	}
	if err == nil {
		ts := loc.Timestamp.Format("2006-01-02T15:04:05.000Z07:00")
		status.IsSharing = true
		status.LastUpdated = &ts
	}

	text, _ := json.MarshalIndent(status, "", "  ")
	return CallToolResult{
		Content: []Content{{Type: "text", Text: string(text)}},
	}
}

// handleResourcesList advertises the single location://me resource.
func (s *LocationServer) handleResourcesList(req JSONRPCRequest) *JSONRPCResponse {
	result := ListResourcesResult{
		Resources: []ResourceInfo{
			{
				URI:         locationResourceURI,
				Name:        "my-location",
				Description: "Your current location",
				MimeType:    "application/json",
			},
		},
	}
	return newResult(req.ID, result)
}

// handleResourcesRead reads location://me. An absent location is still a
// successful read carrying an explanatory error object.
func (s *LocationServer) handleResourcesRead(ctx context.Context, req JSONRPCRequest) *JSONRPCResponse {
	var params ReadResourceParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return newError(req.ID, JSONRPCInvalidParams, "invalid params")
		}
	}

	if params.URI != locationResourceURI {
		return newError(req.ID, JSONRPCInvalidParams, "resource not found")
	}

	loc, err := s.store.GetLocation(ctx, s.userID)
	if errors.Is(err, store.ErrNotFound) {
		text, _ := json.Marshal(map[string]string{
			"error":   "No location data available",
			"message": "Your location has not been shared yet",
		})
		return newResult(req.ID, ReadResourceResult{
			Contents: []ResourceContents{{
				URI:      locationResourceURI,
				MimeType: "application/json",
				Text:     string(text),
			}},
		})
	}
	if err != nil {
		s.logger.Error("location lookup failed", "error", err)
		return newError(req.ID, JSONRPCInternalError, "failed to read resource")
	}

	return newResult(req.ID, ReadResourceResult{
		Contents: []ResourceContents{{
			URI:      locationResourceURI,
			MimeType: "application/json",
			Text:     s.renderLocation(ctx, loc),
		}},
	})
}

// renderLocation marshals a location, attaching a reverse-geocoded address
// when a geocoder is configured and succeeds.
func (s *LocationServer) renderLocation(ctx context.Context, loc *store.Location) string {
	payload := locationPayload{Location: loc}
	if s.geocoder != nil {
		payload.Address = s.geocoder.ReverseGeocode(ctx, loc.Latitude, loc.Longitude)
	}

	text, _ := json.MarshalIndent(payload, "", "  ")
	return string(text)
}
