// ABOUTME: Tests for the per-identity MCP server dispatch
// ABOUTME: Covers tool execution, resource reads, identity isolation and error mapping

package mcp

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marcopolo39/location-gateway/internal/geocode"
	"github.com/marcopolo39/location-gateway/internal/store"
)

// fakeGeocoder returns a fixed address for any coordinates.
type fakeGeocoder struct {
	address *geocode.Address
}

func (f *fakeGeocoder) ReverseGeocode(_ context.Context, _, _ float64) *geocode.Address {
	return f.address
}

func makeRequest(method string, params any) JSONRPCRequest {
	var raw json.RawMessage
	if params != nil {
		raw, _ = json.Marshal(params)
	}
	return JSONRPCRequest{
		JSONRPC: "2.0",
		ID:      json.RawMessage(`1`),
		Method:  method,
		Params:  raw,
	}
}

// toolText extracts the text of the first content block in a tool result.
func toolText(t *testing.T, resp *JSONRPCResponse) string {
	t.Helper()
	result, ok := resp.Result.(CallToolResult)
	require.True(t, ok, "expected CallToolResult, got %T", resp.Result)
	require.NotEmpty(t, result.Content)
	return result.Content[0].Text
}

func TestHandleMessage_Initialize(t *testing.T) {
	s := NewLocationServer("user-a", store.NewMemStore(), nil, nil)

	resp := s.HandleMessage(context.Background(), makeRequest("initialize", nil))
	require.Nil(t, resp.Error)

	result, ok := resp.Result.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, latestProtocolVersion, result["protocolVersion"])
}

func TestHandleMessage_Ping(t *testing.T) {
	s := NewLocationServer("user-a", store.NewMemStore(), nil, nil)

	resp := s.HandleMessage(context.Background(), makeRequest("ping", nil))
	require.Nil(t, resp.Error)
}

func TestHandleMessage_UnknownMethod(t *testing.T) {
	s := NewLocationServer("user-a", store.NewMemStore(), nil, nil)

	resp := s.HandleMessage(context.Background(), makeRequest("prompts/list", nil))
	require.NotNil(t, resp.Error)
	assert.Equal(t, JSONRPCMethodNotFound, resp.Error.Code)
}

func TestToolsList(t *testing.T) {
	s := NewLocationServer("user-a", store.NewMemStore(), nil, nil)

	resp := s.HandleMessage(context.Background(), makeRequest("tools/list", nil))
	require.Nil(t, resp.Error)

	result, ok := resp.Result.(ListToolsResult)
	require.True(t, ok)
	require.Len(t, result.Tools, 2)
	assert.Equal(t, "get_my_location", result.Tools[0].Name)
	assert.Equal(t, "is_sharing_location", result.Tools[1].Name)
}

func TestGetMyLocation_NotShared(t *testing.T) {
	s := NewLocationServer("user-a", store.NewMemStore(), nil, nil)

	resp := s.HandleMessage(context.Background(), makeRequest("tools/call", CallToolParams{Name: "get_my_location"}))
	require.Nil(t, resp.Error, "an unshared location is a successful result, not an error")

	result, ok := resp.Result.(CallToolResult)
	require.True(t, ok)
	assert.False(t, result.IsError)
	assert.Equal(t, notShared, result.Content[0].Text)
}

func TestGetMyLocation_Shared(t *testing.T) {
	st := store.NewMemStore()
	_, err := st.SetLocation(context.Background(), "user-a", 37.7, -122.4)
	require.NoError(t, err)

	s := NewLocationServer("user-a", st, nil, nil)
	resp := s.HandleMessage(context.Background(), makeRequest("tools/call", CallToolParams{Name: "get_my_location"}))
	require.Nil(t, resp.Error)

	text := toolText(t, resp)
	var payload struct {
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
		Timestamp string  `json:"timestamp"`
	}
	require.NoError(t, json.Unmarshal([]byte(text), &payload))
	assert.Equal(t, 37.7, payload.Latitude)
	assert.Equal(t, -122.4, payload.Longitude)
	assert.NotEmpty(t, payload.Timestamp)
}

func TestGetMyLocation_WithGeocoder(t *testing.T) {
	st := store.NewMemStore()
	_, err := st.SetLocation(context.Background(), "user-a", 37.7, -122.4)
	require.NoError(t, err)

	gc := &fakeGeocoder{address: &geocode.Address{
		FormattedAddress: "123 Main St, San Francisco, CA",
		City:             "San Francisco",
		Country:          "United States",
	}}

	s := NewLocationServer("user-a", st, gc, nil)
	resp := s.HandleMessage(context.Background(), makeRequest("tools/call", CallToolParams{Name: "get_my_location"}))
	require.Nil(t, resp.Error)

	text := toolText(t, resp)
	assert.True(t, strings.Contains(text, "San Francisco"), "address enrichment missing from %q", text)
}

func TestGetMyLocation_GeocoderAbsenceIsNotFatal(t *testing.T) {
	st := store.NewMemStore()
	_, err := st.SetLocation(context.Background(), "user-a", 37.7, -122.4)
	require.NoError(t, err)

	// A geocoder returning nil behaves like no geocoder at all
	s := NewLocationServer("user-a", st, &fakeGeocoder{address: nil}, nil)
	resp := s.HandleMessage(context.Background(), makeRequest("tools/call", CallToolParams{Name: "get_my_location"}))
	require.Nil(t, resp.Error)

	text := toolText(t, resp)
	assert.False(t, strings.Contains(text, "address"), "nil address must be omitted: %q", text)
}

func TestIdentityIsolation(t *testing.T) {
	st := store.NewMemStore()
	_, err := st.SetLocation(context.Background(), "user-a", 37.7, -122.4)
	require.NoError(t, err)

	// user-b's server must never see user-a's location
	sb := NewLocationServer("user-b", st, nil, nil)
	resp := sb.HandleMessage(context.Background(), makeRequest("tools/call", CallToolParams{Name: "get_my_location"}))
	require.Nil(t, resp.Error)
	assert.Equal(t, notShared, toolText(t, resp))

	sa := NewLocationServer("user-a", st, nil, nil)
	resp = sa.HandleMessage(context.Background(), makeRequest("tools/call", CallToolParams{Name: "get_my_location"}))
	require.Nil(t, resp.Error)
	assert.True(t, strings.Contains(toolText(t, resp), "37.7"))
}

func TestIsSharingLocation(t *testing.T) {
	st := store.NewMemStore()
	s := NewLocationServer("user-a", st, nil, nil)

	resp := s.HandleMessage(context.Background(), makeRequest("tools/call", CallToolParams{Name: "is_sharing_location"}))
	require.Nil(t, resp.Error)

	var status struct {
		IsSharing   bool    `json:"isSharing"`
		LastUpdated *string `json:"lastUpdated"`
	}
	require.NoError(t, json.Unmarshal([]byte(toolText(t, resp)), &status))
	assert.False(t, status.IsSharing)
	assert.Nil(t, status.LastUpdated)

	_, err := st.SetLocation(context.Background(), "user-a", 1, 2)
	require.NoError(t, err)

	resp = s.HandleMessage(context.Background(), makeRequest("tools/call", CallToolParams{Name: "is_sharing_location"}))
	require.Nil(t, resp.Error)
	require.NoError(t, json.Unmarshal([]byte(toolText(t, resp)), &status))
	assert.True(t, status.IsSharing)
	require.NotNil(t, status.LastUpdated)
}

func TestToolsCall_UnknownTool(t *testing.T) {
	s := NewLocationServer("user-a", store.NewMemStore(), nil, nil)

	resp := s.HandleMessage(context.Background(), makeRequest("tools/call", CallToolParams{Name: "delete_everything"}))
	require.NotNil(t, resp.Error)
	assert.Equal(t, JSONRPCInvalidParams, resp.Error.Code)
}

func TestToolsCall_MissingName(t *testing.T) {
	s := NewLocationServer("user-a", store.NewMemStore(), nil, nil)

	resp := s.HandleMessage(context.Background(), makeRequest("tools/call", map[string]any{}))
	require.NotNil(t, resp.Error)
	assert.Equal(t, JSONRPCInvalidParams, resp.Error.Code)
}

func TestResourcesList(t *testing.T) {
	s := NewLocationServer("user-a", store.NewMemStore(), nil, nil)

	resp := s.HandleMessage(context.Background(), makeRequest("resources/list", nil))
	require.Nil(t, resp.Error)

	result, ok := resp.Result.(ListResourcesResult)
	require.True(t, ok)
	require.Len(t, result.Resources, 1)
	assert.Equal(t, locationResourceURI, result.Resources[0].URI)
	assert.Equal(t, "application/json", result.Resources[0].MimeType)
}

func TestResourcesRead_Absent(t *testing.T) {
	s := NewLocationServer("user-a", store.NewMemStore(), nil, nil)

	resp := s.HandleMessage(context.Background(), makeRequest("resources/read", ReadResourceParams{URI: locationResourceURI}))
	require.Nil(t, resp.Error, "an absent location is still a successful read")

	result, ok := resp.Result.(ReadResourceResult)
	require.True(t, ok)
	require.Len(t, result.Contents, 1)

	var body map[string]string
	require.NoError(t, json.Unmarshal([]byte(result.Contents[0].Text), &body))
	assert.Equal(t, "No location data available", body["error"])
}

func TestResourcesRead_Present(t *testing.T) {
	st := store.NewMemStore()
	_, err := st.SetLocation(context.Background(), "user-a", 37.7, -122.4)
	require.NoError(t, err)

	s := NewLocationServer("user-a", st, nil, nil)
	resp := s.HandleMessage(context.Background(), makeRequest("resources/read", ReadResourceParams{URI: locationResourceURI}))
	require.Nil(t, resp.Error)

	result, ok := resp.Result.(ReadResourceResult)
	require.True(t, ok)
	require.Len(t, result.Contents, 1)
	assert.Equal(t, locationResourceURI, result.Contents[0].URI)
	assert.True(t, strings.Contains(result.Contents[0].Text, "37.7"))
}

func TestResourcesRead_UnknownURI(t *testing.T) {
	s := NewLocationServer("user-a", store.NewMemStore(), nil, nil)

	resp := s.HandleMessage(context.Background(), makeRequest("resources/read", ReadResourceParams{URI: "location://someone-else"}))
	require.NotNil(t, resp.Error)
	assert.Equal(t, JSONRPCInvalidParams, resp.Error.Code)
}
