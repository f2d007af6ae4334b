// Package mcp implements the Model Context Protocol endpoint that exposes a
// user's shared location to AI clients.
//
// # Overview
//
// The package bridges one-shot HTTP request/response cycles to the MCP
// message model. Three layers cooperate:
//
//   - LocationServer: handles JSON-RPC messages for exactly one
//     authenticated identity. A server instance is constructed per identity
//     and never shared, which is what makes cross-identity access
//     structurally impossible rather than merely checked.
//   - SessionProvider: binds requests to sessions. StatefulSessions keeps a
//     process-wide identity-keyed map with single-construction get-or-create
//     and an idle sweep; StatelessSessions builds and discards a server per
//     exchange for deployments where consecutive requests may land on
//     different processes.
//   - Adapter: the http.Handler. POST carries JSON-RPC requests (single or
//     batch; notifications are accepted with 202), GET opens the standing
//     text/event-stream channel for server-initiated notifications, DELETE
//     tears the session down, OPTIONS answers CORS preflight.
//
// # Authentication
//
// Every request except OPTIONS resolves an identity from its API key
// (X-API-Key header, Authorization bearer token, or apiKey/api_key query
// parameter). Requests are routed to sessions by that identity; the
// Mcp-Session-Id header is advertised for clients but is not the routing
// key.
//
// # Tools and resources
//
// Each identity's capability set is fixed:
//
//   - tool get_my_location: the stored location as JSON, optionally
//     enriched with a reverse-geocoded address, or a "not shared yet" text
//   - tool is_sharing_location: {"isSharing": bool, "lastUpdated": ...}
//   - resource location://me: the same JSON as resource contents
//
// A user who has never shared a location gets explanatory text through a
// successful response, never a protocol error.
package mcp
