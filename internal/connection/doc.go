// Package connection implements the Connection Manager component.
//
// The Connection Manager:
//   - Owns at most one authenticated realtime connection per process
//   - Prefers a WebSocket transport and falls back to HTTP long-polling
//   - Retries server-initiated drops with bounded exponential backoff
//   - Never retries authentication failures
//   - Dispatches inbound envelopes to handlers registered by event name
package connection
