// Package api provides the arena REST client.
//
// The realtime connection only announces that something changed; the client
// reads the authoritative state from these endpoints:
//
//	POST /wallet/deposit               start a mobile-money checkout
//	GET  /wallet/deposit/{id}/status   checkout status
//	GET  /wallet/balance
//	GET  /invites/pending, /invites/sent
//	GET  /friends/requests, /friends
//	GET  /competitions/mine, /competitions/joined
//
// Requests are rate limited and retried with jittered exponential backoff on
// 5xx and 429 responses. POST requests carry an Idempotency-Key so a retried
// deposit is not charged twice.
package api
