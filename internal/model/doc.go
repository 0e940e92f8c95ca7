// Package model defines shared data types used across the arena sync client.
//
// Types mirror the JSON documents returned by the platform REST API and carried
// in realtime event payloads.
//
// Conventions:
//   - Competition codes are short opaque strings and identify realtime rooms
//   - Money amounts: integer minor units (e.g. cents)
//   - Timestamps: time.Time in UTC
package model
