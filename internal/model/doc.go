// Package model defines the payloads carried by live events and the rows
// the agent persists.
//
// Conventions:
//   - Wire timestamps: RFC 3339 strings, decoded into time.Time
//   - Stored timestamps: int64 microseconds since Unix epoch
//   - IDs: opaque strings assigned by the server
package model
