// Package metrics provides Prometheus metrics for monitoring.
//
// Key metrics:
//   - Connection state, transitions and scheduled reconnects
//   - Inbound and outbound frame rates by event type
//   - Dropped sends, duplicates and handler panics
//   - Admin archive inserts, conflicts and drops
package metrics
