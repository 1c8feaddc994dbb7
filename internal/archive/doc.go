// Package archive persists moderation events received on admin sessions.
//
// Events are accepted from the connection manager's event loop without
// blocking: a full input buffer drops the event and counts it. Rows are
// batched and inserted with ON CONFLICT (event_id) DO NOTHING, so a frame
// replayed by the server after a reconnect is stored once.
package archive
