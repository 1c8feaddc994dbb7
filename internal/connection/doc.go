// Package connection implements the real-time Connection Manager.
//
// The Connection Manager:
//   - Owns a single WebSocket connection to the live-events endpoint
//   - Reconnects with capped exponential backoff and jitter
//   - Sends keep-alive pings and treats a silent server as a dead connection
//   - Dispatches inbound frames to handlers registered per event type
//
// All transitions, timer callbacks and handler invocations run on one event
// loop goroutine started by Manager.Start, so handlers never observe a
// half-applied transition and never run concurrently with each other.
package connection
