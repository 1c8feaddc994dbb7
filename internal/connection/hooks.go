package connection

import "time"

// Metrics receives counters from the manager. Send-side methods are called
// from the sending goroutine, everything else from the event loop.
type Metrics interface {
	StateChanged(from, to ConnectionState)
	ReconnectScheduled(attempt int, delay time.Duration)
	FrameReceived(t EventType)
	FrameSent(t EventType)
	SendDropped(t EventType, reason string)
	DuplicateDropped(t EventType)
	HandlerPanicked(t EventType)
	HeartbeatTimedOut()
}

type noopMetrics struct{}

func (noopMetrics) StateChanged(ConnectionState, ConnectionState) {}
func (noopMetrics) ReconnectScheduled(int, time.Duration)         {}
func (noopMetrics) FrameReceived(EventType)                       {}
func (noopMetrics) FrameSent(EventType)                           {}
func (noopMetrics) SendDropped(EventType, string)                 {}
func (noopMetrics) DuplicateDropped(EventType)                    {}
func (noopMetrics) HandlerPanicked(EventType)                     {}
func (noopMetrics) HeartbeatTimedOut()                            {}
