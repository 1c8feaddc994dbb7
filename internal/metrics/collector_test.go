package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/rickgao/clipcast-live/internal/archive"
	"github.com/rickgao/clipcast-live/internal/connection"
)

func TestCollector_StateGauge(t *testing.T) {
	c := NewCollector()

	if got := testutil.ToFloat64(c.state.WithLabelValues("disconnected")); got != 1 {
		t.Errorf("initial disconnected gauge = %v, want 1", got)
	}

	c.StateChanged(connection.StateDisconnected, connection.StateConnecting)
	c.StateChanged(connection.StateConnecting, connection.StateConnected)

	if got := testutil.ToFloat64(c.state.WithLabelValues("connected")); got != 1 {
		t.Errorf("connected gauge = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.state.WithLabelValues("disconnected")); got != 0 {
		t.Errorf("disconnected gauge = %v, want 0", got)
	}
	if got := testutil.ToFloat64(c.transitions.WithLabelValues("connecting", "connected")); got != 1 {
		t.Errorf("transitions{connecting,connected} = %v, want 1", got)
	}
}

func TestCollector_Counters(t *testing.T) {
	c := NewCollector()

	c.FrameReceived(connection.EventMessageNew)
	c.FrameReceived(connection.EventMessageNew)
	c.FrameSent(connection.EventMessageSeen)
	c.FrameSent("custom:typing")
	c.SendDropped(connection.EventMessageSeen, "not_connected")
	c.DuplicateDropped(connection.EventNotificationNew)
	c.HandlerPanicked(connection.EventMessageNew)
	c.HeartbeatTimedOut()
	c.ReconnectScheduled(1, 2*time.Second)

	tests := []struct {
		name string
		got  float64
		want float64
	}{
		{"frames_received", testutil.ToFloat64(c.framesReceived.WithLabelValues("message:new")), 2},
		{"frames_sent", testutil.ToFloat64(c.framesSent.WithLabelValues("message:seen")), 1},
		{"frames_sent other", testutil.ToFloat64(c.framesSent.WithLabelValues("other")), 1},
		{"sends_dropped", testutil.ToFloat64(c.sendsDropped.WithLabelValues("message:seen", "not_connected")), 1},
		{"duplicates", testutil.ToFloat64(c.duplicates.WithLabelValues("notification:new")), 1},
		{"handler_panics", testutil.ToFloat64(c.handlerPanics.WithLabelValues("message:new")), 1},
		{"heartbeat_timeouts", testutil.ToFloat64(c.heartbeatTimeouts), 1},
		{"reconnects", testutil.ToFloat64(c.reconnects), 1},
	}

	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
		}
	}

	if n := testutil.CollectAndCount(c.reconnectDelay); n != 1 {
		t.Errorf("reconnect_delay series = %d, want 1", n)
	}
}

func TestCollector_Archive(t *testing.T) {
	c := NewCollector()
	stats := archive.Metrics{Inserts: 7, Conflicts: 2, Dropped: 1}
	c.RegisterArchive(func() archive.Metrics { return stats })

	expected := `
# HELP clipcast_live_archive_inserts_total Admin events inserted.
# TYPE clipcast_live_archive_inserts_total counter
clipcast_live_archive_inserts_total 7
`
	if err := testutil.GatherAndCompare(c.Registry(), strings.NewReader(expected), "clipcast_live_archive_inserts_total"); err != nil {
		t.Errorf("archive inserts: %v", err)
	}

	stats.Inserts = 9
	expected = strings.Replace(expected, " 7\n", " 9\n", 1)
	if err := testutil.GatherAndCompare(c.Registry(), strings.NewReader(expected), "clipcast_live_archive_inserts_total"); err != nil {
		t.Errorf("archive inserts after update: %v", err)
	}
}

func TestCollector_Handler(t *testing.T) {
	c := NewCollector()
	c.FrameReceived(connection.EventPing)

	srv := httptest.NewServer(c.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `clipcast_live_frames_received_total{type="ping"} 1`) {
		t.Errorf("exposition missing frames_received, got:\n%s", body)
	}
	if !strings.Contains(string(body), "go_goroutines") {
		t.Error("exposition missing Go runtime metrics")
	}
}
