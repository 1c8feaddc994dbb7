package model

import (
	"encoding/json"
	"testing"
	"time"
)

func TestPayloadDecoding(t *testing.T) {
	t.Run("MessageNew", func(t *testing.T) {
		data := `{"message_id":"m-1","conversation_id":"c-9","sender_id":"u-2","body":"look at this","clip_id":"v-5","sent_at":"2026-01-15T10:30:00Z"}`

		var m MessageNew
		if err := json.Unmarshal([]byte(data), &m); err != nil {
			t.Fatalf("unmarshal failed: %v", err)
		}
		if m.MessageID != "m-1" || m.ConversationID != "c-9" {
			t.Errorf("ids = %q/%q", m.MessageID, m.ConversationID)
		}
		if m.ClipID != "v-5" {
			t.Errorf("ClipID = %q, want v-5", m.ClipID)
		}
		want := time.Date(2026, 1, 15, 10, 30, 0, 0, time.UTC)
		if !m.SentAt.Equal(want) {
			t.Errorf("SentAt = %v, want %v", m.SentAt, want)
		}
	})

	t.Run("UnseenCount", func(t *testing.T) {
		var u UnseenCount
		if err := json.Unmarshal([]byte(`{"count":7}`), &u); err != nil {
			t.Fatalf("unmarshal failed: %v", err)
		}
		if u.Count != 7 {
			t.Errorf("Count = %d, want 7", u.Count)
		}
	})

	t.Run("NotificationNew", func(t *testing.T) {
		data := `{"notification_id":"n-1","kind":"comment","actor_id":"u-3","target_id":"v-1","title":"New comment","created_at":"2026-01-15T10:30:00Z"}`

		var n NotificationNew
		if err := json.Unmarshal([]byte(data), &n); err != nil {
			t.Fatalf("unmarshal failed: %v", err)
		}
		if n.Kind != "comment" {
			t.Errorf("Kind = %q, want comment", n.Kind)
		}
		if n.Body != "" {
			t.Errorf("Body = %q, want empty", n.Body)
		}
	})

	t.Run("UserBanned", func(t *testing.T) {
		var temp UserBanned
		if err := json.Unmarshal([]byte(`{"user_id":"u-1","moderator_id":"a-1","until":"2026-02-01T00:00:00Z"}`), &temp); err != nil {
			t.Fatalf("unmarshal failed: %v", err)
		}
		if temp.Permanent() {
			t.Error("ban with until should not be permanent")
		}

		var perm UserBanned
		if err := json.Unmarshal([]byte(`{"user_id":"u-1","moderator_id":"a-1","reason":"spam"}`), &perm); err != nil {
			t.Fatalf("unmarshal failed: %v", err)
		}
		if !perm.Permanent() {
			t.Error("ban without until should be permanent")
		}
	})

	t.Run("ReportResolved", func(t *testing.T) {
		data := `{"report_id":"r-4","target_type":"video","target_id":"v-8","resolution":"removed","moderator_id":"a-2"}`

		var r ReportResolved
		if err := json.Unmarshal([]byte(data), &r); err != nil {
			t.Fatalf("unmarshal failed: %v", err)
		}
		if r.Resolution != "removed" || r.TargetType != "video" {
			t.Errorf("got %+v", r)
		}
	})
}

func TestMessageSeen_OmitsEmpty(t *testing.T) {
	out, err := json.Marshal(MessageSeen{ConversationID: "c-1", MessageID: "m-1"})
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var fields map[string]any
	if err := json.Unmarshal(out, &fields); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if _, ok := fields["reader_id"]; ok {
		t.Error("reader_id should be omitted when empty")
	}
	if fields["message_id"] != "m-1" {
		t.Errorf("message_id = %v", fields["message_id"])
	}
}

func TestToMicros(t *testing.T) {
	ts := time.Unix(1705321845, 123456000)
	if got := ToMicros(ts); got != 1705321845123456 {
		t.Errorf("ToMicros = %d, want 1705321845123456", got)
	}
}
