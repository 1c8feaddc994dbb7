package model

import "time"

// -----------------------------------------------------------------------------
// Messaging
// -----------------------------------------------------------------------------

// MessageNew is the payload of message:new.
type MessageNew struct {
	MessageID      string    `json:"message_id"`
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	SenderName     string    `json:"sender_name,omitempty"`
	Body           string    `json:"body"`
	ClipID         string    `json:"clip_id,omitempty"` // Set when a clip is shared in the message
	SentAt         time.Time `json:"sent_at"`
}

// MessageSeen is the payload of message:seen. Clients also send it to mark
// messages read.
type MessageSeen struct {
	ConversationID string    `json:"conversation_id"`
	MessageID      string    `json:"message_id"`
	ReaderID       string    `json:"reader_id,omitempty"`
	SeenAt         time.Time `json:"seen_at,omitzero"`
}

// -----------------------------------------------------------------------------
// Notifications
// -----------------------------------------------------------------------------

// NotificationNew is the payload of notification:new.
type NotificationNew struct {
	NotificationID string    `json:"notification_id"`
	Kind           string    `json:"kind"` // like, comment, follow, mention, system
	ActorID        string    `json:"actor_id,omitempty"`
	TargetID       string    `json:"target_id,omitempty"` // Clip or comment the notification refers to
	Title          string    `json:"title"`
	Body           string    `json:"body,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// UnseenCount is the payload of notification:unseen_count.
type UnseenCount struct {
	Count int `json:"count"`
}

// -----------------------------------------------------------------------------
// Moderation (delivered to admin sessions only)
// -----------------------------------------------------------------------------

// UserBanned is the payload of admin:user_banned.
type UserBanned struct {
	UserID      string     `json:"user_id"`
	ModeratorID string     `json:"moderator_id"`
	Reason      string     `json:"reason,omitempty"`
	Until       *time.Time `json:"until,omitempty"` // Nil for a permanent ban
}

// Permanent reports whether the ban has no end date.
func (b UserBanned) Permanent() bool {
	return b.Until == nil
}

// VideoDeleted is the payload of admin:video_deleted.
type VideoDeleted struct {
	VideoID     string `json:"video_id"`
	OwnerID     string `json:"owner_id"`
	ModeratorID string `json:"moderator_id"`
	Reason      string `json:"reason,omitempty"`
}

// ReportResolved is the payload of admin:report_resolved.
type ReportResolved struct {
	ReportID    string `json:"report_id"`
	TargetType  string `json:"target_type"` // video, comment, user
	TargetID    string `json:"target_id"`
	Resolution  string `json:"resolution"` // dismissed, removed, banned
	ModeratorID string `json:"moderator_id"`
}

// -----------------------------------------------------------------------------
// Stored rows
// -----------------------------------------------------------------------------

// AdminEvent is one archived moderation event.
type AdminEvent struct {
	EventID    string // Primary key (frame id)
	EventType  string // e.g. "admin:user_banned"
	ReceivedAt int64  // Local receive time (µs since epoch)
	Payload    []byte // Raw JSON payload
}

// ToMicros converts t to microseconds since Unix epoch.
func ToMicros(t time.Time) int64 {
	return t.UnixMicro()
}
