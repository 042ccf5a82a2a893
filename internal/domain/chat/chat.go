package chat

import (
	"database/sql"
	"time"
)

// NotificationState holds a chat's persisted notification preferences.
type NotificationState struct {
	ChatID    int64
	GroupID   sql.NullInt64 // no group assigned -> notifications suppressed
	Reachable bool          // false once Telegram permanently rejects delivery
	Enabled   map[int]bool  // offset minutes -> reminder enabled
	CreatedAt time.Time
	UpdatedAt time.Time
}

// OffsetEnabled reports whether the reminder at the given lead time
// (in minutes) is turned on for this chat.
func (s *NotificationState) OffsetEnabled(offsetMin int) bool {
	return s.Enabled[offsetMin]
}

// SentMessage is a record of one outbound bot message. Kind distinguishes
// notification kinds (e.g. "cl_notif_15m") from regular messages.
type SentMessage struct {
	ID        int64
	ChatID    int64
	Kind      string
	MessageID int
	SentAt    time.Time
}
