package chat

import (
	"context"
)

// Repository defines the operations for persisting and retrieving chat
// notification state.
type Repository interface {
	// Upsert inserts the chat or refreshes its updated_at if it already exists.
	Upsert(ctx context.Context, state *NotificationState) error
	GetByChatID(ctx context.Context, chatID int64) (*NotificationState, error)
	SetGroup(ctx context.Context, chatID int64, groupID int64) error
	// SetOffsetEnabled flips a single per-offset flag. Mutual exclusivity
	// between offsets is the settings service's policy, not the store's.
	SetOffsetEnabled(ctx context.Context, chatID int64, offsetMin int, enabled bool) error
	SetReachable(ctx context.Context, chatID int64, reachable bool) error

	// IterateAll returns a lazy cursor over all persisted chats, in stable
	// store order. The caller must Close it.
	IterateAll(ctx context.Context) (Iterator, error)

	// SaveSentMessage records an outbound message under its kind, evicting the
	// oldest records past the per-chat history cap.
	SaveSentMessage(ctx context.Context, m *SentMessage) error
}

// Iterator is a lazy sequence over chat notification states.
type Iterator interface {
	Next() bool
	Chat() *NotificationState
	Err() error
	Close() error
}
