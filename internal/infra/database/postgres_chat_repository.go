package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/cubicbyte/dteubot-sub000/internal/domain/chat"

	_ "github.com/lib/pq" // PostgreSQL driver
)

// Custom errors
var ErrChatNotFound = fmt.Errorf("chat not found")
var ErrUnknownOffset = fmt.Errorf("unknown notification offset")

// SentHistoryCap bounds the per-chat, per-kind message history; the oldest
// records are evicted first.
const SentHistoryCap = 16

// offsetColumns maps configured lead times (minutes) to their chats columns.
// Also guards SetOffsetEnabled against arbitrary column names.
var offsetColumns = map[int]string{
	15: "notify_15m",
	1:  "notify_1m",
}

type PostgresChatRepository struct {
	db *sql.DB
}

func NewPostgresChatRepository(db *sql.DB) *PostgresChatRepository {
	return &PostgresChatRepository{db: db}
}

func (r *PostgresChatRepository) Upsert(ctx context.Context, s *chat.NotificationState) error {
	query := `INSERT INTO chats (chat_id, group_id, reachable, notify_15m, notify_1m)
               VALUES ($1, $2, $3, $4, $5)
               ON CONFLICT (chat_id) DO UPDATE SET reachable = TRUE, updated_at = NOW()
               RETURNING created_at, updated_at`

	err := r.db.QueryRowContext(ctx, query,
		s.ChatID, s.GroupID, s.Reachable, s.Enabled[15], s.Enabled[1],
	).Scan(&s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("error upserting chat %d: %w", s.ChatID, err)
	}
	return nil
}

func (r *PostgresChatRepository) GetByChatID(ctx context.Context, chatID int64) (*chat.NotificationState, error) {
	query := `SELECT chat_id, group_id, reachable, notify_15m, notify_1m, created_at, updated_at
               FROM chats WHERE chat_id = $1`
	s, err := scanChat(r.db.QueryRowContext(ctx, query, chatID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrChatNotFound
		}
		return nil, fmt.Errorf("error getting chat by ID: %w", err)
	}
	return s, nil
}

func (r *PostgresChatRepository) SetGroup(ctx context.Context, chatID int64, groupID int64) error {
	query := `UPDATE chats SET group_id = $1, updated_at = NOW() WHERE chat_id = $2`
	return r.execOnChat(ctx, query, chatID, groupID)
}

func (r *PostgresChatRepository) SetOffsetEnabled(ctx context.Context, chatID int64, offsetMin int, enabled bool) error {
	col, ok := offsetColumns[offsetMin]
	if !ok {
		return ErrUnknownOffset
	}
	query := fmt.Sprintf(`UPDATE chats SET %s = $1, updated_at = NOW() WHERE chat_id = $2`, col)
	return r.execOnChat(ctx, query, chatID, enabled)
}

func (r *PostgresChatRepository) SetReachable(ctx context.Context, chatID int64, reachable bool) error {
	query := `UPDATE chats SET reachable = $1, updated_at = NOW() WHERE chat_id = $2`
	return r.execOnChat(ctx, query, chatID, reachable)
}

func (r *PostgresChatRepository) execOnChat(ctx context.Context, query string, chatID int64, arg any) error {
	res, err := r.db.ExecContext(ctx, query, arg, chatID)
	if err != nil {
		return fmt.Errorf("error updating chat %d: %w", chatID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrChatNotFound
	}
	return nil
}

// IterateAll returns a sql.Rows-backed cursor so a sweep over a large
// population never materializes it in memory.
func (r *PostgresChatRepository) IterateAll(ctx context.Context) (chat.Iterator, error) {
	query := `SELECT chat_id, group_id, reachable, notify_15m, notify_1m, created_at, updated_at
               FROM chats ORDER BY chat_id`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("error listing chats: %w", err)
	}
	return &chatIterator{rows: rows}, nil
}

func (r *PostgresChatRepository) SaveSentMessage(ctx context.Context, m *chat.SentMessage) error {
	query := `INSERT INTO sent_messages (chat_id, kind, message_id)
               VALUES ($1, $2, $3)
               RETURNING id, sent_at`
	err := r.db.QueryRowContext(ctx, query, m.ChatID, m.Kind, m.MessageID).Scan(&m.ID, &m.SentAt)
	if err != nil {
		return fmt.Errorf("error saving sent message for chat %d: %w", m.ChatID, err)
	}

	evict := `DELETE FROM sent_messages
               WHERE chat_id = $1 AND kind = $2 AND id NOT IN (
                   SELECT id FROM sent_messages
                   WHERE chat_id = $1 AND kind = $2
                   ORDER BY id DESC LIMIT $3
               )`
	if _, err := r.db.ExecContext(ctx, evict, m.ChatID, m.Kind, SentHistoryCap); err != nil {
		return fmt.Errorf("error evicting sent message history for chat %d: %w", m.ChatID, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChat(row rowScanner) (*chat.NotificationState, error) {
	s := &chat.NotificationState{Enabled: make(map[int]bool, len(offsetColumns))}
	var notify15, notify1 bool
	err := row.Scan(&s.ChatID, &s.GroupID, &s.Reachable, &notify15, &notify1, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	s.Enabled[15] = notify15
	s.Enabled[1] = notify1
	return s, nil
}

type chatIterator struct {
	rows    *sql.Rows
	current *chat.NotificationState
	err     error
}

func (it *chatIterator) Next() bool {
	if it.err != nil || !it.rows.Next() {
		return false
	}
	it.current, it.err = scanChat(it.rows)
	return it.err == nil
}

func (it *chatIterator) Chat() *chat.NotificationState { return it.current }

func (it *chatIterator) Err() error {
	if it.err != nil {
		return it.err
	}
	return it.rows.Err()
}

func (it *chatIterator) Close() error { return it.rows.Close() }
