// Package storage provides the PostgreSQL-backed persistence collaborator
// for chats and messages. Image attachments and reply references are stored
// as JSONB; chat participant lists as a text array. The schema lives in the
// embedded migrations and is applied with golang-migrate on startup.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/converse/chat-app/internal/chat"
)

// Postgres implements chat.Storage on top of database/sql with lib/pq.
type Postgres struct {
	db *sql.DB
}

// NewPostgres creates a storage layer backed by the given database handle.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// Open connects to PostgreSQL, verifies the connection, and applies pending
// migrations.
func Open(dsn string) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: open: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: postgres connection failed: %w", err)
	}

	if err := Migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	return NewPostgres(db), nil
}

// Close closes the underlying database handle.
func (s *Postgres) Close() error {
	return s.db.Close()
}

// CreateChat inserts a new private chat between the two users.
func (s *Postgres) CreateChat(ctx context.Context, creatorID, otherUserID string) (*chat.Chat, error) {
	c := &chat.Chat{
		ID:        uuid.New().String(),
		Users:     []string{creatorID, otherUserID},
		CreatedBy: creatorID,
		CreatedAt: time.Now().UTC(),
	}
	c.UpdatedAt = c.CreatedAt

	const query = `
		INSERT INTO chats (id, users, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)`

	_, err := s.db.ExecContext(ctx, query,
		c.ID, pq.Array(c.Users), c.CreatedBy, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("storage: insert chat: %w", err)
	}
	return c, nil
}

// FindPrivateChat returns the chat shared by exactly the two users, or nil.
func (s *Postgres) FindPrivateChat(ctx context.Context, userA, userB string) (*chat.Chat, error) {
	const query = `
		SELECT id, users, created_by, latest_text, latest_sender, created_at, updated_at
		FROM chats
		WHERE users @> ARRAY[$1, $2]::text[] AND cardinality(users) = 2`

	c, err := scanChat(s.db.QueryRowContext(ctx, query, userA, userB))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage: find private chat: %w", err)
	}
	return c, nil
}

// GetChat returns the chat with the given ID, or chat.ErrNotFound.
func (s *Postgres) GetChat(ctx context.Context, chatID string) (*chat.Chat, error) {
	const query = `
		SELECT id, users, created_by, latest_text, latest_sender, created_at, updated_at
		FROM chats
		WHERE id = $1`

	c, err := scanChat(s.db.QueryRowContext(ctx, query, chatID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: chat %s", chat.ErrNotFound, chatID)
	}
	if err != nil {
		return nil, fmt.Errorf("storage: get chat: %w", err)
	}
	return c, nil
}

// ListChatsByUser returns the user's chats, most recently active first.
func (s *Postgres) ListChatsByUser(ctx context.Context, userID string) ([]*chat.Chat, error) {
	const query = `
		SELECT id, users, created_by, latest_text, latest_sender, created_at, updated_at
		FROM chats
		WHERE $1 = ANY(users)
		ORDER BY updated_at DESC`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("storage: list chats: %w", err)
	}
	defer rows.Close()

	var chats []*chat.Chat
	for rows.Next() {
		c, err := scanChat(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan chat: %w", err)
		}
		chats = append(chats, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: list chats: %w", err)
	}
	return chats, nil
}

// CreateMessage inserts msg with a fresh ID and creation timestamp. The seen
// flag and seenAt are stored exactly as the engine computed them.
func (s *Postgres) CreateMessage(ctx context.Context, msg *chat.Message) (*chat.Message, error) {
	stored := *msg
	stored.ID = uuid.New().String()
	stored.CreatedAt = time.Now().UTC()

	imageJSON, err := marshalNullable(stored.Image)
	if err != nil {
		return nil, fmt.Errorf("storage: marshal image: %w", err)
	}
	replyJSON, err := marshalNullable(stored.ReplyTo)
	if err != nil {
		return nil, fmt.Errorf("storage: marshal reply: %w", err)
	}

	const query = `
		INSERT INTO messages (id, chat_id, sender, text, image, message_type, reply_to, seen, seen_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err = s.db.ExecContext(ctx, query,
		stored.ID, stored.ChatID, stored.Sender, stored.Text,
		imageJSON, stored.MessageType, replyJSON,
		stored.Seen, stored.SeenAt, stored.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("storage: insert message: %w", err)
	}
	return &stored, nil
}

// GetMessage returns the message with the given ID, or chat.ErrNotFound.
func (s *Postgres) GetMessage(ctx context.Context, messageID string) (*chat.Message, error) {
	const query = `
		SELECT id, chat_id, sender, text, image, message_type, reply_to, seen, seen_at, created_at
		FROM messages
		WHERE id = $1`

	m, err := scanMessage(s.db.QueryRowContext(ctx, query, messageID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: message %s", chat.ErrNotFound, messageID)
	}
	if err != nil {
		return nil, fmt.Errorf("storage: get message: %w", err)
	}
	return m, nil
}

// UpdateChatLatestMessage refreshes the denormalized summary and bumps the
// chat's activity timestamp.
func (s *Postgres) UpdateChatLatestMessage(ctx context.Context, chatID string, latest chat.LatestMessage) error {
	const query = `
		UPDATE chats
		SET latest_text = $2, latest_sender = $3, updated_at = NOW()
		WHERE id = $1`

	res, err := s.db.ExecContext(ctx, query, chatID, latest.Text, latest.Sender)
	if err != nil {
		return fmt.Errorf("storage: update latest message: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: chat %s", chat.ErrNotFound, chatID)
	}
	return nil
}

// FindUnseenMessages returns unseen messages authored by someone other than
// excludeSender, oldest first.
func (s *Postgres) FindUnseenMessages(ctx context.Context, chatID, excludeSender string) ([]*chat.Message, error) {
	const query = `
		SELECT id, chat_id, sender, text, image, message_type, reply_to, seen, seen_at, created_at
		FROM messages
		WHERE chat_id = $1 AND sender <> $2 AND NOT seen
		ORDER BY created_at ASC, id ASC`

	return s.queryMessages(ctx, query, chatID, excludeSender)
}

// MarkSeen applies the patch in a single filtered UPDATE. The seen=false
// filter keeps concurrent chat-opens idempotent.
func (s *Postgres) MarkSeen(ctx context.Context, chatID, excludeSender string, patch chat.SeenPatch) (int64, error) {
	const query = `
		UPDATE messages
		SET seen = $3, seen_at = $4
		WHERE chat_id = $1 AND sender <> $2 AND NOT seen`

	res, err := s.db.ExecContext(ctx, query, chatID, excludeSender, patch.Seen, patch.SeenAt)
	if err != nil {
		return 0, fmt.Errorf("storage: mark seen: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("storage: mark seen rows: %w", err)
	}
	return n, nil
}

// FindMessagesByChat returns the chat's full history ordered by creation
// time ascending. The id tie-break keeps order deterministic for rows that
// share a timestamp.
func (s *Postgres) FindMessagesByChat(ctx context.Context, chatID string) ([]*chat.Message, error) {
	const query = `
		SELECT id, chat_id, sender, text, image, message_type, reply_to, seen, seen_at, created_at
		FROM messages
		WHERE chat_id = $1
		ORDER BY created_at ASC, id ASC`

	return s.queryMessages(ctx, query, chatID)
}

// CountUnseen returns the number of unseen messages authored by someone
// other than excludeSender.
func (s *Postgres) CountUnseen(ctx context.Context, chatID, excludeSender string) (int, error) {
	const query = `
		SELECT COUNT(*)
		FROM messages
		WHERE chat_id = $1 AND sender <> $2 AND NOT seen`

	var count int
	if err := s.db.QueryRowContext(ctx, query, chatID, excludeSender).Scan(&count); err != nil {
		return 0, fmt.Errorf("storage: count unseen: %w", err)
	}
	return count, nil
}

func (s *Postgres) queryMessages(ctx context.Context, query string, args ...interface{}) ([]*chat.Message, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: query messages: %w", err)
	}
	defer rows.Close()

	var msgs []*chat.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan message: %w", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: query messages: %w", err)
	}
	return msgs, nil
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanChat(row scanner) (*chat.Chat, error) {
	var (
		c            chat.Chat
		latestText   sql.NullString
		latestSender sql.NullString
	)
	err := row.Scan(&c.ID, pq.Array(&c.Users), &c.CreatedBy,
		&latestText, &latestSender, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if latestText.Valid || latestSender.Valid {
		c.LatestMessage = &chat.LatestMessage{
			Text:   latestText.String,
			Sender: latestSender.String,
		}
	}
	return &c, nil
}

func scanMessage(row scanner) (*chat.Message, error) {
	var (
		m         chat.Message
		imageJSON []byte
		replyJSON []byte
		seenAt    sql.NullTime
	)
	err := row.Scan(&m.ID, &m.ChatID, &m.Sender, &m.Text,
		&imageJSON, &m.MessageType, &replyJSON, &m.Seen, &seenAt, &m.CreatedAt)
	if err != nil {
		return nil, err
	}
	if seenAt.Valid {
		t := seenAt.Time
		m.SeenAt = &t
	}
	if len(imageJSON) > 0 {
		m.Image = &chat.Image{}
		if err := json.Unmarshal(imageJSON, m.Image); err != nil {
			return nil, fmt.Errorf("unmarshal image: %w", err)
		}
	}
	if len(replyJSON) > 0 {
		m.ReplyTo = &chat.ReplyRef{}
		if err := json.Unmarshal(replyJSON, m.ReplyTo); err != nil {
			return nil, fmt.Errorf("unmarshal reply: %w", err)
		}
	}
	return &m, nil
}

// marshalNullable marshals v to JSON, or returns nil (SQL NULL) when v is a
// nil pointer.
func marshalNullable(v interface{}) ([]byte, error) {
	switch val := v.(type) {
	case *chat.Image:
		if val == nil {
			return nil, nil
		}
	case *chat.ReplyRef:
		if val == nil {
			return nil, nil
		}
	}
	return json.Marshal(v)
}
