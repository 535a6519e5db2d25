package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/kirillkom/research-assistant/internal/core/domain"
)

const schemaLockID int64 = 2026101601

type ConversationRepository struct {
	db *sql.DB
}

func NewConversationRepository(db *sql.DB) *ConversationRepository {
	return &ConversationRepository{db: db}
}

func (r *ConversationRepository) EnsureSchema(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across cli/worker startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, schemaLockID); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS conversations (
	conversation_id TEXT PRIMARY KEY,
	current_turn INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS conversation_messages (
	id TEXT PRIMARY KEY,
	conversation_id TEXT NOT NULL REFERENCES conversations(conversation_id) ON DELETE CASCADE,
	role TEXT NOT NULL,
	content TEXT NOT NULL,
	turn INTEGER NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_conversation_messages_recent ON conversation_messages(conversation_id, created_at DESC);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

func (r *ConversationRepository) EnsureConversation(ctx context.Context, conversationID string) (*domain.Conversation, error) {
	now := time.Now().UTC()
	_, err := r.db.ExecContext(ctx, `
INSERT INTO conversations (conversation_id, current_turn, created_at, updated_at)
VALUES ($1, 0, $2, $2)
ON CONFLICT (conversation_id) DO NOTHING
`, conversationID, now)
	if err != nil {
		return nil, fmt.Errorf("ensure conversation insert: %w", err)
	}

	row := r.db.QueryRowContext(ctx, `
SELECT conversation_id, current_turn, created_at, updated_at
FROM conversations
WHERE conversation_id = $1
`, conversationID)

	var conv domain.Conversation
	if err := row.Scan(&conv.ConversationID, &conv.CurrentTurn, &conv.CreatedAt, &conv.UpdatedAt); err != nil {
		return nil, fmt.Errorf("ensure conversation select: %w", err)
	}
	return &conv, nil
}

// NextTurn increments and returns the conversation's turn counter, creating
// the conversation on first use.
func (r *ConversationRepository) NextTurn(ctx context.Context, conversationID string) (int, error) {
	row := r.db.QueryRowContext(ctx, `
UPDATE conversations
SET current_turn = current_turn + 1, updated_at = $2
WHERE conversation_id = $1
RETURNING current_turn
`, conversationID, time.Now().UTC())

	var turn int
	if err := row.Scan(&turn); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			if _, ensureErr := r.EnsureConversation(ctx, conversationID); ensureErr != nil {
				return 0, ensureErr
			}
			return r.NextTurn(ctx, conversationID)
		}
		return 0, fmt.Errorf("next turn: %w", err)
	}
	return turn, nil
}

func (r *ConversationRepository) AppendMessage(ctx context.Context, message domain.ConversationMessage) error {
	if message.CreatedAt.IsZero() {
		message.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO conversation_messages (id, conversation_id, role, content, turn, created_at)
VALUES ($1,$2,$3,$4,$5,$6)
`, message.ID, message.ConversationID, message.Role, message.Content, message.Turn, message.CreatedAt)
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	return nil
}

// ListRecentMessages returns up to limit messages in chronological order.
func (r *ConversationRepository) ListRecentMessages(ctx context.Context, conversationID string, limit int) ([]domain.ConversationMessage, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT id, conversation_id, role, content, turn, created_at
FROM conversation_messages
WHERE conversation_id = $1
ORDER BY created_at DESC
LIMIT $2
`, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent messages: %w", err)
	}
	defer rows.Close()

	out := make([]domain.ConversationMessage, 0, limit)
	for rows.Next() {
		var msg domain.ConversationMessage
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.Role, &msg.Content, &msg.Turn, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan recent message: %w", err)
		}
		out = append(out, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate recent messages: %w", err)
	}

	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}
