package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/samber/lo"

	"portfolio-oracle/web/types"
)

// GetOrCreateConversation returns the conversation for sessionID, creating
// it on first use. A later call with a user id or address fills in fields
// that were empty.
func (s *PostgresStore) GetOrCreateConversation(ctx context.Context, sessionID string, userID *string, ip string) (types.Conversation, error) {
	var user sql.NullString
	if userID != nil && *userID != "" {
		user = sql.NullString{String: *userID, Valid: true}
	}

	// The no-op update on conflict makes RETURNING yield the existing row.
	row := s.DB.QueryRowContext(ctx, `
		INSERT INTO oracle_conversations (id, session_id, user_id, ip_address, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
		ON CONFLICT (session_id) DO UPDATE SET
			user_id = COALESCE(oracle_conversations.user_id, EXCLUDED.user_id),
			ip_address = CASE WHEN oracle_conversations.ip_address = '' THEN EXCLUDED.ip_address
			                  ELSE oracle_conversations.ip_address END
		RETURNING id, session_id, user_id, ip_address, created_at, updated_at`,
		uuid.New(), sessionID, user, ip)

	var conv types.Conversation
	var storedUser sql.NullString
	if err := row.Scan(&conv.ID, &conv.SessionID, &storedUser, &conv.IPAddress, &conv.CreatedAt, &conv.UpdatedAt); err != nil {
		return types.Conversation{}, fmt.Errorf("failed to get or create conversation: %w", err)
	}
	if storedUser.Valid {
		conv.UserID = &storedUser.String
	}
	return conv, nil
}

// AppendMessage stores a message and touches its conversation.
func (s *PostgresStore) AppendMessage(ctx context.Context, msg types.OracleMessage) (types.OracleMessage, error) {
	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	chunkIDs := lo.Map(msg.SourceChunkIDs, func(id uuid.UUID, _ int) string { return id.String() })

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return msg, err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO oracle_messages (id, conversation_id, role, content, source_chunk_ids, has_knowledge, response_time_ms, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		msg.ID, msg.ConversationID, msg.Role, msg.Content, pq.Array(chunkIDs), msg.HasKnowledge, msg.ResponseTimeMs, msg.CreatedAt)
	if err != nil {
		return msg, fmt.Errorf("failed to insert message: %w", err)
	}

	_, err = tx.ExecContext(ctx, `UPDATE oracle_conversations SET updated_at = $1 WHERE id = $2`, msg.CreatedAt, msg.ConversationID)
	if err != nil {
		return msg, fmt.Errorf("failed to touch conversation: %w", err)
	}

	return msg, tx.Commit()
}

// recentMessagesQuery selects the newest $2 messages and returns them oldest
// first. seq breaks created_at ties in insertion order.
const recentMessagesQuery = `
		SELECT id, conversation_id, role, content, source_chunk_ids, has_knowledge, response_time_ms, created_at
		FROM (
			SELECT * FROM oracle_messages
			WHERE conversation_id = $1
			ORDER BY created_at DESC, seq DESC
			LIMIT $2
		) recent
		ORDER BY created_at ASC, seq ASC`

// RecentMessages returns the newest limit messages, oldest first.
func (s *PostgresStore) RecentMessages(ctx context.Context, conversationID uuid.UUID, limit int) ([]types.OracleMessage, error) {
	rows, err := s.DB.QueryContext(ctx, recentMessagesQuery, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var messages []types.OracleMessage
	for rows.Next() {
		var msg types.OracleMessage
		var chunkIDs []string
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.Role, &msg.Content, pq.Array(&chunkIDs),
			&msg.HasKnowledge, &msg.ResponseTimeMs, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		msg.SourceChunkIDs = lo.FilterMap(chunkIDs, func(raw string, _ int) (uuid.UUID, bool) {
			id, err := uuid.Parse(raw)
			return id, err == nil
		})
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// ConversationSummary is a conversation with its message count, for review.
type ConversationSummary struct {
	types.Conversation
	MessageCount int `json:"message_count"`
}

// RecentConversations lists the most recently active conversations.
func (s *PostgresStore) RecentConversations(ctx context.Context, limit int) ([]ConversationSummary, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT c.id, c.session_id, c.user_id, c.ip_address, c.created_at, c.updated_at, COUNT(m.id)
		FROM oracle_conversations c
		LEFT JOIN oracle_messages m ON m.conversation_id = c.id
		GROUP BY c.id
		ORDER BY c.updated_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query conversations: %w", err)
	}
	defer rows.Close()

	var out []ConversationSummary
	for rows.Next() {
		var cs ConversationSummary
		var user sql.NullString
		if err := rows.Scan(&cs.ID, &cs.SessionID, &user, &cs.IPAddress, &cs.CreatedAt, &cs.UpdatedAt, &cs.MessageCount); err != nil {
			return nil, fmt.Errorf("failed to scan conversation: %w", err)
		}
		if user.Valid {
			cs.UserID = &user.String
		}
		out = append(out, cs)
	}
	return out, rows.Err()
}
