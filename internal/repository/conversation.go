package repository

import (
	"context"
	"time"

	"services-market-backend/internal/apperr"
	"services-market-backend/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ConversationRepository handles database operations for conversations and messages
type ConversationRepository struct {
	db      *pgxpool.Pool
	timeout time.Duration
}

// NewConversationRepository creates a new conversation repository
func NewConversationRepository(db *pgxpool.Pool, timeout time.Duration) *ConversationRepository {
	return &ConversationRepository{db: db, timeout: timeout}
}

const conversationColumns = `id, participant_a, participant_b, listing_id, listing_title, unread_a,
	unread_b, last_message_text, last_message_sender, last_message_type, last_message_at,
	created_at, updated_at`

const messageColumns = `seq, id, conversation_id, sender_id, type, text, image_url, created_at`

// GetOrCreate inserts conv unless a conversation with the same key exists, then reads the key.
// The unique index makes concurrent callers converge on one row.
func (r *ConversationRepository) GetOrCreate(ctx context.Context, conv *models.Conversation) (*models.Conversation, bool, error) {
	const op = "get or create conversation"
	if err := conv.Validate(); err != nil {
		return nil, false, apperr.Validation(op, "%v", err)
	}

	result, err := r.db.Exec(ctx, `
		INSERT INTO conversations (id, participant_a, participant_b, listing_id, listing_title,
			unread_a, unread_b, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, 0, 0, $6, $7)
		ON CONFLICT (participant_a, participant_b, listing_id) DO NOTHING
	`, conv.ID, conv.Participants[0], conv.Participants[1], conv.ListingID, conv.ListingTitle,
		conv.CreatedAt, conv.UpdatedAt)
	if err != nil {
		return nil, false, wrap(op, "conversation", err)
	}
	created := result.RowsAffected() == 1

	row := r.db.QueryRow(ctx, `
		SELECT `+conversationColumns+` FROM conversations
		WHERE participant_a = $1 AND participant_b = $2 AND listing_id = $3
	`, conv.Participants[0], conv.Participants[1], conv.ListingID)
	stored, err := scanConversation(row)
	if err != nil {
		return nil, false, wrap(op, "conversation", err)
	}
	return stored, created, nil
}

// GetByID retrieves a conversation by ID
func (r *ConversationRepository) GetByID(ctx context.Context, id string) (*models.Conversation, error) {
	ctx, cancel := readTimeout(ctx, r.timeout)
	defer cancel()

	row := r.db.QueryRow(ctx, `SELECT `+conversationColumns+` FROM conversations WHERE id = $1`, id)
	conv, err := scanConversation(row)
	if err != nil {
		return nil, wrap("get conversation", "conversation", err)
	}
	return conv, nil
}

// ListForUser retrieves all conversations the user takes part in, in no particular order
func (r *ConversationRepository) ListForUser(ctx context.Context, userID string) ([]*models.Conversation, error) {
	ctx, cancel := readTimeout(ctx, r.timeout)
	defer cancel()

	rows, err := r.db.Query(ctx, `
		SELECT `+conversationColumns+` FROM conversations
		WHERE participant_a = $1 OR participant_b = $1
	`, userID)
	if err != nil {
		return nil, wrap("list conversations", "conversation", err)
	}
	defer rows.Close()

	var convs []*models.Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, wrap("list conversations", "conversation", err)
		}
		convs = append(convs, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("list conversations", "conversation", err)
	}
	return convs, nil
}

// SetListingTitle updates the cached listing title
func (r *ConversationRepository) SetListingTitle(ctx context.Context, id, title string) error {
	result, err := r.db.Exec(ctx, `UPDATE conversations SET listing_title = $2 WHERE id = $1`, id, title)
	if err != nil {
		return wrap("set listing title", "conversation", err)
	}
	if result.RowsAffected() == 0 {
		return apperr.NotFound("set listing title", "conversation")
	}
	return nil
}

// AppendMessage stores a message and updates the parent conversation in one transaction
func (r *ConversationRepository) AppendMessage(ctx context.Context, msg *models.Message, recipientID string) (*models.Message, error) {
	const op = "append message"
	if err := msg.Validate(); err != nil {
		return nil, apperr.Validation(op, "%v", err)
	}
	stored := *msg

	err := pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		var lastAt *time.Time
		err := tx.QueryRow(ctx, `SELECT last_message_at FROM conversations WHERE id = $1 FOR UPDATE`,
			msg.ConversationID).Scan(&lastAt)
		if err != nil {
			return wrap(op, "conversation", err)
		}
		if lastAt != nil && lastAt.After(stored.CreatedAt) {
			stored.CreatedAt = *lastAt
		}

		err = tx.QueryRow(ctx, `
			INSERT INTO messages (id, conversation_id, sender_id, type, text, image_url, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING seq
		`, stored.ID, stored.ConversationID, stored.SenderID, stored.Type, stored.Text,
			stored.ImageURL, stored.CreatedAt).Scan(&stored.Seq)
		if err != nil {
			return err
		}

		_, err = tx.Exec(ctx, `
			UPDATE conversations
			SET last_message_text = $2, last_message_sender = $3, last_message_type = $4,
				last_message_at = $5, updated_at = $5,
				unread_a = CASE WHEN participant_a = $6 THEN unread_a + 1 ELSE unread_a END,
				unread_b = CASE WHEN participant_b = $6 THEN unread_b + 1 ELSE unread_b END
			WHERE id = $1
		`, stored.ConversationID, stored.Preview(), stored.SenderID, stored.Type, stored.CreatedAt,
			recipientID)
		return err
	})
	if err != nil {
		return nil, wrap(op, "conversation", err)
	}
	return &stored, nil
}

// MarkRead resets the unread counter of one participant
func (r *ConversationRepository) MarkRead(ctx context.Context, id, userID string) error {
	result, err := r.db.Exec(ctx, `
		UPDATE conversations
		SET unread_a = CASE WHEN participant_a = $2 THEN 0 ELSE unread_a END,
			unread_b = CASE WHEN participant_b = $2 THEN 0 ELSE unread_b END
		WHERE id = $1 AND (participant_a = $2 OR participant_b = $2)
	`, id, userID)
	if err != nil {
		return wrap("mark read", "conversation", err)
	}
	if result.RowsAffected() == 0 {
		return apperr.NotFound("mark read", "conversation")
	}
	return nil
}

// RecentMessages returns the newest messages of a conversation in ascending order
func (r *ConversationRepository) RecentMessages(ctx context.Context, conversationID string, limit int) ([]*models.Message, error) {
	ctx, cancel := readTimeout(ctx, r.timeout)
	defer cancel()

	rows, err := r.db.Query(ctx, `
		SELECT `+messageColumns+` FROM (
			SELECT `+messageColumns+` FROM messages
			WHERE conversation_id = $1
			ORDER BY created_at DESC, seq DESC
			LIMIT $2
		) recent
		ORDER BY created_at ASC, seq ASC
	`, conversationID, limit)
	if err != nil {
		return nil, wrap("recent messages", "message", err)
	}
	defer rows.Close()

	messages := []*models.Message{}
	for rows.Next() {
		var m models.Message
		err := rows.Scan(&m.Seq, &m.ID, &m.ConversationID, &m.SenderID, &m.Type, &m.Text,
			&m.ImageURL, &m.CreatedAt)
		if err != nil {
			return nil, wrap("recent messages", "message", err)
		}
		if err := m.Validate(); err != nil {
			return nil, apperr.Unavailable("recent messages", err)
		}
		messages = append(messages, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("recent messages", "message", err)
	}
	return messages, nil
}

func scanConversation(row pgx.Row) (*models.Conversation, error) {
	var (
		c                  models.Conversation
		unreadA, unreadB   int
		lastText, lastFrom *string
		lastType           *string
		lastAt             *time.Time
	)
	err := row.Scan(&c.ID, &c.Participants[0], &c.Participants[1], &c.ListingID, &c.ListingTitle,
		&unreadA, &unreadB, &lastText, &lastFrom, &lastType, &lastAt, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	c.Unread = map[string]int{
		c.Participants[0]: unreadA,
		c.Participants[1]: unreadB,
	}
	if lastAt != nil && lastText != nil && lastFrom != nil && lastType != nil {
		c.LastMessage = &models.LastMessage{
			Text:     *lastText,
			SenderID: *lastFrom,
			Type:     models.MessageType(*lastType),
			At:       *lastAt,
		}
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}
