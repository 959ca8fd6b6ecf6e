package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pagepilot/pagepilot/internal/models"
)

// UpsertPageUser inserts or refreshes a page-scoped user (PSID).
// last_interaction_at is always bumped; name and profile_pic are only
// overwritten when the caller actually has them (profile fetch succeeded).
func (r *Repository) UpsertPageUser(ctx context.Context, pageID int64, psid string, name, profilePic *string) (*models.PageUser, error) {
	query := `INSERT INTO page_users (page_id, psid, name, profile_pic, last_interaction_at)
		VALUES (?, ?, ?, ?, NOW())
		ON DUPLICATE KEY UPDATE
			id = LAST_INSERT_ID(id),
			name = COALESCE(VALUES(name), name),
			profile_pic = COALESCE(VALUES(profile_pic), profile_pic),
			last_interaction_at = NOW()`

	result, err := r.mysql.db.ExecContext(ctx, query, pageID, psid, name, profilePic)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert page user: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get last insert id: %w", err)
	}

	return &models.PageUser{
		ID:                id,
		PageID:            pageID,
		PSID:              psid,
		Name:              name,
		ProfilePic:        profilePic,
		LastInteractionAt: time.Now(),
	}, nil
}

// GetPageUser retrieves a page user by internal ID
func (r *Repository) GetPageUser(ctx context.Context, id int64) (*models.PageUser, error) {
	var user models.PageUser
	query := `SELECT id, page_id, psid, name, profile_pic, last_interaction_at, created_at
		FROM page_users WHERE id = ?`

	err := r.mysql.db.GetContext(ctx, &user, query, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get page user: %w", err)
	}

	return &user, nil
}

// GetOrCreateConversation finds the conversation between a page and a page
// user, creating it if missing. Runs as a single atomic statement so two
// concurrent webhook deliveries can never create two threads; the created
// flag reports whether this call inserted the row.
func (r *Repository) GetOrCreateConversation(ctx context.Context, pageID, pageUserID int64) (*models.Conversation, bool, error) {
	query := `INSERT INTO conversations (page_id, page_user_id)
		VALUES (?, ?)
		ON DUPLICATE KEY UPDATE id = LAST_INSERT_ID(id)`

	result, err := r.mysql.db.ExecContext(ctx, query, pageID, pageUserID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to get or create conversation: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, false, fmt.Errorf("failed to get last insert id: %w", err)
	}

	// MySQL reports 1 affected row for a fresh insert, 0 when the duplicate
	// key path only touched LAST_INSERT_ID
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	created := affected == 1

	conv, err := r.GetConversation(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if conv == nil {
		return nil, false, fmt.Errorf("conversation %d vanished after upsert", id)
	}

	return conv, created, nil
}

// GetConversation retrieves a conversation by ID
func (r *Repository) GetConversation(ctx context.Context, id int64) (*models.Conversation, error) {
	var conv models.Conversation
	query := `SELECT id, page_id, page_user_id, unread_count, COALESCE(last_message, '') as last_message,
		last_message_at, created_at, updated_at
		FROM conversations WHERE id = ?`

	err := r.mysql.db.GetContext(ctx, &conv, query, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}

	return &conv, nil
}

// ListConversationsForPage retrieves conversations for a page, most recent
// activity first
func (r *Repository) ListConversationsForPage(ctx context.Context, pageID int64) ([]models.Conversation, error) {
	var convs []models.Conversation
	query := `SELECT id, page_id, page_user_id, unread_count, COALESCE(last_message, '') as last_message,
		last_message_at, created_at, updated_at
		FROM conversations WHERE page_id = ?
		ORDER BY last_message_at DESC`

	err := r.mysql.db.SelectContext(ctx, &convs, query, pageID)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}

	return convs, nil
}

// IncrementUnread bumps the unread counter and refreshes the last-message
// snapshot in one atomic UPDATE. Never read-modify-write: concurrent webhook
// deliveries would lose increments.
func (r *Repository) IncrementUnread(ctx context.Context, conversationID int64, lastMessage string, at time.Time) error {
	query := `UPDATE conversations
		SET unread_count = unread_count + 1, last_message = ?, last_message_at = ?
		WHERE id = ?`

	_, err := r.mysql.db.ExecContext(ctx, query, lastMessage, at, conversationID)
	if err != nil {
		return fmt.Errorf("failed to increment unread count: %w", err)
	}

	return nil
}

// UpdateLastMessage refreshes the last-message snapshot without touching the
// unread counter (page-sent messages)
func (r *Repository) UpdateLastMessage(ctx context.Context, conversationID int64, lastMessage string, at time.Time) error {
	query := `UPDATE conversations SET last_message = ?, last_message_at = ? WHERE id = ?`

	_, err := r.mysql.db.ExecContext(ctx, query, lastMessage, at, conversationID)
	if err != nil {
		return fmt.Errorf("failed to update last message: %w", err)
	}

	return nil
}

// ResetUnread zeroes the unread counter when the conversation is opened
func (r *Repository) ResetUnread(ctx context.Context, conversationID int64) error {
	query := `UPDATE conversations SET unread_count = 0 WHERE id = ?`

	_, err := r.mysql.db.ExecContext(ctx, query, conversationID)
	if err != nil {
		return fmt.Errorf("failed to reset unread count: %w", err)
	}

	return nil
}

// InsertMessage stores a chat message. The (conversation_id, external_mid)
// unique key makes redelivered webhooks idempotent: a second insert with the
// same mid returns ErrDuplicateMessage. An empty mid is stored as NULL and
// never collides.
func (r *Repository) InsertMessage(ctx context.Context, conversationID int64, fromType, messageType, content string, attachment json.RawMessage, externalMID string, sentAt time.Time) (*models.Message, error) {
	var mid interface{}
	if externalMID != "" {
		mid = externalMID
	}
	var att interface{}
	if len(attachment) > 0 {
		att = []byte(attachment)
	}

	query := `INSERT INTO messages (conversation_id, from_type, message_type, message, attachment, external_mid, sent_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`

	result, err := r.mysql.db.ExecContext(ctx, query, conversationID, fromType, messageType, content, att, mid, sentAt)
	if err != nil {
		if isDuplicateKey(err) {
			return nil, ErrDuplicateMessage
		}
		return nil, fmt.Errorf("failed to insert message: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get last insert id: %w", err)
	}

	return &models.Message{
		ID:             id,
		ConversationID: conversationID,
		FromType:       fromType,
		MessageType:    messageType,
		Message:        content,
		Attachment:     attachment,
		ExternalMID:    externalMID,
		SentAt:         sentAt,
		CreatedAt:      time.Now(),
	}, nil
}

// ListMessages retrieves messages of a conversation in chronological order
func (r *Repository) ListMessages(ctx context.Context, conversationID int64, limit int) ([]models.Message, error) {
	var messages []models.Message
	query := `SELECT id, conversation_id, from_type, message_type, COALESCE(message, '') as message,
		attachment, COALESCE(external_mid, '') as external_mid, sent_at, created_at
		FROM messages WHERE conversation_id = ?
		ORDER BY sent_at ASC, id ASC LIMIT ?`

	err := r.mysql.db.SelectContext(ctx, &messages, query, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}

	return messages, nil
}
