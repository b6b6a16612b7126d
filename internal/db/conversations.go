// Package db provides SurrealDB query functions for conversations and messages.
package db

import (
	"context"
	"fmt"

	"github.com/lindqvist/mapfold/internal/models"
)

// CreateConversation starts a new conversation for the user.
func (c *Client) CreateConversation(ctx context.Context, userID, title string) (*models.Conversation, error) {
	rows, err := queryRows[models.Conversation](ctx, c, `
		CREATE conversation SET
			user_id = $user_id,
			title = $title
		RETURN AFTER
	`, map[string]any{"user_id": userID, "title": title})
	if err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("create conversation: no result returned")
	}
	return &rows[0], nil
}

// GetConversation retrieves a conversation scoped to its owner. Returns
// ErrNotFound for missing and unowned conversations alike.
func (c *Client) GetConversation(ctx context.Context, id, userID string) (*models.Conversation, error) {
	rows, err := queryRows[models.Conversation](ctx, c, `
		SELECT * FROM type::record("conversation", $id) WHERE user_id = $user_id
	`, map[string]any{"id": id, "user_id": userID})
	if err != nil {
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("get conversation %s: %w", id, ErrNotFound)
	}
	return &rows[0], nil
}

// UpdateConversationTitle sets the conversation title and bumps updated_at.
func (c *Client) UpdateConversationTitle(ctx context.Context, id, title string) error {
	err := c.exec(ctx, `
		UPDATE type::record("conversation", $id) SET
			title = $title,
			updated_at = time::now()
	`, map[string]any{"id": id, "title": title})
	if err != nil {
		return fmt.Errorf("update conversation title: %w", err)
	}
	return nil
}

// TouchConversation bumps updated_at, used when a message lands.
func (c *Client) TouchConversation(ctx context.Context, id string) error {
	err := c.exec(ctx, `
		UPDATE type::record("conversation", $id) SET updated_at = time::now()
	`, map[string]any{"id": id})
	if err != nil {
		return fmt.Errorf("touch conversation: %w", err)
	}
	return nil
}

// MessageInput carries a new message's fields.
type MessageInput struct {
	ConversationID string
	UserID         string
	Role           string
	Content        string
	Metadata       map[string]any
	JobID          *string
}

// CreateMessage appends a message to a conversation. Async answers land here
// as assistant messages carrying their sources metadata and job reference.
func (c *Client) CreateMessage(ctx context.Context, input MessageInput) (*models.Message, error) {
	rows, err := queryRows[models.Message](ctx, c, `
		CREATE message SET
			conversation = type::record("conversation", $conversation_id),
			user_id = $user_id,
			role = $role,
			content = $content,
			metadata = $metadata,
			job_id = $job_id
		RETURN AFTER
	`, map[string]any{
		"conversation_id": input.ConversationID,
		"user_id":         input.UserID,
		"role":            input.Role,
		"content":         input.Content,
		"metadata":        input.Metadata,
		"job_id":          input.JobID,
	})
	if err != nil {
		return nil, fmt.Errorf("create message: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("create message: no result returned")
	}

	if err := c.TouchConversation(ctx, input.ConversationID); err != nil {
		return nil, err
	}
	return &rows[0], nil
}

// ListMessages returns the conversation's messages oldest first.
func (c *Client) ListMessages(ctx context.Context, conversationID, userID string, limit int) ([]models.Message, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := queryRows[models.Message](ctx, c, `
		SELECT * FROM message
		WHERE conversation = type::record("conversation", $conversation_id)
			AND user_id = $user_id
		ORDER BY created_at ASC
		LIMIT $limit
	`, map[string]any{
		"conversation_id": conversationID,
		"user_id":         userID,
		"limit":           limit,
	})
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	if rows == nil {
		rows = []models.Message{}
	}
	return rows, nil
}
