package models

import (
	"time"

	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

// Conversation is a persistent chat session owned by one user.
type Conversation struct {
	ID        surrealmodels.RecordID `json:"id"`
	UserID    string                 `json:"user_id"`
	Title     string                 `json:"title"`
	CreatedAt time.Time              `json:"created_at"`
	UpdatedAt time.Time              `json:"updated_at"`
}

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single chat message within a conversation. Final async
// answers are posted here with sources metadata and the job reference.
type Message struct {
	ID           surrealmodels.RecordID `json:"id"`
	Conversation surrealmodels.RecordID `json:"conversation"`
	UserID       string                 `json:"user_id"`
	Role         string                 `json:"role"`
	Content      string                 `json:"content"`
	Metadata     map[string]any         `json:"metadata,omitempty"`
	JobID        *string                `json:"job_id,omitempty"`
	CreatedAt    time.Time              `json:"created_at"`
}
