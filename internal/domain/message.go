// Package domain contains core domain types for the companion orchestrator.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// Role identifies who authored a message.
type Role string

const (
	// RoleUser marks a message typed by the student.
	RoleUser Role = "user"
	// RoleAssistant marks a message produced by the orchestrator.
	RoleAssistant Role = "assistant"
)

// Message is a single exchanged chat message. Messages are never mutated after creation.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// NewMessage creates a message with a time-ordered ID.
func NewMessage(role Role, content string, at time.Time) Message {
	return Message{
		ID:        uuid.Must(uuid.NewV7()).String(),
		Role:      role,
		Content:   content,
		Timestamp: at,
	}
}
