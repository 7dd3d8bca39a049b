package models

import "time"

type Role string

const (
	RoleVisitor Role = "visitor"
	RoleAdvisor Role = "advisor"
	RoleBot     Role = "bot"
)

// Message is one entry in a visitor's conversation transcript.
type Message struct {
	ID              string    `json:"id"`
	ConversationKey string    `json:"conversation_key"`
	Role            Role      `json:"role"`
	Body            string    `json:"body"`
	CreatedAt       time.Time `json:"created_at"`
}

// DisplayRole collapses advisor and bot into a single label for the
// visitor-facing widget. The admin panel shows roles as stored.
func (m Message) DisplayRole() string {
	switch m.Role {
	case RoleAdvisor, RoleBot:
		return "advisor"
	default:
		return string(m.Role)
	}
}

// Before reports whether m sorts ahead of other within a conversation.
// Creation time orders messages; ids break ties at low clock resolution.
func (m Message) Before(other Message) bool {
	if m.CreatedAt.Equal(other.CreatedAt) {
		return m.ID < other.ID
	}
	return m.CreatedAt.Before(other.CreatedAt)
}
