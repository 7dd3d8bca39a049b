package models

import "time"

// Conversation summarizes one visitor's thread for the admin index.
type Conversation struct {
	Key           string    `json:"key"`
	CreatedAt     time.Time `json:"created_at"`
	LastMessageAt time.Time `json:"last_message_at"`
}
