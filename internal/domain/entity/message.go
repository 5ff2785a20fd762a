package entity

import "time"

// Message delivery status as reported by the server.
const (
	MessageStatusSent      = "sent"
	MessageStatusDelivered = "delivered"
	MessageStatusRead      = "read"
)

type Message struct {
	ID             string      `json:"id"`
	ConversationID string      `json:"conversation_id"`
	Sender         Participant `json:"sender"`
	Content        string      `json:"content"`
	Media          *Media      `json:"media,omitempty"`
	Status         string      `json:"status"` // "sent", "delivered", "read"
	CreatedAt      time.Time   `json:"created_at"`

	// Optimistic is true while the message only exists locally. Nonce is the
	// client-generated identifier that ties the local entry to the server
	// confirmation; at most one optimistic message exists per nonce.
	Optimistic bool   `json:"optimistic,omitempty"`
	Nonce      string `json:"nonce,omitempty"`
}
