package entity

import "time"

// Participant roles within a conversation.
const (
	RoleCustomer = "customer"
	RoleShop     = "shop"
)

type Participant struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url,omitempty"`
	Role        string `json:"role"` // "customer", "shop"
	Online      bool   `json:"online,omitempty"`
}

type Conversation struct {
	ID           string        `json:"id"`
	Participants []Participant `json:"participants"`
	ProductID    string        `json:"product_id,omitempty"`
	ShopID       string        `json:"shop_id,omitempty"`
	LastMessage  *Message      `json:"last_message,omitempty"`
	UnreadCount  int           `json:"unread_count"` // Scoped to the viewing user
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// Counterpart returns the participant that is not the given user. Conversations
// are threads between exactly two participants about a shop or product context.
func (c *Conversation) Counterpart(userID string) (Participant, bool) {
	for _, p := range c.Participants {
		if p.ID != userID {
			return p, true
		}
	}
	return Participant{}, false
}

func (c *Conversation) HasParticipant(userID string) bool {
	for _, p := range c.Participants {
		if p.ID == userID {
			return true
		}
	}
	return false
}
