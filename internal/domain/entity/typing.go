package entity

import "time"

// TypingSignal is ephemeral and never persisted. Signals carry the emitter's
// timestamp so consumers can apply last-write-wins ordering, and an expiry so
// an indicator cannot get stuck if the closing signal is lost.
type TypingSignal struct {
	ConversationID string    `json:"conversation_id"`
	UserID         string    `json:"user_id"`
	Typing         bool      `json:"typing"`
	At             time.Time `json:"at"`
	ExpiresAt      time.Time `json:"expires_at"`
}

func (s TypingSignal) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt)
}
