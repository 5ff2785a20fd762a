package websocket

import (
	"sync"

	"shopchat/internal/domain/entity"
)

// Connection states.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateError        State = "error"
)

// Push event types delivered to subscribers.
const (
	EventNewMessage       = "new_message"
	EventNewConversation  = "new_conversation"
	EventTyping           = "typing"
	EventMessageRead      = "message_read"
	EventMessageDelivered = "message_delivered"
	EventMessageDeleted   = "message_deleted"
	EventPresence         = "presence"
)

// Event is a server push fanned out to all subscribed surfaces. Only the
// field matching Type is set.
type Event struct {
	Type         string
	Message      *entity.Message
	Conversation *entity.Conversation
	Typing       *entity.TypingSignal
	ReadReceipt  *ReadReceiptData
	Delivery     *DeliveryReceiptData
	Deleted      *MessageDeletedData
	Presence     *PresenceData
}

// Subscription is the handle returned from Subscribe and SubscribeState.
// Surfaces must call Cancel when they unmount so events never dispatch into a
// disposed consumer. Cancel is idempotent.
type Subscription struct {
	once   sync.Once
	cancel func()
}

// NewSubscription wraps a cancel function in an idempotent handle. Shared by
// every component that hands out subscriptions.
func NewSubscription(cancel func()) *Subscription {
	return &Subscription{cancel: cancel}
}

func (s *Subscription) Cancel() {
	if s == nil {
		return
	}
	s.once.Do(s.cancel)
}
