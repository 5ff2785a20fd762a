package usecase

import (
	"sync"

	"shopchat/internal/domain/entity"
	"shopchat/internal/domain/service"
)

const seenMessageCap = 2048

// NotificationBridge decides which incoming messages deserve a user-facing
// alert: only messages from someone else, in a conversation that is not the
// one currently open, and at most once per message id no matter how many
// times the server redelivers it.
type NotificationBridge struct {
	registry *ConversationRegistry
	notifier service.Notifier

	mu            sync.Mutex
	currentUserID string
	seen          map[string]struct{}
	seenOrder     []string
}

func NewNotificationBridge(registry *ConversationRegistry, notifier service.Notifier) *NotificationBridge {
	return &NotificationBridge{
		registry: registry,
		notifier: notifier,
		seen:     make(map[string]struct{}),
	}
}

func (uc *NotificationBridge) SetCurrentUser(userID string) {
	uc.mu.Lock()
	uc.currentUserID = userID
	uc.mu.Unlock()
}

// OnIncomingMessage runs the gate for one pushed message.
func (uc *NotificationBridge) OnIncomingMessage(message entity.Message) {
	if message.Optimistic || message.ID == "" {
		return
	}

	uc.mu.Lock()
	if message.Sender.ID == uc.currentUserID {
		uc.mu.Unlock()
		return
	}
	if _, dup := uc.seen[message.ID]; dup {
		uc.mu.Unlock()
		return
	}
	uc.markSeenLocked(message.ID)
	uc.mu.Unlock()

	if uc.registry.ActiveConversation() == message.ConversationID {
		return
	}

	conv, ok := uc.registry.Conversation(message.ConversationID)
	if !ok {
		conv = entity.Conversation{ID: message.ConversationID}
	}
	uc.notifier.Notify(conv, message)
}

// markSeenLocked records a message id, evicting the oldest entries once the
// set reaches its cap. Callers hold uc.mu.
func (uc *NotificationBridge) markSeenLocked(messageID string) {
	uc.seen[messageID] = struct{}{}
	uc.seenOrder = append(uc.seenOrder, messageID)
	for len(uc.seenOrder) > seenMessageCap {
		delete(uc.seen, uc.seenOrder[0])
		uc.seenOrder = uc.seenOrder[1:]
	}
}
