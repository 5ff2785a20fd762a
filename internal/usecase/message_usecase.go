package usecase

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"shopchat/internal/domain/entity"
	"shopchat/internal/domain/service"
	ws "shopchat/internal/infrastructure/websocket"
	"shopchat/pkg/errors"
)

// MessageReconciler implements the optimistic-send protocol with exactly-once
// visible effect. It owns the per-conversation message lists: confirmed
// messages are kept in server-timestamp order, optimistic entries sit at the
// tail in local insertion order and are matched to their confirmation by
// nonce, never by content.
type MessageReconciler struct {
	channel     service.ChatChannel
	sendTimeout time.Duration

	mu          sync.Mutex
	currentUser entity.Participant
	messages    map[string][]entity.Message

	subMu     sync.Mutex
	nextSubID int
	subs      map[int]func(conversationID string)
}

func NewMessageReconciler(channel service.ChatChannel, sendTimeout time.Duration) *MessageReconciler {
	return &MessageReconciler{
		channel:     channel,
		sendTimeout: sendTimeout,
		messages:    make(map[string][]entity.Message),
		subs:        make(map[int]func(string)),
	}
}

func (uc *MessageReconciler) SetCurrentUser(user entity.Participant) {
	uc.mu.Lock()
	uc.currentUser = user
	uc.mu.Unlock()
}

// Subscribe registers a per-conversation change callback.
func (uc *MessageReconciler) Subscribe(fn func(conversationID string)) *ws.Subscription {
	uc.subMu.Lock()
	defer uc.subMu.Unlock()
	uc.nextSubID++
	id := uc.nextSubID
	uc.subs[id] = fn
	return ws.NewSubscription(func() {
		uc.subMu.Lock()
		defer uc.subMu.Unlock()
		delete(uc.subs, id)
	})
}

func (uc *MessageReconciler) notify(conversationID string) {
	uc.subMu.Lock()
	subs := make([]func(string), 0, len(uc.subs))
	for _, fn := range uc.subs {
		subs = append(subs, fn)
	}
	uc.subMu.Unlock()

	for _, fn := range subs {
		fn(conversationID)
	}
}

// Send inserts an optimistic entry synchronously, then blocks until the
// server confirms or rejects it. On success the optimistic entry is replaced
// in place by the confirmed message; on failure it is removed and the caller
// gets SendFailed, keeping the original content recoverable for the compose
// field. The reconciler never retries on its own; a retry is a fresh
// user-initiated Send.
func (uc *MessageReconciler) Send(ctx context.Context, conversationID, content string) (*entity.Message, error) {
	optimistic := uc.insertOptimistic(conversationID, content, nil)

	sendCtx := ctx
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		sendCtx, cancel = context.WithTimeout(ctx, uc.sendTimeout)
		defer cancel()
	}

	confirmed, err := uc.channel.SendMessage(sendCtx, conversationID, content, nil, optimistic.Nonce)
	if err != nil {
		uc.rollback(conversationID, optimistic.Nonce)
		return nil, errors.SendFailed("message was not delivered", err)
	}

	uc.confirm(conversationID, optimistic.Nonce, *confirmed)
	return confirmed, nil
}

// Messages returns a copy of a conversation's message list in render order.
func (uc *MessageReconciler) Messages(conversationID string) []entity.Message {
	uc.mu.Lock()
	defer uc.mu.Unlock()
	list := uc.messages[conversationID]
	out := make([]entity.Message, len(list))
	copy(out, list)
	return out
}

// LoadHistory pages older messages from the server and merges them into the
// list, deduplicating against anything already present.
func (uc *MessageReconciler) LoadHistory(ctx context.Context, conversationID string, limit, offset int) error {
	history, err := uc.channel.GetMessages(ctx, conversationID, limit, offset)
	if err != nil {
		return err
	}

	uc.mu.Lock()
	for _, msg := range history {
		msg.Optimistic = false
		uc.mergeConfirmedLocked(msg)
	}
	uc.mu.Unlock()

	uc.notify(conversationID)
	return nil
}

// ApplyIncoming merges a pushed message. Delivering the same confirmed
// message twice must not create a duplicate visible entry, and an echo of
// our own send resolves the matching optimistic entry instead of appending.
func (uc *MessageReconciler) ApplyIncoming(message entity.Message) {
	uc.mu.Lock()
	message.Optimistic = false
	uc.mergeConfirmedLocked(message)
	uc.mu.Unlock()

	uc.notify(message.ConversationID)
}

// ApplyReadReceipt marks our own messages up to the given message as read.
func (uc *MessageReconciler) ApplyReadReceipt(conversationID, messageID string) {
	uc.mu.Lock()
	list := uc.messages[conversationID]
	var upTo time.Time
	for i := range list {
		if list[i].ID == messageID {
			upTo = list[i].CreatedAt
			break
		}
	}
	changed := false
	for i := range list {
		if list[i].Optimistic || list[i].Sender.ID != uc.currentUser.ID {
			continue
		}
		if (list[i].ID == messageID || (!upTo.IsZero() && !list[i].CreatedAt.After(upTo))) &&
			list[i].Status != entity.MessageStatusRead {
			list[i].Status = entity.MessageStatusRead
			changed = true
		}
	}
	uc.mu.Unlock()

	if changed {
		uc.notify(conversationID)
	}
}

// ApplyDelivery upgrades a sent message to delivered.
func (uc *MessageReconciler) ApplyDelivery(conversationID, messageID string) {
	uc.mu.Lock()
	list := uc.messages[conversationID]
	changed := false
	for i := range list {
		if list[i].ID == messageID && list[i].Status == entity.MessageStatusSent {
			list[i].Status = entity.MessageStatusDelivered
			changed = true
		}
	}
	uc.mu.Unlock()

	if changed {
		uc.notify(conversationID)
	}
}

// ApplyDeleted removes a message the server deleted.
func (uc *MessageReconciler) ApplyDeleted(conversationID, messageID string) {
	uc.mu.Lock()
	list := uc.messages[conversationID]
	changed := false
	for i := range list {
		if list[i].ID == messageID {
			uc.messages[conversationID] = append(list[:i], list[i+1:]...)
			changed = true
			break
		}
	}
	uc.mu.Unlock()

	if changed {
		uc.notify(conversationID)
	}
}

// insertOptimistic synthesizes the pending entry and appends it at the tail.
// At most one optimistic entry exists per nonce; nonces are never reused.
func (uc *MessageReconciler) insertOptimistic(conversationID, content string, media *entity.Media) entity.Message {
	uc.mu.Lock()
	message := entity.Message{
		ID:             "local-" + uuid.New().String(),
		ConversationID: conversationID,
		Sender:         uc.currentUser,
		Content:        content,
		Media:          media,
		Status:         entity.MessageStatusSent,
		CreatedAt:      time.Now(),
		Optimistic:     true,
		Nonce:          uuid.New().String(),
	}
	uc.messages[conversationID] = append(uc.messages[conversationID], message)
	uc.mu.Unlock()

	uc.notify(conversationID)
	return message
}

// confirm replaces the optimistic entry matching the nonce in place.
func (uc *MessageReconciler) confirm(conversationID, nonce string, confirmed entity.Message) {
	confirmed.Optimistic = false
	if confirmed.Nonce == "" {
		confirmed.Nonce = nonce
	}

	uc.mu.Lock()
	list := uc.messages[conversationID]
	replaced := false
	for i := range list {
		if list[i].Optimistic && list[i].Nonce == nonce {
			list[i] = confirmed
			replaced = true
			break
		}
	}
	if !replaced {
		// The push echo may have resolved the entry already; merging keeps
		// the effect exactly-once either way.
		uc.mergeConfirmedLocked(confirmed)
	}
	uc.mu.Unlock()

	uc.notify(conversationID)
}

// rollback removes the optimistic entry for a failed send.
func (uc *MessageReconciler) rollback(conversationID, nonce string) {
	uc.mu.Lock()
	list := uc.messages[conversationID]
	for i := range list {
		if list[i].Optimistic && list[i].Nonce == nonce {
			uc.messages[conversationID] = append(list[:i], list[i+1:]...)
			break
		}
	}
	uc.mu.Unlock()

	uc.notify(conversationID)
}

// mergeConfirmedLocked inserts a confirmed message: nonce echoes resolve the
// matching optimistic entry in place, duplicates by server id update status
// only, and new messages land in server-timestamp order ahead of the
// optimistic tail. Callers hold uc.mu.
func (uc *MessageReconciler) mergeConfirmedLocked(message entity.Message) {
	list := uc.messages[message.ConversationID]

	if message.Nonce != "" {
		for i := range list {
			if list[i].Optimistic && list[i].Nonce == message.Nonce {
				list[i] = message
				return
			}
		}
	}

	if message.ID != "" {
		for i := range list {
			if !list[i].Optimistic && list[i].ID == message.ID {
				if message.Status != "" {
					list[i].Status = message.Status
				}
				return
			}
		}
	}

	insertAt := 0
	firstOptimistic := len(list)
	for i := range list {
		if list[i].Optimistic {
			firstOptimistic = i
			break
		}
	}
	for i := firstOptimistic - 1; i >= 0; i-- {
		if !list[i].CreatedAt.After(message.CreatedAt) {
			insertAt = i + 1
			break
		}
	}
	if insertAt > firstOptimistic {
		insertAt = firstOptimistic
	}

	list = append(list, entity.Message{})
	copy(list[insertAt+1:], list[insertAt:])
	list[insertAt] = message
	uc.messages[message.ConversationID] = list
}
