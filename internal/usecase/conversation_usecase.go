package usecase

import (
	"context"
	"sort"
	"sync"
	"time"

	"shopchat/internal/domain/entity"
	"shopchat/internal/domain/service"
	"shopchat/internal/infrastructure/ratelimit"
	ws "shopchat/internal/infrastructure/websocket"
	"shopchat/pkg/errors"
	"shopchat/pkg/logger"
)

// ConversationRegistry holds the merged, authoritative view of the user's
// conversations. Snapshot unread counts are ground truth at load time;
// between snapshots the registry increments locally. Only the registry
// mutates its own state; surfaces read copies and dispatch intents.
type ConversationRegistry struct {
	channel service.ChatChannel
	limiter *ratelimit.RateLimiter

	mu            sync.RWMutex
	currentUserID string
	conversations map[string]*entity.Conversation
	activeID      string
	loaded        bool
	seen          map[string]struct{}
	seenOrder     []string

	subMu     sync.Mutex
	nextSubID int
	subs      map[int]func()
}

func NewConversationRegistry(channel service.ChatChannel) *ConversationRegistry {
	limiter := ratelimit.NewRateLimiter()
	limiter.StartCleanupRoutine()

	return &ConversationRegistry{
		channel:       channel,
		limiter:       limiter,
		conversations: make(map[string]*entity.Conversation),
		seen:          make(map[string]struct{}),
		subs:          make(map[int]func()),
	}
}

// SetCurrentUser installs the identity confirmed at handshake. Unread
// bookkeeping depends on it.
func (uc *ConversationRegistry) SetCurrentUser(userID string) {
	uc.mu.Lock()
	uc.currentUserID = userID
	uc.mu.Unlock()
}

// Subscribe registers a change callback. The handle must be cancelled when
// the surface unmounts.
func (uc *ConversationRegistry) Subscribe(fn func()) *ws.Subscription {
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

func (uc *ConversationRegistry) notify() {
	uc.subMu.Lock()
	subs := make([]func(), 0, len(uc.subs))
	for _, fn := range uc.subs {
		subs = append(subs, fn)
	}
	uc.subMu.Unlock()

	for _, fn := range subs {
		fn()
	}
}

// LoadSnapshot replaces the registry contents with the server's full list.
func (uc *ConversationRegistry) LoadSnapshot(ctx context.Context) error {
	if !uc.channel.Connected() {
		return errors.SnapshotUnavailable("connection is not established", nil)
	}

	conversations, err := uc.channel.LoadConversations(ctx)
	if err != nil {
		return errors.SnapshotUnavailable("failed to load conversation snapshot", err)
	}

	uc.mu.Lock()
	uc.conversations = make(map[string]*entity.Conversation, len(conversations))
	for i := range conversations {
		conv := conversations[i]
		if conv.UnreadCount < 0 {
			conv.UnreadCount = 0
		}
		uc.conversations[conv.ID] = &conv
	}
	uc.loaded = true
	uc.mu.Unlock()

	uc.notify()
	return nil
}

func (uc *ConversationRegistry) Loaded() bool {
	uc.mu.RLock()
	defer uc.mu.RUnlock()
	return uc.loaded
}

// ApplyIncomingMessage merges a pushed message into the listing: it updates
// lastMessage and updatedAt, and increments unread only when the sender is
// someone else and the conversation is not the one currently open.
func (uc *ConversationRegistry) ApplyIncomingMessage(message entity.Message) {
	uc.mu.Lock()

	// Redundant delivery of the same message must not double-count, even when
	// other messages arrived in between.
	if message.ID != "" {
		if _, dup := uc.seen[message.ID]; dup {
			uc.mu.Unlock()
			return
		}
		uc.seen[message.ID] = struct{}{}
		uc.seenOrder = append(uc.seenOrder, message.ID)
		for len(uc.seenOrder) > seenMessageCap {
			delete(uc.seen, uc.seenOrder[0])
			uc.seenOrder = uc.seenOrder[1:]
		}
	}

	conv, ok := uc.conversations[message.ConversationID]
	if !ok {
		// A brand-new conversation can arrive as a push before any snapshot
		// refresh. Insert a stub immediately so the message is never lost,
		// then backfill the full record off the dispatch path.
		conv = &entity.Conversation{
			ID:        message.ConversationID,
			CreatedAt: message.CreatedAt,
		}
		if message.Sender.ID != "" && message.Sender.ID != uc.currentUserID {
			conv.Participants = []entity.Participant{message.Sender}
		}
		uc.conversations[conv.ID] = conv
		go uc.backfillConversation(message.ConversationID)
	}

	msg := message
	conv.LastMessage = &msg
	if message.CreatedAt.After(conv.UpdatedAt) {
		conv.UpdatedAt = message.CreatedAt
	}

	if message.Sender.ID != uc.currentUserID && conv.ID != uc.activeID && !message.Optimistic {
		conv.UnreadCount++
	}
	uc.mu.Unlock()

	uc.notify()
}

// backfillConversation fetches the authoritative record for a conversation
// that was first seen via a push event.
func (uc *ConversationRegistry) backfillConversation(conversationID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	full, err := uc.channel.JoinConversation(ctx, conversationID)
	if err != nil {
		logger.Warn("Failed to backfill conversation %s: %v", conversationID, err)
		return
	}

	uc.mu.Lock()
	if existing, ok := uc.conversations[conversationID]; ok {
		existing.Participants = full.Participants
		existing.ProductID = full.ProductID
		existing.ShopID = full.ShopID
		if existing.CreatedAt.IsZero() {
			existing.CreatedAt = full.CreatedAt
		}
	}
	uc.mu.Unlock()

	uc.notify()
}

// ApplyNewConversation inserts or refreshes a conversation pushed by the
// server.
func (uc *ConversationRegistry) ApplyNewConversation(conversation entity.Conversation) {
	uc.mu.Lock()
	if existing, ok := uc.conversations[conversation.ID]; ok {
		existing.Participants = conversation.Participants
		existing.ProductID = conversation.ProductID
		existing.ShopID = conversation.ShopID
	} else {
		conv := conversation
		if conv.UnreadCount < 0 {
			conv.UnreadCount = 0
		}
		uc.conversations[conv.ID] = &conv
	}
	uc.mu.Unlock()

	uc.notify()
}

// ApplyPresence flips a participant's online flag across all conversations.
func (uc *ConversationRegistry) ApplyPresence(userID string, online bool) {
	uc.mu.Lock()
	for _, conv := range uc.conversations {
		for i := range conv.Participants {
			if conv.Participants[i].ID == userID {
				conv.Participants[i].Online = online
			}
		}
	}
	uc.mu.Unlock()

	uc.notify()
}

// MarkConversationRead zeroes the unread counter and emits a read receipt
// for the most recent message from the counterpart.
func (uc *ConversationRegistry) MarkConversationRead(ctx context.Context, conversationID string) error {
	uc.mu.Lock()
	conv, ok := uc.conversations[conversationID]
	if !ok {
		uc.mu.Unlock()
		return errors.BadRequest("unknown conversation", nil)
	}
	hadUnread := conv.UnreadCount > 0
	conv.UnreadCount = 0
	var receiptTarget string
	if conv.LastMessage != nil && conv.LastMessage.Sender.ID != uc.currentUserID {
		receiptTarget = conv.LastMessage.ID
	}
	uc.mu.Unlock()

	uc.notify()

	if receiptTarget == "" || !hadUnread {
		return nil
	}
	if allowed, _ := uc.limiter.Allow(conversationID, "mark_read"); !allowed {
		return nil
	}
	if err := uc.channel.MarkRead(ctx, conversationID, receiptTarget); err != nil {
		logger.Warn("Failed to emit read receipt for %s: %v", conversationID, err)
	}
	return nil
}

// SetActive marks a conversation as the one open in the active UI surface.
// Opening a conversation is exactly the moment its unread count resets.
func (uc *ConversationRegistry) SetActive(ctx context.Context, conversationID string) error {
	uc.mu.Lock()
	previous := uc.activeID
	uc.activeID = conversationID
	_, known := uc.conversations[conversationID]
	uc.mu.Unlock()

	if previous != "" && previous != conversationID {
		uc.channel.LeaveConversation(previous)
	}

	if !known {
		conv, err := uc.channel.JoinConversation(ctx, conversationID)
		if err != nil {
			return err
		}
		uc.ApplyNewConversation(*conv)
	} else if _, err := uc.channel.JoinConversation(ctx, conversationID); err != nil {
		logger.Warn("Failed to join room %s: %v", conversationID, err)
	}

	return uc.MarkConversationRead(ctx, conversationID)
}

// ClearActive is called when the active surface closes its conversation.
func (uc *ConversationRegistry) ClearActive() {
	uc.mu.Lock()
	previous := uc.activeID
	uc.activeID = ""
	uc.mu.Unlock()

	if previous != "" {
		uc.channel.LeaveConversation(previous)
	}
	uc.notify()
}

func (uc *ConversationRegistry) ActiveConversation() string {
	uc.mu.RLock()
	defer uc.mu.RUnlock()
	return uc.activeID
}

// Conversations returns a copy of the listing ordered by updatedAt
// descending.
func (uc *ConversationRegistry) Conversations() []entity.Conversation {
	uc.mu.RLock()
	list := make([]entity.Conversation, 0, len(uc.conversations))
	for _, conv := range uc.conversations {
		list = append(list, *conv)
	}
	uc.mu.RUnlock()

	sort.SliceStable(list, func(i, j int) bool {
		return list[i].UpdatedAt.After(list[j].UpdatedAt)
	})
	return list
}

func (uc *ConversationRegistry) Conversation(conversationID string) (entity.Conversation, bool) {
	uc.mu.RLock()
	defer uc.mu.RUnlock()
	conv, ok := uc.conversations[conversationID]
	if !ok {
		return entity.Conversation{}, false
	}
	return *conv, true
}

// Close stops the limiter's cleanup routine. Idempotent.
func (uc *ConversationRegistry) Close() {
	uc.limiter.StopCleanupRoutine()
}

// UnreadTotal sums unread counters across all conversations.
func (uc *ConversationRegistry) UnreadTotal() int {
	uc.mu.RLock()
	defer uc.mu.RUnlock()
	total := 0
	for _, conv := range uc.conversations {
		total += conv.UnreadCount
	}
	return total
}
