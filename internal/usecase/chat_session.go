package usecase

import (
	"context"
	"time"

	"shopchat/internal/domain/entity"
	"shopchat/internal/domain/service"
	ws "shopchat/internal/infrastructure/websocket"
	"shopchat/pkg/config"
	"shopchat/pkg/logger"
)

// ChatSession wires the connection manager to every chat component and owns
// the fan-out of server pushes. One session exists per signed-in user.
type ChatSession struct {
	manager    *ws.Manager
	Registry   *ConversationRegistry
	Reconciler *MessageReconciler
	Presence   *PresenceSignaler
	Media      *MediaTransferClient
	Bridge     *NotificationBridge
	Previews   *PreviewStore

	historyPageSize int
	subs            []*ws.Subscription
}

func NewChatSession(cfg *config.Config, tokens service.TokenSource, notifier service.Notifier) *ChatSession {
	manager := ws.NewManager(cfg, tokens)
	registry := NewConversationRegistry(manager)
	reconciler := NewMessageReconciler(manager, time.Duration(cfg.RequestTimeoutSec)*time.Second)
	presence := NewPresenceSignaler(manager,
		time.Duration(cfg.TypingDebounceMs)*time.Millisecond,
		time.Duration(cfg.TypingExpirySec)*time.Second)
	previews := NewPreviewStore()
	media := NewMediaTransferClient(reconciler, manager, previews,
		cfg.MaxUploadSizeMB<<20,
		time.Duration(cfg.UploadTimeoutSec)*time.Second)
	bridge := NewNotificationBridge(registry, notifier)

	return &ChatSession{
		manager:         manager,
		Registry:        registry,
		Reconciler:      reconciler,
		Presence:        presence,
		Media:           media,
		Bridge:          bridge,
		Previews:        previews,
		historyPageSize: 50,
	}
}

// Start connects, propagates the confirmed identity, and loads the initial
// conversation snapshot.
func (s *ChatSession) Start(ctx context.Context) error {
	s.subs = append(s.subs,
		s.manager.Subscribe(s.dispatch),
		s.manager.SubscribeState(s.onStateChange),
	)

	if err := s.manager.Connect(ctx); err != nil {
		return err
	}

	s.adoptIdentity()

	if err := s.Registry.LoadSnapshot(ctx); err != nil {
		return err
	}
	return nil
}

// adoptIdentity pushes the handshake-confirmed user into every component
// that keys behavior on it.
func (s *ChatSession) adoptIdentity() {
	user := s.manager.CurrentUser()
	if user.ID == "" {
		user.ID = s.manager.UserID()
	}
	s.Registry.SetCurrentUser(user.ID)
	s.Reconciler.SetCurrentUser(user)
	s.Bridge.SetCurrentUser(user.ID)
}

// dispatch fans one server push out to the components that consume it. Order
// matters for messages: the reconciler merges first so the registry and the
// notification gate always see a message the timeline already holds.
func (s *ChatSession) dispatch(event ws.Event) {
	switch event.Type {
	case ws.EventNewMessage:
		s.Reconciler.ApplyIncoming(*event.Message)
		s.Registry.ApplyIncomingMessage(*event.Message)
		s.Bridge.OnIncomingMessage(*event.Message)

	case ws.EventNewConversation:
		s.Registry.ApplyNewConversation(*event.Conversation)

	case ws.EventTyping:
		s.Presence.ApplyIncoming(*event.Typing)

	case ws.EventMessageRead:
		s.Reconciler.ApplyReadReceipt(event.ReadReceipt.ChatID, event.ReadReceipt.MessageID)

	case ws.EventMessageDelivered:
		s.Reconciler.ApplyDelivery(event.Delivery.ChatID, event.Delivery.MessageID)

	case ws.EventMessageDeleted:
		s.Reconciler.ApplyDeleted(event.Deleted.ChatID, event.Deleted.MessageID)

	case ws.EventPresence:
		s.Registry.ApplyPresence(event.Presence.UserID, event.Presence.IsOnline)
	}
}

func (s *ChatSession) onStateChange(state ws.State, err error) {
	switch state {
	case ws.StateConnected:
		s.adoptIdentity()
		s.Presence.Reset()
		// Refresh the listing after a reconnect; pushes may have been missed
		// while the transport was down.
		if s.Registry.Loaded() {
			go func() {
				ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
				defer cancel()
				if err := s.Registry.LoadSnapshot(ctx); err != nil {
					logger.Warn("Snapshot refresh after reconnect failed: %v", err)
				}
			}()
		}
	case ws.StateDisconnected, ws.StateError:
		s.Presence.Reset()
	}
}

// OpenConversation makes a conversation active and loads its first page of
// history. Opening is the moment its unread count resets.
func (s *ChatSession) OpenConversation(ctx context.Context, conversationID string) error {
	if err := s.Registry.SetActive(ctx, conversationID); err != nil {
		return err
	}
	if err := s.Reconciler.LoadHistory(ctx, conversationID, s.historyPageSize, 0); err != nil {
		logger.Warn("History load for %s failed: %v", conversationID, err)
	}
	return nil
}

// CloseConversation clears the active marker when the chat surface closes.
func (s *ChatSession) CloseConversation() {
	s.Registry.ClearActive()
}

// SendText sends a composed text message, ending any typing burst first.
func (s *ChatSession) SendText(ctx context.Context, conversationID, content string) (*entity.Message, error) {
	s.Presence.MessageSent(conversationID)
	return s.Reconciler.Send(ctx, conversationID, content)
}

// SendMedia sends a picked file with an optional caption.
func (s *ChatSession) SendMedia(ctx context.Context, conversationID string, file MediaFile, caption string) (*entity.Message, error) {
	s.Presence.MessageSent(conversationID)
	return s.Media.SendMedia(ctx, conversationID, file, caption)
}

// Connection exposes the manager for surfaces that render connection state.
func (s *ChatSession) Connection() *ws.Manager {
	return s.manager
}

// Dispose cancels all subscriptions, stops the components' background
// routines, and tears the connection down.
func (s *ChatSession) Dispose() {
	for _, sub := range s.subs {
		sub.Cancel()
	}
	s.subs = nil
	s.Presence.Close()
	s.Registry.Close()
	s.manager.Close()
}
