package service

import (
	"context"

	"shopchat/internal/domain/entity"
)

// ChatChannel is the request/acknowledgment surface of the persistent
// bidirectional messaging channel. Push events flow through the connection
// manager's subscriptions, not through this interface.
type ChatChannel interface {
	// Connected reports whether the underlying channel is currently usable.
	Connected() bool

	// LoadConversations requests the full conversation snapshot for the
	// authenticated user.
	LoadConversations(ctx context.Context) ([]entity.Conversation, error)

	// JoinConversation subscribes to a conversation's room and returns it.
	JoinConversation(ctx context.Context, conversationID string) (*entity.Conversation, error)

	// LeaveConversation tells the server to stop scoping room pushes to us.
	LeaveConversation(conversationID string) error

	// GetMessages pages through a conversation's history, newest first.
	GetMessages(ctx context.Context, conversationID string, limit, offset int) ([]entity.Message, error)

	// SendMessage submits a message and blocks until the server confirms it.
	// The nonce ties the acknowledgment back to the caller's optimistic entry.
	SendMessage(ctx context.Context, conversationID, content string, media *entity.MediaDescriptor, nonce string) (*entity.Message, error)

	// UploadMedia transfers raw file bytes and returns the server-side
	// descriptor required before the media can be referenced in a message.
	UploadMedia(ctx context.Context, data []byte, fileName, mimeType, conversationID string) (*entity.MediaDescriptor, error)

	// MarkRead emits a read receipt for a message.
	MarkRead(ctx context.Context, conversationID, messageID string) error

	// TypingIndicator is fire-and-forget; the server never acknowledges it.
	TypingIndicator(conversationID string, typing bool) error
}
