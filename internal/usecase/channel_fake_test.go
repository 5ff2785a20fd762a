package usecase

import (
	"context"
	"sync"

	"shopchat/internal/domain/entity"
)

type typingFrame struct {
	conversationID string
	typing         bool
}

// fakeChannel is an in-memory ChatChannel for exercising the components
// without a transport. Behavior is overridable per test via the function
// fields.
type fakeChannel struct {
	mu sync.Mutex

	connected     bool
	conversations []entity.Conversation
	messages      map[string][]entity.Message

	joined     []string
	left       []string
	markedRead []struct{ conversationID, messageID string }
	typing     []typingFrame
	sentNonces []string

	sendFn   func(ctx context.Context, conversationID, content string, media *entity.MediaDescriptor, nonce string) (*entity.Message, error)
	uploadFn func(ctx context.Context, data []byte, fileName, mimeType, conversationID string) (*entity.MediaDescriptor, error)
	joinFn   func(ctx context.Context, conversationID string) (*entity.Conversation, error)
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{
		connected: true,
		messages:  make(map[string][]entity.Message),
	}
}

func (f *fakeChannel) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeChannel) LoadConversations(ctx context.Context) ([]entity.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]entity.Conversation, len(f.conversations))
	copy(out, f.conversations)
	return out, nil
}

func (f *fakeChannel) JoinConversation(ctx context.Context, conversationID string) (*entity.Conversation, error) {
	f.mu.Lock()
	f.joined = append(f.joined, conversationID)
	join := f.joinFn
	conversations := f.conversations
	f.mu.Unlock()

	if join != nil {
		return join(ctx, conversationID)
	}
	for i := range conversations {
		if conversations[i].ID == conversationID {
			conv := conversations[i]
			return &conv, nil
		}
	}
	return &entity.Conversation{ID: conversationID}, nil
}

func (f *fakeChannel) LeaveConversation(conversationID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.left = append(f.left, conversationID)
	return nil
}

func (f *fakeChannel) GetMessages(ctx context.Context, conversationID string, limit, offset int) ([]entity.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	list := f.messages[conversationID]
	out := make([]entity.Message, len(list))
	copy(out, list)
	return out, nil
}

func (f *fakeChannel) SendMessage(ctx context.Context, conversationID, content string, media *entity.MediaDescriptor, nonce string) (*entity.Message, error) {
	f.mu.Lock()
	f.sentNonces = append(f.sentNonces, nonce)
	send := f.sendFn
	f.mu.Unlock()

	if send != nil {
		return send(ctx, conversationID, content, media, nonce)
	}

	msg := &entity.Message{
		ID:             "srv-" + nonce,
		ConversationID: conversationID,
		Content:        content,
		Status:         entity.MessageStatusSent,
		Nonce:          nonce,
	}
	if media != nil {
		msg.Media = &entity.Media{MediaType: media.MediaType, Size: media.Size, URL: media.URL}
	}
	return msg, nil
}

func (f *fakeChannel) UploadMedia(ctx context.Context, data []byte, fileName, mimeType, conversationID string) (*entity.MediaDescriptor, error) {
	f.mu.Lock()
	upload := f.uploadFn
	f.mu.Unlock()

	if upload != nil {
		return upload(ctx, data, fileName, mimeType, conversationID)
	}
	return &entity.MediaDescriptor{
		URL:      "https://cdn.example.com/" + fileName,
		Size:     int64(len(data)),
		MimeType: mimeType,
	}, nil
}

func (f *fakeChannel) MarkRead(ctx context.Context, conversationID, messageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.markedRead = append(f.markedRead, struct{ conversationID, messageID string }{conversationID, messageID})
	return nil
}

func (f *fakeChannel) TypingIndicator(conversationID string, typing bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.typing = append(f.typing, typingFrame{conversationID, typing})
	return nil
}

func (f *fakeChannel) typingFrames() []typingFrame {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]typingFrame, len(f.typing))
	copy(out, f.typing)
	return out
}

func (f *fakeChannel) readReceipts() []struct{ conversationID, messageID string } {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]struct{ conversationID, messageID string }, len(f.markedRead))
	copy(out, f.markedRead)
	return out
}
