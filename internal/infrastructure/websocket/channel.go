package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"shopchat/internal/domain/entity"
	"shopchat/pkg/errors"
)

// The Manager is the concrete ChatChannel: every request frame carries a
// temp_id and blocks until the matching acknowledgment, an error frame, a
// timeout, or transport loss.

func (m *Manager) LoadConversations(ctx context.Context) ([]entity.Conversation, error) {
	frame, err := newFrame(FrameTypeLoadConversations, nil)
	if err != nil {
		return nil, errors.Internal("failed to encode snapshot request", err)
	}

	resp, err := m.request(ctx, frame)
	if err != nil {
		return nil, err
	}

	var list ConversationListData
	if err := json.Unmarshal(resp.Data, &list); err != nil {
		return nil, errors.Internal("malformed conversation snapshot", err)
	}
	return list.Conversations, nil
}

func (m *Manager) JoinConversation(ctx context.Context, conversationID string) (*entity.Conversation, error) {
	frame, err := newFrame(FrameTypeJoinChatRoom, nil)
	if err != nil {
		return nil, errors.Internal("failed to encode join request", err)
	}
	frame.ChatID = conversationID

	resp, err := m.request(ctx, frame)
	if err != nil {
		return nil, err
	}

	var conv entity.Conversation
	if err := json.Unmarshal(resp.Data, &conv); err != nil {
		return nil, errors.Internal("malformed conversation payload", err)
	}
	return &conv, nil
}

func (m *Manager) LeaveConversation(conversationID string) error {
	frame, err := newFrame(FrameTypeLeaveChatRoom, nil)
	if err != nil {
		return errors.Internal("failed to encode leave request", err)
	}
	frame.ChatID = conversationID
	return m.enqueue(frame)
}

func (m *Manager) GetMessages(ctx context.Context, conversationID string, limit, offset int) ([]entity.Message, error) {
	frame, err := newFrame(FrameTypeGetMessages, GetMessagesData{
		ChatID: conversationID,
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		return nil, errors.Internal("failed to encode history request", err)
	}
	frame.ChatID = conversationID

	resp, err := m.request(ctx, frame)
	if err != nil {
		return nil, err
	}

	var list MessageListData
	if err := json.Unmarshal(resp.Data, &list); err != nil {
		return nil, errors.Internal("malformed message history", err)
	}
	return list.Messages, nil
}

func (m *Manager) SendMessage(ctx context.Context, conversationID, content string, media *entity.MediaDescriptor, nonce string) (*entity.Message, error) {
	frame, err := newFrame(FrameTypeSendMessage, SendMessageData{
		TempID:  nonce,
		ChatID:  conversationID,
		Content: content,
		Media:   media,
	})
	if err != nil {
		return nil, errors.Internal("failed to encode message", err)
	}
	frame.ChatID = conversationID
	frame.TempID = nonce

	resp, err := m.request(ctx, frame)
	if err != nil {
		return nil, err
	}

	var msg entity.Message
	if err := json.Unmarshal(resp.Data, &msg); err != nil {
		return nil, errors.Internal("malformed message acknowledgment", err)
	}
	if msg.Nonce == "" {
		msg.Nonce = nonce
	}
	return &msg, nil
}

func (m *Manager) UploadMedia(ctx context.Context, data []byte, fileName, mimeType, conversationID string) (*entity.MediaDescriptor, error) {
	frame, err := newFrame(FrameTypeUploadMedia, UploadMediaData{
		TempID:   uuid.New().String(),
		ChatID:   conversationID,
		FileName: fileName,
		MimeType: mimeType,
		Size:     int64(len(data)),
		Content:  data,
	})
	if err != nil {
		return nil, errors.Internal("failed to encode upload", err)
	}
	frame.ChatID = conversationID

	resp, err := m.request(ctx, frame)
	if err != nil {
		return nil, err
	}

	var descriptor entity.MediaDescriptor
	if err := json.Unmarshal(resp.Data, &descriptor); err != nil {
		return nil, errors.Internal("malformed media descriptor", err)
	}
	if descriptor.URL == "" {
		return nil, errors.Internal("media descriptor missing remote URL", nil)
	}
	return &descriptor, nil
}

func (m *Manager) MarkRead(ctx context.Context, conversationID, messageID string) error {
	frame, err := newFrame(FrameTypeMarkRead, MarkReadData{
		ChatID:    conversationID,
		MessageID: messageID,
	})
	if err != nil {
		return errors.Internal("failed to encode read receipt", err)
	}
	frame.ChatID = conversationID

	_, err = m.request(ctx, frame)
	return err
}

func (m *Manager) TypingIndicator(conversationID string, typing bool) error {
	m.mu.RLock()
	userID := m.userID
	expiry := m.typingExpiry
	m.mu.RUnlock()

	frame, err := newFrame(FrameTypeTyping, TypingData{
		ChatID:    conversationID,
		UserID:    userID,
		Typing:    typing,
		Timestamp: time.Now().Format(time.RFC3339),
		ExpiresAt: time.Now().Add(expiry).Format(time.RFC3339),
	})
	if err != nil {
		return errors.Internal("failed to encode typing signal", err)
	}
	frame.ChatID = conversationID
	return m.enqueue(frame)
}

// request sends a frame and waits for its acknowledgment. A caller-supplied
// deadline governs the wait when present; otherwise the manager's request
// timeout applies.
func (m *Manager) request(ctx context.Context, frame Frame) (*Frame, error) {
	if frame.TempID == "" {
		frame.TempID = uuid.New().String()
	}

	raw, err := json.Marshal(frame)
	if err != nil {
		return nil, errors.Internal("failed to encode frame", err)
	}

	ch := make(chan Frame, 1)
	m.mu.Lock()
	if m.state != StateConnected || m.send == nil {
		m.mu.Unlock()
		return nil, notConnectedErr()
	}
	m.pending[frame.TempID] = ch
	send := m.send
	m.mu.Unlock()

	select {
	case send <- raw:
	default:
		m.dropPending(frame.TempID)
		return nil, errors.Internal("send buffer full", nil)
	}

	var timerC <-chan time.Time
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		timer := time.NewTimer(m.requestTimeout)
		defer timer.Stop()
		timerC = timer.C
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return nil, notConnectedErr()
		}
		if resp.Type == FrameTypeError {
			return nil, frameError(resp)
		}
		return &resp, nil

	case <-ctx.Done():
		m.dropPending(frame.TempID)
		return nil, errors.ConnectionTimeout("request abandoned", ctx.Err())

	case <-timerC:
		m.dropPending(frame.TempID)
		return nil, errors.ConnectionTimeout("no response from server", nil)
	}
}

func (m *Manager) dropPending(tempID string) {
	m.mu.Lock()
	delete(m.pending, tempID)
	m.mu.Unlock()
}

// enqueue pushes a fire-and-forget frame onto the write pump.
func (m *Manager) enqueue(frame Frame) error {
	raw, err := json.Marshal(frame)
	if err != nil {
		return errors.Internal("failed to encode frame", err)
	}

	m.mu.RLock()
	send := m.send
	state := m.state
	m.mu.RUnlock()

	if state != StateConnected || send == nil {
		return notConnectedErr()
	}

	select {
	case send <- raw:
		return nil
	default:
		return errors.Internal("send buffer full", nil)
	}
}

func frameError(frame Frame) error {
	var data ErrorData
	json.Unmarshal(frame.Data, &data)
	code := data.Code
	if code == "" {
		code = "SERVER_ERROR"
	}
	message := data.Error
	if message == "" {
		message = "server rejected the request"
	}
	return errors.New(code, message, http.StatusBadGateway, nil)
}
