package websocket

import (
	"encoding/json"
	"time"

	"shopchat/internal/domain/entity"
)

// Frame types exchanged with the chat backend.
const (
	FrameTypePing         = "ping"
	FrameTypePong         = "pong"
	FrameTypeHandshake    = "handshake"
	FrameTypeHandshakeAck = "handshake_ack"

	FrameTypeSendMessage     = "send_message"
	FrameTypeMessage         = "message"
	FrameTypeMessageAck      = "message_ack"
	FrameTypeTyping          = "typing_indicator"
	FrameTypeJoinChatRoom    = "join_chat_room"
	FrameTypeLeaveChatRoom   = "leave_chat_room"
	FrameTypeMarkRead        = "mark_message_read"
	FrameTypeReadReceipt     = "read_receipt"
	FrameTypeDeliveryReceipt = "delivery_receipt"
	FrameTypeUserPresence    = "user_presence"

	FrameTypeLoadConversations = "load_conversations"
	FrameTypeConversationList  = "conversation_list"
	FrameTypeNewConversation   = "new_conversation"
	FrameTypeConversation      = "conversation"
	FrameTypeGetMessages       = "get_messages"
	FrameTypeMessageList       = "message_list"
	FrameTypeMessageDeleted    = "message_deleted"

	FrameTypeUploadMedia   = "upload_media"
	FrameTypeMediaUploaded = "media_uploaded"

	FrameTypeAck            = "ack"
	FrameTypeNewAccessToken = "new_access_token"
	FrameTypeDisconnect     = "disconnect"
	FrameTypeError          = "error"
)

// Frame is the wire envelope. Requests carry a client-generated temp_id that
// the server echoes on the matching acknowledgment.
type Frame struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	ChatID    string          `json:"chat_id,omitempty"`
	TempID    string          `json:"temp_id,omitempty"`
	Timestamp string          `json:"timestamp"`
}

func newFrame(frameType string, data interface{}) (Frame, error) {
	frame := Frame{
		Type:      frameType,
		Timestamp: time.Now().Format(time.RFC3339),
	}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return frame, err
		}
		frame.Data = raw
	}
	return frame, nil
}

// Frame payloads.

type HandshakeData struct {
	Token string `json:"token"`
}

type HandshakeAckData struct {
	UserID string             `json:"user_id"`
	User   entity.Participant `json:"user"`
}

type SendMessageData struct {
	TempID  string                  `json:"temp_id"`
	ChatID  string                  `json:"chat_id"`
	Content string                  `json:"content"`
	Media   *entity.MediaDescriptor `json:"media,omitempty"`
}

type GetMessagesData struct {
	ChatID string `json:"chat_id"`
	Limit  int    `json:"limit"`
	Offset int    `json:"offset"`
}

type MessageListData struct {
	ChatID   string           `json:"chat_id"`
	Messages []entity.Message `json:"messages"`
}

type ConversationListData struct {
	Conversations []entity.Conversation `json:"conversations"`
}

type UploadMediaData struct {
	TempID   string `json:"temp_id"`
	ChatID   string `json:"chat_id"`
	FileName string `json:"file_name"`
	MimeType string `json:"mime_type"`
	Size     int64  `json:"size"`
	Content  []byte `json:"content"` // base64 on the wire
}

type MarkReadData struct {
	ChatID    string `json:"chat_id"`
	MessageID string `json:"message_id"`
}

type ReadReceiptData struct {
	ChatID    string `json:"chat_id"`
	MessageID string `json:"message_id"`
	ReaderID  string `json:"reader_id"`
}

type DeliveryReceiptData struct {
	ChatID    string `json:"chat_id"`
	MessageID string `json:"message_id"`
}

type TypingData struct {
	ChatID    string `json:"chat_id"`
	UserID    string `json:"user_id"`
	Typing    bool   `json:"typing"`
	Timestamp string `json:"timestamp,omitempty"`
	ExpiresAt string `json:"expires_at,omitempty"`
}

type PresenceData struct {
	UserID   string `json:"user_id"`
	IsOnline bool   `json:"is_online"`
	LastSeen string `json:"last_seen,omitempty"`
}

type MessageDeletedData struct {
	ChatID    string `json:"chat_id"`
	MessageID string `json:"message_id"`
}

type TokenData struct {
	Token string `json:"token"`
}

type DisconnectData struct {
	Reason string `json:"reason"`
}

type ErrorData struct {
	Code  string `json:"code"`
	Error string `json:"error"`
}

// Disconnect reasons that mean the server deliberately ended the session.
// These escalate to an error state instead of silent retry.
const (
	DisconnectReasonSessionClosed   = "session_closed"
	DisconnectReasonSessionReplaced = "session_replaced"
	DisconnectReasonShutdown        = "server_shutdown"
)

func deliberateDisconnect(reason string) bool {
	switch reason {
	case DisconnectReasonSessionClosed, DisconnectReasonSessionReplaced, DisconnectReasonShutdown:
		return true
	}
	return false
}

// typingSignal converts wire typing data into the entity form, filling the
// expiry window when the server omitted one.
func typingSignal(data TypingData, defaultExpiry time.Duration) entity.TypingSignal {
	signal := entity.TypingSignal{
		ConversationID: data.ChatID,
		UserID:         data.UserID,
		Typing:         data.Typing,
		At:             time.Now(),
	}
	if data.Timestamp != "" {
		if at, err := time.Parse(time.RFC3339, data.Timestamp); err == nil {
			signal.At = at
		}
	}
	if data.ExpiresAt != "" {
		if expires, err := time.Parse(time.RFC3339, data.ExpiresAt); err == nil {
			signal.ExpiresAt = expires
		}
	}
	if signal.ExpiresAt.IsZero() {
		signal.ExpiresAt = signal.At.Add(defaultExpiry)
	}
	return signal
}
