package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shopchat/internal/domain/entity"
	"shopchat/pkg/errors"
)

func seedConversations(channel *fakeChannel) {
	now := time.Now()
	channel.conversations = []entity.Conversation{
		{
			ID: "conv-1",
			Participants: []entity.Participant{
				{ID: "me", Role: entity.RoleCustomer},
				{ID: "shop-a", DisplayName: "Shop A", Role: entity.RoleShop},
			},
			UnreadCount: 2,
			UpdatedAt:   now.Add(-time.Hour),
		},
		{
			ID: "conv-2",
			Participants: []entity.Participant{
				{ID: "me", Role: entity.RoleCustomer},
				{ID: "shop-b", DisplayName: "Shop B", Role: entity.RoleShop},
			},
			UnreadCount: 0,
			UpdatedAt:   now.Add(-time.Minute),
		},
	}
}

func TestLoadSnapshotReplacesListing(t *testing.T) {
	channel := newFakeChannel()
	seedConversations(channel)
	registry := NewConversationRegistry(channel)
	registry.SetCurrentUser("me")

	require.NoError(t, registry.LoadSnapshot(context.Background()))

	list := registry.Conversations()
	require.Len(t, list, 2)
	// Ordered by updatedAt descending.
	assert.Equal(t, "conv-2", list[0].ID)
	assert.Equal(t, "conv-1", list[1].ID)
	assert.Equal(t, 2, registry.UnreadTotal())
	assert.True(t, registry.Loaded())
}

func TestLoadSnapshotRequiresConnection(t *testing.T) {
	channel := newFakeChannel()
	channel.connected = false
	registry := NewConversationRegistry(channel)

	err := registry.LoadSnapshot(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.CodeSnapshotUnavailable))
	assert.False(t, registry.Loaded())
}

func TestLoadSnapshotClampsNegativeUnread(t *testing.T) {
	channel := newFakeChannel()
	channel.conversations = []entity.Conversation{{ID: "conv-1", UnreadCount: -3}}
	registry := NewConversationRegistry(channel)

	require.NoError(t, registry.LoadSnapshot(context.Background()))
	conv, ok := registry.Conversation("conv-1")
	require.True(t, ok)
	assert.Equal(t, 0, conv.UnreadCount)
}

func TestIncomingMessageIncrementsUnread(t *testing.T) {
	channel := newFakeChannel()
	seedConversations(channel)
	registry := NewConversationRegistry(channel)
	registry.SetCurrentUser("me")
	require.NoError(t, registry.LoadSnapshot(context.Background()))

	registry.ApplyIncomingMessage(entity.Message{
		ID:             "m1",
		ConversationID: "conv-2",
		Sender:         entity.Participant{ID: "shop-b"},
		Content:        "hello",
		CreatedAt:      time.Now(),
	})

	conv, _ := registry.Conversation("conv-2")
	assert.Equal(t, 1, conv.UnreadCount)
	require.NotNil(t, conv.LastMessage)
	assert.Equal(t, "m1", conv.LastMessage.ID)
}

func TestIncomingMessageFromSelfDoesNotIncrement(t *testing.T) {
	channel := newFakeChannel()
	seedConversations(channel)
	registry := NewConversationRegistry(channel)
	registry.SetCurrentUser("me")
	require.NoError(t, registry.LoadSnapshot(context.Background()))

	registry.ApplyIncomingMessage(entity.Message{
		ID:             "m1",
		ConversationID: "conv-2",
		Sender:         entity.Participant{ID: "me"},
		CreatedAt:      time.Now(),
	})

	conv, _ := registry.Conversation("conv-2")
	assert.Equal(t, 0, conv.UnreadCount)
}

func TestIncomingMessageForActiveConversationDoesNotIncrement(t *testing.T) {
	channel := newFakeChannel()
	seedConversations(channel)
	registry := NewConversationRegistry(channel)
	registry.SetCurrentUser("me")
	require.NoError(t, registry.LoadSnapshot(context.Background()))
	require.NoError(t, registry.SetActive(context.Background(), "conv-2"))

	registry.ApplyIncomingMessage(entity.Message{
		ID:             "m1",
		ConversationID: "conv-2",
		Sender:         entity.Participant{ID: "shop-b"},
		CreatedAt:      time.Now(),
	})

	conv, _ := registry.Conversation("conv-2")
	assert.Equal(t, 0, conv.UnreadCount)
}

func TestRedundantDeliveryDoesNotDoubleCount(t *testing.T) {
	channel := newFakeChannel()
	seedConversations(channel)
	registry := NewConversationRegistry(channel)
	registry.SetCurrentUser("me")
	require.NoError(t, registry.LoadSnapshot(context.Background()))

	msg := entity.Message{
		ID:             "m1",
		ConversationID: "conv-2",
		Sender:         entity.Participant{ID: "shop-b"},
		CreatedAt:      time.Now(),
	}
	registry.ApplyIncomingMessage(msg)
	registry.ApplyIncomingMessage(msg)

	conv, _ := registry.Conversation("conv-2")
	assert.Equal(t, 1, conv.UnreadCount)
}

func TestRedundantDeliveryAfterInterleavedMessageDoesNotDoubleCount(t *testing.T) {
	channel := newFakeChannel()
	seedConversations(channel)
	registry := NewConversationRegistry(channel)
	registry.SetCurrentUser("me")
	require.NoError(t, registry.LoadSnapshot(context.Background()))

	now := time.Now()
	m1 := entity.Message{ID: "m1", ConversationID: "conv-2", Sender: entity.Participant{ID: "shop-b"}, CreatedAt: now}
	m2 := entity.Message{ID: "m2", ConversationID: "conv-2", Sender: entity.Participant{ID: "shop-b"}, CreatedAt: now.Add(time.Second)}

	registry.ApplyIncomingMessage(m1)
	registry.ApplyIncomingMessage(m2)
	registry.ApplyIncomingMessage(m1)

	conv, _ := registry.Conversation("conv-2")
	assert.Equal(t, 2, conv.UnreadCount)
	// The stale redelivery must not regress lastMessage either.
	require.NotNil(t, conv.LastMessage)
	assert.Equal(t, "m2", conv.LastMessage.ID)
}

func TestIncomingMessageForUnknownConversationInsertsStub(t *testing.T) {
	channel := newFakeChannel()
	registry := NewConversationRegistry(channel)
	registry.SetCurrentUser("me")

	registry.ApplyIncomingMessage(entity.Message{
		ID:             "m1",
		ConversationID: "conv-new",
		Sender:         entity.Participant{ID: "shop-c", DisplayName: "Shop C"},
		Content:        "first contact",
		CreatedAt:      time.Now(),
	})

	conv, ok := registry.Conversation("conv-new")
	require.True(t, ok)
	require.NotNil(t, conv.LastMessage)
	assert.Equal(t, "m1", conv.LastMessage.ID)
	assert.Equal(t, 1, conv.UnreadCount)
}

func TestOpeningConversationResetsUnread(t *testing.T) {
	channel := newFakeChannel()
	seedConversations(channel)
	registry := NewConversationRegistry(channel)
	registry.SetCurrentUser("me")
	require.NoError(t, registry.LoadSnapshot(context.Background()))

	registry.ApplyIncomingMessage(entity.Message{
		ID:             "m9",
		ConversationID: "conv-1",
		Sender:         entity.Participant{ID: "shop-a"},
		CreatedAt:      time.Now(),
	})
	conv, _ := registry.Conversation("conv-1")
	require.Equal(t, 3, conv.UnreadCount)

	require.NoError(t, registry.SetActive(context.Background(), "conv-1"))

	conv, _ = registry.Conversation("conv-1")
	assert.Equal(t, 0, conv.UnreadCount)
	assert.Equal(t, "conv-1", registry.ActiveConversation())

	// The counterpart's latest message got a read receipt.
	receipts := channel.readReceipts()
	require.Len(t, receipts, 1)
	assert.Equal(t, "conv-1", receipts[0].conversationID)
	assert.Equal(t, "m9", receipts[0].messageID)
}

func TestSwitchingActiveLeavesPreviousRoom(t *testing.T) {
	channel := newFakeChannel()
	seedConversations(channel)
	registry := NewConversationRegistry(channel)
	registry.SetCurrentUser("me")
	require.NoError(t, registry.LoadSnapshot(context.Background()))

	require.NoError(t, registry.SetActive(context.Background(), "conv-1"))
	require.NoError(t, registry.SetActive(context.Background(), "conv-2"))

	channel.mu.Lock()
	left := append([]string(nil), channel.left...)
	channel.mu.Unlock()
	assert.Contains(t, left, "conv-1")
	assert.Equal(t, "conv-2", registry.ActiveConversation())
}

func TestClearActiveStopsUnreadSuppression(t *testing.T) {
	channel := newFakeChannel()
	seedConversations(channel)
	registry := NewConversationRegistry(channel)
	registry.SetCurrentUser("me")
	require.NoError(t, registry.LoadSnapshot(context.Background()))
	require.NoError(t, registry.SetActive(context.Background(), "conv-2"))

	registry.ClearActive()
	assert.Empty(t, registry.ActiveConversation())

	registry.ApplyIncomingMessage(entity.Message{
		ID:             "m1",
		ConversationID: "conv-2",
		Sender:         entity.Participant{ID: "shop-b"},
		CreatedAt:      time.Now(),
	})
	conv, _ := registry.Conversation("conv-2")
	assert.Equal(t, 1, conv.UnreadCount)
}

func TestApplyPresenceFlipsOnlineFlag(t *testing.T) {
	channel := newFakeChannel()
	seedConversations(channel)
	registry := NewConversationRegistry(channel)
	registry.SetCurrentUser("me")
	require.NoError(t, registry.LoadSnapshot(context.Background()))

	registry.ApplyPresence("shop-a", true)

	conv, _ := registry.Conversation("conv-1")
	counterpart, ok := conv.Counterpart("me")
	require.True(t, ok)
	assert.True(t, counterpart.Online)
}

func TestSubscribeCancelStopsNotifications(t *testing.T) {
	channel := newFakeChannel()
	seedConversations(channel)
	registry := NewConversationRegistry(channel)

	calls := 0
	sub := registry.Subscribe(func() { calls++ })
	require.NoError(t, registry.LoadSnapshot(context.Background()))
	require.Equal(t, 1, calls)

	sub.Cancel()
	sub.Cancel() // idempotent
	require.NoError(t, registry.LoadSnapshot(context.Background()))
	assert.Equal(t, 1, calls)
}
