package usecase

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shopchat/internal/domain/entity"
	"shopchat/pkg/errors"
)

func newTestReconciler(channel *fakeChannel) *MessageReconciler {
	uc := NewMessageReconciler(channel, 5*time.Second)
	uc.SetCurrentUser(entity.Participant{ID: "me", DisplayName: "Me"})
	return uc
}

func TestSendConfirmsOptimisticEntryInPlace(t *testing.T) {
	channel := newFakeChannel()
	uc := newTestReconciler(channel)

	var sawOptimistic bool
	sub := uc.Subscribe(func(conversationID string) {
		for _, msg := range uc.Messages(conversationID) {
			if msg.Optimistic {
				sawOptimistic = true
			}
		}
	})
	defer sub.Cancel()

	confirmed, err := uc.Send(context.Background(), "conv-1", "hello")
	require.NoError(t, err)
	require.NotNil(t, confirmed)

	list := uc.Messages("conv-1")
	require.Len(t, list, 1)
	assert.False(t, list[0].Optimistic)
	assert.Equal(t, confirmed.ID, list[0].ID)
	assert.Equal(t, "hello", list[0].Content)
	assert.True(t, sawOptimistic, "optimistic entry should be visible before confirmation")
}

func TestSendFailureRollsBackOptimisticEntry(t *testing.T) {
	channel := newFakeChannel()
	channel.sendFn = func(ctx context.Context, conversationID, content string, media *entity.MediaDescriptor, nonce string) (*entity.Message, error) {
		return nil, stderrors.New("transport dropped")
	}
	uc := newTestReconciler(channel)

	_, err := uc.Send(context.Background(), "conv-1", "hello")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.CodeSendFailed))
	assert.Empty(t, uc.Messages("conv-1"))
}

func TestConcurrentSendsUseDistinctNonces(t *testing.T) {
	channel := newFakeChannel()
	uc := newTestReconciler(channel)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := uc.Send(context.Background(), "conv-1", "msg")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	channel.mu.Lock()
	nonces := append([]string(nil), channel.sentNonces...)
	channel.mu.Unlock()

	seen := make(map[string]struct{})
	for _, nonce := range nonces {
		_, dup := seen[nonce]
		require.False(t, dup, "nonce %s reused", nonce)
		seen[nonce] = struct{}{}
	}
	assert.Len(t, uc.Messages("conv-1"), 5)
}

func TestPushEchoResolvesOptimisticEntry(t *testing.T) {
	channel := newFakeChannel()
	release := make(chan struct{})
	channel.sendFn = func(ctx context.Context, conversationID, content string, media *entity.MediaDescriptor, nonce string) (*entity.Message, error) {
		<-release
		return &entity.Message{ID: "srv-1", ConversationID: conversationID, Content: content, Nonce: nonce, Status: entity.MessageStatusSent}, nil
	}
	uc := newTestReconciler(channel)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := uc.Send(context.Background(), "conv-1", "hello")
		assert.NoError(t, err)
	}()

	// Wait for the optimistic entry, then deliver the push echo before the
	// ack returns.
	var nonce string
	require.Eventually(t, func() bool {
		list := uc.Messages("conv-1")
		if len(list) == 1 && list[0].Optimistic {
			nonce = list[0].Nonce
			return true
		}
		return false
	}, time.Second, 5*time.Millisecond)

	uc.ApplyIncoming(entity.Message{ID: "srv-1", ConversationID: "conv-1", Content: "hello", Nonce: nonce, Status: entity.MessageStatusSent})
	close(release)
	<-done

	list := uc.Messages("conv-1")
	require.Len(t, list, 1)
	assert.Equal(t, "srv-1", list[0].ID)
	assert.False(t, list[0].Optimistic)
}

func TestApplyIncomingDeduplicatesByID(t *testing.T) {
	channel := newFakeChannel()
	uc := newTestReconciler(channel)

	msg := entity.Message{ID: "m1", ConversationID: "conv-1", Content: "hi", CreatedAt: time.Now()}
	uc.ApplyIncoming(msg)
	uc.ApplyIncoming(msg)

	assert.Len(t, uc.Messages("conv-1"), 1)
}

func TestApplyIncomingKeepsTimestampOrder(t *testing.T) {
	channel := newFakeChannel()
	uc := newTestReconciler(channel)

	base := time.Now()
	uc.ApplyIncoming(entity.Message{ID: "m2", ConversationID: "conv-1", CreatedAt: base.Add(2 * time.Second)})
	uc.ApplyIncoming(entity.Message{ID: "m1", ConversationID: "conv-1", CreatedAt: base.Add(time.Second)})
	uc.ApplyIncoming(entity.Message{ID: "m3", ConversationID: "conv-1", CreatedAt: base.Add(3 * time.Second)})

	list := uc.Messages("conv-1")
	require.Len(t, list, 3)
	assert.Equal(t, "m1", list[0].ID)
	assert.Equal(t, "m2", list[1].ID)
	assert.Equal(t, "m3", list[2].ID)
}

func TestConfirmedInsertsStayBeforeOptimisticTail(t *testing.T) {
	channel := newFakeChannel()
	release := make(chan struct{})
	channel.sendFn = func(ctx context.Context, conversationID, content string, media *entity.MediaDescriptor, nonce string) (*entity.Message, error) {
		<-release
		return &entity.Message{ID: "srv-late", ConversationID: conversationID, Content: content, Nonce: nonce}, nil
	}
	uc := newTestReconciler(channel)

	done := make(chan struct{})
	go func() {
		defer close(done)
		uc.Send(context.Background(), "conv-1", "pending")
	}()

	require.Eventually(t, func() bool {
		return len(uc.Messages("conv-1")) == 1
	}, time.Second, 5*time.Millisecond)

	// A counterpart message arriving while ours is pending lands before it.
	uc.ApplyIncoming(entity.Message{ID: "m1", ConversationID: "conv-1", CreatedAt: time.Now().Add(time.Hour)})

	list := uc.Messages("conv-1")
	require.Len(t, list, 2)
	assert.Equal(t, "m1", list[0].ID)
	assert.True(t, list[1].Optimistic)

	close(release)
	<-done
}

func TestLoadHistoryMergesWithoutDuplicates(t *testing.T) {
	channel := newFakeChannel()
	base := time.Now()
	channel.messages["conv-1"] = []entity.Message{
		{ID: "m1", ConversationID: "conv-1", CreatedAt: base.Add(time.Second)},
		{ID: "m2", ConversationID: "conv-1", CreatedAt: base.Add(2 * time.Second)},
	}
	uc := newTestReconciler(channel)
	uc.ApplyIncoming(entity.Message{ID: "m2", ConversationID: "conv-1", CreatedAt: base.Add(2 * time.Second)})

	require.NoError(t, uc.LoadHistory(context.Background(), "conv-1", 50, 0))

	list := uc.Messages("conv-1")
	require.Len(t, list, 2)
	assert.Equal(t, "m1", list[0].ID)
	assert.Equal(t, "m2", list[1].ID)
}

func TestApplyReadReceiptMarksOwnMessagesThrough(t *testing.T) {
	channel := newFakeChannel()
	uc := newTestReconciler(channel)

	base := time.Now()
	me := entity.Participant{ID: "me"}
	uc.ApplyIncoming(entity.Message{ID: "m1", ConversationID: "conv-1", Sender: me, Status: entity.MessageStatusSent, CreatedAt: base})
	uc.ApplyIncoming(entity.Message{ID: "m2", ConversationID: "conv-1", Sender: me, Status: entity.MessageStatusSent, CreatedAt: base.Add(time.Second)})
	uc.ApplyIncoming(entity.Message{ID: "m3", ConversationID: "conv-1", Sender: me, Status: entity.MessageStatusSent, CreatedAt: base.Add(2 * time.Second)})

	uc.ApplyReadReceipt("conv-1", "m2")

	list := uc.Messages("conv-1")
	assert.Equal(t, entity.MessageStatusRead, list[0].Status)
	assert.Equal(t, entity.MessageStatusRead, list[1].Status)
	assert.Equal(t, entity.MessageStatusSent, list[2].Status)
}

func TestDuplicateReadReceiptIsHarmless(t *testing.T) {
	channel := newFakeChannel()
	uc := newTestReconciler(channel)

	me := entity.Participant{ID: "me"}
	uc.ApplyIncoming(entity.Message{ID: "m1", ConversationID: "conv-1", Sender: me, Status: entity.MessageStatusSent, CreatedAt: time.Now()})

	notifications := 0
	sub := uc.Subscribe(func(string) { notifications++ })
	defer sub.Cancel()

	uc.ApplyReadReceipt("conv-1", "m1")
	require.Equal(t, 1, notifications)

	// Redelivery of the same receipt changes nothing and stays silent.
	uc.ApplyReadReceipt("conv-1", "m1")

	list := uc.Messages("conv-1")
	require.Len(t, list, 1)
	assert.Equal(t, entity.MessageStatusRead, list[0].Status)
	assert.Equal(t, 1, notifications)
}

func TestApplyDeliveryUpgradesSentOnly(t *testing.T) {
	channel := newFakeChannel()
	uc := newTestReconciler(channel)

	me := entity.Participant{ID: "me"}
	uc.ApplyIncoming(entity.Message{ID: "m1", ConversationID: "conv-1", Sender: me, Status: entity.MessageStatusRead, CreatedAt: time.Now()})
	uc.ApplyIncoming(entity.Message{ID: "m2", ConversationID: "conv-1", Sender: me, Status: entity.MessageStatusSent, CreatedAt: time.Now()})

	uc.ApplyDelivery("conv-1", "m1")
	uc.ApplyDelivery("conv-1", "m2")

	list := uc.Messages("conv-1")
	assert.Equal(t, entity.MessageStatusRead, list[0].Status)
	assert.Equal(t, entity.MessageStatusDelivered, list[1].Status)
}

func TestApplyDeletedRemovesMessage(t *testing.T) {
	channel := newFakeChannel()
	uc := newTestReconciler(channel)

	uc.ApplyIncoming(entity.Message{ID: "m1", ConversationID: "conv-1", CreatedAt: time.Now()})
	uc.ApplyDeleted("conv-1", "m1")

	assert.Empty(t, uc.Messages("conv-1"))
}
