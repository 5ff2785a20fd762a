package usecase

import (
	"sync"
	"time"

	"shopchat/internal/domain/entity"
	"shopchat/internal/domain/service"
	"shopchat/internal/infrastructure/ratelimit"
	ws "shopchat/internal/infrastructure/websocket"
)

// PresenceSignaler debounces outgoing typing indicators and tracks the ones
// the counterpart sends us. A typing burst emits exactly one "started" frame;
// the "stopped" frame follows after the debounce window closes, or
// immediately when the composed message is sent.
type PresenceSignaler struct {
	channel  service.ChatChannel
	limiter  *ratelimit.RateLimiter
	debounce time.Duration
	expiry   time.Duration

	mu         sync.Mutex
	typingSent map[string]bool
	timers     map[string]*time.Timer
	incoming   map[string]map[string]entity.TypingSignal

	subMu     sync.Mutex
	nextSubID int
	subs      map[int]func(conversationID string)
}

func NewPresenceSignaler(channel service.ChatChannel, debounce, expiry time.Duration) *PresenceSignaler {
	limiter := ratelimit.NewRateLimiter()
	limiter.StartCleanupRoutine()

	return &PresenceSignaler{
		channel:    channel,
		limiter:    limiter,
		debounce:   debounce,
		expiry:     expiry,
		typingSent: make(map[string]bool),
		timers:     make(map[string]*time.Timer),
		incoming:   make(map[string]map[string]entity.TypingSignal),
		subs:       make(map[int]func(string)),
	}
}

func (uc *PresenceSignaler) Subscribe(fn func(conversationID string)) *ws.Subscription {
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

func (uc *PresenceSignaler) notify(conversationID string) {
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

// InputChanged is called on every keystroke in the compose field. The first
// keystroke of a burst emits typing=true; each subsequent one only pushes the
// stop timer further out.
func (uc *PresenceSignaler) InputChanged(conversationID string) {
	uc.mu.Lock()
	alreadyTyping := uc.typingSent[conversationID]
	if !alreadyTyping {
		if allowed, _ := uc.limiter.Allow(conversationID, "typing"); !allowed {
			uc.mu.Unlock()
			return
		}
		uc.typingSent[conversationID] = true
	}

	if timer, ok := uc.timers[conversationID]; ok {
		timer.Stop()
	}
	uc.timers[conversationID] = time.AfterFunc(uc.debounce, func() {
		uc.stopTyping(conversationID)
	})
	uc.mu.Unlock()

	if !alreadyTyping {
		uc.channel.TypingIndicator(conversationID, true)
	}
}

// MessageSent ends the burst immediately: sending the composed message makes
// a lingering indicator wrong.
func (uc *PresenceSignaler) MessageSent(conversationID string) {
	uc.mu.Lock()
	if timer, ok := uc.timers[conversationID]; ok {
		timer.Stop()
		delete(uc.timers, conversationID)
	}
	uc.mu.Unlock()

	uc.stopTyping(conversationID)
}

// stopTyping emits typing=false, but only if a true was actually sent.
func (uc *PresenceSignaler) stopTyping(conversationID string) {
	uc.mu.Lock()
	wasTyping := uc.typingSent[conversationID]
	delete(uc.typingSent, conversationID)
	delete(uc.timers, conversationID)
	uc.mu.Unlock()

	if wasTyping {
		uc.channel.TypingIndicator(conversationID, false)
	}
}

// ApplyIncoming records a counterpart's typing signal. Signals carry the
// sender's clock; last-write-wins on that timestamp so a delayed "started"
// cannot resurrect an indicator already stopped. Stopped signals are kept as
// tombstones for exactly that comparison.
func (uc *PresenceSignaler) ApplyIncoming(signal entity.TypingSignal) {
	uc.mu.Lock()
	byUser, ok := uc.incoming[signal.ConversationID]
	if !ok {
		byUser = make(map[string]entity.TypingSignal)
		uc.incoming[signal.ConversationID] = byUser
	}

	if prev, ok := byUser[signal.UserID]; ok && signal.At.Before(prev.At) {
		uc.mu.Unlock()
		return
	}
	if signal.ExpiresAt.IsZero() {
		signal.ExpiresAt = signal.At.Add(uc.expiry)
	}
	byUser[signal.UserID] = signal
	uc.mu.Unlock()

	uc.notify(signal.ConversationID)
}

// TypingUsers returns the ids of counterparts currently typing in a
// conversation. Expired entries are pruned on read, so an indicator can never
// outlive its TTL even if the stop signal was lost.
func (uc *PresenceSignaler) TypingUsers(conversationID string) []string {
	now := time.Now()

	uc.mu.Lock()
	defer uc.mu.Unlock()

	byUser := uc.incoming[conversationID]
	users := make([]string, 0, len(byUser))
	for userID, signal := range byUser {
		if signal.Expired(now) {
			delete(byUser, userID)
			continue
		}
		if signal.Typing {
			users = append(users, userID)
		}
	}
	return users
}

// Reset drops all outbound typing state, for use on disconnect. The server
// expires any indicator we left behind.
func (uc *PresenceSignaler) Reset() {
	uc.mu.Lock()
	for id, timer := range uc.timers {
		timer.Stop()
		delete(uc.timers, id)
	}
	uc.typingSent = make(map[string]bool)
	uc.mu.Unlock()
}

// Close cancels outstanding timers and stops the limiter's cleanup routine.
// Idempotent.
func (uc *PresenceSignaler) Close() {
	uc.Reset()
	uc.limiter.StopCleanupRoutine()
}
