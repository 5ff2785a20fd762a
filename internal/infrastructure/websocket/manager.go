package websocket

import (
	"context"
	"encoding/json"
	"math"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"

	"shopchat/internal/domain/entity"
	"shopchat/internal/domain/service"
	"shopchat/pkg/config"
	"shopchat/pkg/errors"
	"shopchat/pkg/logger"
)

const (
	writeWait    = 30 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = (pongWait * 9) / 10
	maxFrameSize = 8 << 20
)

// Manager owns the single persistent connection for a session: handshake,
// keepalive, reconnection with backoff, and credential refresh. At most one
// live transport exists at a time; reconnection always tears down any prior
// transport before dialing a new one.
type Manager struct {
	endpoint             string
	handshakeTimeout     time.Duration
	requestTimeout       time.Duration
	maxReconnectAttempts int
	reconnectBaseDelay   time.Duration
	reconnectMaxDelay    time.Duration
	typingExpiry         time.Duration

	tokens service.TokenSource
	dialer *websocket.Dialer

	mu               sync.RWMutex
	state            State
	lastErr          error
	conn             *websocket.Conn
	send             chan []byte
	done             chan struct{}
	token            string
	userID           string
	user             entity.Participant
	reconnectAttempt int
	closing          bool
	generation       int
	pending          map[string]chan Frame

	subMu     sync.Mutex
	nextSubID int
	stateSubs map[int]func(State, error)
	eventSubs map[int]func(Event)

	events   chan Event
	stop     chan struct{}
	stopOnce sync.Once
}

// NewManager creates a connection manager. The manager does not dial until
// Connect is called.
func NewManager(cfg *config.Config, tokens service.TokenSource) *Manager {
	m := &Manager{
		endpoint:             cfg.ChatServerURL,
		handshakeTimeout:     time.Duration(cfg.HandshakeTimeoutSec) * time.Second,
		requestTimeout:       time.Duration(cfg.RequestTimeoutSec) * time.Second,
		maxReconnectAttempts: cfg.MaxReconnectAttempts,
		reconnectBaseDelay:   time.Duration(cfg.ReconnectBaseDelayMs) * time.Millisecond,
		reconnectMaxDelay:    time.Duration(cfg.ReconnectMaxDelayMs) * time.Millisecond,
		typingExpiry:         time.Duration(cfg.TypingExpirySec) * time.Second,
		tokens:               tokens,
		dialer:               websocket.DefaultDialer,
		state:                StateDisconnected,
		pending:              make(map[string]chan Frame),
		stateSubs:            make(map[int]func(State, error)),
		eventSubs:            make(map[int]func(Event)),
		events:               make(chan Event, 256),
		stop:                 make(chan struct{}),
	}
	// Push events are fanned out off the read pump so a subscriber that
	// performs its own request never stalls frame intake.
	go m.dispatchLoop()
	return m
}

func (m *Manager) dispatchLoop() {
	for {
		var event Event
		select {
		case <-m.stop:
			return
		case event = <-m.events:
			select {
			case <-m.stop:
				return
			default:
			}
		}

		m.subMu.Lock()
		subs := make([]func(Event), 0, len(m.eventSubs))
		for _, fn := range m.eventSubs {
			subs = append(subs, fn)
		}
		m.subMu.Unlock()

		for _, fn := range subs {
			fn(event)
		}
	}
}

// Connect establishes and authenticates the channel. It is a no-op while a
// connection attempt is already in flight or established.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.state == StateConnecting || m.state == StateConnected {
		m.mu.Unlock()
		return nil
	}
	m.closing = false
	m.reconnectAttempt = 0
	m.mu.Unlock()

	token, ok := m.tokens.Token()
	if !ok {
		err := errors.AuthenticationFailed("no credential available from session store", nil)
		m.setState(StateError, err)
		return err
	}

	m.mu.Lock()
	m.token = token
	m.mu.Unlock()

	err := m.connectOnce(ctx)
	if err != nil && errors.Is(err, errors.CodeAuthenticationError) {
		if !m.refreshToken() {
			terminal := errors.AuthenticationFailed("credential rejected and no replacement available", err)
			m.setState(StateError, terminal)
			return terminal
		}
		err = m.connectOnce(ctx)
	}
	return err
}

// Close tears the connection down deliberately. No reconnection follows and
// the manager cannot be reused; event dispatch stops with it.
func (m *Manager) Close() {
	m.stopOnce.Do(func() { close(m.stop) })

	m.mu.Lock()
	m.closing = true
	conn := m.conn
	done := m.done
	m.conn = nil
	m.done = nil
	m.generation++
	m.mu.Unlock()

	if done != nil {
		close(done)
	}
	if conn != nil {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		conn.Close()
	}
	m.failPending()
	m.setState(StateDisconnected, nil)
}

func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

func (m *Manager) LastError() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastErr
}

func (m *Manager) Connected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state == StateConnected && m.conn != nil
}

// UserID returns the identity confirmed by the server at handshake.
func (m *Manager) UserID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.userID
}

func (m *Manager) CurrentUser() entity.Participant {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.user
}

func (m *Manager) ReconnectAttempt() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.reconnectAttempt
}

// SubscribeState registers a callback for connection state transitions.
func (m *Manager) SubscribeState(fn func(State, error)) *Subscription {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	m.nextSubID++
	id := m.nextSubID
	m.stateSubs[id] = fn
	return &Subscription{cancel: func() {
		m.subMu.Lock()
		defer m.subMu.Unlock()
		delete(m.stateSubs, id)
	}}
}

// Subscribe registers a callback for server push events.
func (m *Manager) Subscribe(fn func(Event)) *Subscription {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	m.nextSubID++
	id := m.nextSubID
	m.eventSubs[id] = fn
	return &Subscription{cancel: func() {
		m.subMu.Lock()
		defer m.subMu.Unlock()
		delete(m.eventSubs, id)
	}}
}

// connectOnce performs one dial + handshake cycle.
func (m *Manager) connectOnce(ctx context.Context) error {
	m.setState(StateConnecting, nil)
	m.teardownTransport()

	dialCtx, cancel := context.WithTimeout(ctx, m.handshakeTimeout)
	defer cancel()

	conn, _, err := m.dialer.DialContext(dialCtx, m.endpoint, nil)
	if err != nil {
		appErr := errors.ConnectionTimeout("failed to reach chat server", err)
		m.setState(StateDisconnected, appErr)
		return appErr
	}
	conn.SetReadLimit(maxFrameSize)

	m.mu.RLock()
	token := m.token
	m.mu.RUnlock()

	frame, err := newFrame(FrameTypeHandshake, HandshakeData{Token: token})
	if err != nil {
		conn.Close()
		appErr := errors.Internal("failed to encode handshake", err)
		m.setState(StateError, appErr)
		return appErr
	}
	raw, _ := json.Marshal(frame)
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		conn.Close()
		appErr := errors.ConnectionTimeout("failed to send handshake", err)
		m.setState(StateDisconnected, appErr)
		return appErr
	}

	ack, err := awaitHandshakeAck(conn, m.handshakeTimeout)
	if err != nil {
		conn.Close()
		if errors.Is(err, errors.CodeAuthenticationError) {
			m.setState(StateError, err)
		} else {
			m.setState(StateDisconnected, err)
		}
		return err
	}

	m.mu.Lock()
	m.conn = conn
	m.generation++
	generation := m.generation
	m.send = make(chan []byte, 256)
	m.done = make(chan struct{})
	m.userID = ack.UserID
	m.user = ack.User
	m.reconnectAttempt = 0
	send := m.send
	done := m.done
	m.mu.Unlock()

	m.setState(StateConnected, nil)
	go m.readPump(conn, generation)
	go m.writePump(conn, send, done)
	return nil
}

// awaitHandshakeAck reads frames until the server acknowledges or rejects the
// handshake, or the timeout elapses.
func awaitHandshakeAck(conn *websocket.Conn, timeout time.Duration) (*HandshakeAckData, error) {
	deadline := time.Now().Add(timeout)
	for {
		conn.SetReadDeadline(deadline)
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return nil, errors.ConnectionTimeout("no handshake acknowledgment from server", err)
		}

		var frame Frame
		if err := json.Unmarshal(raw, &frame); err != nil {
			continue
		}

		switch frame.Type {
		case FrameTypeHandshakeAck:
			var ack HandshakeAckData
			if err := json.Unmarshal(frame.Data, &ack); err != nil {
				return nil, errors.Internal("malformed handshake acknowledgment", err)
			}
			return &ack, nil

		case FrameTypeError:
			var errData ErrorData
			json.Unmarshal(frame.Data, &errData)
			return nil, errors.AuthenticationError(errData.Error, nil)
		}
	}
}

// teardownTransport closes any live transport without touching state.
func (m *Manager) teardownTransport() {
	m.mu.Lock()
	conn := m.conn
	done := m.done
	m.conn = nil
	m.done = nil
	m.generation++
	m.mu.Unlock()

	if done != nil {
		close(done)
	}
	if conn != nil {
		conn.Close()
	}
	m.failPending()
}

func (m *Manager) readPump(conn *websocket.Conn, generation int) {
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			m.handleDrop(generation, err)
			return
		}

		var frame Frame
		if err := json.Unmarshal(raw, &frame); err != nil {
			logger.Warn("Dropping malformed frame: %v", err)
			continue
		}

		if m.resolvePending(frame) {
			continue
		}

		switch frame.Type {
		case FrameTypePong:
			conn.SetReadDeadline(time.Now().Add(pongWait))

		case FrameTypeNewAccessToken:
			var tokenData TokenData
			if err := json.Unmarshal(frame.Data, &tokenData); err != nil || tokenData.Token == "" {
				logger.Warn("Ignoring malformed replacement credential frame")
				continue
			}
			m.mu.Lock()
			m.token = tokenData.Token
			m.mu.Unlock()
			logger.Info("Replacement credential installed without teardown")

		case FrameTypeDisconnect:
			var disc DisconnectData
			json.Unmarshal(frame.Data, &disc)
			if deliberateDisconnect(disc.Reason) {
				m.mu.Lock()
				m.closing = true
				m.mu.Unlock()
				m.setState(StateError, errors.ServerClosedSession("server closed the session: "+disc.Reason, nil))
			}
			conn.Close()

		default:
			m.dispatchFrame(frame)
		}
	}
}

func (m *Manager) writePump(conn *websocket.Conn, send chan []byte, done chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case <-done:
			return
		case raw := <-send:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleDrop runs when a read pump exits. Stale pumps from a replaced
// transport are ignored via the generation counter.
func (m *Manager) handleDrop(generation int, err error) {
	m.mu.Lock()
	if generation != m.generation {
		m.mu.Unlock()
		return
	}
	if m.done != nil {
		close(m.done)
	}
	m.conn = nil
	m.done = nil
	closing := m.closing
	terminal := m.state == StateError
	m.mu.Unlock()

	m.failPending()

	if closing || terminal {
		if !terminal {
			m.setState(StateDisconnected, nil)
		}
		return
	}

	m.setState(StateDisconnected, errors.ConnectionTimeout("transport dropped", err))
	go m.reconnectLoop()
}

// reconnectLoop retries with exponential backoff up to the configured bound.
func (m *Manager) reconnectLoop() {
	for {
		m.mu.Lock()
		if m.closing {
			m.mu.Unlock()
			return
		}
		m.reconnectAttempt++
		attempt := m.reconnectAttempt
		m.mu.Unlock()

		if attempt > m.maxReconnectAttempts {
			m.setState(StateError, errors.ConnectionTimeout("reconnect attempts exhausted", nil))
			return
		}

		delay := m.backoffDelay(attempt)
		logger.Warn("Reconnecting in %s (attempt %d/%d)", delay, attempt, m.maxReconnectAttempts)
		time.Sleep(delay)

		m.mu.RLock()
		closing := m.closing
		m.mu.RUnlock()
		if closing {
			return
		}

		err := m.connectOnce(context.Background())
		if err == nil {
			return
		}

		if errors.Is(err, errors.CodeAuthenticationError) {
			if !m.refreshToken() {
				m.setState(StateError, errors.AuthenticationFailed("credential rejected and no replacement available", err))
				return
			}
			// Retry promptly with the fresh credential.
		}
	}
}

func (m *Manager) backoffDelay(attempt int) time.Duration {
	base := float64(m.reconnectBaseDelay) * math.Pow(2, float64(attempt-1))
	jitter := base * 0.1 * rand.Float64()
	total := math.Min(float64(m.reconnectMaxDelay), base+jitter)
	return time.Duration(total)
}

// refreshToken pulls a candidate credential from the session store. It
// refuses to reuse the known-bad token or an already-expired replacement so
// the manager never loops on a dead credential.
func (m *Manager) refreshToken() bool {
	candidate, ok := m.tokens.Token()
	if !ok || candidate == "" {
		return false
	}

	m.mu.RLock()
	current := m.token
	m.mu.RUnlock()

	if candidate == current {
		return false
	}
	if tokenExpired(candidate) {
		return false
	}

	m.mu.Lock()
	m.token = candidate
	m.mu.Unlock()
	return true
}

// tokenExpired inspects the exp claim without verifying the signature;
// verification is the server's job. Opaque tokens pass through untouched.
func tokenExpired(token string) bool {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return exp.Before(time.Now())
}

// setState records a transition and notifies state subscribers.
func (m *Manager) setState(state State, err error) {
	m.mu.Lock()
	if m.state == state && err == nil {
		m.mu.Unlock()
		return
	}
	m.state = state
	if err != nil {
		m.lastErr = err
	}
	attempt := m.reconnectAttempt
	m.mu.Unlock()

	logger.LogConnectionState(string(state), attempt, err)

	m.subMu.Lock()
	subs := make([]func(State, error), 0, len(m.stateSubs))
	for _, fn := range m.stateSubs {
		subs = append(subs, fn)
	}
	m.subMu.Unlock()

	for _, fn := range subs {
		fn(state, err)
	}
}

// resolvePending routes acknowledgment frames to their waiting request.
func (m *Manager) resolvePending(frame Frame) bool {
	if frame.TempID == "" || !ackFrame(frame.Type) {
		return false
	}

	m.mu.Lock()
	ch, ok := m.pending[frame.TempID]
	if ok {
		delete(m.pending, frame.TempID)
	}
	m.mu.Unlock()

	if !ok {
		return false
	}
	ch <- frame
	return true
}

func ackFrame(frameType string) bool {
	switch frameType {
	case FrameTypeMessageAck, FrameTypeConversationList, FrameTypeMessageList,
		FrameTypeMediaUploaded, FrameTypeConversation, FrameTypeAck, FrameTypeError:
		return true
	}
	return false
}

// failPending drains all in-flight requests; each waiter observes the closed
// channel as a transport failure.
func (m *Manager) failPending() {
	m.mu.Lock()
	pending := m.pending
	m.pending = make(map[string]chan Frame)
	m.mu.Unlock()

	for _, ch := range pending {
		close(ch)
	}
}

// dispatchFrame decodes a push frame and fans it out to event subscribers.
func (m *Manager) dispatchFrame(frame Frame) {
	var event Event

	switch frame.Type {
	case FrameTypeMessage:
		var msg entity.Message
		if err := json.Unmarshal(frame.Data, &msg); err != nil {
			logger.Warn("Dropping malformed message push: %v", err)
			return
		}
		if msg.Nonce == "" {
			msg.Nonce = frame.TempID
		}
		event = Event{Type: EventNewMessage, Message: &msg}

	case FrameTypeNewConversation:
		var conv entity.Conversation
		if err := json.Unmarshal(frame.Data, &conv); err != nil {
			logger.Warn("Dropping malformed conversation push: %v", err)
			return
		}
		event = Event{Type: EventNewConversation, Conversation: &conv}

	case FrameTypeTyping:
		var data TypingData
		if err := json.Unmarshal(frame.Data, &data); err != nil {
			return
		}
		signal := typingSignal(data, m.typingExpiry)
		event = Event{Type: EventTyping, Typing: &signal}

	case FrameTypeReadReceipt:
		var data ReadReceiptData
		if err := json.Unmarshal(frame.Data, &data); err != nil {
			return
		}
		event = Event{Type: EventMessageRead, ReadReceipt: &data}

	case FrameTypeDeliveryReceipt:
		var data DeliveryReceiptData
		if err := json.Unmarshal(frame.Data, &data); err != nil {
			return
		}
		event = Event{Type: EventMessageDelivered, Delivery: &data}

	case FrameTypeMessageDeleted:
		var data MessageDeletedData
		if err := json.Unmarshal(frame.Data, &data); err != nil {
			return
		}
		event = Event{Type: EventMessageDeleted, Deleted: &data}

	case FrameTypeUserPresence:
		var data PresenceData
		if err := json.Unmarshal(frame.Data, &data); err != nil {
			return
		}
		event = Event{Type: EventPresence, Presence: &data}

	default:
		logger.Debug("Unknown frame type '%s'", frame.Type)
		return
	}

	select {
	case m.events <- event:
	default:
		logger.Warn("Event queue full, dropping %s event", event.Type)
	}
}

// notConnectedErr is the transport-level failure surfaced when an operation
// is attempted without an established channel.
func notConnectedErr() error {
	return errors.New("NOT_CONNECTED", "chat connection is not established", http.StatusServiceUnavailable, nil)
}
