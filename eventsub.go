package twitchlinkr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"
	"nhooyr.io/websocket"
)

// ConnectionState is the lifecycle state of a WebSocketClient.
type ConnectionState string

const (
	StateClosed     ConnectionState = "closed"
	StateConnecting ConnectionState = "connecting"
	StateOpen       ConnectionState = "open"
)

var (
	// ErrRetriesExhausted is reported when every connect attempt in the budget failed.
	ErrRetriesExhausted = errors.New("eventsub: connect attempts exhausted")
	// ErrWelcomeTimeout is returned when a socket opened but no session_welcome arrived.
	ErrWelcomeTimeout = errors.New("eventsub: timed out waiting for session_welcome")

	// ErrClosed is returned when the client was disconnected while connecting.
	ErrClosed = errors.New("eventsub: client closed")
)

// ============================================================================
// socket
// ============================================================================

// socket is one transport instance. Its receive and heartbeat goroutines run
// in one errgroup; done is closed once both have returned.
type socket struct {
	conn   *websocket.Conn
	url    string
	cancel context.CancelFunc

	welcomed    chan struct{}
	welcomeOnce sync.Once
	done        chan struct{}
	err         error

	closeOnce sync.Once
	closeErr  error
}

func (s *socket) markWelcomed() {
	s.welcomeOnce.Do(func() { close(s.welcomed) })
}

func (s *socket) isWelcomed() bool {
	select {
	case <-s.welcomed:
		return true
	default:
		return false
	}
}

// close sends a close frame before cancelling the socket context so the peer
// sees the given status code rather than an aborted read.
func (s *socket) close(code websocket.StatusCode, reason string) error {
	s.closeOnce.Do(func() {
		s.closeErr = s.conn.Close(code, reason)
		s.cancel()
	})
	return s.closeErr
}

// ============================================================================
// WebSocketClient
// ============================================================================

// WebSocketClient holds one EventSub WebSocket session: it dials, waits for
// session_welcome, keeps the socket alive with a heartbeat and follows
// server-directed and self-initiated reconnects within a bounded budget.
//
// Handlers run on the client's own goroutines. Notifications are delivered
// in wire order on the receive goroutine, so a slow handler delays the next frame.
type WebSocketClient struct {
	config     *WebSocketConfig
	clock      clockwork.Clock
	logger     *slog.Logger
	metrics    *Metrics
	dedup      *MessageDeduper
	dispatcher *eventDispatcher

	mu           sync.Mutex
	state        ConnectionState
	gen          uint64
	sessionID    string
	url          string
	sock         *socket
	pings        pingTimes
	reconnecting bool
	lifeCtx      context.Context
	lifeCancel   context.CancelFunc
}

// NewWebSocketClient creates a client in the Closed state.
func NewWebSocketClient(opts ...WebSocketOption) *WebSocketClient {
	ws := &WebSocketClient{
		config:     &WebSocketConfig{},
		dispatcher: newEventDispatcher(),
		state:      StateClosed,
	}
	for _, opt := range opts {
		opt(ws)
	}
	ws.config.defaults()
	if ws.clock == nil {
		ws.clock = clockwork.NewRealClock()
	}
	if ws.logger == nil {
		ws.logger = slog.Default()
	}
	if ws.config.DedupWindow > 0 {
		ws.dedup = NewMessageDeduper(ws.config.DedupWindow, ws.clock)
	}
	return ws
}

// OnNotification registers a handler for every notification.
func (ws *WebSocketClient) OnNotification(h NotificationHandler) {
	ws.dispatcher.addNotification(h)
}

// On registers a handler for notifications of one subscription type,
// e.g. "channel.chat.message".
func (ws *WebSocketClient) On(subscriptionType string, h NotificationHandler) {
	ws.dispatcher.addSubscription(subscriptionType, h)
}

// OnWelcome registers a handler called each time a socket is welcomed.
func (ws *WebSocketClient) OnWelcome(h func(Session)) {
	ws.dispatcher.mu.Lock()
	ws.dispatcher.onWelcome = append(ws.dispatcher.onWelcome, h)
	ws.dispatcher.mu.Unlock()
}

// OnStateChange registers a handler for lifecycle transitions.
func (ws *WebSocketClient) OnStateChange(h func(ConnectionState)) {
	ws.dispatcher.mu.Lock()
	ws.dispatcher.onStateChange = append(ws.dispatcher.onStateChange, h)
	ws.dispatcher.mu.Unlock()
}

// OnReconnecting registers a handler called before every reconnect attempt.
func (ws *WebSocketClient) OnReconnecting(h func(attempt int, url string)) {
	ws.dispatcher.mu.Lock()
	ws.dispatcher.onReconnecting = append(ws.dispatcher.onReconnecting, h)
	ws.dispatcher.mu.Unlock()
}

// OnRevocation registers a handler for session_revocation. The client is
// already Closed when it runs.
func (ws *WebSocketClient) OnRevocation(h func(*ServiceMessage)) {
	ws.dispatcher.mu.Lock()
	ws.dispatcher.onRevocation = append(ws.dispatcher.onRevocation, h)
	ws.dispatcher.mu.Unlock()
}

// OnFatal registers a handler for unrecoverable failures, such as an
// exhausted reconnect budget. The client is Closed when it runs.
func (ws *WebSocketClient) OnFatal(h func(error)) {
	ws.dispatcher.mu.Lock()
	ws.dispatcher.onFatal = append(ws.dispatcher.onFatal, h)
	ws.dispatcher.mu.Unlock()
}

// State returns the current connection state.
func (ws *WebSocketClient) State() ConnectionState {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	return ws.state
}

// SessionID returns the id assigned by the last session_welcome, or "".
func (ws *WebSocketClient) SessionID() string {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	return ws.sessionID
}

// URL returns the URL of the current or last socket.
func (ws *WebSocketClient) URL() string {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	return ws.url
}

// Transport returns the descriptor to register subscriptions against this
// session. SessionID is empty until the session was welcomed.
func (ws *WebSocketClient) Transport() Transport {
	return Transport{Method: TransportWebSocket, SessionID: ws.SessionID()}
}

// Connect dials url (or the configured URL when empty) and blocks until the
// session is welcomed. Failed attempts are retried within the reconnect
// budget; when it runs out Connect returns ErrRetriesExhausted and the client
// stays Closed. ctx bounds the whole session: cancelling it disconnects.
// Calling Connect on a client that is not Closed is a no-op.
func (ws *WebSocketClient) Connect(ctx context.Context, url string) error {
	ws.mu.Lock()
	if ws.state != StateClosed {
		ws.mu.Unlock()
		return nil
	}
	if url == "" {
		url = ws.config.URL
	}
	lifeCtx, cancel := context.WithCancel(ctx)
	ws.gen++
	gen := ws.gen
	ws.lifeCtx = lifeCtx
	ws.lifeCancel = cancel
	ws.url = url
	ws.sessionID = ""
	ws.reconnecting = false
	ws.state = StateConnecting
	ws.mu.Unlock()
	ws.notifyState(StateConnecting)

	if err := ws.connectWithBudget(lifeCtx, gen, url, reasonInitial); err != nil {
		ws.shutdown(gen, "connect failed")
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}

	context.AfterFunc(lifeCtx, func() {
		ws.shutdown(gen, "context done")
	})
	return nil
}

// Disconnect closes the session with a normal closure and stops every
// goroutine and pending reconnect. It is safe to call more than once and
// from any goroutine, including handlers.
func (ws *WebSocketClient) Disconnect() error {
	ws.mu.Lock()
	gen := ws.gen
	ws.mu.Unlock()

	_, err := ws.shutdown(gen, "client disconnect")
	return err
}

// shutdown moves the lifetime identified by gen to Closed. It reports false
// when that lifetime already ended.
func (ws *WebSocketClient) shutdown(gen uint64, reason string) (bool, error) {
	ws.mu.Lock()
	if ws.gen != gen || ws.state == StateClosed {
		ws.mu.Unlock()
		return false, nil
	}
	ws.gen++
	s := ws.sock
	cancel := ws.lifeCancel
	ws.sock = nil
	ws.lifeCancel = nil
	ws.state = StateClosed
	ws.sessionID = ""
	ws.reconnecting = false
	ws.pings.reset()
	ws.mu.Unlock()

	var err error
	if s != nil {
		err = s.close(websocket.StatusNormalClosure, reason)
	}
	if cancel != nil {
		cancel()
	}

	ws.logger.Info("eventsub session closed", "reason", reason)
	ws.notifyState(StateClosed)
	if err != nil && websocket.CloseStatus(err) == -1 {
		return true, fmt.Errorf("close websocket: %w", err)
	}
	return true, nil
}

// connectOnce opens one socket and waits for its welcome.
func (ws *WebSocketClient) connectOnce(ctx context.Context, gen uint64, url string) error {
	if !ws.setState(gen, StateConnecting) {
		return ErrClosed
	}

	dialCtx, cancel := context.WithTimeout(ctx, ws.config.WelcomeTimeout)
	conn, _, err := websocket.Dial(dialCtx, url, ws.config.dialOptions())
	cancel()
	if err != nil {
		return fmt.Errorf("dial %s: %w", url, err)
	}
	conn.SetReadLimit(ws.config.ReadLimit)

	sockCtx, sockCancel := context.WithCancel(context.Background())
	s := &socket{
		conn:     conn,
		url:      url,
		cancel:   sockCancel,
		welcomed: make(chan struct{}),
		done:     make(chan struct{}),
	}

	ws.mu.Lock()
	if ws.gen != gen {
		ws.mu.Unlock()
		s.close(websocket.StatusNormalClosure, "client disconnect")
		return ErrClosed
	}
	ws.sock = s
	ws.url = url
	ws.pings.reset()
	ws.mu.Unlock()

	ws.logger.Debug("eventsub socket open", "url", url)
	ws.run(sockCtx, s)

	timer := ws.clock.NewTimer(ws.config.WelcomeTimeout)
	defer timer.Stop()

	select {
	case <-s.welcomed:
		return nil
	case <-s.done:
		if s.isWelcomed() {
			// Welcomed then lost: the receive loop already handed over to a new reconnect.
			return nil
		}
		ws.dropSocket(s, "session ended")
		if s.err != nil {
			return fmt.Errorf("socket closed before welcome: %w", s.err)
		}
		return errors.New("socket closed before welcome")
	case <-timer.Chan():
		if s.isWelcomed() {
			return nil
		}
		ws.dropSocket(s, "welcome timeout")
		return ErrWelcomeTimeout
	case <-ctx.Done():
		ws.dropSocket(s, "client disconnect")
		return ctx.Err()
	}
}

func (ws *WebSocketClient) run(ctx context.Context, s *socket) {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return ws.receiveLoop(gctx, s) })
	g.Go(func() error { return ws.heartbeatLoop(gctx, s) })

	go func() {
		s.err = g.Wait()
		s.cancel()
		close(s.done)
		// No-op unless s is still the current socket of an Open session.
		ws.triggerReconnect(s, "", reasonReadFailed)
	}()
}

// dropSocket detaches s from the client, if it is still current, and closes it.
func (ws *WebSocketClient) dropSocket(s *socket, reason string) {
	if s == nil {
		return
	}
	ws.mu.Lock()
	if ws.sock == s {
		ws.sock = nil
		ws.pings.reset()
	}
	ws.mu.Unlock()
	s.close(websocket.StatusNormalClosure, reason)
}

func (ws *WebSocketClient) currentSocket() *socket {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	return ws.sock
}

func (ws *WebSocketClient) setState(gen uint64, state ConnectionState) bool {
	ws.mu.Lock()
	if ws.gen != gen {
		ws.mu.Unlock()
		return false
	}
	changed := ws.state != state
	ws.state = state
	ws.mu.Unlock()

	if changed {
		ws.notifyState(state)
	}
	return true
}

func (ws *WebSocketClient) notifyState(state ConnectionState) {
	ws.metrics.setState(state)
	ws.dispatcher.emitStateChange(state)
}

// ============================================================================
// Receive path
// ============================================================================

// receiveLoop reads frames in order until the socket fails or is cancelled.
// It never retries on its own; a read failure on the current socket hands
// over to the reconnect coordinator.
func (ws *WebSocketClient) receiveLoop(ctx context.Context, s *socket) error {
	for {
		typ, data, err := s.conn.Read(ctx)
		if err != nil {
			if ctx.Err() == nil {
				ws.logger.Warn("eventsub read failed", "url", s.url, "error", err)
			}
			ws.triggerReconnect(s, "", reasonReadFailed)
			return fmt.Errorf("read: %w", err)
		}

		if isPong(data) {
			ws.handlePong(s)
			continue
		}
		if typ != websocket.MessageText {
			continue
		}

		env, err := Decode(data)
		if err != nil {
			ws.metrics.decodeError()
			ws.logger.Warn("eventsub dropping undecodable frame", "error", err, "size", len(data))
			continue
		}
		ws.metrics.frameReceived(env.Type())

		switch msg := env.(type) {
		case *NotificationMessage:
			ws.handleNotification(msg)
		case *ServiceMessage:
			ws.handleServiceMessage(s, msg)
		}

		if ctx.Err() != nil {
			return nil
		}
	}
}

func (ws *WebSocketClient) handleNotification(msg *NotificationMessage) {
	if ws.dedup.Seen(msg.ID()) {
		ws.metrics.duplicate()
		ws.logger.Debug("eventsub duplicate notification dropped", "message_id", msg.ID())
		return
	}
	ws.dispatcher.dispatchNotification(msg)
}

// handleServiceMessage applies a session_* message to the connection state.
func (ws *WebSocketClient) handleServiceMessage(s *socket, msg *ServiceMessage) {
	switch msg.Type() {
	case MessageTypeWelcome:
		session := msg.Payload.Session

		ws.mu.Lock()
		if ws.sock != s {
			ws.mu.Unlock()
			return
		}
		ws.sessionID = session.ID
		changed := ws.state != StateOpen
		ws.state = StateOpen
		// Welcome ends any reconnect in flight.
		ws.reconnecting = false
		ws.mu.Unlock()

		s.markWelcomed()
		ws.logger.Info("eventsub session welcomed",
			"session_id", session.ID,
			"keepalive_timeout_seconds", session.KeepaliveTimeoutSeconds,
			"url", s.url)
		if changed {
			ws.notifyState(StateOpen)
		}
		ws.dispatcher.emitWelcome(session)

	case MessageTypeKeepalive:
		ws.logger.Debug("eventsub keepalive", "message_id", msg.ID())

	case MessageTypeReconnect:
		url := msg.Payload.Session.ReconnectURL
		ws.logger.Info("eventsub server requested reconnect", "reconnect_url", url)
		if url == "" {
			ws.logger.Warn("eventsub session_reconnect without reconnect_url, reusing current url", "url", s.url)
		}
		ws.triggerReconnect(s, url, reasonServerRequested)

	case MessageTypeRevocation:
		ws.mu.Lock()
		current := ws.sock == s
		gen := ws.gen
		ws.mu.Unlock()
		if !current {
			return
		}

		ws.logger.Warn("eventsub session revoked", "session_id", msg.Payload.Session.ID, "status", msg.Payload.Session.Status)
		ws.shutdown(gen, "session revoked")
		ws.dispatcher.emitRevocation(msg)

	default:
		ws.logger.Debug("eventsub ignoring service message", "message_type", msg.Type())
	}
}
