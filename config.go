package twitchlinkr

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"
	"nhooyr.io/websocket"
)

const (
	DefaultEventSubURL          = "wss://eventsub.wss.twitch.tv/ws"
	DefaultHeartbeatInterval    = 5 * time.Second
	DefaultStaleAfter           = 10 * time.Second
	DefaultMaxReconnectAttempts = 5
	DefaultReconnectDelay       = 5 * time.Second
	DefaultWelcomeTimeout       = 10 * time.Second
	DefaultReadLimit            = 1 << 20
	DefaultDedupWindow          = 10 * time.Minute
)

// WebSocketConfig configures a WebSocketClient. Zero values take the defaults
// above. A negative HeartbeatInterval disables the heartbeat and a negative
// DedupWindow disables notification de-duplication.
type WebSocketConfig struct {
	URL                  string
	HeartbeatInterval    time.Duration
	StaleAfter           time.Duration
	MaxReconnectAttempts int
	ReconnectDelay       time.Duration
	WelcomeTimeout       time.Duration
	ReadLimit            int64
	DedupWindow          time.Duration
	HTTPClient           *http.Client
	HTTPHeader           http.Header
}

func (c *WebSocketConfig) defaults() {
	if c.URL == "" {
		c.URL = DefaultEventSubURL
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.StaleAfter == 0 {
		c.StaleAfter = DefaultStaleAfter
	}
	if c.MaxReconnectAttempts <= 0 {
		c.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if c.ReconnectDelay == 0 {
		c.ReconnectDelay = DefaultReconnectDelay
	}
	if c.WelcomeTimeout == 0 {
		c.WelcomeTimeout = DefaultWelcomeTimeout
	}
	if c.ReadLimit == 0 {
		c.ReadLimit = DefaultReadLimit
	}
	if c.DedupWindow == 0 {
		c.DedupWindow = DefaultDedupWindow
	}
}

func (c *WebSocketConfig) dialOptions() *websocket.DialOptions {
	return &websocket.DialOptions{
		HTTPClient: c.HTTPClient,
		HTTPHeader: c.HTTPHeader,
	}
}

// WebSocketOption customizes a WebSocketClient.
type WebSocketOption func(*WebSocketClient)

// WithURL sets the URL used when Connect is called with an empty URL.
func WithURL(url string) WebSocketOption {
	return func(ws *WebSocketClient) { ws.config.URL = url }
}

// WithHeartbeat sets the ping interval and the age after which an unanswered
// ping marks the connection stale. A negative interval disables pinging.
func WithHeartbeat(interval, staleAfter time.Duration) WebSocketOption {
	return func(ws *WebSocketClient) {
		ws.config.HeartbeatInterval = interval
		ws.config.StaleAfter = staleAfter
	}
}

// WithReconnect sets the reconnect attempt budget and the wait between attempts.
func WithReconnect(maxAttempts int, delay time.Duration) WebSocketOption {
	return func(ws *WebSocketClient) {
		ws.config.MaxReconnectAttempts = maxAttempts
		ws.config.ReconnectDelay = delay
	}
}

// WithWelcomeTimeout bounds how long a fresh socket may wait for session_welcome.
func WithWelcomeTimeout(d time.Duration) WebSocketOption {
	return func(ws *WebSocketClient) { ws.config.WelcomeTimeout = d }
}

// WithReadLimit sets the maximum accepted frame size in bytes.
func WithReadLimit(n int64) WebSocketOption {
	return func(ws *WebSocketClient) { ws.config.ReadLimit = n }
}

// WithDedupWindow sets how long notification message ids are remembered.
func WithDedupWindow(d time.Duration) WebSocketOption {
	return func(ws *WebSocketClient) { ws.config.DedupWindow = d }
}

// WithDialHTTPClient sets the HTTP client used for the WebSocket handshake.
func WithDialHTTPClient(client *http.Client) WebSocketOption {
	return func(ws *WebSocketClient) { ws.config.HTTPClient = client }
}

// WithDialHeader adds headers to the WebSocket handshake request.
func WithDialHeader(h http.Header) WebSocketOption {
	return func(ws *WebSocketClient) { ws.config.HTTPHeader = h }
}

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) WebSocketOption {
	return func(ws *WebSocketClient) { ws.logger = logger }
}

// WithClock replaces the wall clock, mainly for tests.
func WithClock(clock clockwork.Clock) WebSocketOption {
	return func(ws *WebSocketClient) { ws.clock = clock }
}

// WithMetrics records connection metrics into m.
func WithMetrics(m *Metrics) WebSocketOption {
	return func(ws *WebSocketClient) { ws.metrics = m }
}
