package twitchlinkr

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
)

// ============================================================================
// Webhook Headers
// ============================================================================

const (
	HeaderMessageID           = "Twitch-Eventsub-Message-Id"
	HeaderMessageRetry        = "Twitch-Eventsub-Message-Retry"
	HeaderMessageType         = "Twitch-Eventsub-Message-Type"
	HeaderMessageSignature    = "Twitch-Eventsub-Message-Signature"
	HeaderMessageTimestamp    = "Twitch-Eventsub-Message-Timestamp"
	HeaderSubscriptionType    = "Twitch-Eventsub-Subscription-Type"
	HeaderSubscriptionVersion = "Twitch-Eventsub-Subscription-Version"
)

// Webhook message types, as sent in HeaderMessageType.
const (
	WebhookMessageNotification = "notification"
	WebhookMessageVerification = "webhook_callback_verification"
	WebhookMessageRevocation   = "revocation"
)

// DefaultWebhookMaxAge is the oldest message timestamp a WebhookHandler accepts.
const DefaultWebhookMaxAge = 10 * time.Minute

// maxWebhookBody bounds the request body read by HTTPHandler.
const maxWebhookBody = 1 << 20

// ============================================================================
// Standalone Functions
// ============================================================================

// VerifyWebhookSignature checks an EventSub webhook signature: HMAC-SHA256
// over message id, timestamp and raw body, keyed with the subscription secret.
// The "sha256=" prefix is optional. Uses constant-time comparison.
func VerifyWebhookSignature(messageID, timestamp string, body []byte, signature, secret string) bool {
	if messageID == "" || timestamp == "" || signature == "" || secret == "" {
		return false
	}

	sig := strings.TrimPrefix(signature, "sha256=")
	if sig == "" {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(messageID))
	mac.Write([]byte(timestamp))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	if len(sig) != len(expected) {
		return false
	}

	return subtle.ConstantTimeCompare([]byte(sig), []byte(expected)) == 1
}

// ============================================================================
// WebhookHandler
// ============================================================================

type webhookBody struct {
	Challenge    string          `json:"challenge"`
	Subscription Subscription    `json:"subscription"`
	Event        json.RawMessage `json:"event"`
}

// WebhookHandler verifies and dispatches EventSub webhook deliveries.
// Notifications reach handlers as *NotificationMessage, the same shape the
// WebSocket transport delivers.
type WebhookHandler struct {
	secret     string
	maxAge     time.Duration
	clock      clockwork.Clock
	logger     *slog.Logger
	dedup      *MessageDeduper
	dispatcher *eventDispatcher
}

type WebhookOption func(*WebhookHandler)

// WithWebhookMaxAge sets the oldest accepted message timestamp.
func WithWebhookMaxAge(d time.Duration) WebhookOption {
	return func(h *WebhookHandler) { h.maxAge = d }
}

func WithWebhookClock(clock clockwork.Clock) WebhookOption {
	return func(h *WebhookHandler) { h.clock = clock }
}

func WithWebhookLogger(logger *slog.Logger) WebhookOption {
	return func(h *WebhookHandler) { h.logger = logger }
}

// NewWebhookHandler creates a handler for subscriptions created with secret.
func NewWebhookHandler(secret string, opts ...WebhookOption) (*WebhookHandler, error) {
	if secret == "" {
		return nil, errors.New("webhook secret is required")
	}
	h := &WebhookHandler{
		secret:     secret,
		maxAge:     DefaultWebhookMaxAge,
		dispatcher: newEventDispatcher(),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.clock == nil {
		h.clock = clockwork.NewRealClock()
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	h.dedup = NewMessageDeduper(h.maxAge, h.clock)
	return h, nil
}

func (h *WebhookHandler) OnNotification(fn NotificationHandler) {
	h.dispatcher.addNotification(fn)
}

func (h *WebhookHandler) On(subscriptionType string, fn NotificationHandler) {
	h.dispatcher.addSubscription(subscriptionType, fn)
}

// OnRevocation registers a handler for revoked subscriptions.
func (h *WebhookHandler) OnRevocation(fn func(Subscription)) {
	h.dispatcher.mu.Lock()
	h.dispatcher.onSubRevoked = append(h.dispatcher.onSubRevoked, fn)
	h.dispatcher.mu.Unlock()
}

// Handle processes one delivery and returns the status code and the
// text/plain response body for the caller to write. Verified duplicates are
// acknowledged with 204 and not dispatched again.
func (h *WebhookHandler) Handle(header http.Header, body []byte) (int, string) {
	messageID := header.Get(HeaderMessageID)
	timestamp := header.Get(HeaderMessageTimestamp)

	if !VerifyWebhookSignature(messageID, timestamp, body, header.Get(HeaderMessageSignature), h.secret) {
		return http.StatusForbidden, "invalid signature"
	}

	sentAt, err := time.Parse(time.RFC3339Nano, timestamp)
	if err != nil {
		return http.StatusBadRequest, "invalid timestamp"
	}
	if h.clock.Now().Sub(sentAt) > h.maxAge {
		h.logger.Warn("eventsub webhook message too old", "message_id", messageID, "timestamp", timestamp)
		return http.StatusForbidden, "message too old"
	}

	var payload webhookBody
	if err := json.Unmarshal(body, &payload); err != nil {
		return http.StatusBadRequest, "invalid body"
	}

	messageType := header.Get(HeaderMessageType)
	switch messageType {
	case WebhookMessageVerification:
		h.logger.Info("eventsub webhook verified", "subscription_id", payload.Subscription.ID, "type", payload.Subscription.Type)
		return http.StatusOK, payload.Challenge

	case WebhookMessageNotification:
		if h.dedup.Seen(messageID) {
			h.logger.Debug("eventsub webhook duplicate dropped", "message_id", messageID)
			return http.StatusNoContent, ""
		}
		msg := &NotificationMessage{
			Metadata: NotificationMetadata{
				Metadata: Metadata{
					MessageID:        messageID,
					MessageType:      MessageTypeNotification,
					MessageTimestamp: sentAt,
				},
				SubscriptionType:    header.Get(HeaderSubscriptionType),
				SubscriptionVersion: header.Get(HeaderSubscriptionVersion),
			},
			Payload: NotificationPayload{
				Subscription: payload.Subscription,
				Event:        payload.Event,
			},
		}
		if msg.Metadata.SubscriptionType == "" {
			msg.Metadata.SubscriptionType = payload.Subscription.Type
		}
		h.dispatcher.dispatchNotification(msg)
		return http.StatusNoContent, ""

	case WebhookMessageRevocation:
		if h.dedup.Seen(messageID) {
			return http.StatusNoContent, ""
		}
		h.logger.Warn("eventsub subscription revoked",
			"subscription_id", payload.Subscription.ID, "type", payload.Subscription.Type, "status", payload.Subscription.Status)
		h.dispatcher.emitSubscriptionRevoked(payload.Subscription)
		return http.StatusNoContent, ""

	default:
		h.logger.Debug("eventsub webhook unknown message type", "message_type", messageType)
		return http.StatusNoContent, ""
	}
}

// HTTPHandler returns an http.Handler that processes webhook requests.
//
// Example:
//
//	wh, _ := twitchlinkr.NewWebhookHandler("secret")
//	http.Handle("/eventsub", wh.HTTPHandler())
func (h *WebhookHandler) HTTPHandler() http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(rw, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
		if err != nil {
			http.Error(rw, "failed to read body", http.StatusBadRequest)
			return
		}
		defer r.Body.Close()

		statusCode, text := h.Handle(r.Header, body)

		rw.Header().Set("Content-Type", "text/plain; charset=utf-8")
		rw.WriteHeader(statusCode)
		if text != "" {
			io.WriteString(rw, text)
		}
	})
}

// HTTPHandlerFunc returns an http.HandlerFunc for convenience.
func (h *WebhookHandler) HTTPHandlerFunc() http.HandlerFunc {
	return h.HTTPHandler().ServeHTTP
}
