package twitchlinkr

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

// ============================================================================
// Test Helpers
// ============================================================================

const testSecret = "test-webhook-secret-key"

var testWebhookNow = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

func makeTestSignature(messageID, timestamp string, body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(messageID))
	mac.Write([]byte(timestamp))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func makeTestWebhookBody(extra map[string]any) []byte {
	body := map[string]any{
		"subscription": map[string]any{
			"id":        "sub-001",
			"status":    "enabled",
			"type":      "channel.follow",
			"version":   "2",
			"cost":      0,
			"condition": map[string]string{"broadcaster_user_id": "1234"},
			"transport": map[string]string{"method": "webhook", "callback": "https://example.com/eventsub"},
		},
	}
	for k, v := range extra {
		body[k] = v
	}
	b, _ := json.Marshal(body)
	return b
}

func makeTestHeader(messageType, messageID string, sentAt time.Time, body []byte) http.Header {
	ts := sentAt.Format(time.RFC3339Nano)
	h := http.Header{}
	h.Set(HeaderMessageID, messageID)
	h.Set(HeaderMessageType, messageType)
	h.Set(HeaderMessageTimestamp, ts)
	h.Set(HeaderMessageSignature, makeTestSignature(messageID, ts, body, testSecret))
	h.Set(HeaderSubscriptionType, "channel.follow")
	h.Set(HeaderSubscriptionVersion, "2")
	return h
}

func newTestWebhook(t *testing.T) *WebhookHandler {
	t.Helper()
	wh, err := NewWebhookHandler(testSecret, WithWebhookClock(clockwork.NewFakeClockAt(testWebhookNow)))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return wh
}

// ============================================================================
// VerifyWebhookSignature
// ============================================================================

func TestVerifyWebhookSignature(t *testing.T) {
	body := makeTestWebhookBody(nil)
	ts := testWebhookNow.Format(time.RFC3339Nano)

	t.Run("valid signature", func(t *testing.T) {
		sig := makeTestSignature("msg-001", ts, body, testSecret)
		if !VerifyWebhookSignature("msg-001", ts, body, sig, testSecret) {
			t.Fatal("expected valid signature")
		}
	})

	t.Run("valid without prefix", func(t *testing.T) {
		sig := strings.TrimPrefix(makeTestSignature("msg-001", ts, body, testSecret), "sha256=")
		if !VerifyWebhookSignature("msg-001", ts, body, sig, testSecret) {
			t.Fatal("expected valid signature without prefix")
		}
	})

	t.Run("wrong signature", func(t *testing.T) {
		sig := "sha256=" + strings.Repeat("0", 64)
		if VerifyWebhookSignature("msg-001", ts, body, sig, testSecret) {
			t.Fatal("expected invalid signature")
		}
	})

	t.Run("wrong secret", func(t *testing.T) {
		sig := makeTestSignature("msg-001", ts, body, "wrong-secret")
		if VerifyWebhookSignature("msg-001", ts, body, sig, testSecret) {
			t.Fatal("expected invalid signature with wrong secret")
		}
	})

	t.Run("message id is signed", func(t *testing.T) {
		sig := makeTestSignature("msg-001", ts, body, testSecret)
		if VerifyWebhookSignature("msg-002", ts, body, sig, testSecret) {
			t.Fatal("expected invalid for a different message id")
		}
	})

	t.Run("tampered body", func(t *testing.T) {
		sig := makeTestSignature("msg-001", ts, body, testSecret)
		if VerifyWebhookSignature("msg-001", ts, append(body, 'x'), sig, testSecret) {
			t.Fatal("expected invalid for tampered body")
		}
	})

	t.Run("empty signature", func(t *testing.T) {
		if VerifyWebhookSignature("msg-001", ts, body, "", testSecret) {
			t.Fatal("expected false for empty signature")
		}
	})

	t.Run("empty secret", func(t *testing.T) {
		if VerifyWebhookSignature("msg-001", ts, body, "sha256=abc", "") {
			t.Fatal("expected false for empty secret")
		}
	})

	t.Run("sha256= prefix only", func(t *testing.T) {
		if VerifyWebhookSignature("msg-001", ts, body, "sha256=", testSecret) {
			t.Fatal("expected false for sha256= prefix only")
		}
	})
}

// ============================================================================
// NewWebhookHandler
// ============================================================================

func TestNewWebhookHandler(t *testing.T) {
	t.Run("empty secret", func(t *testing.T) {
		if _, err := NewWebhookHandler(""); err == nil {
			t.Fatal("expected error for empty secret")
		}
	})

	t.Run("valid creation", func(t *testing.T) {
		wh, err := NewWebhookHandler(testSecret)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if wh == nil {
			t.Fatal("expected non-nil handler")
		}
	})
}

// ============================================================================
// WebhookHandler.Handle
// ============================================================================

func TestWebhookHandle(t *testing.T) {
	t.Run("invalid signature", func(t *testing.T) {
		wh := newTestWebhook(t)
		body := makeTestWebhookBody(nil)
		h := makeTestHeader(WebhookMessageNotification, "msg-001", testWebhookNow, body)
		h.Set(HeaderMessageSignature, "sha256=bad")
		status, _ := wh.Handle(h, body)
		if status != http.StatusForbidden {
			t.Fatalf("expected 403, got %d", status)
		}
	})

	t.Run("callback verification echoes challenge", func(t *testing.T) {
		wh := newTestWebhook(t)
		body := makeTestWebhookBody(map[string]any{"challenge": "pogchamp-kappa-360noscope"})
		status, text := wh.Handle(makeTestHeader(WebhookMessageVerification, "msg-001", testWebhookNow, body), body)
		if status != http.StatusOK {
			t.Fatalf("expected 200, got %d", status)
		}
		if text != "pogchamp-kappa-360noscope" {
			t.Fatalf("unexpected challenge response: %q", text)
		}
	})

	t.Run("notification dispatched", func(t *testing.T) {
		wh := newTestWebhook(t)
		var all, typed *NotificationMessage
		wh.OnNotification(func(msg *NotificationMessage) { all = msg })
		wh.On("channel.follow", func(msg *NotificationMessage) { typed = msg })
		wh.On("channel.raid", func(msg *NotificationMessage) { t.Fatal("wrong subscription type dispatched") })

		body := makeTestWebhookBody(map[string]any{"event": map[string]string{"user_name": "viewer"}})
		status, _ := wh.Handle(makeTestHeader(WebhookMessageNotification, "msg-001", testWebhookNow, body), body)
		if status != http.StatusNoContent {
			t.Fatalf("expected 204, got %d", status)
		}
		if all == nil || typed != all {
			t.Fatal("handlers were not called with the same message")
		}
		if all.ID() != "msg-001" || all.Type() != MessageTypeNotification {
			t.Fatalf("unexpected metadata: %+v", all.Metadata)
		}

		var ev struct {
			UserName string `json:"user_name"`
		}
		if err := all.Payload.DecodeEvent(&ev); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if ev.UserName != "viewer" {
			t.Fatalf("unexpected event: %+v", ev)
		}
	})

	t.Run("duplicate notification acknowledged once", func(t *testing.T) {
		wh := newTestWebhook(t)
		calls := 0
		wh.OnNotification(func(*NotificationMessage) { calls++ })

		body := makeTestWebhookBody(map[string]any{"event": map[string]string{}})
		h := makeTestHeader(WebhookMessageNotification, "msg-001", testWebhookNow, body)
		for i := 0; i < 3; i++ {
			if status, _ := wh.Handle(h, body); status != http.StatusNoContent {
				t.Fatalf("expected 204, got %d", status)
			}
		}
		if calls != 1 {
			t.Fatalf("expected 1 dispatch, got %d", calls)
		}
	})

	t.Run("stale message rejected", func(t *testing.T) {
		wh := newTestWebhook(t)
		body := makeTestWebhookBody(nil)
		h := makeTestHeader(WebhookMessageNotification, "msg-001", testWebhookNow.Add(-11*time.Minute), body)
		if status, _ := wh.Handle(h, body); status != http.StatusForbidden {
			t.Fatalf("expected 403, got %d", status)
		}
	})

	t.Run("revocation", func(t *testing.T) {
		wh := newTestWebhook(t)
		var revoked Subscription
		wh.OnRevocation(func(sub Subscription) { revoked = sub })

		body := makeTestWebhookBody(nil)
		status, _ := wh.Handle(makeTestHeader(WebhookMessageRevocation, "msg-001", testWebhookNow, body), body)
		if status != http.StatusNoContent {
			t.Fatalf("expected 204, got %d", status)
		}
		if revoked.ID != "sub-001" || revoked.Transport.Method != TransportWebhook {
			t.Fatalf("unexpected revoked subscription: %+v", revoked)
		}
	})

	t.Run("malformed body", func(t *testing.T) {
		wh := newTestWebhook(t)
		body := []byte("not json")
		status, _ := wh.Handle(makeTestHeader(WebhookMessageNotification, "msg-001", testWebhookNow, body), body)
		if status != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", status)
		}
	})
}

// ============================================================================
// WebhookHandler.HTTPHandler
// ============================================================================

func TestWebhookHTTPHandler(t *testing.T) {
	t.Run("GET returns 405", func(t *testing.T) {
		wh := newTestWebhook(t)
		req := httptest.NewRequest(http.MethodGet, "/eventsub", nil)
		w := httptest.NewRecorder()
		wh.HTTPHandler().ServeHTTP(w, req)
		if w.Code != http.StatusMethodNotAllowed {
			t.Fatalf("expected 405, got %d", w.Code)
		}
	})

	t.Run("challenge returned as text", func(t *testing.T) {
		wh := newTestWebhook(t)
		body := makeTestWebhookBody(map[string]any{"challenge": "abc123"})
		req := httptest.NewRequest(http.MethodPost, "/eventsub", strings.NewReader(string(body)))
		for k, v := range makeTestHeader(WebhookMessageVerification, "msg-001", testWebhookNow, body) {
			req.Header[k] = v
		}
		w := httptest.NewRecorder()
		wh.HTTPHandlerFunc()(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", w.Code)
		}
		if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
			t.Fatalf("unexpected content type: %s", ct)
		}
		respBody, _ := io.ReadAll(w.Body)
		if string(respBody) != "abc123" {
			t.Fatalf("unexpected body: %q", respBody)
		}
	})

	t.Run("invalid signature returns 403", func(t *testing.T) {
		wh := newTestWebhook(t)
		body := makeTestWebhookBody(nil)
		req := httptest.NewRequest(http.MethodPost, "/eventsub", strings.NewReader(string(body)))
		for k, v := range makeTestHeader(WebhookMessageNotification, "msg-001", testWebhookNow, body) {
			req.Header[k] = v
		}
		req.Header.Set(HeaderMessageSignature, "sha256=bad")
		w := httptest.NewRecorder()
		wh.HTTPHandler().ServeHTTP(w, req)
		if w.Code != http.StatusForbidden {
			t.Fatalf("expected 403, got %d", w.Code)
		}
	})
}
