package twitchlinkr

import (
	"fmt"
	"time"
)

// ============================================================================
// Shared Types
// ============================================================================

// APIError is the error body returned by the Helix and OAuth endpoints.
type APIError struct {
	StatusCode int    `json:"status"`
	Code       string `json:"error"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("twitch api %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("twitch api %d %s: %s", e.StatusCode, e.Code, e.Message)
}

// ============================================================================
// EventSub Types
// ============================================================================

// Transport methods.
const (
	TransportWebSocket = "websocket"
	TransportWebhook   = "webhook"
	TransportConduit   = "conduit"
)

// Transport describes how a subscription's events are delivered.
// For WebSocket delivery SessionID is empty until the session was welcomed.
type Transport struct {
	Method         string     `json:"method" validate:"required,oneof=websocket webhook conduit"`
	SessionID      string     `json:"session_id,omitempty" validate:"required_if=Method websocket"`
	Callback       string     `json:"callback,omitempty" validate:"required_if=Method webhook"`
	Secret         string     `json:"secret,omitempty" validate:"required_if=Method webhook"`
	ConduitID      string     `json:"conduit_id,omitempty" validate:"required_if=Method conduit"`
	ConnectedAt    *time.Time `json:"connected_at,omitempty"`
	DisconnectedAt *time.Time `json:"disconnected_at,omitempty"`
}

// Subscription is an EventSub subscription as reported by Twitch.
type Subscription struct {
	ID        string            `json:"id"`
	Status    string            `json:"status"`
	Type      string            `json:"type"`
	Version   string            `json:"version"`
	Cost      int               `json:"cost"`
	Condition map[string]string `json:"condition"`
	Transport Transport         `json:"transport"`
	CreatedAt time.Time         `json:"created_at"`
}

// CreateSubscriptionRequest is the body of POST /eventsub/subscriptions.
type CreateSubscriptionRequest struct {
	Type      string            `json:"type" validate:"required"`
	Version   string            `json:"version" validate:"required"`
	Condition map[string]string `json:"condition" validate:"required,min=1"`
	Transport Transport         `json:"transport"`
}

// ListSubscriptionsOptions filters GET /eventsub/subscriptions.
type ListSubscriptionsOptions struct {
	Status string
	Type   string
	UserID string
	After  string
}

// SubscriptionList is one page of subscriptions.
type SubscriptionList struct {
	Data         []Subscription `json:"data"`
	Total        int            `json:"total"`
	TotalCost    int            `json:"total_cost"`
	MaxTotalCost int            `json:"max_total_cost"`
	Pagination   struct {
		Cursor string `json:"cursor,omitempty"`
	} `json:"pagination"`
}

// ============================================================================
// OAuth Types
// ============================================================================

// TokenValidation is the response of GET /oauth2/validate.
type TokenValidation struct {
	ClientID  string   `json:"client_id"`
	Login     string   `json:"login"`
	UserID    string   `json:"user_id"`
	Scopes    []string `json:"scopes"`
	ExpiresIn int      `json:"expires_in"`
}

// Expiry returns the absolute expiry time relative to now.
func (v *TokenValidation) Expiry(now time.Time) time.Time {
	return now.Add(time.Duration(v.ExpiresIn) * time.Second)
}
