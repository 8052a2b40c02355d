// Package twitchlinkr is a Go SDK for Twitch EventSub.
//
// Its core is WebSocketClient, which holds one EventSub WebSocket session:
// it waits for session_welcome, keeps the socket alive with a heartbeat and
// follows reconnects. Client is a thin Helix REST client used to register
// subscriptions against that session, and WebhookHandler receives the same
// notifications over the webhook transport.
//
// Example:
//
//	ws := twitchlinkr.NewWebSocketClient()
//	ws.On("channel.follow", func(msg *twitchlinkr.NotificationMessage) {
//		var ev struct{ UserName string `json:"user_name"` }
//		_ = msg.Payload.DecodeEvent(&ev)
//	})
//	if err := ws.Connect(ctx, ""); err != nil {
//		return err
//	}
//	defer ws.Disconnect()
//
//	helix := twitchlinkr.NewClient("client-id", "user-token")
//	_, err := helix.SubscribeSession(ctx, ws, "channel.follow", "2", map[string]string{
//		"broadcaster_user_id": "1234",
//		"moderator_user_id":   "1234",
//	})
package twitchlinkr

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

const (
	DefaultHelixURL = "https://api.twitch.tv/helix"
	DefaultAuthURL  = "https://id.twitch.tv/oauth2"
	DefaultTimeout  = 30 * time.Second
)

// ErrNoSession is returned when subscribing a WebSocket session that has not
// been welcomed yet.
var ErrNoSession = errors.New("eventsub: websocket session has no id yet")

var validate = validator.New()

// ============================================================================
// Client
// ============================================================================

// Client calls the Helix EventSub endpoints and the OAuth validate endpoint.
// Requests are sent once; failed calls are not retried.
type Client struct {
	clientID   string
	token      string
	baseURL    string
	authURL    string
	httpClient *http.Client
}

type ClientOption func(*Client)

func WithBaseURL(url string) ClientOption {
	return func(c *Client) { c.baseURL = strings.TrimRight(url, "/") }
}

func WithAuthURL(url string) ClientOption {
	return func(c *Client) { c.authURL = strings.TrimRight(url, "/") }
}

func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) { c.httpClient.Timeout = timeout }
}

func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = client }
}

// NewClient creates a Helix client for the given application client id and
// user access token.
func NewClient(clientID, token string, opts ...ClientOption) *Client {
	c := &Client{
		clientID: clientID,
		token:    token,
		baseURL:  DefaultHelixURL,
		authURL:  DefaultAuthURL,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
	}

	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetToken replaces the access token, e.g. after a refresh.
func (c *Client) SetToken(token string) {
	c.token = token
}

// ============================================================================
// Internal request helper
// ============================================================================

func (c *Client) doRequest(ctx context.Context, method, u string, header http.Header, body any, query url.Values) ([]byte, error) {
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for k, v := range header {
		req.Header[k] = v
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{}
		if len(data) == 0 || json.Unmarshal(data, apiErr) != nil {
			apiErr.Message = strings.TrimSpace(string(data))
		}
		if apiErr.StatusCode == 0 {
			apiErr.StatusCode = resp.StatusCode
		}
		if apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		return nil, apiErr
	}
	return data, nil
}

func (c *Client) helix(ctx context.Context, method, path string, body any, query url.Values) ([]byte, error) {
	header := http.Header{}
	header.Set("Client-Id", c.clientID)
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}
	return c.doRequest(ctx, method, c.baseURL+path, header, body, query)
}

func decodeJSON[T any](data []byte) (*T, error) {
	var result T
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return &result, nil
}

// ============================================================================
// EventSub Subscriptions
// ============================================================================

// CreateEventSubSubscription registers a subscription. The request is
// validated before it is sent.
func (c *Client) CreateEventSubSubscription(ctx context.Context, req *CreateSubscriptionRequest) (*Subscription, error) {
	if req == nil {
		return nil, errors.New("subscription request is required")
	}
	if err := validate.Struct(req); err != nil {
		return nil, fmt.Errorf("invalid subscription request: %w", err)
	}

	data, err := c.helix(ctx, http.MethodPost, "/eventsub/subscriptions", req, nil)
	if err != nil {
		return nil, err
	}
	list, err := decodeJSON[SubscriptionList](data)
	if err != nil {
		return nil, err
	}
	if len(list.Data) == 0 {
		return nil, errors.New("create subscription: empty response")
	}
	return &list.Data[0], nil
}

// SubscribeSession registers a subscription delivered to ws's current session.
func (c *Client) SubscribeSession(ctx context.Context, ws *WebSocketClient, subscriptionType, version string, condition map[string]string) (*Subscription, error) {
	transport := ws.Transport()
	if transport.SessionID == "" {
		return nil, ErrNoSession
	}
	return c.CreateEventSubSubscription(ctx, &CreateSubscriptionRequest{
		Type:      subscriptionType,
		Version:   version,
		Condition: condition,
		Transport: transport,
	})
}

// ListEventSubSubscriptions returns one page of subscriptions. Pass
// SubscriptionList.Pagination.Cursor as After to fetch the next page.
func (c *Client) ListEventSubSubscriptions(ctx context.Context, opts *ListSubscriptionsOptions) (*SubscriptionList, error) {
	query := url.Values{}
	if opts != nil {
		if opts.Status != "" {
			query.Set("status", opts.Status)
		}
		if opts.Type != "" {
			query.Set("type", opts.Type)
		}
		if opts.UserID != "" {
			query.Set("user_id", opts.UserID)
		}
		if opts.After != "" {
			query.Set("after", opts.After)
		}
	}

	data, err := c.helix(ctx, http.MethodGet, "/eventsub/subscriptions", nil, query)
	if err != nil {
		return nil, err
	}
	return decodeJSON[SubscriptionList](data)
}

func (c *Client) DeleteEventSubSubscription(ctx context.Context, id string) error {
	if id == "" {
		return errors.New("subscription id is required")
	}
	_, err := c.helix(ctx, http.MethodDelete, "/eventsub/subscriptions", nil, url.Values{"id": {id}})
	return err
}

// ============================================================================
// OAuth
// ============================================================================

// ValidateToken checks the access token against the OAuth validate endpoint.
// An invalid token yields an *APIError with StatusCode 401.
func (c *Client) ValidateToken(ctx context.Context) (*TokenValidation, error) {
	header := http.Header{}
	header.Set("Authorization", "OAuth "+c.token)

	data, err := c.doRequest(ctx, http.MethodGet, c.authURL+"/validate", header, nil, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[TokenValidation](data)
}
