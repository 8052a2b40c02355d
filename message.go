package twitchlinkr

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ============================================================================
// Message Types
// ============================================================================

// MessageType is the metadata.message_type tag of an EventSub WebSocket frame.
type MessageType string

const (
	MessageTypeNotification MessageType = "notification"
	MessageTypeWelcome      MessageType = "session_welcome"
	MessageTypeKeepalive    MessageType = "session_keepalive"
	MessageTypeReconnect    MessageType = "session_reconnect"
	MessageTypeRevocation   MessageType = "session_revocation"
)

// IsService reports whether t is one of the session_* control messages.
func (t MessageType) IsService() bool {
	switch t {
	case MessageTypeWelcome, MessageTypeKeepalive, MessageTypeReconnect, MessageTypeRevocation:
		return true
	}
	return false
}

// ============================================================================
// Metadata & Payloads
// ============================================================================

// Metadata is shared by every inbound frame.
type Metadata struct {
	MessageID        string      `json:"message_id"`
	MessageType      MessageType `json:"message_type"`
	MessageTimestamp time.Time   `json:"message_timestamp"`
}

// NotificationMetadata extends Metadata with the subscription that produced the event.
type NotificationMetadata struct {
	Metadata
	SubscriptionType    string `json:"subscription_type"`
	SubscriptionVersion string `json:"subscription_version"`
}

// Session describes the server-side EventSub session.
type Session struct {
	ID                      string    `json:"id"`
	Status                  string    `json:"status"`
	KeepaliveTimeoutSeconds int       `json:"keepalive_timeout_seconds,omitempty"`
	ReconnectURL            string    `json:"reconnect_url,omitempty"`
	ConnectedAt             time.Time `json:"connected_at"`
}

// ServicePayload is the payload of the session_* messages.
type ServicePayload struct {
	Session      Session       `json:"session"`
	Subscription *Subscription `json:"subscription,omitempty"`
}

// NotificationPayload carries a subscription snapshot and the raw event body.
// Event is left undecoded; its shape depends on Subscription.Type.
type NotificationPayload struct {
	Subscription Subscription    `json:"subscription"`
	Event        json.RawMessage `json:"event,omitempty"`
}

// DecodeEvent unmarshals the event body into v.
func (p *NotificationPayload) DecodeEvent(v any) error {
	if len(p.Event) == 0 {
		return errors.New("notification has no event body")
	}
	return json.Unmarshal(p.Event, v)
}

// ============================================================================
// Envelope
// ============================================================================

// Envelope is a decoded inbound frame. It is either a *ServiceMessage or a
// *NotificationMessage; use a type switch to tell them apart.
type Envelope interface {
	Type() MessageType
	ID() string
	envelope()
}

// ServiceMessage is a session_welcome, session_keepalive, session_reconnect or
// session_revocation frame.
type ServiceMessage struct {
	Metadata Metadata       `json:"metadata"`
	Payload  ServicePayload `json:"payload"`
}

func (m *ServiceMessage) Type() MessageType { return m.Metadata.MessageType }
func (m *ServiceMessage) ID() string        { return m.Metadata.MessageID }
func (*ServiceMessage) envelope()           {}

// NotificationMessage is an event delivered for an active subscription.
type NotificationMessage struct {
	Metadata NotificationMetadata `json:"metadata"`
	Payload  NotificationPayload  `json:"payload"`
}

func (m *NotificationMessage) Type() MessageType { return m.Metadata.MessageType }
func (m *NotificationMessage) ID() string        { return m.Metadata.MessageID }
func (*NotificationMessage) envelope()           {}

// ============================================================================
// Decoding
// ============================================================================

var (
	ErrMissingMetadata    = errors.New("frame has no metadata")
	ErrMissingMessageType = errors.New("metadata has no message_type")
	ErrUnknownMessageType = errors.New("unknown message_type")
)

// DecodeError is returned by Decode. It only ever affects the frame being decoded.
type DecodeError struct {
	MessageType MessageType
	Err         error
}

func (e *DecodeError) Error() string {
	if e.MessageType != "" {
		return fmt.Sprintf("decode %q frame: %v", e.MessageType, e.Err)
	}
	return "decode frame: " + e.Err.Error()
}

func (e *DecodeError) Unwrap() error { return e.Err }

type rawFrame struct {
	Metadata json.RawMessage `json:"metadata"`
	Payload  json.RawMessage `json:"payload"`
}

type metadataPeek struct {
	MessageType *MessageType `json:"message_type"`
}

// Decode parses a text frame into its Envelope. The concrete type is chosen
// from metadata.message_type before the payload is touched.
func Decode(raw []byte) (Envelope, error) {
	var frame rawFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return nil, &DecodeError{Err: err}
	}
	if isJSONNull(frame.Metadata) {
		return nil, &DecodeError{Err: ErrMissingMetadata}
	}

	var peek metadataPeek
	if err := json.Unmarshal(frame.Metadata, &peek); err != nil {
		return nil, &DecodeError{Err: err}
	}
	if peek.MessageType == nil || *peek.MessageType == "" {
		return nil, &DecodeError{Err: ErrMissingMessageType}
	}
	typ := *peek.MessageType

	switch {
	case typ == MessageTypeNotification:
		msg := &NotificationMessage{}
		if err := decodePair(frame, &msg.Metadata, &msg.Payload); err != nil {
			return nil, &DecodeError{MessageType: typ, Err: err}
		}
		return msg, nil
	case typ.IsService():
		msg := &ServiceMessage{}
		if err := decodePair(frame, &msg.Metadata, &msg.Payload); err != nil {
			return nil, &DecodeError{MessageType: typ, Err: err}
		}
		return msg, nil
	default:
		return nil, &DecodeError{MessageType: typ, Err: ErrUnknownMessageType}
	}
}

func decodePair(frame rawFrame, metadata, payload any) error {
	if err := json.Unmarshal(frame.Metadata, metadata); err != nil {
		return fmt.Errorf("metadata: %w", err)
	}
	// session_keepalive carries an empty payload object; a missing one is tolerated too.
	if isJSONNull(frame.Payload) {
		return nil
	}
	if err := json.Unmarshal(frame.Payload, payload); err != nil {
		return fmt.Errorf("payload: %w", err)
	}
	return nil
}

func isJSONNull(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}

// Encode renders an envelope in the wire format accepted by Decode.
func Encode(env Envelope) ([]byte, error) {
	switch m := env.(type) {
	case *ServiceMessage:
		return json.Marshal(m)
	case *NotificationMessage:
		return json.Marshal(m)
	default:
		return nil, fmt.Errorf("unsupported envelope %T", env)
	}
}
