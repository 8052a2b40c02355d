package twitchlinkr

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const welcomeFrame = `{
  "metadata": {
    "message_id": "96a3f3b5-5dec-4eed-908e-e11ee657416c",
    "message_type": "session_welcome",
    "message_timestamp": "2023-07-19T14:56:51.634234626Z"
  },
  "payload": {
    "session": {
      "id": "AQoQILE98gtqShGmLD7AM6yJThAB",
      "status": "connected",
      "connected_at": "2023-07-19T14:56:51.616329898Z",
      "keepalive_timeout_seconds": 10,
      "reconnect_url": null
    }
  }
}`

const notificationFrame = `{
  "metadata": {
    "message_id": "befa7b53-d79d-478f-86b9-120f112b044e",
    "message_type": "notification",
    "message_timestamp": "2022-11-16T10:11:12.464757833Z",
    "subscription_type": "channel.follow",
    "subscription_version": "1"
  },
  "payload": {
    "subscription": {
      "id": "f1c2a387-161a-49f9-a165-0f21d7a4e1c4",
      "status": "enabled",
      "type": "channel.follow",
      "version": "1",
      "cost": 1,
      "condition": {"broadcaster_user_id": "12826"},
      "transport": {"method": "websocket", "session_id": "AQoQexAWVYKSTIu4ec_2VAxyuhAB"},
      "created_at": "2022-11-16T10:11:12.464757833Z"
    },
    "event": {
      "user_id": "1337",
      "user_login": "awesome_user",
      "broadcaster_user_id": "12826"
    }
  }
}`

func TestDecode(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    MessageType
		service bool
	}{
		{"welcome", welcomeFrame, MessageTypeWelcome, true},
		{"notification", notificationFrame, MessageTypeNotification, false},
		{"keepalive with empty payload", `{"metadata":{"message_id":"k1","message_type":"session_keepalive","message_timestamp":"2023-07-19T10:11:12.634234626Z"},"payload":{}}`, MessageTypeKeepalive, true},
		{"keepalive without payload", `{"metadata":{"message_id":"k2","message_type":"session_keepalive"}}`, MessageTypeKeepalive, true},
		{"reconnect", `{"metadata":{"message_id":"r1","message_type":"session_reconnect"},"payload":{"session":{"id":"s1","status":"reconnecting","reconnect_url":"wss://eventsub.wss.twitch.tv?id=abc"}}}`, MessageTypeReconnect, true},
		{"revocation", `{"metadata":{"message_id":"v1","message_type":"session_revocation"},"payload":{"session":{"id":"s1","status":"authorization_revoked"}}}`, MessageTypeRevocation, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := Decode([]byte(tt.raw))
			require.NoError(t, err)
			assert.Equal(t, tt.want, env.Type())
			assert.Equal(t, tt.service, env.Type().IsService())

			switch env.(type) {
			case *ServiceMessage:
				assert.True(t, tt.service, "service message for %s", tt.want)
			case *NotificationMessage:
				assert.False(t, tt.service, "notification for %s", tt.want)
			default:
				t.Fatalf("unexpected envelope %T", env)
			}
		})
	}
}

func TestDecodeWelcomeFields(t *testing.T) {
	env, err := Decode([]byte(welcomeFrame))
	require.NoError(t, err)

	msg, ok := env.(*ServiceMessage)
	require.True(t, ok)
	assert.Equal(t, "96a3f3b5-5dec-4eed-908e-e11ee657416c", msg.ID())
	assert.Equal(t, "AQoQILE98gtqShGmLD7AM6yJThAB", msg.Payload.Session.ID)
	assert.Equal(t, "connected", msg.Payload.Session.Status)
	assert.Equal(t, 10, msg.Payload.Session.KeepaliveTimeoutSeconds)
	assert.Empty(t, msg.Payload.Session.ReconnectURL)
	assert.Equal(t, time.Date(2023, 7, 19, 14, 56, 51, 616329898, time.UTC), msg.Payload.Session.ConnectedAt)
}

func TestDecodeNotificationFields(t *testing.T) {
	env, err := Decode([]byte(notificationFrame))
	require.NoError(t, err)

	msg, ok := env.(*NotificationMessage)
	require.True(t, ok)
	assert.Equal(t, "channel.follow", msg.Metadata.SubscriptionType)
	assert.Equal(t, "1", msg.Metadata.SubscriptionVersion)
	assert.Equal(t, "f1c2a387-161a-49f9-a165-0f21d7a4e1c4", msg.Payload.Subscription.ID)
	assert.Equal(t, TransportWebSocket, msg.Payload.Subscription.Transport.Method)
	assert.Equal(t, "AQoQexAWVYKSTIu4ec_2VAxyuhAB", msg.Payload.Subscription.Transport.SessionID)
	assert.Equal(t, map[string]string{"broadcaster_user_id": "12826"}, msg.Payload.Subscription.Condition)

	var ev struct {
		UserLogin string `json:"user_login"`
	}
	require.NoError(t, msg.Payload.DecodeEvent(&ev))
	assert.Equal(t, "awesome_user", ev.UserLogin)
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name   string
		raw    string
		target error
	}{
		{"unknown message type", `{"metadata":{"message_id":"u1","message_type":"unknown_type"},"payload":{}}`, ErrUnknownMessageType},
		{"missing metadata", `{"payload":{}}`, ErrMissingMetadata},
		{"null metadata", `{"metadata":null,"payload":{}}`, ErrMissingMetadata},
		{"missing message type", `{"metadata":{"message_id":"m1"},"payload":{}}`, ErrMissingMessageType},
		{"empty message type", `{"metadata":{"message_id":"m1","message_type":""}}`, ErrMissingMessageType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := Decode([]byte(tt.raw))
			require.Error(t, err)
			assert.Nil(t, env)
			assert.ErrorIs(t, err, tt.target)

			var decodeErr *DecodeError
			assert.ErrorAs(t, err, &decodeErr)
		})
	}

	t.Run("malformed json", func(t *testing.T) {
		_, err := Decode([]byte(`{"metadata":`))
		var decodeErr *DecodeError
		require.ErrorAs(t, err, &decodeErr)
		var syntaxErr *json.SyntaxError
		assert.ErrorAs(t, err, &syntaxErr)
	})

	t.Run("payload of wrong shape", func(t *testing.T) {
		_, err := Decode([]byte(`{"metadata":{"message_id":"w1","message_type":"session_welcome"},"payload":{"session":"nope"}}`))
		var decodeErr *DecodeError
		require.ErrorAs(t, err, &decodeErr)
		assert.Equal(t, MessageTypeWelcome, decodeErr.MessageType)
	})
}

func TestEncodeRoundTrip(t *testing.T) {
	env, err := Decode([]byte(notificationFrame))
	require.NoError(t, err)

	raw, err := Encode(env)
	require.NoError(t, err)

	again, err := Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, env.ID(), again.ID())
	assert.Equal(t, env.(*NotificationMessage).Metadata, again.(*NotificationMessage).Metadata)

	raw2, err := Encode(again)
	require.NoError(t, err)
	assert.JSONEq(t, string(raw), string(raw2))
}

func TestDecodeEventEmpty(t *testing.T) {
	var p NotificationPayload
	assert.Error(t, p.DecodeEvent(&struct{}{}))
}
