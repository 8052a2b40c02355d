package twitchlinkr

import (
	"context"
	"errors"
	"fmt"
)

type reconnectReason string

const (
	reasonInitial         reconnectReason = "initial"
	reasonServerRequested reconnectReason = "server_requested"
	reasonHeartbeatStale  reconnectReason = "heartbeat_stale"
	reasonReadFailed      reconnectReason = "read_failed"
	reasonWriteFailed     reconnectReason = "write_failed"
)

// triggerReconnect starts a reconnect for socket s. It is ignored unless s is
// the current socket of an Open session with no reconnect in flight. An empty
// url means the last known URL.
func (ws *WebSocketClient) triggerReconnect(s *socket, url string, reason reconnectReason) {
	ws.mu.Lock()
	if ws.sock != s || ws.state != StateOpen || ws.reconnecting {
		ws.mu.Unlock()
		return
	}
	ws.reconnecting = true
	gen := ws.gen
	ctx := ws.lifeCtx
	if url == "" {
		url = ws.url
	}
	ws.mu.Unlock()

	go ws.reconnect(ctx, gen, url, reason)
}

func (ws *WebSocketClient) reconnect(ctx context.Context, gen uint64, url string, reason reconnectReason) {
	ws.logger.Info("eventsub reconnecting", "reason", reason, "url", url)

	err := ws.connectWithBudget(ctx, gen, url, reason)
	if err == nil {
		// The welcome already cleared reconnecting; a newer reconnect may own it now.
		ws.logger.Info("eventsub reconnected", "reason", reason, "url", url, "session_id", ws.SessionID())
		return
	}

	ws.mu.Lock()
	if ws.gen == gen {
		ws.reconnecting = false
	}
	ws.mu.Unlock()

	if errors.Is(err, ErrClosed) || ctx.Err() != nil {
		return
	}

	ws.logger.Error("eventsub reconnect failed, closing session", "reason", reason, "url", url, "error", err)
	ws.metrics.reconnectExhausted()
	if closed, _ := ws.shutdown(gen, "reconnect failed"); closed {
		ws.dispatcher.emitFatal(err)
	}
}

// connectWithBudget tears down the current socket and tries url up to
// MaxReconnectAttempts times, ReconnectDelay apart. It is a loop rather than
// recursion so repeated failures cannot grow the stack.
func (ws *WebSocketClient) connectWithBudget(ctx context.Context, gen uint64, url string, reason reconnectReason) error {
	maxAttempts := ws.config.MaxReconnectAttempts

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if old := ws.currentSocket(); old != nil {
			ws.dropSocket(old, "reconnecting")
			<-old.done
		}

		if reason != reasonInitial {
			ws.metrics.reconnectAttempt(reason)
			ws.dispatcher.emitReconnecting(attempt, url)
		}

		err := ws.connectOnce(ctx, gen, url)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrClosed) {
			return err
		}
		if ctx.Err() != nil {
			return ErrClosed
		}
		lastErr = err

		ws.logger.Warn("eventsub connect attempt failed",
			"attempt", attempt, "max_attempts", maxAttempts, "reason", reason, "url", url, "error", err)

		if attempt == maxAttempts {
			break
		}

		timer := ws.clock.NewTimer(ws.config.ReconnectDelay)
		select {
		case <-timer.Chan():
		case <-ctx.Done():
			timer.Stop()
			return ErrClosed
		}
	}

	return fmt.Errorf("%w: %d attempts to %s: %w", ErrRetriesExhausted, maxAttempts, url, lastErr)
}
