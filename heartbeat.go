package twitchlinkr

import (
	"context"
	"fmt"
	"time"

	"nhooyr.io/websocket"
)

const (
	opPing = 0x9
	opPong = 0xA
)

// pingFrame is written as a data frame: the ping opcode followed by "PING".
var pingFrame = []byte{opPing, 'P', 'I', 'N', 'G'}

func isPong(data []byte) bool {
	return len(data) > 0 && data[0] == opPong
}

// pingTimes holds send times of unanswered pings, oldest first. Pongs carry
// no correlation id, so every pong retires the oldest entry.
type pingTimes struct {
	times []time.Time
}

func (p *pingTimes) push(t time.Time) {
	p.times = append(p.times, t)
}

func (p *pingTimes) pop() (time.Time, bool) {
	if len(p.times) == 0 {
		return time.Time{}, false
	}
	head := p.times[0]
	p.times = p.times[1:]
	return head, true
}

func (p *pingTimes) oldest() (time.Time, bool) {
	if len(p.times) == 0 {
		return time.Time{}, false
	}
	return p.times[0], true
}

func (p *pingTimes) len() int { return len(p.times) }

func (p *pingTimes) reset() { p.times = nil }

// stale reports whether the oldest outstanding ping is older than after.
func (p *pingTimes) stale(now time.Time, after time.Duration) bool {
	head, ok := p.oldest()
	return ok && now.Sub(head) > after
}

// heartbeatLoop pings the socket every HeartbeatInterval while the session is
// open and asks for a reconnect once the oldest ping goes unanswered for
// longer than StaleAfter.
func (ws *WebSocketClient) heartbeatLoop(ctx context.Context, s *socket) error {
	if ws.config.HeartbeatInterval <= 0 {
		return nil
	}

	ticker := ws.clock.NewTicker(ws.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.Chan():
			if ws.State() != StateOpen {
				continue
			}

			if err := s.conn.Write(ctx, websocket.MessageBinary, pingFrame); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				ws.logger.Warn("eventsub heartbeat write failed", "url", s.url, "error", err)
				ws.triggerReconnect(s, "", reasonWriteFailed)
				return fmt.Errorf("write ping: %w", err)
			}

			outstanding, stale := ws.recordPing(s)
			ws.metrics.pingSent(outstanding)
			if stale {
				ws.logger.Warn("eventsub heartbeat stale, reconnecting",
					"url", s.url, "outstanding_pings", outstanding, "stale_after", ws.config.StaleAfter)
				ws.triggerReconnect(s, "", reasonHeartbeatStale)
				return nil
			}
		}
	}
}

// recordPing appends a ping sent now and evaluates staleness.
func (ws *WebSocketClient) recordPing(s *socket) (outstanding int, stale bool) {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	if ws.sock != s {
		return 0, false
	}
	now := ws.clock.Now()
	ws.pings.push(now)
	return ws.pings.len(), ws.pings.stale(now, ws.config.StaleAfter)
}

func (ws *WebSocketClient) handlePong(s *socket) {
	ws.mu.Lock()
	if ws.sock != s {
		ws.mu.Unlock()
		return
	}
	sent, ok := ws.pings.pop()
	outstanding := ws.pings.len()
	now := ws.clock.Now()
	ws.mu.Unlock()

	ws.metrics.pongReceived(outstanding)
	if ok {
		ws.logger.Debug("eventsub pong", "rtt", now.Sub(sent), "outstanding_pings", outstanding)
	}
}

// Stale reports whether the oldest outstanding ping has gone unanswered for
// longer than the configured StaleAfter. It can be polled between ticks.
func (ws *WebSocketClient) Stale() bool {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	return ws.pings.stale(ws.clock.Now(), ws.config.StaleAfter)
}

// OutstandingPings returns the number of pings that have not been answered.
func (ws *WebSocketClient) OutstandingPings() int {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	return ws.pings.len()
}
