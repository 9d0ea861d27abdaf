package push

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/eduvox/viva-gateway/internal/backend"
	"github.com/eduvox/viva-gateway/internal/viva"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	writeWait = 10 * time.Second
	readWait  = 5 * time.Minute
)

// Handlers receives decoded push events and connection transitions. All
// callbacks run on the channel's read goroutine; implementations must hand
// off to their own serialization point (the turn coordinator's dispatch).
// Connection transitions surface as state changes, never as errors.
type Handlers struct {
	OnAIResponse    func(*backend.ChatResponse)
	OnMicStatus     func(enabled bool)
	OnPresenceCheck func(message string)
	OnState         func(viva.ConnectionState)
	// OnRetriesExhausted fires after the automatic attempt cap is spent.
	// Manual Reconnect() remains available.
	OnRetriesExhausted func(lastErr *viva.ConnectionError)
}

// Channel is the push channel to the examiner backend: a websocket client
// scoped to one session's room. It connects lazily (after the session has
// started), auto-retries a bounded number of times on unexpected drops, and
// exposes manual reconnect.
type Channel struct {
	url       string
	sessionID string
	handlers  Handlers
	log       zerolog.Logger

	maxAttempts int
	baseDelay   time.Duration

	mu       sync.Mutex
	conn     *websocket.Conn
	state    viva.ConnectionState
	attempts int
	closed   bool
	gen      int // connection generation, guards stale read loops
}

// NewChannel creates an unconnected push channel for the given session.
func NewChannel(url, sessionID string, maxAttempts int, baseDelay time.Duration, handlers Handlers, log zerolog.Logger) *Channel {
	return &Channel{
		url:         url,
		sessionID:   sessionID,
		handlers:    handlers,
		log:         log.With().Str("component", "push_channel").Str("session_id", sessionID).Logger(),
		maxAttempts: maxAttempts,
		baseDelay:   baseDelay,
		state:       viva.ConnDisconnected,
	}
}

// State returns the current connection state.
func (ch *Channel) State() viva.ConnectionState {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.state
}

// Connect dials the backend, joins the session room and starts the read
// loop. Safe to call on an already-connected channel (no-op).
func (ch *Channel) Connect() error {
	ch.mu.Lock()
	if ch.closed {
		ch.mu.Unlock()
		return &viva.ConnectionError{Reason: "channel closed"}
	}
	if ch.state == viva.ConnConnected || ch.state == viva.ConnConnecting {
		ch.mu.Unlock()
		return nil
	}
	ch.setStateLocked(viva.ConnConnecting)
	ch.mu.Unlock()

	return ch.dial()
}

// Reconnect resets the attempt counter and dials again. Exposed for the UI's
// manual reconnect action once automatic retries are exhausted.
func (ch *Channel) Reconnect() error {
	ch.mu.Lock()
	if ch.closed {
		ch.mu.Unlock()
		return &viva.ConnectionError{Reason: "channel closed"}
	}
	ch.attempts = 0
	ch.setStateLocked(viva.ConnConnecting)
	ch.mu.Unlock()

	return ch.dial()
}

// Close tears the channel down for good. No further reconnects happen.
func (ch *Channel) Close() {
	ch.mu.Lock()
	ch.closed = true
	ch.gen++
	conn := ch.conn
	ch.conn = nil
	ch.setStateLocked(viva.ConnDisconnected)
	ch.mu.Unlock()

	if conn != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		_ = conn.Close()
	}
}

// NotifyAudioPaused forwards the UI's pause signal to the backend.
func (ch *Channel) NotifyAudioPaused() { ch.emit(EmitAudioPaused, nil) }

// NotifyAudioResumed forwards the UI's resume signal to the backend.
func (ch *Channel) NotifyAudioResumed() { ch.emit(EmitAudioResumed, nil) }

func (ch *Channel) emit(event Emit, data interface{}) {
	ch.mu.Lock()
	conn := ch.conn
	ch.mu.Unlock()
	if conn == nil {
		ch.log.Debug().Str("event", string(event)).Msg("Emit dropped, channel not connected")
		return
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(OutboundEnvelope{Event: event, Data: data}); err != nil {
		ch.log.Warn().Err(err).Str("event", string(event)).Msg("Emit failed")
	}
}

func (ch *Channel) dial() error {
	dialer := websocket.Dialer{HandshakeTimeout: writeWait}
	conn, _, err := dialer.Dial(ch.url+"?session_id="+ch.sessionID, nil)
	if err != nil {
		ch.mu.Lock()
		ch.setStateLocked(viva.ConnDisconnected)
		attempt := ch.attempts
		ch.mu.Unlock()
		return &viva.ConnectionError{Attempt: attempt, Reason: err.Error()}
	}

	ch.mu.Lock()
	if ch.closed {
		ch.mu.Unlock()
		_ = conn.Close()
		return &viva.ConnectionError{Reason: "channel closed"}
	}
	if ch.conn != nil {
		_ = ch.conn.Close() // Manual reconnect over a live socket replaces it.
	}
	ch.conn = conn
	ch.attempts = 0 // Successful connect resets the retry budget.
	ch.gen++
	gen := ch.gen
	ch.setStateLocked(viva.ConnConnected)
	ch.mu.Unlock()

	// Join the session-scoped room immediately after connecting.
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(OutboundEnvelope{Event: EmitJoin, Data: JoinPayload{SessionID: ch.sessionID}}); err != nil {
		ch.log.Warn().Err(err).Msg("Room join emit failed")
	}

	go ch.readLoop(conn, gen)
	return nil
}

func (ch *Channel) readLoop(conn *websocket.Conn, gen int) {
	for {
		conn.SetReadDeadline(time.Now().Add(readWait))
		var env Envelope
		if err := conn.ReadJSON(&env); err != nil {
			ch.mu.Lock()
			stale := ch.closed || gen != ch.gen
			if !stale {
				ch.conn = nil
				ch.setStateLocked(viva.ConnDisconnected)
			}
			ch.mu.Unlock()
			_ = conn.Close()

			if stale {
				return
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				ch.log.Warn().Err(err).Msg("Push channel dropped unexpectedly")
			} else {
				ch.log.Debug().Err(err).Msg("Push channel closed")
			}
			go ch.retryLoop()
			return
		}
		ch.handleEvent(&env)
	}
}

// retryLoop performs the bounded automatic reconnect: attempts 1..max with
// delay attempt*baseDelay, stopping early on success, Close, or manual
// Reconnect (which bumps the generation).
func (ch *Channel) retryLoop() {
	for {
		ch.mu.Lock()
		if ch.closed || ch.state != viva.ConnDisconnected {
			ch.mu.Unlock()
			return
		}
		if ch.attempts >= ch.maxAttempts {
			ch.mu.Unlock()
			ch.log.Warn().Int("attempts", ch.maxAttempts).Msg("Push reconnect attempts exhausted")
			if ch.handlers.OnRetriesExhausted != nil {
				ch.handlers.OnRetriesExhausted(&viva.ConnectionError{
					Attempt: ch.maxAttempts,
					Reason:  "automatic reconnect attempts exhausted",
				})
			}
			return
		}
		ch.attempts++
		attempt := ch.attempts
		ch.setStateLocked(viva.ConnConnecting)
		ch.mu.Unlock()

		delay := time.Duration(attempt) * ch.baseDelay
		ch.log.Info().Int("attempt", attempt).Dur("delay", delay).Msg("Push reconnect scheduled")
		time.Sleep(delay)

		if err := ch.dial(); err == nil {
			return
		}
	}
}

func (ch *Channel) handleEvent(env *Envelope) {
	switch env.Event {
	case EventAIResponse:
		var resp backend.ChatResponse
		if err := json.Unmarshal(env.Data, &resp); err != nil {
			ch.log.Warn().Err(err).Msg("Malformed ai_response event")
			return
		}
		if ch.handlers.OnAIResponse != nil {
			ch.handlers.OnAIResponse(&resp)
		}
	case EventMicStatus:
		var p MicStatusPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			ch.log.Warn().Err(err).Msg("Malformed mic_status event")
			return
		}
		if ch.handlers.OnMicStatus != nil {
			ch.handlers.OnMicStatus(p.Enabled())
		}
	case EventPresenceCheck:
		var p PresenceCheckPayload
		_ = json.Unmarshal(env.Data, &p)
		if ch.handlers.OnPresenceCheck != nil {
			ch.handlers.OnPresenceCheck(p.Message)
		}
	case EventJoinStatus:
		var p JoinStatusPayload
		_ = json.Unmarshal(env.Data, &p)
		ch.log.Debug().Str("status", p.Status).Str("room", p.Room).Msg("Join acknowledged")
	default:
		ch.log.Warn().Str("event", string(env.Event)).Msg("Unknown push event")
	}
}

// setStateLocked updates state and fires the callback synchronously so
// transitions are observed in order. Caller holds mu; the callback must not
// call back into the channel.
func (ch *Channel) setStateLocked(s viva.ConnectionState) {
	if ch.state == s {
		return
	}
	ch.state = s
	if ch.handlers.OnState != nil {
		ch.handlers.OnState(s)
	}
}
