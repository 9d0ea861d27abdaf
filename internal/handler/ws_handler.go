package handler

import (
	"encoding/base64"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/eduvox/viva-gateway/internal/session"
	"github.com/eduvox/viva-gateway/internal/turn"
	"github.com/eduvox/viva-gateway/internal/viva"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	relayWriteWait = 10 * time.Second
	relayReadWait  = 5 * time.Minute
	relayQueueSize = 64
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// allowedOrigins comes from config.Config.AllowedOrigins.
// An empty slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// WSHandler serves the UI relay socket: device events in, session events out.
type WSHandler struct {
	registry *session.Registry
	log      zerolog.Logger
	upgrader websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(registry *session.Registry, log zerolog.Logger, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		registry: registry,
		log:      log.With().Str("component", "ws_handler").Logger(),
		upgrader: buildUpgrader(allowedOrigins),
	}
}

// SessionStream godoc
// WS /ws/v1/viva/sessions/:id/stream
// Upgrades to WebSocket, attaches to the session as its event sink, and
// feeds device events into the session manager.
func (h *WSHandler) SessionStream(c *gin.Context) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session ID"})
		return
	}

	mgr := h.registry.Get(id)
	if mgr == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	wsLog := h.log.With().Str("session_id", id).Logger()
	relay := newRelay(conn, wsLog)
	go relay.writeLoop()

	mgr.SetSink(relay)
	defer func() {
		// A newer tab may have replaced the sink; only detach our own.
		mgr.ClearSink(relay)
		relay.close()
	}()

	wsLog.Info().Msg("Device surface connected")

	// Seed the fresh connection with the current picture so a reloaded tab
	// resynchronizes without a REST round trip.
	snap := mgr.Snapshot()
	relay.send(RelayFrame{Event: EventState, Data: gin.H{"state": snap.State}})
	relay.send(RelayFrame{Event: EventQuestion, Data: snap.Turn})
	relay.send(RelayFrame{Event: EventConnection, Data: gin.H{"connection": snap.Connection}})

	for {
		conn.SetReadDeadline(time.Now().Add(relayReadWait))
		var msg RelayRequest
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsLog.Warn().Err(err).Msg("Unexpected close")
			} else {
				wsLog.Debug().Msg("Connection closed")
			}
			return
		}
		h.handleAction(mgr, relay, &msg, wsLog)
	}
}

func (h *WSHandler) handleAction(mgr *session.Manager, relay *relayConn, msg *RelayRequest, wsLog zerolog.Logger) {
	switch msg.Action {
	case ActionAnswer:
		relay.reportIfErr(mgr.SubmitText(msg.Text))
	case ActionStartRecording:
		relay.reportIfErr(mgr.StartRecording())
	case ActionAudioChunk:
		chunk, err := base64.StdEncoding.DecodeString(msg.Data)
		if err != nil {
			relay.reportIfErr(&viva.MediaError{Op: "chunk", Reason: "invalid base64 payload"})
			return
		}
		relay.reportIfErr(mgr.AppendAudioChunk(chunk))
	case ActionStopRecording:
		relay.reportIfErr(mgr.StopRecording())
	case ActionPlaybackProgress:
		mgr.PlaybackProgress(msg.Progress)
	case ActionPlaybackEnded:
		mgr.PlaybackEnded()
	case ActionPlaybackError:
		mgr.PlaybackFailed(msg.Reason)
	case ActionReplay:
		relay.reportIfErr(mgr.Replay())
	case ActionAudioPaused:
		mgr.AudioPaused()
	case ActionAudioResumed:
		mgr.AudioResumed()
	case ActionReconnect:
		relay.reportIfErr(mgr.ReconnectPush())
	case ActionPing:
		relay.send(RelayFrame{Event: EventPong})
	default:
		wsLog.Warn().Str("action", string(msg.Action)).Msg("Unknown action")
		relay.send(RelayFrame{Event: EventError, Data: gin.H{
			"code":    "INVALID_PAYLOAD",
			"message": "unknown action: " + string(msg.Action),
		}})
	}
}

// ─── relayConn: outbound pump + session.Sink ────────────────────────

// relayConn owns the socket's write side. All outbound frames pass through
// one queue drained by a single writer goroutine, since sink callbacks and
// the action loop would otherwise interleave writes. Sink callbacks can race
// the connection teardown, so send and close share a mutex: a frame arriving
// after close is discarded, never pushed onto the closed queue.
type relayConn struct {
	conn *websocket.Conn
	log  zerolog.Logger

	mu     sync.Mutex
	out    chan []byte
	closed bool
}

func newRelay(conn *websocket.Conn, log zerolog.Logger) *relayConn {
	return &relayConn{
		conn: conn,
		out:  make(chan []byte, relayQueueSize),
		log:  log,
	}
}

func (r *relayConn) writeLoop() {
	for frame := range r.out {
		r.conn.SetWriteDeadline(time.Now().Add(relayWriteWait))
		if err := r.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			r.log.Debug().Err(err).Msg("Relay write failed")
			return
		}
	}
}

func (r *relayConn) close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	close(r.out)
	r.mu.Unlock()
	_ = r.conn.Close()
}

func (r *relayConn) send(f RelayFrame) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	select {
	case r.out <- f.Encode():
	default:
		// A stalled tab must not block session event delivery.
		r.log.Warn().Str("event", string(f.Event)).Msg("Relay queue full, frame dropped")
	}
}

func (r *relayConn) reportIfErr(err error) {
	if err == nil {
		return
	}
	_, code := classify(err)
	r.send(RelayFrame{Event: EventError, Data: gin.H{
		"code":    string(code),
		"message": err.Error(),
	}})
}

// session.Sink implementation.

func (r *relayConn) OnState(from, to turn.State) {
	r.send(RelayFrame{Event: EventState, Data: gin.H{"from": from, "state": to}})
}

func (r *relayConn) OnMic(armed bool) {
	r.send(RelayFrame{Event: EventMic, Data: gin.H{"armed": armed}})
}

func (r *relayConn) OnMicHint(enabled bool) {
	r.send(RelayFrame{Event: EventMicHint, Data: gin.H{"enabled": enabled}})
}

func (r *relayConn) OnQuestion(t viva.Turn) {
	r.send(RelayFrame{Event: EventQuestion, Data: t})
}

func (r *relayConn) OnAudio(cue viva.AudioCue) {
	r.send(RelayFrame{Event: EventAudio, Data: cue})
}

func (r *relayConn) OnTranscription(text string) {
	r.send(RelayFrame{Event: EventTranscription, Data: gin.H{"text": text}})
}

func (r *relayConn) OnEvaluation(eval viva.Evaluation) {
	r.send(RelayFrame{Event: EventEvaluation, Data: eval})
}

func (r *relayConn) OnCompleted(report *viva.FinalReport) {
	r.send(RelayFrame{Event: EventFinalReport, Data: report})
}

func (r *relayConn) OnConnection(cs viva.ConnectionState) {
	r.send(RelayFrame{Event: EventConnection, Data: gin.H{"connection": cs}})
}

func (r *relayConn) OnPresenceCheck(message string) {
	r.send(RelayFrame{Event: EventPresenceCheck, Data: gin.H{"message": message}})
}

func (r *relayConn) OnError(err error) {
	_, code := classify(err)
	r.send(RelayFrame{Event: EventError, Data: gin.H{
		"code":    string(code),
		"message": err.Error(),
	}})
}
