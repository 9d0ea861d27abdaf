package push

import "encoding/json"

// ─── Events (Backend → Gateway) ─────────────────────────────────────

type Event string

const (
	EventAIResponse    Event = "ai_response"
	EventMicStatus     Event = "mic_status"
	EventPresenceCheck Event = "user_presence_check"
	EventJoinStatus    Event = "join_status"
)

// Envelope wraps every message on the push channel. Data is decoded per
// event once the type is known.
type Envelope struct {
	Event Event           `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// MicStatusPayload signals whether the backend wants the mic armed.
type MicStatusPayload struct {
	Status string `json:"status"` // "enabled" | "disabled"
}

// Enabled reports whether the payload arms the mic.
func (p *MicStatusPayload) Enabled() bool { return p.Status == "enabled" }

// PresenceCheckPayload is a liveness nudge shown to the user.
type PresenceCheckPayload struct {
	Message string `json:"message"`
}

// JoinStatusPayload acknowledges the room join.
type JoinStatusPayload struct {
	Status string `json:"status"`
	Room   string `json:"room,omitempty"`
}

// ─── Emits (Gateway → Backend) ──────────────────────────────────────

type Emit string

const (
	EmitJoin         Emit = "join"
	EmitAudioPaused  Emit = "audio_paused"
	EmitAudioResumed Emit = "audio_resumed"
)

// JoinPayload requests membership of the session-scoped room.
type JoinPayload struct {
	SessionID string `json:"session_id"`
}

// OutboundEnvelope wraps every emitted message.
type OutboundEnvelope struct {
	Event Emit        `json:"event"`
	Data  interface{} `json:"data,omitempty"`
}
