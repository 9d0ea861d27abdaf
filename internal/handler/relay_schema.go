package handler

import "encoding/json"

// Relay protocol between the browser device surface and the gateway.
// The browser only renders state and operates the mic/speaker; every device
// event it forwards becomes a typed message into the session manager.

// ─── Actions (UI → Gateway) ─────────────────────────────────────────

type RelayAction string

const (
	ActionAnswer           RelayAction = "answer"
	ActionStartRecording   RelayAction = "start_recording"
	ActionAudioChunk       RelayAction = "audio_chunk"
	ActionStopRecording    RelayAction = "stop_recording"
	ActionPlaybackProgress RelayAction = "playback_progress"
	ActionPlaybackEnded    RelayAction = "playback_ended"
	ActionPlaybackError    RelayAction = "playback_error"
	ActionReplay           RelayAction = "replay"
	ActionAudioPaused      RelayAction = "audio_paused"
	ActionAudioResumed     RelayAction = "audio_resumed"
	ActionReconnect        RelayAction = "reconnect"
	ActionPing             RelayAction = "ping"
)

// RelayRequest is the single inbound frame shape; fields are used per action.
type RelayRequest struct {
	Action RelayAction `json:"action"`
	// Text carries a typed answer (ActionAnswer).
	Text string `json:"text,omitempty"`
	// Data carries one base64 audio chunk (ActionAudioChunk).
	Data string `json:"data,omitempty"`
	// Progress carries the playback position 0–100 (ActionPlaybackProgress).
	Progress float64 `json:"progress,omitempty"`
	// Reason carries a device-side error detail (ActionPlaybackError).
	Reason string `json:"reason,omitempty"`
}

// ─── Events (Gateway → UI) ──────────────────────────────────────────

type RelayEvent string

const (
	EventState         RelayEvent = "state"
	EventMic           RelayEvent = "mic"
	EventMicHint       RelayEvent = "mic_hint"
	EventQuestion      RelayEvent = "question"
	EventAudio         RelayEvent = "audio"
	EventTranscription RelayEvent = "transcription"
	EventEvaluation    RelayEvent = "evaluation"
	EventFinalReport   RelayEvent = "final_report"
	EventConnection    RelayEvent = "connection"
	EventPresenceCheck RelayEvent = "presence_check"
	EventError         RelayEvent = "error"
	EventPong          RelayEvent = "pong"
)

// RelayFrame is the single outbound frame shape.
type RelayFrame struct {
	Event RelayEvent  `json:"event"`
	Data  interface{} `json:"data,omitempty"`
}

// Encode marshals a frame for the outbound queue.
func (f RelayFrame) Encode() []byte {
	b, _ := json.Marshal(f)
	return b
}
