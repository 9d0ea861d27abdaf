package session

import (
	"github.com/eduvox/viva-gateway/internal/turn"
	"github.com/eduvox/viva-gateway/internal/viva"
)

// Sink receives UI-bound session events. The websocket relay implements it
// by queueing frames to the browser; tests implement it with plain structs.
// Callbacks arrive on the coordinator/push serialization paths and must not
// block or call back into the Manager.
type Sink interface {
	// OnState reports turn-machine transitions.
	OnState(from, to turn.State)
	// OnMic reports the authoritative arming permission (derived from the
	// turn machine, not from the backend's hint).
	OnMic(armed bool)
	// OnMicHint forwards the backend's mic_status push event.
	OnMicHint(enabled bool)
	// OnQuestion presents (or re-presents) the current turn.
	OnQuestion(t viva.Turn)
	// OnAudio starts playback of a resolved cue on the device surface.
	OnAudio(cue viva.AudioCue)
	// OnTranscription echoes what the backend heard in a recorded answer.
	OnTranscription(text string)
	// OnEvaluation delivers a scored result.
	OnEvaluation(eval viva.Evaluation)
	// OnCompleted delivers the final report on the terminal transition.
	OnCompleted(report *viva.FinalReport)
	// OnConnection reports push-channel state.
	OnConnection(cs viva.ConnectionState)
	// OnPresenceCheck surfaces the backend's liveness nudge.
	OnPresenceCheck(message string)
	// OnError surfaces recoverable errors.
	OnError(err error)
}
