package turn

import "github.com/eduvox/viva-gateway/internal/viva"

// State enumerates the turn-taking machine.
type State string

const (
	// StateWaitingForUser: the mic may be armed, the user owes an answer.
	StateWaitingForUser State = "waiting_for_user"
	// StateAISpeaking: a cue is playing, the mic is disarmed.
	StateAISpeaking State = "ai_speaking"
	// StateProcessing: an answer is in flight, awaiting a result from
	// either channel.
	StateProcessing State = "processing"
	// StateCompleted: terminal.
	StateCompleted State = "completed"
)

// Source identifies which channel delivered a result. The same logical
// result may arrive once from each; the coordinator applies the first.
type Source string

const (
	SourceHTTP Source = "http"
	SourcePush Source = "push"
)

// CurrentSubmission marks a push-delivered result, which carries no
// submission sequence of its own and is matched against the in-flight one.
const CurrentSubmission = -1

// Result is the normalized outcome of one submitted answer, identical in
// meaning whether it came back on the HTTP response or the push channel.
// AudioURL is already fully resolved; empty means no audio to play.
type Result struct {
	Text          string
	AudioURL      string
	Transcription string
	IsRepeat      bool
	Evaluation    *viva.Evaluation
}

// Events receives coordinator side effects. Callbacks are invoked on the
// coordinator's serialized dispatch path and must not call back into it.
// Any callback may be nil.
type Events struct {
	// OnState fires on every transition.
	OnState func(from, to State)
	// OnMic fires when the arming permission flips.
	OnMic func(armed bool)
	// OnQuestion fires when the presented question changes (or is
	// re-presented on a repeat).
	OnQuestion func(t viva.Turn)
	// OnAudio fires when a cue should start playing.
	OnAudio func(url string)
	// OnTranscription fires when the backend echoes what it heard.
	OnTranscription func(text string)
	// OnEvaluation fires when a scored result is applied.
	OnEvaluation func(eval *viva.Evaluation)
	// OnCompleted fires on the terminal transition.
	OnCompleted func(report *viva.FinalReport)
	// OnError surfaces recoverable errors (backend failure, watchdog
	// expiry, playback failure). The machine has already re-armed.
	OnError func(err error)
}
