package turn

import (
	"sync"
	"time"

	"github.com/eduvox/viva-gateway/internal/viva"
	"github.com/rs/zerolog"
)

// Coordinator is the turn-taking state machine for one viva session. Every
// inbound event — HTTP result, push event, playback notification, watchdog
// expiry, reset — funnels through one mutex-serialized update path, which is
// what makes the de-duplication rule enforceable: the same submission's
// result may arrive on both channels, and only the first arrival is applied.
type Coordinator struct {
	mu    sync.Mutex
	state State

	turn   viva.Turn
	report *viva.FinalReport

	// seq increments on every submission; consumed flips when its result
	// has been applied. Together they implement the per-submission
	// de-duplication flag and the stale-response guard.
	seq      int
	consumed bool

	// pendingCompleted defers the terminal transition until the closing
	// audio finishes.
	pendingCompleted bool

	grace    time.Duration
	watchdog *time.Timer

	events Events
	log    zerolog.Logger
}

// NewCoordinator creates a coordinator in WaitingForUser with no question.
// grace is added on top of each submission's request timeout before the
// processing watchdog gives up.
func NewCoordinator(grace time.Duration, events Events, log zerolog.Logger) *Coordinator {
	return &Coordinator{
		state:  StateWaitingForUser,
		grace:  grace,
		events: events,
		log:    log.With().Str("component", "turn_coordinator").Logger(),
	}
}

// State returns the current machine state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Turn returns a snapshot of the current turn.
func (c *Coordinator) Turn() viva.Turn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.turn
}

// Report returns the final report, nil until completion.
func (c *Coordinator) Report() *viva.FinalReport {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.report
}

// MicAllowed reports whether capture may be armed right now.
func (c *Coordinator) MicAllowed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == StateWaitingForUser
}

// Begin seeds the machine from the start response: the first question and
// the greeting cue. With audio the machine opens in AISpeaking (the AI is
// talking), otherwise the user may answer immediately.
func (c *Coordinator) Begin(first viva.Turn, audioURL string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.turn = first
	c.emitQuestion()
	if audioURL != "" {
		c.transition(StateAISpeaking)
		c.emitAudio(audioURL)
	} else {
		c.transition(StateWaitingForUser)
	}
}

// BeginSubmission guards and opens a new submission. It returns the
// submission sequence the HTTP path must present with its result, or
// InvalidStateError when it is not the user's turn. The mic is disarmed
// immediately; the watchdog is armed with the request timeout plus grace.
func (c *Coordinator) BeginSubmission(requestTimeout time.Duration) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateWaitingForUser {
		return 0, &viva.InvalidStateError{Op: "submit", State: string(c.state)}
	}

	c.seq++
	c.consumed = false
	seq := c.seq
	c.transition(StateProcessing)

	c.stopWatchdogLocked()
	deadline := requestTimeout + c.grace
	c.watchdog = time.AfterFunc(deadline, func() { c.handleTimeout(seq) })

	return seq, nil
}

// HandleResult applies one delivered result. seq is the submission sequence
// for HTTP-delivered results, or CurrentSubmission for push-delivered ones.
// The second delivery of the same submission's result is a no-op.
func (c *Coordinator) HandleResult(seq int, src Source, res *Result) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateProcessing {
		c.log.Debug().Str("source", string(src)).Str("state", string(c.state)).Msg("Result dropped, no submission in flight")
		return
	}
	if seq != CurrentSubmission && seq != c.seq {
		c.log.Warn().Str("source", string(src)).Int("seq", seq).Int("current", c.seq).Msg("Stale result dropped")
		return
	}
	if c.consumed {
		c.log.Info().Str("source", string(src)).Int("seq", c.seq).Msg("Duplicate result dropped")
		return
	}
	c.consumed = true
	c.stopWatchdogLocked()

	if res.Transcription != "" && c.events.OnTranscription != nil {
		c.events.OnTranscription(res.Transcription)
	}

	if res.IsRepeat {
		c.applyRepeatLocked(res)
		return
	}
	c.applyScoredLocked(res)
}

// applyRepeatLocked re-presents the current question. A repeat never touches
// QuestionNumber, never records a score, and never completes the exam; only
// the spoken cue (and the re-presented prompt) change.
func (c *Coordinator) applyRepeatLocked(res *Result) {
	c.emitQuestion()
	if res.AudioURL != "" {
		c.transition(StateAISpeaking)
		c.emitAudio(res.AudioURL)
		return
	}
	c.transition(StateWaitingForUser)
}

func (c *Coordinator) applyScoredLocked(res *Result) {
	if eval := res.Evaluation; eval != nil {
		c.turn.Evaluation = eval
		if eval.QuestionNumber > 0 {
			c.turn.QuestionNumber = eval.QuestionNumber
		}
		if eval.TotalQuestions > 0 {
			c.turn.TotalQuestions = eval.TotalQuestions
		}
		if c.events.OnEvaluation != nil {
			c.events.OnEvaluation(eval)
		}
		if eval.IsCompleted {
			c.pendingCompleted = true
			c.report = eval.FinalReport
		}
	}

	if c.pendingCompleted {
		c.turn.QuestionText = ""
	} else {
		c.turn.QuestionText = res.Text
	}
	c.emitQuestion()

	if res.AudioURL != "" {
		c.transition(StateAISpeaking)
		c.emitAudio(res.AudioURL)
		return
	}
	c.settleAfterSpeechLocked()
}

// PlaybackEnded consumes the cue-completion event from the audio pipeline.
func (c *Coordinator) PlaybackEnded() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateAISpeaking {
		c.log.Debug().Str("state", string(c.state)).Msg("Playback end ignored")
		return
	}
	c.settleAfterSpeechLocked()
}

// PlaybackFailed consumes a cue failure. The machine must never stay stuck
// because an audio resource failed to load: the error is surfaced and the
// turn settles exactly as if the cue had finished.
func (c *Coordinator) PlaybackFailed(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.events.OnError != nil {
		c.events.OnError(&viva.MediaError{Op: "playback", Reason: reason})
	}
	if c.state != StateAISpeaking {
		return
	}
	c.settleAfterSpeechLocked()
}

// settleAfterSpeechLocked picks the post-speech state: Completed when the
// applied evaluation closed the exam, WaitingForUser otherwise.
func (c *Coordinator) settleAfterSpeechLocked() {
	if c.pendingCompleted {
		c.transition(StateCompleted)
		if c.events.OnCompleted != nil {
			c.events.OnCompleted(c.report)
		}
		return
	}
	c.transition(StateWaitingForUser)
}

// HandleSubmitFailure reports a failed HTTP submission. If the push channel
// already delivered the result the failure is moot; otherwise the error is
// surfaced as recoverable and the mic re-arms so the user can retry.
func (c *Coordinator) HandleSubmitFailure(seq int, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateProcessing || seq != c.seq || c.consumed {
		c.log.Debug().Err(err).Msg("Submit failure superseded, ignoring")
		return
	}
	c.consumed = true
	c.stopWatchdogLocked()

	if c.events.OnError != nil {
		c.events.OnError(err)
	}
	c.transition(StateWaitingForUser)
}

// handleTimeout is the processing watchdog: no result arrived on either
// channel within the deadline. Never leaves the machine in Processing.
func (c *Coordinator) handleTimeout(seq int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateProcessing || seq != c.seq || c.consumed {
		return
	}
	c.consumed = true
	c.log.Warn().Int("seq", seq).Msg("Processing watchdog expired")

	if c.events.OnError != nil {
		c.events.OnError(&viva.BackendError{Body: "no result within deadline"})
	}
	c.transition(StateWaitingForUser)
}

// ApplyProgress overwrites turn and report state from an authoritative
// progress snapshot (pull-based reconciliation after missed push events).
// It does not change the machine state except to complete a finished exam.
func (c *Coordinator) ApplyProgress(t viva.Turn, report *viva.FinalReport, completed bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.turn = t
	if report != nil {
		c.report = report
	}
	c.emitQuestion()
	if completed && c.state != StateCompleted {
		c.pendingCompleted = true
		if c.state != StateAISpeaking {
			c.settleAfterSpeechLocked()
		}
	}
}

// Reset returns the machine to its initial state after a full teardown.
func (c *Coordinator) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stopWatchdogLocked()
	c.turn = viva.Turn{}
	c.report = nil
	c.consumed = false
	c.pendingCompleted = false
	c.transition(StateWaitingForUser)
}

// ─── Internals (mu held) ────────────────────────────────────────────

func (c *Coordinator) transition(to State) {
	if c.state == to {
		return
	}
	from := c.state
	c.state = to
	c.log.Debug().Str("from", string(from)).Str("to", string(to)).Msg("Transition")

	if c.events.OnState != nil {
		c.events.OnState(from, to)
	}
	if c.events.OnMic != nil {
		c.events.OnMic(to == StateWaitingForUser)
	}
}

func (c *Coordinator) emitQuestion() {
	if c.events.OnQuestion != nil {
		c.events.OnQuestion(c.turn)
	}
}

func (c *Coordinator) emitAudio(url string) {
	if c.events.OnAudio != nil {
		c.events.OnAudio(url)
	}
}

func (c *Coordinator) stopWatchdogLocked() {
	if c.watchdog != nil {
		c.watchdog.Stop()
		c.watchdog = nil
	}
}
