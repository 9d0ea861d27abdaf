package session

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/eduvox/viva-gateway/internal/audio"
	"github.com/eduvox/viva-gateway/internal/backend"
	"github.com/eduvox/viva-gateway/internal/config"
	"github.com/eduvox/viva-gateway/internal/push"
	"github.com/eduvox/viva-gateway/internal/turn"
	"github.com/eduvox/viva-gateway/internal/viva"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Snapshot is the REST view of a session.
type Snapshot struct {
	Session     viva.Session         `json:"session"`
	State       turn.State           `json:"state"`
	Turn        viva.Turn            `json:"turn"`
	FinalReport *viva.FinalReport    `json:"final_report,omitempty"`
	Connection  viva.ConnectionState `json:"connection"`
}

// Manager owns the single source of truth for one viva session: identity,
// lifecycle, the turn coordinator, the audio pipeline, and both transport
// channels. One Manager per session id; the Registry owns the table.
type Manager struct {
	id       string
	appCfg   *config.Config
	client   *backend.Client
	resolver *audio.Resolver
	recorder *audio.Recorder
	player   *audio.Player
	coord    *turn.Coordinator
	log      zerolog.Logger

	mu           sync.Mutex
	cfg          viva.SessionConfig
	status       viva.SessionStatus
	startedAt    time.Time
	lastActivity time.Time
	channel      *push.Channel
	cleanupSent  bool
	sink         Sink
}

// NewManager creates a not-yet-started session with a freshly generated id.
func NewManager(appCfg *config.Config, client *backend.Client, log zerolog.Logger) *Manager {
	id := uuid.New().String()
	m := &Manager{
		id:           id,
		appCfg:       appCfg,
		client:       client,
		resolver:     audio.NewResolver(appCfg.BackendBaseURL, appCfg.AudioPathPrefix),
		recorder:     audio.NewRecorder(appCfg.MaxClipBytes),
		player:       audio.NewPlayer(),
		status:       viva.SessionStatusNotStarted,
		lastActivity: time.Now(),
		log:          log.With().Str("component", "session_manager").Str("session_id", id).Logger(),
	}
	m.coord = turn.NewCoordinator(appCfg.ProcessingGrace, turn.Events{
		OnState:         m.onState,
		OnMic:           m.onMic,
		OnQuestion:      m.onQuestion,
		OnAudio:         m.onAudio,
		OnTranscription: m.onTranscription,
		OnEvaluation:    m.onEvaluation,
		OnCompleted:     m.onCompleted,
		OnError:         m.onError,
	}, m.log)
	return m
}

// ID returns the session id.
func (m *Manager) ID() string { return m.id }

// SetSink attaches (or replaces) the UI event sink.
func (m *Manager) SetSink(s Sink) {
	m.mu.Lock()
	m.sink = s
	m.mu.Unlock()
}

// ClearSink detaches the sink only if it is still the expected one, so a
// stale connection's teardown cannot mute a newer connection's sink.
func (m *Manager) ClearSink(expected Sink) {
	m.mu.Lock()
	if m.sink == expected {
		m.sink = nil
	}
	m.mu.Unlock()
}

// Start validates the config, health-checks the backend, starts the exam,
// and opens the push channel. Only valid on a not-yet-started session.
func (m *Manager) Start(ctx context.Context, cfg viva.SessionConfig) error {
	if strings.TrimSpace(cfg.Subject) == "" {
		return &viva.ValidationError{Field: "subject", Reason: "must not be empty"}
	}

	m.mu.Lock()
	if m.status != viva.SessionStatusNotStarted {
		status := m.status
		m.mu.Unlock()
		return &viva.InvalidStateError{Op: "start", State: string(status)}
	}
	m.mu.Unlock()

	// The health probe has its own bounded timeout; a slow or degraded
	// backend fails fast here instead of during the first question.
	health, err := m.client.Health(ctx)
	if err != nil {
		return &viva.BackendUnavailableError{Reason: err.Error()}
	}
	if !health.Healthy() {
		return &viva.BackendUnavailableError{Reason: "health check reported " + health.Status}
	}

	resp, err := m.client.Start(ctx, m.id, cfg)
	if err != nil {
		return err
	}

	first := viva.Turn{QuestionNumber: 1}
	if q := resp.CurrentQuestion; q != nil {
		first = viva.Turn{QuestionNumber: q.Number, TotalQuestions: q.Total, QuestionText: q.Text}
	} else if spoken := resp.Spoken(); spoken != "" {
		first.QuestionText = spoken
	}

	m.mu.Lock()
	m.cfg = cfg
	m.status = viva.SessionStatusActive
	m.cleanupSent = false // A restarted manager owes its own cleanup.
	m.startedAt = time.Now()
	m.lastActivity = m.startedAt
	m.channel = push.NewChannel(
		m.appCfg.PushURL(), m.id,
		m.appCfg.ReconnectMaxAttempts, m.appCfg.ReconnectBaseDelay,
		push.Handlers{
			OnAIResponse:       m.onPushResult,
			OnMicStatus:        m.onMicHint,
			OnPresenceCheck:    m.onPresenceCheck,
			OnState:            m.onConnection,
			OnRetriesExhausted: m.onRetriesExhausted,
		}, m.log)
	channel := m.channel
	m.mu.Unlock()

	// Push connectivity is independent of the request channel: a failed
	// connect is surfaced as ConnectionState, never as a start failure.
	if err := channel.Connect(); err != nil {
		m.log.Warn().Err(err).Msg("Push channel connect failed at start")
	}

	audioURL := ""
	if resp.AudioPath != "" {
		if audioURL, err = m.resolver.Resolve(resp.AudioPath); err != nil {
			m.log.Warn().Err(err).Msg("Greeting audio path unusable")
			audioURL = ""
		}
	}

	m.coord.Begin(first, audioURL)
	m.log.Info().Str("subject", cfg.Subject).Msg("Session started")
	return nil
}

// SubmitText submits a typed answer. Guarded by the turn machine; the
// network exchange runs asynchronously and its outcome arrives as events.
func (m *Manager) SubmitText(text string) error {
	if strings.TrimSpace(text) == "" {
		return &viva.ValidationError{Field: "text", Reason: "must not be empty"}
	}
	if err := m.requireActive("submit"); err != nil {
		return err
	}

	seq, err := m.coord.BeginSubmission(m.client.ControlTimeout())
	if err != nil {
		return err
	}
	m.touch()

	go func() {
		ctx := context.Background()
		resp, err := m.client.ChatText(ctx, m.id, text)
		if err != nil {
			m.coord.HandleSubmitFailure(seq, err)
			return
		}
		m.coord.HandleResult(seq, turn.SourceHTTP, m.buildResult(resp))
	}()
	return nil
}

// StartRecording arms the microphone capture. Only allowed while the turn
// machine says it is the user's turn; otherwise MediaError and no
// acquisition happens.
func (m *Manager) StartRecording() error {
	if err := m.requireActive("record"); err != nil {
		return err
	}
	if !m.coord.MicAllowed() {
		return &viva.MediaError{Op: "arm", Reason: "not your turn to speak"}
	}
	m.touch()
	return m.recorder.Arm()
}

// AppendAudioChunk buffers one encoded chunk from the device surface.
func (m *Manager) AppendAudioChunk(chunk []byte) error {
	m.touch()
	return m.recorder.Append(chunk)
}

// StopRecording closes the capture and submits the assembled clip as the
// answer, releasing the media buffers either way.
func (m *Manager) StopRecording() error {
	clip, err := m.recorder.Stop()
	if err != nil {
		return err
	}
	if err := m.requireActive("submit"); err != nil {
		return err
	}

	seq, err := m.coord.BeginSubmission(m.client.AudioTimeout())
	if err != nil {
		return err
	}
	m.touch()

	go func() {
		ctx := context.Background()
		resp, err := m.client.ChatAudio(ctx, m.id, clip)
		if err != nil {
			m.coord.HandleSubmitFailure(seq, err)
			return
		}
		m.coord.HandleResult(seq, turn.SourceHTTP, m.buildResult(resp))
	}()
	return nil
}

// PlaybackProgress records a device-side position update (0–100).
func (m *Manager) PlaybackProgress(pct float64) {
	m.touch()
	if err := m.player.Progress(pct); err != nil {
		m.log.Debug().Err(err).Msg("Progress report without active cue")
	}
}

// PlaybackEnded consumes the cue-completion event.
func (m *Manager) PlaybackEnded() {
	m.touch()
	if _, err := m.player.Ended(); err != nil {
		m.log.Debug().Err(err).Msg("Playback end without active cue")
	}
	m.coord.PlaybackEnded()
}

// PlaybackFailed consumes a device-side playback error.
func (m *Manager) PlaybackFailed(reason string) {
	m.touch()
	m.player.Errored()
	m.coord.PlaybackFailed(reason)
}

// Replay re-plays the last cue. Refused while the AI is speaking.
func (m *Manager) Replay() error {
	if err := m.requireActive("replay"); err != nil {
		return err
	}
	if m.coord.State() == turn.StateAISpeaking {
		return &viva.MediaError{Op: "replay", Reason: "audio already playing"}
	}
	cue, err := m.player.Replay()
	if err != nil {
		return err
	}
	m.touch()
	m.notify(func(s Sink) { s.OnAudio(*cue) })
	return nil
}

// AudioPaused forwards the device's pause signal to the backend.
func (m *Manager) AudioPaused() {
	if ch := m.pushChannel(); ch != nil {
		ch.NotifyAudioPaused()
	}
}

// AudioResumed forwards the device's resume signal to the backend.
func (m *Manager) AudioResumed() {
	if ch := m.pushChannel(); ch != nil {
		ch.NotifyAudioResumed()
	}
}

// ReconnectPush manually re-dials the push channel after automatic retries
// are exhausted.
func (m *Manager) ReconnectPush() error {
	ch := m.pushChannel()
	if ch == nil {
		return &viva.InvalidStateError{Op: "reconnect", State: string(viva.SessionStatusNotStarted)}
	}
	m.touch()
	return ch.Reconnect()
}

// FetchProgress pulls the authoritative progress snapshot and overwrites
// local turn/report state. Used to recover from missed push events.
func (m *Manager) FetchProgress(ctx context.Context) (*Snapshot, error) {
	if err := m.requireActiveOrCompleted("progress"); err != nil {
		return nil, err
	}
	resp, err := m.client.Progress(ctx, m.id)
	if err != nil {
		return nil, err
	}
	m.touch()

	p := resp.Progress
	t := viva.Turn{
		// The backend reports a 0-based index; turns are 1-based.
		QuestionNumber: p.CurrentQuestionIndex + 1,
		TotalQuestions: p.TotalQuestions,
	}
	completed := p.Status == "completed" || resp.Status == "completed"
	m.coord.ApplyProgress(t, p.FinalReport, completed)

	if completed {
		m.mu.Lock()
		m.status = viva.SessionStatusCompleted
		m.mu.Unlock()
	}

	snap := m.Snapshot()
	return &snap, nil
}

// Reset tears the session down and returns all state to pre-session
// defaults. Idempotent: the best-effort backend cleanup is issued exactly
// once per live session, asynchronously, and its failure is only logged.
func (m *Manager) Reset() {
	m.mu.Lock()
	channel := m.channel
	m.channel = nil
	sendCleanup := m.status != viva.SessionStatusNotStarted && !m.cleanupSent
	if sendCleanup {
		m.cleanupSent = true
	}
	m.status = viva.SessionStatusNotStarted
	m.cfg = viva.SessionConfig{}
	m.startedAt = time.Time{}
	m.mu.Unlock()

	if channel != nil {
		channel.Close()
	}
	m.recorder.Reset()
	m.player.Stop()
	m.coord.Reset()

	if sendCleanup {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), m.appCfg.HealthTimeout)
			defer cancel()
			if err := m.client.Cleanup(ctx, m.id); err != nil {
				m.log.Warn().Err(err).Msg("Best-effort cleanup failed")
			}
		}()
	}
	m.log.Info().Msg("Session reset")
}

// Snapshot returns the REST view of the session.
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	sess := viva.Session{ID: m.id, Config: m.cfg, Status: m.status, StartedAt: m.startedAt}
	channel := m.channel
	m.mu.Unlock()

	conn := viva.ConnDisconnected
	if channel != nil {
		conn = channel.State()
	}
	return Snapshot{
		Session:     sess,
		State:       m.coord.State(),
		Turn:        m.coord.Turn(),
		FinalReport: m.coord.Report(),
		Connection:  conn,
	}
}

// IdleSince reports the last user/device activity, for the registry reaper.
func (m *Manager) IdleSince() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastActivity
}

// ─── Coordinator event plumbing ─────────────────────────────────────

func (m *Manager) onState(from, to turn.State) {
	if to == turn.StateCompleted {
		m.mu.Lock()
		m.status = viva.SessionStatusCompleted
		m.mu.Unlock()
	}
	m.notify(func(s Sink) { s.OnState(from, to) })
}

func (m *Manager) onMic(armed bool) {
	if !armed {
		// Losing the turn always closes any open capture.
		m.recorder.Reset()
	}
	m.notify(func(s Sink) { s.OnMic(armed) })
}

func (m *Manager) onQuestion(t viva.Turn) {
	m.notify(func(s Sink) { s.OnQuestion(t) })
}

func (m *Manager) onAudio(url string) {
	cue := m.player.Play(url)
	m.notify(func(s Sink) { s.OnAudio(*cue) })
}

func (m *Manager) onTranscription(text string) {
	m.notify(func(s Sink) { s.OnTranscription(text) })
}

func (m *Manager) onEvaluation(eval *viva.Evaluation) {
	m.notify(func(s Sink) { s.OnEvaluation(*eval) })
}

func (m *Manager) onCompleted(report *viva.FinalReport) {
	m.notify(func(s Sink) { s.OnCompleted(report) })
}

func (m *Manager) onError(err error) {
	m.notify(func(s Sink) { s.OnError(err) })
}

// ─── Push channel plumbing ──────────────────────────────────────────

// onPushResult feeds a push-delivered result into the same serialized
// dispatch path as HTTP results. The coordinator's consumed flag makes the
// second delivery of the same submission a no-op, whichever arrives first.
func (m *Manager) onPushResult(resp *backend.ChatResponse) {
	m.coord.HandleResult(turn.CurrentSubmission, turn.SourcePush, m.buildResult(resp))
}

func (m *Manager) onMicHint(enabled bool) {
	m.notify(func(s Sink) { s.OnMicHint(enabled) })
}

func (m *Manager) onPresenceCheck(msg string) {
	m.notify(func(s Sink) { s.OnPresenceCheck(msg) })
}

func (m *Manager) onConnection(cs viva.ConnectionState) {
	m.notify(func(s Sink) { s.OnConnection(cs) })
}

func (m *Manager) onRetriesExhausted(err *viva.ConnectionError) {
	m.notify(func(s Sink) { s.OnError(err) })
}

// ─── Internals ──────────────────────────────────────────────────────

func (m *Manager) buildResult(resp *backend.ChatResponse) *turn.Result {
	res := &turn.Result{
		Text:          resp.Spoken(),
		Transcription: resp.Transcription,
		IsRepeat:      resp.IsRepeat,
		Evaluation:    resp.Evaluation,
	}
	if resp.Evaluation != nil && resp.Evaluation.IsRepeat {
		res.IsRepeat = true
	}
	if resp.AudioPath != "" {
		url, err := m.resolver.Resolve(resp.AudioPath)
		if err != nil {
			m.log.Warn().Err(err).Msg("Result audio path unusable")
		} else {
			res.AudioURL = url
		}
	}
	return res
}

func (m *Manager) requireActive(op string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.status != viva.SessionStatusActive {
		return &viva.InvalidStateError{Op: op, State: string(m.status)}
	}
	return nil
}

func (m *Manager) requireActiveOrCompleted(op string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.status == viva.SessionStatusNotStarted {
		return &viva.InvalidStateError{Op: op, State: string(m.status)}
	}
	return nil
}

func (m *Manager) pushChannel() *push.Channel {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.channel
}

func (m *Manager) touch() {
	m.mu.Lock()
	m.lastActivity = time.Now()
	m.mu.Unlock()
}

// notify invokes the sink outside the manager lock.
func (m *Manager) notify(fn func(Sink)) {
	m.mu.Lock()
	sink := m.sink
	m.mu.Unlock()
	if sink != nil {
		fn(sink)
	}
}
