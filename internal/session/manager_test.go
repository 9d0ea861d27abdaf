package session

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/eduvox/viva-gateway/internal/backend"
	"github.com/eduvox/viva-gateway/internal/config"
	"github.com/eduvox/viva-gateway/internal/turn"
	"github.com/eduvox/viva-gateway/internal/viva"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// ─── Fake examiner backend ──────────────────────────────────────────

// fakeBackend serves the examiner contract over HTTP plus the push channel
// over /ws, recording what the gateway sent and letting tests script the
// responses.
type fakeBackend struct {
	t   *testing.T
	srv *httptest.Server

	mu       sync.Mutex
	conns    []*websocket.Conn
	chats    []backend.ChatRequest
	cleanups int
	healthy  bool
	chatResp backend.ChatResponse
	progress backend.ProgressResponse

	chatGate    chan struct{}
	releaseOnce sync.Once
}

func newFakeBackend(t *testing.T) *fakeBackend {
	fb := &fakeBackend{
		t:       t,
		healthy: true,
		chatResp: backend.ChatResponse{
			Response: "Good. Next: explain paging.",
			Evaluation: &viva.Evaluation{
				QuestionNumber: 2, TotalQuestions: 3, Score: 8, Feedback: "solid",
			},
		},
	}

	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		status := "healthy"
		fb.mu.Lock()
		if !fb.healthy {
			status = "degraded"
		}
		fb.mu.Unlock()
		json.NewEncoder(w).Encode(backend.HealthResponse{Status: status})
	})
	mux.HandleFunc("/start", func(w http.ResponseWriter, r *http.Request) {
		var req backend.StartRequest
		json.NewDecoder(r.Body).Decode(&req)
		json.NewEncoder(w).Encode(backend.StartResponse{
			SessionID: req.SessionID,
			Greeting:  "Welcome. First question:",
			CurrentQuestion: &backend.QuestionPayload{
				Text: "What is a process?", Number: 1, Total: 3,
			},
		})
	})
	mux.HandleFunc("/chat", func(w http.ResponseWriter, r *http.Request) {
		var req backend.ChatRequest
		json.NewDecoder(r.Body).Decode(&req)
		fb.mu.Lock()
		fb.chats = append(fb.chats, req)
		gate := fb.chatGate
		resp := fb.chatResp
		fb.mu.Unlock()
		if gate != nil {
			<-gate
		}
		json.NewEncoder(w).Encode(resp)
	})
	mux.HandleFunc("/progress", func(w http.ResponseWriter, r *http.Request) {
		fb.mu.Lock()
		resp := fb.progress
		fb.mu.Unlock()
		json.NewEncoder(w).Encode(resp)
	})
	mux.HandleFunc("/cleanup", func(w http.ResponseWriter, r *http.Request) {
		fb.mu.Lock()
		fb.cleanups++
		fb.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		fb.mu.Lock()
		fb.conns = append(fb.conns, conn)
		fb.mu.Unlock()
		// Drain join/pause emits until the gateway closes.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	fb.srv = httptest.NewServer(mux)
	t.Cleanup(func() {
		fb.releaseChat()
		fb.srv.Close()
	})
	return fb
}

func (fb *fakeBackend) config() *config.Config {
	return &config.Config{
		BackendBaseURL:       fb.srv.URL,
		AudioPathPrefix:      "/api/audio/",
		HealthTimeout:        time.Second,
		ControlTimeout:       time.Second,
		AudioTimeout:         time.Second,
		ReconnectMaxAttempts: 3,
		ReconnectBaseDelay:   10 * time.Millisecond,
		ProcessingGrace:      100 * time.Millisecond,
		SessionIdleTTL:       time.Hour,
		MaxClipBytes:         1 << 20,
	}
}

func (fb *fakeBackend) blockChat() {
	fb.mu.Lock()
	fb.chatGate = make(chan struct{})
	fb.mu.Unlock()
}

func (fb *fakeBackend) releaseChat() {
	fb.mu.Lock()
	gate := fb.chatGate
	fb.mu.Unlock()
	if gate != nil {
		fb.releaseOnce.Do(func() { close(gate) })
	}
}

func (fb *fakeBackend) setChatResp(resp backend.ChatResponse) {
	fb.mu.Lock()
	fb.chatResp = resp
	fb.mu.Unlock()
}

func (fb *fakeBackend) cleanupCount() int {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return fb.cleanups
}

func (fb *fakeBackend) chatCount() int {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return len(fb.chats)
}

func (fb *fakeBackend) lastChat() backend.ChatRequest {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return fb.chats[len(fb.chats)-1]
}

func (fb *fakeBackend) connCount() int {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return len(fb.conns)
}

// sendPush delivers one push event on the most recent channel connection.
func (fb *fakeBackend) sendPush(event string, payload interface{}) {
	fb.mu.Lock()
	conn := fb.conns[len(fb.conns)-1]
	fb.mu.Unlock()
	data, _ := json.Marshal(payload)
	if err := conn.WriteJSON(map[string]interface{}{"event": event, "data": json.RawMessage(data)}); err != nil {
		fb.t.Errorf("sendPush(%s): %v", event, err)
	}
}

// ─── Sink capture ───────────────────────────────────────────────────

type recSink struct {
	mu          sync.Mutex
	states      []turn.State
	questions   []viva.Turn
	cues        []viva.AudioCue
	transcripts []string
	evals       []viva.Evaluation
	completed   []*viva.FinalReport
	errs        []error
}

func (s *recSink) OnState(from, to turn.State) {
	s.mu.Lock()
	s.states = append(s.states, to)
	s.mu.Unlock()
}
func (s *recSink) OnMic(bool)     {}
func (s *recSink) OnMicHint(bool) {}
func (s *recSink) OnQuestion(t viva.Turn) {
	s.mu.Lock()
	s.questions = append(s.questions, t)
	s.mu.Unlock()
}
func (s *recSink) OnAudio(cue viva.AudioCue) {
	s.mu.Lock()
	s.cues = append(s.cues, cue)
	s.mu.Unlock()
}
func (s *recSink) OnTranscription(text string) {
	s.mu.Lock()
	s.transcripts = append(s.transcripts, text)
	s.mu.Unlock()
}
func (s *recSink) OnEvaluation(eval viva.Evaluation) {
	s.mu.Lock()
	s.evals = append(s.evals, eval)
	s.mu.Unlock()
}
func (s *recSink) OnCompleted(report *viva.FinalReport) {
	s.mu.Lock()
	s.completed = append(s.completed, report)
	s.mu.Unlock()
}
func (s *recSink) OnConnection(viva.ConnectionState) {}
func (s *recSink) OnPresenceCheck(string)            {}
func (s *recSink) OnError(err error) {
	s.mu.Lock()
	s.errs = append(s.errs, err)
	s.mu.Unlock()
}

func (s *recSink) evalCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.evals)
}

func (s *recSink) transcriptCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.transcripts)
}

// ─── Helpers ────────────────────────────────────────────────────────

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func startedManager(t *testing.T, fb *fakeBackend) (*Manager, *recSink) {
	t.Helper()
	cfg := fb.config()
	client := backend.NewClient(cfg, zerolog.Nop())
	m := NewManager(cfg, client, zerolog.Nop())
	sink := &recSink{}
	m.SetSink(sink)
	if err := m.Start(context.Background(), viva.SessionConfig{Subject: "Operating Systems"}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(m.Reset)
	return m, sink
}

// ─── Tests ──────────────────────────────────────────────────────────

func TestStartRejectsEmptySubject(t *testing.T) {
	fb := newFakeBackend(t)
	cfg := fb.config()
	m := NewManager(cfg, backend.NewClient(cfg, zerolog.Nop()), zerolog.Nop())

	err := m.Start(context.Background(), viva.SessionConfig{Subject: "   "})
	var ve *viva.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("err = %v, want ValidationError", err)
	}
	if got := m.Snapshot().Session.Status; got != viva.SessionStatusNotStarted {
		t.Fatalf("status = %s after rejected start", got)
	}
}

func TestStartRequiresHealthyBackend(t *testing.T) {
	fb := newFakeBackend(t)
	fb.mu.Lock()
	fb.healthy = false
	fb.mu.Unlock()

	cfg := fb.config()
	m := NewManager(cfg, backend.NewClient(cfg, zerolog.Nop()), zerolog.Nop())

	err := m.Start(context.Background(), viva.SessionConfig{Subject: "Physics"})
	var ue *viva.BackendUnavailableError
	if !errors.As(err, &ue) {
		t.Fatalf("err = %v, want BackendUnavailableError", err)
	}
}

func TestStartActivatesSessionWithFirstQuestion(t *testing.T) {
	fb := newFakeBackend(t)
	m, _ := startedManager(t, fb)

	snap := m.Snapshot()
	if snap.Session.Status != viva.SessionStatusActive {
		t.Fatalf("status = %s, want active", snap.Session.Status)
	}
	if snap.State != turn.StateWaitingForUser {
		t.Fatalf("state = %s, want %s", snap.State, turn.StateWaitingForUser)
	}
	if snap.Turn.QuestionNumber != 1 || snap.Turn.TotalQuestions != 3 || snap.Turn.QuestionText == "" {
		t.Fatalf("turn = %+v", snap.Turn)
	}

	// The push channel joins the session room in the background.
	waitFor(t, func() bool { return fb.connCount() == 1 })
	waitFor(t, func() bool { return m.Snapshot().Connection == viva.ConnConnected })
}

func TestStartTwiceIsRejected(t *testing.T) {
	fb := newFakeBackend(t)
	m, _ := startedManager(t, fb)

	err := m.Start(context.Background(), viva.SessionConfig{Subject: "Physics"})
	var ise *viva.InvalidStateError
	if !errors.As(err, &ise) {
		t.Fatalf("err = %v, want InvalidStateError", err)
	}
}

func TestSubmitTextAppliesResult(t *testing.T) {
	fb := newFakeBackend(t)
	m, sink := startedManager(t, fb)

	if err := m.SubmitText("A process is a running program."); err != nil {
		t.Fatalf("SubmitText: %v", err)
	}

	waitFor(t, func() bool { return sink.evalCount() == 1 })
	waitFor(t, func() bool { return m.Snapshot().State == turn.StateWaitingForUser })

	snap := m.Snapshot()
	if snap.Turn.QuestionNumber != 2 {
		t.Fatalf("question number = %d, want 2", snap.Turn.QuestionNumber)
	}
	if got := fb.lastChat(); got.Text == "" || got.ThreadID != m.ID() {
		t.Fatalf("chat request = %+v", got)
	}
}

func TestSubmitWhileProcessingIsRejected(t *testing.T) {
	fb := newFakeBackend(t)
	fb.blockChat()
	m, _ := startedManager(t, fb)

	if err := m.SubmitText("first answer"); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	err := m.SubmitText("second answer")
	var ise *viva.InvalidStateError
	if !errors.As(err, &ise) {
		t.Fatalf("second submit: %v, want InvalidStateError", err)
	}

	fb.releaseChat()
	waitFor(t, func() bool { return m.Snapshot().Turn.QuestionNumber == 2 })
}

func TestRecordedAnswerRoundTrip(t *testing.T) {
	fb := newFakeBackend(t)
	fb.setChatResp(backend.ChatResponse{
		Response:      "Correct. Next question.",
		Transcription: "virtual memory pages",
		Evaluation:    &viva.Evaluation{QuestionNumber: 2, TotalQuestions: 3, Score: 9},
	})
	m, sink := startedManager(t, fb)

	if err := m.StartRecording(); err != nil {
		t.Fatalf("StartRecording: %v", err)
	}
	for _, chunk := range [][]byte{[]byte("chunk1"), []byte("chunk2")} {
		if err := m.AppendAudioChunk(chunk); err != nil {
			t.Fatalf("AppendAudioChunk: %v", err)
		}
	}
	if err := m.StopRecording(); err != nil {
		t.Fatalf("StopRecording: %v", err)
	}

	waitFor(t, func() bool { return sink.transcriptCount() == 1 })
	waitFor(t, func() bool { return m.Snapshot().Turn.QuestionNumber == 2 })

	got := fb.lastChat()
	clip, err := base64.StdEncoding.DecodeString(got.AudioData)
	if err != nil || string(clip) != "chunk1chunk2" {
		t.Fatalf("audio_data = %q (decode err %v)", got.AudioData, err)
	}

	sink.mu.Lock()
	transcript := sink.transcripts[0]
	sink.mu.Unlock()
	if transcript != "virtual memory pages" {
		t.Fatalf("transcription = %q", transcript)
	}
}

func TestStartRecordingRefusedOutsideUserTurn(t *testing.T) {
	fb := newFakeBackend(t)
	fb.blockChat()
	m, _ := startedManager(t, fb)

	if err := m.SubmitText("answer"); err != nil {
		t.Fatal(err)
	}
	err := m.StartRecording()
	var me *viva.MediaError
	if !errors.As(err, &me) {
		t.Fatalf("StartRecording while processing: %v, want MediaError", err)
	}
	fb.releaseChat()
}

func TestPushDeliveredResultDrivesTheTurn(t *testing.T) {
	fb := newFakeBackend(t)
	fb.blockChat()
	m, sink := startedManager(t, fb)
	waitFor(t, func() bool { return fb.connCount() == 1 })

	if err := m.SubmitText("answer over a slow link"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return fb.chatCount() == 1 })

	// The push channel beats the stalled HTTP response.
	fb.sendPush("ai_response", backend.ChatResponse{
		Response:   "Next: describe a context switch.",
		Evaluation: &viva.Evaluation{QuestionNumber: 2, TotalQuestions: 3, Score: 7},
	})

	waitFor(t, func() bool { return m.Snapshot().State == turn.StateWaitingForUser })
	if got := m.Snapshot().Turn.QuestionNumber; got != 2 {
		t.Fatalf("question number = %d, want 2", got)
	}

	// The late HTTP result is a duplicate and must change nothing.
	fb.releaseChat()
	time.Sleep(50 * time.Millisecond)
	if got := m.Snapshot().Turn.QuestionNumber; got != 2 {
		t.Fatalf("question number after duplicate = %d, want 2", got)
	}
	if n := sink.evalCount(); n != 1 {
		t.Fatalf("evaluations delivered = %d, want 1", n)
	}
}

func TestCompletedExamReachesTerminalState(t *testing.T) {
	fb := newFakeBackend(t)
	fb.setChatResp(backend.ChatResponse{
		Response: "That concludes your examination.",
		Evaluation: &viva.Evaluation{
			QuestionNumber: 3, TotalQuestions: 3, Score: 8, IsCompleted: true,
			FinalReport: &viva.FinalReport{TotalScore: 24, MaxPossibleScore: 30, Grade: "A"},
		},
	})
	m, sink := startedManager(t, fb)

	if err := m.SubmitText("final answer"); err != nil {
		t.Fatal(err)
	}

	waitFor(t, func() bool { return m.Snapshot().State == turn.StateCompleted })
	snap := m.Snapshot()
	if snap.Session.Status != viva.SessionStatusCompleted {
		t.Fatalf("status = %s, want completed", snap.Session.Status)
	}
	if snap.FinalReport == nil || snap.FinalReport.Grade != "A" {
		t.Fatalf("final report = %+v", snap.FinalReport)
	}
	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.completed) != 1 {
		t.Fatalf("completed events = %d, want 1", len(sink.completed))
	}

	// Terminal state refuses further answers.
	var ise *viva.InvalidStateError
	if err := m.SubmitText("one more"); !errors.As(err, &ise) {
		t.Fatalf("submit after completion: %v, want InvalidStateError", err)
	}
}

func TestFetchProgressOverwritesLocalTurn(t *testing.T) {
	fb := newFakeBackend(t)
	fb.mu.Lock()
	fb.progress = backend.ProgressResponse{
		Status: "active",
		Progress: backend.ProgressPayload{
			CurrentQuestionIndex: 1, TotalQuestions: 3,
			CurrentScore: 8, MaxPossibleScore: 10, Status: "active",
		},
	}
	fb.mu.Unlock()
	m, _ := startedManager(t, fb)

	snap, err := m.FetchProgress(context.Background())
	if err != nil {
		t.Fatalf("FetchProgress: %v", err)
	}
	// Backend index is 0-based, turns are 1-based.
	if snap.Turn.QuestionNumber != 2 || snap.Turn.TotalQuestions != 3 {
		t.Fatalf("turn = %+v", snap.Turn)
	}
}

func TestFetchProgressCompletesFinishedExam(t *testing.T) {
	fb := newFakeBackend(t)
	fb.mu.Lock()
	fb.progress = backend.ProgressResponse{
		Status: "completed",
		Progress: backend.ProgressPayload{
			CurrentQuestionIndex: 2, TotalQuestions: 3, Status: "completed",
			FinalReport: &viva.FinalReport{TotalScore: 20, MaxPossibleScore: 30, Grade: "B"},
		},
	}
	fb.mu.Unlock()
	m, _ := startedManager(t, fb)

	snap, err := m.FetchProgress(context.Background())
	if err != nil {
		t.Fatalf("FetchProgress: %v", err)
	}
	if snap.State != turn.StateCompleted || snap.Session.Status != viva.SessionStatusCompleted {
		t.Fatalf("snapshot = state %s, status %s", snap.State, snap.Session.Status)
	}
	if snap.FinalReport == nil || snap.FinalReport.Grade != "B" {
		t.Fatalf("final report = %+v", snap.FinalReport)
	}
}

func TestResetIsIdempotentWithSingleCleanup(t *testing.T) {
	fb := newFakeBackend(t)
	m, _ := startedManager(t, fb)

	m.Reset()
	m.Reset()
	m.Reset()

	waitFor(t, func() bool { return fb.cleanupCount() == 1 })
	time.Sleep(50 * time.Millisecond)
	if n := fb.cleanupCount(); n != 1 {
		t.Fatalf("cleanup calls = %d, want exactly 1", n)
	}

	snap := m.Snapshot()
	if snap.Session.Status != viva.SessionStatusNotStarted {
		t.Fatalf("status after reset = %s", snap.Session.Status)
	}
	if snap.Turn.QuestionNumber != 0 || snap.Connection != viva.ConnDisconnected {
		t.Fatalf("snapshot after reset = %+v", snap)
	}
}

func TestRestartedManagerCleansUpAgain(t *testing.T) {
	fb := newFakeBackend(t)
	m, _ := startedManager(t, fb)

	m.Reset()
	waitFor(t, func() bool { return fb.cleanupCount() == 1 })

	if err := m.Start(context.Background(), viva.SessionConfig{Subject: "Physics"}); err != nil {
		t.Fatalf("restart: %v", err)
	}
	m.Reset()
	waitFor(t, func() bool { return fb.cleanupCount() == 2 })
}

func TestClearSinkOnlyDetachesMatchingSink(t *testing.T) {
	fb := newFakeBackend(t)
	cfg := fb.config()
	m := NewManager(cfg, backend.NewClient(cfg, zerolog.Nop()), zerolog.Nop())

	current, stale := &recSink{}, &recSink{}
	m.SetSink(current)

	// A dead connection's teardown must not clobber the live sink.
	m.ClearSink(stale)
	m.mu.Lock()
	got := m.sink
	m.mu.Unlock()
	if got != Sink(current) {
		t.Fatalf("stale ClearSink detached the live sink (now %v)", got)
	}

	m.ClearSink(current)
	m.mu.Lock()
	got = m.sink
	m.mu.Unlock()
	if got != nil {
		t.Fatalf("sink = %v after matching ClearSink, want nil", got)
	}
}

func TestReplayRefusedWithoutHistory(t *testing.T) {
	fb := newFakeBackend(t)
	m, _ := startedManager(t, fb)

	err := m.Replay()
	var me *viva.MediaError
	if !errors.As(err, &me) {
		t.Fatalf("Replay with no cue: %v, want MediaError", err)
	}
}

func TestSubmitEmptyTextRejected(t *testing.T) {
	fb := newFakeBackend(t)
	m, _ := startedManager(t, fb)

	err := m.SubmitText("   ")
	var ve *viva.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("err = %v, want ValidationError", err)
	}
	if !strings.Contains(err.Error(), "text") {
		t.Fatalf("error does not name the field: %v", err)
	}
}
