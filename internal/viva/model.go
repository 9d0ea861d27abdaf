package viva

import "time"

// SessionStatus is the session lifecycle state.
type SessionStatus string

const (
	SessionStatusNotStarted SessionStatus = "NOT_STARTED"
	SessionStatusActive     SessionStatus = "ACTIVE"
	SessionStatusCompleted  SessionStatus = "COMPLETED"
)

// SessionConfig is the exam setup chosen before the session starts.
type SessionConfig struct {
	Subject    string `json:"subject" binding:"required"`
	Topic      string `json:"topic"`
	Difficulty string `json:"difficulty" binding:"omitempty,oneof=easy medium hard"`
	Voice      string `json:"voice"`
}

// Session is the identity and lifecycle view of one viva examination.
type Session struct {
	ID        string        `json:"id"`
	Config    SessionConfig `json:"config"`
	Status    SessionStatus `json:"status"`
	StartedAt time.Time     `json:"started_at,omitempty"`
}

// Turn is the currently presented question plus its evaluation once scored.
type Turn struct {
	QuestionNumber int         `json:"question_number"`
	TotalQuestions int         `json:"total_questions"`
	QuestionText   string      `json:"question_text"`
	Evaluation     *Evaluation `json:"evaluation,omitempty"`
}

// Evaluation is the backend's verdict on one answer. IsRepeat marks a
// repeat-request response, which carries no score and must not advance the
// exam. IsCompleted marks the exam's closing answer and carries the final
// report.
type Evaluation struct {
	QuestionNumber int          `json:"question_number"`
	TotalQuestions int          `json:"total_questions"`
	IsCompleted    bool         `json:"is_completed"`
	IsRepeat       bool         `json:"is_repeat"`
	Score          float64      `json:"score"`
	Feedback       string       `json:"feedback"`
	FinalReport    *FinalReport `json:"final_report,omitempty"`
}

// FinalReport is the immutable end-of-exam summary.
type FinalReport struct {
	TotalScore       float64  `json:"total_score"`
	MaxPossibleScore float64  `json:"max_possible_score"`
	Grade            string   `json:"grade"`
	Strengths        []string `json:"strengths,omitempty"`
	Weaknesses       []string `json:"weaknesses,omitempty"`
	Suggestions      []string `json:"suggestions,omitempty"`
}

// CueState is the playback lifecycle of one audio cue.
type CueState string

const (
	CueIdle    CueState = "idle"
	CuePlaying CueState = "playing"
	CueEnded   CueState = "ended"
	CueErrored CueState = "errored"
)

// AudioCue is one spoken prompt handed to the device surface for playback.
type AudioCue struct {
	URL      string   `json:"url"`
	Progress float64  `json:"progress"`
	State    CueState `json:"state"`
}

// ConnectionState is the push channel's connection state.
type ConnectionState string

const (
	ConnDisconnected ConnectionState = "disconnected"
	ConnConnecting   ConnectionState = "connecting"
	ConnConnected    ConnectionState = "connected"
)
