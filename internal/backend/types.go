package backend

import "github.com/eduvox/viva-gateway/internal/viva"

// Wire shapes for the examiner backend contract. The backend is free to use
// either of the alternate text fields (greeting|text, response|text); the
// Spoken helpers normalize that away for callers.

// HealthResponse is the shape of GET /health.
type HealthResponse struct {
	Status   string            `json:"status"`
	Services map[string]string `json:"services,omitempty"`
}

// Healthy reports whether the backend considers itself fully up.
func (h *HealthResponse) Healthy() bool {
	return h.Status == "healthy"
}

// StartRequest is the body of POST /start.
type StartRequest struct {
	SessionID  string `json:"session_id"`
	Subject    string `json:"subject"`
	Topic      string `json:"topic,omitempty"`
	Difficulty string `json:"difficulty,omitempty"`
	Voice      string `json:"voice,omitempty"`
}

// QuestionPayload is the backend's question shape.
type QuestionPayload struct {
	Text   string `json:"text"`
	Number int    `json:"number"`
	Total  int    `json:"total"`
}

// StartResponse is the shape of POST /start.
type StartResponse struct {
	SessionID       string           `json:"session_id"`
	Greeting        string           `json:"greeting"`
	Text            string           `json:"text"`
	AudioPath       string           `json:"audio_path,omitempty"`
	CurrentQuestion *QuestionPayload `json:"current_question,omitempty"`
}

// Spoken returns the greeting text regardless of which field carried it.
func (r *StartResponse) Spoken() string {
	if r.Greeting != "" {
		return r.Greeting
	}
	return r.Text
}

// ChatRequest is the body of POST /chat. Exactly one of Text or AudioData
// (base64-encoded clip) is set.
type ChatRequest struct {
	ThreadID  string `json:"thread_id"`
	Text      string `json:"text,omitempty"`
	AudioData string `json:"audio_data,omitempty"`
}

// ChatResponse is the shape of POST /chat and of the push channel's
// ai_response event.
type ChatResponse struct {
	Response      string           `json:"response"`
	Text          string           `json:"text"`
	AudioPath     string           `json:"audio_path,omitempty"`
	Transcription string           `json:"transcription,omitempty"`
	IsRepeat      bool             `json:"is_repeat,omitempty"`
	Evaluation    *viva.Evaluation `json:"evaluation,omitempty"`
}

// Spoken returns the response text regardless of which field carried it.
func (r *ChatResponse) Spoken() string {
	if r.Response != "" {
		return r.Response
	}
	return r.Text
}

// ProgressPayload is the authoritative progress snapshot.
type ProgressPayload struct {
	CurrentQuestionIndex int               `json:"current_question_index"`
	TotalQuestions       int               `json:"total_questions"`
	CurrentScore         float64           `json:"current_score"`
	MaxPossibleScore     float64           `json:"max_possible_score"`
	Status               string            `json:"status"`
	FinalReport          *viva.FinalReport `json:"final_report,omitempty"`
}

// ProgressResponse is the shape of GET /progress.
type ProgressResponse struct {
	Status   string          `json:"status"`
	Progress ProgressPayload `json:"progress"`
}

// CleanupRequest is the body of POST /cleanup.
type CleanupRequest struct {
	SessionID string `json:"session_id"`
}
