package response

// ErrCode is a typed error code enum for consistent API error identification.
type ErrCode string

const (
	// ─── Validation ────────────────────────────────────────────────────
	ErrValidation     ErrCode = "VALIDATION_ERROR"
	ErrInvalidID      ErrCode = "INVALID_ID"
	ErrInvalidPayload ErrCode = "INVALID_PAYLOAD"

	// ─── Session sequencing ────────────────────────────────────────────
	ErrInvalidState    ErrCode = "INVALID_STATE"
	ErrSessionNotFound ErrCode = "SESSION_NOT_FOUND"

	// ─── Examiner backend ──────────────────────────────────────────────
	ErrBackend            ErrCode = "BACKEND_ERROR"
	ErrBackendUnavailable ErrCode = "BACKEND_UNAVAILABLE"

	// ─── Push channel ──────────────────────────────────────────────────
	ErrConnection ErrCode = "CONNECTION_ERROR"

	// ─── Media ─────────────────────────────────────────────────────────
	ErrMedia        ErrCode = "MEDIA_ERROR"
	ErrClipTooLarge ErrCode = "CLIP_TOO_LARGE"

	// ─── Rate Limiting ─────────────────────────────────────────────────
	ErrRateLimitExceeded ErrCode = "RATE_LIMIT_EXCEEDED"

	// ─── Server ────────────────────────────────────────────────────────
	ErrInternal ErrCode = "INTERNAL_ERROR"
)

// GetMessage returns a human-readable message for a given error code.
func GetMessage(code ErrCode) string {
	switch code {
	case ErrValidation:
		return "Validation failed. Please check your input."
	case ErrInvalidID:
		return "Invalid session ID format."
	case ErrInvalidPayload:
		return "Invalid request payload."
	case ErrInvalidState:
		return "This action is not allowed in the current session state."
	case ErrSessionNotFound:
		return "Session not found or already ended."
	case ErrBackend:
		return "The examiner service returned an error. Please try again."
	case ErrBackendUnavailable:
		return "The examiner service is not reachable right now."
	case ErrConnection:
		return "Real-time connection lost. Reconnect to continue."
	case ErrMedia:
		return "Microphone or audio device error. Please try again."
	case ErrClipTooLarge:
		return "The recorded answer exceeds the size limit."
	case ErrRateLimitExceeded:
		return "Too many requests. Please try again later."
	case ErrInternal:
		return "An internal server error occurred."
	default:
		return "An unexpected error occurred."
	}
}
