package audio

import (
	"bytes"
	"sync"

	"github.com/eduvox/viva-gateway/internal/viva"
)

// Recorder assembles a recorded answer from the chunks the device surface
// streams up. Arming is gated by the turn coordinator (capture is only
// allowed while it is the user's turn); the Recorder itself enforces the
// arm/append/stop sequencing and the clip size cap, and releases its buffer
// deterministically on stop and reset.
type Recorder struct {
	mu       sync.Mutex
	armed    bool
	buf      bytes.Buffer
	maxBytes int64
}

// NewRecorder creates a Recorder with the given clip size cap.
func NewRecorder(maxBytes int64) *Recorder {
	return &Recorder{maxBytes: maxBytes}
}

// Arm opens a new capture. Fails with MediaError if already armed.
func (r *Recorder) Arm() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.armed {
		return &viva.MediaError{Op: "arm", Reason: "recording already in progress"}
	}
	r.armed = true
	r.buf.Reset()
	return nil
}

// Armed reports whether a capture is open.
func (r *Recorder) Armed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.armed
}

// Append buffers one encoded chunk.
func (r *Recorder) Append(chunk []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.armed {
		return &viva.MediaError{Op: "append", Reason: "no recording in progress"}
	}
	if int64(r.buf.Len()+len(chunk)) > r.maxBytes {
		r.armed = false
		r.buf.Reset()
		return &viva.MediaError{Op: "append", Reason: "clip size limit exceeded"}
	}
	r.buf.Write(chunk)
	return nil
}

// Stop closes the capture and returns the concatenated clip. The internal
// buffer is released regardless of outcome. An empty capture is a MediaError
// — there is nothing to submit.
func (r *Recorder) Stop() ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.armed {
		return nil, &viva.MediaError{Op: "stop", Reason: "no recording in progress"}
	}
	r.armed = false
	if r.buf.Len() == 0 {
		r.buf.Reset()
		return nil, &viva.MediaError{Op: "stop", Reason: "empty recording"}
	}
	clip := make([]byte, r.buf.Len())
	copy(clip, r.buf.Bytes())
	r.buf.Reset()
	return clip, nil
}

// Reset discards any open capture. Idempotent; used on session reset so no
// capture survives a teardown.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.armed = false
	r.buf.Reset()
}
