package audio

import (
	"sync"

	"github.com/eduvox/viva-gateway/internal/viva"
)

// Player tracks the single active AudioCue. Actual decoding and output
// happen on the device surface; the Player owns the cue lifecycle so the
// gateway can enforce "at most one cue playing" and gate replay, and so the
// turn coordinator has an authoritative playback state to consume.
type Player struct {
	mu      sync.Mutex
	current *viva.AudioCue
	last    *viva.AudioCue
}

// NewPlayer creates an idle Player.
func NewPlayer() *Player {
	return &Player{}
}

// Play starts a new cue. A previously playing cue is implicitly stopped.
func (p *Player) Play(url string) *viva.AudioCue {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current != nil && p.current.State == viva.CuePlaying {
		p.current.State = viva.CueEnded
	}
	cue := &viva.AudioCue{URL: url, State: viva.CuePlaying}
	p.current = cue
	p.last = cue
	return cue
}

// Progress records a playback position update (0–100).
func (p *Player) Progress(pct float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil || p.current.State != viva.CuePlaying {
		return &viva.MediaError{Op: "progress", Reason: "no cue playing"}
	}
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	p.current.Progress = pct
	return nil
}

// Ended marks the current cue finished and returns it.
func (p *Player) Ended() (*viva.AudioCue, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil || p.current.State != viva.CuePlaying {
		return nil, &viva.MediaError{Op: "ended", Reason: "no cue playing"}
	}
	p.current.State = viva.CueEnded
	p.current.Progress = 100
	return p.current, nil
}

// Errored marks the current cue failed. Playback errors must not leave the
// system stuck, so this never fails: a missing cue is simply recorded as a
// no-op and the coordinator transition still happens at the call site.
func (p *Player) Errored() *viva.AudioCue {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil {
		return nil
	}
	p.current.State = viva.CueErrored
	return p.current
}

// Stop halts any active cue. Used on session reset.
func (p *Player) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current != nil && p.current.State == viva.CuePlaying {
		p.current.State = viva.CueEnded
	}
	p.current = nil
}

// Playing reports whether a cue is currently active.
func (p *Player) Playing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current != nil && p.current.State == viva.CuePlaying
}

// Last returns the most recent cue, for replay. Nil when nothing has played.
func (p *Player) Last() *viva.AudioCue {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last
}

// Replay restarts the last cue. Refused while a cue is still playing.
func (p *Player) Replay() (*viva.AudioCue, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current != nil && p.current.State == viva.CuePlaying {
		return nil, &viva.MediaError{Op: "replay", Reason: "audio already playing"}
	}
	if p.last == nil {
		return nil, &viva.MediaError{Op: "replay", Reason: "nothing to replay"}
	}
	cue := &viva.AudioCue{URL: p.last.URL, State: viva.CuePlaying}
	p.current = cue
	p.last = cue
	return cue, nil
}
