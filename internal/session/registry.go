package session

import (
	"context"
	"sync"
	"time"

	"github.com/eduvox/viva-gateway/internal/backend"
	"github.com/eduvox/viva-gateway/internal/config"
	"github.com/eduvox/viva-gateway/internal/viva"
	"github.com/rs/zerolog"
)

// Registry is the session-keyed table owned by the gateway process: the one
// explicitly lifecycle-scoped home for cross-request session state, passed
// by reference to the handlers that need it.
type Registry struct {
	appCfg *config.Config
	client *backend.Client
	log    zerolog.Logger

	mu       sync.RWMutex
	sessions map[string]*Manager
}

// NewRegistry creates an empty registry.
func NewRegistry(appCfg *config.Config, client *backend.Client, log zerolog.Logger) *Registry {
	return &Registry{
		appCfg:   appCfg,
		client:   client,
		log:      log.With().Str("component", "session_registry").Logger(),
		sessions: make(map[string]*Manager),
	}
}

// Create starts a new session and registers it. Exactly one live session
// per browser tab: the caller gets the id back and correlates everything
// else with it.
func (r *Registry) Create(ctx context.Context, cfg viva.SessionConfig) (*Manager, error) {
	mgr := NewManager(r.appCfg, r.client, r.log)
	if err := mgr.Start(ctx, cfg); err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.sessions[mgr.ID()] = mgr
	count := len(r.sessions)
	r.mu.Unlock()

	r.log.Info().Str("session_id", mgr.ID()).Int("active", count).Msg("Session registered")
	return mgr, nil
}

// Get looks a session up by id. Nil when unknown or already removed.
func (r *Registry) Get(id string) *Manager {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[id]
}

// Remove tears a session down and drops it from the table. Safe to call
// for unknown ids.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	mgr, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()

	if ok {
		mgr.Reset()
	}
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Reap runs until ctx is done, periodically removing sessions idle past the
// configured TTL — abandoned tabs whose unload beacon never arrived.
func (r *Registry) Reap(ctx context.Context) {
	r.log.Info().Dur("ttl", r.appCfg.SessionIdleTTL).Msg("Session reaper started")

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.log.Info().Msg("Session reaper stopped")
			return
		case <-ticker.C:
			r.sweep()
		}
	}
}

func (r *Registry) sweep() {
	cutoff := time.Now().Add(-r.appCfg.SessionIdleTTL)

	r.mu.Lock()
	var expired []*Manager
	for id, mgr := range r.sessions {
		if mgr.IdleSince().Before(cutoff) {
			expired = append(expired, mgr)
			delete(r.sessions, id)
		}
	}
	r.mu.Unlock()

	for _, mgr := range expired {
		r.log.Info().Str("session_id", mgr.ID()).Msg("Reaping idle session")
		mgr.Reset()
	}
}
