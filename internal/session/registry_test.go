package session

import (
	"context"
	"testing"

	"github.com/eduvox/viva-gateway/internal/backend"
	"github.com/eduvox/viva-gateway/internal/viva"
	"github.com/rs/zerolog"
)

func newTestRegistry(t *testing.T, fb *fakeBackend) *Registry {
	t.Helper()
	cfg := fb.config()
	return NewRegistry(cfg, backend.NewClient(cfg, zerolog.Nop()), zerolog.Nop())
}

func TestRegistryCreateAndLookup(t *testing.T) {
	fb := newFakeBackend(t)
	reg := newTestRegistry(t, fb)

	mgr, err := reg.Create(context.Background(), viva.SessionConfig{Subject: "Databases"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	t.Cleanup(func() { reg.Remove(mgr.ID()) })

	if got := reg.Get(mgr.ID()); got != mgr {
		t.Fatalf("Get returned %v, want the created manager", got)
	}
	if reg.Count() != 1 {
		t.Fatalf("Count = %d, want 1", reg.Count())
	}
	if reg.Get("4b4bb63e-0000-0000-0000-000000000000") != nil {
		t.Fatal("Get for unknown id returned a manager")
	}
}

func TestRegistryFailedStartIsNotRegistered(t *testing.T) {
	fb := newFakeBackend(t)
	fb.mu.Lock()
	fb.healthy = false
	fb.mu.Unlock()
	reg := newTestRegistry(t, fb)

	if _, err := reg.Create(context.Background(), viva.SessionConfig{Subject: "Databases"}); err == nil {
		t.Fatal("Create succeeded against an unhealthy backend")
	}
	if reg.Count() != 0 {
		t.Fatalf("Count = %d after failed create", reg.Count())
	}
}

func TestRegistryRemoveTearsDownSession(t *testing.T) {
	fb := newFakeBackend(t)
	reg := newTestRegistry(t, fb)

	mgr, err := reg.Create(context.Background(), viva.SessionConfig{Subject: "Networks"})
	if err != nil {
		t.Fatal(err)
	}

	reg.Remove(mgr.ID())
	if reg.Get(mgr.ID()) != nil {
		t.Fatal("session still resolvable after Remove")
	}
	waitFor(t, func() bool { return fb.cleanupCount() == 1 })

	// Unknown ids are a no-op, including the one just removed.
	reg.Remove(mgr.ID())
	reg.Remove("not-registered")
}
