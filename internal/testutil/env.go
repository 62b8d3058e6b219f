package testutil

import (
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/roach88/syncreducer/internal/poke"
	"github.com/roach88/syncreducer/internal/server"
	"github.com/roach88/syncreducer/internal/space"
	"github.com/roach88/syncreducer/internal/store"
)

// Env is a sync server wired to a fresh SQLite store and poke hub.
type Env struct {
	Store  *store.Store
	Hub    *poke.Hub
	Server *server.Server
}

// NewEnv builds an Env backed by a file in t.TempDir. Everything is closed
// when the test ends.
func NewEnv(t testing.TB) *Env {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "sync.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	env := NewEnvWithStore(st, DiscardLogger())
	t.Cleanup(func() {
		env.Hub.Close()
		st.Close()
	})
	return env
}

// NewEnvWithStore wires a server and hub around st. The caller closes
// st and the hub.
func NewEnvWithStore(st *store.Store, logger *slog.Logger) *Env {
	hub := poke.NewHub(poke.WithLogger(logger))
	coord := space.NewCoordinator(st, space.WithLogger(logger))
	return &Env{
		Store:  st,
		Hub:    hub,
		Server: server.New(coord, hub, server.WithLogger(logger)),
	}
}

// DiscardLogger returns a logger that drops everything.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
