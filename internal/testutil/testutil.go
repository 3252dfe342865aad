// Package testutil provides shared test helpers for databases, embedders and clocks.
package testutil

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/starford/lifeagent/internal/embedding"
	"github.com/starford/lifeagent/internal/index"
)

// Dimension is the vector size used by test embedders.
const Dimension = 256

// TestDB creates a temporary SQLite database that is automatically cleaned up.
func TestDB(t *testing.T) *index.DB {
	t.Helper()
	dbFile, err := os.CreateTemp("", "lifeagent-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() { os.Remove(dbFile.Name()) })

	db, err := index.Open(dbFile.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// SwitchBackend is an embedding backend whose failure mode can be toggled.
type SwitchBackend struct {
	mu    sync.Mutex
	fail  bool
	calls int
	inner *embedding.Hash
}

// NewSwitchBackend returns a working hashing backend.
func NewSwitchBackend() *SwitchBackend {
	return &SwitchBackend{inner: embedding.NewHash(Dimension)}
}

// SetFailing makes subsequent calls fail (or succeed again).
func (b *SwitchBackend) SetFailing(fail bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fail = fail
}

// Calls returns the number of backend requests made.
func (b *SwitchBackend) Calls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

// Embed implements embedding.Backend.
func (b *SwitchBackend) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	b.mu.Lock()
	b.calls++
	fail := b.fail
	b.mu.Unlock()
	if fail {
		return nil, errors.New("embedding service unavailable")
	}
	return b.inner.Embed(ctx, texts)
}

// TestEmbedder returns a provider over a toggleable hashing backend.
// The cache is kept tiny so toggling failure is observed immediately.
func TestEmbedder(t *testing.T) (*embedding.Provider, *SwitchBackend) {
	t.Helper()
	backend := NewSwitchBackend()
	p, err := embedding.NewProvider(backend, embedding.Config{Dimension: Dimension, CacheSize: 1}, nil)
	if err != nil {
		t.Fatal(err)
	}
	return p, backend
}

// Clock is a manually advanced time source.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock returns a clock frozen at start.
func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
