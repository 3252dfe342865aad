// Package embedding turns text into fixed-dimension vectors.
//
// Provider wraps a remote Backend with normalisation, truncation, an LRU
// cache and bounded batch fan-out. Backend failures never propagate: the
// caller receives an all-zero vector and must treat its similarity as 0.
package embedding

import (
	"context"
	"fmt"
	"log/slog"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"

	"github.com/starford/lifeagent/internal/textnorm"
)

// Defaults applied by NewProvider when Config leaves a field zero.
const (
	DefaultDimension     = 1536
	DefaultMaxInputChars = 8000
	DefaultCacheSize     = 1024
	DefaultBatchSize     = 64
	DefaultConcurrency   = 4
)

// Backend is a remote embedding service. Embed must return one vector per
// input text, in order.
type Backend interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Config tunes a Provider.
type Config struct {
	Dimension     int
	MaxInputChars int
	CacheSize     int
	BatchSize     int
	Concurrency   int
}

// Provider is the embedding entry point used by the block store and search.
type Provider struct {
	backend Backend
	cfg     Config
	cache   *lru.Cache[string, []float32]
	logger  *slog.Logger
}

// NewProvider wraps backend. A nil logger uses slog.Default().
func NewProvider(backend Backend, cfg Config, logger *slog.Logger) (*Provider, error) {
	if backend == nil {
		return nil, fmt.Errorf("embedding: backend is required")
	}
	if cfg.Dimension <= 0 {
		cfg.Dimension = DefaultDimension
	}
	if cfg.MaxInputChars <= 0 {
		cfg.MaxInputChars = DefaultMaxInputChars
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = DefaultCacheSize
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if logger == nil {
		logger = slog.Default()
	}
	cache, err := lru.New[string, []float32](cfg.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("embedding: create cache: %w", err)
	}
	return &Provider{backend: backend, cfg: cfg, cache: cache, logger: logger}, nil
}

// Dimension returns the fixed vector length D.
func (p *Provider) Dimension() int {
	return p.cfg.Dimension
}

// Prepare normalises and truncates text the way Embed sees it.
func (p *Provider) Prepare(text string) string {
	return textnorm.Truncate(textnorm.Normalize(text), p.cfg.MaxInputChars)
}

// Embed returns the embedding of text, or a zero vector when text is empty
// or the backend fails.
func (p *Provider) Embed(ctx context.Context, text string) []float32 {
	return p.EmbedBatch(ctx, []string{text})[0]
}

// EmbedBatch embeds texts, preserving order. Each backend batch fails
// independently to zero vectors.
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) [][]float32 {
	out := make([][]float32, len(texts))
	var (
		pending []string
		slots   [][]int
	)
	index := make(map[string]int)
	for i, t := range texts {
		key := p.Prepare(t)
		if key == "" {
			out[i] = p.zero()
			continue
		}
		if v, ok := p.cache.Get(key); ok {
			out[i] = v
			continue
		}
		if j, ok := index[key]; ok {
			slots[j] = append(slots[j], i)
			continue
		}
		index[key] = len(pending)
		pending = append(pending, key)
		slots = append(slots, []int{i})
	}
	if len(pending) == 0 {
		return out
	}

	results := make([][]float32, len(pending))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Concurrency)
	for start := 0; start < len(pending); start += p.cfg.BatchSize {
		end := min(start+p.cfg.BatchSize, len(pending))
		g.Go(func() error {
			vecs, err := p.embedChunk(gCtx, pending[start:end])
			if err != nil {
				p.logger.Warn("embedding: backend failed, using zero vectors",
					slog.Int("texts", end-start),
					slog.String("error", err.Error()))
				for i := start; i < end; i++ {
					results[i] = p.zero()
				}
				return nil
			}
			for i, v := range vecs {
				results[start+i] = v
				p.cache.Add(pending[start+i], v)
			}
			return nil
		})
	}
	_ = g.Wait()

	for j, positions := range slots {
		for _, i := range positions {
			out[i] = results[j]
		}
	}
	return out
}

func (p *Provider) embedChunk(ctx context.Context, texts []string) ([][]float32, error) {
	vecs, err := p.backend.Embed(ctx, texts)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("embedding: backend returned %d vectors for %d texts", len(vecs), len(texts))
	}
	for i, v := range vecs {
		if len(v) != p.cfg.Dimension {
			return nil, fmt.Errorf("embedding: vector %d has dimension %d, want %d", i, len(v), p.cfg.Dimension)
		}
	}
	return vecs, nil
}

func (p *Provider) zero() []float32 {
	return make([]float32, p.cfg.Dimension)
}

// IsZero reports whether every component of v is zero.
func IsZero(v []float32) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}
