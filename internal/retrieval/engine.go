// Package retrieval ranks blocks by a blend of vector similarity and
// keyword overlap.
package retrieval

import (
	"cmp"
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/starford/lifeagent/internal/apperr"
	"github.com/starford/lifeagent/internal/embedding"
	"github.com/starford/lifeagent/internal/index"
	"github.com/starford/lifeagent/internal/models"
	"github.com/starford/lifeagent/internal/textnorm"
)

// Config tunes scoring.
type Config struct {
	MinScore         float64
	NeighborMinScore float64
	CandidateFactor  int
	VectorWeight     float64
	KeywordWeight    float64
}

// DefaultConfig returns the standard weights and thresholds.
func DefaultConfig() Config {
	return Config{
		MinScore:         index.DefaultMinScore,
		NeighborMinScore: index.DefaultNeighborMinScore,
		CandidateFactor:  5,
		VectorWeight:     0.7,
		KeywordWeight:    0.3,
	}
}

// Filters restrict a search beyond the user.
type Filters struct {
	Type     models.BlockType
	Category string
}

// Result is one ranked block.
type Result struct {
	Block        *models.Block `json:"block"`
	Score        float64       `json:"score"`
	VectorScore  float64       `json:"vectorScore"`
	KeywordScore float64       `json:"keywordScore"`
}

// Embedder embeds query text.
type Embedder interface {
	Embed(ctx context.Context, text string) []float32
}

// Source is the subset of the store the engine reads.
type Source interface {
	Query(ctx context.Context, query []float32, f index.Filter, topK int, minScore float64) ([]index.Match, error)
	QueryNeighbors(ctx context.Context, blockID string, f index.Filter, topK int, minScore float64) ([]index.Match, error)
	KeywordCandidates(ctx context.Context, f index.Filter, terms []string, limit int) ([]index.Match, error)
	GetBlock(ctx context.Context, id string) (*models.Block, error)
	GetBlocks(ctx context.Context, ids []string) (map[string]*models.Block, error)
}

// Engine performs hybrid search.
type Engine struct {
	src      Source
	embedder Embedder
	cfg      Config
	logger   *slog.Logger
}

// NewEngine creates a retrieval engine. Zero config fields take defaults.
func NewEngine(src Source, embedder Embedder, cfg Config, logger *slog.Logger) *Engine {
	def := DefaultConfig()
	if cfg.MinScore <= 0 {
		cfg.MinScore = def.MinScore
	}
	if cfg.NeighborMinScore <= 0 {
		cfg.NeighborMinScore = def.NeighborMinScore
	}
	if cfg.CandidateFactor <= 0 {
		cfg.CandidateFactor = def.CandidateFactor
	}
	if cfg.VectorWeight <= 0 && cfg.KeywordWeight <= 0 {
		cfg.VectorWeight, cfg.KeywordWeight = def.VectorWeight, def.KeywordWeight
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{src: src, embedder: embedder, cfg: cfg, logger: logger}
}

type candidate struct {
	id        string
	text      string
	vector    float64
	hasVector bool
	updatedAt time.Time
}

// MaxLimit caps the number of results a single search returns.
const MaxLimit = 100

// clampLimit maps a caller limit to 1..MaxLimit, using def when unset.
func clampLimit(limit, def int) int {
	if limit <= 0 {
		return def
	}
	return min(limit, MaxLimit)
}

// Search returns up to limit blocks for query, best first. limit is capped
// at MaxLimit.
func (e *Engine) Search(ctx context.Context, query, userID string, f Filters, limit int) ([]Result, error) {
	limit = clampLimit(limit, 10)
	terms := textnorm.UniqueTerms(query)
	if len(terms) == 0 {
		return []Result{}, nil
	}
	filter := index.Filter{UserID: userID, Type: f.Type, Category: f.Category}
	fetch := limit * e.cfg.CandidateFactor

	cands := map[string]*candidate{}
	qvec := e.embedder.Embed(ctx, query)
	vectorOK := !embedding.IsZero(qvec)
	if vectorOK {
		matches, err := e.src.Query(ctx, qvec, filter, fetch, e.cfg.MinScore)
		if err != nil {
			return nil, err
		}
		for _, m := range matches {
			cands[m.BlockID] = &candidate{id: m.BlockID, text: m.Text, vector: m.Score, hasVector: true, updatedAt: m.UpdatedAt}
		}
	} else {
		e.logger.Warn("retrieval: query embedding unavailable, ranking by keywords only",
			slog.String("query", query))
	}

	keyword, err := e.src.KeywordCandidates(ctx, filter, terms, fetch)
	if err != nil {
		return nil, err
	}
	for _, m := range keyword {
		if c, ok := cands[m.BlockID]; ok {
			// The block text is newer than or equal to the vector snapshot.
			c.text = m.Text
			continue
		}
		cands[m.BlockID] = &candidate{id: m.BlockID, text: m.Text, updatedAt: m.UpdatedAt}
	}

	scored := make([]index.Match, 0, len(cands))
	parts := make(map[string][2]float64, len(cands))
	for _, c := range cands {
		kw := KeywordScore(terms, c.text)
		var score float64
		if vectorOK {
			score = e.cfg.VectorWeight*c.vector + e.cfg.KeywordWeight*kw
		} else {
			score = kw
		}
		if score <= 0 {
			continue
		}
		parts[c.id] = [2]float64{c.vector, kw}
		scored = append(scored, index.Match{BlockID: c.id, Score: score, UpdatedAt: c.updatedAt})
	}
	index.SortMatches(scored)

	return e.materialize(ctx, scored, limit, func(id string, r *Result) {
		r.VectorScore = parts[id][0]
		r.KeywordScore = parts[id][1]
	})
}

// SearchSimilar returns blocks whose vectors are close to the reference
// block's, excluding the reference itself.
func (e *Engine) SearchSimilar(ctx context.Context, refID string, f Filters, limit int) ([]Result, error) {
	limit = clampLimit(limit, 5)
	ref, err := e.src.GetBlock(ctx, refID)
	if err != nil {
		return nil, err
	}
	filter := index.Filter{UserID: ref.UserID, Type: f.Type, Category: f.Category}
	matches, err := e.src.QueryNeighbors(ctx, refID, filter, limit, e.cfg.NeighborMinScore)
	if errors.Is(err, apperr.ErrNotFound) {
		return []Result{}, nil
	}
	if err != nil {
		return nil, err
	}
	return e.materialize(ctx, matches, limit, func(id string, r *Result) {
		r.VectorScore = r.Score
	})
}

func (e *Engine) materialize(ctx context.Context, ranked []index.Match, limit int, fill func(string, *Result)) ([]Result, error) {
	// Over-fetch slightly so blocks deleted since scoring do not shrink the page.
	take := min(len(ranked), limit+limit/2+1)
	ids := make([]string, take)
	for i := range take {
		ids[i] = ranked[i].BlockID
	}
	blocks, err := e.src.GetBlocks(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make([]Result, 0, min(limit, take))
	for _, m := range ranked[:take] {
		b, ok := blocks[m.BlockID]
		if !ok {
			continue
		}
		r := Result{Block: b, Score: m.Score}
		fill(m.BlockID, &r)
		out = append(out, r)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// KeywordScore is the fraction of terms that appear as whole words in text,
// case-insensitively.
func KeywordScore(terms []string, text string) float64 {
	if len(terms) == 0 {
		return 0
	}
	words := textnorm.TermSet(text)
	hits := 0
	for _, t := range terms {
		if _, ok := words[strings.ToLower(t)]; ok {
			hits++
		}
	}
	return float64(hits) / float64(len(terms))
}

// TopScore returns the best score in rs, or 0.
func TopScore(rs []Result) float64 {
	if len(rs) == 0 {
		return 0
	}
	return slices.MaxFunc(rs, func(a, b Result) int { return cmp.Compare(a.Score, b.Score) }).Score
}
