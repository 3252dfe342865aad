package index

import (
	"context"
	"time"

	"github.com/starford/lifeagent/internal/models"
)

// Filter restricts block and vector lookups.
type Filter struct {
	UserID   string
	Type     models.BlockType
	Category string
}

// ListOptions controls block listing.
type ListOptions struct {
	Filter
	Limit  int
	Offset int
}

// Match is one scored candidate.
type Match struct {
	BlockID   string
	Score     float64
	Text      string
	UpdatedAt time.Time
}

// StaleBlock is a block whose vector record is missing or out of date.
type StaleBlock struct {
	BlockID string
	Reason  string
}

// BlockRepo persists block rows.
type BlockRepo interface {
	InsertBlock(ctx context.Context, b *models.Block) error
	UpdateBlock(ctx context.Context, b *models.Block) error
	DeleteBlock(ctx context.Context, id string) error
	GetBlock(ctx context.Context, id string) (*models.Block, error)
	GetBlocks(ctx context.Context, ids []string) (map[string]*models.Block, error)
	ListBlocks(ctx context.Context, opts ListOptions) ([]*models.Block, int, error)
	Children(ctx context.Context, parentID string) ([]*models.Block, error)
	UnlinkChildren(ctx context.Context, parentID string) (int, error)
	CountByType(ctx context.Context, userID string) (map[models.BlockType]int, error)
	KeywordCandidates(ctx context.Context, f Filter, terms []string, limit int) ([]Match, error)
}

// VectorIndex persists vector records and ranks them by cosine similarity.
type VectorIndex interface {
	UpsertVector(ctx context.Context, rec models.VectorRecord) error
	DeleteVector(ctx context.Context, blockID string) error
	GetVector(ctx context.Context, blockID string) (*models.VectorRecord, error)
	Query(ctx context.Context, query []float32, f Filter, topK int, minScore float64) ([]Match, error)
	QueryNeighbors(ctx context.Context, blockID string, f Filter, topK int, minScore float64) ([]Match, error)
	StaleBlocks(ctx context.Context, dimension, limit int) ([]StaleBlock, error)
	PurgeOrphanVectors(ctx context.Context) (int, error)
}

// Store is the full persistence surface backed by one SQLite database.
type Store interface {
	BlockRepo
	VectorIndex
	Close() error
}

// Verify *DB satisfies Store at compile time.
var _ Store = (*DB)(nil)
