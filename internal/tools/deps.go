package tools

import (
	"context"
	"time"

	"github.com/starford/lifeagent/internal/blockservice"
	"github.com/starford/lifeagent/internal/fill"
	"github.com/starford/lifeagent/internal/models"
	"github.com/starford/lifeagent/internal/retrieval"
	"github.com/starford/lifeagent/internal/templates"
)

// BlockStore is the block surface the block and time tools use.
type BlockStore interface {
	CreateBlock(ctx context.Context, p blockservice.CreateParams) (*models.Block, error)
	GetBlock(ctx context.Context, id string) (*models.Block, error)
	UpdateBlock(ctx context.Context, id string, p blockservice.UpdateParams) (*models.Block, error)
	SetTodoChecked(ctx context.Context, id string, checked bool) (*models.Block, error)
	AddChild(ctx context.Context, pageID, childID string) (*models.Block, error)
	DeleteBlock(ctx context.Context, id string) error
	Stats(ctx context.Context, userID string) (*blockservice.Stats, error)
	TodaysTasks(ctx context.Context, userID string, now time.Time) ([]blockservice.ScheduledTask, error)
	UpcomingTasks(ctx context.Context, userID string, now time.Time, days int) ([]blockservice.ScheduledTask, error)
}

// Searcher ranks blocks.
type Searcher interface {
	Search(ctx context.Context, query, userID string, f retrieval.Filters, limit int) ([]retrieval.Result, error)
	SearchSimilar(ctx context.Context, refID string, f retrieval.Filters, limit int) ([]retrieval.Result, error)
}

// TemplateStore is the template surface the template tools use.
type TemplateStore interface {
	Create(ctx context.Context, p templates.CreateParams) (*templates.Template, error)
	Get(ctx context.Context, id string) (*templates.Template, error)
	Update(ctx context.Context, id string, p templates.UpdateParams) (*templates.Template, error)
	Delete(ctx context.Context, id string) error
	ListByUser(ctx context.Context, userID string, opts templates.ListOptions) []*templates.Template
	Search(ctx context.Context, query, userID string, opts templates.ListOptions) []*templates.Template
	Instantiate(ctx context.Context, id, userID string, values map[string]string) (*templates.Instance, error)
}

// Filler runs fill decisions.
type Filler interface {
	Analyze(ctx context.Context, text string) (*models.ContentAnalysis, error)
	AnalyzeAndFill(ctx context.Context, text, userID string) (*fill.Result, error)
	Suggestions(ctx context.Context, text, userID string) ([]string, error)
}

// Deps are the collaborators tool handlers call. Groups whose dependency is
// nil are not registered.
type Deps struct {
	Blocks    BlockStore
	Search    Searcher
	Templates TemplateStore
	Fill      Filler
	Now       func() time.Time
}

// RegisterAll registers every tool group d can serve.
func RegisterAll(r *Registry, d Deps) {
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Blocks != nil {
		for _, t := range blockTools(d) {
			r.Register(t)
		}
		for _, t := range timeTools(d) {
			r.Register(t)
		}
	}
	if d.Templates != nil {
		for _, t := range templateTools(d) {
			r.Register(t)
		}
	}
	if d.Fill != nil {
		for _, t := range fillTools(d) {
			r.Register(t)
		}
	}
}

// ownedBlock loads id and hides blocks that belong to another user.
func ownedBlock(ctx context.Context, blocks BlockStore, args Args, id string) (*models.Block, error) {
	b, err := blocks.GetBlock(ctx, id)
	if err != nil {
		return nil, err
	}
	if user, uerr := userOf(ctx, args); uerr == nil && b.UserID != user {
		return nil, notFoundBlock(id)
	}
	return b, nil
}
