// Package blockservice owns block CRUD and keeps each block's vector record
// in step with its content.
package blockservice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/starford/lifeagent/internal/apperr"
	"github.com/starford/lifeagent/internal/embedding"
	"github.com/starford/lifeagent/internal/index"
	"github.com/starford/lifeagent/internal/models"
)

// Event kinds passed to EventCallback.
const (
	EventCreated = "created"
	EventUpdated = "updated"
	EventDeleted = "deleted"
)

// EventCallback is called after a committed block change.
type EventCallback func(kind string, b *models.Block)

// Embedder produces vectors for block text. It never fails; a zero vector
// signals that the provider was unavailable.
type Embedder interface {
	Embed(ctx context.Context, text string) []float32
	Dimension() int
}

// CreateParams describes a new block.
type CreateParams struct {
	Type       models.BlockType
	Content    models.Content
	Metadata   models.Metadata
	ParentID   string
	TemplateID string
	UserID     string
}

// UpdateParams is a partial update. Nil fields are left unchanged.
type UpdateParams struct {
	Content  models.Content
	Metadata *models.Metadata
	// IfMatch, when set, must equal the current Block.Version().
	IfMatch string
}

// ListOptions filters ListByUser.
type ListOptions struct {
	Type     models.BlockType
	Category string
	Limit    int
	Offset   int
}

// Service coordinates block rows and vector records.
type Service struct {
	db       index.Store
	embedder Embedder
	logger   *slog.Logger
	now      func() time.Time
	newID    func() string
	onEvent  EventCallback
}

// NewService creates a block service.
func NewService(db index.Store, embedder Embedder, opts ...Option) *Service {
	s := &Service{
		db:       db,
		embedder: embedder,
		logger:   slog.Default(),
		now:      time.Now,
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateBlock validates and persists a block, then indexes its vector.
func (s *Service) CreateBlock(ctx context.Context, p CreateParams) (*models.Block, error) {
	if p.UserID == "" {
		return nil, apperr.Validationf("userId is required")
	}
	content, err := models.CheckContent(p.Type, p.Content)
	if err != nil {
		return nil, err
	}

	var parent *models.Block
	if p.ParentID != "" {
		parent, err = s.pageFor(ctx, p.ParentID, p.UserID)
		if err != nil {
			return nil, err
		}
	}

	now := s.now()
	b := &models.Block{
		ID:         s.newID(),
		Type:       p.Type,
		Content:    content,
		Metadata:   p.Metadata.Normalize(),
		ParentID:   p.ParentID,
		TemplateID: p.TemplateID,
		UserID:     p.UserID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.db.InsertBlock(ctx, b); err != nil {
		return nil, err
	}
	if err := s.indexVector(ctx, b, nil); err != nil {
		return nil, err
	}
	s.emit(EventCreated, b)

	if parent != nil {
		if err := s.appendChild(ctx, parent, b.ID); err != nil {
			return nil, err
		}
	}
	return b, nil
}

// GetBlock returns a block by id.
func (s *Service) GetBlock(ctx context.Context, id string) (*models.Block, error) {
	return s.db.GetBlock(ctx, id)
}

// UpdateBlock applies a partial update. A content change re-embeds the block
// before returning.
func (s *Service) UpdateBlock(ctx context.Context, id string, p UpdateParams) (*models.Block, error) {
	existing, err := s.db.GetBlock(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.IfMatch != "" && p.IfMatch != existing.Version() {
		return nil, fmt.Errorf("block %s: version %s is stale: %w", id, p.IfMatch, apperr.ErrConflict)
	}

	next := *existing
	if p.Content != nil {
		c, err := models.CheckContent(existing.Type, p.Content)
		if err != nil {
			return nil, err
		}
		next.Content = c
	}
	if p.Metadata != nil {
		next.Metadata = existing.Metadata.Merge(*p.Metadata)
	}
	return s.commit(ctx, existing, &next)
}

// SetTodoChecked toggles a todo, stamping or clearing completedAt.
func (s *Service) SetTodoChecked(ctx context.Context, id string, checked bool) (*models.Block, error) {
	existing, err := s.db.GetBlock(ctx, id)
	if err != nil {
		return nil, err
	}
	todo, ok := existing.Content.(models.TodoContent)
	if !ok {
		return nil, apperr.Validationf("block %s is a %s, not a todo", id, existing.Type)
	}
	todo.Checked = checked

	next := *existing
	next.Content = todo
	if checked {
		at := s.now()
		next.Metadata.CompletedAt = &at
	} else {
		next.Metadata.CompletedAt = nil
	}
	return s.commit(ctx, existing, &next)
}

// AddChild appends childID to a page and points the child at it.
func (s *Service) AddChild(ctx context.Context, pageID, childID string) (*models.Block, error) {
	if pageID == childID {
		return nil, apperr.Validationf("a page cannot contain itself")
	}
	child, err := s.db.GetBlock(ctx, childID)
	if err != nil {
		return nil, err
	}
	page, err := s.pageFor(ctx, pageID, child.UserID)
	if err != nil {
		return nil, err
	}

	if child.ParentID != "" && child.ParentID != pageID {
		s.detachFromParent(ctx, child)
	}
	if child.ParentID != pageID {
		next := *child
		next.ParentID = pageID
		if _, err := s.commit(ctx, child, &next); err != nil {
			return nil, err
		}
	}
	if err := s.appendChild(ctx, page, childID); err != nil {
		return nil, err
	}
	return s.db.GetBlock(ctx, pageID)
}

// DeleteBlock removes a block: vector record first, then the row. Children
// of a page are orphaned and unlinked, not deleted.
func (s *Service) DeleteBlock(ctx context.Context, id string) error {
	b, err := s.db.GetBlock(ctx, id)
	if err != nil {
		return err
	}
	if b.Type == models.TypePage {
		n, err := s.db.UnlinkChildren(ctx, id)
		if err != nil {
			return err
		}
		if n > 0 {
			s.logger.Debug("blockservice: unlinked children", slog.String("page_id", id), slog.Int("count", n))
		}
	}
	if b.ParentID != "" {
		s.detachFromParent(ctx, b)
	}
	if err := s.db.DeleteVector(ctx, id); err != nil {
		return err
	}
	if err := s.db.DeleteBlock(ctx, id); err != nil {
		return err
	}
	s.emit(EventDeleted, b)
	return nil
}

// ListByUser returns a page of a user's blocks and the total count.
func (s *Service) ListByUser(ctx context.Context, userID string, opts ListOptions) ([]*models.Block, int, error) {
	if userID == "" {
		return nil, 0, apperr.Validationf("userId is required")
	}
	return s.db.ListBlocks(ctx, index.ListOptions{
		Filter: index.Filter{UserID: userID, Type: opts.Type, Category: opts.Category},
		Limit:  opts.Limit,
		Offset: opts.Offset,
	})
}

// Children returns a page's children in the page's order.
func (s *Service) Children(ctx context.Context, pageID string) ([]*models.Block, error) {
	page, err := s.db.GetBlock(ctx, pageID)
	if err != nil {
		return nil, err
	}
	pc, ok := page.Content.(models.PageContent)
	if !ok {
		return nil, apperr.Validationf("block %s is a %s, not a page", pageID, page.Type)
	}
	found, err := s.db.GetBlocks(ctx, pc.ChildBlocks)
	if err != nil {
		return nil, err
	}
	out := make([]*models.Block, 0, len(pc.ChildBlocks))
	for _, id := range pc.ChildBlocks {
		if b, ok := found[id]; ok {
			out = append(out, b)
		}
	}
	return out, nil
}

// commit persists next over prev and refreshes the vector record, reusing
// the stored embedding when the text did not change.
func (s *Service) commit(ctx context.Context, prev, next *models.Block) (*models.Block, error) {
	next.UpdatedAt = s.stamp(prev.UpdatedAt)
	if err := s.db.UpdateBlock(ctx, next); err != nil {
		return nil, err
	}

	var reuse *models.VectorRecord
	if next.Text() == prev.Text() {
		rec, err := s.db.GetVector(ctx, next.ID)
		if err != nil && !errors.Is(err, apperr.ErrNotFound) {
			return nil, err
		}
		reuse = rec
	}
	if err := s.indexVector(ctx, next, reuse); err != nil {
		return nil, err
	}
	s.emit(EventUpdated, next)
	return next, nil
}

func (s *Service) indexVector(ctx context.Context, b *models.Block, reuse *models.VectorRecord) error {
	text := b.Text()
	var vec []float32
	if reuse != nil && !reuse.Degraded && reuse.TextSnapshot == text && len(reuse.Embedding) == s.embedder.Dimension() {
		vec = reuse.Embedding
	} else {
		vec = s.embedder.Embed(ctx, text)
	}
	degraded := text != "" && embedding.IsZero(vec)
	if degraded {
		s.logger.Warn("blockservice: stored zero embedding", slog.String("block_id", b.ID))
	}
	err := s.db.UpsertVector(ctx, models.VectorRecord{
		BlockID:          b.ID,
		UserID:           b.UserID,
		Embedding:        vec,
		TextSnapshot:     text,
		MetadataSnapshot: models.SnapshotOf(b),
		Degraded:         degraded,
		UpdatedAt:        b.UpdatedAt,
	})
	if err != nil {
		return fmt.Errorf("blockservice: index vector for %s: %w", b.ID, err)
	}
	return nil
}

func (s *Service) pageFor(ctx context.Context, pageID, userID string) (*models.Block, error) {
	page, err := s.db.GetBlock(ctx, pageID)
	if err != nil {
		return nil, err
	}
	if page.Type != models.TypePage {
		return nil, apperr.Validationf("parent %s is a %s, not a page", pageID, page.Type)
	}
	if page.UserID != userID {
		return nil, apperr.NotFoundf("page %s", pageID)
	}
	return page, nil
}

func (s *Service) appendChild(ctx context.Context, page *models.Block, childID string) error {
	pc := page.Content.(models.PageContent)
	if slices.Contains(pc.ChildBlocks, childID) {
		return nil
	}
	pc.ChildBlocks = append(slices.Clone(pc.ChildBlocks), childID)
	next := *page
	next.Content = pc
	_, err := s.commit(ctx, page, &next)
	return err
}

// detachFromParent removes b from its parent's child list. Failures are
// logged; a dangling id in childBlocks is skipped by Children.
func (s *Service) detachFromParent(ctx context.Context, b *models.Block) {
	parent, err := s.db.GetBlock(ctx, b.ParentID)
	if err != nil {
		return
	}
	pc, ok := parent.Content.(models.PageContent)
	if !ok {
		return
	}
	pc.ChildBlocks = slices.DeleteFunc(slices.Clone(pc.ChildBlocks), func(id string) bool { return id == b.ID })
	next := *parent
	next.Content = pc
	if _, err := s.commit(ctx, parent, &next); err != nil {
		s.logger.Warn("blockservice: detach from parent failed",
			slog.String("block_id", b.ID),
			slog.String("parent_id", b.ParentID),
			slog.String("error", err.Error()))
	}
}

// stamp returns the current time, strictly after prev.
func (s *Service) stamp(prev time.Time) time.Time {
	now := s.now()
	if !now.After(prev) {
		now = prev.Add(time.Nanosecond)
	}
	return now
}

func (s *Service) emit(kind string, b *models.Block) {
	if s.onEvent != nil {
		s.onEvent(kind, b)
	}
}
