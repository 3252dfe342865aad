package templates

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/starford/lifeagent/internal/apperr"
	"github.com/starford/lifeagent/internal/blockservice"
	"github.com/starford/lifeagent/internal/checksum"
	"github.com/starford/lifeagent/internal/models"
	"github.com/starford/lifeagent/internal/storage"
)

const (
	defaultListLimit   = 50
	defaultSearchLimit = 20
)

// BlockCreator persists blocks produced by Instantiate.
type BlockCreator interface {
	CreateBlock(ctx context.Context, p blockservice.CreateParams) (*models.Block, error)
}

// CreateParams describes a new template.
type CreateParams struct {
	Name        string
	Description string
	Category    Category
	Icon        string
	Tags        []string
	Structure   Structure
	UserID      string
	IsPublic    bool
}

// UpdateParams is a partial update. Nil fields are left unchanged.
type UpdateParams struct {
	Name        *string
	Description *string
	Category    *Category
	Icon        *string
	Tags        []string
	Structure   *Structure
	IsPublic    *bool
}

// ListOptions filters ListByUser and Search.
type ListOptions struct {
	Category Category
	Limit    int
}

// Instance is the outcome of Instantiate.
type Instance struct {
	Template *Template      `json:"template"`
	Blocks   []*models.Block `json:"blocks"`
}

type fileState struct {
	id       string
	checksum string
}

// Service keeps templates in memory, backed by one YAML file per template.
type Service struct {
	store  storage.Provider
	blocks BlockCreator
	logger *slog.Logger
	now    func() time.Time
	newID  func() string

	mu        sync.RWMutex
	templates map[string]*Template
	files     map[string]fileState // path → last loaded state
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock overrides the time source used for timestamps and placeholders.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithIDGenerator overrides template id generation.
func WithIDGenerator(gen func() string) Option {
	return func(s *Service) {
		if gen != nil {
			s.newID = gen
		}
	}
}

// NewService creates a template service. Call Sync to load existing files.
func NewService(store storage.Provider, blocks BlockCreator, opts ...Option) *Service {
	s := &Service{
		store:     store,
		blocks:    blocks,
		logger:    slog.Default(),
		now:       time.Now,
		newID:     uuid.NewString,
		templates: make(map[string]*Template),
		files:     make(map[string]fileState),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func fileName(id string) string { return id + ".yaml" }

// Sync brings the in-memory set in line with the files on disk. Files that
// fail to parse are skipped with a warning and keep no entry.
func (s *Service) Sync() error {
	infos, err := s.store.List("")
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]bool, len(infos))
	for _, fi := range infos {
		seen[fi.Path] = true
		if st, ok := s.files[fi.Path]; ok && st.checksum == fi.Checksum {
			continue
		}
		data, err := s.store.Read(fi.Path)
		if err != nil {
			s.logger.Warn("templates: read failed", slog.String("path", fi.Path), slog.String("error", err.Error()))
			continue
		}
		t, err := parse(fi.Path, data)
		if err != nil {
			s.logger.Warn("templates: invalid file", slog.String("path", fi.Path), slog.String("error", err.Error()))
			s.forgetLocked(fi.Path)
			continue
		}
		if prev, ok := s.files[fi.Path]; ok && prev.id != t.ID {
			delete(s.templates, prev.id)
		}
		s.templates[t.ID] = t
		s.files[fi.Path] = fileState{id: t.ID, checksum: fi.Checksum}
		s.logger.Debug("templates: loaded", slog.String("path", fi.Path), slog.String("id", t.ID))
	}
	for p := range s.files {
		if !seen[p] {
			s.forgetLocked(p)
			s.logger.Debug("templates: removed", slog.String("path", p))
		}
	}
	return nil
}

func (s *Service) forgetLocked(p string) {
	if st, ok := s.files[p]; ok {
		delete(s.templates, st.id)
		delete(s.files, p)
	}
}

func parse(p string, data []byte) (*Template, error) {
	var t Template
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	if t.ID == "" {
		base := filepath.Base(p)
		t.ID = strings.TrimSuffix(base, filepath.Ext(base))
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return &t, nil
}

// persistLocked writes t to its file and records the new state. t is
// stored as given.
func (s *Service) persistLocked(t *Template) error {
	data, err := yaml.Marshal(t)
	if err != nil {
		return fmt.Errorf("templates: encode: %w", err)
	}
	p := s.pathOfLocked(t.ID)
	if err := s.store.Write(p, data); err != nil {
		return err
	}
	s.templates[t.ID] = t
	s.files[p] = fileState{id: t.ID, checksum: checksum.Sum(data)}
	return nil
}

func (s *Service) pathOfLocked(id string) string {
	for p, st := range s.files {
		if st.id == id {
			return p
		}
	}
	return fileName(id)
}

// Create validates and stores a new template.
func (s *Service) Create(ctx context.Context, p CreateParams) (*Template, error) {
	now := s.now().UTC()
	t := &Template{
		ID:          s.newID(),
		Name:        strings.TrimSpace(p.Name),
		Description: p.Description,
		Category:    p.Category,
		Icon:        p.Icon,
		Tags:        p.Tags,
		Structure:   p.Structure,
		UserID:      p.UserID,
		IsPublic:    p.IsPublic,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := t.Validate(); err != nil {
		return nil, apperr.Validationf("template: %v", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.persistLocked(t); err != nil {
		return nil, err
	}
	s.logger.Info("templates: created", slog.String("id", t.ID), slog.String("name", t.Name))
	return t.clone(), nil
}

// Get returns a template by id.
func (s *Service) Get(_ context.Context, id string) (*Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.templates[id]
	if !ok {
		return nil, apperr.NotFoundf("template %s", id)
	}
	return t.clone(), nil
}

// Update applies a partial update.
func (s *Service) Update(_ context.Context, id string, p UpdateParams) (*Template, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.templates[id]
	if !ok {
		return nil, apperr.NotFoundf("template %s", id)
	}
	next := cur.clone()
	if p.Name != nil {
		next.Name = strings.TrimSpace(*p.Name)
	}
	if p.Description != nil {
		next.Description = *p.Description
	}
	if p.Category != nil {
		next.Category = *p.Category
	}
	if p.Icon != nil {
		next.Icon = *p.Icon
	}
	if p.Tags != nil {
		next.Tags = p.Tags
	}
	if p.Structure != nil {
		next.Structure = *p.Structure
	}
	if p.IsPublic != nil {
		next.IsPublic = *p.IsPublic
	}
	if err := next.Validate(); err != nil {
		return nil, apperr.Validationf("template: %v", err)
	}
	next.UpdatedAt = s.now().UTC()
	if err := s.persistLocked(next); err != nil {
		return nil, err
	}
	return next.clone(), nil
}

// Delete removes a template and its file.
func (s *Service) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.templates[id]; !ok {
		return apperr.NotFoundf("template %s", id)
	}
	p := s.pathOfLocked(id)
	if err := s.store.Delete(p); err != nil && !errors.Is(err, apperr.ErrNotFound) {
		return err
	}
	delete(s.templates, id)
	delete(s.files, p)
	s.logger.Info("templates: deleted", slog.String("id", id))
	return nil
}

// ListByUser returns the user's own templates plus every public one, newest
// first.
func (s *Service) ListByUser(_ context.Context, userID string, opts ListOptions) []*Template {
	return s.collect(opts, defaultListLimit, func(t *Template) bool {
		return t.visibleTo(userID)
	})
}

// Search matches query against template names and descriptions,
// case-insensitively, among templates visible to userID.
func (s *Service) Search(_ context.Context, query, userID string, opts ListOptions) []*Template {
	q := strings.ToLower(strings.TrimSpace(query))
	return s.collect(opts, defaultSearchLimit, func(t *Template) bool {
		if !t.visibleTo(userID) {
			return false
		}
		return strings.Contains(strings.ToLower(t.Name), q) ||
			strings.Contains(strings.ToLower(t.Description), q)
	})
}

func (s *Service) collect(opts ListOptions, defLimit int, keep func(*Template) bool) []*Template {
	limit := opts.Limit
	if limit <= 0 {
		limit = defLimit
	}
	s.mu.RLock()
	out := make([]*Template, 0, len(s.templates))
	for _, t := range s.templates {
		if opts.Category != "" && t.Category != opts.Category {
			continue
		}
		if keep(t) {
			out = append(out, t.clone())
		}
	}
	s.mu.RUnlock()

	slices.SortFunc(out, func(a, b *Template) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Instantiate creates one block per template block, in position order, for
// userID. Placeholders {{date}}, {{time}} and {{datetime}} expand to the
// current time; any other {{key}} is taken from values and left as-is when
// absent. Every block content is checked before the first block is written.
func (s *Service) Instantiate(ctx context.Context, id, userID string, values map[string]string) (*Instance, error) {
	if userID == "" {
		return nil, apperr.Validationf("userId is required")
	}
	t, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !t.visibleTo(userID) {
		return nil, apperr.NotFoundf("template %s", id)
	}

	specs := slices.Clone(t.Structure.Blocks)
	slices.SortStableFunc(specs, func(a, b BlockSpec) int { return cmp.Compare(a.Position, b.Position) })

	replace := placeholders(s.now(), values)
	contents := make([]models.Content, len(specs))
	for i, spec := range specs {
		c, err := spec.decode(replace)
		if err != nil {
			return nil, fmt.Errorf("template %s block %d: %w", id, i, err)
		}
		contents[i] = c
	}

	inst := &Instance{Blocks: make([]*models.Block, 0, len(specs))}
	for i, spec := range specs {
		b, err := s.blocks.CreateBlock(ctx, blockservice.CreateParams{
			Type:    spec.Type,
			Content: contents[i],
			Metadata: models.Metadata{
				Category:    string(t.Category),
				Tags:        t.Tags,
				AIGenerated: true,
			},
			TemplateID: t.ID,
			UserID:     userID,
		})
		if err != nil {
			return nil, err
		}
		inst.Blocks = append(inst.Blocks, b)
	}

	inst.Template, err = s.recordUse(t.ID)
	if err != nil {
		s.logger.Warn("templates: record usage failed", slog.String("id", t.ID), slog.String("error", err.Error()))
		inst.Template = t
	}
	s.logger.Info("templates: instantiated",
		slog.String("id", t.ID),
		slog.String("user_id", userID),
		slog.Int("blocks", len(inst.Blocks)))
	return inst, nil
}

func (s *Service) recordUse(id string) (*Template, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.templates[id]
	if !ok {
		return nil, apperr.NotFoundf("template %s", id)
	}
	next := cur.clone()
	now := s.now().UTC()
	next.Metadata.UsageCount++
	next.Metadata.LastUsed = &now
	if err := s.persistLocked(next); err != nil {
		return nil, err
	}
	return next.clone(), nil
}

func placeholders(now time.Time, values map[string]string) func(string) string {
	pairs := []string{
		"{{date}}", now.Format(time.DateOnly),
		"{{time}}", now.Format("15:04"),
		"{{datetime}}", now.Format("2006-01-02 15:04"),
	}
	for k, v := range values {
		pairs = append(pairs, "{{"+k+"}}", v)
	}
	r := strings.NewReplacer(pairs...)
	return r.Replace
}
