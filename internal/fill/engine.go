// Package fill decides whether new user content becomes a new block or is
// merged into an existing one, and applies that decision.
package fill

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/starford/lifeagent/internal/analyzer"
	"github.com/starford/lifeagent/internal/apperr"
	"github.com/starford/lifeagent/internal/blockservice"
	"github.com/starford/lifeagent/internal/models"
	"github.com/starford/lifeagent/internal/retrieval"
	"github.com/starford/lifeagent/internal/textnorm"
)

// Action is the outcome of a fill decision.
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionAppend Action = "append"
)

// Confidence levels of the built-in decisions.
const (
	ConfidenceNoCandidates = 0.9
	ConfidenceFallback     = 0.6
	ConfidenceCreate       = 0.85
	ConfidenceUpdate       = 0.8
	ConfidenceAppend       = 0.75
)

const (
	searchLimit     = 10
	suggestionLimit = 5
)

// Strategy is a fill decision before execution.
type Strategy struct {
	Action        Action  `json:"action"`
	TargetBlockID string  `json:"targetBlockId,omitempty"`
	Confidence    float64 `json:"confidence"`
	Reasoning     string  `json:"reasoning"`
}

// Result is an executed fill decision.
type Result struct {
	Action        Action                  `json:"action"`
	TargetBlockID string                  `json:"targetBlockId,omitempty"`
	Block         *models.Block           `json:"block"`
	Confidence    float64                 `json:"confidence"`
	Reasoning     string                  `json:"reasoning"`
	Analysis      *models.ContentAnalysis `json:"analysis,omitempty"`
}

// Analyzer reads free text into a ContentAnalysis.
type Analyzer interface {
	Analyze(ctx context.Context, text string) (*models.ContentAnalysis, error)
}

// Searcher finds candidate blocks.
type Searcher interface {
	Search(ctx context.Context, query, userID string, f retrieval.Filters, limit int) ([]retrieval.Result, error)
}

// Classifier proposes a strategy for text given non-empty candidates.
type Classifier interface {
	Classify(ctx context.Context, text string, a *models.ContentAnalysis, candidates []retrieval.Result) (Strategy, error)
}

// Store is the block store the engine writes through.
type Store interface {
	CreateBlock(ctx context.Context, p blockservice.CreateParams) (*models.Block, error)
	GetBlock(ctx context.Context, id string) (*models.Block, error)
	UpdateBlock(ctx context.Context, id string, p blockservice.UpdateParams) (*models.Block, error)
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithClock sets the time source used for table row stamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithClassifier replaces the heuristic classifier.
func WithClassifier(c Classifier) Option {
	return func(e *Engine) {
		if c != nil {
			e.classifier = c
		}
	}
}

// Engine is the fill decision engine.
type Engine struct {
	store      Store
	search     Searcher
	analyzer   Analyzer
	classifier Classifier
	logger     *slog.Logger
	now        func() time.Time
}

// NewEngine creates a fill engine using the heuristic classifier unless
// WithClassifier is given.
func NewEngine(store Store, search Searcher, a Analyzer, opts ...Option) *Engine {
	e := &Engine{
		store:      store,
		search:     search,
		analyzer:   a,
		classifier: HeuristicClassifier{},
		logger:     slog.Default(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Analyze exposes the configured analyzer.
func (e *Engine) Analyze(ctx context.Context, text string) (*models.ContentAnalysis, error) {
	if strings.TrimSpace(text) == "" {
		return nil, apperr.Validationf("text is required")
	}
	return e.analyzer.Analyze(ctx, text)
}

// AnalyzeAndFill runs the whole pipeline for one statement.
func (e *Engine) AnalyzeAndFill(ctx context.Context, text, userID string) (*Result, error) {
	if userID == "" {
		return nil, apperr.Validationf("userId is required")
	}
	a, err := e.Analyze(ctx, text)
	if err != nil {
		return nil, err
	}
	candidates, err := e.search.Search(ctx, text, userID, retrieval.Filters{}, searchLimit)
	if err != nil {
		return nil, fmt.Errorf("fill: search candidates: %w", err)
	}
	s := e.Decide(ctx, text, a, candidates)
	res, err := e.Execute(ctx, s, a, userID)
	if errors.Is(err, apperr.ErrMergeConflict) {
		e.logger.Warn("fill: merge not applicable, creating a new block",
			slog.String("target_block_id", s.TargetBlockID),
			slog.String("error", err.Error()))
		res, err = e.create(ctx, Strategy{
			Action:     ActionCreate,
			Confidence: ConfidenceCreate,
			Reasoning:  "Target block cannot absorb this content, creating new block",
		}, a, userID)
	}
	if err != nil {
		return nil, err
	}
	res.Analysis = a
	return res, nil
}

// Decide picks a strategy for text.
func (e *Engine) Decide(ctx context.Context, text string, a *models.ContentAnalysis, candidates []retrieval.Result) Strategy {
	if len(candidates) == 0 {
		return Strategy{
			Action:     ActionCreate,
			Confidence: ConfidenceNoCandidates,
			Reasoning:  "No relevant blocks found, creating new block",
		}
	}
	s, err := e.classifier.Classify(ctx, text, a, candidates)
	if err == nil {
		err = checkStrategy(s, candidates)
	}
	if err != nil {
		e.logger.Warn("fill: classification failed, updating best match",
			slog.String("error", err.Error()))
		return Strategy{
			Action:        ActionUpdate,
			TargetBlockID: candidates[0].Block.ID,
			Confidence:    ConfidenceFallback,
			Reasoning:     "Fallback: selected most relevant block for update",
		}
	}
	if s.Action == ActionCreate {
		s.TargetBlockID = ""
	}
	return s
}

func checkStrategy(s Strategy, candidates []retrieval.Result) error {
	if s.Confidence < 0 || s.Confidence > 1 {
		return apperr.Validationf("confidence %v out of range", s.Confidence)
	}
	switch s.Action {
	case ActionCreate:
		return nil
	case ActionUpdate, ActionAppend:
		for _, c := range candidates {
			if c.Block.ID == s.TargetBlockID {
				return nil
			}
		}
		return apperr.Validationf("target %q is not a candidate", s.TargetBlockID)
	default:
		return apperr.Validationf("unknown action %q", s.Action)
	}
}

// Execute applies s. A target that has disappeared (or belongs to another
// user) is retried as a create.
func (e *Engine) Execute(ctx context.Context, s Strategy, a *models.ContentAnalysis, userID string) (*Result, error) {
	if a == nil {
		return nil, apperr.Validationf("analysis is required")
	}
	if s.Action == ActionCreate {
		return e.create(ctx, s, a, userID)
	}
	if s.Action != ActionUpdate && s.Action != ActionAppend {
		return nil, apperr.Validationf("unknown action %q", s.Action)
	}

	target, err := e.store.GetBlock(ctx, s.TargetBlockID)
	if err == nil && target.UserID != userID {
		err = apperr.NotFoundf("block %s", s.TargetBlockID)
	}
	if errors.Is(err, apperr.ErrNotFound) {
		e.logger.Warn("fill: target block missing, creating instead",
			slog.String("target_block_id", s.TargetBlockID))
		return e.create(ctx, Strategy{
			Action:     ActionCreate,
			Confidence: ConfidenceCreate,
			Reasoning:  "Target block not found, creating new block",
		}, a, userID)
	}
	if err != nil {
		return nil, err
	}

	if target.Type == models.TypePage {
		if s.Action == ActionUpdate {
			return nil, apperr.MergeConflictf("page %s cannot be merged with free text", target.ID)
		}
		return e.appendToPage(ctx, s, target, a, userID)
	}

	content, err := e.merge(target, a, s.Action == ActionAppend)
	if err != nil {
		return nil, err
	}
	patch := metadataPatch(a)
	updated, err := e.store.UpdateBlock(ctx, target.ID, blockservice.UpdateParams{Content: content, Metadata: &patch})
	if errors.Is(err, apperr.ErrNotFound) {
		return e.create(ctx, Strategy{Action: ActionCreate, Confidence: ConfidenceCreate, Reasoning: "Target block not found, creating new block"}, a, userID)
	}
	if err != nil {
		return nil, err
	}
	reason := s.Reasoning
	if reason == "" {
		verb := "Updated existing"
		if s.Action == ActionAppend {
			verb = "Appended new information to existing"
		}
		reason = fmt.Sprintf("%s %s block", verb, target.Type)
	}
	return &Result{
		Action:        s.Action,
		TargetBlockID: target.ID,
		Block:         updated,
		Confidence:    s.Confidence,
		Reasoning:     reason,
	}, nil
}

func (e *Engine) create(ctx context.Context, s Strategy, a *models.ContentAnalysis, userID string) (*Result, error) {
	t := analyzer.BlockTypeForIntent(a.Intent)
	conf := s.Confidence
	b, err := e.store.CreateBlock(ctx, blockservice.CreateParams{
		Type:     t,
		Content:  NewContent(t, a),
		Metadata: newMetadata(a, conf),
		UserID:   userID,
	})
	if err != nil {
		return nil, err
	}
	reason := s.Reasoning
	if reason == "" {
		reason = fmt.Sprintf("Created new %s block for %s", t, a.Intent)
	}
	return &Result{Action: ActionCreate, Block: b, Confidence: conf, Reasoning: reason}, nil
}

func (e *Engine) appendToPage(ctx context.Context, s Strategy, page *models.Block, a *models.ContentAnalysis, userID string) (*Result, error) {
	t := analyzer.BlockTypeForIntent(a.Intent)
	child, err := e.store.CreateBlock(ctx, blockservice.CreateParams{
		Type:     t,
		Content:  NewContent(t, a),
		Metadata: newMetadata(a, s.Confidence),
		ParentID: page.ID,
		UserID:   userID,
	})
	if err != nil {
		return nil, err
	}
	return &Result{
		Action:        ActionAppend,
		TargetBlockID: page.ID,
		Block:         child,
		Confidence:    s.Confidence,
		Reasoning:     fmt.Sprintf("Added a %s block to page %q", t, models.FlattenText(page.Content)),
	}, nil
}

// NewContent builds the content of a new block of type t from a.
func NewContent(t models.BlockType, a *models.ContentAnalysis) models.Content {
	text := a.ExtractedContent
	switch t {
	case models.TypeTodo:
		p := a.Priority
		if p == "" {
			p = models.PriorityMedium
		}
		return models.TodoContent{Text: text, Priority: p}
	case models.TypeHeading:
		return models.HeadingContent{Level: 2, Text: text}
	case models.TypeTable:
		return models.TableContent{Headers: []string{"Item", "Details"}, Rows: [][]string{{text, ""}}}
	case models.TypeCallout:
		kind := models.CalloutInfo
		if a.Priority == models.PriorityHigh {
			kind = models.CalloutWarning
		}
		return models.CalloutContent{Kind: kind, Text: text}
	case models.TypePage:
		return models.PageContent{Title: text}
	default:
		return models.TextContent{Text: text}
	}
}

func newMetadata(a *models.ContentAnalysis, confidence float64) models.Metadata {
	m := models.Metadata{
		Tags:        a.Keywords,
		Category:    a.Category,
		Priority:    a.Priority,
		AIGenerated: true,
		Confidence:  &confidence,
	}
	if a.TimeInfo != nil {
		m.ScheduledAt = a.TimeInfo.ScheduledAt
		m.DueDate = a.TimeInfo.DueDate
	}
	return m
}

func metadataPatch(a *models.ContentAnalysis) models.Metadata {
	var m models.Metadata
	if a.TimeInfo != nil {
		m.ScheduledAt = a.TimeInfo.ScheduledAt
		m.DueDate = a.TimeInfo.DueDate
	}
	m.Priority = a.Priority
	return m
}

// merge folds a into target's content. Appends prefix text with a bullet
// and stamp table rows with today's date.
func (e *Engine) merge(target *models.Block, a *models.ContentAnalysis, appending bool) (models.Content, error) {
	text := a.ExtractedContent
	switch c := target.Content.(type) {
	case models.TextContent:
		sep := "\n\n"
		if appending {
			sep = "\n\n• "
		}
		if c.Text == "" {
			c.Text = text
		} else {
			c.Text = c.Text + sep + text
		}
		return c, nil
	case models.TodoContent:
		c.Text = text
		if a.Priority != "" {
			c.Priority = a.Priority
		}
		return c, nil
	case models.TableContent:
		width := len(c.Headers)
		if width == 0 {
			width = 2
		}
		row := make([]string, width)
		row[0] = text
		if appending && width > 1 {
			row[1] = e.now().Format(time.DateOnly)
		}
		c.Rows = append(append([][]string{}, c.Rows...), row)
		return c, nil
	case models.HeadingContent:
		c.Text = text
		return c, nil
	case models.CalloutContent:
		c.Text = text
		return c, nil
	default:
		return nil, apperr.MergeConflictf("block %s of type %s cannot absorb text", target.ID, target.Type)
	}
}

// Suggestions returns short human-readable next steps for text.
func (e *Engine) Suggestions(ctx context.Context, text, userID string) ([]string, error) {
	a, err := e.Analyze(ctx, text)
	if err != nil {
		return nil, err
	}
	candidates, err := e.search.Search(ctx, text, userID, retrieval.Filters{}, suggestionLimit)
	if err != nil {
		return nil, fmt.Errorf("fill: search candidates: %w", err)
	}
	out := []string{}
	intent := strings.ToLower(a.Intent)
	if strings.Contains(intent, "task") || strings.Contains(intent, "reminder") {
		out = append(out, "Create a new task", "Add to existing project")
	}
	if strings.Contains(intent, "project") {
		out = append(out, "Create new project", "Update existing project")
	}
	if a.TimeInfo != nil && a.TimeInfo.Expression != "" {
		out = append(out, fmt.Sprintf("Schedule for %s", a.TimeInfo.Expression))
	}
	if len(candidates) > 0 {
		out = append(out, fmt.Sprintf("Update %q", Summarize(candidates[0].Block)))
	}
	if len(out) == 0 {
		out = append(out, fmt.Sprintf("Create a new %s block", analyzer.BlockTypeForIntent(a.Intent)))
	}
	return out, nil
}

// Summarize returns a one-line description of b.
func Summarize(b *models.Block) string {
	if t, ok := b.Content.(models.TableContent); ok {
		return fmt.Sprintf("Table with %d columns and %d rows", len(t.Headers), len(t.Rows))
	}
	text := models.FlattenText(b.Content)
	if short := textnorm.Truncate(text, 100); short != text {
		return short + "..."
	}
	return text
}
