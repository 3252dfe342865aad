package analyzer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/starford/lifeagent/internal/llm"
	"github.com/starford/lifeagent/internal/models"
)

const analysisPrompt = `You are a content analyzer. Analyze the user input and return only a JSON object with:
- intent: the user's intent (create_task, reminder, update_project, add_note, schedule_event, add_heading, add_comparison, add_warning)
- category: content category (work, personal, fitness, shopping, health, finance, learning, project, general)
- priority: "high", "medium" or "low" if mentioned, otherwise ""
- timeInfo: {"expression", "scheduledAt", "dueDate", "isAllDay"} with RFC3339 timestamps, or null
- extractedContent: the main content with filler and time phrases removed
- keywords: important keywords
- entities: named entities (people, places, things)
The current time is %s.`

// Model asks a language model for the analysis and falls back to the
// heuristic analyzer on any failure.
type Model struct {
	model    llm.Model
	fallback *Heuristic
	logger   *slog.Logger
}

// NewModel returns a model-backed analyzer.
func NewModel(m llm.Model, fallback *Heuristic, logger *slog.Logger) *Model {
	if fallback == nil {
		fallback = NewHeuristic(nil)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Model{model: m, fallback: fallback, logger: logger}
}

type modelAnalysis struct {
	Intent   string `json:"intent"`
	Category string `json:"category"`
	Priority string `json:"priority"`
	TimeInfo *struct {
		Expression  string `json:"expression"`
		ScheduledAt string `json:"scheduledAt"`
		DueDate     string `json:"dueDate"`
		IsAllDay    bool   `json:"isAllDay"`
	} `json:"timeInfo"`
	ExtractedContent string   `json:"extractedContent"`
	Keywords         []string `json:"keywords"`
	Entities         []string `json:"entities"`
}

// Analyze implements the analyzer contract.
func (m *Model) Analyze(ctx context.Context, text string) (*models.ContentAnalysis, error) {
	base, _ := m.fallback.Analyze(ctx, text)

	var raw modelAnalysis
	system := fmt.Sprintf(analysisPrompt, m.fallback.now().Format(time.RFC3339))
	if err := llm.CompleteJSON(ctx, m.model, system, text, &raw); err != nil {
		m.logger.Warn("analyzer: model analysis failed, using heuristics",
			slog.String("error", err.Error()))
		return base, nil
	}
	if strings.TrimSpace(raw.Intent) == "" || strings.TrimSpace(raw.ExtractedContent) == "" {
		m.logger.Warn("analyzer: model analysis incomplete, using heuristics")
		return base, nil
	}

	a := &models.ContentAnalysis{
		Intent:           strings.ToLower(strings.TrimSpace(raw.Intent)),
		Category:         strings.ToLower(strings.TrimSpace(raw.Category)),
		Priority:         models.ParsePriority(strings.ToLower(raw.Priority)),
		ExtractedContent: strings.TrimSpace(raw.ExtractedContent),
		Keywords:         raw.Keywords,
		Entities:         raw.Entities,
		// Phrases the parser understands resolve deterministically.
		TimeInfo: base.TimeInfo,
	}
	if a.Category == "" {
		a.Category = base.Category
	}
	if a.Keywords == nil {
		a.Keywords = base.Keywords
	}
	if a.Entities == nil {
		a.Entities = []string{}
	}
	if a.TimeInfo == nil && raw.TimeInfo != nil {
		a.TimeInfo = modelTime(raw.TimeInfo.Expression, raw.TimeInfo.ScheduledAt, raw.TimeInfo.DueDate, raw.TimeInfo.IsAllDay)
	}
	return a, nil
}

func modelTime(expr, scheduled, due string, allDay bool) *models.TimeInfo {
	info := &models.TimeInfo{Expression: expr, IsAllDay: allDay}
	if t, err := time.Parse(time.RFC3339, scheduled); err == nil {
		info.ScheduledAt = &t
	}
	if t, err := time.Parse(time.RFC3339, due); err == nil {
		info.DueDate = &t
	}
	if info.ScheduledAt == nil && info.DueDate == nil {
		return nil
	}
	return info
}
