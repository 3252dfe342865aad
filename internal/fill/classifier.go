package fill

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/starford/lifeagent/internal/llm"
	"github.com/starford/lifeagent/internal/models"
	"github.com/starford/lifeagent/internal/retrieval"
)

// StrongMatch is the score above which the heuristic classifier merges
// into the best candidate instead of creating a block.
const StrongMatch = 0.8

// HeuristicClassifier merges into a strongly matching todo, bullet-appends
// to a strongly matching text or table, and otherwise creates.
type HeuristicClassifier struct{}

// Classify implements Classifier.
func (HeuristicClassifier) Classify(_ context.Context, _ string, _ *models.ContentAnalysis, candidates []retrieval.Result) (Strategy, error) {
	best := candidates[0]
	if best.Score >= StrongMatch {
		switch best.Block.Type {
		case models.TypeTodo:
			return Strategy{
				Action:        ActionUpdate,
				TargetBlockID: best.Block.ID,
				Confidence:    ConfidenceUpdate,
				Reasoning:     "Closely matches an existing task, updating it",
			}, nil
		case models.TypeText, models.TypeTable:
			return Strategy{
				Action:        ActionAppend,
				TargetBlockID: best.Block.ID,
				Confidence:    ConfidenceAppend,
				Reasoning:     fmt.Sprintf("Closely matches an existing %s block, appending to it", best.Block.Type),
			}, nil
		}
	}
	return Strategy{
		Action:     ActionCreate,
		Confidence: ConfidenceCreate,
		Reasoning:  "No existing block is a close enough match, creating new block",
	}, nil
}

const strategyPrompt = `You are a content organization assistant. Based on the user input and the available blocks, suggest the best action.
Return only a JSON object with:
- action: "create", "update" or "append"
- targetBlockId: the id of the block to update or append to, if applicable
- confidence: a number between 0 and 1
- reasoning: a short explanation
Consider content relevance and similarity, block type compatibility, recency of updates and the user's intent.`

// ModelClassifier asks a language model for the strategy.
type ModelClassifier struct {
	model llm.Model
}

// NewModelClassifier returns a model-backed classifier.
func NewModelClassifier(m llm.Model) *ModelClassifier {
	return &ModelClassifier{model: m}
}

type candidateView struct {
	ID          string    `json:"id"`
	Type        string    `json:"type"`
	Category    string    `json:"category"`
	Content     string    `json:"content"`
	Score       float64   `json:"score"`
	LastUpdated time.Time `json:"lastUpdated"`
}

// Classify implements Classifier. Malformed answers are errors; the engine
// turns them into its fallback.
func (c *ModelClassifier) Classify(ctx context.Context, text string, a *models.ContentAnalysis, candidates []retrieval.Result) (Strategy, error) {
	views := make([]candidateView, len(candidates))
	for i, r := range candidates {
		views[i] = candidateView{
			ID:          r.Block.ID,
			Type:        string(r.Block.Type),
			Category:    r.Block.Metadata.Category,
			Content:     Summarize(r.Block),
			Score:       r.Score,
			LastUpdated: r.Block.UpdatedAt,
		}
	}
	blocks, err := json.Marshal(views)
	if err != nil {
		return Strategy{}, err
	}
	var user strings.Builder
	fmt.Fprintf(&user, "User input: %s\n", text)
	if a != nil {
		fmt.Fprintf(&user, "Intent: %s\nCategory: %s\n", a.Intent, a.Category)
	}
	fmt.Fprintf(&user, "Available blocks: %s", blocks)

	var s Strategy
	if err := llm.CompleteJSON(ctx, c.model, strategyPrompt, user.String(), &s); err != nil {
		return Strategy{}, err
	}
	s.Action = Action(strings.ToLower(strings.TrimSpace(string(s.Action))))
	return s, nil
}
