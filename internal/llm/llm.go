// Package llm defines the language-model contract used by the agent loop
// and the model-backed analyzers, with OpenAI and Anthropic clients.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"golang.org/x/time/rate"

	"github.com/starford/lifeagent/internal/apperr"
)

// Role of a conversation message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Provider names accepted in configuration.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderNone      = "none"
)

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// Message is one turn sent to the model. Assistant messages may carry tool
// calls; tool messages carry the result of one call.
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"toolCalls,omitempty"`
	ToolCallID string     `json:"toolCallId,omitempty"`
	IsError    bool       `json:"isError,omitempty"`
}

// ToolSpec describes a callable tool. Parameters is a JSON Schema object.
type ToolSpec struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// Request is a single model invocation.
type Request struct {
	System      string
	Messages    []Message
	Tools       []ToolSpec
	MaxTokens   int
	Temperature *float64
}

// Response is the model's answer: text, tool calls, or both.
type Response struct {
	Text      string
	ToolCalls []ToolCall
}

// Model is a language-model service.
type Model interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}

// Config selects and configures a provider.
type Config struct {
	Provider    string
	Model       string
	APIKey      string
	BaseURL     string
	MaxTokens   int
	Temperature float64
	// RateLimit caps requests per second. Zero means unlimited.
	RateLimit float64
}

// New builds the configured model. Provider "none" yields a model whose
// every call fails, so callers degrade the way they would on an outage.
func New(cfg Config) (Model, error) {
	switch cfg.Provider {
	case ProviderOpenAI:
		return NewOpenAI(cfg)
	case ProviderAnthropic:
		return NewAnthropic(cfg)
	case ProviderNone, "":
		return Unconfigured{}, nil
	default:
		return nil, apperr.Validationf("unknown llm provider %q", cfg.Provider)
	}
}

// Unconfigured is the model used when no provider is set.
type Unconfigured struct{}

// Complete always fails.
func (Unconfigured) Complete(context.Context, Request) (*Response, error) {
	return nil, fmt.Errorf("%w: no language model configured", apperr.ErrExternalService)
}

func newLimiter(rps float64) *rate.Limiter {
	if rps <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	return rate.NewLimiter(rate.Limit(rps), max(1, int(rps)))
}

// CompleteJSON asks m for a single JSON object and decodes it into out.
// Transport failures wrap ErrExternalService; unparseable output wraps
// ErrValidation.
func CompleteJSON(ctx context.Context, m Model, system, user string, out any) error {
	temp := 0.0
	resp, err := m.Complete(ctx, Request{
		System:      system,
		Messages:    []Message{{Role: RoleUser, Content: user}},
		Temperature: &temp,
	})
	if err != nil {
		return err
	}
	raw, ok := ExtractJSON(resp.Text)
	if !ok {
		return apperr.Validationf("model returned no JSON object")
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return apperr.Validationf("model returned malformed JSON: %v", err)
	}
	return nil
}

// ExtractJSON returns the outermost JSON object in text, tolerating code
// fences and surrounding prose.
func ExtractJSON(text string) (string, bool) {
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end <= start {
		return "", false
	}
	return text[start : end+1], true
}
