// Package agent runs conversational turns: it asks the language model what
// to do, executes the requested tools and composes the reply.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/starford/lifeagent/internal/apperr"
	"github.com/starford/lifeagent/internal/blockservice"
	"github.com/starford/lifeagent/internal/llm"
	"github.com/starford/lifeagent/internal/tools"
)

// DefaultMaxRoundTrips bounds model invocations per turn.
const DefaultMaxRoundTrips = 5

// Apology is the reply when the model cannot be reached.
const Apology = "Sorry, I couldn't process that request right now. Please try again in a moment."

// State is the phase of the current turn.
type State string

const (
	StateIdle            State = "idle"
	StateBuildingContext State = "building_context"
	StateAwaitingModel   State = "awaiting_model"
	StateExecutingTools  State = "executing_tools"
	StateResponding      State = "responding"
)

// StatsSource supplies the per-turn overview placed in the system prompt.
type StatsSource interface {
	Overview(ctx context.Context, userID string) (*blockservice.Overview, error)
}

// Executor runs tools by name.
type Executor interface {
	All() []tools.Tool
	Execute(ctx context.Context, name string, raw json.RawMessage) (any, error)
}

// ToolResult records one executed tool call.
type ToolResult struct {
	CallID    string          `json:"callId"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
	Result    any             `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
	Success   bool            `json:"success"`
	Timestamp time.Time       `json:"timestamp"`
}

// Reply is the outcome of one turn.
type Reply struct {
	ConversationID string       `json:"conversationId"`
	Message        string       `json:"message"`
	ToolResults    []ToolResult `json:"toolResults"`
	Success        bool         `json:"success"`
}

// Err reports a partial tool failure: some, but not all, calls failed.
func (r *Reply) Err() error {
	failed := 0
	for _, tr := range r.ToolResults {
		if !tr.Success {
			failed++
		}
	}
	if failed > 0 && failed < len(r.ToolResults) {
		return fmt.Errorf("%w: %d of %d tool calls failed", apperr.ErrPartialToolFailure, failed, len(r.ToolResults))
	}
	return nil
}

// Config tunes an Agent.
type Config struct {
	MaxRoundTrips   int
	HistoryCapacity int
	HistoryRetain   int
	SystemPrompt    string
}

// Agent holds one conversation. Turns on the same Agent run one at a time.
type Agent struct {
	id     string
	userID string
	model  llm.Model
	tools  Executor
	stats  StatsSource
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
	state  atomic.Value // State

	mu      sync.Mutex
	history *History
}

// New creates an agent for userID. stats may be nil.
func New(id, userID string, model llm.Model, exec Executor, stats StatsSource, cfg Config, logger *slog.Logger) *Agent {
	if cfg.MaxRoundTrips <= 0 {
		cfg.MaxRoundTrips = DefaultMaxRoundTrips
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = DefaultSystemPrompt
	}
	if logger == nil {
		logger = slog.Default()
	}
	a := &Agent{
		id:      id,
		userID:  userID,
		model:   model,
		tools:   exec,
		stats:   stats,
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
		history: NewHistory(cfg.HistoryCapacity, cfg.HistoryRetain),
	}
	a.setState(StateIdle)
	return a
}

// ID returns the conversation id.
func (a *Agent) ID() string { return a.id }

// UserID returns the owner of the conversation.
func (a *Agent) UserID() string { return a.userID }

// State returns the current phase.
func (a *Agent) State() State {
	return a.state.Load().(State)
}

// History returns a copy of the conversation, system turn first.
func (a *Agent) History() []llm.Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.history.Messages()
}

// Clear forgets the conversation.
func (a *Agent) Clear() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.history.Clear()
}

// SetSystemMessage replaces the conversation's system turn.
func (a *Agent) SetSystemMessage(msg string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.history.SetSystem(msg)
}

// Send runs one turn for message. A model failure yields the apology reply
// and leaves the history untouched; it is not returned as an error.
func (a *Agent) Send(ctx context.Context, message string) (*Reply, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return nil, apperr.Validationf("message is required")
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	defer a.setState(StateIdle)

	a.setState(StateBuildingContext)
	req := llm.Request{
		System:   a.systemPrompt(ctx),
		Messages: append(a.history.Turns(), llm.Message{Role: llm.RoleUser, Content: message}),
		Tools:    toolSpecs(a.tools.All()),
	}

	toolCtx := tools.WithUserID(ctx, a.userID)
	var (
		results []ToolResult
		text    string
	)
	for round := 0; round < a.cfg.MaxRoundTrips; round++ {
		a.setState(StateAwaitingModel)
		resp, err := a.model.Complete(ctx, req)
		if err != nil {
			a.logger.Error("agent: model call failed",
				slog.String("conversation_id", a.id),
				slog.Int("round", round),
				slog.String("error", err.Error()))
			return &Reply{ConversationID: a.id, Message: Apology, ToolResults: []ToolResult{}}, nil
		}
		text = resp.Text
		if len(resp.ToolCalls) == 0 {
			break
		}

		a.setState(StateExecutingTools)
		req.Messages = append(req.Messages, llm.Message{Role: llm.RoleAssistant, Content: resp.Text, ToolCalls: resp.ToolCalls})
		for _, call := range resp.ToolCalls {
			tr := a.execute(toolCtx, call)
			results = append(results, tr)
			req.Messages = append(req.Messages, toolMessage(tr))
		}
	}

	a.setState(StateResponding)
	a.history.Append(
		llm.Message{Role: llm.RoleUser, Content: message},
		llm.Message{Role: llm.RoleAssistant, Content: text},
	)
	if results == nil {
		results = []ToolResult{}
	}
	reply := &Reply{
		ConversationID: a.id,
		Message:        compose(text, results),
		ToolResults:    results,
		Success:        succeeded(results),
	}
	if err := reply.Err(); err != nil {
		a.logger.Warn("agent: turn finished with failures",
			slog.String("conversation_id", a.id),
			slog.String("error", err.Error()))
	}
	return reply, nil
}

func (a *Agent) setState(s State) { a.state.Store(s) }

func (a *Agent) execute(ctx context.Context, call llm.ToolCall) ToolResult {
	tr := ToolResult{
		CallID:    call.ID,
		Name:      call.Name,
		Arguments: call.Arguments,
		Timestamp: a.now(),
	}
	res, err := a.tools.Execute(ctx, call.Name, call.Arguments)
	if err != nil {
		tr.Error = err.Error()
		a.logger.Warn("agent: tool failed",
			slog.String("conversation_id", a.id),
			slog.String("tool", call.Name),
			slog.String("error", tr.Error))
		return tr
	}
	tr.Result = res
	tr.Success = true
	a.logger.Debug("agent: tool executed", slog.String("conversation_id", a.id), slog.String("tool", call.Name))
	return tr
}

func toolMessage(tr ToolResult) llm.Message {
	m := llm.Message{Role: llm.RoleTool, ToolCallID: tr.CallID}
	if !tr.Success {
		m.Content = tr.Error
		m.IsError = true
		return m
	}
	data, err := json.Marshal(tr.Result)
	if err != nil {
		m.Content = fmt.Sprintf("result could not be encoded: %v", err)
		m.IsError = true
		return m
	}
	m.Content = string(data)
	return m
}

func toolSpecs(ts []tools.Tool) []llm.ToolSpec {
	out := make([]llm.ToolSpec, len(ts))
	for i, t := range ts {
		out[i] = llm.ToolSpec{Name: t.Name, Description: t.Description, Parameters: t.Schema.JSONSchema()}
	}
	return out
}

// succeeded reports whether a turn counts as successful: no tools were
// requested, or at least one succeeded.
func succeeded(results []ToolResult) bool {
	if len(results) == 0 {
		return true
	}
	for _, r := range results {
		if r.Success {
			return true
		}
	}
	return false
}

func compose(text string, results []ToolResult) string {
	var ok, failed []string
	for _, r := range results {
		if r.Success {
			ok = append(ok, r.Name)
		} else {
			failed = append(failed, fmt.Sprintf("%s (%s)", r.Name, r.Error))
		}
	}
	var b strings.Builder
	b.WriteString(strings.TrimSpace(text))
	if len(ok) > 0 {
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString("Completed actions: " + strings.Join(ok, ", "))
	}
	if len(failed) > 0 {
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString("Failed actions: " + strings.Join(failed, "; "))
	}
	return b.String()
}
