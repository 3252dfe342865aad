// Package tools holds the named, schema-validated operations the agent may
// invoke, and the registry they are looked up in.
package tools

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/starford/lifeagent/internal/apperr"
)

// Handler runs a tool with validated arguments.
type Handler func(ctx context.Context, args Args) (any, error)

// Tool is a named operation with a parameter schema.
type Tool struct {
	Name        string
	Description string
	Schema      Schema
	Handler     Handler
}

// Registry maps tool names to tools. It is safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]Tool
	logger *slog.Logger
}

// NewRegistry returns an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{tools: make(map[string]Tool), logger: logger}
}

// Register adds t, replacing any tool with the same name.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tools[t.Name]; ok {
		r.logger.Warn("tools: overwriting registered tool", slog.String("tool", t.Name))
	}
	r.tools[t.Name] = t
}

// Get returns the tool registered under name.
func (r *Registry) Get(name string) (Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	if !ok {
		return Tool{}, apperr.NotFoundf("tool %q", name)
	}
	return t, nil
}

// All returns every registered tool ordered by name.
func (r *Registry) All() []Tool {
	r.mu.RLock()
	out := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	r.mu.RUnlock()
	slices.SortFunc(out, func(a, b Tool) int { return cmp.Compare(a.Name, b.Name) })
	return out
}

// Execute validates raw against the tool's schema and runs it.
func (r *Registry) Execute(ctx context.Context, name string, raw json.RawMessage) (any, error) {
	t, err := r.Get(name)
	if err != nil {
		return nil, err
	}
	args, err := t.Schema.Validate(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return t.Handler(ctx, args)
}

type userKey struct{}

// WithUserID returns a context whose tool calls act on behalf of userID.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userKey{}, userID)
}

// UserIDFrom returns the user set by WithUserID.
func UserIDFrom(ctx context.Context) string {
	s, _ := ctx.Value(userKey{}).(string)
	return s
}

// userParam is accepted by every user-scoped tool. A user bound to the
// context takes precedence over the argument.
var userParam = Param{Name: "userId", Kind: KindString, Description: "User ID; defaults to the current user"}

func userOf(ctx context.Context, args Args) (string, error) {
	if u := UserIDFrom(ctx); u != "" {
		return u, nil
	}
	if u := args.String("userId"); u != "" {
		return u, nil
	}
	return "", apperr.Validationf("userId is required")
}
