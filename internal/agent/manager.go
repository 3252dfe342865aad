package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/starford/lifeagent/internal/apperr"
	"github.com/starford/lifeagent/internal/llm"
)

// DefaultMaxConversations bounds the conversations kept in memory.
const DefaultMaxConversations = 256

// Manager keeps one Agent per conversation id. The least recently used
// conversation is forgotten when the limit is reached.
type Manager struct {
	model  llm.Model
	tools  Executor
	stats  StatsSource
	cfg    Config
	logger *slog.Logger
	newID  func() string

	mu    sync.Mutex
	convs *lru.Cache[string, *Agent]
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithIDGenerator overrides conversation id generation.
func WithIDGenerator(gen func() string) ManagerOption {
	return func(m *Manager) {
		if gen != nil {
			m.newID = gen
		}
	}
}

// NewManager creates a conversation manager holding up to size conversations.
func NewManager(model llm.Model, exec Executor, stats StatsSource, cfg Config, size int, logger *slog.Logger, opts ...ManagerOption) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if size <= 0 {
		size = DefaultMaxConversations
	}
	m := &Manager{
		model:  model,
		tools:  exec,
		stats:  stats,
		cfg:    cfg,
		logger: logger,
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(m)
	}
	cache, err := lru.NewWithEvict(size, func(id string, _ *Agent) {
		logger.Debug("agent: conversation evicted", slog.String("conversation_id", id))
	})
	if err != nil {
		return nil, fmt.Errorf("agent: create conversation cache: %w", err)
	}
	m.convs = cache
	return m, nil
}

// Conversation returns userID's agent for id, creating one with a fresh id
// when id is empty, unknown or owned by another user.
func (m *Manager) Conversation(id, userID string) *Agent {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id != "" {
		if a, ok := m.convs.Get(id); ok && a.UserID() == userID {
			return a
		}
	}
	a := New(m.newID(), userID, m.model, m.tools, m.stats, m.cfg, m.logger)
	m.convs.Add(a.ID(), a)
	m.logger.Debug("agent: conversation started", slog.String("conversation_id", a.ID()), slog.String("user_id", userID))
	return a
}

// Send runs a turn in conversation id; see Conversation for id handling.
func (m *Manager) Send(ctx context.Context, id, userID, message string) (*Reply, error) {
	return m.Conversation(id, userID).Send(ctx, message)
}

// lookup finds conversation id. Conversations of other users answer
// not found.
func (m *Manager) lookup(id, userID string) (*Agent, error) {
	a, ok := m.convs.Get(id)
	if !ok || a.UserID() != userID {
		return nil, apperr.NotFoundf("conversation %s", id)
	}
	return a, nil
}

// History returns the messages of userID's conversation id.
func (m *Manager) History(id, userID string) ([]llm.Message, error) {
	a, err := m.lookup(id, userID)
	if err != nil {
		return nil, err
	}
	return a.History(), nil
}

// Clear empties conversation id without forgetting it.
func (m *Manager) Clear(id, userID string) error {
	a, err := m.lookup(id, userID)
	if err != nil {
		return err
	}
	a.Clear()
	return nil
}

// SetSystemMessage replaces the system turn of conversation id.
func (m *Manager) SetSystemMessage(id, userID, msg string) error {
	a, err := m.lookup(id, userID)
	if err != nil {
		return err
	}
	a.SetSystemMessage(msg)
	return nil
}

// Len returns the number of live conversations.
func (m *Manager) Len() int { return m.convs.Len() }
