package internal

import (
	"fmt"
	"log/slog"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/lifeagent/internal/agent"
	"github.com/starford/lifeagent/internal/embedding"
	"github.com/starford/lifeagent/internal/index"
	"github.com/starford/lifeagent/internal/llm"
	"github.com/starford/lifeagent/internal/retrieval"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Embedding providers.
const (
	EmbeddingOpenAI = "openai"
	EmbeddingHash   = "hash"
)

// Config represents the application configuration.
type Config struct {
	App       ApplicationConfig `yaml:"app"`
	SQLite    SQLiteConfig      `yaml:"sqlite"`
	Auth      AuthConfig        `yaml:"auth"`
	Embedding EmbeddingConfig   `yaml:"embedding"`
	LLM       LLMConfig         `yaml:"llm"`
	Agent     AgentConfig       `yaml:"agent"`
	Search    SearchConfig      `yaml:"search"`
	Templates TemplatesConfig   `yaml:"templates"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	validators := []interface{ Validate() error }{
		&c.App, &c.SQLite, &c.Auth, &c.Embedding, &c.LLM, &c.Agent, &c.Search, &c.Templates,
	}
	for _, v := range validators {
		if err := v.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	HTTP     HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// SQLiteConfig holds SQLite database configuration.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the SQLite configuration.
func (c *SQLiteConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// AuthConfig holds authentication configuration.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local dev.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode"`
	Token string `yaml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" {
		return fmt.Errorf("auth: mode is %q but token is empty", AuthModeToken)
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// EmbeddingConfig selects the embedding backend. The hash provider works
// offline and needs no key.
type EmbeddingConfig struct {
	Provider         string `yaml:"provider"`
	Model            string `yaml:"model"`
	APIKey           string `yaml:"api_key"`
	BaseURL          string `yaml:"base_url"`
	Dimension        int    `yaml:"dimension"`
	MaxInputChars    int    `yaml:"max_input_chars"`
	CacheSize        int    `yaml:"cache_size"`
	BatchConcurrency int    `yaml:"batch_concurrency"`
}

// Validate validates the embedding configuration.
func (c *EmbeddingConfig) Validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Provider, validation.Required, validation.In(EmbeddingOpenAI, EmbeddingHash)),
		validation.Field(&c.Dimension, validation.Required, validation.Min(1)),
		validation.Field(&c.MaxInputChars, validation.Min(0)),
		validation.Field(&c.CacheSize, validation.Min(0)),
		validation.Field(&c.BatchConcurrency, validation.Min(0)),
	); err != nil {
		return fmt.Errorf("embedding: %w", err)
	}
	if c.Provider == EmbeddingOpenAI && c.APIKey == "" {
		return fmt.Errorf("embedding: provider is %q but api_key is empty", EmbeddingOpenAI)
	}
	return nil
}

// ProviderConfig converts to the embedding package's configuration.
func (c *EmbeddingConfig) ProviderConfig() embedding.Config {
	return embedding.Config{
		Dimension:     c.Dimension,
		MaxInputChars: c.MaxInputChars,
		CacheSize:     c.CacheSize,
		Concurrency:   c.BatchConcurrency,
	}
}

// LLMConfig selects the language model. Provider "none" keeps every
// model-backed feature on its fallback path.
type LLMConfig struct {
	Provider    string  `yaml:"provider"`
	Model       string  `yaml:"model"`
	APIKey      string  `yaml:"api_key"`
	BaseURL     string  `yaml:"base_url"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
	// RateLimit caps model requests per second; zero disables limiting.
	RateLimit float64 `yaml:"rate_limit"`
}

// Validate validates the LLM configuration.
func (c *LLMConfig) Validate() error {
	if c.Provider == "" {
		c.Provider = llm.ProviderNone
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Provider, validation.In(llm.ProviderNone, llm.ProviderOpenAI, llm.ProviderAnthropic)),
		validation.Field(&c.MaxTokens, validation.Min(0)),
		validation.Field(&c.Temperature, validation.Min(0.0), validation.Max(2.0)),
		validation.Field(&c.RateLimit, validation.Min(0.0)),
	); err != nil {
		return fmt.Errorf("llm: %w", err)
	}
	if c.Provider != llm.ProviderNone && c.APIKey == "" {
		return fmt.Errorf("llm: provider is %q but api_key is empty", c.Provider)
	}
	return nil
}

// ModelConfig converts to the llm package's configuration.
func (c *LLMConfig) ModelConfig() llm.Config {
	return llm.Config{
		Provider:    c.Provider,
		Model:       c.Model,
		APIKey:      c.APIKey,
		BaseURL:     c.BaseURL,
		MaxTokens:   c.MaxTokens,
		Temperature: c.Temperature,
		RateLimit:   c.RateLimit,
	}
}

// AgentConfig tunes the conversational agent.
type AgentConfig struct {
	MaxRoundTrips    int    `yaml:"max_round_trips"`
	HistoryCapacity  int    `yaml:"history_capacity"`
	HistoryRetain    int    `yaml:"history_retain"`
	MaxConversations int    `yaml:"max_conversations"`
	DefaultUserID    string `yaml:"default_user_id"`
}

// Validate validates the agent configuration.
func (c *AgentConfig) Validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.MaxRoundTrips, validation.Required, validation.Min(1)),
		validation.Field(&c.HistoryCapacity, validation.Required, validation.Min(2)),
		validation.Field(&c.HistoryRetain, validation.Required, validation.Min(1)),
		validation.Field(&c.MaxConversations, validation.Min(0)),
		validation.Field(&c.DefaultUserID, validation.Required),
	); err != nil {
		return fmt.Errorf("agent: %w", err)
	}
	if c.HistoryRetain > c.HistoryCapacity {
		return fmt.Errorf("agent: history_retain %d exceeds history_capacity %d", c.HistoryRetain, c.HistoryCapacity)
	}
	return nil
}

// AgentSettings converts to the agent package's configuration.
func (c *AgentConfig) AgentSettings() agent.Config {
	return agent.Config{
		MaxRoundTrips:   c.MaxRoundTrips,
		HistoryCapacity: c.HistoryCapacity,
		HistoryRetain:   c.HistoryRetain,
	}
}

// SearchConfig tunes hybrid retrieval.
type SearchConfig struct {
	MinScore         float64 `yaml:"min_score"`
	NeighborMinScore float64 `yaml:"neighbor_min_score"`
	CandidateFactor  int     `yaml:"candidate_factor"`
	VectorWeight     float64 `yaml:"vector_weight"`
	KeywordWeight    float64 `yaml:"keyword_weight"`
}

// Validate validates the search configuration.
func (c *SearchConfig) Validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.MinScore, validation.Min(-1.0), validation.Max(1.0)),
		validation.Field(&c.NeighborMinScore, validation.Min(-1.0), validation.Max(1.0)),
		validation.Field(&c.CandidateFactor, validation.Required, validation.Min(1)),
		validation.Field(&c.VectorWeight, validation.Min(0.0)),
		validation.Field(&c.KeywordWeight, validation.Min(0.0)),
	); err != nil {
		return fmt.Errorf("search: %w", err)
	}
	if c.VectorWeight+c.KeywordWeight == 0 {
		return fmt.Errorf("search: vector_weight and keyword_weight are both zero")
	}
	return nil
}

// RetrievalConfig converts to the retrieval package's configuration.
func (c *SearchConfig) RetrievalConfig() retrieval.Config {
	return retrieval.Config{
		MinScore:         c.MinScore,
		NeighborMinScore: c.NeighborMinScore,
		CandidateFactor:  c.CandidateFactor,
		VectorWeight:     c.VectorWeight,
		KeywordWeight:    c.KeywordWeight,
	}
}

// TemplatesConfig locates template YAML files.
type TemplatesConfig struct {
	Path  string `yaml:"path"`
	Watch bool   `yaml:"watch"`
}

// Validate validates the templates configuration.
func (c *TemplatesConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		SQLite: SQLiteConfig{
			Path: "./lifeagent.db",
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
		Embedding: EmbeddingConfig{
			Provider:         EmbeddingHash,
			Dimension:        embedding.DefaultDimension,
			MaxInputChars:    embedding.DefaultMaxInputChars,
			CacheSize:        embedding.DefaultCacheSize,
			BatchConcurrency: embedding.DefaultConcurrency,
		},
		LLM: LLMConfig{
			Provider:    llm.ProviderNone,
			MaxTokens:   1024,
			Temperature: 0.7,
		},
		Agent: AgentConfig{
			MaxRoundTrips:    agent.DefaultMaxRoundTrips,
			HistoryCapacity:  agent.DefaultHistoryCapacity,
			HistoryRetain:    agent.DefaultHistoryRetain,
			MaxConversations: agent.DefaultMaxConversations,
			DefaultUserID:    "default",
		},
		Search: SearchConfig{
			MinScore:         index.DefaultMinScore,
			NeighborMinScore: index.DefaultNeighborMinScore,
			CandidateFactor:  5,
			VectorWeight:     0.7,
			KeywordWeight:    0.3,
		},
		Templates: TemplatesConfig{
			Path:  "./templates",
			Watch: true,
		},
	}
}
