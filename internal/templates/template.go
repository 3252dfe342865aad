// Package templates manages reusable block layouts stored as YAML files and
// instantiates them into blocks.
package templates

import (
	"encoding/json"
	"fmt"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/lifeagent/internal/models"
)

// Category groups templates.
type Category string

const (
	CategoryProject Category = "project"
	CategoryReview  Category = "review"
)

// BlockSpec is one block a template produces. Content holds the fields of
// the block type and may contain {{placeholders}}.
type BlockSpec struct {
	Type         models.BlockType `yaml:"type" json:"type"`
	Content      map[string]any   `yaml:"content" json:"content"`
	Position     int              `yaml:"position" json:"position"`
	Required     bool             `yaml:"required" json:"required"`
	Customizable bool             `yaml:"customizable" json:"customizable"`
	AIPrompt     string           `yaml:"aiPrompt,omitempty" json:"aiPrompt,omitempty"`
}

// Structure is the body of a template.
type Structure struct {
	Blocks       []BlockSpec `yaml:"blocks" json:"blocks"`
	CustomFields []string    `yaml:"customFields,omitempty" json:"customFields"`
}

// Usage tracks how often a template has been instantiated.
type Usage struct {
	UsageCount int        `yaml:"usageCount" json:"usageCount"`
	LastUsed   *time.Time `yaml:"lastUsed,omitempty" json:"lastUsed,omitempty"`
}

// Template is a named, reusable set of blocks.
type Template struct {
	ID          string    `yaml:"id" json:"id"`
	Name        string    `yaml:"name" json:"name"`
	Description string    `yaml:"description,omitempty" json:"description"`
	Category    Category  `yaml:"category" json:"category"`
	Icon        string    `yaml:"icon,omitempty" json:"icon,omitempty"`
	Tags        []string  `yaml:"tags,omitempty" json:"tags"`
	Structure   Structure `yaml:"structure" json:"structure"`
	Metadata    Usage     `yaml:"metadata" json:"metadata"`
	UserID      string    `yaml:"userId" json:"userId"`
	IsPublic    bool      `yaml:"isPublic" json:"isPublic"`
	CreatedAt   time.Time `yaml:"createdAt" json:"createdAt"`
	UpdatedAt   time.Time `yaml:"updatedAt" json:"updatedAt"`
}

// Validate checks the template and every block it would produce.
func (t *Template) Validate() error {
	if err := validation.ValidateStruct(t,
		validation.Field(&t.Name, validation.Required),
		validation.Field(&t.Category, validation.Required, validation.In(CategoryProject, CategoryReview)),
		validation.Field(&t.UserID, validation.Required),
	); err != nil {
		return err
	}
	for i, b := range t.Structure.Blocks {
		if _, err := b.decode(nil); err != nil {
			return fmt.Errorf("structure.blocks[%d]: %w", i, err)
		}
	}
	return nil
}

// decode applies replace to every string in the content and decodes it as
// the block's content type.
func (b BlockSpec) decode(replace func(string) string) (models.Content, error) {
	content := substitute(b.Content, replace)
	if content == nil {
		content = map[string]any{}
	}
	raw, err := json.Marshal(content)
	if err != nil {
		return nil, fmt.Errorf("encode content: %w", err)
	}
	return models.DecodeContent(b.Type, raw)
}

func substitute(v any, replace func(string) string) map[string]any {
	m, _ := walk(v, replace).(map[string]any)
	return m
}

func walk(v any, replace func(string) string) any {
	switch x := v.(type) {
	case string:
		if replace == nil {
			return x
		}
		return replace(x)
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, val := range x {
			out[k] = walk(val, replace)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, val := range x {
			out[i] = walk(val, replace)
		}
		return out
	default:
		return v
	}
}

func (t *Template) visibleTo(userID string) bool {
	return t.IsPublic || (userID != "" && t.UserID == userID)
}

func (t *Template) clone() *Template {
	c := *t
	c.Tags = append([]string(nil), t.Tags...)
	c.Structure.Blocks = append([]BlockSpec(nil), t.Structure.Blocks...)
	c.Structure.CustomFields = append([]string(nil), t.Structure.CustomFields...)
	if t.Metadata.LastUsed != nil {
		lu := *t.Metadata.LastUsed
		c.Metadata.LastUsed = &lu
	}
	return &c
}
