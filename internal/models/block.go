// Package models holds the domain types shared by storage, retrieval and tools.
package models

import (
	"encoding/json"
	"fmt"
	"slices"
	"time"
)

// DefaultCategory is assigned to blocks created without a category.
const DefaultCategory = "general"

// Priority is an optional urgency marker.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// ParsePriority returns the Priority named by s, or "" when s is not one.
func ParsePriority(s string) Priority {
	switch p := Priority(s); p {
	case PriorityHigh, PriorityMedium, PriorityLow:
		return p
	}
	return ""
}

// Metadata is the non-content part of a block.
type Metadata struct {
	Tags         []string   `json:"tags"`
	Category     string     `json:"category"`
	Priority     Priority   `json:"priority,omitempty"`
	ScheduledAt  *time.Time `json:"scheduledAt,omitempty"`
	DueDate      *time.Time `json:"dueDate,omitempty"`
	CompletedAt  *time.Time `json:"completedAt,omitempty"`
	LinkedBlocks []string   `json:"linkedBlocks"`
	Mentions     []string   `json:"mentions"`
	AIGenerated  bool       `json:"aiGenerated"`
	Confidence   *float64   `json:"confidence,omitempty"`
}

// Normalize applies defaults so the zero value round-trips predictably.
func (m Metadata) Normalize() Metadata {
	if m.Category == "" {
		m.Category = DefaultCategory
	}
	m.Tags = uniqueStrings(m.Tags)
	m.LinkedBlocks = uniqueStrings(m.LinkedBlocks)
	m.Mentions = uniqueStrings(m.Mentions)
	return m
}

// Merge overlays the set fields of patch onto m. Sets are unioned; unset
// fields in patch leave the existing values untouched.
func (m Metadata) Merge(patch Metadata) Metadata {
	out := m
	out.Tags = uniqueStrings(append(slices.Clone(m.Tags), patch.Tags...))
	out.LinkedBlocks = uniqueStrings(append(slices.Clone(m.LinkedBlocks), patch.LinkedBlocks...))
	out.Mentions = uniqueStrings(append(slices.Clone(m.Mentions), patch.Mentions...))
	if patch.Category != "" {
		out.Category = patch.Category
	}
	if patch.Priority != "" {
		out.Priority = patch.Priority
	}
	if patch.ScheduledAt != nil {
		out.ScheduledAt = patch.ScheduledAt
	}
	if patch.DueDate != nil {
		out.DueDate = patch.DueDate
	}
	if patch.CompletedAt != nil {
		out.CompletedAt = patch.CompletedAt
	}
	if patch.AIGenerated {
		out.AIGenerated = true
	}
	if patch.Confidence != nil {
		out.Confidence = patch.Confidence
	}
	return out.Normalize()
}

func uniqueStrings(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, s := range in {
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

// Block is the atomic typed content unit.
type Block struct {
	ID         string
	Type       BlockType
	Content    Content
	Metadata   Metadata
	ParentID   string
	TemplateID string
	UserID     string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Text returns the flattened searchable text of the block.
func (b *Block) Text() string {
	return FlattenText(b.Content)
}

// Version is the precondition token accepted by conditional updates.
func (b *Block) Version() string {
	return b.UpdatedAt.UTC().Format(time.RFC3339Nano)
}

type blockJSON struct {
	ID         string          `json:"id"`
	Type       BlockType       `json:"type"`
	Content    json.RawMessage `json:"content"`
	Metadata   Metadata        `json:"metadata"`
	ParentID   string          `json:"parentId,omitempty"`
	TemplateID string          `json:"templateId,omitempty"`
	UserID     string          `json:"userId"`
	CreatedAt  time.Time       `json:"createdAt"`
	UpdatedAt  time.Time       `json:"updatedAt"`
}

// MarshalJSON encodes the block with its content inline.
func (b Block) MarshalJSON() ([]byte, error) {
	raw, err := json.Marshal(b.Content)
	if err != nil {
		return nil, fmt.Errorf("models: marshal content: %w", err)
	}
	return json.Marshal(blockJSON{
		ID:         b.ID,
		Type:       b.Type,
		Content:    raw,
		Metadata:   b.Metadata.Normalize(),
		ParentID:   b.ParentID,
		TemplateID: b.TemplateID,
		UserID:     b.UserID,
		CreatedAt:  b.CreatedAt,
		UpdatedAt:  b.UpdatedAt,
	})
}

// UnmarshalJSON decodes a block, rejecting content that does not match its type.
func (b *Block) UnmarshalJSON(data []byte) error {
	var v blockJSON
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	c, err := DecodeContent(v.Type, v.Content)
	if err != nil {
		return err
	}
	*b = Block{
		ID:         v.ID,
		Type:       v.Type,
		Content:    c,
		Metadata:   v.Metadata.Normalize(),
		ParentID:   v.ParentID,
		TemplateID: v.TemplateID,
		UserID:     v.UserID,
		CreatedAt:  v.CreatedAt,
		UpdatedAt:  v.UpdatedAt,
	}
	return nil
}
