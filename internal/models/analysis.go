package models

import "time"

// TimeInfo is the temporal part of an analysed statement.
type TimeInfo struct {
	Expression  string     `json:"expression,omitempty"`
	ScheduledAt *time.Time `json:"scheduledAt,omitempty"`
	DueDate     *time.Time `json:"dueDate,omitempty"`
	IsAllDay    bool       `json:"isAllDay"`
}

// ContentAnalysis is the structured reading of a free-text statement.
type ContentAnalysis struct {
	Intent           string    `json:"intent"`
	Category         string    `json:"category"`
	Priority         Priority  `json:"priority,omitempty"`
	TimeInfo         *TimeInfo `json:"timeInfo,omitempty"`
	ExtractedContent string    `json:"extractedContent"`
	Keywords         []string  `json:"keywords"`
	Entities         []string  `json:"entities"`
}

// VectorRecord is the embedding kept in sync with one block.
type VectorRecord struct {
	BlockID          string
	UserID           string
	Embedding        []float32
	TextSnapshot     string
	MetadataSnapshot MetadataSnapshot
	// Degraded marks a zero embedding stored because the provider failed.
	Degraded  bool
	UpdatedAt time.Time
}

// MetadataSnapshot is the subset of block metadata captured with a vector.
type MetadataSnapshot struct {
	Type       BlockType `json:"type"`
	Category   string    `json:"category"`
	Tags       []string  `json:"tags"`
	CreatedAt  time.Time `json:"createdAt"`
	TemplateID string    `json:"templateId,omitempty"`
}

// SnapshotOf captures the metadata snapshot of b.
func SnapshotOf(b *Block) MetadataSnapshot {
	return MetadataSnapshot{
		Type:       b.Type,
		Category:   b.Metadata.Normalize().Category,
		Tags:       b.Metadata.Normalize().Tags,
		CreatedAt:  b.CreatedAt,
		TemplateID: b.TemplateID,
	}
}
