package api

import (
	"encoding/json"

	"github.com/starford/lifeagent/internal/blockservice"
	"github.com/starford/lifeagent/internal/llm"
	"github.com/starford/lifeagent/internal/models"
	"github.com/starford/lifeagent/internal/templates"
)

// CreateBlockRequest is the request body for creating a block.
type CreateBlockRequest struct {
	Type       models.BlockType `json:"type" example:"todo" validate:"required"`
	Content    json.RawMessage  `json:"content" validate:"required"`
	Metadata   models.Metadata  `json:"metadata"`
	ParentID   string           `json:"parentId,omitempty"`
	TemplateID string           `json:"templateId,omitempty"`
}

// UpdateBlockRequest is a partial block update. The If-Match header takes
// precedence over IfMatch.
type UpdateBlockRequest struct {
	Content  json.RawMessage  `json:"content,omitempty"`
	Metadata *models.Metadata `json:"metadata,omitempty"`
	IfMatch  string           `json:"ifMatch,omitempty"`
}

// BlockListResponse wraps paginated block listings.
type BlockListResponse struct {
	Blocks []*models.Block `json:"blocks" validate:"required"`
	Total  int             `json:"total" example:"42" validate:"required"`
}

// FillRequest is the request body for POST /fill.
type FillRequest struct {
	Text string `json:"text" example:"remind me to buy milk tomorrow at 5pm" validate:"required"`
}

// ChatRequest submits one chat turn. An empty or unknown conversation id
// starts a new conversation.
type ChatRequest struct {
	Message        string `json:"message" validate:"required"`
	ConversationID string `json:"conversationId,omitempty"`
}

// SystemMessageRequest replaces a conversation's system turn.
type SystemMessageRequest struct {
	Message string `json:"message" validate:"required"`
}

// CreateTemplateRequest is the request body for creating a template.
type CreateTemplateRequest struct {
	Name        string              `json:"name" validate:"required"`
	Description string              `json:"description"`
	Category    templates.Category  `json:"category" example:"project" validate:"required"`
	Icon        string              `json:"icon"`
	Tags        []string            `json:"tags"`
	Structure   templates.Structure `json:"structure"`
	IsPublic    bool                `json:"isPublic"`
}

// UpdateTemplateRequest is a partial template update.
type UpdateTemplateRequest struct {
	Name        *string              `json:"name,omitempty"`
	Description *string              `json:"description,omitempty"`
	Category    *templates.Category  `json:"category,omitempty"`
	Icon        *string              `json:"icon,omitempty"`
	Tags        []string             `json:"tags,omitempty"`
	Structure   *templates.Structure `json:"structure,omitempty"`
	IsPublic    *bool                `json:"isPublic,omitempty"`
}

// InstantiateRequest carries placeholder values for a template.
type InstantiateRequest struct {
	CustomData map[string]string `json:"customData"`
}

// StatsResponse is the body of GET /stats.
type StatsResponse struct {
	Stats    *blockservice.Stats          `json:"stats"`
	Overview *blockservice.Overview       `json:"overview"`
	Today    []blockservice.ScheduledTask `json:"today"`
}

// SuggestionsResponse lists fill suggestions.
type SuggestionsResponse struct {
	Suggestions []string `json:"suggestions"`
}

// HistoryResponse is the stored history of one conversation.
type HistoryResponse struct {
	ConversationID string        `json:"conversationId"`
	Messages       []llm.Message `json:"messages"`
}
