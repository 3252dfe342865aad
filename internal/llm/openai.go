package llm

import (
	"context"
	"encoding/json"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"
	"github.com/openai/openai-go/shared"
	"golang.org/x/time/rate"

	"github.com/starford/lifeagent/internal/apperr"
)

const (
	defaultOpenAIModel = "gpt-4o-mini"
	defaultMaxTokens   = 1024
)

// OpenAI talks to the Responses API.
type OpenAI struct {
	client  openai.Client
	cfg     Config
	limiter *rate.Limiter
}

// NewOpenAI creates an OpenAI model client.
func NewOpenAI(cfg Config) (*OpenAI, error) {
	if cfg.APIKey == "" {
		return nil, apperr.Validationf("openai: api key is required")
	}
	if cfg.Model == "" {
		cfg.Model = defaultOpenAIModel
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &OpenAI{client: openai.NewClient(opts...), cfg: cfg, limiter: newLimiter(cfg.RateLimit)}, nil
}

// Complete implements Model.
func (o *OpenAI) Complete(ctx context.Context, req Request) (*Response, error) {
	if err := o.limiter.Wait(ctx); err != nil {
		return nil, apperr.Externalf(err, "openai: rate limit wait")
	}
	result, err := o.client.Responses.New(ctx, o.params(req))
	if err != nil {
		return nil, apperr.Externalf(err, "openai: responses")
	}
	out := &Response{Text: result.OutputText()}
	for _, item := range result.Output {
		if item.Type == "function_call" {
			out.ToolCalls = append(out.ToolCalls, ToolCall{
				ID:        item.CallID,
				Name:      item.Name,
				Arguments: json.RawMessage(item.Arguments),
			})
		}
	}
	return out, nil
}

func (o *OpenAI) params(req Request) responses.ResponseNewParams {
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = o.cfg.MaxTokens
	}
	params := responses.ResponseNewParams{
		Model: shared.ResponsesModel(o.cfg.Model),
		Input: responses.ResponseNewParamsInputUnion{
			OfInputItemList: openAIInput(req),
		},
		MaxOutputTokens: openai.Int(int64(maxTokens)),
	}
	if req.Temperature != nil {
		params.Temperature = openai.Float(*req.Temperature)
	} else if o.cfg.Temperature > 0 {
		params.Temperature = openai.Float(o.cfg.Temperature)
	}
	// Tool schemas list only mandatory params in required, which strict
	// mode rejects. Arguments are validated against the schema on dispatch.
	for _, t := range req.Tools {
		tool := responses.ToolParamOfFunction(t.Name, objectSchema(t.Parameters), false)
		if t.Description != "" {
			tool.OfFunction.Description = openai.String(t.Description)
		}
		params.Tools = append(params.Tools, tool)
	}
	return params
}

func openAIInput(req Request) responses.ResponseInputParam {
	items := make(responses.ResponseInputParam, 0, len(req.Messages)+1)
	if req.System != "" {
		items = append(items, responses.ResponseInputItemParamOfMessage(req.System, responses.EasyInputMessageRoleSystem))
	}
	for _, msg := range req.Messages {
		switch msg.Role {
		case RoleSystem:
			items = append(items, responses.ResponseInputItemParamOfMessage(msg.Content, responses.EasyInputMessageRoleSystem))
		case RoleUser:
			items = append(items, responses.ResponseInputItemParamOfMessage(msg.Content, responses.EasyInputMessageRoleUser))
		case RoleAssistant:
			if msg.Content != "" {
				items = append(items, responses.ResponseInputItemParamOfMessage(msg.Content, responses.EasyInputMessageRoleAssistant))
			}
			for _, tc := range msg.ToolCalls {
				items = append(items, responses.ResponseInputItemParamOfFunctionCall(string(tc.Arguments), tc.ID, tc.Name))
			}
		case RoleTool:
			items = append(items, responses.ResponseInputItemParamOfFunctionCallOutput(msg.ToolCallID, msg.Content))
		}
	}
	return items
}

func objectSchema(params map[string]any) map[string]any {
	if params == nil {
		return map[string]any{"type": "object", "properties": map[string]any{}}
	}
	if _, ok := params["type"]; !ok {
		params["type"] = "object"
	}
	return params
}
