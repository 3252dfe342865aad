package tools

import (
	"context"
)

func fillTools(d Deps) []Tool {
	return []Tool{
		{
			Name:        "intelligent_fill",
			Description: "File user input into a new block or merge it into the best matching existing block",
			Schema: Schema{
				{Name: "userInput", Kind: KindString, Description: "What the user said", Required: true},
				userParam,
			},
			Handler: func(ctx context.Context, a Args) (any, error) {
				user, err := userOf(ctx, a)
				if err != nil {
					return nil, err
				}
				return d.Fill.AnalyzeAndFill(ctx, a.String("userInput"), user)
			},
		},
		{
			Name:        "get_fill_suggestions",
			Description: "Suggest ways to file user input without changing anything",
			Schema: Schema{
				{Name: "userInput", Kind: KindString, Description: "What the user said", Required: true},
				userParam,
			},
			Handler: func(ctx context.Context, a Args) (any, error) {
				user, err := userOf(ctx, a)
				if err != nil {
					return nil, err
				}
				s, err := d.Fill.Suggestions(ctx, a.String("userInput"), user)
				if err != nil {
					return nil, err
				}
				return map[string]any{"suggestions": s}, nil
			},
		},
		{
			Name:        "analyze_content",
			Description: "Extract intent, category, priority, time and keywords from text",
			Schema: Schema{
				{Name: "content", Kind: KindString, Description: "Text to analyze", Required: true},
				{Name: "extractTimeInfo", Kind: KindBoolean, Description: "Include time information", Default: true},
				{Name: "extractEntities", Kind: KindBoolean, Description: "Include named entities", Default: true},
			},
			Handler: func(ctx context.Context, a Args) (any, error) {
				analysis, err := d.Fill.Analyze(ctx, a.String("content"))
				if err != nil {
					return nil, err
				}
				if !a.Bool("extractTimeInfo") {
					analysis.TimeInfo = nil
				}
				if !a.Bool("extractEntities") {
					analysis.Entities = []string{}
				}
				return analysis, nil
			},
		},
	}
}
