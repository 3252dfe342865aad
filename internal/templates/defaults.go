package templates

import (
	"context"
	"log/slog"

	"github.com/starford/lifeagent/internal/models"
)

// SystemUserID owns the built-in templates.
const SystemUserID = "system"

// Defaults returns the built-in templates.
func Defaults() []CreateParams {
	return []CreateParams{
		{
			Name:        "Basic Project Template",
			Description: "A simple project structure with tasks and progress tracking",
			Category:    CategoryProject,
			Icon:        "📋",
			Tags:        []string{"project", "basic"},
			UserID:      SystemUserID,
			IsPublic:    true,
			Structure: Structure{
				CustomFields: []string{"projectName", "description", "dueDate"},
				Blocks: []BlockSpec{
					{Type: models.TypeHeading, Position: 0, Required: true, Customizable: true,
						Content: map[string]any{"text": "Project Name", "level": 1}},
					{Type: models.TypeText, Position: 1, Customizable: true,
						Content:  map[string]any{"text": "Project description and objectives..."},
						AIPrompt: "Generate a project description based on the project name"},
					{Type: models.TypeTable, Position: 2, Required: true, Customizable: true,
						Content: map[string]any{
							"headers": []any{"Property", "Value"},
							"rows": []any{
								[]any{"Status", "Active"},
								[]any{"Priority", "Medium"},
								[]any{"Start Date", "{{date}}"},
								[]any{"Due Date", ""},
								[]any{"Owner", ""},
							},
						}},
					{Type: models.TypeHeading, Position: 3, Required: true,
						Content: map[string]any{"text": "Tasks", "level": 2}},
					{Type: models.TypeTodo, Position: 4, Customizable: true,
						Content:  map[string]any{"text": "Project setup", "checked": false},
						AIPrompt: "Generate initial project tasks"},
				},
			},
		},
		{
			Name:        "Daily Review Template",
			Description: "Reflect on your day and plan for tomorrow",
			Category:    CategoryReview,
			Icon:        "📅",
			Tags:        []string{"daily", "review", "reflection"},
			UserID:      SystemUserID,
			IsPublic:    true,
			Structure: Structure{
				Blocks: []BlockSpec{
					{Type: models.TypeHeading, Position: 0, Required: true,
						Content: map[string]any{"text": "{{date}} Daily Review", "level": 1}},
					{Type: models.TypeHeading, Position: 1, Required: true,
						Content: map[string]any{"text": "Today's Accomplishments", "level": 2}},
					{Type: models.TypeText, Position: 2, Customizable: true,
						Content:  map[string]any{"text": "What I accomplished today..."},
						AIPrompt: "Help reflect on today's accomplishments"},
					{Type: models.TypeHeading, Position: 3, Required: true,
						Content: map[string]any{"text": "Challenges Faced", "level": 2}},
					{Type: models.TypeText, Position: 4, Customizable: true,
						Content: map[string]any{"text": "Challenges I encountered..."}},
					{Type: models.TypeHeading, Position: 5, Required: true,
						Content: map[string]any{"text": "Tomorrow's Plan", "level": 2}},
					{Type: models.TypeTodo, Position: 6, Customizable: true,
						Content: map[string]any{"text": "Important task for tomorrow", "checked": false}},
				},
			},
		},
	}
}

// SeedDefaults creates each built-in template unless one with the same name
// already exists. It returns the number created.
func (s *Service) SeedDefaults(ctx context.Context) (int, error) {
	s.mu.RLock()
	have := make(map[string]bool, len(s.templates))
	for _, t := range s.templates {
		have[t.Name] = true
	}
	s.mu.RUnlock()

	created := 0
	for _, p := range Defaults() {
		if have[p.Name] {
			continue
		}
		if _, err := s.Create(ctx, p); err != nil {
			return created, err
		}
		created++
	}
	if created > 0 {
		s.logger.Info("templates: seeded defaults", slog.Int("count", created))
	}
	return created, nil
}
