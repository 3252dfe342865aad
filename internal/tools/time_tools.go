package tools

import (
	"context"
	"time"

	"github.com/starford/lifeagent/internal/apperr"
	"github.com/starford/lifeagent/internal/blockservice"
	"github.com/starford/lifeagent/internal/models"
	"github.com/starford/lifeagent/internal/timeparse"
)

func timeTools(d Deps) []Tool {
	return []Tool{
		{
			Name:        "parse_time",
			Description: "Parse a natural language time expression such as \"tomorrow at 3pm\" or \"in 2 hours\"",
			Schema: Schema{
				{Name: "timeExpression", Kind: KindString, Description: "The expression to parse", Required: true},
			},
			Handler: func(_ context.Context, a Args) (any, error) {
				r, err := timeparse.ParseExpression(a.String("timeExpression"), d.Now())
				if err != nil {
					return nil, err
				}
				return map[string]any{
					"expression":  r.Expression,
					"scheduledAt": r.At,
					"isAllDay":    r.IsAllDay,
					"isDeadline":  r.Due,
				}, nil
			},
		},
		{
			Name:        "schedule_task",
			Description: "Schedule a block for a time given as ISO 8601 or natural language",
			Schema: Schema{
				blockIDParam,
				{Name: "scheduledAt", Kind: KindString, Description: "When, e.g. 2026-05-04T17:00:00Z or \"friday at 9am\"", Required: true},
				userParam,
			},
			Handler: func(ctx context.Context, a Args) (any, error) {
				id := a.String("blockId")
				if _, err := ownedBlock(ctx, d.Blocks, a, id); err != nil {
					return nil, err
				}
				r, err := timeparse.ParseExpression(a.String("scheduledAt"), d.Now())
				if err != nil {
					return nil, err
				}
				at := r.At
				b, err := d.Blocks.UpdateBlock(ctx, id, blockservice.UpdateParams{
					Metadata: &models.Metadata{ScheduledAt: &at},
				})
				if err != nil {
					return nil, err
				}
				return map[string]any{
					"block":       b,
					"scheduledAt": at,
					"message":     "Scheduled for " + at.Format("Mon Jan 2 15:04"),
				}, nil
			},
		},
		{
			Name:        "get_todays_schedule",
			Description: "Get today's scheduled tasks and deadlines",
			Schema:      Schema{userParam},
			Handler: func(ctx context.Context, a Args) (any, error) {
				user, err := userOf(ctx, a)
				if err != nil {
					return nil, err
				}
				now := d.Now()
				tasks, err := d.Blocks.TodaysTasks(ctx, user, now)
				if err != nil {
					return nil, err
				}
				done := 0
				for _, t := range tasks {
					if t.Block.Content.(models.TodoContent).Checked {
						done++
					}
				}
				return map[string]any{
					"date":      now.Format(time.DateOnly),
					"tasks":     tasks,
					"total":     len(tasks),
					"completed": done,
				}, nil
			},
		},
		{
			Name:        "get_upcoming_tasks",
			Description: "Get open tasks and deadlines in the coming days",
			Schema: Schema{
				{Name: "days", Kind: KindInteger, Description: "Days to look ahead", Min: Bound(1), Max: Bound(30), Default: 7},
				userParam,
			},
			Handler: func(ctx context.Context, a Args) (any, error) {
				user, err := userOf(ctx, a)
				if err != nil {
					return nil, err
				}
				tasks, err := d.Blocks.UpcomingTasks(ctx, user, d.Now(), a.Int("days"))
				if err != nil {
					return nil, err
				}
				return map[string]any{"tasks": tasks, "count": len(tasks), "days": a.Int("days")}, nil
			},
		},
		{
			Name:        "mark_task_complete",
			Description: "Mark a todo as completed",
			Schema: Schema{
				blockIDParam,
				{Name: "completedAt", Kind: KindString, Description: "Completion time, ISO 8601; defaults to now"},
				userParam,
			},
			Handler: func(ctx context.Context, a Args) (any, error) {
				id := a.String("blockId")
				b, err := ownedBlock(ctx, d.Blocks, a, id)
				if err != nil {
					return nil, err
				}
				if b.Type != models.TypeTodo {
					return nil, apperr.Validationf("block %s is a %s, not a todo", id, b.Type)
				}
				at, err := a.Time("completedAt")
				if err != nil {
					return nil, err
				}
				b, err = d.Blocks.SetTodoChecked(ctx, id, true)
				if err != nil {
					return nil, err
				}
				if at != nil {
					if b, err = d.Blocks.UpdateBlock(ctx, id, blockservice.UpdateParams{
						Metadata: &models.Metadata{CompletedAt: at},
					}); err != nil {
						return nil, err
					}
				}
				return blockReply(b, "Marked task complete"), nil
			},
		},
	}
}
