package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// DefaultSystemPrompt introduces the assistant to the model.
const DefaultSystemPrompt = `You are a personal life-management assistant. The user's notes, tasks,
tables and pages are stored as blocks. Use the available tools to create,
update, search and schedule blocks, and to work with templates.

- Prefer intelligent_fill when the user shares information without saying
  where it belongs.
- Resolve relative times ("tomorrow at 5pm") with parse_time before
  scheduling.
- Never invent block or template ids; look them up first.
- Reply briefly and say what you changed.`

func (a *Agent) systemPrompt(ctx context.Context) string {
	var b strings.Builder
	if custom, ok := a.history.System(); ok {
		b.WriteString(custom)
	} else {
		b.WriteString(a.cfg.SystemPrompt)
	}
	now := a.now()
	fmt.Fprintf(&b, "\n\nCurrent time: %s.", now.Format("Monday, 2006-01-02 15:04 MST"))

	if a.stats == nil {
		return b.String()
	}
	ov, err := a.stats.Overview(ctx, a.userID)
	if err != nil {
		a.logger.Warn("agent: overview unavailable",
			slog.String("conversation_id", a.id),
			slog.String("error", err.Error()))
		return b.String()
	}
	fmt.Fprintf(&b, "\nActive projects: %d. Pending tasks: %d. Goals: %d. Blocks changed in the last day: %d.",
		ov.ActiveProjects, ov.PendingTasks, ov.TotalGoals, ov.RecentActivity)
	return b.String()
}
