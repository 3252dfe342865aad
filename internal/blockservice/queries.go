package blockservice

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"time"

	"github.com/starford/lifeagent/internal/apperr"
	"github.com/starford/lifeagent/internal/index"
	"github.com/starford/lifeagent/internal/models"
)

// Stats summarises a user's blocks.
type Stats struct {
	TotalBlocks    int            `json:"totalBlocks"`
	BlocksByType   map[string]int `json:"blocksByType"`
	TotalTodos     int            `json:"totalTodos"`
	CompletedTodos int            `json:"completedTodos"`
	PendingTodos   int            `json:"pendingTodos"`
	OverdueTodos   int            `json:"overdueTodos"`
	CompletionRate float64        `json:"completionRate"`
}

// Overview is the lightweight context handed to the agent each turn.
type Overview struct {
	ActiveProjects int `json:"activeProjects"`
	PendingTasks   int `json:"pendingTasks"`
	TotalGoals     int `json:"totalGoals"`
	RecentActivity int `json:"recentActivity"`
}

// ScheduledTask is a todo with its resolved time.
type ScheduledTask struct {
	Block *models.Block `json:"block"`
	At    time.Time     `json:"at"`
	Due   bool          `json:"due"`
}

// Stats computes block and todo counts for a user.
func (s *Service) Stats(ctx context.Context, userID string) (*Stats, error) {
	counts, err := s.db.CountByType(ctx, userID)
	if err != nil {
		return nil, err
	}
	st := &Stats{BlocksByType: make(map[string]int, len(models.BlockTypes))}
	for _, t := range models.BlockTypes {
		st.BlocksByType[string(t)] = counts[t]
		st.TotalBlocks += counts[t]
	}

	todos, err := s.allOfType(ctx, userID, models.TypeTodo)
	if err != nil {
		return nil, err
	}
	now := s.now()
	for _, b := range todos {
		st.TotalTodos++
		if b.Content.(models.TodoContent).Checked {
			st.CompletedTodos++
			continue
		}
		st.PendingTodos++
		if due := b.Metadata.DueDate; due != nil && due.Before(now) {
			st.OverdueTodos++
		}
	}
	if st.TotalTodos > 0 {
		st.CompletionRate = float64(st.CompletedTodos) / float64(st.TotalTodos)
	}
	return st, nil
}

// Overview returns the counts the agent injects into its system prompt.
func (s *Service) Overview(ctx context.Context, userID string) (*Overview, error) {
	st, err := s.Stats(ctx, userID)
	if err != nil {
		return nil, err
	}
	recent, _, err := s.db.ListBlocks(ctx, index.ListOptions{Filter: index.Filter{UserID: userID}, Limit: 200})
	if err != nil {
		return nil, err
	}
	ov := &Overview{
		ActiveProjects: st.BlocksByType[string(models.TypePage)],
		PendingTasks:   st.PendingTodos,
	}
	cutoff := s.now().Add(-24 * time.Hour)
	for _, b := range recent {
		if b.UpdatedAt.After(cutoff) {
			ov.RecentActivity++
		}
		if b.Metadata.Category == "goal" || slices.Contains(b.Metadata.Tags, "goal") {
			ov.TotalGoals++
		}
	}
	return ov, nil
}

// TodaysTasks returns the todos scheduled or due on now's calendar day,
// ordered by time.
func (s *Service) TodaysTasks(ctx context.Context, userID string, now time.Time) ([]ScheduledTask, error) {
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	return s.tasksBetween(ctx, userID, start, start.AddDate(0, 0, 1), true)
}

// UpcomingTasks returns open todos scheduled or due after now and within days.
func (s *Service) UpcomingTasks(ctx context.Context, userID string, now time.Time, days int) ([]ScheduledTask, error) {
	if days <= 0 {
		days = 7
	}
	return s.tasksBetween(ctx, userID, now, now.AddDate(0, 0, days), false)
}

func (s *Service) tasksBetween(ctx context.Context, userID string, from, to time.Time, includeDone bool) ([]ScheduledTask, error) {
	todos, err := s.allOfType(ctx, userID, models.TypeTodo)
	if err != nil {
		return nil, err
	}
	var out []ScheduledTask
	for _, b := range todos {
		if !includeDone && b.Content.(models.TodoContent).Checked {
			continue
		}
		at, due := b.Metadata.ScheduledAt, false
		if at == nil {
			at, due = b.Metadata.DueDate, true
		}
		if at == nil || at.Before(from) || !at.Before(to) {
			continue
		}
		out = append(out, ScheduledTask{Block: b, At: at.In(from.Location()), Due: due})
	}
	slices.SortFunc(out, func(a, b ScheduledTask) int { return a.At.Compare(b.At) })
	return out, nil
}

func (s *Service) allOfType(ctx context.Context, userID string, t models.BlockType) ([]*models.Block, error) {
	const page = 200
	var out []*models.Block
	for offset := 0; ; offset += page {
		items, total, err := s.db.ListBlocks(ctx, index.ListOptions{
			Filter: index.Filter{UserID: userID, Type: t},
			Limit:  page,
			Offset: offset,
		})
		if err != nil {
			return nil, err
		}
		out = append(out, items...)
		if len(items) < page || len(out) >= total {
			return out, nil
		}
	}
}

// ReconcileReport summarises one repair pass.
type ReconcileReport struct {
	Stale    int `json:"stale"`
	Repaired int `json:"repaired"`
	Failed   int `json:"failed"`
	Purged   int `json:"purged"`
}

// Reconcile re-embeds blocks whose vector record is missing or older than
// the block, and deletes vector records left without a block.
func (s *Service) Reconcile(ctx context.Context) (*ReconcileReport, error) {
	report := &ReconcileReport{}
	purged, err := s.db.PurgeOrphanVectors(ctx)
	if err != nil {
		return nil, err
	}
	report.Purged = purged

	stale, err := s.db.StaleBlocks(ctx, s.embedder.Dimension(), 0)
	if err != nil {
		return nil, err
	}
	report.Stale = len(stale)
	for _, st := range stale {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		b, err := s.db.GetBlock(ctx, st.BlockID)
		if errors.Is(err, apperr.ErrNotFound) {
			continue
		}
		if err == nil {
			err = s.indexVector(ctx, b, nil)
		}
		if err != nil {
			report.Failed++
			s.logger.Warn("reconcile: reindex failed",
				slog.String("block_id", st.BlockID),
				slog.String("error", err.Error()))
			continue
		}
		report.Repaired++
		s.logger.Debug("reconcile: reindexed", slog.String("block_id", st.BlockID), slog.String("reason", st.Reason))
	}
	s.logger.Info("reconcile: done",
		slog.Int("stale", report.Stale),
		slog.Int("repaired", report.Repaired),
		slog.Int("failed", report.Failed),
		slog.Int("purged", report.Purged))
	return report, nil
}
