package scheduler

import (
	"context"
	"log/slog"
)

// TaskSweepIdleSessions is the name of the idle session sweep.
const TaskSweepIdleSessions = "sweep_idle_sessions"

// IdleSweeper evicts sessions that have not been accessed recently.
type IdleSweeper interface {
	SweepIdle(ctx context.Context) int
}

// SweepIdleSessionsTask evicts idle streaming sessions.
func SweepIdleSessionsTask(sweeper IdleSweeper, logger *slog.Logger) Task {
	return func(ctx context.Context) error {
		if n := sweeper.SweepIdle(ctx); n > 0 {
			logger.InfoContext(ctx, "evicted idle sessions", slog.Int("count", n))
		}
		return nil
	}
}
