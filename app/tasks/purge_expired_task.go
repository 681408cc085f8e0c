package tasks

import (
	"context"
	"fmt"
	"log/slog"
)

// Purger drops expired entries from a backend that does not expire them itself.
type Purger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

type PurgeExpiredTask struct {
	Task
	purger Purger
}

func NewPurgeExpiredTask(purger Purger) *PurgeExpiredTask {
	return &PurgeExpiredTask{
		Task:   NewTask(TaskTypePurgeExpired, "kv"),
		purger: purger,
	}
}

func (t *PurgeExpiredTask) Execute(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	removed, err := t.purger.PurgeExpired(ctx)
	if err != nil {
		slog.Error("Task failed", "type", "PurgeExpired", "error", err)
		return fmt.Errorf("failed to purge expired entries: %w", err)
	}

	slog.Info("Task completed",
		"type", "PurgeExpired",
		"removed", removed,
		"duration", t.GetDuration())

	return nil
}
