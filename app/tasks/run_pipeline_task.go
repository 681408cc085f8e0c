package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/lysyi3m/news-comb/app/monitor"
	"github.com/lysyi3m/news-comb/app/pipeline"
)

type PipelineRunner interface {
	Run(ctx context.Context, trigger string) (*monitor.ProcessingRun, error)
}

var _ PipelineRunner = (*pipeline.Pipeline)(nil)

type RunPipelineTask struct {
	Task
	Trigger string
	runner  PipelineRunner
}

func NewRunPipelineTask(trigger string, runner PipelineRunner) *RunPipelineTask {
	return &RunPipelineTask{
		Task:    NewTask(TaskTypeRunPipeline, trigger),
		Trigger: trigger,
		runner:  runner,
	}
}

func (t *RunPipelineTask) Execute(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	run, err := t.runner.Run(ctx, t.Trigger)
	if errors.Is(err, pipeline.ErrRunInProgress) {
		// the run in flight covers this trigger
		slog.Info("Task skipped", "type", "RunPipeline", "trigger", t.Trigger, "reason", err)
		return nil
	}
	if err != nil {
		slog.Error("Task failed", "type", "RunPipeline", "trigger", t.Trigger, "error", err)
		return fmt.Errorf("pipeline run failed: %w", err)
	}

	slog.Info("Task completed",
		"type", "RunPipeline",
		"trigger", t.Trigger,
		"run_id", run.ID,
		"status", run.Status,
		"success", run.SuccessCount,
		"errors", run.ErrorCount,
		"duration", t.GetDuration())

	return nil
}
