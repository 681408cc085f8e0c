package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lysyi3m/news-comb/app/pipeline"
)

var _ TaskSchedulerInterface = (*Scheduler)(nil)

const (
	defaultWorkerCount = 2
	defaultQueueSize   = 300
	defaultTaskTimeout = 15 * time.Minute
	maxRetryDelay      = 30 * time.Second
)

type Options struct {
	Interval    time.Duration
	WorkerCount int
	TaskTimeout time.Duration
}

type Scheduler struct {
	runner      PipelineRunner
	purger      Purger
	interval    time.Duration
	workerCount int
	taskTimeout time.Duration
	retryBase   time.Duration
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	taskQueue   chan TaskInterface
}

// NewScheduler runs the pipeline at startup and on every tick. purger may be
// nil when the KV backend expires entries on its own.
func NewScheduler(runner PipelineRunner, purger Purger, opts Options) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())

	if opts.WorkerCount <= 0 {
		opts.WorkerCount = defaultWorkerCount
	}
	if opts.TaskTimeout <= 0 {
		opts.TaskTimeout = defaultTaskTimeout
	}

	return &Scheduler{
		runner:      runner,
		purger:      purger,
		interval:    opts.Interval,
		workerCount: opts.WorkerCount,
		taskTimeout: opts.TaskTimeout,
		retryBase:   time.Second,
		ctx:         ctx,
		cancel:      cancel,
		taskQueue:   make(chan TaskInterface, defaultQueueSize),
	}
}

func (s *Scheduler) Start() {
	for i := 0; i < s.workerCount; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		s.enqueueTasks(pipeline.TriggerStartup)

		if s.interval <= 0 {
			slog.Warn("Scheduler interval not set, periodic runs disabled")
			return
		}

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-s.ctx.Done():
				return
			case <-ticker.C:
				s.enqueueTasks(pipeline.TriggerScheduled)
			}
		}
	}()
}

// Stop cancels running tasks and waits for workers to exit. The queue stays
// open so late callers get an error instead of a panic.
func (s *Scheduler) Stop() {
	s.cancel()
	s.wg.Wait()
}

func (s *Scheduler) EnqueueTask(task TaskInterface) error {
	if err := s.ctx.Err(); err != nil {
		return err
	}

	select {
	case s.taskQueue <- task:
		return nil
	case <-s.ctx.Done():
		return s.ctx.Err()
	default:
		return fmt.Errorf("task queue is full")
	}
}

// EnqueueRun queues one pipeline run and returns its task ID.
func (s *Scheduler) EnqueueRun(trigger string) (string, error) {
	task := NewRunPipelineTask(trigger, s.runner)
	if err := s.EnqueueTask(task); err != nil {
		return "", err
	}
	slog.Debug("Pipeline run enqueued", "trigger", trigger, "id", task.GetID())
	return task.GetID(), nil
}

func (s *Scheduler) enqueueTasks(trigger string) {
	if _, err := s.EnqueueRun(trigger); err != nil {
		slog.Warn("Failed to enqueue RunPipelineTask", "trigger", trigger, "error", err)
	}

	if s.purger == nil {
		return
	}
	if err := s.EnqueueTask(NewPurgeExpiredTask(s.purger)); err != nil {
		slog.Warn("Failed to enqueue PurgeExpiredTask", "error", err)
	}
}

func (s *Scheduler) worker(id int) {
	defer s.wg.Done()

	for {
		select {
		case task := <-s.taskQueue:
			s.executeTask(id, task)

		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Scheduler) executeTask(workerID int, task TaskInterface) {
	task.Start()

	taskCtx, cancel := context.WithTimeout(s.ctx, s.taskTimeout)
	defer cancel()

	err := task.Execute(taskCtx)
	if err == nil {
		return
	}

	slog.Error("Worker task execution failed", "worker_id", workerID, "type", string(task.GetType()), "id", task.GetID(), "retry_count", task.GetRetryCount(), "error", err)

	if !task.CanRetry() {
		slog.Error("Task failed after maximum retries", "type", string(task.GetType()), "id", task.GetID(), "retry_count", task.GetRetryCount(), "max_retries", task.GetMaxRetries(), "last_error", err)
		return
	}

	task.IncrementRetryCount()
	retryDelay := s.retryBase * time.Duration(1<<uint(task.GetRetryCount()-1))
	if retryDelay > maxRetryDelay {
		retryDelay = maxRetryDelay
	}

	slog.Warn("Task retry scheduled", "type", string(task.GetType()), "name", task.GetName(), "retry_count", task.GetRetryCount(), "max_retries", task.GetMaxRetries(), "delay", retryDelay.String())

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		select {
		case <-s.ctx.Done():
			slog.Debug("Scheduler stopped, skipping task retry", "type", string(task.GetType()), "id", task.GetID())
		case <-time.After(retryDelay):
			if retryErr := s.EnqueueTask(task); retryErr != nil {
				slog.Error("Failed to re-enqueue task for retry", "type", string(task.GetType()), "id", task.GetID(), "retry_count", task.GetRetryCount(), "error", retryErr)
			}
		}
	}()
}
