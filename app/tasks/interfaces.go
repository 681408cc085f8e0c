package tasks

// TaskSchedulerInterface is what the application and the HTTP layer need from
// the scheduler.
//
//	scheduler := NewScheduler(pipeline, kvRepo, Options{Interval: 10 * time.Minute})
//	scheduler.Start()
//	defer scheduler.Stop()
//	id, err := scheduler.EnqueueRun(pipeline.TriggerManual)
type TaskSchedulerInterface interface {
	Start()
	Stop()
	EnqueueTask(task TaskInterface) error
	EnqueueRun(trigger string) (string, error)
}
