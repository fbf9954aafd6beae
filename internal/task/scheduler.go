// Package task runs periodic maintenance jobs for the webhook sink.
package task

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	defaultInterval      = time.Minute
	logEventJobFailed    = "scheduled_job_failed"
	logEventJobCompleted = "scheduled_job_completed"
	logFieldJobName      = "job"
	logFieldJobDuration  = "duration"
)

// Job is one run of a periodic task.
type Job func(ctx context.Context) error

// Scheduler runs a Job every interval and on demand, never concurrently with itself.
type Scheduler struct {
	name         string
	interval     time.Duration
	job          Job
	logger       *zap.Logger
	trigger      chan struct{}
	controlMutex sync.Mutex
	cancel       context.CancelFunc
	done         chan struct{}
}

// NewScheduler builds a stopped scheduler. A non-positive interval means one minute.
func NewScheduler(name string, interval time.Duration, job Job, logger *zap.Logger) *Scheduler {
	if interval <= 0 {
		interval = defaultInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		name:     name,
		interval: interval,
		job:      job,
		logger:   logger,
		trigger:  make(chan struct{}, 1),
	}
}

// Start runs the loop until ctx ends or Stop is called. Starting twice is a no-op.
func (scheduler *Scheduler) Start(ctx context.Context) {
	if scheduler == nil || scheduler.job == nil {
		return
	}
	scheduler.controlMutex.Lock()
	if scheduler.cancel != nil {
		scheduler.controlMutex.Unlock()
		return
	}
	runtimeCtx, cancel := context.WithCancel(ctx)
	scheduler.cancel = cancel
	done := make(chan struct{})
	scheduler.done = done
	scheduler.controlMutex.Unlock()

	go scheduler.loop(runtimeCtx, done)
}

// Trigger requests a run ahead of the timer. Requests made while one is pending coalesce.
func (scheduler *Scheduler) Trigger() {
	if scheduler == nil {
		return
	}
	select {
	case scheduler.trigger <- struct{}{}:
	default:
	}
}

// Stop cancels the loop and waits for a running job to return.
func (scheduler *Scheduler) Stop() {
	if scheduler == nil {
		return
	}
	scheduler.controlMutex.Lock()
	cancel := scheduler.cancel
	done := scheduler.done
	scheduler.cancel = nil
	scheduler.done = nil
	scheduler.controlMutex.Unlock()
	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

func (scheduler *Scheduler) loop(ctx context.Context, done chan struct{}) {
	timer := time.NewTimer(scheduler.interval)
	defer timer.Stop()
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case <-scheduler.trigger:
			scheduler.run(ctx)
		case <-timer.C:
			scheduler.run(ctx)
		}
		timer.Reset(scheduler.interval)
	}
}

func (scheduler *Scheduler) run(ctx context.Context) {
	if scheduler.job == nil {
		return
	}
	startedAt := time.Now()
	if jobErr := scheduler.job(ctx); jobErr != nil {
		scheduler.logger.Warn(logEventJobFailed, zap.String(logFieldJobName, scheduler.name), zap.Error(jobErr))
		return
	}
	scheduler.logger.Debug(logEventJobCompleted,
		zap.String(logFieldJobName, scheduler.name),
		zap.Duration(logFieldJobDuration, time.Since(startedAt)),
	)
}
