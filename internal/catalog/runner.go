package catalog

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// Runner executes pending jobs sequentially: renders are GPU and CPU heavy,
// so only one runs at a time.
type Runner struct {
	service      *Service
	repo         Repository
	logger       *slog.Logger
	pollInterval time.Duration
	wake         chan struct{}
	running      atomic.Bool
	paused       atomic.Bool
	active       atomic.Value // string job id, "" when idle
}

func NewRunner(service *Service, repo Repository, logger *slog.Logger) *Runner {
	r := &Runner{
		service:      service,
		repo:         repo,
		logger:       logger,
		pollInterval: 5 * time.Second,
		wake:         make(chan struct{}, 1),
	}
	r.active.Store("")
	return r
}

func (r *Runner) Start(ctx context.Context) {
	if r.running.Swap(true) {
		return
	}

	r.logger.Info("job runner started")

	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("job runner stopping")
			r.running.Store(false)
			return
		case <-ticker.C:
		case <-r.wake:
		}
		// drain the queue before sleeping again
		for !r.paused.Load() && ctx.Err() == nil && r.processNextJob(ctx) {
		}
	}
}

// Wake asks the runner to poll now instead of at the next tick.
func (r *Runner) Wake() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

func (r *Runner) Pause() {
	r.paused.Store(true)
	r.logger.Info("job runner paused")
}

func (r *Runner) Resume() {
	r.paused.Store(false)
	r.logger.Info("job runner resumed")
	r.Wake()
}

func (r *Runner) IsPaused() bool {
	return r.paused.Load()
}

func (r *Runner) IsRunning() bool {
	return r.running.Load()
}

// ActiveJobID returns the id of the job being rendered, or "".
func (r *Runner) ActiveJobID() string {
	return r.active.Load().(string)
}

// processNextJob runs the oldest pending job and reports whether there was one.
func (r *Runner) processNextJob(ctx context.Context) bool {
	jobs, err := r.repo.ListPendingJobs(ctx)
	if err != nil {
		r.logger.Error("failed to list pending jobs", "error", err)
		return false
	}

	if len(jobs) == 0 {
		return false
	}

	job := jobs[0]
	r.logger.Info("processing job", "job_id", job.ID, "origin", job.Origin)

	r.active.Store(job.ID)
	defer r.active.Store("")

	if err := r.service.Execute(ctx, job); err != nil {
		r.logger.Error("render failed", "job_id", job.ID, "error", err)
	}
	return true
}
