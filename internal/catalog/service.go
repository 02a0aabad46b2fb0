package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/heimdex/avatar-agent/internal/apperr"
	"github.com/heimdex/avatar-agent/internal/logging"
	"github.com/heimdex/avatar-agent/internal/media"
	"github.com/heimdex/avatar-agent/internal/pipeline"
)

// Renderer runs one render. *pipeline.Orchestrator satisfies it.
type Renderer interface {
	Run(ctx context.Context, req pipeline.Request, obs pipeline.Observer) (*pipeline.Result, error)
}

type CatalogService interface {
	Submit(ctx context.Context, req SubmitRequest) (*Job, error)
	Cancel(ctx context.Context, id string) (*Job, error)
	GetJob(ctx context.Context, id string) (*Job, error)
	ListJobs(ctx context.Context, limit int) ([]*Job, error)
	Counts(ctx context.Context) (map[string]int, error)
}

// SubmitRequest is a render as received from the API or the inbox.
type SubmitRequest struct {
	Text        string
	ImagePath   string
	Gender      string
	Nationality string
	// Captions is "", "none", "soft" or "burned"; "" uses the configured mode.
	Captions string
	Origin   string
}

// ErrNotCancellable is returned for jobs that already finished.
var ErrNotCancellable = errors.New("job already finished")

type Service struct {
	repo     Repository
	renderer Renderer
	hub      *Hub
	logger   *slog.Logger

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// NewService creates a Service. hub may be nil.
func NewService(repo Repository, renderer Renderer, hub *Hub, logger *slog.Logger) *Service {
	return &Service{
		repo:     repo,
		renderer: renderer,
		hub:      hub,
		logger:   logger,
		cancels:  make(map[string]context.CancelFunc),
	}
}

// Submit validates and queues a render. It does not run it.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*Job, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, apperr.Inputf("submit job", "text is required")
	}
	if req.ImagePath == "" {
		return nil, apperr.Inputf("submit job", "image is required")
	}
	if req.Captions != "" {
		if _, err := media.ParseCaptionMode(req.Captions); err != nil {
			return nil, apperr.Input("submit job", err)
		}
	}
	if req.Origin == "" {
		req.Origin = OriginAPI
	}

	now := time.Now()
	job := &Job{
		ID:          NewID(),
		Status:      JobStatusPending,
		Stage:       pipeline.StateInit.String(),
		Origin:      req.Origin,
		Text:        req.Text,
		ImagePath:   req.ImagePath,
		Gender:      req.Gender,
		Nationality: req.Nationality,
		Captions:    req.Captions,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}

	if s.logger != nil {
		s.logger.Info("render job created", "job_id", job.ID, "origin", job.Origin)
	}
	return job, nil
}

// Cancel stops a pending or running job.
func (s *Service) Cancel(ctx context.Context, id string) (*Job, error) {
	job, err := s.repo.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Terminal() {
		return job, ErrNotCancellable
	}

	cancelled, err := s.repo.CancelPendingJob(ctx, id, "cancelled before start")
	if err != nil {
		return nil, err
	}
	if !cancelled {
		// Claimed since the read. Execute registers its cancel func before
		// claiming, so a running render here always has one.
		s.mu.Lock()
		cancel := s.cancels[id]
		s.mu.Unlock()
		if cancel == nil {
			job, err := s.repo.GetJob(ctx, id)
			if err != nil {
				return nil, err
			}
			return job, ErrNotCancellable
		}
		// Execute records the final status once the render unwinds.
		cancel()
	}

	if s.logger != nil {
		s.logger.Info("render job cancelled", "job_id", id, "was", job.Status)
	}
	return s.repo.GetJob(ctx, id)
}

func (s *Service) GetJob(ctx context.Context, id string) (*Job, error) {
	return s.repo.GetJob(ctx, id)
}

func (s *Service) ListJobs(ctx context.Context, limit int) ([]*Job, error) {
	return s.repo.ListJobs(ctx, limit)
}

func (s *Service) Counts(ctx context.Context) (map[string]int, error) {
	return s.repo.CountJobsByStatus(ctx)
}

// Execute claims job and renders it, recording every transition. It returns
// the render error, if any, after it has been persisted.
func (s *Service) Execute(ctx context.Context, job *Job) error {
	jobCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancels[job.ID] = cancel
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.cancels, job.ID)
		s.mu.Unlock()
		cancel()
	}()

	claimed, err := s.repo.ClaimJob(ctx, job.ID)
	if err != nil {
		return fmt.Errorf("claim job: %w", err)
	}
	if !claimed {
		return nil
	}

	logger := s.logger
	if logger != nil {
		logger = logging.WithJobID(logger, job.ID)
		logger.Info("render job started")
	}

	obs := pipeline.ObserverFunc(func(ev pipeline.Event) {
		// persist with the parent ctx so a cancelled render still records its stage
		if !ev.State.Terminal() {
			if err := s.repo.UpdateJobStage(ctx, job.ID, ev.Stage, ev.Progress); err != nil && logger != nil {
				logger.Warn("failed to record stage", "stage", ev.Stage, "error", err)
			}
		}
		if s.hub != nil {
			s.hub.Publish(JobEvent{JobID: job.ID, Event: ev})
		}
	})

	res, runErr := s.renderer.Run(jobCtx, job.Request(), obs)
	if runErr == nil {
		err := s.repo.CompleteJob(ctx, job.ID, JobResult{
			Voice:     res.Voice,
			RunID:     res.RunID,
			Workspace: res.Workspace,
			FinalPath: res.Final,
		})
		if logger != nil {
			logger.Info("render job completed", "final", res.Final, "elapsed", res.Elapsed)
		}
		return err
	}

	status := JobStatusFailed
	if jobCtx.Err() != nil && ctx.Err() == nil {
		status = JobStatusCancelled
	}
	if err := s.repo.FinishJob(ctx, job.ID, status, string(apperr.KindOf(runErr)), runErr.Error()); err != nil && logger != nil {
		logger.Error("failed to record job failure", "error", err)
	}
	if logger != nil {
		logger.Warn("render job did not complete", "status", status, "error", runErr)
	}
	return runErr
}
