package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/heimdex/avatar-agent/internal/catalog"
	"github.com/heimdex/avatar-agent/internal/voice"
)

const (
	defaultJobsLimit = 50
	maxJobsLimit     = 500
)

func NewRouter(cfg ServerConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware())
	r.Use(RecoveryMiddleware(cfg.Logger))
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(CORSAllowlist())

	r.Get("/health", healthHandler(cfg))

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.Repository, cfg.Logger))

		r.Get("/status", statusHandler(cfg))
		r.Get("/doctor", doctorHandler(cfg))
		r.Get("/voices", voicesHandler())
		r.Post("/avatar/generate", generateHandler(cfg))
		r.Get("/jobs", listJobsHandler(cfg))
		r.Get("/jobs/{id}", getJobHandler(cfg))
		r.Post("/jobs/{id}/cancel", cancelJobHandler(cfg))
		r.Get("/runner", runnerHandler(cfg))
		r.Post("/runner/pause", pauseHandler(cfg))
		r.Post("/runner/resume", resumeHandler(cfg))

		r.Group(func(r chi.Router) {
			r.Use(LoopbackGuard())
			r.Get("/jobs/{id}/video", videoHandler(cfg))
			r.Head("/jobs/{id}/video", videoHandler(cfg))
			r.Get("/jobs/{id}/events", eventsHandler(cfg))
		})
	})

	return r
}

func healthHandler(cfg ServerConfig) http.HandlerFunc {
	version := cfg.Version
	if version == "" {
		version = "dev"
	}
	return func(w http.ResponseWriter, r *http.Request) {
		uptime := int64(time.Since(cfg.StartTime).Seconds())
		WriteJSON(w, http.StatusOK, HealthResponse{
			Status:   "ok",
			Version:  version,
			UptimeS:  uptime,
			DeviceID: cfg.DeviceID,
		})
	}
}

func statusHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		counts, _ := cfg.CatalogService.Counts(ctx)
		if counts == nil {
			counts = map[string]int{}
		}
		jobs, _ := cfg.CatalogService.ListJobs(ctx, 10)

		resp := StatusResponse{State: "idle", Jobs: counts}

		for _, j := range jobs {
			if j.Status == catalog.JobStatusRunning && resp.ActiveJob == nil {
				jr := JobToResponse(j)
				resp.ActiveJob = &jr
				resp.State = "rendering"
			}
			if j.Status == catalog.JobStatusFailed && resp.LastError == "" {
				resp.LastError = j.Error
			}
		}

		if cfg.Runner != nil && cfg.Runner.IsPaused() {
			resp.Paused = true
			if resp.State == "idle" {
				resp.State = "paused"
			}
		}
		if resp.LastError != "" && resp.State == "idle" {
			resp.State = "error"
		}

		if cfg.Doctor != nil {
			// never probe from the status path; the doctor endpoint does that
			if caps := cfg.Doctor.Peek(); caps != nil {
				resp.Pipelines = CapabilitiesToResponse(caps)
			}
		}
		if cfg.Render != nil {
			resp.Render = RenderConfigToResponse(*cfg.Render)
		}

		WriteJSON(w, http.StatusOK, resp)
	}
}

func doctorHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if cfg.Doctor == nil {
			WriteError(w, http.StatusServiceUnavailable, "doctor not configured", "UNAVAILABLE")
			return
		}

		get := cfg.Doctor.Get
		if r.URL.Query().Get("refresh") == "1" {
			get = cfg.Doctor.Refresh
		}
		caps, err := get(r.Context())
		if err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}
		WriteJSON(w, http.StatusOK, caps)
	}
}

func voicesHandler() http.HandlerFunc {
	resp := VoicesToResponse(voice.Voices())
	return func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, resp)
	}
}

func listJobsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := defaultJobsLimit
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				WriteError(w, http.StatusBadRequest, "limit must be a positive integer", "BAD_REQUEST")
				return
			}
			limit = min(n, maxJobsLimit)
		}

		jobs, err := cfg.CatalogService.ListJobs(r.Context(), limit)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to list jobs", "INTERNAL_ERROR")
			return
		}

		resp := JobsResponse{Jobs: make([]JobResponse, len(jobs))}
		for i, j := range jobs {
			resp.Jobs[i] = JobToResponse(j)
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

// lookupJob writes the error response itself and returns nil when the job
// cannot be served.
func lookupJob(cfg ServerConfig, w http.ResponseWriter, r *http.Request) *catalog.Job {
	id := chi.URLParam(r, "id")
	if id == "" {
		WriteError(w, http.StatusBadRequest, "job id required", "BAD_REQUEST")
		return nil
	}

	job, err := cfg.CatalogService.GetJob(r.Context(), id)
	if errors.Is(err, catalog.ErrNotFound) {
		WriteError(w, http.StatusNotFound, "job not found", "NOT_FOUND")
		return nil
	}
	if err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
		return nil
	}
	return job
}

func getJobHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if job := lookupJob(cfg, w, r); job != nil {
			WriteJSON(w, http.StatusOK, JobToResponse(job))
		}
	}
}

func cancelJobHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		job, err := cfg.CatalogService.Cancel(r.Context(), id)
		switch {
		case errors.Is(err, catalog.ErrNotFound):
			WriteError(w, http.StatusNotFound, "job not found", "NOT_FOUND")
		case errors.Is(err, catalog.ErrNotCancellable):
			WriteError(w, http.StatusConflict, "job already "+job.Status, "CONFLICT")
		case err != nil:
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
		default:
			WriteJSON(w, http.StatusAccepted, JobToResponse(job))
		}
	}
}

func runnerState(cfg ServerConfig) RunnerResponse {
	return RunnerResponse{Paused: cfg.Runner.IsPaused(), ActiveJobID: cfg.Runner.ActiveJobID()}
}

func runnerHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if cfg.Runner == nil {
			WriteError(w, http.StatusServiceUnavailable, "runner not configured", "UNAVAILABLE")
			return
		}
		WriteJSON(w, http.StatusOK, runnerState(cfg))
	}
}

func pauseHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if cfg.Runner == nil {
			WriteError(w, http.StatusServiceUnavailable, "runner not configured", "UNAVAILABLE")
			return
		}
		cfg.Runner.Pause()
		WriteJSON(w, http.StatusOK, runnerState(cfg))
	}
}

func resumeHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if cfg.Runner == nil {
			WriteError(w, http.StatusServiceUnavailable, "runner not configured", "UNAVAILABLE")
			return
		}
		cfg.Runner.Resume()
		WriteJSON(w, http.StatusOK, runnerState(cfg))
	}
}

func videoHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job := lookupJob(cfg, w, r)
		if job == nil {
			return
		}
		if job.Status != catalog.JobStatusCompleted || job.FinalPath == "" {
			WriteError(w, http.StatusConflict, "video not ready, job is "+job.Status, "NOT_READY")
			return
		}

		if err := cfg.PlaybackServer.ServeFile(w, r, job.FinalPath); err != nil {
			cfg.Logger.Error("playback error", "error", err, "job_id", job.ID)
		}
	}
}
