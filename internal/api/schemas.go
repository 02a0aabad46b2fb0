package api

import (
	"time"

	"github.com/heimdex/avatar-agent/internal/catalog"
	"github.com/heimdex/avatar-agent/internal/pipeline"
	"github.com/heimdex/avatar-agent/internal/pipelines"
	"github.com/heimdex/avatar-agent/internal/voice"
)

type HealthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version"`
	UptimeS  int64  `json:"uptime_s"`
	DeviceID string `json:"device_id"`
}

type StatusResponse struct {
	State     string                  `json:"state"`
	LastError string                  `json:"last_error,omitempty"`
	Paused    bool                    `json:"paused"`
	Jobs      map[string]int          `json:"jobs"`
	ActiveJob *JobResponse            `json:"active_job,omitempty"`
	Pipelines *PipelineStatusResponse `json:"pipelines,omitempty"`
	Render    *RenderConfigResponse   `json:"render,omitempty"`
}

// PipelineStatusResponse summarises the last capability probe.
type PipelineStatusResponse struct {
	CanRender       bool   `json:"can_render"`
	CanCaption      bool   `json:"can_caption"`
	CanBurn         bool   `json:"can_burn"`
	SubtitlesFilter bool   `json:"subtitles_filter"`
	LibX264         bool   `json:"libx264"`
	VisionHelper    bool   `json:"vision_helper"`
	SadTalker       bool   `json:"sadtalker"`
	LastProbeAt     string `json:"last_probe_at,omitempty"`
	DepsAvail       int    `json:"deps_available"`
	DepsTotal       int    `json:"deps_total"`
}

type RenderConfigResponse struct {
	Captions string  `json:"captions"`
	Align    bool    `json:"align"`
	Margin   float64 `json:"margin"`
}

type GenerateResponse struct {
	JobID     string `json:"job_id"`
	Status    string `json:"status"`
	StatusURL string `json:"status_url"`
	VideoURL  string `json:"video_url"`
	EventsURL string `json:"events_url"`
}

type JobResponse struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	Stage       string `json:"stage"`
	Progress    int    `json:"progress"`
	Origin      string `json:"origin"`
	Text        string `json:"text"`
	Gender      string `json:"gender,omitempty"`
	Nationality string `json:"nationality,omitempty"`
	Captions    string `json:"captions,omitempty"`
	Voice       string `json:"voice,omitempty"`
	RunID       string `json:"run_id,omitempty"`
	HasVideo    bool   `json:"has_video"`
	ErrorKind   string `json:"error_kind,omitempty"`
	Error       string `json:"error,omitempty"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
	FinishedAt  string `json:"finished_at,omitempty"`
}

type JobsResponse struct {
	Jobs []JobResponse `json:"jobs"`
}

type VoiceResponse struct {
	Nationality string `json:"nationality"`
	Gender      string `json:"gender"`
	Voice       string `json:"voice"`
}

type VoicesResponse struct {
	Voices []VoiceResponse `json:"voices"`
}

type RunnerResponse struct {
	Paused      bool   `json:"paused"`
	ActiveJobID string `json:"active_job_id,omitempty"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func JobToResponse(j *catalog.Job) JobResponse {
	resp := JobResponse{
		ID:          j.ID,
		Status:      j.Status,
		Stage:       j.Stage,
		Progress:    j.Progress,
		Origin:      j.Origin,
		Text:        j.Text,
		Gender:      j.Gender,
		Nationality: j.Nationality,
		Captions:    j.Captions,
		Voice:       j.Voice,
		RunID:       j.RunID,
		HasVideo:    j.Status == catalog.JobStatusCompleted && j.FinalPath != "",
		ErrorKind:   j.ErrorKind,
		Error:       j.Error,
		CreatedAt:   j.CreatedAt.Format(time.RFC3339),
		UpdatedAt:   j.UpdatedAt.Format(time.RFC3339),
	}
	if j.FinishedAt != nil {
		resp.FinishedAt = j.FinishedAt.Format(time.RFC3339)
	}
	return resp
}

func VoicesToResponse(entries []voice.Entry) VoicesResponse {
	resp := VoicesResponse{Voices: make([]VoiceResponse, len(entries))}
	for i, e := range entries {
		resp.Voices[i] = VoiceResponse{Nationality: e.Nationality, Gender: e.Gender, Voice: e.Voice}
	}
	return resp
}

func CapabilitiesToResponse(caps *pipelines.Capabilities) *PipelineStatusResponse {
	resp := &PipelineStatusResponse{
		CanRender:       caps.Has(pipelines.ToolFFmpeg) && caps.SadTalker,
		CanCaption:      caps.Has(pipelines.ToolFFprobe),
		CanBurn:         caps.Has(pipelines.ToolFFprobe) && caps.SubtitlesFilter && caps.LibX264,
		SubtitlesFilter: caps.SubtitlesFilter,
		LibX264:         caps.LibX264,
		VisionHelper:    caps.VisionHelper,
		SadTalker:       caps.SadTalker,
		DepsTotal:       len(caps.Tools),
	}
	for _, t := range caps.Tools {
		if t.Available {
			resp.DepsAvail++
		}
	}
	if !caps.ProbedAt.IsZero() {
		resp.LastProbeAt = caps.ProbedAt.Format(time.RFC3339)
	}
	return resp
}

func RenderConfigToResponse(cfg pipeline.RunConfig) *RenderConfigResponse {
	return &RenderConfigResponse{
		Captions: string(cfg.CaptionMode),
		Align:    cfg.AlignEnabled,
		Margin:   cfg.Margin,
	}
}
