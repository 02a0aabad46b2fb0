// Package pipeline runs a render end to end: voice selection, portrait
// preprocessing, speech synthesis, talking-head synthesis, captions and the
// final mux, inside a fresh workspace.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/heimdex/avatar-agent/internal/apperr"
	"github.com/heimdex/avatar-agent/internal/imaging"
	"github.com/heimdex/avatar-agent/internal/logging"
	"github.com/heimdex/avatar-agent/internal/media"
	"github.com/heimdex/avatar-agent/internal/pipelines"
	"github.com/heimdex/avatar-agent/internal/portrait"
	"github.com/heimdex/avatar-agent/internal/speech"
	"github.com/heimdex/avatar-agent/internal/voice"
	"github.com/heimdex/avatar-agent/internal/workspace"
)

// RunConfig holds the per-deployment render policy.
type RunConfig struct {
	WorkRoot            string
	AlignEnabled        bool
	CaptionMode         media.CaptionMode
	Margin              float64
	KeepFailedWorkspace bool
}

// Request is one render.
type Request struct {
	Text        string `json:"text"`
	ImagePath   string `json:"image"`
	Gender      string `json:"gender"`
	Nationality string `json:"nationality"`

	// Captions overrides RunConfig.CaptionMode when set.
	Captions media.CaptionMode `json:"captions,omitempty"`
}

// Result lists the artifacts of a successful render. Every path is inside
// Workspace.
type Result struct {
	RunID       string            `json:"run_id"`
	Workspace   string            `json:"workspace"`
	Voice       string            `json:"voice"`
	Speech      string            `json:"speech"`
	Portrait    string            `json:"portrait"`
	Subtitles   string            `json:"subtitles,omitempty"`
	SilentVideo string            `json:"silent_video"`
	Final       string            `json:"final"`
	Captions    media.CaptionMode `json:"captions"`
	Face        *portrait.Result  `json:"face"`
	Elapsed     time.Duration     `json:"elapsed"`
}

// StageError wraps a render failure with the last state the render reached.
type StageError struct {
	Stage State
	Err   error
}

func (e *StageError) Error() string { return fmt.Sprintf("%s: %v", e.Stage, e.Err) }
func (e *StageError) Unwrap() error { return e.Err }

// StageOf returns the stage a render failed in, or StateInit.
func StageOf(err error) State {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	return StateInit
}

// Deps are the stage implementations. Doctor may be nil, which skips the
// capability preflight.
type Deps struct {
	Speech    Speaker
	Portrait  PortraitProcessor
	Synthesis Synthesizer
	Subtitles SubtitleWriter
	Muxer     Muxer
	Doctor    CapabilityChecker
}

// Orchestrator owns the stage sequence. It is safe for concurrent use; each
// Run gets its own workspace.
type Orchestrator struct {
	deps   Deps
	cfg    RunConfig
	logger *slog.Logger
}

func New(deps Deps, cfg RunConfig, logger *slog.Logger) *Orchestrator {
	if cfg.CaptionMode == "" {
		cfg.CaptionMode = media.CaptionNone
	}
	if cfg.Margin <= 0 {
		cfg.Margin = imaging.DefaultMargin
	}
	return &Orchestrator{deps: deps, cfg: cfg, logger: logger}
}

// Config returns the render policy in effect.
func (o *Orchestrator) Config() RunConfig { return o.cfg }

// run carries one render's mutable state.
type run struct {
	id     string
	state  State
	obs    Observer
	logger *slog.Logger
}

func (r *run) advance(s State) {
	r.state = s
	r.logger.Info("stage complete", "state", s.String())
	r.emit(Event{State: s})
}

func (r *run) emit(ev Event) {
	if r.obs == nil {
		return
	}
	ev.RunID = r.id
	ev.Stage = ev.State.String()
	ev.Progress = ev.State.Progress()
	ev.At = time.Now()
	r.obs.Transition(ev)
}

// fail records err against the current stage and publishes Failed.
func (r *run) fail(err error) error {
	se := &StageError{Stage: r.state, Err: err}
	r.logger.Error("render failed", "stage", r.state.String(), "kind", string(apperr.KindOf(err)), "error", err)
	r.emit(Event{State: StateFailed, Error: err.Error(), Kind: string(apperr.KindOf(err))})
	r.state = StateFailed
	return se
}

// Run renders req. obs may be nil. On failure the error is a *StageError
// wrapping an *apperr.Error where the cause is classified, and the workspace
// is removed unless KeepFailedWorkspace is set.
func (o *Orchestrator) Run(ctx context.Context, req Request, obs Observer) (*Result, error) {
	started := time.Now()
	r := &run{state: StateInit, obs: obs, logger: o.logger}

	img, err := o.validate(req)
	if err != nil {
		return nil, r.fail(err)
	}
	mode := o.cfg.CaptionMode
	if req.Captions != "" {
		mode = req.Captions
	}
	if err := o.preflight(ctx, mode); err != nil {
		return nil, r.fail(err)
	}

	ws, err := workspace.New(o.cfg.WorkRoot)
	if err != nil {
		return nil, r.fail(fmt.Errorf("allocate workspace: %w", err))
	}
	r.id = ws.ID()
	r.logger = logging.WithRunID(o.logger, ws.ID())
	r.logger.Info("render started",
		"workspace", logging.SanitizePath(ws.Path()),
		"captions", string(mode),
		"align", o.cfg.AlignEnabled,
	)
	r.emit(Event{State: StateInit})

	res, err := o.stages(ctx, r, ws, req, img, mode)
	if err != nil {
		err = r.fail(err)
		if o.cfg.KeepFailedWorkspace {
			r.logger.Info("keeping failed workspace", "workspace", ws.Path())
		} else if rmErr := ws.Remove(); rmErr != nil {
			r.logger.Warn("failed to remove workspace", "error", rmErr)
		}
		return nil, err
	}

	res.Elapsed = time.Since(started)
	r.advance(StateDone)
	r.logger.Info("render finished", "final", res.Final, "elapsed_ms", res.Elapsed.Milliseconds())
	return res, nil
}

func (o *Orchestrator) stages(ctx context.Context, r *run, ws *workspace.Workspace, req Request, img image.Image, mode media.CaptionMode) (*Result, error) {
	res := &Result{RunID: ws.ID(), Workspace: ws.Path(), Captions: mode}

	// An image without a face fails here, before any speech or synthesis.
	if _, err := o.deps.Portrait.CheckFace(ctx, img); err != nil {
		return nil, err
	}

	res.Voice = voice.Select(req.Nationality, req.Gender)
	r.logger.Info("voice selected", "voice", res.Voice)
	r.advance(StateVoiceSelected)

	res.Speech = ws.Speech(speech.AudioExt)
	if err := o.deps.Speech.Synthesize(ctx, speech.Request{Text: req.Text, Voice: res.Voice, OutPath: res.Speech}); err != nil {
		return nil, err
	}
	r.advance(StateAudioSynthesized)

	face, err := o.deps.Portrait.PreprocessImage(ctx, img, ws.Path(), o.cfg.AlignEnabled, o.cfg.Margin)
	if err != nil {
		return nil, err
	}
	res.Face = face
	res.Portrait = face.Path
	r.advance(StatePortraitProcessed)

	res.SilentVideo, err = o.deps.Synthesis.Synthesize(ctx, res.Portrait, res.Speech, ws.VideoDir())
	if err != nil {
		return nil, err
	}
	r.advance(StateSilentVideoSynthesized)

	mux := media.MuxRequest{
		Video:   res.SilentVideo,
		Audio:   res.Speech,
		Mode:    mode,
		Output:  ws.Final(),
		Partial: ws.PartialFinal(),
	}
	if mode != media.CaptionNone {
		if _, err := o.deps.Subtitles.Write(ctx, res.Speech, req.Text, ws.Subtitles()); err != nil {
			return nil, err
		}
		res.Subtitles = ws.Subtitles()
		mux.Subtitles = res.Subtitles
	}
	if err := o.deps.Muxer.Mux(ctx, mux); err != nil {
		return nil, err
	}
	res.Final = ws.Final()
	r.advance(StateMuxed)
	return res, nil
}

// validate checks the request before any work is done and decodes the image.
func (o *Orchestrator) validate(req Request) (image.Image, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, apperr.Inputf("validate request", "text is empty")
	}
	if req.Captions != "" {
		if _, err := media.ParseCaptionMode(string(req.Captions)); err != nil {
			return nil, apperr.Input("validate request", err)
		}
	}
	if req.ImagePath == "" {
		return nil, apperr.Inputf("validate request", "image path is empty")
	}
	fi, err := os.Stat(req.ImagePath)
	if err != nil {
		return nil, apperr.Input("validate request", err)
	}
	if fi.IsDir() {
		return nil, apperr.Inputf("validate request", "%s is a directory", req.ImagePath)
	}
	img, _, err := imaging.Decode(req.ImagePath)
	if err != nil {
		return nil, apperr.Input("validate request", err)
	}
	return img, nil
}

// preflight fails fast when the toolchain cannot honour the configuration.
func (o *Orchestrator) preflight(ctx context.Context, mode media.CaptionMode) error {
	if o.deps.Doctor == nil {
		return nil
	}
	caps, err := o.deps.Doctor.Get(ctx)
	if err != nil {
		return apperr.Configuration("probe toolchain", err)
	}

	need := []string{pipelines.ToolFFmpeg}
	if mode != media.CaptionNone {
		need = append(need, pipelines.ToolFFprobe)
	}
	if missing := caps.Missing(need...); len(missing) > 0 {
		return apperr.Configuration("preflight", fmt.Errorf("missing tools: %s", strings.Join(missing, ", ")))
	}

	if mode == media.CaptionBurned {
		var gaps []string
		if !caps.SubtitlesFilter {
			gaps = append(gaps, "the subtitles filter (libass)")
		}
		if !caps.LibX264 {
			gaps = append(gaps, "the libx264 encoder")
		}
		if len(gaps) > 0 {
			return apperr.Configuration("preflight",
				fmt.Errorf("burned captions need ffmpeg built with %s", strings.Join(gaps, " and ")))
		}
	}
	return nil
}
