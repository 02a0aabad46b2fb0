package main

import (
	"errors"
	"log/slog"
	"path/filepath"

	"github.com/heimdex/avatar-agent/internal/config"
	"github.com/heimdex/avatar-agent/internal/logging"
	"github.com/heimdex/avatar-agent/internal/media"
	"github.com/heimdex/avatar-agent/internal/pipeline"
	"github.com/heimdex/avatar-agent/internal/pipelines"
	"github.com/heimdex/avatar-agent/internal/portrait"
	"github.com/heimdex/avatar-agent/internal/speech"
	"github.com/heimdex/avatar-agent/internal/synthesis"
	"github.com/heimdex/avatar-agent/internal/vision"
)

// stack is everything a render needs, built once per process.
type stack struct {
	orch    *pipeline.Orchestrator
	doctor  *pipelines.CachedDoctor
	closers []func() error
}

func (s *stack) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		errs = append(errs, s.closers[i]())
	}
	return errors.Join(errs...)
}

func newDoctor(cfg config.Config, inv pipelines.Invoker, logger *slog.Logger) *pipelines.CachedDoctor {
	d := pipelines.NewDoctor(inv, cfg.Tools(), cfg.TimeoutDoctor(), logging.WithComponent(logger, "doctor"))
	return pipelines.NewCachedDoctor(d, logger)
}

func buildStack(cfg config.Config, logger *slog.Logger) (*stack, error) {
	s := &stack{}
	inv := pipelines.NewRunner(logger, cfg.LogLevel() == "debug")
	tools := cfg.Tools()

	s.doctor = newDoctor(cfg, inv, logger)

	visionLog := logging.WithComponent(logger, "vision")
	models := vision.NewModels(cfg.Python(), filepath.Join(cfg.DataDir(), "helper"), cfg.VisionDevice(), visionLog)
	models.SetCallTimeout(cfg.TimeoutHelper())
	s.closers = append(s.closers, models.Close)

	var locator portrait.Locator = vision.NewHelperLocator(models)
	if dir := cfg.DlibModelsDir(); dir != "" {
		d, err := vision.NewDlibLocator(dir)
		if err != nil {
			visionLog.Warn("dlib locator unavailable, using the python helper", "models", dir, "error", err)
		} else {
			locator = d
			s.closers = append(s.closers, d.Close)
		}
	}
	pre := portrait.NewPreprocessor(
		locator,
		vision.NewHelperLandmarks(models),
		vision.NewRembgMatter(inv, tools.Rembg, cfg.TimeoutMatting(), visionLog),
		logging.WithComponent(logger, "portrait"),
	)

	speechLog := logging.WithComponent(logger, "speech")
	var engine speech.Engine = speech.NewFallbackEngine(
		speech.NewEdgeEngine(inv, speech.EdgeConfig{
			Binary:            tools.EdgeTTS,
			Timeout:           cfg.TimeoutTTS(),
			RequestsPerMinute: cfg.EdgeRequestsPerMinute(),
		}, speechLog),
		speech.NewGTTSEngine(inv, tools.GTTS, cfg.TimeoutTTS(), speechLog),
		speechLog,
	)
	if cfg.SpeechCacheEnabled() {
		cached, err := speech.NewCachedEngine(engine, cfg.CacheDir(), cfg.CacheMaxBytes(), speechLog)
		if err != nil {
			s.Close()
			return nil, err
		}
		engine = cached
		s.closers = append(s.closers, cached.Close)
	}

	syn := synthesis.NewInvoker(inv, synthesis.Config{
		Python:      cfg.SadTalkerPython(),
		Dir:         tools.SadTalkerDir,
		Checkpoints: cfg.SadTalkerCheckpoints(),
		Enhancer:    cfg.SadTalkerEnhancer(),
		Timeout:     cfg.TimeoutSynthesis(),
	}, logging.WithComponent(logger, "synthesis"))

	mediaLog := logging.WithComponent(logger, "media")
	prober := media.NewProber(inv, tools.FFprobe, cfg.TimeoutProbe(), mediaLog)

	s.orch = pipeline.New(pipeline.Deps{
		Speech:    engine,
		Portrait:  pre,
		Synthesis: syn,
		Subtitles: media.NewSubtitleBuilder(prober),
		Muxer:     media.NewMuxer(inv, tools.FFmpeg, cfg.TimeoutMux(), mediaLog),
		Doctor:    s.doctor,
	}, pipeline.RunConfig{
		WorkRoot:            cfg.WorkRoot(),
		AlignEnabled:        cfg.AlignEnabled(),
		CaptionMode:         cfg.CaptionMode(),
		Margin:              cfg.Margin(),
		KeepFailedWorkspace: cfg.KeepFailedWorkspace(),
	}, logger)
	return s, nil
}
