package speech

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/heimdex/avatar-agent/internal/apperr"
	"github.com/heimdex/avatar-agent/internal/pipelines"
)

// EdgeEngine drives the edge-tts CLI, which speaks with Microsoft neural voices.
type EdgeEngine struct {
	inv     pipelines.Invoker
	bin     string
	timeout time.Duration
	logger  *slog.Logger

	// the service throttles bursts of requests from one client
	limiter *rate.Limiter
}

// EdgeConfig configures EdgeEngine.
type EdgeConfig struct {
	Binary            string
	Timeout           time.Duration
	RequestsPerMinute int // defaults to 30
}

// NewEdgeEngine creates an EdgeEngine.
func NewEdgeEngine(inv pipelines.Invoker, cfg EdgeConfig, logger *slog.Logger) *EdgeEngine {
	rpm := cfg.RequestsPerMinute
	if rpm <= 0 {
		rpm = 30
	}
	return &EdgeEngine{
		inv:     inv,
		bin:     cfg.Binary,
		timeout: cfg.Timeout,
		logger:  logger,
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(rpm)), 3),
	}
}

func (e *EdgeEngine) Name() string    { return pipelines.ToolEdgeTTS }
func (e *EdgeEngine) Available() bool { return e.bin != "" }

// Synthesize writes req.Text spoken with req.Voice to req.OutPath as mp3.
func (e *EdgeEngine) Synthesize(ctx context.Context, req Request) error {
	if !e.Available() {
		return ErrEngineUnavailable
	}
	if err := e.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	res := e.inv.Invoke(ctx, pipelines.Command{
		Tool: pipelines.ToolEdgeTTS,
		Path: e.bin,
		Args: []string{
			"--voice", req.Voice,
			"--text", req.Text,
			"--write-media", req.OutPath,
		},
		Timeout: e.timeout,
	})
	if !res.IsSuccess() {
		return apperr.ExternalTool(pipelines.ToolEdgeTTS, "synthesize speech", res.Output, res.Failure())
	}
	if err := checkOutput(req.OutPath); err != nil {
		return apperr.ExternalTool(pipelines.ToolEdgeTTS, "synthesize speech", res.Output, err)
	}

	e.logger.Debug("speech synthesized", "engine", e.Name(), "voice", req.Voice, "chars", len(req.Text))
	return nil
}
