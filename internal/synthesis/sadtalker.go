// Package synthesis drives the SadTalker talking-head engine: it animates a
// processed portrait with a voice track and locates the silent video it
// writes.
package synthesis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/heimdex/avatar-agent/internal/apperr"
	"github.com/heimdex/avatar-agent/internal/pipelines"
)

// ToolSadTalker names the engine in logs and errors.
const ToolSadTalker = "sadtalker"

const (
	DefaultEnhancer    = "gfpgan"
	DefaultCheckpoints = "checkpoints"
	entryScript        = "inference.py"
)

// Config locates a SadTalker checkout.
type Config struct {
	Python      string // interpreter with SadTalker's requirements installed
	Dir         string // checkout root; inference runs with this as cwd
	Checkpoints string // relative to Dir unless absolute
	Enhancer    string // empty disables face enhancement
	Timeout     time.Duration
}

// Invoker runs SadTalker inference.
type Invoker struct {
	inv    pipelines.Invoker
	cfg    Config
	logger *slog.Logger
}

func NewInvoker(inv pipelines.Invoker, cfg Config, logger *slog.Logger) *Invoker {
	if cfg.Checkpoints == "" {
		cfg.Checkpoints = DefaultCheckpoints
	}
	return &Invoker{inv: inv, cfg: cfg, logger: logger}
}

// Args builds the inference.py argument list.
func (s *Invoker) Args(image, audio, resultDir string) []string {
	args := []string{
		entryScript,
		"--driven_audio", audio,
		"--source_image", image,
	}
	if s.cfg.Enhancer != "" {
		args = append(args, "--enhancer", s.cfg.Enhancer)
	}
	return append(args,
		"--checkpoint_dir", s.cfg.Checkpoints,
		"--result_dir", resultDir,
	)
}

// Synthesize animates image with audio and returns the path of the video the
// engine produced inside resultDir. Paths are made absolute because the
// engine runs in its own directory.
func (s *Invoker) Synthesize(ctx context.Context, image, audio, resultDir string) (string, error) {
	if s.cfg.Dir == "" {
		return "", apperr.Configuration("synthesize video", errors.New("SadTalker directory is not configured"))
	}
	image, audio, resultDir, err := absAll(image, audio, resultDir)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(resultDir, 0755); err != nil {
		return "", fmt.Errorf("create result dir: %w", err)
	}

	s.logger.Info("starting video synthesis", "dir", s.cfg.Dir, "enhancer", s.cfg.Enhancer)
	res := s.inv.Invoke(ctx, pipelines.Command{
		Tool:    ToolSadTalker,
		Path:    s.cfg.Python,
		Args:    s.Args(image, audio, resultDir),
		Dir:     s.cfg.Dir,
		Timeout: s.cfg.Timeout,
	})
	if !res.IsSuccess() {
		return "", apperr.ExternalTool(ToolSadTalker, "synthesize video", res.Output, res.Failure())
	}

	video, err := FindVideo(resultDir)
	if err != nil {
		return "", apperr.ExternalTool(ToolSadTalker, "locate synthesized video", res.Output, err)
	}
	s.logger.Info("video synthesized",
		"video", filepath.Base(video),
		"duration_ms", res.Duration.Milliseconds(),
	)
	return video, nil
}

func absAll(paths ...string) (string, string, string, error) {
	out := make([]string, len(paths))
	for i, p := range paths {
		a, err := filepath.Abs(p)
		if err != nil {
			return "", "", "", err
		}
		out[i] = a
	}
	return out[0], out[1], out[2], nil
}
