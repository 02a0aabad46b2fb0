// Package media wraps ffprobe and ffmpeg: audio duration probing, SubRip
// caption generation, and the final audio/video/caption mux.
package media

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/heimdex/avatar-agent/internal/apperr"
	"github.com/heimdex/avatar-agent/internal/pipelines"
)

// Prober reads container metadata with ffprobe.
type Prober struct {
	inv     pipelines.Invoker
	ffprobe string
	timeout time.Duration
	logger  *slog.Logger
}

// NewProber creates a Prober that runs the given ffprobe binary.
func NewProber(inv pipelines.Invoker, ffprobe string, timeout time.Duration, logger *slog.Logger) *Prober {
	return &Prober{inv: inv, ffprobe: ffprobe, timeout: timeout, logger: logger}
}

// Duration returns the container duration of path in seconds.
func (p *Prober) Duration(ctx context.Context, path string) (float64, error) {
	var out bytes.Buffer
	res := p.inv.Invoke(ctx, pipelines.Command{
		Tool: pipelines.ToolFFprobe,
		Path: p.ffprobe,
		Args: []string{
			"-v", "error",
			"-show_entries", "format=duration",
			"-of", "default=noprint_wrappers=1:nokey=1",
			path,
		},
		Stdout:  &out,
		Timeout: p.timeout,
	})
	if !res.IsSuccess() {
		return 0, apperr.ExternalTool(pipelines.ToolFFprobe, "probe duration", res.Output, res.Failure())
	}

	raw := strings.TrimSpace(out.String())
	d, err := strconv.ParseFloat(raw, 64)
	if err != nil || d < 0 {
		return 0, apperr.ExternalTool(pipelines.ToolFFprobe, "probe duration", raw,
			fmt.Errorf("unparseable duration %q", raw))
	}

	p.logger.Debug("probed duration", "seconds", d)
	return d, nil
}
