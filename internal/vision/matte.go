package vision

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/draw"
	"image/png"
	"log/slog"
	"strconv"
	"time"

	"github.com/heimdex/avatar-agent/internal/apperr"
	"github.com/heimdex/avatar-agent/internal/pipelines"
)

// Alpha-matting parameters. Zero erosion keeps fine hair at the cost of
// some background bleed along the edge.
const (
	ForegroundThreshold = 230
	BackgroundThreshold = 5
	ErodeSize           = 0
)

// RembgMatter cuts the subject out with the rembg CLI, streaming PNG bytes
// through stdin and stdout.
type RembgMatter struct {
	inv     pipelines.Invoker
	bin     string
	timeout time.Duration
	logger  *slog.Logger
}

func NewRembgMatter(inv pipelines.Invoker, bin string, timeout time.Duration, logger *slog.Logger) *RembgMatter {
	return &RembgMatter{inv: inv, bin: bin, timeout: timeout, logger: logger}
}

// Args returns the rembg arguments: alpha matting on, reading stdin, writing stdout.
func (r *RembgMatter) Args() []string {
	return []string{
		"i", "-a",
		"-af", strconv.Itoa(ForegroundThreshold),
		"-ab", strconv.Itoa(BackgroundThreshold),
		"-ae", strconv.Itoa(ErodeSize),
		"-", "-",
	}
}

// Matte returns img with an estimated alpha channel.
func (r *RembgMatter) Matte(ctx context.Context, img image.Image) (*image.NRGBA, error) {
	var in bytes.Buffer
	if err := png.Encode(&in, img); err != nil {
		return nil, fmt.Errorf("encode matting input: %w", err)
	}

	var out bytes.Buffer
	res := r.inv.Invoke(ctx, pipelines.Command{
		Tool:    pipelines.ToolRembg,
		Path:    r.bin,
		Args:    r.Args(),
		Stdin:   &in,
		Stdout:  &out,
		Timeout: r.timeout,
	})
	if !res.IsSuccess() {
		return nil, apperr.ExternalTool(pipelines.ToolRembg, "matte background", res.Output, res.Failure())
	}

	decoded, err := png.Decode(&out)
	if err != nil {
		return nil, apperr.ExternalTool(pipelines.ToolRembg, "matte background", res.Output,
			fmt.Errorf("unreadable matting output: %w", err))
	}
	if decoded.Bounds().Size() != img.Bounds().Size() {
		return nil, apperr.ExternalTool(pipelines.ToolRembg, "matte background", res.Output,
			fmt.Errorf("matte is %v, input was %v", decoded.Bounds().Size(), img.Bounds().Size()))
	}

	r.logger.Debug("background matted", "duration_ms", res.Duration.Milliseconds())
	return toNRGBA(decoded), nil
}

func toNRGBA(img image.Image) *image.NRGBA {
	if n, ok := img.(*image.NRGBA); ok {
		return n
	}
	b := img.Bounds()
	out := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Bounds(), img, b.Min, draw.Src)
	return out
}
