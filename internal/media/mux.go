package media

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/heimdex/avatar-agent/internal/apperr"
	"github.com/heimdex/avatar-agent/internal/pipelines"
)

// CaptionMode selects how captions reach the final video.
type CaptionMode string

const (
	CaptionNone   CaptionMode = "none"
	CaptionSoft   CaptionMode = "soft"   // selectable mov_text track
	CaptionBurned CaptionMode = "burned" // rendered into the pixels, forces re-encode
)

// ParseCaptionMode accepts none, soft or burned (case-insensitive). The
// empty string means none.
func ParseCaptionMode(s string) (CaptionMode, error) {
	switch m := CaptionMode(strings.ToLower(strings.TrimSpace(s))); m {
	case "", CaptionNone:
		return CaptionNone, nil
	case CaptionSoft, CaptionBurned:
		return m, nil
	default:
		return "", fmt.Errorf("unknown caption mode %q (want none, soft or burned)", s)
	}
}

// Audio encoding applied in every mode.
const (
	audioCodec   = "aac"
	audioBitrate = "192k"
)

// MuxRequest names the inputs and output of one mux.
type MuxRequest struct {
	Video     string
	Audio     string
	Subtitles string // required unless Mode is CaptionNone
	Mode      CaptionMode
	Output    string // final path; written via Partial then renamed
	Partial   string
}

// Muxer combines the silent synthesis output with the voice track.
type Muxer struct {
	inv     pipelines.Invoker
	ffmpeg  string
	timeout time.Duration
	logger  *slog.Logger
}

// NewMuxer creates a Muxer that runs the given ffmpeg binary.
func NewMuxer(inv pipelines.Invoker, ffmpeg string, timeout time.Duration, logger *slog.Logger) *Muxer {
	return &Muxer{inv: inv, ffmpeg: ffmpeg, timeout: timeout, logger: logger}
}

// Args builds the ffmpeg argument list for req, writing to out.
func (m *Muxer) Args(req MuxRequest, out string) ([]string, error) {
	args := []string{"-y", "-i", req.Video, "-i", req.Audio}

	switch req.Mode {
	case CaptionNone, "":
		args = append(args,
			"-map", "0:v:0", "-map", "1:a:0",
			"-c:v", "copy",
		)
	case CaptionSoft:
		if req.Subtitles == "" {
			return nil, errors.New("soft captions requested without a subtitle file")
		}
		args = append(args, "-i", req.Subtitles,
			"-map", "0:v:0", "-map", "1:a:0", "-map", "2:s:0",
			"-c:v", "copy",
			"-c:s", "mov_text",
			"-metadata:s:s:0", "language=eng",
		)
	case CaptionBurned:
		if req.Subtitles == "" {
			return nil, errors.New("burned captions requested without a subtitle file")
		}
		filter, err := SubtitlesFilter(req.Subtitles)
		if err != nil {
			return nil, err
		}
		args = append(args,
			"-map", "0:v:0", "-map", "1:a:0",
			"-vf", filter,
			"-c:v", "libx264",
			"-pix_fmt", "yuv420p",
		)
	default:
		return nil, fmt.Errorf("unknown caption mode %q", req.Mode)
	}

	args = append(args,
		"-c:a", audioCodec,
		"-b:a", audioBitrate,
		"-shortest",
		out,
	)
	return args, nil
}

// Mux runs ffmpeg. The output appears at req.Output only when ffmpeg exits
// cleanly; on failure no file is left at either path.
func (m *Muxer) Mux(ctx context.Context, req MuxRequest) error {
	partial := req.Partial
	if partial == "" {
		partial = req.Output + ".partial.mp4"
	}

	args, err := m.Args(req, partial)
	if err != nil {
		return apperr.Input("mux", err)
	}

	res := m.inv.Invoke(ctx, pipelines.Command{
		Tool:    pipelines.ToolFFmpeg,
		Path:    m.ffmpeg,
		Args:    args,
		Timeout: m.timeout,
	})
	if !res.IsSuccess() {
		os.Remove(partial)
		return apperr.ExternalTool(pipelines.ToolFFmpeg, "mux", res.Output, res.Failure())
	}

	if _, err := os.Stat(partial); err != nil {
		return apperr.ExternalTool(pipelines.ToolFFmpeg, "mux", res.Output,
			fmt.Errorf("encoder reported success but wrote no output: %w", err))
	}
	if err := os.Rename(partial, req.Output); err != nil {
		os.Remove(partial)
		return fmt.Errorf("promote mux output: %w", err)
	}

	m.logger.Info("mux complete", "mode", string(req.Mode), "duration_ms", res.Duration.Milliseconds())
	return nil
}
