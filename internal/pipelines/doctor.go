package pipelines

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sync"
	"time"
)

const defaultCacheTTL = 5 * time.Minute

// Tool names used as keys in Capabilities.Tools.
const (
	ToolFFmpeg  = "ffmpeg"
	ToolFFprobe = "ffprobe"
	ToolEdgeTTS = "edge-tts"
	ToolGTTS    = "gtts-cli"
	ToolRembg   = "rembg"
	ToolPython  = "python"
)

// Tools lists the executables Doctor probes.
type Tools struct {
	FFmpeg       string
	FFprobe      string
	EdgeTTS      string
	GTTS         string
	Rembg        string
	Python       string
	SadTalkerDir string
}

var (
	subtitlesFilterRe = regexp.MustCompile(`\bsubtitles\b`)
	libx264Re         = regexp.MustCompile(`\blibx264\b`)
)

// Prober probes host capabilities.
type Prober interface {
	RunDoctor(ctx context.Context) (*Capabilities, error)
}

// Doctor probes the installed toolchain.
type Doctor struct {
	inv     Invoker
	tools   Tools
	timeout time.Duration
	logger  *slog.Logger
}

// NewDoctor creates a Doctor that runs its probes through inv.
func NewDoctor(inv Invoker, tools Tools, timeout time.Duration, logger *slog.Logger) *Doctor {
	return &Doctor{inv: inv, tools: tools, timeout: timeout, logger: logger}
}

// RunDoctor looks up every tool on PATH and asks ffmpeg which filters and
// encoders it was built with. It only errors when ctx is done.
func (d *Doctor) RunDoctor(ctx context.Context) (*Capabilities, error) {
	caps := &Capabilities{Tools: make(map[string]ToolInfo)}

	for name, bin := range map[string]string{
		ToolFFmpeg:  d.tools.FFmpeg,
		ToolFFprobe: d.tools.FFprobe,
		ToolEdgeTTS: d.tools.EdgeTTS,
		ToolGTTS:    d.tools.GTTS,
		ToolRembg:   d.tools.Rembg,
		ToolPython:  d.tools.Python,
	} {
		caps.Tools[name] = lookTool(bin)
	}

	if caps.Has(ToolFFmpeg) {
		ffmpeg := caps.Tools[ToolFFmpeg].Path
		caps.SubtitlesFilter = d.grep(ctx, ffmpeg, subtitlesFilterRe, "-hide_banner", "-filters")
		caps.LibX264 = d.grep(ctx, ffmpeg, libx264Re, "-hide_banner", "-encoders")
	}

	if caps.Has(ToolPython) {
		res := d.inv.Invoke(ctx, Command{
			Tool:    "vision-helper",
			Path:    caps.Tools[ToolPython].Path,
			Args:    []string{"-c", "import face_recognition, face_alignment"},
			Timeout: d.timeout,
		})
		caps.VisionHelper = res.IsSuccess()
	}

	if d.tools.SadTalkerDir != "" {
		if _, err := os.Stat(filepath.Join(d.tools.SadTalkerDir, "inference.py")); err == nil {
			caps.SadTalker = true
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	caps.ProbedAt = time.Now()

	d.logger.Info("doctor probe complete",
		"ffmpeg", caps.Has(ToolFFmpeg),
		"subtitles_filter", caps.SubtitlesFilter,
		"libx264", caps.LibX264,
		"edge_tts", caps.Has(ToolEdgeTTS),
		"rembg", caps.Has(ToolRembg),
		"vision_helper", caps.VisionHelper,
		"sadtalker", caps.SadTalker,
	)
	return caps, nil
}

func (d *Doctor) grep(ctx context.Context, bin string, re *regexp.Regexp, args ...string) bool {
	var out bytes.Buffer
	res := d.inv.Invoke(ctx, Command{
		Tool:    ToolFFmpeg,
		Path:    bin,
		Args:    args,
		Stdout:  &out,
		Timeout: d.timeout,
	})
	return res.IsSuccess() && re.Match(out.Bytes())
}

func lookTool(bin string) ToolInfo {
	if bin == "" {
		return ToolInfo{Error: "not configured"}
	}
	p, err := exec.LookPath(bin)
	if err != nil {
		return ToolInfo{Error: err.Error()}
	}
	return ToolInfo{Available: true, Path: p}
}

// CachedDoctor wraps a Prober to cache probe results with a configurable TTL.
// This avoids shelling out to ffmpeg on every render.
type CachedDoctor struct {
	prober Prober
	ttl    time.Duration
	logger *slog.Logger

	mu     sync.RWMutex
	cached *Capabilities
}

// NewCachedDoctor creates a caching wrapper around doctor probes.
func NewCachedDoctor(prober Prober, logger *slog.Logger) *CachedDoctor {
	return &CachedDoctor{
		prober: prober,
		ttl:    defaultCacheTTL,
		logger: logger,
	}
}

// Get returns cached capabilities if fresh, otherwise re-probes.
func (d *CachedDoctor) Get(ctx context.Context) (*Capabilities, error) {
	d.mu.RLock()
	if d.cached != nil && time.Since(d.cached.ProbedAt) < d.ttl {
		caps := d.cached
		d.mu.RUnlock()
		return caps, nil
	}
	d.mu.RUnlock()

	return d.Refresh(ctx)
}

func (d *CachedDoctor) Peek() *Capabilities {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.cached
}

// Refresh forces a new probe regardless of cache freshness.
func (d *CachedDoctor) Refresh(ctx context.Context) (*Capabilities, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	caps, err := d.prober.RunDoctor(ctx)
	if err != nil {
		d.logger.Warn("doctor probe failed", "error", err)
		// Return stale cache if available
		if d.cached != nil {
			d.logger.Info("returning stale capabilities cache")
			return d.cached, nil
		}
		return nil, err
	}

	d.cached = caps
	return caps, nil
}

// Invalidate clears the cached capabilities.
func (d *CachedDoctor) Invalidate() {
	d.mu.Lock()
	d.cached = nil
	d.mu.Unlock()
}
