// Package pipelines runs the external tools a render depends on (ffmpeg,
// ffprobe, edge-tts, rembg, SadTalker, the vision helper) as subprocesses with
// bounded output capture, and probes which of them are installed.
package pipelines

import (
	"fmt"
	"io"
	"time"
)

// Command describes one external process invocation.
type Command struct {
	Tool    string        // short name used in logs and errors, e.g. "ffmpeg"
	Path    string        // executable to run
	Args    []string      // arguments, not including Path
	Dir     string        // working directory; empty = inherit
	Env     []string      // extra KEY=VALUE pairs appended to the environment
	Stdin   io.Reader     // optional
	Stdout  io.Writer     // optional; when nil stdout joins the captured output
	Timeout time.Duration // zero = no deadline beyond ctx
}

// RunResult is the structured outcome of executing a subprocess.
type RunResult struct {
	ExitCode int           `json:"exit_code"`
	Output   string        `json:"output,omitempty"` // last N bytes of stderr (and stdout when not redirected)
	Duration time.Duration `json:"duration"`
	TimedOut bool          `json:"timed_out,omitempty"`
	StartErr error         `json:"-"`
}

// IsSuccess returns true when the subprocess exited cleanly.
func (r RunResult) IsSuccess() bool { return r.ExitCode == 0 && r.StartErr == nil }

// Failure describes why the run did not succeed, or nil when it did.
func (r RunResult) Failure() error {
	switch {
	case r.StartErr != nil:
		return fmt.Errorf("cannot start: %w", r.StartErr)
	case r.TimedOut:
		return fmt.Errorf("timed out after %s", r.Duration.Round(time.Millisecond))
	case r.ExitCode != 0:
		return fmt.Errorf("exit status %d", r.ExitCode)
	}
	return nil
}

// ToolInfo is the availability of a single external dependency.
type ToolInfo struct {
	Available bool   `json:"available"`
	Path      string `json:"path,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Capabilities is what the host toolchain can do, as probed by Doctor.
type Capabilities struct {
	Tools map[string]ToolInfo `json:"tools"`

	SubtitlesFilter bool      `json:"subtitles_filter"`
	LibX264         bool      `json:"libx264"`
	VisionHelper    bool      `json:"vision_helper"`
	SadTalker       bool      `json:"sadtalker"`
	ProbedAt        time.Time `json:"probed_at"`
}

// Has reports whether the named tool was found.
func (c *Capabilities) Has(tool string) bool {
	if c == nil {
		return false
	}
	t, ok := c.Tools[tool]
	return ok && t.Available
}

// Missing returns the subset of tools that were not found, in argument order.
func (c *Capabilities) Missing(tools ...string) []string {
	var out []string
	for _, t := range tools {
		if !c.Has(t) {
			out = append(out, t)
		}
	}
	return out
}
