package pipelines

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const (
	maxOutputBytes = 8 * 1024 // 8 KB tail of process output kept for diagnostics
	waitDelay      = 5 * time.Second
)

// Invoker is the narrow seam every stage uses to reach an external tool.
// Orchestration code depends on this interface only, so tests substitute a
// fake that records commands and returns canned results.
type Invoker interface {
	Invoke(ctx context.Context, cmd Command) RunResult
}

// SubprocessRunner is the production implementation of Invoker.
type SubprocessRunner struct {
	logger     *slog.Logger
	debugPaths bool
}

// NewRunner creates a SubprocessRunner. With debugPaths unset, file paths in
// log lines are shortened to keep user directories out of logs.
func NewRunner(logger *slog.Logger, debugPaths bool) *SubprocessRunner {
	return &SubprocessRunner{logger: logger, debugPaths: debugPaths}
}

// Invoke runs cmd to completion and returns its exit code and output tail.
func (r *SubprocessRunner) Invoke(ctx context.Context, c Command) RunResult {
	start := time.Now()

	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, c.Path, c.Args...)
	cmd.Dir = c.Dir
	cmd.WaitDelay = waitDelay
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}
	cmd.Stdin = c.Stdin

	// Capture output with bounded buffer
	var buf bytes.Buffer
	lw := &limitedWriter{w: &buf, limit: maxOutputBytes}
	cmd.Stderr = lw
	if c.Stdout != nil {
		cmd.Stdout = c.Stdout
	} else {
		cmd.Stdout = lw
	}

	r.logger.Debug("executing command",
		"tool", c.Tool,
		"args", r.describeArgs(c.Args),
		"dir", r.safePath(c.Dir),
		"timeout", c.Timeout,
	)

	err := cmd.Run()
	elapsed := time.Since(start)

	res := RunResult{Duration: elapsed}
	if err != nil {
		var exitErr *exec.ExitError
		switch {
		case errors.As(err, &exitErr):
			res.ExitCode = exitErr.ExitCode()
		default:
			res.ExitCode = -1
			if ctx.Err() == nil {
				res.StartErr = err
			}
		}
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		res.TimedOut = true
		if res.ExitCode == 0 {
			res.ExitCode = -1
		}
	}
	res.Output = lw.String()

	if !res.IsSuccess() {
		r.logger.Warn("command failed",
			"tool", c.Tool,
			"exit_code", res.ExitCode,
			"timed_out", res.TimedOut,
			"duration_ms", elapsed.Milliseconds(),
			"output_tail", truncate(res.Output, 512),
		)
	} else {
		r.logger.Info("command succeeded",
			"tool", c.Tool,
			"duration_ms", elapsed.Milliseconds(),
		)
	}

	return res
}

func (r *SubprocessRunner) describeArgs(args []string) string {
	parts := make([]string, len(args))
	for i, a := range args {
		if filepath.IsAbs(a) {
			a = r.safePath(a)
		}
		parts[i] = truncate(a, 64)
	}
	return strings.Join(parts, " ")
}

func (r *SubprocessRunner) safePath(path string) string {
	if r.debugPaths || path == "" {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Base(path)
	}
	if strings.HasPrefix(path, home) {
		return "~" + path[len(home):]
	}
	return filepath.Base(path)
}

// ResolvePython finds a usable python binary.
func ResolvePython(preferred string) (string, error) {
	if preferred != "" {
		if p, err := exec.LookPath(preferred); err == nil {
			return p, nil
		}
		return "", fmt.Errorf("configured python %q not found", preferred)
	}
	for _, name := range []string{"python3", "python"} {
		if p, err := exec.LookPath(name); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("no python binary found on PATH (tried python3, python)")
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return "..." + s[len(s)-maxLen:]
}

// limitedWriter is an io.Writer that keeps only the last `limit` bytes.
type limitedWriter struct {
	mu    sync.Mutex
	w     *bytes.Buffer
	limit int
}

var _ io.Writer = (*limitedWriter)(nil)

func (lw *limitedWriter) Write(p []byte) (int, error) {
	lw.mu.Lock()
	defer lw.mu.Unlock()

	n := len(p)
	lw.w.Write(p)
	if lw.w.Len() > lw.limit {
		// Keep only the tail
		b := lw.w.Bytes()
		tail := append([]byte(nil), b[len(b)-lw.limit:]...)
		lw.w.Reset()
		lw.w.Write(tail)
	}
	return n, nil
}

func (lw *limitedWriter) String() string {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	return lw.w.String()
}
