package pipelines

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func silentLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestRunResult_IsSuccess(t *testing.T) {
	tests := []struct {
		name string
		r    RunResult
		want bool
	}{
		{"clean", RunResult{ExitCode: 0}, true},
		{"exit 1", RunResult{ExitCode: 1}, false},
		{"killed", RunResult{ExitCode: -1}, false},
		{"not found", RunResult{ExitCode: 127}, false},
		{"start error", RunResult{StartErr: errors.New("no such file")}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.r.IsSuccess(); got != tt.want {
				t.Errorf("IsSuccess() = %v, want %v", got, tt.want)
			}
			if (tt.r.Failure() == nil) != tt.want {
				t.Errorf("Failure() = %v, inconsistent with IsSuccess", tt.r.Failure())
			}
		})
	}
}

func TestRunResult_FailureTimedOut(t *testing.T) {
	r := RunResult{ExitCode: -1, TimedOut: true, Duration: 2 * time.Second}
	if err := r.Failure(); err == nil || !strings.Contains(err.Error(), "timed out") {
		t.Errorf("Failure() = %v, want timeout message", err)
	}
}

func TestLimitedWriter_KeepsOnlyTail(t *testing.T) {
	var buf bytes.Buffer
	lw := &limitedWriter{w: &buf, limit: 10}

	lw.Write([]byte("hello"))
	if lw.String() != "hello" {
		t.Errorf("after short write got %q, want %q", lw.String(), "hello")
	}

	lw.Write([]byte(" world of test data"))
	got := lw.String()
	if len(got) > 10 {
		t.Errorf("buffer length %d exceeds limit 10", len(got))
	}

	want := " test data"
	if got != want {
		t.Errorf("after overflow got %q, want %q", got, want)
	}
}

func TestLimitedWriter_ExactLimit(t *testing.T) {
	var buf bytes.Buffer
	lw := &limitedWriter{w: &buf, limit: 5}

	n, err := lw.Write([]byte("12345"))
	if err != nil {
		t.Fatalf("Write error: %v", err)
	}
	if n != 5 {
		t.Errorf("Write returned %d, want 5", n)
	}
	if lw.String() != "12345" {
		t.Errorf("got %q, want %q", lw.String(), "12345")
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		input  string
		maxLen int
		want   string
	}{
		{"hello", 10, "hello"},
		{"hello", 5, "hello"},
		{"hello world", 5, "...world"},
	}
	for _, tt := range tests {
		got := truncate(tt.input, tt.maxLen)
		if got != tt.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tt.input, tt.maxLen, got, tt.want)
		}
	}
}

func TestResolvePython_PreferredNotFound(t *testing.T) {
	_, err := ResolvePython("/nonexistent/python999")
	if err == nil {
		t.Fatal("expected error for nonexistent python")
	}
}

func TestResolvePython_AutoDetect(t *testing.T) {
	p, err := ResolvePython("")
	if err != nil {
		t.Skipf("no python on PATH: %v", err)
	}
	if p == "" {
		t.Error("resolved python path is empty")
	}
}

func requireShell(t *testing.T) string {
	t.Helper()
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("no sh on PATH")
	}
	return sh
}

func TestSubprocessRunner_CapturesOutputAndExitCode(t *testing.T) {
	sh := requireShell(t)
	r := NewRunner(silentLogger(), false)

	res := r.Invoke(context.Background(), Command{
		Tool: "sh",
		Path: sh,
		Args: []string{"-c", "echo out; echo err >&2; exit 3"},
	})
	if res.ExitCode != 3 {
		t.Errorf("ExitCode = %d, want 3", res.ExitCode)
	}
	if !strings.Contains(res.Output, "out") || !strings.Contains(res.Output, "err") {
		t.Errorf("Output = %q, want both streams", res.Output)
	}
}

func TestSubprocessRunner_StdoutRedirect(t *testing.T) {
	sh := requireShell(t)
	r := NewRunner(silentLogger(), false)

	var out bytes.Buffer
	res := r.Invoke(context.Background(), Command{
		Tool:   "sh",
		Path:   sh,
		Args:   []string{"-c", "cat; echo diag >&2"},
		Stdin:  strings.NewReader("payload"),
		Stdout: &out,
	})
	if !res.IsSuccess() {
		t.Fatalf("unexpected failure: %v", res.Failure())
	}
	if out.String() != "payload" {
		t.Errorf("stdout = %q, want %q", out.String(), "payload")
	}
	if strings.TrimSpace(res.Output) != "diag" {
		t.Errorf("captured = %q, want only stderr", res.Output)
	}
}

func TestSubprocessRunner_WorkDir(t *testing.T) {
	sh := requireShell(t)
	r := NewRunner(silentLogger(), false)
	dir := t.TempDir()

	res := r.Invoke(context.Background(), Command{
		Tool: "sh",
		Path: sh,
		Args: []string{"-c", "touch marker"},
		Dir:  dir,
	})
	if !res.IsSuccess() {
		t.Fatalf("unexpected failure: %v", res.Failure())
	}
	if _, err := os.Stat(filepath.Join(dir, "marker")); err != nil {
		t.Errorf("command did not run in Dir: %v", err)
	}
}

func TestSubprocessRunner_Timeout(t *testing.T) {
	sh := requireShell(t)
	r := NewRunner(silentLogger(), false)

	res := r.Invoke(context.Background(), Command{
		Tool:    "sh",
		Path:    sh,
		Args:    []string{"-c", "exec sleep 5"},
		Timeout: 100 * time.Millisecond,
	})
	if !res.TimedOut {
		t.Error("expected TimedOut")
	}
	if res.IsSuccess() {
		t.Error("timed-out command must not be a success")
	}
}

func TestSubprocessRunner_MissingBinary(t *testing.T) {
	r := NewRunner(silentLogger(), false)
	res := r.Invoke(context.Background(), Command{Tool: "nope", Path: "/nonexistent/tool-xyz"})
	if res.StartErr == nil {
		t.Error("expected StartErr for missing binary")
	}
}

func TestCachedDoctor_TTL(t *testing.T) {
	calls := 0
	fake := &fakeProber{
		doctorFn: func(ctx context.Context) (*Capabilities, error) {
			calls++
			return &Capabilities{
				Tools:           map[string]ToolInfo{ToolFFmpeg: {Available: true}},
				SubtitlesFilter: true,
				ProbedAt:        time.Now(),
			}, nil
		},
	}

	doc := NewCachedDoctor(fake, silentLogger())
	doc.ttl = 100 * time.Millisecond
	ctx := context.Background()

	caps1, err := doc.Get(ctx)
	if err != nil {
		t.Fatalf("first Get: %v", err)
	}
	if !caps1.Has(ToolFFmpeg) {
		t.Error("expected ffmpeg available")
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}

	caps2, err := doc.Get(ctx)
	if err != nil {
		t.Fatalf("second Get: %v", err)
	}
	if caps2.ProbedAt != caps1.ProbedAt {
		t.Error("expected cached result on second call")
	}
	if calls != 1 {
		t.Errorf("expected 1 call (cached), got %d", calls)
	}

	time.Sleep(150 * time.Millisecond)

	_, err = doc.Get(ctx)
	if err != nil {
		t.Fatalf("third Get (after TTL): %v", err)
	}
	if calls != 2 {
		t.Errorf("expected 2 calls after TTL expiry, got %d", calls)
	}
}

func TestCachedDoctor_Invalidate(t *testing.T) {
	calls := 0
	fake := &fakeProber{
		doctorFn: func(ctx context.Context) (*Capabilities, error) {
			calls++
			return &Capabilities{ProbedAt: time.Now()}, nil
		},
	}

	doc := NewCachedDoctor(fake, silentLogger())
	ctx := context.Background()

	doc.Get(ctx)
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}

	doc.Invalidate()
	doc.Get(ctx)
	if calls != 2 {
		t.Errorf("expected 2 calls after Invalidate, got %d", calls)
	}
}

func TestCachedDoctor_StaleOnFailure(t *testing.T) {
	fail := false
	fake := &fakeProber{
		doctorFn: func(ctx context.Context) (*Capabilities, error) {
			if fail {
				return nil, errors.New("probe broke")
			}
			return &Capabilities{LibX264: true, ProbedAt: time.Now()}, nil
		},
	}

	doc := NewCachedDoctor(fake, silentLogger())
	ctx := context.Background()
	if _, err := doc.Refresh(ctx); err != nil {
		t.Fatal(err)
	}

	fail = true
	caps, err := doc.Refresh(ctx)
	if err != nil {
		t.Fatalf("expected stale cache, got error %v", err)
	}
	if !caps.LibX264 {
		t.Error("expected stale capabilities to be returned")
	}
}

func TestDoctor_MissingToolsAndSadTalker(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "inference.py"), []byte("# stub"), 0644)

	d := NewDoctor(NewRunner(silentLogger(), false), Tools{
		FFmpeg:       "/nonexistent/ffmpeg-xyz",
		SadTalkerDir: dir,
	}, time.Second, silentLogger())

	caps, err := d.RunDoctor(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if caps.Has(ToolFFmpeg) {
		t.Error("ffmpeg should be missing")
	}
	if caps.SubtitlesFilter {
		t.Error("subtitles filter cannot be present without ffmpeg")
	}
	if !caps.SadTalker {
		t.Error("expected SadTalker to be detected")
	}
	if got := caps.Missing(ToolFFmpeg, ToolRembg); len(got) != 2 {
		t.Errorf("Missing = %v, want both", got)
	}
}

func TestSafePath_DebugMode(t *testing.T) {
	r := NewRunner(silentLogger(), true)
	path := "/Users/test/secret/face.png"
	if got := r.safePath(path); got != path {
		t.Errorf("debug mode: safePath(%q) = %q, want full path", path, got)
	}
}

func TestSafePath_ProductionMode(t *testing.T) {
	r := NewRunner(silentLogger(), false)
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("cannot determine home dir")
	}
	path := filepath.Join(home, ".avatar", "runs", "speech.mp3")
	got := r.safePath(path)
	if got != "~/.avatar/runs/speech.mp3" {
		t.Errorf("safePath() = %q, want %q", got, "~/.avatar/runs/speech.mp3")
	}
}

type fakeProber struct {
	doctorFn func(ctx context.Context) (*Capabilities, error)
}

func (f *fakeProber) RunDoctor(ctx context.Context) (*Capabilities, error) {
	return f.doctorFn(ctx)
}
