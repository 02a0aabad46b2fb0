package speech

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/heimdex/avatar-agent/internal/apperr"
	"github.com/heimdex/avatar-agent/internal/pipelines"
	"github.com/heimdex/avatar-agent/internal/pipelines/pipelinestest"
)

func silentLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// writeMedia simulates a TTS CLI writing audio to the path after flag.
func writeMedia(flag string) pipelinestest.HandlerFunc {
	return func(cmd pipelines.Command) pipelines.RunResult {
		os.WriteFile(pipelinestest.ArgAfter(cmd, flag), []byte("ID3fake-mp3"), 0644)
		return pipelines.RunResult{}
	}
}

func TestEdgeEngine_Command(t *testing.T) {
	fake := pipelinestest.New().On(pipelines.ToolEdgeTTS, writeMedia("--write-media"))
	e := NewEdgeEngine(fake, EdgeConfig{Binary: "edge-tts", Timeout: time.Minute}, silentLogger())

	out := filepath.Join(t.TempDir(), "speech.mp3")
	err := e.Synthesize(context.Background(), Request{Text: "Hello world", Voice: "en-US-JennyNeural", OutPath: out})
	if err != nil {
		t.Fatal(err)
	}

	call := fake.CallsTo(pipelines.ToolEdgeTTS)[0]
	if pipelinestest.ArgAfter(call, "--voice") != "en-US-JennyNeural" {
		t.Errorf("voice arg = %v", call.Args)
	}
	if pipelinestest.ArgAfter(call, "--text") != "Hello world" {
		t.Errorf("text arg = %v", call.Args)
	}
	if call.Timeout != time.Minute {
		t.Errorf("timeout = %v", call.Timeout)
	}
}

func TestEdgeEngine_FailureIsExternalTool(t *testing.T) {
	fake := pipelinestest.New().Fail(pipelines.ToolEdgeTTS, 1, "403 Forbidden")
	e := NewEdgeEngine(fake, EdgeConfig{Binary: "edge-tts"}, silentLogger())

	err := e.Synthesize(context.Background(), Request{Text: "x", Voice: "v", OutPath: filepath.Join(t.TempDir(), "s.mp3")})
	if apperr.KindOf(err) != apperr.KindExternalTool {
		t.Fatalf("kind = %v", apperr.KindOf(err))
	}
	if apperr.OutputOf(err) != "403 Forbidden" {
		t.Errorf("output = %q", apperr.OutputOf(err))
	}
}

func TestEdgeEngine_EmptyOutput(t *testing.T) {
	fake := pipelinestest.New() // exits 0 without writing
	e := NewEdgeEngine(fake, EdgeConfig{Binary: "edge-tts"}, silentLogger())

	err := e.Synthesize(context.Background(), Request{Text: "x", Voice: "v", OutPath: filepath.Join(t.TempDir(), "s.mp3")})
	if apperr.KindOf(err) != apperr.KindExternalTool {
		t.Errorf("missing output should be an external tool error, got %v", err)
	}
}

func TestLangAndTLD(t *testing.T) {
	tests := []struct {
		voice, lang, tld string
	}{
		{"en-IN-NeerjaNeural", "en", "co.in"},
		{"en-US-GuyNeural", "en", "com"},
		{"en-GB-SoniaNeural", "en", "co.uk"},
		{"fr-FR-DeniseNeural", "fr", "com"},
		{"", "en", "com"},
	}
	for _, tt := range tests {
		lang, tld := LangAndTLD(tt.voice)
		if lang != tt.lang || tld != tt.tld {
			t.Errorf("LangAndTLD(%q) = %s,%s want %s,%s", tt.voice, lang, tld, tt.lang, tt.tld)
		}
	}
}

type fakeEngine struct {
	name  string
	avail bool
	err   error
	calls atomic.Int32
}

func (f *fakeEngine) Name() string    { return f.name }
func (f *fakeEngine) Available() bool { return f.avail }
func (f *fakeEngine) Synthesize(ctx context.Context, req Request) error {
	f.calls.Add(1)
	if f.err != nil {
		return f.err
	}
	return os.WriteFile(req.OutPath, []byte("audio:"+f.name+":"+req.Text), 0644)
}

func TestFallbackEngine(t *testing.T) {
	out := filepath.Join(t.TempDir(), "s.mp3")
	req := Request{Text: "hi", Voice: "en-US-JennyNeural", OutPath: out}

	t.Run("primary ok", func(t *testing.T) {
		p := &fakeEngine{name: "edge", avail: true}
		s := &fakeEngine{name: "gtts", avail: true}
		if err := NewFallbackEngine(p, s, silentLogger()).Synthesize(context.Background(), req); err != nil {
			t.Fatal(err)
		}
		if s.calls.Load() != 0 {
			t.Error("fallback should not run")
		}
	})

	t.Run("primary fails", func(t *testing.T) {
		p := &fakeEngine{name: "edge", avail: true, err: apperr.ExternalTool("edge-tts", "synthesize speech", "", errors.New("exit 1"))}
		s := &fakeEngine{name: "gtts", avail: true}
		if err := NewFallbackEngine(p, s, silentLogger()).Synthesize(context.Background(), req); err != nil {
			t.Fatal(err)
		}
		data, _ := os.ReadFile(out)
		if string(data) != "audio:gtts:hi" {
			t.Errorf("output = %q, want fallback audio", data)
		}
	})

	t.Run("both fail", func(t *testing.T) {
		p := &fakeEngine{name: "edge", avail: true, err: apperr.ExternalTool("edge-tts", "synthesize speech", "", errors.New("exit 1"))}
		s := &fakeEngine{name: "gtts", avail: true, err: errors.New("gtts down")}
		err := NewFallbackEngine(p, s, silentLogger()).Synthesize(context.Background(), req)
		if apperr.KindOf(err) != apperr.KindExternalTool {
			t.Errorf("kind = %v, want primary's external_tool", apperr.KindOf(err))
		}
	})

	t.Run("primary unavailable", func(t *testing.T) {
		p := &fakeEngine{name: "edge"}
		s := &fakeEngine{name: "gtts", avail: true}
		if err := NewFallbackEngine(p, s, silentLogger()).Synthesize(context.Background(), req); err != nil {
			t.Fatal(err)
		}
		if p.calls.Load() != 0 {
			t.Error("unavailable primary should not be called")
		}
	})
}

func TestCachedEngine_HitSkipsInner(t *testing.T) {
	inner := &fakeEngine{name: "edge", avail: true}
	c, err := NewCachedEngine(inner, t.TempDir(), 0, silentLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	dir := t.TempDir()
	first := Request{Text: "Hello world", Voice: "en-US-GuyNeural", OutPath: filepath.Join(dir, "a.mp3")}
	second := first
	second.OutPath = filepath.Join(dir, "b.mp3")

	if err := c.Synthesize(context.Background(), first); err != nil {
		t.Fatal(err)
	}
	if err := c.Synthesize(context.Background(), second); err != nil {
		t.Fatal(err)
	}
	if inner.calls.Load() != 1 {
		t.Errorf("inner calls = %d, want 1", inner.calls.Load())
	}
	a, _ := os.ReadFile(first.OutPath)
	b, _ := os.ReadFile(second.OutPath)
	if string(a) != string(b) {
		t.Errorf("cached audio differs: %q vs %q", a, b)
	}

	other := Request{Text: "Hello world", Voice: "en-US-JennyNeural", OutPath: filepath.Join(dir, "c.mp3")}
	if c.Key(other) == c.Key(first) {
		t.Error("different voices must not share a key")
	}
}

func TestCachedEngine_OutputWriteFailureKeepsEntry(t *testing.T) {
	inner := &fakeEngine{name: "edge", avail: true}
	cacheDir := t.TempDir()
	c, err := NewCachedEngine(inner, cacheDir, 0, silentLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	req := Request{Text: "Hello world", Voice: "en-US-GuyNeural", OutPath: filepath.Join(t.TempDir(), "a.mp3")}
	if err := c.Synthesize(context.Background(), req); err != nil {
		t.Fatal(err)
	}
	entry := filepath.Join(cacheDir, c.Key(req)+cacheExt)

	bad := req
	bad.OutPath = filepath.Join(t.TempDir(), "missing", "a.mp3")
	if err := c.Synthesize(context.Background(), bad); err == nil {
		t.Fatal("writing into a missing directory succeeded")
	}
	if _, err := os.Stat(entry); err != nil {
		t.Fatalf("valid entry removed: %v", err)
	}
	if inner.calls.Load() != 1 {
		t.Errorf("inner calls = %d, want 1", inner.calls.Load())
	}
}

func TestCachedEngine_CorruptEntryRegenerates(t *testing.T) {
	inner := &fakeEngine{name: "edge", avail: true}
	cacheDir := t.TempDir()
	c, err := NewCachedEngine(inner, cacheDir, 0, silentLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	req := Request{Text: "Hi", Voice: "v", OutPath: filepath.Join(t.TempDir(), "a.mp3")}
	entry := filepath.Join(cacheDir, c.Key(req)+cacheExt)
	if err := os.WriteFile(entry, []byte("not zstd"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := c.Synthesize(context.Background(), req); err != nil {
		t.Fatal(err)
	}
	if inner.calls.Load() != 1 {
		t.Errorf("inner calls = %d, want 1", inner.calls.Load())
	}
	if _, err := c.load(entry); err != nil {
		t.Errorf("entry not replaced: %v", err)
	}
}

func TestCachedEngine_Evicts(t *testing.T) {
	inner := &fakeEngine{name: "edge", avail: true}
	cacheDir := t.TempDir()
	c, err := NewCachedEngine(inner, cacheDir, 1, silentLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	out := filepath.Join(t.TempDir(), "s.mp3")
	for _, text := range []string{"one", "two", "three"} {
		if err := c.Synthesize(context.Background(), Request{Text: text, Voice: "v", OutPath: out}); err != nil {
			t.Fatal(err)
		}
	}
	entries, _ := filepath.Glob(filepath.Join(cacheDir, "*"+cacheExt))
	if len(entries) > 1 {
		t.Errorf("cache holds %d entries, want eviction down to limit", len(entries))
	}
}
