package main

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"

	"github.com/heimdex/avatar-agent/internal/api"
	"github.com/heimdex/avatar-agent/internal/apperr"
	"github.com/heimdex/avatar-agent/internal/catalog"
	"github.com/heimdex/avatar-agent/internal/db"
	"github.com/heimdex/avatar-agent/internal/logging"
	"github.com/heimdex/avatar-agent/internal/media"
	"github.com/heimdex/avatar-agent/internal/pipelines"
)

func TestCaptionsFor(t *testing.T) {
	tests := []struct {
		name       string
		opts       renderOptions
		configured media.CaptionMode
		want       media.CaptionMode
		wantErr    bool
	}{
		{"off by default", renderOptions{}, media.CaptionBurned, media.CaptionNone, false},
		{"subtitles use configured mode", renderOptions{subtitles: true}, media.CaptionBurned, media.CaptionBurned, false},
		{"subtitles with none configured", renderOptions{subtitles: true}, media.CaptionNone, media.CaptionSoft, false},
		{"explicit mode wins", renderOptions{subtitles: true, captions: "none"}, media.CaptionSoft, media.CaptionNone, false},
		{"explicit burned", renderOptions{captions: "Burned"}, media.CaptionSoft, media.CaptionBurned, false},
		{"unknown mode", renderOptions{captions: "karaoke"}, media.CaptionSoft, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := captionsFor(tt.opts, tt.configured)
			if tt.wantErr {
				if apperr.KindOf(err) != apperr.KindInput {
					t.Fatalf("err = %v, want input error", err)
				}
				return
			}
			if err != nil || got != tt.want {
				t.Errorf("captionsFor = %q, %v; want %q", got, err, tt.want)
			}
		})
	}
}

func TestLoadConfig_FileAndFlagsOverrideEnv(t *testing.T) {
	defer viper.Reset()
	t.Setenv("AVATAR_PORT", "9000")
	t.Setenv("AVATAR_MARGIN", "0.3")
	t.Setenv("AVATAR_LOG_FORMAT", "")

	dir := t.TempDir()
	viper.Set("port", 9100)
	viper.Set("timeout_synthesis", "45m")
	viper.Set("data_dir", dir)

	cfg, err := loadConfig(logging.FormatText)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Port() != 9100 {
		t.Errorf("port = %d, want override", cfg.Port())
	}
	if cfg.Margin() != 0.3 {
		t.Errorf("margin = %v, want env value", cfg.Margin())
	}
	if cfg.TimeoutSynthesis() != 45*time.Minute {
		t.Errorf("synthesis timeout = %v", cfg.TimeoutSynthesis())
	}
	if cfg.LogFormat() != logging.FormatText {
		t.Errorf("log format = %q, want command default", cfg.LogFormat())
	}
	if cfg.WorkRoot() != filepath.Join(dir, "work") {
		t.Errorf("work root = %q", cfg.WorkRoot())
	}
}

func TestLoadConfig_InvalidIsConfigurationError(t *testing.T) {
	defer viper.Reset()
	viper.Set("captions", "karaoke")

	_, err := loadConfig(logging.FormatText)
	if apperr.ExitCode(err) != 5 {
		t.Fatalf("exit code = %d (%v), want 5", apperr.ExitCode(err), err)
	}
}

func openRepo(t *testing.T) catalog.Repository {
	t.Helper()
	d, err := db.New(filepath.Join(t.TempDir(), "avatar.db"), logging.Discard())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { d.Close() })
	return catalog.NewRepository(d.Conn())
}

func TestEnsureAuthToken(t *testing.T) {
	ctx := context.Background()
	repo := openRepo(t)

	first, err := ensureAuthToken(ctx, repo, "")
	if err != nil || len(first) != 64 {
		t.Fatalf("generated token = %q, %v", first, err)
	}
	again, _ := ensureAuthToken(ctx, repo, "")
	if again != first {
		t.Error("token should be stable across restarts")
	}

	fixed, err := ensureAuthToken(ctx, repo, "from-env")
	if err != nil || fixed != "from-env" {
		t.Fatalf("configured token = %q, %v", fixed, err)
	}
	if stored, _ := repo.GetConfig(ctx, api.AuthTokenKey); stored != "from-env" {
		t.Errorf("stored = %q, want configured token", stored)
	}
}

func TestEnsureDeviceID_Stable(t *testing.T) {
	ctx := context.Background()
	repo := openRepo(t)

	a, err := ensureDeviceID(ctx, repo)
	if err != nil {
		t.Fatal(err)
	}
	b, _ := ensureDeviceID(ctx, repo)
	if a != b || len(a) != 32 {
		t.Errorf("device ids %q, %q", a, b)
	}
}

func TestDoctorReport(t *testing.T) {
	caps := &pipelines.Capabilities{
		Tools: map[string]pipelines.ToolInfo{
			pipelines.ToolFFmpeg: {Available: true, Path: "/usr/bin/ffmpeg"},
			pipelines.ToolRembg:  {Error: "not configured"},
		},
		LibX264:  true,
		ProbedAt: time.Now(),
	}
	out := doctorReport(caps)
	for _, want := range []string{"1/2 tools found", "/usr/bin/ffmpeg", "not configured", "sadtalker"} {
		if !strings.Contains(out, want) {
			t.Errorf("report missing %q:\n%s", want, out)
		}
	}
}
