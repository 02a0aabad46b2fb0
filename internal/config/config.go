// Package config provides configuration management for the avatar agent.
// Configuration is loaded from AVATAR_* environment variables with sensible
// defaults; the CLI layers a config file and flags on top through NewWithOverrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/mitchellh/go-homedir"
	gap "github.com/muesli/go-app-paths"

	"github.com/heimdex/avatar-agent/internal/apperr"
	"github.com/heimdex/avatar-agent/internal/media"
	"github.com/heimdex/avatar-agent/internal/pipelines"
)

const (
	// AppName scopes the per-user data and config directories.
	AppName = "avatar-agent"

	// EnvPrefix is prepended to every variable name below.
	EnvPrefix = "AVATAR_"

	// Database filename
	DBFilename = "avatar.db"

	DefaultDataDir = ".avatar-agent"
)

// Config defines the application configuration interface
type Config interface {
	Port() int
	LogLevel() string
	LogFormat() string
	APIToken() string
	DataDir() string
	DBPath() string
	WorkRoot() string
	InboxDir() string
	Headless() bool

	SpeechCacheEnabled() bool
	CacheDir() string
	CacheMaxBytes() int64
	EdgeRequestsPerMinute() int

	Python() string
	VisionDevice() string
	DlibModelsDir() string
	Tools() pipelines.Tools
	SadTalkerPython() string
	SadTalkerCheckpoints() string
	SadTalkerEnhancer() string

	AlignEnabled() bool
	CaptionMode() media.CaptionMode
	Margin() float64
	KeepFailedWorkspace() bool

	TimeoutTTS() time.Duration
	TimeoutMatting() time.Duration
	TimeoutHelper() time.Duration
	TimeoutSynthesis() time.Duration
	TimeoutMux() time.Duration
	TimeoutProbe() time.Duration
	TimeoutDoctor() time.Duration
}

// settings is the raw environment, parsed with EnvPrefix applied.
type settings struct {
	Port      int    `env:"PORT" envDefault:"8787"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`
	APIToken  string `env:"API_TOKEN"`
	DataDir   string `env:"DATA_DIR"`
	WorkRoot  string `env:"WORK_ROOT"`
	InboxDir  string `env:"INBOX_DIR"`
	Headless  bool   `env:"HEADLESS"`

	SpeechCache         bool  `env:"SPEECH_CACHE" envDefault:"true"`
	SpeechCacheMaxBytes int64 `env:"SPEECH_CACHE_MAX_BYTES" envDefault:"268435456"`
	EdgeRPM             int   `env:"EDGE_TTS_RPM" envDefault:"30"`

	Python               string `env:"PYTHON"`
	VisionDevice         string `env:"VISION_DEVICE" envDefault:"cpu"`
	DlibModels           string `env:"DLIB_MODELS"`
	SadTalkerDir         string `env:"SADTALKER_DIR"`
	SadTalkerPython      string `env:"SADTALKER_PYTHON"`
	SadTalkerCheckpoints string `env:"SADTALKER_CHECKPOINTS" envDefault:"checkpoints"`
	SadTalkerEnhancer    string `env:"SADTALKER_ENHANCER" envDefault:"gfpgan"`
	FFmpeg               string `env:"FFMPEG" envDefault:"ffmpeg"`
	FFprobe              string `env:"FFPROBE" envDefault:"ffprobe"`
	EdgeTTS              string `env:"EDGE_TTS" envDefault:"edge-tts"`
	GTTS                 string `env:"GTTS" envDefault:"gtts-cli"`
	Rembg                string `env:"REMBG" envDefault:"rembg"`

	Align      bool    `env:"ALIGN"`
	Captions   string  `env:"CAPTIONS" envDefault:"soft"`
	Margin     float64 `env:"MARGIN" envDefault:"0.45"`
	KeepFailed bool    `env:"KEEP_FAILED_WORKSPACE"`

	TimeoutTTS       time.Duration `env:"TIMEOUT_TTS" envDefault:"2m"`
	TimeoutMatting   time.Duration `env:"TIMEOUT_MATTING" envDefault:"3m"`
	TimeoutHelper    time.Duration `env:"TIMEOUT_HELPER" envDefault:"5m"`
	TimeoutSynthesis time.Duration `env:"TIMEOUT_SYNTHESIS" envDefault:"30m"`
	TimeoutMux       time.Duration `env:"TIMEOUT_MUX" envDefault:"10m"`
	TimeoutProbe     time.Duration `env:"TIMEOUT_PROBE" envDefault:"30s"`
	TimeoutDoctor    time.Duration `env:"TIMEOUT_DOCTOR" envDefault:"30s"`
}

// EnvConfig reads configuration from environment variables
type EnvConfig struct {
	s       settings
	caption media.CaptionMode
}

// New creates a new EnvConfig with defaults and environment variable overrides
func New() (*EnvConfig, error) {
	return NewWithOverrides(nil)
}

// NewWithOverrides is New with extra variables that take precedence over the
// process environment. Keys omit EnvPrefix, e.g. "PORT".
func NewWithOverrides(overrides map[string]string) (*EnvConfig, error) {
	environ := env.ToMap(os.Environ())
	for k, v := range overrides {
		environ[EnvPrefix+k] = v
	}

	var s settings
	if err := env.ParseWithOptions(&s, env.Options{Prefix: EnvPrefix, Environment: environ}); err != nil {
		return nil, apperr.Configuration("parse environment", err)
	}

	cfg := &EnvConfig{s: s}
	if err := cfg.finalize(); err != nil {
		return nil, apperr.Configuration("validate config", err)
	}
	return cfg, nil
}

func (c *EnvConfig) finalize() error {
	if c.s.Port < 1 || c.s.Port > 65535 {
		return fmt.Errorf("invalid %sPORT: port must be between 1 and 65535", EnvPrefix)
	}
	if c.s.Margin <= 0 || c.s.Margin > 4 {
		return fmt.Errorf("invalid %sMARGIN %v: must be in (0, 4]", EnvPrefix, c.s.Margin)
	}
	mode, err := media.ParseCaptionMode(c.s.Captions)
	if err != nil {
		return fmt.Errorf("invalid %sCAPTIONS: %w", EnvPrefix, err)
	}
	c.caption = mode

	if c.s.DataDir == "" {
		c.s.DataDir = defaultDataDir()
	}
	for _, p := range []*string{&c.s.DataDir, &c.s.WorkRoot, &c.s.InboxDir, &c.s.SadTalkerDir} {
		if *p == "" {
			continue
		}
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return err
		}
		*p = expanded
	}
	if c.s.WorkRoot == "" {
		c.s.WorkRoot = filepath.Join(c.s.DataDir, "work")
	}
	if c.s.InboxDir == "" {
		c.s.InboxDir = filepath.Join(c.s.DataDir, "inbox")
	}

	if c.s.Python == "" {
		// a missing interpreter is reported by the doctor, not here
		c.s.Python = "python3"
		if p, err := pipelines.ResolvePython(""); err == nil {
			c.s.Python = p
		}
	}
	if c.s.SadTalkerPython == "" {
		c.s.SadTalkerPython = c.s.Python
	}
	if c.s.EdgeRPM < 0 {
		return errors.New("edge-tts requests per minute must not be negative")
	}
	return nil
}

// Port returns the HTTP server port
func (c *EnvConfig) Port() int { return c.s.Port }

// LogLevel returns the log level (debug, info, warn, error)
func (c *EnvConfig) LogLevel() string { return c.s.LogLevel }

// LogFormat returns json or text
func (c *EnvConfig) LogFormat() string { return strings.ToLower(c.s.LogFormat) }

// APIToken, when set, replaces the generated bearer token of the HTTP API.
func (c *EnvConfig) APIToken() string { return c.s.APIToken }

// DataDir returns the data directory path
func (c *EnvConfig) DataDir() string { return c.s.DataDir }

// DBPath returns the full path to the SQLite database file
func (c *EnvConfig) DBPath() string { return filepath.Join(c.s.DataDir, DBFilename) }

// WorkRoot is where render workspaces are created.
func (c *EnvConfig) WorkRoot() string { return c.s.WorkRoot }

func (c *EnvConfig) InboxDir() string { return c.s.InboxDir }
func (c *EnvConfig) Headless() bool   { return c.s.Headless }

func (c *EnvConfig) SpeechCacheEnabled() bool { return c.s.SpeechCache }

// CacheDir returns the speech cache directory path
func (c *EnvConfig) CacheDir() string { return filepath.Join(c.s.DataDir, "cache", "speech") }

// CacheMaxBytes returns the maximum cache size in bytes
func (c *EnvConfig) CacheMaxBytes() int64 { return c.s.SpeechCacheMaxBytes }

func (c *EnvConfig) EdgeRequestsPerMinute() int { return c.s.EdgeRPM }

func (c *EnvConfig) Python() string       { return c.s.Python }
func (c *EnvConfig) VisionDevice() string { return c.s.VisionDevice }

// DlibModelsDir selects the in-process dlib locator when set.
func (c *EnvConfig) DlibModelsDir() string { return c.s.DlibModels }

// Tools returns the external executables the doctor probes.
func (c *EnvConfig) Tools() pipelines.Tools {
	return pipelines.Tools{
		FFmpeg:       c.s.FFmpeg,
		FFprobe:      c.s.FFprobe,
		EdgeTTS:      c.s.EdgeTTS,
		GTTS:         c.s.GTTS,
		Rembg:        c.s.Rembg,
		Python:       c.s.Python,
		SadTalkerDir: c.s.SadTalkerDir,
	}
}

func (c *EnvConfig) SadTalkerPython() string      { return c.s.SadTalkerPython }
func (c *EnvConfig) SadTalkerCheckpoints() string { return c.s.SadTalkerCheckpoints }
func (c *EnvConfig) SadTalkerEnhancer() string    { return c.s.SadTalkerEnhancer }

func (c *EnvConfig) AlignEnabled() bool             { return c.s.Align }
func (c *EnvConfig) CaptionMode() media.CaptionMode { return c.caption }
func (c *EnvConfig) Margin() float64                { return c.s.Margin }
func (c *EnvConfig) KeepFailedWorkspace() bool      { return c.s.KeepFailed }

func (c *EnvConfig) TimeoutTTS() time.Duration       { return c.s.TimeoutTTS }
func (c *EnvConfig) TimeoutMatting() time.Duration   { return c.s.TimeoutMatting }
func (c *EnvConfig) TimeoutHelper() time.Duration    { return c.s.TimeoutHelper }
func (c *EnvConfig) TimeoutSynthesis() time.Duration { return c.s.TimeoutSynthesis }
func (c *EnvConfig) TimeoutMux() time.Duration       { return c.s.TimeoutMux }
func (c *EnvConfig) TimeoutProbe() time.Duration     { return c.s.TimeoutProbe }
func (c *EnvConfig) TimeoutDoctor() time.Duration    { return c.s.TimeoutDoctor }

// ConfigDirs lists where the CLI looks for avatar.yaml, most specific first.
func ConfigDirs() []string {
	var dirs []string
	if c := os.Getenv(EnvPrefix + "CONFIG_HOME"); c != "" {
		dirs = append(dirs, c)
	}
	if found, err := gap.NewScope(gap.User, AppName).ConfigDirs(); err == nil {
		dirs = append(dirs, found...)
	}
	return append(dirs, ".")
}

// defaultDataDir returns the default data directory path
func defaultDataDir() string {
	if dirs, err := gap.NewScope(gap.User, AppName).DataDirs(); err == nil && len(dirs) > 0 {
		return dirs[0]
	}
	home, err := homedir.Dir()
	if err != nil {
		// Fallback to current directory if home is not available
		return DefaultDataDir
	}
	return filepath.Join(home, DefaultDataDir)
}

// Version information (set at build time via ldflags)
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)
