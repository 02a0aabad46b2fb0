package speech

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/heimdex/avatar-agent/internal/apperr"
	"github.com/heimdex/avatar-agent/internal/pipelines"
)

// regionTLD picks the Google Translate domain whose accent matches a voice's region.
var regionTLD = map[string]string{
	"US": "com",
	"IN": "co.in",
	"GB": "co.uk",
	"AU": "com.au",
	"CA": "ca",
	"IE": "ie",
	"ZA": "co.za",
}

// GTTSEngine drives gtts-cli. It has no gendered voices, so it only follows
// the language and accent encoded in the requested voice id.
type GTTSEngine struct {
	inv     pipelines.Invoker
	bin     string
	timeout time.Duration
	logger  *slog.Logger
}

// NewGTTSEngine creates a GTTSEngine.
func NewGTTSEngine(inv pipelines.Invoker, bin string, timeout time.Duration, logger *slog.Logger) *GTTSEngine {
	return &GTTSEngine{inv: inv, bin: bin, timeout: timeout, logger: logger}
}

func (g *GTTSEngine) Name() string    { return pipelines.ToolGTTS }
func (g *GTTSEngine) Available() bool { return g.bin != "" }

// LangAndTLD splits a neural voice id such as en-IN-NeerjaNeural into the
// gTTS language ("en") and top-level domain ("co.in").
func LangAndTLD(voice string) (lang, tld string) {
	parts := strings.SplitN(voice, "-", 3)
	lang, tld = "en", "com"
	if len(parts) >= 1 && parts[0] != "" {
		lang = strings.ToLower(parts[0])
	}
	if len(parts) >= 2 {
		if t, ok := regionTLD[strings.ToUpper(parts[1])]; ok {
			tld = t
		}
	}
	return lang, tld
}

func (g *GTTSEngine) Synthesize(ctx context.Context, req Request) error {
	if !g.Available() {
		return ErrEngineUnavailable
	}
	lang, tld := LangAndTLD(req.Voice)

	res := g.inv.Invoke(ctx, pipelines.Command{
		Tool: pipelines.ToolGTTS,
		Path: g.bin,
		Args: []string{
			"--lang", lang,
			"--tld", tld,
			"--output", req.OutPath,
			"--", req.Text,
		},
		Timeout: g.timeout,
	})
	if !res.IsSuccess() {
		return apperr.ExternalTool(pipelines.ToolGTTS, "synthesize speech", res.Output, res.Failure())
	}
	if err := checkOutput(req.OutPath); err != nil {
		return apperr.ExternalTool(pipelines.ToolGTTS, "synthesize speech", res.Output, err)
	}
	g.logger.Debug("speech synthesized", "engine", g.Name(), "lang", lang, "tld", tld)
	return nil
}
