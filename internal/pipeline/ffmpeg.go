package pipeline

import (
	"context"
	"image"

	"github.com/heimdex/avatar-agent/internal/media"
	"github.com/heimdex/avatar-agent/internal/pipelines"
	"github.com/heimdex/avatar-agent/internal/portrait"
	"github.com/heimdex/avatar-agent/internal/speech"
)

// The narrow views of each stage the orchestrator depends on. The concrete
// types live in their own packages; tests substitute fakes.

// Speaker is satisfied by every speech.Engine.
type Speaker interface {
	Name() string
	Synthesize(ctx context.Context, req speech.Request) error
}

// PortraitProcessor is satisfied by *portrait.Preprocessor.
type PortraitProcessor interface {
	CheckFace(ctx context.Context, img image.Image) (int, error)
	PreprocessImage(ctx context.Context, img image.Image, workDir string, alignEnabled bool, margin float64) (*portrait.Result, error)
}

// Synthesizer is satisfied by *synthesis.Invoker.
type Synthesizer interface {
	Synthesize(ctx context.Context, image, audio, resultDir string) (string, error)
}

// SubtitleWriter is satisfied by *media.SubtitleBuilder.
type SubtitleWriter interface {
	Write(ctx context.Context, audioPath, text, outPath string) (media.Cue, error)
}

// Muxer is satisfied by *media.Muxer.
type Muxer interface {
	Mux(ctx context.Context, req media.MuxRequest) error
}

// CapabilityChecker is satisfied by *pipelines.CachedDoctor.
type CapabilityChecker interface {
	Get(ctx context.Context) (*pipelines.Capabilities, error)
}
