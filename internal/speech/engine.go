// Package speech synthesizes the voice track for a render through external
// text-to-speech tools.
package speech

import (
	"context"
	"errors"
	"fmt"
	"os"
)

// AudioExt is the container every engine writes.
const AudioExt = "mp3"

// ErrEngineUnavailable is returned by engines whose binary is not configured.
var ErrEngineUnavailable = errors.New("speech engine is not available")

// Request is one synthesis call.
type Request struct {
	Text    string
	Voice   string // neural voice id, e.g. en-IN-NeerjaNeural
	OutPath string
}

// Engine turns text into an audio file.
type Engine interface {
	Name() string
	Available() bool
	Synthesize(ctx context.Context, req Request) error
}

// checkOutput verifies that an engine actually produced audio.
func checkOutput(path string) error {
	fi, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("no audio written: %w", err)
	}
	if fi.Size() == 0 {
		return errors.New("audio file is empty")
	}
	return nil
}
