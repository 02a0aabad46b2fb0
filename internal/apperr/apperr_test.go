package apperr

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindOf_Wrapped(t *testing.T) {
	base := Detection("locate", errors.New("no face detected"))
	wrapped := fmt.Errorf("stage portrait: %w", base)

	if got := KindOf(wrapped); got != KindDetection {
		t.Errorf("KindOf = %q, want %q", got, KindDetection)
	}
	if !errors.Is(wrapped, &Error{Kind: KindDetection}) {
		t.Error("errors.Is should match on kind")
	}
	if errors.Is(wrapped, &Error{Kind: KindInput}) {
		t.Error("errors.Is should not match a different kind")
	}
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, 0},
		{"input", Inputf("validate", "image %q not found", "x.png"), 2},
		{"detection", Detection("locate", nil), 3},
		{"external", ExternalTool("ffmpeg", "mux", "boom", errors.New("exit status 1")), 4},
		{"configuration", Configuration("preflight", nil), 5},
		{"plain", errors.New("whatever"), 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExitCode(tt.err); got != tt.want {
				t.Errorf("ExitCode = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestError_Message(t *testing.T) {
	err := ExternalTool("sadtalker", "synthesize", "Traceback...", errors.New("exit status 2"))
	want := "external_tool: synthesize (sadtalker): exit status 2"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
	if OutputOf(fmt.Errorf("wrap: %w", err)) != "Traceback..." {
		t.Error("OutputOf should surface captured output through wrapping")
	}
}
