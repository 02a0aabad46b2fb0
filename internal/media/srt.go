package media

import (
	"context"
	"fmt"
	"math"
	"os"
	"strings"
)

// Cue is one timed caption.
type Cue struct {
	Start float64 // seconds
	End   float64 // seconds
	Text  string
}

// FormatTimestamp renders seconds as HH:MM:SS,mmm, rounded to the nearest
// millisecond. Negative values clamp to zero.
func FormatTimestamp(seconds float64) string {
	if seconds < 0 || math.IsNaN(seconds) {
		seconds = 0
	}
	ms := int64(math.Round(seconds * 1000))
	h := ms / 3_600_000
	ms %= 3_600_000
	m := ms / 60_000
	ms %= 60_000
	s := ms / 1000
	ms %= 1000
	return fmt.Sprintf("%02d:%02d:%02d,%03d", h, m, s, ms)
}

// RenderSRT serialises cues as SubRip text. Each block ends with a blank line.
func RenderSRT(cues []Cue) string {
	var b strings.Builder
	for i, c := range cues {
		fmt.Fprintf(&b, "%d\n%s --> %s\n%s\n\n", i+1, FormatTimestamp(c.Start), FormatTimestamp(c.End), c.Text)
	}
	return b.String()
}

// BuildSRT returns the single cue spanning [0, duration] with text verbatim.
func BuildSRT(text string, duration float64) string {
	return RenderSRT([]Cue{{Start: 0, End: duration, Text: text}})
}

// SubtitleBuilder writes the caption file for a synthesized voice track.
type SubtitleBuilder struct {
	prober *Prober
}

// NewSubtitleBuilder creates a SubtitleBuilder that measures audio with prober.
func NewSubtitleBuilder(prober *Prober) *SubtitleBuilder {
	return &SubtitleBuilder{prober: prober}
}

// Write probes audioPath and writes one cue covering its full duration to outPath.
func (b *SubtitleBuilder) Write(ctx context.Context, audioPath, text, outPath string) (Cue, error) {
	d, err := b.prober.Duration(ctx, audioPath)
	if err != nil {
		return Cue{}, err
	}
	cue := Cue{Start: 0, End: d, Text: text}
	if err := os.WriteFile(outPath, []byte(RenderSRT([]Cue{cue})), 0644); err != nil {
		return Cue{}, fmt.Errorf("write subtitles: %w", err)
	}
	return cue, nil
}
