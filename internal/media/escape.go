package media

import (
	"path/filepath"
	"runtime"
	"strings"
)

// EscapeSubtitlePath makes path safe to embed as the filename option of
// ffmpeg's subtitles filter. windows selects drive-letter/backslash handling;
// pass runtime.GOOS == "windows" in production.
//
// ffmpeg unescapes filter arguments twice: once when splitting the filter
// graph and once when parsing the filter's own options. Both levels are
// applied here, innermost first.
func EscapeSubtitlePath(path string, windows bool) string {
	if windows {
		path = strings.ReplaceAll(path, `\`, "/")
	}

	// option level: key=value pairs separated by ':'
	opt := strings.NewReplacer(`\`, `\\`, `'`, `\'`, `:`, `\:`).Replace(path)

	// graph level: filter chains separated by ',', ';' and '[...]' labels
	return strings.NewReplacer(
		`\`, `\\`,
		`'`, `\'`,
		`[`, `\[`,
		`]`, `\]`,
		`,`, `\,`,
		`;`, `\;`,
	).Replace(opt)
}

// SubtitlesFilter returns the -vf argument that burns path into the video.
func SubtitlesFilter(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	return "subtitles=filename=" + EscapeSubtitlePath(abs, runtime.GOOS == "windows"), nil
}
