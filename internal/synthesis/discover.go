package synthesis

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/heimdex/avatar-agent/internal/workspace"
)

// ErrNoVideo means the engine exited cleanly but wrote no recognisable video.
var ErrNoVideo = errors.New("no synthesized video found")

var videoExts = map[string]bool{
	".mp4":  true,
	".mov":  true,
	".mkv":  true,
	".webm": true,
	".avi":  true,
}

// FindVideo returns the lexicographically first video file directly in dir,
// ignoring the mux outputs. SadTalker nests results in a timestamped
// subdirectory on some versions, so when dir has none the search descends
// one level, visiting subdirectories in name order.
func FindVideo(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("read result dir: %w", err)
	}
	// ReadDir sorts by name.
	if v := firstVideo(dir, entries); v != "" {
		return v, nil
	}

	var subdirs []string
	for _, e := range entries {
		if e.IsDir() {
			subdirs = append(subdirs, e.Name())
		}
	}
	sort.Strings(subdirs)
	for _, name := range subdirs {
		sub := filepath.Join(dir, name)
		inner, err := os.ReadDir(sub)
		if err != nil {
			continue
		}
		if v := firstVideo(sub, inner); v != "" {
			return v, nil
		}
	}
	return "", fmt.Errorf("%w in %s", ErrNoVideo, dir)
}

func firstVideo(dir string, entries []os.DirEntry) string {
	for _, e := range entries {
		if !e.Type().IsRegular() || workspace.IsReserved(e.Name()) {
			continue
		}
		if videoExts[strings.ToLower(filepath.Ext(e.Name()))] {
			return filepath.Join(dir, e.Name())
		}
	}
	return ""
}
