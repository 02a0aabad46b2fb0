// Package workspace allocates the per-run directory that holds every
// intermediate and final artifact of one render.
package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

const (
	prefix = "tmp_"

	speechBase    = "speech"
	subtitlesName = "speech.srt"
	portraitName  = "processed_face.png"
	videoDir      = "video"
	finalName     = "final.mp4"
	partialName   = "final.partial.mp4"
)

// ErrExists is returned when a freshly generated name is already taken.
var ErrExists = errors.New("workspace already exists")

// Workspace is one run's directory:
//
//	<root>/tmp_<hex>/
//	  speech.<ext>
//	  speech.srt          (captions only)
//	  processed_face.png
//	  video/
//	    <engine>.mp4
//	    final.mp4
type Workspace struct {
	id   string
	path string
}

// New creates a uniquely named workspace under root. The directory is made
// with Mkdir, never MkdirAll, so an existing directory is never reused.
func New(root string) (*Workspace, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("cannot create workspace root: %w", err)
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}

	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	path := filepath.Join(abs, prefix+id)
	if err := os.Mkdir(path, 0755); err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("%w: %s", ErrExists, path)
		}
		return nil, fmt.Errorf("cannot create workspace: %w", err)
	}
	if err := os.Mkdir(filepath.Join(path, videoDir), 0755); err != nil {
		os.RemoveAll(path)
		return nil, fmt.Errorf("cannot create video dir: %w", err)
	}

	return &Workspace{id: id, path: path}, nil
}

// Open wraps an existing workspace directory, e.g. one recorded in the job catalog.
func Open(path string) (*Workspace, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !fi.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", path)
	}
	return &Workspace{id: strings.TrimPrefix(filepath.Base(path), prefix), path: path}, nil
}

func (w *Workspace) ID() string   { return w.id }
func (w *Workspace) Path() string { return w.path }

// Speech returns the synthesized voice track path for the given extension.
func (w *Workspace) Speech(ext string) string {
	return filepath.Join(w.path, speechBase+"."+strings.TrimPrefix(ext, "."))
}

func (w *Workspace) Subtitles() string    { return filepath.Join(w.path, subtitlesName) }
func (w *Workspace) Portrait() string     { return filepath.Join(w.path, portraitName) }
func (w *Workspace) VideoDir() string     { return filepath.Join(w.path, videoDir) }
func (w *Workspace) Final() string        { return filepath.Join(w.path, videoDir, finalName) }
func (w *Workspace) PartialFinal() string { return filepath.Join(w.path, videoDir, partialName) }

// IsReserved reports whether name is one of the mux outputs, which must not
// be mistaken for the synthesis engine's result.
func IsReserved(name string) bool {
	return name == finalName || name == partialName
}

// Remove deletes the workspace and everything in it.
func (w *Workspace) Remove() error {
	return os.RemoveAll(w.path)
}
