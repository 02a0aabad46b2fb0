//go:build dlib

package vision

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"sync"

	"github.com/Kagami/go-face"

	"github.com/heimdex/avatar-agent/internal/imaging"
)

// DlibLocator detects faces in-process with dlib. The recognizer loads its
// models from modelsDir on first use and is reused for the process lifetime.
type DlibLocator struct {
	modelsDir string

	once sync.Once
	rec  *face.Recognizer
	err  error
	mu   sync.Mutex // dlib recognizers are not safe for concurrent use
}

// NewDlibLocator returns a locator backed by the dlib models in modelsDir.
func NewDlibLocator(modelsDir string) (*DlibLocator, error) {
	return &DlibLocator{modelsDir: modelsDir}, nil
}

func (d *DlibLocator) recognizer() (*face.Recognizer, error) {
	d.once.Do(func() {
		d.rec, d.err = face.NewRecognizer(d.modelsDir)
		if d.err != nil {
			d.err = fmt.Errorf("load dlib models from %s: %w", d.modelsDir, d.err)
		}
	})
	return d.rec, d.err
}

func (d *DlibLocator) Locate(ctx context.Context, img image.Image) ([]imaging.Box, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rec, err := d.recognizer()
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 95}); err != nil {
		return nil, err
	}

	d.mu.Lock()
	faces, err := rec.Recognize(buf.Bytes())
	d.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("dlib detect: %w", err)
	}

	origin := img.Bounds().Min
	boxes := make([]imaging.Box, 0, len(faces))
	for _, f := range faces {
		boxes = append(boxes, imaging.BoxFromRect(f.Rectangle.Add(origin)))
	}
	return boxes, nil
}

// Close frees the dlib recognizer.
func (d *DlibLocator) Close() error {
	if d.rec != nil {
		d.rec.Close()
	}
	return nil
}
