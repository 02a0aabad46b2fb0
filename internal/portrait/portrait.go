// Package portrait turns a photograph into the canonical 512x512 portrait the
// video synthesis engine animates: face located, optionally aligned,
// margin-cropped, matted and composited onto a neutral grey canvas.
package portrait

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"path/filepath"

	"github.com/heimdex/avatar-agent/internal/apperr"
	"github.com/heimdex/avatar-agent/internal/imaging"
)

// FileName is the name of the processed portrait inside a workspace.
const FileName = "processed_face.png"

// ErrNoFace is wrapped by every DetectionError this package returns.
var ErrNoFace = errors.New("no face detected")

// Locator finds faces. Boxes are in detector order.
type Locator interface {
	Locate(ctx context.Context, img image.Image) ([]imaging.Box, error)
}

// LandmarkDetector returns 68-point facial landmarks, or ok=false when none
// can be found.
type LandmarkDetector interface {
	Landmarks(ctx context.Context, img image.Image) (pts []imaging.Point, ok bool, err error)
}

// Matter estimates a foreground alpha channel.
type Matter interface {
	Matte(ctx context.Context, img image.Image) (*image.NRGBA, error)
}

// Preprocessor composes locate, align and composite.
type Preprocessor struct {
	locator Locator
	aligner *Aligner
	matter  Matter
	logger  *slog.Logger
}

// NewPreprocessor creates a Preprocessor. landmarks may be nil when alignment
// will never be requested.
func NewPreprocessor(locator Locator, landmarks LandmarkDetector, matter Matter, logger *slog.Logger) *Preprocessor {
	return &Preprocessor{
		locator: locator,
		aligner: NewAligner(landmarks, imaging.CanvasSize, logger),
		matter:  matter,
		logger:  logger,
	}
}

// Result describes one preprocessing run.
type Result struct {
	Path       string
	Face       imaging.Box // face box in the frame that was cropped
	Crop       imaging.Box // margin-expanded crop region
	Aligned    bool
	FellBack   bool // alignment used the centre-square fallback
	FacesFound int
}

// Preprocess writes <workDir>/processed_face.png from the image at imagePath.
// With alignEnabled the face is located on the original image, the image is
// aligned, and the face is located again on the aligned frame before cropping.
func (p *Preprocessor) Preprocess(ctx context.Context, imagePath, workDir string, alignEnabled bool, margin float64) (*Result, error) {
	img, _, err := imaging.Decode(imagePath)
	if err != nil {
		return nil, apperr.Input("load portrait", err)
	}
	return p.PreprocessImage(ctx, img, workDir, alignEnabled, margin)
}

// CheckFace locates faces on img without writing anything and returns how
// many were found. It fails with a DetectionError when there are none.
func (p *Preprocessor) CheckFace(ctx context.Context, img image.Image) (int, error) {
	_, n, err := p.locate(ctx, img, "detect face")
	return n, err
}

// PreprocessImage is Preprocess for an already decoded image.
func (p *Preprocessor) PreprocessImage(ctx context.Context, img image.Image, workDir string, alignEnabled bool, margin float64) (*Result, error) {
	res := &Result{Path: filepath.Join(workDir, FileName)}

	face, n, err := p.locate(ctx, img, "locate face")
	if err != nil {
		return nil, err
	}
	res.FacesFound = n

	frame := img
	if alignEnabled {
		aligned, fellBack, err := p.aligner.Align(ctx, img)
		if err != nil {
			return nil, err
		}
		frame = aligned
		res.Aligned = true
		res.FellBack = fellBack

		face, _, err = p.locate(ctx, frame, "locate face after alignment")
		if err != nil {
			return nil, err
		}
	}
	res.Face = face

	crop, err := face.Expand(margin, frame.Bounds())
	if err != nil {
		return nil, apperr.Detection("crop face", err)
	}
	res.Crop = crop

	out, err := p.composite(ctx, imaging.Crop(frame, crop.Rect()))
	if err != nil {
		return nil, err
	}
	if err := imaging.SavePNG(res.Path, out); err != nil {
		return nil, fmt.Errorf("save portrait: %w", err)
	}

	p.logger.Info("portrait processed",
		"faces", n,
		"face", face.String(),
		"crop", crop.String(),
		"aligned", res.Aligned,
		"fallback", res.FellBack,
	)
	return res, nil
}

func (p *Preprocessor) locate(ctx context.Context, img image.Image, op string) (imaging.Box, int, error) {
	boxes, err := p.locator.Locate(ctx, img)
	if err != nil {
		return imaging.Box{}, 0, err
	}

	var valid []imaging.Box
	for _, b := range boxes {
		if c := b.Clip(img.Bounds()); c.Valid(img.Bounds()) {
			valid = append(valid, c)
		}
	}
	if len(valid) == 0 {
		return imaging.Box{}, 0, apperr.Detection(op, ErrNoFace)
	}
	if len(valid) > 1 {
		p.logger.Warn("multiple faces detected, using the first reported", "faces", len(valid))
	}
	return valid[0], len(valid), nil
}

// composite mattes crop and flattens it onto the neutral canvas at CanvasSize.
func (p *Preprocessor) composite(ctx context.Context, crop image.Image) (*image.RGBA, error) {
	fg, err := p.matter.Matte(ctx, crop)
	if err != nil {
		return nil, err
	}
	flat := imaging.Composite(fg, imaging.Neutral)
	return imaging.Resize(flat, imaging.CanvasSize, imaging.CanvasSize), nil
}
