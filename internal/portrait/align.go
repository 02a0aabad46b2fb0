package portrait

import (
	"context"
	"errors"
	"image"
	"log/slog"

	"github.com/heimdex/avatar-agent/internal/imaging"
)

// Aligner warps a portrait so the eyes, nose and mouth land on fixed
// canonical positions.
type Aligner struct {
	landmarks LandmarkDetector
	size      int
	logger    *slog.Logger
}

func NewAligner(landmarks LandmarkDetector, size int, logger *slog.Logger) *Aligner {
	return &Aligner{landmarks: landmarks, size: size, logger: logger}
}

// Align returns a size x size frame. When no usable landmarks exist it
// returns the resized centre square and fellBack=true; that is not an error.
func (a *Aligner) Align(ctx context.Context, img image.Image) (out *image.RGBA, fellBack bool, err error) {
	if a.landmarks == nil {
		return nil, false, errors.New("alignment requested without a landmark model")
	}

	pts, ok, err := a.landmarks.Landmarks(ctx, img)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		a.logger.Warn("no landmarks found, falling back to centre crop")
		return a.fallback(img), true, nil
	}

	ref, err := imaging.ReferencePoints(pts)
	if err != nil {
		a.logger.Warn("landmark set unusable, falling back to centre crop", "points", len(pts), "error", err)
		return a.fallback(img), true, nil
	}

	// points are relative to img's origin for the warp
	origin := img.Bounds().Min
	for i := range ref {
		ref[i].X -= float64(origin.X)
		ref[i].Y -= float64(origin.Y)
	}

	t, err := imaging.EstimateSimilarity(ref, imaging.CanonicalPoints(a.size))
	if err != nil {
		a.logger.Warn("alignment transform degenerate, falling back to centre crop", "error", err)
		return a.fallback(img), true, nil
	}

	warped, err := imaging.WarpSimilarity(img, t, a.size)
	if err != nil {
		return a.fallback(img), true, nil
	}
	a.logger.Debug("portrait aligned", "scale", t.Scale(), "rotation_rad", t.Rotation())
	return warped, false, nil
}

func (a *Aligner) fallback(img image.Image) *image.RGBA {
	sq := imaging.Crop(img, imaging.CenterSquare(img))
	return imaging.Resize(sq, a.size, a.size)
}
