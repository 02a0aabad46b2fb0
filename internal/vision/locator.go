package vision

import (
	"context"
	"image"

	"github.com/heimdex/avatar-agent/internal/apperr"
	"github.com/heimdex/avatar-agent/internal/imaging"
)

const helperTool = "vision-helper"

// HelperLocator detects faces with face_recognition's HOG detector inside
// the shared helper process.
type HelperLocator struct {
	models *Models
}

func NewHelperLocator(m *Models) *HelperLocator { return &HelperLocator{models: m} }

// Locate returns every face the detector reports, in detector order, with
// boxes shifted into img's coordinate space.
func (l *HelperLocator) Locate(ctx context.Context, img image.Image) ([]imaging.Box, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	req := newFrameRequest("locate", img)
	req.Model = "hog"

	var resp struct {
		Boxes [][4]int `json:"boxes"`
	}
	if err := l.models.call(ctx, req, &resp); err != nil {
		return nil, apperr.ExternalTool(helperTool, "locate face", l.models.stderr(), err)
	}

	origin := img.Bounds().Min
	boxes := make([]imaging.Box, 0, len(resp.Boxes))
	for _, b := range resp.Boxes {
		// face_recognition order: top, right, bottom, left
		boxes = append(boxes, imaging.Box{
			Top:    b[0] + origin.Y,
			Right:  b[1] + origin.X,
			Bottom: b[2] + origin.Y,
			Left:   b[3] + origin.X,
		})
	}
	return boxes, nil
}

// HelperLandmarks runs the 2-D face_alignment landmark model inside the
// shared helper process.
type HelperLandmarks struct {
	models *Models
}

func NewHelperLandmarks(m *Models) *HelperLandmarks { return &HelperLandmarks{models: m} }

// Landmarks returns the 68 points of the first detected face, or ok=false
// when the model finds none.
func (l *HelperLandmarks) Landmarks(ctx context.Context, img image.Image) ([]imaging.Point, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	req := newFrameRequest("landmarks", img)
	req.Device = l.models.device

	var resp struct {
		Points [][2]float64 `json:"points"`
	}
	if err := l.models.call(ctx, req, &resp); err != nil {
		return nil, false, apperr.ExternalTool(helperTool, "detect landmarks", l.models.stderr(), err)
	}
	if len(resp.Points) == 0 {
		return nil, false, nil
	}

	origin := img.Bounds().Min
	pts := make([]imaging.Point, len(resp.Points))
	for i, p := range resp.Points {
		pts[i] = imaging.Point{X: p[0] + float64(origin.X), Y: p[1] + float64(origin.Y)}
	}
	return pts, true, nil
}

func (m *Models) stderr() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.worker == nil {
		return ""
	}
	return m.worker.Stderr()
}
