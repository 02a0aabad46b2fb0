// Package imaging holds the pixel and geometry operations used to turn a
// portrait photograph into a canonical, face-centred frame.
package imaging

import (
	"fmt"
	"image"
)

// DefaultMargin is the fraction of the face box added on each side before cropping.
const DefaultMargin = 0.45

// Box is a face bounding box in pixel coordinates, ordered the way face
// detectors report it: top, right, bottom, left. Right and Bottom are exclusive.
type Box struct {
	Top    int `json:"top"`
	Right  int `json:"right"`
	Bottom int `json:"bottom"`
	Left   int `json:"left"`
}

// BoxFromRect converts an image.Rectangle into a Box.
func BoxFromRect(r image.Rectangle) Box {
	return Box{Top: r.Min.Y, Right: r.Max.X, Bottom: r.Max.Y, Left: r.Min.X}
}

// Rect returns the box as an image.Rectangle.
func (b Box) Rect() image.Rectangle {
	return image.Rect(b.Left, b.Top, b.Right, b.Bottom)
}

func (b Box) Width() int  { return b.Right - b.Left }
func (b Box) Height() int { return b.Bottom - b.Top }
func (b Box) Area() int   { return b.Width() * b.Height() }

func (b Box) String() string {
	return fmt.Sprintf("[top=%d right=%d bottom=%d left=%d]", b.Top, b.Right, b.Bottom, b.Left)
}

// Valid reports whether the box is non-empty and lies inside bounds.
func (b Box) Valid(bounds image.Rectangle) bool {
	return bounds.Min.Y <= b.Top && b.Top < b.Bottom && b.Bottom <= bounds.Max.Y &&
		bounds.Min.X <= b.Left && b.Left < b.Right && b.Right <= bounds.Max.X
}

// Clip trims the box to bounds. Detectors may report boxes that extend
// slightly past the frame edge.
func (b Box) Clip(bounds image.Rectangle) Box {
	return Box{
		Top:    clamp(b.Top, bounds.Min.Y, bounds.Max.Y),
		Right:  clamp(b.Right, bounds.Min.X, bounds.Max.X),
		Bottom: clamp(b.Bottom, bounds.Min.Y, bounds.Max.Y),
		Left:   clamp(b.Left, bounds.Min.X, bounds.Max.X),
	}
}

// Expand grows the box by margin*height vertically and margin*width
// horizontally on each side, then clips it to bounds. The box is clipped
// before expansion, so a box that overlaps bounds always yields a non-empty
// result. A negative margin is treated as zero.
func (b Box) Expand(margin float64, bounds image.Rectangle) (Box, error) {
	c := b.Clip(bounds)
	if !c.Valid(bounds) {
		return Box{}, fmt.Errorf("face box %s does not overlap image %v", b, bounds)
	}
	if margin < 0 {
		margin = 0
	}

	dy := int(float64(c.Height()) * margin)
	dx := int(float64(c.Width()) * margin)

	return Box{
		Top:    c.Top - dy,
		Right:  c.Right + dx,
		Bottom: c.Bottom + dy,
		Left:   c.Left - dx,
	}.Clip(bounds), nil
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
