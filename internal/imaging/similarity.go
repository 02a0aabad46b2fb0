package imaging

import (
	"errors"
	"math"
)

// Point is a 2-D image coordinate.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Similarity is a 2-D transform made of rotation, uniform scale and
// translation:
//
//	x' = A*x - B*y + TX
//	y' = B*x + A*y + TY
//
// where A = s*cos(theta) and B = s*sin(theta).
type Similarity struct {
	A, B   float64
	TX, TY float64
}

// Identity is the transform that leaves every point unchanged.
var Identity = Similarity{A: 1}

// Apply maps p through the transform.
func (s Similarity) Apply(p Point) Point {
	return Point{
		X: s.A*p.X - s.B*p.Y + s.TX,
		Y: s.B*p.X + s.A*p.Y + s.TY,
	}
}

// Scale returns the uniform scale factor.
func (s Similarity) Scale() float64 { return math.Hypot(s.A, s.B) }

// Rotation returns the rotation angle in radians.
func (s Similarity) Rotation() float64 { return math.Atan2(s.B, s.A) }

// Inverse returns the transform that undoes s.
func (s Similarity) Inverse() (Similarity, error) {
	det := s.A*s.A + s.B*s.B
	if det == 0 {
		return Similarity{}, errors.New("similarity transform is degenerate")
	}
	a := s.A / det
	b := -s.B / det
	return Similarity{
		A:  a,
		B:  b,
		TX: -(a*s.TX - b*s.TY),
		TY: -(b*s.TX + a*s.TY),
	}, nil
}

// EstimateSimilarity returns the similarity transform mapping src onto dst
// with the least summed squared error. Reflections are not allowed.
func EstimateSimilarity(src, dst []Point) (Similarity, error) {
	if len(src) != len(dst) {
		return Similarity{}, errors.New("point sets differ in length")
	}
	if len(src) < 2 {
		return Similarity{}, errors.New("need at least two point pairs")
	}

	n := float64(len(src))
	var ms, md Point
	for i := range src {
		ms.X += src[i].X
		ms.Y += src[i].Y
		md.X += dst[i].X
		md.Y += dst[i].Y
	}
	ms.X /= n
	ms.Y /= n
	md.X /= n
	md.Y /= n

	var dot, cross, norm float64
	for i := range src {
		sx, sy := src[i].X-ms.X, src[i].Y-ms.Y
		dx, dy := dst[i].X-md.X, dst[i].Y-md.Y
		dot += sx*dx + sy*dy
		cross += sx*dy - sy*dx
		norm += sx*sx + sy*sy
	}
	if norm == 0 {
		return Similarity{}, errors.New("source points are coincident")
	}

	a := dot / norm
	b := cross / norm
	return Similarity{
		A:  a,
		B:  b,
		TX: md.X - (a*ms.X - b*ms.Y),
		TY: md.Y - (b*ms.X + a*ms.Y),
	}, nil
}

// arcFaceTemplate is the canonical five-point layout on a 112x112 frame:
// left eye, right eye, nose tip, left mouth corner, right mouth corner.
var arcFaceTemplate = [5]Point{
	{38.2946, 51.6963},
	{73.5318, 51.5014},
	{56.0252, 71.7366},
	{41.5493, 92.3655},
	{70.7299, 92.2041},
}

// CanonicalPoints returns the five-point template scaled to a size x size frame.
func CanonicalPoints(size int) []Point {
	f := float64(size) / 112.0
	out := make([]Point, len(arcFaceTemplate))
	for i, p := range arcFaceTemplate {
		out[i] = Point{X: p.X * f, Y: p.Y * f}
	}
	return out
}

// Indices of the five reference points inside the 68-point landmark layout.
var referenceLandmarks = [5]int{36, 45, 30, 48, 54}

// ReferencePoints picks the outer eye corners, nose tip and mouth corners
// from a 68-point landmark set.
func ReferencePoints(landmarks []Point) ([]Point, error) {
	if len(landmarks) < 68 {
		return nil, errors.New("landmark set has fewer than 68 points")
	}
	out := make([]Point, len(referenceLandmarks))
	for i, idx := range referenceLandmarks {
		out[i] = landmarks[idx]
	}
	return out, nil
}
