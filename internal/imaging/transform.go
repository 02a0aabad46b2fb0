package imaging

import (
	"image"
	"image/color"
	"image/draw"
	"math"

	xdraw "golang.org/x/image/draw"
)

// CanvasSize is the edge length of every canonical portrait.
const CanvasSize = 512

// WarpSimilarity renders a size x size frame in which each output pixel p is
// sampled bilinearly from src at t.Inverse().Apply(p). Samples that fall
// outside src are black.
func WarpSimilarity(src image.Image, t Similarity, size int) (*image.RGBA, error) {
	inv, err := t.Inverse()
	if err != nil {
		return nil, err
	}

	rgba := ToRGBA(src)
	b := rgba.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, size, size))

	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			p := inv.Apply(Point{X: float64(x), Y: float64(y)})
			c := bilinear(rgba, b, p.X+float64(b.Min.X), p.Y+float64(b.Min.Y))
			i := out.PixOffset(x, y)
			out.Pix[i+0] = c.R
			out.Pix[i+1] = c.G
			out.Pix[i+2] = c.B
			out.Pix[i+3] = 0xff
		}
	}
	return out, nil
}

func bilinear(img *image.RGBA, b image.Rectangle, fx, fy float64) color.RGBA {
	x0 := int(math.Floor(fx))
	y0 := int(math.Floor(fy))
	wx := fx - float64(x0)
	wy := fy - float64(y0)

	at := func(x, y int) (r, g, bl float64) {
		if x < b.Min.X || y < b.Min.Y || x >= b.Max.X || y >= b.Max.Y {
			return 0, 0, 0
		}
		i := img.PixOffset(x, y)
		return float64(img.Pix[i]), float64(img.Pix[i+1]), float64(img.Pix[i+2])
	}

	r00, g00, b00 := at(x0, y0)
	r10, g10, b10 := at(x0+1, y0)
	r01, g01, b01 := at(x0, y0+1)
	r11, g11, b11 := at(x0+1, y0+1)

	mix := func(v00, v10, v01, v11 float64) uint8 {
		top := v00*(1-wx) + v10*wx
		bot := v01*(1-wx) + v11*wx
		return uint8(math.Round(top*(1-wy) + bot*wy))
	}

	return color.RGBA{
		R: mix(r00, r10, r01, r11),
		G: mix(g00, g10, g01, g11),
		B: mix(b00, b10, b01, b11),
		A: 0xff,
	}
}

// CenterSquare returns the largest centred square of img.
func CenterSquare(img image.Image) image.Rectangle {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	m := min(w, h)
	x0 := b.Min.X + (w-m)/2
	y0 := b.Min.Y + (h-m)/2
	return image.Rect(x0, y0, x0+m, y0+m)
}

// Crop copies the region r of img into a new RGBA image with origin (0,0).
func Crop(img image.Image, r image.Rectangle) *image.RGBA {
	r = r.Intersect(img.Bounds())
	out := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	draw.Draw(out, out.Bounds(), img, r.Min, draw.Src)
	return out
}

// Resize scales img to w x h with Catmull-Rom (bicubic) resampling.
func Resize(img image.Image, w, h int) *image.RGBA {
	out := image.NewRGBA(image.Rect(0, 0, w, h))
	xdraw.CatmullRom.Scale(out, out.Bounds(), img, img.Bounds(), xdraw.Src, nil)
	return out
}

// ToRGBA returns img as *image.RGBA, converting when necessary.
func ToRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok {
		return rgba
	}
	b := img.Bounds()
	out := image.NewRGBA(b)
	draw.Draw(out, b, img, b.Min, draw.Src)
	return out
}
