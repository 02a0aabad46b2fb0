package ui

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"sync"
)

const iconSize = 32

var (
	iconOnce  sync.Once
	iconBytes []byte
)

// Icon returns the tray icon as PNG: a head-and-shoulders silhouette on a
// transparent background.
func Icon() []byte {
	iconOnce.Do(func() {
		var buf bytes.Buffer
		if err := png.Encode(&buf, drawIcon(iconSize)); err == nil {
			iconBytes = buf.Bytes()
		}
	})
	return iconBytes
}

func drawIcon(n int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, n, n))
	fg := color.NRGBA{R: 0x3b, G: 0x82, B: 0xf6, A: 0xff}

	// head
	hx, hy, hr := n/2, n*3/8, n/5
	// shoulders: upper half of an ellipse at the bottom edge
	sx, sy, rx, ry := n/2, n, n*2/5, n*2/5

	for y := 0; y < n; y++ {
		for x := 0; x < n; x++ {
			dx, dy := x-hx, y-hy
			inHead := dx*dx+dy*dy <= hr*hr
			ex, ey := float64(x-sx)/float64(rx), float64(y-sy)/float64(ry)
			inBody := ex*ex+ey*ey <= 1
			if inHead || inBody {
				img.SetNRGBA(x, y, fg)
			}
		}
	}
	return img
}
