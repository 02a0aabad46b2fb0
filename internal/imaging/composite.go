package imaging

import (
	"bufio"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"os"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

// Neutral is the mid-grey backdrop every portrait is composited onto.
var Neutral = color.RGBA{R: 128, G: 128, B: 128, A: 255}

// Composite blends the non-premultiplied foreground fg over an opaque solid
// background, using fg's alpha as the weight. The result is fully opaque.
func Composite(fg *image.NRGBA, bg color.RGBA) *image.RGBA {
	b := fg.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))

	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			si := fg.PixOffset(x, y)
			di := out.PixOffset(x-b.Min.X, y-b.Min.Y)
			a := uint32(fg.Pix[si+3])
			out.Pix[di+0] = blend(fg.Pix[si+0], bg.R, a)
			out.Pix[di+1] = blend(fg.Pix[si+1], bg.G, a)
			out.Pix[di+2] = blend(fg.Pix[si+2], bg.B, a)
			out.Pix[di+3] = 0xff
		}
	}
	return out
}

func blend(f, b uint8, a uint32) uint8 {
	return uint8((uint32(f)*a + uint32(b)*(255-a) + 127) / 255)
}

// Decode reads an image file in any registered format (png, jpeg, gif, webp,
// bmp). For an animated gif the first frame is used.
func Decode(path string) (image.Image, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, "", err
	}
	defer f.Close()

	img, format, err := image.Decode(bufio.NewReader(f))
	if err != nil {
		return nil, "", fmt.Errorf("decode %s: %w", path, err)
	}
	return img, format, nil
}

// SavePNG writes img to path. Opaque RGBA images are stored as 8-bit RGB
// without an alpha channel.
func SavePNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	enc := png.Encoder{CompressionLevel: png.DefaultCompression}
	if err := enc.Encode(w, img); err != nil {
		f.Close()
		return fmt.Errorf("encode %s: %w", path, err)
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
