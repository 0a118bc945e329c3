package assets

import (
	"fmt"
	"image"
	"math"

	"github.com/gogpu/gg"

	"github.com/example/emojify/internal/emoji"
)

// MinBuiltinSize is the smallest sticker edge Builtin will render.
const MinBuiltinSize = 16

// Builtin renders a default sticker set of size x size pixels, so the service
// can run without sticker files on disk.
func Builtin(size int) (*Set, error) {
	if size < MinBuiltinSize {
		return nil, fmt.Errorf("builtin sticker size %d below minimum %d", size, MinBuiltinSize)
	}
	images := make(map[emoji.Category]image.Image, len(emoji.Categories()))
	for _, c := range emoji.Categories() {
		img, err := renderSticker(c.Expression(), float64(size))
		if err != nil {
			return nil, fmt.Errorf("render %s sticker: %w", c, err)
		}
		images[c] = img
	}
	return NewSet(images)
}

func renderSticker(e emoji.Expression, size float64) (image.Image, error) {
	dc := gg.NewContext(int(size), int(size))
	defer dc.Close()

	centre := size / 2
	dc.SetRGB(1, 0.8, 0.1)
	dc.DrawCircle(centre, centre, size*0.48)
	if err := dc.Fill(); err != nil {
		return nil, err
	}

	dc.SetRGB(0.25, 0.15, 0.05)
	dc.SetLineWidth(size * 0.05)

	// The subject's left eye sits on the viewer's right.
	eyeY := size * 0.38
	if err := drawEye(dc, size*0.65, eyeY, size, e.LeftClosed); err != nil {
		return nil, err
	}
	if err := drawEye(dc, size*0.35, eyeY, size, e.RightClosed); err != nil {
		return nil, err
	}

	radius := size * 0.25
	if e.Smiling {
		dc.DrawArc(centre, size*0.5, radius, 0.2*math.Pi, 0.8*math.Pi)
	} else {
		dc.DrawArc(centre, size*0.9, radius, 1.25*math.Pi, 1.75*math.Pi)
	}
	if err := dc.Stroke(); err != nil {
		return nil, err
	}

	return dc.Image(), nil
}

func drawEye(dc *gg.Context, x, y, size float64, closed bool) error {
	if closed {
		half := size * 0.07
		dc.MoveTo(x-half, y)
		dc.LineTo(x+half, y)
		return dc.Stroke()
	}
	dc.DrawEllipse(x, y, size*0.05, size*0.08)
	return dc.Fill()
}
