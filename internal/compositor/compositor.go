// Package compositor scales emoji stickers and draws them over face regions.
package compositor

import (
	"errors"
	"fmt"
	"image"
	"math"

	"golang.org/x/image/draw"
)

// ScaleFactor shrinks the sticker relative to the detected face width.
const ScaleFactor = 0.9

var (
	// ErrInvalidGeometry is returned for faces or stickers that collapse to no pixels.
	ErrInvalidGeometry = errors.New("invalid face geometry")
	// ErrEmptyImage is returned when the background or sticker has no pixels.
	ErrEmptyImage = errors.New("empty image")
)

// Geometry is a face rectangle in background coordinates.
type Geometry struct {
	X, Y          float64
	Width, Height float64
}

// Placement computes where a sticker of size emoji lands for face.
//
// The sticker height derives from the already scaled width and is then scaled
// by ScaleFactor a second time, so stickers come out flatter than the source
// aspect ratio. The vertical offset uses a third of the sticker height, which
// lifts the sticker above the true face centre.
func Placement(emoji image.Point, face Geometry) (image.Rectangle, error) {
	if face.Width <= 0 || face.Height <= 0 {
		return image.Rectangle{}, fmt.Errorf("%w: face size %gx%g", ErrInvalidGeometry, face.Width, face.Height)
	}
	if emoji.X <= 0 || emoji.Y <= 0 {
		return image.Rectangle{}, fmt.Errorf("%w: sticker size %dx%d", ErrEmptyImage, emoji.X, emoji.Y)
	}

	width := int(face.Width * ScaleFactor)
	height := int(float64(emoji.Y*width/emoji.X) * ScaleFactor)
	if width <= 0 || height <= 0 {
		return image.Rectangle{}, fmt.Errorf("%w: scaled sticker %dx%d for face %gx%g",
			ErrInvalidGeometry, width, height, face.Width, face.Height)
	}

	x := face.X + face.Width/2 - float64(width/2)
	y := face.Y + face.Height/2 - float64(height/3)
	min := image.Pt(int(math.Floor(x)), int(math.Floor(y)))
	return image.Rectangle{Min: min, Max: min.Add(image.Pt(width, height))}, nil
}

// Overlay returns a new image holding background with emoji drawn over face.
// background is never modified.
func Overlay(background, emoji image.Image, face Geometry) (draw.Image, error) {
	bounds := background.Bounds()
	if bounds.Empty() {
		return nil, fmt.Errorf("%w: background", ErrEmptyImage)
	}
	src := emoji.Bounds()
	if src.Empty() {
		return nil, fmt.Errorf("%w: sticker", ErrEmptyImage)
	}

	target, err := Placement(src.Size(), face)
	if err != nil {
		return nil, err
	}

	dst := newCanvas(background)
	draw.Draw(dst, bounds, background, bounds.Min, draw.Src)
	draw.NearestNeighbor.Scale(dst, target.Add(bounds.Min), emoji, src, draw.Over, nil)
	return dst, nil
}

// newCanvas allocates an output buffer in the background's pixel format when
// that format is writable, and RGBA otherwise.
func newCanvas(background image.Image) draw.Image {
	bounds := background.Bounds()
	switch background.(type) {
	case *image.NRGBA:
		return image.NewNRGBA(bounds)
	case *image.RGBA64:
		return image.NewRGBA64(bounds)
	case *image.NRGBA64:
		return image.NewNRGBA64(bounds)
	default:
		return image.NewRGBA(bounds)
	}
}
