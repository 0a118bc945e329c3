// Package imaging decodes uploaded photos and encodes composited results.
package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif" // registers gif decoding
	"image/jpeg"
	"image/png"
	"io"

	"golang.org/x/image/bmp"
	_ "golang.org/x/image/webp" // registers webp decoding
)

// JPEGQuality is used when re-encoding jpeg uploads.
const JPEGQuality = 92

// DefaultMaxPixels caps decoded images at 40 megapixels.
const DefaultMaxPixels = 40_000_000

var (
	// ErrUnsupportedFormat is returned for payloads no registered decoder accepts.
	ErrUnsupportedFormat = errors.New("unsupported image format")
	// ErrImageTooLarge is returned when the declared dimensions exceed the pixel limit.
	ErrImageTooLarge = errors.New("image dimensions exceed limit")
)

// Format names an image encoding as reported by image.Decode.
type Format string

const (
	FormatJPEG Format = "jpeg"
	FormatPNG  Format = "png"
	FormatGIF  Format = "gif"
	FormatWebP Format = "webp"
	FormatBMP  Format = "bmp"
)

// Decode parses data into an image and reports its format, applying
// DefaultMaxPixels.
func Decode(data []byte) (image.Image, Format, error) {
	return DecodeLimit(data, DefaultMaxPixels)
}

// DecodeLimit is Decode with an explicit pixel limit. The header is checked
// before any pixel buffer is allocated. A non-positive maxPixels disables the check.
func DecodeLimit(data []byte, maxPixels int) (image.Image, Format, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		if errors.Is(err, image.ErrFormat) {
			return nil, "", ErrUnsupportedFormat
		}
		return nil, "", fmt.Errorf("decode image header: %w", err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, "", fmt.Errorf("decode image header: empty %dx%d image", cfg.Width, cfg.Height)
	}
	if maxPixels > 0 && int64(cfg.Width)*int64(cfg.Height) > int64(maxPixels) {
		return nil, "", fmt.Errorf("%w: %dx%d over %d pixels", ErrImageTooLarge, cfg.Width, cfg.Height, maxPixels)
	}

	img, name, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		if errors.Is(err, image.ErrFormat) {
			return nil, "", ErrUnsupportedFormat
		}
		return nil, "", fmt.Errorf("decode image: %w", err)
	}
	return img, Format(name), nil
}

// OutputFormat is the format results are encoded in for an input format.
// Formats without an encoder fall back to png.
func OutputFormat(in Format) Format {
	switch in {
	case FormatJPEG, FormatBMP:
		return in
	default:
		return FormatPNG
	}
}

// Encode writes img in the output format for f.
func Encode(w io.Writer, img image.Image, f Format) error {
	switch OutputFormat(f) {
	case FormatJPEG:
		return jpeg.Encode(w, img, &jpeg.Options{Quality: JPEGQuality})
	case FormatBMP:
		return bmp.Encode(w, img)
	default:
		return png.Encode(w, img)
	}
}

// EncodeBytes is Encode into a fresh buffer.
func EncodeBytes(img image.Image, f Format) ([]byte, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, img, f); err != nil {
		return nil, fmt.Errorf("encode %s: %w", OutputFormat(f), err)
	}
	return buf.Bytes(), nil
}

// ContentType returns the MIME type of the output format for f.
func ContentType(f Format) string {
	switch OutputFormat(f) {
	case FormatJPEG:
		return "image/jpeg"
	case FormatBMP:
		return "image/bmp"
	default:
		return "image/png"
	}
}

// SupportedContentType reports whether an upload MIME type can be decoded.
func SupportedContentType(contentType string) bool {
	switch contentType {
	case "image/jpeg", "image/jpg", "image/png", "image/gif", "image/webp", "image/bmp", "image/x-ms-bmp":
		return true
	}
	return false
}
