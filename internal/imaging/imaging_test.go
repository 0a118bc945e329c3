package imaging

import (
	"bytes"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"image"
	"image/color"
	"image/png"
	"testing"
)

func TestDecodeReportsFormat(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 3, 2))
	src.Set(1, 1, color.RGBA{R: 200, A: 255})

	var buf bytes.Buffer
	if err := png.Encode(&buf, src); err != nil {
		t.Fatalf("encode fixture: %v", err)
	}

	img, format, err := Decode(buf.Bytes())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if format != FormatPNG {
		t.Fatalf("expected png, got %s", format)
	}
	if img.Bounds() != src.Bounds() {
		t.Fatalf("expected bounds %v, got %v", src.Bounds(), img.Bounds())
	}
}

func TestDecodeRejectsUnknownPayload(t *testing.T) {
	_, _, err := Decode([]byte("definitely not an image"))
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("expected ErrUnsupportedFormat, got %v", err)
	}
}

func TestEncodeRoundTripsOutputFormats(t *testing.T) {
	src := image.NewGray(image.Rect(0, 0, 8, 8))
	for _, in := range []Format{FormatJPEG, FormatPNG, FormatBMP, FormatWebP, FormatGIF} {
		data, err := EncodeBytes(src, in)
		if err != nil {
			t.Fatalf("encode %s: %v", in, err)
		}
		_, got, err := Decode(data)
		if err != nil {
			t.Fatalf("decode %s output: %v", in, err)
		}
		if got != OutputFormat(in) {
			t.Fatalf("expected %s output for %s input, got %s", OutputFormat(in), in, got)
		}
	}
}

func TestContentType(t *testing.T) {
	cases := map[Format]string{
		FormatJPEG: "image/jpeg",
		FormatPNG:  "image/png",
		FormatWebP: "image/png",
		FormatBMP:  "image/bmp",
	}
	for in, want := range cases {
		if got := ContentType(in); got != want {
			t.Fatalf("ContentType(%s) = %s, want %s", in, got, want)
		}
	}
	if SupportedContentType("text/plain") {
		t.Fatal("text/plain must not be accepted")
	}
	if !SupportedContentType("image/webp") {
		t.Fatal("image/webp must be accepted")
	}
}

// declaredPNG returns a 1x1 png whose header claims width x height.
func declaredPNG(t *testing.T, width, height uint32) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewGray(image.Rect(0, 0, 1, 1))); err != nil {
		t.Fatalf("encode fixture: %v", err)
	}
	data := buf.Bytes()
	// signature(8) length(4) "IHDR"(4) width(4) height(4) ... crc at 29.
	binary.BigEndian.PutUint32(data[16:20], width)
	binary.BigEndian.PutUint32(data[20:24], height)
	binary.BigEndian.PutUint32(data[29:33], crc32.ChecksumIEEE(data[12:29]))
	return data
}

func TestDecodeRejectsOversizedDimensions(t *testing.T) {
	data := declaredPNG(t, 12000, 12000)
	if len(data) > 1024 {
		t.Fatalf("fixture should stay tiny, got %d bytes", len(data))
	}

	_, _, err := Decode(data)
	if !errors.Is(err, ErrImageTooLarge) {
		t.Fatalf("expected ErrImageTooLarge, got %v", err)
	}
}

func TestDecodeLimit(t *testing.T) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewGray(image.Rect(0, 0, 10, 10))); err != nil {
		t.Fatalf("encode fixture: %v", err)
	}

	if _, _, err := DecodeLimit(buf.Bytes(), 99); !errors.Is(err, ErrImageTooLarge) {
		t.Fatalf("expected ErrImageTooLarge at 99 pixels, got %v", err)
	}
	if _, _, err := DecodeLimit(buf.Bytes(), 100); err != nil {
		t.Fatalf("expected 10x10 to fit 100 pixels, got %v", err)
	}
	if _, _, err := DecodeLimit(buf.Bytes(), 0); err != nil {
		t.Fatalf("expected no limit at 0, got %v", err)
	}
}
