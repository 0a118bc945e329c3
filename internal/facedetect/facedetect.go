package facedetect

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math"
	"time"
)

// ErrInvalidFace marks a detection that cannot be classified or composited.
var ErrInvalidFace = errors.New("invalid detected face")

// DetectedFace is one face reported by the external detector. Coordinates are
// relative to the top-left corner of the analysed image.
type DetectedFace struct {
	X            float64 `json:"x"`
	Y            float64 `json:"y"`
	Width        float64 `json:"width"`
	Height       float64 `json:"height"`
	Smiling      float64 `json:"smiling"`
	LeftEyeOpen  float64 `json:"left_eye_open"`
	RightEyeOpen float64 `json:"right_eye_open"`
}

// Bounds returns the face rectangle truncated to the pixel grid.
func (f DetectedFace) Bounds() image.Rectangle {
	return image.Rect(int(f.X), int(f.Y), int(f.X+f.Width), int(f.Y+f.Height))
}

// Validate reports geometry or probability values the pipeline cannot use.
// Detectors report -1 for a probability they could not compute.
func (f DetectedFace) Validate() error {
	for _, v := range []float64{f.X, f.Y, f.Width, f.Height} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: non-finite geometry %g,%g %gx%g", ErrInvalidFace, f.X, f.Y, f.Width, f.Height)
		}
	}
	if f.Width <= 0 || f.Height <= 0 {
		return fmt.Errorf("%w: non-positive size %gx%g", ErrInvalidFace, f.Width, f.Height)
	}
	probs := []struct {
		name  string
		value float64
	}{
		{"smiling", f.Smiling},
		{"left_eye_open", f.LeftEyeOpen},
		{"right_eye_open", f.RightEyeOpen},
	}
	for _, p := range probs {
		if !(p.value >= 0 && p.value <= 1) {
			return fmt.Errorf("%w: %s probability %g outside [0,1]", ErrInvalidFace, p.name, p.value)
		}
	}
	return nil
}

// Detector exposes the face detection engine used by the emojify flow.
type Detector interface {
	Detect(ctx context.Context, requestID string, imageBytes []byte) ([]DetectedFace, error)
}

// Static is a Detector that always reports the same faces. It backs
// caller-supplied detections.
type Static []DetectedFace

// Detect returns a copy of the configured faces.
func (s Static) Detect(ctx context.Context, requestID string, imageBytes []byte) ([]DetectedFace, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	faces := make([]DetectedFace, len(s))
	copy(faces, s)
	return faces, nil
}

// WithTimeout bounds every Detect call of d. A non-positive timeout returns d unchanged.
func WithTimeout(d Detector, timeout time.Duration) Detector {
	if d == nil || timeout <= 0 {
		return d
	}
	return timeoutDetector{next: d, timeout: timeout}
}

type timeoutDetector struct {
	next    Detector
	timeout time.Duration
}

func (t timeoutDetector) Detect(ctx context.Context, requestID string, imageBytes []byte) ([]DetectedFace, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.next.Detect(ctx, requestID, imageBytes)
}
