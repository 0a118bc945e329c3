// Package emojifier runs classification and compositing over every face in a photo.
package emojifier

import (
	"errors"
	"image"

	"go.uber.org/zap"

	"github.com/example/emojify/internal/compositor"
	"github.com/example/emojify/internal/emoji"
	"github.com/example/emojify/internal/facedetect"
)

// Stickers resolves the sticker image for a category. Implementations must be
// total over emoji.Categories.
type Stickers interface {
	MustGet(c emoji.Category) image.Image
}

// FaceOutcome records what happened to one detected face.
type FaceOutcome struct {
	Face     facedetect.DetectedFace `json:"face"`
	Category emoji.Category          `json:"category"`
	Skipped  bool                    `json:"skipped"`
	Reason   string                  `json:"reason,omitempty"`
}

// Result is the composited image with per-face outcomes.
type Result struct {
	Image   image.Image
	Faces   []FaceOutcome
	NoFaces bool
}

// Categories lists the categories of faces that were drawn.
func (r *Result) Categories() []emoji.Category {
	categories := make([]emoji.Category, 0, len(r.Faces))
	for _, f := range r.Faces {
		if !f.Skipped {
			categories = append(categories, f.Category)
		}
	}
	return categories
}

// Skipped counts faces that could not be drawn.
func (r *Result) Skipped() int {
	n := 0
	for _, f := range r.Faces {
		if f.Skipped {
			n++
		}
	}
	return n
}

// Emojifier draws a sticker over every usable face.
type Emojifier struct {
	stickers Stickers
	logger   *zap.Logger
}

// New constructs an Emojifier.
func New(stickers Stickers, logger *zap.Logger) *Emojifier {
	return &Emojifier{stickers: stickers, logger: logger.Named("emojifier")}
}

// Apply composites one sticker per face onto a copy of background. Faces with
// unusable geometry or probabilities are skipped and reported in the result.
// With no faces the background itself is returned.
func (e *Emojifier) Apply(background image.Image, faces []facedetect.DetectedFace) (*Result, error) {
	if background == nil || background.Bounds().Empty() {
		return nil, compositor.ErrEmptyImage
	}

	e.logger.Debug("detected faces", zap.Int("count", len(faces)))
	if len(faces) == 0 {
		return &Result{Image: background, NoFaces: true}, nil
	}

	result := &Result{Image: background, Faces: make([]FaceOutcome, 0, len(faces))}
	for i, face := range faces {
		outcome := FaceOutcome{Face: face}
		if err := face.Validate(); err != nil {
			outcome.Skipped, outcome.Reason = true, err.Error()
			e.logger.Warn("skipping face", zap.Int("face", i), zap.Error(err))
			result.Faces = append(result.Faces, outcome)
			continue
		}

		outcome.Category = emoji.Classify(face.Smiling, face.LeftEyeOpen, face.RightEyeOpen)
		e.logger.Debug("classified face",
			zap.Int("face", i),
			zap.Float64("smiling_prob", face.Smiling),
			zap.Float64("left_eye_open_prob", face.LeftEyeOpen),
			zap.Float64("right_eye_open_prob", face.RightEyeOpen),
			zap.Stringer("emoji", outcome.Category))

		composited, err := compositor.Overlay(result.Image, e.stickers.MustGet(outcome.Category), compositor.Geometry{
			X:      face.X,
			Y:      face.Y,
			Width:  face.Width,
			Height: face.Height,
		})
		if err != nil {
			if !errors.Is(err, compositor.ErrInvalidGeometry) {
				return nil, err
			}
			outcome.Skipped, outcome.Reason = true, err.Error()
			e.logger.Warn("skipping face", zap.Int("face", i), zap.Error(err))
			result.Faces = append(result.Faces, outcome)
			continue
		}

		result.Image = composited
		result.Faces = append(result.Faces, outcome)
	}
	return result, nil
}
