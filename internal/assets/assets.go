// Package assets provides the sticker image for every emoji category.
package assets

import (
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"

	"github.com/example/emojify/internal/emoji"
	"github.com/example/emojify/internal/imaging"
)

// ErrIncomplete is returned when a sticker set does not cover every category.
var ErrIncomplete = errors.New("incomplete emoji asset set")

// Set is a total mapping from category to sticker image.
type Set struct {
	images map[emoji.Category]image.Image
}

// NewSet validates that images covers all categories with non-empty stickers.
func NewSet(images map[emoji.Category]image.Image) (*Set, error) {
	copied := make(map[emoji.Category]image.Image, len(images))
	for _, c := range emoji.Categories() {
		img, ok := images[c]
		if !ok || img == nil {
			return nil, fmt.Errorf("%w: missing %s", ErrIncomplete, c)
		}
		if img.Bounds().Empty() {
			return nil, fmt.Errorf("%w: empty sticker for %s", ErrIncomplete, c)
		}
		copied[c] = img
	}
	return &Set{images: copied}, nil
}

// MustGet returns the sticker for c. A miss means the set was built outside
// NewSet or c is not a declared category, and panics.
func (s *Set) MustGet(c emoji.Category) image.Image {
	img, ok := s.images[c]
	if !ok {
		panic(fmt.Sprintf("assets: no sticker for %s", c))
	}
	return img
}

// LoadDir reads <asset name>.png, falling back to .webp, for each category.
func LoadDir(dir string) (*Set, error) {
	images := make(map[emoji.Category]image.Image, len(emoji.Categories()))
	for _, c := range emoji.Categories() {
		img, err := loadSticker(dir, c.AssetName())
		if err != nil {
			return nil, fmt.Errorf("load %s sticker: %w", c, err)
		}
		images[c] = img
	}
	return NewSet(images)
}

func loadSticker(dir, name string) (image.Image, error) {
	var lastErr error
	for _, ext := range []string{".png", ".webp"} {
		data, err := os.ReadFile(filepath.Join(dir, name+ext))
		if err != nil {
			lastErr = err
			continue
		}
		img, _, err := imaging.Decode(data)
		if err != nil {
			return nil, err
		}
		return img, nil
	}
	return nil, lastErr
}
