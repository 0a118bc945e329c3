package emoji

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Category identifies one of the emoji stickers that can be placed over a face.
type Category int

const (
	Smile Category = iota
	Frown
	LeftWink
	RightWink
	LeftWinkFrown
	RightWinkFrown
	ClosedEyeSmile
	ClosedEyeFrown
)

var categoryNames = [...]string{
	Smile:          "SMILE",
	Frown:          "FROWN",
	LeftWink:       "LEFT_WINK",
	RightWink:      "RIGHT_WINK",
	LeftWinkFrown:  "LEFT_WINK_FROWN",
	RightWinkFrown: "RIGHT_WINK_FROWN",
	ClosedEyeSmile: "CLOSED_EYE_SMILE",
	ClosedEyeFrown: "CLOSED_EYE_FROWN",
}

var assetNames = [...]string{
	Smile:          "smile",
	Frown:          "frown",
	LeftWink:       "leftwink",
	RightWink:      "rightwink",
	LeftWinkFrown:  "leftwinkfrown",
	RightWinkFrown: "rightwinkfrown",
	ClosedEyeSmile: "closed_smile",
	ClosedEyeFrown: "closed_frown",
}

// Categories returns every category in declaration order.
func Categories() []Category {
	return []Category{
		Smile, Frown, LeftWink, RightWink,
		LeftWinkFrown, RightWinkFrown, ClosedEyeSmile, ClosedEyeFrown,
	}
}

// Valid reports whether c is one of the declared categories.
func (c Category) Valid() bool {
	return c >= Smile && c <= ClosedEyeFrown
}

func (c Category) String() string {
	if !c.Valid() {
		return fmt.Sprintf("Category(%d)", int(c))
	}
	return categoryNames[c]
}

// AssetName is the file basename of the sticker drawn for c.
func (c Category) AssetName() string {
	if !c.Valid() {
		return ""
	}
	return assetNames[c]
}

// Smiling reports whether c belongs to the smiling half of the table.
func (c Category) Smiling() bool {
	switch c {
	case Smile, LeftWink, RightWink, ClosedEyeSmile:
		return true
	}
	return false
}

// ParseCategory resolves a category name, case-insensitively.
func ParseCategory(name string) (Category, error) {
	upper := strings.ToUpper(strings.TrimSpace(name))
	for _, c := range Categories() {
		if categoryNames[c] == upper {
			return c, nil
		}
	}
	return 0, fmt.Errorf("unknown emoji category %q", name)
}

// MarshalJSON encodes the category by name.
func (c Category) MarshalJSON() ([]byte, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("cannot marshal %s", c)
	}
	return json.Marshal(c.String())
}

// UnmarshalJSON decodes a category name.
func (c *Category) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	parsed, err := ParseCategory(name)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}
