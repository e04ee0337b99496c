package vision

import "errors"

// ErrUnavailable indicates the perception backend could not be reached at all
// (transport or auth failure). An empty element list is not an error.
var ErrUnavailable = errors.New("perception unavailable")

// ElementType classifies a detected page element.
type ElementType string

const (
	ElementButton ElementType = "button"
	ElementLink   ElementType = "link"
	ElementInput  ElementType = "input"
	ElementText   ElementType = "text"
	ElementImage  ElementType = "image"
	ElementOther  ElementType = "other"
)

// BoundingBox locates an element in page pixels.
type BoundingBox struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Center returns the click point for the box.
func (b BoundingBox) Center() (int, int) {
	return b.X + b.Width/2, b.Y + b.Height/2
}

// DetectedElement is one perception result: an interactive or content region
// the model believes is relevant to the goal. Fresh sets are produced every
// step; instances are never mutated.
type DetectedElement struct {
	Type            ElementType `json:"element_type"`
	Description     string      `json:"description"`
	Box             BoundingBox `json:"bounding_box"`
	Confidence      float64     `json:"confidence"`
	Reasoning       string      `json:"reasoning,omitempty"`
	SuggestedAction string      `json:"action,omitempty"`
}

// Detection is the result of one perception call.
type Detection struct {
	Elements []DetectedElement
	Tokens   int
}
