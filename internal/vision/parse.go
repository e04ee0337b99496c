package vision

import (
	"encoding/json"
	"fmt"
	"strings"
)

// wireElement matches the JSON shape the model is prompted to produce.
// bounding_box arrives as a [x, y, w, h] array.
type wireElement struct {
	ElementType string    `json:"element_type"`
	Description string    `json:"description"`
	Confidence  float64   `json:"confidence"`
	BoundingBox []float64 `json:"bounding_box"`
	Reasoning   string    `json:"reasoning"`
	Action      string    `json:"action"`
}

// parseElementsJSON extracts and parses a JSON element array from a model
// reply that may contain surrounding prose.
func parseElementsJSON(response string) ([]DetectedElement, error) {
	var wire []wireElement
	if err := json.Unmarshal([]byte(response), &wire); err != nil {
		jsonStr, err2 := extractJSONArray(response)
		if err2 != nil {
			return nil, err2
		}
		if err := json.Unmarshal([]byte(jsonStr), &wire); err != nil {
			return nil, fmt.Errorf("failed to parse extracted JSON: %w", err)
		}
	}

	elements := make([]DetectedElement, 0, len(wire))
	for _, w := range wire {
		elements = append(elements, normalizeElement(w))
	}
	return elements, nil
}

// extractJSONArray finds the first balanced [...] block in the response.
func extractJSONArray(response string) (string, error) {
	start := strings.Index(response, "[")
	if start == -1 {
		return "", fmt.Errorf("no JSON array found in response")
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(response); i++ {
		c := response[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '[':
			depth++
		case ']':
			depth--
			if depth == 0 {
				return response[start : i+1], nil
			}
		}
	}
	return "", fmt.Errorf("no matching closing bracket found")
}

func normalizeElement(w wireElement) DetectedElement {
	el := DetectedElement{
		Description:     strings.TrimSpace(w.Description),
		Confidence:      w.Confidence,
		Reasoning:       strings.TrimSpace(w.Reasoning),
		SuggestedAction: strings.ToLower(strings.TrimSpace(w.Action)),
	}

	switch ElementType(strings.ToLower(strings.TrimSpace(w.ElementType))) {
	case ElementButton:
		el.Type = ElementButton
	case ElementLink:
		el.Type = ElementLink
	case ElementInput:
		el.Type = ElementInput
	case ElementText:
		el.Type = ElementText
	case ElementImage:
		el.Type = ElementImage
	default:
		el.Type = ElementOther
	}

	if el.Confidence < 0 {
		el.Confidence = 0
	} else if el.Confidence > 1 {
		el.Confidence = 1
	}

	if len(w.BoundingBox) == 4 {
		el.Box = BoundingBox{
			X:      int(w.BoundingBox[0]),
			Y:      int(w.BoundingBox[1]),
			Width:  int(w.BoundingBox[2]),
			Height: int(w.BoundingBox[3]),
		}
	}
	return el
}
