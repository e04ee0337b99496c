package vision

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleReply = `Here are the elements I can see on the page:

[
  {
    "element_type": "button",
    "description": "Add to basket",
    "confidence": 0.95,
    "bounding_box": [520, 340, 140, 42],
    "reasoning": "primary purchase control",
    "action": "click"
  },
  {
    "element_type": "INPUT",
    "description": " search field ",
    "confidence": 1.4,
    "bounding_box": [40, 20, 300, 36],
    "action": "Type"
  }
]

Let me know if you need more detail.`

func TestParseElementsFromProseWrappedReply(t *testing.T) {
	elements, err := parseElementsJSON(sampleReply)
	require.NoError(t, err)
	require.Len(t, elements, 2)

	btn := elements[0]
	assert.Equal(t, ElementButton, btn.Type)
	assert.Equal(t, "Add to basket", btn.Description)
	assert.Equal(t, BoundingBox{X: 520, Y: 340, Width: 140, Height: 42}, btn.Box)
	assert.Equal(t, "click", btn.SuggestedAction)

	input := elements[1]
	assert.Equal(t, ElementInput, input.Type, "type is case-insensitive")
	assert.Equal(t, "search field", input.Description, "description is trimmed")
	assert.Equal(t, 1.0, input.Confidence, "confidence is clamped to [0,1]")
	assert.Equal(t, "type", input.SuggestedAction)
}

func TestParseElementsBareArray(t *testing.T) {
	elements, err := parseElementsJSON(`[{"element_type":"link","description":"next","confidence":0.6,"bounding_box":[1,2,3,4]}]`)
	require.NoError(t, err)
	require.Len(t, elements, 1)
	assert.Equal(t, ElementLink, elements[0].Type)
}

func TestParseElementsEmptyArray(t *testing.T) {
	elements, err := parseElementsJSON("The page appears blank. []")
	require.NoError(t, err)
	assert.Empty(t, elements)
}

func TestParseElementsNoArrayIsError(t *testing.T) {
	_, err := parseElementsJSON("I could not identify any elements.")
	assert.Error(t, err)
}

func TestParseElementsUnbalancedBracketIsError(t *testing.T) {
	_, err := parseElementsJSON(`Partial output: [{"element_type":"button"`)
	assert.Error(t, err)
}

func TestExtractJSONArraySkipsBracketsInStrings(t *testing.T) {
	got, err := extractJSONArray(`noise [{"description":"a [nested] label"}] trailing`)
	require.NoError(t, err)
	assert.Equal(t, `[{"description":"a [nested] label"}]`, got)
}

func TestNormalizeUnknownTypeBecomesOther(t *testing.T) {
	el := normalizeElement(wireElement{ElementType: "carousel", Confidence: -0.3})
	assert.Equal(t, ElementOther, el.Type)
	assert.Equal(t, 0.0, el.Confidence)
}

func TestNormalizeIgnoresMalformedBox(t *testing.T) {
	el := normalizeElement(wireElement{ElementType: "button", BoundingBox: []float64{1, 2}})
	assert.Equal(t, BoundingBox{}, el.Box)
}

func TestBoundingBoxCenter(t *testing.T) {
	x, y := (BoundingBox{X: 100, Y: 50, Width: 40, Height: 20}).Center()
	assert.Equal(t, 120, x)
	assert.Equal(t, 60, y)
}
