package vision

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"

	"github.com/nfnt/resize"
)

// maxUploadWidth caps screenshot size before upload. Vision models do not
// need more, and oversized images waste tokens.
const maxUploadWidth = 1280

// prepareScreenshot downscales a PNG screenshot when wider than
// maxUploadWidth and returns it base64-encoded for the model APIs.
func prepareScreenshot(data []byte) (string, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("decode screenshot: %w", err)
	}

	if img.Bounds().Dx() > maxUploadWidth {
		img = resize.Resize(maxUploadWidth, 0, img, resize.Lanczos3)
		var buf bytes.Buffer
		if err := png.Encode(&buf, img); err != nil {
			return "", fmt.Errorf("encode resized screenshot: %w", err)
		}
		data = buf.Bytes()
	}

	return base64.StdEncoding.EncodeToString(data), nil
}

var (
	boxHigh = color.RGBA{R: 220, G: 40, B: 40, A: 255}
	boxLow  = color.RGBA{R: 230, G: 190, B: 40, A: 255}
)

// Annotate draws each element's bounding box onto a copy of the screenshot.
// High-confidence boxes are red, the rest yellow. Used for debug output so an
// operator can see what the model saw.
func Annotate(screenshot []byte, elements []DetectedElement) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(screenshot))
	if err != nil {
		return nil, fmt.Errorf("decode screenshot: %w", err)
	}

	canvas := image.NewRGBA(img.Bounds())
	draw.Draw(canvas, canvas.Bounds(), img, img.Bounds().Min, draw.Src)

	for _, el := range elements {
		c := boxLow
		if el.Confidence > 0.7 {
			c = boxHigh
		}
		strokeRect(canvas, el.Box, c, 3)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, canvas); err != nil {
		return nil, fmt.Errorf("encode annotated screenshot: %w", err)
	}
	return buf.Bytes(), nil
}

// strokeRect draws a rectangle outline of the given thickness, clipped to the
// canvas bounds.
func strokeRect(canvas *image.RGBA, box BoundingBox, c color.RGBA, thickness int) {
	r := image.Rect(box.X, box.Y, box.X+box.Width, box.Y+box.Height).Intersect(canvas.Bounds())
	if r.Empty() {
		return
	}
	for t := 0; t < thickness; t++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			setIfInside(canvas, x, r.Min.Y+t, c)
			setIfInside(canvas, x, r.Max.Y-1-t, c)
		}
		for y := r.Min.Y; y < r.Max.Y; y++ {
			setIfInside(canvas, r.Min.X+t, y, c)
			setIfInside(canvas, r.Max.X-1-t, y, c)
		}
	}
}

func setIfInside(canvas *image.RGBA, x, y int, c color.RGBA) {
	if image.Pt(x, y).In(canvas.Bounds()) {
		canvas.SetRGBA(x, y, c)
	}
}
