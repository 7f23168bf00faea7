package vision

import (
	"bytes"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"

	"github.com/streamvigil/vigil/internal/models"
)

var boxColor = color.RGBA{R: 255, G: 40, B: 40, A: 255}

// Annotate draws the detection bounding boxes onto the source JPEG and
// re-encodes it. On any decode failure the original frame is returned, so an
// alert never loses its image to annotation problems.
func Annotate(frame []byte, detections []models.Detection) []byte {
	if len(detections) == 0 {
		return frame
	}
	src, err := jpeg.Decode(bytes.NewReader(frame))
	if err != nil {
		return frame
	}

	canvas := image.NewRGBA(src.Bounds())
	draw.Draw(canvas, canvas.Bounds(), src, src.Bounds().Min, draw.Src)

	for _, d := range detections {
		drawRect(canvas, d.BBox[0], d.BBox[1], d.BBox[2], d.BBox[3])
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, canvas, &jpeg.Options{Quality: 85}); err != nil {
		return frame
	}
	return buf.Bytes()
}

func drawRect(img *image.RGBA, x1, y1, x2, y2 int) {
	b := img.Bounds()
	clamp := func(v, lo, hi int) int {
		if v < lo {
			return lo
		}
		if v > hi {
			return hi
		}
		return v
	}
	x1 = clamp(x1, b.Min.X, b.Max.X-1)
	x2 = clamp(x2, b.Min.X, b.Max.X-1)
	y1 = clamp(y1, b.Min.Y, b.Max.Y-1)
	y2 = clamp(y2, b.Min.Y, b.Max.Y-1)

	const thickness = 3
	for t := 0; t < thickness; t++ {
		for x := x1; x <= x2; x++ {
			img.Set(x, clamp(y1+t, b.Min.Y, b.Max.Y-1), boxColor)
			img.Set(x, clamp(y2-t, b.Min.Y, b.Max.Y-1), boxColor)
		}
		for y := y1; y <= y2; y++ {
			img.Set(clamp(x1+t, b.Min.X, b.Max.X-1), y, boxColor)
			img.Set(clamp(x2-t, b.Min.X, b.Max.X-1), y, boxColor)
		}
	}
}
