package vision

import (
	"image"
	"math"

	"github.com/fogleman/gg"
	"gonum.org/v1/gonum/stat"
)

// LineMaskThickness is the stroke width used when sampling along a line
const LineMaskThickness = 3

// LineMeanIntensity rasterizes l as a thick stroke and returns the mean of
// img under the stroke. Only the line's bounding box is rasterized.
func LineMeanIntensity(img *image.Gray, l Line, thickness float64) float64 {
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	pad := int(math.Ceil(thickness)) + 1

	x0 := max(min(l.X1, l.X2)-pad, 0)
	y0 := max(min(l.Y1, l.Y2)-pad, 0)
	x1 := min(max(l.X1, l.X2)+pad, w-1)
	y1 := min(max(l.Y1, l.Y2)+pad, h-1)
	if x1 < x0 || y1 < y0 {
		return 0
	}

	dc := gg.NewContext(x1-x0+1, y1-y0+1)
	dc.SetRGB(1, 1, 1)
	dc.SetLineWidth(thickness)
	dc.SetLineCap(gg.LineCapRound)
	dc.DrawLine(
		float64(l.X1-x0)+0.5, float64(l.Y1-y0)+0.5,
		float64(l.X2-x0)+0.5, float64(l.Y2-y0)+0.5,
	)
	dc.Stroke()

	stroke, ok := dc.Image().(*image.RGBA)
	if !ok {
		return 0
	}

	values := make([]float64, 0, int(l.Length()+1)*int(thickness+1))
	for y := 0; y <= y1-y0; y++ {
		for x := 0; x <= x1-x0; x++ {
			if stroke.Pix[y*stroke.Stride+x*4+3] < 128 {
				continue
			}
			values = append(values, float64(img.Pix[(y+y0)*img.Stride+x+x0]))
		}
	}
	if len(values) == 0 {
		return 0
	}
	return stat.Mean(values, nil)
}

// FilterByBrightness keeps lines whose mean intensity in img reaches minMean.
// A non-positive minMean disables the filter.
func FilterByBrightness(img *image.Gray, lines []Line, minMean float64) []Line {
	if minMean <= 0 {
		return lines
	}
	kept := lines[:0:0]
	for _, l := range lines {
		if LineMeanIntensity(img, l, LineMaskThickness) >= minMean {
			kept = append(kept, l)
		}
	}
	return kept
}
