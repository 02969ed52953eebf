package vision

import (
	"fmt"
	"image"
	"math"

	"github.com/fogleman/gg"
	"golang.org/x/image/draw"
)

// LoadMask reads an image file as a grayscale mask. Non-zero pixels are kept.
func LoadMask(path string) (*image.Gray, error) {
	img, err := gg.LoadImage(path)
	if err != nil {
		return nil, fmt.Errorf("decode mask %s: %w", path, err)
	}
	return ToGray(img), nil
}

// ResizeMask scales mask to w x h with nearest-neighbour sampling so the
// result stays binary. The mask is returned as-is when sizes already match.
func ResizeMask(mask *image.Gray, w, h int) *image.Gray {
	if mask.Bounds().Dx() == w && mask.Bounds().Dy() == h {
		return mask
	}
	dst := image.NewGray(image.Rect(0, 0, w, h))
	draw.NearestNeighbor.Scale(dst, dst.Bounds(), mask, mask.Bounds(), draw.Src, nil)
	return dst
}

// BottomBandMask returns a w x h mask with the bottom pct percent of rows zeroed.
// It returns nil when pct <= 0.
func BottomBandMask(w, h int, pct float64) *image.Gray {
	if pct <= 0 {
		return nil
	}
	mask := image.NewGray(image.Rect(0, 0, w, h))
	cut := h - int(math.Round(float64(h)*pct/100))
	for y := 0; y < h; y++ {
		v := uint8(255)
		if y >= cut {
			v = 0
		}
		row := mask.Pix[y*mask.Stride : y*mask.Stride+w]
		for x := range row {
			row[x] = v
		}
	}
	return mask
}

// EffectiveMask combines an optional static mask with the bottom band
// exclusion for a w x h frame. Nil means every pixel is analysed.
func EffectiveMask(static *image.Gray, w, h int, excludeBottomPct float64) *image.Gray {
	band := BottomBandMask(w, h, excludeBottomPct)
	if static == nil {
		return band
	}

	resized := ResizeMask(static, w, h)
	out := image.NewGray(image.Rect(0, 0, w, h))
	for i := range out.Pix {
		if resized.Pix[i] != 0 && (band == nil || band.Pix[i] != 0) {
			out.Pix[i] = 255
		}
	}
	return out
}
