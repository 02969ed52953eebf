// Package vision implements the image operations used by meteor detection:
// grayscale conversion, frame differencing, masking, Gaussian blur, Canny
// edge extraction and the probabilistic Hough line transform.
package vision

import (
	"image"
	"image/color"
)

// ToGray converts an image to 8-bit luma using the BT.601 weights.
func ToGray(img image.Image) *image.Gray {
	b := img.Bounds()
	dst := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))

	if rgba, ok := img.(*image.RGBA); ok {
		for y := 0; y < b.Dy(); y++ {
			src := rgba.Pix[y*rgba.Stride : y*rgba.Stride+b.Dx()*4]
			row := dst.Pix[y*dst.Stride : y*dst.Stride+b.Dx()]
			for x := range row {
				row[x] = luma(src[x*4], src[x*4+1], src[x*4+2])
			}
		}
		return dst
	}

	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			c := color.RGBAModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.RGBA)
			dst.Pix[y*dst.Stride+x] = luma(c.R, c.G, c.B)
		}
	}
	return dst
}

// luma uses 14-bit fixed point coefficients for 0.299, 0.587 and 0.114
func luma(r, g, b uint8) uint8 {
	const (
		cr    = 4899
		cg    = 9617
		cb    = 1868
		shift = 14
	)
	return uint8((int(r)*cr + int(g)*cg + int(b)*cb + 1<<(shift-1)) >> shift)
}

// MaxAbsDiff folds |a-b| into acc with a pixel-wise maximum.
// All three images must share the same dimensions.
func MaxAbsDiff(acc, a, b *image.Gray) {
	for i := range acc.Pix {
		d := int(a.Pix[i]) - int(b.Pix[i])
		if d < 0 {
			d = -d
		}
		if uint8(d) > acc.Pix[i] {
			acc.Pix[i] = uint8(d)
		}
	}
}

// MaxGray folds src into acc with a pixel-wise maximum.
func MaxGray(acc, src *image.Gray) {
	for i, v := range src.Pix {
		if v > acc.Pix[i] {
			acc.Pix[i] = v
		}
	}
}

// MaxRGBA folds src into acc channel by channel (lighten blend).
func MaxRGBA(acc, src *image.RGBA) {
	for i, v := range src.Pix {
		if v > acc.Pix[i] {
			acc.Pix[i] = v
		}
	}
}

// CloneRGBA returns a copy of img with bounds rebased to the origin.
func CloneRGBA(img image.Image) *image.RGBA {
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	if src, ok := img.(*image.RGBA); ok && src.Stride == dst.Stride && b.Min == (image.Point{}) {
		copy(dst.Pix, src.Pix)
		return dst
	}
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			dst.Set(x, y, img.At(b.Min.X+x, b.Min.Y+y))
		}
	}
	return dst
}

// CloneGray returns a copy of g.
func CloneGray(g *image.Gray) *image.Gray {
	dst := image.NewGray(g.Rect)
	copy(dst.Pix, g.Pix)
	return dst
}

// ApplyMask zeroes pixels of g where mask is zero. A nil mask is a no-op.
func ApplyMask(g, mask *image.Gray) {
	if mask == nil {
		return
	}
	for i := range g.Pix {
		if mask.Pix[i] == 0 {
			g.Pix[i] = 0
		}
	}
}
