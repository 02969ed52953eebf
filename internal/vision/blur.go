package vision

import "image"

// gaussian5 is the 5-tap binomial kernel used for sigma derived from ksize 5
var gaussian5 = [5]int{1, 4, 6, 4, 1}

// reflect101 maps an out-of-range index back into [0, n) mirroring around
// the edge pixel without repeating it (dcb|abcd|cba).
func reflect101(i, n int) int {
	if n == 1 {
		return 0
	}
	for i < 0 || i >= n {
		if i < 0 {
			i = -i
		}
		if i >= n {
			i = 2*n - 2 - i
		}
	}
	return i
}

// GaussianBlur5 applies a separable 5x5 Gaussian blur.
func GaussianBlur5(src *image.Gray) *image.Gray {
	w, h := src.Bounds().Dx(), src.Bounds().Dy()
	tmp := make([]int, w*h)

	for y := 0; y < h; y++ {
		row := src.Pix[y*src.Stride:]
		for x := 0; x < w; x++ {
			sum := 0
			for k, c := range gaussian5 {
				sum += c * int(row[reflect101(x+k-2, w)])
			}
			tmp[y*w+x] = sum
		}
	}

	dst := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			sum := 0
			for k, c := range gaussian5 {
				sum += c * tmp[reflect101(y+k-2, h)*w+x]
			}
			dst.Pix[y*dst.Stride+x] = uint8((sum + 128) >> 8)
		}
	}
	return dst
}
