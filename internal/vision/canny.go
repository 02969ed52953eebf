package vision

import "image"

const (
	edgeNone   = 0
	edgeWeak   = 1
	edgeStrong = 2
)

func clampIndex(i, n int) int {
	if i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}

// sobel returns the 3x3 Sobel derivatives with replicated borders.
func sobel(src *image.Gray) (dx, dy []int) {
	w, h := src.Bounds().Dx(), src.Bounds().Dy()
	dx = make([]int, w*h)
	dy = make([]int, w*h)

	at := func(x, y int) int {
		return int(src.Pix[clampIndex(y, h)*src.Stride+clampIndex(x, w)])
	}

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			tl, tc, tr := at(x-1, y-1), at(x, y-1), at(x+1, y-1)
			ml, mr := at(x-1, y), at(x+1, y)
			bl, bc, br := at(x-1, y+1), at(x, y+1), at(x+1, y+1)

			dx[y*w+x] = (tr + 2*mr + br) - (tl + 2*ml + bl)
			dy[y*w+x] = (bl + 2*bc + br) - (tl + 2*tc + tr)
		}
	}
	return dx, dy
}

// Canny extracts edges with an L1 gradient magnitude, non-maximum
// suppression and hysteresis between low and high. Edge pixels are 255.
func Canny(src *image.Gray, low, high float64) *image.Gray {
	if low > high {
		low, high = high, low
	}
	w, h := src.Bounds().Dx(), src.Bounds().Dy()
	dst := image.NewGray(image.Rect(0, 0, w, h))
	if w < 3 || h < 3 {
		return dst
	}

	dx, dy := sobel(src)
	mag := make([]int, w*h)
	for i := range mag {
		mag[i] = abs(dx[i]) + abs(dy[i])
	}

	lowT, highT := int(low), int(high)
	magAt := func(x, y int) int {
		if x < 0 || x >= w || y < 0 || y >= h {
			return 0
		}
		return mag[y*w+x]
	}

	// tan(22.5°) in Q15
	const tg22 = 13573

	state := make([]uint8, w*h)
	stack := make([]int, 0, 1024)

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := y*w + x
			m := mag[i]
			if m <= lowT {
				continue
			}

			xs, ys := abs(dx[i]), abs(dy[i])<<15
			tg22x := xs * tg22
			var isMax bool
			switch {
			case ys < tg22x:
				isMax = m > magAt(x-1, y) && m >= magAt(x+1, y)
			case ys > tg22x+(xs<<16):
				isMax = m > magAt(x, y-1) && m >= magAt(x, y+1)
			default:
				s := 1
				if (dx[i] < 0) != (dy[i] < 0) {
					s = -1
				}
				isMax = m > magAt(x-s, y-1) && m > magAt(x+s, y+1)
			}
			if !isMax {
				continue
			}

			if m > highT {
				state[i] = edgeStrong
				stack = append(stack, i)
			} else {
				state[i] = edgeWeak
			}
		}
	}

	for len(stack) > 0 {
		i := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		x, y := i%w, i/w
		for ny := y - 1; ny <= y+1; ny++ {
			for nx := x - 1; nx <= x+1; nx++ {
				if nx < 0 || nx >= w || ny < 0 || ny >= h {
					continue
				}
				j := ny*w + nx
				if state[j] == edgeWeak {
					state[j] = edgeStrong
					stack = append(stack, j)
				}
			}
		}
	}

	for i, s := range state {
		if s == edgeStrong {
			dst.Pix[i] = 255
		}
	}
	return dst
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
