package vision

import (
	"image"
	"math"
)

// Line is a detected segment in pixel coordinates.
type Line struct {
	X1 int `json:"x1"`
	Y1 int `json:"y1"`
	X2 int `json:"x2"`
	Y2 int `json:"y2"`
}

// Length returns the Euclidean length of the segment.
func (l Line) Length() float64 {
	return math.Hypot(float64(l.X2-l.X1), float64(l.Y2-l.Y1))
}

// BoundingBox returns the smallest box covering all lines as a Line from
// the top-left to the bottom-right corner. ok is false for no lines.
func BoundingBox(lines []Line) (box Line, ok bool) {
	if len(lines) == 0 {
		return Line{}, false
	}
	box = Line{X1: math.MaxInt, Y1: math.MaxInt, X2: math.MinInt, Y2: math.MinInt}
	for _, l := range lines {
		box.X1 = min(box.X1, l.X1, l.X2)
		box.Y1 = min(box.Y1, l.Y1, l.Y2)
		box.X2 = max(box.X2, l.X1, l.X2)
		box.Y2 = max(box.Y2, l.Y1, l.Y2)
	}
	return box, true
}

// HoughParams configures HoughLinesP.
type HoughParams struct {
	Rho           float64 // distance resolution in pixels
	Theta         float64 // angle resolution in radians
	Threshold     int     // minimum accumulator votes
	MinLineLength int
	MaxLineGap    int
	MaxLines      int // 0 means unlimited
}

// mwcRNG is a multiply-with-carry generator; a fixed seed keeps the point
// visiting order, and therefore the output, deterministic.
type mwcRNG struct{ state uint64 }

func (r *mwcRNG) next() uint32 {
	r.state = uint64(uint32(r.state))*4164903690 + r.state>>32
	return uint32(r.state)
}

func (r *mwcRNG) uniform(a, b int) int {
	if a == b {
		return a
	}
	return a + int(r.next()%uint32(b-a))
}

// roundEven rounds half to even like lrint in the default rounding mode.
func roundEven(v float32) int {
	return int(math.RoundToEven(float64(v)))
}

func numAngles(theta float64) int {
	n := int(math.Floor(math.Pi/theta)) + 1
	if n > 1 && math.Abs(math.Pi-float64(n-1)*theta) < theta/2 {
		n--
	}
	return n
}

// HoughLinesP runs the progressive probabilistic Hough transform on a
// binary edge image. Points are visited in pseudo-random order; each point
// votes, and once a bin reaches the threshold the segment through the point
// is traced in both directions, tolerating gaps up to MaxLineGap. Pixels of
// a traced segment are removed from further voting.
func HoughLinesP(edges *image.Gray, p HoughParams) []Line {
	width, height := edges.Bounds().Dx(), edges.Bounds().Dy()
	if width == 0 || height == 0 || p.Rho <= 0 || p.Theta <= 0 {
		return nil
	}

	irho := 1 / p.Rho
	numangle := numAngles(p.Theta)
	numrho := int(math.Round(float64((width+height)*2+1) / p.Rho))
	accum := make([]int32, numangle*numrho)

	trig := make([]float32, numangle*2)
	for n := range numangle {
		trig[n*2] = float32(math.Cos(float64(n)*p.Theta) * irho)
		trig[n*2+1] = float32(math.Sin(float64(n)*p.Theta) * irho)
	}

	mask := make([]uint8, width*height)
	points := make([]image.Point, 0, 1024)
	for y := 0; y < height; y++ {
		row := edges.Pix[y*edges.Stride : y*edges.Stride+width]
		for x, v := range row {
			if v != 0 {
				mask[y*width+x] = 1
				points = append(points, image.Point{X: x, Y: y})
			}
		}
	}

	rhoIndex := func(n, x, y int) int {
		return roundEven(float32(x)*trig[n*2]+float32(y)*trig[n*2+1]) + (numrho-1)/2
	}

	const shift = 16
	rng := mwcRNG{state: math.MaxUint64}
	var lines []Line

	for count := len(points); count > 0; count-- {
		idx := rng.uniform(0, count)
		pt := points[idx]
		points[idx] = points[count-1]

		if mask[pt.Y*width+pt.X] == 0 {
			continue
		}

		maxVal, maxN := int32(p.Threshold-1), 0
		for n := range numangle {
			r := n*numrho + rhoIndex(n, pt.X, pt.Y)
			accum[r]++
			if accum[r] > maxVal {
				maxVal, maxN = accum[r], n
			}
		}
		if maxVal < int32(p.Threshold) {
			continue
		}

		a := -trig[maxN*2+1]
		b := trig[maxN*2]
		x0, y0 := pt.X, pt.Y
		var dx0, dy0 int
		xflag := abs32(a) > abs32(b)
		if xflag {
			dx0 = 1
			if a <= 0 {
				dx0 = -1
			}
			dy0 = roundEven(b * (1 << shift) / abs32(a))
			y0 = y0<<shift + 1<<(shift-1)
		} else {
			dy0 = 1
			if b <= 0 {
				dy0 = -1
			}
			dx0 = roundEven(a * (1 << shift) / abs32(b))
			x0 = x0<<shift + 1<<(shift-1)
		}

		pixel := func(x, y int) (px, py int) {
			if xflag {
				return x, y >> shift
			}
			return x >> shift, y
		}

		var ends [2]image.Point
		for k := range 2 {
			gap := 0
			dx, dy := dx0, dy0
			if k > 0 {
				dx, dy = -dx, -dy
			}
			for x, y := x0, y0; ; x, y = x+dx, y+dy {
				px, py := pixel(x, y)
				if px < 0 || px >= width || py < 0 || py >= height {
					break
				}
				if mask[py*width+px] != 0 {
					gap = 0
					ends[k] = image.Point{X: px, Y: py}
				} else {
					gap++
					if gap > p.MaxLineGap {
						break
					}
				}
			}
		}

		good := abs(ends[1].X-ends[0].X) >= p.MinLineLength || abs(ends[1].Y-ends[0].Y) >= p.MinLineLength

		for k := range 2 {
			dx, dy := dx0, dy0
			if k > 0 {
				dx, dy = -dx, -dy
			}
			for x, y := x0, y0; ; x, y = x+dx, y+dy {
				px, py := pixel(x, y)
				if mask[py*width+px] != 0 {
					if good {
						for n := range numangle {
							accum[n*numrho+rhoIndex(n, px, py)]--
						}
					}
					mask[py*width+px] = 0
				}
				if px == ends[k].X && py == ends[k].Y {
					break
				}
			}
		}

		if good {
			lines = append(lines, Line{X1: ends[0].X, Y1: ends[0].Y, X2: ends[1].X, Y2: ends[1].Y})
			if p.MaxLines > 0 && len(lines) >= p.MaxLines {
				break
			}
		}
	}

	return lines
}

func abs32(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}
