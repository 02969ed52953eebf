// Package compositor builds lighten-blended night composites and masks
// excluded detections out of detection images.
package compositor

import (
	"fmt"
	"image"
	"os"

	"github.com/fogleman/gg"

	"github.com/ysmr3104/atomcam-meteor-detector/internal/errors"
	"github.com/ysmr3104/atomcam-meteor-detector/internal/logger"
	"github.com/ysmr3104/atomcam-meteor-detector/internal/vision"
)

// ErrComposite is wrapped by every error returned from this package.
var ErrComposite = errors.NewStd("composite failed")

// Mask geometry shared with the per-group crop images.
const (
	MaskPadding = 80
	MaskMinSize = 120
)

// GetLogger returns the compositor module logger
func GetLogger() logger.Logger {
	return logger.Global().Module("compositor")
}

// Composite lighten-blends images into output. When seed names a readable
// image it is used as the starting canvas so composites can grow across runs.
// Unreadable images and images whose size differs from the canvas are skipped.
func Composite(paths []string, output, seed string) (string, error) {
	log := GetLogger()
	var canvas *image.RGBA

	if seed != "" {
		if _, err := os.Stat(seed); err == nil {
			img, err := vision.LoadImage(seed)
			if err != nil {
				log.Warn("failed to load existing composite", logger.String("path", seed), logger.Error(err))
			} else {
				canvas = vision.CloneRGBA(img)
			}
		}
	}

	for _, p := range paths {
		img, err := vision.LoadImage(p)
		if err != nil {
			log.Warn("failed to load image, skipping", logger.String("path", p), logger.Error(err))
			continue
		}

		frame := vision.CloneRGBA(img)
		if canvas == nil {
			canvas = frame
			continue
		}
		if frame.Bounds() != canvas.Bounds() {
			log.Warn("size mismatch, skipping",
				logger.String("path", p),
				logger.String("want", canvas.Bounds().Size().String()),
				logger.String("got", frame.Bounds().Size().String()))
			continue
		}
		vision.MaxRGBA(canvas, frame)
	}

	if canvas == nil {
		return "", compositeError(fmt.Errorf("%w: no valid images to composite", ErrComposite), errors.CategoryComposite, output)
	}

	if err := vision.SaveImage(output, canvas); err != nil {
		return "", compositeError(fmt.Errorf("%w: save %s: %w", ErrComposite, output, err), errors.CategoryFileIO, output)
	}

	log.Info("composite saved", logger.String("path", output), logger.Int("inputs", len(paths)))
	return output, nil
}

// MaskRect returns the region blacked out for line inside a w x h image.
func MaskRect(l vision.Line, w, h int) image.Rectangle {
	y1 := max(0, min(l.Y1, l.Y2)-MaskPadding)
	y2 := min(h, max(l.Y1, l.Y2)+MaskPadding)
	x1 := max(0, min(l.X1, l.X2)-MaskPadding)
	x2 := min(w, max(l.X1, l.X2)+MaskPadding)

	if y2-y1 < MaskMinSize {
		mid := (y1 + y2) / 2
		y1 = max(0, mid-MaskMinSize/2)
		y2 = min(h, y1+MaskMinSize)
	}
	if x2-x1 < MaskMinSize {
		mid := (x1 + x2) / 2
		x1 = max(0, mid-MaskMinSize/2)
		x2 = min(w, x1+MaskMinSize)
	}
	return image.Rect(x1, y1, x2, y2)
}

// MaskLines returns a copy of img with each line's padded region filled black.
func MaskLines(img image.Image, lines []vision.Line) *image.RGBA {
	out := vision.CloneRGBA(img)
	if len(lines) == 0 {
		return out
	}

	w, h := out.Bounds().Dx(), out.Bounds().Dy()
	dc := gg.NewContextForRGBA(out)
	dc.SetRGB(0, 0, 0)
	for _, l := range lines {
		r := MaskRect(l, w, h)
		if r.Empty() {
			continue
		}
		dc.DrawRectangle(float64(r.Min.X), float64(r.Min.Y), float64(r.Dx()), float64(r.Dy()))
	}
	dc.Fill()
	return out
}

// MaskLinesFile loads src, masks lines and writes the result to output.
func MaskLinesFile(src string, lines []vision.Line, output string) error {
	img, err := vision.LoadImage(src)
	if err != nil {
		return compositeError(fmt.Errorf("%w: load %s: %w", ErrComposite, src, err), errors.CategoryFileIO, output)
	}
	if err := vision.SaveImage(output, MaskLines(img, lines)); err != nil {
		return compositeError(fmt.Errorf("%w: save %s: %w", ErrComposite, output, err), errors.CategoryFileIO, output)
	}
	return nil
}

func compositeError(err error, category errors.ErrorCategory, output string) error {
	return errors.New(err).
		Component("compositor").
		Category(category).
		Context("output", output).
		Build()
}
