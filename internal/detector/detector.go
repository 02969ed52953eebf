// Package detector finds meteor streaks in a clip. Frames are grouped into
// simulated long exposures; each group's frame-difference composite is run
// through Canny and a probabilistic Hough transform, and groups with at least
// one bright enough line count as detections.
package detector

import (
	"context"
	"fmt"
	"image"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ysmr3104/atomcam-meteor-detector/internal/errors"
	"github.com/ysmr3104/atomcam-meteor-detector/internal/logger"
	"github.com/ysmr3104/atomcam-meteor-detector/internal/media"
	"github.com/ysmr3104/atomcam-meteor-detector/internal/vision"
)

// ErrDetection is wrapped by every error returned from the detector.
var ErrDetection = errors.NewStd("meteor detection failed")

// GetLogger returns the detector module logger
func GetLogger() logger.Logger {
	return logger.Global().Module("detector")
}

// Result describes what was found in one clip.
type Result struct {
	Detected        bool            `json:"detected"`
	LineCount       int             `json:"line_count"`
	ImagePath       string          `json:"image_path,omitempty"`
	Lines           []vision.Line   `json:"lines"`
	DetectionGroups []int           `json:"detection_groups"`
	FPS             float64         `json:"fps"`
	GroupImages     []string        `json:"group_images"`
	FramesProcessed int             `json:"frames_processed"`
	GroupLines      [][]vision.Line `json:"group_lines"`
}

// Detector runs detection with a fixed Config.
type Detector struct {
	cfg    Config
	opener media.Opener
	mask   *image.Gray
}

// New creates a Detector. A configured mask that is missing or unreadable is
// logged and ignored.
func New(cfg Config, opener media.Opener) *Detector {
	d := &Detector{cfg: cfg, opener: opener}
	if cfg.MaskPath == "" {
		return d
	}

	if _, err := os.Stat(cfg.MaskPath); err != nil {
		GetLogger().Warn("mask path configured but not found", logger.String("path", cfg.MaskPath))
		return d
	}
	mask, err := vision.LoadMask(cfg.MaskPath)
	if err != nil {
		GetLogger().Warn("failed to load mask", logger.String("path", cfg.MaskPath), logger.Error(err))
		return d
	}
	d.mask = mask
	GetLogger().Info("loaded detection mask", logger.String("path", cfg.MaskPath))
	return d
}

// Config returns the parameters the detector was built with
func (d *Detector) Config() Config {
	return d.cfg
}

// DetectFile opens clipPath and runs Detect on it. When the clip cannot be
// opened a not-detected result is returned together with the error so callers
// can record the failure and move on.
func (d *Detector) DetectFile(ctx context.Context, clipPath, outputDir string) (*Result, error) {
	src, err := d.opener.Open(ctx, clipPath)
	if err != nil {
		GetLogger().Error("failed to open video", logger.String("clip", clipPath), logger.Error(err))
		return &Result{}, detectionError(err, errors.CategoryFileIO, clipPath)
	}
	defer func() {
		if err := src.Close(); err != nil {
			GetLogger().Debug("closing frame source", logger.String("clip", clipPath), logger.Error(err))
		}
	}()

	return d.Detect(ctx, src, clipPath, outputDir)
}

// group accumulates one exposure group. Only the previous grayscale frame and
// the two composites are kept.
type group struct {
	index  int
	frames int
	prev   *image.Gray
	diff   *image.Gray
	color  *image.RGBA
}

// Detect consumes src and writes {stem}_detect.png plus one
// {stem}_group{N}.png per detection group into outputDir. clipPath only
// names the outputs and error context.
func (d *Detector) Detect(ctx context.Context, src media.Source, clipPath, outputDir string) (*Result, error) {
	log := GetLogger().With(logger.String("clip", filepath.Base(clipPath)))
	start := time.Now()

	fps := src.FrameRate()
	if fps <= 0 || math.IsNaN(fps) || math.IsInf(fps, 0) {
		log.Warn("could not determine fps, using default", logger.Float64("fps", DefaultFPS))
		fps = DefaultFPS
	}
	perGroup := d.cfg.FramesPerGroup(fps)
	log.Debug("processing clip", logger.Float64("fps", fps), logger.Int("frames_per_group", perGroup))

	stem := strings.TrimSuffix(filepath.Base(clipPath), filepath.Ext(clipPath))
	result := &Result{FPS: fps}

	var (
		final  *image.RGBA
		mask   *image.Gray
		bounds image.Rectangle
		cur    = &group{}
	)

	finish := func(g *group) error {
		if g.frames < 2 {
			return nil
		}
		if final == nil {
			final = vision.CloneRGBA(g.color)
		} else {
			vision.MaxRGBA(final, g.color)
		}

		lines := d.analyze(g.diff, mask)
		if len(lines) == 0 {
			return nil
		}

		imgPath := filepath.Join(outputDir, fmt.Sprintf("%s_group%d.png", stem, g.index))
		if err := vision.SaveImage(imgPath, g.color); err != nil {
			return err
		}
		log.Debug("detection group", logger.Int("group", g.index), logger.Int("lines", len(lines)))

		result.DetectionGroups = append(result.DetectionGroups, g.index)
		result.GroupImages = append(result.GroupImages, imgPath)
		result.GroupLines = append(result.GroupLines, lines)
		result.Lines = append(result.Lines, lines...)
		return nil
	}

	for {
		frame, err := src.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return result, detectionError(fmt.Errorf("decode frame %d: %w", result.FramesProcessed, err), errors.CategoryDetection, clipPath)
		}

		if result.FramesProcessed == 0 {
			bounds = frame.Bounds()
			mask = vision.EffectiveMask(d.mask, bounds.Dx(), bounds.Dy(), d.cfg.ExcludeBottomPct)
		} else if frame.Bounds().Size() != bounds.Size() {
			return result, detectionError(fmt.Errorf("frame %d size %v differs from %v", result.FramesProcessed, frame.Bounds().Size(), bounds.Size()), errors.CategoryDetection, clipPath)
		}
		result.FramesProcessed++

		gray := vision.ToGray(frame)
		if cur.frames == 0 {
			cur.diff = image.NewGray(gray.Rect)
			cur.color = vision.CloneRGBA(frame)
		} else {
			vision.MaxAbsDiff(cur.diff, cur.prev, gray)
			vision.MaxRGBA(cur.color, frame)
		}
		cur.prev = gray
		cur.frames++

		if cur.frames == perGroup {
			if err := ctx.Err(); err != nil {
				return result, detectionError(err, errors.CategoryCancellation, clipPath)
			}
			if err := finish(cur); err != nil {
				return result, detectionError(err, errors.CategoryFileIO, clipPath)
			}
			cur = &group{index: cur.index + 1}
		}
	}
	if err := finish(cur); err != nil {
		return result, detectionError(err, errors.CategoryFileIO, clipPath)
	}

	if final == nil {
		log.Warn("no frames processed", logger.Int("frames", result.FramesProcessed))
		return result, nil
	}

	result.LineCount = len(result.Lines)
	result.Detected = len(result.DetectionGroups) > 0
	if !result.Detected {
		log.Debug("no lines detected", logger.Duration("elapsed", time.Since(start)))
		return result, nil
	}

	result.ImagePath = filepath.Join(outputDir, stem+"_detect.png")
	if err := vision.SaveImage(result.ImagePath, final); err != nil {
		return result, detectionError(err, errors.CategoryFileIO, clipPath)
	}

	log.Info("meteor lines detected",
		logger.Int("lines", result.LineCount),
		logger.Int("groups", len(result.DetectionGroups)),
		logger.Duration("elapsed", time.Since(start)))
	return result, nil
}

// analyze returns the lines surviving every filter in a group's diff composite
func (d *Detector) analyze(diff, mask *image.Gray) []vision.Line {
	vision.ApplyMask(diff, mask)
	edges := vision.Canny(vision.GaussianBlur5(diff), float64(d.cfg.CannyLow), float64(d.cfg.CannyHigh))
	lines := vision.HoughLinesP(edges, vision.HoughParams{
		Rho:           1,
		Theta:         math.Pi / 180,
		Threshold:     d.cfg.HoughThreshold,
		MinLineLength: d.cfg.MinLineLength,
		MaxLineGap:    d.cfg.MaxLineGap,
	})
	return vision.FilterByBrightness(diff, lines, d.cfg.MinLineBrightness)
}

func detectionError(err error, category errors.ErrorCategory, clipPath string) error {
	return errors.New(fmt.Errorf("%w: %s: %w", ErrDetection, clipPath, err)).
		Component("detector").
		Category(category).
		Context("clip_path", clipPath).
		Build()
}
