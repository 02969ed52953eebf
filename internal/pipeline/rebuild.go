package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ysmr3104/atomcam-meteor-detector/internal/compositor"
	"github.com/ysmr3104/atomcam-meteor-detector/internal/datastore"
	"github.com/ysmr3104/atomcam-meteor-detector/internal/errors"
	"github.com/ysmr3104/atomcam-meteor-detector/internal/logger"
	"github.com/ysmr3104/atomcam-meteor-detector/internal/observability/metrics"
	"github.com/ysmr3104/atomcam-meteor-detector/internal/vision"
)

// RebuildComposite recomputes a night's composite from stored detections,
// leaving out excluded clips and blacking out excluded detection groups.
// The concatenated video path is preserved.
func (p *Pipeline) RebuildComposite(ctx context.Context, date string) (result *Result, err error) {
	start := time.Now()
	defer func() { p.observe(metrics.OpComposite, start, err) }()

	if err := requireStore(p.store, "rebuild_composite"); err != nil {
		return nil, err
	}

	clips, err := p.store.Clips.ListIncludedDetectedClips(ctx, date)
	if err != nil {
		return nil, err
	}
	existing, err := p.existingOutput(ctx, date)
	if err != nil {
		return nil, err
	}

	var images []string
	counted := 0
	for i := range clips {
		img, ok, err := p.compositeSource(ctx, &clips[i])
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		counted++
		if img != "" {
			images = append(images, img)
		}
	}

	var composite string
	if len(images) > 0 {
		if err := os.MkdirAll(p.nightDir(date), 0o755); err != nil {
			GetLogger().Warn("failed to create night directory", logger.String("date", date), logger.Error(err))
		}
		composite, err = p.composite(images, p.CompositePath(date), "")
		if err != nil {
			GetLogger().Error("rebuild compositing failed", logger.String("date", date), logger.Error(err))
			composite = ""
		}
	}

	if err := p.store.Nights.UpsertOutput(ctx, &datastore.NightOutput{
		Date:           date,
		CompositeImage: composite,
		ConcatVideo:    existing.ConcatVideo,
		DetectionCount: counted,
	}); err != nil {
		return nil, err
	}

	GetLogger().Info("composite rebuilt",
		logger.String("date", date),
		logger.Int("clips", counted),
		logger.String("composite", composite))
	return &Result{
		Date:            date,
		DetectionsFound: counted,
		CompositeImage:  composite,
		ConcatVideo:     existing.ConcatVideo,
	}, nil
}

// compositeSource picks the image a clip contributes to the composite.
// ok is false when every detection group of the clip is excluded.
func (p *Pipeline) compositeSource(ctx context.Context, clip *datastore.Clip) (string, bool, error) {
	dets, err := p.store.Detections.ListByClip(ctx, clip.ID)
	if err != nil {
		return "", false, err
	}
	if len(dets) == 0 {
		return clip.DetectionImage, true, nil
	}

	var excluded []vision.Line
	for _, d := range dets {
		if d.Excluded {
			excluded = append(excluded, vision.Line{X1: d.X1, Y1: d.Y1, X2: d.X2, Y2: d.Y2})
		}
	}
	switch {
	case len(excluded) == len(dets):
		return "", false, nil
	case len(excluded) == 0 || clip.DetectionImage == "":
		return clip.DetectionImage, true, nil
	}

	masked := maskedPath(clip.DetectionImage)
	if err := compositor.MaskLinesFile(clip.DetectionImage, excluded, masked); err != nil {
		GetLogger().Warn("failed to mask excluded detections, using full image",
			logger.String("image", clip.DetectionImage),
			logger.Error(err))
		return clip.DetectionImage, true, nil
	}
	return masked, true, nil
}

// RebuildConcatenation joins the highlight clips of included detections into
// the night video. The composite path and detection count are preserved.
func (p *Pipeline) RebuildConcatenation(ctx context.Context, date string) (result *Result, err error) {
	start := time.Now()
	defer func() { p.observe(metrics.OpConcat, start, err) }()

	if err := requireStore(p.store, "rebuild_concatenation"); err != nil {
		return nil, err
	}
	if p.concatenator == nil {
		return nil, errors.New(ErrPipeline).
			Component("pipeline").
			Category(errors.CategoryPipeline).
			Context("operation", "rebuild_concatenation").
			Build()
	}

	clips, err := p.store.Clips.ListIncludedDetectedClips(ctx, date)
	if err != nil {
		return nil, err
	}
	existing, err := p.existingOutput(ctx, date)
	if err != nil {
		return nil, err
	}

	var videos []string
	counted := 0
	for i := range clips {
		included, err := p.hasIncludedGroups(ctx, &clips[i])
		if err != nil {
			return nil, err
		}
		if !included {
			continue
		}
		counted++
		videos = append(videos, clips[i].DetectedVideos...)
	}

	var video string
	if len(videos) > 0 {
		if err := os.MkdirAll(p.nightDir(date), 0o755); err != nil {
			GetLogger().Warn("failed to create night directory", logger.String("date", date), logger.Error(err))
		}
		video, err = p.concatenator.Concatenate(ctx, videos, p.ConcatPath(date))
		if err != nil {
			GetLogger().Error("rebuild concatenation failed", logger.String("date", date), logger.Error(err))
			video = ""
		}
	}

	count := existing.DetectionCount
	if existing.ID == 0 {
		count = counted
	}
	if err := p.store.Nights.UpsertOutput(ctx, &datastore.NightOutput{
		Date:           date,
		CompositeImage: existing.CompositeImage,
		ConcatVideo:    video,
		DetectionCount: count,
	}); err != nil {
		return nil, err
	}

	GetLogger().Info("concatenation rebuilt",
		logger.String("date", date),
		logger.Int("clips", counted),
		logger.String("video", video))
	return &Result{
		Date:            date,
		DetectionsFound: counted,
		CompositeImage:  existing.CompositeImage,
		ConcatVideo:     video,
	}, nil
}

// hasIncludedGroups reports whether a clip contributes to rebuilds. Clips
// without detection rows fall back to the clip level flag.
func (p *Pipeline) hasIncludedGroups(ctx context.Context, clip *datastore.Clip) (bool, error) {
	dets, err := p.store.Detections.ListByClip(ctx, clip.ID)
	if err != nil {
		return false, err
	}
	if len(dets) == 0 {
		return true, nil
	}
	for _, d := range dets {
		if !d.Excluded {
			return true, nil
		}
	}
	return false, nil
}

func (p *Pipeline) existingOutput(ctx context.Context, date string) (*datastore.NightOutput, error) {
	out, err := p.store.Nights.GetOutput(ctx, date)
	if errors.Is(err, datastore.ErrNightNotFound) {
		return &datastore.NightOutput{Date: date}, nil
	}
	return out, err
}

// maskedPath derives ".../05_masked.png" from ".../05_detect.png"
func maskedPath(detectImage string) string {
	dir, base := filepath.Split(detectImage)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	stem = strings.TrimSuffix(stem, "_detect")
	return filepath.Join(dir, stem+"_masked.png")
}
