package pipeline

import (
	"context"
	"os"
	"time"

	"github.com/ysmr3104/atomcam-meteor-detector/internal/datastore"
	"github.com/ysmr3104/atomcam-meteor-detector/internal/detector"
	"github.com/ysmr3104/atomcam-meteor-detector/internal/errors"
	"github.com/ysmr3104/atomcam-meteor-detector/internal/extractor"
	"github.com/ysmr3104/atomcam-meteor-detector/internal/hooks"
	"github.com/ysmr3104/atomcam-meteor-detector/internal/logger"
	"github.com/ysmr3104/atomcam-meteor-detector/internal/observability/metrics"
	"github.com/ysmr3104/atomcam-meteor-detector/internal/vision"
)

// defaultClipSeconds bounds extraction ranges when the clip length is unknown
const defaultClipSeconds = 60.0

// clipRef identifies the clip being processed
type clipRef struct {
	id        string // store identity: camera URL or local path
	date      string // observation date
	hour      int
	minute    int
	localPath string
}

// clipOutcome is what one detection pass produced
type clipOutcome struct {
	detected  bool
	imagePath string
	cancelled bool // detection was interrupted, the clip keeps its status
}

// processClip detects one clip and persists the result. Detection failures
// are recorded on the clip and reported as an error event; they never abort
// the batch. Only a store write failure is returned.
func (p *Pipeline) processClip(ctx context.Context, ref clipRef, emit bool) (clipOutcome, error) {
	log := GetLogger().With(logger.String("clip", ref.id))
	outDir := p.clipOutputDir(ref.date, ref.hour)
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		log.Warn("failed to create output directory", logger.String("dir", outDir), logger.Error(err))
	}

	start := time.Now()
	res, err := p.detector.DetectFile(ctx, ref.localPath, outDir)
	p.observe(metrics.OpDetect, start, err)
	if err != nil && ctx.Err() != nil {
		log.Info("detection interrupted")
		return clipOutcome{cancelled: true}, nil
	}
	if err != nil {
		log.Error("detection failed", logger.Error(err))
		p.recordClip(datastore.StatusError)
		if storeErr := p.updateClip(ctx, ref.id, datastore.ClipUpdate{
			Status:       datastore.Ptr(datastore.StatusError),
			ErrorMessage: datastore.Ptr(err.Error()),
		}); storeErr != nil {
			return clipOutcome{}, storeErr
		}
		if emit {
			p.hooks.Error(ctx, hooks.ErrorEvent{
				Stage:   hooks.StageDetection,
				Err:     err,
				Context: map[string]string{"clip_url": ref.id},
			})
		}
		return clipOutcome{}, nil
	}

	if !res.Detected {
		p.recordClip(datastore.StatusNoDetection)
		return clipOutcome{}, p.updateClip(ctx, ref.id, datastore.ClipUpdate{
			Status:         datastore.Ptr(datastore.StatusNoDetection),
			DetectionImage: datastore.Ptr(""),
			DetectedVideos: datastore.Ptr(datastore.VideoPaths{}),
			LineCount:      datastore.Ptr(0),
			ErrorMessage:   datastore.Ptr(""),
		})
	}

	videos := p.extractHighlights(ctx, ref, res, outDir)
	p.recordClip(datastore.StatusDetected)
	if err := p.updateClip(ctx, ref.id, datastore.ClipUpdate{
		Status:         datastore.Ptr(datastore.StatusDetected),
		DetectionImage: datastore.Ptr(res.ImagePath),
		DetectedVideos: datastore.Ptr(videos),
		LineCount:      datastore.Ptr(res.LineCount),
		ErrorMessage:   datastore.Ptr(""),
	}); err != nil {
		return clipOutcome{}, err
	}
	if err := p.saveDetections(ctx, ref.id, res); err != nil {
		return clipOutcome{}, err
	}

	log.Info("meteor detected",
		logger.Int("lines", res.LineCount),
		logger.Any("groups", res.DetectionGroups))
	if emit {
		p.hooks.Detection(ctx, hooks.DetectionEvent{
			Date:      ref.date,
			Hour:      ref.hour,
			Minute:    ref.minute,
			LineCount: res.LineCount,
			ImagePath: res.ImagePath,
			ClipPath:  ref.localPath,
		})
	}
	return clipOutcome{detected: true, imagePath: res.ImagePath}, nil
}

// extractHighlights cuts the detection ranges out of the clip. Any failure
// falls back to the original clip so the clip still has a video artifact.
func (p *Pipeline) extractHighlights(ctx context.Context, ref clipRef, res *detector.Result, outDir string) datastore.VideoPaths {
	fallback := datastore.VideoPaths{ref.localPath}
	if p.extractor == nil {
		return fallback
	}

	cfg := p.detector.Config()
	duration := defaultClipSeconds
	if res.FPS > 0 && res.FramesProcessed > 0 {
		duration = float64(res.FramesProcessed) / res.FPS
	}
	ranges := extractor.ComputeRanges(res.DetectionGroups, cfg.ExposureSeconds, cfg.ClipMarginSeconds, duration)
	if len(ranges) == 0 {
		return fallback
	}

	start := time.Now()
	paths, err := p.extractor.Extract(ctx, ref.localPath, ranges, outDir)
	p.observe(metrics.OpExtract, start, err)
	if err != nil || len(paths) == 0 {
		GetLogger().Warn("clip extraction failed, using original",
			logger.String("clip", ref.localPath),
			logger.Error(err))
		return fallback
	}
	return paths
}

// saveDetections stores one row per detection group with the bounding box
// of its surviving lines and its group image.
func (p *Pipeline) saveDetections(ctx context.Context, clipID string, res *detector.Result) error {
	if p.store == nil || len(res.DetectionGroups) == 0 {
		return nil
	}
	clip, err := p.store.Clips.GetClip(ctx, clipID)
	if err != nil {
		return err
	}

	rows := make([]datastore.Detection, 0, len(res.DetectionGroups))
	for i, g := range res.DetectionGroups {
		row := datastore.Detection{LineIndex: g}
		if i < len(res.GroupLines) {
			if box, ok := vision.BoundingBox(res.GroupLines[i]); ok {
				row.X1, row.Y1, row.X2, row.Y2 = box.X1, box.Y1, box.X2, box.Y2
			}
		}
		if i < len(res.GroupImages) {
			row.CropImage = res.GroupImages[i]
		}
		rows = append(rows, row)
	}
	return p.store.Detections.SaveDetections(ctx, clip.ID, rows)
}

func (p *Pipeline) updateClip(ctx context.Context, clipID string, update datastore.ClipUpdate) error {
	if p.store == nil {
		return nil
	}
	return p.store.Clips.UpdateClip(ctx, clipID, update)
}

// finishNight writes the composite and the night output row. newImages are
// blended onto seed when it names an existing composite.
func (p *Pipeline) finishNight(ctx context.Context, date string, newImages []string, seed string, keepExisting bool) (composite string, count int, err error) {
	var existing *datastore.NightOutput
	if p.store != nil {
		existing, err = p.store.Nights.GetOutput(ctx, date)
		if err != nil && !errors.Is(err, datastore.ErrNightNotFound) {
			return "", 0, err
		}
	}
	if existing == nil {
		existing = &datastore.NightOutput{Date: date}
	}

	if keepExisting {
		composite = existing.CompositeImage
	}
	if len(newImages) > 0 {
		composite = p.buildComposite(ctx, date, newImages, seed, composite)
	}

	if p.store == nil {
		return composite, 0, nil
	}

	count, err = p.store.Clips.CountDetectedClips(ctx, date)
	if err != nil {
		return composite, 0, err
	}
	err = p.store.Nights.UpsertOutput(ctx, &datastore.NightOutput{
		Date:           date,
		CompositeImage: composite,
		ConcatVideo:    existing.ConcatVideo,
		DetectionCount: count,
	})
	if err != nil {
		return composite, count, err
	}
	if p.metrics != nil {
		p.metrics.SetNightDetections(date, count)
	}
	return composite, count, nil
}

// buildComposite returns the new composite path, or current on failure
func (p *Pipeline) buildComposite(ctx context.Context, date string, images []string, seed, current string) string {
	output := p.CompositePath(date)
	if err := os.MkdirAll(p.nightDir(date), 0o755); err != nil {
		GetLogger().Warn("failed to create night directory", logger.String("date", date), logger.Error(err))
	}

	start := time.Now()
	path, err := p.composite(images, output, seed)
	p.observe(metrics.OpComposite, start, err)
	if err != nil {
		GetLogger().Error("compositing failed", logger.String("date", date), logger.Error(err))
		p.hooks.Error(ctx, hooks.ErrorEvent{
			Stage:   hooks.StageComposite,
			Err:     err,
			Context: map[string]string{"date": date},
		})
		return current
	}
	return path
}
