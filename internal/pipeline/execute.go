package pipeline

import (
	"context"
	"fmt"
	"os"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/ysmr3104/atomcam-meteor-detector/internal/conf"
	"github.com/ysmr3104/atomcam-meteor-detector/internal/datastore"
	"github.com/ysmr3104/atomcam-meteor-detector/internal/downloader"
	"github.com/ysmr3104/atomcam-meteor-detector/internal/errors"
	"github.com/ysmr3104/atomcam-meteor-detector/internal/hooks"
	"github.com/ysmr3104/atomcam-meteor-detector/internal/logger"
	"github.com/ysmr3104/atomcam-meteor-detector/internal/observability/metrics"
	"github.com/ysmr3104/atomcam-meteor-detector/internal/schedule"
)

// Execute runs the primary pipeline for an observation night. An empty date
// selects the current night. Clips that already reached a terminal status
// are not detected again; detected ones still count toward the result.
// Per-clip and per-slot failures are reported through hooks and skipped.
func (p *Pipeline) Execute(ctx context.Context, date string, opts ExecuteOptions) (result *Result, err error) {
	start := time.Now()
	defer func() { p.observe(metrics.OpRun, start, err) }()

	if p.source == nil {
		return nil, errors.New(fmt.Errorf("%w: execute requires a clip source", ErrPipeline)).
			Component("pipeline").
			Category(errors.CategoryPipeline).
			Build()
	}

	date, obs, err := p.resolveDate(date)
	if err != nil {
		return nil, err
	}
	plan, err := p.plans.Resolve(ctx, obs)
	if err != nil {
		return nil, err
	}

	log := GetLogger().With(logger.String("date", date))
	log.Info("pipeline starting",
		logger.String("window", plan.Window.String()),
		logger.Bool("dry_run", opts.DryRun))

	result = &Result{Date: date, DryRun: opts.DryRun}
	var newImages []string

	for _, slot := range p.dueSlots(plan.Window, obs) {
		if ctx.Err() != nil {
			result.Cancelled = true
			break
		}

		urls, err := p.source.ListClips(ctx, slot.Date, slot.Hour)
		if err != nil {
			if ctx.Err() != nil {
				result.Cancelled = true
				break
			}
			log.Error("failed to list clips", logger.String("slot_date", slot.Date), logger.Int("hour", slot.Hour), logger.Error(err))
			p.hooks.Error(ctx, hooks.ErrorEvent{
				Stage:   hooks.StageDownload,
				Err:     err,
				Context: map[string]string{"date": slot.Date, "hour": strconv.Itoa(slot.Hour)},
			})
			continue
		}

		for _, clipURL := range urls {
			minute, ok := clipMinute(clipURL)
			if !ok || !plan.Window.Contains(conf.Clock{Hour: slot.Hour, Minute: minute}) {
				continue
			}
			if opts.DryRun {
				log.Info("dry run: would process clip", logger.String("url", clipURL))
				result.Planned++
				continue
			}
			if ctx.Err() != nil {
				result.Cancelled = true
				break
			}

			ref := clipRef{id: clipURL, date: date, hour: slot.Hour, minute: minute}
			outcome, handled, err := p.executeClip(ctx, ref)
			if err != nil {
				return result, err
			}
			if outcome.cancelled {
				result.Cancelled = true
				break
			}
			if !handled {
				continue
			}
			result.ClipsProcessed++
			if outcome.detected {
				result.DetectionsFound++
				result.DetectedClips = append(result.DetectedClips, clipURL)
				if outcome.fresh && outcome.imagePath != "" {
					result.NewDetections++
					newImages = append(newImages, outcome.imagePath)
				}
			}
		}
		if result.Cancelled {
			break
		}
	}

	if opts.DryRun {
		log.Info("dry run complete", logger.Int("clips", result.Planned))
		return result, nil
	}

	// Finalize even when cancelled so the detections so far are kept
	finalCtx := context.WithoutCancel(ctx)
	composite, _, err := p.finishNight(finalCtx, date, newImages, p.CompositePath(date), true)
	if err != nil {
		return result, err
	}
	result.CompositeImage = composite

	p.hooks.NightComplete(finalCtx, hooks.NightCompleteEvent{
		Date:           date,
		Count:          result.DetectionsFound,
		CompositeImage: composite,
	})
	if p.metrics != nil {
		p.metrics.SetLastRun(float64(p.now().Unix()))
	}

	log.Info("pipeline complete",
		logger.Int("clips", result.ClipsProcessed),
		logger.Int("detections", result.DetectionsFound),
		logger.Int("new_detections", result.NewDetections),
		logger.Bool("cancelled", result.Cancelled))
	return result, nil
}

// executeOutcome extends clipOutcome with whether detection ran in this call
type executeOutcome struct {
	clipOutcome
	fresh bool
}

// executeClip records, downloads and detects one clip. handled is false when
// the clip could not be fetched and was skipped.
func (p *Pipeline) executeClip(ctx context.Context, ref clipRef) (executeOutcome, bool, error) {
	if p.store != nil {
		stored, err := p.store.Clips.GetClip(ctx, ref.id)
		switch {
		case err == nil && stored.Status.IsTerminal():
			GetLogger().Debug("clip already processed", logger.String("clip", ref.id), logger.String("status", string(stored.Status)))
			if err := p.refreshLocalPath(ctx, ref, stored); err != nil {
				return executeOutcome{}, false, err
			}
			return executeOutcome{clipOutcome: clipOutcome{
				detected:  stored.Status == datastore.StatusDetected,
				imagePath: stored.DetectionImage,
			}}, true, nil
		case err != nil && !errors.Is(err, datastore.ErrClipNotFound):
			return executeOutcome{}, false, err
		}

		if _, err := p.store.Clips.UpsertClip(ctx, &datastore.Clip{
			ClipURL: ref.id, Date: ref.date, Hour: ref.hour, Minute: ref.minute,
			Status: datastore.StatusPending,
		}); err != nil {
			return executeOutcome{}, false, err
		}
	}

	start := time.Now()
	localPath, err := p.source.DownloadClip(ctx, ref.id, p.cfg.DownloadDir)
	p.observe(metrics.OpDownload, start, err)
	if err != nil {
		if ctx.Err() == nil {
			GetLogger().Error("download failed", logger.String("clip", ref.id), logger.Error(err))
			p.hooks.Error(ctx, hooks.ErrorEvent{
				Stage:   hooks.StageDownload,
				Err:     err,
				Context: map[string]string{"clip_url": ref.id},
			})
		}
		return executeOutcome{}, false, nil
	}
	ref.localPath = localPath

	if p.store != nil {
		if _, err := p.store.Clips.UpsertClip(ctx, &datastore.Clip{
			ClipURL: ref.id, Date: ref.date, Hour: ref.hour, Minute: ref.minute,
			LocalPath: localPath, Status: datastore.StatusDownloaded,
		}); err != nil {
			return executeOutcome{}, false, err
		}
	}

	outcome, err := p.processClip(ctx, ref, true)
	return executeOutcome{clipOutcome: outcome, fresh: true}, true, err
}

// dueSlots drops slots whose hour has not started yet
func (p *Pipeline) dueSlots(w schedule.Window, obs time.Time) []schedule.Slot {
	loc := p.plans.Location()
	now := p.now().In(loc)

	var due []schedule.Slot
	for _, s := range w.Slots(obs) {
		start, err := s.Start(loc)
		if err != nil || start.After(now) {
			continue
		}
		due = append(due, s)
	}
	return due
}

// clipMinute parses the minute from a ".../MM.mp4" clip URL or path
func clipMinute(clip string) (int, bool) {
	name := strings.TrimSuffix(path.Base(strings.ReplaceAll(clip, "\\", "/")), ".mp4")
	minute, err := strconv.Atoi(name)
	if err != nil || minute < 0 || minute > 59 {
		return 0, false
	}
	return minute, true
}

// refreshLocalPath points a terminal clip at its current local copy. The
// upsert carries a downloaded status, which the store ignores for terminal
// clips, so only the path changes.
func (p *Pipeline) refreshLocalPath(ctx context.Context, ref clipRef, stored *datastore.Clip) error {
	localPath, err := downloader.LocalPath(ref.id, p.cfg.DownloadDir)
	if err != nil || localPath == stored.LocalPath {
		return nil
	}
	if info, err := os.Stat(localPath); err != nil || info.Size() == 0 {
		return nil
	}
	if _, err := p.store.Clips.UpsertClip(ctx, &datastore.Clip{
		ClipURL: ref.id, Date: ref.date, Hour: ref.hour, Minute: ref.minute,
		LocalPath: localPath, Status: datastore.StatusDownloaded,
	}); err != nil {
		return err
	}
	GetLogger().Debug("clip local path refreshed",
		logger.String("clip", ref.id),
		logger.String("path", localPath))
	return nil
}
