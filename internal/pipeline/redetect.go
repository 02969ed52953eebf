package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/ysmr3104/atomcam-meteor-detector/internal/conf"
	"github.com/ysmr3104/atomcam-meteor-detector/internal/datastore"
	"github.com/ysmr3104/atomcam-meteor-detector/internal/errors"
	"github.com/ysmr3104/atomcam-meteor-detector/internal/logger"
	"github.com/ysmr3104/atomcam-meteor-detector/internal/observability/metrics"
	"github.com/ysmr3104/atomcam-meteor-detector/internal/schedule"
)

// RedetectFromLocal re-runs detection on every downloaded clip of a night
// regardless of its stored status, without contacting the camera.
// Cancellation is checked between clips; a clip being decoded finishes
// first. The composite is rebuilt from this run's detections only, so a
// cancelled run leaves a partial composite.
func (p *Pipeline) RedetectFromLocal(ctx context.Context, date string, progress ProgressFunc) (result *Result, err error) {
	start := time.Now()
	defer func() { p.observe(metrics.OpRun, start, err) }()

	date, obs, err := p.resolveDate(date)
	if err != nil {
		return nil, err
	}
	plan, err := p.plans.Resolve(ctx, obs)
	if err != nil {
		return nil, err
	}

	refs, err := p.localClips(date, plan.Window, obs)
	if err != nil {
		return nil, err
	}

	log := GetLogger().With(logger.String("date", date))
	log.Info("redetect starting", logger.Int("clips", len(refs)))

	result = &Result{Date: date}
	detectCtx := context.WithoutCancel(ctx)
	var newImages []string

	for i, ref := range refs {
		if ctx.Err() != nil {
			result.Cancelled = true
			log.Info("redetect cancelled", logger.Int("processed", i), logger.Int("total", len(refs)))
			break
		}

		if err := p.prepareRedetect(detectCtx, &ref); err != nil {
			return result, err
		}
		outcome, err := p.processClip(detectCtx, ref, false)
		if err != nil {
			return result, err
		}

		result.ClipsProcessed++
		if outcome.detected {
			result.DetectionsFound++
			result.NewDetections++
			result.DetectedClips = append(result.DetectedClips, ref.id)
			if outcome.imagePath != "" {
				newImages = append(newImages, outcome.imagePath)
			}
		}
		if progress != nil {
			progress(i+1, len(refs))
		}
	}

	composite, _, err := p.finishNight(detectCtx, date, newImages, "", result.Cancelled)
	if err != nil {
		return result, err
	}
	result.CompositeImage = composite

	log.Info("redetect complete",
		logger.Int("clips", result.ClipsProcessed),
		logger.Int("detections", result.DetectionsFound),
		logger.Bool("cancelled", result.Cancelled))
	return result, nil
}

// prepareRedetect registers the local clip and drops its detection rows.
// A clip downloaded earlier keeps its camera URL as identity.
func (p *Pipeline) prepareRedetect(ctx context.Context, ref *clipRef) error {
	if p.store == nil {
		return nil
	}

	stored, err := p.store.Clips.GetClipByLocalPath(ctx, ref.localPath)
	switch {
	case err == nil:
		ref.id = stored.ClipURL
	case !errors.Is(err, datastore.ErrClipNotFound):
		return err
	}

	clip, err := p.store.Clips.UpsertClip(ctx, &datastore.Clip{
		ClipURL: ref.id, Date: ref.date, Hour: ref.hour, Minute: ref.minute,
		LocalPath: ref.localPath, Status: datastore.StatusDownloaded,
	})
	if err != nil {
		return err
	}
	return p.store.Detections.DeleteByClip(ctx, clip.ID)
}

// localClips lists downloadRoot/{date}/{HH}/{MM}.mp4 files inside the window
func (p *Pipeline) localClips(date string, w schedule.Window, obs time.Time) ([]clipRef, error) {
	var refs []clipRef
	for _, slot := range p.dueSlots(w, obs) {
		dir := filepath.Join(p.cfg.DownloadDir, slot.Date, fmt.Sprintf("%02d", slot.Hour))
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, errors.New(err).
				Component("pipeline").
				Category(errors.CategoryFileIO).
				Context("dir", dir).
				Build()
		}

		var hour []clipRef
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			minute, ok := clipMinute(e.Name())
			if !ok || filepath.Ext(e.Name()) != ".mp4" {
				continue
			}
			if !w.Contains(conf.Clock{Hour: slot.Hour, Minute: minute}) {
				continue
			}
			local := filepath.Join(dir, e.Name())
			hour = append(hour, clipRef{id: local, date: date, hour: slot.Hour, minute: minute, localPath: local})
		}
		sort.Slice(hour, func(i, j int) bool { return hour[i].minute < hour[j].minute })
		refs = append(refs, hour...)
	}
	return refs, nil
}
