// Package pipeline drives one observation night through download, detection,
// extraction and compositing, and rebuilds night artifacts from stored state.
package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/ysmr3104/atomcam-meteor-detector/internal/compositor"
	"github.com/ysmr3104/atomcam-meteor-detector/internal/datastore"
	"github.com/ysmr3104/atomcam-meteor-detector/internal/detector"
	"github.com/ysmr3104/atomcam-meteor-detector/internal/errors"
	"github.com/ysmr3104/atomcam-meteor-detector/internal/extractor"
	"github.com/ysmr3104/atomcam-meteor-detector/internal/hooks"
	"github.com/ysmr3104/atomcam-meteor-detector/internal/logger"
	"github.com/ysmr3104/atomcam-meteor-detector/internal/observability/metrics"
	"github.com/ysmr3104/atomcam-meteor-detector/internal/schedule"
)

// ErrPipeline marks a misuse of the orchestrator, such as rebuilding
// without a state store. It is not retryable.
var ErrPipeline = errors.NewStd("pipeline contract violation")

// GetLogger returns the pipeline module logger
func GetLogger() logger.Logger {
	return logger.Global().Module("pipeline")
}

// ClipSource lists and fetches camera clips
type ClipSource interface {
	ListClips(ctx context.Context, date string, hour int) ([]string, error)
	DownloadClip(ctx context.Context, clipURL, destDir string) (string, error)
}

// ClipDetector runs meteor detection on a local clip
type ClipDetector interface {
	DetectFile(ctx context.Context, clipPath, outputDir string) (*detector.Result, error)
	Config() detector.Config
}

// ClipExtractor cuts highlight clips out of a source clip
type ClipExtractor interface {
	Extract(ctx context.Context, source string, ranges []extractor.TimeRange, outputDir string) ([]string, error)
}

// VideoConcatenator joins highlight clips into one video
type VideoConcatenator interface {
	Concatenate(ctx context.Context, paths []string, output string) (string, error)
}

// CompositeFunc lighten-blends images into output, seeded by an existing image
type CompositeFunc func(paths []string, output, seed string) (string, error)

// PlanResolver yields the observation window of a night
type PlanResolver interface {
	Resolve(ctx context.Context, obsDate time.Time) (schedule.Plan, error)
	Location() *time.Location
}

// ProgressFunc receives the number of processed clips after every clip
type ProgressFunc func(processed, total int)

// Result summarizes one orchestrator operation
type Result struct {
	Date            string   `json:"date"`
	ClipsProcessed  int      `json:"clips_processed"`
	DetectionsFound int      `json:"detections_found"`
	NewDetections   int      `json:"new_detections"`
	CompositeImage  string   `json:"composite_image,omitempty"`
	ConcatVideo     string   `json:"concat_video,omitempty"`
	DetectedClips   []string `json:"detected_clips,omitempty"`
	Planned         int      `json:"planned,omitempty"`
	Cancelled       bool     `json:"cancelled,omitempty"`
	DryRun          bool     `json:"dry_run,omitempty"`
}

// ExecuteOptions tune a primary run
type ExecuteOptions struct {
	// DryRun lists the clips that would be processed without downloading,
	// detecting or writing anything.
	DryRun bool
}

// Config locates the download and output roots
type Config struct {
	DownloadDir string
	OutputDir   string
}

// Pipeline is the orchestrator. It holds no state between calls; everything
// that must survive a run lives in the store.
type Pipeline struct {
	cfg          Config
	plans        PlanResolver
	detector     ClipDetector
	source       ClipSource
	extractor    ClipExtractor
	concatenator VideoConcatenator
	composite    CompositeFunc
	store        *datastore.Store
	hooks        *hooks.Runner
	metrics      *metrics.PipelineMetrics
	now          func() time.Time
}

// Option configures a Pipeline
type Option func(*Pipeline)

// WithSource sets the camera clip source used by Execute
func WithSource(s ClipSource) Option { return func(p *Pipeline) { p.source = s } }

// WithStore sets the clip state store
func WithStore(s *datastore.Store) Option { return func(p *Pipeline) { p.store = s } }

// WithExtractor sets the highlight clip extractor
func WithExtractor(e ClipExtractor) Option { return func(p *Pipeline) { p.extractor = e } }

// WithConcatenator sets the highlight video concatenator
func WithConcatenator(c VideoConcatenator) Option { return func(p *Pipeline) { p.concatenator = c } }

// WithCompositor replaces compositor.Composite
func WithCompositor(f CompositeFunc) Option { return func(p *Pipeline) { p.composite = f } }

// WithHooks sets the event hook runner
func WithHooks(r *hooks.Runner) Option { return func(p *Pipeline) { p.hooks = r } }

// WithMetrics records operation metrics
func WithMetrics(m *metrics.PipelineMetrics) Option { return func(p *Pipeline) { p.metrics = m } }

// WithClock overrides the wall clock used for date resolution and future slots
func WithClock(now func() time.Time) Option { return func(p *Pipeline) { p.now = now } }

// New creates a Pipeline
func New(cfg Config, plans PlanResolver, det ClipDetector, opts ...Option) *Pipeline {
	p := &Pipeline{
		cfg:       cfg,
		plans:     plans,
		detector:  det,
		composite: compositor.Composite,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// nightDir is where a night's composite and concatenated video live
func (p *Pipeline) nightDir(date string) string {
	return filepath.Join(p.cfg.OutputDir, date)
}

// clipOutputDir holds per-clip images and highlight clips. Minutes repeat
// across hours, so artifacts are split by hour like the download tree.
func (p *Pipeline) clipOutputDir(date string, hour int) string {
	return filepath.Join(p.cfg.OutputDir, date, fmt.Sprintf("%02d", hour))
}

// CompositePath returns the composite location for a night
func (p *Pipeline) CompositePath(date string) string {
	return filepath.Join(p.nightDir(date), date+"_composite.jpg")
}

// ConcatPath returns the concatenated video location for a night
func (p *Pipeline) ConcatPath(date string) string {
	return filepath.Join(p.nightDir(date), date+"_meteors.mp4")
}

// resolveDate returns the observation date and its parsed form in the plan location
func (p *Pipeline) resolveDate(date string) (string, time.Time, error) {
	loc := p.plans.Location()
	if date == "" {
		obs := schedule.ObservationDate(p.now().In(loc))
		return obs.Format(schedule.DateLayout), obs, nil
	}
	obs, err := schedule.ParseDate(date, loc)
	if err != nil {
		return "", time.Time{}, errors.New(err).
			Component("pipeline").
			Category(errors.CategoryValidation).
			Context("date", date).
			Build()
	}
	return date, obs, nil
}

func requireStore(store *datastore.Store, operation string) error {
	if store != nil {
		return nil
	}
	return errors.New(fmt.Errorf("%w: %s requires a state store", ErrPipeline, operation)).
		Component("pipeline").
		Category(errors.CategoryPipeline).
		Context("operation", operation).
		Build()
}

// observe records the outcome and duration of an operation
func (p *Pipeline) observe(operation string, start time.Time, err error) {
	if p.metrics == nil {
		return
	}
	status := metrics.StatusSuccess
	if err != nil {
		status = metrics.StatusError
	}
	p.metrics.RecordOperation(operation, status)
	p.metrics.RecordDuration(operation, time.Since(start).Seconds())
}

func (p *Pipeline) recordClip(status datastore.ClipStatus) {
	if p.metrics != nil {
		p.metrics.RecordClip(string(status))
	}
}
