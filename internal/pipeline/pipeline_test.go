package pipeline

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ysmr3104/atomcam-meteor-detector/internal/compositor"
	"github.com/ysmr3104/atomcam-meteor-detector/internal/concatenator"
	"github.com/ysmr3104/atomcam-meteor-detector/internal/conf"
	"github.com/ysmr3104/atomcam-meteor-detector/internal/datastore"
	"github.com/ysmr3104/atomcam-meteor-detector/internal/detector"
	"github.com/ysmr3104/atomcam-meteor-detector/internal/downloader"
	"github.com/ysmr3104/atomcam-meteor-detector/internal/errors"
	"github.com/ysmr3104/atomcam-meteor-detector/internal/extractor"
	"github.com/ysmr3104/atomcam-meteor-detector/internal/hooks"
	"github.com/ysmr3104/atomcam-meteor-detector/internal/media"
	"github.com/ysmr3104/atomcam-meteor-detector/internal/schedule"
)

const (
	frameW    = 160
	frameH    = 120
	cameraURL = "http://cam/sdcard/record"
	night     = "20250101"
	// the streak sits in frame 15 of a 10 fps clip with 1 s groups
	meteorGroup = 1
)

var nightWindow = schedule.Window{Start: conf.Clock{Hour: 22}, End: conf.Clock{Hour: 1}}

type fixedPlans struct {
	window schedule.Window
	err    error
}

func (f fixedPlans) Resolve(_ context.Context, obs time.Time) (schedule.Plan, error) {
	return schedule.Plan{
		Date:            obs.Format(schedule.DateLayout),
		Enabled:         true,
		IntervalMinutes: 10,
		Window:          f.window,
	}, f.err
}

func (fixedPlans) Location() *time.Location { return time.UTC }

// fakeCamera serves clip listings and writes clip files on download
type fakeCamera struct {
	mu        sync.Mutex
	clips     map[string][]int // "date/HH" -> minutes
	listErr   map[string]error
	listed    []string
	downloads int
}

func (c *fakeCamera) ListClips(_ context.Context, date string, hour int) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := fmt.Sprintf("%s/%02d", date, hour)
	c.listed = append(c.listed, key)
	if err := c.listErr[key]; err != nil {
		return nil, err
	}
	var urls []string
	for _, m := range c.clips[key] {
		urls = append(urls, fmt.Sprintf("%s/%s/%02d.mp4", cameraURL, key, m))
	}
	return urls, nil
}

func (c *fakeCamera) DownloadClip(_ context.Context, clipURL, destDir string) (string, error) {
	c.mu.Lock()
	c.downloads++
	c.mu.Unlock()
	local, err := downloader.LocalPath(clipURL, destDir)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(local), 0o755); err != nil {
		return "", err
	}
	return local, os.WriteFile(local, []byte("mp4"), 0o644)
}

func noiseFrames(n int, seed uint64) []*image.RGBA {
	rng := rand.New(rand.NewPCG(seed, seed+1))
	frames := make([]*image.RGBA, n)
	for i := range frames {
		img := image.NewRGBA(image.Rect(0, 0, frameW, frameH))
		for p := 0; p < len(img.Pix); p += 4 {
			v := uint8(100 + rng.IntN(11))
			img.Pix[p], img.Pix[p+1], img.Pix[p+2], img.Pix[p+3] = v, v, v, 255
		}
		frames[i] = img
	}
	return frames
}

func meteorFrames() []*image.RGBA {
	frames := noiseFrames(40, 7)
	for dy := range 5 {
		for x := 20; x < 140; x++ {
			frames[15].SetRGBA(x, 40+dy, color.RGBA{R: 255, G: 255, B: 255, A: 255})
		}
	}
	return frames
}

// clipOpener decodes clips by name: meteors contain a streak, broken fail
type clipOpener struct {
	mu      sync.Mutex
	meteors map[string]bool // "HH/MM.mp4" suffixes
	broken  map[string]bool
	opened  int
}

func (o *clipOpener) Open(_ context.Context, path string) (media.Source, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.opened++
	key := clipKey(path)
	if o.broken[key] {
		return nil, fmt.Errorf("moov atom not found")
	}
	if o.meteors[key] {
		return media.NewMemorySource(10, meteorFrames()), nil
	}
	return media.NewMemorySource(10, noiseFrames(40, 3)), nil
}

func (o *clipOpener) openCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.opened
}

func clipKey(path string) string {
	parts := strings.Split(filepath.ToSlash(path), "/")
	return strings.Join(parts[len(parts)-2:], "/")
}

// touchRunner stands in for ffmpeg by creating the output file
type touchRunner struct {
	mu   sync.Mutex
	fail error
	runs [][]string
}

func (r *touchRunner) Run(_ context.Context, args ...string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, args)
	if r.fail != nil {
		return r.fail
	}
	return os.WriteFile(args[len(args)-1], []byte("video"), 0o644)
}

type eventRecorder struct {
	hooks.NopHook
	mu         sync.Mutex
	detections []hooks.DetectionEvent
	nights     []hooks.NightCompleteEvent
	errs       []hooks.ErrorEvent
}

func (r *eventRecorder) Name() string { return "recorder" }

func (r *eventRecorder) OnDetection(_ context.Context, ev hooks.DetectionEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.detections = append(r.detections, ev)
	return nil
}

func (r *eventRecorder) OnNightComplete(_ context.Context, ev hooks.NightCompleteEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nights = append(r.nights, ev)
	return nil
}

func (r *eventRecorder) OnError(_ context.Context, ev hooks.ErrorEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, ev)
	return nil
}

type harness struct {
	p          *Pipeline
	store      *datastore.Store
	camera     *fakeCamera
	opener     *clipOpener
	runner     *touchRunner
	events     *eventRecorder
	composites int
	dir        string
}

type harnessOption func(*harness, *[]Option)

func withWindow(w schedule.Window) harnessOption {
	return func(h *harness, _ *[]Option) { h.p.plans = fixedPlans{window: w} }
}

func withNow(now time.Time) harnessOption {
	return func(_ *harness, opts *[]Option) {
		*opts = append(*opts, WithClock(func() time.Time { return now }))
	}
}

func withoutStore() harnessOption {
	return func(h *harness, opts *[]Option) {
		*opts = append(*opts, WithStore(nil))
	}
}

// newHarness builds a night with clips at 22:05 (meteor), 22:06 and 00:07
func newHarness(t *testing.T, hopts ...harnessOption) *harness {
	t.Helper()

	dir := t.TempDir()
	store, err := datastore.OpenSQLite(filepath.Join(dir, "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	h := &harness{
		store: store,
		camera: &fakeCamera{clips: map[string][]int{
			"20241231/22": {5, 6},
			"20250101/00": {7},
		}},
		opener: &clipOpener{meteors: map[string]bool{"22/05.mp4": true}},
		runner: &touchRunner{},
		events: &eventRecorder{},
		dir:    dir,
	}

	cfg := detector.DefaultConfig()
	cfg.ExposureSeconds = 1.0
	opts := []Option{
		WithSource(h.camera),
		WithStore(store),
		WithExtractor(extractor.New(h.runner)),
		WithConcatenator(concatenator.New(h.runner)),
		WithHooks(hooks.NewRunner(h.events)),
		WithCompositor(func(paths []string, output, seed string) (string, error) {
			h.composites++
			return compositor.Composite(paths, output, seed)
		}),
		WithClock(func() time.Time { return time.Date(2025, 1, 1, 6, 0, 0, 0, time.UTC) }),
	}

	h.p = New(Config{
		DownloadDir: filepath.Join(dir, "downloads"),
		OutputDir:   filepath.Join(dir, "output"),
	}, fixedPlans{window: nightWindow}, detector.New(cfg, h.opener))

	for _, o := range hopts {
		o(h, &opts)
	}
	for _, o := range opts {
		o(h.p)
	}
	return h
}

func (h *harness) clip(t *testing.T, key string) *datastore.Clip {
	t.Helper()
	c, err := h.store.Clips.GetClip(context.Background(), cameraURL+"/"+key)
	require.NoError(t, err)
	return c
}

func TestExecute_EndToEnd(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()

	res, err := h.p.Execute(ctx, night, ExecuteOptions{})
	require.NoError(t, err)

	assert.Equal(t, night, res.Date)
	assert.Equal(t, 3, res.ClipsProcessed)
	assert.Equal(t, 1, res.DetectionsFound)
	assert.Equal(t, 1, res.NewDetections)
	assert.Equal(t, []string{cameraURL + "/20241231/22/05.mp4"}, res.DetectedClips)
	require.NotEmpty(t, res.CompositeImage)
	assert.Equal(t, filepath.Join(h.dir, "output", night, night+"_composite.jpg"), res.CompositeImage)
	assert.FileExists(t, res.CompositeImage)

	meteor := h.clip(t, "20241231/22/05.mp4")
	assert.Equal(t, datastore.StatusDetected, meteor.Status)
	assert.Equal(t, night, meteor.Date)
	assert.Equal(t, 22, meteor.Hour)
	assert.Equal(t, 5, meteor.Minute)
	assert.Equal(t, filepath.Join(h.dir, "output", night, "22", "05_detect.png"), meteor.DetectionImage)
	assert.Equal(t, datastore.VideoPaths{filepath.Join(h.dir, "output", night, "22", "05_meteor.mp4")}, meteor.DetectedVideos)
	assert.Positive(t, meteor.LineCount)

	assert.Equal(t, datastore.StatusNoDetection, h.clip(t, "20241231/22/06.mp4").Status)
	assert.Equal(t, datastore.StatusNoDetection, h.clip(t, "20250101/00/07.mp4").Status)

	dets, err := h.store.Detections.ListByClip(ctx, meteor.ID)
	require.NoError(t, err)
	require.Len(t, dets, 1)
	assert.Equal(t, meteorGroup, dets[0].LineIndex)
	assert.Equal(t, filepath.Join(h.dir, "output", night, "22", fmt.Sprintf("05_group%d.png", meteorGroup)), dets[0].CropImage)
	assert.InDelta(t, 42, dets[0].Y1, 4)

	out, err := h.store.Nights.GetOutput(ctx, night)
	require.NoError(t, err)
	assert.Equal(t, 1, out.DetectionCount)
	assert.Equal(t, res.CompositeImage, out.CompositeImage)
	assert.Empty(t, out.ConcatVideo)

	require.Len(t, h.events.detections, 1)
	assert.Equal(t, hooks.DetectionEvent{
		Date: night, Hour: 22, Minute: 5, LineCount: meteor.LineCount,
		ImagePath: meteor.DetectionImage,
		ClipPath:  filepath.Join(h.dir, "downloads", "20241231", "22", "05.mp4"),
	}, h.events.detections[0])
	require.Len(t, h.events.nights, 1)
	assert.Equal(t, hooks.NightCompleteEvent{Date: night, Count: 1, CompositeImage: res.CompositeImage}, h.events.nights[0])
	assert.Empty(t, h.events.errs)
}

func TestExecute_SecondRunIsIdempotent(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()

	first, err := h.p.Execute(ctx, night, ExecuteOptions{})
	require.NoError(t, err)
	opened := h.opener.openCount()
	downloads := h.camera.downloads
	require.Equal(t, 1, h.composites)

	second, err := h.p.Execute(ctx, night, ExecuteOptions{})
	require.NoError(t, err)

	assert.Equal(t, 1, h.composites, "compositor must not run without new detections")
	assert.Equal(t, opened, h.opener.openCount(), "terminal clips are not decoded again")
	assert.Equal(t, downloads, h.camera.downloads)
	assert.Equal(t, first.CompositeImage, second.CompositeImage)
	assert.Equal(t, 3, second.ClipsProcessed)
	assert.Equal(t, 1, second.DetectionsFound)
	assert.Zero(t, second.NewDetections)

	out, err := h.store.Nights.GetOutput(ctx, night)
	require.NoError(t, err)
	assert.Equal(t, 1, out.DetectionCount)
	assert.Equal(t, first.CompositeImage, out.CompositeImage)
}

func TestExecute_RefreshesTerminalClipPath(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()

	_, err := h.p.Execute(ctx, night, ExecuteOptions{})
	require.NoError(t, err)
	before := h.clip(t, "20241231/22/05.mp4")
	opened := h.opener.openCount()
	downloads := h.camera.downloads

	// the download tree moved to a new root between runs
	moved := filepath.Join(h.dir, "moved")
	local, err := downloader.LocalPath(before.ClipURL, moved)
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Dir(local), 0o755))
	require.NoError(t, os.WriteFile(local, []byte("mp4"), 0o644))
	h.p.cfg.DownloadDir = moved

	_, err = h.p.Execute(ctx, night, ExecuteOptions{})
	require.NoError(t, err)

	after := h.clip(t, "20241231/22/05.mp4")
	assert.Equal(t, local, after.LocalPath)
	assert.Equal(t, datastore.StatusDetected, after.Status)
	assert.Equal(t, before.DetectionImage, after.DetectionImage)
	assert.Equal(t, opened, h.opener.openCount(), "terminal clips are not decoded again")
	assert.Equal(t, downloads, h.camera.downloads)

	// without a local copy the stored path is kept
	untouched := h.clip(t, "20241231/22/06.mp4")
	assert.Equal(t, filepath.Join(h.dir, "downloads", "20241231", "22", "06.mp4"), untouched.LocalPath)
}

func TestExecute_KeepsConcatVideo(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.store.Nights.UpsertOutput(ctx, &datastore.NightOutput{Date: night, ConcatVideo: "/v/night.mp4"}))

	_, err := h.p.Execute(ctx, night, ExecuteOptions{})
	require.NoError(t, err)

	out, err := h.store.Nights.GetOutput(ctx, night)
	require.NoError(t, err)
	assert.Equal(t, "/v/night.mp4", out.ConcatVideo)
}

func TestExecute_DryRun(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	res, err := h.p.Execute(context.Background(), night, ExecuteOptions{DryRun: true})
	require.NoError(t, err)

	assert.True(t, res.DryRun)
	assert.Equal(t, 3, res.Planned)
	assert.Zero(t, res.ClipsProcessed)
	assert.Zero(t, h.camera.downloads)
	assert.Zero(t, h.opener.openCount())
	assert.Empty(t, h.events.nights)

	clips, err := h.store.Clips.ListClipsByDate(context.Background(), night)
	require.NoError(t, err)
	assert.Empty(t, clips)
}

func TestExecute_SkipsFutureSlots(t *testing.T) {
	t.Parallel()

	// 23:30 on the evening belongs to the night filed under the next morning
	h := newHarness(t, withNow(time.Date(2024, 12, 31, 23, 30, 0, 0, time.UTC)))
	res, err := h.p.Execute(context.Background(), "", ExecuteOptions{})
	require.NoError(t, err)

	assert.Equal(t, night, res.Date)
	assert.Equal(t, []string{"20241231/22", "20241231/23"}, h.camera.listed)
	assert.Equal(t, 2, res.ClipsProcessed)
}

func TestExecute_MinuteBoundary(t *testing.T) {
	t.Parallel()

	h := newHarness(t, withWindow(schedule.Window{Start: conf.Clock{Hour: 22, Minute: 6}, End: conf.Clock{Hour: 0, Minute: 7}}))
	res, err := h.p.Execute(context.Background(), night, ExecuteOptions{})
	require.NoError(t, err)

	assert.Equal(t, 1, res.ClipsProcessed, "22:05 is before the start and 00:07 is at the exclusive end")
	assert.Zero(t, res.DetectionsFound)
	assert.Empty(t, res.CompositeImage)
}

func TestExecute_DetectionErrorContinues(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.opener.broken = map[string]bool{"22/06.mp4": true}

	res, err := h.p.Execute(context.Background(), night, ExecuteOptions{})
	require.NoError(t, err)

	assert.Equal(t, 3, res.ClipsProcessed)
	assert.Equal(t, 1, res.DetectionsFound)

	broken := h.clip(t, "20241231/22/06.mp4")
	assert.Equal(t, datastore.StatusError, broken.Status)
	assert.Contains(t, broken.ErrorMessage, "moov atom")
	assert.Equal(t, datastore.StatusNoDetection, h.clip(t, "20250101/00/07.mp4").Status)

	require.Len(t, h.events.errs, 1)
	assert.Equal(t, hooks.StageDetection, h.events.errs[0].Stage)
	assert.True(t, errors.Is(h.events.errs[0].Err, detector.ErrDetection))
}

func TestExecute_ListErrorSkipsSlot(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.camera.listErr = map[string]error{"20241231/22": fmt.Errorf("connection refused")}

	res, err := h.p.Execute(context.Background(), night, ExecuteOptions{})
	require.NoError(t, err)

	assert.Equal(t, 1, res.ClipsProcessed)
	require.Len(t, h.events.errs, 1)
	assert.Equal(t, hooks.StageDownload, h.events.errs[0].Stage)
	assert.Equal(t, "22", h.events.errs[0].Context["hour"])
}

func TestExecute_ExtractionFallsBackToClip(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.runner.fail = &media.CommandError{Stderr: "Invalid data found", Err: fmt.Errorf("exit status 1")}

	_, err := h.p.Execute(context.Background(), night, ExecuteOptions{})
	require.NoError(t, err)

	meteor := h.clip(t, "20241231/22/05.mp4")
	assert.Equal(t, datastore.StatusDetected, meteor.Status)
	assert.Equal(t, datastore.VideoPaths{filepath.Join(h.dir, "downloads", "20241231", "22", "05.mp4")}, meteor.DetectedVideos)
}

func TestExecute_WithoutStore(t *testing.T) {
	t.Parallel()

	h := newHarness(t, withoutStore())
	res, err := h.p.Execute(context.Background(), night, ExecuteOptions{})
	require.NoError(t, err)
	assert.Equal(t, 3, res.ClipsProcessed)
	assert.Equal(t, 1, res.DetectionsFound)
	assert.NotEmpty(t, res.CompositeImage)
}

func TestExecute_InvalidDate(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	_, err := h.p.Execute(context.Background(), "2025-01-01", ExecuteOptions{})
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))
}

func TestClipMinute(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want int
		ok   bool
	}{
		{"http://cam/record/20250101/00/07.mp4", 7, true},
		{"/data/20250101/22/59.mp4", 59, true},
		{"60.mp4", 0, false},
		{"index.html", 0, false},
	}
	for _, tt := range tests {
		got, ok := clipMinute(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}
