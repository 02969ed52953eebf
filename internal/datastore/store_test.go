package datastore

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ysmr3104/atomcam-meteor-detector/internal/errors"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := OpenSQLite(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func seedClip(t *testing.T, store *Store, url string, hour, minute int, status ClipStatus) *Clip {
	t.Helper()
	clip, err := store.Clips.UpsertClip(t.Context(), &Clip{
		ClipURL: url, Date: "20250101", Hour: hour, Minute: minute, Status: status,
	})
	require.NoError(t, err)
	return clip
}

func TestUpsertClip_PendingToDownloaded(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := t.Context()

	seedClip(t, store, "http://cam/22/05.mp4", 22, 5, StatusPending)
	clip, err := store.Clips.UpsertClip(ctx, &Clip{
		ClipURL: "http://cam/22/05.mp4", Date: "20250101", Hour: 22, Minute: 5,
		LocalPath: "/dl/20250101/22/05.mp4", Status: StatusDownloaded,
	})
	require.NoError(t, err)

	assert.Equal(t, StatusDownloaded, clip.Status)
	assert.Equal(t, "/dl/20250101/22/05.mp4", clip.LocalPath)
}

func TestUpsertClip_TerminalStatusPreserved(t *testing.T) {
	t.Parallel()

	for _, terminal := range []ClipStatus{StatusDetected, StatusNoDetection, StatusError} {
		t.Run(string(terminal), func(t *testing.T) {
			t.Parallel()
			store := newTestStore(t)
			ctx := t.Context()

			seedClip(t, store, "u", 23, 0, StatusPending)
			require.NoError(t, store.Clips.UpdateClip(ctx, "u", ClipUpdate{
				Status:         Ptr(terminal),
				DetectionImage: Ptr("/out/23_00_detect.png"),
			}))

			clip, err := store.Clips.UpsertClip(ctx, &Clip{
				ClipURL: "u", Date: "20250101", Hour: 23, Minute: 0,
				LocalPath: "/new/path.mp4", Status: StatusDownloaded,
			})
			require.NoError(t, err)
			assert.Equal(t, terminal, clip.Status)
			assert.Equal(t, "/new/path.mp4", clip.LocalPath)
			assert.Equal(t, "/out/23_00_detect.png", clip.DetectionImage)
		})
	}
}

func TestUpsertClip_EmptyLocalPathKeepsExisting(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)

	_, err := store.Clips.UpsertClip(t.Context(), &Clip{ClipURL: "u", Date: "20250101", Hour: 1, LocalPath: "/a.mp4", Status: StatusDownloaded})
	require.NoError(t, err)
	clip, err := store.Clips.UpsertClip(t.Context(), &Clip{ClipURL: "u", Date: "20250101", Hour: 1})
	require.NoError(t, err)

	assert.Equal(t, "/a.mp4", clip.LocalPath)
	assert.Equal(t, StatusPending, clip.Status)
}

func TestUpsertClip_InvalidStatus(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)

	_, err := store.Clips.UpsertClip(t.Context(), &Clip{ClipURL: "u", Status: "bogus"})
	require.ErrorIs(t, err, ErrInvalidStatus)
}

func TestUpdateClip_FieldsAndNotFound(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := t.Context()
	seedClip(t, store, "u", 22, 1, StatusDownloaded)

	require.NoError(t, store.Clips.UpdateClip(ctx, "u", ClipUpdate{
		Status:         Ptr(StatusDetected),
		DetectedVideos: Ptr(VideoPaths{"/o/a_meteor_0.mp4", "/o/a_meteor_1.mp4"}),
		LineCount:      Ptr(3),
	}))

	clip, err := store.Clips.GetClip(ctx, "u")
	require.NoError(t, err)
	assert.Equal(t, StatusDetected, clip.Status)
	assert.Equal(t, VideoPaths{"/o/a_meteor_0.mp4", "/o/a_meteor_1.mp4"}, clip.DetectedVideos)
	assert.Equal(t, 3, clip.LineCount)

	err = store.Clips.UpdateClip(ctx, "missing", ClipUpdate{LineCount: Ptr(1)})
	require.ErrorIs(t, err, ErrClipNotFound)
	assert.True(t, errors.IsNotFound(err))
}

func TestListClipsByDate_NightOrder(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)

	seedClip(t, store, "c", 0, 10, StatusPending)
	seedClip(t, store, "b", 23, 0, StatusPending)
	seedClip(t, store, "a", 22, 59, StatusPending)
	seedClip(t, store, "d", 1, 0, StatusPending)

	clips, err := store.Clips.ListClipsByDate(t.Context(), "20250101")
	require.NoError(t, err)

	var urls []string
	for _, c := range clips {
		urls = append(urls, c.ClipURL)
	}
	assert.Equal(t, []string{"a", "b", "c", "d"}, urls)
}

func TestDetectedClipQueries(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := t.Context()

	a := seedClip(t, store, "a", 22, 0, StatusPending)
	seedClip(t, store, "b", 22, 1, StatusPending)
	seedClip(t, store, "c", 22, 2, StatusPending)
	for _, url := range []string{"a", "b"} {
		require.NoError(t, store.Clips.UpdateClip(ctx, url, ClipUpdate{Status: Ptr(StatusDetected)}))
	}
	require.NoError(t, store.Clips.UpdateClip(ctx, "c", ClipUpdate{Status: Ptr(StatusNoDetection)}))
	require.NoError(t, store.Clips.SetClipExcluded(ctx, a.ID, true))

	count, err := store.Clips.CountDetectedClips(ctx, "20250101")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	included, err := store.Clips.ListIncludedDetectedClips(ctx, "20250101")
	require.NoError(t, err)
	require.Len(t, included, 1)
	assert.Equal(t, "b", included[0].ClipURL)

	byStatus, err := store.Clips.CountByStatus(ctx, "20250101")
	require.NoError(t, err)
	assert.Equal(t, map[ClipStatus]int{StatusDetected: 2, StatusNoDetection: 1}, byStatus)

	toggled, err := store.Clips.ToggleClipExcluded(ctx, a.ID)
	require.NoError(t, err)
	assert.False(t, toggled.Excluded)
}

func TestSaveDetections_UpsertsByGroupIndex(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := t.Context()
	clip := seedClip(t, store, "u", 22, 0, StatusDetected)

	require.NoError(t, store.Detections.SaveDetections(ctx, clip.ID, []Detection{
		{LineIndex: 3, X1: 1, Y1: 2, X2: 3, Y2: 4, CropImage: "g3.png"},
		{LineIndex: 7, X1: 5, Y1: 6, X2: 7, Y2: 8, CropImage: "g7.png"},
	}))
	require.NoError(t, store.Detections.SaveDetections(ctx, clip.ID, []Detection{
		{LineIndex: 3, X1: 10, Y1: 20, X2: 30, Y2: 40, CropImage: "g3b.png"},
	}))

	dets, err := store.Detections.ListByClip(ctx, clip.ID)
	require.NoError(t, err)
	require.Len(t, dets, 2)
	assert.Equal(t, 3, dets[0].LineIndex)
	assert.Equal(t, 10, dets[0].X1)
	assert.Equal(t, "g3b.png", dets[0].CropImage)

	toggled, err := store.Detections.ToggleExcluded(ctx, dets[1].ID)
	require.NoError(t, err)
	assert.True(t, toggled.Excluded)

	excluded, err := store.Detections.ListExcludedByClip(ctx, clip.ID)
	require.NoError(t, err)
	require.Len(t, excluded, 1)
	assert.Equal(t, 7, excluded[0].LineIndex)

	require.NoError(t, store.Detections.SetAllExcludedByDate(ctx, "20250101", true))
	included, err := store.Detections.ListIncludedByClip(ctx, clip.ID)
	require.NoError(t, err)
	assert.Empty(t, included)

	require.NoError(t, store.Detections.DeleteByClip(ctx, clip.ID))
	dets, err = store.Detections.ListByClip(ctx, clip.ID)
	require.NoError(t, err)
	assert.Empty(t, dets)
}

func TestNightOutput_UpsertKeepsHidden(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := t.Context()

	require.NoError(t, store.Nights.UpsertOutput(ctx, &NightOutput{Date: "20250101", CompositeImage: "c.jpg", DetectionCount: 1}))
	out, err := store.Nights.ToggleHidden(ctx, "20250101")
	require.NoError(t, err)
	assert.True(t, out.Hidden)

	require.NoError(t, store.Nights.UpsertOutput(ctx, &NightOutput{Date: "20250101", CompositeImage: "c2.jpg", ConcatVideo: "v.mp4", DetectionCount: 4}))
	got, err := store.Nights.GetOutput(ctx, "20250101")
	require.NoError(t, err)
	assert.True(t, got.Hidden)
	assert.Equal(t, "c2.jpg", got.CompositeImage)
	assert.Equal(t, 4, got.DetectionCount)

	require.NoError(t, store.Nights.ClearConcatVideo(ctx, "20250101"))
	got, err = store.Nights.GetOutput(ctx, "20250101")
	require.NoError(t, err)
	assert.Empty(t, got.ConcatVideo)

	require.NoError(t, store.Nights.UpsertOutput(ctx, &NightOutput{Date: "20250102"}))
	visible, err := store.Nights.ListVisibleNights(ctx)
	require.NoError(t, err)
	require.Len(t, visible, 1)
	assert.Equal(t, "20250102", visible[0].Date)

	hidden, err := store.Nights.CountHidden(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, hidden)

	_, err = store.Nights.GetOutput(ctx, "19990101")
	require.ErrorIs(t, err, ErrNightNotFound)
}

func TestSettingsRepository(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := t.Context()

	_, ok, err := store.Settings.Get(ctx, "schedule.enabled")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Settings.SetMany(ctx, map[string]string{
		"schedule.enabled":       "false",
		"schedule.start_time":    "21:30",
		"detection.hough_thresh": "70",
	}))
	require.NoError(t, store.Settings.Set(ctx, "schedule.enabled", "true"))

	v, ok, err := store.Settings.Get(ctx, "schedule.enabled")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "true", v)

	n, err := store.Settings.DeleteByPrefix(ctx, "schedule.")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	all, err := store.Settings.GetAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"detection.hough_thresh": "70"}, all)
}

func TestTaskRepository_FailRunning(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := t.Context()

	require.NoError(t, store.Tasks.Save(ctx, &TaskRecord{ID: "t1", Kind: "redetect", Date: "20250101", State: TaskRunning, Total: 10}))
	require.NoError(t, store.Tasks.Save(ctx, &TaskRecord{ID: "t2", Kind: "rebuild_composite", Date: "20250101", State: TaskCompleted}))
	require.NoError(t, store.Tasks.Save(ctx, &TaskRecord{ID: "t1", Kind: "redetect", Date: "20250101", State: TaskRunning, Processed: 4, Total: 10}))

	n, err := store.Tasks.FailRunning(ctx, "interrupted")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	task, err := store.Tasks.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, TaskFailed, task.State)
	assert.Equal(t, 4, task.Processed)
	assert.Equal(t, "interrupted", task.Message)

	tasks, err := store.Tasks.ListByDate(ctx, "20250101")
	require.NoError(t, err)
	assert.Len(t, tasks, 2)

	_, err = store.Tasks.Get(ctx, "nope")
	require.ErrorIs(t, err, ErrTaskNotFound)
}
