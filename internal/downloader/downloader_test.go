package downloader

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ysmr3104/atomcam-meteor-detector/internal/conf"
	"github.com/ysmr3104/atomcam-meteor-detector/internal/diskmanager"
	"github.com/ysmr3104/atomcam-meteor-detector/internal/errors"
)

const listingPage = `<html><body>
<a href="../">../</a>
<a href="05.mp4">05.mp4</a>
<a href="00.mp4">00.mp4</a>
<a href="notes.txt">notes.txt</a>
<a href="5.mp4">5.mp4</a>
<a href="59.mp4">59.mp4</a>
<a href="05.mp4">05.mp4</a>
</body></html>`

func testCamera() *conf.CameraSettings {
	return &conf.CameraSettings{
		Host:       "cam.local",
		BasePath:   "sdcard/record",
		TimeoutSec: 5,
		RetryCount: 3,
	}
}

func newMockedDownloader(t *testing.T, opts ...Option) *Downloader {
	t.Helper()
	d := New(testCamera(), append([]Option{WithRetryDelay(0)}, opts...)...)
	httpmock.ActivateNonDefault(d.Client().HTTPClient())
	t.Cleanup(httpmock.DeactivateAndReset)
	return d
}

func TestBaseURL(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "http://cam.local/sdcard/record", BaseURL(&conf.CameraSettings{Host: "cam.local", BasePath: "/sdcard/record/"}))
	assert.Equal(t, "https://cam.local", BaseURL(&conf.CameraSettings{Host: "https://cam.local/"}))
}

func TestParseListing(t *testing.T) {
	t.Parallel()

	names, err := parseListing(strings.NewReader(listingPage))
	require.NoError(t, err)
	assert.Equal(t, []string{"00.mp4", "05.mp4", "59.mp4"}, names)

	names, err = parseListing(strings.NewReader("<html></html>"))
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestLocalPath(t *testing.T) {
	t.Parallel()

	p, err := LocalPath("http://cam.local/sdcard/record/20250101/23/05.mp4", "/data")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/data", "20250101", "23", "05.mp4"), p)

	_, err = LocalPath("http://x", "/data")
	require.Error(t, err)
}

func TestListClips(t *testing.T) {
	d := newMockedDownloader(t)
	httpmock.RegisterResponder(http.MethodGet, "http://cam.local/sdcard/record/20250101/23/",
		httpmock.NewStringResponder(http.StatusOK, listingPage))

	urls, err := d.ListClips(t.Context(), "20250101", 23)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"http://cam.local/sdcard/record/20250101/23/00.mp4",
		"http://cam.local/sdcard/record/20250101/23/05.mp4",
		"http://cam.local/sdcard/record/20250101/23/59.mp4",
	}, urls)
}

func TestListClips_MissingHourIsEmpty(t *testing.T) {
	d := newMockedDownloader(t)
	httpmock.RegisterResponder(http.MethodGet, "http://cam.local/sdcard/record/20250101/03/",
		httpmock.NewStringResponder(http.StatusNotFound, ""))

	urls, err := d.ListClips(t.Context(), "20250101", 3)
	require.NoError(t, err)
	assert.Empty(t, urls)
	assert.Equal(t, 1, httpmock.GetTotalCallCount())
}

func TestListClips_RetriesThenFails(t *testing.T) {
	d := newMockedDownloader(t)
	httpmock.RegisterResponder(http.MethodGet, "http://cam.local/sdcard/record/20250101/23/",
		httpmock.NewStringResponder(http.StatusInternalServerError, "boom"))

	_, err := d.ListClips(t.Context(), "20250101", 23)
	require.ErrorIs(t, err, ErrDownload)
	assert.True(t, errors.IsCategory(err, errors.CategoryDownload))
	assert.Equal(t, 3, httpmock.GetTotalCallCount())
}

func TestDownloadClip(t *testing.T) {
	d := newMockedDownloader(t)
	url := "http://cam.local/sdcard/record/20250101/23/05.mp4"
	httpmock.RegisterResponder(http.MethodGet, url, httpmock.NewBytesResponder(http.StatusOK, []byte("mp4 bytes")))

	dest := t.TempDir()
	p, err := d.DownloadClip(t.Context(), url, dest)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dest, "20250101", "23", "05.mp4"), p)

	data, err := os.ReadFile(p)
	require.NoError(t, err)
	assert.Equal(t, "mp4 bytes", string(data))

	entries, err := os.ReadDir(filepath.Dir(p))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary file removed")
}

func TestDownloadClip_SkipsExisting(t *testing.T) {
	d := newMockedDownloader(t)
	url := "http://cam.local/sdcard/record/20250101/23/05.mp4"

	dest := t.TempDir()
	existing := filepath.Join(dest, "20250101", "23", "05.mp4")
	require.NoError(t, os.MkdirAll(filepath.Dir(existing), 0o755))
	require.NoError(t, os.WriteFile(existing, []byte("cached"), 0o644))

	p, err := d.DownloadClip(t.Context(), url, dest)
	require.NoError(t, err)
	assert.Equal(t, existing, p)
	assert.Zero(t, httpmock.GetTotalCallCount())
}

func TestDownloadClip_ReplacesEmptyFile(t *testing.T) {
	d := newMockedDownloader(t)
	url := "http://cam.local/sdcard/record/20250101/23/06.mp4"
	httpmock.RegisterResponder(http.MethodGet, url, httpmock.NewStringResponder(http.StatusOK, "fresh"))

	dest := t.TempDir()
	empty := filepath.Join(dest, "20250101", "23", "06.mp4")
	require.NoError(t, os.MkdirAll(filepath.Dir(empty), 0o755))
	require.NoError(t, os.WriteFile(empty, nil, 0o644))

	_, err := d.DownloadClip(t.Context(), url, dest)
	require.NoError(t, err)
	data, _ := os.ReadFile(empty)
	assert.Equal(t, "fresh", string(data))
}

func TestDownloadClip_RetryExhaustion(t *testing.T) {
	d := newMockedDownloader(t)
	url := "http://cam.local/sdcard/record/20250101/23/07.mp4"
	httpmock.RegisterResponder(http.MethodGet, url, httpmock.NewErrorResponder(errors.NewStd("connection reset")))

	dest := t.TempDir()
	_, err := d.DownloadClip(t.Context(), url, dest)
	require.ErrorIs(t, err, ErrDownload)
	assert.Contains(t, err.Error(), "after 3 attempts")
	assert.Equal(t, 3, httpmock.GetTotalCallCount())

	_, statErr := os.Stat(filepath.Join(dest, "20250101", "23", "07.mp4"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestDownloadClip_RecoversOnRetry(t *testing.T) {
	d := newMockedDownloader(t)
	url := "http://cam.local/sdcard/record/20250101/23/08.mp4"
	httpmock.RegisterResponder(http.MethodGet, url,
		httpmock.NewStringResponder(http.StatusServiceUnavailable, "").
			Then(httpmock.NewStringResponder(http.StatusOK, "ok")))

	p, err := d.DownloadClip(t.Context(), url, t.TempDir())
	require.NoError(t, err)
	data, _ := os.ReadFile(p)
	assert.Equal(t, "ok", string(data))
	assert.Equal(t, 2, httpmock.GetTotalCallCount())
}

func TestDownloadClip_DiskFull(t *testing.T) {
	full := diskmanager.NewGuard("/data", 90, func(context.Context, string) (diskmanager.DiskSpaceInfo, error) {
		return diskmanager.DiskSpaceInfo{UsedPercent: 99}, nil
	})
	d := newMockedDownloader(t, WithDiskGuard(full))

	_, err := d.DownloadClip(t.Context(), "http://cam.local/sdcard/record/20250101/23/09.mp4", t.TempDir())
	require.ErrorIs(t, err, diskmanager.ErrDiskFull)
	assert.Zero(t, httpmock.GetTotalCallCount())
}

func TestDownloadHour_SkipsFailures(t *testing.T) {
	d := newMockedDownloader(t)
	hour := "http://cam.local/sdcard/record/20250101/23/"
	httpmock.RegisterResponder(http.MethodGet, hour,
		httpmock.NewStringResponder(http.StatusOK, `<a href="00.mp4">x</a><a href="01.mp4">y</a>`))
	httpmock.RegisterResponder(http.MethodGet, hour+"00.mp4", httpmock.NewStringResponder(http.StatusOK, "a"))
	httpmock.RegisterResponder(http.MethodGet, hour+"01.mp4", httpmock.NewStringResponder(http.StatusForbidden, ""))

	dest := t.TempDir()
	got, err := d.DownloadHour(t.Context(), "20250101", 23, dest)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, Downloaded{URL: hour + "00.mp4", LocalPath: filepath.Join(dest, "20250101", "23", "00.mp4")}, got[0])
}

func TestDownloadHour_Cancelled(t *testing.T) {
	d := newMockedDownloader(t)
	httpmock.RegisterResponder(http.MethodGet, "http://cam.local/sdcard/record/20250101/23/",
		httpmock.NewStringResponder(http.StatusOK, `<a href="00.mp4">x</a>`))

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	_, err := d.DownloadHour(ctx, "20250101", 23, t.TempDir())
	require.Error(t, err)
}
