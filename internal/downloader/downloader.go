// Package downloader lists and fetches one-minute clips from the camera's SD
// card HTTP share. Clips are laid out as {base}/{YYYYMMDD}/{HH}/{MM}.mp4 on
// the camera and mirrored to the same relative path locally.
package downloader

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/ysmr3104/atomcam-meteor-detector/internal/conf"
	"github.com/ysmr3104/atomcam-meteor-detector/internal/diskmanager"
	"github.com/ysmr3104/atomcam-meteor-detector/internal/errors"
	"github.com/ysmr3104/atomcam-meteor-detector/internal/httpclient"
	"github.com/ysmr3104/atomcam-meteor-detector/internal/logger"
)

// ErrDownload is wrapped by listing and download failures after all retries.
var ErrDownload = errors.NewStd("clip download failed")

var clipName = regexp.MustCompile(`^\d{2}\.mp4$`)

// GetLogger returns the downloader module logger
func GetLogger() logger.Logger {
	return logger.Global().Module("downloader")
}

// Downloaded pairs a camera URL with the local file it was saved to.
type Downloaded struct {
	URL       string `json:"url"`
	LocalPath string `json:"local_path"`
}

// Downloader talks to one camera.
type Downloader struct {
	client     *httpclient.Client
	baseURL    string
	retries    int
	retryDelay time.Duration
	guard      *diskmanager.Guard
}

// Option customizes a Downloader
type Option func(*Downloader)

// WithClient replaces the HTTP client
func WithClient(c *httpclient.Client) Option {
	return func(d *Downloader) { d.client = c }
}

// WithRetryDelay overrides the delay between attempts
func WithRetryDelay(delay time.Duration) Option {
	return func(d *Downloader) { d.retryDelay = delay }
}

// WithDiskGuard refuses downloads while the guard reports the disk as full
func WithDiskGuard(g *diskmanager.Guard) Option {
	return func(d *Downloader) { d.guard = g }
}

// New creates a Downloader for the camera settings
func New(camera *conf.CameraSettings, opts ...Option) *Downloader {
	d := &Downloader{
		baseURL:    BaseURL(camera),
		retries:    max(1, camera.RetryCount),
		retryDelay: camera.RetryDelay(),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.client == nil {
		d.client = httpclient.New(&httpclient.Config{
			DefaultTimeout: camera.Timeout(),
			Username:       camera.HTTPUser,
			Password:       camera.HTTPPassword,
		})
	}
	return d
}

// BaseURL returns the record root on the camera, without a trailing slash.
func BaseURL(camera *conf.CameraSettings) string {
	host := strings.TrimSuffix(camera.Host, "/")
	if !strings.Contains(host, "://") {
		host = "http://" + host
	}
	base := strings.Trim(camera.BasePath, "/")
	if base == "" {
		return host
	}
	return host + "/" + base
}

// Client returns the HTTP client in use
func (d *Downloader) Client() *httpclient.Client {
	return d.client
}

// HourURL returns the listing URL for one hour directory, with trailing slash.
func (d *Downloader) HourURL(date string, hour int) string {
	return fmt.Sprintf("%s/%s/%02d/", d.baseURL, date, hour)
}

// ListClips returns the clip URLs in the hour directory, sorted by minute.
// A missing directory (404) is an empty hour, not an error.
func (d *Downloader) ListClips(ctx context.Context, date string, hour int) ([]string, error) {
	hourURL := d.HourURL(date, hour)

	var names []string
	err := d.withRetry(ctx, "list", hourURL, func() error {
		resp, err := d.client.Get(ctx, hourURL)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusNotFound {
			names = nil
			return nil
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("unexpected status %d", resp.StatusCode)
		}
		names, err = parseListing(resp.Body)
		return err
	})
	if err != nil {
		return nil, downloadError(err, "list_clips", hourURL)
	}

	urls := make([]string, len(names))
	for i, n := range names {
		urls[i] = hourURL + n
	}
	return urls, nil
}

// parseListing extracts href="MM.mp4" anchors from a directory index page
func parseListing(r io.Reader) ([]string, error) {
	seen := make(map[string]struct{})
	z := html.NewTokenizer(r)
	for {
		switch z.Next() {
		case html.ErrorToken:
			if errors.Is(z.Err(), io.EOF) {
				names := make([]string, 0, len(seen))
				for n := range seen {
					names = append(names, n)
				}
				slices.Sort(names)
				return names, nil
			}
			return nil, z.Err()
		case html.StartTagToken, html.SelfClosingTagToken:
			tok := z.Token()
			if tok.Data != "a" {
				continue
			}
			for _, attr := range tok.Attr {
				if attr.Key == "href" && clipName.MatchString(attr.Val) {
					seen[attr.Val] = struct{}{}
				}
			}
		}
	}
}

// LocalPath maps .../{YYYYMMDD}/{HH}/{MM}.mp4 to the same layout under destDir.
func LocalPath(clipURL, destDir string) (string, error) {
	trimmed := strings.TrimSuffix(clipURL, "/")
	if i := strings.Index(trimmed, "://"); i >= 0 {
		trimmed = trimmed[i+3:]
	}
	parts := strings.Split(path.Clean(trimmed), "/")
	if len(parts) < 3 {
		return "", fmt.Errorf("clip url %q does not end in date/hour/minute", clipURL)
	}
	n := len(parts)
	return filepath.Join(destDir, parts[n-3], parts[n-2], parts[n-1]), nil
}

// DownloadClip fetches clipURL into destDir. A non-empty local copy is
// reused. Data is written to a temporary file and renamed into place so an
// interrupted download never leaves a truncated clip behind.
func (d *Downloader) DownloadClip(ctx context.Context, clipURL, destDir string) (string, error) {
	localPath, err := LocalPath(clipURL, destDir)
	if err != nil {
		return "", downloadError(err, "download_clip", clipURL)
	}

	if info, err := os.Stat(localPath); err == nil && info.Size() > 0 {
		GetLogger().Debug("clip already exists, skipping", logger.String("path", localPath))
		return localPath, nil
	}

	if err := d.guard.Check(ctx); err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return "", downloadError(err, "download_clip", clipURL)
	}

	start := time.Now()
	err = d.withRetry(ctx, "download", clipURL, func() error {
		return d.fetch(ctx, clipURL, localPath)
	})
	if err != nil {
		return "", downloadError(err, "download_clip", clipURL)
	}

	GetLogger().Info("downloaded clip",
		logger.String("url", clipURL),
		logger.String("path", localPath),
		logger.Duration("elapsed", time.Since(start)))
	return localPath, nil
}

func (d *Downloader) fetch(ctx context.Context, clipURL, localPath string) error {
	resp, err := d.client.Get(ctx, clipURL)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	tmp, err := os.CreateTemp(filepath.Dir(localPath), ".download-*.part")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		// no-op after a successful rename
		_ = os.Remove(tmpName)
	}()

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, localPath)
}

// DownloadHour lists and downloads every clip of one hour. Clips that fail
// after all retries are logged and left out of the result.
func (d *Downloader) DownloadHour(ctx context.Context, date string, hour int, destDir string) ([]Downloaded, error) {
	urls, err := d.ListClips(ctx, date, hour)
	if err != nil {
		return nil, err
	}

	results := make([]Downloaded, 0, len(urls))
	for _, u := range urls {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		p, err := d.DownloadClip(ctx, u, destDir)
		if err != nil {
			if errors.Is(err, diskmanager.ErrDiskFull) {
				return results, err
			}
			GetLogger().Error("failed to download clip after retries", logger.String("url", u), logger.Error(err))
			continue
		}
		results = append(results, Downloaded{URL: u, LocalPath: p})
	}
	return results, nil
}

// withRetry runs op up to d.retries times with a fixed delay between attempts
func (d *Downloader) withRetry(ctx context.Context, what, target string, op func() error) error {
	var lastErr error
	for attempt := 1; attempt <= d.retries; attempt++ {
		if lastErr = op(); lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		GetLogger().Warn("attempt failed",
			logger.String("operation", what),
			logger.String("target", target),
			logger.Int("attempt", attempt),
			logger.Int("max_attempts", d.retries),
			logger.Error(lastErr))

		if attempt < d.retries && d.retryDelay > 0 {
			timer := time.NewTimer(d.retryDelay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
	}
	return fmt.Errorf("after %d attempts: %w", d.retries, lastErr)
}

func downloadError(err error, operation, target string) error {
	return errors.New(fmt.Errorf("%w: %s: %w", ErrDownload, target, err)).
		Component("downloader").
		Category(errors.CategoryDownload).
		Context("operation", operation).
		Context("url", target).
		Build()
}
