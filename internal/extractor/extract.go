package extractor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/ysmr3104/atomcam-meteor-detector/internal/errors"
	"github.com/ysmr3104/atomcam-meteor-detector/internal/logger"
	"github.com/ysmr3104/atomcam-meteor-detector/internal/media"
)

// ErrExtraction is wrapped by every error returned from Extract.
var ErrExtraction = errors.NewStd("clip extraction failed")

// GetLogger returns the extractor module logger
func GetLogger() logger.Logger {
	return logger.Global().Module("extractor")
}

// Extractor cuts time ranges out of a clip without re-encoding.
type Extractor struct {
	runner media.Runner
}

// New creates an Extractor that runs ffmpeg through runner
func New(runner media.Runner) *Extractor {
	return &Extractor{runner: runner}
}

// OutputNames returns the file names Extract writes for n ranges of source.
func OutputNames(source string, n int) []string {
	stem := strings.TrimSuffix(filepath.Base(source), filepath.Ext(source))
	if n == 1 {
		return []string{stem + "_meteor.mp4"}
	}
	names := make([]string, n)
	for i := range n {
		names[i] = fmt.Sprintf("%s_meteor_%d.mp4", stem, i)
	}
	return names
}

// Extract writes one stream-copied clip per range into outputDir and returns
// their paths in range order. No ffmpeg process is started for empty ranges.
func (e *Extractor) Extract(ctx context.Context, source string, ranges []TimeRange, outputDir string) ([]string, error) {
	if len(ranges) == 0 {
		return nil, nil
	}

	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, errors.New(fmt.Errorf("%w: create output dir: %w", ErrExtraction, err)).
			Component("extractor").
			Category(errors.CategoryFileIO).
			Context("output_dir", outputDir).
			Build()
	}

	names := OutputNames(source, len(ranges))
	outputs := make([]string, 0, len(ranges))
	start := time.Now()

	for i, r := range ranges {
		out := filepath.Join(outputDir, names[i])
		args := []string{
			"-y",
			"-ss", formatSeconds(r.Start),
			"-i", source,
			"-t", formatSeconds(r.Duration()),
			"-c", "copy",
			"-an",
			out,
		}

		if err := e.runner.Run(ctx, args...); err != nil {
			return outputs, errors.New(fmt.Errorf("%w: %w", ErrExtraction, err)).
				Component("extractor").
				Category(errors.CategoryExtraction).
				Context("source", source).
				Context("range_index", i).
				Timing("extract", time.Since(start)).
				Build()
		}
		outputs = append(outputs, out)
	}

	GetLogger().Info("extracted meteor clips",
		logger.String("source", filepath.Base(source)),
		logger.Int("count", len(outputs)))
	return outputs, nil
}

func formatSeconds(v float64) string {
	return strconv.FormatFloat(v, 'f', 3, 64)
}
