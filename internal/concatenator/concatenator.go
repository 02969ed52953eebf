// Package concatenator joins highlight clips into one video with the ffmpeg
// concat demuxer.
package concatenator

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ysmr3104/atomcam-meteor-detector/internal/errors"
	"github.com/ysmr3104/atomcam-meteor-detector/internal/logger"
	"github.com/ysmr3104/atomcam-meteor-detector/internal/media"
)

// ErrConcatenation is wrapped by every error returned from Concatenate.
var ErrConcatenation = errors.NewStd("video concatenation failed")

const copyBufferSize = 256 * 1024

// GetLogger returns the concatenator module logger
func GetLogger() logger.Logger {
	return logger.Global().Module("concatenator")
}

// Concatenator joins clips in order.
type Concatenator struct {
	runner media.Runner
}

// New creates a Concatenator that runs ffmpeg through runner
func New(runner media.Runner) *Concatenator {
	return &Concatenator{runner: runner}
}

// Concatenate writes paths, in order, into output. A single input is copied
// as-is; several inputs go through a temporary concat list next to output.
func (c *Concatenator) Concatenate(ctx context.Context, paths []string, output string) (string, error) {
	if len(paths) == 0 {
		return "", concatError(fmt.Errorf("%w: no videos to concatenate", ErrConcatenation), errors.CategoryValidation, output)
	}

	if err := os.MkdirAll(filepath.Dir(output), 0o755); err != nil {
		return "", concatError(fmt.Errorf("%w: %w", ErrConcatenation, err), errors.CategoryFileIO, output)
	}

	if len(paths) == 1 {
		if err := copyFile(paths[0], output); err != nil {
			return "", concatError(fmt.Errorf("%w: copy single video: %w", ErrConcatenation, err), errors.CategoryFileIO, output)
		}
		GetLogger().Info("single video copied", logger.String("output", output))
		return output, nil
	}

	stem := strings.TrimSuffix(filepath.Base(output), filepath.Ext(output))
	listPath := filepath.Join(filepath.Dir(output), stem+"_concat.txt")
	if err := writeConcatList(listPath, paths); err != nil {
		return "", concatError(fmt.Errorf("%w: write concat list: %w", ErrConcatenation, err), errors.CategoryFileIO, output)
	}
	defer func() {
		if err := os.Remove(listPath); err != nil && !os.IsNotExist(err) {
			GetLogger().Warn("failed to remove concat list", logger.String("path", listPath), logger.Error(err))
		}
	}()

	err := c.runner.Run(ctx,
		"-y",
		"-f", "concat",
		"-safe", "0",
		"-i", listPath,
		"-c", "copy",
		output)
	if err != nil {
		return "", concatError(fmt.Errorf("%w: %w", ErrConcatenation, err), errors.CategoryCommandExecution, output)
	}

	GetLogger().Info("videos concatenated",
		logger.Int("count", len(paths)),
		logger.String("output", output))
	return output, nil
}

func concatError(err error, category errors.ErrorCategory, output string) error {
	return errors.New(err).
		Component("concatenator").
		Category(category).
		Context("output", output).
		Build()
}

// writeConcatList writes the demuxer input file with absolute, quoted paths
func writeConcatList(listPath string, paths []string) error {
	var b strings.Builder
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return err
		}
		fmt.Fprintf(&b, "file '%s'\n", strings.ReplaceAll(abs, "'", `'\''`))
	}
	return os.WriteFile(listPath, []byte(b.String()), 0o644)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}

	buf := make([]byte, copyBufferSize)
	if _, err := io.CopyBuffer(out, in, buf); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
