package media

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ysmr3104/atomcam-meteor-detector/internal/errors"
	"github.com/ysmr3104/atomcam-meteor-detector/internal/logger"
)

// stderrLimit bounds the diagnostic output kept from a failed command
const stderrLimit = 8 * 1024

// BoundedBuffer is a thread-safe buffer keeping only the most recent output.
// It collects ffmpeg stderr for error messages.
type BoundedBuffer struct {
	buffer bytes.Buffer
	mu     sync.Mutex
	size   int
}

// NewBoundedBuffer creates a new BoundedBuffer with the specified size
func NewBoundedBuffer(size int) *BoundedBuffer {
	return &BoundedBuffer{size: size}
}

// Write implements the io.Writer interface
func (b *BoundedBuffer) Write(p []byte) (n int, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	n = len(p)
	if b.buffer.Len()+len(p) > b.size {
		b.buffer.Reset()
		if len(p) > b.size {
			p = p[len(p)-b.size:]
		}
	}
	_, err = b.buffer.Write(p)
	return n, err
}

// String returns the contents of the buffer as a string
func (b *BoundedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buffer.String()
}

// CommandError is returned when a media tool exits unsuccessfully.
type CommandError struct {
	Tool   string
	Args   []string
	Stderr string
	Err    error
}

func (e *CommandError) Error() string {
	msg := strings.TrimSpace(e.Stderr)
	if msg == "" {
		msg = e.Err.Error()
	}
	return fmt.Sprintf("%s failed: %s", e.Tool, msg)
}

func (e *CommandError) Unwrap() error { return e.Err }

// Runner executes ffmpeg with the given arguments.
type Runner interface {
	Run(ctx context.Context, args ...string) error
}

// ExecRunner runs a binary with os/exec.
type ExecRunner struct {
	Path    string
	Timeout time.Duration // 0 means no timeout beyond ctx
}

// NewExecRunner creates a runner for the binary at path
func NewExecRunner(path string, timeout time.Duration) *ExecRunner {
	return &ExecRunner{Path: path, Timeout: timeout}
}

// Run executes the command and returns a *CommandError carrying stderr on failure
func (r *ExecRunner) Run(ctx context.Context, args ...string) error {
	if r.Path == "" {
		return errors.Newf("media tool path is not configured").
			Component("media").
			Category(errors.CategoryConfiguration).
			Build()
	}

	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	stderr := NewBoundedBuffer(stderrLimit)
	cmd := exec.CommandContext(ctx, r.Path, args...)
	cmd.Stderr = stderr

	start := time.Now()
	err := cmd.Run()
	GetLogger().Debug("media command finished",
		logger.String("tool", r.Path),
		logger.String("args", strings.Join(args, " ")),
		logger.Duration("elapsed", time.Since(start)),
		logger.Bool("ok", err == nil))
	if err != nil {
		if ctx.Err() != nil {
			err = fmt.Errorf("%w: %w", err, ctx.Err())
		}
		return &CommandError{Tool: r.Path, Args: args, Stderr: stderr.String(), Err: err}
	}
	return nil
}

// StreamInfo is the subset of ffprobe output needed for decoding
type StreamInfo struct {
	Width     int
	Height    int
	FrameRate float64
}

// Probe reads the first video stream's dimensions and frame rate.
func Probe(ctx context.Context, ffprobePath, path string) (*StreamInfo, error) {
	var out bytes.Buffer
	stderr := NewBoundedBuffer(stderrLimit)

	// -of default=noprint_wrappers=1: key=value lines
	cmd := exec.CommandContext(ctx, ffprobePath,
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=width,height,avg_frame_rate,r_frame_rate",
		"-of", "default=noprint_wrappers=1",
		path)
	cmd.Stdout = &out
	cmd.Stderr = stderr

	if err := cmd.Run(); err != nil {
		return nil, &CommandError{Tool: ffprobePath, Args: cmd.Args[1:], Stderr: stderr.String(), Err: err}
	}

	return parseProbeOutput(out.String())
}

func parseProbeOutput(out string) (*StreamInfo, error) {
	info := &StreamInfo{}
	var avgRate, rRate float64
	for line := range strings.SplitSeq(out, "\n") {
		key, value, ok := strings.Cut(strings.TrimSpace(line), "=")
		if !ok {
			continue
		}
		switch key {
		case "width":
			info.Width, _ = strconv.Atoi(value)
		case "height":
			info.Height, _ = strconv.Atoi(value)
		case "avg_frame_rate":
			avgRate = parseRate(value)
		case "r_frame_rate":
			rRate = parseRate(value)
		}
	}

	if info.Width <= 0 || info.Height <= 0 {
		return nil, fmt.Errorf("no video stream found")
	}
	info.FrameRate = avgRate
	if info.FrameRate <= 0 {
		info.FrameRate = rRate
	}
	return info, nil
}

// parseRate parses "num/den" or a plain number; invalid input yields 0
func parseRate(s string) float64 {
	num, den, found := strings.Cut(s, "/")
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0
	}
	if !found {
		return n
	}
	d, err := strconv.ParseFloat(den, 64)
	if err != nil || d == 0 {
		return 0
	}
	return n / d
}

// FFmpegOpener decodes clips by piping rgb24 frames out of ffmpeg.
type FFmpegOpener struct {
	FFmpegPath  string
	FFprobePath string
}

// NewFFmpegOpener creates an opener for the given tool paths
func NewFFmpegOpener(ffmpegPath, ffprobePath string) *FFmpegOpener {
	return &FFmpegOpener{FFmpegPath: ffmpegPath, FFprobePath: ffprobePath}
}

// Open probes the clip and starts the decoder process
func (o *FFmpegOpener) Open(ctx context.Context, path string) (Source, error) {
	info, err := Probe(ctx, o.FFprobePath, path)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	stderr := NewBoundedBuffer(stderrLimit)
	cmd := exec.CommandContext(ctx, o.FFmpegPath,
		"-v", "error",
		"-i", path,
		"-f", "rawvideo",
		"-pix_fmt", "rgb24",
		"-")
	cmd.Stderr = stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, &CommandError{Tool: o.FFmpegPath, Args: cmd.Args[1:], Stderr: stderr.String(), Err: err}
	}

	return &ffmpegSource{
		cmd:    cmd,
		cancel: cancel,
		stdout: stdout,
		stderr: stderr,
		info:   *info,
		buf:    make([]byte, info.Width*info.Height*3),
	}, nil
}

// ffmpegSource reads one raw frame at a time, so memory stays at one frame
// regardless of clip length.
type ffmpegSource struct {
	cmd    *exec.Cmd
	cancel context.CancelFunc
	stdout io.ReadCloser
	stderr *BoundedBuffer
	info   StreamInfo
	buf    []byte
	done   bool
}

func (s *ffmpegSource) FrameRate() float64 { return s.info.FrameRate }

func (s *ffmpegSource) Next() (*image.RGBA, error) {
	if s.done {
		return nil, io.EOF
	}

	if _, err := io.ReadFull(s.stdout, s.buf); err != nil {
		s.done = true
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, io.EOF
		}
		return nil, err
	}

	w, h := s.info.Width, s.info.Height
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i, j := 0, 0; i < len(s.buf); i, j = i+3, j+4 {
		img.Pix[j] = s.buf[i]
		img.Pix[j+1] = s.buf[i+1]
		img.Pix[j+2] = s.buf[i+2]
		img.Pix[j+3] = 0xff
	}
	return img, nil
}

func (s *ffmpegSource) Close() error {
	s.done = true
	s.cancel()
	_ = s.stdout.Close()
	// the process is killed by cancel, so a non-zero exit here is expected
	_ = s.cmd.Wait()
	return nil
}
