package concatenator

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ysmr3104/atomcam-meteor-detector/internal/media"
)

// fakeRunner captures the concat list contents while it still exists
type fakeRunner struct {
	args []string
	list string
	err  error
}

func (f *fakeRunner) Run(_ context.Context, args ...string) error {
	f.args = args
	for i, a := range args {
		if a == "-i" && i+1 < len(args) {
			data, _ := os.ReadFile(args[i+1])
			f.list = string(data)
		}
	}
	return f.err
}

func writeFile(t *testing.T, path, content string) string {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestConcatenate_Empty(t *testing.T) {
	t.Parallel()

	_, err := New(&fakeRunner{}).Concatenate(t.Context(), nil, filepath.Join(t.TempDir(), "out.mp4"))
	require.ErrorIs(t, err, ErrConcatenation)
	assert.Contains(t, err.Error(), "no videos")
}

func TestConcatenate_SingleVideoCopies(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	src := writeFile(t, filepath.Join(dir, "in.mp4"), "video data")
	runner := &fakeRunner{}

	out, err := New(runner).Concatenate(t.Context(), []string{src}, filepath.Join(dir, "output", "result.mp4"))
	require.NoError(t, err)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "video data", string(data))
	assert.Nil(t, runner.args, "ffmpeg must not run for one input")
}

func TestConcatenate_MultipleUsesDemuxer(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	v1 := writeFile(t, filepath.Join(dir, "v1.mp4"), "1")
	v2 := writeFile(t, filepath.Join(dir, "it's.mp4"), "2")
	out := filepath.Join(dir, "out", "night.mp4")
	runner := &fakeRunner{}

	got, err := New(runner).Concatenate(t.Context(), []string{v1, v2}, out)
	require.NoError(t, err)
	assert.Equal(t, out, got)

	listPath := filepath.Join(dir, "out", "night_concat.txt")
	assert.Equal(t, []string{"-y", "-f", "concat", "-safe", "0", "-i", listPath, "-c", "copy", out}, runner.args)
	assert.Equal(t, "file '"+v1+"'\nfile '"+filepath.Join(dir, `it'\''s.mp4`)+"'\n", runner.list)

	_, err = os.Stat(listPath)
	assert.True(t, os.IsNotExist(err), "concat list is removed")
}

func TestConcatenate_FailureRemovesList(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	v1 := writeFile(t, filepath.Join(dir, "v1.mp4"), "1")
	v2 := writeFile(t, filepath.Join(dir, "v2.mp4"), "2")
	runner := &fakeRunner{err: &media.CommandError{Tool: "ffmpeg", Stderr: "error msg"}}

	_, err := New(runner).Concatenate(t.Context(), []string{v1, v2}, filepath.Join(dir, "out.mp4"))
	require.ErrorIs(t, err, ErrConcatenation)
	assert.Contains(t, err.Error(), "error msg")

	_, statErr := os.Stat(filepath.Join(dir, "out_concat.txt"))
	assert.True(t, os.IsNotExist(statErr))
}
