package diskmanager

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ysmr3104/atomcam-meteor-detector/internal/errors"
)

func TestGetDiskUsage_MissingLeaf(t *testing.T) {
	t.Parallel()

	pct, err := GetDiskUsage(t.Context(), filepath.Join(t.TempDir(), "not", "yet", "created"))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, pct, 0.0)
	assert.LessOrEqual(t, pct, 100.0)
}

func TestExistingAncestor(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	assert.Equal(t, dir, existingAncestor(filepath.Join(dir, "a", "b")))
	assert.Equal(t, dir, existingAncestor(dir))
}

func fixedUsage(pct float64, err error) UsageFunc {
	return func(context.Context, string) (DiskSpaceInfo, error) {
		return DiskSpaceInfo{UsedPercent: pct}, err
	}
}

func TestGuard_Check(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		max     float64
		usage   UsageFunc
		wantErr bool
	}{
		{"below limit", 90, fixedUsage(50, nil), false},
		{"at limit", 90, fixedUsage(90, nil), false},
		{"above limit", 90, fixedUsage(97.5, nil), true},
		{"disabled", 0, fixedUsage(99, nil), false},
		{"usage unavailable", 90, fixedUsage(0, errors.NewStd("statfs failed")), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := NewGuard("/data", tt.max, tt.usage).Check(t.Context())
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, ErrDiskFull)
			assert.True(t, errors.IsCategory(err, errors.CategoryDiskUsage))
			assert.Contains(t, err.Error(), "97.5%")
		})
	}
}

func TestGuard_Nil(t *testing.T) {
	t.Parallel()

	var g *Guard
	assert.NoError(t, g.Check(t.Context()))
}
