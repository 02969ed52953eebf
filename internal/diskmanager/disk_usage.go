// Package diskmanager reports filesystem usage and refuses new downloads
// once the clip volume is too full.
package diskmanager

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/shirou/gopsutil/v3/disk"

	"github.com/ysmr3104/atomcam-meteor-detector/internal/errors"
)

// ErrDiskFull is returned by Guard.Check when usage is above the limit.
var ErrDiskFull = errors.NewStd("disk usage above limit")

// DiskSpaceInfo holds detailed disk space information.
type DiskSpaceInfo struct {
	TotalBytes  uint64
	UsedBytes   uint64
	UsedPercent float64
}

// UsageFunc reports the usage of the filesystem holding path
type UsageFunc func(ctx context.Context, path string) (DiskSpaceInfo, error)

// GetDetailedDiskUsage returns usage for the filesystem containing path. Missing
// path components are skipped so a download root that does not exist yet
// reports its parent volume.
func GetDetailedDiskUsage(ctx context.Context, path string) (DiskSpaceInfo, error) {
	stat, err := disk.UsageWithContext(ctx, existingAncestor(path))
	if err != nil {
		return DiskSpaceInfo{}, fmt.Errorf("failed to get disk stats for %s: %w", path, err)
	}
	return DiskSpaceInfo{
		TotalBytes:  stat.Total,
		UsedBytes:   stat.Used,
		UsedPercent: stat.UsedPercent,
	}, nil
}

// GetDiskUsage returns the used percentage for the filesystem containing path
func GetDiskUsage(ctx context.Context, path string) (float64, error) {
	info, err := GetDetailedDiskUsage(ctx, path)
	if err != nil {
		return 0, err
	}
	return info.UsedPercent, nil
}

func existingAncestor(path string) string {
	p := filepath.Clean(path)
	for {
		if _, err := os.Stat(p); err == nil {
			return p
		}
		parent := filepath.Dir(p)
		if parent == p {
			return p
		}
		p = parent
	}
}
