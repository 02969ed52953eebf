package diskmanager

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ysmr3104/atomcam-meteor-detector/internal/errors"
	"github.com/ysmr3104/atomcam-meteor-detector/internal/logger"
	"github.com/ysmr3104/atomcam-meteor-detector/internal/observability/metrics"
)

var diskMetrics atomic.Pointer[metrics.DiskManagerMetrics]

// SetMetrics installs the collectors updated by Guard.Check
func SetMetrics(m *metrics.DiskManagerMetrics) {
	diskMetrics.Store(m)
}

// GetLogger returns the diskmanager module logger
func GetLogger() logger.Logger {
	return logger.Global().Module("diskmanager")
}

// Guard checks a directory against a maximum usage percentage.
type Guard struct {
	Path       string
	MaxPercent float64 // 0 disables the check
	usage      UsageFunc
}

// NewGuard creates a guard for path. A nil usage func selects GetDetailedDiskUsage.
func NewGuard(path string, maxPercent float64, usage UsageFunc) *Guard {
	if usage == nil {
		usage = GetDetailedDiskUsage
	}
	return &Guard{Path: path, MaxPercent: maxPercent, usage: usage}
}

// Check returns ErrDiskFull when usage exceeds the limit. Failing to read
// usage is logged and does not block work.
func (g *Guard) Check(ctx context.Context) error {
	if g == nil || g.MaxPercent <= 0 {
		return nil
	}

	start := time.Now()
	info, err := g.usage(ctx, g.Path)
	m := diskMetrics.Load()
	if m != nil {
		m.RecordDiskCheckDuration(time.Since(start).Seconds())
	}
	if err != nil {
		GetLogger().Warn("disk usage unavailable, skipping check", logger.String("path", g.Path), logger.Error(err))
		return nil
	}
	if m != nil && info.TotalBytes > 0 {
		m.UpdateDiskUsage(info.UsedBytes, info.TotalBytes)
	}
	if info.UsedPercent <= g.MaxPercent {
		return nil
	}
	if m != nil {
		m.RecordDownloadRefused()
	}

	return errors.New(fmt.Errorf("%w: %.1f%% used, limit %.1f%%", ErrDiskFull, info.UsedPercent, g.MaxPercent)).
		Component("diskmanager").
		Category(errors.CategoryDiskUsage).
		Context("path", g.Path).
		Context("used_percent", info.UsedPercent).
		Build()
}
