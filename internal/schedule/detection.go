package schedule

import (
	"context"
	"strconv"

	"github.com/ysmr3104/atomcam-meteor-detector/internal/conf"
	"github.com/ysmr3104/atomcam-meteor-detector/internal/logger"
)

// DetectionKeyPrefix prefixes detection overrides in the settings table
const DetectionKeyPrefix = "detection."

// DetectionKeys lists the detection parameters that may be overridden
var DetectionKeys = []string{
	"min_line_length",
	"canny_threshold1",
	"canny_threshold2",
	"hough_threshold",
	"max_line_gap",
	"min_line_brightness",
	"exclude_bottom_pct",
}

// ResolveDetection applies detection.* overrides from the settings table on
// top of base. An override set that fails validation is ignored as a whole.
func ResolveDetection(ctx context.Context, settings SettingsReader, base *conf.DetectionSettings) conf.DetectionSettings {
	if settings == nil {
		return *base
	}
	values, err := settings.GetAll(ctx)
	if err != nil {
		GetLogger().Warn("failed to read detection overrides", logger.Error(err))
		return *base
	}

	out, err := ApplyDetectionOverrides(values, base)
	if err != nil {
		GetLogger().Warn("detection overrides rejected, using config file values", logger.Error(err))
		return *base
	}
	return out
}

// ApplyDetectionOverrides merges the detection.* entries of values into a
// copy of base and validates the result.
func ApplyDetectionOverrides(values map[string]string, base *conf.DetectionSettings) (conf.DetectionSettings, error) {
	out := *base
	s := source{values: values}
	out.MinLineLength = s.integer(DetectionKeyPrefix+"min_line_length", out.MinLineLength)
	out.CannyThreshold1 = s.integer(DetectionKeyPrefix+"canny_threshold1", out.CannyThreshold1)
	out.CannyThreshold2 = s.integer(DetectionKeyPrefix+"canny_threshold2", out.CannyThreshold2)
	out.HoughThreshold = s.integer(DetectionKeyPrefix+"hough_threshold", out.HoughThreshold)
	out.MaxLineGap = s.integer(DetectionKeyPrefix+"max_line_gap", out.MaxLineGap)
	if v, ok := s.float(DetectionKeyPrefix + "min_line_brightness"); ok {
		out.MinLineBrightness = v
	}
	if v, ok := s.float(DetectionKeyPrefix + "exclude_bottom_pct"); ok {
		out.ExcludeBottomPct = v
	}

	if err := conf.ValidateDetection(&out); err != nil {
		return *base, err
	}
	return out, nil
}

// CurrentDetection returns the effective detection parameters as strings,
// keyed without the prefix, for display and the settings API.
func CurrentDetection(ctx context.Context, settings SettingsReader, base *conf.DetectionSettings) map[string]string {
	d := ResolveDetection(ctx, settings, base)
	return map[string]string{
		"min_line_length":     strconv.Itoa(d.MinLineLength),
		"canny_threshold1":    strconv.Itoa(d.CannyThreshold1),
		"canny_threshold2":    strconv.Itoa(d.CannyThreshold2),
		"hough_threshold":     strconv.Itoa(d.HoughThreshold),
		"max_line_gap":        strconv.Itoa(d.MaxLineGap),
		"min_line_brightness": strconv.FormatFloat(d.MinLineBrightness, 'f', -1, 64),
		"exclude_bottom_pct":  strconv.FormatFloat(d.ExcludeBottomPct, 'f', -1, 64),
	}
}
