package detector

import (
	"math"

	"github.com/ysmr3104/atomcam-meteor-detector/internal/conf"
)

// DefaultFPS is assumed when the source cannot report a frame rate.
const DefaultFPS = 15.0

// Config holds the line detection parameters.
type Config struct {
	MinLineLength     int
	CannyLow          int
	CannyHigh         int
	HoughThreshold    int
	MaxLineGap        int
	ExposureSeconds   float64
	MaskPath          string
	ExcludeBottomPct  float64
	MinLineBrightness float64 // 0 disables the brightness filter
	ClipMarginSeconds float64
}

// DefaultConfig returns the built-in detection parameters.
func DefaultConfig() Config {
	return Config{
		MinLineLength:     30,
		CannyLow:          100,
		CannyHigh:         200,
		HoughThreshold:    50,
		MaxLineGap:        10,
		ExposureSeconds:   1.0,
		ExcludeBottomPct:  0,
		MinLineBrightness: 20,
		ClipMarginSeconds: 0.5,
	}
}

// ConfigFromSettings maps the detection config section onto a Config.
func ConfigFromSettings(s *conf.DetectionSettings) Config {
	return Config{
		MinLineLength:     s.MinLineLength,
		CannyLow:          s.CannyThreshold1,
		CannyHigh:         s.CannyThreshold2,
		HoughThreshold:    s.HoughThreshold,
		MaxLineGap:        s.MaxLineGap,
		ExposureSeconds:   s.ExposureDurationSec,
		MaskPath:          conf.ExpandPath(s.MaskPath),
		ExcludeBottomPct:  s.ExcludeBottomPct,
		MinLineBrightness: s.MinLineBrightness,
		ClipMarginSeconds: s.ClipMarginSec,
	}
}

// FramesPerGroup returns how many frames make up one simulated exposure.
func (c Config) FramesPerGroup(fps float64) int {
	exposure := c.ExposureSeconds
	if exposure <= 0 {
		exposure = DefaultConfig().ExposureSeconds
	}
	return max(2, int(math.Round(fps*exposure)))
}
