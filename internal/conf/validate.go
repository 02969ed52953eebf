// conf/validate.go

package conf

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Schedule time modes
const (
	ModeFixed          = "fixed"
	ModeTwilight       = "twilight"
	ModeTwilightOffset = "twilight_offset"
)

// ValidationError represents a collection of validation errors
type ValidationError struct {
	Errors []string
}

// Error returns a string representation of the validation errors
func (ve ValidationError) Error() string {
	return fmt.Sprintf("Validation errors: %v", ve.Errors)
}

// ValidateSettings validates the entire Settings struct
func ValidateSettings(settings *Settings) error {
	ve := ValidationError{}

	validators := []func(*Settings) error{
		func(s *Settings) error { return validateCameraSettings(&s.Camera) },
		func(s *Settings) error { return validateDetectionSettings(&s.Detection) },
		func(s *Settings) error { return validateScheduleSettings(&s.Schedule) },
		func(s *Settings) error { return validateDatabaseSettings(&s.Database) },
		func(s *Settings) error { return validateWebSettings(&s.Web) },
		func(s *Settings) error { return validateNotificationSettings(&s.Notification) },
		func(s *Settings) error { return validateMQTTSettings(&s.MQTT) },
		func(s *Settings) error { return validateSentrySettings(&s.Sentry) },
	}

	for _, validate := range validators {
		if err := validate(settings); err != nil {
			ve.Errors = append(ve.Errors, err.Error())
		}
	}

	if settings.Paths.MaxDiskUsage < 0 || settings.Paths.MaxDiskUsage > 100 {
		ve.Errors = append(ve.Errors, "paths.max_disk_usage must be between 0 and 100")
	}

	if len(ve.Errors) > 0 {
		return ve
	}
	return nil
}

func validateCameraSettings(settings *CameraSettings) error {
	var errs []string

	if strings.TrimSpace(settings.Host) == "" {
		errs = append(errs, "camera host must not be empty")
	}
	if settings.TimeoutSec <= 0 {
		errs = append(errs, "camera timeout must be positive")
	}
	if settings.RetryCount < 1 {
		errs = append(errs, "camera retry count must be at least 1")
	}
	if settings.RetryDelaySec < 0 {
		errs = append(errs, "camera retry delay must not be negative")
	}

	if len(errs) > 0 {
		return fmt.Errorf("camera settings errors: %v", errs)
	}
	return nil
}

// ValidateDetection validates detection parameters, also used for settings table overrides
func ValidateDetection(settings *DetectionSettings) error {
	return validateDetectionSettings(settings)
}

func validateDetectionSettings(settings *DetectionSettings) error {
	var errs []string

	if settings.MinLineLength < 1 {
		errs = append(errs, "min_line_length must be at least 1")
	}
	if settings.CannyThreshold1 < 0 || settings.CannyThreshold2 < 0 {
		errs = append(errs, "canny thresholds must not be negative")
	}
	if settings.CannyThreshold1 > settings.CannyThreshold2 {
		errs = append(errs, "canny_threshold1 must not exceed canny_threshold2")
	}
	if settings.HoughThreshold < 1 {
		errs = append(errs, "hough_threshold must be at least 1")
	}
	if settings.MaxLineGap < 0 {
		errs = append(errs, "max_line_gap must not be negative")
	}
	if settings.ExposureDurationSec <= 0 {
		errs = append(errs, "exposure_duration_sec must be positive")
	}
	if settings.ClipMarginSec < 0 {
		errs = append(errs, "clip_margin_sec must not be negative")
	}
	if settings.ExcludeBottomPct < 0 || settings.ExcludeBottomPct > 50 {
		errs = append(errs, "exclude_bottom_pct must be between 0 and 50")
	}
	if settings.MinLineBrightness < 0 || settings.MinLineBrightness > 255 {
		errs = append(errs, "min_line_brightness must be between 0 and 255")
	}

	if len(errs) > 0 {
		return fmt.Errorf("detection settings errors: %v", errs)
	}
	return nil
}

func validateScheduleSettings(settings *ScheduleSettings) error {
	var errs []string

	if settings.IntervalMinutes < 1 || settings.IntervalMinutes > 1440 {
		errs = append(errs, "schedule interval must be between 1 and 1440 minutes")
	}
	for name, mode := range map[string]string{"start_mode": settings.StartMode, "end_mode": settings.EndMode} {
		if !IsValidScheduleMode(mode) {
			errs = append(errs, fmt.Sprintf("schedule %s %q must be fixed, twilight or twilight_offset", name, mode))
		}
	}
	if _, err := ParseClock(settings.StartTime); err != nil {
		errs = append(errs, fmt.Sprintf("schedule start_time: %v", err))
	}
	if _, err := ParseClock(settings.EndTime); err != nil {
		errs = append(errs, fmt.Sprintf("schedule end_time: %v", err))
	}
	if settings.Latitude < -90 || settings.Latitude > 90 {
		errs = append(errs, "schedule latitude must be between -90 and 90")
	}
	if settings.Longitude < -180 || settings.Longitude > 180 {
		errs = append(errs, "schedule longitude must be between -180 and 180")
	}
	if settings.Timezone != "" && settings.Timezone != "Local" {
		if _, err := time.LoadLocation(settings.Timezone); err != nil {
			errs = append(errs, fmt.Sprintf("schedule timezone %q is invalid", settings.Timezone))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("schedule settings errors: %v", errs)
	}
	return nil
}

// IsValidScheduleMode reports whether mode is a known start/end mode
func IsValidScheduleMode(mode string) bool {
	switch mode {
	case ModeFixed, ModeTwilight, ModeTwilightOffset:
		return true
	}
	return false
}

// Clock is a wall-clock time of day
type Clock struct {
	Hour   int
	Minute int
}

// String formats the clock as HH:MM
func (c Clock) String() string { return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute) }

// Minutes returns minutes since midnight
func (c Clock) Minutes() int { return c.Hour*60 + c.Minute }

// ParseClock parses an HH:MM string
func ParseClock(s string) (Clock, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return Clock{}, fmt.Errorf("invalid time %q, expected HH:MM", s)
	}
	return Clock{Hour: t.Hour(), Minute: t.Minute()}, nil
}

func validateDatabaseSettings(settings *DatabaseSettings) error {
	switch settings.Type {
	case "sqlite", "":
		return nil
	case "mysql":
		if settings.MySQL.Host == "" || settings.MySQL.Database == "" {
			return errors.New("mysql host and database are required when database type is mysql")
		}
		if settings.MySQL.Port < 1 || settings.MySQL.Port > 65535 {
			return fmt.Errorf("mysql port must be between 1 and 65535, got %d", settings.MySQL.Port)
		}
		return nil
	default:
		return fmt.Errorf("database type %q must be sqlite or mysql", settings.Type)
	}
}

func validateWebSettings(settings *WebSettings) error {
	if settings.Port < 1 || settings.Port > 65535 {
		return fmt.Errorf("web port must be between 1 and 65535, got %d", settings.Port)
	}
	return nil
}

func validateNotificationSettings(settings *NotificationSettings) error {
	if !settings.Enabled {
		return nil
	}
	if len(settings.URLs) == 0 {
		return errors.New("notification urls are required when notifications are enabled")
	}
	if settings.RatePerMinute < 1 {
		return errors.New("notification rate_per_minute must be at least 1")
	}
	return nil
}

func validateMQTTSettings(settings *MQTTSettings) error {
	if !settings.Enabled {
		return nil
	}
	if settings.Broker == "" {
		return errors.New("MQTT broker URL is required when MQTT is enabled")
	}
	if settings.Topic == "" {
		return errors.New("MQTT topic is required when MQTT is enabled")
	}
	return nil
}

func validateSentrySettings(settings *SentrySettings) error {
	if settings.Enabled && settings.DSN == "" {
		return errors.New("sentry dsn is required when sentry is enabled")
	}
	return nil
}
