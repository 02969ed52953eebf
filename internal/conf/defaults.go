// conf/defaults.go default values for settings
package conf

import (
	"github.com/spf13/viper"
)

// setDefaultConfig sets default values for the configuration.
func setDefaultConfig(v *viper.Viper) {
	v.SetDefault("debug", false)

	v.SetDefault("camera.host", "atomcam.local")
	v.SetDefault("camera.http_user", "")
	v.SetDefault("camera.http_password", "")
	v.SetDefault("camera.base_path", "sdcard/record")
	v.SetDefault("camera.timeout_sec", 10)
	v.SetDefault("camera.retry_count", 3)
	v.SetDefault("camera.retry_delay_sec", 2)

	v.SetDefault("detection.min_line_length", 30)
	v.SetDefault("detection.canny_threshold1", 100)
	v.SetDefault("detection.canny_threshold2", 200)
	v.SetDefault("detection.hough_threshold", 50)
	v.SetDefault("detection.max_line_gap", 10)
	v.SetDefault("detection.exposure_duration_sec", 1.0)
	v.SetDefault("detection.clip_margin_sec", 0.5)
	v.SetDefault("detection.mask_path", "")
	v.SetDefault("detection.exclude_bottom_pct", 0.0)
	v.SetDefault("detection.min_line_brightness", 20.0)

	v.SetDefault("schedule.enabled", true)
	v.SetDefault("schedule.interval_minutes", 15)
	v.SetDefault("schedule.start_mode", "fixed")
	v.SetDefault("schedule.start_time", "22:00")
	v.SetDefault("schedule.start_offset_minutes", 0)
	v.SetDefault("schedule.end_mode", "fixed")
	v.SetDefault("schedule.end_time", "06:00")
	v.SetDefault("schedule.end_offset_minutes", 0)
	v.SetDefault("schedule.latitude", 35.6895)
	v.SetDefault("schedule.longitude", 139.6917)
	v.SetDefault("schedule.timezone", "Local")

	v.SetDefault("paths.download_dir", "~/atomcam/downloads")
	v.SetDefault("paths.output_dir", "~/atomcam/output")
	v.SetDefault("paths.db_path", "~/atomcam/state.db")
	v.SetDefault("paths.lock_path", "~/atomcam/.lock")
	v.SetDefault("paths.max_disk_usage", 95.0)

	v.SetDefault("database.type", "sqlite")
	v.SetDefault("database.mysql.host", "localhost")
	v.SetDefault("database.mysql.port", 3306)
	v.SetDefault("database.mysql.username", "")
	v.SetDefault("database.mysql.password", "")
	v.SetDefault("database.mysql.database", "atomcam")

	v.SetDefault("ffmpeg.path", "ffmpeg")
	v.SetDefault("ffmpeg.probe_path", "ffprobe")
	v.SetDefault("ffmpeg.timeout_sec", 120)

	v.SetDefault("web.host", "0.0.0.0")
	v.SetDefault("web.port", 8080)
	v.SetDefault("web.metrics", true)

	v.SetDefault("notification.enabled", false)
	v.SetDefault("notification.urls", []string{})
	v.SetDefault("notification.timeout_sec", 10)
	v.SetDefault("notification.rate_per_minute", 6)
	v.SetDefault("notification.notify_errors", false)

	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.broker", "tcp://localhost:1883")
	v.SetDefault("mqtt.topic", "atomcam/meteor")
	v.SetDefault("mqtt.client_id", "atomcam-meteor")
	v.SetDefault("mqtt.retain", false)

	v.SetDefault("sentry.enabled", false)
	v.SetDefault("sentry.dsn", "")

	v.SetDefault("logging.default_level", "info")
	v.SetDefault("logging.timezone", "Local")
	v.SetDefault("logging.console.enabled", true)
	v.SetDefault("logging.console.level", "info")
	v.SetDefault("logging.file_output.enabled", false)
	v.SetDefault("logging.file_output.path", "logs/meteor.log")
	v.SetDefault("logging.file_output.level", "debug")
}
