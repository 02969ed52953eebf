// Package conf loads, validates and persists the application settings.
package conf

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/ysmr3104/atomcam-meteor-detector/internal/logger"
)

//go:embed config.yaml
var configFiles embed.FS

// Settings is the root of config.yaml
type Settings struct {
	Debug bool `mapstructure:"debug" yaml:"debug" json:"debug"`

	Camera       CameraSettings       `mapstructure:"camera" yaml:"camera" json:"camera"`
	Detection    DetectionSettings    `mapstructure:"detection" yaml:"detection" json:"detection"`
	Schedule     ScheduleSettings     `mapstructure:"schedule" yaml:"schedule" json:"schedule"`
	Paths        PathSettings         `mapstructure:"paths" yaml:"paths" json:"paths"`
	Database     DatabaseSettings     `mapstructure:"database" yaml:"database" json:"database"`
	FFmpeg       FFmpegSettings       `mapstructure:"ffmpeg" yaml:"ffmpeg" json:"ffmpeg"`
	Web          WebSettings          `mapstructure:"web" yaml:"web" json:"web"`
	Notification NotificationSettings `mapstructure:"notification" yaml:"notification" json:"notification"`
	MQTT         MQTTSettings         `mapstructure:"mqtt" yaml:"mqtt" json:"mqtt"`
	Sentry       SentrySettings       `mapstructure:"sentry" yaml:"sentry" json:"sentry"`
	Logging      logger.LoggingConfig `mapstructure:"logging" yaml:"logging" json:"logging"`
}

// CameraSettings describes the ATOM Cam SD card HTTP share
type CameraSettings struct {
	Host          string `mapstructure:"host" yaml:"host" json:"host"`
	HTTPUser      string `mapstructure:"http_user" yaml:"http_user" json:"http_user"`
	HTTPPassword  string `mapstructure:"http_password" yaml:"http_password" json:"-"`
	BasePath      string `mapstructure:"base_path" yaml:"base_path" json:"base_path"`
	TimeoutSec    int    `mapstructure:"timeout_sec" yaml:"timeout_sec" json:"timeout_sec"`
	RetryCount    int    `mapstructure:"retry_count" yaml:"retry_count" json:"retry_count"`
	RetryDelaySec int    `mapstructure:"retry_delay_sec" yaml:"retry_delay_sec" json:"retry_delay_sec"`
}

// DetectionSettings holds the line detection parameters
type DetectionSettings struct {
	MinLineLength       int     `mapstructure:"min_line_length" yaml:"min_line_length" json:"min_line_length"`
	CannyThreshold1     int     `mapstructure:"canny_threshold1" yaml:"canny_threshold1" json:"canny_threshold1"`
	CannyThreshold2     int     `mapstructure:"canny_threshold2" yaml:"canny_threshold2" json:"canny_threshold2"`
	HoughThreshold      int     `mapstructure:"hough_threshold" yaml:"hough_threshold" json:"hough_threshold"`
	MaxLineGap          int     `mapstructure:"max_line_gap" yaml:"max_line_gap" json:"max_line_gap"`
	ExposureDurationSec float64 `mapstructure:"exposure_duration_sec" yaml:"exposure_duration_sec" json:"exposure_duration_sec"`
	ClipMarginSec       float64 `mapstructure:"clip_margin_sec" yaml:"clip_margin_sec" json:"clip_margin_sec"`
	MaskPath            string  `mapstructure:"mask_path" yaml:"mask_path" json:"mask_path"`
	ExcludeBottomPct    float64 `mapstructure:"exclude_bottom_pct" yaml:"exclude_bottom_pct" json:"exclude_bottom_pct"`
	MinLineBrightness   float64 `mapstructure:"min_line_brightness" yaml:"min_line_brightness" json:"min_line_brightness"`
}

// ScheduleSettings are the config file defaults; the settings table overrides them at runtime
type ScheduleSettings struct {
	Enabled            bool    `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	IntervalMinutes    int     `mapstructure:"interval_minutes" yaml:"interval_minutes" json:"interval_minutes"`
	StartMode          string  `mapstructure:"start_mode" yaml:"start_mode" json:"start_mode"` // fixed, twilight, twilight_offset
	StartTime          string  `mapstructure:"start_time" yaml:"start_time" json:"start_time"`
	StartOffsetMinutes int     `mapstructure:"start_offset_minutes" yaml:"start_offset_minutes" json:"start_offset_minutes"`
	EndMode            string  `mapstructure:"end_mode" yaml:"end_mode" json:"end_mode"`
	EndTime            string  `mapstructure:"end_time" yaml:"end_time" json:"end_time"`
	EndOffsetMinutes   int     `mapstructure:"end_offset_minutes" yaml:"end_offset_minutes" json:"end_offset_minutes"`
	Latitude           float64 `mapstructure:"latitude" yaml:"latitude" json:"latitude"`
	Longitude          float64 `mapstructure:"longitude" yaml:"longitude" json:"longitude"`
	Timezone           string  `mapstructure:"timezone" yaml:"timezone" json:"timezone"`
}

// PathSettings locate downloads, outputs, the state database and the lock file
type PathSettings struct {
	DownloadDir  string  `mapstructure:"download_dir" yaml:"download_dir" json:"download_dir"`
	OutputDir    string  `mapstructure:"output_dir" yaml:"output_dir" json:"output_dir"`
	DBPath       string  `mapstructure:"db_path" yaml:"db_path" json:"db_path"`
	LockPath     string  `mapstructure:"lock_path" yaml:"lock_path" json:"lock_path"`
	MaxDiskUsage float64 `mapstructure:"max_disk_usage" yaml:"max_disk_usage" json:"max_disk_usage"` // percent, 0 disables the check
}

// DatabaseSettings selects the gorm dialect
type DatabaseSettings struct {
	Type  string        `mapstructure:"type" yaml:"type" json:"type"` // sqlite or mysql
	MySQL MySQLSettings `mapstructure:"mysql" yaml:"mysql" json:"mysql"`
}

// MySQLSettings for the optional MySQL backend
type MySQLSettings struct {
	Host     string `mapstructure:"host" yaml:"host" json:"host"`
	Port     int    `mapstructure:"port" yaml:"port" json:"port"`
	Username string `mapstructure:"username" yaml:"username" json:"username"`
	Password string `mapstructure:"password" yaml:"password" json:"-"`
	Database string `mapstructure:"database" yaml:"database" json:"database"`
}

// FFmpegSettings locate the media tools
type FFmpegSettings struct {
	Path       string `mapstructure:"path" yaml:"path" json:"path"`
	ProbePath  string `mapstructure:"probe_path" yaml:"probe_path" json:"probe_path"`
	TimeoutSec int    `mapstructure:"timeout_sec" yaml:"timeout_sec" json:"timeout_sec"`
}

// WebSettings for the JSON API and metrics endpoint
type WebSettings struct {
	Host    string `mapstructure:"host" yaml:"host" json:"host"`
	Port    int    `mapstructure:"port" yaml:"port" json:"port"`
	Metrics bool   `mapstructure:"metrics" yaml:"metrics" json:"metrics"`
}

// NotificationSettings configures the shoutrrr hook
type NotificationSettings struct {
	Enabled       bool     `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	URLs          []string `mapstructure:"urls" yaml:"urls" json:"-"`
	TimeoutSec    int      `mapstructure:"timeout_sec" yaml:"timeout_sec" json:"timeout_sec"`
	RatePerMinute int      `mapstructure:"rate_per_minute" yaml:"rate_per_minute" json:"rate_per_minute"`
	NotifyErrors  bool     `mapstructure:"notify_errors" yaml:"notify_errors" json:"notify_errors"`
}

// MQTTSettings configures the MQTT hook
type MQTTSettings struct {
	Enabled  bool   `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	Broker   string `mapstructure:"broker" yaml:"broker" json:"broker"`
	Topic    string `mapstructure:"topic" yaml:"topic" json:"topic"`
	Username string `mapstructure:"username" yaml:"username" json:"username"`
	Password string `mapstructure:"password" yaml:"password" json:"-"`
	ClientID string `mapstructure:"client_id" yaml:"client_id" json:"client_id"`
	Retain   bool   `mapstructure:"retain" yaml:"retain" json:"retain"`
}

// SentrySettings configures error telemetry
type SentrySettings struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	DSN     string `mapstructure:"dsn" yaml:"dsn" json:"-"`
}

// ResolveDownloadDir returns the expanded download root
func (p PathSettings) ResolveDownloadDir() string { return ExpandPath(p.DownloadDir) }

// ResolveOutputDir returns the expanded output root
func (p PathSettings) ResolveOutputDir() string { return ExpandPath(p.OutputDir) }

// ResolveDBPath returns the expanded database path
func (p PathSettings) ResolveDBPath() string { return ExpandPath(p.DBPath) }

// ResolveLockPath returns the expanded lock file path
func (p PathSettings) ResolveLockPath() string { return ExpandPath(p.LockPath) }

// Timeout returns the camera HTTP timeout
func (c CameraSettings) Timeout() time.Duration {
	return time.Duration(c.TimeoutSec) * time.Second
}

// RetryDelay returns the fixed delay between download attempts
func (c CameraSettings) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelaySec) * time.Second
}

// ExpandPath expands a leading ~ to the user's home directory
func ExpandPath(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}

var (
	settingsInstance *Settings
	settingsMutex    sync.RWMutex
)

// Load reads the configuration through the global viper instance, which
// the CLI binds its flags to. An empty configFile searches the default paths
// and writes a default config.yaml when none exists.
func Load(configFile string) (*Settings, error) {
	settings, err := LoadWith(viper.GetViper(), configFile)
	if err != nil {
		return nil, err
	}

	settingsMutex.Lock()
	settingsInstance = settings
	settingsMutex.Unlock()

	return settings, nil
}

// LoadWith reads the configuration with the given viper instance
func LoadWith(v *viper.Viper, configFile string) (*Settings, error) {
	if err := initViper(v, configFile); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	settings := &Settings{}
	if err := v.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("error unmarshaling config into struct: %w", err)
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("error validating settings: %w", err)
	}

	return settings, nil
}

// initViper sets defaults, binds env vars and reads the configuration file
func initViper(v *viper.Viper, configFile string) error {
	setDefaultConfig(v)

	if err := bindEnvVars(v); err != nil {
		// Invalid environment values fall back to the file or defaults
		logger.Global().Module("conf").Warn("environment variable issues", logger.Error(err))
	}

	if configFile != "" {
		v.SetConfigFile(ExpandPath(configFile))
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("error reading config file %s: %w", configFile, err)
		}
		return nil
	}

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	for _, path := range GetDefaultConfigPaths() {
		v.AddConfigPath(path)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return createDefaultConfig(v)
		}
		return fmt.Errorf("fatal error reading config file: %w", err)
	}

	return nil
}

// GetDefaultConfigPaths returns the search path for config.yaml, most specific first
func GetDefaultConfigPaths() []string {
	paths := []string{"."}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "atomcam-meteor"))
	}
	return append(paths, "/etc/atomcam-meteor")
}

// createDefaultConfig writes the embedded default config to the user config directory
func createDefaultConfig(v *viper.Viper) error {
	paths := GetDefaultConfigPaths()
	configPath := filepath.Join(paths[len(paths)-2], "config.yaml")

	data, err := fs.ReadFile(configFiles, "config.yaml")
	if err != nil {
		return fmt.Errorf("error reading embedded default config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return fmt.Errorf("error creating directories for config file: %w", err)
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		return fmt.Errorf("error writing default config file: %w", err)
	}

	logger.Global().Module("conf").Info("created default config file", logger.String("path", configPath))
	v.SetConfigFile(configPath)
	return v.ReadInConfig()
}

// GetSettings returns the settings loaded by Load
func GetSettings() *Settings {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}

// SaveYAMLConfig writes settings to configPath atomically.
// It overwrites the existing file, not preserving comments or structure.
func SaveYAMLConfig(configPath string, settings *Settings) error {
	yamlData, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("error marshaling settings to YAML: %w", err)
	}

	tempFile, err := os.CreateTemp(filepath.Dir(configPath), "config-*.yaml")
	if err != nil {
		return fmt.Errorf("error creating temporary file: %w", err)
	}
	tempFileName := tempFile.Name()
	defer os.Remove(tempFileName)

	if _, err := tempFile.Write(yamlData); err != nil {
		tempFile.Close()
		return fmt.Errorf("error writing to temporary file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("error closing temporary file: %w", err)
	}

	if err := os.Rename(tempFileName, configPath); err != nil {
		return fmt.Errorf("error replacing config file: %w", err)
	}

	return nil
}
