// env.go - Environment variable configuration and validation
package conf

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// envBinding holds metadata for environment variable bindings (internal use)
type envBinding struct {
	ConfigKey string
	EnvVar    string
	Validate  func(string) error
}

// getEnvBindings returns all environment variable bindings with validation
func getEnvBindings() []envBinding {
	return []envBinding{
		{"camera.host", "ATOMCAM_CAMERA_HOST", nil},
		{"camera.http_user", "ATOMCAM_CAMERA_HTTP_USER", nil},
		{"camera.http_password", "ATOMCAM_CAMERA_HTTP_PASSWORD", nil},
		{"paths.download_dir", "ATOMCAM_DOWNLOAD_DIR", nil},
		{"paths.output_dir", "ATOMCAM_OUTPUT_DIR", nil},
		{"paths.db_path", "ATOMCAM_DB_PATH", nil},
		{"paths.lock_path", "ATOMCAM_LOCK_PATH", nil},
		{"schedule.latitude", "ATOMCAM_LATITUDE", validateEnvLatitude},
		{"schedule.longitude", "ATOMCAM_LONGITUDE", validateEnvLongitude},
		{"web.port", "ATOMCAM_WEB_PORT", validateEnvPort},
		{"sentry.dsn", "ATOMCAM_SENTRY_DSN", nil},
		{"debug", "ATOMCAM_DEBUG", validateEnvBool},
	}
}

// bindEnvVars sets up environment variable bindings with validation
func bindEnvVars(v *viper.Viper) error {
	var warnings []string

	for _, binding := range getEnvBindings() {
		if err := v.BindEnv(binding.ConfigKey, binding.EnvVar); err != nil {
			warnings = append(warnings, fmt.Sprintf("Failed to bind %s: %v", binding.EnvVar, err))
			continue
		}

		if binding.Validate != nil {
			if envValue := os.Getenv(binding.EnvVar); envValue != "" {
				if err := binding.Validate(envValue); err != nil {
					warnings = append(warnings, fmt.Sprintf("Invalid %s value '%s': %v", binding.EnvVar, envValue, err))
				}
			}
		}
	}

	if len(warnings) > 0 {
		return fmt.Errorf("environment variable issues:\n  - %s", strings.Join(warnings, "\n  - "))
	}

	return nil
}

func validateEnvBool(value string) error {
	if _, err := strconv.ParseBool(value); err != nil {
		return fmt.Errorf("must be true or false")
	}
	return nil
}

func validateEnvLatitude(value string) error {
	lat, err := strconv.ParseFloat(value, 64)
	if err != nil || lat < -90 || lat > 90 {
		return fmt.Errorf("must be a number between -90 and 90")
	}
	return nil
}

func validateEnvLongitude(value string) error {
	lon, err := strconv.ParseFloat(value, 64)
	if err != nil || lon < -180 || lon > 180 {
		return fmt.Errorf("must be a number between -180 and 180")
	}
	return nil
}

func validateEnvPort(value string) error {
	port, err := strconv.Atoi(value)
	if err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("must be a port number between 1 and 65535")
	}
	return nil
}
