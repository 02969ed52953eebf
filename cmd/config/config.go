package config

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/ysmr3104/atomcam-meteor-detector/cmd/output"
	"github.com/ysmr3104/atomcam-meteor-detector/internal/buildinfo"
	"github.com/ysmr3104/atomcam-meteor-detector/internal/conf"
)

const redacted = "********"

// Command creates the config command group.
func Command(settings *conf.Settings, configFile *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and validate the configuration",
	}

	show := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration with secrets redacted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if used := viper.ConfigFileUsed(); used != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "# %s\n", used)
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(Redact(settings)); err != nil {
				return err
			}
			return enc.Close()
		},
	}

	var asJSON bool
	validate := &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration and the runtime environment",
		Long: "Load the configuration file, validate every section and check that ffmpeg, " +
			"ffprobe and the detection mask are present. Exits non-zero when errors are found.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			result := Validate(*configFile)
			w := cmd.OutOrStdout()
			if asJSON {
				if err := output.JSON(w, result); err != nil {
					return err
				}
			} else {
				for _, e := range result.Errors {
					fmt.Fprintf(w, "error:   %s\n", e)
				}
				for _, warning := range result.Warnings {
					fmt.Fprintf(w, "warning: %s\n", warning)
				}
				if result.Valid {
					fmt.Fprintln(w, "configuration is valid")
				}
			}
			if !result.Valid {
				return fmt.Errorf("configuration has %d error(s)", len(result.Errors))
			}
			return nil
		},
	}
	validate.Flags().BoolVar(&asJSON, "json", false, "Print the result as JSON")

	cmd.AddCommand(show, validate)
	return cmd
}

// Redact returns a copy of settings with credentials masked
func Redact(settings *conf.Settings) *conf.Settings {
	out := *settings
	mask := func(s *string) {
		if *s != "" {
			*s = redacted
		}
	}
	mask(&out.Camera.HTTPPassword)
	mask(&out.Database.MySQL.Password)
	mask(&out.MQTT.Password)
	mask(&out.Sentry.DSN)
	if len(out.Notification.URLs) > 0 {
		urls := make([]string, len(out.Notification.URLs))
		for i := range urls {
			urls[i] = redacted
		}
		out.Notification.URLs = urls
	}
	return &out
}

// Validate loads configFile into a fresh viper and checks the environment
func Validate(configFile string) *buildinfo.ValidationResult {
	result := buildinfo.NewValidationResult()
	settings, err := conf.LoadWith(viper.New(), configFile)
	if err != nil {
		result.AddError("%v", err)
		return result
	}
	Check(settings, result)
	return result
}

// Check records environment problems that config validation cannot see
func Check(s *conf.Settings, result *buildinfo.ValidationResult) {
	for _, tool := range []string{s.FFmpeg.Path, s.FFmpeg.ProbePath} {
		if _, err := exec.LookPath(tool); err != nil {
			result.AddError("%s not found: %v", tool, err)
		}
	}

	if s.Detection.MaskPath != "" {
		if _, err := os.Stat(conf.ExpandPath(s.Detection.MaskPath)); err != nil {
			result.AddError("detection mask %s: %v", s.Detection.MaskPath, err)
		}
	}

	twilight := s.Schedule.StartMode != conf.ModeFixed || s.Schedule.EndMode != conf.ModeFixed
	if twilight && s.Schedule.Latitude == 0 && s.Schedule.Longitude == 0 {
		result.AddWarning("twilight schedule modes need schedule.latitude and schedule.longitude")
	}
	if !s.Schedule.Enabled {
		result.AddWarning("schedule.enabled is false, the scheduler stays idle unless enabled through the settings API")
	}
	for _, dir := range []string{s.Paths.ResolveDownloadDir(), s.Paths.ResolveOutputDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			result.AddError("cannot create %s: %v", dir, err)
		}
	}
	if s.Paths.MaxDiskUsage <= 0 {
		result.AddWarning("paths.max_disk_usage is 0, downloads will not check free space")
	}
}
