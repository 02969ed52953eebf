package cmd

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ysmr3104/atomcam-meteor-detector/cmd/config"
	"github.com/ysmr3104/atomcam-meteor-detector/cmd/download"
	"github.com/ysmr3104/atomcam-meteor-detector/cmd/rebuild"
	"github.com/ysmr3104/atomcam-meteor-detector/cmd/redetect"
	"github.com/ysmr3104/atomcam-meteor-detector/cmd/run"
	"github.com/ysmr3104/atomcam-meteor-detector/cmd/serve"
	"github.com/ysmr3104/atomcam-meteor-detector/cmd/status"
	"github.com/ysmr3104/atomcam-meteor-detector/cmd/version"
	"github.com/ysmr3104/atomcam-meteor-detector/internal/buildinfo"
	"github.com/ysmr3104/atomcam-meteor-detector/internal/conf"
)

// commands that run without a loaded configuration
var skipConfig = []string{"version", "validate", "help", "completion"}

// RootCommand creates and returns the root command
func RootCommand(build *buildinfo.Context) *cobra.Command {
	settings := &conf.Settings{}
	var configFile string

	rootCmd := &cobra.Command{
		Use:           "atomcam-meteor",
		Short:         "Meteor detection for ATOM Cam recordings",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	if err := setupFlags(rootCmd, &configFile); err != nil {
		panic(err)
	}

	rootCmd.AddCommand(
		run.Command(settings, build),
		redetect.Command(settings, build),
		rebuild.Command(settings, build),
		download.Command(settings, build),
		status.Command(settings, build),
		serve.Command(settings, build),
		config.Command(settings, &configFile),
		version.Command(build),
	)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if slices.Contains(skipConfig, cmd.Name()) {
			return nil
		}
		return initialize(settings, configFile)
	}

	return rootCmd
}

// initialize loads the configuration into the settings shared by every
// subcommand. Flags bound to viper take precedence over the file.
func initialize(settings *conf.Settings, configFile string) error {
	loaded, err := conf.Load(configFile)
	if err != nil {
		return err
	}
	*settings = *loaded
	return nil
}

func setupFlags(rootCmd *cobra.Command, configFile *string) error {
	rootCmd.PersistentFlags().StringVarP(configFile, "config", "c", "", "Path to config.yaml (default: search ., ~/.config/atomcam-meteor, /etc/atomcam-meteor)")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug output")

	if err := viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug")); err != nil {
		return fmt.Errorf("error binding flags: %w", err)
	}
	return nil
}
