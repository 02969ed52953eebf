package run

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ysmr3104/atomcam-meteor-detector/cmd/output"
	"github.com/ysmr3104/atomcam-meteor-detector/internal/app"
	"github.com/ysmr3104/atomcam-meteor-detector/internal/buildinfo"
	"github.com/ysmr3104/atomcam-meteor-detector/internal/conf"
	"github.com/ysmr3104/atomcam-meteor-detector/internal/errors"
	"github.com/ysmr3104/atomcam-meteor-detector/internal/lock"
	"github.com/ysmr3104/atomcam-meteor-detector/internal/pipeline"
)

// Command creates the command for a single pipeline run.
func Command(settings *conf.Settings, build *buildinfo.Context) *cobra.Command {
	var (
		date   string
		dryRun bool
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Download and analyze one night of recordings",
		Long: "Download every due clip of the observation window from the camera, detect meteor " +
			"lines, extract highlight clips and update the night's composite image and video. " +
			"Clips already processed are skipped, so the command is safe to run repeatedly.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := app.New(ctx, settings, build)
			if err != nil {
				return err
			}
			defer a.Close()

			p, err := a.Pipeline(ctx)
			if err != nil {
				return err
			}

			var result *pipeline.Result
			execute := func() error {
				var runErr error
				result, runErr = p.Execute(ctx, date, pipeline.ExecuteOptions{DryRun: dryRun})
				return runErr
			}
			if dryRun {
				err = execute()
			} else {
				err = lock.WithLock(a.LockPath(), execute)
			}
			if errors.Is(err, lock.ErrLocked) {
				return fmt.Errorf("another run holds %s: %w", a.LockPath(), err)
			}
			if err != nil {
				return err
			}
			return output.Result(cmd.OutOrStdout(), result, asJSON)
		},
	}

	cmd.Flags().StringVar(&date, "date", "", "Observation date YYYYMMDD (default: the current night)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "List the clips that would be processed without downloading")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the result as JSON")

	return cmd
}
