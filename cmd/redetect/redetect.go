package redetect

import (
	"github.com/spf13/cobra"

	"github.com/ysmr3104/atomcam-meteor-detector/cmd/output"
	"github.com/ysmr3104/atomcam-meteor-detector/internal/app"
	"github.com/ysmr3104/atomcam-meteor-detector/internal/buildinfo"
	"github.com/ysmr3104/atomcam-meteor-detector/internal/conf"
	"github.com/ysmr3104/atomcam-meteor-detector/internal/lock"
	"github.com/ysmr3104/atomcam-meteor-detector/internal/pipeline"
)

// Command creates the command that re-runs detection on downloaded clips.
func Command(settings *conf.Settings, build *buildinfo.Context) *cobra.Command {
	var (
		date   string
		asJSON bool
		quiet  bool
	)

	cmd := &cobra.Command{
		Use:   "redetect",
		Short: "Re-run detection on a night's local clips",
		Long: "Detect again on every clip of the night already on disk, using the current " +
			"detection settings including overrides saved through the API. Previous results " +
			"and exclusions for the night are replaced and the composite is rebuilt from scratch.",
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

			var progress pipeline.ProgressFunc
			if !quiet && !asJSON {
				progress = output.Progress(cmd.ErrOrStderr(), "redetecting")
			}

			var result *pipeline.Result
			err = lock.WithLock(a.LockPath(), func() error {
				var runErr error
				result, runErr = p.RedetectFromLocal(ctx, date, progress)
				return runErr
			})
			if err != nil {
				return err
			}
			return output.Result(cmd.OutOrStdout(), result, asJSON)
		},
	}

	cmd.Flags().StringVar(&date, "date", "", "Observation date YYYYMMDD (default: the current night)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the result as JSON")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Do not print progress")

	return cmd
}
