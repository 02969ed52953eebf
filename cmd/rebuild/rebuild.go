package rebuild

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/ysmr3104/atomcam-meteor-detector/cmd/output"
	"github.com/ysmr3104/atomcam-meteor-detector/internal/app"
	"github.com/ysmr3104/atomcam-meteor-detector/internal/buildinfo"
	"github.com/ysmr3104/atomcam-meteor-detector/internal/conf"
	"github.com/ysmr3104/atomcam-meteor-detector/internal/lock"
	"github.com/ysmr3104/atomcam-meteor-detector/internal/pipeline"
)

type rebuildFunc func(p *pipeline.Pipeline, ctx context.Context, date string) (*pipeline.Result, error)

// Command creates the rebuild command group.
func Command(settings *conf.Settings, build *buildinfo.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rebuild",
		Short: "Rebuild a night's composite image or highlight video",
		Long: "Regenerate night outputs from the stored detections, honoring clips and line " +
			"groups excluded through the API. Nothing is downloaded or detected again.",
	}

	cmd.AddCommand(
		subcommand(settings, build, "composite", "Rebuild the composite image", (*pipeline.Pipeline).RebuildComposite),
		subcommand(settings, build, "video", "Rebuild the concatenated highlight video", (*pipeline.Pipeline).RebuildConcatenation),
	)
	return cmd
}

func subcommand(settings *conf.Settings, build *buildinfo.Context, use, short string, rebuild rebuildFunc) *cobra.Command {
	var (
		date   string
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
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
			err = lock.WithLock(a.LockPath(), func() error {
				var runErr error
				result, runErr = rebuild(p, ctx, date)
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

	return cmd
}
