package download

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ysmr3104/atomcam-meteor-detector/cmd/output"
	"github.com/ysmr3104/atomcam-meteor-detector/internal/app"
	"github.com/ysmr3104/atomcam-meteor-detector/internal/buildinfo"
	"github.com/ysmr3104/atomcam-meteor-detector/internal/conf"
	"github.com/ysmr3104/atomcam-meteor-detector/internal/diskmanager"
	"github.com/ysmr3104/atomcam-meteor-detector/internal/downloader"
	"github.com/ysmr3104/atomcam-meteor-detector/internal/schedule"
)

// Command creates the command that fetches one hour of clips without detection.
func Command(settings *conf.Settings, build *buildinfo.Context) *cobra.Command {
	var (
		date   string
		hour   int
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "download",
		Short: "Download one hour of clips from the camera",
		Long: "Fetch every clip recorded in the given calendar date and hour into the download " +
			"directory. Existing local copies are kept. No detection is performed.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := schedule.ParseDate(date, time.UTC); err != nil {
				return err
			}
			if hour < 0 || hour > 23 {
				return fmt.Errorf("hour %d out of range [0, 23]", hour)
			}

			ctx := cmd.Context()
			a, err := app.New(ctx, settings, build)
			if err != nil {
				return err
			}
			defer a.Close()

			dir := settings.Paths.ResolveDownloadDir()
			guard := diskmanager.NewGuard(dir, settings.Paths.MaxDiskUsage, nil)
			d := downloader.New(&settings.Camera, downloader.WithDiskGuard(guard))

			files, err := d.DownloadHour(ctx, date, hour, dir)
			if asJSON {
				if jsonErr := output.JSON(cmd.OutOrStdout(), files); jsonErr != nil {
					return jsonErr
				}
			} else {
				for _, f := range files {
					fmt.Fprintln(cmd.OutOrStdout(), f.LocalPath)
				}
			}
			return err
		},
	}

	cmd.Flags().StringVar(&date, "date", "", "Recording date YYYYMMDD")
	cmd.Flags().IntVar(&hour, "hour", -1, "Recording hour 0-23")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the downloaded files as JSON")
	_ = cmd.MarkFlagRequired("date")
	_ = cmd.MarkFlagRequired("hour")

	return cmd
}
