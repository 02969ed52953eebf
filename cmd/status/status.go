package status

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/ysmr3104/atomcam-meteor-detector/cmd/output"
	"github.com/ysmr3104/atomcam-meteor-detector/internal/app"
	"github.com/ysmr3104/atomcam-meteor-detector/internal/buildinfo"
	"github.com/ysmr3104/atomcam-meteor-detector/internal/conf"
	"github.com/ysmr3104/atomcam-meteor-detector/internal/datastore"
	"github.com/ysmr3104/atomcam-meteor-detector/internal/errors"
	"github.com/ysmr3104/atomcam-meteor-detector/internal/schedule"
)

// NightStatus summarizes the stored state of one night
type NightStatus struct {
	Date   string                       `json:"date"`
	Window string                       `json:"window,omitempty"`
	Output *datastore.NightOutput       `json:"output,omitempty"`
	Clips  map[datastore.ClipStatus]int `json:"clips"`
	Tasks  []datastore.TaskRecord       `json:"tasks,omitempty"`
}

// Command creates the command that prints stored pipeline state.
func Command(settings *conf.Settings, build *buildinfo.Context) *cobra.Command {
	var (
		date   string
		all    bool
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show processing state of a night or list all nights",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := app.New(ctx, settings, build)
			if err != nil {
				return err
			}
			defer a.Close()

			w := cmd.OutOrStdout()
			if all {
				nights, err := a.Store.Nights.ListNights(ctx)
				if err != nil {
					return err
				}
				if asJSON {
					return output.JSON(w, nights)
				}
				return printNights(w, nights)
			}

			if date == "" {
				date = schedule.ObservationDate(time.Now().In(a.Resolver.Location())).Format(schedule.DateLayout)
			}
			ns, err := Collect(ctx, a.Store, date)
			if err != nil {
				return err
			}
			if obs, err := schedule.ParseDate(date, a.Resolver.Location()); err == nil {
				if plan, err := a.Resolver.Resolve(ctx, obs); err == nil {
					ns.Window = plan.Window.String()
				}
			}
			if asJSON {
				return output.JSON(w, ns)
			}
			return printNight(w, ns)
		},
	}

	cmd.Flags().StringVar(&date, "date", "", "Observation date YYYYMMDD (default: the current night)")
	cmd.Flags().BoolVar(&all, "all", false, "List every night including hidden ones")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print as JSON")

	return cmd
}

// Collect reads the clip counts, night output and tasks stored for date
func Collect(ctx context.Context, store *datastore.Store, date string) (*NightStatus, error) {
	ns := &NightStatus{Date: date}

	out, err := store.Nights.GetOutput(ctx, date)
	switch {
	case errors.Is(err, datastore.ErrNightNotFound):
	case err != nil:
		return nil, err
	default:
		ns.Output = out
	}

	if ns.Clips, err = store.Clips.CountByStatus(ctx, date); err != nil {
		return nil, err
	}
	if ns.Tasks, err = store.Tasks.ListByDate(ctx, date); err != nil {
		return nil, err
	}
	return ns, nil
}

func printNight(w io.Writer, ns *NightStatus) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "Night\t%s\n", ns.Date)
	if ns.Window != "" {
		fmt.Fprintf(tw, "Window\t%s\n", ns.Window)
	}
	for _, st := range datastore.AllStatuses() {
		fmt.Fprintf(tw, "Clips %s\t%d\n", st, ns.Clips[st])
	}
	if ns.Output != nil {
		fmt.Fprintf(tw, "Detections\t%d\n", ns.Output.DetectionCount)
		if ns.Output.CompositeImage != "" {
			fmt.Fprintf(tw, "Composite\t%s\n", ns.Output.CompositeImage)
		}
		if ns.Output.ConcatVideo != "" {
			fmt.Fprintf(tw, "Video\t%s\n", ns.Output.ConcatVideo)
		}
		if ns.Output.Hidden {
			fmt.Fprintf(tw, "Hidden\tyes\n")
		}
	}
	for _, t := range ns.Tasks {
		fmt.Fprintf(tw, "Task %s\t%s %d/%d %s\n", t.Kind, t.State, t.Processed, t.Total, t.Message)
	}
	return tw.Flush()
}

func printNights(w io.Writer, nights []datastore.NightOutput) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "DATE\tDETECTIONS\tHIDDEN\tCOMPOSITE")
	for _, n := range nights {
		hidden := ""
		if n.Hidden {
			hidden = "yes"
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", n.Date, n.DetectionCount, hidden, n.CompositeImage)
	}
	return tw.Flush()
}
