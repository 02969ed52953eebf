package serve

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/ysmr3104/atomcam-meteor-detector/internal/api"
	"github.com/ysmr3104/atomcam-meteor-detector/internal/app"
	"github.com/ysmr3104/atomcam-meteor-detector/internal/buildinfo"
	"github.com/ysmr3104/atomcam-meteor-detector/internal/conf"
	"github.com/ysmr3104/atomcam-meteor-detector/internal/logger"
	"github.com/ysmr3104/atomcam-meteor-detector/internal/scheduler"
	"github.com/ysmr3104/atomcam-meteor-detector/internal/tasks"
)

// Command creates the long-running service command: the JSON API, the
// background task manager and the nightly scheduler.
func Command(settings *conf.Settings, build *buildinfo.Context) *cobra.Command {
	var noScheduler, noAPI bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the web API and the observation scheduler",
		Long: "Serve the JSON API for browsing nights, excluding false positives and starting " +
			"redetect or rebuild tasks, and run the pipeline on the configured interval during " +
			"the observation window. Stops gracefully on SIGINT or SIGTERM.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if noScheduler && noAPI {
				return fmt.Errorf("--no-scheduler and --no-api leave nothing to run")
			}
			return serve(cmd.Context(), settings, build, !noAPI, !noScheduler)
		},
	}

	cmd.Flags().StringVar(&settings.Web.Host, "host", viper.GetString("web.host"), "API listen host")
	cmd.Flags().IntVar(&settings.Web.Port, "port", viper.GetInt("web.port"), "API listen port")
	cmd.Flags().BoolVar(&noScheduler, "no-scheduler", false, "Serve the API only")
	cmd.Flags().BoolVar(&noAPI, "no-api", false, "Run the scheduler only")

	if err := viper.BindPFlag("web.host", cmd.Flags().Lookup("host")); err != nil {
		panic(err)
	}
	if err := viper.BindPFlag("web.port", cmd.Flags().Lookup("port")); err != nil {
		panic(err)
	}

	return cmd
}

func serve(ctx context.Context, settings *conf.Settings, build *buildinfo.Context, withAPI, withScheduler bool) error {
	a, err := app.New(ctx, settings, build)
	if err != nil {
		return err
	}
	defer a.Close()
	log := app.GetLogger()

	manager := tasks.NewManager(a.Store.Tasks)
	if _, err := manager.Recover(ctx); err != nil {
		return err
	}
	defer manager.Shutdown()

	sched := scheduler.New(a.Resolver, a.RunNight, a.LockPath())

	var server *api.Server
	if withAPI {
		opts := []api.ServerOption{
			api.WithStore(a.Store),
			api.WithTasks(manager),
			api.WithPipelines(func(ctx context.Context) (api.Orchestrator, error) {
				p, err := a.Pipeline(ctx)
				if err != nil {
					return nil, err
				}
				return p, nil
			}),
			api.WithResolver(a.Resolver),
			api.WithMetrics(a.Metrics),
			api.WithBuildInfo(build),
			api.WithLockPath(a.LockPath()),
		}
		if withScheduler {
			opts = append(opts, api.WithScheduler(sched))
		}
		if server, err = api.New(settings, opts...); err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	if withScheduler {
		g.Go(func() error { return sched.Run(gctx) })
	}
	if server != nil {
		g.Go(func() error { return server.Run(gctx) })
	}

	log.Info("service started",
		logger.Bool("api", withAPI),
		logger.Bool("scheduler", withScheduler))
	err = g.Wait()
	log.Info("service stopped")
	return err
}
