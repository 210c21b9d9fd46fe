// Package serve implements the serve command.
package serve

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/irdetect/autoannotate/internal/api"
	v1 "github.com/irdetect/autoannotate/internal/api/v1"
	"github.com/irdetect/autoannotate/internal/app"
	"github.com/irdetect/autoannotate/internal/buildinfo"
	"github.com/irdetect/autoannotate/internal/conf"
	"github.com/irdetect/autoannotate/internal/logger"
)

const diskReportInterval = time.Minute

// Command creates the serve command.
func Command(build *buildinfo.Context) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the web server",
		Long:  "Serve the annotation pages, the JSON API and inference streams until interrupted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(conf.GetSettings(), build)
		},
	}
}

func run(settings *conf.Settings, build *buildinfo.Context) error {
	log := logger.Global().Module("serve")

	a, err := app.New(settings, build)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.Warn("Error during cleanup", logger.Error(err))
		}
	}()

	apiOpts := []v1.Option{
		v1.WithDisk(a.Guard),
		v1.WithBuildInfo(build),
	}
	if a.History != nil {
		apiOpts = append(apiOpts, v1.WithHistory(a.History))
	}

	server, err := api.New(api.ConfigFromSettings(settings), a.Store, a.Catalog, a.Runner,
		api.WithLogger(logger.Global().Module("api")),
		api.WithMetrics(a.Metrics),
		api.WithAPIOptions(apiOpts...))
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go a.ReportDiskUsage(ctx, diskReportInterval)

	log.Info("Starting autoannotate",
		logger.String("version", build.Version()),
		logger.String("build_date", build.BuildDate()),
		logger.String("projects", settings.Storage.ProjectsDir),
		logger.String("models", settings.Models.Dir))

	return server.StartWithGracefulShutdown()
}
