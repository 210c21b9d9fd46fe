// Package infer implements the infer command, which runs the saved
// auto-annotate configuration of a project without the web server.
package infer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/irdetect/autoannotate/internal/app"
	"github.com/irdetect/autoannotate/internal/buildinfo"
	"github.com/irdetect/autoannotate/internal/conf"
	"github.com/irdetect/autoannotate/internal/errors"
	"github.com/irdetect/autoannotate/internal/inference"
	"github.com/irdetect/autoannotate/internal/logger"
)

// Command creates the infer command.
func Command(build *buildinfo.Context) *cobra.Command {
	var project string

	cmd := &cobra.Command{
		Use:   "infer",
		Short: "Run inference for a project",
		Long:  "Run the saved model and subset of a project and write the subset results file.",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := app.New(conf.GetSettings(), build)
			if err != nil {
				return err
			}
			defer func() {
				if err := a.Close(); err != nil {
					logger.Global().Module("infer").Warn("Error during cleanup", logger.Error(err))
				}
			}()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cmd.OutOrStdout(), a.Runner, project)
		},
	}

	cmd.Flags().StringVarP(&project, "project", "p", "", "Project to run")
	_ = cmd.MarkFlagRequired("project")
	return cmd
}

func run(ctx context.Context, w io.Writer, runner *inference.Runner, project string) error {
	job, err := runner.Prepare(project)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "run %s: %s on %d image(s) with %s/%s\n",
		job.ID, job.Subset.JSON, len(job.Subset.Images), job.Config.ModelFamily, job.Config.ModelVersion)

	var runErr error
	for ev := range runner.Stream(ctx, job) {
		switch ev.Type {
		case inference.EventProgress, inference.EventComplete:
			fmt.Fprintln(w, ev.Data)
		case inference.EventError:
			var payload inference.ErrorPayload
			if err := json.Unmarshal([]byte(ev.Data), &payload); err != nil {
				payload.Message = ev.Data
			}
			runErr = errors.Newf("inference failed (%s): %s", payload.Type, payload.Message).
				Component("infer").
				Category(errors.CategoryProcessing).
				Build()
		}
	}
	return runErr
}
