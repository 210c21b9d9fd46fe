// Package cmd holds the command line interface.
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/irdetect/autoannotate/cmd/infer"
	"github.com/irdetect/autoannotate/cmd/models"
	"github.com/irdetect/autoannotate/cmd/serve"
	"github.com/irdetect/autoannotate/internal/buildinfo"
	"github.com/irdetect/autoannotate/internal/conf"
	"github.com/irdetect/autoannotate/internal/logger"
)

// RootCommand creates and returns the root command
func RootCommand(build *buildinfo.Context) *cobra.Command {
	var configFile string

	rootCmd := &cobra.Command{
		Use:           "autoannotate",
		Short:         "Infrared dataset annotation server",
		Version:       build.String(),
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Path to the configuration file")
	if err := setupFlags(rootCmd); err != nil {
		panic(err)
	}

	rootCmd.AddCommand(
		serve.Command(build),
		models.Command(),
		infer.Command(build),
	)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		settings, err := conf.Load(configFile)
		if err != nil {
			return err
		}
		return initLogging(settings)
	}

	return rootCmd
}

// setupFlags defines flags that are global to the command line interface and
// binds them to their configuration keys.
func setupFlags(rootCmd *cobra.Command) error {
	flags := rootCmd.PersistentFlags()
	flags.BoolP("debug", "d", false, "Enable debug output")
	flags.String("listen", "", "Listen address of the HTTP server")
	flags.String("projects", "", "Directory holding the projects")
	flags.String("models", "", "Directory holding the model families")

	bindings := map[string]string{
		"debug":               "debug",
		"server.listen":       "listen",
		"storage.projectsdir": "projects",
		"models.dir":          "models",
	}
	for key, flag := range bindings {
		if err := viper.BindPFlag(key, flags.Lookup(flag)); err != nil {
			return fmt.Errorf("error binding flag %s: %w", flag, err)
		}
	}
	return nil
}

// initLogging installs the central logger configured by settings.
func initLogging(settings *conf.Settings) error {
	cl, err := logger.NewCentralLogger(&settings.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	logger.SetGlobal(cl)
	return nil
}
