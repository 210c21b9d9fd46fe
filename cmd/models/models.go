// Package models implements the models command.
package models

import (
	"fmt"
	"io"
	"slices"

	"github.com/spf13/cobra"

	"github.com/irdetect/autoannotate/internal/app"
	"github.com/irdetect/autoannotate/internal/catalog"
	"github.com/irdetect/autoannotate/internal/conf"
	"github.com/irdetect/autoannotate/internal/detector/yolo"
	"github.com/irdetect/autoannotate/internal/logger"
)

// Command creates the models command.
func Command() *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List installed model families and versions",
		RunE: func(cmd *cobra.Command, args []string) error {
			settings := conf.GetSettings()
			c := catalog.New(settings.Models.Dir, settings.Models.Catalog, logger.Global().Module("catalog"))
			return list(cmd.OutOrStdout(), c)
		},
	}
}

func list(w io.Writer, c *catalog.Catalog) error {
	models, err := c.List()
	if err != nil {
		return err
	}
	descriptions, err := c.Descriptions()
	if err != nil {
		return err
	}

	registered := app.NewRegistry().Families()
	families := make([]string, 0, len(models))
	for family := range models {
		families = append(families, family)
	}
	slices.Sort(families)

	if len(families) == 0 {
		_, err := fmt.Fprintf(w, "No models found in %s\n", c.Dir())
		return err
	}

	for _, family := range families {
		status := "unsupported"
		if slices.Contains(registered, family) {
			status = "supported"
			if family == yolo.FamilyName && !yolo.Available {
				status = "needs OpenCV build"
			}
		}
		fmt.Fprintf(w, "%s (%s)\n", family, status)
		if d, ok := descriptions[family]; ok && d.Description != "" {
			fmt.Fprintf(w, "  %s\n", d.Description)
		}
		for _, version := range models[family] {
			line := "  - " + version
			if d, ok := descriptions[family]; ok && d.Versions[version] != "" {
				line += ": " + d.Versions[version]
			}
			fmt.Fprintln(w, line)
		}
	}
	return nil
}
