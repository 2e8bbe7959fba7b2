package cmd

import (
	"fmt"
	"io"

	"github.com/urfave/cli/v2"

	"github.com/compatlabel/internal/config"
	"github.com/compatlabel/internal/labels"
	"github.com/compatlabel/internal/severity"
)

// ConfigCommand returns the config command
func ConfigCommand() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "Manage configuration",
		Subcommands: []*cli.Command{
			{
				Name:  "init",
				Usage: "Initialize a new configuration file",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "output",
						Aliases: []string{"o"},
						Usage:   "Output file path",
						Value:   "compatlabel.toml",
					},
				},
				Action: runConfigInit,
			},
			{
				Name:   "validate",
				Usage:  "Validate the configuration file",
				Action: runConfigValidate,
			},
		},
	}
}

func runConfigInit(c *cli.Context) error {
	outputPath := c.String("output")

	if err := config.InitConfig(outputPath); err != nil {
		return fmt.Errorf("failed to initialize config: %w", err)
	}

	fmt.Fprintf(c.App.Writer, "Created configuration file at %s\n", outputPath)
	return nil
}

func runConfigValidate(c *cli.Context) error {
	cfg, err := config.LoadConfig(configPath(c))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	requestID, err := cfg.RequestID()
	if err != nil {
		return err
	}

	fmt.Fprintln(c.App.Writer, "Configuration is valid")
	fmt.Fprintf(c.App.Writer, "  provider:  %s\n", cfg.General.Provider)
	fmt.Fprintf(c.App.Writer, "  workspace: %s\n", cfg.General.Workspace)
	fmt.Fprintf(c.App.Writer, "  base ref:  %s\n", cfg.General.BaseRef)
	fmt.Fprintf(c.App.Writer, "  head:      %s (%s)\n", cfg.General.HeadRef, cfg.General.HeadSHA)
	if requestID != nil {
		fmt.Fprintf(c.App.Writer, "  request:   #%d\n", *requestID)
	} else {
		fmt.Fprintln(c.App.Writer, "  request:   none (labels will not be changed)")
	}
	fmt.Fprintf(c.App.Writer, "  analyzer:  %s (manifest %s)\n", cfg.Analyzer.Command, cfg.Analyzer.Manifest)

	printLabels(c.App.Writer, cfg.LabelConfiguration())
	return nil
}

// printLabels lists the label for each category in severity order and warns
// when nothing is configured, since such a run can only classify.
func printLabels(w io.Writer, cfg labels.Configuration) {
	fmt.Fprintln(w, "Labels:")
	configured := 0
	for _, category := range severity.Categories() {
		name, ok := cfg.Label(category)
		if !ok {
			fmt.Fprintf(w, "  %-20s (none)\n", category)
			continue
		}
		configured++
		fmt.Fprintf(w, "  %-20s %q\n", category, name)
	}
	if configured == 0 {
		fmt.Fprintln(w, "⚠ Warning: no labels configured; runs will classify without labeling")
	}
}
