package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"
)

// GlobalFlags are accepted before any command.
func GlobalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "Load configuration from `FILE` (default: ./compatlabel.toml, then ~/.compatlabel.toml)",
		},
		&cli.StringFlag{
			Name:  "env-file",
			Usage: "Load environment variables from `FILE` before reading configuration",
		},
	}
}

// configPath returns --config from the innermost context that set it, so the
// flag works both before and after the command name.
func configPath(c *cli.Context) string {
	for _, ctx := range c.Lineage() {
		if path := ctx.String("config"); path != "" {
			return path
		}
	}
	return ""
}

// LoadGlobals applies global flags that must take effect before a command runs.
func LoadGlobals(c *cli.Context) error {
	if path := c.String("env-file"); path != "" {
		if err := LoadEnvFile(path); err != nil {
			return fmt.Errorf("failed to load env file: %w", err)
		}
	}
	return nil
}

// NewApp assembles the command-line application.
func NewApp(version string) *cli.App {
	return &cli.App{
		Name:    "compatlabel",
		Usage:   "Label pull and merge requests with their API compatibility impact",
		Version: version,
		Flags:   append(GlobalFlags(), RunFlags()...),
		Before:  LoadGlobals,
		Action:  runClassify,
		Commands: []*cli.Command{
			RunCommand(),
			ConfigCommand(),
			EnvCommand(),
		},
	}
}
