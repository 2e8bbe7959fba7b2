package cmd

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/compatlabel/internal/analyzer"
	"github.com/compatlabel/internal/config"
	"github.com/compatlabel/internal/gitrev"
	"github.com/compatlabel/internal/logging"
	"github.com/compatlabel/internal/pipeline"
	"github.com/compatlabel/internal/severity"
	"github.com/compatlabel/internal/workspace"
)

// flagKeys maps run flags onto configuration keys. Only flags the user set
// override lower layers.
var flagKeys = map[string]string{
	"provider":                   "general.provider",
	"workspace":                  "general.workspace",
	"base-ref":                   "general.base_ref",
	"head-ref":                   "general.head_ref",
	"head-sha":                   "general.head_sha",
	"request-id":                 "general.request_id",
	"label-patch":                "labels.patch",
	"label-non-breaking":         "labels.non_breaking",
	"label-technically-breaking": "labels.technically_breaking",
	"label-breaking":             "labels.breaking",
	"analyzer-command":           "analyzer.command",
	"manifest":                   "analyzer.manifest",
	"analyzer-arg":               "analyzer.extra_args",
	"log-level":                  "log.level",
	"log-format":                 "log.format",
}

// RunCommand returns the run command
func RunCommand() *cli.Command {
	return &cli.Command{
		Name:   "run",
		Usage:  "Classify the change and reconcile the request's compatibility label",
		Flags:  append(GlobalFlags(), RunFlags()...),
		Before: LoadGlobals,
		Action: runClassify,
	}
}

// RunFlags are shared by the run command and the app's default action.
func RunFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "provider", Aliases: []string{"p"}, Usage: "Review host: github or gitlab"},
		&cli.StringFlag{Name: "workspace", Aliases: []string{"w"}, Usage: "Path of the checked-out repository"},
		&cli.StringFlag{Name: "base-ref", Usage: "Ref the change is compared against"},
		&cli.StringFlag{Name: "head-ref", Usage: "Ref of the change under test"},
		&cli.StringFlag{Name: "head-sha", Usage: "Commit of the change under test"},
		&cli.IntFlag{Name: "request-id", Usage: "Pull/merge request to label (overrides CI detection)"},
		&cli.StringFlag{Name: "label-patch", Usage: "Label for Patch changes"},
		&cli.StringFlag{Name: "label-non-breaking", Usage: "Label for NonBreaking changes"},
		&cli.StringFlag{Name: "label-technically-breaking", Usage: "Label for TechnicallyBreaking changes"},
		&cli.StringFlag{Name: "label-breaking", Usage: "Label for Breaking changes"},
		&cli.StringFlag{Name: "analyzer-command", Usage: "Analyzer executable"},
		&cli.StringFlag{Name: "manifest", Usage: "Manifest file inside each tree"},
		&cli.StringSliceFlag{Name: "analyzer-arg", Usage: "Extra analyzer argument (repeatable)"},
		&cli.StringFlag{Name: "log-level", Usage: "trace, debug, info, warn or error"},
		&cli.StringFlag{Name: "log-format", Usage: "console or json"},
		&cli.BoolFlag{
			Name:    "dry-run",
			Aliases: []string{"d"},
			Usage:   "Classify without changing any labels",
		},
		&cli.StringFlag{
			Name:    "output",
			Aliases: []string{"o"},
			Usage:   "Result format on stdout: text or json",
			Value:   "text",
		},
	}
}

func flagOverrides(c *cli.Context) map[string]interface{} {
	out := map[string]interface{}{}
	for flag, key := range flagKeys {
		if !c.IsSet(flag) {
			continue
		}
		switch flag {
		case "request-id":
			out[key] = c.Int(flag)
		case "analyzer-arg":
			out[key] = c.StringSlice(flag)
		default:
			out[key] = c.String(flag)
		}
	}
	return out
}

func runClassify(c *cli.Context) error {
	output := c.String("output")
	if output != "text" && output != "json" {
		return fmt.Errorf("invalid output format %q (must be text or json)", output)
	}
	dryRun := c.Bool("dry-run")

	cfg, err := config.Load(configPath(c), flagOverrides(c))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := logging.Setup(logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format, Out: c.App.ErrWriter}); err != nil {
		return err
	}

	validate := config.Validate
	if dryRun {
		validate = config.ValidateRun
	}
	if err := validate(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	requestID, err := cfg.RequestID()
	if err != nil {
		return err
	}

	client, err := NewLabelClient(cfg, dryRun, log.Logger)
	if err != nil {
		return fmt.Errorf("failed to create label client: %w", err)
	}

	p := &pipeline.Pipeline{
		Resolver: gitrev.NewResolver(log.Logger),
		Preparer: workspace.NewPreparer(log.Logger),
		Analyzer: &analyzer.CargoSemver{
			Command:   cfg.Analyzer.Command,
			Manifest:  cfg.Analyzer.Manifest,
			ExtraArgs: cfg.Analyzer.ExtraArgs,
			Logger:    log.Logger,
		},
		Labels: client,
		Logger: log.Logger.With().Str("provider", client.Name()).Logger(),
	}

	res, err := p.Run(c.Context, pipeline.Params{
		WorkspaceRoot: cfg.General.Workspace,
		BaseRef:       cfg.General.BaseRef,
		HeadRef:       cfg.General.HeadRef,
		HeadCommit:    cfg.General.HeadSHA,
		Labels:        cfg.LabelConfiguration(),
		RequestID:     requestID,
	})
	if err != nil {
		return err
	}

	return writeResult(c.App.Writer, output, res)
}

type runOutput struct {
	Category      severity.Category `json:"category"`
	RequestID     *int              `json:"request_id"`
	LabelsApplied []string          `json:"labels_applied"`
	LabelsRemoved []string          `json:"labels_removed"`
	RunID         string            `json:"run_id"`
}

func writeResult(w io.Writer, format string, res *pipeline.Result) error {
	if format == "text" {
		_, err := fmt.Fprintln(w, res.Category)
		return err
	}

	out := runOutput{
		Category:      res.Category,
		RequestID:     res.RequestID,
		LabelsApplied: []string{},
		LabelsRemoved: []string{},
		RunID:         res.RunID,
	}
	if res.Plan != nil {
		if res.Plan.Apply != "" {
			out.LabelsApplied = append(out.LabelsApplied, res.Plan.Apply)
		}
		out.LabelsRemoved = append(out.LabelsRemoved, res.Plan.Remove...)
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
