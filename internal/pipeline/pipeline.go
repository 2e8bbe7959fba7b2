package pipeline

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/compatlabel/internal/analyzer"
	"github.com/compatlabel/internal/labels"
	"github.com/compatlabel/internal/logging"
	"github.com/compatlabel/internal/providers"
	"github.com/compatlabel/internal/severity"
	"github.com/compatlabel/internal/workspace"
)

// Stage names one step of a run.
type Stage string

const (
	StageResolve   Stage = "resolve"
	StagePrepare   Stage = "prepare"
	StageAnalyze   Stage = "analyze"
	StageClassify  Stage = "classify"
	StageReconcile Stage = "reconcile"
)

// StageError wraps the failure of one stage.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// RevisionResolver is satisfied by *gitrev.Resolver.
type RevisionResolver interface {
	Resolve(ctx context.Context, workspaceRoot, baseRef, headRef string) (string, error)
}

// WorkspacePreparer is satisfied by *workspace.Preparer.
type WorkspacePreparer interface {
	Prepare(ctx context.Context, root, baseCommit, headCommit string) (*workspace.Pair, error)
}

// Params describes one run.
type Params struct {
	WorkspaceRoot string
	BaseRef       string
	HeadRef       string
	HeadCommit    string
	Labels        labels.Configuration
	// RequestID is the pull or merge request to label. Nil means the change
	// is not under review and labels are left alone.
	RequestID *int
}

// Result is the outcome of a successful run.
type Result struct {
	RunID      string
	BaseCommit string
	Category   severity.Category
	RequestID  *int
	// Plan is nil when no reconciliation happened.
	Plan *labels.Plan
}

// Pipeline wires the stages together.
type Pipeline struct {
	Resolver RevisionResolver
	Preparer WorkspacePreparer
	Analyzer analyzer.Analyzer
	Labels   providers.LabelClient
	Logger   zerolog.Logger
}

// ClassifyAndReconcile classifies the change between the base ref and the
// head commit and reconciles the request's labels to match.
func (p *Pipeline) ClassifyAndReconcile(ctx context.Context, params Params) (severity.Category, error) {
	res, err := p.Run(ctx, params)
	if err != nil {
		return 0, err
	}
	return res.Category, nil
}

// Run is ClassifyAndReconcile with the full result.
func (p *Pipeline) Run(ctx context.Context, params Params) (res *Result, err error) {
	run := logging.NewRun(p.Logger)
	defer func() { run.Finish(err) }()

	run.Info().
		Str("workspace", params.WorkspaceRoot).
		Str("base_ref", params.BaseRef).
		Str("head_ref", params.HeadRef).
		Str("head_commit", params.HeadCommit).
		Msg("Starting compatibility run")

	resolveLog := run.Stage(string(StageResolve))
	baseCommit, err := p.Resolver.Resolve(ctx, params.WorkspaceRoot, params.BaseRef, params.HeadRef)
	if err != nil {
		return nil, &StageError{Stage: StageResolve, Err: err}
	}
	resolveLog.Info().Str("base_commit", baseCommit).Msg("Resolved base ref")

	prepareLog := run.Stage(string(StagePrepare))
	pair, err := p.Preparer.Prepare(ctx, params.WorkspaceRoot, baseCommit, params.HeadCommit)
	if err != nil {
		return nil, &StageError{Stage: StagePrepare, Err: err}
	}
	defer func() {
		if cerr := pair.Close(); cerr != nil {
			prepareLog.Warn().Err(cerr).Str("scratch", pair.Root).Msg("Failed to remove comparison trees")
		}
	}()
	prepareLog.Info().Str("base_dir", pair.BaseDir).Str("head_dir", pair.HeadDir).Msg("Prepared comparison trees")

	analyzeLog := run.Stage(string(StageAnalyze))
	raw, err := p.Analyzer.Analyze(ctx, pair.BaseDir, pair.HeadDir)
	if err != nil {
		return nil, &StageError{Stage: StageAnalyze, Err: err}
	}
	analyzeLog.Debug().Bytes("report", raw).Msg("Analyzer output")

	classifyLog := run.Stage(string(StageClassify))
	category, err := severity.Classify(raw)
	if err != nil {
		return nil, &StageError{Stage: StageClassify, Err: err}
	}
	classifyLog.Info().Str("category", category.String()).Msg("Classified change")

	res = &Result{
		RunID:      run.RunID(),
		BaseCommit: baseCommit,
		Category:   category,
		RequestID:  params.RequestID,
	}

	if params.RequestID == nil {
		run.Info().Str("category", category.String()).Msg("No review request for this change, leaving labels untouched")
		return res, nil
	}

	plan, err := labels.Reconcile(ctx, p.Labels, *params.RequestID, category, params.Labels, run.Stage(string(StageReconcile)))
	if err != nil {
		return nil, &StageError{Stage: StageReconcile, Err: err}
	}
	res.Plan = &plan
	return res, nil
}
