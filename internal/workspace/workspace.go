package workspace

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	cp "github.com/otiai10/copy"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/compatlabel/internal/gitrev"
)

// Side names one half of a comparison pair.
type Side string

const (
	SideBase Side = "base"
	SideHead Side = "head"
)

// Step names the preparation step that failed.
type Step string

const (
	StepScratch  Step = "scratch"
	StepCopy     Step = "copy"
	StepCheckout Step = "checkout"
)

// Error reports which side and which step of preparation failed.
type Error struct {
	Side Side
	Step Step
	Err  error
}

func (e *Error) Error() string {
	if e.Side == "" {
		return fmt.Sprintf("%s: %v", e.Step, e.Err)
	}
	return fmt.Sprintf("%s %s tree: %v", e.Step, e.Side, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Pair is two independently owned project trees checked out at the base
// and head commits. The scratch directory holding both is removed by Close.
type Pair struct {
	Root    string
	BaseDir string
	HeadDir string

	once     sync.Once
	closeErr error
}

// Close removes the scratch tree. It is safe to call more than once.
func (p *Pair) Close() error {
	if p == nil {
		return nil
	}
	p.once.Do(func() {
		p.closeErr = os.RemoveAll(p.Root)
	})
	return p.closeErr
}

// Preparer builds comparison pairs from a shared workspace checkout.
type Preparer struct {
	Runner gitrev.Runner
	// TempDir is the parent for scratch directories; empty means os.TempDir().
	TempDir string
	Logger  zerolog.Logger
}

// NewPreparer returns a Preparer that checks out with the git binary.
func NewPreparer(logger zerolog.Logger) *Preparer {
	return &Preparer{Runner: gitrev.ExecRunner{}, Logger: logger}
}

// Prepare copies root twice into a fresh scratch directory and force-checks
// out baseCommit in one copy and headCommit in the other. root itself is
// never modified. On error nothing is left behind.
func (p *Preparer) Prepare(ctx context.Context, root, baseCommit, headCommit string) (*Pair, error) {
	scratch, err := os.MkdirTemp(p.TempDir, "compatlabel-")
	if err != nil {
		return nil, &Error{Step: StepScratch, Err: err}
	}

	pair := &Pair{
		Root:    scratch,
		BaseDir: filepath.Join(scratch, string(SideBase)),
		HeadDir: filepath.Join(scratch, string(SideHead)),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return p.prepareSide(gctx, SideBase, root, pair.BaseDir, baseCommit) })
	g.Go(func() error { return p.prepareSide(gctx, SideHead, root, pair.HeadDir, headCommit) })

	if err := g.Wait(); err != nil {
		if cerr := pair.Close(); cerr != nil {
			p.Logger.Warn().Err(cerr).Str("scratch", scratch).Msg("Failed to remove scratch directory")
		}
		return nil, err
	}
	return pair, nil
}

func (p *Preparer) prepareSide(ctx context.Context, side Side, root, dst, commit string) error {
	logger := p.Logger.With().Str("side", string(side)).Str("commit", commit).Logger()

	logger.Info().Str("dst", dst).Msg("Copying workspace")
	if err := copyTree(root, dst); err != nil {
		return &Error{Side: side, Step: StepCopy, Err: err}
	}

	logger.Info().Msg("Checking out commit")
	if err := gitrev.Checkout(ctx, p.Runner, dst, commit); err != nil {
		return &Error{Side: side, Step: StepCheckout, Err: err}
	}
	return nil
}

// copyTree copies src to dst recursively. Symlinks are recreated as links
// rather than followed so that neither copy writes through into src.
func copyTree(src, dst string) error {
	return cp.Copy(src, dst, cp.Options{
		OnSymlink: func(string) cp.SymlinkAction {
			return cp.Shallow
		},
	})
}
