package gitrev

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

// Error reports a failed fetch or resolve of a ref.
type Error struct {
	Op  string // "fetch" or "resolve"
	Ref string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Ref, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Resolver turns a symbolic base ref into a commit id.
type Resolver struct {
	Runner Runner
	Remote string // defaults to "origin"
	Logger zerolog.Logger
}

// NewResolver returns a Resolver that shells out to git.
func NewResolver(logger zerolog.Logger) *Resolver {
	return &Resolver{Runner: ExecRunner{}, Remote: "origin", Logger: logger}
}

// Resolve returns the commit id of baseRef inside workspaceRoot. When baseRef
// differs from headRef it is first shallow-fetched from the remote; when both
// name the same ref ("main" and "refs/heads/main" included) the ref is the
// checked-out state and HEAD is resolved instead.
func (r *Resolver) Resolve(ctx context.Context, workspaceRoot, baseRef, headRef string) (string, error) {
	if QualifyRef(baseRef) == QualifyRef(headRef) {
		r.Logger.Debug().Str("ref", baseRef).Msg("Base ref equals head ref, resolving HEAD without fetch")
		return r.resolve(ctx, workspaceRoot, baseRef, "HEAD")
	}

	full := QualifyRef(baseRef)
	tracking := TrackingRef(full, r.remote())
	refspec := "+" + full + ":" + tracking

	r.Logger.Info().Str("ref", baseRef).Str("refspec", refspec).Msg("Fetching base ref")
	if _, err := r.Runner.Run(ctx, workspaceRoot, "fetch", "--depth=1", "--no-tags", r.remote(), refspec); err != nil {
		return "", &Error{Op: "fetch", Ref: baseRef, Err: err}
	}

	return r.resolve(ctx, workspaceRoot, baseRef, tracking)
}

func (r *Resolver) resolve(ctx context.Context, dir, ref, fullName string) (string, error) {
	out, err := r.Runner.Run(ctx, dir, "rev-parse", "--verify", "--quiet", fullName+"^{commit}")
	if err != nil {
		return "", &Error{Op: "resolve", Ref: ref, Err: err}
	}
	sha := strings.TrimSpace(string(out))
	if sha == "" {
		return "", &Error{Op: "resolve", Ref: ref, Err: fmt.Errorf("%s did not resolve to a commit", fullName)}
	}
	return sha, nil
}

func (r *Resolver) remote() string {
	if r.Remote == "" {
		return "origin"
	}
	return r.Remote
}

// QualifyRef expands a bare branch name to refs/heads/<name>. Names already
// under refs/ are returned unchanged.
func QualifyRef(ref string) string {
	if strings.HasPrefix(ref, "refs/") {
		return ref
	}
	return "refs/heads/" + ref
}

// TrackingRef maps a fully-qualified remote ref to the local ref it is
// fetched into: branches go under refs/remotes/<remote>/, anything else
// (tags, refs/pull/N/merge) keeps its own name.
func TrackingRef(full, remote string) string {
	if name, ok := strings.CutPrefix(full, "refs/heads/"); ok {
		return "refs/remotes/" + remote + "/" + name
	}
	return full
}
