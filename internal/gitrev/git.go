package gitrev

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// Runner executes git subcommands inside a repository directory.
type Runner interface {
	Run(ctx context.Context, dir string, args ...string) ([]byte, error)
}

// ExecRunner shells out to the git binary.
type ExecRunner struct {
	// Binary defaults to "git".
	Binary string
}

// Run executes `git -C dir args...` and returns stdout. A non-zero exit is an
// error carrying the trimmed stderr.
func (r ExecRunner) Run(ctx context.Context, dir string, args ...string) ([]byte, error) {
	bin := r.Binary
	if bin == "" {
		bin = "git"
	}

	cmd := exec.CommandContext(ctx, bin, append([]string{"-C", dir}, args...)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	output, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, fmt.Errorf("git %s failed: %s\nstderr: %s",
				strings.Join(args, " "), err, strings.TrimSpace(stderr.String()))
		}
		return nil, fmt.Errorf("git %s: %w", strings.Join(args, " "), err)
	}
	return output, nil
}

// Checkout force-checks out commit in dir as a detached HEAD, discarding
// local modifications.
func Checkout(ctx context.Context, runner Runner, dir, commit string) error {
	if _, err := runner.Run(ctx, dir, "checkout", "--detach", "--force", commit); err != nil {
		return err
	}
	return nil
}
