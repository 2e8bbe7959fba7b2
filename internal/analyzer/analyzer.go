package analyzer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
)

// Analyzer compares two project roots and returns the raw structured report.
type Analyzer interface {
	Analyze(ctx context.Context, baseRoot, headRoot string) ([]byte, error)
}

// LaunchError means the analyzer process could not be started at all.
type LaunchError struct {
	Command string
	Err     error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("launching %s: %v", e.Command, e.Err)
}

func (e *LaunchError) Unwrap() error { return e.Err }

// CargoSemver runs the cargo-semver compatibility checker.
type CargoSemver struct {
	Command   string   // defaults to "cargo"
	Manifest  string   // manifest file name inside each root, defaults to "Cargo.toml"
	ExtraArgs []string // appended after the standard arguments
	Logger    zerolog.Logger
}

// Args returns the argument list for comparing baseRoot against headRoot.
func (c *CargoSemver) Args(baseRoot, headRoot string) []string {
	manifest := c.Manifest
	if manifest == "" {
		manifest = "Cargo.toml"
	}
	args := []string{
		"semver",
		"--json",
		"--all-features",
		"--stable-path", filepath.Join(baseRoot, manifest),
		"--current-path", filepath.Join(headRoot, manifest),
	}
	return append(args, c.ExtraArgs...)
}

// Analyze runs the checker and returns its stdout. A non-zero exit status is
// logged but not treated as a failure: the checker can exit non-zero and
// still print a usable report, and the report is what gets parsed.
func (c *CargoSemver) Analyze(ctx context.Context, baseRoot, headRoot string) ([]byte, error) {
	command := c.Command
	if command == "" {
		command = "cargo"
	}
	args := c.Args(baseRoot, headRoot)

	c.Logger.Info().Str("command", command).Strs("args", args).Msg("Running compatibility analysis")

	cmd := exec.CommandContext(ctx, command, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, &LaunchError{Command: command, Err: err}
		}
		// TODO: decide whether a non-zero exit with an empty report should fail here instead of at parse time.
		c.Logger.Warn().
			Int("exit_code", exitErr.ExitCode()).
			Str("stderr", strings.TrimSpace(stderr.String())).
			Msg("Analyzer exited non-zero, parsing its output anyway")
	}

	return stdout.Bytes(), nil
}
