package cmd

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compatlabel/internal/config"
)

// isolateEnv clears CI and COMPATLABEL_ variables so the host's CI does not
// leak into the run.
func isolateEnv(t *testing.T) {
	t.Helper()
	names := []string{"GITHUB_ACTIONS", "GITLAB_CI"}
	for _, v := range config.CIVariables {
		names = append(names, v.Name)
	}
	for _, kv := range os.Environ() {
		if name, _, ok := strings.Cut(kv, "="); ok && strings.HasPrefix(name, "COMPATLABEL_") {
			names = append(names, name)
		}
	}
	for _, name := range names {
		t.Setenv(name, "")
		os.Unsetenv(name)
	}
	t.Setenv("HOME", t.TempDir())
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(wd) })
}

func requireGit(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts not supported on windows")
	}
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}
}

func git(t *testing.T, dir string, args ...string) string {
	t.Helper()
	full := append([]string{
		"-C", dir,
		"-c", "user.name=compatlabel",
		"-c", "user.email=compatlabel@example.com",
		"-c", "commit.gpgsign=false",
	}, args...)
	out, err := exec.Command("git", full...).CombinedOutput()
	require.NoError(t, err, "git %s: %s", strings.Join(args, " "), out)
	return strings.TrimSpace(string(out))
}

func commitFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	git(t, dir, "add", name)
	git(t, dir, "commit", "-q", "-m", "update "+name)
	return git(t, dir, "rev-parse", "HEAD")
}

// fakeAnalyzer writes a script that prints a report with the given category.
func fakeAnalyzer(t *testing.T, category string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake-cargo")
	script := "#!/bin/sh\ncat <<'EOF'\n" +
		`{"old_version":"0.1.0","new_version":"0.2.0","changes":{"max_category":"` + category + `","path_changes":[],"changes":[]}}` +
		"\nEOF\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func runApp(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	app := NewApp("test")
	app.Writer = &stdout
	app.ErrWriter = &stderr
	err := app.Run(append([]string{"compatlabel"}, args...))
	return stdout.String(), stderr.String(), err
}

func TestRun_DryRunSameRef(t *testing.T) {
	requireGit(t)
	isolateEnv(t)

	ws := t.TempDir()
	git(t, ws, "init", "-q")
	sha := commitFile(t, ws, "lib.rs", "pub fn a() {}\n")

	stdout, stderr, err := runApp(t, "run",
		"--workspace", ws,
		"--base-ref", "main",
		"--head-ref", "main",
		"--head-sha", sha,
		"--request-id", "5",
		"--label-breaking", "breaking",
		"--label-patch", "patch",
		"--analyzer-command", fakeAnalyzer(t, "Breaking"),
		"--dry-run",
		"--output", "json",
	)
	require.NoError(t, err, stderr)

	var out struct {
		Category      string   `json:"category"`
		RequestID     *int     `json:"request_id"`
		LabelsApplied []string `json:"labels_applied"`
		LabelsRemoved []string `json:"labels_removed"`
		RunID         string   `json:"run_id"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &out))
	assert.Equal(t, "Breaking", out.Category)
	require.NotNil(t, out.RequestID)
	assert.Equal(t, 5, *out.RequestID)
	assert.Equal(t, []string{"breaking"}, out.LabelsApplied)
	assert.Equal(t, []string{"patch"}, out.LabelsRemoved)
	assert.NotEmpty(t, out.RunID)
	assert.Contains(t, stderr, "Dry run: would add label")
}

func TestRun_DefaultActionPrintsCategory(t *testing.T) {
	requireGit(t)
	isolateEnv(t)

	ws := t.TempDir()
	git(t, ws, "init", "-q")
	sha := commitFile(t, ws, "lib.rs", "pub fn a() {}\n")

	stdout, stderr, err := runApp(t,
		"--workspace", ws,
		"--base-ref", "main",
		"--head-ref", "main",
		"--head-sha", sha,
		"--analyzer-command", fakeAnalyzer(t, "NonBreaking"),
		"--dry-run",
	)
	require.NoError(t, err, stderr)
	assert.Equal(t, "NonBreaking\n", stdout)
}

func TestRun_LabelsGitHubPullRequest(t *testing.T) {
	requireGit(t)
	isolateEnv(t)

	root := t.TempDir()
	remote := filepath.Join(root, "remote")
	require.NoError(t, os.MkdirAll(remote, 0o755))
	git(t, remote, "init", "-q")
	commitFile(t, remote, "lib.rs", "pub fn a() {}\n")
	git(t, remote, "branch", "-M", "main")

	ws := filepath.Join(root, "ws")
	git(t, root, "clone", "-q", "file://"+remote, ws)
	git(t, ws, "checkout", "-q", "-b", "feature")
	head := commitFile(t, ws, "lib.rs", "pub fn b() {}\n")

	var mu sync.Mutex
	var calls []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		calls = append(calls, r.Method+" "+r.URL.Path+" "+string(body))
		mu.Unlock()
		if r.Method == http.MethodDelete {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"message":"Label does not exist"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	t.Setenv("COMPATLABEL_GITHUB_API_URL", srv.URL)
	t.Setenv("COMPATLABEL_GITHUB_REPOSITORY", "acme/widgets")
	t.Setenv("COMPATLABEL_GITHUB_TOKEN", "secret")

	stdout, stderr, err := runApp(t, "run",
		"--provider", "github",
		"--workspace", ws,
		"--base-ref", "main",
		"--head-ref", "refs/pull/42/merge",
		"--head-sha", head,
		"--label-patch", "patch",
		"--label-breaking", "breaking",
		"--analyzer-command", fakeAnalyzer(t, "Patch"),
	)
	require.NoError(t, err, stderr)
	assert.Equal(t, "Patch\n", stdout)

	require.Len(t, calls, 2)
	assert.Equal(t, `POST /repos/acme/widgets/issues/42/labels {"labels":["patch"]}`, calls[0])
	assert.Equal(t, "DELETE /repos/acme/widgets/issues/42/labels/breaking ", calls[1])
}

func TestRun_FailureNamesStage(t *testing.T) {
	requireGit(t)
	isolateEnv(t)

	ws := t.TempDir()
	git(t, ws, "init", "-q")
	sha := commitFile(t, ws, "lib.rs", "pub fn a() {}\n")

	_, _, err := runApp(t, "run",
		"--workspace", ws,
		"--base-ref", "main",
		"--head-ref", "main",
		"--head-sha", sha,
		"--request-id", "5",
		"--analyzer-command", fakeAnalyzer(t, "Unknown"),
		"--dry-run",
	)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "classify stage failed")
}

func TestRun_RejectsBadOutputFormat(t *testing.T) {
	isolateEnv(t)
	_, _, err := runApp(t, "run", "--output", "yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid output format")
}

func TestRun_RequiresCredentialsOutsideDryRun(t *testing.T) {
	isolateEnv(t)
	_, _, err := runApp(t, "run",
		"--workspace", "/w",
		"--head-ref", "main",
		"--head-sha", "abc",
		"--provider", "github",
	)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
}
