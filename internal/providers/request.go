package providers

import (
	"fmt"
	"strconv"
	"strings"
)

// PullRequestFromRef extracts the pull request number from a GitHub merge
// ref such as refs/pull/42/merge. ok is false for any other ref shape (a
// push to a branch, a tag). A ref of the right shape with a non-numeric
// number is an error.
func PullRequestFromRef(ref string) (number int, ok bool, err error) {
	parts := strings.Split(ref, "/")
	if len(parts) != 4 || parts[0] != "refs" || parts[1] != "pull" || parts[3] != "merge" {
		return 0, false, nil
	}
	n, err := strconv.Atoi(parts[2])
	if err != nil || n <= 0 {
		return 0, false, fmt.Errorf("error parsing PR number %q from %s", parts[2], ref)
	}
	return n, true, nil
}

// SplitRepository splits "owner/repo".
func SplitRepository(fullName string) (owner, repo string, err error) {
	parts := strings.Split(fullName, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid repository name: %q (expected owner/repo)", fullName)
	}
	return parts[0], parts[1], nil
}
