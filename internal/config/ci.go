package config

// Platform is a CI system whose variables are understood.
type Platform string

const (
	PlatformGitHub Platform = "github"
	PlatformGitLab Platform = "gitlab"
	// PlatformAny marks variables read on every platform.
	PlatformAny Platform = ""
)

// CIVariable maps one CI environment variable onto a configuration key.
type CIVariable struct {
	Name     string
	Platform Platform
	Key      string
	Secret   bool
	Required bool
}

// CIVariables lists every variable read from the CI environment. When
// several variables map to the same key the first non-empty one wins.
var CIVariables = []CIVariable{
	{Name: "GITHUB_SHA", Platform: PlatformGitHub, Key: "general.head_sha", Required: true},
	{Name: "GITHUB_REF", Platform: PlatformGitHub, Key: "general.head_ref", Required: true},
	{Name: "GITHUB_BASE_REF", Platform: PlatformGitHub, Key: "general.base_ref"},
	{Name: "GITHUB_WORKSPACE", Platform: PlatformGitHub, Key: "general.workspace", Required: true},
	{Name: "GITHUB_REPOSITORY", Platform: PlatformGitHub, Key: "github.repository", Required: true},
	{Name: "GITHUB_SERVER_URL", Platform: PlatformGitHub, Key: "github.server_url"},
	{Name: "GITHUB_API_URL", Platform: PlatformGitHub, Key: "github.api_url"},
	{Name: "repo_token", Platform: PlatformGitHub, Key: "github.token", Secret: true},
	{Name: "INPUT_REPO_TOKEN", Platform: PlatformGitHub, Key: "github.token", Secret: true},
	{Name: "GITHUB_TOKEN", Platform: PlatformGitHub, Key: "github.token", Secret: true},

	{Name: "CI_COMMIT_SHA", Platform: PlatformGitLab, Key: "general.head_sha", Required: true},
	{Name: "CI_COMMIT_REF_NAME", Platform: PlatformGitLab, Key: "general.head_ref", Required: true},
	{Name: "CI_MERGE_REQUEST_TARGET_BRANCH_NAME", Platform: PlatformGitLab, Key: "general.base_ref"},
	{Name: "CI_PROJECT_DIR", Platform: PlatformGitLab, Key: "general.workspace", Required: true},
	{Name: "CI_SERVER_URL", Platform: PlatformGitLab, Key: "gitlab.url", Required: true},
	{Name: "CI_PROJECT_ID", Platform: PlatformGitLab, Key: "gitlab.project", Required: true},
	{Name: "CI_MERGE_REQUEST_IID", Platform: PlatformGitLab, Key: "gitlab.merge_request_iid"},
	{Name: "GITLAB_TOKEN", Platform: PlatformGitLab, Key: "gitlab.token", Secret: true, Required: true},

	{Name: "LABEL_PATCH", Platform: PlatformAny, Key: "labels.patch"},
	{Name: "LABEL_NON_BREAKING", Platform: PlatformAny, Key: "labels.non_breaking"},
	{Name: "LABEL_TECHNICALLY_BREAKING", Platform: PlatformAny, Key: "labels.technically_breaking"},
	{Name: "LABEL_BREAKING", Platform: PlatformAny, Key: "labels.breaking"},
}

// DetectPlatform reports which CI system the process runs under, or
// PlatformAny when none is recognized.
func DetectPlatform(getenv func(string) string) Platform {
	switch {
	case getenv("GITHUB_ACTIONS") == "true", getenv("GITHUB_SHA") != "":
		return PlatformGitHub
	case getenv("GITLAB_CI") == "true", getenv("CI_COMMIT_SHA") != "":
		return PlatformGitLab
	}
	return PlatformAny
}

// CIEnvironment builds a flat koanf map from the variables of the detected
// platform plus the platform-independent ones. Empty variables are treated
// as unset, so an empty GITHUB_BASE_REF (a push build) keeps the default.
func CIEnvironment(getenv func(string) string) map[string]interface{} {
	platform := DetectPlatform(getenv)
	out := map[string]interface{}{}
	if platform != PlatformAny {
		out["general.provider"] = string(platform)
	}
	for _, v := range CIVariables {
		if v.Platform != PlatformAny && v.Platform != platform {
			continue
		}
		if _, set := out[v.Key]; set {
			continue
		}
		if val := getenv(v.Name); val != "" {
			out[v.Key] = val
		}
	}
	return out
}
