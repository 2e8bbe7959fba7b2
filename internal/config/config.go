package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/compatlabel/internal/labels"
	"github.com/compatlabel/internal/providers"
	"github.com/compatlabel/internal/severity"
)

const envPrefix = "COMPATLABEL_"

// Config represents the application configuration
type Config struct {
	General  GeneralConfig  `koanf:"general"`
	GitHub   GitHubConfig   `koanf:"github"`
	GitLab   GitLabConfig   `koanf:"gitlab"`
	Labels   LabelsConfig   `koanf:"labels"`
	Analyzer AnalyzerConfig `koanf:"analyzer"`
	Log      LogConfig      `koanf:"log"`
}

type GeneralConfig struct {
	Provider  string `koanf:"provider"`
	Workspace string `koanf:"workspace"`
	BaseRef   string `koanf:"base_ref"`
	HeadRef   string `koanf:"head_ref"`
	HeadSHA   string `koanf:"head_sha"`
	// RequestID overrides the pull/merge request derived from CI variables.
	RequestID int `koanf:"request_id"`
}

type GitHubConfig struct {
	Token             string  `koanf:"token"`
	Repository        string  `koanf:"repository"`
	ServerURL         string  `koanf:"server_url"`
	APIURL            string  `koanf:"api_url"`
	AppID             int64   `koanf:"app_id"`
	InstallationID    int64   `koanf:"installation_id"`
	PrivateKeyFile    string  `koanf:"private_key_file"`
	RequestsPerSecond float64 `koanf:"requests_per_second"`
}

// UsesApp reports whether GitHub App credentials are configured.
func (g GitHubConfig) UsesApp() bool {
	return g.AppID != 0 && g.InstallationID != 0 && g.PrivateKeyFile != ""
}

type GitLabConfig struct {
	URL             string `koanf:"url"`
	Token           string `koanf:"token"`
	Project         string `koanf:"project"`
	MergeRequestIID int    `koanf:"merge_request_iid"`
}

type LabelsConfig struct {
	Patch               string `koanf:"patch"`
	NonBreaking         string `koanf:"non_breaking"`
	TechnicallyBreaking string `koanf:"technically_breaking"`
	Breaking            string `koanf:"breaking"`
}

type AnalyzerConfig struct {
	Command   string   `koanf:"command"`
	Manifest  string   `koanf:"manifest"`
	ExtraArgs []string `koanf:"extra_args"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// LabelConfiguration returns the labels keyed by category.
func (c *Config) LabelConfiguration() labels.Configuration {
	return labels.Configuration{
		severity.Patch:               c.Labels.Patch,
		severity.NonBreaking:         c.Labels.NonBreaking,
		severity.TechnicallyBreaking: c.Labels.TechnicallyBreaking,
		severity.Breaking:            c.Labels.Breaking,
	}
}

// RequestID returns the review request to label, or nil when the change is
// not under review. An explicit general.request_id wins. Otherwise GitHub
// derives it from a refs/pull/<n>/merge head ref and GitLab uses the merge
// request iid.
func (c *Config) RequestID() (*int, error) {
	if c.General.RequestID > 0 {
		id := c.General.RequestID
		return &id, nil
	}
	switch c.General.Provider {
	case "github":
		n, ok, err := providers.PullRequestFromRef(c.General.HeadRef)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, nil
		}
		return &n, nil
	case "gitlab":
		if c.GitLab.MergeRequestIID > 0 {
			id := c.GitLab.MergeRequestIID
			return &id, nil
		}
	}
	return nil, nil
}

func defaults() map[string]interface{} {
	return map[string]interface{}{
		"general.provider":           "github",
		"general.base_ref":           "main",
		"github.server_url":          "https://github.com",
		"github.requests_per_second": 5.0,
		"analyzer.command":           "cargo",
		"analyzer.manifest":          "Cargo.toml",
		"log.level":                  "info",
		"log.format":                 "console",
	}
}

// LoadConfig loads the configuration from a file
func LoadConfig(configPath string) (*Config, error) {
	return Load(configPath, nil)
}

// Load layers, lowest to highest: defaults, the TOML file, CI variables,
// COMPATLABEL_ variables, then overrides (typically command-line flags).
func Load(configPath string, overrides map[string]interface{}) (*Config, error) {
	var k = koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("error loading defaults: %w", err)
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), toml.Parser()); err != nil {
			return nil, fmt.Errorf("error loading config: %w", err)
		}
	} else {
		defaultPaths := []string{"./compatlabel.toml", "$HOME/.compatlabel.toml"}
		for _, path := range defaultPaths {
			path = os.ExpandEnv(path)
			if _, err := os.Stat(path); err == nil {
				if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
					return nil, fmt.Errorf("error loading config %s: %w", path, err)
				}
				break
			}
		}
	}

	if err := k.Load(confmap.Provider(CIEnvironment(os.Getenv), "."), nil); err != nil {
		return nil, fmt.Errorf("error loading CI environment: %w", err)
	}

	// COMPATLABEL_LABELS_NON_BREAKING -> labels.non_breaking
	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, envPrefix)), "_", ".", 1)
	}), nil); err != nil {
		return nil, fmt.Errorf("error loading environment: %w", err)
	}

	if len(overrides) > 0 {
		if err := k.Load(confmap.Provider(overrides, "."), nil); err != nil {
			return nil, fmt.Errorf("error loading overrides: %w", err)
		}
	}

	var config Config
	if err := k.Unmarshal("", &config); err != nil {
		return nil, fmt.Errorf("error unmarshalling config: %w", err)
	}

	return &config, nil
}

// InitConfig initializes a new configuration file
func InitConfig(configPath string) error {
	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("configuration file already exists at %s", configPath)
	}

	sampleConfig := `# compatlabel configuration
# CI variables (GitHub Actions, GitLab CI) and COMPATLABEL_* variables
# override these values.

[general]
provider = "github"
base_ref = "main"

[github]
repository = "owner/repo"
token = "your-github-token"
# app_id = 12345
# installation_id = 67890
# private_key_file = "/path/to/app.pem"

[gitlab]
url = "https://gitlab.example.com"
token = "your-gitlab-token"
project = "group/project"

[labels]
patch = "semver: patch"
non_breaking = "semver: minor"
technically_breaking = "semver: technically breaking"
breaking = "semver: major"

[analyzer]
command = "cargo"
manifest = "Cargo.toml"

[log]
level = "info"
format = "console"
`

	return os.WriteFile(configPath, []byte(sampleConfig), 0644)
}

// Validate validates the configuration
func Validate(config *Config) error {
	if err := ValidateRun(config); err != nil {
		return err
	}

	switch config.General.Provider {
	case "github":
		if _, _, err := providers.SplitRepository(config.GitHub.Repository); err != nil {
			return fmt.Errorf("github repository: %w", err)
		}
		if config.GitHub.Token == "" && !config.GitHub.UsesApp() {
			return fmt.Errorf("github token or app credentials (app_id, installation_id, private_key_file) are required")
		}
	case "gitlab":
		if config.GitLab.URL == "" {
			return fmt.Errorf("gitlab url is required")
		}
		if config.GitLab.Token == "" {
			return fmt.Errorf("gitlab token is required")
		}
		if config.GitLab.Project == "" {
			return fmt.Errorf("gitlab project is required")
		}
	}

	return nil
}

// ValidateRun checks everything a run needs except provider credentials.
// Dry runs only need this much.
func ValidateRun(config *Config) error {
	if config.General.Workspace == "" {
		return fmt.Errorf("workspace is required")
	}
	if config.General.HeadRef == "" {
		return fmt.Errorf("head ref is required")
	}
	if config.General.HeadSHA == "" {
		return fmt.Errorf("head sha is required")
	}
	if config.General.BaseRef == "" {
		return fmt.Errorf("base ref is required")
	}
	if config.Analyzer.Command == "" {
		return fmt.Errorf("analyzer command is required")
	}

	switch config.Log.Format {
	case "", "console", "json":
	default:
		return fmt.Errorf("log format must be console or json, got %q", config.Log.Format)
	}

	switch config.General.Provider {
	case "github", "gitlab":
	case "":
		return fmt.Errorf("provider is required")
	default:
		return fmt.Errorf("unknown provider %q (must be github or gitlab)", config.General.Provider)
	}

	if _, err := config.RequestID(); err != nil {
		return err
	}

	return nil
}
