package cmd

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"github.com/compatlabel/internal/config"
	"github.com/compatlabel/internal/providers"
	"github.com/compatlabel/internal/providers/github"
	"github.com/compatlabel/internal/providers/gitlab"
)

// NewLabelClient builds the label client for the configured provider. In
// dry-run mode no credentials are needed and nothing is mutated.
func NewLabelClient(cfg *config.Config, dryRun bool, logger zerolog.Logger) (providers.LabelClient, error) {
	if dryRun {
		return providers.DryRunClient{Logger: logger}, nil
	}

	switch cfg.General.Provider {
	case "github":
		owner, repo, err := providers.SplitRepository(cfg.GitHub.Repository)
		if err != nil {
			return nil, err
		}

		apiURL := cfg.GitHub.APIURL
		if apiURL == "" {
			apiURL = github.APIBaseURL(cfg.GitHub.ServerURL)
		}

		var tokens github.TokenSource = github.StaticToken(cfg.GitHub.Token)
		if cfg.GitHub.UsesApp() {
			pemBytes, err := os.ReadFile(cfg.GitHub.PrivateKeyFile)
			if err != nil {
				return nil, fmt.Errorf("reading github app private key: %w", err)
			}
			tokens, err = github.NewAppTokenSource(apiURL, cfg.GitHub.AppID, cfg.GitHub.InstallationID, pemBytes)
			if err != nil {
				return nil, err
			}
			logger.Debug().Int64("app_id", cfg.GitHub.AppID).Msg("Using GitHub App authentication")
		}

		client, err := github.NewLabelClient(github.Config{
			APIURL:            apiURL,
			Owner:             owner,
			Repo:              repo,
			Tokens:            tokens,
			RequestsPerSecond: cfg.GitHub.RequestsPerSecond,
			Logger:            logger,
		})
		if err != nil {
			return nil, err
		}
		return client, nil
	case "gitlab":
		client, err := gitlab.NewLabelClient(gitlab.Config{
			URL:     cfg.GitLab.URL,
			Token:   cfg.GitLab.Token,
			Project: cfg.GitLab.Project,
			Logger:  logger,
		})
		if err != nil {
			return nil, err
		}
		return client, nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", cfg.General.Provider)
	}
}
