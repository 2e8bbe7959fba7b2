package gitlab

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	gitlab "gitlab.com/gitlab-org/api/client-go"
)

// Config contains what the label client needs to reach one project.
type Config struct {
	URL        string
	Token      string
	Project    string // numeric id or "group/project" path
	HTTPClient *http.Client
	Logger     zerolog.Logger
}

// LabelClient sets labels on merge requests. GitLab's add_labels and
// remove_labels are idempotent on the server side.
type LabelClient struct {
	client  *gitlab.Client
	project string
	logger  zerolog.Logger
}

// NewLabelClient builds a client for cfg.Project.
func NewLabelClient(cfg Config) (*LabelClient, error) {
	if cfg.URL == "" || cfg.Token == "" || cfg.Project == "" {
		return nil, fmt.Errorf("gitlab url, token and project are required")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	client, err := gitlab.NewClient(cfg.Token,
		gitlab.WithBaseURL(strings.TrimSuffix(cfg.URL, "/")+"/api/v4"),
		gitlab.WithHTTPClient(httpClient),
		gitlab.WithoutRetries(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create GitLab client: %w", err)
	}

	cfg.Logger.Debug().Str("url", cfg.URL).Str("project", cfg.Project).Msg("Initialized GitLab client")

	return &LabelClient{client: client, project: cfg.Project, logger: cfg.Logger}, nil
}

func (c *LabelClient) Name() string {
	return "gitlab"
}

// AddLabel adds name to merge request iid.
func (c *LabelClient) AddLabel(ctx context.Context, iid int, name string) error {
	opts := &gitlab.UpdateMergeRequestOptions{AddLabels: &gitlab.LabelOptions{name}}
	if err := c.update(ctx, iid, opts); err != nil {
		return err
	}
	c.logger.Info().Int("mr", iid).Str("label", name).Msg("Added label")
	return nil
}

// RemoveLabel removes name from merge request iid.
func (c *LabelClient) RemoveLabel(ctx context.Context, iid int, name string) error {
	opts := &gitlab.UpdateMergeRequestOptions{RemoveLabels: &gitlab.LabelOptions{name}}
	if err := c.update(ctx, iid, opts); err != nil {
		return err
	}
	c.logger.Info().Int("mr", iid).Str("label", name).Msg("Removed label")
	return nil
}

func (c *LabelClient) update(ctx context.Context, iid int, opts *gitlab.UpdateMergeRequestOptions) error {
	_, resp, err := c.client.MergeRequests.UpdateMergeRequest(c.project, iid, opts, gitlab.WithContext(ctx))
	if err != nil {
		if resp != nil {
			return fmt.Errorf("GitLab API request failed with status %d: %w", resp.StatusCode, err)
		}
		return fmt.Errorf("failed to update merge request !%d: %w", iid, err)
	}
	return nil
}
