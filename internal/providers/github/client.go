package github

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	defaultServerURL = "https://github.com"
	defaultAPIURL    = "https://api.github.com"
	apiVersion       = "2022-11-28"
	userAgent        = "compatlabel"
)

// Config holds what the label client needs to reach one repository.
type Config struct {
	// APIURL overrides the REST endpoint. When empty it is derived from ServerURL.
	APIURL    string
	ServerURL string
	Owner     string
	Repo      string
	Tokens    TokenSource
	// RequestsPerSecond bounds outgoing calls; zero means 5.
	RequestsPerSecond float64
	HTTPClient        *http.Client
	Logger            zerolog.Logger
}

// LabelClient manages issue labels on pull requests through the REST API.
type LabelClient struct {
	apiURL      string
	owner       string
	repo        string
	tokens      TokenSource
	httpClient  *http.Client
	rateLimiter *rate.Limiter
	logger      zerolog.Logger
}

// APIBaseURL returns the REST endpoint for a GitHub server. github.com is
// served from api.github.com; Enterprise Server lives under /api/v3.
func APIBaseURL(serverURL string) string {
	serverURL = strings.TrimSuffix(serverURL, "/")
	if serverURL == "" || serverURL == defaultServerURL {
		return defaultAPIURL
	}
	return serverURL + "/api/v3"
}

// NewLabelClient validates cfg and builds a client.
func NewLabelClient(cfg Config) (*LabelClient, error) {
	if cfg.Owner == "" || cfg.Repo == "" {
		return nil, fmt.Errorf("github owner and repo are required")
	}
	if cfg.Tokens == nil {
		return nil, fmt.Errorf("github token source is required")
	}

	apiURL := cfg.APIURL
	if apiURL == "" {
		apiURL = APIBaseURL(cfg.ServerURL)
	}
	if _, err := url.Parse(apiURL); err != nil {
		return nil, fmt.Errorf("invalid github api url %q: %w", apiURL, err)
	}

	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 5
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	return &LabelClient{
		apiURL:      strings.TrimSuffix(apiURL, "/"),
		owner:       cfg.Owner,
		repo:        cfg.Repo,
		tokens:      cfg.Tokens,
		httpClient:  httpClient,
		rateLimiter: rate.NewLimiter(rate.Limit(rps), 1),
		logger:      cfg.Logger,
	}, nil
}

func (c *LabelClient) Name() string {
	return "github"
}

// AddLabel adds name to the pull request. GitHub ignores labels that are
// already present.
func (c *LabelClient) AddLabel(ctx context.Context, number int, name string) error {
	apiURL := fmt.Sprintf("%s/repos/%s/%s/issues/%d/labels",
		c.apiURL, url.PathEscape(c.owner), url.PathEscape(c.repo), number)

	payload, err := json.Marshal(map[string][]string{"labels": {name}})
	if err != nil {
		return fmt.Errorf("failed to marshal request body: %w", err)
	}

	status, body, err := c.do(ctx, http.MethodPost, apiURL, payload)
	if err != nil {
		return err
	}
	if status < 200 || status >= 300 {
		return fmt.Errorf("GitHub API request failed with status %d: %s", status, body)
	}

	c.logger.Info().Int("pr", number).Str("label", name).Msg("Added label")
	return nil
}

// labelNotApplied is GitHub's 404 message when the label is not on the issue.
// Other 404s (unknown repo, issue, or no access) carry a different message.
const labelNotApplied = "Label does not exist"

// RemoveLabel removes name from the pull request. Removing a label that is
// not applied succeeds; any other 404 is an error.
func (c *LabelClient) RemoveLabel(ctx context.Context, number int, name string) error {
	apiURL := fmt.Sprintf("%s/repos/%s/%s/issues/%d/labels/%s",
		c.apiURL, url.PathEscape(c.owner), url.PathEscape(c.repo), number, url.PathEscape(name))

	status, body, err := c.do(ctx, http.MethodDelete, apiURL, nil)
	if err != nil {
		return err
	}
	switch {
	case status == http.StatusNotFound && apiMessage(body) == labelNotApplied:
		c.logger.Debug().Int("pr", number).Str("label", name).Msg("Label not present, nothing to remove")
		return nil
	case status < 200 || status >= 300:
		return fmt.Errorf("GitHub API request failed with status %d: %s", status, body)
	}

	c.logger.Info().Int("pr", number).Str("label", name).Msg("Removed label")
	return nil
}

func (c *LabelClient) do(ctx context.Context, method, apiURL string, payload []byte) (int, string, error) {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return 0, "", fmt.Errorf("rate limiter: %w", err)
	}

	token, err := c.tokens.Token(ctx)
	if err != nil {
		return 0, "", fmt.Errorf("obtaining github token: %w", err)
	}

	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, apiURL, reqBody)
	if err != nil {
		return 0, "", fmt.Errorf("failed to create HTTP request: %w", err)
	}
	setHeaders(req, token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	c.logger.Debug().Str("method", method).Str("url", apiURL).Msg("GitHub API call")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, "", fmt.Errorf("failed to make HTTP request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, "", fmt.Errorf("reading response: %w", err)
	}
	return resp.StatusCode, string(body), nil
}

// apiMessage extracts the "message" field of a GitHub error body.
func apiMessage(body string) string {
	var parsed struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal([]byte(body), &parsed); err != nil {
		return ""
	}
	return parsed.Message
}

func setHeaders(req *http.Request, bearer string) {
	req.Header.Set("Authorization", "Bearer "+bearer)
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", apiVersion)
	req.Header.Set("User-Agent", userAgent)
}
