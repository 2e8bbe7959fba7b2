package github

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenSource supplies the bearer token for API calls.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a personal access token or the Actions GITHUB_TOKEN.
type StaticToken string

func (s StaticToken) Token(context.Context) (string, error) {
	if s == "" {
		return "", fmt.Errorf("empty github token")
	}
	return string(s), nil
}

// AppTokenSource authenticates as a GitHub App installation. It signs a
// short-lived JWT with the app's private key and exchanges it for an
// installation token, which is cached until shortly before it expires.
type AppTokenSource struct {
	APIURL         string
	AppID          int64
	InstallationID int64
	PrivateKeyPEM  []byte
	HTTPClient     *http.Client

	// now is replaced in tests.
	now func() time.Time

	mu      sync.Mutex
	token   string
	expires time.Time
}

// NewAppTokenSource validates the private key up front.
func NewAppTokenSource(apiURL string, appID, installationID int64, privateKeyPEM []byte) (*AppTokenSource, error) {
	if appID == 0 || installationID == 0 {
		return nil, fmt.Errorf("github app id and installation id are required")
	}
	if _, err := jwt.ParseRSAPrivateKeyFromPEM(privateKeyPEM); err != nil {
		return nil, fmt.Errorf("parsing github app private key: %w", err)
	}
	return &AppTokenSource{
		APIURL:         strings.TrimSuffix(apiURL, "/"),
		AppID:          appID,
		InstallationID: installationID,
		PrivateKeyPEM:  privateKeyPEM,
		HTTPClient:     &http.Client{Timeout: 30 * time.Second},
	}, nil
}

func (a *AppTokenSource) Token(ctx context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.clock()
	if a.token != "" && now.Add(time.Minute).Before(a.expires) {
		return a.token, nil
	}

	appJWT, err := a.signJWT(now)
	if err != nil {
		return "", err
	}

	apiURL := fmt.Sprintf("%s/app/installations/%d/access_tokens", a.APIURL, a.InstallationID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create HTTP request: %w", err)
	}
	setHeaders(req, appJWT)

	client := a.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("requesting installation token: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("installation token request failed with status %d: %s", resp.StatusCode, string(body))
	}

	var parsed struct {
		Token     string    `json:"token"`
		ExpiresAt time.Time `json:"expires_at"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("parsing installation token response: %w", err)
	}
	if parsed.Token == "" {
		return "", fmt.Errorf("installation token response had no token")
	}

	a.token = parsed.Token
	a.expires = parsed.ExpiresAt
	return a.token, nil
}

func (a *AppTokenSource) signJWT(now time.Time) (string, error) {
	key, err := jwt.ParseRSAPrivateKeyFromPEM(a.PrivateKeyPEM)
	if err != nil {
		return "", fmt.Errorf("parsing github app private key: %w", err)
	}
	// GitHub rejects JWTs issued in the future or living longer than ten minutes.
	claims := jwt.RegisteredClaims{
		Issuer:    strconv.FormatInt(a.AppID, 10),
		IssuedAt:  jwt.NewNumericDate(now.Add(-60 * time.Second)),
		ExpiresAt: jwt.NewNumericDate(now.Add(9 * time.Minute)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
	if err != nil {
		return "", fmt.Errorf("signing github app jwt: %w", err)
	}
	return signed, nil
}

func (a *AppTokenSource) clock() time.Time {
	if a.now != nil {
		return a.now()
	}
	return time.Now()
}
