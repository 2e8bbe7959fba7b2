package github

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedRequest struct {
	Method string
	Path   string
	Auth   string
	Body   string
}

// labelServer emulates the issue-labels endpoints for one pull request.
type labelServer struct {
	mu       sync.Mutex
	labels   map[string]bool
	requests []recordedRequest
	failWith int
}

func newLabelServer(t *testing.T, initial ...string) (*labelServer, *httptest.Server) {
	ls := &labelServer{labels: map[string]bool{}}
	for _, l := range initial {
		ls.labels[l] = true
	}
	srv := httptest.NewServer(http.HandlerFunc(ls.handle))
	t.Cleanup(srv.Close)
	return ls, srv
}

func (ls *labelServer) handle(w http.ResponseWriter, r *http.Request) {
	ls.mu.Lock()
	defer ls.mu.Unlock()

	body, _ := io.ReadAll(r.Body)
	ls.requests = append(ls.requests, recordedRequest{
		Method: r.Method,
		Path:   r.URL.Path,
		Auth:   r.Header.Get("Authorization"),
		Body:   string(body),
	})

	if ls.failWith != 0 {
		w.WriteHeader(ls.failWith)
		w.Write([]byte(`{"message":"boom"}`))
		return
	}

	const prefix = "/repos/acme/widgets/issues/42/labels"
	switch {
	case r.Method == http.MethodPost && r.URL.Path == prefix:
		var req struct {
			Labels []string `json:"labels"`
		}
		_ = json.Unmarshal(body, &req)
		for _, l := range req.Labels {
			ls.labels[l] = true
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`[]`))
	case r.Method == http.MethodDelete && strings.HasPrefix(r.URL.Path, prefix+"/"):
		name := strings.TrimPrefix(r.URL.Path, prefix+"/")
		if !ls.labels[name] {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"message":"Label does not exist"}`))
			return
		}
		delete(ls.labels, name)
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`[]`))
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func newTestClient(t *testing.T, apiURL string) *LabelClient {
	t.Helper()
	c, err := NewLabelClient(Config{
		APIURL:            apiURL,
		Owner:             "acme",
		Repo:              "widgets",
		Tokens:            StaticToken("secret"),
		RequestsPerSecond: 1000,
		Logger:            zerolog.Nop(),
	})
	require.NoError(t, err)
	return c
}

func TestAPIBaseURL(t *testing.T) {
	assert.Equal(t, "https://api.github.com", APIBaseURL(""))
	assert.Equal(t, "https://api.github.com", APIBaseURL("https://github.com"))
	assert.Equal(t, "https://api.github.com", APIBaseURL("https://github.com/"))
	assert.Equal(t, "https://ghe.example.com/api/v3", APIBaseURL("https://ghe.example.com"))
	assert.Equal(t, "https://ghe.example.com/api/v3", APIBaseURL("https://ghe.example.com/"))
}

func TestNewLabelClient_Validation(t *testing.T) {
	_, err := NewLabelClient(Config{Repo: "widgets", Tokens: StaticToken("x")})
	assert.Error(t, err)

	_, err = NewLabelClient(Config{Owner: "acme", Repo: "widgets"})
	assert.Error(t, err)

	c, err := NewLabelClient(Config{Owner: "acme", Repo: "widgets", Tokens: StaticToken("x"), ServerURL: "https://ghe.example.com"})
	require.NoError(t, err)
	assert.Equal(t, "https://ghe.example.com/api/v3", c.apiURL)
	assert.Equal(t, "github", c.Name())
}

func TestAddLabel_PostsToIssueLabels(t *testing.T) {
	ls, srv := newLabelServer(t)
	c := newTestClient(t, srv.URL)

	require.NoError(t, c.AddLabel(context.Background(), 42, "semver: major"))

	require.Len(t, ls.requests, 1)
	req := ls.requests[0]
	assert.Equal(t, http.MethodPost, req.Method)
	assert.Equal(t, "/repos/acme/widgets/issues/42/labels", req.Path)
	assert.Equal(t, "Bearer secret", req.Auth)
	assert.JSONEq(t, `{"labels":["semver: major"]}`, req.Body)
	assert.True(t, ls.labels["semver: major"])
}

func TestAddLabel_AlreadyPresentSucceeds(t *testing.T) {
	ls, srv := newLabelServer(t, "patch")
	c := newTestClient(t, srv.URL)

	require.NoError(t, c.AddLabel(context.Background(), 42, "patch"))
	require.NoError(t, c.AddLabel(context.Background(), 42, "patch"))
	assert.Len(t, ls.labels, 1)
}

func TestRemoveLabel_DeletesEscapedName(t *testing.T) {
	ls, srv := newLabelServer(t, "semver: patch")
	c := newTestClient(t, srv.URL)

	require.NoError(t, c.RemoveLabel(context.Background(), 42, "semver: patch"))
	require.Len(t, ls.requests, 1)
	assert.Equal(t, http.MethodDelete, ls.requests[0].Method)
	assert.Equal(t, "/repos/acme/widgets/issues/42/labels/semver: patch", ls.requests[0].Path)
	assert.Empty(t, ls.labels)
}

func TestRemoveLabel_AbsentLabelIsNoOp(t *testing.T) {
	_, srv := newLabelServer(t)
	c := newTestClient(t, srv.URL)

	assert.NoError(t, c.RemoveLabel(context.Background(), 42, "breaking"))
}

func TestRemoveLabel_UnknownRepositoryFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"message":"Not Found","documentation_url":"https://docs.github.com/rest"}`))
	}))
	defer srv.Close()

	c, err := NewLabelClient(Config{
		APIURL:            srv.URL,
		Owner:             "wrong",
		Repo:              "repo",
		Tokens:            StaticToken("secret"),
		RequestsPerSecond: 1000,
		Logger:            zerolog.Nop(),
	})
	require.NoError(t, err)

	err = c.RemoveLabel(context.Background(), 99999, "patch")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 404")
}

func TestLabelCalls_ServerErrorsFail(t *testing.T) {
	ls, srv := newLabelServer(t)
	ls.failWith = http.StatusForbidden
	c := newTestClient(t, srv.URL)

	err := c.AddLabel(context.Background(), 42, "breaking")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 403")

	ls.failWith = http.StatusInternalServerError
	err = c.RemoveLabel(context.Background(), 42, "breaking")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 500")
}

func TestLabelCalls_TransportError(t *testing.T) {
	c := newTestClient(t, "http://127.0.0.1:1")
	err := c.AddLabel(context.Background(), 42, "breaking")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to make HTTP request")
}

// --- GitHub App authentication ---

func testKey(t *testing.T) (*rsa.PrivateKey, []byte) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	return key, pemBytes
}

func TestNewAppTokenSource_Validation(t *testing.T) {
	_, pemBytes := testKey(t)

	_, err := NewAppTokenSource("https://api.github.com", 0, 1, pemBytes)
	assert.Error(t, err)

	_, err = NewAppTokenSource("https://api.github.com", 1, 1, []byte("not a key"))
	assert.Error(t, err)
}

func TestAppTokenSource_ExchangesJWTAndCaches(t *testing.T) {
	key, pemBytes := testKey(t)
	clock := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/app/installations/99/access_tokens", r.URL.Path)

		raw := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		parsed, err := jwt.ParseWithClaims(raw, &jwt.RegisteredClaims{}, func(*jwt.Token) (interface{}, error) {
			return &key.PublicKey, nil
		}, jwt.WithTimeFunc(func() time.Time { return clock }))
		if assert.NoError(t, err) {
			issuer, _ := parsed.Claims.GetIssuer()
			assert.Equal(t, "12345", issuer)
		}

		expires := clock.Add(time.Hour).Format(time.RFC3339)
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"token":"ghs_` + strconv.Itoa(calls) + `","expires_at":"` + expires + `"}`))
	}))
	defer srv.Close()

	src, err := NewAppTokenSource(srv.URL, 12345, 99, pemBytes)
	require.NoError(t, err)
	src.now = func() time.Time { return clock }

	tok, err := src.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ghs_1", tok)

	tok, err = src.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ghs_1", tok)
	assert.Equal(t, 1, calls, "token should be cached until near expiry")

	clock = clock.Add(59*time.Minute + 30*time.Second)
	tok, err = src.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ghs_2", tok)
	assert.Equal(t, 2, calls)
}

func TestAppTokenSource_RejectedExchange(t *testing.T) {
	_, pemBytes := testKey(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"message":"A JSON web token could not be decoded"}`))
	}))
	defer srv.Close()

	src, err := NewAppTokenSource(srv.URL, 1, 2, pemBytes)
	require.NoError(t, err)

	_, err = src.Token(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 401")
}

func TestStaticToken(t *testing.T) {
	tok, err := StaticToken("abc").Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "abc", tok)

	_, err = StaticToken("").Token(context.Background())
	assert.Error(t, err)
}
