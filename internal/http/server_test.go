package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/neron/internal/auth"
	"github.com/fyrsmithlabs/neron/internal/config"
	"github.com/fyrsmithlabs/neron/internal/mcp"
	"github.com/fyrsmithlabs/neron/internal/notes"
	"github.com/fyrsmithlabs/neron/internal/oauth"
	"github.com/fyrsmithlabs/neron/internal/search"
)

type stubStore struct {
	pingErr error
}

func (s *stubStore) NotesByDay(ctx context.Context, day string) ([]notes.Note, error) {
	if _, _, err := notes.DayBounds(day, time.UTC); err != nil {
		return nil, err
	}
	return nil, nil
}

func (s *stubStore) AllNotes(ctx context.Context) ([]notes.Note, error) {
	return nil, nil
}

func (s *stubStore) SearchByVector(ctx context.Context, vector []float32, limit int) ([]notes.SearchResult, error) {
	return nil, nil
}

func (s *stubStore) Ping(ctx context.Context) error {
	return s.pingErr
}

type stubEmbedder struct{}

func (stubEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return []float32{0.1}, nil
}

func newTestHTTPServer(t *testing.T, store *stubStore) *Server {
	t.Helper()

	creds, err := auth.NewCredentialStore(config.Secret("sk-test-token"))
	require.NoError(t, err)

	broker, err := oauth.NewBroker(creds, oauth.Config{
		Issuer:  "https://neron.example.com",
		CodeTTL: 10 * time.Minute,
	})
	require.NoError(t, err)

	ranker, err := search.NewRanker(stubEmbedder{}, store, nil)
	require.NoError(t, err)

	mcpSrv, err := mcp.NewServer(mcp.Config{
		Store:               store,
		Ranker:              ranker,
		Creds:               creds,
		ResourceMetadataURL: broker.ResourceMetadataURL(),
	})
	require.NoError(t, err)

	srv, err := NewServer(broker, mcpSrv.Handler(), store, nil, Config{
		Host:                  "localhost",
		Port:                  0,
		RegisterRatePerMinute: 600,
		TokenRatePerMinute:    600,
		EnableMetrics:         true,
	})
	require.NoError(t, err)
	return srv
}

func doReq(s *Server, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, req)
	return rec
}

func TestDiscoveryIsUnauthenticated(t *testing.T) {
	srv := newTestHTTPServer(t, &stubStore{})

	for _, path := range []string{
		"/.well-known/oauth-authorization-server",
		"/.well-known/oauth-protected-resource",
	} {
		rec := doReq(srv, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}
}

func TestMCPRequiresToken(t *testing.T) {
	srv := newTestHTTPServer(t, &stubStore{})

	req := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader("{}"))
	rec := doReq(srv, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	challenge := rec.Header().Get("WWW-Authenticate")
	assert.Contains(t, challenge, "Bearer")
	assert.Contains(t, challenge, "resource_metadata")
	assert.Contains(t, challenge, "/.well-known/oauth-protected-resource")
}

func TestHealth(t *testing.T) {
	srv := newTestHTTPServer(t, &stubStore{})
	rec := doReq(srv, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ok")
}

func TestHealthDegraded(t *testing.T) {
	srv := newTestHTTPServer(t, &stubStore{pingErr: notes.ErrUnavailable})
	rec := doReq(srv, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestHTTPServer(t, &stubStore{})
	rec := doReq(srv, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRegisterEndpointMounted(t *testing.T) {
	srv := newTestHTTPServer(t, &stubStore{})

	req := httptest.NewRequest(http.MethodPost, "/register", strings.NewReader(`{"redirect_uris":["https://app.example.com/cb"]}`))
	req.Header.Set("Content-Type", "application/json")
	rec := doReq(srv, req)

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Contains(t, rec.Body.String(), "client_id")
}

func TestHostileRequestIDHeader(t *testing.T) {
	srv := newTestHTTPServer(t, &stubStore{})

	// Inbound X-Request-Id is client-controlled; malformed values must be
	// dropped, not turned into a panic and a 500.
	for _, id := range []string{
		"evil id with spaces!!!",
		"inject\nnewline",
		strings.Repeat("a", 300),
	} {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set("X-Request-Id", id)
		rec := doReq(srv, req)
		assert.Equal(t, http.StatusOK, rec.Code, "id %q", id)
	}
}

func newRateLimitedServer(t *testing.T, cfg Config) *Server {
	t.Helper()

	creds, err := auth.NewCredentialStore(config.Secret("sk-test-token"))
	require.NoError(t, err)
	broker, err := oauth.NewBroker(creds, oauth.Config{
		Issuer:  "https://neron.example.com",
		CodeTTL: time.Minute,
	})
	require.NoError(t, err)

	store := &stubStore{}
	ranker, err := search.NewRanker(stubEmbedder{}, store, nil)
	require.NoError(t, err)
	mcpSrv, err := mcp.NewServer(mcp.Config{
		Store:               store,
		Ranker:              ranker,
		Creds:               creds,
		ResourceMetadataURL: broker.ResourceMetadataURL(),
	})
	require.NoError(t, err)

	srv, err := NewServer(broker, mcpSrv.Handler(), store, nil, cfg)
	require.NoError(t, err)
	return srv
}

func TestTokenRateLimit(t *testing.T) {
	srv := newRateLimitedServer(t, Config{
		TokenRatePerMinute:    2,
		RegisterRatePerMinute: 600,
	})

	var lastCode int
	for i := 0; i < 5; i++ {
		req := httptest.NewRequest(http.MethodPost, "/token", strings.NewReader("grant_type=authorization_code"))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.RemoteAddr = "203.0.113.7:1234"
		lastCode = doReq(srv, req).Code
	}
	assert.Equal(t, http.StatusTooManyRequests, lastCode)
}

func TestRegisterRateLimit(t *testing.T) {
	srv := newRateLimitedServer(t, Config{
		TokenRatePerMinute:    600,
		RegisterRatePerMinute: 2,
	})

	var lastCode int
	for i := 0; i < 5; i++ {
		req := httptest.NewRequest(http.MethodPost, "/register", strings.NewReader(`{"redirect_uris":["https://app.example.com/cb"]}`))
		req.Header.Set("Content-Type", "application/json")
		req.RemoteAddr = "203.0.113.7:1234"
		lastCode = doReq(srv, req).Code
	}
	assert.Equal(t, http.StatusTooManyRequests, lastCode)
}
