package oauth

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/fyrsmithlabs/neron/internal/auth"
	"github.com/fyrsmithlabs/neron/internal/config"
)

const testToken = "sk-neron-test-token"

func newTestBroker(t *testing.T) *Broker {
	t.Helper()
	creds, err := auth.NewCredentialStore(config.Secret(testToken))
	require.NoError(t, err)
	broker, err := NewBroker(creds, Config{
		Issuer:  "https://neron.example.com",
		CodeTTL: 10 * time.Minute,
	})
	require.NoError(t, err)
	return broker
}

func challengeFor(verifier string) string {
	hash := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(hash[:])
}

func testAuthorizeRequest(verifier string) AuthorizeRequest {
	return AuthorizeRequest{
		ClientID:            "client-1",
		RedirectURI:         "https://app.example.com/callback",
		CodeChallenge:       challengeFor(verifier),
		CodeChallengeMethod: "S256",
		State:               "xyz",
	}
}

func TestRegister(t *testing.T) {
	broker := newTestBroker(t)
	client := broker.Register(context.Background(), []string{"https://app.example.com/callback"})
	assert.NotEmpty(t, client.ID)
	assert.Len(t, client.RedirectURIs, 1)
	assert.False(t, client.CreatedAt.IsZero())

	// Registration always succeeds, even with no redirect URIs.
	second := broker.Register(context.Background(), nil)
	assert.NotEqual(t, client.ID, second.ID)
}

func TestValidateAuthorize(t *testing.T) {
	broker := newTestBroker(t)
	verifier := oauth2.GenerateVerifier()

	tests := []struct {
		name    string
		mutate  func(*AuthorizeRequest)
		wantErr error
	}{
		{name: "valid", mutate: func(r *AuthorizeRequest) {}},
		{
			name:    "missing client_id",
			mutate:  func(r *AuthorizeRequest) { r.ClientID = "" },
			wantErr: ErrInvalidRequest,
		},
		{
			name:    "missing redirect_uri",
			mutate:  func(r *AuthorizeRequest) { r.RedirectURI = "" },
			wantErr: ErrInvalidRequest,
		},
		{
			name:    "unparseable redirect_uri",
			mutate:  func(r *AuthorizeRequest) { r.RedirectURI = "::/bad" },
			wantErr: ErrInvalidRequest,
		},
		{
			name:    "missing challenge",
			mutate:  func(r *AuthorizeRequest) { r.CodeChallenge = "" },
			wantErr: ErrInvalidRequest,
		},
		{
			name:    "plain method",
			mutate:  func(r *AuthorizeRequest) { r.CodeChallengeMethod = "plain" },
			wantErr: ErrUnsupportedChallengeMethod,
		},
		{
			name:    "empty method",
			mutate:  func(r *AuthorizeRequest) { r.CodeChallengeMethod = "" },
			wantErr: ErrUnsupportedChallengeMethod,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := testAuthorizeRequest(verifier)
			tt.mutate(&req)
			err := broker.ValidateAuthorize(req)
			if tt.wantErr == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestExchangeRoundTrip(t *testing.T) {
	broker := newTestBroker(t)
	verifier := oauth2.GenerateVerifier()
	req := testAuthorizeRequest(verifier)

	code, err := broker.Confirm(context.Background(), req)
	require.NoError(t, err)
	require.NotEmpty(t, code)

	resp, err := broker.Exchange(context.Background(), code, verifier, req.RedirectURI)
	require.NoError(t, err)
	assert.Equal(t, testToken, resp.AccessToken)
	assert.Equal(t, "Bearer", resp.TokenType)
	assert.Equal(t, int64(315360000), resp.ExpiresIn)
	assert.Equal(t, "user", resp.Scope)
}

func TestExchangeSingleUse(t *testing.T) {
	broker := newTestBroker(t)
	verifier := oauth2.GenerateVerifier()
	req := testAuthorizeRequest(verifier)

	code, err := broker.Confirm(context.Background(), req)
	require.NoError(t, err)

	_, err = broker.Exchange(context.Background(), code, verifier, req.RedirectURI)
	require.NoError(t, err)

	_, err = broker.Exchange(context.Background(), code, verifier, req.RedirectURI)
	require.ErrorIs(t, err, ErrCodeNotFound)
}

func TestExchangeConcurrentAtMostOnce(t *testing.T) {
	broker := newTestBroker(t)
	verifier := oauth2.GenerateVerifier()
	req := testAuthorizeRequest(verifier)

	code, err := broker.Confirm(context.Background(), req)
	require.NoError(t, err)

	const attempts = 32
	var wg sync.WaitGroup
	results := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = broker.Exchange(context.Background(), code, verifier, req.RedirectURI)
		}(i)
	}
	wg.Wait()

	successes := 0
	for _, res := range results {
		if res == nil {
			successes++
		} else {
			assert.ErrorIs(t, res, ErrCodeNotFound)
		}
	}
	assert.Equal(t, 1, successes)
}

func TestExchangePKCEMismatch(t *testing.T) {
	broker := newTestBroker(t)
	verifier := oauth2.GenerateVerifier()
	req := testAuthorizeRequest(verifier)

	code, err := broker.Confirm(context.Background(), req)
	require.NoError(t, err)

	tests := []struct {
		name     string
		verifier string
	}{
		{name: "different verifier", verifier: oauth2.GenerateVerifier()},
		{name: "too short", verifier: "short"},
		{name: "too long", verifier: strings.Repeat("a", 129)},
		{name: "invalid chars", verifier: strings.Repeat("a", 42) + "!"},
		{name: "empty", verifier: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := broker.Exchange(context.Background(), code, tt.verifier, req.RedirectURI)
			require.ErrorIs(t, err, ErrPKCEMismatch)
		})
	}

	// Failed verification attempts must not consume the code.
	resp, err := broker.Exchange(context.Background(), code, verifier, req.RedirectURI)
	require.NoError(t, err)
	assert.Equal(t, testToken, resp.AccessToken)
}

func TestExchangeRedirectURIMismatch(t *testing.T) {
	broker := newTestBroker(t)
	verifier := oauth2.GenerateVerifier()
	req := testAuthorizeRequest(verifier)

	code, err := broker.Confirm(context.Background(), req)
	require.NoError(t, err)

	_, err = broker.Exchange(context.Background(), code, verifier, "https://evil.example.com/callback")
	require.ErrorIs(t, err, ErrRedirectURIMismatch)

	_, err = broker.Exchange(context.Background(), code, verifier, "")
	require.ErrorIs(t, err, ErrRedirectURIMismatch)
}

func TestExchangeExpiredCode(t *testing.T) {
	broker := newTestBroker(t)
	verifier := oauth2.GenerateVerifier()
	req := testAuthorizeRequest(verifier)

	current := time.Now()
	broker.now = func() time.Time { return current }

	code, err := broker.Confirm(context.Background(), req)
	require.NoError(t, err)

	current = current.Add(11 * time.Minute)
	_, err = broker.Exchange(context.Background(), code, verifier, req.RedirectURI)
	require.ErrorIs(t, err, ErrCodeNotFound)
}

func TestExchangeUnknownCode(t *testing.T) {
	broker := newTestBroker(t)
	_, err := broker.Exchange(context.Background(), "no-such-code", oauth2.GenerateVerifier(), "https://app.example.com/callback")
	require.ErrorIs(t, err, ErrCodeNotFound)
}

func TestMetadata(t *testing.T) {
	broker := newTestBroker(t)
	meta := broker.Metadata()
	assert.Equal(t, "https://neron.example.com", meta.Issuer)
	assert.Equal(t, "https://neron.example.com/authorize", meta.AuthorizationEndpoint)
	assert.Equal(t, "https://neron.example.com/token", meta.TokenEndpoint)
	assert.Equal(t, "https://neron.example.com/register", meta.RegistrationEndpoint)
	assert.Equal(t, []string{"S256"}, meta.CodeChallengeMethodsSupported)
	assert.Equal(t, []string{"authorization_code"}, meta.GrantTypesSupported)
	assert.Equal(t, []string{"none"}, meta.TokenEndpointAuthMethodsSupported)

	// Stable across calls.
	assert.Equal(t, meta, broker.Metadata())
}

func TestProtectedResourceMetadata(t *testing.T) {
	broker := newTestBroker(t)
	meta := broker.ProtectedResourceMetadata()
	assert.Equal(t, "https://neron.example.com/mcp", meta.Resource)
	assert.Equal(t, []string{"https://neron.example.com"}, meta.AuthorizationServers)
	assert.Equal(t, []string{"user"}, meta.ScopesSupported)
}
