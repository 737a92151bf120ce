// Package oauth implements a minimal OAuth 2.1 authorization-code flow
// with PKCE that redeems every valid code for one pre-provisioned bearer
// token. Client registrations and authorization codes live in process
// memory only.
package oauth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/oauthex"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/fyrsmithlabs/neron/internal/auth"
	"github.com/fyrsmithlabs/neron/internal/logging"
)

// Broker failure modes. Handlers map these to OAuth wire errors without
// leaking which check failed beyond what the RFC requires.
var (
	ErrUnsupportedChallengeMethod = errors.New("unsupported code challenge method")
	ErrCodeNotFound               = errors.New("authorization code not found")
	ErrPKCEMismatch               = errors.New("pkce verifier mismatch")
	ErrRedirectURIMismatch        = errors.New("redirect uri mismatch")
	ErrInvalidRequest             = errors.New("invalid authorization request")
)

// RFC 7636 bounds on code_verifier length.
const (
	minVerifierLen = 43
	maxVerifierLen = 128
)

type codeState int

const (
	codeIssued codeState = iota
	codeRedeemed
)

// Client is an ephemeral dynamic registration record.
type Client struct {
	ID           string
	RedirectURIs []string
	CreatedAt    time.Time
}

type authorizationCode struct {
	code          string
	clientID      string
	codeChallenge string
	redirectURI   string
	state         string
	issuedAt      time.Time
	expiresAt     time.Time
	redemption    codeState
}

// TokenResponse is the OAuth token endpoint payload.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
	Scope       string `json:"scope,omitempty"`
}

// AuthorizeRequest carries the parameters of a GET /authorize request.
type AuthorizeRequest struct {
	ClientID            string
	RedirectURI         string
	CodeChallenge       string
	CodeChallengeMethod string
	State               string
}

// AuthServerMetadata is RFC 8414-compatible authorization server metadata.
type AuthServerMetadata struct {
	Issuer                            string   `json:"issuer"`
	AuthorizationEndpoint             string   `json:"authorization_endpoint"`
	TokenEndpoint                     string   `json:"token_endpoint"`
	RegistrationEndpoint              string   `json:"registration_endpoint"`
	ResponseTypesSupported            []string `json:"response_types_supported"`
	GrantTypesSupported               []string `json:"grant_types_supported"`
	TokenEndpointAuthMethodsSupported []string `json:"token_endpoint_auth_methods_supported"`
	CodeChallengeMethodsSupported     []string `json:"code_challenge_methods_supported"`
	ScopesSupported                   []string `json:"scopes_supported,omitempty"`
}

// Config holds broker construction parameters.
type Config struct {
	// Issuer is the externally reachable base URL of this server.
	Issuer string
	// CodeTTL bounds how long an unredeemed code stays exchangeable.
	CodeTTL time.Duration
	Logger  *logging.Logger
}

// Broker owns the client registry and authorization code table.
// Every successful exchange returns the credential store's static token.
type Broker struct {
	creds   *auth.CredentialStore
	issuer  string
	codeTTL time.Duration
	logger  *logging.Logger
	now     func() time.Time

	mu      sync.Mutex
	clients map[string]Client
	codes   map[string]*authorizationCode
}

// NewBroker creates a broker issuing codes redeemable for the store's token.
func NewBroker(creds *auth.CredentialStore, cfg Config) (*Broker, error) {
	if creds == nil {
		return nil, fmt.Errorf("credential store is required")
	}
	if strings.TrimSpace(cfg.Issuer) == "" {
		return nil, fmt.Errorf("issuer is required")
	}
	if cfg.CodeTTL <= 0 {
		return nil, fmt.Errorf("code TTL must be > 0")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Broker{
		creds:   creds,
		issuer:  strings.TrimRight(cfg.Issuer, "/"),
		codeTTL: cfg.CodeTTL,
		logger:  logger.Named("oauth"),
		now:     time.Now,
		clients: make(map[string]Client),
		codes:   make(map[string]*authorizationCode),
	}, nil
}

// Register records a dynamic client registration. Registration always
// succeeds; the flow intentionally performs no identity verification.
func (b *Broker) Register(ctx context.Context, redirectURIs []string) Client {
	client := Client{
		ID:           uuid.NewString(),
		RedirectURIs: append([]string(nil), redirectURIs...),
		CreatedAt:    b.now().UTC(),
	}

	b.mu.Lock()
	b.clients[client.ID] = client
	b.mu.Unlock()

	b.logger.Info(ctx, "client registered",
		zap.String("client_id", client.ID),
		zap.Int("redirect_uris", len(client.RedirectURIs)),
	)
	return client
}

// ValidateAuthorize checks an authorization request before consent is
// rendered. No code is minted yet. Unknown client IDs are accepted:
// the single-user trust model treats every client the same.
func (b *Broker) ValidateAuthorize(req AuthorizeRequest) error {
	if strings.TrimSpace(req.ClientID) == "" {
		return fmt.Errorf("%w: client_id required", ErrInvalidRequest)
	}
	redirectURI := strings.TrimSpace(req.RedirectURI)
	if redirectURI == "" {
		return fmt.Errorf("%w: redirect_uri required", ErrInvalidRequest)
	}
	if _, err := url.ParseRequestURI(redirectURI); err != nil {
		return fmt.Errorf("%w: invalid redirect_uri", ErrInvalidRequest)
	}
	if strings.TrimSpace(req.CodeChallenge) == "" {
		return fmt.Errorf("%w: code_challenge required", ErrInvalidRequest)
	}
	if req.CodeChallengeMethod != "S256" {
		return fmt.Errorf("%w: %q", ErrUnsupportedChallengeMethod, req.CodeChallengeMethod)
	}
	return nil
}

// Confirm mints a single-use authorization code after user approval and
// binds it to the request's PKCE challenge, redirect URI and state.
func (b *Broker) Confirm(ctx context.Context, req AuthorizeRequest) (string, error) {
	if err := b.ValidateAuthorize(req); err != nil {
		return "", err
	}

	// Token-quality randomness; the code must be unguessable.
	code := oauth2.GenerateVerifier()
	now := b.now().UTC()

	b.mu.Lock()
	b.cleanupLocked(now)
	b.codes[code] = &authorizationCode{
		code:          code,
		clientID:      req.ClientID,
		codeChallenge: req.CodeChallenge,
		redirectURI:   req.RedirectURI,
		state:         req.State,
		issuedAt:      now,
		expiresAt:     now.Add(b.codeTTL),
	}
	b.mu.Unlock()

	b.logger.Info(ctx, "authorization code issued",
		zap.String("client_id", req.ClientID),
		zap.Time("expires_at", now.Add(b.codeTTL)),
	)
	return code, nil
}

// Exchange redeems a code + verifier for the static bearer token.
// Redemption is at-most-once: the ISSUED -> REDEEMED transition happens
// under the table lock, so concurrent duplicates see ErrCodeNotFound.
func (b *Broker) Exchange(ctx context.Context, code, verifier, redirectURI string) (TokenResponse, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return TokenResponse{}, fmt.Errorf("%w: code required", ErrCodeNotFound)
	}
	now := b.now().UTC()

	b.mu.Lock()
	entry, ok := b.codes[code]
	if !ok || entry.redemption == codeRedeemed || !entry.expiresAt.After(now) {
		b.mu.Unlock()
		b.logger.Warn(ctx, "code exchange rejected", zap.String("reason", "unknown, expired or reused code"))
		return TokenResponse{}, ErrCodeNotFound
	}
	if strings.TrimSpace(redirectURI) == "" || redirectURI != entry.redirectURI {
		b.mu.Unlock()
		b.logger.Warn(ctx, "code exchange rejected",
			zap.String("reason", "redirect uri mismatch"),
			zap.String("client_id", entry.clientID),
		)
		return TokenResponse{}, ErrRedirectURIMismatch
	}
	if err := verifyPKCE(entry.codeChallenge, verifier); err != nil {
		b.mu.Unlock()
		b.logger.Warn(ctx, "code exchange rejected",
			zap.String("reason", "pkce verification failed"),
			zap.String("client_id", entry.clientID),
		)
		return TokenResponse{}, err
	}
	entry.redemption = codeRedeemed
	b.mu.Unlock()

	b.logger.Info(ctx, "code exchanged for token", zap.String("client_id", entry.clientID))
	return TokenResponse{
		AccessToken: b.creds.Token(),
		TokenType:   "Bearer",
		ExpiresIn:   int64(auth.TokenLifetime.Seconds()),
		Scope:       auth.TokenScope,
	}, nil
}

// cleanupLocked drops expired codes. Redeemed codes are kept until their
// TTL passes so replay attempts stay distinguishable in logs.
func (b *Broker) cleanupLocked(now time.Time) {
	for code, entry := range b.codes {
		if !entry.expiresAt.After(now) {
			delete(b.codes, code)
		}
	}
}

// verifyPKCE recomputes the S256 transform of the verifier and compares
// it to the challenge bound at issuance.
func verifyPKCE(challenge, verifier string) error {
	if len(verifier) < minVerifierLen || len(verifier) > maxVerifierLen {
		return fmt.Errorf("%w: verifier length out of range", ErrPKCEMismatch)
	}
	for _, ch := range verifier {
		valid := (ch >= 'A' && ch <= 'Z') || (ch >= 'a' && ch <= 'z') || (ch >= '0' && ch <= '9') ||
			ch == '-' || ch == '.' || ch == '_' || ch == '~'
		if !valid {
			return fmt.Errorf("%w: verifier contains invalid characters", ErrPKCEMismatch)
		}
	}
	hash := sha256.Sum256([]byte(verifier))
	computed := base64.RawURLEncoding.EncodeToString(hash[:])
	if subtle.ConstantTimeCompare([]byte(computed), []byte(challenge)) != 1 {
		return ErrPKCEMismatch
	}
	return nil
}

// Metadata returns RFC 8414 authorization server metadata.
func (b *Broker) Metadata() AuthServerMetadata {
	return AuthServerMetadata{
		Issuer:                            b.issuer,
		AuthorizationEndpoint:             joinURL(b.issuer, "/authorize"),
		TokenEndpoint:                     joinURL(b.issuer, "/token"),
		RegistrationEndpoint:              joinURL(b.issuer, "/register"),
		ResponseTypesSupported:            []string{"code"},
		GrantTypesSupported:               []string{"authorization_code"},
		TokenEndpointAuthMethodsSupported: []string{"none"},
		CodeChallengeMethodsSupported:     []string{"S256"},
		ScopesSupported:                   []string{auth.TokenScope},
	}
}

// ProtectedResourceMetadata returns the RFC 9728 payload for the MCP
// endpoint guarded by this broker's token.
func (b *Broker) ProtectedResourceMetadata() *oauthex.ProtectedResourceMetadata {
	return &oauthex.ProtectedResourceMetadata{
		Resource:               joinURL(b.issuer, "/mcp"),
		AuthorizationServers:   []string{b.issuer},
		ScopesSupported:        []string{auth.TokenScope},
		BearerMethodsSupported: []string{"header"},
	}
}

func joinURL(baseURL, p string) string {
	u, err := url.Parse(baseURL)
	if err != nil {
		return baseURL + p
	}
	u.Path = path.Join(u.Path, strings.TrimPrefix(p, "/"))
	return u.String()
}
