// Package auth holds the static bearer credential and verifies tokens
// presented on MCP requests.
package auth

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"
	"time"

	mcpauth "github.com/modelcontextprotocol/go-sdk/auth"

	"github.com/fyrsmithlabs/neron/internal/config"
)

// TokenScope is the single scope granted by the issued token.
const TokenScope = "user"

// TokenLifetime is the advertised lifetime of the issued token.
// The credential itself never rotates; this only feeds expires_in
// and TokenInfo.Expiration.
const TokenLifetime = 315360000 * time.Second // ten years

// CredentialStore holds the one pre-provisioned bearer token.
// Every successful authorization flow issues this same token.
type CredentialStore struct {
	token []byte
}

// NewCredentialStore builds a store from the configured secret.
func NewCredentialStore(token config.Secret) (*CredentialStore, error) {
	if !token.IsSet() {
		return nil, fmt.Errorf("bearer token must not be empty")
	}
	return &CredentialStore{token: []byte(token.Value())}, nil
}

// Token returns the stored credential for issuance at the token endpoint.
func (s *CredentialStore) Token() string {
	return string(s.token)
}

// IsValid reports whether the presented token matches the stored one.
// Comparison is constant-time.
func (s *CredentialStore) IsValid(presented string) bool {
	return subtle.ConstantTimeCompare(s.token, []byte(presented)) == 1
}

// VerifyToken implements go-sdk/auth.TokenVerifier. The presented token
// must match byte-for-byte; no normalization is applied.
func (s *CredentialStore) VerifyToken(ctx context.Context, token string, _ *http.Request) (*mcpauth.TokenInfo, error) {
	if token == "" {
		return nil, fmt.Errorf("%w: empty token", mcpauth.ErrInvalidToken)
	}
	if !s.IsValid(token) {
		return nil, fmt.Errorf("%w: token mismatch", mcpauth.ErrInvalidToken)
	}
	return &mcpauth.TokenInfo{
		Scopes:     []string{TokenScope},
		Expiration: time.Now().Add(TokenLifetime),
		UserID:     "owner",
	}, nil
}
