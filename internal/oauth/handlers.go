package oauth

import (
	"errors"
	"html/template"
	"net/http"
	"net/url"

	"github.com/labstack/echo/v4"
	mcpauth "github.com/modelcontextprotocol/go-sdk/auth"
)

// consentTemplate is the approve form rendered on GET /authorize. The
// form posts back to /authorize so approval arrives as a POST; the
// subsequent redirect uses 303 to convert it into a GET on the client's
// callback.
var consentTemplate = template.Must(template.New("consent").Parse(`<!DOCTYPE html>
<html>
<head><title>Authorize Access</title></head>
<body>
<h1>Authorize access to your notes?</h1>
<p>Client {{.ClientID}} is requesting read access.</p>
<form method="post" action="/authorize">
<input type="hidden" name="client_id" value="{{.ClientID}}">
<input type="hidden" name="redirect_uri" value="{{.RedirectURI}}">
<input type="hidden" name="code_challenge" value="{{.CodeChallenge}}">
<input type="hidden" name="code_challenge_method" value="{{.CodeChallengeMethod}}">
<input type="hidden" name="state" value="{{.State}}">
<button type="submit">Approve</button>
</form>
</body>
</html>
`))

// registrationRequest is the subset of RFC 7591 we accept.
type registrationRequest struct {
	RedirectURIs []string `json:"redirect_uris"`
	ClientName   string   `json:"client_name"`
}

// registrationResponse is the RFC 7591 client information response.
type registrationResponse struct {
	ClientID                string   `json:"client_id"`
	ClientIDIssuedAt        int64    `json:"client_id_issued_at"`
	RedirectURIs            []string `json:"redirect_uris,omitempty"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method"`
	GrantTypes              []string `json:"grant_types"`
	ResponseTypes           []string `json:"response_types"`
}

// oauthError is the RFC 6749 error payload. Internal failure detail
// never reaches the client.
type oauthError struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// RouteMiddleware carries per-route middleware applied when mounting the
// broker's routes. Zero value mounts everything unadorned.
type RouteMiddleware struct {
	Register []echo.MiddlewareFunc
	Token    []echo.MiddlewareFunc
}

// RegisterRoutes mounts the broker's HTTP surface on an echo instance.
// None of these routes require authentication.
func (b *Broker) RegisterRoutes(e *echo.Echo, mw RouteMiddleware) {
	e.POST("/register", b.HandleRegister, mw.Register...)
	e.GET("/authorize", b.HandleAuthorize)
	e.POST("/authorize", b.HandleConsent)
	e.POST("/token", b.HandleToken, mw.Token...)
	e.GET("/.well-known/oauth-authorization-server", b.HandleAuthServerMetadata)
	e.GET("/.well-known/oauth-protected-resource", b.HandleProtectedResourceMetadata)
}

// HandleRegister serves RFC 7591 dynamic client registration.
// Registration always succeeds; clients are public (no secret).
func (b *Broker) HandleRegister(c echo.Context) error {
	var req registrationRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, oauthError{
			Error:            "invalid_client_metadata",
			ErrorDescription: "request body must be JSON",
		})
	}

	client := b.Register(c.Request().Context(), req.RedirectURIs)
	return c.JSON(http.StatusCreated, registrationResponse{
		ClientID:                client.ID,
		ClientIDIssuedAt:        client.CreatedAt.Unix(),
		RedirectURIs:            client.RedirectURIs,
		TokenEndpointAuthMethod: "none",
		GrantTypes:              []string{"authorization_code"},
		ResponseTypes:           []string{"code"},
	})
}

// HandleAuthorize validates the authorization request and renders the
// consent form. No code is minted until the user approves.
func (b *Broker) HandleAuthorize(c echo.Context) error {
	q := c.QueryParams()
	if rt := q.Get("response_type"); rt != "" && rt != "code" {
		return c.JSON(http.StatusBadRequest, oauthError{
			Error:            "unsupported_response_type",
			ErrorDescription: "only response_type=code is supported",
		})
	}

	req := AuthorizeRequest{
		ClientID:            q.Get("client_id"),
		RedirectURI:         q.Get("redirect_uri"),
		CodeChallenge:       q.Get("code_challenge"),
		CodeChallengeMethod: q.Get("code_challenge_method"),
		State:               q.Get("state"),
	}
	if err := b.ValidateAuthorize(req); err != nil {
		return c.JSON(http.StatusBadRequest, authorizeError(err))
	}

	c.Response().Header().Set(echo.HeaderContentType, echo.MIMETextHTMLCharsetUTF8)
	c.Response().WriteHeader(http.StatusOK)
	return consentTemplate.Execute(c.Response(), req)
}

// HandleConsent mints a code on approval and redirects to the client's
// callback. 303 converts the consent POST into a GET on the callback.
func (b *Broker) HandleConsent(c echo.Context) error {
	req := AuthorizeRequest{
		ClientID:            c.FormValue("client_id"),
		RedirectURI:         c.FormValue("redirect_uri"),
		CodeChallenge:       c.FormValue("code_challenge"),
		CodeChallengeMethod: c.FormValue("code_challenge_method"),
		State:               c.FormValue("state"),
	}

	code, err := b.Confirm(c.Request().Context(), req)
	if err != nil {
		return c.JSON(http.StatusBadRequest, authorizeError(err))
	}

	u, err := url.Parse(req.RedirectURI)
	if err != nil {
		return c.JSON(http.StatusBadRequest, oauthError{Error: "invalid_request"})
	}
	params := u.Query()
	params.Set("code", code)
	if req.State != "" {
		params.Set("state", req.State)
	}
	u.RawQuery = params.Encode()
	return c.Redirect(http.StatusSeeOther, u.String())
}

// HandleToken exchanges a code + verifier for the bearer token.
func (b *Broker) HandleToken(c echo.Context) error {
	grantType := c.FormValue("grant_type")
	if grantType != "authorization_code" {
		return c.JSON(http.StatusBadRequest, oauthError{
			Error:            "unsupported_grant_type",
			ErrorDescription: "only authorization_code is supported",
		})
	}

	resp, err := b.Exchange(
		c.Request().Context(),
		c.FormValue("code"),
		c.FormValue("code_verifier"),
		c.FormValue("redirect_uri"),
	)
	if err != nil {
		return c.JSON(http.StatusBadRequest, exchangeError(err))
	}
	return c.JSON(http.StatusOK, resp)
}

// HandleAuthServerMetadata serves RFC 8414 discovery metadata.
func (b *Broker) HandleAuthServerMetadata(c echo.Context) error {
	return c.JSON(http.StatusOK, b.Metadata())
}

// HandleProtectedResourceMetadata serves RFC 9728 metadata via the
// go-sdk handler so the payload stays aligned with the bearer gate.
func (b *Broker) HandleProtectedResourceMetadata(c echo.Context) error {
	mcpauth.ProtectedResourceMetadataHandler(b.ProtectedResourceMetadata()).
		ServeHTTP(c.Response(), c.Request())
	return nil
}

// ResourceMetadataURL is advertised in WWW-Authenticate challenges.
func (b *Broker) ResourceMetadataURL() string {
	return joinURL(b.issuer, "/.well-known/oauth-protected-resource")
}

func authorizeError(err error) oauthError {
	if errors.Is(err, ErrUnsupportedChallengeMethod) {
		return oauthError{
			Error:            "invalid_request",
			ErrorDescription: "only the S256 code challenge method is supported",
		}
	}
	return oauthError{Error: "invalid_request"}
}

func exchangeError(err error) oauthError {
	switch {
	case errors.Is(err, ErrCodeNotFound),
		errors.Is(err, ErrPKCEMismatch),
		errors.Is(err, ErrRedirectURIMismatch):
		return oauthError{Error: "invalid_grant"}
	default:
		return oauthError{Error: "invalid_request"}
	}
}
