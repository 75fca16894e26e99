// Package oauth implements the outbound OAuth 2.0 client for external
// providers: authorization URL construction, code and refresh-token grants,
// and accessible-resource discovery.
package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/relaybot/relay/internal/config"
	"github.com/relaybot/relay/pkg/constants"
	relayerrors "github.com/relaybot/relay/pkg/errors"
)

// TokenResponse is the provider's token endpoint response for both the
// authorization-code and refresh-token grants.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	Scope        string `json:"scope"`
}

// ExpiresAt converts expires_in to an absolute time, falling back to the
// provider-typical ~1 hour when the field is absent.
func (r *TokenResponse) ExpiresAt(now time.Time) time.Time {
	if r.ExpiresIn <= 0 {
		return now.Add(constants.AccessTokenFallbackTTL)
	}
	return now.Add(time.Duration(r.ExpiresIn) * time.Second)
}

// Resource is one entry from the provider's accessible-resources endpoint.
type Resource struct {
	ID     string   `json:"id"`
	Name   string   `json:"name"`
	URL    string   `json:"url"`
	Scopes []string `json:"scopes"`
}

// ProviderClient talks to one provider's OAuth endpoints. Credentials are
// injected per call so the client itself holds no secrets.
type ProviderClient interface {
	// AuthorizeURL builds the browser redirect target for the three-legged
	// flow. prompt=consent is always set to force refresh-token issuance
	// even on re-authorization.
	AuthorizeURL(clientID, redirectURI, state string) string

	// Exchange trades an authorization code for a token pair.
	Exchange(ctx context.Context, clientID, clientSecret, code, redirectURI string) (*TokenResponse, error)

	// Refresh performs the refresh-token grant. Providers are expected to
	// rotate: the response carries a new refresh token replacing the input.
	Refresh(ctx context.Context, clientID, clientSecret, refreshToken string) (*TokenResponse, error)

	// AccessibleResources resolves the provider-side account/site identifiers
	// reachable with the access token. An empty result is a hard failure for
	// the callback flow.
	AccessibleResources(ctx context.Context, accessToken string) ([]Resource, error)
}

type httpProviderClient struct {
	cfg        config.ProviderConfig
	httpClient *http.Client
}

// NewProviderClient creates the HTTP client for one configured provider.
func NewProviderClient(cfg config.ProviderConfig, httpClient *http.Client) ProviderClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: constants.ProviderHTTPTimeout}
	}
	return &httpProviderClient{cfg: cfg, httpClient: httpClient}
}

func (c *httpProviderClient) AuthorizeURL(clientID, redirectURI, state string) string {
	params := url.Values{}
	if c.cfg.Audience != "" {
		params.Set("audience", c.cfg.Audience)
	}
	params.Set("client_id", clientID)
	params.Set("scope", c.cfg.Scopes)
	params.Set("redirect_uri", redirectURI)
	params.Set("state", state)
	params.Set("response_type", "code")
	params.Set("prompt", "consent")

	return c.cfg.AuthorizeURL + "?" + params.Encode()
}

func (c *httpProviderClient) Exchange(ctx context.Context, clientID, clientSecret, code, redirectURI string) (*TokenResponse, error) {
	data := url.Values{}
	data.Set("grant_type", "authorization_code")
	data.Set("client_id", clientID)
	data.Set("client_secret", clientSecret)
	data.Set("code", code)
	data.Set("redirect_uri", redirectURI)

	return c.tokenGrant(ctx, data)
}

func (c *httpProviderClient) Refresh(ctx context.Context, clientID, clientSecret, refreshToken string) (*TokenResponse, error) {
	data := url.Values{}
	data.Set("grant_type", "refresh_token")
	data.Set("client_id", clientID)
	data.Set("client_secret", clientSecret)
	data.Set("refresh_token", refreshToken)

	return c.tokenGrant(ctx, data)
}

// tokenGrant posts a form-encoded grant to the token endpoint. Failure
// categorization: 400/401/403 mean the grant itself was rejected and the
// token is dead at the provider (permanent); everything else is transient.
func (c *httpProviderClient) tokenGrant(ctx context.Context, data url.Values) (*TokenResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.TokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, relayerrors.Upstream("build token request").WithCause(err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, relayerrors.Upstream("token endpoint unreachable").WithCause(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, relayerrors.Upstream("read token response").WithCause(err)
	}

	if resp.StatusCode >= 300 {
		relayErr := relayerrors.Upstream(fmt.Sprintf("token grant rejected: status=%d %s", resp.StatusCode, upstreamErrorDetail(body)))
		if resp.StatusCode == http.StatusBadRequest ||
			resp.StatusCode == http.StatusUnauthorized ||
			resp.StatusCode == http.StatusForbidden {
			relayErr.Permanent()
		}
		return nil, relayErr
	}

	var token TokenResponse
	if err := json.Unmarshal(body, &token); err != nil {
		return nil, relayerrors.Upstream("decode token response").WithCause(err)
	}
	if token.AccessToken == "" {
		return nil, relayerrors.Upstream("token response missing access_token")
	}
	return &token, nil
}

func (c *httpProviderClient) AccessibleResources(ctx context.Context, accessToken string) ([]Resource, error) {
	if c.cfg.ResourcesURL == "" {
		return nil, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.ResourcesURL, nil)
	if err != nil {
		return nil, relayerrors.Upstream("build resources request").WithCause(err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, relayerrors.Upstream("resources endpoint unreachable").WithCause(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, relayerrors.Upstream("read resources response").WithCause(err)
	}
	if resp.StatusCode >= 300 {
		return nil, relayerrors.Upstream(fmt.Sprintf("resources request failed: status=%d", resp.StatusCode))
	}

	var resources []Resource
	if err := json.Unmarshal(body, &resources); err != nil {
		return nil, relayerrors.Upstream("decode resources response").WithCause(err)
	}
	return resources, nil
}

// upstreamErrorDetail extracts the OAuth error fields from an error body.
// These are provider-generated descriptions and carry no secrets.
func upstreamErrorDetail(body []byte) string {
	var oauthErr struct {
		Error       string `json:"error"`
		Description string `json:"error_description"`
	}
	if err := json.Unmarshal(body, &oauthErr); err != nil || oauthErr.Error == "" {
		return ""
	}
	if oauthErr.Description != "" {
		return oauthErr.Error + ": " + oauthErr.Description
	}
	return oauthErr.Error
}
