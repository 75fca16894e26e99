package agent

import (
	"context"
	"time"

	"github.com/golang-jwt/jwt/v5"
	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/relaybot/relay/internal/config"
	"github.com/relaybot/relay/internal/infrastructure/vault"
	"github.com/relaybot/relay/pkg/constants"
	relayerrors "github.com/relaybot/relay/pkg/errors"
	"github.com/relaybot/relay/pkg/logger"
)

const gatewayTokenCacheKey = "gateway_token"

// GatewayAuth manages the shared client-credentials token for the read-only
// tool gateway. The token is machine-scoped, not per-user, so one cached
// value serves every turn; it is replaced five minutes before expiry.
type GatewayAuth struct {
	cfg     config.GatewayConfig
	secrets vault.SecretSource
	cache   *gocache.Cache
	logger  logger.Logger

	// tokenFunc is swappable for tests.
	tokenFunc func(ctx context.Context, clientSecret string) (*oauth2.Token, error)
}

// NewGatewayAuth creates the gateway token manager.
func NewGatewayAuth(cfg config.GatewayConfig, secrets vault.SecretSource, log logger.Logger) *GatewayAuth {
	g := &GatewayAuth{
		cfg:     cfg,
		secrets: secrets,
		cache:   gocache.New(gocache.NoExpiration, 10*time.Minute),
		logger:  log.WithComponent("GatewayAuth"),
	}
	g.tokenFunc = g.fetchToken
	return g
}

// Token returns a valid gateway access token, fetching a new one when the
// cached token is absent or within the refresh buffer of its expiry.
func (g *GatewayAuth) Token(ctx context.Context) (string, error) {
	if cached, ok := g.cache.Get(gatewayTokenCacheKey); ok {
		return cached.(string), nil
	}

	bundle, err := g.secrets.GetSecrets(ctx)
	if err != nil {
		return "", relayerrors.Storage("secret store unavailable").WithCause(err)
	}
	clientSecret, ok := bundle[constants.SecretGatewayClientSecret]
	if !ok || clientSecret == "" {
		return "", relayerrors.Storage("gateway client secret is not configured")
	}

	token, err := g.tokenFunc(ctx, clientSecret)
	if err != nil {
		return "", relayerrors.Upstream("gateway token grant failed").WithCause(err)
	}

	expiry := token.Expiry
	if expiry.IsZero() {
		expiry = g.expiryFromJWT(ctx, token.AccessToken)
	}
	ttl := time.Until(expiry) - constants.GatewayTokenRefreshBuffer
	if ttl <= 0 {
		// Short-lived token: usable for this turn, but never cached.
		return token.AccessToken, nil
	}

	g.cache.Set(gatewayTokenCacheKey, token.AccessToken, ttl)
	g.logger.Debug(ctx, "gateway token cached", logger.Fields{
		"expires_at": expiry.UTC().Format(time.RFC3339),
	})
	return token.AccessToken, nil
}

// fetchToken performs the client-credentials grant against the gateway's
// token endpoint.
func (g *GatewayAuth) fetchToken(ctx context.Context, clientSecret string) (*oauth2.Token, error) {
	cc := clientcredentials.Config{
		ClientID:     g.cfg.ClientID,
		ClientSecret: clientSecret,
		TokenURL:     g.cfg.TokenURL,
		Scopes:       []string{g.cfg.Scope},
		AuthStyle:    oauth2.AuthStyleInHeader,
	}
	return cc.Token(ctx)
}

// expiryFromJWT recovers the expiry from the token's exp claim when the
// token response omitted expires_in. The signature is not verified; the
// value only schedules the local refresh, the gateway still enforces it.
func (g *GatewayAuth) expiryFromJWT(ctx context.Context, accessToken string) time.Time {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(accessToken, claims); err == nil {
		if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
			return exp.Time
		}
	}
	g.logger.Debug(ctx, "gateway token has no recoverable expiry, assuming one hour")
	return time.Now().Add(constants.AccessTokenFallbackTTL)
}

// Invalidate drops the cached token, forcing the next Token call to fetch.
func (g *GatewayAuth) Invalidate() {
	g.cache.Delete(gatewayTokenCacheKey)
}
