package agent

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/relaybot/relay/internal/config"
	"github.com/relaybot/relay/internal/infrastructure/vault"
	"github.com/relaybot/relay/pkg/constants"
	"github.com/relaybot/relay/pkg/logger"
)

func newGatewayFixture(tokenFunc func(ctx context.Context, clientSecret string) (*oauth2.Token, error)) *GatewayAuth {
	g := NewGatewayAuth(
		config.GatewayConfig{TokenURL: "https://gw.test/token", ClientID: "gw-client", Scope: "gateway/invoke"},
		vault.StaticSecretSource{constants.SecretGatewayClientSecret: "gw-secret"},
		logger.NewNoopLogger(),
	)
	g.tokenFunc = tokenFunc
	return g
}

func TestGatewayTokenCached(t *testing.T) {
	calls := 0
	g := newGatewayFixture(func(ctx context.Context, clientSecret string) (*oauth2.Token, error) {
		calls++
		assert.Equal(t, "gw-secret", clientSecret)
		return &oauth2.Token{AccessToken: "gw-at", Expiry: time.Now().Add(time.Hour)}, nil
	})

	for i := 0; i < 3; i++ {
		token, err := g.Token(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "gw-at", token)
	}
	assert.Equal(t, 1, calls, "token must be fetched once and cached")
}

func TestGatewayTokenNearExpiryNotCached(t *testing.T) {
	calls := 0
	g := newGatewayFixture(func(ctx context.Context, clientSecret string) (*oauth2.Token, error) {
		calls++
		return &oauth2.Token{AccessToken: "gw-at", Expiry: time.Now().Add(time.Minute)}, nil
	})

	_, err := g.Token(context.Background())
	require.NoError(t, err)
	_, err = g.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, calls, "tokens inside the refresh buffer must not be cached")
}

func TestGatewayTokenExpiryFromJWT(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp": exp.Unix(),
	}).SignedString([]byte("irrelevant"))
	require.NoError(t, err)

	calls := 0
	g := newGatewayFixture(func(ctx context.Context, clientSecret string) (*oauth2.Token, error) {
		calls++
		// No Expiry set: the manager must fall back to the exp claim.
		return &oauth2.Token{AccessToken: signed}, nil
	})

	token, err := g.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, signed, token)

	_, err = g.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestGatewayInvalidate(t *testing.T) {
	calls := 0
	g := newGatewayFixture(func(ctx context.Context, clientSecret string) (*oauth2.Token, error) {
		calls++
		return &oauth2.Token{AccessToken: "gw-at", Expiry: time.Now().Add(time.Hour)}, nil
	})

	_, err := g.Token(context.Background())
	require.NoError(t, err)
	g.Invalidate()
	_, err = g.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestGatewayMissingSecret(t *testing.T) {
	g := NewGatewayAuth(
		config.GatewayConfig{TokenURL: "https://gw.test/token", ClientID: "gw-client"},
		vault.StaticSecretSource{},
		logger.NewNoopLogger(),
	)
	_, err := g.Token(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not configured")
}
