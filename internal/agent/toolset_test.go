package agent

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaybot/relay/internal/config"
	"github.com/relaybot/relay/internal/domain/models"
	"github.com/relaybot/relay/internal/domain/repository"
	"github.com/relaybot/relay/internal/handoff"
	"github.com/relaybot/relay/internal/infrastructure/audit"
	"github.com/relaybot/relay/internal/infrastructure/oauth"
	redisstore "github.com/relaybot/relay/internal/infrastructure/redis"
	"github.com/relaybot/relay/internal/infrastructure/vault"
	"github.com/relaybot/relay/pkg/logger"
)

type recordingNotifier struct {
	fail     bool
	channels []string
	users    []string
	texts    []string
}

func (n *recordingNotifier) PostEphemeral(ctx context.Context, channelID, userID, text string) error {
	if n.fail {
		return errors.New("chat unavailable")
	}
	n.channels = append(n.channels, channelID)
	n.users = append(n.users, userID)
	n.texts = append(n.texts, text)
	return nil
}

func newBuilderFixture(t *testing.T) (*ToolsetBuilder, repository.TokenStore, *recordingNotifier, *handoff.Codec) {
	t.Helper()
	mini, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mini.Close)

	client := goredis.NewClient(&goredis.Options{Addr: mini.Addr()})
	store := redisstore.NewTokenStore(client)
	codec := handoff.NewCodec("builder-test-secret")

	cfg := &config.Config{
		Providers: map[string]config.ProviderConfig{
			"jira": {
				ClientIDSecret:     "JIRA_CLIENT_ID",
				ClientSecretSecret: "JIRA_CLIENT_SECRET",
				AuthorizeURL:       "https://auth.test/authorize",
				TokenURL:           "https://auth.test/token",
			},
		},
	}
	secrets := vault.StaticSecretSource{
		"JIRA_CLIENT_ID":     "client-1",
		"JIRA_CLIENT_SECRET": "secret-1",
	}
	refresher := &scriptedRefresher{
		resp: &oauth.TokenResponse{AccessToken: "at-fresh", RefreshToken: "rt-rotated", ExpiresIn: 3600},
	}
	consumer := NewConsumer(
		cfg, store, &reversibleEncrypter{}, secrets,
		audit.NewNoopEmitter(), nil, logger.NewNoopLogger(),
		map[string]oauth.ProviderClient{"jira": refresher},
	)

	notifier := &recordingNotifier{}
	builder := NewToolsetBuilder(consumer, codec, notifier, "https://relay.test", logger.NewNoopLogger())
	return builder, store, notifier, codec
}

func TestBuildWithStoredTokenEnablesWrites(t *testing.T) {
	builder, store, _, _ := newBuilderFixture(t)
	record := models.NewTokenRecord("U1", "jira", "enc:rt-stored", "", "cloud-1", time.Now().Add(time.Hour))
	require.NoError(t, store.PutRecord(context.Background(), record))

	toolset := builder.Build(context.Background(), "U1", "Ada", "C1", "jira")
	assert.True(t, toolset.WriteEnabled)
	require.NotNil(t, toolset.Access)
	assert.Equal(t, "at-fresh", toolset.Access.AccessToken)
	assert.Equal(t, ModeReadWrite, toolset.Filter.Mode())
	assert.Empty(t, toolset.Tools, "write-enabled turn must not offer the authorization capability")
}

func TestBuildWithoutTokenOffersAuthorizationOnly(t *testing.T) {
	builder, _, notifier, codec := newBuilderFixture(t)

	toolset := builder.Build(context.Background(), "U1", "Ada", "C1", "jira")
	assert.False(t, toolset.WriteEnabled)
	assert.Nil(t, toolset.Access)
	assert.Equal(t, ModeReadOnly, toolset.Filter.Mode())
	require.Len(t, toolset.Tools, 1)
	assert.Equal(t, "request_authorization", toolset.Tools[0].Name)

	result, err := toolset.Tools[0].Invoke(context.Background())
	require.NoError(t, err)
	assert.Contains(t, result, "private message")

	require.Len(t, notifier.texts, 1)
	assert.Equal(t, "C1", notifier.channels[0])
	assert.Equal(t, "U1", notifier.users[0])
	assert.Contains(t, notifier.texts[0], "https://relay.test/?token=")

	// The delivered link must carry a token the portal will accept for U1.
	link := notifier.texts[0]
	start := strings.Index(link, "token=") + len("token=")
	end := strings.IndexAny(link[start:], "|>\n")
	require.Greater(t, end, 0)
	claims, err := codec.Validate(link[start : start+end])
	require.NoError(t, err)
	assert.Equal(t, "U1", claims.Subject())
}

func TestAuthorizationToolFallsBackWhenDeliveryFails(t *testing.T) {
	builder, _, notifier, _ := newBuilderFixture(t)
	notifier.fail = true

	toolset := builder.Build(context.Background(), "U1", "Ada", "C1", "jira")
	require.Len(t, toolset.Tools, 1)

	result, err := toolset.Tools[0].Invoke(context.Background())
	require.NoError(t, err)
	assert.Contains(t, result, "https://relay.test/?token=", "link must be returned when delivery fails")
}
