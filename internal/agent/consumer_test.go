package agent

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/suite"

	"github.com/relaybot/relay/internal/config"
	"github.com/relaybot/relay/internal/domain/models"
	"github.com/relaybot/relay/internal/domain/repository"
	"github.com/relaybot/relay/internal/infrastructure/audit"
	"github.com/relaybot/relay/internal/infrastructure/oauth"
	redisstore "github.com/relaybot/relay/internal/infrastructure/redis"
	"github.com/relaybot/relay/internal/infrastructure/vault"
	relayerrors "github.com/relaybot/relay/pkg/errors"
	"github.com/relaybot/relay/pkg/logger"
)

type reversibleEncrypter struct {
	failDecrypt bool
}

func (e *reversibleEncrypter) Encrypt(ctx context.Context, plaintext string) (string, error) {
	return "enc:" + plaintext, nil
}

func (e *reversibleEncrypter) Decrypt(ctx context.Context, ciphertext string) (string, error) {
	if e.failDecrypt {
		return "", errors.New("decrypt failed")
	}
	plain, ok := strings.CutPrefix(ciphertext, "enc:")
	if !ok {
		return "", errors.New("not a ciphertext")
	}
	return plain, nil
}

type scriptedRefresher struct {
	resp  *oauth.TokenResponse
	err   error
	calls int
}

func (s *scriptedRefresher) AuthorizeURL(clientID, redirectURI, state string) string { return "" }

func (s *scriptedRefresher) Exchange(ctx context.Context, clientID, clientSecret, code, redirectURI string) (*oauth.TokenResponse, error) {
	return nil, errors.New("not used")
}

func (s *scriptedRefresher) Refresh(ctx context.Context, clientID, clientSecret, refreshToken string) (*oauth.TokenResponse, error) {
	s.calls++
	return s.resp, s.err
}

func (s *scriptedRefresher) AccessibleResources(ctx context.Context, accessToken string) ([]oauth.Resource, error) {
	return nil, nil
}

type ConsumerSuite struct {
	suite.Suite
	mini      *miniredis.Miniredis
	store     repository.TokenStore
	encrypter *reversibleEncrypter
	refresher *scriptedRefresher
	consumer  *Consumer
	ctx       context.Context
}

func (s *ConsumerSuite) SetupTest() {
	s.ctx = context.Background()
	mini, err := miniredis.Run()
	s.Require().NoError(err)
	s.mini = mini

	client := goredis.NewClient(&goredis.Options{Addr: mini.Addr()})
	s.store = redisstore.NewTokenStore(client)
	s.encrypter = &reversibleEncrypter{}
	s.refresher = &scriptedRefresher{
		resp: &oauth.TokenResponse{
			AccessToken:  "at-fresh",
			RefreshToken: "rt-rotated",
			ExpiresIn:    3600,
		},
	}

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

	s.consumer = NewConsumer(
		cfg, s.store, s.encrypter, secrets,
		audit.NewNoopEmitter(), nil, logger.NewNoopLogger(),
		map[string]oauth.ProviderClient{"jira": s.refresher},
	)
}

func (s *ConsumerSuite) TearDownTest() {
	s.mini.Close()
}

func (s *ConsumerSuite) seedRecord(userID string) {
	record := models.NewTokenRecord(userID, "jira", "enc:rt-stored", "enc:at-old", "cloud-1", time.Now().Add(time.Hour))
	s.Require().NoError(s.store.PutRecord(s.ctx, record))
}

func (s *ConsumerSuite) TestLookupTokenAbsent() {
	s.Nil(s.consumer.LookupToken(s.ctx, "U1", "jira"))
}

func (s *ConsumerSuite) TestLookupTokenPresent() {
	s.seedRecord("U1")
	stored := s.consumer.LookupToken(s.ctx, "U1", "jira")
	s.Require().NotNil(stored)
	s.Equal("rt-stored", stored.RefreshToken)
	s.Equal("cloud-1", stored.ResourceID)
}

func (s *ConsumerSuite) TestLookupTokenDecryptFailureFailsOpen() {
	s.seedRecord("U1")
	s.encrypter.failDecrypt = true
	s.Nil(s.consumer.LookupToken(s.ctx, "U1", "jira"), "decrypt failure must read as absent")
}

func (s *ConsumerSuite) TestEnsureAccessRotatesBeforeUse() {
	s.seedRecord("U1")

	access, err := s.consumer.EnsureAccess(s.ctx, "U1", "jira")
	s.Require().NoError(err)
	s.Require().NotNil(access)
	s.Equal("at-fresh", access.AccessToken)
	s.Equal("cloud-1", access.ResourceID)

	record, err := s.store.GetRecord(s.ctx, "U1", "jira")
	s.Require().NoError(err)
	s.Equal("enc:rt-rotated", record.EncryptedRefreshToken, "rotated token must be persisted")
}

func (s *ConsumerSuite) TestEnsureAccessAbsent() {
	access, err := s.consumer.EnsureAccess(s.ctx, "U1", "jira")
	s.NoError(err)
	s.Nil(access)
	s.Zero(s.refresher.calls)
}

func (s *ConsumerSuite) TestEnsureAccessPermanentFailurePurges() {
	s.seedRecord("U1")
	s.refresher.resp = nil
	s.refresher.err = relayerrors.Upstream("invalid_grant").Permanent()

	access, err := s.consumer.EnsureAccess(s.ctx, "U1", "jira")
	s.Nil(access)
	s.Require().Error(err)

	record, getErr := s.store.GetRecord(s.ctx, "U1", "jira")
	s.Require().NoError(getErr)
	s.Nil(record, "dead token record should be deleted")
}

func (s *ConsumerSuite) TestEnsureAccessTransientFailureKeepsRecord() {
	s.seedRecord("U1")
	s.refresher.resp = nil
	s.refresher.err = relayerrors.Upstream("connection reset")

	access, err := s.consumer.EnsureAccess(s.ctx, "U1", "jira")
	s.Nil(access)
	s.Require().Error(err)

	record, getErr := s.store.GetRecord(s.ctx, "U1", "jira")
	s.Require().NoError(getErr)
	s.NotNil(record)
}

func (s *ConsumerSuite) TestEnsureAccessNoRotationWithoutNewToken() {
	s.seedRecord("U1")
	s.refresher.resp = &oauth.TokenResponse{AccessToken: "at-fresh", ExpiresIn: 3600}

	access, err := s.consumer.EnsureAccess(s.ctx, "U1", "jira")
	s.Require().NoError(err)
	s.Require().NotNil(access)

	record, getErr := s.store.GetRecord(s.ctx, "U1", "jira")
	s.Require().NoError(getErr)
	s.Equal("enc:rt-stored", record.EncryptedRefreshToken)
}

func (s *ConsumerSuite) TestTakeCompletionOnce() {
	marker := &models.PortalSessionMarker{
		UserID:    "U1",
		Status:    models.MarkerStatusCompleted,
		Provider:  "jira",
		UpdatedAt: time.Now().Unix(),
	}
	s.Require().NoError(s.store.PutMarker(s.ctx, marker, time.Hour))

	first := s.consumer.TakeCompletion(s.ctx, "U1")
	s.Require().NotNil(first)
	s.Equal("jira", first.Provider)

	s.Nil(s.consumer.TakeCompletion(s.ctx, "U1"), "marker is observed at most once")
}

func TestConsumerSuite(t *testing.T) {
	suite.Run(t, new(ConsumerSuite))
}
