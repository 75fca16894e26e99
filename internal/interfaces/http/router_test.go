package http

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/suite"

	"github.com/relaybot/relay/internal/application/portal"
	"github.com/relaybot/relay/internal/config"
	"github.com/relaybot/relay/internal/domain/repository"
	"github.com/relaybot/relay/internal/handoff"
	"github.com/relaybot/relay/internal/infrastructure/audit"
	"github.com/relaybot/relay/internal/infrastructure/oauth"
	redisstore "github.com/relaybot/relay/internal/infrastructure/redis"
	"github.com/relaybot/relay/internal/infrastructure/vault"
	"github.com/relaybot/relay/internal/interfaces/http/handlers"
	"github.com/relaybot/relay/internal/interfaces/http/portalhtml"
	"github.com/relaybot/relay/pkg/logger"
)

type echoEncrypter struct{}

func (echoEncrypter) Encrypt(ctx context.Context, plaintext string) (string, error) {
	return "enc:" + plaintext, nil
}

func (echoEncrypter) Decrypt(ctx context.Context, ciphertext string) (string, error) {
	return strings.TrimPrefix(ciphertext, "enc:"), nil
}

type scriptedProvider struct {
	tokenResp oauth.TokenResponse
	resources []oauth.Resource
}

func (s *scriptedProvider) AuthorizeURL(clientID, redirectURI, state string) string {
	q := url.Values{}
	q.Set("client_id", clientID)
	q.Set("redirect_uri", redirectURI)
	q.Set("state", state)
	return "https://auth.test/authorize?" + q.Encode()
}

func (s *scriptedProvider) Exchange(ctx context.Context, clientID, clientSecret, code, redirectURI string) (*oauth.TokenResponse, error) {
	resp := s.tokenResp
	return &resp, nil
}

func (s *scriptedProvider) Refresh(ctx context.Context, clientID, clientSecret, refreshToken string) (*oauth.TokenResponse, error) {
	resp := s.tokenResp
	return &resp, nil
}

func (s *scriptedProvider) AccessibleResources(ctx context.Context, accessToken string) ([]oauth.Resource, error) {
	return s.resources, nil
}

type PortalHTTPSuite struct {
	suite.Suite
	mini   *miniredis.Miniredis
	store  repository.TokenStore
	codec  *handoff.Codec
	engine http.Handler
}

func (s *PortalHTTPSuite) SetupTest() {
	mini, err := miniredis.Run()
	s.Require().NoError(err)
	s.mini = mini

	client := goredis.NewClient(&goredis.Options{Addr: mini.Addr()})
	s.store = redisstore.NewTokenStore(client)
	s.codec = handoff.NewCodec("router-test-secret")

	cfg := &config.Config{
		Server: config.ServerConfig{BaseURL: "https://relay.test"},
		Portal: config.PortalConfig{
			HandoffTTL: 10 * time.Minute,
			NonceTTL:   10 * time.Minute,
			MarkerTTL:  time.Hour,
		},
		Providers: map[string]config.ProviderConfig{
			"jira": {
				DisplayName:        "Jira",
				ClientIDSecret:     "JIRA_CLIENT_ID",
				ClientSecretSecret: "JIRA_CLIENT_SECRET",
				AuthorizeURL:       "https://auth.test/authorize",
				TokenURL:           "https://auth.test/token",
				ResourcesURL:       "https://api.test/resources",
				Scopes:             "read:jira-work offline_access",
			},
		},
	}
	secrets := vault.StaticSecretSource{
		"JIRA_CLIENT_ID":     "client-1",
		"JIRA_CLIENT_SECRET": "secret-1",
	}
	provider := &scriptedProvider{
		tokenResp: oauth.TokenResponse{AccessToken: "at-1", RefreshToken: "rt-1", ExpiresIn: 3600},
		resources: []oauth.Resource{{ID: "cloud-1"}},
	}

	log := logger.NewNoopLogger()
	service := portal.NewService(
		cfg, s.store, echoEncrypter{}, secrets, s.codec,
		audit.NewNoopEmitter(), nil, log,
		map[string]oauth.ProviderClient{"jira": provider},
	)

	renderer := portalhtml.NewRenderer()
	router := NewRouter(
		cfg, log, nil, renderer,
		handlers.NewPortalHandler(service, renderer, log),
		handlers.NewHealthHandler(client),
	)
	router.SetupRoutes()
	s.engine = router.Engine()
}

func (s *PortalHTTPSuite) TearDownTest() {
	s.mini.Close()
}

func (s *PortalHTTPSuite) do(method, target string, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)
	return w
}

func (s *PortalHTTPSuite) issueToken(userID string) string {
	token, err := s.codec.Issue(handoff.Claims{
		handoff.ClaimSubject:     userID,
		handoff.ClaimDisplayName: "Ada",
	}, 10*time.Minute)
	s.Require().NoError(err)
	return token
}

// authorizeState walks the dashboard and pulls the signed state out of the
// rendered authorize link.
func (s *PortalHTTPSuite) authorizeState(token string) string {
	w := s.do(http.MethodGet, "/?token="+url.QueryEscape(token), "")
	s.Require().Equal(http.StatusOK, w.Code)

	body := w.Body.String()
	idx := strings.Index(body, "state=")
	s.Require().GreaterOrEqual(idx, 0, "dashboard should contain an authorize link with state")
	rest := body[idx+len("state="):]
	end := strings.IndexAny(rest, "\"&")
	s.Require().GreaterOrEqual(end, 0)
	// The state is raw-base64url segments joined by dots; neither URL
	// query-escaping nor template attribute-escaping alters those characters.
	return rest[:end]
}

func (s *PortalHTTPSuite) TestDashboardWithoutToken() {
	w := s.do(http.MethodGet, "/", "")
	s.Equal(http.StatusBadRequest, w.Code)
	s.Contains(w.Header().Get("Content-Type"), "text/html")
	s.Contains(w.Body.String(), "missing authentication token")
	s.NotContains(w.Body.String(), "goroutine")
}

func (s *PortalHTTPSuite) TestDashboardWithInvalidToken() {
	w := s.do(http.MethodGet, "/?token=garbage", "")
	s.Equal(http.StatusUnauthorized, w.Code)
	s.Contains(w.Body.String(), "invalid or expired")
}

func (s *PortalHTTPSuite) TestCallbackReplayedNonce() {
	state := s.authorizeState(s.issueToken("U1"))

	first := s.do(http.MethodGet, "/callback/jira?code=c1&state="+url.QueryEscape(state), "")
	s.Equal(http.StatusFound, first.Code)

	replay := s.do(http.MethodGet, "/callback/jira?code=c2&state="+url.QueryEscape(state), "")
	s.Equal(http.StatusBadRequest, replay.Code)
	s.Contains(replay.Body.String(), "invalid or expired nonce")
}

func (s *PortalHTTPSuite) TestFullConnectFlow() {
	token := s.issueToken("U1")
	state := s.authorizeState(token)

	claims, err := s.codec.Validate(state)
	s.Require().NoError(err)
	s.Equal("U1", claims.Subject())

	w := s.do(http.MethodGet, "/callback/jira?code=c1&state="+url.QueryEscape(state), "")
	s.Require().Equal(http.StatusFound, w.Code)

	location, err := url.Parse(w.Header().Get("Location"))
	s.Require().NoError(err)
	s.Equal("jira", location.Query().Get("just_connected"))
	freshToken := location.Query().Get("token")
	s.Require().NotEmpty(freshToken)

	record, err := s.store.GetRecord(context.Background(), "U1", "jira")
	s.Require().NoError(err)
	s.Require().NotNil(record)
	s.Equal("enc:rt-1", record.EncryptedRefreshToken)

	dash := s.do(http.MethodGet, "/?token="+url.QueryEscape(freshToken)+"&just_connected=jira", "")
	s.Equal(http.StatusOK, dash.Code)
	s.Contains(dash.Body.String(), "Connected")
	s.Contains(dash.Body.String(), "successfully connected")
}

func (s *PortalHTTPSuite) TestRevokeWithFormBody() {
	state := s.authorizeState(s.issueToken("U1"))
	w := s.do(http.MethodGet, "/callback/jira?code=c1&state="+url.QueryEscape(state), "")
	s.Require().Equal(http.StatusFound, w.Code)

	token := s.issueToken("U1")
	revoke := s.do(http.MethodPost, "/revoke/jira", "token="+url.QueryEscape(token))
	s.Equal(http.StatusFound, revoke.Code)

	record, err := s.store.GetRecord(context.Background(), "U1", "jira")
	s.Require().NoError(err)
	s.Nil(record)
}

func (s *PortalHTTPSuite) TestRevokeWithBase64Body() {
	state := s.authorizeState(s.issueToken("U2"))
	w := s.do(http.MethodGet, "/callback/jira?code=c1&state="+url.QueryEscape(state), "")
	s.Require().Equal(http.StatusFound, w.Code)

	token := s.issueToken("U2")
	body := base64.StdEncoding.EncodeToString([]byte("token=" + url.QueryEscape(token)))
	revoke := s.do(http.MethodPost, "/revoke/jira", body)
	s.Equal(http.StatusFound, revoke.Code)

	record, err := s.store.GetRecord(context.Background(), "U2", "jira")
	s.Require().NoError(err)
	s.Nil(record)
}

func (s *PortalHTTPSuite) TestRevokeWithoutToken() {
	w := s.do(http.MethodPost, "/revoke/jira", "")
	s.Equal(http.StatusBadRequest, w.Code)
}

func (s *PortalHTTPSuite) TestUnknownRoute() {
	w := s.do(http.MethodGet, "/nope", "")
	s.Equal(http.StatusNotFound, w.Code)
	s.Contains(w.Header().Get("Content-Type"), "text/html")
}

func (s *PortalHTTPSuite) TestHealthEndpoints() {
	s.Equal(http.StatusOK, s.do(http.MethodGet, "/health/live", "").Code)
	s.Equal(http.StatusOK, s.do(http.MethodGet, "/health/ready", "").Code)
}

func TestPortalHTTPSuite(t *testing.T) {
	suite.Run(t, new(PortalHTTPSuite))
}
