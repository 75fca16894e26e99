// Package portal implements the authorization portal's application logic:
// the dashboard, the OAuth callback, and revocation. Handlers in
// internal/interfaces/http render the results; this package is
// transport-agnostic.
package portal

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/relaybot/relay/internal/config"
	"github.com/relaybot/relay/internal/domain/models"
	"github.com/relaybot/relay/internal/domain/repository"
	"github.com/relaybot/relay/internal/handoff"
	"github.com/relaybot/relay/internal/infrastructure/audit"
	"github.com/relaybot/relay/internal/infrastructure/monitoring"
	"github.com/relaybot/relay/internal/infrastructure/oauth"
	"github.com/relaybot/relay/internal/infrastructure/vault"
	relayerrors "github.com/relaybot/relay/pkg/errors"
	"github.com/relaybot/relay/pkg/logger"
)

// ClaimNonce is the state-blob claim carrying the one-time CSRF nonce id.
// The state parameter is signed with the same codec as the hand-off token,
// so a forged state fails closed on the signature check before any store
// lookup happens.
const ClaimNonce = "nonce"

// Provider bundles one configured provider with its OAuth client.
type Provider struct {
	Name   string
	Config config.ProviderConfig
	Client oauth.ProviderClient
}

// ProviderStatus is the dashboard's view of one provider connection.
type ProviderStatus struct {
	Name          string
	DisplayName   string
	Connected     bool
	JustConnected bool

	// ConnectedAt and TokenExpiresAt (Unix seconds) are set when connected
	// with a stored record; zero for a just_connected short-circuit.
	ConnectedAt    int64
	TokenExpiresAt int64

	// AuthorizeURL is set only when not connected.
	AuthorizeURL string
}

// DashboardView is everything the dashboard template needs.
type DashboardView struct {
	UserID      string
	DisplayName string

	// Token is the validated hand-off token, passed through so the revoke
	// form can embed it as a hidden field.
	Token string

	Providers []ProviderStatus
}

// Service orchestrates the portal flows against the store, the encrypter,
// and the provider OAuth endpoints.
type Service struct {
	baseURL   string
	providers map[string]*Provider
	order     []string

	store     repository.TokenStore
	encrypter vault.Encrypter
	secrets   vault.SecretSource
	codec     *handoff.Codec
	audit     audit.Emitter
	metrics   *monitoring.Metrics
	logger    logger.Logger

	handoffTTL time.Duration
	nonceTTL   time.Duration
	markerTTL  time.Duration

	now func() time.Time
}

// NewService builds the portal service from configuration. An OAuth client is
// created per configured provider unless one is supplied via clients (used by
// tests to point at stub servers).
func NewService(
	cfg *config.Config,
	store repository.TokenStore,
	encrypter vault.Encrypter,
	secrets vault.SecretSource,
	codec *handoff.Codec,
	emitter audit.Emitter,
	metrics *monitoring.Metrics,
	log logger.Logger,
	clients map[string]oauth.ProviderClient,
) *Service {
	providers := make(map[string]*Provider, len(cfg.Providers))
	order := make([]string, 0, len(cfg.Providers))
	for name, pcfg := range cfg.Providers {
		client := clients[name]
		if client == nil {
			client = oauth.NewProviderClient(pcfg, nil)
		}
		providers[name] = &Provider{Name: name, Config: pcfg, Client: client}
		order = append(order, name)
	}
	sort.Strings(order)

	return &Service{
		baseURL:    cfg.Server.BaseURL,
		providers:  providers,
		order:      order,
		store:      store,
		encrypter:  encrypter,
		secrets:    secrets,
		codec:      codec,
		audit:      emitter,
		metrics:    metrics,
		logger:     log.WithComponent("PortalService"),
		handoffTTL: cfg.Portal.HandoffTTL,
		nonceTTL:   cfg.Portal.NonceTTL,
		markerTTL:  cfg.Portal.MarkerTTL,
		now:        time.Now,
	}
}

// authenticate validates a hand-off token. A missing token is an input error
// (400); a present but invalid or expired token is an auth error (401).
func (s *Service) authenticate(token string) (handoff.Claims, error) {
	if token == "" {
		return nil, relayerrors.Input("missing authentication token")
	}
	claims, err := s.codec.Validate(token)
	if err != nil {
		return nil, relayerrors.Auth("invalid or expired authentication token").WithCause(err)
	}
	return claims, nil
}

// Dashboard authenticates the hand-off token and assembles the connection
// status for every configured provider. justConnected names a provider whose
// callback just completed in this same redirect chain; its status is trusted
// without a live verification.
func (s *Service) Dashboard(ctx context.Context, token, justConnected string) (*DashboardView, error) {
	claims, err := s.authenticate(token)
	if err != nil {
		return nil, err
	}
	userID := claims.Subject()
	displayName := claims.DisplayName()

	bundle, err := s.secrets.GetSecrets(ctx)
	if err != nil {
		return nil, relayerrors.Storage("secret store unavailable").WithCause(err)
	}

	view := &DashboardView{
		UserID:      userID,
		DisplayName: displayName,
		Token:       token,
		Providers:   make([]ProviderStatus, 0, len(s.order)),
	}

	for _, name := range s.order {
		p := s.providers[name]
		status := ProviderStatus{Name: name, DisplayName: p.Config.DisplayName}

		if name == justConnected {
			status.Connected = true
			status.JustConnected = true
		} else if record := s.verifyConnection(ctx, p, userID, bundle); record != nil {
			status.Connected = true
			status.ConnectedAt = record.CreatedAt
			status.TokenExpiresAt = record.TokenExpiresAt
		}

		if !status.Connected {
			authorizeURL, err := s.buildAuthorizeURL(ctx, p, userID, displayName, bundle)
			if err != nil {
				return nil, err
			}
			status.AuthorizeURL = authorizeURL
		}
		view.Providers = append(view.Providers, status)
	}

	return view, nil
}

// verifyConnection checks whether a stored token still works by performing a
// refresh grant, returning the record on success. A successful probe rotates
// the token, so the new refresh token is persisted before returning. Any
// failure reads as "not connected"; a permanent rejection additionally purges
// the dead record.
func (s *Service) verifyConnection(ctx context.Context, p *Provider, userID string, bundle map[string]string) *models.ProviderTokenRecord {
	record, err := s.store.GetRecord(ctx, userID, p.Name)
	if err != nil {
		s.logger.Warn(ctx, "token record lookup failed during status check", logger.Fields{
			"provider": p.Name,
			"error":    err.Error(),
		})
		return nil
	}
	if record == nil {
		return nil
	}

	refreshToken, err := s.encrypter.Decrypt(ctx, record.EncryptedRefreshToken)
	if err != nil {
		s.logger.Warn(ctx, "stored refresh token failed to decrypt", logger.Fields{
			"provider": p.Name,
			"error":    err.Error(),
		})
		return nil
	}

	start := s.now()
	tokenResp, err := p.Client.Refresh(ctx, bundle[p.Config.ClientIDSecret], bundle[p.Config.ClientSecretSecret], refreshToken)
	if s.metrics != nil {
		s.metrics.RecordExchange(p.Name, "refresh_token", s.now().Sub(start))
	}
	if err != nil {
		s.handleRefreshFailure(ctx, p.Name, userID, err)
		return nil
	}

	if err := s.persistRotation(ctx, p.Name, userID, tokenResp); err != nil {
		s.logger.Error(ctx, "failed to persist rotated refresh token", err, logger.Fields{
			"provider": p.Name,
		})
		// The rotation already happened at the provider. Reporting "not
		// connected" here invites a reconnect that repairs the record.
		return nil
	}

	record.TokenExpiresAt = tokenResp.ExpiresAt(s.now()).Unix()
	return record
}

// handleRefreshFailure applies the cleanup policy for a failed refresh grant:
// a permanent rejection means the stored token is dead at the provider, so
// the record is deleted and the user falls back to the connect path.
func (s *Service) handleRefreshFailure(ctx context.Context, provider, userID string, err error) {
	category := "transient"
	if !relayerrors.IsTransient(err) {
		category = "permanent"
	}
	if s.metrics != nil {
		s.metrics.RecordRotationError(provider, category)
	}
	s.logger.Warn(ctx, "refresh grant failed during status check", logger.Fields{
		"provider": provider,
		"category": category,
		"error":    err.Error(),
	})

	if relayerrors.IsAuthFailure(err) {
		if delErr := s.store.DeleteRecord(ctx, userID, provider); delErr != nil {
			s.logger.Error(ctx, "failed to purge dead token record", delErr, logger.Fields{
				"provider": provider,
			})
			return
		}
		s.audit.Emit(ctx, audit.Event{
			Action:   audit.ActionDeadTokenPurged,
			UserID:   userID,
			Provider: provider,
			Detail:   "refresh grant rejected by provider",
		})
	}
}

// persistRotation stores the rotated refresh token. It must complete before
// the caller treats the probe as successful; the old refresh token is already
// invalid at the provider.
func (s *Service) persistRotation(ctx context.Context, provider, userID string, tokenResp *oauth.TokenResponse) error {
	if tokenResp.RefreshToken == "" {
		return nil
	}
	encrypted, err := s.encrypter.Encrypt(ctx, tokenResp.RefreshToken)
	if err != nil {
		return err
	}
	if err := s.store.UpdateRecordFields(ctx, userID, provider, encrypted, tokenResp.ExpiresAt(s.now()).Unix()); err != nil {
		return err
	}
	if s.metrics != nil {
		s.metrics.RecordRotation(provider)
	}
	s.audit.Emit(ctx, audit.Event{
		Action:   audit.ActionRotated,
		UserID:   userID,
		Provider: provider,
	})
	return nil
}

// buildAuthorizeURL mints a one-time nonce, signs the state blob, and builds
// the provider's authorization redirect target.
func (s *Service) buildAuthorizeURL(ctx context.Context, p *Provider, userID, displayName string, bundle map[string]string) (string, error) {
	nonce := &models.AuthorizationNonce{
		ID:        uuid.NewString(),
		UserID:    userID,
		CreatedAt: s.now().Unix(),
	}
	if err := s.store.PutNonce(ctx, nonce, s.nonceTTL); err != nil {
		return "", err
	}

	state, err := s.codec.Issue(handoff.Claims{
		handoff.ClaimSubject:     userID,
		handoff.ClaimDisplayName: displayName,
		ClaimNonce:               nonce.ID,
	}, s.nonceTTL)
	if err != nil {
		return "", relayerrors.Storage("failed to sign state").WithCause(err)
	}

	clientID := bundle[p.Config.ClientIDSecret]
	if clientID == "" {
		return "", relayerrors.Storage(fmt.Sprintf("client id secret %q is not configured", p.Config.ClientIDSecret))
	}

	return p.Client.AuthorizeURL(clientID, s.redirectURI(p.Name), state), nil
}

func (s *Service) redirectURI(provider string) string {
	return s.baseURL + "/callback/" + provider
}

// Callback completes the three-legged flow: CSRF validation, code exchange,
// resource discovery, encryption, persistence, and the redirect back to the
// dashboard carrying a fresh hand-off token.
func (s *Service) Callback(ctx context.Context, providerName, code, state string) (string, error) {
	p, ok := s.providers[providerName]
	if !ok {
		return "", relayerrors.Inputf("unknown provider %q", providerName)
	}
	if code == "" || state == "" {
		return "", relayerrors.Input("missing code or state parameter")
	}

	claims, err := s.codec.Validate(state)
	if err != nil {
		return "", relayerrors.CSRF(fmt.Sprintf("invalid state parameter: %v", err))
	}
	userID := claims.Subject()
	displayName := claims.DisplayName()
	nonceID, _ := claims[ClaimNonce].(string)
	if userID == "" || nonceID == "" {
		return "", relayerrors.CSRF("state is missing required claims")
	}

	// One-time use: the nonce is deleted on lookup, before any of the
	// fallible steps below, so a replayed state can never validate twice.
	if err := s.store.ConsumeNonce(ctx, nonceID, userID); err != nil {
		return "", err
	}

	bundle, err := s.secrets.GetSecrets(ctx)
	if err != nil {
		return "", relayerrors.Storage("secret store unavailable").WithCause(err)
	}
	clientID := bundle[p.Config.ClientIDSecret]
	clientSecret := bundle[p.Config.ClientSecretSecret]
	if clientID == "" || clientSecret == "" {
		return "", relayerrors.Storage(fmt.Sprintf("client credentials for provider %q are not configured", providerName))
	}

	start := s.now()
	tokenResp, err := p.Client.Exchange(ctx, clientID, clientSecret, code, s.redirectURI(providerName))
	if s.metrics != nil {
		s.metrics.RecordExchange(providerName, "authorization_code", s.now().Sub(start))
	}
	if err != nil {
		return "", err
	}
	if tokenResp.RefreshToken == "" {
		return "", relayerrors.Upstream("provider did not issue a refresh token")
	}

	resourceID := ""
	if p.Config.ResourcesURL != "" {
		resources, err := p.Client.AccessibleResources(ctx, tokenResp.AccessToken)
		if err != nil {
			return "", err
		}
		if len(resources) == 0 {
			return "", relayerrors.Upstream("no accessible resources found for this account")
		}
		resourceID = resources[0].ID
	}

	encryptedRefresh, err := s.encrypter.Encrypt(ctx, tokenResp.RefreshToken)
	if err != nil {
		return "", relayerrors.Encryption("failed to encrypt refresh token").WithCause(err)
	}
	encryptedAccess, err := s.encrypter.Encrypt(ctx, tokenResp.AccessToken)
	if err != nil {
		return "", relayerrors.Encryption("failed to encrypt access token").WithCause(err)
	}

	record := models.NewTokenRecord(userID, providerName, encryptedRefresh, encryptedAccess, resourceID, tokenResp.ExpiresAt(s.now()))
	if err := s.store.PutRecord(ctx, record); err != nil {
		return "", err
	}

	// Best-effort: the connection already works; the marker only lets the
	// agent notice sooner.
	marker := &models.PortalSessionMarker{
		UserID:    userID,
		Status:    models.MarkerStatusCompleted,
		Provider:  providerName,
		UpdatedAt: s.now().Unix(),
	}
	if err := s.store.PutMarker(ctx, marker, s.markerTTL); err != nil {
		s.logger.Warn(ctx, "failed to write completion marker", logger.Fields{
			"provider": providerName,
			"error":    err.Error(),
		})
	}

	s.audit.Emit(ctx, audit.Event{
		Action:   audit.ActionConnected,
		UserID:   userID,
		Provider: providerName,
	})
	s.logger.Info(ctx, "provider connection completed", logger.Fields{
		"provider": providerName,
		"user_id":  userID,
	})

	return s.dashboardRedirect(userID, displayName, providerName)
}

// Revoke deletes the stored token record for (user, provider) and redirects
// back to the dashboard with a fresh hand-off token.
func (s *Service) Revoke(ctx context.Context, providerName, token string) (string, error) {
	if _, ok := s.providers[providerName]; !ok {
		return "", relayerrors.Inputf("unknown provider %q", providerName)
	}
	claims, err := s.authenticate(token)
	if err != nil {
		return "", err
	}
	userID := claims.Subject()

	if err := s.store.DeleteRecord(ctx, userID, providerName); err != nil {
		return "", err
	}

	if s.metrics != nil {
		s.metrics.RecordRevocation(providerName)
	}
	s.audit.Emit(ctx, audit.Event{
		Action:   audit.ActionRevoked,
		UserID:   userID,
		Provider: providerName,
	})
	s.logger.Info(ctx, "provider connection revoked", logger.Fields{
		"provider": providerName,
		"user_id":  userID,
	})

	return s.dashboardRedirect(userID, claims.DisplayName(), "")
}

// dashboardRedirect mints a fresh hand-off token and builds the redirect
// location back to the dashboard.
func (s *Service) dashboardRedirect(userID, displayName, justConnected string) (string, error) {
	fresh, err := s.codec.Issue(handoff.Claims{
		handoff.ClaimSubject:     userID,
		handoff.ClaimDisplayName: displayName,
	}, s.handoffTTL)
	if err != nil {
		return "", relayerrors.Storage("failed to mint hand-off token").WithCause(err)
	}

	location := "/?token=" + url.QueryEscape(fresh)
	if justConnected != "" {
		location += "&just_connected=" + url.QueryEscape(justConnected)
	}
	return location, nil
}
