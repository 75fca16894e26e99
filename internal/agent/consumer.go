// Package agent implements the chat-agent side of the token lifecycle: the
// per-turn decision of whether write-capable tools can be offered, lazy
// refresh-token rotation, and the authorization-request capability.
package agent

import (
	"context"
	"time"

	"github.com/relaybot/relay/internal/config"
	"github.com/relaybot/relay/internal/domain/models"
	"github.com/relaybot/relay/internal/domain/repository"
	"github.com/relaybot/relay/internal/infrastructure/audit"
	"github.com/relaybot/relay/internal/infrastructure/monitoring"
	"github.com/relaybot/relay/internal/infrastructure/oauth"
	"github.com/relaybot/relay/internal/infrastructure/vault"
	relayerrors "github.com/relaybot/relay/pkg/errors"
	"github.com/relaybot/relay/pkg/logger"
)

// StoredToken is the decrypted authorization state for one (user, provider).
type StoredToken struct {
	RefreshToken string
	ResourceID   string
}

// Access is a usable provider credential for the current turn.
type Access struct {
	AccessToken string
	ResourceID  string
	ExpiresAt   time.Time
}

// Consumer reads, rotates, and cleans up stored provider tokens on behalf of
// the agent. It is stateless across turns; every read hits the store because
// rotation makes cached copies stale immediately.
type Consumer struct {
	store     repository.TokenStore
	encrypter vault.Encrypter
	secrets   vault.SecretSource
	providers map[string]providerEntry
	audit     audit.Emitter
	metrics   *monitoring.Metrics
	logger    logger.Logger

	now func() time.Time
}

type providerEntry struct {
	cfg    config.ProviderConfig
	client oauth.ProviderClient
}

// NewConsumer creates the token consumer. clients overrides the per-provider
// OAuth client, used by tests.
func NewConsumer(
	cfg *config.Config,
	store repository.TokenStore,
	encrypter vault.Encrypter,
	secrets vault.SecretSource,
	emitter audit.Emitter,
	metrics *monitoring.Metrics,
	log logger.Logger,
	clients map[string]oauth.ProviderClient,
) *Consumer {
	providers := make(map[string]providerEntry, len(cfg.Providers))
	for name, pcfg := range cfg.Providers {
		client := clients[name]
		if client == nil {
			client = oauth.NewProviderClient(pcfg, nil)
		}
		providers[name] = providerEntry{cfg: pcfg, client: client}
	}
	return &Consumer{
		store:     store,
		encrypter: encrypter,
		secrets:   secrets,
		providers: providers,
		audit:     emitter,
		metrics:   metrics,
		logger:    log.WithComponent("TokenConsumer"),
		now:       time.Now,
	}
}

// LookupToken returns the decrypted stored token, or nil when the user has
// no usable connection. Store and decrypt failures are logged and read as
// absence: the turn degrades to the authorization prompt instead of an error.
func (c *Consumer) LookupToken(ctx context.Context, userID, provider string) *StoredToken {
	record, err := c.store.GetRecord(ctx, userID, provider)
	if err != nil {
		c.logger.Warn(ctx, "token lookup failed, treating as absent", logger.Fields{
			"provider": provider,
			"error":    err.Error(),
		})
		return nil
	}
	if record == nil {
		return nil
	}

	refreshToken, err := c.encrypter.Decrypt(ctx, record.EncryptedRefreshToken)
	if err != nil {
		c.logger.Warn(ctx, "stored token failed to decrypt, treating as absent", logger.Fields{
			"provider": provider,
			"error":    err.Error(),
		})
		return nil
	}

	return &StoredToken{RefreshToken: refreshToken, ResourceID: record.ResourceID}
}

// EnsureAccess exchanges the stored refresh token for a fresh access token.
// The rotated refresh token is persisted BEFORE the access token is handed
// out, so a crash mid-turn cannot strand the user with an already-invalidated
// token. Returns (nil, nil) when no usable connection exists; a permanent
// rejection additionally deletes the dead record so the next turn prompts for
// reconnection instead of retrying forever.
func (c *Consumer) EnsureAccess(ctx context.Context, userID, provider string) (*Access, error) {
	entry, ok := c.providers[provider]
	if !ok {
		return nil, relayerrors.Inputf("unknown provider %q", provider)
	}

	stored := c.LookupToken(ctx, userID, provider)
	if stored == nil {
		return nil, nil
	}

	bundle, err := c.secrets.GetSecrets(ctx)
	if err != nil {
		return nil, relayerrors.Storage("secret store unavailable").WithCause(err)
	}

	start := c.now()
	tokenResp, err := entry.client.Refresh(ctx, bundle[entry.cfg.ClientIDSecret], bundle[entry.cfg.ClientSecretSecret], stored.RefreshToken)
	if c.metrics != nil {
		c.metrics.RecordExchange(provider, "refresh_token", c.now().Sub(start))
	}
	if err != nil {
		return nil, c.handleRefreshFailure(ctx, userID, provider, err)
	}

	if tokenResp.RefreshToken != "" {
		encrypted, encErr := c.encrypter.Encrypt(ctx, tokenResp.RefreshToken)
		if encErr != nil {
			return nil, relayerrors.Encryption("failed to encrypt rotated token").WithCause(encErr)
		}
		if updErr := c.store.UpdateRecordFields(ctx, userID, provider, encrypted, tokenResp.ExpiresAt(c.now()).Unix()); updErr != nil {
			return nil, updErr
		}
		if c.metrics != nil {
			c.metrics.RecordRotation(provider)
		}
		c.audit.Emit(ctx, audit.Event{
			Action:   audit.ActionRotated,
			UserID:   userID,
			Provider: provider,
		})
	}

	return &Access{
		AccessToken: tokenResp.AccessToken,
		ResourceID:  stored.ResourceID,
		ExpiresAt:   tokenResp.ExpiresAt(c.now()),
	}, nil
}

// handleRefreshFailure deletes a record rejected permanently by the provider
// and reports the failure. Transient failures keep the record and propagate.
func (c *Consumer) handleRefreshFailure(ctx context.Context, userID, provider string, err error) error {
	category := "transient"
	if !relayerrors.IsTransient(err) {
		category = "permanent"
	}
	if c.metrics != nil {
		c.metrics.RecordRotationError(provider, category)
	}
	c.audit.Emit(ctx, audit.Event{
		Action:   audit.ActionRotationFailed,
		UserID:   userID,
		Provider: provider,
		Detail:   category,
	})

	if !relayerrors.IsAuthFailure(err) {
		return err
	}

	c.logger.Warn(ctx, "stored token rejected by provider, purging record", logger.Fields{
		"provider": provider,
		"error":    err.Error(),
	})
	if delErr := c.store.DeleteRecord(ctx, userID, provider); delErr != nil {
		c.logger.Error(ctx, "failed to purge dead token record", delErr, logger.Fields{
			"provider": provider,
		})
		return err
	}
	c.audit.Emit(ctx, audit.Event{
		Action:   audit.ActionDeadTokenPurged,
		UserID:   userID,
		Provider: provider,
		Detail:   "refresh grant rejected by provider",
	})
	return err
}

// TakeCompletion returns and clears the portal completion marker for a user,
// if one exists. The marker is observed at most once; errors are logged and
// read as "no marker".
func (c *Consumer) TakeCompletion(ctx context.Context, userID string) *models.PortalSessionMarker {
	marker, err := c.store.TakeMarker(ctx, userID)
	if err != nil {
		c.logger.Warn(ctx, "completion marker lookup failed", logger.Fields{
			"error": err.Error(),
		})
		return nil
	}
	return marker
}
