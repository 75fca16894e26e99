package vault

import (
	"context"
	"fmt"
	"sync"

	vault "github.com/hashicorp/vault/api"
	"golang.org/x/sync/singleflight"

	"github.com/relaybot/relay/internal/config"
	"github.com/relaybot/relay/pkg/logger"
)

// SecretSource exposes the static secret bundle: OAuth client credentials,
// the portal signing secret, and the chat bot token.
type SecretSource interface {
	// GetSecrets returns the bundle as a flat string map. The first
	// successful read is cached for the process lifetime; secrets are
	// immutable without a redeploy.
	GetSecrets(ctx context.Context) (map[string]string, error)
}

type kvSecretSource struct {
	client *vault.Client
	path   string
	log    logger.Logger

	mu     sync.RWMutex
	cached map[string]string
	group  singleflight.Group
}

// NewSecretSource creates a KV v2 backed secret source. Concurrent first use
// is collapsed to a single Vault read.
func NewSecretSource(client *vault.Client, cfg *config.VaultConfig, log logger.Logger) SecretSource {
	return &kvSecretSource{
		client: client,
		path:   cfg.SecretPath,
		log:    log.WithComponent("secrets"),
	}
}

func (s *kvSecretSource) GetSecrets(ctx context.Context) (map[string]string, error) {
	s.mu.RLock()
	cached := s.cached
	s.mu.RUnlock()
	if cached != nil {
		return cached, nil
	}

	result, err, _ := s.group.Do("secrets", func() (interface{}, error) {
		secret, err := s.client.KVv2("secret").Get(ctx, s.path)
		if err != nil {
			return nil, fmt.Errorf("read secret bundle: %w", err)
		}
		if secret == nil || secret.Data == nil {
			return nil, fmt.Errorf("secret bundle not found at %s", s.path)
		}

		bundle := make(map[string]string, len(secret.Data))
		for k, v := range secret.Data {
			if str, ok := v.(string); ok {
				bundle[k] = str
			}
		}

		s.mu.Lock()
		s.cached = bundle
		s.mu.Unlock()

		s.log.Info(ctx, "secret bundle loaded", logger.Fields{"keys": len(bundle)})
		return bundle, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(map[string]string), nil
}

// StaticSecretSource is a fixed in-memory bundle. Used in tests.
type StaticSecretSource map[string]string

// GetSecrets returns the fixed bundle.
func (s StaticSecretSource) GetSecrets(ctx context.Context) (map[string]string, error) {
	return s, nil
}
