// Package vault provides the two Vault-backed collaborators of the token
// lifecycle: the static secret source (KV v2, read once per process) and the
// envelope encryption service (transit engine).
package vault

import (
	vault "github.com/hashicorp/vault/api"

	"github.com/relaybot/relay/internal/config"
)

// NewClient creates and configures a Vault API client.
func NewClient(cfg *config.VaultConfig) (*vault.Client, error) {
	vaultConfig := vault.DefaultConfig()
	vaultConfig.Address = cfg.Address

	client, err := vault.NewClient(vaultConfig)
	if err != nil {
		return nil, err
	}
	client.SetToken(cfg.Token)

	return client, nil
}
