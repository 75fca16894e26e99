package vault

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	vault "github.com/hashicorp/vault/api"

	"github.com/relaybot/relay/internal/config"
	relayerrors "github.com/relaybot/relay/pkg/errors"
)

// Encrypter is the envelope encryption service protecting refresh and access
// tokens at rest. The process never sees key material, only ciphertext.
type Encrypter interface {
	Encrypt(ctx context.Context, plaintext string) (string, error)
	Decrypt(ctx context.Context, ciphertext string) (string, error)
}

type transitEncrypter struct {
	client *vault.Client
	key    string
}

// NewTransitEncrypter creates an Encrypter backed by the Vault transit
// engine with the configured key.
func NewTransitEncrypter(client *vault.Client, cfg *config.VaultConfig) Encrypter {
	return &transitEncrypter{client: client, key: cfg.TransitKey}
}

// Encrypt returns the transit ciphertext (vault:v<n>:... format) for the
// plaintext.
func (t *transitEncrypter) Encrypt(ctx context.Context, plaintext string) (string, error) {
	path := fmt.Sprintf("transit/encrypt/%s", t.key)
	secret, err := t.client.Logical().WriteWithContext(ctx, path, map[string]interface{}{
		"plaintext": base64.StdEncoding.EncodeToString([]byte(plaintext)),
	})
	if err != nil {
		return "", relayerrors.Encryption("transit encrypt").WithCause(err)
	}

	ciphertext, ok := secret.Data["ciphertext"].(string)
	if !ok || ciphertext == "" {
		return "", relayerrors.Encryption("transit encrypt: empty ciphertext")
	}
	return ciphertext, nil
}

// Decrypt reverses Encrypt. A ciphertext Vault rejects outright (malformed,
// wrong key) is a permanent failure; transport errors stay transient.
func (t *transitEncrypter) Decrypt(ctx context.Context, ciphertext string) (string, error) {
	path := fmt.Sprintf("transit/decrypt/%s", t.key)
	secret, err := t.client.Logical().WriteWithContext(ctx, path, map[string]interface{}{
		"ciphertext": ciphertext,
	})
	if err != nil {
		relayErr := relayerrors.Encryption("transit decrypt").WithCause(err)
		if respErr, ok := err.(*vault.ResponseError); ok && respErr.StatusCode == 400 {
			relayErr.Permanent()
		}
		return "", relayErr
	}

	encoded, ok := secret.Data["plaintext"].(string)
	if !ok {
		return "", relayerrors.Encryption("transit decrypt: missing plaintext")
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return "", relayerrors.Encryption("transit decrypt: decode plaintext").WithCause(err)
	}
	return string(decoded), nil
}
