package config

import (
	"fmt"
	"time"
)

// Config holds the application's configuration. Secret values never appear
// here; config carries the names under which secrets are stored, and the
// values are fetched from the secret store at startup.
type Config struct {
	Server    ServerConfig              `mapstructure:"server"`
	Redis     RedisConfig               `mapstructure:"redis"`
	Vault     VaultConfig               `mapstructure:"vault"`
	Portal    PortalConfig              `mapstructure:"portal"`
	Providers map[string]ProviderConfig `mapstructure:"providers"`
	Gateway   GatewayConfig             `mapstructure:"gateway"`
	Chat      ChatConfig                `mapstructure:"chat"`
	Audit     AuditConfig               `mapstructure:"audit"`
	Log       LogConfig                 `mapstructure:"log"`
	Tracing   TracingConfig             `mapstructure:"tracing"`
}

type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"read_timeout"`  // in seconds
	WriteTimeout int    `mapstructure:"write_timeout"` // in seconds

	// BaseURL is the externally reachable portal URL used to build redirect
	// URIs. It must exactly match the redirect URI registered at providers.
	BaseURL string `mapstructure:"base_url"`

	PprofEnabled bool `mapstructure:"pprof_enabled"`
}

type RedisConfig struct {
	Addr         string `mapstructure:"addr"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	PoolSize     int    `mapstructure:"pool_size"`
	MinIdleConns int    `mapstructure:"min_idle_conns"`
}

type VaultConfig struct {
	Address string `mapstructure:"address"`
	Token   string `mapstructure:"token"`

	// SecretPath is the KV v2 path holding the static secret bundle
	// (OAuth client credentials, signing secret, bot token).
	SecretPath string `mapstructure:"secret_path"`

	// TransitKey is the transit engine key used for envelope encryption of
	// provider refresh and access tokens.
	TransitKey string `mapstructure:"transit_key"`
}

type PortalConfig struct {
	HandoffTTL time.Duration `mapstructure:"handoff_ttl"`
	NonceTTL   time.Duration `mapstructure:"nonce_ttl"`
	MarkerTTL  time.Duration `mapstructure:"marker_ttl"`
}

// ProviderConfig describes one OAuth provider the portal can connect.
type ProviderConfig struct {
	DisplayName string `mapstructure:"display_name"`

	// ClientIDSecret and ClientSecretSecret name the entries in the static
	// secret bundle holding the OAuth client credentials.
	ClientIDSecret     string `mapstructure:"client_id_secret"`
	ClientSecretSecret string `mapstructure:"client_secret_secret"`

	AuthorizeURL string `mapstructure:"authorize_url"`
	TokenURL     string `mapstructure:"token_url"`

	// ResourcesURL is the accessible-resources endpoint used to discover the
	// provider-side account/site identifier after the code exchange.
	ResourcesURL string `mapstructure:"resources_url"`

	Audience string `mapstructure:"audience"`
	Scopes   string `mapstructure:"scopes"`
}

type GatewayConfig struct {
	TokenURL string `mapstructure:"token_url"`
	ClientID string `mapstructure:"client_id"`
	Scope    string `mapstructure:"scope"`
}

type ChatConfig struct {
	APIBaseURL string `mapstructure:"api_base_url"`
	BotName    string `mapstructure:"bot_name"`
}

type AuditConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type TracingConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	JaegerEndpoint string `mapstructure:"jaeger_endpoint"`
	ServiceName    string `mapstructure:"service_name"`
}

// Validate checks for essential configuration values.
func (c *Config) Validate() error {
	if c.Server.BaseURL == "" {
		return fmt.Errorf("server.base_url is required")
	}
	if c.Vault.Address == "" {
		return fmt.Errorf("vault.address is required")
	}
	if c.Vault.SecretPath == "" {
		return fmt.Errorf("vault.secret_path is required")
	}
	if c.Vault.TransitKey == "" {
		return fmt.Errorf("vault.transit_key is required")
	}
	if len(c.Providers) == 0 {
		return fmt.Errorf("at least one provider must be configured")
	}
	for name, p := range c.Providers {
		if p.AuthorizeURL == "" || p.TokenURL == "" {
			return fmt.Errorf("provider %q: authorize_url and token_url are required", name)
		}
		if p.ClientIDSecret == "" || p.ClientSecretSecret == "" {
			return fmt.Errorf("provider %q: client credential secret names are required", name)
		}
	}
	return nil
}
