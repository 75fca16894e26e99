package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// LoadConfig loads the configuration from file and environment variables.
func LoadConfig() (*Config, error) {
	v := viper.New()

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30)
	v.SetDefault("server.write_timeout", 60)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("portal.handoff_ttl", 10*time.Minute)
	v.SetDefault("portal.nonce_ttl", 10*time.Minute)
	v.SetDefault("portal.marker_ttl", 1*time.Hour)
	v.SetDefault("chat.api_base_url", "https://slack.com/api")
	v.SetDefault("chat.bot_name", "Relay")
	v.SetDefault("audit.topic", "relay.token-events")
	v.SetDefault("log.level", "info")
	v.SetDefault("tracing.service_name", "relay-auth")

	v.SetConfigName("relay")
	v.SetConfigType("yaml")
	v.AddConfigPath("/etc/relay/")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	v.SetEnvPrefix("RELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}
