package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/Alpaca-Network/gatewayz-frontend-sub017/pkg/dotdir"
	"github.com/Alpaca-Network/gatewayz-frontend-sub017/pkg/timeout"
)

// InitViper creates and returns a configured *viper.Viper.
// It sets defaults from NewDefaultConfig(), reads the config.toml file
// (if found via dotdir resolution), and binds environment variables
// with the GATEWAYZ_ prefix.
//
// Config precedence (highest to lowest):
//  1. CLI flags (once bound via BindRegisteredFlags)
//  2. Environment variables (GATEWAYZ_CHAT_MODEL, GATEWAYZ_GATEWAY_BASE_URL, etc.)
//  3. config.toml file values
//  4. Defaults from NewDefaultConfig()
func InitViper(configDir string) (*viper.Viper, error) {
	v := viper.New()

	// 1. Register all defaults from NewDefaultConfig().
	setViperDefaults(v)

	// 2. Config file discovery via dotdir resolution.
	v.SetConfigName("config")
	v.SetConfigType("toml")

	ddm := dotdir.NewManager()
	target, err := ddm.Target(configDir)
	if err != nil {
		return nil, fmt.Errorf("resolving config dir: %w", err)
	}

	if target != "" {
		v.AddConfigPath(target)
	}

	if err := v.ReadInConfig(); err != nil {
		// Config file not found errors are fine, defaults will apply.
		if !errors.As(err, &viper.ConfigFileNotFoundError{}) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	// 3. Environment variables: GATEWAYZ_CHAT_MODEL, GATEWAYZ_TIMEOUTS_TOTAL_SECONDS, etc.
	v.SetEnvPrefix("GATEWAYZ")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return v, nil
}

// TimeoutConfigFromViper builds a timeout.Config from the effective viper
// values, honoring the full flag > env > file > default precedence chain.
func TimeoutConfigFromViper(v *viper.Viper) timeout.Config {
	return timeout.Config{
		FirstChunkBase:        time.Duration(v.GetUint("timeouts.first_chunk_seconds")) * time.Second,
		InterChunkBase:        time.Duration(v.GetUint("timeouts.inter_chunk_seconds")) * time.Second,
		TotalBase:             time.Duration(v.GetUint("timeouts.total_seconds")) * time.Second,
		MobileMultiplier:      v.GetFloat64("timeouts.mobile_multiplier"),
		SlowNetworkMultiplier: v.GetFloat64("timeouts.slow_network_multiplier"),
		HiddenMultiplier:      v.GetFloat64("timeouts.hidden_multiplier"),
		Max:                   time.Duration(v.GetUint("timeouts.max_seconds")) * time.Second,
	}
}

// setViperDefaults registers defaults from NewDefaultConfig() into viper
// using dotted-key notation. This keeps defaults.go as the single source of truth.
func setViperDefaults(v *viper.Viper) {
	d := NewDefaultConfig()

	v.SetDefault("version", d.Version)

	// Gateway
	v.SetDefault("gateway.base_url", d.Gateway.BaseURL)

	// Chat
	v.SetDefault("chat.model", d.Chat.Model)
	v.SetDefault("chat.system_prompt", d.Chat.SystemPrompt)
	v.SetDefault("chat.show_reasoning", d.Chat.ShowReasoning)
	v.SetDefault("chat.markdown", d.Chat.Markdown)

	// Timeouts
	v.SetDefault("timeouts.first_chunk_seconds", d.Timeouts.FirstChunkSeconds)
	v.SetDefault("timeouts.inter_chunk_seconds", d.Timeouts.InterChunkSeconds)
	v.SetDefault("timeouts.total_seconds", d.Timeouts.TotalSeconds)
	v.SetDefault("timeouts.max_seconds", d.Timeouts.MaxSeconds)
	v.SetDefault("timeouts.mobile_multiplier", d.Timeouts.MobileMultiplier)
	v.SetDefault("timeouts.slow_network_multiplier", d.Timeouts.SlowNetworkMultiplier)
	v.SetDefault("timeouts.hidden_multiplier", d.Timeouts.HiddenMultiplier)

	// Retry
	v.SetDefault("retry.max_retries", d.Retry.MaxRetries)
	v.SetDefault("retry.backoff_ms", d.Retry.BackoffMs)
}
