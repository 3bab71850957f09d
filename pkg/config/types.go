package config

import (
	"fmt"
	"strconv"
)

// Config represents the persistent gatewayz configuration stored as
// config.toml in the .gatewayz/ directory. The TOML layout uses
// sections for logical grouping.
type Config struct {
	Version  int            `toml:"version"`
	Gateway  GatewayConfig  `toml:"gateway"`
	Chat     ChatConfig     `toml:"chat"`
	Timeouts TimeoutsConfig `toml:"timeouts"`
	Retry    RetryConfig    `toml:"retry"`
}

// GatewayConfig holds connection settings for the inference gateway.
type GatewayConfig struct {
	BaseURL string `toml:"base_url,omitempty"`
}

// ChatConfig holds settings for interactive chat sessions.
// The bool fields deliberately omit omitempty so an explicit false
// survives a save/load round trip.
type ChatConfig struct {
	Model         string `toml:"model,omitempty"`
	SystemPrompt  string `toml:"system_prompt,omitempty"`
	ShowReasoning bool   `toml:"show_reasoning"`
	Markdown      bool   `toml:"markdown"`
}

// TimeoutsConfig holds the adaptive timeout tuning. Bases and the cap
// are in seconds; multipliers apply when the matching environment
// signal is observed at request start.
type TimeoutsConfig struct {
	FirstChunkSeconds     uint    `toml:"first_chunk_seconds,omitempty"`
	InterChunkSeconds     uint    `toml:"inter_chunk_seconds,omitempty"`
	TotalSeconds          uint    `toml:"total_seconds,omitempty"`
	MaxSeconds            uint    `toml:"max_seconds,omitempty"`
	MobileMultiplier      float64 `toml:"mobile_multiplier,omitempty"`
	SlowNetworkMultiplier float64 `toml:"slow_network_multiplier,omitempty"`
	HiddenMultiplier      float64 `toml:"hidden_multiplier,omitempty"`
}

// RetryConfig holds connect-phase retry settings.
type RetryConfig struct {
	// MaxRetries bounds reconnect attempts after retryable gateway
	// errors. Negative disables retries.
	MaxRetries int `toml:"max_retries,omitempty"`
	BackoffMs  int `toml:"backoff_ms,omitempty"`
}

// configKeyInfo maps a user-facing dotted key name to a getter and setter on *Config.
type configKeyInfo struct {
	get func(c *Config) string
	set func(c *Config, v string) error
}

// configKeys is the authoritative map of all supported config keys.
// Keys use dotted notation matching the TOML section structure.
var configKeys = map[string]configKeyInfo{
	"gateway.base_url": {
		get: func(c *Config) string { return c.Gateway.BaseURL },
		set: func(c *Config, v string) error { c.Gateway.BaseURL = v; return nil },
	},
	"chat.model": {
		get: func(c *Config) string { return c.Chat.Model },
		set: func(c *Config, v string) error { c.Chat.Model = v; return nil },
	},
	"chat.system_prompt": {
		get: func(c *Config) string { return c.Chat.SystemPrompt },
		set: func(c *Config, v string) error { c.Chat.SystemPrompt = v; return nil },
	},
	"chat.show_reasoning": {
		get: func(c *Config) string { return strconv.FormatBool(c.Chat.ShowReasoning) },
		set: func(c *Config, v string) error {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("invalid value for chat.show_reasoning: %w", err)
			}
			c.Chat.ShowReasoning = b
			return nil
		},
	},
	"chat.markdown": {
		get: func(c *Config) string { return strconv.FormatBool(c.Chat.Markdown) },
		set: func(c *Config, v string) error {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("invalid value for chat.markdown: %w", err)
			}
			c.Chat.Markdown = b
			return nil
		},
	},
	"timeouts.first_chunk_seconds": {
		get: func(c *Config) string { return formatUint(c.Timeouts.FirstChunkSeconds) },
		set: func(c *Config, v string) error {
			n, err := parseUintValue("timeouts.first_chunk_seconds", v)
			if err != nil {
				return err
			}
			c.Timeouts.FirstChunkSeconds = n
			return nil
		},
	},
	"timeouts.inter_chunk_seconds": {
		get: func(c *Config) string { return formatUint(c.Timeouts.InterChunkSeconds) },
		set: func(c *Config, v string) error {
			n, err := parseUintValue("timeouts.inter_chunk_seconds", v)
			if err != nil {
				return err
			}
			c.Timeouts.InterChunkSeconds = n
			return nil
		},
	},
	"timeouts.total_seconds": {
		get: func(c *Config) string { return formatUint(c.Timeouts.TotalSeconds) },
		set: func(c *Config, v string) error {
			n, err := parseUintValue("timeouts.total_seconds", v)
			if err != nil {
				return err
			}
			c.Timeouts.TotalSeconds = n
			return nil
		},
	},
	"timeouts.max_seconds": {
		get: func(c *Config) string { return formatUint(c.Timeouts.MaxSeconds) },
		set: func(c *Config, v string) error {
			n, err := parseUintValue("timeouts.max_seconds", v)
			if err != nil {
				return err
			}
			c.Timeouts.MaxSeconds = n
			return nil
		},
	},
	"timeouts.mobile_multiplier": {
		get: func(c *Config) string { return formatFloat(c.Timeouts.MobileMultiplier) },
		set: func(c *Config, v string) error {
			f, err := parseFloatValue("timeouts.mobile_multiplier", v)
			if err != nil {
				return err
			}
			c.Timeouts.MobileMultiplier = f
			return nil
		},
	},
	"timeouts.slow_network_multiplier": {
		get: func(c *Config) string { return formatFloat(c.Timeouts.SlowNetworkMultiplier) },
		set: func(c *Config, v string) error {
			f, err := parseFloatValue("timeouts.slow_network_multiplier", v)
			if err != nil {
				return err
			}
			c.Timeouts.SlowNetworkMultiplier = f
			return nil
		},
	},
	"timeouts.hidden_multiplier": {
		get: func(c *Config) string { return formatFloat(c.Timeouts.HiddenMultiplier) },
		set: func(c *Config, v string) error {
			f, err := parseFloatValue("timeouts.hidden_multiplier", v)
			if err != nil {
				return err
			}
			c.Timeouts.HiddenMultiplier = f
			return nil
		},
	},
	"retry.max_retries": {
		get: func(c *Config) string { return strconv.Itoa(c.Retry.MaxRetries) },
		set: func(c *Config, v string) error {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("invalid value for retry.max_retries: %w", err)
			}
			c.Retry.MaxRetries = n
			return nil
		},
	},
	"retry.backoff_ms": {
		get: func(c *Config) string { return strconv.Itoa(c.Retry.BackoffMs) },
		set: func(c *Config, v string) error {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("invalid value for retry.backoff_ms: %w", err)
			}
			c.Retry.BackoffMs = n
			return nil
		},
	},
}

func formatUint(n uint) string {
	if n == 0 {
		return ""
	}
	return strconv.FormatUint(uint64(n), 10)
}

func parseUintValue(key, v string) (uint, error) {
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %w", key, err)
	}
	return uint(n), nil
}

func formatFloat(f float64) string {
	if f == 0 {
		return ""
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}

func parseFloatValue(key, v string) (float64, error) {
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %w", key, err)
	}
	return f, nil
}
