package config

import (
	"time"

	"github.com/Alpaca-Network/gatewayz-frontend-sub017/pkg/timeout"
)

const (
	defaultBaseURL = "https://api.gatewayz.ai"

	defaultModel         = "openai/gpt-4o"
	defaultShowReasoning = true
	defaultMarkdown      = true

	defaultFirstChunkSeconds = 30
	defaultInterChunkSeconds = 15
	defaultTotalSeconds      = 300
	defaultMaxSeconds        = 600

	defaultMobileMultiplier      = 1.5
	defaultSlowNetworkMultiplier = 2.0
	defaultHiddenMultiplier      = 2.0

	defaultMaxRetries = 2
	defaultBackoffMs  = 1000
)

// NewDefaultConfig returns a Config with sane defaults for all fields.
// This is the single source of truth for default values.
func NewDefaultConfig() *Config {
	return &Config{
		Version: CurrentV,
		Gateway: GatewayConfig{
			BaseURL: defaultBaseURL,
		},
		Chat: ChatConfig{
			Model:         defaultModel,
			ShowReasoning: defaultShowReasoning,
			Markdown:      defaultMarkdown,
		},
		Timeouts: TimeoutsConfig{
			FirstChunkSeconds:     defaultFirstChunkSeconds,
			InterChunkSeconds:     defaultInterChunkSeconds,
			TotalSeconds:          defaultTotalSeconds,
			MaxSeconds:            defaultMaxSeconds,
			MobileMultiplier:      defaultMobileMultiplier,
			SlowNetworkMultiplier: defaultSlowNetworkMultiplier,
			HiddenMultiplier:      defaultHiddenMultiplier,
		},
		Retry: RetryConfig{
			MaxRetries: defaultMaxRetries,
			BackoffMs:  defaultBackoffMs,
		},
	}
}

// TimeoutConfig converts the stored tuning into the timeout package's
// Config.
func (c *Config) TimeoutConfig() timeout.Config {
	return timeout.Config{
		FirstChunkBase:        time.Duration(c.Timeouts.FirstChunkSeconds) * time.Second,
		InterChunkBase:        time.Duration(c.Timeouts.InterChunkSeconds) * time.Second,
		TotalBase:             time.Duration(c.Timeouts.TotalSeconds) * time.Second,
		MobileMultiplier:      c.Timeouts.MobileMultiplier,
		SlowNetworkMultiplier: c.Timeouts.SlowNetworkMultiplier,
		HiddenMultiplier:      c.Timeouts.HiddenMultiplier,
		Max:                   time.Duration(c.Timeouts.MaxSeconds) * time.Second,
	}
}

// RetryBackoff returns the configured backoff as a duration.
func (c *Config) RetryBackoff() time.Duration {
	return time.Duration(c.Retry.BackoffMs) * time.Millisecond
}
