package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/Alpaca-Network/gatewayz-frontend-sub017/pkg/dotdir"
)

const (
	configFile = "config.toml"

	// v0 is the alpha version of the config
	v0 = 0

	// CurrentV is the currently supported version, points to v0
	CurrentV = v0
)

type Configer struct {
	ddm        *dotdir.Manager
	targetPath string
}

func NewConfiger(override string) (*Configer, error) {
	cfger := &Configer{}

	cfger.ddm = dotdir.NewManager()
	target, err := cfger.ddm.Target(override)
	if err != nil {
		return nil, err
	}

	path := filepath.Join(target, configFile)
	_, err = os.Stat(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	// Always set targetPath so SaveConfig can create or overwrite the
	// file.
	cfger.targetPath = path

	return cfger, nil
}

// ValidConfigKeys returns the sorted list of all supported configuration key names.
func ValidConfigKeys() []string {
	keys := make([]string, 0, len(configKeys))
	for k := range configKeys {
		keys = append(keys, k)
	}

	// Return in a stable, logical order matching the TOML section layout.
	ordered := []string{
		"gateway.base_url",
		"chat.model",
		"chat.system_prompt",
		"chat.show_reasoning",
		"chat.markdown",
		"timeouts.first_chunk_seconds",
		"timeouts.inter_chunk_seconds",
		"timeouts.total_seconds",
		"timeouts.max_seconds",
		"timeouts.mobile_multiplier",
		"timeouts.slow_network_multiplier",
		"timeouts.hidden_multiplier",
		"retry.max_retries",
		"retry.backoff_ms",
	}

	// Sanity: only return keys that actually exist in the map.
	result := make([]string, 0, len(ordered))
	for _, k := range ordered {
		if _, ok := configKeys[k]; ok {
			result = append(result, k)
		}
	}

	// Append any keys in the map that we missed in the ordered list.
	seen := make(map[string]bool, len(result))
	for _, k := range result {
		seen[k] = true
	}
	for _, k := range keys {
		if !seen[k] {
			result = append(result, k)
		}
	}

	return result
}

// IsValidConfigKey returns true if the given key is a supported configuration key.
func IsValidConfigKey(key string) bool {
	_, ok := configKeys[key]
	return ok
}

func (c *Configer) GetTarget() string {
	return c.targetPath
}

// LoadConfig loads the configuration from config.toml in the target
// .gatewayz/ directory. If the file does not exist, returns
// NewDefaultConfig() so callers always receive a fully-populated Config
// with sane defaults. Fields explicitly set in the file override the
// defaults.
func (c *Configer) LoadConfig() (*Config, error) {
	if c.targetPath == "" {
		return NewDefaultConfig(), nil
	}

	data, err := os.ReadFile(c.targetPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return NewDefaultConfig(), nil
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}

	cfg, md, err := decodeConfigTOML(data)
	if err != nil {
		return nil, err
	}

	// Merge in defaults: fill in any zero-value fields from the loaded config
	applyDefaults(cfg, md)

	return cfg, nil
}

// applyDefaults fills zero-value fields in cfg with values from NewDefaultConfig().
// A false bool is indistinguishable from an absent key in the struct alone,
// so bool fields consult the TOML metadata instead.
func applyDefaults(cfg *Config, md toml.MetaData) {
	defaults := NewDefaultConfig()

	if cfg.Version == 0 {
		cfg.Version = defaults.Version
	}

	if cfg.Gateway.BaseURL == "" {
		cfg.Gateway.BaseURL = defaults.Gateway.BaseURL
	}

	if cfg.Chat.Model == "" {
		cfg.Chat.Model = defaults.Chat.Model
	}
	if !md.IsDefined("chat", "show_reasoning") {
		cfg.Chat.ShowReasoning = defaults.Chat.ShowReasoning
	}
	if !md.IsDefined("chat", "markdown") {
		cfg.Chat.Markdown = defaults.Chat.Markdown
	}

	if cfg.Timeouts.FirstChunkSeconds == 0 {
		cfg.Timeouts.FirstChunkSeconds = defaults.Timeouts.FirstChunkSeconds
	}
	if cfg.Timeouts.InterChunkSeconds == 0 {
		cfg.Timeouts.InterChunkSeconds = defaults.Timeouts.InterChunkSeconds
	}
	if cfg.Timeouts.TotalSeconds == 0 {
		cfg.Timeouts.TotalSeconds = defaults.Timeouts.TotalSeconds
	}
	if cfg.Timeouts.MaxSeconds == 0 {
		cfg.Timeouts.MaxSeconds = defaults.Timeouts.MaxSeconds
	}
	if cfg.Timeouts.MobileMultiplier == 0 {
		cfg.Timeouts.MobileMultiplier = defaults.Timeouts.MobileMultiplier
	}
	if cfg.Timeouts.SlowNetworkMultiplier == 0 {
		cfg.Timeouts.SlowNetworkMultiplier = defaults.Timeouts.SlowNetworkMultiplier
	}
	if cfg.Timeouts.HiddenMultiplier == 0 {
		cfg.Timeouts.HiddenMultiplier = defaults.Timeouts.HiddenMultiplier
	}

	if cfg.Retry.MaxRetries == 0 {
		cfg.Retry.MaxRetries = defaults.Retry.MaxRetries
	}
	if cfg.Retry.BackoffMs == 0 {
		cfg.Retry.BackoffMs = defaults.Retry.BackoffMs
	}
}

// SaveConfig persists the configuration to config.toml in the target
// .gatewayz/ directory.
func (c *Configer) SaveConfig(cfg *Config) error {
	if cfg == nil {
		return errors.New("cannot save nil config")
	}

	if c.targetPath == "" {
		return errors.New("cannot save empty target path")
	}

	var buf bytes.Buffer
	encoder := toml.NewEncoder(&buf)
	if err := encoder.Encode(cfg); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}

	if err := os.WriteFile(c.targetPath, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	return nil
}

// SetConfigValue loads the config, sets the given key to the given value, and saves it.
// Returns an error if the key is not a valid config key.
func (c *Configer) SetConfigValue(key string, value string) error {
	info, ok := configKeys[key]
	if !ok {
		return fmt.Errorf("unknown config key: %q", key)
	}

	cfg, err := c.LoadConfig()
	if err != nil {
		return err
	}

	if err := info.set(cfg, value); err != nil {
		return err
	}

	return c.SaveConfig(cfg)
}

// GetConfigValue loads the config and returns the string representation of the given key.
// Returns an error if the key is not a valid config key.
func (c *Configer) GetConfigValue(key string) (string, error) {
	info, ok := configKeys[key]
	if !ok {
		return "", fmt.Errorf("unknown config key: %q", key)
	}

	cfg, err := c.LoadConfig()
	if err != nil {
		return "", err
	}

	return info.get(cfg), nil
}

// PresetConfig returns a Config pointed at the named gateway
// environment. Supported presets: "production", "staging", "local".
// Returns an error if the preset name is not recognized.
func PresetConfig(name string) (*Config, error) {
	switch strings.ToLower(name) {
	case "production":
		cfg := NewDefaultConfig()
		cfg.Gateway.BaseURL = "https://api.gatewayz.ai"
		return cfg, nil

	case "staging":
		cfg := NewDefaultConfig()
		cfg.Gateway.BaseURL = "https://staging-api.gatewayz.ai"
		return cfg, nil

	case "local":
		cfg := NewDefaultConfig()
		cfg.Gateway.BaseURL = "http://localhost:8000"
		return cfg, nil

	default:
		return nil, fmt.Errorf("unknown preset: %q (available: production, staging, local)", name)
	}
}

// ValidPresetNames returns the list of recognized preset names.
func ValidPresetNames() []string {
	return []string{"production", "staging", "local"}
}

// ParseConfigTOML parses raw TOML bytes into a Config.
// Returns an error if the version field is present and not equal to CurrentV.
func ParseConfigTOML(data []byte) (*Config, error) {
	cfg, _, err := decodeConfigTOML(data)
	return cfg, err
}

func decodeConfigTOML(data []byte) (*Config, toml.MetaData, error) {
	cfg := &Config{}
	md, err := toml.Decode(string(data), cfg)
	if err != nil {
		return nil, md, fmt.Errorf("parsing config TOML: %w", err)
	}

	if cfg.Version != 0 && cfg.Version != CurrentV {
		return nil, md, fmt.Errorf("unsupported config version %d (expected %d)", cfg.Version, CurrentV)
	}

	return cfg, md, nil
}
