package credentials

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/Alpaca-Network/gatewayz-frontend-sub017/pkg/dotdir"
)

const (
	credentialsFile = "credentials.toml"

	currentVersion = 0
)

// EnvAPIKey is the environment variable consulted before the stored
// credential. It makes ephemeral keys possible in CI and scripts
// without touching the credentials file.
const EnvAPIKey = "GATEWAYZ_API_KEY"

// Manager manages reading and writing credentials.toml in the
// .gatewayz/ directory.
type Manager struct {
	ddm        *dotdir.Manager
	targetPath string
}

// NewManager creates a new credentials Manager. If override is
// non-empty it is used as the .gatewayz/ directory; otherwise the
// standard dotdir resolution applies.
func NewManager(override string) (*Manager, error) {
	mgr := &Manager{}
	mgr.ddm = dotdir.NewManager()

	target, err := mgr.ddm.Target(override)
	if err != nil {
		return nil, err
	}

	mgr.targetPath = filepath.Join(target, credentialsFile)

	return mgr, nil
}

// Load reads credentials.toml from the target directory.
// Returns an empty Credentials if the file does not exist.
func (m *Manager) Load() (*Credentials, error) {
	data, err := os.ReadFile(m.targetPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Credentials{Version: currentVersion}, nil
		}
		return nil, fmt.Errorf("reading credentials: %w", err)
	}

	creds := &Credentials{}
	if err := toml.Unmarshal(data, creds); err != nil {
		return nil, fmt.Errorf("parsing credentials: %w", err)
	}

	return creds, nil
}

// Save writes credentials to credentials.toml with 0600 permissions.
func (m *Manager) Save(creds *Credentials) error {
	if creds == nil {
		return errors.New("cannot save nil credentials")
	}

	var buf bytes.Buffer
	encoder := toml.NewEncoder(&buf)
	if err := encoder.Encode(creds); err != nil {
		return fmt.Errorf("encoding credentials: %w", err)
	}

	if err := os.WriteFile(m.targetPath, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("writing credentials: %w", err)
	}

	return nil
}

// SetKey stores the gateway API key.
func (m *Manager) SetKey(key string) error {
	creds, err := m.Load()
	if err != nil {
		return err
	}

	creds.Gateway.APIKey = key

	return m.Save(creds)
}

// GetKey returns the stored gateway API key.
// Returns an empty string if no key is stored.
func (m *Manager) GetKey() (string, error) {
	creds, err := m.Load()
	if err != nil {
		return "", err
	}

	return creds.Gateway.APIKey, nil
}

// ResolveKey returns the gateway API key, preferring the EnvAPIKey
// environment variable over the stored credential.
func (m *Manager) ResolveKey() (string, error) {
	if key := os.Getenv(EnvAPIKey); key != "" {
		return key, nil
	}

	return m.GetKey()
}

// RemoveKey deletes the stored gateway credential.
func (m *Manager) RemoveKey() error {
	creds, err := m.Load()
	if err != nil {
		return err
	}

	creds.Gateway = GatewayCredential{}

	return m.Save(creds)
}

// GetTarget returns the resolved path to the credentials file.
func (m *Manager) GetTarget() string {
	return m.targetPath
}
