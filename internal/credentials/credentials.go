package credentials

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"relay/internal/config"
)

// Credentials holds provider API keys, kept out of the main config file
// so config.yaml can be shared or committed without leaking secrets.
type Credentials struct {
	APIKeys map[string]string `yaml:"api_keys"`
}

// Manager handles credential storage and retrieval.
type Manager struct {
	path string
}

// NewManager resolves the credentials file location. RELAY_CREDENTIALS_PATH
// overrides the default of <config dir>/credentials.yaml.
func NewManager() *Manager {
	path := os.Getenv("RELAY_CREDENTIALS_PATH")
	if path == "" {
		path = filepath.Join(config.ConfigDir(), "credentials.yaml")
	}
	return &Manager{path: path}
}

// Path returns the credentials file path.
func (m *Manager) Path() string { return m.path }

// Load reads credentials from disk. A missing file yields an empty set.
func (m *Manager) Load() (*Credentials, error) {
	data, err := os.ReadFile(m.path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Credentials{APIKeys: make(map[string]string)}, nil
		}
		return nil, fmt.Errorf("read credentials: %w", err)
	}

	var creds Credentials
	if err := yaml.Unmarshal(data, &creds); err != nil {
		return nil, fmt.Errorf("parse credentials: %w", err)
	}
	if creds.APIKeys == nil {
		creds.APIKeys = make(map[string]string)
	}
	return &creds, nil
}

// Save writes credentials to disk with user-only permissions.
func (m *Manager) Save(creds *Credentials) error {
	if err := os.MkdirAll(filepath.Dir(m.path), 0o700); err != nil {
		return fmt.Errorf("create credentials directory: %w", err)
	}
	data, err := yaml.Marshal(creds)
	if err != nil {
		return fmt.Errorf("marshal credentials: %w", err)
	}
	if err := os.WriteFile(m.path, data, 0o600); err != nil {
		return fmt.Errorf("write credentials: %w", err)
	}
	return nil
}

// Get returns the stored key for a provider, or empty.
func (c *Credentials) Get(provider string) string {
	if c.APIKeys == nil {
		return ""
	}
	return c.APIKeys[provider]
}

// Set stores the key for a provider.
func (c *Credentials) Set(provider, apiKey string) {
	if c.APIKeys == nil {
		c.APIKeys = make(map[string]string)
	}
	c.APIKeys[provider] = apiKey
}

// Configured reports whether the provider has a non-empty key.
func (c *Credentials) Configured(provider string) bool {
	return c.Get(provider) != ""
}
