// Package settings manages persistent user settings for the mactrace CLI.
package settings

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// Settings holds persistent user preferences
type Settings struct {
	// DefaultProfile is the credential profile used when --profile is not specified
	DefaultProfile string `json:"default_profile,omitempty"`

	// DefaultCoreAddress is offered when a MAC is missing from a non-core device
	DefaultCoreAddress string `json:"default_core_address,omitempty"`

	// CredentialFile overrides the default credential store location
	CredentialFile string `json:"credential_file,omitempty"`

	// DefaultTransport is ssh, telnet or jump
	DefaultTransport string `json:"default_transport,omitempty"`

	// LastStart is the device the previous trace started from
	LastStart string `json:"last_start,omitempty"`
}

// DefaultSettingsPath returns the default path for the settings file
func DefaultSettingsPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "mactrace_settings.json"
	}
	return filepath.Join(home, ".mactrace", "settings.json")
}

// Load reads settings from the default location
func Load() (*Settings, error) {
	return LoadFrom(DefaultSettingsPath())
}

// LoadFrom reads settings from a specific path
func LoadFrom(path string) (*Settings, error) {
	s := &Settings{}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Return empty settings if file doesn't exist
			return s, nil
		}
		return nil, err
	}

	if err := json.Unmarshal(data, s); err != nil {
		return nil, err
	}

	return s, nil
}

// Save writes settings to the default location
func (s *Settings) Save() error {
	return s.SaveTo(DefaultSettingsPath())
}

// SaveTo writes settings to a specific path
func (s *Settings) SaveTo(path string) error {
	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

// fields maps setting keys, as used by "mactrace settings set", to fields.
func (s *Settings) fields() map[string]*string {
	return map[string]*string{
		"profile":     &s.DefaultProfile,
		"core":        &s.DefaultCoreAddress,
		"credentials": &s.CredentialFile,
		"transport":   &s.DefaultTransport,
		"last_start":  &s.LastStart,
	}
}

// Keys returns the setting keys in sorted order.
func Keys() []string {
	keys := make([]string, 0, 5)
	for k := range (&Settings{}).fields() {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Get returns the value of a setting key.
func (s *Settings) Get(key string) (string, error) {
	f, ok := s.fields()[key]
	if !ok {
		return "", fmt.Errorf("unknown setting %q", key)
	}
	return *f, nil
}

// Set assigns a setting key. An empty value clears it.
func (s *Settings) Set(key, value string) error {
	f, ok := s.fields()[key]
	if !ok {
		return fmt.Errorf("unknown setting %q", key)
	}
	if key == "transport" && value != "" {
		switch value {
		case "ssh", "telnet", "jump":
		default:
			return fmt.Errorf("transport must be ssh, telnet or jump, got %q", value)
		}
	}
	*f = value
	return nil
}

// Clear resets all settings to defaults
func (s *Settings) Clear() {
	*s = Settings{}
}
