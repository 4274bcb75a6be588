// Package settings manages persistent user settings for the fabtopo CLI.
package settings

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/lwfabric/fabtopo/pkg/spec"
)

// Settings holds persistent user preferences. Command-line flags override
// every field.
type Settings struct {
	// SpecFile is the fabric specification used when --spec is not given
	SpecFile string `json:"spec_file,omitempty"`

	// FabricFile selects the simulated catalog instead of STATE_DB
	FabricFile string `json:"fabric_file,omitempty"`

	// RedisAddr is the STATE_DB server
	RedisAddr string `json:"redis_addr,omitempty"`

	// SSHHost, SSHUser and SSHKeyFile reach Redis through a tunnel
	SSHHost    string `json:"ssh_host,omitempty"`
	SSHUser    string `json:"ssh_user,omitempty"`
	SSHKeyFile string `json:"ssh_key_file,omitempty"`

	MatchPolicy spec.MatchPolicy `json:"match_policy,omitempty"`

	// Granularity is the aperture size in bytes; 0 uses the spec's
	Granularity uint64 `json:"granularity,omitempty"`

	LogLevel string `json:"log_level,omitempty"`
}

// DefaultSettingsPath returns the default path for the settings file
func DefaultSettingsPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "fabtopo_settings.json"
	}
	return filepath.Join(home, ".fabtopo", "settings.json")
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
			return s, nil
		}
		return nil, err
	}

	if err := json.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	return s, nil
}

// Save writes settings to the default location
func (s *Settings) Save() error {
	return s.SaveTo(DefaultSettingsPath())
}

// SaveTo writes settings to a specific path
func (s *Settings) SaveTo(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// GetSpecFile returns the spec file (with fallback)
func (s *Settings) GetSpecFile() string {
	if s.SpecFile != "" {
		return s.SpecFile
	}
	return spec.DefaultSpecFile
}

// GetRedisAddr returns the STATE_DB address (with fallback)
func (s *Settings) GetRedisAddr() string {
	if s.RedisAddr != "" {
		return s.RedisAddr
	}
	return "127.0.0.1:6379"
}

// Keys lists the names accepted by Set.
func Keys() []string {
	keys := make([]string, 0, len(setters))
	for k := range setters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

var setters = map[string]func(s *Settings, v string) error{
	"spec_file":    func(s *Settings, v string) error { s.SpecFile = v; return nil },
	"fabric_file":  func(s *Settings, v string) error { s.FabricFile = v; return nil },
	"redis_addr":   func(s *Settings, v string) error { s.RedisAddr = v; return nil },
	"ssh_host":     func(s *Settings, v string) error { s.SSHHost = v; return nil },
	"ssh_user":     func(s *Settings, v string) error { s.SSHUser = v; return nil },
	"ssh_key_file": func(s *Settings, v string) error { s.SSHKeyFile = v; return nil },
	"log_level":    func(s *Settings, v string) error { s.LogLevel = v; return nil },
	"match_policy": func(s *Settings, v string) error {
		if v == "" {
			s.MatchPolicy = ""
			return nil
		}
		p, err := spec.ParseMatchPolicy(v)
		if err != nil {
			return err
		}
		s.MatchPolicy = p
		return nil
	},
	"granularity": func(s *Settings, v string) error {
		if v == "" {
			s.Granularity = 0
			return nil
		}
		n, err := strconv.ParseUint(v, 0, 64)
		if err != nil {
			return fmt.Errorf("invalid granularity '%s'", v)
		}
		if err := spec.CheckGranularity(n); err != nil {
			return err
		}
		s.Granularity = n
		return nil
	},
}

// Set assigns one setting by name. An empty value clears it.
func (s *Settings) Set(key, value string) error {
	set, ok := setters[key]
	if !ok {
		return fmt.Errorf("unknown setting '%s'", key)
	}
	return set(s, value)
}

// Clear resets all settings to defaults
func (s *Settings) Clear() {
	*s = Settings{}
}
