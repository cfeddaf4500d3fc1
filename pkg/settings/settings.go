// Package settings manages persistent user settings for the eapitest CLI.
package settings

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/newtron-network/eapitest/pkg/util"
)

// DefaultConcurrency is the number of devices checked in parallel when
// nothing else is configured.
const DefaultConcurrency = 8

// Settings holds persistent user preferences
type Settings struct {
	// Inventory is the inventory file used when --inventory is not given
	Inventory string `json:"inventory,omitempty"`

	// Catalog is the check catalog used when --catalog is not given
	Catalog string `json:"catalog,omitempty"`

	// ReportDir is where run writes report.md and junit.xml
	ReportDir string `json:"report_dir,omitempty"`

	// Concurrency bounds parallel device runs
	Concurrency int `json:"concurrency,omitempty"`

	// AuditLog is the JSON-lines file recording state-changing batches
	AuditLog string `json:"audit_log,omitempty"`
}

// DefaultSettingsPath returns the default path for the settings file
func DefaultSettingsPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "eapitest_settings.json"
	}
	return filepath.Join(home, ".eapitest", "settings.json")
}

// Load reads settings from the default location
func Load() (*Settings, error) {
	return LoadFrom(DefaultSettingsPath())
}

// LoadFrom reads settings from a specific path. A missing file yields
// empty settings.
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
		return nil, fmt.Errorf("%w: parsing %s: %v", util.ErrInvalidConfig, path, err)
	}

	return s, nil
}

// Save writes settings to the default location
func (s *Settings) Save() error {
	return s.SaveTo(DefaultSettingsPath())
}

// SaveTo writes settings to a specific path
func (s *Settings) SaveTo(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0o644)
}

// GetReportDir returns the report directory (with fallback)
func (s *Settings) GetReportDir() string {
	if s.ReportDir != "" {
		return s.ReportDir
	}
	return "eapitest-reports"
}

// GetConcurrency returns the device concurrency (with fallback)
func (s *Settings) GetConcurrency() int {
	if s.Concurrency > 0 {
		return s.Concurrency
	}
	return DefaultConcurrency
}

// GetAuditLog returns the audit log path (with fallback)
func (s *Settings) GetAuditLog() string {
	if s.AuditLog != "" {
		return s.AuditLog
	}
	return filepath.Join(filepath.Dir(DefaultSettingsPath()), "audit.log")
}

// setters maps the keys accepted by Set to their field updates.
var setters = map[string]func(s *Settings, v string) error{
	"inventory":  func(s *Settings, v string) error { s.Inventory = v; return nil },
	"catalog":    func(s *Settings, v string) error { s.Catalog = v; return nil },
	"report_dir": func(s *Settings, v string) error { s.ReportDir = v; return nil },
	"audit_log":  func(s *Settings, v string) error { s.AuditLog = v; return nil },
	"concurrency": func(s *Settings, v string) error {
		if v == "" {
			s.Concurrency = 0
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return fmt.Errorf("concurrency must be a non-negative integer, got %q", v)
		}
		s.Concurrency = n
		return nil
	},
}

// Keys returns the setting names accepted by Set, sorted.
func Keys() []string {
	keys := make([]string, 0, len(setters))
	for k := range setters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Set updates one setting by name. An empty value resets it.
func (s *Settings) Set(key, value string) error {
	fn, ok := setters[key]
	if !ok {
		return fmt.Errorf("unknown setting %q (valid: %v)", key, Keys())
	}
	return fn(s, value)
}

// Clear resets all settings to defaults
func (s *Settings) Clear() {
	*s = Settings{}
}
