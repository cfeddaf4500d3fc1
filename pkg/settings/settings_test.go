package settings

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/newtron-network/eapitest/pkg/util"
)

func TestSettings_Defaults(t *testing.T) {
	s := &Settings{}

	if got := s.GetReportDir(); got != "eapitest-reports" {
		t.Errorf("GetReportDir() default = %q", got)
	}
	if got := s.GetConcurrency(); got != DefaultConcurrency {
		t.Errorf("GetConcurrency() default = %d, want %d", got, DefaultConcurrency)
	}
	if got := s.GetAuditLog(); filepath.Base(got) != "audit.log" || filepath.Dir(got) != filepath.Dir(DefaultSettingsPath()) {
		t.Errorf("GetAuditLog() default = %q", got)
	}
	if s.Inventory != "" || s.Catalog != "" {
		t.Errorf("Inventory/Catalog should be empty, got %q/%q", s.Inventory, s.Catalog)
	}
}

func TestSettings_Set(t *testing.T) {
	s := &Settings{}

	tests := []struct {
		key, value string
		wantErr    bool
	}{
		{"inventory", "/etc/eapitest/inventory.yaml", false},
		{"catalog", "checks.yaml", false},
		{"report_dir", "/tmp/reports", false},
		{"concurrency", "4", false},
		{"audit_log", "/var/log/eapitest.log", false},
		{"concurrency", "-1", true},
		{"concurrency", "many", true},
		{"network", "x", true},
	}
	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			err := s.Set(tt.key, tt.value)
			if (err != nil) != tt.wantErr {
				t.Errorf("Set(%q, %q) error = %v, wantErr %v", tt.key, tt.value, err, tt.wantErr)
			}
		})
	}

	want := Settings{
		Inventory:   "/etc/eapitest/inventory.yaml",
		Catalog:     "checks.yaml",
		ReportDir:   "/tmp/reports",
		Concurrency: 4,
		AuditLog:    "/var/log/eapitest.log",
	}
	if !reflect.DeepEqual(*s, want) {
		t.Errorf("settings = %+v, want %+v", *s, want)
	}

	if err := s.Set("concurrency", ""); err != nil || s.Concurrency != 0 {
		t.Errorf("empty value should reset concurrency, got %d (%v)", s.Concurrency, err)
	}
}

func TestKeys(t *testing.T) {
	want := []string{"audit_log", "catalog", "concurrency", "inventory", "report_dir"}
	if got := Keys(); !reflect.DeepEqual(got, want) {
		t.Errorf("Keys() = %v, want %v", got, want)
	}
}

func TestSettings_Clear(t *testing.T) {
	s := &Settings{Inventory: "a", Catalog: "b", ReportDir: "c", Concurrency: 2}
	s.Clear()
	if *s != (Settings{}) {
		t.Errorf("Clear() should reset all fields, got %+v", *s)
	}
}

func TestSettings_SaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "settings.json")

	s := &Settings{Inventory: "inv.yaml", Concurrency: 3}
	if err := s.SaveTo(path); err != nil {
		t.Fatalf("SaveTo() error: %v", err)
	}

	loaded, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom() error: %v", err)
	}
	if *loaded != *s {
		t.Errorf("loaded = %+v, want %+v", *loaded, *s)
	}
}

func TestLoadFrom_Missing(t *testing.T) {
	s, err := LoadFrom(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatalf("LoadFrom() on missing file should not fail: %v", err)
	}
	if *s != (Settings{}) {
		t.Errorf("expected empty settings, got %+v", *s)
	}
}

func TestLoadFrom_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := LoadFrom(path)
	if !errors.Is(err, util.ErrInvalidConfig) {
		t.Errorf("LoadFrom() on invalid JSON: want ErrInvalidConfig, got %v", err)
	}
}
