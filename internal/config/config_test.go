package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("ENVIRONMENT", "")
	t.Setenv("STORE_BACKEND", "")
	t.Setenv("TABLE_PREFIX", "")

	cfg := Load()
	if cfg.Environment != "dev" || cfg.TablePrefix != "dev_" {
		t.Errorf("env = %q prefix = %q", cfg.Environment, cfg.TablePrefix)
	}
	if cfg.StoreBackend != "memory" {
		t.Errorf("StoreBackend = %q, want memory", cfg.StoreBackend)
	}
	if cfg.PreviewDebounce != 250*time.Millisecond {
		t.Errorf("PreviewDebounce = %v", cfg.PreviewDebounce)
	}
	if !cfg.Debug {
		t.Error("Debug should default to true outside prod")
	}
}

func TestGetEnvDuration(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  time.Duration
	}{
		{name: "go duration", value: "2s", want: 2 * time.Second},
		{name: "milliseconds", value: "150", want: 150 * time.Millisecond},
		{name: "zero disables", value: "0", want: 0},
		{name: "garbage falls back", value: "soon", want: time.Minute},
		{name: "unset falls back", value: "", want: time.Minute},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("TEST_DURATION", tt.value)
			if got := getEnvDuration("TEST_DURATION", time.Minute); got != tt.want {
				t.Errorf("getEnvDuration(%q) = %v, want %v", tt.value, got, tt.want)
			}
		})
	}
}

func TestGetTablePrefix(t *testing.T) {
	t.Setenv("TABLE_PREFIX", "")
	if got := getTablePrefix("prod"); got != "prod_" {
		t.Errorf("prod prefix = %q", got)
	}
	t.Setenv("TABLE_PREFIX", "custom_")
	if got := getTablePrefix("prod"); got != "custom_" {
		t.Errorf("override prefix = %q", got)
	}
}
