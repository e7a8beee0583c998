package config

import (
	"testing"

	"github.com/spf13/pflag"
)

func testFlags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.String("addr", ":8090", "")
	fs.String("data-dir", "./data", "")
	fs.String("allow-origin", "*", "")
	fs.String("ui-dir", "", "")
	fs.String("log-file", "", "")
	fs.String("log-level", "info", "")
	return fs
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Addr != ":8090" {
		t.Errorf("Addr = %q, want :8090", cfg.Addr)
	}
	if cfg.DataDir != "./data" {
		t.Errorf("DataDir = %q, want ./data", cfg.DataDir)
	}
	if cfg.AllowOrigin != "*" {
		t.Errorf("AllowOrigin = %q, want *", cfg.AllowOrigin)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want info", cfg.LogLevel)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("GLYPHHUB_ADDR", ":9999")
	t.Setenv("GLYPHHUB_DATA_DIR", "/var/lib/glyphhub")
	t.Setenv("GLYPHHUB_LOG_LEVEL", "debug")

	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Addr != ":9999" {
		t.Errorf("Addr = %q, want :9999", cfg.Addr)
	}
	if cfg.DataDir != "/var/lib/glyphhub" {
		t.Errorf("DataDir = %q, want /var/lib/glyphhub", cfg.DataDir)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
	}
}

func TestLoadFlagsBeatEnv(t *testing.T) {
	t.Setenv("GLYPHHUB_ADDR", ":9999")

	fs := testFlags()
	if err := fs.Parse([]string{"--addr", ":7777"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	cfg, err := Load(fs)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Addr != ":7777" {
		t.Errorf("Addr = %q, want :7777", cfg.Addr)
	}
}

func TestLoadUnsetFlagYieldsEnv(t *testing.T) {
	t.Setenv("GLYPHHUB_ALLOW_ORIGIN", "https://studio.example.com")

	fs := testFlags()
	if err := fs.Parse(nil); err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	cfg, err := Load(fs)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.AllowOrigin != "https://studio.example.com" {
		t.Errorf("AllowOrigin = %q, want env value", cfg.AllowOrigin)
	}
}

func TestValidate(t *testing.T) {
	t.Setenv("GLYPHHUB_DATA_DIR", " ")
	fs := testFlags()
	if err := fs.Parse([]string{"--data-dir", ""}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	if _, err := Load(fs); err == nil {
		t.Fatal("Load accepted empty data-dir")
	}
}
