package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultValidates(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	perms, ok := cfg.RolePermissions("Santa")
	if !ok || len(perms) == 0 {
		t.Fatalf("expected Santa role permissions")
	}
	if cfg.TokenTTL() != 12*time.Hour {
		t.Fatalf("unexpected token ttl %s", cfg.TokenTTL())
	}
	if cfg.BusyTimeout() != 250*time.Millisecond {
		t.Fatalf("unexpected busy timeout %s", cfg.BusyTimeout())
	}
}

func TestValidateRejectsUnknownPermission(t *testing.T) {
	raw := strings.Replace(GenerateDefault(), "- fleet.health", "- fleet.fly", 1)
	if _, err := FromYAML([]byte(raw)); err == nil || !strings.Contains(err.Error(), "fleet.fly") {
		t.Fatalf("expected unknown permission error, got %v", err)
	}
}

func TestValidateRejectsBadTTL(t *testing.T) {
	raw := strings.Replace(GenerateDefault(), "token_ttl: 12h", "token_ttl: soon", 1)
	if _, err := FromYAML([]byte(raw)); err == nil {
		t.Fatalf("expected ttl error")
	}
}

func TestLoadOptionalFallsBackToDefault(t *testing.T) {
	cfg, err := LoadOptional(filepath.Join(t.TempDir(), "missing.yml"))
	if err != nil {
		t.Fatalf("load optional: %v", err)
	}
	if cfg.Server.BasePath != "/v1" {
		t.Fatalf("expected default base path, got %q", cfg.Server.BasePath)
	}
}

func TestLoadReadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "giftline.yml")
	raw := strings.Replace(GenerateDefault(), "addr: 127.0.0.1:8080", "addr: 0.0.0.0:9000", 1)
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Addr != "0.0.0.0:9000" {
		t.Fatalf("unexpected addr %s", cfg.Server.Addr)
	}
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yml")); err == nil {
		t.Fatalf("expected missing file error")
	}
}
