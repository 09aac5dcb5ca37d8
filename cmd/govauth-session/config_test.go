package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadSettingsDefaults(t *testing.T) {
	t.Setenv("GOVAUTH_API_BASE_URL", "https://portal.example.test/api")
	t.Setenv("GOVAUTH_SESSION_KEY", "ops")
	t.Setenv("GOVAUTH_REFRESH_TIMEOUT", "4s")

	s, err := loadSettings()
	if err != nil {
		t.Fatalf("loadSettings: %v", err)
	}
	if s.RedisAddr != "127.0.0.1:6379" || s.PermissionBits != 256 {
		t.Fatalf("defaults not applied: %+v", s)
	}

	cfg := s.clientConfig()
	if cfg.Session.Key != "ops" || cfg.Session.RefreshTimeout != 4*time.Second {
		t.Fatalf("session config = %+v", cfg.Session)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestLoadSettingsRequiresBaseURL(t *testing.T) {
	t.Setenv("GOVAUTH_API_BASE_URL", "")
	if _, err := loadSettings(); err == nil {
		t.Fatal("expected missing base URL error")
	}
}

func TestLoggerRejectsUnknownFormat(t *testing.T) {
	s := &settings{LogLevel: "debug", LogFormat: "xml"}
	if _, err := s.logger(); err == nil {
		t.Fatal("expected format error")
	}
	s.LogFormat = "json"
	if _, err := s.logger(); err != nil {
		t.Fatalf("json logger: %v", err)
	}
}

func TestLoadCatalog(t *testing.T) {
	if c, err := loadCatalog("", 64); err != nil || c != nil {
		t.Fatalf("empty path = %v, %v", c, err)
	}

	path := filepath.Join(t.TempDir(), "catalog.yaml")
	body := "resources:\n  policy:\n    - name: policy.read\n      description: View policies\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	c, err := loadCatalog(path, 64)
	if err != nil {
		t.Fatalf("loadCatalog: %v", err)
	}
	if !c.Has("policy.read") {
		t.Fatal("policy.read missing from catalog")
	}
}
