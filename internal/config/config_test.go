package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/strawctl/internal/straw"
	"github.com/danmuck/strawctl/internal/testutil/testlog"
	"github.com/danmuck/strawctl/internal/tunnel"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestTemplateRoundTrip(t *testing.T) {
	testlog.Start(t)
	for _, kind := range []string{"active", "passive"} {
		path := filepath.Join(t.TempDir(), kind+".toml")
		if err := WriteTemplate(path, kind, false); err != nil {
			t.Fatalf("write template: %v", err)
		}
		if err := WriteTemplate(path, kind, false); err == nil {
			t.Fatalf("expected refusal to overwrite")
		}
		cfg, err := LoadConfig(path)
		if err != nil {
			t.Fatalf("load %s template: %v", kind, err)
		}
		if string(cfg.Mode) != kind {
			t.Fatalf("unexpected mode: %q", cfg.Mode)
		}
		if cfg.Inbound.Port != 9000 || cfg.Outbound.Port != 9001 {
			t.Fatalf("unexpected ports: %d %d", cfg.Inbound.Port, cfg.Outbound.Port)
		}
		if cfg.Inbound.RetryInterval != straw.DefaultRetryInterval {
			t.Fatalf("unexpected interval: %v", cfg.Inbound.RetryInterval)
		}
	}
	if _, err := Template("sideways"); err == nil {
		t.Fatalf("expected unknown kind error")
	}
}

func TestOverlayOnlyDefinedKeys(t *testing.T) {
	testlog.Start(t)
	path := writeConfig(t, `
resilient = true

[inbound]
port = 7100
interval_ms = 250
aggressive = true

[outbound]
role = "client"
address = "10.0.0.5"
port = 22
`)
	overlay, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, ok, _ := overlay.Mode(); ok {
		t.Fatalf("mode not defined in file")
	}

	base := tunnel.DefaultConfig(tunnel.ModePassive)
	base.Reestablish = true
	cfg, err := overlay.Apply(base)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if !cfg.Resilient || !cfg.Reestablish {
		t.Fatalf("unexpected flags: resilient=%v reestablish=%v", cfg.Resilient, cfg.Reestablish)
	}
	if cfg.Inbound.Role != straw.RoleServer || cfg.Inbound.Port != 7100 || cfg.Inbound.Address != straw.DefaultAddress {
		t.Fatalf("unexpected inbound: %+v", cfg.Inbound)
	}
	if cfg.Inbound.RetryInterval != 250*time.Millisecond || !cfg.Inbound.Aggressive {
		t.Fatalf("unexpected inbound retry: %+v", cfg.Inbound)
	}
	if cfg.Outbound.Role != straw.RoleClient || cfg.Outbound.Address != "10.0.0.5" || cfg.Outbound.Port != 22 {
		t.Fatalf("unexpected outbound: %+v", cfg.Outbound)
	}
	if cfg.Outbound.RetryInterval != straw.DefaultRetryInterval || cfg.Outbound.Aggressive {
		t.Fatalf("outbound retry must keep defaults: %+v", cfg.Outbound)
	}
}

func TestSchemaVersionOneDefaults(t *testing.T) {
	testlog.Start(t)
	path := writeConfig(t, `
version = 1
mode = "active"

[inbound]
port = 9000

[outbound]
port = 9001
interval = 3
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Inbound.RetryInterval != 0 {
		t.Fatalf("schema 1 inbound interval: %v", cfg.Inbound.RetryInterval)
	}
	if cfg.Outbound.RetryInterval != 3*time.Second {
		t.Fatalf("explicit interval must win: %v", cfg.Outbound.RetryInterval)
	}
}

func TestLoadErrors(t *testing.T) {
	testlog.Start(t)
	cases := map[string]string{
		"missing mode":    "[inbound]\nport = 1\n",
		"bad mode":        "mode = \"sideways\"\n",
		"bad role":        "mode = \"active\"\n[inbound]\nrole = \"peer\"\n",
		"unknown key":     "mode = \"active\"\nbogus = 1\n",
		"future version":  "version = 9\nmode = \"active\"\n",
		"negative":        "mode = \"active\"\n[inbound]\ninterval = -2\n",
		"invalid config":  "mode = \"active\"\n",
		"not toml at all": "mode = \n",
	}
	for name, content := range cases {
		if _, err := LoadConfig(writeConfig(t, content)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.toml")); err == nil || !strings.Contains(err.Error(), "config load failed") {
		t.Fatalf("expected load failure, got %v", err)
	}
}
