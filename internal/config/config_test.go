package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/imsgguard/imsg-guard/api"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"IMSG_CONTACTS_FILE", "IMSG_CONTACTS", "IMSG_BRIDGE_TOKEN",
		"IMSG_BRIDGE_HOST", "IMSG_BRIDGE_PORT", "IMSG_PATH",
		"IMSG_DB_PATH", "IMSG_BRIDGE_URL", "IMSG_POLL_MS",
	} {
		t.Setenv(k, "")
	}
}

func TestLoadBytes_FullConfig(t *testing.T) {
	clearEnv(t)
	cfg, err := LoadBytes([]byte(`
version: 1
contacts:
  noah: "+15551234567"
settings:
  token: secret
  listen: "127.0.0.1:9000"
  buffer_max: 100
  rpc_timeout: 5s
  poll_interval: 250ms
  message_methods: [message]
  default_method_action: block
rules:
  - name: allow-send
    match:
      method: send
    action: allow
`))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Token != "secret" || cfg.Listen != "127.0.0.1:9000" {
		t.Errorf("unexpected settings: %+v", cfg)
	}
	if cfg.BufferMax != 100 {
		t.Errorf("expected buffer_max 100, got %d", cfg.BufferMax)
	}
	if cfg.RPCTimeout != 5*time.Second || cfg.PollInterval != 250*time.Millisecond {
		t.Errorf("unexpected durations: %v %v", cfg.RPCTimeout, cfg.PollInterval)
	}
	if cfg.DefaultMethodAction != api.ActionBlock {
		t.Errorf("expected default block, got %s", cfg.DefaultMethodAction)
	}
	if cfg.Contacts["noah"] != "+15551234567" {
		t.Errorf("unexpected contacts: %v", cfg.Contacts)
	}
	if len(cfg.Rules) != 1 || cfg.Rules[0].Name != "allow-send" {
		t.Errorf("unexpected rules: %+v", cfg.Rules)
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Listen != DefaultListen {
		t.Errorf("expected default listen, got %q", cfg.Listen)
	}
	if cfg.BackendPath != DefaultBackendPath {
		t.Errorf("expected default backend path, got %q", cfg.BackendPath)
	}
	if cfg.BufferMax != DefaultBufferMax || cfg.RPCTimeout != DefaultRPCTimeout || cfg.PollInterval != DefaultPollInterval {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if !cfg.Scrub {
		t.Error("expected scrub enabled by default")
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("IMSG_BRIDGE_TOKEN", "env-token")
	t.Setenv("IMSG_BRIDGE_HOST", "10.0.0.5")
	t.Setenv("IMSG_BRIDGE_PORT", "9999")
	t.Setenv("IMSG_POLL_MS", "100")

	cfg, err := LoadBytes([]byte("settings:\n  token: file-token\n  listen: \"127.0.0.1:1\"\n"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Token != "env-token" {
		t.Errorf("expected env token to win, got %q", cfg.Token)
	}
	if cfg.Listen != "10.0.0.5:9999" {
		t.Errorf("expected env listen to win, got %q", cfg.Listen)
	}
	if cfg.PollInterval != 100*time.Millisecond {
		t.Errorf("expected 100ms poll interval, got %v", cfg.PollInterval)
	}
}

func TestLoad_ContactsFromJSONFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "contacts.json")
	if err := os.WriteFile(path, []byte(`{"noah":"+15551234567","alice":"alice@icloud.com"}`), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("IMSG_CONTACTS_FILE", path)

	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if len(cfg.Contacts) != 2 || cfg.Contacts["alice"] != "alice@icloud.com" {
		t.Errorf("unexpected contacts: %v", cfg.Contacts)
	}
}

func TestLoad_ContactsInline(t *testing.T) {
	clearEnv(t)
	t.Setenv("IMSG_CONTACTS", `{"noah":"+15551234567"}`)

	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Contacts["noah"] != "+15551234567" {
		t.Errorf("unexpected contacts: %v", cfg.Contacts)
	}
	if err := cfg.RequireContacts(); err != nil {
		t.Errorf("expected contacts requirement satisfied: %v", err)
	}
}

func TestLoad_InvalidInlineContacts(t *testing.T) {
	clearEnv(t)
	t.Setenv("IMSG_CONTACTS", `{not json`)
	if _, err := Load(""); err == nil {
		t.Fatal("expected error for invalid inline contacts")
	}
}

func TestRequire(t *testing.T) {
	clearEnv(t)
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if err := cfg.RequireContacts(); err == nil {
		t.Error("expected missing-contacts error")
	}
	if err := cfg.RequireToken(); err == nil {
		t.Error("expected missing-token error")
	}
	if err := cfg.RequireBridgeURL(); err == nil {
		t.Error("expected missing-bridge-url error")
	}
}

func TestLoadBytes_InvalidValues(t *testing.T) {
	clearEnv(t)
	cases := []string{
		"settings:\n  rpc_timeout: nope\n",
		"settings:\n  default_method_action: ask\n",
		"settings:\n  rate_limit:\n    global:\n      max: 0\n      window: 1m\n",
		"settings:\n  rate_limit:\n    global:\n      max: 5\n      window: often\n",
		"rules:\n  - name: r\n    action: maybe\n    match:\n      method: x\n",
	}
	for _, c := range cases {
		if _, err := LoadBytes([]byte(c)); err == nil {
			t.Errorf("expected error for config:\n%s", c)
		}
	}
}
