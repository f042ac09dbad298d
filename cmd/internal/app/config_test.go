package app

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("BATTLESHIPS_SERVER_URL", "")
	t.Setenv("BATTLESHIPS_SIZE", "")
	t.Setenv("BATTLESHIPS_REQUEST_TIMEOUT", "")

	cfg := LoadConfig()
	if cfg.ServerURL != "ws://127.0.0.1:8080/ws" || cfg.Size != 10 || cfg.RequestTimeout != 15*time.Second {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
}

func TestLoadConfig_FromEnv(t *testing.T) {
	t.Setenv("BATTLESHIPS_SERVER_URL", "wss://play.example.com/ws")
	t.Setenv("BATTLESHIPS_SIZE", "8")
	t.Setenv("BATTLESHIPS_DIAL_TIMEOUT", "250ms")
	t.Setenv("BATTLESHIPS_NO_COLOR", "true")
	t.Setenv("BATTLESHIPS_WRITE_TIMEOUT", "not-a-duration")

	cfg := LoadConfig()
	if cfg.ServerURL != "wss://play.example.com/ws" || cfg.Size != 8 || cfg.DialTimeout != 250*time.Millisecond || !cfg.NoColor {
		t.Fatalf("env not applied: %+v", cfg)
	}
	if cfg.WriteTimeout != 5*time.Second {
		t.Fatalf("bad duration must fall back, got %v", cfg.WriteTimeout)
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.env")
	if err := os.WriteFile(path, []byte("BATTLESHIPS_INVITE_BASE_URL=https://play.example.com/\nBATTLESHIPS_LOG_LEVEL=debug\n"), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}

	t.Setenv("BATTLESHIPS_INVITE_BASE_URL", "")
	os.Unsetenv("BATTLESHIPS_INVITE_BASE_URL")
	t.Setenv("BATTLESHIPS_LOG_LEVEL", "warn")

	if err := LoadDotEnv(path, filepath.Join(dir, "missing.env")); err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}

	cfg := LoadConfig()
	if cfg.InviteBaseURL != "https://play.example.com/" {
		t.Fatalf("InviteBaseURL=%q", cfg.InviteBaseURL)
	}
	if cfg.LogLevel != "warn" {
		t.Fatalf("existing variables must win, got %q", cfg.LogLevel)
	}
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	base := Config{ServerURL: "ws://localhost:8080/ws", LogFormat: "json", Size: 10}

	cases := []struct {
		name string
		mod  func(*Config)
		ok   bool
	}{
		{name: "valid", mod: func(*Config) {}, ok: true},
		{name: "http scheme", mod: func(c *Config) { c.ServerURL = "http://localhost/ws" }},
		{name: "no host", mod: func(c *Config) { c.ServerURL = "ws:///ws" }},
		{name: "bad format", mod: func(c *Config) { c.LogFormat = "xml" }},
		{name: "zero size", mod: func(c *Config) { c.Size = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			tc.mod(&cfg)
			if err := cfg.Validate(); (err == nil) != tc.ok {
				t.Fatalf("Validate()=%v ok=%v", err, tc.ok)
			}
		})
	}
}

func TestShipsSchema(t *testing.T) {
	t.Parallel()

	got, err := ParseShipsSchema(" 4:1, 1:4,2:3,3:2 ")
	if err != nil {
		t.Fatalf("ParseShipsSchema: %v", err)
	}
	if FormatShipsSchema(got) != "1:4,2:3,3:2,4:1" {
		t.Fatalf("round trip=%q", FormatShipsSchema(got))
	}

	for _, bad := range []string{"", "1", "x:1", "0:1", "1:-1", "1:4,,"} {
		if _, err := ParseShipsSchema(bad); err == nil {
			t.Fatalf("ParseShipsSchema(%q) must fail", bad)
		}
	}
}
