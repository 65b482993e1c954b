package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfigFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("writing config file: %v", err)
	}
	return path
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	path := writeConfigFile(t, `
mode = "monitor"
log_level = "debug"

[markets]
slugs = ["will-it-rain"]

[feed]
fetch_interval = "2s"
history_size = 60
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Mode != "monitor" {
		t.Errorf("mode = %q, want monitor", cfg.Mode)
	}
	if got := cfg.Feed.FetchInterval.Duration; got != 2*time.Second {
		t.Errorf("fetch_interval = %v, want 2s", got)
	}
	if cfg.Feed.HistorySize != 60 {
		t.Errorf("history_size = %d, want 60", cfg.Feed.HistorySize)
	}
	// Untouched fields keep their defaults.
	if cfg.Polymarket.ChainID != 137 {
		t.Errorf("chain_id = %d, want default 137", cfg.Polymarket.ChainID)
	}
	if !cfg.Feed.BookCacheEnabled {
		t.Error("book_cache_enabled should default to true")
	}
}

func TestLoadAppliesEnvOverrides(t *testing.T) {
	path := writeConfigFile(t, `
[markets]
slugs = ["will-it-rain"]
`)
	t.Setenv("SPIKEBOT_REDIS_ADDR", "redis.internal:6380")
	t.Setenv("SPIKEBOT_SERVER_API_KEY", "sekrit")
	t.Setenv("SPIKEBOT_MARKETS_SLUGS", "a,b, c")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Redis.Addr != "redis.internal:6380" {
		t.Errorf("redis addr = %q", cfg.Redis.Addr)
	}
	if cfg.Server.APIKey != "sekrit" {
		t.Errorf("server api_key = %q", cfg.Server.APIKey)
	}
	if len(cfg.Markets.Slugs) != 3 || cfg.Markets.Slugs[2] != "c" {
		t.Errorf("slugs = %v, want [a b c]", cfg.Markets.Slugs)
	}
}

func TestValidateAcceptsDefaults(t *testing.T) {
	cfg := Defaults()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate, got: %v", err)
	}
}

func TestValidateRejectsUnknownMode(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "turbo"
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error for unknown mode")
	}
	if !strings.Contains(err.Error(), "unknown mode") {
		t.Errorf("error %q should mention unknown mode", err)
	}
}

func TestValidateTradeModeRequiresWallet(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "trade"
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error for trade mode without wallet")
	}
	if !strings.Contains(err.Error(), "private_key") {
		t.Errorf("error %q should mention the missing key", err)
	}

	cfg.Wallet.EncryptedKeyPath = "/etc/spikebot/key.json"
	cfg.Wallet.ProxyWallet = "0xabc"
	if err := cfg.Validate(); err != nil {
		t.Errorf("encrypted key path should satisfy the wallet rule, got: %v", err)
	}
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "turbo"
	cfg.LogLevel = "loud"
	cfg.Polymarket.ClobHost = ""
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected errors")
	}
	for _, want := range []string{"unknown mode", "log_level", "clob_host"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error should mention %q, got %q", want, err)
		}
	}
}

func TestRedactedConfigHidesSecrets(t *testing.T) {
	cfg := Defaults()
	cfg.Wallet.PrivateKey = "deadbeef"
	cfg.Postgres.Password = "hunter2"
	cfg.Redis.Password = "hunter2"
	cfg.S3.SecretKey = "hunter2"
	cfg.Server.APIKey = "hunter2"
	cfg.Notify.TelegramToken = "123:abc"

	out := RedactedConfig(&cfg)

	for name, got := range map[string]string{
		"wallet private_key": out.Wallet.PrivateKey,
		"postgres password":  out.Postgres.Password,
		"redis password":     out.Redis.Password,
		"s3 secret_key":      out.S3.SecretKey,
		"server api_key":     out.Server.APIKey,
		"telegram token":     out.Notify.TelegramToken,
	} {
		if got != "***" {
			t.Errorf("%s = %q, want redacted", name, got)
		}
	}
	// Originals are untouched.
	if cfg.Wallet.PrivateKey != "deadbeef" {
		t.Error("RedactedConfig must not mutate its input")
	}
	// Empty secrets stay empty rather than becoming placeholders.
	if out.Wallet.KeyPassword != "" {
		t.Errorf("empty key_password should stay empty, got %q", out.Wallet.KeyPassword)
	}
	// Slices are copied, not shared.
	out.Notify.Events[0] = "mangled"
	if cfg.Notify.Events[0] == "mangled" {
		t.Error("redacted copy shares the events slice with the original")
	}
}
