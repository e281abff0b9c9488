package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "lingochat.json")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadSubstitutesEnv(t *testing.T) {
	t.Setenv("LINGO_TEST_KEY", "gsk-123")
	path := writeConfig(t, `{
		"server": {"port": 9090},
		"completion": {
			"providers": [{"id": "groq", "type": "openai", "api_key": "${LINGO_TEST_KEY}", "endpoint": "${LINGO_TEST_MISSING:http://localhost:1234/v1}", "timeout_seconds": 30}]
		},
		"compressor": {"backend": "local", "tokenizer": "cl100k_base"}
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("port = %d", cfg.Server.Port)
	}
	pcs := cfg.ProviderConfigs()
	if len(pcs) != 1 || pcs[0].APIKey != "gsk-123" || pcs[0].Endpoint != "http://localhost:1234/v1" {
		t.Fatalf("providers = %+v", pcs)
	}
	if pcs[0].Model != "llama3-8b-8192" {
		t.Errorf("model should fall back to completion.model, got %q", pcs[0].Model)
	}
	if pcs[0].Timeout != 30*time.Second {
		t.Errorf("timeout = %v", pcs[0].Timeout)
	}
	if cfg.CompressorSettings().Tokenizer != "cl100k_base" {
		t.Errorf("tokenizer = %q", cfg.CompressorSettings().Tokenizer)
	}
	if cfg.Defaults.CompressionStrength != 100 || cfg.Defaults.Temperature != 0.1 {
		t.Errorf("defaults not kept: %+v", cfg.Defaults)
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}

	cfg.Defaults.Temperature = 2
	cfg.Compressor.Backend = "remote"
	cfg.Gateway.Discord.Enabled = true
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation errors")
	}
	for _, want := range []string{"temperature", "compressor.endpoint", "discord"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %q", err, want)
		}
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.json")); err == nil {
		t.Error("expected error")
	}
}

func TestLoadProvidersReplaceDefault(t *testing.T) {
	path := writeConfig(t, `{
		"completion": {
			"model": "claude-3-5-haiku-latest",
			"providers": [{"id": "anthropic", "type": "anthropic", "api_key": "k"}]
		}
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	p := cfg.Completion.Providers
	if len(p) != 1 || p[0].Name != "" || p[0].Endpoint != "" || p[0].Model != "" {
		t.Fatalf("provider inherited defaults: %+v", p)
	}
	if got := cfg.ProviderConfigs()[0].Model; got != "claude-3-5-haiku-latest" {
		t.Errorf("model = %q", got)
	}
}

func TestLoadKeepsDefaultProviderWhenOmitted(t *testing.T) {
	cfg, err := Load(writeConfig(t, `{"server": {"port": 8081}}`))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Completion.Providers) != 1 || cfg.Completion.Providers[0].ID != "groq" {
		t.Errorf("providers = %+v", cfg.Completion.Providers)
	}
}
