package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "agent.json")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `{}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	base := filepath.Dir(path)
	if cfg.Server.Address != ":5000" {
		t.Fatalf("unexpected address %s", cfg.Server.Address)
	}
	if cfg.Storage.Driver != "sqlite" {
		t.Fatalf("unexpected storage driver %s", cfg.Storage.Driver)
	}
	if cfg.Storage.SQLite.Path != filepath.Join(base, "data", "agent.db") {
		t.Fatalf("unexpected sqlite path %s", cfg.Storage.SQLite.Path)
	}
	if cfg.LLM.Provider != "openai" || cfg.LLM.OpenAI.Timeout() != 60*time.Second {
		t.Fatalf("unexpected llm defaults %+v", cfg.LLM)
	}
	if cfg.Agent.MaxIterations != 8 || cfg.Agent.MemoryBackend != "memory" {
		t.Fatalf("unexpected agent defaults %+v", cfg.Agent)
	}
	if cfg.Notify.Driver != "none" {
		t.Fatalf("unexpected notify driver %s", cfg.Notify.Driver)
	}
	if cfg.Web3.PrivateKeyEnv != "DEPLOYER_PRIVATE_KEY" {
		t.Fatalf("unexpected private key env %s", cfg.Web3.PrivateKeyEnv)
	}
	if cfg.LLM.Python.WorkingDir != base {
		t.Fatalf("python working dir should default to config dir, got %s", cfg.LLM.Python.WorkingDir)
	}
}

func TestLoadResolvesRelativePaths(t *testing.T) {
	path := writeConfig(t, `{
		"runtime": {"data_dir": "/var/lib/agent"},
		"storage": {"driver": "sqlite", "sqlite": {"path": "contracts.db"}},
		"web3": {"chain_config": "chain.yaml", "token_artifact": "/opt/token.json"}
	}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Storage.SQLite.Path != filepath.Join("/var/lib/agent", "contracts.db") {
		t.Fatalf("unexpected sqlite path %s", cfg.Storage.SQLite.Path)
	}
	if cfg.Web3.ChainConfig != filepath.Join(filepath.Dir(path), "chain.yaml") {
		t.Fatalf("unexpected chain config %s", cfg.Web3.ChainConfig)
	}
	if cfg.Web3.TokenArtifact != "/opt/token.json" {
		t.Fatalf("absolute path should be kept: %s", cfg.Web3.TokenArtifact)
	}
}

func TestLoadRejectsUnknownDriver(t *testing.T) {
	path := writeConfig(t, `{"storage": {"driver": "postgres"}}`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for unknown storage driver")
	}
	path = writeConfig(t, `{"llm": {"provider": "gemini"}}`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for unknown provider")
	}
}

func TestResolveSecretsFromEnv(t *testing.T) {
	t.Setenv("TEST_AGENT_TOKEN", " secret ")
	auth := AuthConfig{TokenEnv: "TEST_AGENT_TOKEN"}
	if got := auth.ResolveToken(); got != "secret" {
		t.Fatalf("unexpected token %q", got)
	}
	auth.Token = "inline"
	if got := auth.ResolveToken(); got != "inline" {
		t.Fatalf("inline token should win, got %q", got)
	}

	t.Setenv("TEST_DEPLOYER_KEY", "0xabc")
	if got := (Web3Config{PrivateKeyEnv: "TEST_DEPLOYER_KEY"}).ResolvePrivateKey(); got != "0xabc" {
		t.Fatalf("unexpected private key %q", got)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(""); err == nil {
		t.Fatal("expected error for empty path")
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestMySQLConnDurations(t *testing.T) {
	cfg := MySQLConfig{ConnMaxLifetimeSeconds: 300, ConnMaxIdleTimeSeconds: -1}
	if got := cfg.ConnMaxLifetime(); got != 5*time.Minute {
		t.Fatalf("unexpected lifetime: %v", got)
	}
	if got := cfg.ConnMaxIdleTime(); got != 0 {
		t.Fatalf("negative idle time should disable the limit, got %v", got)
	}
}
