package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Node.AgentID != "main/agent/my_gpt" {
		t.Errorf("expected default agent id, got %s", cfg.Node.AgentID)
	}
	if cfg.Node.TimeoutSeconds != 15 {
		t.Errorf("expected 15s node timeout, got %d", cfg.Node.TimeoutSeconds)
	}
	if cfg.Gateway.Port != 3001 {
		t.Errorf("expected port 3001, got %d", cfg.Gateway.Port)
	}
	if cfg.Poll.IntervalSeconds != 1 {
		t.Errorf("expected 1s poll interval, got %d", cfg.Poll.IntervalSeconds)
	}
	if cfg.Poll.MaxJobAgeSeconds != 0 {
		t.Errorf("expected job expiry disabled by default, got %d", cfg.Poll.MaxJobAgeSeconds)
	}
	if !strings.HasSuffix(cfg.Storage.MappingPath, "thread_job_mapping.json") {
		t.Errorf("unexpected mapping path: %s", cfg.Storage.MappingPath)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatalf("missing file should not be an error: %v", err)
	}
	if cfg.Gateway.Port != 3001 {
		t.Errorf("expected defaults, got port %d", cfg.Gateway.Port)
	}
}

func TestLoadConfigRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")

	cfg := DefaultConfig()
	cfg.Slack.BotToken = "xoxb-test"
	cfg.Node.URL = "http://localhost:9550"
	cfg.Gateway.Port = 4000

	if err := SaveConfig(path, cfg); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Slack.BotToken != "xoxb-test" {
		t.Errorf("bot token lost: %s", loaded.Slack.BotToken)
	}
	if loaded.Node.URL != "http://localhost:9550" {
		t.Errorf("node url lost: %s", loaded.Node.URL)
	}
	if loaded.Gateway.Port != 4000 {
		t.Errorf("port lost: %d", loaded.Gateway.Port)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	cfg := DefaultConfig()
	cfg.Node.URL = "http://from-file:9550"
	if err := SaveConfig(path, cfg); err != nil {
		t.Fatalf("save: %v", err)
	}

	t.Setenv("SLACKRELAY_NODE_URL", "http://from-env:9550")
	t.Setenv("SLACKRELAY_POLL_INTERVAL_SECONDS", "5")

	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Node.URL != "http://from-env:9550" {
		t.Errorf("env should override file, got %s", loaded.Node.URL)
	}
	if loaded.Poll.IntervalSeconds != 5 {
		t.Errorf("env poll interval not applied, got %d", loaded.Poll.IntervalSeconds)
	}
}

func TestValidateCollectsAllMissing(t *testing.T) {
	cfg := DefaultConfig()
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error for empty credentials")
	}

	for _, want := range []string{
		"slack.bot_token",
		"node.url",
		"node.encryption_sk",
		"node.signature_sk",
		"node.receiver_pk",
		"node.node_name",
	} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error should mention %s: %v", want, err)
		}
	}
}

func TestValidatePollInterval(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Slack.BotToken = "xoxb"
	cfg.Node.URL = "http://n"
	cfg.Node.EncryptionSK = "aa"
	cfg.Node.SignatureSK = "bb"
	cfg.Node.ReceiverPK = "cc"
	cfg.Node.NodeName = "@@node.node"
	cfg.Poll.IntervalSeconds = 0

	if err := cfg.Validate(); err == nil {
		t.Error("expected error for zero poll interval")
	}

	cfg.Poll.IntervalSeconds = 1
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected valid config, got %v", err)
	}
}

func TestMappingPathExpandsHome(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Storage.MappingPath = "~/custom/mapping.json"

	home, _ := os.UserHomeDir()
	got := cfg.MappingPath()
	if got != filepath.Join(home, "custom", "mapping.json") {
		t.Errorf("unexpected expansion: %s", got)
	}
}
