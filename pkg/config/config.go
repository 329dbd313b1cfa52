package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	Slack   SlackConfig   `json:"slack"`
	Node    NodeConfig    `json:"node"`
	Gateway GatewayConfig `json:"gateway"`
	Storage StorageConfig `json:"storage"`
	Poll    PollConfig    `json:"poll"`
}

type SlackConfig struct {
	BotToken      string `env:"SLACKRELAY_SLACK_BOT_TOKEN"      json:"bot_token"`
	SigningSecret string `env:"SLACKRELAY_SLACK_SIGNING_SECRET" json:"signing_secret"`
	AppID         string `env:"SLACKRELAY_SLACK_APP_ID"         json:"app_id"`
}

type NodeConfig struct {
	URL            string `env:"SLACKRELAY_NODE_URL"             json:"url"`
	EncryptionSK   string `env:"SLACKRELAY_NODE_ENCRYPTION_SK"   json:"encryption_sk"`
	SignatureSK    string `env:"SLACKRELAY_NODE_SIGNATURE_SK"    json:"signature_sk"`
	ReceiverPK     string `env:"SLACKRELAY_NODE_RECEIVER_PK"     json:"receiver_pk"`
	NodeName       string `env:"SLACKRELAY_NODE_NAME"            json:"node_name"`
	ProfileName    string `env:"SLACKRELAY_NODE_PROFILE_NAME"    json:"profile_name"`
	DeviceName     string `env:"SLACKRELAY_NODE_DEVICE_NAME"     json:"device_name"`
	AgentID        string `env:"SLACKRELAY_NODE_AGENT_ID"        json:"agent_id"`
	TimeoutSeconds int    `env:"SLACKRELAY_NODE_TIMEOUT_SECONDS" json:"timeout_seconds"`
}

type GatewayConfig struct {
	Host string `env:"SLACKRELAY_GATEWAY_HOST" json:"host"`
	Port int    `env:"SLACKRELAY_GATEWAY_PORT" json:"port"`
}

type StorageConfig struct {
	// MappingPath is where the thread -> job mapping document lives.
	MappingPath string `env:"SLACKRELAY_STORAGE_MAPPING_PATH" json:"mapping_path"`
}

type PollConfig struct {
	IntervalSeconds int `env:"SLACKRELAY_POLL_INTERVAL_SECONDS"    json:"interval_seconds"`
	// MaxJobAgeSeconds expires in-flight jobs older than this from the
	// registry. 0 keeps the historical behavior: retry forever.
	MaxJobAgeSeconds int `env:"SLACKRELAY_POLL_MAX_JOB_AGE_SECONDS" json:"max_job_age_seconds"`
}

func DefaultConfig() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Node: NodeConfig{
			AgentID:        "main/agent/my_gpt",
			TimeoutSeconds: 15,
		},
		Gateway: GatewayConfig{
			Host: "0.0.0.0",
			Port: 3001,
		},
		Storage: StorageConfig{
			MappingPath: filepath.Join(home, ".slackrelay", "thread_job_mapping.json"),
		},
		Poll: PollConfig{
			IntervalSeconds: 1,
		},
	}
}

func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// No config file is fine, env vars may carry everything.
			if err := env.Parse(cfg); err != nil {
				return nil, err
			}
			return cfg, nil
		}
		return nil, err
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing %s: %w", path, err)
	}

	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func SaveConfig(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0o600)
}

// Validate reports every missing required credential at once so an
// operator can fix the whole lot in a single pass.
func (c *Config) Validate() error {
	var missing []string

	if c.Slack.BotToken == "" {
		missing = append(missing, "slack.bot_token")
	}
	if c.Node.URL == "" {
		missing = append(missing, "node.url")
	}
	if c.Node.EncryptionSK == "" {
		missing = append(missing, "node.encryption_sk")
	}
	if c.Node.SignatureSK == "" {
		missing = append(missing, "node.signature_sk")
	}
	if c.Node.ReceiverPK == "" {
		missing = append(missing, "node.receiver_pk")
	}
	if c.Node.NodeName == "" {
		missing = append(missing, "node.node_name")
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}

	if c.Poll.IntervalSeconds < 1 {
		return errors.New("poll.interval_seconds must be at least 1")
	}

	return nil
}

func (c *Config) MappingPath() string {
	return expandHome(c.Storage.MappingPath)
}

func expandHome(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		home, _ := os.UserHomeDir()
		if len(path) > 1 && path[1] == '/' {
			return home + path[1:]
		}
		return home
	}
	return path
}
