package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// CanonicalColors are the color tokens that get the extra loose mention
// forms in the relevance filter ("[red]", "red:", "@agent red").
var CanonicalColors = []string{"red", "blue", "green", "black"}

// ConfigError is a fatal startup configuration problem.
type ConfigError struct {
	Field string
	Msg   string
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("config: %s", e.Msg)
	}
	return fmt.Sprintf("config: %s: %s", e.Field, e.Msg)
}

type Config struct {
	Daemon       DaemonConfig           `json:"daemon"`
	RateLimiting RateLimitConfig        `json:"rate_limiting"`
	Monitor      MonitorConfig          `json:"monitor"`
	Logging      LoggingConfig          `json:"logging"`
	Heartbeat    HeartbeatConfig        `json:"heartbeat"`
	Agents       map[string]AgentConfig `json:"agents"`

	// Maps legacy agent names to color tokens for callers that still
	// send agent_name instead of agent_color.
	AgentNameToColor map[string]string `json:"agent_name_to_color,omitempty"`
}

type DaemonConfig struct {
	Host           string `json:"host" env:"SLACKBRIDGE_DAEMON_HOST"`
	Port           int    `json:"port" env:"SLACKBRIDGE_DAEMON_PORT"`
	PortFile       string `json:"port_file" env:"SLACKBRIDGE_DAEMON_PORT_FILE"`
	DefaultChannel string `json:"default_channel" env:"SLACKBRIDGE_DAEMON_DEFAULT_CHANNEL"`
	TokensFile     string `json:"tokens_file" env:"SLACKBRIDGE_DAEMON_TOKENS_FILE"`
}

type RateLimitConfig struct {
	MessagesPerMinute int `json:"messages_per_minute" env:"SLACKBRIDGE_RATE_MESSAGES_PER_MINUTE"`
	APICallsPerMinute int `json:"api_calls_per_minute" env:"SLACKBRIDGE_RATE_API_CALLS_PER_MINUTE"`
}

type MonitorConfig struct {
	IntervalSeconds int `json:"interval_seconds" env:"SLACKBRIDGE_MONITOR_INTERVAL_SECONDS"`
	FetchLimit      int `json:"fetch_limit" env:"SLACKBRIDGE_MONITOR_FETCH_LIMIT"`
}

type LoggingConfig struct {
	Level       string `json:"level" env:"SLACKBRIDGE_LOGGING_LEVEL"`
	FileEnabled bool   `json:"file_enabled" env:"SLACKBRIDGE_LOGGING_FILE_ENABLED"`
	FilePath    string `json:"file_path" env:"SLACKBRIDGE_LOGGING_FILE_PATH"`
	MaxSizeMB   int    `json:"max_size_mb" env:"SLACKBRIDGE_LOGGING_MAX_SIZE_MB"`
}

type HeartbeatConfig struct {
	Enabled  bool   `json:"enabled" env:"SLACKBRIDGE_HEARTBEAT_ENABLED"`
	Schedule string `json:"schedule" env:"SLACKBRIDGE_HEARTBEAT_SCHEDULE"`
	Agent    string `json:"agent" env:"SLACKBRIDGE_HEARTBEAT_AGENT"`
}

// AgentConfig describes one color-token agent. Loaded once at startup and
// immutable thereafter.
type AgentConfig struct {
	Name           string `json:"name"`
	DisplayName    string `json:"display_name,omitempty"`
	BotToken       string `json:"bot_token"`
	BotUserID      string `json:"bot_user_id"`
	BotID          string `json:"bot_id,omitempty"`
	ColorHex       string `json:"color,omitempty"`
	DefaultChannel string `json:"default_channel,omitempty"`
}

// FriendlyName is the short form agents are addressed by: "agent-sam" -> "sam".
func (a AgentConfig) FriendlyName() string {
	return strings.TrimPrefix(strings.ToLower(a.Name), "agent-")
}

// Display returns the human-facing name, deriving one from the configured
// name when display_name is absent.
func (a AgentConfig) Display() string {
	if a.DisplayName != "" {
		return a.DisplayName
	}
	friendly := a.FriendlyName()
	if friendly == "" {
		return a.Name
	}
	return "Agent-" + strings.ToUpper(friendly[:1]) + friendly[1:]
}

func DefaultConfig() *Config {
	return &Config{
		Daemon: DaemonConfig{
			Host:     "127.0.0.1",
			PortFile: "port",
		},
		RateLimiting: RateLimitConfig{
			MessagesPerMinute: 60,
			APICallsPerMinute: 100,
		},
		Monitor: MonitorConfig{
			IntervalSeconds: 5,
			FetchLimit:      10,
		},
		Logging: LoggingConfig{
			Level:     "INFO",
			FilePath:  "/tmp/slackbridge.log",
			MaxSizeMB: 50,
		},
		Heartbeat: HeartbeatConfig{
			Enabled:  false,
			Schedule: "0 * * * *",
		},
		Agents: map[string]AgentConfig{},
	}
}

// LoadConfig reads the JSON config file, then overlays environment
// variables and the optional tokens env file. Startup must abort on error.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigError{Msg: fmt.Sprintf("read %s: %v", path, err)}
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, &ConfigError{Msg: fmt.Sprintf("parse %s: %v", path, err)}
	}
	if err := env.Parse(cfg); err != nil {
		return nil, &ConfigError{Msg: fmt.Sprintf("environment overlay: %v", err)}
	}
	if err := cfg.applyTokensFile(); err != nil {
		return nil, err
	}
	applyTokenEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyTokensFile overlays bot tokens from a dotenv-style file keyed
// RED_TOKEN, BLUE_TOKEN, and so on. SLACK_CHANNEL_ID fills the default
// channel when the JSON config left it empty.
func (c *Config) applyTokensFile() error {
	if c.Daemon.TokensFile == "" {
		return nil
	}
	vars, err := godotenv.Read(c.Daemon.TokensFile)
	if err != nil {
		return &ConfigError{Field: "daemon.tokens_file", Msg: err.Error()}
	}

	for color, agent := range c.Agents {
		key := strings.ToUpper(color) + "_TOKEN"
		if tok := strings.TrimSpace(vars[key]); tok != "" {
			agent.BotToken = tok
			c.Agents[color] = agent
		}
	}
	if c.Daemon.DefaultChannel == "" {
		c.Daemon.DefaultChannel = strings.TrimSpace(vars["SLACK_CHANNEL_ID"])
	}
	return nil
}

func applyTokenEnvOverrides(c *Config) {
	for color, agent := range c.Agents {
		key := "SLACKBRIDGE_AGENT_" + strings.ToUpper(color) + "_BOT_TOKEN"
		if tok := strings.TrimSpace(os.Getenv(key)); tok != "" {
			agent.BotToken = tok
			c.Agents[color] = agent
		}
	}
}

func (c *Config) Validate() error {
	if len(c.Agents) == 0 {
		return &ConfigError{Field: "agents", Msg: "at least one agent must be configured"}
	}
	for color, agent := range c.Agents {
		if agent.BotToken == "" {
			return &ConfigError{Field: "agents." + color + ".bot_token", Msg: "missing bot token"}
		}
	}
	if c.Daemon.DefaultChannel == "" {
		return &ConfigError{Field: "daemon.default_channel", Msg: "missing default channel"}
	}
	if c.RateLimiting.MessagesPerMinute <= 0 || c.RateLimiting.APICallsPerMinute <= 0 {
		return &ConfigError{Field: "rate_limiting", Msg: "per-minute ceilings must be positive"}
	}
	if c.Monitor.IntervalSeconds <= 0 {
		return &ConfigError{Field: "monitor.interval_seconds", Msg: "must be positive"}
	}
	if c.Heartbeat.Enabled && c.Heartbeat.Agent == "" {
		return &ConfigError{Field: "heartbeat.agent", Msg: "heartbeat requires an agent color"}
	}
	return nil
}

// ResolveColor maps either identifier form (color token or agent name) to
// the canonical color key. Every registry and client access goes through
// this single lookup.
func (c *Config) ResolveColor(identifier string) (string, bool) {
	id := strings.ToLower(strings.TrimSpace(identifier))
	if id == "" {
		return "", false
	}
	if _, ok := c.Agents[id]; ok {
		return id, true
	}
	if color, ok := c.AgentNameToColor[id]; ok {
		if _, exists := c.Agents[color]; exists {
			return color, true
		}
	}
	for color, agent := range c.Agents {
		if id == strings.ToLower(agent.Name) ||
			id == strings.ToLower(agent.Display()) ||
			id == agent.FriendlyName() {
			return color, true
		}
	}
	return "", false
}

// ChannelFor returns the channel an agent's traffic defaults to.
func (c *Config) ChannelFor(color string) string {
	if agent, ok := c.Agents[color]; ok && agent.DefaultChannel != "" {
		return agent.DefaultChannel
	}
	return c.Daemon.DefaultChannel
}
