// Package config loads the gateway's runtime configuration purely from
// environment variables via caarlos0/env, matching this deployment's
// explicit choice to avoid a config-file format (the original's
// $HOME/.phoneclaw/config.json loader is file-based config territory this
// port intentionally leaves out; see DESIGN.md).
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/caarlos0/env/v11"
)

// AgentDefaults controls the agent loop's default model and limits.
type AgentDefaults struct {
	Model                string  `env:"AGENT_MODEL" envDefault:"gpt-4o-mini"`
	SystemPrompt         string  `env:"AGENT_SYSTEM_PROMPT"`
	MaxTokens            int     `env:"AGENT_MAX_TOKENS" envDefault:"128000"`
	Temperature          float64 `env:"AGENT_TEMPERATURE" envDefault:"0.7"`
	MaxToolIterations    int     `env:"AGENT_MAX_ITERATIONS" envDefault:"10"`
	LLMTimeoutSeconds    int     `env:"AGENT_LLM_TIMEOUT_SECONDS" envDefault:"120"`
	ToolTimeoutSeconds   int     `env:"AGENT_TOOL_TIMEOUT_SECONDS" envDefault:"30"`
	MaxParallelToolCalls int     `env:"AGENT_MAX_PARALLEL_TOOLS" envDefault:"1"`
}

type AgentsConfig struct {
	Defaults AgentDefaults `envPrefix:"DEFAULT_"`
}

// ProviderConfig is the shared shape for every LLM backend: an API key/base
// pair, plus an AuthMethod field that is parsed but not read by any provider.
type ProviderConfig struct {
	APIKey     string `env:"API_KEY"`
	APIBase    string `env:"API_BASE"`
	AuthMethod string `env:"AUTH_METHOD"`
}

// OpenRouterConfig additionally carries routing preferences forwarded as
// the OpenRouter-specific "provider" request field.
type OpenRouterConfig struct {
	ProviderConfig
	Routing map[string]interface{} `env:"-"`
}

type ProvidersConfig struct {
	OpenAI     ProviderConfig   `envPrefix:"OPENAI_"`
	OpenRouter OpenRouterConfig `envPrefix:"OPENROUTER_"`
	Anthropic  ProviderConfig   `envPrefix:"ANTHROPIC_"`
	Gemini     ProviderConfig   `envPrefix:"GEMINI_"`
	Zhipu      ProviderConfig   `envPrefix:"ZHIPU_"`
	Groq       ProviderConfig   `envPrefix:"GROQ_"`
	Modal      ProviderConfig   `envPrefix:"MODAL_"`
	VLLM       ProviderConfig   `envPrefix:"VLLM_"`

	// FailoverOrder names providers to try in order when the primary's
	// reliability wrapper exhausts its retries; empty means no failover.
	FailoverOrder []string `env:"FAILOVER_ORDER" envSeparator:","`
}

// TelegramConfig configures the Telegram Bot API adapter.
type TelegramConfig struct {
	Token     string   `env:"TOKEN"`
	AllowFrom []string `env:"ALLOW_FROM" envSeparator:","`
}

// WhatsAppConfig configures WhatsApp: VerifyToken and AppSecret for the
// gateway's Cloud API webhook, and BridgeURL for the outbound adapter, which
// sends over a WebSocket bridge. APIBase, PhoneNumberID and DefaultTo are
// not read by any code; a non-empty Token only marks the channel as
// configured.
type WhatsAppConfig struct {
	Token           string   `env:"TOKEN"`
	APIBase         string   `env:"API_BASE" envDefault:"https://graph.facebook.com/v19.0"`
	PhoneNumberID   string   `env:"PHONE_NUMBER_ID"`
	DefaultTo       string   `env:"DEFAULT_TO"`
	VerifyToken     string   `env:"VERIFY_TOKEN"`
	AppSecret       string   `env:"APP_SECRET"`
	AllowFrom       []string `env:"ALLOW_FROM" envSeparator:","`
	BridgeURL       string   `env:"BRIDGE_URL"`
}

// SlackConfig configures the Slack Events API + Web API adapter.
type SlackConfig struct {
	BotToken       string   `env:"BOT_TOKEN"`
	AppToken       string   `env:"APP_TOKEN"`
	DefaultChannel string   `env:"DEFAULT_CHANNEL"`
	SigningSecret  string   `env:"SIGNING_SECRET"`
	AllowFrom      []string `env:"ALLOW_FROM" envSeparator:","`
}

// DiscordConfig configures the Discord bot adapter.
type DiscordConfig struct {
	Token     string   `env:"TOKEN"`
	AllowFrom []string `env:"ALLOW_FROM" envSeparator:","`
}

// TeamsConfig configures the Microsoft Teams bot adapter.
type TeamsConfig struct {
	Enabled    bool   `env:"ENABLED"`
	BotToken   string `env:"BOT_TOKEN"`
	WebhookURL string `env:"WEBHOOK_URL"`
}

// ZaloConfig configures the Zalo Official Account adapter.
type ZaloConfig struct {
	Enabled    bool   `env:"ENABLED"`
	Token      string `env:"TOKEN"`
	WebhookURL string `env:"WEBHOOK_URL"`
	DefaultTo  string `env:"DEFAULT_TO"`
}

// GoogleChatConfig configures the Google Chat incoming-webhook adapter.
type GoogleChatConfig struct {
	Enabled    bool   `env:"ENABLED"`
	WebhookURL string `env:"WEBHOOK_URL"`
}

// WebChatConfig enables the browser-facing /ws/webchat surface.
type WebChatConfig struct {
	Enabled bool `env:"ENABLED"`
}

type ChannelsConfig struct {
	Telegram   TelegramConfig   `envPrefix:"TELEGRAM_"`
	WhatsApp   WhatsAppConfig   `envPrefix:"WHATSAPP_"`
	Slack      SlackConfig      `envPrefix:"SLACK_"`
	Discord    DiscordConfig    `envPrefix:"DISCORD_"`
	Teams      TeamsConfig      `envPrefix:"TEAMS_"`
	Zalo       ZaloConfig       `envPrefix:"ZALO_"`
	GoogleChat GoogleChatConfig `envPrefix:"GOOGLE_CHAT_"`
	WebChat    WebChatConfig    `envPrefix:"WEBCHAT_"`
}

// WebSearchConfig configures the web_search tool's backing search API.
type WebSearchConfig struct {
	APIKey     string `env:"API_KEY"`
	MaxResults int    `env:"MAX_RESULTS" envDefault:"5"`
}

type WebConfig struct {
	Search WebSearchConfig `envPrefix:"SEARCH_"`
}

type ToolsConfig struct {
	Web                WebConfig `envPrefix:"WEB_"`
	ExecEnabled        bool      `env:"TOOLS_EXEC_ENABLED" envDefault:"true"`
	ExecTimeoutSeconds int       `env:"TOOLS_EXEC_TIMEOUT_SECONDS" envDefault:"30"`
	MaxOutputBytes     int       `env:"TOOLS_MAX_OUTPUT_BYTES" envDefault:"65536"`
	NetworkAllowlist   []string  `env:"TOOLS_NETWORK_ALLOWLIST" envSeparator:","`
	MaxChildProcesses  uint64    `env:"TOOLS_EXEC_MAX_PROCESSES" envDefault:"50"`
	MaxOpenFiles       uint64    `env:"TOOLS_EXEC_MAX_OPEN_FILES" envDefault:"1024"`
	CPUTimeLimitSecs   uint64    `env:"TOOLS_EXEC_CPU_TIME_LIMIT_SECONDS" envDefault:"30"`
}

// AttachmentPolicyConfig bounds the /api/attachment upload surface.
type AttachmentPolicyConfig struct {
	Enabled           bool     `env:"ATTACHMENTS_ENABLED" envDefault:"true"`
	MaxSizeBytes      int64    `env:"ATTACHMENTS_MAX_SIZE_BYTES" envDefault:"10485760"`
	AllowedMimeTypes  []string `env:"ATTACHMENTS_ALLOWED_MIME_TYPES" envSeparator:","`
	StorageDirectory  string   `env:"ATTACHMENTS_STORAGE_DIR" envDefault:"attachments"`
}

// RuntimeConfig controls process-wide knobs: workspace directory, HTTP bind
// address, and cron store location.
type RuntimeConfig struct {
	Workspace    string `env:"WORKSPACE" envDefault:"workspace"`
	ListenAddr   string `env:"LISTEN_ADDR" envDefault:":8080"`
	CronStorePath string `env:"CRON_STORE_PATH" envDefault:"workspace/cron.json"`
}

// GatewayConfig configures the HTTP/WS ingress surface: bearer auth,
// webhook verification secrets already live under Channels (WhatsApp
// AppSecret, Slack SigningSecret), dedupe cache sizing, and the
// heartbeat cadence for /ws/events.
type GatewayConfig struct {
	AuthToken          string `env:"AUTH_TOKEN"`
	WSHeartbeatSeconds int    `env:"WS_HEARTBEAT_SECONDS" envDefault:"30"`
	DedupeTTLSeconds   int    `env:"DEDUPE_TTL_SECONDS" envDefault:"600"`
	DedupeMaxEntries   int    `env:"DEDUPE_MAX_ENTRIES" envDefault:"10000"`
}

// Config is the process-wide, environment-sourced configuration root.
type Config struct {
	Agents      AgentsConfig           `envPrefix:"AGENTS_"`
	Providers   ProvidersConfig        `envPrefix:"PROVIDERS_"`
	Channels    ChannelsConfig         `envPrefix:"CHANNELS_"`
	Tools       ToolsConfig            `envPrefix:""`
	Attachments AttachmentPolicyConfig `envPrefix:""`
	Runtime     RuntimeConfig          `envPrefix:"RUNTIME_"`
	Gateway     GatewayConfig          `envPrefix:"GATEWAY_"`
}

// DefaultConfig returns a Config populated with field defaults, used by
// tests that need a baseline to mutate. It parses without the GATEWAY_
// prefix, so matching unprefixed variables in the process environment
// (e.g. AGENTS_DEFAULT_AGENT_MODEL) still override those defaults.
func DefaultConfig() *Config {
	cfg := &Config{}
	_ = env.Parse(cfg)
	return cfg
}

// Load reads configuration from the process environment, applying
// env.Options prefix GATEWAY_ so every variable is namespaced (e.g.
// GATEWAY_AGENTS_DEFAULT_AGENT_MODEL, GATEWAY_CHANNELS_TELEGRAM_TOKEN).
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: "GATEWAY_"}); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

// WorkspacePath returns the absolute workspace directory. It does not
// create the directory; EnsureWorkspace does.
func (c *Config) WorkspacePath() string {
	path := c.Runtime.Workspace
	if path == "" {
		path = "workspace"
	}
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	return path
}

// ConfiguredChannels returns the names of channels with enough
// configuration present to start, mirroring the original's
// configured_channels() used by the gateway's channel-health summary.
func (c *Config) ConfiguredChannels() []string {
	var names []string
	if c.Channels.Telegram.Token != "" {
		names = append(names, "telegram")
	}
	if c.Channels.WhatsApp.Token != "" || c.Channels.WhatsApp.BridgeURL != "" {
		names = append(names, "whatsapp")
	}
	if c.Channels.Slack.BotToken != "" {
		names = append(names, "slack")
	}
	if c.Channels.Discord.Token != "" {
		names = append(names, "discord")
	}
	if c.Channels.Teams.Enabled && c.Channels.Teams.BotToken != "" {
		names = append(names, "teams")
	}
	if c.Channels.Zalo.Enabled && c.Channels.Zalo.Token != "" {
		names = append(names, "zalo")
	}
	if c.Channels.GoogleChat.Enabled && c.Channels.GoogleChat.WebhookURL != "" {
		names = append(names, "google_chat")
	}
	if c.Channels.WebChat.Enabled {
		names = append(names, "webchat")
	}
	return names
}

// EnsureWorkspace creates the workspace directory tree the agent loop and
// tool sandbox expect to exist (workspace root, memory/, sessions/).
func (c *Config) EnsureWorkspace() error {
	root := c.WorkspacePath()
	for _, sub := range []string{"", "memory", "sessions"} {
		if err := os.MkdirAll(filepath.Join(root, sub), 0o755); err != nil {
			return fmt.Errorf("failed to create workspace directory %s: %w", sub, err)
		}
	}
	return nil
}
