package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the server configuration. Values come from defaults, then the
// YAML file, then environment variables, then command line flags.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	LLM       LLMConfig       `yaml:"llm"`
	Platform  PlatformConfig  `yaml:"platform"`
	Notify    NotifyConfig    `yaml:"notify"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	// AdminKeyPath receives the bootstrap admin key on first start.
	AdminKeyPath string `yaml:"admin_key_path"`
	// RequestsPerMinute limits each operator key's reads; writes get a tenth.
	RequestsPerMinute int    `yaml:"requests_per_minute"`
	ShutdownTimeout   string `yaml:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type SchedulerConfig struct {
	// Autostart provisions every active agent when the server starts.
	Autostart    bool   `yaml:"autostart"`
	TickTimeout  string `yaml:"tick_timeout"`
	RecentWindow int    `yaml:"recent_window"`
	// EngagementLimit caps the searched posts reacted to per posting tick.
	// Zero turns topic engagement off.
	EngagementLimit int `yaml:"engagement_limit"`
}

type LLMConfig struct {
	// Provider is "openai" for any chat-completions compatible endpoint or "gemini".
	Provider    string        `yaml:"provider"`
	BaseURL     string        `yaml:"base_url"`
	APIKey      string        `yaml:"api_key"`
	Model       string        `yaml:"model"`
	Temperature float64       `yaml:"temperature"`
	MaxTokens   int           `yaml:"max_tokens"`
	Timeout     string        `yaml:"timeout"`
	Models      []ModelBudget `yaml:"models"`
}

// ModelBudget is a Gemini model with its requests-per-minute and per-day caps.
// Models are tried in order until one has budget left.
type ModelBudget struct {
	Name string `yaml:"name"`
	RPM  int    `yaml:"rpm"`
	RPD  int    `yaml:"rpd"`
}

type PlatformConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
	Timeout string `yaml:"timeout"`
}

type NotifyConfig struct {
	WebhookTimeout string `yaml:"webhook_timeout"`
	TelegramToken  string `yaml:"telegram_token"`
	TelegramChatID int64  `yaml:"telegram_chat_id"`
	// TelegramEvents limits which events are forwarded to the chat.
	TelegramEvents []string `yaml:"telegram_events"`
}

type LoggingConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:              "127.0.0.1",
			Port:              8080,
			AdminKeyPath:      "admin.key",
			RequestsPerMinute: 120,
			ShutdownTimeout:   "15s",
		},
		Database: DatabaseConfig{
			Path: filepath.Join("data", "botfleet.db"),
		},
		Scheduler: SchedulerConfig{
			Autostart:    true,
			TickTimeout:     "2m",
			RecentWindow:    5,
			EngagementLimit: 2,
		},
		LLM: LLMConfig{
			Provider:    "openai",
			BaseURL:     "https://api.openai.com/v1",
			Model:       "gpt-4o",
			Temperature: 0.7,
			MaxTokens:   280,
			Timeout:     "30s",
			Models: []ModelBudget{
				{Name: "gemini-2.5-flash", RPM: 10, RPD: 250},
				{Name: "gemini-2.5-flash-lite", RPM: 15, RPD: 1000},
			},
		},
		Platform: PlatformConfig{
			BaseURL: "https://api.apidance.pro",
			Timeout: "30s",
		},
		Notify: NotifyConfig{
			WebhookTimeout: "5s",
			TelegramEvents: []string{"agent.created", "agent.deleted", "agent.paused", "agent.resumed"},
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads path over the defaults. A missing file is not an error. A .env
// file in the working directory is loaded before environment overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		case !os.IsNotExist(err):
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	_ = godotenv.Load()
	cfg.applyEnvOverrides()

	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("FLEET_DB"); v != "" {
		c.Database.Path = v
	}
	if v := os.Getenv("FLEET_HOST"); v != "" {
		c.Server.Host = v
	}
	if v := os.Getenv("FLEET_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
	if v := os.Getenv("FLEET_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}

	if key := os.Getenv("LLM_API_KEY"); key != "" {
		c.LLM.APIKey = key
	}
	if url := os.Getenv("LLM_BASE_URL"); url != "" {
		c.LLM.BaseURL = url
	}
	if model := os.Getenv("LLM_MODEL"); model != "" {
		c.LLM.Model = model
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.LLM.APIKey = key
		c.LLM.Provider = "gemini"
	}

	if key := os.Getenv("PLATFORM_API_KEY"); key != "" {
		c.Platform.APIKey = key
	}
	if url := os.Getenv("PLATFORM_BASE_URL"); url != "" {
		c.Platform.BaseURL = url
	}

	if token := os.Getenv("TELEGRAM_BOT_TOKEN"); token != "" {
		c.Notify.TelegramToken = token
	}
	if raw := os.Getenv("TELEGRAM_CHAT_ID"); raw != "" {
		if id, err := strconv.ParseInt(raw, 10, 64); err == nil {
			c.Notify.TelegramChatID = id
		}
	}
}

// ValidProviders lists the supported content generation backends.
func ValidProviders() []string {
	return []string{"openai", "gemini"}
}

func (c *Config) Validate() error {
	var problems []string
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		problems = append(problems, fmt.Sprintf("server.port %d out of range", c.Server.Port))
	}
	if strings.TrimSpace(c.Database.Path) == "" {
		problems = append(problems, "database.path is required")
	}
	if c.Scheduler.RecentWindow < 0 {
		problems = append(problems, "scheduler.recent_window must not be negative")
	}
	if c.Scheduler.EngagementLimit < 0 {
		problems = append(problems, "scheduler.engagement_limit must not be negative")
	}
	provider := strings.ToLower(c.LLM.Provider)
	valid := false
	for _, p := range ValidProviders() {
		if p == provider {
			valid = true
		}
	}
	if !valid {
		problems = append(problems, fmt.Sprintf("llm.provider %q is not one of %v", c.LLM.Provider, ValidProviders()))
	}
	if provider == "gemini" && len(c.LLM.Models) == 0 {
		problems = append(problems, "llm.models needs at least one gemini model")
	}
	for _, d := range []struct{ name, value string }{
		{"server.shutdown_timeout", c.Server.ShutdownTimeout},
		{"scheduler.tick_timeout", c.Scheduler.TickTimeout},
		{"llm.timeout", c.LLM.Timeout},
		{"platform.timeout", c.Platform.Timeout},
		{"notify.webhook_timeout", c.Notify.WebhookTimeout},
	} {
		if d.value == "" {
			continue
		}
		if _, err := time.ParseDuration(d.value); err != nil {
			problems = append(problems, fmt.Sprintf("%s: %v", d.name, err))
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func (c *Config) GetShutdownTimeout() time.Duration {
	return parseDuration(c.Server.ShutdownTimeout, 15*time.Second)
}

func (c *Config) GetTickTimeout() time.Duration {
	return parseDuration(c.Scheduler.TickTimeout, 2*time.Minute)
}

func (c *Config) GetLLMTimeout() time.Duration {
	return parseDuration(c.LLM.Timeout, 30*time.Second)
}

func (c *Config) GetPlatformTimeout() time.Duration {
	return parseDuration(c.Platform.Timeout, 30*time.Second)
}

func (c *Config) GetWebhookTimeout() time.Duration {
	return parseDuration(c.Notify.WebhookTimeout, 5*time.Second)
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
