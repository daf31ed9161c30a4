// Package config handles Aline configuration loading.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "time/tzdata" // scheduler.timezone must resolve on minimal images

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order:
// ./config.yaml, ~/.config/aline/config.yaml, /etc/aline/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "aline", "config.yaml"))
	}

	paths = append(paths, "/etc/aline/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise the first existing entry of DefaultSearchPaths is returned.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all Aline configuration.
type Config struct {
	// Env is "dev" or "prod". In dev the LINE webhook skips signature
	// verification when no channel secret is configured.
	Env       string          `yaml:"env"`
	Listen    ListenConfig    `yaml:"listen"`
	DataDir   string          `yaml:"data_dir"`
	Logging   LoggingConfig   `yaml:"logging"`
	Models    ModelsConfig    `yaml:"models"`
	Providers ProvidersConfig `yaml:"providers"`
	Retry     RetryConfig     `yaml:"retry"`
	Router    RouterConfig    `yaml:"router"`
	Adapters  AdaptersConfig  `yaml:"adapters"`
	News      NewsConfig      `yaml:"news"`
	Stations  StationsConfig  `yaml:"stations"`
	Search    SearchConfig    `yaml:"search"`
	Line      LineConfig      `yaml:"line"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Memory    MemoryConfig    `yaml:"memory"`
	API       APIConfig       `yaml:"api"`
}

// ListenConfig defines the HTTP server bind address.
type ListenConfig struct {
	Address string `yaml:"address"` // "" = all interfaces
	Port    int    `yaml:"port"`
}

// LoggingConfig controls the process logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // trace, debug, info, warn, error
	Format string `yaml:"format"` // text or json
}

// ModelsConfig binds each role to a model reference of the form
// "provider/model", e.g. "openai/gpt-4o-mini" or "gemini/gemini-2.0-flash".
type ModelsConfig struct {
	Router    string `yaml:"router"`
	Handler   string `yaml:"handler"`
	Guardrail string `yaml:"guardrail"`
	Extractor string `yaml:"extractor"`
}

// ProvidersConfig holds credentials for the model providers.
type ProvidersConfig struct {
	OpenAI ProviderConfig `yaml:"openai"`
	Gemini ProviderConfig `yaml:"gemini"`
}

// ProviderConfig is one OpenAI-compatible chat completions endpoint.
type ProviderConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
}

// Configured reports whether the provider has credentials.
func (p ProviderConfig) Configured() bool { return p.APIKey != "" }

// RetryConfig is the uniform model-call retry policy.
type RetryConfig struct {
	MaxAttempts   int           `yaml:"max_attempts"`
	FallbackModel string        `yaml:"fallback_model"`
	Backoff       time.Duration `yaml:"backoff"`
	CallTimeout   time.Duration `yaml:"call_timeout"`
}

// RouterConfig bounds the routing loop and each handler's tool loop.
type RouterConfig struct {
	MaxTurns        int `yaml:"max_turns"`
	HandlerMaxTurns int `yaml:"handler_max_turns"`
}

// AdaptersConfig holds credentials for the capability adapters.
type AdaptersConfig struct {
	Timeout     time.Duration     `yaml:"timeout"`
	OpenWeather OpenWeatherConfig `yaml:"openweather"`
	Naver       NaverConfig       `yaml:"naver"`
	Seoul       SeoulConfig       `yaml:"seoul"`
}

// OpenWeatherConfig configures the One Call weather API.
type OpenWeatherConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
}

// NaverConfig configures the Naver Maps geocoder.
type NaverConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	BaseURL      string `yaml:"base_url"`
}

// SeoulConfig configures the Seoul open data subway API.
type SeoulConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
}

// NewsConfig configures the news feed adapter.
type NewsConfig struct {
	BaseURL string        `yaml:"base_url"`
	Refresh time.Duration `yaml:"refresh"`
}

// StationsConfig points at the station directory JSON file.
type StationsConfig struct {
	File  string `yaml:"file"`
	Watch bool   `yaml:"watch"`
}

// SearchConfig configures the web search tool.
type SearchConfig struct {
	Default string             `yaml:"default"` // gemini or brave
	Gemini  GeminiSearchConfig `yaml:"gemini"`
	Brave   BraveSearchConfig  `yaml:"brave"`
}

// GeminiSearchConfig configures grounded search through Gemini.
type GeminiSearchConfig struct {
	Model string `yaml:"model"`
}

// BraveSearchConfig configures the Brave Search API.
type BraveSearchConfig struct {
	APIKey string `yaml:"api_key"`
}

// Configured reports whether the Brave key is set.
func (c BraveSearchConfig) Configured() bool { return c.APIKey != "" }

// LineConfig configures the LINE Messaging API.
type LineConfig struct {
	ChannelToken  string  `yaml:"channel_token"`
	ChannelSecret string  `yaml:"channel_secret"`
	BaseURL       string  `yaml:"base_url"`
	PushPerSecond float64 `yaml:"push_per_second"`
}

// Configured reports whether LINE push is possible.
func (c LineConfig) Configured() bool { return c.ChannelToken != "" }

// MQTTConfig configures the optional MQTT push sink.
type MQTTConfig struct {
	Broker      string `yaml:"broker"` // mqtt://host:1883 or mqtts://host:8883
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	ClientID    string `yaml:"client_id"`
	TopicPrefix string `yaml:"topic_prefix"`
}

// Configured reports whether an MQTT broker is set.
func (c MQTTConfig) Configured() bool { return c.Broker != "" }

// SchedulerConfig configures the dispatch engine.
type SchedulerConfig struct {
	Disabled bool          `yaml:"disabled"`
	Tick     time.Duration `yaml:"tick"`
	Timezone string        `yaml:"timezone"`
	Workers  int           `yaml:"workers"`
}

// Location resolves Timezone.
func (c SchedulerConfig) Location() (*time.Location, error) {
	return time.LoadLocation(c.Timezone)
}

// MemoryConfig sizes the conversation window. The window keeps
// 2*Size messages.
type MemoryConfig struct {
	Size int `yaml:"size"`
}

// APIConfig protects the /v1 routes. An empty token disables auth.
type APIConfig struct {
	Token string `yaml:"token"`
}

// Load reads configuration from a YAML file, expanding ${VAR}
// references from the environment, and fills defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.applyDefaults()
	return cfg, nil
}

// Default returns a configuration usable for local development.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Env == "" {
		c.Env = "dev"
	}
	if c.Listen.Port == 0 {
		c.Listen.Port = 8080
	}
	if c.DataDir == "" {
		c.DataDir = "./data"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Models.Router == "" {
		c.Models.Router = "gemini/gemini-2.0-flash"
	}
	if c.Models.Handler == "" {
		c.Models.Handler = "openai/gpt-4o-mini"
	}
	if c.Models.Guardrail == "" {
		c.Models.Guardrail = "openai/gpt-4.1-nano"
	}
	if c.Models.Extractor == "" {
		c.Models.Extractor = "openai/gpt-4o-mini"
	}
	if c.Retry.MaxAttempts == 0 {
		c.Retry.MaxAttempts = 2
	}
	if c.Retry.Backoff == 0 {
		c.Retry.Backoff = 500 * time.Millisecond
	}
	if c.Retry.CallTimeout == 0 {
		c.Retry.CallTimeout = 30 * time.Second
	}
	if c.Router.MaxTurns == 0 {
		c.Router.MaxTurns = 3
	}
	if c.Router.HandlerMaxTurns == 0 {
		c.Router.HandlerMaxTurns = 3
	}
	if c.Adapters.Timeout == 0 {
		c.Adapters.Timeout = 10 * time.Second
	}
	if c.News.Refresh == 0 {
		c.News.Refresh = 4 * time.Hour
	}
	if c.Search.Default == "" {
		c.Search.Default = "gemini"
	}
	if c.Search.Gemini.Model == "" {
		c.Search.Gemini.Model = "gemini-2.0-flash"
	}
	if c.Line.PushPerSecond == 0 {
		c.Line.PushPerSecond = 10
	}
	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = "aline"
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = "aline-bot"
	}
	if c.Scheduler.Tick == 0 {
		c.Scheduler.Tick = 2 * time.Second
	}
	if c.Scheduler.Timezone == "" {
		c.Scheduler.Timezone = "Asia/Seoul"
	}
	if c.Scheduler.Workers == 0 {
		c.Scheduler.Workers = 4
	}
	if c.Memory.Size == 0 {
		c.Memory.Size = 10
	}
}

// Validate reports every configuration problem at once.
func (c *Config) Validate() error {
	var errs []error
	switch c.Env {
	case "dev", "prod":
	default:
		errs = append(errs, fmt.Errorf("env %q must be dev or prod", c.Env))
	}
	if c.Listen.Port < 1 || c.Listen.Port > 65535 {
		errs = append(errs, fmt.Errorf("listen.port %d out of range", c.Listen.Port))
	}
	if _, err := ParseLogLevel(c.Logging.Level); err != nil {
		errs = append(errs, err)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format %q must be text or json", c.Logging.Format))
	}
	for role, ref := range map[string]string{
		"router":    c.Models.Router,
		"handler":   c.Models.Handler,
		"guardrail": c.Models.Guardrail,
		"extractor": c.Models.Extractor,
	} {
		if !strings.Contains(ref, "/") {
			errs = append(errs, fmt.Errorf("models.%s %q must be provider/model", role, ref))
		}
	}
	if c.Router.MaxTurns < 1 {
		errs = append(errs, fmt.Errorf("router.max_turns must be >= 1, got %d", c.Router.MaxTurns))
	}
	if c.Router.HandlerMaxTurns < 1 {
		errs = append(errs, fmt.Errorf("router.handler_max_turns must be >= 1, got %d", c.Router.HandlerMaxTurns))
	}
	if c.Retry.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("retry.max_attempts must be >= 1, got %d", c.Retry.MaxAttempts))
	}
	if c.Memory.Size < 1 {
		errs = append(errs, fmt.Errorf("memory.size must be >= 1, got %d", c.Memory.Size))
	}
	if c.Scheduler.Tick < time.Second {
		errs = append(errs, fmt.Errorf("scheduler.tick %v is below 1s", c.Scheduler.Tick))
	}
	if _, err := c.Scheduler.Location(); err != nil {
		errs = append(errs, fmt.Errorf("scheduler.timezone: %w", err))
	}
	if c.Env == "prod" && c.Line.Configured() && c.Line.ChannelSecret == "" {
		errs = append(errs, errors.New("line.channel_secret is required in prod"))
	}
	return errors.Join(errs...)
}
