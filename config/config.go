package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ErrMissingValue is returned when a required setting is absent or unusable.
var ErrMissingValue = errors.New("missing configuration value")

// DefaultSessionSecret is used when SESSION_SECRET is not set.
const DefaultSessionSecret = "a_very_long_and_random_secret_string"

// SDWebUI holds the connection data of the local Stable-Diffusion-WebUI backend.
type SDWebUI struct {
	Host string `yaml:"host" env:"SD_WEBUI_HOST"`
	Port int    `yaml:"port" env:"SD_WEBUI_PORT"`
}

// BaseURL returns the API root of the WebUI instance.
func (s SDWebUI) BaseURL() string {
	return fmt.Sprintf("http://%s:%d/sdapi/v1", s.Host, s.Port)
}

// OpenAI holds the hosted backend credentials.
type OpenAI struct {
	APIKey  string `yaml:"api_key" env:"OPENAI_API_KEY"`
	BaseURL string `yaml:"base_url" env:"OPENAI_BASE_URL"`
}

// CloudflareCredentials holds the credentials for Cloudflare Workers AI.
type CloudflareCredentials struct {
	AccountID string `yaml:"account_id" env:"CLOUDFLARE_ACCOUNT_ID"`
	APIToken  string `yaml:"api_token" env:"CLOUDFLARE_API_TOKEN"`
}

// Illustration controls how generated images are placed in the document.
type Illustration struct {
	MaxSize       int  `yaml:"max_size" env:"ILLUSTRATION_MAX_SIZE"`
	Downsample    bool `yaml:"downsample" env:"ILLUSTRATION_DOWNSAMPLE"`
	CaptionLength int  `yaml:"caption_length" env:"CAPTION_LENGTH"`
}

// Generation controls job dispatch and outbound calls.
type Generation struct {
	Timeout             time.Duration `yaml:"timeout" env:"GENERATION_TIMEOUT"`
	Interval            time.Duration `yaml:"interval" env:"GENERATION_INTERVAL"`
	EnumerationCacheTTL time.Duration `yaml:"enumeration_cache_ttl" env:"ENUMERATION_CACHE_TTL"`
	HTTPTimeout         time.Duration `yaml:"http_timeout" env:"HTTP_TIMEOUT"`
}

// Settings holds optional application settings.
type Settings struct {
	ListenAddr    string `yaml:"listen_addr" env:"LISTEN_ADDR"`
	WebPassword   string `yaml:"web_password" env:"WEB_PASSWORD"`
	SessionSecret string `yaml:"session_secret" env:"SESSION_SECRET"`
	LogLevel      string `yaml:"log_level" env:"LOG_LEVEL"`
	ExtractDir    string `yaml:"extract_dir" env:"EXTRACT_DIR"`
}

// Config holds the entire application configuration.
type Config struct {
	SDWebUI      SDWebUI               `yaml:"sd_webui"`
	OpenAI       OpenAI                `yaml:"openai"`
	Cloudflare   CloudflareCredentials `yaml:"cloudflare"`
	Illustration Illustration          `yaml:"illustration"`
	Generation   Generation            `yaml:"generation"`
	Settings     Settings              `yaml:"settings"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		SDWebUI: SDWebUI{Host: "127.0.0.1", Port: 7860},
		Illustration: Illustration{
			MaxSize:       768,
			CaptionLength: 79,
		},
		Generation: Generation{
			Timeout:             5 * time.Minute,
			EnumerationCacheTTL: 10 * time.Minute,
			HTTPTimeout:         120 * time.Second,
		},
		Settings: Settings{
			ListenAddr:    "127.0.0.1:8080",
			SessionSecret: DefaultSessionSecret,
			LogLevel:      "info",
			ExtractDir:    filepath.Join(os.TempDir(), "bookreader"),
		},
	}
}

// Load builds the configuration from defaults, the YAML file at path (if it
// exists), a .env file and finally the process environment, each layer
// overriding the previous one.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("decode %s: %w", path, err)
			}
		case !errors.Is(err, os.ErrNotExist):
			return nil, fmt.Errorf("open %s: %w", path, err)
		}
	}

	// .env never overrides variables already present in the environment.
	_ = godotenv.Load()

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env config: %w", err)
	}

	cfg.SDWebUI.Host = strings.TrimSpace(cfg.SDWebUI.Host)
	cfg.OpenAI.APIKey = strings.TrimSpace(cfg.OpenAI.APIKey)
	cfg.Cloudflare.AccountID = strings.TrimSpace(cfg.Cloudflare.AccountID)
	cfg.Cloudflare.APIToken = strings.TrimSpace(cfg.Cloudflare.APIToken)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the values a dialog cannot be opened without.
func (c *Config) Validate() error {
	if c.SDWebUI.Host == "" {
		return fmt.Errorf("%w: SD_WEBUI_HOST", ErrMissingValue)
	}
	if c.SDWebUI.Port <= 0 || c.SDWebUI.Port > 65535 {
		return fmt.Errorf("%w: SD_WEBUI_PORT must be in 1..65535, got %d", ErrMissingValue, c.SDWebUI.Port)
	}
	if c.Illustration.MaxSize <= 0 {
		return fmt.Errorf("%w: ILLUSTRATION_MAX_SIZE must be positive, got %d", ErrMissingValue, c.Illustration.MaxSize)
	}
	if c.Illustration.CaptionLength < 4 {
		return fmt.Errorf("%w: CAPTION_LENGTH must be at least 4, got %d", ErrMissingValue, c.Illustration.CaptionLength)
	}
	return nil
}

// HasOpenAI reports whether the hosted backend can be offered.
func (c *Config) HasOpenAI() bool { return c.OpenAI.APIKey != "" }

// HasCloudflare reports whether the Cloudflare backend can be offered.
func (c *Config) HasCloudflare() bool {
	return c.Cloudflare.AccountID != "" && c.Cloudflare.APIToken != ""
}

// InsecureSessionSecret reports whether the cookie key is still the built-in default.
func (c *Config) InsecureSessionSecret() bool {
	return c.Settings.SessionSecret == DefaultSessionSecret
}
