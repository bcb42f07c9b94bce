// Package config assembles process configuration from built-in defaults,
// an optional YAML file, an optional .env file and the environment, in
// that order of increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

var ErrMissingAPIKey = errors.New("model API key is not configured")

type Config struct {
	Server   ServerConfig      `yaml:"server"`
	Database DatabaseConfig    `yaml:"database"`
	LLM      LLMConfig         `yaml:"llm"`
	Auth     AuthConfig        `yaml:"auth"`
	Log      LogConfig         `yaml:"log"`
	Personas map[string]string `yaml:"personas"`
}

type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	// ChatRate is the sustained number of model calls per second allowed
	// for one remote address.
	ChatRate  float64 `yaml:"chat_rate"`
	ChatBurst int     `yaml:"chat_burst"`
}

type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

type LLMConfig struct {
	Provider    string        `yaml:"provider"`
	Model       string        `yaml:"model"`
	BaseURL     string        `yaml:"base_url"`
	APIKey      string        `yaml:"-"`
	Persona     string        `yaml:"persona"`
	PersonaText string        `yaml:"persona_text"`
	Timeout     time.Duration `yaml:"timeout"`
	Sampling    Sampling      `yaml:"sampling"`
}

type Sampling struct {
	Temperature     float64 `yaml:"temperature"`
	TopP            float64 `yaml:"top_p"`
	TopK            int     `yaml:"top_k"`
	MaxOutputTokens int     `yaml:"max_output_tokens"`
}

type AuthConfig struct {
	SupabaseURL     string `yaml:"supabase_url"`
	SupabaseAnonKey string `yaml:"-"`
	DevUser         string `yaml:"dev_user"`
	LoginURL        string `yaml:"login_url"`
}

type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:         ":8100",
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 90 * time.Second,
			ChatRate:     1,
			ChatBurst:    5,
		},
		Database: DatabaseConfig{
			Driver: "sqlite3",
			DSN:    "file:chat.db?_foreign_keys=on",
		},
		LLM: LLMConfig{
			Provider: ProviderGemini,
			Model:    "gemini-2.0-flash-exp",
			Persona:  PersonaNeutral,
			Timeout:  60 * time.Second,
			Sampling: Sampling{
				Temperature:     1.0,
				TopP:            0.95,
				TopK:            40,
				MaxOutputTokens: 8192,
			},
		},
		Auth: AuthConfig{
			LoginURL: "/auth/login",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

var dotenvPath = ".env"

// Load builds the configuration. path names a YAML file; when empty,
// CONFIG_FILE and then ./config.yaml are tried. A missing file is not an
// error, a malformed one is.
func Load(path string) (*Config, error) {
	cfg := Default()

	// .env only fills variables that are not already set, CONFIG_FILE
	// included.
	if err := godotenv.Load(dotenvPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load %s: %w", dotenvPath, err)
	}

	if path == "" {
		path = os.Getenv("CONFIG_FILE")
	}
	explicit := path != ""
	if !explicit {
		path = "config.yaml"
	}
	if err := cfg.loadFile(path, explicit); err != nil {
		return nil, err
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string, required bool) error {
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !required {
			return nil
		}
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(b, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	setString(&c.Server.Addr, "LISTEN_ADDR")
	setString(&c.Database.Driver, "DB_DRIVER")
	setString(&c.Database.DSN, "DB_DSN")
	setString(&c.LLM.Provider, "LLM_PROVIDER")
	setString(&c.LLM.Model, "LLM_MODEL")
	setString(&c.LLM.BaseURL, "LLM_BASE_URL")
	setString(&c.LLM.Persona, "LLM_PERSONA")
	setString(&c.LLM.PersonaText, "LLM_PERSONA_TEXT")
	setString(&c.Auth.SupabaseURL, "SUPABASE_URL")
	setString(&c.Auth.SupabaseAnonKey, "SUPABASE_ANON_KEY")
	setString(&c.Auth.DevUser, "AUTH_DEV_USER")
	setString(&c.Auth.LoginURL, "LOGIN_URL")
	setString(&c.Log.Level, "LOG_LEVEL")

	if v, ok := os.LookupEnv("LLM_TIMEOUT"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid LLM_TIMEOUT %q: %w", v, err)
		}
		c.LLM.Timeout = d
	}
	if v, ok := os.LookupEnv("CHAT_RATE"); ok && v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid CHAT_RATE %q: %w", v, err)
		}
		c.Server.ChatRate = f
	}

	c.LLM.APIKey = apiKeyFor(c.LLM.Provider)
	return nil
}

func apiKeyFor(provider string) string {
	switch provider {
	case ProviderOpenAI:
		return os.Getenv("OPENAI_API_KEY")
	case ProviderAnthropic:
		return os.Getenv("ANTHROPIC_API_KEY")
	default:
		return os.Getenv("GEMINI_API_KEY")
	}
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}
