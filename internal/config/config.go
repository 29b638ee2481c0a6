package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"
)

// Storage drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverConsole  = "console"
)

// ErrMissingModelKey is returned by RequireModelKey when no model credential
// was configured.
var ErrMissingModelKey = errors.New("missing required config: model API key. Set it via environment variable CHATD_MODEL_API_KEY")

type Config struct {
	Server  ServerConfig
	Model   ModelConfig
	Chat    ChatConfig
	Weather WeatherConfig
	Geo     GeoConfig
	Storage StorageConfig
	Log     LogConfig
}

type ServerConfig struct {
	Host       string
	Port       int
	MaxConns   int
	StaticDir  string
	AdminToken string
}

// Addr is the listen address.
func (c ServerConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

type ModelConfig struct {
	APIKey      string
	BaseURL     string
	Name        string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

type ChatConfig struct {
	BotName  string
	Timezone string
}

// Location resolves Timezone.
func (c ChatConfig) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("loading timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

type WeatherConfig struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
}

type GeoConfig struct {
	BaseURL string
	Timeout time.Duration
}

type StorageConfig struct {
	Driver      string
	DataDir     string
	DatabaseURL string
}

type LogConfig struct {
	Level  string
	Format string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Host:     "127.0.0.1",
			Port:     3000,
			MaxConns: 256,
		},
		Model: ModelConfig{
			BaseURL:     "https://openrouter.ai/api/v1",
			Name:        "google/gemini-2.0-flash-001",
			Temperature: 0.7,
			MaxTokens:   1024,
			Timeout:     30 * time.Second,
		},
		Chat: ChatConfig{
			BotName:  "GeminiBot",
			Timezone: "America/Sao_Paulo",
		},
		Weather: WeatherConfig{
			BaseURL: "https://api.openweathermap.org/data/2.5",
			Timeout: 10 * time.Second,
		},
		Geo: GeoConfig{
			BaseURL: "http://ip-api.com/json",
			Timeout: 5 * time.Second,
		},
		Storage: StorageConfig{
			Driver:  DriverSQLite,
			DataDir: defaultDataDir(),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads configuration from the config file at
// $XDG_CONFIG_HOME/chatd/config.{toml,json,yaml}, then applies CHATD_*
// environment overrides. Secrets are only read from the environment.
//
// Load does not require the model credential; commands that talk to the
// model call RequireModelKey.
func Load() (Config, error) {
	return loadWith(newFileBackend(configFilePath()))
}

func loadFromPath(path string) (Config, error) {
	return loadWith(newFileBackend(path))
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports the first out-of-range value.
func (c Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port %d: must be between 1 and 65535", c.Server.Port)
	}
	if c.Server.MaxConns < 1 {
		return fmt.Errorf("invalid server.max_conns %d: must be positive", c.Server.MaxConns)
	}
	if c.Model.Temperature < 0 || c.Model.Temperature > 2 {
		return fmt.Errorf("invalid model.temperature %v: must be between 0 and 2", c.Model.Temperature)
	}
	if c.Model.MaxTokens < 1 {
		return fmt.Errorf("invalid model.max_tokens %d: must be positive", c.Model.MaxTokens)
	}
	for key, d := range map[string]time.Duration{
		"model.timeout":   c.Model.Timeout,
		"weather.timeout": c.Weather.Timeout,
		"geo.timeout":     c.Geo.Timeout,
	} {
		if d <= 0 {
			return fmt.Errorf("invalid %s %v: must be positive", key, d)
		}
	}
	switch c.Storage.Driver {
	case DriverSQLite, DriverPostgres, DriverConsole:
	default:
		return fmt.Errorf("invalid storage.driver %q: want sqlite, postgres or console", c.Storage.Driver)
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log.level %q: want debug, info, warn or error", c.Log.Level)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log.format %q: want text or json", c.Log.Format)
	}
	if _, err := c.Chat.Location(); err != nil {
		return err
	}
	return nil
}

// RequireModelKey fails when no model credential is configured.
func (c Config) RequireModelKey() error {
	if strings.TrimSpace(c.Model.APIKey) == "" {
		return ErrMissingModelKey
	}
	return nil
}
