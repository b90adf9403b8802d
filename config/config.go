// Package config loads the application configuration from an optional JSON
// file plus INQUEST_* environment variables.
package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the research service.
type Config struct {
	General  GeneralConfig  `mapstructure:"general"`
	Server   ServerConfig   `mapstructure:"server"`
	LLM      LLMConfig      `mapstructure:"llm"`
	Search   SearchConfig   `mapstructure:"search"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Research ResearchConfig `mapstructure:"research"`
	Dispatch DispatchConfig `mapstructure:"dispatch"`
}

// GeneralConfig contains general application settings.
type GeneralConfig struct {
	Debug    bool   `mapstructure:"debug"`
	LogLevel string `mapstructure:"log_level"`
}

// ServerConfig contains HTTP server and auth settings.
type ServerConfig struct {
	Address   string `mapstructure:"address"`
	JWTSecret string `mapstructure:"jwt_secret"`
	Metrics   bool   `mapstructure:"metrics"`
}

// LLMConfig configures the generation capability.
type LLMConfig struct {
	APIKey      string  `mapstructure:"api_key"`
	Model       string  `mapstructure:"model"`
	BaseURL     string  `mapstructure:"base_url"`
	Temperature float64 `mapstructure:"temperature"`
	MaxTokens   int     `mapstructure:"max_tokens"`
}

func (l LLMConfig) Validate() error {
	if strings.TrimSpace(l.APIKey) == "" {
		return fmt.Errorf("llm.api_key required")
	}
	if strings.TrimSpace(l.Model) == "" {
		return fmt.Errorf("llm.model required")
	}
	return nil
}

// SearchConfig configures the retrieval adapters. Adapters without a key
// requirement (wikipedia, arxiv) are always available.
type SearchConfig struct {
	SerperAPIKey string `mapstructure:"serper_api_key"`
	BraveAPIKey  string `mapstructure:"brave_api_key"`
	FetchContent bool   `mapstructure:"fetch_content"`
}

// RedisConfig locates the Redis instance used for dispatch and the event
// relay in distributed mode.
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

func (r RedisConfig) Addr() string {
	return net.JoinHostPort(r.Host, r.Port)
}

func (r RedisConfig) Validate() error {
	if strings.TrimSpace(r.Host) == "" {
		return fmt.Errorf("storage.redis.host required")
	}
	if strings.TrimSpace(r.Port) == "" {
		return fmt.Errorf("storage.redis.port required")
	}
	return nil
}

// PostgresConfig locates the checkpoint database. URL wins when set.
type PostgresConfig struct {
	URL      string `mapstructure:"url"`
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

func (p PostgresConfig) Validate() error {
	if strings.TrimSpace(p.URL) != "" {
		return nil
	}
	if strings.TrimSpace(p.Host) == "" {
		return fmt.Errorf("storage.postgres.host required when url is not provided")
	}
	if strings.TrimSpace(p.Port) == "" {
		return fmt.Errorf("storage.postgres.port required when url is not provided")
	}
	if strings.TrimSpace(p.DBName) == "" {
		return fmt.Errorf("storage.postgres.dbname required when url is not provided")
	}
	return nil
}

// DSN returns the connection string for database/sql.
func (p PostgresConfig) DSN() string {
	if strings.TrimSpace(p.URL) != "" {
		return p.URL
	}
	sslmode := p.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	u := url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(p.Host, p.Port),
		Path:   "/" + p.DBName,
	}
	if p.User != "" {
		if p.Password != "" {
			u.User = url.UserPassword(p.User, p.Password)
		} else {
			u.User = url.User(p.User)
		}
	}
	q := u.Query()
	q.Set("sslmode", sslmode)
	u.RawQuery = q.Encode()
	return u.String()
}

// StorageConfig groups the persistence backends.
type StorageConfig struct {
	Postgres  PostgresConfig `mapstructure:"postgres"`
	Redis     RedisConfig    `mapstructure:"redis"`
	IndexPath string         `mapstructure:"index_path"`
}

// ResearchConfig tunes the orchestration engine.
type ResearchConfig struct {
	MaxIterations  int           `mapstructure:"max_iterations"`
	MaxSources     int           `mapstructure:"max_sources"`
	FanOut         int           `mapstructure:"fan_out"`
	SearchTimeout  time.Duration `mapstructure:"search_timeout"`
	ScoreThreshold float64       `mapstructure:"score_threshold"`
	ClassifyChat   bool          `mapstructure:"classify_chat"`
}

func (r ResearchConfig) Validate() error {
	if r.MaxIterations < 1 {
		return fmt.Errorf("research.max_iterations must be >= 1")
	}
	if r.MaxSources < 1 {
		return fmt.Errorf("research.max_sources must be >= 1")
	}
	if r.ScoreThreshold <= 0 || r.ScoreThreshold > 1 {
		return fmt.Errorf("research.score_threshold must be in (0,1]")
	}
	return nil
}

// Dispatch modes.
const (
	DispatchLocal = "local"
	DispatchRedis = "redis"
)

// DispatchConfig selects the execution backend.
type DispatchConfig struct {
	Mode string `mapstructure:"mode"`
}

func (d DispatchConfig) Validate() error {
	switch d.Mode {
	case DispatchLocal, DispatchRedis:
		return nil
	default:
		return fmt.Errorf("dispatch.mode must be %q or %q", DispatchLocal, DispatchRedis)
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("general.debug", false)
	v.SetDefault("general.log_level", "info")
	v.SetDefault("server.address", ":10001")
	v.SetDefault("server.metrics", true)
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.temperature", 0.3)
	v.SetDefault("llm.max_tokens", 4096)
	v.SetDefault("search.fetch_content", false)
	v.SetDefault("storage.redis.host", "localhost")
	v.SetDefault("storage.redis.port", "6379")
	v.SetDefault("storage.postgres.sslmode", "disable")
	v.SetDefault("research.max_iterations", 3)
	v.SetDefault("research.max_sources", 10)
	v.SetDefault("research.fan_out", 4)
	v.SetDefault("research.search_timeout", 15*time.Second)
	v.SetDefault("research.score_threshold", 0.7)
	v.SetDefault("research.classify_chat", true)
	v.SetDefault("dispatch.mode", DispatchLocal)
}

// Load reads configuration from the given JSON file (optional when path is
// empty) and from INQUEST_* environment variables, which take precedence.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("INQUEST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("json")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Research.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Dispatch.Validate(); err != nil {
		return nil, err
	}
	if cfg.Dispatch.Mode == DispatchRedis {
		if err := cfg.Storage.Redis.Validate(); err != nil {
			return nil, err
		}
	}
	return &cfg, nil
}
