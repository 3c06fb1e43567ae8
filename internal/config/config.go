package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is the process configuration. Values come from an optional
// config.yaml, an optional .env file and the environment (APP_PORT overrides
// app.port, and so on).
type Config struct {
	App     AppConfig     `mapstructure:"app"`
	DB      DBConfig      `mapstructure:"db"`
	Warming WarmingConfig `mapstructure:"warming"`
	Gateway GatewayConfig `mapstructure:"gateway"`
	Gemini  GeminiConfig  `mapstructure:"gemini"`
	Redis   RedisConfig   `mapstructure:"redis"`
	Nats    NatsConfig    `mapstructure:"nats"`
	Monitor MonitorConfig `mapstructure:"monitor"`
	Sender  SenderConfig  `mapstructure:"sender"`
}

type AppConfig struct {
	Env  string `mapstructure:"env"`
	Port int    `mapstructure:"port"`
}

type DBConfig struct {
	DSN string `mapstructure:"dsn"`
	// WADSN is the whatsmeow device store; it may share the main database file.
	WADSN string `mapstructure:"wa_dsn"`
}

type WarmingConfig struct {
	Timezone  string `mapstructure:"timezone"`
	StartHour int    `mapstructure:"start_hour"`
	EndHour   int    `mapstructure:"end_hour"`
}

type GatewayConfig struct {
	BaseURL     string        `mapstructure:"base_url"`
	BearerToken string        `mapstructure:"bearer_token"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

type GeminiConfig struct {
	APIKey string `mapstructure:"api_key"`
	Model  string `mapstructure:"model"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type NatsConfig struct {
	URL     string `mapstructure:"url"`
	Subject string `mapstructure:"subject"`
}

type MonitorConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

type SenderConfig struct {
	RatePerMinute int `mapstructure:"rate_per_minute"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.env", "local")
	v.SetDefault("app.port", 9724)
	v.SetDefault("db.dsn", "file:warmer.db?_foreign_keys=on")
	v.SetDefault("db.wa_dsn", "file:warmer-wa.db?_foreign_keys=on")
	v.SetDefault("warming.timezone", "America/Sao_Paulo")
	v.SetDefault("warming.start_hour", 8)
	v.SetDefault("warming.end_hour", 22)
	v.SetDefault("gateway.base_url", "https://gateway.apibrasil.io")
	v.SetDefault("gateway.bearer_token", "")
	v.SetDefault("gateway.timeout", 30*time.Second)
	v.SetDefault("gemini.api_key", "")
	v.SetDefault("gemini.model", "gemini-2.0-flash")
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("nats.url", "")
	v.SetDefault("nats.subject", "warmer.webhooks")
	v.SetDefault("monitor.interval", 30*time.Second)
	v.SetDefault("sender.rate_per_minute", 20)
}

// Load reads configuration. configPath may be empty, in which case
// ./config.yaml is used when present.
func Load(configPath string) (Config, error) {
	// .env is optional.
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configPath != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate reports every configuration problem at once.
func (c Config) Validate() error {
	var errs []error

	if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("app.env must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("app.port must be a valid port, got %d", c.App.Port))
	}
	if strings.TrimSpace(c.DB.DSN) == "" {
		errs = append(errs, errors.New("db.dsn is required"))
	}
	if _, err := time.LoadLocation(c.Warming.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("warming.timezone: %w", err))
	}
	if c.Warming.StartHour < 0 || c.Warming.EndHour > 24 || c.Warming.StartHour >= c.Warming.EndHour {
		errs = append(errs, fmt.Errorf("warming hours must satisfy 0 <= start < end <= 24, got %d..%d", c.Warming.StartHour, c.Warming.EndHour))
	}
	if c.Gateway.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("gateway.timeout must be positive, got %s", c.Gateway.Timeout))
	}
	if c.IsProduction() && c.Gemini.APIKey == "" {
		errs = append(errs, errors.New("gemini.api_key is required in production"))
	}
	if c.Monitor.Interval <= 0 {
		errs = append(errs, fmt.Errorf("monitor.interval must be positive, got %s", c.Monitor.Interval))
	}
	if c.Sender.RatePerMinute <= 0 {
		errs = append(errs, fmt.Errorf("sender.rate_per_minute must be positive, got %d", c.Sender.RatePerMinute))
	}

	return errors.Join(errs...)
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

// Location returns the warming timezone, falling back to UTC.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Warming.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func isValidEnv(env string) bool {
	switch env {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}
