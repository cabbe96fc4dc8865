package config

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
	"go.uber.org/fx"
)

const (
	sslModeDisable = "disable"
	sslModeRequire = "require"

	FeedDriverPostgres = "postgres"
	FeedDriverRedis    = "redis"

	ProviderPassword = "password"
)

var (
	Module = fx.Provide(
		NewConfig,
	)

	envs = []string{
		"HOST", "PORT", "GRPC_PORT",
		"DB_HOST", "DB_PORT", "DB_USER", "DB_PASSWORD", "DB_NAME", "DB_SSL_MODE",
		"LOG_LEVEL", "LOG_DEVELOPMENT",
		"FEED_DRIVER", "FEED_CHANNEL", "REDIS_ADDR", "REDIS_PASSWORD", "REDIS_DB",
		"SESSION_SECRET", "SESSION_TTL",
		"OAUTH_PROVIDER", "OAUTH_USERINFO_URL", "OAUTH_TIMEOUT",
		"VIEW_SWEEP_INTERVAL", "VIEW_IDLE_TTL",
	}
)

type (
	Config struct {
		Host     string `mapstructure:"HOST"`
		Port     string `mapstructure:"PORT"`
		GRPCPort string `mapstructure:"GRPC_PORT"`

		DBHost     string `mapstructure:"DB_HOST"`
		DBPort     string `mapstructure:"DB_PORT"`
		DBUser     string `mapstructure:"DB_USER"`
		DBPassword string `mapstructure:"DB_PASSWORD"`
		DBName     string `mapstructure:"DB_NAME"`
		DBSSLMode  string `mapstructure:"DB_SSL_MODE"`

		LogLevel       string `mapstructure:"LOG_LEVEL"`
		LogDevelopment bool   `mapstructure:"LOG_DEVELOPMENT"`

		// FeedDriver selects where change events come from: postgres LISTEN/NOTIFY or redis pub/sub.
		FeedDriver    string `mapstructure:"FEED_DRIVER"`
		FeedChannel   string `mapstructure:"FEED_CHANNEL"`
		RedisAddr     string `mapstructure:"REDIS_ADDR"`
		RedisPassword string `mapstructure:"REDIS_PASSWORD"`
		RedisDB       int    `mapstructure:"REDIS_DB"`

		SessionSecret string        `mapstructure:"SESSION_SECRET"`
		SessionTTL    time.Duration `mapstructure:"SESSION_TTL"`

		OAuthProvider    string        `mapstructure:"OAUTH_PROVIDER"`
		OAuthUserInfoURL string        `mapstructure:"OAUTH_USERINFO_URL"`
		OAuthTimeout     time.Duration `mapstructure:"OAUTH_TIMEOUT"`

		// ViewSweepInterval is how often server-side views are checked for expired tokens and idleness.
		ViewSweepInterval time.Duration `mapstructure:"VIEW_SWEEP_INTERVAL"`
		ViewIdleTTL       time.Duration `mapstructure:"VIEW_IDLE_TTL"`
	}
)

func NewConfig() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("BOOKMARKER")

	v.SetDefault("HOST", "0.0.0.0")
	v.SetDefault("PORT", "1323")
	v.SetDefault("GRPC_PORT", "9000")
	v.SetDefault("DB_HOST", "0.0.0.0")
	v.SetDefault("DB_PORT", "5432")
	v.SetDefault("DB_USER", "user")
	v.SetDefault("DB_PASSWORD", "password")
	v.SetDefault("DB_NAME", "db")
	v.SetDefault("DB_SSL_MODE", sslModeDisable)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_DEVELOPMENT", false)
	v.SetDefault("FEED_DRIVER", FeedDriverPostgres)
	v.SetDefault("FEED_CHANNEL", "bookmark_changes")
	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("SESSION_SECRET", "")
	v.SetDefault("SESSION_TTL", "24h")
	v.SetDefault("OAUTH_PROVIDER", "google")
	v.SetDefault("OAUTH_USERINFO_URL", "https://openidconnect.googleapis.com/v1/userinfo")
	v.SetDefault("OAUTH_TIMEOUT", "10s")
	v.SetDefault("VIEW_SWEEP_INTERVAL", "1m")
	v.SetDefault("VIEW_IDLE_TTL", "30m")

	for _, key := range envs {
		if err := v.BindEnv(key); err != nil {
			return nil, err
		}
	}

	cfg := Config{}
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if err := validate(&cfg); err != nil {
		return nil, errors.Wrap(err, "config validation failed")
	}

	return &cfg, nil
}

// DSN is the postgres connection string shared by gorm and the pgx listener.
func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s",
		c.DBHost, c.DBUser, c.DBPassword, c.DBName, c.DBPort, c.DBSSLMode)
}

func (c *Config) HTTPAddr() string {
	return c.Host + ":" + c.Port
}

func (c *Config) GRPCAddr() string {
	return c.Host + ":" + c.GRPCPort
}

func validate(cfg *Config) error {
	if !oneOf(cfg.DBSSLMode, sslModeDisable, sslModeRequire) {
		return errors.New(fmt.Sprintf("DB SSL mode is invalid: %s", cfg.DBSSLMode))
	}
	if !oneOf(cfg.LogLevel, "debug", "info", "warn", "error") {
		return errors.New(fmt.Sprintf("log level is invalid: %s", cfg.LogLevel))
	}
	if !oneOf(cfg.FeedDriver, FeedDriverPostgres, FeedDriverRedis) {
		return errors.New(fmt.Sprintf("feed driver is invalid: %s", cfg.FeedDriver))
	}
	if cfg.FeedChannel == "" {
		return errors.New("feed channel must not be empty")
	}
	if len(cfg.SessionSecret) < 32 {
		return errors.New("session secret must be at least 32 bytes")
	}
	if cfg.SessionTTL <= 0 {
		return errors.New(fmt.Sprintf("session ttl must be positive: %s", cfg.SessionTTL))
	}
	if cfg.ViewSweepInterval <= 0 {
		return errors.New(fmt.Sprintf("view sweep interval must be positive: %s", cfg.ViewSweepInterval))
	}
	if cfg.ViewIdleTTL < 0 {
		return errors.New(fmt.Sprintf("view idle ttl must not be negative: %s", cfg.ViewIdleTTL))
	}
	if cfg.OAuthProvider == ProviderPassword {
		return errors.New("oauth provider name collides with the password provider")
	}
	return nil
}

func oneOf(value string, valid ...string) bool {
	for _, v := range valid {
		if value == v {
			return true
		}
	}
	return false
}
