package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestNewConfig(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		t.Setenv("BOOKMARKER_SESSION_SECRET", testSecret)

		cfg, err := NewConfig()
		require.NoError(t, err)

		assert.Equal(t, "0.0.0.0:1323", cfg.HTTPAddr())
		assert.Equal(t, "0.0.0.0:9000", cfg.GRPCAddr())
		assert.Equal(t, FeedDriverPostgres, cfg.FeedDriver)
		assert.Equal(t, "bookmark_changes", cfg.FeedChannel)
		assert.Equal(t, 24*time.Hour, cfg.SessionTTL)
		assert.Equal(t, 10*time.Second, cfg.OAuthTimeout)
		assert.Equal(t, time.Minute, cfg.ViewSweepInterval)
		assert.Equal(t, 30*time.Minute, cfg.ViewIdleTTL)
		assert.Equal(t, "host=0.0.0.0 user=user password=password dbname=db port=5432 sslmode=disable", cfg.DSN())
	})

	t.Run("env overrides", func(t *testing.T) {
		t.Setenv("BOOKMARKER_SESSION_SECRET", testSecret)
		t.Setenv("BOOKMARKER_FEED_DRIVER", "redis")
		t.Setenv("BOOKMARKER_SESSION_TTL", "30m")
		t.Setenv("BOOKMARKER_DB_SSL_MODE", "require")

		cfg, err := NewConfig()
		require.NoError(t, err)

		assert.Equal(t, FeedDriverRedis, cfg.FeedDriver)
		assert.Equal(t, 30*time.Minute, cfg.SessionTTL)
		assert.Equal(t, "require", cfg.DBSSLMode)
	})

	t.Run("missing secret", func(t *testing.T) {
		_, err := NewConfig()
		assert.Error(t, err)
	})
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			DBSSLMode:     sslModeDisable,
			LogLevel:      "info",
			FeedDriver:    FeedDriverPostgres,
			FeedChannel:   "bookmark_changes",
			SessionSecret: testSecret,
			SessionTTL:    time.Hour,
			OAuthProvider: "google",

			ViewSweepInterval: time.Minute,
		}
	}

	assert.NoError(t, validate(valid()))

	cases := map[string]func(c *Config){
		"ssl mode":     func(c *Config) { c.DBSSLMode = "verify-full" },
		"log level":    func(c *Config) { c.LogLevel = "trace" },
		"feed driver":  func(c *Config) { c.FeedDriver = "kafka" },
		"feed channel": func(c *Config) { c.FeedChannel = "" },
		"short secret": func(c *Config) { c.SessionSecret = "short" },
		"ttl":          func(c *Config) { c.SessionTTL = 0 },
		"provider":     func(c *Config) { c.OAuthProvider = ProviderPassword },
		"sweep":        func(c *Config) { c.ViewSweepInterval = 0 },
		"idle ttl":     func(c *Config) { c.ViewIdleTTL = -time.Second },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := valid()
			mutate(cfg)
			assert.Error(t, validate(cfg))
		})
	}
}
