package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "govwatch", cfg.Database.Database)
	assert.Len(t, cfg.Scraper.TargetURLs, 2)
	assert.Equal(t, 45*time.Second, cfg.Scraper.NavTimeout)
	assert.Equal(t, 5*time.Second, cfg.Scraper.SettleDelay)
	assert.True(t, cfg.Scraper.Headless)
	assert.False(t, cfg.Redis.Enabled)
	assert.False(t, cfg.NATS.Enabled)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("SCRAPER_TARGET_URLS", "https://a.gov.my/, https://b.gov.my/page")
	t.Setenv("SCRAPER_NAV_TIMEOUT", "90s")
	t.Setenv("SCRAPER_HEADLESS", "false")
	t.Setenv("REDIS_ENABLED", "true")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, []string{"https://a.gov.my/", "https://b.gov.my/page"}, cfg.Scraper.TargetURLs)
	assert.Equal(t, 90*time.Second, cfg.Scraper.NavTimeout)
	assert.False(t, cfg.Scraper.Headless)
	assert.True(t, cfg.Redis.Enabled)
}

func TestLoadRejectsBadTargetURLs(t *testing.T) {
	t.Setenv("SCRAPER_TARGET_URLS", "ftp://example.com")

	_, err := Load()
	assert.Error(t, err)
}

func TestDSN(t *testing.T) {
	c := DatabaseConfig{
		Host: "db", Port: 5432, User: "u", Password: "p", Database: "govwatch", SSLMode: "disable",
	}
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=govwatch sslmode=disable", c.DSN())
}

func TestRedisAddr(t *testing.T) {
	c := RedisConfig{Host: "cache", Port: 6380}
	assert.Equal(t, "cache:6380", c.Addr())
}
