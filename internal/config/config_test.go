package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func baseEnv() map[string]string {
	return map[string]string{
		"JWT_SECRET":                "secret",
		"DATABASE_URL":              "",
		"REDIS_URL":                 "",
		"ARCHIVE_MODE":              "",
		"UPSERT_RATE_LIMIT":         "",
		"HISTORY_LIMIT":             "",
		"PORT":                      "",
		"WEBHOOK_URL":               "",
		"RATE_LIMIT_STRATEGY":       "",
		"WEBHOOK_SECRET":            "",
		"MAX_CONTRIBUTION_QUANTITY": "",
		"MAX_BATCH_QUANTITY":        "",
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadForTests(baseEnv())
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.HTTPAddr())
	require.Equal(t, time.Second, cfg.UpsertRateWindow)
	require.Equal(t, 20, cfg.UpsertRateMax)
	require.Equal(t, 50, cfg.HistoryLimit)
	require.Equal(t, ArchiveOff, cfg.ArchiveMode, "sync archive without a database degrades to off")
	require.True(t, cfg.AllowGuests)
}

func TestLoadRequiresSecret(t *testing.T) {
	env := baseEnv()
	env["JWT_SECRET"] = ""
	_, err := LoadForTests(env)
	require.Error(t, err)
}

func TestLoadRejectsBadRate(t *testing.T) {
	env := baseEnv()
	env["UPSERT_RATE_LIMIT"] = "fast"
	_, err := LoadForTests(env)
	require.ErrorContains(t, err, "UPSERT_RATE_LIMIT")
}

func TestLoadAsyncArchiveNeedsRedis(t *testing.T) {
	env := baseEnv()
	env["ARCHIVE_MODE"] = "async"
	_, err := LoadForTests(env)
	require.Error(t, err)

	env["REDIS_URL"] = "redis://localhost:6379/0"
	cfg, err := LoadForTests(env)
	require.NoError(t, err)
	require.Equal(t, ArchiveAsync, cfg.ArchiveMode)
}

func TestLoadUnknownArchiveMode(t *testing.T) {
	env := baseEnv()
	env["ARCHIVE_MODE"] = "tape"
	_, err := LoadForTests(env)
	require.Error(t, err)
}

func TestLoadOverrides(t *testing.T) {
	env := baseEnv()
	env["DATABASE_URL"] = "postgres://localhost/groupbuy"
	env["HISTORY_LIMIT"] = "5"
	env["UPSERT_RATE_LIMIT"] = "100-M"
	env["PORT"] = ":9090"
	cfg, err := LoadForTests(env)
	require.NoError(t, err)
	require.Equal(t, ArchiveSync, cfg.ArchiveMode)
	require.Equal(t, 5, cfg.HistoryLimit)
	require.Equal(t, time.Minute, cfg.UpsertRateWindow)
	require.Equal(t, 100, cfg.UpsertRateMax)
	require.Equal(t, ":9090", cfg.HTTPAddr())
}

func TestSplitAndTrim(t *testing.T) {
	require.Equal(t, []string{"a", "b"}, splitAndTrim(" a, ,b "))
	require.Nil(t, splitAndTrim(""))
}

func TestLoadWebhookNeedsSecret(t *testing.T) {
	env := baseEnv()
	env["WEBHOOK_URL"] = "https://hooks.example.com/groupbuy"
	_, err := LoadForTests(env)
	require.ErrorContains(t, err, "WEBHOOK_SECRET")

	env["WEBHOOK_SECRET"] = "shh"
	_, err = LoadForTests(env)
	require.ErrorContains(t, err, "REDIS_URL")

	env["REDIS_URL"] = "redis://localhost:6379/0"
	cfg, err := LoadForTests(env)
	require.NoError(t, err)
	require.Equal(t, 5*time.Second, cfg.WebhookTimeout)
}

func TestLoadRateLimitStrategy(t *testing.T) {
	cfg, err := LoadForTests(baseEnv())
	require.NoError(t, err)
	require.Equal(t, "fixed", cfg.RateLimitStrategy)

	env := baseEnv()
	env["RATE_LIMIT_STRATEGY"] = "bursty"
	_, err = LoadForTests(env)
	require.ErrorContains(t, err, "RATE_LIMIT_STRATEGY")
}

func TestLoadQuantityLimits(t *testing.T) {
	cfg, err := LoadForTests(baseEnv())
	require.NoError(t, err)
	require.Equal(t, 1_000_000, cfg.MaxQuantity)
	require.Equal(t, 100_000_000, cfg.MaxBatchQuantity)

	env := baseEnv()
	env["MAX_CONTRIBUTION_QUANTITY"] = "500"
	env["MAX_BATCH_QUANTITY"] = "100"
	_, err = LoadForTests(env)
	require.ErrorContains(t, err, "MAX_CONTRIBUTION_QUANTITY")

	env["MAX_BATCH_QUANTITY"] = "-1"
	_, err = LoadForTests(env)
	require.Error(t, err)
}
