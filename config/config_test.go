package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lifeloop/progression/internal/domain/shared"
	"github.com/lifeloop/progression/internal/domain/streak"
)

// clearEnv blanks variables that a developer shell may export.
func clearEnv(t *testing.T) {
	for _, key := range []string{
		"APP_ENV", "APP_TIMEZONE", "DATABASE_URL", "DB_HOST", "DB_USER",
		"REDIS_DISABLED", "HTTP_HOST", "HTTP_PORT", "HTTP_CORS_ORIGINS", "LOG_LEVEL",
		"PROGRESSION_MISSED_SWEEP", "PROGRESSION_AT_RISK_WINDOW",
	} {
		t.Setenv(key, "")
	}
}

func TestFromEnv_Defaults(t *testing.T) {
	clearEnv(t)
	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, EnvDevelopment, cfg.App.Environment)
	assert.Equal(t, time.UTC, cfg.App.Location)
	assert.False(t, cfg.UsesPostgres())
	assert.True(t, cfg.Redis.Disabled)
	assert.Equal(t, "0.0.0.0:8080", cfg.HTTP.Addr())
	assert.Equal(t, []string{"*"}, cfg.HTTP.CORSOrigins)
	assert.Equal(t, "@every 5m", cfg.Progression.MissedSweepSchedule)
	assert.Equal(t, 2*time.Hour, cfg.Progression.AtRiskWindow)
}

func TestFromEnv_Overrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("APP_TIMEZONE", "Europe/Berlin")
	t.Setenv("DB_HOST", "db")
	t.Setenv("DB_USER", "app")
	t.Setenv("DB_PASSWORD", "secret")
	t.Setenv("HTTP_PORT", "9000")
	t.Setenv("HTTP_CORS_ORIGINS", "https://a.example, https://b.example,")
	t.Setenv("PROGRESSION_LOCK_TTL", "3s")
	t.Setenv("PROGRESSION_REFRESH_ON_COMPLETE", "false")

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, "Europe/Berlin", cfg.App.Location.String())
	assert.Equal(t, "postgres://app:secret@db:5432/progression?sslmode=disable", cfg.Database.URL)
	assert.True(t, cfg.UsesPostgres())
	assert.Equal(t, 9000, cfg.HTTP.Port)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.HTTP.CORSOrigins)
	assert.Equal(t, 3*time.Second, cfg.Progression.LockTTL)
	assert.False(t, cfg.Progression.RefreshOnComplete)
}

func TestFromEnv_Invalid(t *testing.T) {
	clearEnv(t)
	t.Run("timezone", func(t *testing.T) {
		t.Setenv("APP_TIMEZONE", "Mars/Olympus")
		_, err := FromEnv()
		assert.Error(t, err)
	})

	t.Run("aggregated errors", func(t *testing.T) {
		t.Setenv("APP_ENV", "production")
		t.Setenv("HTTP_PORT", "70000")
		t.Setenv("LOG_LEVEL", "loud")

		_, err := FromEnv()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "DATABASE_URL is required in production")
		assert.Contains(t, err.Error(), "HTTP_PORT")
		assert.Contains(t, err.Error(), "LOG_LEVEL")
	})
}

func TestParseRules(t *testing.T) {
	t.Run("empty keeps defaults", func(t *testing.T) {
		rules, err := ParseRules(strings.NewReader(""))
		require.NoError(t, err)
		assert.Equal(t, DefaultRules(), rules)
	})

	t.Run("overlay", func(t *testing.T) {
		rules, err := ParseRules(strings.NewReader(`
xp:
  category_base: {work: 30}
  photo_bonus: 15
streak_tiers:
  - {min_days: 0, multiplier: 1.0}
  - {min_days: 5, multiplier: 1.5, reward: streak_badge}
level_thresholds: [0, 200, 500]
`))
		require.NoError(t, err)

		assert.Equal(t, 30, rules.XP.CategoryBase["work"])
		assert.Equal(t, 15, rules.XP.CategoryBase["health"])
		assert.Equal(t, 15, rules.XP.PhotoBonus)
		assert.Equal(t, 5, rules.XP.PriorityBonus)
		require.Len(t, rules.StreakTiers, 2)
		assert.Equal(t, streak.RewardBadge, rules.StreakTiers[1].Reward)
		assert.Len(t, rules.Achievements, len(DefaultRules().Achievements))

		engine, err := rules.Engine()
		require.NoError(t, err)
		assert.Equal(t, 2, engine.Levels().LevelOf(250).Level)
		assert.Equal(t, 1.5, engine.Tiers().MultiplierFor(6))
	})

	invalid := map[string]string{
		"unknown field":         "xp:\n  bonus_of_the_day: 3\n",
		"unknown category":      "xp:\n  category_base: {gardening: 10}\n",
		"negative bonus":        "xp:\n  photo_bonus: -1\n",
		"unsorted levels":       "level_thresholds: [0, 50, 20]\n",
		"tiers without zero":    "streak_tiers:\n  - {min_days: 2, multiplier: 1.0}\n",
		"duplicate achievement": "achievements:\n  - {id: a, name: A, metric: total_xp, threshold: 1}\n  - {id: a, name: B, metric: total_xp, threshold: 2}\n",
		"malformed":             "xp: [",
	}
	for name, doc := range invalid {
		t.Run(name, func(t *testing.T) {
			_, err := ParseRules(strings.NewReader(doc))
			assert.Error(t, err)
		})
	}

	t.Run("validation kind", func(t *testing.T) {
		_, err := ParseRules(strings.NewReader("xp:\n  photo_bonus: -1\n"))
		assert.ErrorIs(t, err, shared.ErrValueOutOfRange)
	})
}

func TestLoadRules(t *testing.T) {
	rules, err := LoadRules("")
	require.NoError(t, err)
	assert.Equal(t, DefaultRules(), rules)

	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte("xp:\n  share_bonus: {full: 50}\n"), 0o600))

	rules, err = LoadRules(path)
	require.NoError(t, err)
	assert.Equal(t, 50, rules.XP.ShareBonus["full"])
	assert.Equal(t, 10, rules.XP.ShareBonus["private"])

	_, err = LoadRules(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
