package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
logging:
  level: debug
timezone: Europe/Berlin
tibber:
  feed_offset: "+01:00"
feed:
  refresh_interval: 30m
entries:
  - name: Hartmannsdorf
    postal_code: "07586"
  - postal_code: "10115"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, 30*time.Minute, cfg.Feed.RefreshInterval)
	assert.Equal(t, "https://tibber.com", cfg.Tibber.BaseURL)
	assert.Equal(t, time.Minute, cfg.Scheduler.Interval)
	require.Len(t, cfg.Entries, 2)
	assert.Equal(t, "Hartmannsdorf", cfg.Entries[0].Name)
	assert.Equal(t, "07586", cfg.Entries[0].PostalCode)
	assert.Equal(t, DefaultEntryName, cfg.Entries[1].Name)

	loc, err := cfg.FeedLocation()
	require.NoError(t, err)
	_, offset := time.Date(2024, 7, 1, 0, 0, 0, 0, loc).Zone()
	assert.Equal(t, 3600, offset)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("TIBBERPRICING_POSTAL_CODE", "80331")
	t.Setenv("TIBBERPRICING_NAME", "Munich")
	t.Setenv("TIBBERPRICING_FEED_REFRESH_INTERVAL", "2h")

	cfg, err := Load(writeConfig(t, "logging:\n  level: info\n"))
	require.NoError(t, err)

	require.Len(t, cfg.Entries, 1)
	assert.Equal(t, "Munich", cfg.Entries[0].Name)
	assert.Equal(t, "80331", cfg.Entries[0].PostalCode)
	assert.Equal(t, 2*time.Hour, cfg.Feed.RefreshInterval)
}

func validConfig() Config {
	return Config{
		Tibber:    TibberConfig{FeedOffset: "+02:00"},
		Feed:      FeedConfig{RefreshInterval: time.Hour},
		Timezone:  "Europe/Berlin",
		Entries:   []EntryConfig{{Name: "Home", PostalCode: "10115"}},
		Scheduler: SchedulerConfig{Interval: time.Minute},
	}
}

func TestValidate(t *testing.T) {
	cases := map[string]func(c *Config){
		"no entries":              func(c *Config) { c.Entries = nil },
		"short postal code":       func(c *Config) { c.Entries[0].PostalCode = "1011" },
		"letters":                 func(c *Config) { c.Entries[0].PostalCode = "1O115" },
		"duplicate name":          func(c *Config) { c.Entries = append(c.Entries, EntryConfig{Name: "Home", PostalCode: "80331"}) },
		"zero refresh":            func(c *Config) { c.Feed.RefreshInterval = 0 },
		"zero interval":           func(c *Config) { c.Scheduler.Interval = 0 },
		"tick as long as window":  func(c *Config) { c.Scheduler.Interval = c.Feed.RefreshInterval },
		"tick longer than window": func(c *Config) { c.Scheduler.Interval = 2 * c.Feed.RefreshInterval },
		"bad timezone":            func(c *Config) { c.Timezone = "Mars/Olympus" },
		"bad offset":              func(c *Config) { c.Tibber.FeedOffset = "CEST" },
		"telegram no token":       func(c *Config) { c.Alerting.Telegram = TelegramConfig{Enabled: true, ChatID: "1"} },
		"telegram no chatid":      func(c *Config) { c.Alerting.Telegram = TelegramConfig{Enabled: true, BotToken: "t"} },
	}

	base := validConfig()
	require.NoError(t, base.Validate())

	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := validConfig()
			mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestParseOffset(t *testing.T) {
	for in, want := range map[string]int{"+02:00": 7200, "-03:30": -12600, "Z": 0, "+00:00": 0} {
		loc, err := ParseOffset(in)
		require.NoError(t, err, in)
		_, got := time.Date(2024, 1, 1, 0, 0, 0, 0, loc).Zone()
		assert.Equal(t, want, got, in)
	}
	_, err := ParseOffset("+2")
	assert.Error(t, err)
	_, err = ParseOffset("+15:00")
	assert.Error(t, err)
}

func TestOffsetMismatch(t *testing.T) {
	cfg := validConfig()

	summer := time.Date(2024, 7, 1, 12, 0, 0, 0, time.UTC)
	mismatch, err := cfg.OffsetMismatch(summer)
	require.NoError(t, err)
	assert.False(t, mismatch, "CEST matches +02:00")

	winter := time.Date(2024, 12, 1, 12, 0, 0, 0, time.UTC)
	mismatch, err = cfg.OffsetMismatch(winter)
	require.NoError(t, err)
	assert.True(t, mismatch, "CET does not match +02:00")
}
