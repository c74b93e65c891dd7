package config

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"tibber-pricing/internal/logging"
)

// DefaultEntryName is used for entries configured without a name.
const DefaultEntryName = "Tibber Pricing"

var (
	postalCodePattern = regexp.MustCompile(`^[0-9]{5}$`)
	offsetPattern     = regexp.MustCompile(`^([+-])([0-9]{2}):([0-9]{2})$`)
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Tibber    TibberConfig    `mapstructure:"tibber"`
	Feed      FeedConfig      `mapstructure:"feed"`
	Timezone  string          `mapstructure:"timezone"`
	Entries   []EntryConfig   `mapstructure:"entries"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
	Export    ExportConfig    `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// TibberConfig covers the price overview endpoint.
type TibberConfig struct {
	BaseURL   string `mapstructure:"base_url"`
	Locale    string `mapstructure:"locale"`
	UserAgent string `mapstructure:"user_agent"`
	// FeedOffset is the fixed UTC offset ("+02:00") the endpoint's date/hour
	// pairs are expressed in, independent of Timezone.
	FeedOffset string `mapstructure:"feed_offset"`
}

// FeedConfig governs snapshot caching.
type FeedConfig struct {
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`
}

// EntryConfig is one configured postal code.
type EntryConfig struct {
	Name       string `mapstructure:"name"`
	PostalCode string `mapstructure:"postal_code"`
}

// SchedulerConfig governs the publishing cadence.
type SchedulerConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	AlignToBucket   bool          `mapstructure:"align_to_bucket"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity for the state sink.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
}

// AlertingConfig defines which price hours trigger a notice.
type AlertingConfig struct {
	Enabled      bool           `mapstructure:"enabled"`
	CheapestHour bool           `mapstructure:"cheapest_hour"`
	PriciestHour bool           `mapstructure:"priciest_hour"`
	Telegram     TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig describes the Telegram notifier.
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	Directory string `mapstructure:"directory"`
}

// Load builds configuration from file, environment, and defaults. A .env
// file in the working directory is loaded first when present.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("TIBBERPRICING")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	applyEntryFallback(v, &cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "tibber-pricing")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("tibber.base_url", "https://tibber.com")
	v.SetDefault("tibber.locale", "de")
	v.SetDefault("tibber.user_agent", "tibber-pricing/1.0")
	v.SetDefault("tibber.feed_offset", "+02:00")

	v.SetDefault("feed.refresh_interval", "1h")
	v.SetDefault("timezone", "Europe/Berlin")

	v.SetDefault("scheduler.interval", "1m")
	v.SetDefault("scheduler.align_to_bucket", true)
	v.SetDefault("scheduler.advisory_lock_key", int64(0x74696270))
	v.SetDefault("scheduler.startup_delay", "0s")

	v.SetDefault("database.max_open_conns", 4)
	v.SetDefault("database.max_idle_conns", 1)
	v.SetDefault("database.conn_max_lifetime", "30m")

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.cheapest_hour", true)
	v.SetDefault("alerting.priciest_hour", false)
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("export.directory", ".")
}

// applyEntryFallback lets a single entry be configured through the
// environment (TIBBERPRICING_POSTAL_CODE, TIBBERPRICING_NAME) since lists
// cannot be expressed there.
func applyEntryFallback(v *viper.Viper, cfg *Config) {
	if len(cfg.Entries) > 0 {
		return
	}
	_ = v.BindEnv("postal_code")
	_ = v.BindEnv("name")
	postal := strings.TrimSpace(v.GetString("postal_code"))
	if postal == "" {
		return
	}
	cfg.Entries = []EntryConfig{{Name: v.GetString("name"), PostalCode: postal}}
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if len(c.Entries) == 0 {
		return fmt.Errorf("entries must contain at least one postal code")
	}
	seen := make(map[string]struct{}, len(c.Entries))
	for i := range c.Entries {
		entry := &c.Entries[i]
		entry.PostalCode = strings.TrimSpace(entry.PostalCode)
		if strings.TrimSpace(entry.Name) == "" {
			entry.Name = DefaultEntryName
		}
		if !postalCodePattern.MatchString(entry.PostalCode) {
			return fmt.Errorf("entries[%d].postal_code %q must be a five digit German postal code", i, entry.PostalCode)
		}
		if _, dup := seen[entry.Name]; dup {
			return fmt.Errorf("entries[%d].name %q is not unique", i, entry.Name)
		}
		seen[entry.Name] = struct{}{}
	}
	if c.Feed.RefreshInterval <= 0 {
		return fmt.Errorf("feed.refresh_interval must be greater than zero")
	}
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	// Ticks land a little after each boundary and the throttle counts from
	// the attempt, so ticks as long as the window can miss it for a full cycle.
	if c.Scheduler.Interval >= c.Feed.RefreshInterval {
		return fmt.Errorf("scheduler.interval (%s) must be shorter than feed.refresh_interval (%s)", c.Scheduler.Interval, c.Feed.RefreshInterval)
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	if _, err := c.FeedLocation(); err != nil {
		return err
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token is required")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id is required")
		}
	}
	return nil
}

// Location resolves the zone used to decide which hour "now" is in.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// FeedLocation resolves tibber.feed_offset into a fixed zone.
func (c *Config) FeedLocation() (*time.Location, error) {
	return ParseOffset(c.Tibber.FeedOffset)
}

// ParseOffset parses "+HH:MM", "-HH:MM" or "Z" into a fixed zone named
// after the offset.
func ParseOffset(s string) (*time.Location, error) {
	s = strings.TrimSpace(s)
	if s == "Z" {
		s = "+00:00"
	}
	m := offsetPattern.FindStringSubmatch(s)
	if m == nil {
		return nil, fmt.Errorf("tibber.feed_offset %q must look like +02:00", s)
	}
	hours, _ := strconv.Atoi(m[2])
	minutes, _ := strconv.Atoi(m[3])
	if hours > 14 || minutes > 59 {
		return nil, fmt.Errorf("tibber.feed_offset %q is out of range", s)
	}
	offset := hours*3600 + minutes*60
	if m[1] == "-" {
		offset = -offset
	}
	return time.FixedZone(s, offset), nil
}

// OffsetMismatch reports whether the feed offset differs from the
// configured zone's offset at the given instant. When it does, hourly
// prices will not line up with the local hour.
func (c *Config) OffsetMismatch(at time.Time) (bool, error) {
	loc, err := c.Location()
	if err != nil {
		return false, err
	}
	feedLoc, err := c.FeedLocation()
	if err != nil {
		return false, err
	}
	_, local := at.In(loc).Zone()
	_, feed := at.In(feedLoc).Zone()
	return local != feed, nil
}
