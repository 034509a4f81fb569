// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Scrape    ScrapeConfig    `mapstructure:"scrape"`
	DB        DBConfig        `mapstructure:"db"`
	Export    ExportConfig    `mapstructure:"export"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Logging   LoggingConfig   `mapstructure:"logging"`

	// Locations maps display names to hh.ru area IDs. Lookup is
	// case-insensitive with partial matching; misses fall back to
	// DefaultArea (all of Russia).
	Locations   map[string]string `mapstructure:"locations"`
	DefaultArea string            `mapstructure:"default_area"`
}

// ServerConfig controls the HTTP surface.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// ScrapeConfig governs the fetch pipeline.
type ScrapeConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	PageLimit      int           `mapstructure:"page_limit"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	RequestDelay   time.Duration `mapstructure:"request_delay"`
	MaxRetries     int           `mapstructure:"max_retries"`
	UserAgents     []string      `mapstructure:"user_agents"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// ExportConfig sets defaults for file exports.
type ExportConfig struct {
	Dir string `mapstructure:"dir"`
}

// SchedulerConfig controls the periodic saved-search sweep.
type SchedulerConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// defaultUserAgents is the rotation pool used when none is configured.
var defaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.114 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:89.0) Gecko/20100101 Firefox/89.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/14.1.1 Safari/605.1.15",
}

// defaultLocations maps city names to hh.ru area IDs.
var defaultLocations = map[string]string{
	"Москва":              "1",
	"Московская область":  "2019",
	"Санкт-Петербург":     "2",
	"Екатеринбург":        "3",
	"Новосибирск":         "4",
	"Краснодар":           "53",
	"Нижний Новгород":     "66",
	"Казань":              "88",
	"Челябинск":           "104",
	"Омск":                "68",
	"Самара":              "78",
	"Ростов-на-Дону":      "76",
	"Уфа":                 "99",
	"Красноярск":          "54",
	"Воронеж":             "26",
	"Волгоград":           "24",
	"Пермь":               "72",
}

// areaAllRussia is the hh.ru area ID covering the whole country.
const areaAllRussia = "113"

// Load builds a Config from disk/environment. An empty path means defaults
// plus env vars only.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("VACANCY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if len(cfg.Locations) == 0 {
		cfg.Locations = defaultLocations
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("scrape.base_url", "https://hh.ru")
	v.SetDefault("scrape.page_limit", 5)
	v.SetDefault("scrape.request_timeout", "30s")
	v.SetDefault("scrape.request_delay", "1s")
	v.SetDefault("scrape.max_retries", 3)
	v.SetDefault("scrape.user_agents", defaultUserAgents)
	// Registered empty so VACANCY_DB_DSN is visible to Unmarshal.
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.table", "vacancies")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("export.dir", "exports")
	v.SetDefault("scheduler.enabled", false)
	v.SetDefault("scheduler.interval", "6h")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("default_area", areaAllRussia)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Scrape.BaseURL == "" {
		return fmt.Errorf("scrape.base_url must be set")
	}
	if c.Scrape.PageLimit <= 0 {
		return fmt.Errorf("scrape.page_limit must be > 0")
	}
	if c.Scrape.RequestTimeout <= 0 {
		return fmt.Errorf("scrape.request_timeout must be > 0")
	}
	if c.Scrape.RequestDelay < 0 {
		return fmt.Errorf("scrape.request_delay must be >= 0")
	}
	if c.Scrape.MaxRetries < 0 {
		return fmt.Errorf("scrape.max_retries must be >= 0")
	}
	if len(c.Scrape.UserAgents) == 0 {
		return fmt.Errorf("scrape.user_agents must include at least one entry")
	}
	if c.DB.DSN == "" {
		return fmt.Errorf("db.dsn must be set")
	}
	if c.Scheduler.Enabled && c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be > 0 when the scheduler is enabled")
	}
	return nil
}

// AreaID resolves a location display name to an hh.ru area ID. Unknown
// locations fall back to the country-wide area, matching how the site treats
// an absent area parameter.
func (c Config) AreaID(location string) string {
	if location == "" {
		return c.fallbackArea()
	}
	needle := strings.ToLower(strings.TrimSpace(location))
	for name, id := range c.Locations {
		if strings.ToLower(name) == needle {
			return id
		}
	}
	for name, id := range c.Locations {
		lower := strings.ToLower(name)
		if strings.Contains(lower, needle) || strings.Contains(needle, lower) {
			return id
		}
	}
	return c.fallbackArea()
}

func (c Config) fallbackArea() string {
	if c.DefaultArea != "" {
		return c.DefaultArea
	}
	return areaAllRussia
}
