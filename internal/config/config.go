// Package config initializes the application's configuration. It uses the
// Viper library to read settings from a config file and environment
// variables, and decodes them into a plain struct decoupled from Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the settings for one crawl invocation.
type Config struct {
	URL         string
	DBPath      string
	FullCrawl   bool
	Since       *time.Time
	RateLimit   time.Duration
	Burst       int
	Retries     int
	UserAgent   string
	HTTPTimeout time.Duration
	MetricsAddr string
	Development bool
}

// Init sets defaults, search paths and environment overrides on the given
// Viper instance. It is designed to be called once at startup.
func Init(v *viper.Viper) {
	v.SetConfigName("config")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.forumharvest")

	v.SetDefault("harvest.url", "")
	v.SetDefault("harvest.db_path", "data/forumharvest.db")
	v.SetDefault("harvest.full_crawl", false)
	v.SetDefault("harvest.since", "")
	v.SetDefault("harvest.rate_limit_ms", 500)
	v.SetDefault("harvest.burst", 1)
	v.SetDefault("harvest.retries", 3)
	v.SetDefault("harvest.user_agent", "forumharvest/1.0")
	v.SetDefault("http.timeout_seconds", 15)
	v.SetDefault("metrics.addr", "")
	v.SetDefault("logging.development", false)

	v.SetEnvPrefix("FORUMHARVEST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// A missing config file is not an error; defaults, env and flags carry.
	_ = v.ReadInConfig()
}

// Load decodes a Config from the Viper instance.
func Load(v *viper.Viper) (Config, error) {
	cfg := Config{
		URL:         v.GetString("harvest.url"),
		DBPath:      v.GetString("harvest.db_path"),
		FullCrawl:   v.GetBool("harvest.full_crawl"),
		RateLimit:   time.Duration(v.GetInt("harvest.rate_limit_ms")) * time.Millisecond,
		Burst:       v.GetInt("harvest.burst"),
		Retries:     v.GetInt("harvest.retries"),
		UserAgent:   v.GetString("harvest.user_agent"),
		HTTPTimeout: time.Duration(v.GetInt("http.timeout_seconds")) * time.Second,
		MetricsAddr: v.GetString("metrics.addr"),
		Development: v.GetBool("logging.development"),
	}
	if raw := v.GetString("harvest.since"); raw != "" {
		since, err := ParseSince(raw)
		if err != nil {
			return Config{}, err
		}
		cfg.Since = &since
	}
	return cfg, nil
}

// ParseSince accepts a since-date as a plain date or a full RFC3339
// timestamp.
func ParseSince(raw string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid since date %q (want YYYY-MM-DD or RFC3339)", raw)
}
