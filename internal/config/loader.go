package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Load reads configuration from file and environment.
// Priority (highest to lowest): env vars > config file > defaults.
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	v.SetConfigType("yaml")

	setDefaults(v, cfg)

	v.SetEnvPrefix("DISCOGS_SR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("discogs-sr")
		v.AddConfigPath(".")
		home, err := os.UserHomeDir()
		if err == nil {
			v.AddConfigPath(filepath.Join(home, ".discogs-sr"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && configPath != "" {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found is okay if not explicitly specified
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return cfg, nil
}

// setDefaults registers default values in viper.
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("session.base_url", cfg.Session.BaseURL)
	v.SetDefault("session.min_delay", cfg.Session.MinDelay)
	v.SetDefault("session.delay_jitter", cfg.Session.DelayJitter)
	v.SetDefault("session.max_retries", cfg.Session.MaxRetries)
	v.SetDefault("session.backoff_factor", cfg.Session.BackoffFactor)
	v.SetDefault("session.request_timeout", cfg.Session.RequestTimeout)
	v.SetDefault("session.max_body_size", cfg.Session.MaxBodySize)
	v.SetDefault("session.user_agent", cfg.Session.UserAgent)
	v.SetDefault("session.user_agents", cfg.Session.UserAgents)
	v.SetDefault("session.cloudflare_bypass", cfg.Session.CloudflareBypass)

	v.SetDefault("auth.cookies_file", cfg.Auth.CookiesFile)
	v.SetDefault("auth.cookie_refresh", cfg.Auth.CookieRefresh)
	v.SetDefault("auth.cookie_domain", cfg.Auth.CookieDomain)
	v.SetDefault("auth.headers_file", cfg.Auth.HeadersFile)

	v.SetDefault("crawl.search_path", cfg.Crawl.SearchPath)
	v.SetDefault("crawl.sort", cfg.Crawl.Sort)
	v.SetDefault("crawl.release_type", cfg.Crawl.ReleaseType)
	v.SetDefault("crawl.per_page", cfg.Crawl.PerPage)
	v.SetDefault("crawl.max_pages", cfg.Crawl.MaxPages)
	v.SetDefault("crawl.release_limit", cfg.Crawl.ReleaseLimit)
	v.SetDefault("crawl.commit_every", cfg.Crawl.CommitEvery)
	v.SetDefault("crawl.max_user_pages", cfg.Crawl.MaxUserPages)
	v.SetDefault("crawl.fetch_user_profiles", cfg.Crawl.FetchUserProfiles)
	v.SetDefault("crawl.fetch_extended_users", cfg.Crawl.FetchExtendedUsers)
	v.SetDefault("crawl.debug_dump_dir", cfg.Crawl.DebugDumpDir)

	v.SetDefault("storage.path", cfg.Storage.Path)

	v.SetDefault("browser.user_data_dir", cfg.Browser.UserDataDir)
	v.SetDefault("browser.refresh_interval", cfg.Browser.RefreshInterval)
	v.SetDefault("browser.login_wait", cfg.Browser.LoginWait)
	v.SetDefault("browser.headless", cfg.Browser.Headless)

	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.format", cfg.Logging.Format)
}
