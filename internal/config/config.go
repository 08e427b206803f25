package config

import (
	"time"
)

// Version is set at build time via ldflags.
var Version = "dev"

// Config is the root configuration for discogs-SR.
type Config struct {
	Session SessionConfig `mapstructure:"session" yaml:"session"`
	Auth    AuthConfig    `mapstructure:"auth"    yaml:"auth"`
	Crawl   CrawlConfig   `mapstructure:"crawl"   yaml:"crawl"`
	Storage StorageConfig `mapstructure:"storage" yaml:"storage"`
	Browser BrowserConfig `mapstructure:"browser" yaml:"browser"`
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`
}

// SessionConfig controls the rate-limited HTTP session.
type SessionConfig struct {
	BaseURL          string        `mapstructure:"base_url"          yaml:"base_url"`
	MinDelay         time.Duration `mapstructure:"min_delay"         yaml:"min_delay"`
	DelayJitter      time.Duration `mapstructure:"delay_jitter"      yaml:"delay_jitter"`
	MaxRetries       int           `mapstructure:"max_retries"       yaml:"max_retries"`
	BackoffFactor    float64       `mapstructure:"backoff_factor"    yaml:"backoff_factor"`
	RequestTimeout   time.Duration `mapstructure:"request_timeout"   yaml:"request_timeout"`
	MaxBodySize      int64         `mapstructure:"max_body_size"     yaml:"max_body_size"`
	UserAgent        string        `mapstructure:"user_agent"        yaml:"user_agent"`
	UserAgents       []string      `mapstructure:"user_agents"       yaml:"user_agents"`
	CloudflareBypass bool          `mapstructure:"cloudflare_bypass" yaml:"cloudflare_bypass"`
}

// AuthConfig controls the cookie/header loading lifecycle.
type AuthConfig struct {
	CookiesFile   string        `mapstructure:"cookies_file"   yaml:"cookies_file"`
	CookieRefresh time.Duration `mapstructure:"cookie_refresh" yaml:"cookie_refresh"`
	CookieDomain  string        `mapstructure:"cookie_domain"  yaml:"cookie_domain"`
	HeadersFile   string        `mapstructure:"headers_file"   yaml:"headers_file"`
}

// CrawlConfig controls the crawl pipeline.
type CrawlConfig struct {
	SearchPath         string `mapstructure:"search_path"          yaml:"search_path"`
	Sort               string `mapstructure:"sort"                 yaml:"sort"`
	ReleaseType        string `mapstructure:"release_type"         yaml:"release_type"`
	PerPage            int    `mapstructure:"per_page"             yaml:"per_page"`
	MaxPages           int    `mapstructure:"max_pages"            yaml:"max_pages"`
	ReleaseLimit       int    `mapstructure:"release_limit"        yaml:"release_limit"`
	CommitEvery        int    `mapstructure:"commit_every"         yaml:"commit_every"`
	MaxUserPages       int    `mapstructure:"max_user_pages"       yaml:"max_user_pages"`
	FetchUserProfiles  bool   `mapstructure:"fetch_user_profiles"  yaml:"fetch_user_profiles"`
	FetchExtendedUsers bool   `mapstructure:"fetch_extended_users" yaml:"fetch_extended_users"`
	DebugDumpDir       string `mapstructure:"debug_dump_dir"       yaml:"debug_dump_dir"`
}

// StorageConfig controls the SQLite store.
type StorageConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// BrowserConfig controls the headless-browser cookie refresher.
type BrowserConfig struct {
	UserDataDir     string        `mapstructure:"user_data_dir"    yaml:"user_data_dir"`
	RefreshInterval time.Duration `mapstructure:"refresh_interval" yaml:"refresh_interval"`
	LoginWait       time.Duration `mapstructure:"login_wait"       yaml:"login_wait"`
	Headless        bool          `mapstructure:"headless"         yaml:"headless"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level  string `mapstructure:"level"  yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Session: SessionConfig{
			BaseURL:        "https://www.discogs.com",
			MinDelay:       2 * time.Second,
			DelayJitter:    0,
			MaxRetries:     4,
			BackoffFactor:  2.5,
			RequestTimeout: 30 * time.Second,
			MaxBodySize:    10 * 1024 * 1024, // 10MB
			UserAgents: []string{
				"Mozilla/5.0 (Macintosh; Intel Mac OS X 13_4_0) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/16.4 Safari/605.1.15",
				"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
				"Mozilla/5.0 (X11; Ubuntu; Linux x86_64; rv:125.0) Gecko/20100101 Firefox/125.0",
			},
			CloudflareBypass: true,
		},
		Auth: AuthConfig{
			CookieRefresh: 15 * time.Minute,
			CookieDomain:  ".discogs.com",
		},
		Crawl: CrawlConfig{
			SearchPath:         "/search/",
			Sort:               "have,desc",
			ReleaseType:        "release",
			PerPage:            50,
			MaxPages:           5,
			ReleaseLimit:       0, // unlimited
			CommitEvery:        1,
			MaxUserPages:       3,
			FetchUserProfiles:  true,
			FetchExtendedUsers: true,
		},
		Storage: StorageConfig{
			Path: "discogs.db",
		},
		Browser: BrowserConfig{
			UserDataDir:     ".browser_session",
			RefreshInterval: 25 * time.Minute,
			LoginWait:       60 * time.Second,
			Headless:        false,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}
