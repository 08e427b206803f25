package config

import (
	"fmt"
	"net/url"
)

// Validate checks the configuration for invalid values.
func Validate(cfg *Config) error {
	u, err := url.Parse(cfg.Session.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("session.base_url %q is not an absolute URL", cfg.Session.BaseURL)
	}
	if cfg.Session.MinDelay < 0 {
		return fmt.Errorf("session.min_delay must be >= 0")
	}
	if cfg.Session.DelayJitter < 0 {
		return fmt.Errorf("session.delay_jitter must be >= 0")
	}
	if cfg.Session.MaxRetries < 0 {
		return fmt.Errorf("session.max_retries must be >= 0, got %d", cfg.Session.MaxRetries)
	}
	if cfg.Session.BackoffFactor < 1 {
		return fmt.Errorf("session.backoff_factor must be >= 1, got %g", cfg.Session.BackoffFactor)
	}
	if cfg.Session.RequestTimeout <= 0 {
		return fmt.Errorf("session.request_timeout must be > 0")
	}
	if cfg.Session.MaxBodySize <= 0 {
		return fmt.Errorf("session.max_body_size must be > 0")
	}

	if cfg.Crawl.MaxPages < 1 {
		return fmt.Errorf("crawl.max_pages must be >= 1, got %d", cfg.Crawl.MaxPages)
	}
	if cfg.Crawl.ReleaseLimit < 0 {
		return fmt.Errorf("crawl.release_limit must be >= 0, got %d", cfg.Crawl.ReleaseLimit)
	}
	if cfg.Crawl.CommitEvery < 0 {
		return fmt.Errorf("crawl.commit_every must be >= 0, got %d", cfg.Crawl.CommitEvery)
	}
	if cfg.Crawl.MaxUserPages < 0 {
		return fmt.Errorf("crawl.max_user_pages must be >= 0, got %d", cfg.Crawl.MaxUserPages)
	}
	if cfg.Crawl.PerPage < 1 || cfg.Crawl.PerPage > 250 {
		return fmt.Errorf("crawl.per_page must be 1-250, got %d", cfg.Crawl.PerPage)
	}

	if cfg.Storage.Path == "" {
		return fmt.Errorf("storage.path must not be empty")
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[cfg.Logging.Level] {
		return fmt.Errorf("logging.level must be debug/info/warn/error, got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" && cfg.Logging.Format != "json" {
		return fmt.Errorf("logging.format must be 'text' or 'json', got %q", cfg.Logging.Format)
	}

	return nil
}
