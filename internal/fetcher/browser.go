package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/ignaciolinari/discogs-SR/internal/config"
)

// CookieRefresher keeps a cookie export file fresh by driving a real
// Chromium profile via Rod. The profile persists across runs in
// UserDataDir, so a one-time manual login survives and subsequent
// refreshes just revisit the site to renew the Cloudflare clearance.
type CookieRefresher struct {
	cfg     *config.BrowserConfig
	baseURL string
	outPath string
	logger  *slog.Logger

	browser *rod.Browser
	cleanup func()
}

// NewCookieRefresher prepares a refresher that writes cookies for
// baseURL to outPath.
func NewCookieRefresher(cfg *config.BrowserConfig, baseURL, outPath string, logger *slog.Logger) *CookieRefresher {
	return &CookieRefresher{
		cfg:     cfg,
		baseURL: baseURL,
		outPath: outPath,
		logger:  logger.With("component", "cookie_refresher"),
	}
}

func (r *CookieRefresher) connect() error {
	if r.browser != nil {
		return nil
	}

	l := launcher.New().
		Headless(r.cfg.Headless).
		Set("disable-gpu").
		Set("disable-dev-shm-usage").
		Set("no-sandbox").
		Set("disable-blink-features", "AutomationControlled")
	if r.cfg.UserDataDir != "" {
		l = l.UserDataDir(r.cfg.UserDataDir)
	}

	launchURL, err := l.Launch()
	if err != nil {
		return fmt.Errorf("launch browser: %w", err)
	}

	browser := rod.New().ControlURL(launchURL)
	if err := browser.Connect(); err != nil {
		return fmt.Errorf("connect browser: %w", err)
	}

	r.browser = browser
	r.cleanup = l.Cleanup
	r.logger.Info("browser ready", "headless", r.cfg.Headless, "profile", r.cfg.UserDataDir)
	return nil
}

// Close shuts the browser down. The profile directory is kept.
func (r *CookieRefresher) Close() error {
	if r.browser == nil {
		return nil
	}
	err := r.browser.Close()
	if r.cleanup != nil {
		r.cleanup()
	}
	r.browser = nil
	return err
}

// RefreshOnce opens the site, waits for Cloudflare to settle (and, on
// a fresh profile, for the operator to log in), then exports the
// browser's cookies to the output file.
func (r *CookieRefresher) RefreshOnce(ctx context.Context) error {
	if err := r.connect(); err != nil {
		return err
	}

	page, err := stealth.Page(r.browser)
	if err != nil {
		return fmt.Errorf("open stealth page: %w", err)
	}
	defer page.Close()
	page = page.Context(ctx)

	if err := page.Navigate(r.baseURL); err != nil {
		return fmt.Errorf("navigate %s: %w", r.baseURL, err)
	}
	if err := page.WaitLoad(); err != nil {
		return fmt.Errorf("wait for page load: %w", err)
	}

	if err := r.waitForClearance(ctx, page); err != nil {
		return err
	}

	cookies, err := r.browser.GetCookies()
	if err != nil {
		return fmt.Errorf("read browser cookies: %w", err)
	}
	if err := r.exportCookies(cookies); err != nil {
		return err
	}

	r.logger.Info("cookies exported", "path", r.outPath, "count", len(cookies))
	return nil
}

// Run refreshes immediately and then on every interval tick until the
// context is cancelled.
func (r *CookieRefresher) Run(ctx context.Context) error {
	defer r.Close()

	if err := r.RefreshOnce(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(r.cfg.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := r.RefreshOnce(ctx); err != nil {
				r.logger.Error("cookie refresh failed", "error", err)
			}
		}
	}
}

// waitForClearance polls until the clearance cookie shows up, bounded
// by LoginWait. On a brand-new profile this is the window where the
// operator solves the challenge or logs in by hand.
func (r *CookieRefresher) waitForClearance(ctx context.Context, page *rod.Page) error {
	deadline := time.Now().Add(r.cfg.LoginWait)
	for {
		cookies, err := page.Cookies(nil)
		if err == nil {
			for _, c := range cookies {
				if c.Name == cfClearanceCookie {
					return nil
				}
			}
		}
		if time.Now().After(deadline) {
			r.logger.Warn("clearance cookie did not appear, exporting anyway", "waited", r.cfg.LoginWait)
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
}

// exportCookies writes the cookie list in the JSON array format the
// CookieFileLoader reads, atomically via a temp file rename.
func (r *CookieRefresher) exportCookies(cookies []*proto.NetworkCookie) error {
	out := make([]jsonCookie, 0, len(cookies))
	for _, c := range cookies {
		out = append(out, jsonCookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  cookieEpoch(c.Expires),
			Secure:   c.Secure,
			HTTPOnly: c.HTTPOnly,
		})
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("encode cookies: %w", err)
	}

	dir := filepath.Dir(r.outPath)
	tmp, err := os.CreateTemp(dir, ".cookies-*.json")
	if err != nil {
		return fmt.Errorf("create temp cookie file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp cookie file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), r.outPath)
}
