package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ignaciolinari/discogs-SR/internal/config"
	"github.com/ignaciolinari/discogs-SR/internal/types"
)

// retryableStatus is the set of HTTP statuses worth retrying with
// backoff. 403 is included because Cloudflare serves it for stale
// clearance cookies, which a refreshed cookie file can fix.
var retryableStatus = map[int]bool{
	http.StatusForbidden:           true,
	http.StatusTooManyRequests:     true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

// SessionStats are the counters a session accumulates over its lifetime.
type SessionStats struct {
	Requests      int64
	Retries       int64
	RateLimitHits int64
}

// Session is a rate-limited, retrying HTTP client for one target site.
// All requests share a cookie jar and a single User-Agent chosen at
// construction, and are spaced at least MinDelay apart.
type Session struct {
	cfg       *config.SessionConfig
	client    *http.Client
	jar       *cookiejar.Jar
	cookies   *CookieFileLoader
	extra     map[string]string
	userAgent string
	baseURL   *url.URL
	logger    *slog.Logger

	// sleep and now are swappable for tests.
	sleep func(time.Duration)
	now   func() time.Time
	rng   *rand.Rand

	mu          sync.Mutex
	lastRequest time.Time

	requests      atomic.Int64
	retries       atomic.Int64
	rateLimitHits atomic.Int64
	warnedExpired atomic.Bool
}

// NewSession builds a session from config. The cookie file and extra
// headers file are optional; a missing cookie file only logs a warning
// on first use, but a malformed headers file fails construction.
func NewSession(cfg *config.SessionConfig, auth *config.AuthConfig, logger *slog.Logger) (*Session, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base URL %q: %w", cfg.BaseURL, err)
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}

	extra, err := LoadExtraHeaders(auth.HeadersFile)
	if err != nil {
		return nil, err
	}

	s := &Session{
		cfg:     cfg,
		client:  newHTTPClient(cfg, jar),
		jar:     jar,
		cookies: NewCookieFileLoader(auth.CookiesFile, auth.CookieDomain, auth.CookieRefresh, logger),
		extra:   extra,
		baseURL: base,
		logger:  logger.With("component", "session"),
		sleep:   time.Sleep,
		now:     time.Now,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	s.userAgent = s.pickUserAgent()
	return s, nil
}

func (s *Session) pickUserAgent() string {
	if s.cfg.UserAgent != "" {
		return s.cfg.UserAgent
	}
	if len(s.cfg.UserAgents) == 0 {
		return "discogs-sr/" + config.Version
	}
	return s.cfg.UserAgents[s.rng.Intn(len(s.cfg.UserAgents))]
}

// AbsoluteURL resolves a path or URL against the session base.
func (s *Session) AbsoluteURL(ref string) string {
	u, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return s.baseURL.ResolveReference(u).String()
}

// Stats returns a snapshot of the session counters.
func (s *Session) Stats() SessionStats {
	return SessionStats{
		Requests:      s.requests.Load(),
		Retries:       s.retries.Load(),
		RateLimitHits: s.rateLimitHits.Load(),
	}
}

// ReloadCookies forces a cookie file re-read and installs the result
// into the jar.
func (s *Session) ReloadCookies() {
	if cookies, reloaded := s.cookies.Load(true); reloaded {
		s.installCookies(cookies)
	}
}

func (s *Session) installCookies(cookies []*http.Cookie) {
	s.jar.SetCookies(s.baseURL, cookies)
	if ClearanceValid(cookies, s.now()) {
		s.warnedExpired.Store(false)
		return
	}
	if s.warnedExpired.CompareAndSwap(false, true) {
		s.logger.Warn("cloudflare clearance cookie is expired, expect 403s until refreshed")
	}
}

// Get fetches a URL with pacing and retry. Statuses in the retry set
// back off exponentially up to MaxRetries; any other non-2xx status is
// a terminal FetchError. The returned response body is fully read and
// decompressed.
func (s *Session) Get(ctx context.Context, ref string) (*types.Response, error) {
	target := s.AbsoluteURL(ref)

	if cookies, reloaded := s.cookies.Load(false); reloaded {
		s.installCookies(cookies)
	}

	var lastErr error
	for attempt := 0; attempt <= s.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := s.backoff(attempt)
			s.retries.Add(1)
			s.logger.Info("retrying request",
				"url", target,
				"attempt", attempt,
				"max_retries", s.cfg.MaxRetries,
				"backoff", delay,
			)
			s.sleep(delay)
		}
		s.pace()

		resp, err := s.doOnce(ctx, target)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		var fetchErr *types.FetchError
		if !errors.As(err, &fetchErr) || !fetchErr.Retryable {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}

	return nil, &types.FetchError{
		URL: target,
		Err: fmt.Errorf("%w after %d attempts: %v", types.ErrMaxRetries, s.cfg.MaxRetries+1, lastErr),
	}
}

// doOnce performs a single request attempt.
func (s *Session) doOnce(ctx context.Context, target string) (*types.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, &types.FetchError{URL: target, Err: err}
	}

	req.Header.Set("User-Agent", s.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("Accept-Encoding", "gzip, deflate, br")
	req.Header.Set("Connection", "keep-alive")
	for key, value := range s.extra {
		req.Header.Set(key, value)
	}

	s.requests.Add(1)
	start := time.Now()
	httpResp, err := s.client.Do(req)
	if err != nil {
		return nil, &types.FetchError{URL: target, Err: err, Retryable: isRetryableError(err)}
	}
	defer httpResp.Body.Close()

	if retryableStatus[httpResp.StatusCode] {
		if httpResp.StatusCode == http.StatusTooManyRequests || httpResp.StatusCode == http.StatusForbidden {
			s.rateLimitHits.Add(1)
		}
		io.Copy(io.Discard, io.LimitReader(httpResp.Body, 4096))
		return nil, &types.FetchError{
			URL:        target,
			StatusCode: httpResp.StatusCode,
			Err:        fmt.Errorf("HTTP %d", httpResp.StatusCode),
			Retryable:  true,
		}
	}

	if httpResp.StatusCode >= 400 {
		return nil, &types.FetchError{
			URL:        target,
			StatusCode: httpResp.StatusCode,
			Err:        fmt.Errorf("HTTP %d", httpResp.StatusCode),
		}
	}

	var reader io.Reader = httpResp.Body
	if s.cfg.MaxBodySize > 0 {
		reader = io.LimitReader(reader, s.cfg.MaxBodySize)
	}
	reader, err = decompressReader(httpResp, reader)
	if err != nil {
		return nil, &types.FetchError{URL: target, Err: err}
	}

	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, &types.FetchError{URL: target, Err: err, Retryable: true}
	}

	resp := types.NewResponse(target, httpResp, body)
	s.logger.Debug("fetch complete",
		"url", target,
		"status", resp.StatusCode,
		"size", len(body),
		"duration", time.Since(start),
	)
	return resp, nil
}

// pace sleeps so consecutive requests are at least MinDelay apart,
// plus up to DelayJitter of random slack.
func (s *Session) pace() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.lastRequest.IsZero() {
		required := s.cfg.MinDelay
		if s.cfg.DelayJitter > 0 {
			required += time.Duration(s.rng.Int63n(int64(s.cfg.DelayJitter) + 1))
		}
		if wait := required - s.now().Sub(s.lastRequest); wait > 0 {
			s.sleep(wait)
		}
	}
	s.lastRequest = s.now()
}

// backoff computes the retry delay for the given attempt (1-based):
// MinDelay scaled by BackoffFactor^(attempt-1).
func (s *Session) backoff(attempt int) time.Duration {
	factor := s.cfg.BackoffFactor
	if factor <= 1 {
		factor = 2
	}
	scaled := float64(s.cfg.MinDelay) * math.Pow(factor, float64(attempt-1))
	if scaled > float64(5*time.Minute) {
		scaled = float64(5 * time.Minute)
	}
	return time.Duration(scaled)
}
