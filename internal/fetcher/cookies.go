package fetcher

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// cfClearanceCookie is the Cloudflare bot-management cookie whose
// expiration decides whether the session still has a valid clearance.
const cfClearanceCookie = "__cf_bm"

// CookieFileLoader re-reads a cookie export file when it changes on
// disk. Browser extensions rewrite the file in place, so the loader
// watches the mtime and additionally re-reads on a fixed interval in
// case the mtime is unreliable (network mounts).
//
// Supported formats: a JSON array of cookie objects, a JSON
// {"cookies": [...]} wrapper, a flat JSON name→value map, and the
// Netscape cookies.txt tab-separated format.
type CookieFileLoader struct {
	path     string
	domain   string
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time

	mu            sync.Mutex
	lastMtime     time.Time
	lastCheck     time.Time
	cached        []*http.Cookie
	warnedMissing bool
}

// NewCookieFileLoader creates a loader for the given file. An empty
// path yields a loader that always returns no cookies.
func NewCookieFileLoader(path, domain string, interval time.Duration, logger *slog.Logger) *CookieFileLoader {
	return &CookieFileLoader{
		path:     path,
		domain:   domain,
		interval: interval,
		logger:   logger.With("component", "cookie_loader"),
		now:      time.Now,
	}
}

// Load returns the current cookie set. The file is statted on every
// call and re-read when force is set, when its mtime moved since the
// last read, or when the refresh interval has elapsed. Each trigger
// fires independently, so a rewritten export is picked up even with
// the interval disabled. A malformed or missing file keeps the
// previously cached cookies. The second return value reports whether
// a re-read actually happened.
func (l *CookieFileLoader) Load(force bool) ([]*http.Cookie, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.path == "" {
		return nil, false
	}

	info, err := os.Stat(l.path)
	if err != nil {
		if !l.warnedMissing {
			l.logger.Warn("cookies file not readable, continuing without it", "path", l.path, "error", err)
			l.warnedMissing = true
		}
		return l.cached, false
	}
	l.warnedMissing = false

	now := l.now()
	mtimeMoved := l.lastMtime.IsZero() || !info.ModTime().Equal(l.lastMtime)
	intervalDue := l.lastCheck.IsZero() || (l.interval > 0 && now.Sub(l.lastCheck) >= l.interval)
	if !force && !mtimeMoved && !intervalDue {
		return l.cached, false
	}
	l.lastCheck = now

	data, err := os.ReadFile(l.path)
	if err != nil {
		l.logger.Warn("reading cookies file failed, keeping cached cookies", "path", l.path, "error", err)
		return l.cached, false
	}

	cookies, err := parseCookieFile(data, l.domain)
	if err != nil {
		l.logger.Warn("parsing cookies file failed, keeping cached cookies", "path", l.path, "error", err)
		return l.cached, false
	}

	l.cached = cookies
	l.lastMtime = info.ModTime()
	l.logger.Info("cookies loaded", "path", l.path, "count", len(cookies))
	return l.cached, true
}

// ClearanceValid reports whether the Cloudflare clearance cookie in the
// set is still unexpired. A missing cookie or one without an expiry
// cannot be judged and counts as valid.
func ClearanceValid(cookies []*http.Cookie, now time.Time) bool {
	for _, c := range cookies {
		if c.Name != cfClearanceCookie {
			continue
		}
		if c.Expires.IsZero() {
			return true
		}
		return c.Expires.After(now)
	}
	return true
}

// cookieEpoch is a cookie expiry in unix seconds. Browser exports
// carry it as a JSON number (with a fractional part) or an ISO-8601
// string; an unrecognizable value decodes to zero (no expiry) rather
// than failing the whole file.
type cookieEpoch float64

func (e *cookieEpoch) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var raw string
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			*e = cookieEpoch(t.Unix())
			return nil
		}
		if f, err := strconv.ParseFloat(raw, 64); err == nil {
			*e = cookieEpoch(f)
			return nil
		}
		*e = 0
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	*e = cookieEpoch(f)
	return nil
}

// jsonCookie covers the fields browser extensions export. Both
// "expires" and "expirationDate" appear in the wild.
type jsonCookie struct {
	Name           string      `json:"name"`
	Value          string      `json:"value"`
	Domain         string      `json:"domain"`
	Path           string      `json:"path"`
	Expires        cookieEpoch `json:"expires"`
	ExpirationDate cookieEpoch `json:"expirationDate"`
	Secure         bool        `json:"secure"`
	HTTPOnly       bool        `json:"httpOnly"`
}

func (jc jsonCookie) toCookie(defaultDomain string) *http.Cookie {
	c := &http.Cookie{
		Name:     jc.Name,
		Value:    jc.Value,
		Domain:   jc.Domain,
		Path:     jc.Path,
		Secure:   jc.Secure,
		HttpOnly: jc.HTTPOnly,
	}
	if c.Domain == "" {
		c.Domain = defaultDomain
	}
	if c.Path == "" {
		c.Path = "/"
	}
	expiry := float64(jc.Expires)
	if expiry <= 0 {
		expiry = float64(jc.ExpirationDate)
	}
	if expiry > 0 {
		c.Expires = time.Unix(int64(expiry), 0)
	}
	return c
}

// parseCookieFile detects the export format and decodes it.
func parseCookieFile(data []byte, domain string) ([]*http.Cookie, error) {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return nil, fmt.Errorf("cookies file is empty")
	}

	switch trimmed[0] {
	case '[':
		var list []jsonCookie
		if err := json.Unmarshal(data, &list); err != nil {
			return nil, fmt.Errorf("decode cookie list: %w", err)
		}
		return jsonCookies(list, domain)
	case '{':
		var wrapper struct {
			Cookies []jsonCookie `json:"cookies"`
		}
		if err := json.Unmarshal(data, &wrapper); err == nil && len(wrapper.Cookies) > 0 {
			return jsonCookies(wrapper.Cookies, domain)
		}
		var flat map[string]string
		if err := json.Unmarshal(data, &flat); err != nil {
			return nil, fmt.Errorf("decode cookie map: %w", err)
		}
		var cookies []*http.Cookie
		for name, value := range flat {
			cookies = append(cookies, &http.Cookie{Name: name, Value: value, Domain: domain, Path: "/"})
		}
		return cookies, nil
	default:
		return parseNetscape(trimmed, domain)
	}
}

func jsonCookies(list []jsonCookie, domain string) ([]*http.Cookie, error) {
	var cookies []*http.Cookie
	for _, jc := range list {
		if jc.Name == "" {
			continue
		}
		cookies = append(cookies, jc.toCookie(domain))
	}
	if len(cookies) == 0 {
		return nil, fmt.Errorf("cookie list contains no named cookies")
	}
	return cookies, nil
}

// parseNetscape decodes the cookies.txt format: seven tab-separated
// fields per line, comments starting with # except the #HttpOnly_
// domain prefix.
func parseNetscape(content, defaultDomain string) ([]*http.Cookie, error) {
	var cookies []*http.Cookie
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimRight(line, "\r")
		httpOnly := false
		if strings.HasPrefix(line, "#HttpOnly_") {
			httpOnly = true
			line = strings.TrimPrefix(line, "#HttpOnly_")
		} else if strings.HasPrefix(line, "#") || strings.TrimSpace(line) == "" {
			continue
		}

		fields := strings.Split(line, "\t")
		if len(fields) != 7 {
			continue
		}

		c := &http.Cookie{
			Domain:   fields[0],
			Path:     fields[2],
			Secure:   strings.EqualFold(fields[3], "TRUE"),
			Name:     fields[5],
			Value:    fields[6],
			HttpOnly: httpOnly,
		}
		if c.Domain == "" {
			c.Domain = defaultDomain
		}
		if unix, err := strconv.ParseInt(fields[4], 10, 64); err == nil && unix > 0 {
			c.Expires = time.Unix(unix, 0)
		}
		cookies = append(cookies, c)
	}
	if len(cookies) == 0 {
		return nil, fmt.Errorf("no cookies decoded from netscape file")
	}
	return cookies, nil
}
