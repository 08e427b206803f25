package fetcher

import (
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeCookieFile(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "cookies.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write cookie file: %v", err)
	}
	return path
}

func cookieByName(cookies []*http.Cookie, name string) *http.Cookie {
	for _, c := range cookies {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func TestParseCookieFileFormats(t *testing.T) {
	cases := []struct {
		name    string
		content string
	}{
		{"json list", `[{"name": "session", "value": "abc", "domain": ".discogs.com"}]`},
		{"json wrapper", `{"cookies": [{"name": "session", "value": "abc"}]}`},
		{"flat map", `{"session": "abc"}`},
		{"netscape", ".discogs.com\tTRUE\t/\tTRUE\t0\tsession\tabc"},
	}
	for _, tc := range cases {
		cookies, err := parseCookieFile([]byte(tc.content), ".discogs.com")
		if err != nil {
			t.Errorf("%s: parse error: %v", tc.name, err)
			continue
		}
		c := cookieByName(cookies, "session")
		if c == nil || c.Value != "abc" {
			t.Errorf("%s: cookies = %v, want session=abc", tc.name, cookies)
			continue
		}
		if c.Domain != ".discogs.com" {
			t.Errorf("%s: domain = %q, want .discogs.com", tc.name, c.Domain)
		}
	}
}

func TestParseJSONCookieExpiryForms(t *testing.T) {
	content := `[
		{"name": "__cf_bm", "value": "tok", "expires": "2026-01-01T00:00:00Z"},
		{"name": "session", "value": "abc", "expirationDate": 1767225600.5},
		{"name": "tracker", "value": "x", "expires": "whenever"}
	]`
	cookies, err := parseCookieFile([]byte(content), ".discogs.com")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	want := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := cookieByName(cookies, "__cf_bm")
	if c == nil || !c.Expires.Equal(want) {
		t.Errorf("ISO expiry = %+v, want %v", c, want)
	}
	if c := cookieByName(cookies, "session"); c == nil || c.Expires.IsZero() {
		t.Errorf("numeric expirationDate not decoded: %+v", c)
	}
	if c := cookieByName(cookies, "tracker"); c == nil || !c.Expires.IsZero() {
		t.Errorf("unparseable expiry should mean no expiry, got %+v", c)
	}

	// The ISO expiry is judged like a numeric one.
	if ClearanceValid(cookies, time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)) {
		t.Error("clearance past its ISO expiry should be invalid")
	}
	if !ClearanceValid(cookies, time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)) {
		t.Error("clearance before its ISO expiry should be valid")
	}
}

func TestParseNetscapeHTTPOnlyPrefix(t *testing.T) {
	content := "# Netscape HTTP Cookie File\n" +
		"#HttpOnly_.discogs.com\tTRUE\t/\tTRUE\t1999999999\t__cf_bm\ttok\n"
	cookies, err := parseCookieFile([]byte(content), ".discogs.com")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	c := cookieByName(cookies, "__cf_bm")
	if c == nil {
		t.Fatal("expected __cf_bm cookie")
	}
	if !c.HttpOnly || c.Expires.IsZero() {
		t.Errorf("cookie = %+v, want HttpOnly with expiry", c)
	}
}

func TestLoaderReloadOnChange(t *testing.T) {
	dir := t.TempDir()
	path := writeCookieFile(t, dir, `{"session": "first"}`)

	loader := NewCookieFileLoader(path, ".discogs.com", time.Minute, testLogger)
	current := time.Now()
	loader.now = func() time.Time { return current }

	cookies, reloaded := loader.Load(false)
	if !reloaded {
		t.Fatal("first load should read the file")
	}
	if c := cookieByName(cookies, "session"); c == nil || c.Value != "first" {
		t.Fatalf("cookies = %v", cookies)
	}

	// An untouched file inside the interval stays cached.
	cookies, reloaded = loader.Load(false)
	if reloaded {
		t.Error("untouched file should reuse the cache")
	}
	if c := cookieByName(cookies, "session"); c == nil || c.Value != "first" {
		t.Errorf("cached cookies = %v, want first", cookies)
	}

	// A moved mtime re-reads immediately, before the interval elapses.
	writeCookieFile(t, dir, `{"session": "second"}`)
	newMtime := time.Now().Add(time.Second)
	if err := os.Chtimes(path, newMtime, newMtime); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	cookies, reloaded = loader.Load(false)
	if !reloaded {
		t.Fatal("rewritten file should re-read regardless of the interval")
	}
	if c := cookieByName(cookies, "session"); c == nil || c.Value != "second" {
		t.Errorf("cookies = %v, want second", cookies)
	}

	// The elapsed interval re-reads even with the mtime unchanged.
	current = current.Add(2 * time.Minute)
	if _, reloaded = loader.Load(false); !reloaded {
		t.Error("load past the interval should re-read")
	}
}

func TestLoaderMtimeReloadWithIntervalDisabled(t *testing.T) {
	dir := t.TempDir()
	path := writeCookieFile(t, dir, `{"session": "first"}`)

	loader := NewCookieFileLoader(path, ".discogs.com", 0, testLogger)
	if _, reloaded := loader.Load(false); !reloaded {
		t.Fatal("first load should read the file")
	}

	writeCookieFile(t, dir, `{"session": "second"}`)
	newMtime := time.Now().Add(time.Second)
	if err := os.Chtimes(path, newMtime, newMtime); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	cookies, reloaded := loader.Load(false)
	if !reloaded {
		t.Fatal("rewritten file must be picked up with interval reloads disabled")
	}
	if c := cookieByName(cookies, "session"); c == nil || c.Value != "second" {
		t.Errorf("cookies = %v, want second", cookies)
	}
}

func TestLoaderForceReload(t *testing.T) {
	dir := t.TempDir()
	path := writeCookieFile(t, dir, `{"session": "first"}`)

	loader := NewCookieFileLoader(path, ".discogs.com", time.Hour, testLogger)
	if _, reloaded := loader.Load(false); !reloaded {
		t.Fatal("first load should read the file")
	}

	writeCookieFile(t, dir, `{"session": "forced"}`)
	newMtime := time.Now().Add(time.Second)
	if err := os.Chtimes(path, newMtime, newMtime); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	cookies, reloaded := loader.Load(true)
	if !reloaded {
		t.Fatal("forced load should re-read")
	}
	if c := cookieByName(cookies, "session"); c == nil || c.Value != "forced" {
		t.Errorf("cookies = %v, want forced", cookies)
	}
}

func TestLoaderMissingFile(t *testing.T) {
	loader := NewCookieFileLoader(filepath.Join(t.TempDir(), "absent.json"), ".discogs.com", time.Minute, testLogger)
	cookies, reloaded := loader.Load(false)
	if reloaded || cookies != nil {
		t.Errorf("missing file should yield no cookies, got %v (reloaded=%v)", cookies, reloaded)
	}
	// Second call must not warn again or change the answer.
	if cookies, _ := loader.Load(true); cookies != nil {
		t.Errorf("still expected no cookies, got %v", cookies)
	}
}

func TestLoaderMalformedKeepsCache(t *testing.T) {
	dir := t.TempDir()
	path := writeCookieFile(t, dir, `{"session": "good"}`)

	loader := NewCookieFileLoader(path, ".discogs.com", time.Minute, testLogger)
	if _, reloaded := loader.Load(false); !reloaded {
		t.Fatal("first load should read the file")
	}

	writeCookieFile(t, dir, "this is not a cookie file")
	cookies, reloaded := loader.Load(true)
	if reloaded {
		t.Error("malformed file must not count as a reload")
	}
	if c := cookieByName(cookies, "session"); c == nil || c.Value != "good" {
		t.Errorf("cookies = %v, want cached good value", cookies)
	}
}

func TestClearanceValid(t *testing.T) {
	now := time.Now()
	cases := []struct {
		name    string
		cookies []*http.Cookie
		want    bool
	}{
		{"expired", []*http.Cookie{{Name: "__cf_bm", Expires: now.Add(-time.Hour)}}, false},
		{"fresh", []*http.Cookie{{Name: "__cf_bm", Expires: now.Add(time.Hour)}}, true},
		{"no expiry", []*http.Cookie{{Name: "__cf_bm"}}, true},
		{"absent", []*http.Cookie{{Name: "other"}}, true},
		{"empty", nil, true},
	}
	for _, tc := range cases {
		if got := ClearanceValid(tc.cookies, now); got != tc.want {
			t.Errorf("%s: ClearanceValid = %v, want %v", tc.name, got, tc.want)
		}
	}
}
