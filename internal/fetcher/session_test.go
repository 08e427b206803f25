package fetcher

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ignaciolinari/discogs-SR/internal/config"
	"github.com/ignaciolinari/discogs-SR/internal/types"
)

var testLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

func newTestSession(t *testing.T, baseURL string) *Session {
	t.Helper()
	cfg := &config.SessionConfig{
		BaseURL:        baseURL,
		MinDelay:       2 * time.Second,
		MaxRetries:     3,
		BackoffFactor:  2.5,
		RequestTimeout: 5 * time.Second,
		UserAgents:     []string{"test-agent/1.0"},
	}
	s, err := NewSession(cfg, &config.AuthConfig{}, testLogger)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	s.sleep = func(time.Duration) {}
	return s
}

func TestSessionPacing(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	defer server.Close()

	s := newTestSession(t, server.URL)

	// Freeze the clock so the second request sees zero elapsed time and
	// must wait the full MinDelay.
	frozen := time.Now()
	s.now = func() time.Time { return frozen }
	var slept []time.Duration
	s.sleep = func(d time.Duration) { slept = append(slept, d) }

	ctx := context.Background()
	if _, err := s.Get(ctx, "/one"); err != nil {
		t.Fatalf("first get: %v", err)
	}
	if len(slept) != 0 {
		t.Fatalf("first request should not pace, slept %v", slept)
	}
	if _, err := s.Get(ctx, "/two"); err != nil {
		t.Fatalf("second get: %v", err)
	}
	if len(slept) != 1 || slept[0] != 2*time.Second {
		t.Errorf("expected one 2s pacing sleep, got %v", slept)
	}
}

func TestSessionBackoffFormula(t *testing.T) {
	s := newTestSession(t, "http://example.test")

	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 2 * time.Second},
		{2, 5 * time.Second},
		{3, 12500 * time.Millisecond},
	}
	for _, tc := range cases {
		if got := s.backoff(tc.attempt); got != tc.want {
			t.Errorf("backoff(%d) = %v, want %v", tc.attempt, got, tc.want)
		}
	}
}

func TestSessionRetriesExhausted(t *testing.T) {
	var hits atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	s := newTestSession(t, server.URL)
	_, err := s.Get(context.Background(), "/always-down")
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if !errors.Is(err, types.ErrMaxRetries) {
		t.Errorf("error = %v, want ErrMaxRetries", err)
	}
	if got := hits.Load(); got != 4 {
		t.Errorf("server hits = %d, want 4 (1 + 3 retries)", got)
	}
}

func TestSessionTerminalStatus(t *testing.T) {
	var hits atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	s := newTestSession(t, server.URL)
	_, err := s.Get(context.Background(), "/gone")
	if err == nil {
		t.Fatal("expected error on 404")
	}
	var fetchErr *types.FetchError
	if !errors.As(err, &fetchErr) {
		t.Fatalf("error type = %T, want *types.FetchError", err)
	}
	if fetchErr.StatusCode != http.StatusNotFound || fetchErr.IsRetryable() {
		t.Errorf("fetch error = %+v, want terminal 404", fetchErr)
	}
	if got := hits.Load(); got != 1 {
		t.Errorf("server hits = %d, want 1 (no retry)", got)
	}
}

func TestSessionRecoversAfterRetryableStatus(t *testing.T) {
	var hits atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte("<html>fine</html>"))
	}))
	defer server.Close()

	s := newTestSession(t, server.URL)
	resp, err := s.Get(context.Background(), "/flaky")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if resp.StatusCode != http.StatusOK || resp.Text() != "<html>fine</html>" {
		t.Errorf("response = %d %q", resp.StatusCode, resp.Text())
	}

	stats := s.Stats()
	if stats.Requests != 2 || stats.Retries != 1 || stats.RateLimitHits != 1 {
		t.Errorf("stats = %+v, want 2 requests, 1 retry, 1 rate-limit hit", stats)
	}
}

func TestSessionSendsHeaders(t *testing.T) {
	var gotUA, gotExtra string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotExtra = r.Header.Get("X-Custom")
		w.Write([]byte("ok"))
	}))
	defer server.Close()

	s := newTestSession(t, server.URL)
	s.extra = map[string]string{"X-Custom": "yes"}
	if _, err := s.Get(context.Background(), "/headers"); err != nil {
		t.Fatalf("get: %v", err)
	}
	if gotUA != "test-agent/1.0" {
		t.Errorf("user-agent = %q", gotUA)
	}
	if gotExtra != "yes" {
		t.Errorf("extra header = %q, want yes", gotExtra)
	}
}

func TestAbsoluteURL(t *testing.T) {
	s := newTestSession(t, "https://www.discogs.com")
	if got := s.AbsoluteURL("/release/123"); got != "https://www.discogs.com/release/123" {
		t.Errorf("AbsoluteURL = %q", got)
	}
	if got := s.AbsoluteURL("https://other.example/x"); got != "https://other.example/x" {
		t.Errorf("absolute input should pass through, got %q", got)
	}
}

func TestExpiredClearanceWarnsOnce(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	cfg := &config.SessionConfig{
		BaseURL:        "https://www.discogs.com",
		RequestTimeout: 5 * time.Second,
		UserAgents:     []string{"test-agent/1.0"},
	}
	s, err := NewSession(cfg, &config.AuthConfig{}, logger)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}

	expired := []*http.Cookie{{Name: "__cf_bm", Expires: time.Now().Add(-time.Hour)}}
	s.installCookies(expired)
	s.installCookies(expired)
	if got := strings.Count(buf.String(), "clearance cookie is expired"); got != 1 {
		t.Errorf("warning logged %d times, want once", got)
	}

	// A valid clearance re-arms the warning for the next expiry.
	valid := []*http.Cookie{{Name: "__cf_bm", Expires: time.Now().Add(time.Hour)}}
	s.installCookies(valid)
	s.installCookies(expired)
	if got := strings.Count(buf.String(), "clearance cookie is expired"); got != 2 {
		t.Errorf("warning logged %d times after re-arm, want 2", got)
	}
}
