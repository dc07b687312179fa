package httpclient

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"course-portal-go/pkg/config"
	"course-portal-go/pkg/logging"
	"course-portal-go/pkg/types"
)

func testConfig(base string) *config.Config {
	cfg := config.Defaults()
	cfg.PortalBaseURL = base
	cfg.HTTPRetries = 0
	cfg.RequestsPerSecond = 0
	return cfg
}

func TestGetClientForURL(t *testing.T) {
	log := logging.New("debug", false, nil)

	tests := []struct {
		name          string
		cfg           *config.Config
		targetURL     string
		expectProxy   bool
		expectDefault bool
		expectUTLS    bool
	}{
		{
			name: "uses global proxy when no transport routes match",
			cfg: &config.Config{
				GlobalProxies: []string{"socks5://proxy.example.com:1080"},
			},
			targetURL:   "https://cdn.example.com/vod/index.m3u8",
			expectProxy: true,
		},
		{
			name: "uses transport route when URL matches",
			cfg: &config.Config{
				GlobalProxies: []string{"socks5://global-proxy.example.com:1080"},
				TransportRoutes: []config.TransportRoute{
					{URLPattern: "cdn.specific.com", Proxy: "socks5://specific-proxy.example.com:1080"},
				},
			},
			targetURL:   "https://cdn.specific.com/vod/index.m3u8",
			expectProxy: true,
		},
		{
			name:          "uses default client when no proxy configured",
			cfg:           &config.Config{},
			targetURL:     "https://course.example.edu/webapps/portal",
			expectDefault: true,
		},
		{
			name: "direct route bypasses global proxy",
			cfg: &config.Config{
				GlobalProxies:   []string{"http://proxy.example.com:8080"},
				TransportRoutes: []config.TransportRoute{{URLPattern: "course.example.edu", Direct: true}},
			},
			targetURL:     "https://course.example.edu/webapps/portal",
			expectDefault: true,
		},
		{
			name:       "utls domain",
			cfg:        &config.Config{UTLSDomains: []string{"protected.example.com"}},
			targetURL:  "https://video.protected.example.com/sub_info",
			expectUTLS: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := New(tt.cfg, log)
			httpClient := client.getClientForURL(tt.targetURL)

			isDefault := httpClient == client.defaultClient
			isUTLS := httpClient == client.utlsClient

			if tt.expectDefault != isDefault {
				t.Errorf("default client = %v, want %v", isDefault, tt.expectDefault)
			}
			if tt.expectUTLS != isUTLS {
				t.Errorf("utls client = %v, want %v", isUTLS, tt.expectUTLS)
			}
			if tt.expectProxy && (isDefault || isUTLS) {
				t.Error("expected proxy client")
			}
			if httpClient.Jar != client.Jar() {
				t.Error("client does not share the session cookie jar")
			}
		})
	}
}

func TestClient_RedirectsNotFollowedAndCookiesKept(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/login":
			http.SetCookie(w, &http.Cookie{Name: "session", Value: "abc", Path: "/"})
			http.Redirect(w, r, "/home?x=1", http.StatusFound)
		case "/home":
			c, err := r.Cookie("session")
			if err != nil || c.Value != "abc" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			if ua := r.Header.Get("User-Agent"); ua != config.DefaultUserAgent {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			w.Write([]byte("welcome"))
		}
	}))
	defer server.Close()

	client := New(testConfig(server.URL), logging.Discard())
	ctx := context.Background()

	resp, err := client.Get(ctx, "/login")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !resp.IsRedirect() {
		t.Fatalf("StatusCode = %d, want redirect", resp.StatusCode)
	}
	if want := server.URL + "/home?x=1"; resp.Location() != want {
		t.Errorf("Location() = %q, want %q", resp.Location(), want)
	}

	resp, err = client.Get(ctx, resp.Location())
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !resp.IsSuccess() || string(resp.Body) != "welcome" {
		t.Errorf("Get(home) = %d %q, want 200 welcome", resp.StatusCode, resp.Body)
	}
}

func TestClient_RetriesTransientStatus(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer server.Close()

	cfg := testConfig(server.URL)
	cfg.HTTPRetries = 3
	client := New(cfg, logging.Discard())
	client.retry.BaseDelay = time.Millisecond
	client.retry.MaxDelay = 2 * time.Millisecond

	body, err := client.FetchBytes(context.Background(), server.URL+"/seg.ts")
	if err != nil {
		t.Fatalf("FetchBytes() error = %v", err)
	}
	if string(body) != "ok" || calls.Load() != 3 {
		t.Errorf("FetchBytes() = %q after %d calls, want ok after 3", body, calls.Load())
	}
}

func TestClient_PostNotRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	cfg := testConfig(server.URL)
	cfg.HTTPRetries = 3
	client := New(cfg, logging.Discard())

	if _, err := client.PostForm(context.Background(), "/submit", url.Values{"a": {"1"}}); err == nil {
		t.Error("PostForm() expected error for 502")
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}

func TestFetchBytes_Status(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer server.Close()

	client := New(testConfig(server.URL), logging.Discard())
	_, err := client.FetchBytes(context.Background(), server.URL+"/missing")
	if !errors.Is(err, types.ErrPageFetch) {
		t.Errorf("FetchBytes() error = %v, want ErrPageFetch", err)
	}
}

func TestResolve(t *testing.T) {
	client := New(testConfig("https://course.example.edu"), logging.Discard())

	tests := []struct {
		uri  string
		want string
	}{
		{"/webapps/portal", "https://course.example.edu/webapps/portal"},
		{"webapps/portal", "https://course.example.edu/webapps/portal"},
		{"https://other.example.com/x", "https://other.example.com/x"},
	}
	for _, tt := range tests {
		if got := client.Resolve(tt.uri); got != tt.want {
			t.Errorf("Resolve(%q) = %q, want %q", tt.uri, got, tt.want)
		}
	}
}

func TestBackoff(t *testing.T) {
	base, max := 100*time.Millisecond, time.Second
	tests := []struct {
		attempt int
		min     time.Duration
		max     time.Duration
	}{
		{0, 100 * time.Millisecond, 125 * time.Millisecond},
		{2, 400 * time.Millisecond, 500 * time.Millisecond},
		{10, time.Second, 1250 * time.Millisecond},
		{100, time.Second, 1250 * time.Millisecond},
	}
	for _, tt := range tests {
		got := Backoff(base, max, tt.attempt)
		if got < tt.min || got > tt.max {
			t.Errorf("Backoff(attempt=%d) = %v, want in [%v, %v]", tt.attempt, got, tt.min, tt.max)
		}
	}
}

func TestRetryOperation_Permanent(t *testing.T) {
	calls := 0
	_, err := RetryOperation(context.Background(), RetryOptions{Retries: 5, BaseDelay: time.Millisecond}, func() (int, error) {
		calls++
		return 0, &permanentError{err: errors.New("bad request")}
	})
	if err == nil || calls != 1 {
		t.Errorf("RetryOperation() = %v after %d calls, want error after 1", err, calls)
	}
}

func TestHostLimiter(t *testing.T) {
	if NewHostLimiter(0) != nil {
		t.Error("NewHostLimiter(0) should disable limiting")
	}
	var disabled *HostLimiter
	if err := disabled.Wait(context.Background(), "example.com"); err != nil {
		t.Errorf("nil limiter Wait() error = %v", err)
	}

	limiter := NewHostLimiter(1000)
	for i := 0; i < 5; i++ {
		if err := limiter.Wait(context.Background(), "Example.com"); err != nil {
			t.Fatalf("Wait() error = %v", err)
		}
	}
	if len(limiter.limiters) != 1 {
		t.Errorf("limiters = %d, want 1 (hosts are case-insensitive)", len(limiter.limiters))
	}
}
