// Package httpclient provides the authenticated portal session: a shared
// cookie jar, redirect exposure, proxy routing, browser TLS fingerprinting,
// per-host rate limiting and retry of transient failures.
package httpclient

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"course-portal-go/pkg/config"
	"course-portal-go/pkg/logging"
	"course-portal-go/pkg/types"
	"course-portal-go/pkg/urlutil"

	utls "github.com/refraction-networking/utls"
	"golang.org/x/net/http2"
	"golang.org/x/net/proxy"
)

// Client is a cookie-carrying HTTP session. Redirects are never followed
// automatically; callers inspect 3xx responses themselves.
type Client struct {
	defaultClient *http.Client
	utlsClient    *http.Client // Client with browser-like TLS fingerprint
	proxyClients  map[string]*http.Client
	routes        []config.TransportRoute
	globalProxies []string
	utlsDomains   []string
	jar           http.CookieJar
	timeout       time.Duration
	baseURL       string
	userAgent     string
	retry         RetryOptions
	limiter       *HostLimiter
	mu            sync.RWMutex
	log           *logging.Logger
}

// Response is a fully read HTTP response.
type Response struct {
	URL        string
	StatusCode int
	Header     http.Header
	Body       []byte
}

// IsSuccess reports a 2xx status.
func (r *Response) IsSuccess() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// IsRedirect reports a 3xx status.
func (r *Response) IsRedirect() bool {
	return r.StatusCode >= 300 && r.StatusCode < 400
}

// Location returns the redirect target resolved against the request URL.
func (r *Response) Location() string {
	loc := r.Header.Get("Location")
	if loc == "" {
		return ""
	}
	return urlutil.ResolveURL(loc, r.URL)
}

// ipv4Dialer creates a dialer that only uses IPv4.
// This avoids issues with IPv6 connectivity in environments where IPv6 is not available.
func ipv4Dialer() *net.Dialer {
	return &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 60 * time.Second,
	}
}

// ipv4DialContext forces IPv4-only connections.
func ipv4DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	if network == "tcp" {
		network = "tcp4"
	}
	return ipv4Dialer().DialContext(ctx, network, addr)
}

func noRedirect(*http.Request, []*http.Request) error {
	return http.ErrUseLastResponse
}

// New creates a new session client with the given configuration.
func New(cfg *config.Config, log *logging.Logger) *Client {
	jar, _ := cookiejar.New(nil)
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	c := &Client{
		proxyClients:  make(map[string]*http.Client),
		routes:        cfg.TransportRoutes,
		globalProxies: cfg.GlobalProxies,
		utlsDomains:   cfg.UTLSDomains,
		jar:           jar,
		timeout:       timeout,
		baseURL:       cfg.PortalBaseURL,
		userAgent:     cfg.UserAgent,
		retry: RetryOptions{
			Retries:   cfg.HTTPRetries,
			BaseDelay: 300 * time.Millisecond,
			MaxDelay:  2 * time.Second,
		},
		limiter: NewHostLimiter(cfg.RequestsPerSecond),
		log:     log.WithComponent("httpclient"),
	}

	// Default client with connection pooling (IPv4 only)
	c.defaultClient = c.newHTTPClient(&http.Transport{
		DialContext:           ipv4DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ResponseHeaderTimeout: timeout,
	})
	c.utlsClient = c.newHTTPClient(newUTLSRoundTripper())

	return c
}

func (c *Client) newHTTPClient(rt http.RoundTripper) *http.Client {
	return &http.Client{
		Transport:     rt,
		Jar:           c.jar,
		CheckRedirect: noRedirect,
		Timeout:       c.timeout,
	}
}

// utlsRoundTripper implements http.RoundTripper with utls and HTTP/2 support
type utlsRoundTripper struct {
	dialer      *net.Dialer
	h2Transport *http2.Transport
}

func newUTLSRoundTripper() *utlsRoundTripper {
	return &utlsRoundTripper{
		dialer: ipv4Dialer(),
		h2Transport: &http2.Transport{
			DisableCompression: false,
			AllowHTTP:          false,
		},
	}
}

func (t *utlsRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.URL.Scheme != "https" {
		return http.DefaultTransport.RoundTrip(req)
	}

	addr := req.URL.Host
	if req.URL.Port() == "" {
		addr = addr + ":443"
	}

	conn, err := t.dialer.DialContext(req.Context(), "tcp4", addr)
	if err != nil {
		return nil, err
	}

	tlsConfig := &utls.Config{
		ServerName: req.URL.Hostname(),
	}
	utlsConn := utls.UClient(conn, tlsConfig, utls.HelloChrome_120)
	if err := utlsConn.Handshake(); err != nil {
		conn.Close()
		return nil, err
	}

	if utlsConn.ConnectionState().NegotiatedProtocol == "h2" {
		h2Conn, err := t.h2Transport.NewClientConn(utlsConn)
		if err != nil {
			conn.Close()
			return nil, err
		}
		return h2Conn.RoundTrip(req)
	}

	return t.doHTTP1Request(utlsConn, req)
}

func (t *utlsRoundTripper) doHTTP1Request(conn net.Conn, req *http.Request) (*http.Response, error) {
	if err := req.Write(conn); err != nil {
		conn.Close()
		return nil, err
	}

	resp, err := http.ReadResponse(bufio.NewReader(conn), req)
	if err != nil {
		conn.Close()
		return nil, err
	}

	// Wrap body to close connection when done
	resp.Body = &connCloser{resp.Body, conn}
	return resp, nil
}

type connCloser struct {
	io.ReadCloser
	conn net.Conn
}

func (c *connCloser) Close() error {
	c.ReadCloser.Close()
	return c.conn.Close()
}

// needsUTLS returns true if the URL requires browser-like TLS fingerprinting.
func (c *Client) needsUTLS(targetURL string) bool {
	host := strings.ToLower(urlutil.Host(targetURL))
	for _, domain := range c.utlsDomains {
		if domain != "" && strings.Contains(host, strings.ToLower(domain)) {
			return true
		}
	}
	return false
}

// Resolve turns a portal-relative URI into an absolute URL.
func (c *Client) Resolve(uri string) string {
	if strings.HasPrefix(uri, "http://") || strings.HasPrefix(uri, "https://") {
		return uri
	}
	if !strings.HasPrefix(uri, "/") {
		uri = "/" + uri
	}
	return c.baseURL + uri
}

// Jar returns the session cookie jar.
func (c *Client) Jar() http.CookieJar {
	return c.jar
}

// Do executes an HTTP request through the matching transport, after waiting
// for the per-host rate limit. Transient failures of idempotent requests are
// retried.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" && c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	client := c.getClientForURL(req.URL.String())

	attempt := func() (*http.Response, error) {
		if err := c.limiter.Wait(req.Context(), req.URL.Host); err != nil {
			return nil, &permanentError{err: err}
		}
		resp, err := client.Do(req)
		if err != nil {
			if isRetryableError(err) {
				return nil, err
			}
			return nil, &permanentError{err: err}
		}
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			resp.Body.Close()
			return nil, fmt.Errorf("retryable status: %d", resp.StatusCode)
		}
		return resp, nil
	}

	if req.Method != http.MethodGet && req.Method != http.MethodHead {
		resp, err := attempt()
		return resp, unwrapPermanent(err)
	}
	resp, err := RetryOperation(req.Context(), c.retry, attempt)
	return resp, unwrapPermanent(err)
}

func (c *Client) send(ctx context.Context, method, uri string, body io.Reader, header http.Header) (*Response, error) {
	target := c.Resolve(uri)
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, err
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	start := time.Now()
	resp, err := c.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, target, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", target, err)
	}
	c.log.WithURL(target).WithDuration(time.Since(start)).Debug("request done",
		"method", method, "status", resp.StatusCode, "bytes", len(data))

	return &Response{
		URL:        target,
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       data,
	}, nil
}

// Get issues a GET for uri, which may be relative to the portal base URL.
func (c *Client) Get(ctx context.Context, uri string) (*Response, error) {
	return c.send(ctx, http.MethodGet, uri, nil, nil)
}

// GetQuery issues a GET for uri with params appended to its query.
func (c *Client) GetQuery(ctx context.Context, uri string, params url.Values) (*Response, error) {
	return c.Get(ctx, urlutil.WithQuery(uri, params))
}

// PostForm issues a url-encoded form POST.
func (c *Client) PostForm(ctx context.Context, uri string, form url.Values) (*Response, error) {
	header := http.Header{"Content-Type": {"application/x-www-form-urlencoded"}}
	return c.send(ctx, http.MethodPost, uri, strings.NewReader(form.Encode()), header)
}

// PostMultipart issues a POST with a prebuilt multipart body.
func (c *Client) PostMultipart(ctx context.Context, uri string, body []byte, contentType string) (*Response, error) {
	header := http.Header{"Content-Type": {contentType}}
	return c.send(ctx, http.MethodPost, uri, bytes.NewReader(body), header)
}

// FetchBytes GETs an absolute URL and returns its body, failing with
// types.ErrPageFetch on any non-2xx status.
func (c *Client) FetchBytes(ctx context.Context, target string) ([]byte, error) {
	resp, err := c.Get(ctx, target)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrPageFetch, err)
	}
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("%w: %s returned status %d", types.ErrPageFetch, resp.URL, resp.StatusCode)
	}
	return resp.Body, nil
}

// getClientForURL returns the appropriate HTTP client based on URL routing rules.
func (c *Client) getClientForURL(targetURL string) *http.Client {
	if c.needsUTLS(targetURL) {
		c.log.Debug("using utls client", "url", targetURL)
		return c.utlsClient
	}

	// Check transport routes first (most specific)
	for _, route := range c.routes {
		if strings.Contains(targetURL, route.URLPattern) {
			c.log.Debug("matched transport route", "url", targetURL, "pattern", route.URLPattern, "proxy", route.Proxy, "direct", route.Direct)

			// Direct connection - bypass global proxy
			if route.Direct {
				if route.DisableSSL {
					return c.getInsecureClient()
				}
				return c.defaultClient
			}

			if route.Proxy != "" {
				return c.getOrCreateProxyClient(route.Proxy, route.DisableSSL)
			}
			if route.DisableSSL {
				return c.getInsecureClient()
			}
		}
	}

	if len(c.globalProxies) > 0 {
		proxyURL := c.globalProxies[0]
		c.log.Debug("using global proxy", "url", targetURL, "proxy", proxyURL)
		return c.getOrCreateProxyClient(proxyURL, false)
	}

	return c.defaultClient
}

// getOrCreateProxyClient returns a cached proxy client or creates a new one.
func (c *Client) getOrCreateProxyClient(proxyURL string, disableSSL bool) *http.Client {
	cacheKey := proxyURL
	if disableSSL {
		cacheKey += ":insecure"
	}

	c.mu.RLock()
	if client, ok := c.proxyClients[cacheKey]; ok {
		c.mu.RUnlock()
		return client
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()

	// Double-check after acquiring write lock
	if client, ok := c.proxyClients[cacheKey]; ok {
		return client
	}

	client := c.createProxyClient(proxyURL, disableSSL)
	c.proxyClients[cacheKey] = client
	c.log.Debug("created proxy client", "proxy", proxyURL, "disable_ssl", disableSSL)

	return client
}

// createProxyClient creates a new HTTP client for the given proxy. All
// clients share the session cookie jar.
func (c *Client) createProxyClient(proxyURL string, disableSSL bool) *http.Client {
	transport := &http.Transport{
		DialContext:           ipv4DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	if disableSSL {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	if proxyURL == "" {
		return c.newHTTPClient(transport)
	}

	parsedURL, err := url.Parse(proxyURL)
	if err != nil {
		c.log.Error("failed to parse proxy URL", "url", proxyURL, "error", err)
		return c.defaultClient
	}

	switch parsedURL.Scheme {
	case "socks5", "socks5h":
		dialer, err := proxy.FromURL(parsedURL, proxy.Direct)
		if err != nil {
			c.log.Error("failed to create SOCKS5 dialer", "error", err)
			return c.defaultClient
		}
		if contextDialer, ok := dialer.(proxy.ContextDialer); ok {
			transport.DialContext = contextDialer.DialContext
		} else {
			transport.Dial = dialer.Dial
		}
	case "http", "https":
		transport.Proxy = http.ProxyURL(parsedURL)
	default:
		c.log.Warn("unsupported proxy scheme", "scheme", parsedURL.Scheme)
		return c.defaultClient
	}

	return c.newHTTPClient(transport)
}

// getInsecureClient returns a client that skips SSL verification.
func (c *Client) getInsecureClient() *http.Client {
	return c.getOrCreateProxyClient("", true)
}
