// Package portal is the course portal client: login, course discovery,
// content crawling and recorded lecture access.
package portal

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/url"
	"strconv"
	"time"

	"course-portal-go/pkg/cache"
	"course-portal-go/pkg/config"
	"course-portal-go/pkg/extractors"
	"course-portal-go/pkg/httpclient"
	"course-portal-go/pkg/interfaces"
	"course-portal-go/pkg/logging"
	"course-portal-go/pkg/types"
)

// Client holds the session shared by every handle derived from it.
type Client struct {
	http      *httpclient.Client
	cache     *cache.Cache
	cfg       *config.Config
	extractor interfaces.ContentExtractor
	resolver  *PlaylistResolver
	loc       *time.Location
	log       *logging.Logger
}

// New creates a portal client. A nil cache disables caching.
func New(cfg *config.Config, hc *httpclient.Client, c *cache.Cache, log *logging.Logger) *Client {
	if log == nil {
		log = logging.Discard()
	}
	loc, err := time.LoadLocation("Asia/Shanghai")
	if err != nil {
		loc = time.FixedZone("CST", 8*3600)
	}
	pc := &Client{
		http:      hc,
		cache:     c,
		cfg:       cfg,
		extractor: extractors.NewListingExtractor(log),
		loc:       loc,
		log:       log.WithComponent("portal"),
	}
	pc.resolver = NewPlaylistResolver(hc, cfg.VideoAPIBaseURL, c, cfg.ArtifactTTL, log)
	return pc
}

// HTTP returns the underlying session.
func (c *Client) HTTP() *httpclient.Client {
	return c.http
}

// Location is the time zone deadlines are interpreted in.
func (c *Client) Location() *time.Location {
	return c.loc
}

type iaaaResponse struct {
	Success bool   `json:"success"`
	Token   string `json:"token"`
	Errors  struct {
		Msg string `json:"msg"`
	} `json:"errors"`
}

// Login authenticates against IAAA and exchanges the token for a portal
// session.
func (c *Client) Login(ctx context.Context, username, password string) (*Blackboard, error) {
	redirect := c.cfg.PortalBaseURL + SSOLoginPath
	form := url.Values{
		"appid":    {iaaaAppID},
		"userName": {username},
		"password": {password},
		"randCode": {""},
		"smsCode":  {""},
		"otpCode":  {""},
		"redirUrl": {redirect},
	}
	resp, err := c.http.PostForm(ctx, c.cfg.IAAABaseURL+IAAALoginPath, form)
	if err != nil {
		return nil, fmt.Errorf("iaaa login: %w", err)
	}
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("%w: iaaa returned status %d", types.ErrLogin, resp.StatusCode)
	}

	var body iaaaResponse
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		return nil, fmt.Errorf("%w: decode iaaa response: %v", types.ErrUnexpectedResponse, err)
	}
	if body.Token == "" {
		msg := body.Errors.Msg
		if msg == "" {
			msg = "no token returned"
		}
		return nil, fmt.Errorf("%w: %s", types.ErrLogin, msg)
	}

	sso := url.Values{
		"_rand": {strconv.FormatFloat(rand.Float64(), 'f', -1, 64)},
		"token": {body.Token},
	}
	resp, err = c.http.GetQuery(ctx, SSOLoginPath, sso)
	if err != nil {
		return nil, fmt.Errorf("sso login: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("%w: sso returned status %d", types.ErrLogin, resp.StatusCode)
	}

	c.log.Info("logged in", "user", username)
	return &Blackboard{client: c}, nil
}

// get fetches a portal page and requires a 2xx status.
func (c *Client) get(ctx context.Context, uri string, params url.Values) ([]byte, error) {
	resp, err := c.http.GetQuery(ctx, uri, params)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrPageFetch, err)
	}
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("%w: %s returned status %d", types.ErrPageFetch, resp.URL, resp.StatusCode)
	}
	return resp.Body, nil
}

// redirectTarget fetches uri and returns its redirect Location.
func (c *Client) redirectTarget(ctx context.Context, uri string) (string, error) {
	resp, err := c.http.Get(ctx, uri)
	if err != nil {
		return "", fmt.Errorf("%w: %v", types.ErrPageFetch, err)
	}
	if !resp.IsRedirect() {
		return "", fmt.Errorf("%w: %s returned status %d, want a redirect", types.ErrUnexpectedResponse, resp.URL, resp.StatusCode)
	}
	loc := resp.Location()
	if loc == "" {
		return "", fmt.Errorf("%w: %s redirect without location", types.ErrUnexpectedResponse, resp.URL)
	}
	return loc, nil
}

// cached runs produce through the metadata cache.
func cached[T any](ctx context.Context, c *Client, key string, produce func(context.Context) (T, error)) (T, error) {
	if c.cache == nil {
		return produce(ctx)
	}
	return cache.GetOrCompute(ctx, c.cache, key, c.cfg.CacheTTL, produce)
}

// artifactFetcher fetches absolute URLs through the artifact cache.
func (c *Client) artifactFetcher(prefix string) interfaces.ByteFetcher {
	return interfaces.ByteFetcherFunc(func(ctx context.Context, target string) ([]byte, error) {
		if c.cache == nil {
			return c.http.FetchBytes(ctx, target)
		}
		return c.cache.Bytes(ctx, prefix+target, c.cfg.ArtifactTTL, func(ctx context.Context) ([]byte, error) {
			return c.http.FetchBytes(ctx, target)
		})
	})
}
