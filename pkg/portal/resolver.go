package portal

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"course-portal-go/pkg/cache"
	"course-portal-go/pkg/extractors"
	"course-portal-go/pkg/httpclient"
	"course-portal-go/pkg/logging"
	"course-portal-go/pkg/types"
	"course-portal-go/pkg/urlutil"
)

// PlaylistResolver turns a lecture landing page into its media playlist.
type PlaylistResolver struct {
	http    *httpclient.Client
	apiBase string
	cache   *cache.Cache
	ttl     time.Duration
	log     *logging.Logger
}

// NewPlaylistResolver creates a resolver. Playlists are cached for ttl when
// c is not nil.
func NewPlaylistResolver(hc *httpclient.Client, apiBase string, c *cache.Cache, ttl time.Duration, log *logging.Logger) *PlaylistResolver {
	if log == nil {
		log = logging.Discard()
	}
	return &PlaylistResolver{
		http:    hc,
		apiBase: apiBase,
		cache:   c,
		ttl:     ttl,
		log:     log.WithComponent("playlist-resolver"),
	}
}

// subInfoParams are read from the player redirect and forwarded to the
// sub-info endpoint.
var subInfoParams = []string{"course_id", "sub_id", "app_id", "auth_data"}

// Resolve follows landing page → player iframe → redirect → sub-info and
// returns the playlist URL with the playlist bytes as served.
func (r *PlaylistResolver) Resolve(ctx context.Context, landingURL string) (string, []byte, error) {
	log := r.log.WithURL(landingURL)

	landing, err := r.http.Get(ctx, landingURL)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", types.ErrPageFetch, err)
	}
	if !landing.IsSuccess() {
		return "", nil, fmt.Errorf("%w: landing page returned status %d", types.ErrPageFetch, landing.StatusCode)
	}
	src, err := extractors.FindIframeSrc(landing.Body)
	if err != nil {
		return "", nil, err
	}

	player, err := r.http.Get(ctx, urlutil.ResolveURL(src, landing.URL))
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", types.ErrPageFetch, err)
	}
	if !player.IsRedirect() || player.Header.Get("Location") == "" {
		return "", nil, fmt.Errorf("%w: player returned status %d, want a redirect", types.ErrUnexpectedResponse, player.StatusCode)
	}
	query := urlutil.QueryParams(player.Header.Get("Location"))
	params := url.Values{}
	for _, name := range subInfoParams {
		v := query.Get(name)
		if v == "" {
			return "", nil, fmt.Errorf("%w: player redirect has no %s", types.ErrUnexpectedResponse, name)
		}
		params.Set(name, v)
	}

	info, err := r.http.GetQuery(ctx, r.apiBase+SubInfoPath, params)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", types.ErrPageFetch, err)
	}
	if !info.IsSuccess() {
		return "", nil, fmt.Errorf("%w: sub-info returned status %d", types.ErrPageFetch, info.StatusCode)
	}
	playlistURL, err := playlistFromSubInfo(info.Body)
	if err != nil {
		return "", nil, err
	}
	log.Debug("resolved playlist", "playlist", playlistURL)

	fetch := func(ctx context.Context) ([]byte, error) {
		return r.http.FetchBytes(ctx, playlistURL)
	}
	var raw []byte
	if r.cache != nil {
		raw, err = r.cache.Bytes(ctx, "playlist:"+playlistURL, r.ttl, fetch)
	} else {
		raw, err = fetch(ctx)
	}
	if err != nil {
		return "", nil, err
	}
	return playlistURL, raw, nil
}

type subInfo struct {
	List []struct {
		SubContent string `json:"sub_content"`
	} `json:"list"`
}

type subContent struct {
	SavePlayback *struct {
		IsM3U8   string `json:"is_m3u8"`
		Contents string `json:"contents"`
	} `json:"save_playback"`
}

// playlistFromSubInfo digs the playlist URL out of list[0].sub_content,
// which is itself a JSON document encoded as a string.
func playlistFromSubInfo(body []byte) (string, error) {
	var info subInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return "", fmt.Errorf("%w: decode sub-info: %v", types.ErrUnexpectedResponse, err)
	}
	if len(info.List) == 0 || info.List[0].SubContent == "" {
		return "", fmt.Errorf("%w: sub-info has no sub_content", types.ErrUnexpectedResponse)
	}
	var content subContent
	if err := json.Unmarshal([]byte(info.List[0].SubContent), &content); err != nil {
		return "", fmt.Errorf("%w: decode sub_content: %v", types.ErrUnexpectedResponse, err)
	}
	sp := content.SavePlayback
	if sp == nil {
		return "", fmt.Errorf("%w: sub_content has no save_playback", types.ErrUnexpectedResponse)
	}
	if sp.IsM3U8 != "yes" {
		return "", fmt.Errorf("%w: recording is not an m3u8 playlist", types.ErrUnsupportedPlaylist)
	}
	if sp.Contents == "" {
		return "", fmt.Errorf("%w: save_playback has no contents", types.ErrUnexpectedResponse)
	}
	return sp.Contents, nil
}
