// Package streams serves course videos as plain HLS to local players.
package streams

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"course-portal-go/pkg/hls"
	"course-portal-go/pkg/logging"
	"course-portal-go/pkg/types"
	"course-portal-go/pkg/urlutil"
)

// Video is a resolved lecture whose segments can be decrypted.
type Video interface {
	Playlist() *hls.Playlist
	SegmentData(ctx context.Context, index int, key *hls.Key) ([]byte, error)
}

// VideoOpener resolves the index-th video of a course.
type VideoOpener func(ctx context.Context, courseID string, index int) (Video, error)

// HLSHandler rewrites encrypted course playlists to point at local segment
// URLs and serves those segments decrypted.
type HLSHandler struct {
	open VideoOpener
	ttl  time.Duration
	log  *logging.Logger

	group    singleflight.Group
	mu       sync.Mutex
	sessions map[string]*videoSession
	now      func() time.Time
}

type videoSession struct {
	video  Video
	keys   []*hls.Key
	opened time.Time
}

// NewHLSHandler creates a handler that keeps resolved videos for ttl.
func NewHLSHandler(open VideoOpener, ttl time.Duration, log *logging.Logger) *HLSHandler {
	return &HLSHandler{
		open:     open,
		ttl:      ttl,
		log:      log.WithComponent("hls-handler"),
		sessions: make(map[string]*videoSession),
		now:      time.Now,
	}
}

// RegisterRoutes registers the playlist and segment routes.
func (h *HLSHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /stream/{course}/{index}/playlist.m3u8", h.handlePlaylist)
	mux.HandleFunc("GET /stream/{course}/{index}/seg/{segment}", h.handleSegment)
}

func (h *HLSHandler) handlePlaylist(w http.ResponseWriter, r *http.Request) {
	session, err := h.session(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	rewritten, err := RewritePlaylist(session.video.Playlist())
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Write(rewritten)
}

func (h *HLSHandler) handleSegment(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("segment")
	n, err := strconv.Atoi(strings.TrimSuffix(name, ".ts"))
	if err != nil || !strings.HasSuffix(name, ".ts") {
		http.Error(w, "invalid segment", http.StatusBadRequest)
		return
	}

	session, err := h.session(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if n < 0 || n >= len(session.keys) {
		h.writeError(w, r, fmt.Errorf("segment %d: %w", n, types.ErrNotFound))
		return
	}

	data, err := session.video.SegmentData(r.Context(), n, session.keys[n])
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "video/MP2T")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Write(data)
}

// session returns the resolved video for the request, opening it at most
// once per course and index while it is fresh.
func (h *HLSHandler) session(r *http.Request) (*videoSession, error) {
	courseID := r.PathValue("course")
	index, err := strconv.Atoi(r.PathValue("index"))
	if err != nil {
		return nil, fmt.Errorf("video index %q: %w", r.PathValue("index"), types.ErrNotFound)
	}
	key := courseID + "/" + strconv.Itoa(index)

	h.mu.Lock()
	s, ok := h.sessions[key]
	if ok && h.now().Sub(s.opened) < h.ttl {
		h.mu.Unlock()
		return s, nil
	}
	h.mu.Unlock()

	v, err, _ := h.group.Do(key, func() (any, error) {
		h.log.WithCourse(courseID).Info("opening video", "index", index)
		video, err := h.open(context.WithoutCancel(r.Context()), courseID, index)
		if err != nil {
			return nil, err
		}
		s := &videoSession{
			video:  video,
			keys:   video.Playlist().KeySchedule(),
			opened: h.now(),
		}
		h.store(key, s)
		return s, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*videoSession), nil
}

// store saves s under key and drops every other expired session.
func (h *HLSHandler) store(key string, s *videoSession) {
	h.mu.Lock()
	defer h.mu.Unlock()
	now := h.now()
	for k, old := range h.sessions {
		if now.Sub(old.opened) >= h.ttl {
			delete(h.sessions, k)
		}
	}
	h.sessions[key] = s
}

func (h *HLSHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusBadGateway
	switch {
	case errors.Is(err, types.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, types.ErrUnsupportedPlaylist), errors.Is(err, types.ErrUnsupportedKeyMethod):
		status = http.StatusUnprocessableEntity
	}
	h.log.Warn("stream request failed", "path", r.URL.Path, "status", status, "error", err)
	http.Error(w, err.Error(), status)
}

// RewritePlaylist returns the playlist with every EXT-X-KEY removed and
// segment i replaced by the relative URL "seg/<i>.ts". Other URI attributes
// are made absolute against the playlist URL.
func RewritePlaylist(p *hls.Playlist) ([]byte, error) {
	var result bytes.Buffer
	scanner := bufio.NewScanner(bytes.NewReader(p.Raw()))
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	segment := 0
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")

		switch {
		case strings.TrimSpace(line) == "":
			continue
		case strings.HasPrefix(line, "#EXT-X-KEY"):
			continue
		case strings.HasPrefix(line, "#"):
			if strings.Contains(line, "URI=") {
				line = rewriteURITag(line, p.URL)
			}
			result.WriteString(line + "\n")
		default:
			fmt.Fprintf(&result, "seg/%d.ts\n", segment)
			segment++
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if segment != p.Len() {
		return nil, fmt.Errorf("rewrite playlist: %d segment lines for %d segments: %w", segment, p.Len(), types.ErrUnexpectedResponse)
	}
	return result.Bytes(), nil
}

// rewriteURITag makes the URI attribute of a tag absolute.
func rewriteURITag(line, base string) string {
	start := strings.Index(line, "URI=\"")
	if start == -1 {
		return line
	}
	start += 5

	end := strings.Index(line[start:], "\"")
	if end == -1 {
		return line
	}

	uri := line[start : start+end]
	return line[:start] + urlutil.ResolveURL(uri, base) + line[start+end:]
}
