package portal

import (
	"context"
	"fmt"
	"net/url"

	"course-portal-go/pkg/extractors"
	"course-portal-go/pkg/hls"
	"course-portal-go/pkg/types"
)

// Videos lists the course's recorded lectures.
func (c *Course) Videos(ctx context.Context) ([]*VideoHandle, error) {
	pc := c.client
	metas, err := cached(ctx, pc, "videos:"+c.Meta.ID, func(ctx context.Context) ([]types.VideoMeta, error) {
		pc.log.WithCourse(c.Meta.ID).Info("fetching video list")
		listURL := pc.http.Resolve(VideoListPath)
		page, err := pc.get(ctx, listURL, url.Values{"course_id": {c.Meta.ID}})
		if err != nil {
			return nil, err
		}
		return extractors.ParseVideoList(page, listURL)
	})
	if err != nil {
		return nil, err
	}

	out := make([]*VideoHandle, len(metas))
	for i, m := range metas {
		out[i] = &VideoHandle{client: pc, Course: c.Meta, Meta: m}
	}
	return out, nil
}

// VideoHandle is one recorded lecture, not yet resolved.
type VideoHandle struct {
	client *Client
	Course types.CourseMeta
	Meta   types.VideoMeta
}

// ID is stable across crawls: "<course id>::<sub id>".
func (h *VideoHandle) ID() string {
	return h.Meta.ID(h.Course.ID)
}

// Title returns the lecture title.
func (h *VideoHandle) Title() string { return h.Meta.Title }

// Get resolves and parses the lecture's media playlist.
func (h *VideoHandle) Get(ctx context.Context) (*Video, error) {
	c := h.client
	playlistURL, raw, err := c.resolver.Resolve(ctx, h.Meta.URL)
	if err != nil {
		return nil, fmt.Errorf("resolve %s %s: %w", h.Course.Title(), h.Meta.Title, err)
	}
	pl, err := hls.Parse(raw, playlistURL)
	if err != nil {
		return nil, fmt.Errorf("parse playlist for %s: %w", h.Meta.Title, err)
	}
	c.log.WithCourse(h.Course.ID).Debug("video ready",
		"video", h.ID(), "segments", pl.Len(), "media_sequence", pl.MediaSequence)

	return &Video{
		SegmentReader: hls.NewSegmentReader(pl, c.artifactFetcher("segment:"), c.artifactFetcher("key:")),
		Course:        h.Course,
		Meta:          h.Meta,
	}, nil
}

// Video is a resolved lecture. Segments are fetched and decrypted through
// the embedded reader; callers thread keys with Playlist().RefreshKey.
type Video struct {
	*hls.SegmentReader
	Course types.CourseMeta
	Meta   types.VideoMeta
}

// CourseName returns the course name without its semester.
func (v *Video) CourseName() string {
	return v.Course.Name()
}

// Len returns the number of segments.
func (v *Video) Len() int {
	return v.Playlist().Len()
}

// VideoAt returns the index-th recorded lecture of course id, in list order.
func (b *Blackboard) VideoAt(ctx context.Context, courseID string, index int) (*VideoHandle, error) {
	course, err := b.Course(ctx, courseID)
	if err != nil {
		return nil, err
	}
	videos, err := course.Videos(ctx)
	if err != nil {
		return nil, err
	}
	if index < 0 || index >= len(videos) {
		return nil, fmt.Errorf("video %d of course %s: %w", index, courseID, types.ErrNotFound)
	}
	return videos[index], nil
}
