package portal

import (
	"context"
	"fmt"

	"course-portal-go/pkg/extractors"
	"course-portal-go/pkg/types"
)

// Announcements lists the course announcements. A course without an
// announcement entry has none.
func (c *Course) Announcements(ctx context.Context) ([]*AnnouncementHandle, error) {
	entry, ok := c.Entry(AnnouncementEntry)
	if !ok {
		return nil, nil
	}
	pc := c.client
	metas, err := cached(ctx, pc, "announcements:"+c.Meta.ID, func(ctx context.Context) ([]types.AnnouncementMeta, error) {
		listURL, err := c.QueryLaunchLink(ctx, entry.URI)
		if err != nil {
			return nil, err
		}
		page, err := pc.get(ctx, listURL, nil)
		if err != nil {
			return nil, err
		}
		return extractors.ParseAnnouncements(page)
	})
	if err != nil {
		return nil, err
	}

	out := make([]*AnnouncementHandle, len(metas))
	for i, m := range metas {
		out[i] = &AnnouncementHandle{client: pc, Course: c.Meta, Meta: m}
	}
	return out, nil
}

// Announcement returns the announcement with the given id.
func (c *Course) Announcement(ctx context.Context, id string) (*AnnouncementHandle, error) {
	list, err := c.Announcements(ctx)
	if err != nil {
		return nil, err
	}
	for _, h := range list {
		if h.Meta.ID == id {
			return h, nil
		}
	}
	return nil, fmt.Errorf("announcement %s: %w", id, types.ErrNotFound)
}

// AnnouncementHandle is one row of the announcement list.
type AnnouncementHandle struct {
	client *Client
	Course types.CourseMeta
	Meta   types.AnnouncementMeta
}

// Title returns the announcement title.
func (h *AnnouncementHandle) Title() string { return h.Meta.Title }

// Announcement is an announcement with its page loaded.
type Announcement struct {
	Meta types.AnnouncementMeta `json:"meta"`
	HTML string                 `json:"-"`
	Text string                 `json:"text"`
}

// Get fetches the announcement page.
func (h *AnnouncementHandle) Get(ctx context.Context) (*Announcement, error) {
	page, err := h.client.get(ctx, h.Meta.Href, nil)
	if err != nil {
		return nil, err
	}
	text, err := extractors.AnnouncementText(page)
	if err != nil {
		return nil, err
	}
	return &Announcement{Meta: h.Meta, HTML: string(page), Text: text}, nil
}
