package portal

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"course-portal-go/pkg/crawler"
	"course-portal-go/pkg/extractors"
	"course-portal-go/pkg/interfaces"
	"course-portal-go/pkg/tree"
	"course-portal-go/pkg/types"
)

// Blackboard is a logged-in portal session.
type Blackboard struct {
	client *Client
}

// Client returns the client the session belongs to.
func (b *Blackboard) Client() *Client {
	return b.client
}

// Courses lists the user's courses, optionally only the current semester's.
func (b *Blackboard) Courses(ctx context.Context, onlyCurrent bool) ([]*CourseHandle, error) {
	c := b.client
	metas, err := cached(ctx, c, "courses", func(ctx context.Context) ([]types.CourseMeta, error) {
		c.log.Info("fetching courses")
		page, err := c.get(ctx, HomePath, url.Values{"tab_tab_group_id": {"_1_1"}})
		if err != nil {
			return nil, err
		}
		return extractors.ParseCourseList(page)
	})
	if err != nil {
		return nil, err
	}

	handles := make([]*CourseHandle, 0, len(metas))
	for _, m := range metas {
		if onlyCurrent && !m.IsCurrent {
			continue
		}
		handles = append(handles, &CourseHandle{client: c, Meta: m})
	}
	return handles, nil
}

// Course finds a course by id among all semesters and loads it.
func (b *Blackboard) Course(ctx context.Context, id string) (*Course, error) {
	handles, err := b.Courses(ctx, false)
	if err != nil {
		return nil, err
	}
	for _, h := range handles {
		if h.Meta.ID == id {
			return h.Get(ctx)
		}
	}
	return nil, fmt.Errorf("%w: course %s", types.ErrNotFound, id)
}

// CourseHandle is a course known by its metadata, not yet loaded.
type CourseHandle struct {
	client *Client
	Meta   types.CourseMeta
}

// Title returns the course title.
func (h *CourseHandle) Title() string { return h.Meta.Title() }

// Get loads the course navigation menu.
func (h *CourseHandle) Get(ctx context.Context) (*Course, error) {
	c := h.client
	entries, err := cached(ctx, c, "course-entries:"+h.Meta.ID, func(ctx context.Context) ([]types.Entry, error) {
		c.log.WithCourse(h.Meta.ID).Info("fetching course", "title", h.Meta.Title())
		page, err := c.get(ctx, CoursePagePath, url.Values{
			"method":    {"search"},
			"context":   {"course_entry"},
			"course_id": {h.Meta.ID},
			"handle":    {"announcements_entry"},
			"mode":      {"view"},
		})
		if err != nil {
			return nil, err
		}
		return extractors.ParseCourseEntries(page)
	})
	if err != nil {
		return nil, err
	}
	return &Course{client: c, Meta: h.Meta, Entries: entries}, nil
}

// Course is a loaded course with its navigation entries in menu order.
type Course struct {
	client  *Client
	Meta    types.CourseMeta
	Entries []types.Entry
}

// Entry returns the navigation entry with the given title.
func (c *Course) Entry(title string) (types.Entry, bool) {
	for _, e := range c.Entries {
		if e.Title == title {
			return e, true
		}
	}
	return types.Entry{}, false
}

// EntryTitles returns the entry titles in menu order.
func (c *Course) EntryTitles() []string {
	titles := make([]string, len(c.Entries))
	for i, e := range c.Entries {
		titles[i] = e.Title
	}
	return titles
}

// ContentStream returns a frontier seeded with every listing entry of the
// course.
func (c *Course) ContentStream() *crawler.Frontier {
	pc := c.client
	var entries []types.Entry
	for _, e := range c.Entries {
		u, err := url.Parse(pc.http.Resolve(e.URI))
		if err != nil {
			continue
		}
		entries = append(entries, types.Entry{Title: e.Title, URI: u.String()})
	}
	seeds := crawler.SeedsFromEntries(entries, ListContentPath)

	fetch := interfaces.PageFetcherFunc(func(ctx context.Context, p types.Probe) ([]byte, error) {
		return pc.get(ctx, ListContentPath, url.Values{
			"course_id":  {c.Meta.ID},
			"content_id": {p.ID},
		})
	})

	cfg := pc.cfg
	opts := crawler.Options{
		BatchSize:   cfg.CrawlBatchSize,
		MaxDepth:    cfg.CrawlMaxDepth,
		MaxRetries:  cfg.CrawlMaxRetries,
		BaseDelay:   cfg.CrawlRetryBaseDelay,
		MaxDelay:    cfg.CrawlRetryMaxDelay,
		StrictDepth: cfg.CrawlStrictDepth,
		Dedup:       cfg.CrawlDedup,
	}
	return crawler.New(seeds, fetch, pc.extractor, opts, pc.log.WithCourse(c.Meta.ID))
}

// Contents crawls the whole course and returns every record found, along
// with the probes that could not be fetched.
func (c *Course) Contents(ctx context.Context) ([]*types.ContentRecord, []crawler.DeadLetter, error) {
	var (
		records []*types.ContentRecord
		dead    []crawler.DeadLetter
	)
	err := c.ContentStream().Drain(ctx, func(b *crawler.Batch) error {
		records = append(records, b.Records...)
		dead = append(dead, b.DeadLetters...)
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	if len(dead) > 0 {
		c.client.log.WithCourse(c.Meta.ID).Warn("crawl finished with unreachable pages", "count", len(dead))
	}
	return records, dead, nil
}

// Assignments lists every assignment in the course content.
func (c *Course) Assignments(ctx context.Context) ([]*AssignmentHandle, error) {
	records, _, err := c.Contents(ctx)
	if err != nil {
		return nil, err
	}
	var out []*AssignmentHandle
	for _, r := range records {
		if r.Kind == types.KindAssignment {
			out = append(out, &AssignmentHandle{client: c.client, Course: c.Meta, Record: r})
		}
	}
	return out, nil
}

// Documents lists every document in the course content.
func (c *Course) Documents(ctx context.Context) ([]*DocumentHandle, error) {
	records, _, err := c.Contents(ctx)
	if err != nil {
		return nil, err
	}
	var out []*DocumentHandle
	for _, r := range records {
		if r.Kind == types.KindDocument {
			out = append(out, &DocumentHandle{client: c.client, Course: c.Meta, Record: r})
		}
	}
	return out, nil
}

// Assignment returns the assignment with the given content id.
func (c *Course) Assignment(ctx context.Context, contentID string) (*AssignmentHandle, error) {
	list, err := c.Assignments(ctx)
	if err != nil {
		return nil, err
	}
	for _, h := range list {
		if h.Record.ID == contentID {
			return h, nil
		}
	}
	return nil, fmt.Errorf("assignment %s: %w", contentID, types.ErrNotFound)
}

// Document returns the document with the given content id.
func (c *Course) Document(ctx context.Context, contentID string) (*DocumentHandle, error) {
	list, err := c.Documents(ctx)
	if err != nil {
		return nil, err
	}
	for _, h := range list {
		if h.Record.ID == contentID {
			return h, nil
		}
	}
	return nil, fmt.Errorf("document %s: %w", contentID, types.ErrNotFound)
}

// QueryLaunchLink follows a launcher link one hop and returns where it
// points.
func (c *Course) QueryLaunchLink(ctx context.Context, uri string) (string, error) {
	return c.client.redirectTarget(ctx, uri)
}

// Tree crawls the course and folds contents, recorded lectures and
// announcements into one hierarchy.
func (c *Course) Tree(ctx context.Context) (*tree.Node, error) {
	records, _, err := c.Contents(ctx)
	if err != nil {
		return nil, err
	}

	if _, ok := c.Entry(VideoEntry); ok {
		videos, err := c.Videos(ctx)
		if err != nil {
			return nil, err
		}
		for _, v := range videos {
			records = append(records, &types.ContentRecord{
				ID:          v.ID(),
				Title:       v.Meta.Title,
				Kind:        types.KindVideo,
				HasLink:     true,
				SectionName: VideoEntry,
			})
		}
	}

	announcements, err := c.Announcements(ctx)
	if err != nil {
		return nil, err
	}
	for _, a := range announcements {
		records = append(records, &types.ContentRecord{
			ID:          c.Meta.ID + "::" + a.Meta.ID,
			Title:       a.Meta.Title,
			Kind:        types.KindAnnouncement,
			HasLink:     true,
			SectionName: AnnouncementEntry,
		})
	}

	return tree.Build(c.Meta, c.EntryTitles(), records), nil
}

// FindByTitle returns the items whose title contains query, ignoring case.
func FindByTitle[T interface{ Title() string }](items []T, query string) []T {
	q := strings.ToLower(query)
	var out []T
	for _, it := range items {
		if strings.Contains(strings.ToLower(it.Title()), q) {
			out = append(out, it)
		}
	}
	return out
}
