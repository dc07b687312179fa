// Package types defines core domain types used throughout the application.
package types

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// ContentKind classifies a listing item by its icon label.
type ContentKind int

const (
	KindUnknown ContentKind = iota
	KindDocument
	KindAssignment
	KindFolder
	KindVideo
	KindAnnouncement
)

var kindNames = map[ContentKind]string{
	KindUnknown:      "unknown",
	KindDocument:     "document",
	KindAssignment:   "assignment",
	KindFolder:       "folder",
	KindVideo:        "video",
	KindAnnouncement: "announcement",
}

func (k ContentKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// ParseContentKind returns the kind named name.
func ParseContentKind(name string) (ContentKind, bool) {
	for kind, n := range kindNames {
		if n == name {
			return kind, true
		}
	}
	return KindUnknown, false
}

// MarshalText implements encoding.TextMarshaler.
func (k ContentKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. Unrecognized names map to KindUnknown.
func (k *ContentKind) UnmarshalText(text []byte) error {
	for kind, name := range kindNames {
		if name == string(text) {
			*k = kind
			return nil
		}
	}
	*k = KindUnknown
	return nil
}

// Probe is a unit of crawl work: one listing page to fetch.
type Probe struct {
	ID          string `json:"id"`
	ParentID    string `json:"parent_id,omitempty"`
	ParentTitle string `json:"parent_title,omitempty"`
	SectionName string `json:"section_name,omitempty"`
	Depth       int    `json:"depth"`

	// Attempts counts failed fetches so far.
	Attempts int `json:"attempts,omitempty"`
	// NotBefore delays the next fetch after a failure.
	NotBefore time.Time `json:"-"`
}

// Attachment is a downloadable file linked from a content item.
type Attachment struct {
	Name string `json:"name"`
	URI  string `json:"uri"`
}

// ContentRecord is one item parsed from a listing page. Records are immutable
// once built and are shared by pointer.
type ContentRecord struct {
	ID           string       `json:"id"`
	Title        string       `json:"title"`
	Kind         ContentKind  `json:"kind"`
	HasLink      bool         `json:"has_link"`
	IsFolder     bool         `json:"is_folder"`
	Descriptions []string     `json:"descriptions,omitempty"`
	Attachments  []Attachment `json:"attachments,omitempty"`
	ParentID     string       `json:"parent_id,omitempty"`
	ParentTitle  string       `json:"parent_title,omitempty"`
	Depth        int          `json:"depth"`
	SectionName  string       `json:"section_name,omitempty"`
}

// Entry is one item of a course's navigation menu.
type Entry struct {
	Title string `json:"title"`
	URI   string `json:"uri"`
}

// CourseMeta identifies a course on the portal.
type CourseMeta struct {
	ID        string `json:"id"`
	LongTitle string `json:"long_title"`
	IsCurrent bool   `json:"is_current"`
}

// Title returns the long title without its leading code ("CODE: Title").
func (m CourseMeta) Title() string {
	if _, after, ok := strings.Cut(m.LongTitle, ":"); ok {
		return strings.TrimSpace(after)
	}
	return strings.TrimSpace(m.LongTitle)
}

// Name returns the title without the trailing semester in parentheses.
func (m CourseMeta) Name() string {
	title := m.Title()
	if i := strings.LastIndex(title, "("); i > 0 {
		return strings.TrimSpace(title[:i])
	}
	return title
}

// MarshalJSON adds the derived title and name.
func (m CourseMeta) MarshalJSON() ([]byte, error) {
	type alias CourseMeta
	return json.Marshal(struct {
		alias
		Title string `json:"title"`
		Name  string `json:"name"`
	}{alias(m), m.Title(), m.Name()})
}

var subIDRe = regexp.MustCompile(`sub_id=([^&#]+)`)

// VideoMeta is one row of a course's recorded lecture list.
type VideoMeta struct {
	Title   string `json:"title"`
	Time    string `json:"time"`
	Teacher string `json:"teacher,omitempty"`
	URL     string `json:"url"`
}

// SubID extracts the recording id from the landing URL.
func (v VideoMeta) SubID() string {
	if m := subIDRe.FindStringSubmatch(v.URL); m != nil {
		return m[1]
	}
	return ""
}

// ID returns a stable identifier unique across courses.
func (v VideoMeta) ID(courseID string) string {
	return fmt.Sprintf("%s::%s", courseID, v.SubID())
}

// AnnouncementMeta is one row of a course's announcement list.
type AnnouncementMeta struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Time  string `json:"time"`
	Href  string `json:"href"`
}

// DownloadStatus is the lifecycle state of a download job.
type DownloadStatus string

const (
	DownloadStatusRunning   DownloadStatus = "running"
	DownloadStatusCompleted DownloadStatus = "completed"
	DownloadStatusFailed    DownloadStatus = "failed"
)

// DownloadJob tracks a background video download.
type DownloadJob struct {
	ID         string         `json:"id"`
	CourseID   string         `json:"course_id"`
	VideoID    string         `json:"video_id"`
	Title      string         `json:"title"`
	Status     DownloadStatus `json:"status"`
	Segments   int            `json:"segments"`
	Done       int            `json:"done"`
	FilePath   string         `json:"file_path"`
	FileSize   int64          `json:"file_size"`
	Error      string         `json:"error,omitempty"`
	StartedAt  int64          `json:"started_at"`
	FinishedAt int64          `json:"finished_at,omitempty"`
}
