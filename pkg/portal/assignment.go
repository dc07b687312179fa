package portal

import (
	"bytes"
	"context"
	"fmt"
	"mime/multipart"
	"net/textproto"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"course-portal-go/pkg/extractors"
	"course-portal-go/pkg/types"
)

// submitFormFields are copied from the upload page into every submission.
var submitFormFields = []string{
	"attempt_id",
	"blackboard.platform.security.NonceUtil.nonce",
	"blackboard.platform.security.NonceUtil.nonce.ajax",
	"content_id",
	"course_id",
	"isAjaxSubmit",
	"lu_link_id",
	"mode",
	"recallUrl",
	"remove_file_id",
	"studentSubmission.text_f",
	"studentSubmission.text_w",
	"studentSubmission.type",
	"student_commentstext_f",
	"student_commentstext_w",
	"student_commentstype",
	"textbox_prefix",
}

const serverErrorMarker = "尝试呈现错误页面时发生严重的内部错误"

// AssignmentHandle is an assignment found while crawling a course.
type AssignmentHandle struct {
	client *Client
	Course types.CourseMeta
	Record *types.ContentRecord
}

// ID is stable across crawls: "<course id>::<content id>".
func (h *AssignmentHandle) ID() string {
	return h.Course.ID + "::" + h.Record.ID
}

// Title returns the assignment title.
func (h *AssignmentHandle) Title() string { return h.Record.Title }

// AssignmentInfo is what the assignment pages add to the listing record.
type AssignmentInfo struct {
	Deadline string `json:"deadline,omitempty"`
	Attempt  string `json:"attempt,omitempty"`
}

// Get loads the deadline and the current attempt.
func (h *AssignmentHandle) Get(ctx context.Context) (*Assignment, error) {
	c := h.client
	key := fmt.Sprintf("assignment:%s:%s", h.Course.ID, h.Record.ID)
	info, err := cached(ctx, c, key, func(ctx context.Context) (AssignmentInfo, error) {
		page, err := h.uploadPage(ctx)
		if err != nil {
			return AssignmentInfo{}, err
		}
		view, err := c.get(ctx, AssignmentPath, url.Values{
			"mode":       {"view"},
			"content_id": {h.Record.ID},
			"course_id":  {h.Course.ID},
		})
		if err != nil {
			return AssignmentInfo{}, err
		}
		attempt, err := extractors.ParseCurrentAttempt(view)
		if err != nil {
			return AssignmentInfo{}, err
		}
		return AssignmentInfo{Deadline: page.Deadline, Attempt: attempt}, nil
	})
	if err != nil {
		return nil, err
	}
	return &Assignment{AssignmentHandle: h, Info: info}, nil
}

func (h *AssignmentHandle) uploadPage(ctx context.Context) (*extractors.AssignmentPage, error) {
	page, err := h.client.get(ctx, AssignmentPath, url.Values{
		"action":     {"newAttempt"},
		"content_id": {h.Record.ID},
		"course_id":  {h.Course.ID},
	})
	if err != nil {
		return nil, err
	}
	return extractors.ParseAssignmentPage(page)
}

// Assignment is an assignment with its page details loaded.
type Assignment struct {
	*AssignmentHandle
	Info AssignmentInfo
}

// Deadline parses the deadline text in the portal's time zone.
func (a *Assignment) Deadline() (time.Time, bool) {
	return extractors.ParseDeadline(a.Info.Deadline, a.client.loc)
}

// Submitted reports whether the portal shows a current attempt.
func (a *Assignment) Submitted() bool {
	return a.Info.Attempt != ""
}

// DownloadAttachment saves one of the assignment's attachments to dest.
func (a *Assignment) DownloadAttachment(ctx context.Context, uri, dest string) error {
	return a.client.downloadAttachment(ctx, uri, dest)
}

// DownloadAttachments saves every attachment of the assignment into dir and
// returns the written paths.
func (h *AssignmentHandle) DownloadAttachments(ctx context.Context, dir string) ([]string, error) {
	return h.client.saveAttachments(ctx, h.Record, dir)
}

// Submit uploads path as a new attempt.
func (h *AssignmentHandle) Submit(ctx context.Context, path string) error {
	log := h.client.log.WithCourse(h.Course.ID).With("assignment", h.Record.ID)

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read submission: %w", err)
	}
	filename := filepath.Base(path)
	contentType := MimeType(strings.TrimPrefix(filepath.Ext(filename), "."))

	page, err := h.uploadPage(ctx)
	if err != nil {
		return err
	}
	body, formType, err := buildSubmission(page.FormFields, filename, contentType, data)
	if err != nil {
		return err
	}

	log.Info("submitting file", "file", filename, "content_type", contentType, "bytes", len(data))
	resp, err := h.client.http.PostMultipart(ctx, AssignmentPath+"?action=submit", body, formType)
	if err != nil {
		return fmt.Errorf("submit: %w", err)
	}
	if !resp.IsSuccess() {
		if bytes.Contains(resp.Body, []byte(serverErrorMarker)) {
			return fmt.Errorf("%w: submit returned status %d (server error page)", types.ErrUnexpectedResponse, resp.StatusCode)
		}
		log.Debug("submit rejected", "body", string(resp.Body))
		return fmt.Errorf("%w: submit returned status %d", types.ErrUnexpectedResponse, resp.StatusCode)
	}
	return nil
}

func buildSubmission(fields map[string]string, filename, contentType string, data []byte) ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	for _, name := range submitFormFields {
		value, ok := fields[name]
		if !ok {
			return nil, "", fmt.Errorf("%w: form field %q not found", types.ErrUnexpectedResponse, name)
		}
		if err := w.WriteField(name, value); err != nil {
			return nil, "", err
		}
	}

	fixed := [][2]string{
		{"studentSubmission.text", ""},
		{"student_commentstext", ""},
		{"dispatch", "submit"},
		{"newFile_artifactFileId", "undefined"},
		{"newFile_artifactType", "undefined"},
		{"newFile_artifactTypeResourceKey", "undefined"},
		{"newFile_attachmentType", "L"},
		{"newFile_fileId", "new"},
		{"newFile_linkTitle", filename},
		{"newFilefilePickerLastInput", "dummyValue"},
	}
	for _, f := range fixed {
		if err := w.WriteField(f[0], f[1]); err != nil {
			return nil, "", err
		}
	}

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="newFile_LocalFile0"; filename="%s"`, escapeQuotes(filename)))
	header.Set("Content-Type", contentType)
	part, err := w.CreatePart(header)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(data); err != nil {
		return nil, "", err
	}
	if err := w.WriteField("useless", ""); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}

// DocumentHandle is a document found while crawling a course.
type DocumentHandle struct {
	client *Client
	Course types.CourseMeta
	Record *types.ContentRecord
}

// ID is stable across crawls: "<course id>::<content id>".
func (h *DocumentHandle) ID() string {
	return h.Course.ID + "::" + h.Record.ID
}

// Title returns the document title.
func (h *DocumentHandle) Title() string { return h.Record.Title }

// DownloadAttachment saves one of the document's attachments to dest.
func (h *DocumentHandle) DownloadAttachment(ctx context.Context, uri, dest string) error {
	return h.client.downloadAttachment(ctx, uri, dest)
}

// DownloadAttachments saves every attachment of the document into dir and
// returns the written paths.
func (h *DocumentHandle) DownloadAttachments(ctx context.Context, dir string) ([]string, error) {
	return h.client.saveAttachments(ctx, h.Record, dir)
}

// saveAttachments downloads rec's attachments into dir one at a time. Names
// are reduced to their base name and repeated names get a numeric suffix.
func (c *Client) saveAttachments(ctx context.Context, rec *types.ContentRecord, dir string) ([]string, error) {
	seen := make(map[string]int)
	paths := make([]string, 0, len(rec.Attachments))
	for i, att := range rec.Attachments {
		name := attachmentFileName(att.Name, i)
		if n := seen[name]; n > 0 {
			ext := filepath.Ext(name)
			name = fmt.Sprintf("%s_%d%s", strings.TrimSuffix(name, ext), n, ext)
		}
		seen[attachmentFileName(att.Name, i)]++

		dest := filepath.Join(dir, name)
		if err := c.downloadAttachment(ctx, att.URI, dest); err != nil {
			return paths, fmt.Errorf("attachment %q: %w", att.Name, err)
		}
		paths = append(paths, dest)
	}
	c.log.Info("attachments saved", "content_id", rec.ID, "count", len(paths), "dir", dir)
	return paths, nil
}

func attachmentFileName(name string, index int) string {
	base := filepath.Base(strings.ReplaceAll(strings.TrimSpace(name), "\\", "/"))
	if base == "." || base == "/" || base == ".." || base == "" {
		return fmt.Sprintf("attachment_%d", index)
	}
	return base
}

// downloadAttachment follows at most one redirect, which is how the portal
// hands out file storage links.
func (c *Client) downloadAttachment(ctx context.Context, uri, dest string) error {
	resp, err := c.http.Get(ctx, uri)
	if err != nil {
		return fmt.Errorf("%w: %v", types.ErrPageFetch, err)
	}
	if resp.IsRedirect() {
		loc := resp.Location()
		c.log.Debug("attachment redirected", "from", resp.URL, "to", loc)
		if resp, err = c.http.Get(ctx, loc); err != nil {
			return fmt.Errorf("%w: %v", types.ErrPageFetch, err)
		}
	}
	if !resp.IsSuccess() {
		return fmt.Errorf("%w: %s returned status %d", types.ErrPageFetch, resp.URL, resp.StatusCode)
	}

	if dir := filepath.Dir(dest); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	if err := os.WriteFile(dest, resp.Body, 0o644); err != nil {
		return err
	}
	c.log.Debug("attachment saved", "path", dest, "bytes", len(resp.Body))
	return nil
}
