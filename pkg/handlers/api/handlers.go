// Package api provides the JSON HTTP API over a logged-in portal session.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"course-portal-go/pkg/appctx"
	"course-portal-go/pkg/logging"
	"course-portal-go/pkg/portal"
	"course-portal-go/pkg/services"
	"course-portal-go/pkg/types"
)

// Handlers contains all API handlers.
type Handlers struct {
	ctx     *appctx.Context
	log     *logging.Logger
	started time.Time
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(ctx *appctx.Context) *Handlers {
	return &Handlers{
		ctx:     ctx,
		log:     ctx.Log.WithComponent("api"),
		started: time.Now(),
	}
}

// RegisterRoutes registers all API routes.
func (h *Handlers) RegisterRoutes(mux *http.ServeMux) {
	// Public routes
	mux.HandleFunc("GET /health", h.handleHealth)
	mux.HandleFunc("GET /api/info", h.handleInfo)

	// Course routes
	mux.HandleFunc("GET /api/courses", h.handleCourses)
	mux.HandleFunc("GET /api/courses/{id}/entries", h.handleEntries)
	mux.HandleFunc("GET /api/courses/{id}/contents", h.handleContents)
	mux.HandleFunc("GET /api/courses/{id}/tree", h.handleTree)
	mux.HandleFunc("GET /api/courses/{id}/tree/{node}", h.handleTreeNode)
	mux.HandleFunc("GET /api/courses/{id}/assignments", h.handleAssignments)
	mux.HandleFunc("GET /api/courses/{id}/documents", h.handleDocuments)
	mux.HandleFunc("GET /api/courses/{id}/announcements", h.handleAnnouncements)
	mux.HandleFunc("GET /api/courses/{id}/announcements/{aid}", h.handleAnnouncement)
	mux.HandleFunc("GET /api/courses/{id}/videos", h.handleVideos)

	// Download routes
	if h.ctx.Downloads != nil {
		mux.HandleFunc("POST /api/courses/{id}/videos/{index}/download", h.handleStartDownload)
		mux.HandleFunc("POST /api/courses/{id}/documents/{cid}/attachments", h.handleDocumentAttachments)
		mux.HandleFunc("POST /api/courses/{id}/assignments/{cid}/attachments", h.handleAssignmentAttachments)
		mux.HandleFunc("GET /api/downloads", h.handleListDownloads)
		mux.HandleFunc("GET /api/downloads/{id}", h.handleGetDownload)
		mux.HandleFunc("DELETE /api/downloads/{id}", h.handleDeleteDownload)
	}
}

func (h *Handlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handlers) handleInfo(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]any{
		"status":     "running",
		"version":    "1.0.0",
		"portal":     h.ctx.Config.PortalBaseURL,
		"logged_in":  h.ctx.Portal != nil,
		"downloads":  h.ctx.Downloads != nil,
		"uptime_sec": int(time.Since(h.started).Seconds()),
	})
}

// Course handlers

func (h *Handlers) handleCourses(w http.ResponseWriter, r *http.Request) {
	if !h.requirePortal(w) {
		return
	}
	all := r.URL.Query().Get("all") == "true"
	handles, err := h.ctx.Portal.Courses(r.Context(), !all)
	if err != nil {
		h.writeFailure(w, err)
		return
	}
	metas := make([]types.CourseMeta, len(handles))
	for i, c := range handles {
		metas[i] = c.Meta
	}
	h.writeJSON(w, http.StatusOK, metas)
}

func (h *Handlers) handleEntries(w http.ResponseWriter, r *http.Request) {
	course, ok := h.course(w, r)
	if !ok {
		return
	}
	h.writeJSON(w, http.StatusOK, course.Entries)
}

func (h *Handlers) handleContents(w http.ResponseWriter, r *http.Request) {
	course, ok := h.course(w, r)
	if !ok {
		return
	}
	records, dead, err := course.Contents(r.Context())
	if err != nil {
		h.writeFailure(w, err)
		return
	}

	type deadLetter struct {
		Probe types.Probe `json:"probe"`
		Error string      `json:"error"`
	}
	failed := make([]deadLetter, len(dead))
	for i, d := range dead {
		failed[i] = deadLetter{Probe: d.Probe, Error: d.Err.Error()}
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"records":      records,
		"dead_letters": failed,
	})
}

func (h *Handlers) handleTree(w http.ResponseWriter, r *http.Request) {
	course, ok := h.course(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	var kind types.ContentKind
	if name := q.Get("kind"); name != "" {
		k, ok := types.ParseContentKind(name)
		if !ok {
			h.writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown kind %q", name))
			return
		}
		kind = k
	}

	root, err := course.Tree(r.Context())
	if err != nil {
		h.writeFailure(w, err)
		return
	}

	switch {
	case q.Get("kind") != "":
		h.writeJSON(w, http.StatusOK, root.FindByKind(kind))
	case q.Get("title") != "":
		h.writeJSON(w, http.StatusOK, root.FindByTitle(q.Get("title")))
	default:
		h.writeJSON(w, http.StatusOK, root)
	}
}

func (h *Handlers) handleTreeNode(w http.ResponseWriter, r *http.Request) {
	course, ok := h.course(w, r)
	if !ok {
		return
	}
	root, err := course.Tree(r.Context())
	if err != nil {
		h.writeFailure(w, err)
		return
	}
	path := root.Path(r.PathValue("node"))
	if path == nil {
		h.writeError(w, http.StatusNotFound, fmt.Sprintf("node %s not found", r.PathValue("node")))
		return
	}
	titles := make([]string, len(path))
	for i, n := range path {
		titles[i] = n.Title
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"node": path[len(path)-1],
		"path": titles,
	})
}

func (h *Handlers) handleAssignments(w http.ResponseWriter, r *http.Request) {
	course, ok := h.course(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	var wantSubmitted *bool
	if v := q.Get("submitted"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "submitted must be true or false")
			return
		}
		wantSubmitted = &b
	}

	handles, err := course.Assignments(r.Context())
	if err != nil {
		h.writeFailure(w, err)
		return
	}
	if title := q.Get("title"); title != "" {
		handles = portal.FindByTitle(handles, title)
	}

	type assignment struct {
		ID        string               `json:"id"`
		Record    *types.ContentRecord `json:"record"`
		Deadline  *time.Time           `json:"deadline,omitempty"`
		Attempt   string               `json:"attempt,omitempty"`
		Submitted *bool                `json:"submitted,omitempty"`
	}
	detail := q.Get("detail") == "true" || wantSubmitted != nil
	out := make([]assignment, 0, len(handles))
	for _, a := range handles {
		item := assignment{ID: a.ID(), Record: a.Record}
		if detail {
			full, err := a.Get(r.Context())
			if err != nil {
				h.writeFailure(w, err)
				return
			}
			if d, ok := full.Deadline(); ok {
				item.Deadline = &d
			}
			submitted := full.Submitted()
			if wantSubmitted != nil && submitted != *wantSubmitted {
				continue
			}
			item.Attempt = full.Info.Attempt
			item.Submitted = &submitted
		}
		out = append(out, item)
	}
	h.writeJSON(w, http.StatusOK, out)
}

func (h *Handlers) handleDocuments(w http.ResponseWriter, r *http.Request) {
	course, ok := h.course(w, r)
	if !ok {
		return
	}
	handles, err := course.Documents(r.Context())
	if err != nil {
		h.writeFailure(w, err)
		return
	}
	if title := r.URL.Query().Get("title"); title != "" {
		handles = portal.FindByTitle(handles, title)
	}
	records := make([]*types.ContentRecord, len(handles))
	for i, d := range handles {
		records[i] = d.Record
	}
	h.writeJSON(w, http.StatusOK, records)
}

func (h *Handlers) handleAnnouncements(w http.ResponseWriter, r *http.Request) {
	course, ok := h.course(w, r)
	if !ok {
		return
	}
	handles, err := course.Announcements(r.Context())
	if err != nil {
		h.writeFailure(w, err)
		return
	}
	if title := r.URL.Query().Get("title"); title != "" {
		handles = portal.FindByTitle(handles, title)
	}
	metas := make([]types.AnnouncementMeta, len(handles))
	for i, a := range handles {
		metas[i] = a.Meta
	}
	h.writeJSON(w, http.StatusOK, metas)
}

func (h *Handlers) handleAnnouncement(w http.ResponseWriter, r *http.Request) {
	course, ok := h.course(w, r)
	if !ok {
		return
	}
	handle, err := course.Announcement(r.Context(), r.PathValue("aid"))
	if err != nil {
		h.writeFailure(w, err)
		return
	}
	a, err := handle.Get(r.Context())
	if err != nil {
		h.writeFailure(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, a)
}

func (h *Handlers) handleVideos(w http.ResponseWriter, r *http.Request) {
	course, ok := h.course(w, r)
	if !ok {
		return
	}
	handles, err := course.Videos(r.Context())
	if err != nil {
		h.writeFailure(w, err)
		return
	}

	type video struct {
		Index  int             `json:"index"`
		ID     string          `json:"id"`
		Meta   types.VideoMeta `json:"meta"`
		Stream string          `json:"stream"`
	}
	out := make([]video, len(handles))
	for i, v := range handles {
		out[i] = video{
			Index:  i,
			ID:     v.ID(),
			Meta:   v.Meta,
			Stream: fmt.Sprintf("%s/stream/%s/%d/playlist.m3u8", h.ctx.BaseURL, course.Meta.ID, i),
		}
	}
	h.writeJSON(w, http.StatusOK, out)
}

// Download handlers

func (h *Handlers) handleStartDownload(w http.ResponseWriter, r *http.Request) {
	if !h.requirePortal(w) {
		return
	}
	courseID := r.PathValue("id")
	index, err := strconv.Atoi(r.PathValue("index"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid video index")
		return
	}

	var body struct {
		MP4 bool `json:"mp4"`
	}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	handle, err := h.ctx.Portal.VideoAt(r.Context(), courseID, index)
	if err != nil {
		h.writeFailure(w, err)
		return
	}

	job, err := h.ctx.Downloads.Start(services.DownloadRequest{
		CourseID:   courseID,
		VideoID:    handle.ID(),
		CourseName: handle.Course.Name(),
		Title:      handle.Meta.Title,
		MP4:        body.MP4,
	}, func(ctx context.Context) (services.SegmentSource, error) {
		v, err := handle.Get(ctx)
		if err != nil {
			return nil, err
		}
		return v, nil
	})
	if err != nil {
		h.writeFailure(w, err)
		return
	}
	h.writeJSON(w, http.StatusAccepted, job)
}

func (h *Handlers) handleDocumentAttachments(w http.ResponseWriter, r *http.Request) {
	course, ok := h.course(w, r)
	if !ok {
		return
	}
	doc, err := course.Document(r.Context(), r.PathValue("cid"))
	if err != nil {
		h.writeFailure(w, err)
		return
	}
	dir := h.ctx.Downloads.ContentDir(course.Meta.Name(), doc.Title())
	files, err := doc.DownloadAttachments(r.Context(), dir)
	h.writeAttachments(w, dir, files, err)
}

func (h *Handlers) handleAssignmentAttachments(w http.ResponseWriter, r *http.Request) {
	course, ok := h.course(w, r)
	if !ok {
		return
	}
	a, err := course.Assignment(r.Context(), r.PathValue("cid"))
	if err != nil {
		h.writeFailure(w, err)
		return
	}
	dir := h.ctx.Downloads.ContentDir(course.Meta.Name(), a.Title())
	files, err := a.DownloadAttachments(r.Context(), dir)
	h.writeAttachments(w, dir, files, err)
}

func (h *Handlers) writeAttachments(w http.ResponseWriter, dir string, files []string, err error) {
	if err != nil {
		h.writeFailure(w, err)
		return
	}
	if files == nil {
		files = []string{}
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"dir": dir, "files": files})
}

func (h *Handlers) handleListDownloads(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.ctx.Downloads.List())
}

func (h *Handlers) handleGetDownload(w http.ResponseWriter, r *http.Request) {
	job, err := h.ctx.Downloads.Get(r.PathValue("id"))
	if err != nil {
		h.writeFailure(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, job)
}

func (h *Handlers) handleDeleteDownload(w http.ResponseWriter, r *http.Request) {
	if err := h.ctx.Downloads.Delete(r.PathValue("id")); err != nil {
		h.writeFailure(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Helper methods

func (h *Handlers) requirePortal(w http.ResponseWriter) bool {
	if h.ctx.Portal == nil {
		h.writeError(w, http.StatusServiceUnavailable, "not logged in to the portal")
		return false
	}
	return true
}

func (h *Handlers) course(w http.ResponseWriter, r *http.Request) (*portal.Course, bool) {
	if !h.requirePortal(w) {
		return nil, false
	}
	course, err := h.ctx.Portal.Course(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeFailure(w, err)
		return nil, false
	}
	return course, true
}

// writeFailure maps domain errors to HTTP status codes.
func (h *Handlers) writeFailure(w http.ResponseWriter, err error) {
	status := http.StatusBadGateway
	switch {
	case errors.Is(err, types.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, types.ErrLogin):
		status = http.StatusUnauthorized
	case errors.Is(err, types.ErrUnsupportedPlaylist), errors.Is(err, types.ErrUnsupportedKeyMethod):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	}
	if status >= 500 {
		h.log.WithError(err).Error("request failed", "status", status)
	}
	h.writeError(w, status, err.Error())
}

func (h *Handlers) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (h *Handlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
