package services

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"course-portal-go/pkg/config"
	"course-portal-go/pkg/hls"
	"course-portal-go/pkg/logging"
	"course-portal-go/pkg/types"
)

// SegmentSource yields the decrypted segments of one media playlist.
// *hls.SegmentReader and *portal.Video satisfy it.
type SegmentSource interface {
	Playlist() *hls.Playlist
	SegmentData(ctx context.Context, index int, key *hls.Key) ([]byte, error)
}

// OpenFunc resolves the segment source once the job is running.
type OpenFunc func(ctx context.Context) (SegmentSource, error)

// DownloadRequest describes a video to download.
type DownloadRequest struct {
	CourseID   string
	VideoID    string
	CourseName string
	Title      string
	// Output overrides the generated file path.
	Output string
	// MP4 asks for a remux even when the config does not.
	MP4 bool
	// OnProgress is called after every flushed batch of segments.
	OnProgress func(done, total int)
}

// DownloadManager runs video downloads in the background and keeps a JSON
// index of them next to the files.
type DownloadManager struct {
	cfg   *config.Config
	log   *logging.Logger
	remux *Remuxer

	mu     sync.RWMutex
	jobs   map[string]*jobState
	dbPath string
	saveMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type jobState struct {
	mu     sync.Mutex
	job    *types.DownloadJob
	cancel context.CancelFunc
	done   chan struct{}
}

// NewDownloadManager creates the download directory and loads the job index.
// remux may be nil.
func NewDownloadManager(cfg *config.Config, log *logging.Logger, remux *Remuxer) (*DownloadManager, error) {
	if err := os.MkdirAll(cfg.DownloadDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create download directory: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	m := &DownloadManager{
		cfg:    cfg,
		log:    log.WithComponent("downloads"),
		remux:  remux,
		jobs:   make(map[string]*jobState),
		dbPath: filepath.Join(cfg.DownloadDir, "downloads.json"),
		ctx:    ctx,
		cancel: cancel,
	}

	if err := m.loadJobs(); err != nil {
		m.log.Warn("failed to load download index", "error", err)
	} else {
		m.saveJobs()
	}

	return m, nil
}

// ContentDir is the folder under the download directory that holds the
// attachments of one course item.
func (m *DownloadManager) ContentDir(courseName, title string) string {
	return filepath.Join(m.cfg.DownloadDir, sanitizeFilename(courseName, "course"), sanitizeFilename(title, "content"))
}

// Start registers a job and runs it in the background. A running job for
// the same video is returned instead of starting a second one.
func (m *DownloadManager) Start(req DownloadRequest, open OpenFunc) (*types.DownloadJob, error) {
	if req.VideoID == "" {
		return nil, errors.New("video id is required")
	}

	now := time.Now()
	path := req.Output
	if path == "" {
		dir := filepath.Join(m.cfg.DownloadDir, sanitizeFilename(req.CourseName, "course"))
		path = filepath.Join(dir, sanitizeFilename(req.Title, "video")+".ts")
	}

	job := &types.DownloadJob{
		ID:        uuid.NewString(),
		CourseID:  req.CourseID,
		VideoID:   req.VideoID,
		Title:     req.Title,
		Status:    types.DownloadStatusRunning,
		FilePath:  path,
		StartedAt: now.Unix(),
	}

	m.mu.Lock()
	for _, state := range m.jobs {
		state.mu.Lock()
		isDupe := state.job.VideoID == req.VideoID && state.job.Status == types.DownloadStatusRunning
		existing := *state.job
		state.mu.Unlock()
		if isDupe {
			m.mu.Unlock()
			m.log.Info("download already running", "video_id", req.VideoID, "existing_id", existing.ID)
			return &existing, nil
		}
	}
	ctx, cancel := context.WithCancel(m.ctx)
	state := &jobState{job: job, cancel: cancel, done: make(chan struct{})}
	m.jobs[job.ID] = state
	m.mu.Unlock()

	m.log.Info("starting download", "id", job.ID, "video_id", req.VideoID, "path", path)
	m.saveJobs()

	m.wg.Add(1)
	go m.run(ctx, state, req, open)

	snapshot := *job
	return &snapshot, nil
}

func (m *DownloadManager) run(ctx context.Context, state *jobState, req DownloadRequest, open OpenFunc) {
	defer m.wg.Done()
	defer close(state.done)
	defer state.cancel()

	start := time.Now()
	path, size, err := m.download(ctx, state, req, open)

	state.mu.Lock()
	job := state.job
	job.FinishedAt = time.Now().Unix()
	if err != nil {
		job.Status = types.DownloadStatusFailed
		job.Error = err.Error()
	} else {
		job.Status = types.DownloadStatusCompleted
		job.FilePath = path
		job.FileSize = size
	}
	id := job.ID
	state.mu.Unlock()

	if err != nil {
		m.log.Error("download failed", "id", id, "error", err)
	} else {
		m.log.Info("download completed", "id", id, "path", path, "size", size, "duration", time.Since(start))
	}
	m.saveJobs()
}

func (m *DownloadManager) download(ctx context.Context, state *jobState, req DownloadRequest, open OpenFunc) (string, int64, error) {
	src, err := open(ctx)
	if err != nil {
		return "", 0, fmt.Errorf("open video: %w", err)
	}
	total := src.Playlist().Len()

	state.mu.Lock()
	state.job.Segments = total
	path := state.job.FilePath
	state.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", 0, fmt.Errorf("create output directory: %w", err)
	}

	part := path + ".part"
	f, err := os.Create(part)
	if err != nil {
		return "", 0, fmt.Errorf("create output: %w", err)
	}
	err = m.copySegments(ctx, src, f, func(done int) {
		state.mu.Lock()
		state.job.Done = done
		state.mu.Unlock()
		if req.OnProgress != nil {
			req.OnProgress(done, total)
		}
	})
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(part)
		return "", 0, err
	}
	if err := os.Rename(part, path); err != nil {
		return "", 0, fmt.Errorf("finalize output: %w", err)
	}

	if m.remux != nil && (req.MP4 || m.cfg.RemuxToMP4) {
		mp4 := strings.TrimSuffix(path, filepath.Ext(path)) + ".mp4"
		if err := m.remux.Remux(ctx, path, mp4); err != nil {
			m.log.Warn("remux failed, keeping transport stream", "path", path, "error", err)
		} else {
			_ = os.Remove(path)
			path = mp4
		}
	}

	info, err := os.Stat(path)
	if err != nil {
		return "", 0, err
	}
	return path, info.Size(), nil
}

// copySegments writes every segment in playlist order. Segments are fetched
// DownloadWorkers at a time using the precomputed key schedule and flushed
// in order after each batch.
func (m *DownloadManager) copySegments(ctx context.Context, src SegmentSource, w io.Writer, progress func(done int)) error {
	keys := src.Playlist().KeySchedule()
	workers := max(m.cfg.DownloadWorkers, 1)

	for start := 0; start < len(keys); start += workers {
		end := min(start+workers, len(keys))
		batch := make([][]byte, end-start)

		g, gctx := errgroup.WithContext(ctx)
		for i := start; i < end; i++ {
			g.Go(func() error {
				data, err := src.SegmentData(gctx, i, keys[i])
				if err != nil {
					return err
				}
				batch[i-start] = data
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}

		for _, data := range batch {
			if _, err := w.Write(data); err != nil {
				return fmt.Errorf("write output: %w", err)
			}
		}
		progress(end)
	}
	return nil
}

// Get returns a snapshot of a job.
func (m *DownloadManager) Get(id string) (*types.DownloadJob, error) {
	m.mu.RLock()
	state, ok := m.jobs[id]
	m.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("download %s: %w", id, types.ErrNotFound)
	}

	state.mu.Lock()
	job := *state.job
	state.mu.Unlock()

	return &job, nil
}

// Wait blocks until the job finishes or ctx is done.
func (m *DownloadManager) Wait(ctx context.Context, id string) (*types.DownloadJob, error) {
	m.mu.RLock()
	state, ok := m.jobs[id]
	m.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("download %s: %w", id, types.ErrNotFound)
	}

	select {
	case <-state.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return m.Get(id)
}

// List returns snapshots of all jobs, newest first.
func (m *DownloadManager) List() []*types.DownloadJob {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*types.DownloadJob, 0, len(m.jobs))
	for _, state := range m.jobs {
		state.mu.Lock()
		job := *state.job
		state.mu.Unlock()
		result = append(result, &job)
	}

	sortJobs(result)
	return result
}

// Delete cancels a running job and removes its file.
func (m *DownloadManager) Delete(id string) error {
	m.mu.Lock()
	state, ok := m.jobs[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("download %s: %w", id, types.ErrNotFound)
	}
	delete(m.jobs, id)
	m.mu.Unlock()

	state.mu.Lock()
	cancel := state.cancel
	path := state.job.FilePath
	state.mu.Unlock()

	if cancel != nil {
		cancel()
		select {
		case <-state.done:
		case <-time.After(5 * time.Second):
		}
	}

	if path != "" {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			m.log.Warn("failed to remove download file", "path", path, "error", err)
		}
	}

	m.log.Info("deleted download", "id", id)
	m.saveJobs()
	return nil
}

// loadJobs reads the job index. Jobs that were running when the process
// stopped are marked failed.
func (m *DownloadManager) loadJobs() error {
	data, err := os.ReadFile(m.dbPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	var jobs []*types.DownloadJob
	if err := json.Unmarshal(data, &jobs); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, job := range jobs {
		if job.Status == types.DownloadStatusRunning {
			job.Status = types.DownloadStatusFailed
			job.Error = "interrupted"
		}
		if job.FilePath != "" {
			if info, err := os.Stat(job.FilePath); err == nil {
				job.FileSize = info.Size()
			} else {
				m.log.Warn("download file not found", "id", job.ID, "path", job.FilePath)
			}
		}
		state := &jobState{job: job, done: make(chan struct{})}
		close(state.done)
		m.jobs[job.ID] = state
	}

	m.log.Info("loaded downloads", "count", len(jobs))
	return nil
}

// saveJobs snapshots the jobs and replaces the index file. Saves are
// serialized so the last snapshot taken is the last one written.
func (m *DownloadManager) saveJobs() {
	m.saveMu.Lock()
	defer m.saveMu.Unlock()

	jobs := m.List()

	data, err := json.MarshalIndent(jobs, "", "  ")
	if err != nil {
		m.log.Error("failed to marshal download index", "error", err)
		return
	}

	if err := writeFileAtomic(m.dbPath, data); err != nil {
		m.log.Error("failed to save download index", "error", err)
	}
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".downloads-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return nil
}

// Close cancels running jobs and waits for them to record their status.
func (m *DownloadManager) Close() error {
	m.log.Info("shutting down download manager")

	m.cancel()
	m.wg.Wait()
	m.saveJobs()

	return nil
}

func sortJobs(jobs []*types.DownloadJob) {
	slices.SortFunc(jobs, func(a, b *types.DownloadJob) int {
		if c := cmp.Compare(b.StartedAt, a.StartedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
}

// sanitizeFilename keeps letters, digits, '-' and '_' (any script) and
// collapses whitespace to '_'.
func sanitizeFilename(name, fallback string) string {
	var result strings.Builder
	for _, r := range name {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '_':
			result.WriteRune(r)
		case unicode.IsSpace(r):
			result.WriteRune('_')
		}
	}

	sanitized := result.String()
	for strings.Contains(sanitized, "__") {
		sanitized = strings.ReplaceAll(sanitized, "__", "_")
	}
	sanitized = strings.Trim(sanitized, "_")

	if runes := []rune(sanitized); len(runes) > 80 {
		sanitized = string(runes[:80])
	}
	if sanitized == "" {
		sanitized = fallback
	}

	return sanitized
}
