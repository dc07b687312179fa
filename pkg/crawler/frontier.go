// Package crawler walks a course's content listing breadth-first, one
// bounded batch of pages at a time.
package crawler

import (
	"context"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"course-portal-go/pkg/httpclient"
	"course-portal-go/pkg/interfaces"
	"course-portal-go/pkg/logging"
	"course-portal-go/pkg/types"
)

// Options tunes a Frontier. Zero fields take the DefaultOptions value.
type Options struct {
	BatchSize  int
	MaxDepth   int
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration

	// StrictDepth makes a folder's probe one level deeper than the folder.
	// When false the probe keeps the folder's depth.
	StrictDepth bool
	// Dedup skips folder probes and records whose id was already seen.
	Dedup bool
}

// DefaultOptions returns the standard crawl settings.
func DefaultOptions() Options {
	return Options{
		BatchSize:   8,
		MaxDepth:    20,
		MaxRetries:  5,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    30 * time.Second,
		StrictDepth: true,
		Dedup:       true,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.BatchSize <= 0 {
		o.BatchSize = d.BatchSize
	}
	if o.MaxDepth <= 0 {
		o.MaxDepth = d.MaxDepth
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.BaseDelay <= 0 {
		o.BaseDelay = d.BaseDelay
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = d.MaxDelay
	}
	return o
}

// DeadLetter is a probe that failed more than MaxRetries times.
type DeadLetter struct {
	Probe types.Probe
	Err   error
}

// Batch is the outcome of one NextBatch call.
type Batch struct {
	Records     []*types.ContentRecord
	DeadLetters []DeadLetter
	// Dropped holds probes at or beyond the depth limit.
	Dropped []types.Probe
}

// Frontier is the crawl state: the probe queue plus the visited, parent and
// depth maps. It is owned by one goroutine; only the fetches inside a batch
// run concurrently.
type Frontier struct {
	fetch   interfaces.PageFetcher
	extract interfaces.ContentExtractor
	opts    Options
	log     *logging.Logger

	queue    []types.Probe
	visited  map[string]bool
	emitted  map[string]bool
	parentOf map[string]string
	depthOf  map[string]int
	dead     []DeadLetter

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a Frontier over seeds. Seeds sharing an id collapse to the
// first one.
func New(seeds []types.Probe, fetch interfaces.PageFetcher, extract interfaces.ContentExtractor, opts Options, log *logging.Logger) *Frontier {
	if log == nil {
		log = logging.Discard()
	}
	f := &Frontier{
		fetch:    fetch,
		extract:  extract,
		opts:     opts.withDefaults(),
		log:      log.WithComponent("crawler"),
		visited:  make(map[string]bool),
		emitted:  make(map[string]bool),
		parentOf: make(map[string]string),
		depthOf:  make(map[string]int),
		now:      time.Now,
		sleep:    sleepContext,
	}
	for _, seed := range seeds {
		if f.visited[seed.ID] {
			continue
		}
		f.visited[seed.ID] = true
		f.queue = append(f.queue, seed)
	}
	return f
}

// SeedsFromEntries builds one depth-0 probe for every navigation entry that
// points at the listing endpoint. The entry title becomes the section name.
func SeedsFromEntries(entries []types.Entry, listContentPath string) []types.Probe {
	var seeds []types.Probe
	seen := make(map[string]bool)
	for _, e := range entries {
		u, err := url.Parse(e.URI)
		if err != nil || !strings.HasSuffix(u.Path, listContentPath) {
			continue
		}
		id := u.Query().Get("content_id")
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		seeds = append(seeds, types.Probe{ID: id, SectionName: e.Title})
	}
	return seeds
}

type fetchResult struct {
	records []*types.ContentRecord
	err     error
	// parse failures repeat on every fetch of the same page
	permanent bool
}

// NextBatch pops up to BatchSize probes, fetches them concurrently and folds
// the results back into the frontier in probe order. An empty batch does not
// mean the crawl is over; check Exhausted.
//
// If ctx is canceled the popped probes go back to the front of the queue and
// ctx's error is returned.
func (f *Frontier) NextBatch(ctx context.Context) (*Batch, error) {
	batch := &Batch{}

	n := min(f.opts.BatchSize, len(f.queue))
	popped := slices.Clone(f.queue[:n])
	f.queue = f.queue[n:]

	probes := make([]types.Probe, 0, n)
	for _, p := range popped {
		if p.Depth >= f.opts.MaxDepth {
			f.log.WithProbe(p).Warn("dropping probe beyond depth limit", "max_depth", f.opts.MaxDepth)
			batch.Dropped = append(batch.Dropped, p)
			continue
		}
		probes = append(probes, p)
	}

	results := make([]fetchResult, len(probes))
	var g errgroup.Group
	for i, p := range probes {
		g.Go(func() error {
			if wait := p.NotBefore.Sub(f.now()); wait > 0 {
				if err := f.sleep(ctx, wait); err != nil {
					return err
				}
			}
			results[i] = f.visit(ctx, p)
			return nil
		})
	}
	if err := g.Wait(); err != nil || ctx.Err() != nil {
		f.queue = append(popped, f.queue...)
		if err == nil {
			err = ctx.Err()
		}
		return nil, err
	}

	for i, p := range probes {
		res := results[i]
		if res.permanent {
			f.log.WithProbe(p).WithError(res.err).Error("page cannot be parsed, not retrying")
			f.bury(batch, p, res.err)
			continue
		}
		if res.err != nil {
			f.fail(batch, p, res.err)
			continue
		}
		f.accept(batch, p, res.records)
	}

	f.log.Debug("batch done",
		"probes", len(popped),
		"records", len(batch.Records),
		"dead", len(batch.DeadLetters),
		"dropped", len(batch.Dropped),
		"pending", len(f.queue),
	)
	return batch, nil
}

func (f *Frontier) visit(ctx context.Context, p types.Probe) fetchResult {
	page, err := f.fetch.FetchPage(ctx, p)
	if err != nil {
		return fetchResult{err: err}
	}
	records, err := f.extract.Extract(page, p)
	if err != nil {
		return fetchResult{err: fmt.Errorf("%w: %v", types.ErrElementParse, err), permanent: true}
	}
	return fetchResult{records: records}
}

func (f *Frontier) accept(batch *Batch, p types.Probe, records []*types.ContentRecord) {
	for _, rec := range records {
		if f.opts.Dedup && f.emitted[rec.ID] {
			f.log.Debug("skipping repeated record", "content_id", rec.ID, "parent", p.ID)
			continue
		}
		f.emitted[rec.ID] = true
		f.parentOf[rec.ID] = p.ID
		f.depthOf[rec.ID] = rec.Depth
		batch.Records = append(batch.Records, rec)

		if !rec.IsFolder || !rec.HasLink {
			continue
		}
		if f.opts.Dedup && f.visited[rec.ID] {
			continue
		}
		depth := rec.Depth
		if f.opts.StrictDepth {
			depth++
		}
		f.visited[rec.ID] = true
		f.queue = append(f.queue, types.Probe{
			ID:          rec.ID,
			ParentID:    rec.ID,
			ParentTitle: rec.Title,
			SectionName: p.SectionName,
			Depth:       depth,
		})
	}
}

func (f *Frontier) fail(batch *Batch, p types.Probe, err error) {
	p.Attempts++
	log := f.log.WithProbe(p).WithError(err)
	if p.Attempts > f.opts.MaxRetries {
		log.Error("giving up on probe")
		f.bury(batch, p, fmt.Errorf("%w: %w", types.ErrRetriesExhausted, err))
		return
	}
	delay := httpclient.Backoff(f.opts.BaseDelay, f.opts.MaxDelay, p.Attempts-1)
	p.NotBefore = f.now().Add(delay)
	log.Warn("requeueing probe", "retry_in", delay)
	f.queue = append(f.queue, p)
}

// bury records p as a dead letter without retrying it.
func (f *Frontier) bury(batch *Batch, p types.Probe, err error) {
	dl := DeadLetter{Probe: p, Err: err}
	batch.DeadLetters = append(batch.DeadLetters, dl)
	f.dead = append(f.dead, dl)
}

// Drain runs batches until the queue is empty, handing each to fn. It stops
// early on the first error from fn or ctx.
func (f *Frontier) Drain(ctx context.Context, fn func(*Batch) error) error {
	for !f.Exhausted() {
		batch, err := f.NextBatch(ctx)
		if err != nil {
			return err
		}
		if fn == nil {
			continue
		}
		if err := fn(batch); err != nil {
			return err
		}
	}
	return nil
}

// Exhausted reports whether no probes are queued.
func (f *Frontier) Exhausted() bool {
	return len(f.queue) == 0
}

// Parent returns the probe id under which a record was found.
func (f *Frontier) Parent(id string) (string, bool) {
	p, ok := f.parentOf[id]
	return p, ok
}

// Children returns the ids of records found under id, sorted.
func (f *Frontier) Children(id string) []string {
	var out []string
	for child, parent := range f.parentOf {
		if parent == id {
			out = append(out, child)
		}
	}
	slices.Sort(out)
	return out
}

// Depth returns the depth recorded for a record id.
func (f *Frontier) Depth(id string) (int, bool) {
	d, ok := f.depthOf[id]
	return d, ok
}

// Len is the number of distinct probe ids ever enqueued.
func (f *Frontier) Len() int {
	return len(f.visited)
}

// Pending is the number of queued probes.
func (f *Frontier) Pending() int {
	return len(f.queue)
}

// Finished is the number of enqueued probe ids no longer in the queue.
func (f *Frontier) Finished() int {
	return max(len(f.visited)-len(f.queue), 0)
}

// DeadLetters returns every probe that exhausted its retries so far.
func (f *Frontier) DeadLetters() []DeadLetter {
	return slices.Clone(f.dead)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

