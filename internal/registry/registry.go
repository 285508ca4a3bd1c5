// SPDX-License-Identifier: MIT

// Package registry keeps the live, process-local view of every known job:
// state, progress, phase metadata, and timings. Workers and the submission
// path write; the status API reads. After a restart the store row is
// authoritative and metadata starts empty until a worker repopulates it.
package registry

import (
	"sync"
	"time"

	"github.com/genscene/genscene/internal/job"
)

// Record is the live view of one job. Meta holds handler-published fields
// such as current_phase, output_url, and the sibling ids; it never reaches
// the store.
type Record struct {
	ID          string
	Type        job.Type
	State       job.State
	Progress    int
	Error       string
	Meta        map[string]any
	CreatedAt   time.Time
	StartedAt   time.Time
	CompletedAt time.Time
}

// clone returns a snapshot with its own Meta map so readers never observe a
// concurrent handler write.
func (r *Record) clone() Record {
	out := *r
	out.Meta = make(map[string]any, len(r.Meta))
	for k, v := range r.Meta {
		out.Meta[k] = v
	}
	return out
}

// Registry is a concurrency-safe map of job id to Record.
type Registry struct {
	mu      sync.RWMutex
	records map[string]*Record
	janitor *janitor
}

// Option adjusts registry construction.
type Option func(*options)

type options struct {
	retention       time.Duration
	sweepInterval   time.Duration
	janitorDisabled bool
}

// WithRetention changes how long terminal records stay visible before the
// janitor evicts them. Default 24h.
func WithRetention(d time.Duration) Option {
	return func(o *options) { o.retention = d }
}

// WithoutJanitor disables background eviction; tests use it.
func WithoutJanitor() Option {
	return func(o *options) { o.janitorDisabled = true }
}

// New creates a registry and starts its eviction janitor.
func New(opts ...Option) *Registry {
	o := options{
		retention:     24 * time.Hour,
		sweepInterval: time.Hour,
	}
	for _, opt := range opts {
		opt(&o)
	}

	r := &Registry{records: make(map[string]*Record)}
	if !o.janitorDisabled {
		r.janitor = &janitor{
			retention: o.retention,
			interval:  o.sweepInterval,
			stop:      make(chan struct{}),
		}
		go r.janitor.run(r)
	}
	return r
}

// Stop halts the eviction janitor. Records stay readable.
func (r *Registry) Stop() {
	if r.janitor != nil {
		r.janitor.stop <- struct{}{}
	}
}

// Install inserts or replaces a record. The submission path installs in
// state queued with progress 0; recovery installs with the persisted
// progress.
func (r *Registry) Install(id string, typ job.Type, state job.State, progress int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[id] = &Record{
		ID:        id,
		Type:      typ,
		State:     state,
		Progress:  progress,
		Meta:      make(map[string]any),
		CreatedAt: time.Now(),
	}
}

// Get returns a snapshot of the record, if present.
func (r *Registry) Get(id string) (Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[id]
	if !ok {
		return Record{}, false
	}
	return rec.clone(), true
}

// List returns snapshots of every record, unordered.
func (r *Registry) List() []Record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Record, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, rec.clone())
	}
	return out
}

// Remove drops a record, for example after a DELETE of the job.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.records, id)
}

// TryTransition performs a compare-and-swap on the state. It is how cancel
// (queued to cancelled) and pickup (queued to processing) race safely: only
// one caller wins.
func (r *Registry) TryTransition(id string, from, to job.State) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok || rec.State != from {
		return false
	}
	rec.State = to
	switch to {
	case job.StateProcessing:
		rec.StartedAt = time.Now()
		rec.Progress = 0
	case job.StateCancelled:
		rec.CompletedAt = time.Now()
	}
	return true
}

// SetProgress raises the job's progress and records the phase label.
// Progress never moves backwards; stale writes are ignored.
func (r *Registry) SetProgress(id string, progress int, phase string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return
	}
	if progress > rec.Progress {
		rec.Progress = progress
	}
	if phase != "" {
		rec.Meta["current_phase"] = phase
	}
}

// SetMeta publishes one metadata field on the record.
func (r *Registry) SetMeta(id, key string, value any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.records[id]; ok {
		rec.Meta[key] = value
	}
}

// MergeMeta publishes several metadata fields at once.
func (r *Registry) MergeMeta(id string, fields map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return
	}
	for k, v := range fields {
		rec.Meta[k] = v
	}
}

// MarkDone finalizes the record as successful.
func (r *Registry) MarkDone(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.records[id]; ok {
		rec.State = job.StateDone
		rec.Progress = 100
		rec.CompletedAt = time.Now()
	}
}

// MarkError finalizes the record as failed and stores the error text.
func (r *Registry) MarkError(id, errMsg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.records[id]; ok {
		rec.State = job.StateError
		rec.Error = errMsg
		rec.CompletedAt = time.Now()
	}
}

// Len reports the number of live records.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}

// evictTerminal removes terminal records older than retention. It returns
// the number evicted.
func (r *Registry) evictTerminal(retention time.Duration) int {
	cutoff := time.Now().Add(-retention)
	r.mu.Lock()
	defer r.mu.Unlock()

	count := 0
	for id, rec := range r.records {
		if rec.State.Terminal() && !rec.CompletedAt.IsZero() && rec.CompletedAt.Before(cutoff) {
			delete(r.records, id)
			count++
		}
	}
	return count
}

// janitor evicts terminal records in the background.
type janitor struct {
	retention time.Duration
	interval  time.Duration
	stop      chan struct{}
}

func (j *janitor) run(r *Registry) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.evictTerminal(j.retention)
		case <-j.stop:
			return
		}
	}
}
