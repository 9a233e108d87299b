// File: internal/browser/tracker.go
package browser

import (
	"sort"
	"sync"
	"time"
)

// ResourceKind distinguishes tracked resource types.
type ResourceKind string

const (
	KindBrowser ResourceKind = "browser"
	KindPage    ResourceKind = "page"
)

// ResourceRecord is one tracking entry. The tracker holds no ownership: the
// record is a non-owning reference used only for enumeration and leak
// assertions, never for control.
type ResourceRecord struct {
	ID        string
	Kind      ResourceKind
	Tags      []string
	CreatedAt time.Time
}

// Tracker is a process-wide registry of live resource handles. It is
// injectable so tests can assert "no leaked resources" after a run against
// their own instance.
type Tracker struct {
	mu      sync.Mutex
	records map[string]ResourceRecord
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{records: make(map[string]ResourceRecord)}
}

// Track registers a resource. Re-tracking an id overwrites the record.
func (t *Tracker) Track(id string, kind ResourceKind, tags ...string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.records[id] = ResourceRecord{
		ID:        id,
		Kind:      kind,
		Tags:      tags,
		CreatedAt: time.Now(),
	}
}

// Untrack removes a resource. Unknown ids are a no-op.
func (t *Tracker) Untrack(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.records, id)
}

// List returns records of the given kind, or all records when kind is
// empty, ordered by creation time.
func (t *Tracker) List(kind ResourceKind) []ResourceRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]ResourceRecord, 0, len(t.records))
	for _, r := range t.records {
		if kind == "" || r.Kind == kind {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Reset clears all records. Tests only; production code never clears the
// tracker implicitly.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.records = make(map[string]ResourceRecord)
}
