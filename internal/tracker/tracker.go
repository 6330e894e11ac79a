// Package tracker maintains rolling rosters of recognized plates and faces,
// deduplicated, enriched from the device databases and persisted across
// restarts.
package tracker

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/technosupport/ts-nvrbridge/internal/metrics"
	"github.com/technosupport/ts-nvrbridge/internal/store"
)

const (
	stateVersion = 1

	// Rosters keep 30 days of detections, capped to protect memory on busy
	// sites.
	keepWindow = 30 * 24 * time.Hour
	maxEntries = 5000

	// Detections arrive in bursts; saves are debounced so a burst costs one
	// write.
	saveDebounce = 60 * time.Second
)

// Caller is the slice of the device client the trackers use for enrichment
// lookups.
type Caller interface {
	Call(ctx context.Context, endpoint string, data any) (map[string]any, error)
}

// Entry is one tracked detection.
type Entry struct {
	PlateNumber string    `json:"plate_number,omitempty"`
	Channel     int       `json:"channel"`
	Timestamp   time.Time `json:"timestamp"`
	Time        string    `json:"time,omitempty"`
	SnapID      string    `json:"snap_id,omitempty"`

	CarBrand string `json:"car_brand,omitempty"`
	CarType  string `json:"car_type,omitempty"`
	CarColor string `json:"car_color,omitempty"`
	Owner    string `json:"owner,omitempty"`

	FaceID     *int     `json:"face_id,omitempty"`
	FaceName   string   `json:"face_name,omitempty"`
	Similarity *float64 `json:"similarity,omitempty"`

	GrpID    *int   `json:"grp_id,omitempty"`
	ListType string `json:"list_type,omitempty"`
}

// roster is the shared core of the plate and face trackers: an append-only
// list of entries, pruned by age and size, saved on a debounce timer.
// Entries are pointers so enrichment results landing after the initial
// append are visible to readers.
type roster struct {
	name  string
	store *store.Store

	mu        sync.Mutex
	entries   []*Entry
	saveTimer *time.Timer
}

func newRoster(name string, st *store.Store) *roster {
	return &roster{name: name, store: st}
}

// load restores persisted entries, pruning anything that aged out while the
// service was down.
func (r *roster) load() {
	var entries []*Entry
	found, err := r.store.Load(r.name, stateVersion, &entries)
	if err != nil {
		log.Printf("[ERROR] tracker %s: restore failed, starting empty: %v", r.name, err)
		return
	}
	if !found {
		return
	}
	r.mu.Lock()
	r.entries = entries
	r.pruneLocked()
	count := len(r.entries)
	r.mu.Unlock()
	metrics.TrackerEntries.WithLabelValues(r.name).Set(float64(count))
	log.Printf("[DEBUG] tracker %s: restored %d entries", r.name, count)
}

func (r *roster) add(e *Entry) {
	r.mu.Lock()
	r.entries = append(r.entries, e)
	r.pruneLocked()
	count := len(r.entries)
	r.scheduleSaveLocked()
	r.mu.Unlock()
	metrics.TrackerEntries.WithLabelValues(r.name).Set(float64(count))
}

func (r *roster) pruneLocked() {
	cutoff := time.Now().Add(-keepWindow)
	kept := r.entries[:0]
	for _, e := range r.entries {
		if e.Timestamp.After(cutoff) {
			kept = append(kept, e)
		}
	}
	r.entries = kept
	if len(r.entries) > maxEntries {
		r.entries = r.entries[len(r.entries)-maxEntries:]
	}
}

// scheduleSaveLocked arms the debounce timer, replacing any pending one so
// only the last write in a burst fires.
func (r *roster) scheduleSaveLocked() {
	if r.saveTimer != nil {
		r.saveTimer.Stop()
	}
	r.saveTimer = time.AfterFunc(saveDebounce, r.save)
}

func (r *roster) save() {
	r.mu.Lock()
	snapshot := make([]*Entry, len(r.entries))
	copy(snapshot, r.entries)
	r.mu.Unlock()
	if err := r.store.Save(r.name, stateVersion, snapshot); err != nil {
		log.Printf("[ERROR] tracker %s: save failed: %v", r.name, err)
	}
}

// Entries returns a copy of the current roster, newest last.
func (r *roster) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, len(r.entries))
	for i, e := range r.entries {
		out[i] = *e
	}
	return out
}

// Clear empties the roster and persists the empty state immediately.
func (r *roster) Clear() {
	r.mu.Lock()
	r.entries = nil
	if r.saveTimer != nil {
		r.saveTimer.Stop()
		r.saveTimer = nil
	}
	r.mu.Unlock()
	metrics.TrackerEntries.WithLabelValues(r.name).Set(0)
	if err := r.store.Save(r.name, stateVersion, []*Entry{}); err != nil {
		log.Printf("[ERROR] tracker %s: clear failed: %v", r.name, err)
	}
}

// Close cancels the debounce timer and flushes pending state.
func (r *roster) Close() {
	r.mu.Lock()
	if r.saveTimer != nil {
		r.saveTimer.Stop()
		r.saveTimer = nil
	}
	r.mu.Unlock()
	r.save()
}
