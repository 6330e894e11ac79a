package tracker

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/technosupport/ts-nvrbridge/internal/normalize"
	"github.com/technosupport/ts-nvrbridge/internal/raysharp"
	"github.com/technosupport/ts-nvrbridge/internal/store"
)

const faceDedupWindow = 60 * time.Second

// FaceTracker keeps the roster of recent face detections. Group policies
// (allow / block / stranger) come from the device's face-group table, cached
// and refreshed alongside the coordinator cycle.
type FaceTracker struct {
	*roster
	client Caller

	groupMu  sync.RWMutex
	policies map[int]any
}

func NewFaceTracker(st *store.Store, client Caller) *FaceTracker {
	t := &FaceTracker{
		roster:   newRoster("faces", st),
		client:   client,
		policies: map[int]any{},
	}
	t.load()
	return t
}

// RefreshGroups re-reads the device's face group table. The group list keys
// vary by firmware (group_info, groups or items), as do the id fields.
func (t *FaceTracker) RefreshGroups(ctx context.Context) {
	resp, err := t.client.Call(ctx, raysharp.EndpointAIFDGroups, nil)
	if err != nil {
		log.Printf("[DEBUG] tracker faces: group refresh failed: %v", err)
		return
	}
	data := raysharp.ExtractData(resp)

	var list []any
	for _, key := range []string{"group_info", "groups", "items"} {
		if l, ok := data[key].([]any); ok {
			list = l
			break
		}
	}

	policies := make(map[int]any, len(list))
	for _, raw := range list {
		item, _ := raw.(map[string]any)
		if item == nil {
			continue
		}
		var id int
		found := false
		for _, key := range []string{"group_id", "id"} {
			if v, ok := item[key].(float64); ok {
				id = int(v)
				found = true
				break
			}
		}
		if !found {
			continue
		}
		policies[id] = item["Policy"]
	}

	t.groupMu.Lock()
	t.policies = policies
	t.groupMu.Unlock()
	log.Printf("[DEBUG] tracker faces: loaded %d face groups", len(policies))
}

// HandleSnapshot ingests one face snapshot off the bus.
func (t *FaceTracker) HandleSnapshot(snap normalize.Snapshot) {
	if snap.AlarmType != normalize.TypeFace {
		return
	}
	if t.isRecentDuplicate(snap) {
		return
	}

	entry := &Entry{
		Channel:    snap.Channel,
		Timestamp:  time.Now(),
		Time:       snap.StartTime,
		SnapID:     snap.SnapID,
		FaceID:     snap.FaceID,
		FaceName:   snap.FaceName,
		Similarity: snap.Similarity,
		GrpID:      snap.GrpID,
		ListType:   t.listType(snap),
	}
	t.add(entry)
}

// listType classifies a detection: group policy when the group is known, a
// bare recognition when only the face id is, stranger otherwise.
func (t *FaceTracker) listType(snap normalize.Snapshot) string {
	if snap.GrpID != nil {
		t.groupMu.RLock()
		policy, ok := t.policies[*snap.GrpID]
		t.groupMu.RUnlock()
		if ok && policy != nil {
			return normalize.FaceListType(policy)
		}
	}
	if snap.FaceID != nil {
		return normalize.ListRecognized
	}
	return normalize.ListStranger
}

// isRecentDuplicate suppresses repeat sightings of the same face id (or the
// same snapshot id for strangers) inside the window.
func (t *FaceTracker) isRecentDuplicate(snap normalize.Snapshot) bool {
	cutoff := time.Now().Add(-faceDedupWindow)
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := len(t.entries) - 1; i >= 0; i-- {
		e := t.entries[i]
		if e.Timestamp.Before(cutoff) {
			break
		}
		if snap.FaceID != nil && e.FaceID != nil && *snap.FaceID == *e.FaceID {
			return true
		}
		if snap.FaceID == nil && snap.SnapID != "" && snap.SnapID == e.SnapID {
			return true
		}
	}
	return false
}
