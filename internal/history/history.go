// Package history keeps per-channel, per-detection-type ring buffers of the
// last N AI snapshots. Metadata is persisted; image payloads stay in memory
// and are refetched from the device on demand after a restart.
package history

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/technosupport/ts-nvrbridge/internal/normalize"
	"github.com/technosupport/ts-nvrbridge/internal/raysharp"
	"github.com/technosupport/ts-nvrbridge/internal/store"
)

const (
	stateVersion = 1

	// DefaultSlots is the ring size per (channel, alarm type).
	DefaultSlots = 5

	saveDebounce = 30 * time.Second

	// refetchWindow brackets the GetByIndex search around the recorded
	// detection time when the image has to be re-pulled from the device.
	refetchWindow = 2 * time.Minute

	deviceTimeLayout = "2006-01-02 15:04:05"
)

// Detection types that get history rings.
var historyTypes = map[string]bool{
	normalize.TypePlate:   true,
	normalize.TypeFace:    true,
	normalize.TypePerson:  true,
	normalize.TypeVehicle: true,
}

// Caller is the slice of the device client used for image refetch.
type Caller interface {
	Call(ctx context.Context, endpoint string, data any) (map[string]any, error)
}

// Entry is one history slot. Image is the base64 payload as delivered and is
// never persisted.
type Entry struct {
	SnapID    string `json:"snap_id,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Channel   int    `json:"channel"`
	AlarmType string `json:"alarm_type"`

	PlateNumber string   `json:"plate_number,omitempty"`
	GrpID       *int     `json:"grp_id,omitempty"`
	CarBrand    string   `json:"car_brand,omitempty"`
	CarColor    string   `json:"car_color,omitempty"`
	FaceID      *int     `json:"face_id,omitempty"`
	FaceName    string   `json:"face_name,omitempty"`
	Similarity  *float64 `json:"similarity,omitempty"`

	Image string `json:"-"`
}

// ring buffers the last N entries for one (channel, alarm type), newest
// first.
type ring struct {
	key       string
	channel   int
	alarmType string
	max       int

	entries   []*Entry
	saveTimer *time.Timer
}

// Manager owns all rings, routes bus snapshots into them and serves slot
// reads with lazy image refetch.
type Manager struct {
	store  *store.Store
	client Caller
	slots  int

	mu    sync.Mutex
	rings map[string]*ring
}

func NewManager(st *store.Store, client Caller, slots int) *Manager {
	if slots <= 0 {
		slots = DefaultSlots
	}
	return &Manager{
		store:  st,
		client: client,
		slots:  slots,
		rings:  map[string]*ring{},
	}
}

func ringKey(channel int, alarmType string) string {
	return fmt.Sprintf("snapshots_%d_%s", channel, alarmType)
}

// getRing returns the ring for (channel, alarmType), creating it and
// restoring its persisted metadata on first use. Caller holds m.mu.
func (m *Manager) getRingLocked(channel int, alarmType string) *ring {
	key := ringKey(channel, alarmType)
	r, ok := m.rings[key]
	if ok {
		return r
	}
	r = &ring{key: key, channel: channel, alarmType: alarmType, max: m.slots}
	var entries []*Entry
	found, err := m.store.Load(key, stateVersion, &entries)
	if err != nil {
		log.Printf("[ERROR] history: restore %s: %v", key, err)
	} else if found {
		if len(entries) > r.max {
			entries = entries[:r.max]
		}
		r.entries = entries
	}
	m.rings[key] = r
	return r
}

// HandleSnapshot ingests one snapshot off the bus.
func (m *Manager) HandleSnapshot(snap normalize.Snapshot) {
	if !historyTypes[snap.AlarmType] {
		return
	}
	entry := &Entry{
		SnapID:      snap.SnapID,
		Timestamp:   snap.StartTime,
		Channel:     snap.Channel,
		AlarmType:   snap.AlarmType,
		PlateNumber: snap.PlateNumber,
		GrpID:       snap.GrpID,
		CarBrand:    snap.CarBrand,
		CarColor:    snap.CarColor,
		FaceID:      snap.FaceID,
		FaceName:    snap.FaceName,
		Similarity:  snap.Similarity,
		Image:       snap.Image,
	}

	m.mu.Lock()
	r := m.getRingLocked(snap.Channel, snap.AlarmType)
	r.entries = append([]*Entry{entry}, r.entries...)
	if len(r.entries) > r.max {
		r.entries = r.entries[:r.max]
	}
	m.scheduleSaveLocked(r)
	m.mu.Unlock()
}

func (m *Manager) scheduleSaveLocked(r *ring) {
	if r.saveTimer != nil {
		r.saveTimer.Stop()
	}
	r.saveTimer = time.AfterFunc(saveDebounce, func() { m.saveRing(r) })
}

func (m *Manager) saveRing(r *ring) {
	m.mu.Lock()
	snapshot := make([]*Entry, len(r.entries))
	copy(snapshot, r.entries)
	m.mu.Unlock()
	if err := m.store.Save(r.key, stateVersion, snapshot); err != nil {
		log.Printf("[ERROR] history: save %s: %v", r.key, err)
	}
}

// Entry returns a copy of the slot (0 = newest) for (channel, alarmType).
func (m *Manager) Entry(channel int, alarmType string, slot int) (Entry, bool) {
	if !historyTypes[alarmType] {
		return Entry{}, false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.getRingLocked(channel, alarmType)
	if slot < 0 || slot >= len(r.entries) {
		return Entry{}, false
	}
	return *r.entries[slot], true
}

// Entries returns copies of all slots for (channel, alarmType), newest first.
func (m *Manager) Entries(channel int, alarmType string) []Entry {
	if !historyTypes[alarmType] {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.getRingLocked(channel, alarmType)
	if len(r.entries) == 0 {
		return nil
	}
	out := make([]Entry, len(r.entries))
	for i, e := range r.entries {
		out[i] = *e
	}
	return out
}

// FetchImage returns the base64 image for a slot, pulling it back from the
// device when it is no longer in memory (after a restart).
func (m *Manager) FetchImage(ctx context.Context, channel int, alarmType string, slot int) (string, error) {
	if !historyTypes[alarmType] {
		return "", fmt.Errorf("no snapshot history for alarm type %s", alarmType)
	}
	m.mu.Lock()
	r := m.getRingLocked(channel, alarmType)
	if slot < 0 || slot >= len(r.entries) {
		m.mu.Unlock()
		return "", fmt.Errorf("no snapshot in slot %d for channel %d %s", slot, channel, alarmType)
	}
	entry := r.entries[slot]
	if entry.Image != "" {
		img := entry.Image
		m.mu.Unlock()
		return img, nil
	}
	snapID, ts := entry.SnapID, entry.Timestamp
	m.mu.Unlock()

	img, err := m.refetch(ctx, channel, alarmType, snapID, ts)
	if err != nil {
		return "", err
	}
	if img != "" {
		m.mu.Lock()
		entry.Image = img
		m.mu.Unlock()
	}
	return img, nil
}

// refetch searches the device around the recorded detection time for the
// matching SnapId. GetByIndex channel indices are 0-based; timestamps are
// naive device-local time.
func (m *Manager) refetch(ctx context.Context, channel int, alarmType, snapID, timestamp string) (string, error) {
	if snapID == "" || timestamp == "" {
		return "", fmt.Errorf("snapshot has no snap_id, cannot refetch")
	}
	ts, err := time.ParseInLocation(deviceTimeLayout, timestamp, time.Local)
	if err != nil {
		return "", fmt.Errorf("unparseable snapshot timestamp %q: %w", timestamp, err)
	}

	payload := map[string]any{
		"Chn":       []int{channel - 1},
		"StartTime": ts.Add(-refetchWindow).Format(deviceTimeLayout),
		"EndTime":   ts.Add(refetchWindow).Format(deviceTimeLayout),
	}

	var (
		endpoint  string
		listKey   string
		imageKeys []string
	)
	switch alarmType {
	case normalize.TypePlate:
		endpoint, listKey = raysharp.EndpointAIObjectsGetByIndex, "PlateInfo"
		imageKeys = []string{"BgImg", "PlateImg"}
	case normalize.TypeFace:
		endpoint, listKey = raysharp.EndpointAIFacesGetByIndex, "SnapedFaceInfo"
		imageKeys = []string{"FaceImage", "Image2", "Image4"}
	case normalize.TypePerson, normalize.TypeVehicle:
		endpoint, listKey = raysharp.EndpointAIVhdGetByIndex, "SnapedObjInfo"
		imageKeys = []string{"ObjectImage"}
	default:
		return "", fmt.Errorf("no refetch source for alarm type %s", alarmType)
	}

	resp, err := m.client.Call(ctx, endpoint, payload)
	if err != nil {
		return "", fmt.Errorf("refetch %s snapshot: %w", alarmType, err)
	}
	data := raysharp.ExtractData(resp)
	items, _ := data[listKey].([]any)
	for _, raw := range items {
		item, _ := raw.(map[string]any)
		if item == nil {
			continue
		}
		if itemSnapID(item) != snapID {
			continue
		}
		for _, key := range imageKeys {
			if img, ok := item[key].(string); ok && img != "" {
				return img, nil
			}
		}
	}
	log.Printf("[DEBUG] history: snap_id %s not found on device (ch=%d type=%s)", snapID, channel, alarmType)
	return "", nil
}

func itemSnapID(item map[string]any) string {
	switch v := item["SnapId"].(type) {
	case string:
		return v
	case float64:
		return fmt.Sprintf("%d", int64(v))
	}
	return ""
}

// Close flushes every ring with a pending debounced save.
func (m *Manager) Close() {
	m.mu.Lock()
	var pending []*ring
	for _, r := range m.rings {
		if r.saveTimer != nil {
			r.saveTimer.Stop()
			r.saveTimer = nil
			pending = append(pending, r)
		}
	}
	m.mu.Unlock()
	for _, r := range pending {
		m.saveRing(r)
	}
}
