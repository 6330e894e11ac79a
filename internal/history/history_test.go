package history

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/technosupport/ts-nvrbridge/internal/normalize"
	"github.com/technosupport/ts-nvrbridge/internal/raysharp"
	"github.com/technosupport/ts-nvrbridge/internal/store"
)

type fakeCaller struct {
	mu       sync.Mutex
	resp     map[string]any
	err      error
	endpoint string
	payload  any
	calls    int
}

func (f *fakeCaller) Call(ctx context.Context, endpoint string, data any) (map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.endpoint = endpoint
	f.payload = data
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return st
}

func plateSnap(ch int, snapID, image string) normalize.Snapshot {
	return normalize.Snapshot{
		AlarmType:   normalize.TypePlate,
		Channel:     ch,
		SnapID:      snapID,
		PlateNumber: "AB123CD",
		StartTime:   "2026-08-25 12:00:00",
		Image:       image,
	}
}

func TestManagerRingOrderAndTrim(t *testing.T) {
	m := NewManager(newTestStore(t), &fakeCaller{}, 3)
	defer m.Close()

	for i := 1; i <= 5; i++ {
		m.HandleSnapshot(plateSnap(1, fmt.Sprintf("s%d", i), "img"))
	}

	entries := m.Entries(1, normalize.TypePlate)
	if len(entries) != 3 {
		t.Fatalf("got %d entries, want ring size 3", len(entries))
	}
	// Newest first.
	for i, want := range []string{"s5", "s4", "s3"} {
		if entries[i].SnapID != want {
			t.Errorf("slot %d = %s, want %s", i, entries[i].SnapID, want)
		}
	}
}

func TestManagerRingsAreIndependent(t *testing.T) {
	m := NewManager(newTestStore(t), &fakeCaller{}, 3)
	defer m.Close()

	m.HandleSnapshot(plateSnap(1, "p1", "img"))
	m.HandleSnapshot(normalize.Snapshot{
		AlarmType: normalize.TypeFace, Channel: 1, SnapID: "f1",
		StartTime: "2026-08-25 12:00:00",
	})
	m.HandleSnapshot(plateSnap(2, "p2", "img"))

	if got := len(m.Entries(1, normalize.TypePlate)); got != 1 {
		t.Errorf("ch1 plate ring = %d entries, want 1", got)
	}
	if got := len(m.Entries(1, normalize.TypeFace)); got != 1 {
		t.Errorf("ch1 face ring = %d entries, want 1", got)
	}
	if got := len(m.Entries(2, normalize.TypePlate)); got != 1 {
		t.Errorf("ch2 plate ring = %d entries, want 1", got)
	}
}

func TestManagerIgnoresUntrackedTypes(t *testing.T) {
	m := NewManager(newTestStore(t), &fakeCaller{}, 3)
	defer m.Close()

	m.HandleSnapshot(normalize.Snapshot{AlarmType: normalize.TypeMotion, Channel: 1, SnapID: "m1"})
	if got := m.Entries(1, normalize.TypeMotion); got != nil {
		t.Errorf("motion must not get a ring, got %v", got)
	}
}

func TestManagerEntrySlot(t *testing.T) {
	m := NewManager(newTestStore(t), &fakeCaller{}, 3)
	defer m.Close()

	m.HandleSnapshot(plateSnap(1, "s1", "img"))
	if _, ok := m.Entry(1, normalize.TypePlate, 0); !ok {
		t.Error("slot 0 must exist")
	}
	if _, ok := m.Entry(1, normalize.TypePlate, 1); ok {
		t.Error("slot 1 must not exist")
	}
	if _, ok := m.Entry(1, normalize.TypePlate, -1); ok {
		t.Error("negative slot must not exist")
	}
	if _, ok := m.Entry(9, normalize.TypePlate, 0); ok {
		t.Error("unknown channel must not exist")
	}
}

func TestManagerPersistsMetadataWithoutImages(t *testing.T) {
	st := newTestStore(t)
	m := NewManager(st, &fakeCaller{}, 3)
	m.HandleSnapshot(plateSnap(1, "s1", "bigimagepayload"))
	m.Close()

	restored := NewManager(st, &fakeCaller{}, 3)
	defer restored.Close()
	entries := restored.Entries(1, normalize.TypePlate)
	if len(entries) != 1 {
		t.Fatalf("restored %d entries, want 1", len(entries))
	}
	e := entries[0]
	if e.SnapID != "s1" || e.PlateNumber != "AB123CD" {
		t.Errorf("metadata lost across restart: %+v", e)
	}
	if e.Image != "" {
		t.Error("image payloads must not survive a restart")
	}
}

func TestFetchImageCached(t *testing.T) {
	f := &fakeCaller{}
	m := NewManager(newTestStore(t), f, 3)
	defer m.Close()

	m.HandleSnapshot(plateSnap(1, "s1", "cached-img"))
	img, err := m.FetchImage(context.Background(), 1, normalize.TypePlate, 0)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if img != "cached-img" {
		t.Errorf("image = %q", img)
	}
	if f.calls != 0 {
		t.Errorf("cached image must not hit the device, made %d calls", f.calls)
	}
}

func TestFetchImageRefetchesAfterRestart(t *testing.T) {
	st := newTestStore(t)
	m := NewManager(st, &fakeCaller{}, 3)
	m.HandleSnapshot(plateSnap(3, "s1", "lost-on-restart"))
	m.Close()

	f := &fakeCaller{resp: map[string]any{
		"data": map[string]any{
			"PlateInfo": []any{
				map[string]any{"SnapId": "s0", "BgImg": "wrong"},
				map[string]any{"SnapId": "s1", "PlateImg": "refetched"},
			},
		},
	}}
	restored := NewManager(st, f, 3)
	defer restored.Close()

	img, err := restored.FetchImage(context.Background(), 3, normalize.TypePlate, 0)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if img != "refetched" {
		t.Errorf("image = %q, want refetched", img)
	}
	if f.endpoint != raysharp.EndpointAIObjectsGetByIndex {
		t.Errorf("endpoint = %s", f.endpoint)
	}

	// The search payload uses 0-based channel indices and brackets the
	// recorded detection time.
	payload, _ := f.payload.(map[string]any)
	if payload == nil {
		t.Fatal("no payload captured")
	}
	chn, _ := payload["Chn"].([]int)
	if len(chn) != 1 || chn[0] != 2 {
		t.Errorf("Chn = %v, want [2]", chn)
	}
	start, _ := time.ParseInLocation(deviceTimeLayout, payload["StartTime"].(string), time.Local)
	end, _ := time.ParseInLocation(deviceTimeLayout, payload["EndTime"].(string), time.Local)
	if end.Sub(start) != 2*refetchWindow {
		t.Errorf("search window = %v, want %v", end.Sub(start), 2*refetchWindow)
	}

	// Second read comes from the refilled cache.
	if _, err := restored.FetchImage(context.Background(), 3, normalize.TypePlate, 0); err != nil {
		t.Fatalf("second fetch: %v", err)
	}
	if f.calls != 1 {
		t.Errorf("made %d device calls, want 1", f.calls)
	}
}

func TestFetchImageFaceSource(t *testing.T) {
	st := newTestStore(t)
	m := NewManager(st, &fakeCaller{}, 3)
	m.HandleSnapshot(normalize.Snapshot{
		AlarmType: normalize.TypeFace, Channel: 1, SnapID: "f1",
		StartTime: "2026-08-25 12:00:00", Image: "x",
	})
	m.Close()

	f := &fakeCaller{resp: map[string]any{
		"data": map[string]any{
			// Numeric SnapId values match their string form.
			"SnapedFaceInfo": []any{
				map[string]any{"SnapId": "f1", "FaceImage": "face-img"},
			},
		},
	}}
	restored := NewManager(st, f, 3)
	defer restored.Close()

	img, err := restored.FetchImage(context.Background(), 1, normalize.TypeFace, 0)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if img != "face-img" {
		t.Errorf("image = %q", img)
	}
	if f.endpoint != raysharp.EndpointAIFacesGetByIndex {
		t.Errorf("endpoint = %s", f.endpoint)
	}
}

func TestFetchImageMissingSlot(t *testing.T) {
	m := NewManager(newTestStore(t), &fakeCaller{}, 3)
	defer m.Close()
	if _, err := m.FetchImage(context.Background(), 1, normalize.TypePlate, 0); err == nil {
		t.Error("expected error for empty ring")
	}
}

func TestItemSnapID(t *testing.T) {
	if got := itemSnapID(map[string]any{"SnapId": "abc"}); got != "abc" {
		t.Errorf("string SnapId = %q", got)
	}
	if got := itemSnapID(map[string]any{"SnapId": float64(42)}); got != "42" {
		t.Errorf("numeric SnapId = %q", got)
	}
	if got := itemSnapID(map[string]any{}); got != "" {
		t.Errorf("missing SnapId = %q", got)
	}
}
