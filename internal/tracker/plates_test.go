package tracker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/technosupport/ts-nvrbridge/internal/normalize"
	"github.com/technosupport/ts-nvrbridge/internal/store"
)

// fakeCaller scripts enrichment lookups.
type fakeCaller struct {
	mu    sync.Mutex
	resp  map[string]any
	err   error
	calls []string
}

func (f *fakeCaller) Call(ctx context.Context, endpoint string, data any) (map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, endpoint)
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

func TestNormalizePlate(t *testing.T) {
	cases := []struct{ in, want string }{
		{"ab123cd", "AB123CD"},
		{" AB 123 CD ", "AB123CD"},
		// Cyrillic lookalikes fold into their Latin twins.
		{"АВ123СХ", "AB123CX"},
		{"ав123сх", "AB123CX"},
		{"", ""},
	}
	for _, c := range cases {
		if got := NormalizePlate(c.in); got != c.want {
			t.Errorf("NormalizePlate(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestPlatesMatch(t *testing.T) {
	cases := []struct {
		a, b      string
		minCommon int
		want      bool
	}{
		{"AB123CD", "AB123CD", 3, true},
		// Identical reads match even below the threshold length.
		{"AB", "AB", 3, true},
		// Truncated read is a substring of the full one.
		{"B123C", "AB123CD", 3, true},
		// Single-position misread still shares enough characters.
		{"AB123CD", "AX123CD", 3, true},
		{"AB123CD", "XY987ZW", 3, false},
		// Too short to judge at all.
		{"AB", "AB123CD", 3, false},
		{"", "AB123CD", 3, false},
		// A stricter threshold rejects what a looser one accepts.
		{"ABC", "ABX", 3, false},
		{"ABC", "ABX", 2, true},
	}
	for _, c := range cases {
		if got := PlatesMatch(c.a, c.b, c.minCommon); got != c.want {
			t.Errorf("PlatesMatch(%q, %q, %d) = %v, want %v", c.a, c.b, c.minCommon, got, c.want)
		}
	}
}

func plateSnap(plate string, ch int) normalize.Snapshot {
	return normalize.Snapshot{
		AlarmType:   normalize.TypePlate,
		Channel:     ch,
		PlateNumber: plate,
		SnapID:      "snap-" + plate,
		StartTime:   "2026-08-25 10:00:00",
	}
}

func TestPlateTrackerCollapsesRereads(t *testing.T) {
	f := &fakeCaller{resp: map[string]any{"data": map[string]any{}}}
	tr := NewPlateTracker(newTestStore(t), f)
	defer tr.Close()

	tr.HandleSnapshot(plateSnap("AB123CD", 1))
	// Same vehicle, one misread position: collapsed.
	tr.HandleSnapshot(plateSnap("AB123CX", 1))
	// Cyrillic re-read of the same plate: collapsed.
	tr.HandleSnapshot(plateSnap("АВ123СD", 1))
	// Genuinely different plate.
	tr.HandleSnapshot(plateSnap("XY987ZW", 2))

	entries := tr.Entries()
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2: %+v", len(entries), entries)
	}
	if entries[0].PlateNumber != "AB123CD" || entries[1].PlateNumber != "XY987ZW" {
		t.Errorf("entries = %q, %q", entries[0].PlateNumber, entries[1].PlateNumber)
	}
}

func TestPlateTrackerIgnoresNonPlates(t *testing.T) {
	f := &fakeCaller{resp: map[string]any{"data": map[string]any{}}}
	tr := NewPlateTracker(newTestStore(t), f)
	defer tr.Close()

	tr.HandleSnapshot(normalize.Snapshot{AlarmType: normalize.TypeFace, Channel: 1})
	tr.HandleSnapshot(normalize.Snapshot{AlarmType: normalize.TypePlate, Channel: 1})

	if got := len(tr.Entries()); got != 0 {
		t.Errorf("got %d entries, want 0", got)
	}
}

func TestPlateTrackerDedupWindowExpiry(t *testing.T) {
	f := &fakeCaller{resp: map[string]any{"data": map[string]any{}}}
	tr := NewPlateTracker(newTestStore(t), f)
	defer tr.Close()

	tr.HandleSnapshot(plateSnap("AB123CD", 1))
	// Age the entry past the window; a re-read then counts as new.
	tr.mu.Lock()
	tr.entries[0].Timestamp = time.Now().Add(-2 * plateDedupWindow)
	tr.mu.Unlock()

	tr.HandleSnapshot(plateSnap("AB123CD", 1))
	if got := len(tr.Entries()); got != 2 {
		t.Errorf("got %d entries, want 2", got)
	}
}

func TestPlateTrackerEnrichment(t *testing.T) {
	f := &fakeCaller{resp: map[string]any{
		"data": map[string]any{
			"PlateInfo": []any{
				map[string]any{
					"CarBrand": "Toyota",
					"Owner":    "J. Smith",
					"GrpId":    float64(1),
				},
			},
		},
	}}
	tr := NewPlateTracker(newTestStore(t), f)
	defer tr.Close()

	tr.HandleSnapshot(plateSnap("AB123CD", 1))

	// Enrichment runs on its own goroutine.
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if e := tr.Entries(); len(e) == 1 && e[0].Owner != "" {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	entries := tr.Entries()
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	e := entries[0]
	if e.CarBrand != "Toyota" || e.Owner != "J. Smith" {
		t.Errorf("entry = %+v", e)
	}
	if e.GrpID == nil || *e.GrpID != 1 {
		t.Errorf("grp_id = %v, want 1", e.GrpID)
	}
	if e.ListType != normalize.PlateListType(1) {
		t.Errorf("list_type = %q", e.ListType)
	}
}

func TestPlateTrackerUnregisteredPlateStaysBare(t *testing.T) {
	f := &fakeCaller{resp: map[string]any{
		"data": map[string]any{"PlateInfo": []any{}},
	}}
	tr := NewPlateTracker(newTestStore(t), f)
	defer tr.Close()

	tr.HandleSnapshot(plateSnap("ZZ999ZZ", 1))
	time.Sleep(50 * time.Millisecond)

	entries := tr.Entries()
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	if entries[0].Owner != "" || entries[0].ListType != normalize.ListUnknown {
		t.Errorf("unregistered plate must stay bare: %+v", entries[0])
	}
}

func TestPlateTrackerSetMinCommon(t *testing.T) {
	f := &fakeCaller{resp: map[string]any{"data": map[string]any{}}}
	tr := NewPlateTracker(newTestStore(t), f)
	defer tr.Close()

	tr.SetMinCommon(7)
	tr.HandleSnapshot(plateSnap("AB123CD", 1))
	// Six shared positions: below the raised threshold, so kept as distinct.
	tr.HandleSnapshot(plateSnap("AB123CX", 1))
	if got := len(tr.Entries()); got != 2 {
		t.Errorf("got %d entries, want 2 with threshold 7", got)
	}

	// Out-of-range value falls back to the default.
	tr.SetMinCommon(0)
	if got := tr.getMinCommon(); got != defaultMinCommon {
		t.Errorf("minCommon = %d, want default %d", got, defaultMinCommon)
	}
}

func TestPlateTrackerPersistence(t *testing.T) {
	dir := t.TempDir()
	st, err := store.New(dir)
	if err != nil {
		t.Fatal(err)
	}
	f := &fakeCaller{resp: map[string]any{"data": map[string]any{}}}

	tr := NewPlateTracker(st, f)
	tr.HandleSnapshot(plateSnap("AB123CD", 1))
	tr.Close()

	restored := NewPlateTracker(st, f)
	defer restored.Close()
	entries := restored.Entries()
	if len(entries) != 1 || entries[0].PlateNumber != "AB123CD" {
		t.Errorf("restored entries = %+v", entries)
	}
}

func TestRosterClear(t *testing.T) {
	st := newTestStore(t)
	f := &fakeCaller{resp: map[string]any{"data": map[string]any{}}}
	tr := NewPlateTracker(st, f)
	tr.HandleSnapshot(plateSnap("AB123CD", 1))
	tr.Clear()
	if got := len(tr.Entries()); got != 0 {
		t.Errorf("got %d entries after clear, want 0", got)
	}
	tr.Close()

	// Clear persists immediately: a restart comes back empty.
	restored := NewPlateTracker(st, f)
	defer restored.Close()
	if got := len(restored.Entries()); got != 0 {
		t.Errorf("restored %d entries after clear, want 0", got)
	}
}
