package tracker

import (
	"context"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/technosupport/ts-nvrbridge/internal/normalize"
	"github.com/technosupport/ts-nvrbridge/internal/raysharp"
	"github.com/technosupport/ts-nvrbridge/internal/store"
)

const (
	// defaultMinCommon is the minimum shared character count below which two
	// plate reads are never merged.
	defaultMinCommon = 3

	// plateDedupWindow bounds how far back duplicate suppression looks. OCR
	// re-reads the same vehicle several times while it passes the camera.
	plateDedupWindow = 60 * time.Second

	enrichTimeout = 10 * time.Second
)

// Cyrillic letters that render identically to Latin ones. Mixed-alphabet
// reads of the same plate are common on dual-alphabet plates.
var plateTranslit = strings.NewReplacer(
	"А", "A", "В", "B", "Е", "E", "К", "K", "М", "M", "Н", "H",
	"О", "O", "Р", "P", "С", "C", "Т", "T", "У", "Y", "Х", "X",
	"а", "A", "в", "B", "е", "E", "к", "K", "м", "M", "н", "H",
	"о", "O", "р", "P", "с", "C", "т", "T", "у", "Y", "х", "X",
)

// NormalizePlate folds a plate read into a canonical comparison form:
// Cyrillic lookalikes mapped to Latin, uppercased, whitespace stripped.
func NormalizePlate(plate string) string {
	plate = plateTranslit.Replace(plate)
	plate = strings.ToUpper(plate)
	return strings.Join(strings.Fields(plate), "")
}

// PlatesMatch reports whether two normalized plate reads are plausibly the
// same physical plate. OCR drops characters and misreads individual
// positions, so besides exact equality it accepts the shorter read being a
// substring of the longer, or at least minCommon position-wise matches.
func PlatesMatch(a, b string, minCommon int) bool {
	// Equal reads are always the same plate, however short.
	if a == b {
		return true
	}
	short, long := a, b
	if len(short) > len(long) {
		short, long = long, short
	}
	if len(short) < minCommon {
		return false
	}
	if strings.Contains(long, short) {
		return true
	}
	common := 0
	for i := 0; i < len(short); i++ {
		if short[i] == long[i] {
			common++
		}
	}
	return common >= minCommon
}

// PlateTracker keeps the roster of recent plate detections, collapsing OCR
// re-reads and enriching entries from the device's registered-plate
// database.
type PlateTracker struct {
	*roster
	client Caller

	cfgMu     sync.RWMutex
	minCommon int
}

func NewPlateTracker(st *store.Store, client Caller) *PlateTracker {
	t := &PlateTracker{
		roster:    newRoster("plates", st),
		client:    client,
		minCommon: defaultMinCommon,
	}
	t.load()
	return t
}

// SetMinCommon adjusts the match threshold at runtime (config hot reload).
func (t *PlateTracker) SetMinCommon(n int) {
	if n < 1 {
		n = defaultMinCommon
	}
	t.cfgMu.Lock()
	t.minCommon = n
	t.cfgMu.Unlock()
}

func (t *PlateTracker) getMinCommon() int {
	t.cfgMu.RLock()
	defer t.cfgMu.RUnlock()
	return t.minCommon
}

// HandleSnapshot ingests one plate snapshot off the bus.
func (t *PlateTracker) HandleSnapshot(snap normalize.Snapshot) {
	if snap.AlarmType != normalize.TypePlate || snap.PlateNumber == "" {
		return
	}
	normalized := NormalizePlate(snap.PlateNumber)
	if t.isRecentDuplicate(normalized) {
		log.Printf("[DEBUG] tracker plates: duplicate read %s suppressed", normalized)
		return
	}

	entry := &Entry{
		PlateNumber: normalized,
		Channel:     snap.Channel,
		Timestamp:   time.Now(),
		Time:        snap.StartTime,
		SnapID:      snap.SnapID,
		CarBrand:    snap.CarBrand,
		CarType:     snap.CarType,
		CarColor:    snap.CarColor,
		GrpID:       snap.GrpID,
		ListType:    normalize.ListUnknown,
	}
	if snap.GrpID != nil {
		entry.ListType = normalize.PlateListType(*snap.GrpID)
	}
	t.add(entry)
	go t.enrich(entry)
}

// isRecentDuplicate scans the roster backward, stopping at the first entry
// older than the dedup window.
func (t *PlateTracker) isRecentDuplicate(normalized string) bool {
	minCommon := t.getMinCommon()
	cutoff := time.Now().Add(-plateDedupWindow)
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := len(t.entries) - 1; i >= 0; i-- {
		e := t.entries[i]
		if e.Timestamp.Before(cutoff) {
			break
		}
		if PlatesMatch(normalized, e.PlateNumber, minCommon) {
			return true
		}
	}
	return false
}

// enrich looks the plate up in the device's registered-plate database and
// fills in owner, brand and list membership. The entry is shared with the
// roster, so results become visible in place.
func (t *PlateTracker) enrich(entry *Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), enrichTimeout)
	defer cancel()

	resp, err := t.client.Call(ctx, raysharp.EndpointAIAddedPlatesGet, map[string]any{
		"PlatesId": []string{entry.PlateNumber},
	})
	if err != nil {
		log.Printf("[DEBUG] tracker plates: enrichment lookup for %s failed: %v", entry.PlateNumber, err)
		return
	}
	data := raysharp.ExtractData(resp)
	infos, _ := data["PlateInfo"].([]any)
	if len(infos) == 0 {
		// Not in the database: an unregistered (stranger) plate.
		return
	}
	info, _ := infos[0].(map[string]any)
	if info == nil {
		return
	}

	t.mu.Lock()
	if brand, ok := info["CarBrand"].(string); ok && brand != "" {
		entry.CarBrand = brand
	}
	if owner, ok := info["Owner"].(string); ok && owner != "" {
		entry.Owner = owner
	}
	if grp, ok := info["GrpId"]; ok && grp != nil {
		if code, ok := grp.(float64); ok {
			n := int(code)
			entry.GrpID = &n
			entry.ListType = normalize.PlateListType(n)
		}
	}
	t.scheduleSaveLocked()
	t.mu.Unlock()
}
