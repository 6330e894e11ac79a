package normalize

import (
	"log"
	"strconv"
	"strings"
)

// alarmAliases maps every vendor spelling of a detection type seen across
// firmware revisions to its canonical type. Order matters: the
// case-insensitive index is built first-wins, so "SOD" (intrusion on older
// firmware) shadows "sod" (stationary object) for mixed-case input while
// exact matches still resolve both.
var alarmAliases = []struct {
	Alias     string
	Canonical string
}{
	// Motion
	{"motion", TypeMotion},
	{"md", TypeMotion},
	{"VMD", TypeMotion},
	{"MotionDetect", TypeMotion},
	{"VideoMotion", TypeMotion},
	// Person / Human
	{"person", TypePerson},
	{"pd", TypePerson},
	{"PD", TypePerson},
	{"PVD_person", TypePerson},
	{"human", TypePerson},
	{"HumanDetect", TypePerson},
	// Vehicle
	{"vehicle", TypeVehicle},
	{"vd", TypeVehicle},
	{"PVD_vehicle", TypeVehicle},
	{"car", TypeVehicle},
	{"VehicleDetect", TypeVehicle},
	// Line crossing
	{"line_crossing", TypeLineCrossing},
	{"lcd", TypeLineCrossing},
	{"LCD", TypeLineCrossing},
	{"LineCross", TypeLineCrossing},
	{"LineCrossing", TypeLineCrossing},
	// Intrusion / perimeter
	{"intrusion", TypeIntrusion},
	{"pid", TypeIntrusion},
	{"SOD", TypeIntrusion},
	{"RegionDetect", TypeIntrusion},
	{"PID", TypeIntrusion},
	{"PerimeterIntrusion", TypeIntrusion},
	// Face
	{"face", TypeFace},
	{"fd", TypeFace},
	{"FD", TypeFace},
	{"FaceDetect", TypeFace},
	{"FaceDetection", TypeFace},
	// License plate
	{"plate", TypePlate},
	{"lpr", TypePlate},
	{"LPR", TypePlate},
	{"LicensePlate", TypePlate},
	{"LPD", TypePlate},
	{"lpd", TypePlate},
	{"lp", TypePlate},
	{"LP", TypePlate},
	// IO alarm
	{"io", TypeIO},
	{"IO", TypeIO},
	{"AlarmInput", TypeIO},
	{"IOAlarm", TypeIO},
	// Stationary object
	{"sod", TypeSOD},
	{"stationary_object", TypeSOD},
	{"StationaryObject", TypeSOD},
	{"SODAlarm", TypeSOD},
	// Sound detection
	{"sound", TypeSound},
	{"rsd", TypeSound},
	{"SoundDetection", TypeSound},
	{"RSD", TypeSound},
	// Crowd density
	{"crowd", TypeCrowd},
	{"CrowdDensity", TypeCrowd},
	{"CD", TypeCrowd},
	// Wander
	{"wander", TypeWander},
	{"WanderDetection", TypeWander},
	// Region entrance / exiting
	{"region_entrance", TypeRegionEntrance},
	{"RegionEntrance", TypeRegionEntrance},
	{"region_exiting", TypeRegionExiting},
	{"RegionExiting", TypeRegionExiting},
	// Occlusion
	{"occlusion", TypeOcclusion},
	{"OcclusionDetection", TypeOcclusion},
	// PIR
	{"pir", TypePIR},
	{"PIR", TypePIR},
}

var (
	aliasExact = make(map[string]string, len(alarmAliases))
	aliasLower = make(map[string]string, len(alarmAliases))
)

func init() {
	for _, a := range alarmAliases {
		aliasExact[a.Alias] = a.Canonical
		lower := strings.ToLower(a.Alias)
		if _, ok := aliasLower[lower]; !ok {
			aliasLower[lower] = a.Canonical
		}
	}
}

// AlarmType resolves a vendor alarm-type string to a canonical type.
// Resolution order: exact alias match, case-insensitive match, then — for
// compound subtypes like "pd_vd" — the prefix before the first underscore.
// Anything still unresolved falls back to motion; the detection taxonomy
// grows with firmware, so an unknown type must never break event delivery.
func AlarmType(raw string) string {
	if t, ok := aliasExact[raw]; ok {
		return t
	}
	lower := strings.ToLower(raw)
	if t, ok := aliasLower[lower]; ok {
		return t
	}
	if i := strings.Index(lower, "_"); i > 0 {
		prefix := lower[:i]
		if t, ok := aliasExact[prefix]; ok {
			return t
		}
		if t, ok := aliasLower[prefix]; ok {
			return t
		}
	}
	log.Printf("[DEBUG] normalize: unknown alarm type %q, defaulting to motion", raw)
	return TypeMotion
}

// ChannelNum resolves a channel identifier ("CH17", "17", 17) to its
// 1-based integer index. Unparseable input resolves to 0, never an error.
func ChannelNum(ch string) int {
	ch = strings.TrimSpace(ch)
	if len(ch) >= 2 && strings.EqualFold(ch[:2], "CH") {
		if n, err := strconv.Atoi(ch[2:]); err == nil && n >= 0 {
			return n
		}
		// "CH" with no parseable suffix falls through to the plain parse.
	}
	if n, err := strconv.Atoi(ch); err == nil && n >= 0 {
		return n
	}
	return 0
}

// PlateListType maps a plate GrpId (1-based: 1=allow, 2=block, 3=stranger)
// to a list-type key.
func PlateListType(grpID any) string {
	code, ok := asInt(grpID)
	if !ok {
		return ListUnknown
	}
	switch code {
	case 1:
		return ListAllowed
	case 2:
		return ListBlocked
	case 3:
		return ListStranger
	}
	return ListKnown
}

// FaceListType maps a face group policy code (0-based: 0=allow, 1=block,
// 2=stranger) to a list-type key.
func FaceListType(policy any) string {
	code, ok := asInt(policy)
	if !ok {
		return ListUnknown
	}
	switch code {
	case 0:
		return ListAllowed
	case 1:
		return ListBlocked
	case 2:
		return ListStranger
	}
	return ListKnown
}
