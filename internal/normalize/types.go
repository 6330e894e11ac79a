// Package normalize converts the heterogeneous alarm and AI-snapshot payload
// shapes a RaySharp NVR emits (EventPush webhook, Event Check long-poll,
// paginated search) into canonical records. All parsing is pure: no I/O, and
// unknown shapes degrade to diagnostic fallbacks instead of errors.
package normalize

import (
	"time"

	"github.com/google/uuid"
)

// Canonical alarm types. Unknown vendor strings default to TypeMotion.
const (
	TypeMotion         = "motion"
	TypePerson         = "person"
	TypeVehicle        = "vehicle"
	TypeLineCrossing   = "line_crossing"
	TypeIntrusion      = "intrusion"
	TypeFace           = "face"
	TypePlate          = "plate"
	TypeIO             = "io"
	TypeSOD            = "stationary_object"
	TypeSound          = "sound"
	TypeCrowd          = "crowd"
	TypeWander         = "wander"
	TypeRegionEntrance = "region_entrance"
	TypeRegionExiting  = "region_exiting"
	TypeOcclusion      = "occlusion"
	TypePIR            = "pir"
)

// List-type classification of a recognized plate or face against the
// device's allow/block rosters.
const (
	ListAllowed    = "allowed"
	ListBlocked    = "blocked"
	ListStranger   = "stranger"
	ListUnknown    = "unknown"
	ListKnown      = "known"
	ListRecognized = "recognized"
)

// Event is a normalized alarm record.
type Event struct {
	ID         uuid.UUID      `json:"event_id"`
	AlarmType  string         `json:"alarm_type"`
	Channel    int            `json:"channel"`
	Timestamp  string         `json:"timestamp,omitempty"`
	Extra      map[string]any `json:"extra,omitempty"`
	ReceivedAt time.Time      `json:"received_at"`
}

// Snapshot is a normalized AI detection with an associated image. Image
// stays in its transport encoding (base64); decoding is the consumer's call.
type Snapshot struct {
	Channel    int    `json:"channel"`
	ChannelStr string `json:"channel_str"`
	AlarmType  string `json:"alarm_type"`
	SnapID     string `json:"snap_id,omitempty"`
	StartTime  string `json:"start_time,omitempty"`
	EndTime    string `json:"end_time,omitempty"`
	Image      string `json:"image,omitempty"`

	// Plate fields
	PlateNumber string `json:"plate_number,omitempty"`
	CarBrand    string `json:"car_brand,omitempty"`
	CarType     string `json:"car_type,omitempty"`
	CarColor    string `json:"car_color,omitempty"`

	// Face fields
	FaceID     *int     `json:"face_id,omitempty"`
	FaceName   string   `json:"face_name,omitempty"`
	Similarity *float64 `json:"similarity,omitempty"`

	// Group membership (plate: 1=allow 2=block 3=stranger;
	// face: policy 0=allow 1=block 2=stranger)
	GrpID *int `json:"grp_id,omitempty"`
}

// WithoutImage returns a copy suitable for publication on a message bus,
// where the (potentially large) image payload is not wanted.
func (s Snapshot) WithoutImage() Snapshot {
	s.Image = ""
	return s
}
