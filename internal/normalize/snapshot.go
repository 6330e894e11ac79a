package normalize

import "log"

// AI detection Type codes used by SnapedObjInfo entries.
var aiSnapTypeMap = map[int]string{
	1: TypePerson,
	2: TypeVehicle,
	3: TypeFace,
	4: TypePlate,
	5: TypeIntrusion,
	6: TypeLineCrossing,
}

// ParseSnapshotPayload extracts canonical snapshots from an ai_snap_picture
// payload. The same logical detection arrives shaped three ways depending on
// firmware and transport, as three independent sub-arrays:
//
//   - SnapedObjInfo — person / vehicle / intrusion / line-crossing
//   - PlateInfo     — license plate detections
//   - FaceInfo      — face detections / recognition results
//
// Each has its own field table and its own image-priority order; all three
// converge on the same Snapshot shape.
func ParseSnapshotPayload(payload any) []Snapshot {
	m, ok := payload.(map[string]any)
	if !ok {
		return nil
	}
	data := asMap(m["data"])
	if data == nil {
		data = m
	}
	aiSnap := asMap(data["ai_snap_picture"])
	if aiSnap == nil {
		return nil
	}

	var snaps []Snapshot
	snaps = append(snaps, parseObjInfo(aiSnap)...)
	snaps = append(snaps, parsePlateInfo(aiSnap)...)
	snaps = append(snaps, parseFaceInfo(aiSnap)...)
	return snaps
}

func snapChannel(item map[string]any) (int, string) {
	chStr := asString(item["StrChn"])
	if chStr == "" {
		chStr = asString(item["Chn"])
	}
	return ChannelNum(chStr), chStr
}

func parseObjInfo(aiSnap map[string]any) []Snapshot {
	var snaps []Snapshot
	for _, raw := range asList(aiSnap["SnapedObjInfo"]) {
		item := asMap(raw)
		if item == nil {
			continue
		}
		channel, chStr := snapChannel(item)
		alarmType := TypeMotion
		if code, ok := asInt(item["Type"]); ok {
			if t, known := aiSnapTypeMap[code]; known {
				alarmType = t
			}
		}
		snap := Snapshot{
			Channel:    channel,
			ChannelStr: chStr,
			AlarmType:  alarmType,
			SnapID:     asString(item["SnapId"]),
			StartTime:  asString(item["StartTime"]),
			EndTime:    asString(item["EndTime"]),
			Image:      asString(item["ObjectImage"]),
		}
		// Some firmware attaches plate/face attributes directly to
		// SnapedObjInfo entries.
		if s := asString(item["PlateNum"]); s != "" {
			snap.PlateNumber = s
		} else if s := asString(item["CarNum"]); s != "" {
			snap.PlateNumber = s
		}
		if id, ok := asInt(item["FaceId"]); ok {
			snap.FaceID = &id
		}
		snap.FaceName = asString(item["Name"])
		if grp, ok := asInt(item["GrpId"]); ok {
			snap.GrpID = &grp
		}
		if sim, ok := asFloat(item["Similarity"]); ok {
			snap.Similarity = &sim
		}
		snap.CarBrand = asString(item["CarBrand"])
		snap.CarType = asString(item["CarType"])
		snap.CarColor = asString(item["CarColor"])
		snaps = append(snaps, snap)
	}
	return snaps
}

func parsePlateInfo(aiSnap map[string]any) []Snapshot {
	var snaps []Snapshot
	for _, raw := range asList(aiSnap["PlateInfo"]) {
		item := asMap(raw)
		if item == nil {
			continue
		}
		channel, chStr := snapChannel(item)
		// For registered plates (GrpId 1/2) Id carries the database plate
		// text; for stranger plates (GrpId 3) Id is empty and SnapId carries
		// the OCR read instead.
		plateNumber := asString(item["Id"])
		if plateNumber == "" {
			plateNumber = asString(item["SnapId"])
		}
		snap := Snapshot{
			Channel:     channel,
			ChannelStr:  chStr,
			AlarmType:   TypePlate,
			SnapID:      asString(item["SnapId"]),
			StartTime:   asString(item["StartTime"]),
			EndTime:     asString(item["EndTime"]),
			PlateNumber: plateNumber,
			CarBrand:    asString(item["CarBrand"]),
			CarType:     asString(item["CarType"]),
			CarColor:    asString(item["CarColor"]),
			// BgImg shows the vehicle in context; PlateImg is just the crop.
			Image: firstString(item, "BgImg", "PlateImg"),
		}
		if grp, ok := asInt(item["GrpId"]); ok {
			snap.GrpID = &grp
		}
		log.Printf("[DEBUG] normalize: plate snapshot channel=%d plate=%s", channel, plateNumber)
		snaps = append(snaps, snap)
	}
	return snaps
}

func parseFaceInfo(aiSnap map[string]any) []Snapshot {
	var snaps []Snapshot
	for _, raw := range asList(aiSnap["FaceInfo"]) {
		item := asMap(raw)
		if item == nil {
			continue
		}
		channel, chStr := snapChannel(item)
		snap := Snapshot{
			Channel:    channel,
			ChannelStr: chStr,
			AlarmType:  TypeFace,
			SnapID:     asString(item["SnapId"]),
			StartTime:  asString(item["StartTime"]),
			EndTime:    asString(item["EndTime"]),
			FaceName:   asString(item["Name"]),
			// Image2 is the captured face crop; Image4 the full frame.
			Image: firstString(item, "Image2", "Image4"),
		}
		if id, ok := asInt(item["Id"]); ok {
			snap.FaceID = &id
		}
		if grp, ok := asInt(item["GrpId"]); ok {
			snap.GrpID = &grp
		}
		if score, ok := asFloat(item["Score"]); ok {
			snap.Similarity = &score
		}
		snaps = append(snaps, snap)
	}
	return snaps
}

func firstString(item map[string]any, keys ...string) string {
	for _, key := range keys {
		if s := asString(item[key]); s != "" {
			return s
		}
	}
	return ""
}
