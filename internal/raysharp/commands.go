package raysharp

import (
	"context"
	"fmt"
	"log"
)

// ExtractAny unwraps the response envelope without asserting the payload
// shape (some endpoints return a list under "data").
func ExtractAny(resp map[string]any) any {
	if resp == nil {
		return nil
	}
	if data, ok := resp["data"]; ok {
		return data
	}
	return resp
}

// PTZ command states
const (
	PTZStateStart = "start"
	PTZStateStop  = "stop"
)

type PTZRequest struct {
	Channel   int
	Command   string
	State     string
	Speed     int
	PresetNum *int
}

// PTZControl drives pan/tilt/zoom on one channel. The device addresses
// channels by their prefixed string form here ("CH5"), not the index.
func (c *Client) PTZControl(ctx context.Context, req PTZRequest) error {
	if req.State == "" {
		req.State = PTZStateStart
	}
	if req.Speed == 0 {
		req.Speed = 50
	}
	payload := map[string]any{
		"channel": fmt.Sprintf("CH%d", req.Channel),
		"cmd":     req.Command,
		"state":   req.State,
		"speed":   req.Speed,
	}
	if req.PresetNum != nil {
		payload["preset_num"] = *req.PresetNum
	}
	_, err := c.Call(ctx, EndpointPTZControl, payload)
	return err
}

// Reboot asks the device to restart. The session dies with it; the next call
// re-authenticates once the device is back.
func (c *Client) Reboot(ctx context.Context) error {
	_, err := c.Call(ctx, EndpointReboot, map[string]any{})
	return err
}

// TriggerAlarmOutput switches one of the device's alarm output relays.
func (c *Client) TriggerAlarmOutput(ctx context.Context, outputID string, active bool) error {
	_, err := c.Call(ctx, EndpointManualAlarmSet, map[string]any{outputID: active})
	return err
}

type SnapshotResult struct {
	Format   string `json:"img_format"`
	Encoding string `json:"img_encodes"`
	Time     string `json:"ima_time"`
	Data     string `json:"ima_data"`
}

// CaptureSnapshot grabs a still image from a channel. The image comes back
// transport-encoded (base64) and is not decoded here.
func (c *Client) CaptureSnapshot(ctx context.Context, channel int, resolution string) (*SnapshotResult, error) {
	if resolution == "" {
		resolution = "1280 x 720"
	}
	resp, err := c.Call(ctx, EndpointSnapshot, map[string]any{
		"channel":               fmt.Sprintf("CH%d", channel),
		"snapshot_resolution":   resolution,
		"reset_session_timeout": false,
	})
	if err != nil {
		return nil, err
	}
	data := ExtractData(resp)
	out := &SnapshotResult{Format: "image/jpeg", Encoding: "base64"}
	if v, ok := data["img_format"].(string); ok && v != "" {
		out.Format = v
	}
	if v, ok := data["img_encodes"].(string); ok && v != "" {
		out.Encoding = v
	}
	if v, ok := data["ima_time"].(string); ok {
		out.Time = v
	}
	if v, ok := data["ima_data"].(string); ok {
		out.Data = v
	}
	return out, nil
}

type RecordSearchRequest struct {
	Channel    int
	StartTime  string
	EndTime    string
	RecordType string
}

// SearchRecords queries the playback index over a time range.
func (c *Client) SearchRecords(ctx context.Context, req RecordSearchRequest) (map[string]any, error) {
	if req.RecordType == "" {
		req.RecordType = "all"
	}
	payload := map[string]any{
		"start_time":  req.StartTime,
		"end_time":    req.EndTime,
		"record_type": req.RecordType,
	}
	if req.Channel > 0 {
		payload["channel"] = fmt.Sprintf("CH%d", req.Channel)
	}
	resp, err := c.Call(ctx, EndpointRecordSearch, payload)
	if err != nil {
		return nil, err
	}
	return ExtractData(resp), nil
}

const searchPageSize = 50

type PlateSearchRequest struct {
	StartTime     string
	EndTime       string
	Channel       int // 0 = all channels
	IncludeImages bool
	Plates        []string
	MaxResults    int
}

// SearchPlates runs the device's two-step plate search: SearchPlate returns a
// total count, then GetByIndex pages through records 50 at a time. The search
// endpoints use 0-based channel indices (CH16 -> Chn 15); an all-channel
// search sends an empty Chn list.
func (c *Client) SearchPlates(ctx context.Context, req PlateSearchRequest) (int, []map[string]any, error) {
	if req.MaxResults <= 0 {
		req.MaxResults = 100
	}
	searchPayload := map[string]any{
		"MsgId":     nil,
		"StartTime": req.StartTime,
		"EndTime":   req.EndTime,
		"Chn":       chnList(req.Channel),
		"SortType":  1,
		"Engine":    0,
	}
	if len(req.Plates) > 0 {
		searchPayload["PlatesId"] = req.Plates
	}

	resp, err := c.Call(ctx, EndpointAIPlatesSearch, searchPayload)
	if err != nil {
		return 0, nil, err
	}
	count := intField(ExtractData(resp), "Count")
	log.Printf("[DEBUG] raysharp: plate search found %d records", count)
	if count == 0 {
		return 0, nil, nil
	}

	fetchCount := count
	if fetchCount > req.MaxResults {
		fetchCount = req.MaxResults
	}
	var records []map[string]any
	for startIdx := 0; startIdx < fetchCount; startIdx += searchPageSize {
		batch := searchPageSize
		if fetchCount-startIdx < batch {
			batch = fetchCount - startIdx
		}
		getResp, err := c.Call(ctx, EndpointAIObjectsGetByIndex, map[string]any{
			"MsgId":           nil,
			"Engine":          0,
			"StartIndex":      startIdx,
			"Count":           batch,
			"SimpleInfo":      0,
			"WithObjectImage": boolFlag(req.IncludeImages),
			"WithBackgroud":   0,
		})
		if err != nil {
			return count, records, err
		}
		records = append(records, listField(ExtractData(getResp), "SnapedObjInfo")...)
	}
	return count, records, nil
}

type FaceSearchRequest struct {
	StartTime     string
	EndTime       string
	Channel       int
	IncludeImages bool
	MatchedOnly   bool
	MaxResults    int
}

// SearchFaces mirrors SearchPlates for the face snapshot index.
func (c *Client) SearchFaces(ctx context.Context, req FaceSearchRequest) (int, []map[string]any, error) {
	if req.MaxResults <= 0 {
		req.MaxResults = 100
	}
	resp, err := c.Call(ctx, EndpointAIFacesSearch, map[string]any{
		"MsgId":      nil,
		"StartTime":  req.StartTime,
		"EndTime":    req.EndTime,
		"Chn":        chnList(req.Channel),
		"Similarity": -1,
		"Engine":     0,
		"Count":      0,
		"FaceInfo":   []any{},
	})
	if err != nil {
		return 0, nil, err
	}
	count := intField(ExtractData(resp), "Count")
	log.Printf("[DEBUG] raysharp: face search found %d records", count)
	if count == 0 {
		return 0, nil, nil
	}

	fetchCount := count
	if fetchCount > req.MaxResults {
		fetchCount = req.MaxResults
	}
	var records []map[string]any
	for startIdx := 0; startIdx < fetchCount; startIdx += searchPageSize {
		batch := searchPageSize
		if fetchCount-startIdx < batch {
			batch = fetchCount - startIdx
		}
		getResp, err := c.Call(ctx, EndpointAIFacesGetByIndex, map[string]any{
			"Engine":        0,
			"MatchedFaces":  boolFlag(req.MatchedOnly),
			"StartIndex":    startIdx,
			"Count":         batch,
			"SimpleInfo":    0,
			"WithFaceImage": boolFlag(req.IncludeImages),
			"WithBodyImage": 0,
			"WithBackgroud": 0,
			"WithFeature":   0,
		})
		if err != nil {
			return count, records, err
		}
		records = append(records, listField(ExtractData(getResp), "SnapedFaceInfo")...)
	}
	return count, records, nil
}

// PlateDatabaseLookup resolves plate numbers against the device's registered
// plate database (owner, group membership, vehicle attributes).
func (c *Client) PlateDatabaseLookup(ctx context.Context, plates []string) (map[string]any, error) {
	resp, err := c.Call(ctx, EndpointAIAddedPlatesGet, map[string]any{"PlatesId": plates})
	if err != nil {
		return nil, err
	}
	return ExtractData(resp), nil
}

// FaceGroups fetches the device's face group roster (allow/block lists). The
// list key varies across firmware.
func (c *Client) FaceGroups(ctx context.Context) ([]map[string]any, error) {
	resp, err := c.Call(ctx, EndpointAIFDGroups, map[string]any{})
	if err != nil {
		return nil, err
	}
	data := ExtractData(resp)
	for _, key := range []string{"group_info", "groups", "items"} {
		if groups := listField(data, key); groups != nil {
			return groups, nil
		}
	}
	return nil, nil
}

// PushTable is the EventPush target the device POSTs events to.
type PushTable struct {
	Name              string
	Addr              string
	Port              int
	URL               string
	Enable            bool
	Method            string
	AuthEnable        bool
	KeepAliveInterval string
	PushWay           string
}

// EventPushConfig reads the current push configuration.
func (c *Client) EventPushConfig(ctx context.Context) (map[string]any, error) {
	resp, err := c.Call(ctx, EndpointEventPushConfig, nil)
	if err != nil {
		return nil, err
	}
	return ExtractData(resp), nil
}

// SetEventPushConfig writes a push target. The Set endpoint takes the same
// nested params.table structure Get returns; "method" (not "push_method")
// matches what the device itself reports.
func (c *Client) SetEventPushConfig(ctx context.Context, t PushTable) error {
	if t.Method == "" {
		t.Method = "POST"
	}
	if t.PushWay == "" {
		t.PushWay = "HTTP"
	}
	if t.KeepAliveInterval == "" {
		t.KeepAliveInterval = "0"
	}
	payload := map[string]any{
		"params": map[string]any{
			"name": t.Name,
			"table": map[string]any{
				"addr":                t.Addr,
				"port":                t.Port,
				"url":                 t.URL,
				"enable":              t.Enable,
				"method":              t.Method,
				"auth_enable":         t.AuthEnable,
				"keep_alive_interval": t.KeepAliveInterval,
				"push_way":            t.PushWay,
			},
		},
	}
	_, err := c.Call(ctx, EndpointEventPushSet, payload)
	return err
}

// GetConfig / SetConfig are the generic get/modify/set primitives for the
// alarm-config endpoint pairs (disarm toggle, per-channel recording toggles).
func (c *Client) GetConfig(ctx context.Context, endpoint string) (map[string]any, error) {
	resp, err := c.Call(ctx, endpoint, nil)
	if err != nil {
		return nil, err
	}
	return ExtractData(resp), nil
}

func (c *Client) SetConfig(ctx context.Context, endpoint string, data map[string]any) error {
	_, err := c.Call(ctx, endpoint, data)
	return err
}

func chnList(channel int) []int {
	if channel > 0 {
		return []int{channel - 1}
	}
	return []int{}
}

func boolFlag(b bool) int {
	if b {
		return 1
	}
	return 0
}

func intField(m map[string]any, key string) int {
	switch v := m[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return 0
}

func listField(m map[string]any, key string) []map[string]any {
	raw, ok := m[key].([]any)
	if !ok {
		return nil
	}
	out := make([]map[string]any, 0, len(raw))
	for _, item := range raw {
		if rec, ok := item.(map[string]any); ok {
			out = append(out, rec)
		}
	}
	return out
}
