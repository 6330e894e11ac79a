// Package api exposes the bridge's HTTP surface: the EventPush webhook the
// device posts to, a JWT-protected command API, a websocket event stream and
// operational endpoints.
package api

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/technosupport/ts-nvrbridge/internal/archive"
	"github.com/technosupport/ts-nvrbridge/internal/history"
	"github.com/technosupport/ts-nvrbridge/internal/metrics"
	"github.com/technosupport/ts-nvrbridge/internal/poll"
	"github.com/technosupport/ts-nvrbridge/internal/push"
	"github.com/technosupport/ts-nvrbridge/internal/raysharp"
	"github.com/technosupport/ts-nvrbridge/internal/tracker"
)

// Server wires the HTTP handlers to the rest of the bridge.
type Server struct {
	client      *raysharp.Client
	coordinator *poll.Coordinator
	ingestor    *poll.Ingestor
	plates      *tracker.PlateTracker
	faces       *tracker.FaceTracker
	history     *history.Manager
	archive     *archive.Repo // nil when the archive is disabled
	pushCfg     *push.Configurator
	tokens      *TokenManager
	hub         *Hub

	webhookPath string
}

type ServerDeps struct {
	Client      *raysharp.Client
	Coordinator *poll.Coordinator
	Ingestor    *poll.Ingestor
	Plates      *tracker.PlateTracker
	Faces       *tracker.FaceTracker
	History     *history.Manager
	Archive     *archive.Repo
	PushCfg     *push.Configurator
	Tokens      *TokenManager
	Hub         *Hub
	WebhookPath string
}

func NewServer(deps ServerDeps) *Server {
	return &Server{
		client:      deps.Client,
		coordinator: deps.Coordinator,
		ingestor:    deps.Ingestor,
		plates:      deps.Plates,
		faces:       deps.Faces,
		history:     deps.History,
		archive:     deps.Archive,
		pushCfg:     deps.PushCfg,
		tokens:      deps.Tokens,
		hub:         deps.Hub,
		webhookPath: deps.WebhookPath,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(RequestLogger)

	// The device authenticates nothing and retries nothing: the webhook
	// accepts whatever arrives and always answers 200.
	r.Post(s.webhookPath, s.handleWebhook)

	r.Get("/healthz", s.handleHealthz)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/ws/events", s.hub.ServeWS)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.Protect)

		r.Get("/state", s.handleState)
		r.Get("/state/{key}", s.handleStateKey)

		r.Post("/ptz", s.handlePTZ)
		r.Post("/reboot", s.handleReboot)
		r.Post("/snapshot", s.handleSnapshot)
		r.Post("/alarm-output", s.handleAlarmOutput)
		r.Post("/push/configure", s.handlePushConfigure)
		r.Post("/config/disarm", s.handleDisarm)
		r.Post("/config/alarm-record", s.handleAlarmRecord)

		r.Post("/search/records", s.handleSearchRecords)
		r.Post("/search/plates", s.handleSearchPlates)
		r.Post("/search/faces", s.handleSearchFaces)
		r.Post("/plates/lookup", s.handlePlateLookup)

		r.Get("/trackers/plates", s.handlePlateEntries)
		r.Delete("/trackers/plates", s.handleClearPlates)
		r.Get("/trackers/faces", s.handleFaceEntries)
		r.Delete("/trackers/faces", s.handleClearFaces)

		r.Get("/history/{channel}/{type}", s.handleHistory)
		r.Get("/history/{channel}/{type}/{slot}/image", s.handleHistoryImage)

		r.Get("/events", s.handleArchivedEvents)
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[ERROR] api: encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// handleWebhook ingests an EventPush delivery. The device treats any
// non-200 as a dead target and may disable the push config, so even
// unparseable bodies are acknowledged.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 32<<20))
	if err != nil {
		metrics.WebhookRequests.WithLabelValues("read_error").Inc()
		w.WriteHeader(http.StatusOK)
		return
	}
	var payload any
	if err := json.Unmarshal(body, &payload); err != nil {
		log.Printf("[DEBUG] api: webhook delivered non-JSON body (%d bytes), ignoring", len(body))
		metrics.WebhookRequests.WithLabelValues("bad_json").Inc()
		w.WriteHeader(http.StatusOK)
		return
	}
	s.ingestor.IngestWebhook(payload)
	metrics.WebhookRequests.WithLabelValues("ok").Inc()
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":        "ok",
		"authenticated": s.client.Authenticated(),
	})
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.coordinator.Data())
}

func (s *Server) handleStateKey(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	data := s.coordinator.Get(key)
	if data == nil {
		writeError(w, http.StatusNotFound, "no data for "+key)
		return
	}
	writeJSON(w, http.StatusOK, data)
}

func (s *Server) handlePTZ(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Channel   int    `json:"channel"`
		Command   string `json:"command"`
		State     string `json:"state"`
		Speed     int    `json:"speed"`
		PresetNum *int   `json:"preset_num"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Channel < 1 || req.Command == "" {
		writeError(w, http.StatusBadRequest, "channel and command are required")
		return
	}
	err := s.client.PTZControl(r.Context(), raysharp.PTZRequest{
		Channel:   req.Channel,
		Command:   req.Command,
		State:     req.State,
		Speed:     req.Speed,
		PresetNum: req.PresetNum,
	})
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReboot(w http.ResponseWriter, r *http.Request) {
	if err := s.client.Reboot(r.Context()); err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "rebooting"})
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Channel    int    `json:"channel"`
		Resolution string `json:"resolution"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Channel < 1 {
		writeError(w, http.StatusBadRequest, "channel is required")
		return
	}
	snap, err := s.client.CaptureSnapshot(r.Context(), req.Channel, req.Resolution)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleAlarmOutput(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OutputID string `json:"output_id"`
		Active   bool   `json:"active"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.OutputID == "" {
		writeError(w, http.StatusBadRequest, "output_id is required")
		return
	}
	if err := s.client.TriggerAlarmOutput(r.Context(), req.OutputID, req.Active); err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handlePushConfigure(w http.ResponseWriter, r *http.Request) {
	if err := s.pushCfg.Configure(r.Context()); err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "configured"})
}

// handleDisarm toggles the device-wide disarm switch via the generic
// get/modify/set pattern the alarm-config endpoints share.
func (s *Server) handleDisarm(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Enable bool `json:"enable"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	current, err := s.client.GetConfig(r.Context(), raysharp.EndpointDisarming)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	if current == nil {
		current = map[string]any{}
	}
	current["disarming"] = req.Enable
	if err := s.client.SetConfig(r.Context(), raysharp.EndpointDisarmingSet, current); err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"disarming": req.Enable})
}

// Alarm types with a per-channel record_enable switch, mapped to their
// coordinator state key and Set endpoint.
var alarmRecordConfigs = map[string]struct {
	stateKey    string
	setEndpoint string
}{
	"motion": {"motion_alarm", raysharp.EndpointMotionAlarmSet},
	"fd":     {"fd_alarm", raysharp.EndpointAlarmFDSet},
	"lcd":    {"lcd_alarm", raysharp.EndpointAlarmLCDSet},
	"pid":    {"pid_alarm", raysharp.EndpointAlarmPIDSet},
	"sod":    {"sod_alarm", raysharp.EndpointAlarmSODSet},
}

// handleAlarmRecord toggles alarm recording for one channel of one detector.
// The Set endpoint takes the channel's current config merged with the new
// record_enable flag, nested under its CH-prefixed key.
func (s *Server) handleAlarmRecord(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Type    string `json:"type"`
		Channel int    `json:"channel"`
		Enable  bool   `json:"enable"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Channel < 1 {
		writeError(w, http.StatusBadRequest, "type and channel are required")
		return
	}
	cfg, ok := alarmRecordConfigs[req.Type]
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown alarm type "+req.Type)
		return
	}

	state := s.coordinator.Get(cfg.stateKey)
	if state == nil {
		writeError(w, http.StatusConflict, "no "+cfg.stateKey+" config fetched yet")
		return
	}
	channelInfo, _ := state["channel_info"].(map[string]any)
	chKey := fmt.Sprintf("CH%d", req.Channel)
	chData, _ := channelInfo[chKey].(map[string]any)
	if chData == nil {
		writeError(w, http.StatusNotFound, chKey+" has no "+req.Type+" alarm config")
		return
	}

	updated := make(map[string]any, len(chData)+1)
	for k, v := range chData {
		updated[k] = v
	}
	updated["record_enable"] = req.Enable

	payload := map[string]any{"channel_info": map[string]any{chKey: updated}}
	if err := s.client.SetConfig(r.Context(), cfg.setEndpoint, payload); err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"type": req.Type, "channel": req.Channel, "record_enable": req.Enable,
	})
}

func (s *Server) handleSearchRecords(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Channel    int    `json:"channel"`
		StartTime  string `json:"start_time"`
		EndTime    string `json:"end_time"`
		RecordType string `json:"record_type"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.StartTime == "" || req.EndTime == "" {
		writeError(w, http.StatusBadRequest, "start_time and end_time are required")
		return
	}
	result, err := s.client.SearchRecords(r.Context(), raysharp.RecordSearchRequest{
		Channel:    req.Channel,
		StartTime:  req.StartTime,
		EndTime:    req.EndTime,
		RecordType: req.RecordType,
	})
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleSearchPlates(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Channel       int      `json:"channel"`
		StartTime     string   `json:"start_time"`
		EndTime       string   `json:"end_time"`
		IncludeImages bool     `json:"include_images"`
		Plates        []string `json:"plates"`
		MaxResults    int      `json:"max_results"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.StartTime == "" || req.EndTime == "" {
		writeError(w, http.StatusBadRequest, "start_time and end_time are required")
		return
	}
	count, records, err := s.client.SearchPlates(r.Context(), raysharp.PlateSearchRequest{
		StartTime:     req.StartTime,
		EndTime:       req.EndTime,
		Channel:       req.Channel,
		IncludeImages: req.IncludeImages,
		Plates:        req.Plates,
		MaxResults:    req.MaxResults,
	})
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": count, "records": records})
}

func (s *Server) handleSearchFaces(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Channel       int    `json:"channel"`
		StartTime     string `json:"start_time"`
		EndTime       string `json:"end_time"`
		IncludeImages bool   `json:"include_images"`
		MatchedOnly   bool   `json:"matched_only"`
		MaxResults    int    `json:"max_results"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.StartTime == "" || req.EndTime == "" {
		writeError(w, http.StatusBadRequest, "start_time and end_time are required")
		return
	}
	count, records, err := s.client.SearchFaces(r.Context(), raysharp.FaceSearchRequest{
		StartTime:     req.StartTime,
		EndTime:       req.EndTime,
		Channel:       req.Channel,
		IncludeImages: req.IncludeImages,
		MatchedOnly:   req.MatchedOnly,
		MaxResults:    req.MaxResults,
	})
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": count, "records": records})
}

func (s *Server) handlePlateLookup(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Plates []string `json:"plates"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Plates) == 0 {
		writeError(w, http.StatusBadRequest, "plates is required")
		return
	}
	result, err := s.client.PlateDatabaseLookup(r.Context(), req.Plates)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handlePlateEntries(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.plates.Entries())
}

func (s *Server) handleClearPlates(w http.ResponseWriter, r *http.Request) {
	s.plates.Clear()
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

func (s *Server) handleFaceEntries(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.faces.Entries())
}

func (s *Server) handleClearFaces(w http.ResponseWriter, r *http.Request) {
	s.faces.Clear()
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	channel, err := strconv.Atoi(chi.URLParam(r, "channel"))
	if err != nil || channel < 1 {
		writeError(w, http.StatusBadRequest, "invalid channel")
		return
	}
	writeJSON(w, http.StatusOK, s.history.Entries(channel, chi.URLParam(r, "type")))
}

func (s *Server) handleHistoryImage(w http.ResponseWriter, r *http.Request) {
	channel, err := strconv.Atoi(chi.URLParam(r, "channel"))
	if err != nil || channel < 1 {
		writeError(w, http.StatusBadRequest, "invalid channel")
		return
	}
	slot, err := strconv.Atoi(chi.URLParam(r, "slot"))
	if err != nil || slot < 0 {
		writeError(w, http.StatusBadRequest, "invalid slot")
		return
	}
	img, err := s.history.FetchImage(r.Context(), channel, chi.URLParam(r, "type"), slot)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if img == "" {
		writeError(w, http.StatusNotFound, "image not available")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"image": img, "encoding": "base64"})
}

func (s *Server) handleArchivedEvents(w http.ResponseWriter, r *http.Request) {
	if s.archive == nil {
		writeError(w, http.StatusNotImplemented, "event archive is not configured")
		return
	}
	q := r.URL.Query()
	channel, _ := strconv.Atoi(q.Get("channel"))
	limit, _ := strconv.Atoi(q.Get("limit"))
	events, err := s.archive.ListEvents(r.Context(), channel, q.Get("type"), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, events)
}
