package api

import (
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/card-capture/ccd/internal/auth"
	"github.com/card-capture/ccd/internal/config"
	"github.com/card-capture/ccd/internal/fields"
)

// Router builds the /api/v1 route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		WriteError(w, http.StatusNotFound, "NOT_FOUND", "Resource not found", nil)
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		WriteError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	})

	apiV1 := r.PathPrefix("/api/v1").Subrouter()

	// Health endpoint (no auth required)
	apiV1.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	read := s.protect(auth.ScopeRead)
	operate := s.protect(auth.ScopeOperate)
	events := s.protect(auth.ScopeEvents)

	apiV1.HandleFunc("/capabilities", read(s.handleCapabilities)).Methods(http.MethodGet)

	apiV1.HandleFunc("/workflow", read(s.handleWorkflowStatus)).Methods(http.MethodGet)
	apiV1.HandleFunc("/workflow/confirm", operate(s.handleWorkflowAction("confirm"))).Methods(http.MethodPost)
	apiV1.HandleFunc("/workflow/cancel", operate(s.handleWorkflowAction("cancel"))).Methods(http.MethodPost)
	apiV1.HandleFunc("/workflow/retry", operate(s.handleWorkflowAction("retry"))).Methods(http.MethodPost)
	apiV1.HandleFunc("/workflow/ack", operate(s.handleWorkflowAction("ack"))).Methods(http.MethodPost)

	apiV1.HandleFunc("/cards/manual", operate(s.handleManualCard)).Methods(http.MethodPost)
	apiV1.HandleFunc("/cards/ingest", operate(s.handleIngestCard)).Methods(http.MethodPost)
	apiV1.HandleFunc("/cards/keys", operate(s.handleForwardedKeys)).Methods(http.MethodPost)

	apiV1.HandleFunc("/fields", read(s.handleListFields)).Methods(http.MethodGet)
	apiV1.HandleFunc("/fields", operate(s.handleAddField)).Methods(http.MethodPost)
	apiV1.HandleFunc("/fields/refresh", operate(s.handleRefreshFields)).Methods(http.MethodPost)
	apiV1.HandleFunc("/fields/{id}", read(s.handleGetField)).Methods(http.MethodGet)
	apiV1.HandleFunc("/fields/{id}", operate(s.handleUpdateField)).Methods(http.MethodPut)
	apiV1.HandleFunc("/fields/{id}", operate(s.handleRemoveField)).Methods(http.MethodDelete)

	apiV1.HandleFunc("/config", read(s.handleGetConfig)).Methods(http.MethodGet)
	apiV1.HandleFunc("/config/version", operate(s.handleSelectVersion)).Methods(http.MethodPut)

	apiV1.HandleFunc("/events", events(s.handleEvents)).Methods(http.MethodGet)

	return r
}

// protect wraps a handler with authentication and a scope check. Without
// auth middleware the handler is returned unwrapped.
func (s *Server) protect(scope string) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		if s.authMiddleware == nil {
			return next
		}
		return s.authMiddleware.RequireAuth(s.authMiddleware.RequireScope(scope)(next))
	}
}

// decodeStrict parses a JSON request body, rejecting unknown fields and
// trailing data.
func decodeStrict(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return io.ErrUnexpectedEOF
	}
	return nil
}

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	uptime := 0.0
	if !s.startTime.IsZero() {
		uptime = time.Since(s.startTime).Seconds()
	}

	subsystems := map[string]bool{
		"workflow":  s.workflow != nil,
		"capture":   s.captureMgr != nil,
		"fields":    s.fieldRegistry != nil,
		"telemetry": s.telemetryHub != nil,
	}

	status := "ok"
	for _, up := range subsystems {
		if !up {
			status = "degraded"
		}
	}

	health := map[string]interface{}{
		"status":     status,
		"uptimeSec":  uptime,
		"version":    "1.0.0",
		"subsystems": subsystems,
	}

	if status == "ok" {
		WriteSuccess(w, health)
		return
	}
	WriteError(w, http.StatusServiceUnavailable, "SERVICE_DEGRADED",
		"One or more subsystems are unavailable", health)
}

// handleCapabilities handles GET /capabilities
func (s *Server) handleCapabilities(w http.ResponseWriter, r *http.Request) {
	cfg := s.configStore.Current()

	versions := make([]map[string]interface{}, 0, len(cfg.Service.Versions))
	for id := range cfg.Service.Versions {
		versions = append(versions, map[string]interface{}{
			"id":       id,
			"selected": id == cfg.Service.SelectedVersion,
		})
	}

	WriteSuccess(w, map[string]interface{}{
		"versions":       versions,
		"captureSources": s.captureMgr.SourceNames(),
		"events":         []string{"sse"},
		"submitMode":     cfg.Submit.Mode,
		"verification":   cfg.Service.EnableVerification,
	})
}

// handleWorkflowStatus handles GET /workflow
func (s *Server) handleWorkflowStatus(w http.ResponseWriter, r *http.Request) {
	WriteSuccess(w, s.workflow.Status())
}

// handleWorkflowAction handles POST /workflow/{confirm,cancel,retry,ack}
func (s *Server) handleWorkflowAction(action string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var err error
		switch action {
		case "confirm":
			err = s.workflow.Confirm(r.Context())
		case "cancel":
			err = s.workflow.Cancel(r.Context())
		case "retry":
			err = s.workflow.Retry(r.Context())
		case "ack":
			err = s.workflow.Ack(r.Context())
		}
		if err != nil {
			WriteError(w, http.StatusConflict, "INVALID_STATE", err.Error(), nil)
			return
		}
		WriteSuccess(w, map[string]string{"action": action})
	}
}

// handleManualCard handles POST /cards/manual
func (s *Server) handleManualCard(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text string `json:"text"`
	}
	if err := decodeStrict(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "BAD_REQUEST", "Malformed JSON or unknown fields", nil)
		return
	}

	id, err := s.captureMgr.SubmitManual(req.Text)
	if err != nil {
		WriteError(w, http.StatusBadRequest, "INVALID_CARD", err.Error(), nil)
		return
	}
	WriteSuccess(w, id)
}

// handleIngestCard handles POST /cards/ingest. It is the network boundary
// for reader payloads that do not arrive over the serial feed.
func (s *Server) handleIngestCard(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Source  string `json:"source"`
		Payload string `json:"payload"`
	}
	if err := decodeStrict(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "BAD_REQUEST", "Malformed JSON or unknown fields", nil)
		return
	}

	payload, err := base64.StdEncoding.DecodeString(req.Payload)
	if err != nil {
		WriteError(w, http.StatusBadRequest, "BAD_REQUEST", "Payload must be base64", nil)
		return
	}

	source := req.Source
	if source == "" {
		source = "api"
	}

	id, ok := s.captureMgr.IngestRaw(source, payload)
	if !ok {
		WriteError(w, http.StatusUnprocessableEntity, "UNDECODABLE",
			"No card number found in payload", nil)
		return
	}
	WriteSuccess(w, id)
}

// handleForwardedKeys handles POST /cards/keys. Platform key-hook shims
// forward wedge reader keystrokes here in batches.
func (s *Server) handleForwardedKeys(w http.ResponseWriter, r *http.Request) {
	if s.keyHandler == nil {
		WriteError(w, http.StatusServiceUnavailable, "UNAVAILABLE",
			"Keystroke capture not enabled", nil)
		return
	}

	var req struct {
		Device string `json:"device"`
		Keys   []int  `json:"keys"`
	}
	if err := decodeStrict(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "BAD_REQUEST", "Malformed JSON or unknown fields", nil)
		return
	}

	for _, vk := range req.Keys {
		s.keyHandler.HandleKey(req.Device, vk)
	}
	WriteSuccess(w, map[string]int{"handled": len(req.Keys)})
}

// handleListFields handles GET /fields
func (s *Server) handleListFields(w http.ResponseWriter, r *http.Request) {
	WriteSuccess(w, s.fieldRegistry.List())
}

// handleGetField handles GET /fields/{id}
func (s *Server) handleGetField(w http.ResponseWriter, r *http.Request) {
	field, err := s.fieldRegistry.Get(mux.Vars(r)["id"])
	if err != nil {
		WriteError(w, http.StatusNotFound, "NOT_FOUND", err.Error(), nil)
		return
	}
	WriteSuccess(w, field)
}

// handleUpdateField handles PUT /fields/{id}
func (s *Server) handleUpdateField(w http.ResponseWriter, r *http.Request) {
	var update fields.Update
	if err := decodeStrict(r, &update); err != nil {
		WriteError(w, http.StatusBadRequest, "BAD_REQUEST", "Malformed JSON or unknown fields", nil)
		return
	}

	field, err := s.fieldRegistry.Apply(mux.Vars(r)["id"], update)
	if err != nil {
		writeFieldError(w, err)
		return
	}
	WriteSuccess(w, field)
}

// handleAddField handles POST /fields
func (s *Server) handleAddField(w http.ResponseWriter, r *http.Request) {
	var seed config.FieldSeed
	if err := decodeStrict(r, &seed); err != nil {
		WriteError(w, http.StatusBadRequest, "BAD_REQUEST", "Malformed JSON or unknown fields", nil)
		return
	}
	// Operators cannot mint builtin fields over the API.
	seed.Builtin = false

	field, err := s.fieldRegistry.Add(seed)
	if err != nil {
		writeFieldError(w, err)
		return
	}
	WriteSuccess(w, field)
}

// handleRemoveField handles DELETE /fields/{id}
func (s *Server) handleRemoveField(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.fieldRegistry.Remove(id); err != nil {
		writeFieldError(w, err)
		return
	}
	WriteSuccess(w, map[string]string{"removed": id})
}

// handleRefreshFields handles POST /fields/refresh
func (s *Server) handleRefreshFields(w http.ResponseWriter, r *http.Request) {
	refreshed, err := s.fieldRegistry.Refresh(r.Context(), s.recognizer)
	if err != nil {
		WriteError(w, http.StatusServiceUnavailable, "UNAVAILABLE", err.Error(), nil)
		return
	}

	var missing []string
	for _, f := range s.fieldRegistry.List() {
		if f.Enabled && !f.Builtin && f.Value == "" {
			missing = append(missing, f.ParamName)
		}
	}

	WriteSuccess(w, map[string]interface{}{
		"refreshed": refreshed,
		"missing":   missing,
	})
}

// handleGetConfig handles GET /config. Auth material is never echoed back.
func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	cfg := s.configStore.Current()
	WriteSuccess(w, map[string]interface{}{
		"addr":    cfg.Addr,
		"service": cfg.Service,
		"submit":  cfg.Submit,
		"capture": cfg.Capture,
	})
}

// handleSelectVersion handles PUT /config/version
func (s *Server) handleSelectVersion(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Version string `json:"version"`
	}
	if err := decodeStrict(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "BAD_REQUEST", "Malformed JSON or unknown fields", nil)
		return
	}

	if err := s.configStore.SelectVersion(req.Version); err != nil {
		WriteError(w, http.StatusNotFound, "NOT_FOUND", err.Error(), nil)
		return
	}
	WriteSuccess(w, map[string]string{"selectedVersion": req.Version})
}

// handleEvents handles GET /events (SSE)
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.telemetryHub == nil {
		WriteError(w, http.StatusServiceUnavailable, "UNAVAILABLE",
			"Event stream not available", nil)
		return
	}

	if err := s.telemetryHub.Subscribe(r.Context(), w, r); err != nil {
		WriteError(w, http.StatusInternalServerError, "INTERNAL",
			"Failed to subscribe to event stream", nil)
	}
}

// writeFieldError maps field registry errors onto the envelope.
func writeFieldError(w http.ResponseWriter, err error) {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "not found"):
		WriteError(w, http.StatusNotFound, "NOT_FOUND", msg, nil)
	case strings.Contains(msg, "builtin"):
		WriteError(w, http.StatusConflict, "BUILTIN_FIELD", msg, nil)
	default:
		WriteError(w, http.StatusBadRequest, "BAD_REQUEST", msg, nil)
	}
}
