// ABOUTME: Operator HTTP API for devices, jobs and live sessions
// ABOUTME: JSON endpoints behind operator bearer auth, consumed by fleetctl

package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/2389/fleetd/internal/api"
	"github.com/2389/fleetd/internal/auth"
	"github.com/2389/fleetd/internal/dispatch"
	"github.com/2389/fleetd/internal/store"
)

const (
	defaultJobListLimit = 50
	maxJobListLimit     = 500
	maxRequestBodyBytes = 1 << 20
)

// registerAPIRoutes mounts the operator API on mux.
func (g *Gateway) registerAPIRoutes(mux *http.ServeMux) {
	protect := auth.OperatorMiddleware(g.issuer)
	handle := func(pattern string, h http.HandlerFunc) {
		mux.Handle(pattern, protect(h))
	}

	handle("GET /api/devices", g.handleListDevices)
	handle("GET /api/devices/{id}", g.handleGetDevice)
	handle("POST /api/devices/{id}/approve", g.handleApproveDevice)
	handle("POST /api/devices/{id}/status", g.handleSetDeviceStatus)
	handle("POST /api/devices/{id}/secret", g.handleRotateSecret)
	handle("GET /api/devices/{id}/jobs", g.handleListDeviceJobs)
	handle("POST /api/jobs", g.handleDispatchJob)
	handle("GET /api/jobs/{id}", g.handleGetJob)
	handle("GET /api/sessions", g.handleListSessions)
}

func (g *Gateway) handleListDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := g.store.ListDevices(r.Context())
	if err != nil {
		g.logger.Error("listing devices", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "failed to list devices")
		return
	}

	sessions := g.tracker.Snapshot()
	out := make([]api.Device, 0, len(devices))
	for _, d := range devices {
		out = append(out, api.DeviceFromStore(d, sessions[d.ID]))
	}
	g.sendJSON(w, http.StatusOK, out)
}

func (g *Gateway) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	dev, ok := g.loadDevice(w, r)
	if !ok {
		return
	}
	g.sendJSON(w, http.StatusOK, g.deviceView(dev))
}

func (g *Gateway) handleApproveDevice(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := g.store.ApproveDevice(r.Context(), id); err != nil {
		g.sendStoreError(w, err, "failed to approve device")
		return
	}
	g.logger.Info("device approved", "device_id", id, "operator", operatorName(r))

	dev, ok := g.loadDevice(w, r)
	if !ok {
		return
	}
	g.sendJSON(w, http.StatusOK, g.deviceView(dev))
}

func (g *Gateway) handleSetDeviceStatus(w http.ResponseWriter, r *http.Request) {
	var req api.StatusRequest
	if err := decodeBody(w, r, &req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	st := store.DeviceStatus(strings.ToLower(strings.TrimSpace(req.Status)))
	if !st.Valid() {
		g.sendJSONError(w, http.StatusBadRequest, "status must be one of pending, active, maintenance, blocked")
		return
	}

	id := r.PathValue("id")
	if err := g.store.SetDeviceStatus(r.Context(), id, st); err != nil {
		g.sendStoreError(w, err, "failed to set device status")
		return
	}
	g.logger.Info("device status changed", "device_id", id, "status", st, "operator", operatorName(r))

	dev, ok := g.loadDevice(w, r)
	if !ok {
		return
	}
	g.sendJSON(w, http.StatusOK, g.deviceView(dev))
}

// handleRotateSecret issues a new device secret. Only its hash is stored,
// so the response is the one chance to read it.
func (g *Gateway) handleRotateSecret(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	secret, hash, err := auth.GenerateSecret()
	if err != nil {
		g.logger.Error("generating device secret", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "failed to generate secret")
		return
	}
	if err := g.store.SetDeviceSecretHash(r.Context(), id, hash); err != nil {
		g.sendStoreError(w, err, "failed to store secret")
		return
	}
	g.logger.Info("device secret rotated", "device_id", id, "operator", operatorName(r))
	g.sendJSON(w, http.StatusOK, api.SecretResponse{DeviceID: id, Secret: secret})
}

func (g *Gateway) handleListDeviceJobs(w http.ResponseWriter, r *http.Request) {
	limit := defaultJobListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			g.sendJSONError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxJobListLimit)
	}

	dev, ok := g.loadDevice(w, r)
	if !ok {
		return
	}
	jobs, err := g.store.ListJobsByDevice(r.Context(), dev.ID, limit)
	if err != nil {
		g.logger.Error("listing jobs", "device_id", dev.ID, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}

	out := make([]api.Job, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, api.JobFromStore(j, nil))
	}
	g.sendJSON(w, http.StatusOK, out)
}

func (g *Gateway) handleDispatchJob(w http.ResponseWriter, r *http.Request) {
	var req api.DispatchRequest
	if err := decodeBody(w, r, &req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.DeviceID == "" {
		g.sendJSONError(w, http.StatusBadRequest, "device_id is required")
		return
	}

	res, err := g.dispatcher.Dispatch(r.Context(), dispatch.Request{
		DeviceID:  req.DeviceID,
		Command:   req.Command,
		Arguments: req.Arguments,
		Script:    req.Script,
	})
	switch {
	case err == nil:
	case errors.Is(err, dispatch.ErrEmptyCommand):
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, dispatch.ErrDeviceNotFound):
		g.sendJSONError(w, http.StatusNotFound, err.Error())
		return
	case errors.Is(err, dispatch.ErrDeviceNotApproved):
		g.sendJSONError(w, http.StatusConflict, err.Error())
		return
	case errors.Is(err, dispatch.ErrDeviceBlocked):
		g.sendJSONError(w, http.StatusForbidden, err.Error())
		return
	default:
		g.logger.Error("dispatching job", "device_id", req.DeviceID, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "failed to dispatch job")
		return
	}

	g.sendJSON(w, http.StatusCreated, api.DispatchResponse{
		Job:      api.JobFromStore(res.Job, nil),
		Delivery: string(res.Delivery),
	})
}

func (g *Gateway) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	job, err := g.store.GetJob(r.Context(), id)
	if err != nil {
		g.sendStoreError(w, err, "failed to load job")
		return
	}
	history, err := g.store.ListJobTransitions(r.Context(), id)
	if err != nil {
		g.logger.Error("listing job transitions", "job_id", id, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "failed to load job history")
		return
	}
	g.sendJSON(w, http.StatusOK, api.JobFromStore(job, history))
}

func (g *Gateway) handleListSessions(w http.ResponseWriter, r *http.Request) {
	snapshot := g.tracker.Snapshot()
	out := make([]api.Session, 0, len(snapshot))
	for deviceID, sessionID := range snapshot {
		out = append(out, api.Session{DeviceID: deviceID, SessionID: sessionID})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeviceID < out[j].DeviceID })
	g.sendJSON(w, http.StatusOK, out)
}

// loadDevice fetches the {id} device, writing the error response on failure.
func (g *Gateway) loadDevice(w http.ResponseWriter, r *http.Request) (*store.Device, bool) {
	dev, err := g.store.GetDevice(r.Context(), r.PathValue("id"))
	if err != nil {
		g.sendStoreError(w, err, "failed to load device")
		return nil, false
	}
	return dev, true
}

func (g *Gateway) deviceView(dev *store.Device) api.Device {
	var sessionID string
	if sess, ok := g.tracker.Lookup(dev.ID); ok {
		sessionID = sess.ID
	}
	return api.DeviceFromStore(dev, sessionID)
}

func operatorName(r *http.Request) string {
	if a := auth.FromContext(r.Context()); a != nil {
		return a.PrincipalID
	}
	return ""
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func (g *Gateway) sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.logger.Debug("writing response", "error", err)
	}
}

// sendStoreError maps store.ErrNotFound to 404 and anything else to 500.
func (g *Gateway) sendStoreError(w http.ResponseWriter, err error, msg string) {
	if errors.Is(err, store.ErrNotFound) {
		g.sendJSONError(w, http.StatusNotFound, "not found")
		return
	}
	g.logger.Error(msg, "error", err)
	g.sendJSONError(w, http.StatusInternalServerError, msg)
}

// sendJSONError sends a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(api.Error{Error: message})
}
