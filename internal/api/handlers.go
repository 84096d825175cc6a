package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/nerrad567/atagone-core/internal/atagone"
	"github.com/nerrad567/atagone-core/internal/bridge"
)

// DeviceResponse is returned by GET /api/v1/device.
type DeviceResponse struct {
	DeviceID   string                `json:"device_id,omitempty"`
	Endpoint   string                `json:"endpoint,omitempty"`
	Configured bool                  `json:"configured"`
	LastReport *time.Time            `json:"last_report,omitempty"`
	Discovery  atagone.ListenerStats `json:"discovery"`
}

// ReportResponse is returned by GET /api/v1/report.
type ReportResponse struct {
	DeviceID  string                 `json:"device_id"`
	FetchedAt time.Time              `json:"fetched_at"`
	Heating   bool                   `json:"heating"`
	Reply     *atagone.RetrieveReply `json:"retrieve_reply"`
}

// TargetTemperatureRequest is the body of PUT /api/v1/target-temperature.
type TargetTemperatureRequest struct {
	Value *float64 `json:"value"`
}

// ControlRequest is the body of PUT /api/v1/control.
type ControlRequest struct {
	Control atagone.Control `json:"control"`
}

// SystemResponse is returned by GET /api/v1/system.
type SystemResponse struct {
	Timestamp     string         `json:"timestamp"`
	Version       string         `json:"version"`
	UptimeSeconds int64          `json:"uptime_seconds"`
	Runtime       RuntimeMetrics `json:"runtime"`
	WebSocket     WSMetrics      `json:"websocket"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// WSMetrics contains WebSocket hub statistics.
type WSMetrics struct {
	ConnectedClients int `json:"connected_clients"`
}

// handleHealth returns 200 when healthy, 503 when the bridge reports degraded.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	if s.health == nil {
		status := "ok"
		if s.device.Endpoint().IsZero() {
			status = string(bridge.HealthDegraded)
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"status":   status,
			"version":  s.version,
			"endpoint": s.device.Endpoint().String(),
		})
		return
	}

	h := s.health.Health()
	code := http.StatusOK
	if h.Status != bridge.HealthHealthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, h)
}

func (s *Server) handleSystem(w http.ResponseWriter, _ *http.Request) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	writeJSON(w, http.StatusOK, SystemResponse{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(mem.Alloc) / 1024 / 1024,
			NumGC:         mem.NumGC,
		},
		WebSocket: WSMetrics{ConnectedClients: s.hub.ClientCount()},
	})
}

// handleGetDevice answers from local state only; it never contacts the controller.
func (s *Server) handleGetDevice(w http.ResponseWriter, _ *http.Request) {
	ep := s.device.Endpoint()
	resp := DeviceResponse{
		Endpoint:   ep.String(),
		Configured: !ep.IsZero(),
		Discovery:  s.device.DiscoveryStats(),
	}
	if reply, at, ok := s.device.CachedReport(); ok {
		if id, ok := reply.DeviceID(); ok {
			resp.DeviceID = id
		}
		at = at.UTC()
		resp.LastReport = &at
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetReport(w http.ResponseWriter, r *http.Request) {
	reply, err := s.device.GetReport(r.Context())
	if err != nil {
		writeDeviceError(w, err)
		return
	}
	deviceID, err := s.device.GetDeviceID(r.Context())
	if err != nil {
		deviceID = atagone.UnknownDeviceID
	}

	resp := ReportResponse{
		DeviceID:  deviceID,
		FetchedAt: time.Now().UTC(),
		Reply:     reply,
	}
	if _, at, ok := s.device.CachedReport(); ok {
		resp.FetchedAt = at.UTC()
	}
	if reply.Report != nil {
		resp.Heating = reply.Report.Heating()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRefresh(w http.ResponseWriter, _ *http.Request) {
	if s.refresher == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeNotConfigured, "poller not running")
		return
	}
	s.refresher.Trigger()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "refresh requested"})
}

func (s *Server) handleUpdateControl(w http.ResponseWriter, r *http.Request) {
	var req ControlRequest
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	if len(req.Control) == 0 {
		writeValidationError(w, "control must be a non-empty object")
		return
	}
	s.applyControl(w, r, req.Control)
}

func (s *Server) handleSetTargetTemperature(w http.ResponseWriter, r *http.Request) {
	var req TargetTemperatureRequest
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	if req.Value == nil {
		writeValidationError(w, "value is required")
		return
	}
	v := *req.Value
	if v < s.thermostat.MinTarget || v > s.thermostat.MaxTarget {
		writeValidationError(w, fmt.Sprintf("value %.1f outside %.1f..%.1f",
			v, s.thermostat.MinTarget, s.thermostat.MaxTarget))
		return
	}
	s.applyControl(w, r, atagone.TargetTemperatureControl(v))
}

func (s *Server) applyControl(w http.ResponseWriter, r *http.Request, control atagone.Control) {
	if err := s.device.UpdateControl(r.Context(), control); err != nil {
		s.logger.Warn("control update failed", "error", err, "request_id", requestIDFrom(r.Context()))
		writeDeviceError(w, err)
		return
	}
	if s.refresher != nil {
		s.refresher.Trigger()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "accepted",
		"control": control,
	})
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return fmt.Errorf("request body exceeds %d bytes", maxErr.Limit)
		}
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}
