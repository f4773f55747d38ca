package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/fieldbus-core/internal/alert"
	"github.com/nerrad567/fieldbus-core/internal/audit"
	"github.com/nerrad567/fieldbus-core/internal/device"
)

// handleListDevices returns every device with its health and last snapshot.
//
// Query parameters:
//   - health: filter by health status (online, offline, unknown)
//   - model: filter by device model
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	health, model := q.Get("health"), q.Get("model")

	all := s.devices.Statuses()
	out := make([]device.Status, 0, len(all))
	for _, st := range all {
		if health != "" && string(st.Health) != health {
			continue
		}
		if model != "" && st.Device.Model != model {
			continue
		}
		out = append(out, st)
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": out, "count": len(out)})
}

// handleGetDevice returns one device's status.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	for _, st := range s.devices.Statuses() {
		if st.Device.ID == id {
			writeJSON(w, http.StatusOK, st)
			return
		}
	}
	writeNotFound(w, "device not found")
}

// handleListAlerts returns the alert state of every (device, rule) pair.
//
// Query parameters:
//   - device: filter by device id
//   - state: filter by state (NORMAL, TRIGGERED, ACTIVE, RESOLVED)
func (s *Server) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	deviceID, state := q.Get("device"), q.Get("state")

	all := s.alerts.States()
	out := make([]alert.Record, 0, len(all))
	for _, rec := range all {
		if deviceID != "" && rec.DeviceID != deviceID {
			continue
		}
		if state != "" && string(rec.State) != state {
			continue
		}
		out = append(out, rec)
	}
	writeJSON(w, http.StatusOK, map[string]any{"alerts": out, "count": len(out)})
}

// handleListLocks returns every live control lock.
func (s *Server) handleListLocks(w http.ResponseWriter, _ *http.Request) {
	locks := s.control.Locks(s.now())
	writeJSON(w, http.StatusOK, map[string]any{"locks": locks, "count": len(locks)})
}

// handleListDecisions returns the most recent control decisions.
func (s *Server) handleListDecisions(w http.ResponseWriter, _ *http.Request) {
	decisions := s.control.Decisions()
	writeJSON(w, http.StatusOK, map[string]any{"decisions": decisions, "count": len(decisions)})
}

// handleListAudit returns paginated audit log entries with optional filters.
//
// Query parameters:
//   - action: alert_transition or control_write
//   - entity_type: filter by entity type
//   - device: filter by device id
//   - since: RFC 3339 lower bound
//   - limit: max results (default 50, max 200)
//   - offset: pagination offset
func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	if s.auditRepo == nil {
		writeServiceUnavailable(w, "audit trail not configured")
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{
		Action:     q.Get("action"),
		EntityType: q.Get("entity_type"),
		EntityID:   q.Get("device"),
	}

	if v := q.Get("since"); v != "" {
		since, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeBadRequest(w, "since must be an RFC 3339 timestamp")
			return
		}
		filter.Since = since
	}
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Limit = n
		}
	}
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Offset = n
		}
	}

	result, err := s.auditRepo.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to list audit logs", "error", err)
		writeInternalError(w, "failed to list audit logs")
		return
	}

	writeJSON(w, http.StatusOK, result)
}
