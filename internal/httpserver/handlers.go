package httpserver

import (
	"encoding/json"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/mux"

	"github.com/fleetforge/fleetd/internal/types"
)

// respondJSON writes v as the JSON response body, matching the teacher's
// handlers.go idiom.
func respondJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// respondError writes a structured error body with a matching status code.
func respondError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Error-Type", "validation")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// handleHealth implements §4.8 GET /health: status, counts, enabled
// categories, storage availability.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	agents, agentsErr := s.store.ListAgents(types.AgentCreated, types.AgentActive)
	tasks, tasksErr := s.store.ListTasks([]types.TaskStatus{types.TaskPending, types.TaskInProgress}, 1000)

	storageOK := agentsErr == nil && tasksErr == nil

	health := map[string]interface{}{
		"status":                  statusString(storageOK),
		"timestamp":               time.Now().UTC().Format(time.RFC3339),
		"uptime_seconds":          int(time.Since(s.startTime).Seconds()),
		"version":                 "1.0.0",
		"pid":                     os.Getpid(),
		"port":                    s.port,
		"storage_ok":              storageOK,
		"enabled_tool_categories": s.tools.EnabledCategories(),
		"counts": map[string]interface{}{
			"agents":        len(agents),
			"pending_tasks": len(tasks),
			"live_sessions": s.sessions.Count(),
		},
	}
	respondJSON(w, health)
}

func statusString(ok bool) string {
	if ok {
		return "ok"
	}
	return "degraded"
}

// handleStats implements §4.8 GET /stats: deeper entity counts plus uptime.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	allAgents, err := s.store.ListAgents()
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	allTasks, err := s.store.ListTasks(nil, 10000)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	persistedSessions, err := s.store.ListSessions()
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	activeAlerts, err := s.store.ActiveAlerts()
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	byAgentStatus := map[string]int{}
	for _, a := range allAgents {
		byAgentStatus[string(a.Status)]++
	}
	byTaskStatus := map[string]int{}
	for _, t := range allTasks {
		byTaskStatus[string(t.Status)]++
	}

	stats := map[string]interface{}{
		"uptime_seconds":     int(time.Since(s.startTime).Seconds()),
		"agents_total":       len(allAgents),
		"agents_by_status":   byAgentStatus,
		"tasks_total":        len(allTasks),
		"tasks_by_status":    byTaskStatus,
		"sessions_live":      s.sessions.Count(),
		"sessions_persisted": len(persistedSessions),
		"active_alerts":      activeAlerts,
	}
	respondJSON(w, stats)
}

// handleListSessions implements §4.8 GET /sessions: enumerated active and
// persisted sessions.
func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	recs, err := s.store.ListSessions()
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]map[string]interface{}, 0, len(recs))
	for _, rec := range recs {
		_, live := s.sessions.Get(rec.MCPSessionID)
		out = append(out, map[string]interface{}{
			"session_id":         rec.MCPSessionID,
			"status":             rec.Status,
			"created_at":         rec.CreatedAt,
			"last_heartbeat":     rec.LastHeartbeat,
			"recovery_attempts":  rec.RecoveryAttempts,
			"live_in_memory":     live,
			"working_directory": rec.WorkingDirectory,
		})
	}
	respondJSON(w, map[string]interface{}{"sessions": out})
}

// handleRecoverSession implements §4.8 POST /sessions/{id}/recover: force
// recovery for testing.
func (s *Server) handleRecoverSession(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["id"]
	if _, err := s.sessions.Recover(r.Context(), sessionID); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	respondJSON(w, map[string]string{"session_id": sessionID, "status": "recovered"})
}

// handleGetConfig implements §4.8 GET /config.
func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]interface{}{"enabled_categories": s.tools.EnabledCategories()})
}

type updateConfigRequest struct {
	Categories []types.ToolCategory `json:"categories"`
}

// handleUpdateConfig implements §4.8 POST /config: applies Registry changes
// immediately; basic=true is enforced by Registry.UpdateConfiguration itself.
func (s *Server) handleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	limitRequestSize(w, r, MaxPayloadSize)
	var req updateConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid config body: "+err.Error())
		return
	}
	applied := s.tools.UpdateConfiguration(req.Categories)
	respondJSON(w, map[string]interface{}{
		"registered":   applied.Registered,
		"deregistered": applied.Deregistered,
		"new_config":   applied.NewConfig,
	})
}
