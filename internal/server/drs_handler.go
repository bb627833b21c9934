package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/limiquantix/drsim/internal/domain"
	"github.com/limiquantix/drsim/internal/drs"
)

// DRSHandler serves the control loop status, pass history and manual trigger.
type DRSHandler struct {
	engine  Engine
	cluster Cluster
	logger  *zap.Logger

	leaders     LeaderDirectory
	electionKey string
	protect     func(http.Handler) http.Handler
}

// NewDRSHandler creates a new DRS handler.
func NewDRSHandler(engine Engine, cluster Cluster, logger *zap.Logger) *DRSHandler {
	return &DRSHandler{
		engine:  engine,
		cluster: cluster,
		logger:  logger.Named("drs-handler"),
		protect: func(next http.Handler) http.Handler { return next },
	}
}

// WithLeaderDirectory makes the status report who holds electionKey.
func (h *DRSHandler) WithLeaderDirectory(leaders LeaderDirectory, electionKey string) {
	h.leaders = leaders
	h.electionKey = electionKey
}

// WithAuth guards the manual trigger with protect.
func (h *DRSHandler) WithAuth(protect func(http.Handler) http.Handler) {
	h.protect = protect
}

// RegisterRoutes registers DRS API routes.
func (h *DRSHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/v1/drs/status", h.handleStatus)
	mux.Handle("/api/v1/drs/run", h.protect(http.HandlerFunc(h.handleRun)))
	mux.HandleFunc("/api/v1/drs/passes", h.handlePasses)
	mux.HandleFunc("/api/v1/drs/passes/", h.handlePassByID)
}

// StatusResponse describes the control loop.
type StatusResponse struct {
	Running        bool                    `json:"running"`
	Leader         bool                    `json:"leader"`
	LoopID         string                  `json:"loop_id,omitempty"`
	LeaderIdentity string                  `json:"leader_identity,omitempty"`
	InjectionEnded bool                    `json:"injection_ended"`
	LastAnalysis   *time.Time              `json:"last_analysis,omitempty"`
	Stats          drs.Stats               `json:"stats"`
	LastResult     *domain.SchedulerResult `json:"last_result,omitempty"`
}

// handleStatus handles GET /api/v1/drs/status
func (h *DRSHandler) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	resp := StatusResponse{
		Running:        h.engine.IsRunning(),
		Leader:         h.engine.IsLeader(),
		LoopID:         h.engine.LoopID(),
		InjectionEnded: h.cluster.InjectionEnded(),
		Stats:          h.engine.Stats(),
		LastResult:     h.engine.LastResult(),
	}
	if last := h.engine.GetLastAnalysisTime(); !last.IsZero() {
		resp.LastAnalysis = &last
	}
	if h.leaders != nil {
		identity, err := h.leaders.CurrentLeader(r.Context(), h.electionKey)
		if err != nil {
			h.logger.Debug("Failed to resolve current leader", zap.Error(err))
		}
		resp.LeaderIdentity = identity
	}

	h.writeJSON(w, http.StatusOK, resp)
}

// handleRun handles POST /api/v1/drs/run
func (h *DRSHandler) handleRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !h.engine.IsLeader() {
		h.writeError(w, "not the leader", http.StatusConflict)
		return
	}

	result, err := h.engine.RunOnce(r.Context())
	if err != nil {
		h.logger.Error("Manual DRS pass failed", zap.Error(err))
		if errors.Is(err, domain.ErrStuckExecution) {
			h.writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
				"error":  err.Error(),
				"result": result,
			})
			return
		}
		h.writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, result)
}

// handlePasses handles GET /api/v1/drs/passes?limit=N&state=S
func (h *DRSHandler) handlePasses(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	filter := drs.PassFilter{
		State: domain.SchedulerState(strings.ToUpper(r.URL.Query().Get("state"))),
		Limit: 100,
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			h.writeError(w, "invalid limit", http.StatusBadRequest)
			return
		}
		filter.Limit = limit
	}

	passes, err := h.engine.ListPasses(r.Context(), filter)
	if err != nil {
		h.logger.Error("Failed to list passes", zap.Error(err))
		h.writeError(w, "failed to list passes", http.StatusInternalServerError)
		return
	}
	if passes == nil {
		passes = []*domain.SchedulerResult{}
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"passes": passes,
		"total":  len(passes),
	})
}

// handlePassByID handles GET /api/v1/drs/passes/{id}
func (h *DRSHandler) handlePassByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/api/v1/drs/passes/")
	if id == "" || strings.Contains(id, "/") {
		h.writeError(w, "pass ID required", http.StatusBadRequest)
		return
	}

	pass, err := h.engine.GetPass(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			h.writeError(w, "pass not found", http.StatusNotFound)
			return
		}
		h.logger.Error("Failed to get pass", zap.String("pass_id", id), zap.Error(err))
		h.writeError(w, "failed to get pass", http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, pass)
}

// writeJSON writes a JSON response.
func (h *DRSHandler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("Failed to encode JSON response", zap.Error(err))
	}
}

// writeError writes an error response.
func (h *DRSHandler) writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
