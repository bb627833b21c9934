package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/limiquantix/drsim/internal/cluster"
	"github.com/limiquantix/drsim/internal/domain"
	"github.com/limiquantix/drsim/internal/scheduler"
)

// HostHandler serves the current cluster configuration.
type HostHandler struct {
	cluster Cluster
	logger  *zap.Logger
}

// NewHostHandler creates a new host handler.
func NewHostHandler(cluster Cluster, logger *zap.Logger) *HostHandler {
	return &HostHandler{
		cluster: cluster,
		logger:  logger.Named("host-handler"),
	}
}

// RegisterRoutes registers host API routes.
func (h *HostHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/v1/hosts", h.handleHosts)
	mux.HandleFunc("/api/v1/hosts/", h.handleHostByName)
	mux.HandleFunc("/api/v1/cluster/summary", h.handleSummary)
}

// HostView is the API representation of a host.
type HostView struct {
	Name         string   `json:"name"`
	Power        string   `json:"power"`
	Hosting      bool     `json:"hosting"`
	Cores        int32    `json:"cores"`
	CoreRate     int32    `json:"core_rate"`
	CPUCapacity  float64  `json:"cpu_capacity"`
	CPUDemand    float64  `json:"cpu_demand"`
	MemoryMiB    int64    `json:"memory_mib"`
	MemoryDemand int64    `json:"memory_demand"`
	Usage        float64  `json:"usage"`
	Overloaded   bool     `json:"overloaded"`
	VMs          []VMView `json:"vms"`

	Counters cluster.HostCounters `json:"counters"`
}

// VMView is the API representation of a VM.
type VMView struct {
	Name      string  `json:"name"`
	State     string  `json:"state"`
	Cores     int32   `json:"cores"`
	CPUDemand float64 `json:"cpu_demand"`
	Load      float64 `json:"load"`
	MemoryMiB int64   `json:"memory_mib"`
}

func (h *HostHandler) toHostView(host *domain.Host) HostView {
	v := HostView{
		Name:         host.Name,
		Power:        string(host.Power),
		Hosting:      host.Hosting,
		Cores:        host.Cores,
		CoreRate:     host.CoreRate,
		CPUCapacity:  host.CPUCapacity(),
		CPUDemand:    host.CPUDemand(),
		MemoryMiB:    host.MemoryMiB,
		MemoryDemand: host.MemDemand(),
		Usage:        scheduler.HostUsage(host),
		Overloaded:   host.CPUDemand() > host.CPUCapacity() || host.MemDemand() > host.MemoryMiB,
		VMs:          make([]VMView, 0, len(host.VMs)),
	}
	v.Counters, _ = h.cluster.HostCounters(host.Name)
	for _, vm := range host.VMs {
		v.VMs = append(v.VMs, VMView{
			Name:      vm.Name,
			State:     string(vm.State),
			Cores:     vm.Cores,
			CPUDemand: vm.CPUDemand,
			Load:      vm.Load(),
			MemoryMiB: vm.MemoryMiB,
		})
	}
	return v
}

// handleHosts handles GET /api/v1/hosts
func (h *HostHandler) handleHosts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	hosts := h.cluster.Hosts()
	views := make([]HostView, 0, len(hosts))
	for _, host := range hosts {
		views = append(views, h.toHostView(host))
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"hosts": views,
		"total": len(views),
	})
}

// handleHostByName handles GET /api/v1/hosts/{name}
func (h *HostHandler) handleHostByName(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	name := strings.TrimPrefix(r.URL.Path, "/api/v1/hosts/")
	if name == "" {
		h.writeError(w, "host name required", http.StatusBadRequest)
		return
	}

	host, err := h.cluster.Host(name)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			h.writeError(w, "host not found", http.StatusNotFound)
			return
		}
		h.writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, h.toHostView(host))
}

// handleSummary handles GET /api/v1/cluster/summary
func (h *HostHandler) handleSummary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	h.writeJSON(w, http.StatusOK, h.cluster.Summary())
}

// writeJSON writes a JSON response.
func (h *HostHandler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("Failed to encode JSON response", zap.Error(err))
	}
}

// writeError writes an error response.
func (h *HostHandler) writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
