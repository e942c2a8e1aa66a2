package server

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/aristath/helmsman/internal/database"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// JobSchedule reports when a named background job fires next.
type JobSchedule interface {
	NextRun(name string) time.Time
}

// SystemHandlers serves the system health endpoint.
type SystemHandlers struct {
	databases   map[string]*database.DB
	dataDir     string
	schedule    JobSchedule
	startupTime time.Time
	log         zerolog.Logger
}

// DatabaseStatus reports one database's health and on-disk size.
type DatabaseStatus struct {
	Name      string  `json:"name"`
	Healthy   bool    `json:"healthy"`
	SizeBytes int64   `json:"size_bytes"`
	SizeMB    float64 `json:"size_mb"`
}

// NewSystemHandlers creates a new system handlers instance
func NewSystemHandlers(databases map[string]*database.DB, dataDir string, schedule JobSchedule, log zerolog.Logger) *SystemHandlers {
	return &SystemHandlers{
		databases:   databases,
		dataDir:     dataDir,
		schedule:    schedule,
		startupTime: time.Now(),
		log:         log.With().Str("component", "system_handlers").Logger(),
	}
}

// HandleHealth returns CPU, memory, uptime and database health.
func (h *SystemHandlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	cpuPct, memPct := h.systemStats()

	databases := make([]DatabaseStatus, 0, len(h.databases))
	healthy := true
	for name, db := range h.databases {
		status := DatabaseStatus{
			Name:    name,
			Healthy: db.Conn().Ping() == nil,
		}
		if info, err := os.Stat(filepath.Join(h.dataDir, name+".db")); err == nil {
			status.SizeBytes = info.Size()
			status.SizeMB = float64(info.Size()) / 1024 / 1024
		}
		if !status.Healthy {
			healthy = false
		}
		databases = append(databases, status)
	}

	response := map[string]interface{}{
		"status":         "ok",
		"uptime_seconds": int64(time.Since(h.startupTime).Seconds()),
		"cpu_percent":    cpuPct,
		"memory_percent": memPct,
		"databases":      databases,
	}
	if !healthy {
		response["status"] = "degraded"
	}
	if h.schedule != nil {
		if next := h.schedule.NextRun("planning"); !next.IsZero() {
			response["next_planning_run"] = next.Format(time.RFC3339)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode health response")
	}
}

// systemStats samples CPU over a short interval so the endpoint stays
// fast enough for dashboard polling.
func (h *SystemHandlers) systemStats() (float64, float64) {
	cpuPercent, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get CPU percentage")
		cpuPercent = []float64{0}
	}

	memStat, err := mem.VirtualMemory()
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get memory statistics")
		return 0, 0
	}

	cpuAvg := 0.0
	if len(cpuPercent) > 0 {
		cpuAvg = cpuPercent[0]
	}

	return cpuAvg, memStat.UsedPercent
}
