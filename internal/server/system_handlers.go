package server

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/aristath/frontier/internal/database"
)

// SystemHandlers serves process and database status
type SystemHandlers struct {
	log       zerolog.Logger
	historyDB *database.DB
	version   string
	startedAt time.Time
}

// NewSystemHandlers creates system handlers. historyDB may be nil when the
// service runs without a price store.
func NewSystemHandlers(log zerolog.Logger, historyDB *database.DB, version string) *SystemHandlers {
	return &SystemHandlers{
		log:       log.With().Str("component", "system_handlers").Logger(),
		historyDB: historyDB,
		version:   version,
		startedAt: time.Now(),
	}
}

// RegisterRoutes registers system routes
func (h *SystemHandlers) RegisterRoutes(r chi.Router) {
	r.Route("/system", func(r chi.Router) {
		r.Get("/status", h.HandleSystemStatus)
		r.Get("/database", h.HandleDatabaseStats)
	})
}

// DatabaseStatus describes the price history store
type DatabaseStatus struct {
	Name      string          `json:"name"`
	Driver    string          `json:"driver"`
	Path      string          `json:"path"`
	Healthy   bool            `json:"healthy"`
	Error     string          `json:"error,omitempty"`
	Stats     *database.Stats `json:"stats,omitempty"`
	CheckedAt string          `json:"checked_at"`
}

// SystemStatusResponse is returned by GET /api/system/status
type SystemStatusResponse struct {
	Status        string          `json:"status"` // "healthy" or "degraded"
	Version       string          `json:"version"`
	UptimeSeconds float64         `json:"uptime_seconds"`
	Goroutines    int             `json:"goroutines"`
	CPUPercent    float64         `json:"cpu_percent"`
	RAMPercent    float64         `json:"ram_percent"`
	Database      *DatabaseStatus `json:"database,omitempty"`
}

// HandleSystemStatus handles GET /api/system/status
func (h *SystemHandlers) HandleSystemStatus(w http.ResponseWriter, r *http.Request) {
	h.log.Debug().Msg("Getting system status")

	cpuPercent, ramPercent := h.getSystemStats()
	response := SystemStatusResponse{
		Status:        "healthy",
		Version:       h.version,
		UptimeSeconds: time.Since(h.startedAt).Seconds(),
		Goroutines:    runtime.NumGoroutine(),
		CPUPercent:    cpuPercent,
		RAMPercent:    ramPercent,
	}

	if h.historyDB != nil {
		response.Database = h.databaseStatus(r.Context(), h.historyDB.QuickCheck)
		if !response.Database.Healthy {
			response.Status = "degraded"
		}
	} else {
		response.Status = "degraded"
	}

	writeJSON(w, h.log, http.StatusOK, response)
}

// HandleDatabaseStats handles GET /api/system/database. Unlike the status
// endpoint it runs a full integrity check.
func (h *SystemHandlers) HandleDatabaseStats(w http.ResponseWriter, r *http.Request) {
	if h.historyDB == nil {
		writeJSON(w, h.log, http.StatusServiceUnavailable, map[string]string{
			"error": "price history database not configured",
		})
		return
	}

	status := h.databaseStatus(r.Context(), h.historyDB.HealthCheck)
	code := http.StatusOK
	if !status.Healthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, h.log, code, status)
}

func (h *SystemHandlers) databaseStatus(ctx context.Context, check func(context.Context) error) *DatabaseStatus {
	status := &DatabaseStatus{
		Name:      h.historyDB.Name(),
		Driver:    string(h.historyDB.Driver()),
		Path:      h.historyDB.Path(),
		Healthy:   true,
		CheckedAt: time.Now().Format(time.RFC3339),
	}

	if err := check(ctx); err != nil {
		h.log.Warn().Err(err).Str("database", status.Name).Msg("Database check failed")
		status.Healthy = false
		status.Error = err.Error()
		return status
	}

	stats, err := h.historyDB.GetStats(ctx)
	if err != nil {
		h.log.Warn().Err(err).Str("database", status.Name).Msg("Failed to get database stats")
		return status
	}
	status.Stats = stats
	return status
}

// getSystemStats returns CPU and RAM usage percentages. CPU is sampled over
// 100ms to keep the endpoint responsive.
func (h *SystemHandlers) getSystemStats() (float64, float64) {
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
