package server

import (
	"net/http"
	"runtime"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/aristath/rebalancer/internal/database"
	"github.com/aristath/rebalancer/internal/scheduler"
	"github.com/aristath/rebalancer/internal/utils"
)

// SystemStatusResponse is returned by GET /api/system/status
type SystemStatusResponse struct {
	Status             string  `json:"status"`
	Uptime             string  `json:"uptime"`
	UptimeSeconds      int64   `json:"uptimeSeconds"`
	CPUPercent         float64 `json:"cpuPercent"`
	MemoryPercent      float64 `json:"memoryPercent"`
	HeapAllocMB        float64 `json:"heapAllocMb"`
	Goroutines         int     `json:"goroutines"`
	ExchangeConfigured bool    `json:"exchangeConfigured"`
	SchedulerRunning   bool    `json:"schedulerRunning"`
	ActiveTasks        int     `json:"activeTasks"`
	LockedPortfolios   int     `json:"lockedPortfolios"`
	LastChecked        string  `json:"lastChecked"`
}

// DatabaseStatsResponse is returned by GET /api/system/database/stats
type DatabaseStatsResponse struct {
	Databases   []DatabaseStatus `json:"databases"`
	TotalSizeMB float64          `json:"totalSizeMb"`
	LastChecked string           `json:"lastChecked"`
}

// DatabaseStatus describes one database file
type DatabaseStatus struct {
	*database.Stats
	Healthy bool   `json:"healthy"`
	Error   string `json:"error,omitempty"`
}

// SystemHandlers serves process and database status
type SystemHandlers struct {
	scheduler          *scheduler.Scheduler
	databases          []*database.DB
	exchangeConfigured bool
	started            time.Time
	log                zerolog.Logger

	sampleCPU func() float64
}

// NewSystemHandlers creates the system handlers. sched may be nil.
func NewSystemHandlers(
	sched *scheduler.Scheduler,
	databases []*database.DB,
	exchangeConfigured bool,
	started time.Time,
	log zerolog.Logger,
) *SystemHandlers {
	h := &SystemHandlers{
		scheduler:          sched,
		databases:          databases,
		exchangeConfigured: exchangeConfigured,
		started:            started,
		log:                log.With().Str("handler", "system").Logger(),
	}
	h.sampleCPU = h.cpuPercent
	return h
}

// HandleSystemStatus handles GET /api/system/status
func (h *SystemHandlers) HandleSystemStatus(w http.ResponseWriter, r *http.Request) {
	h.log.Debug().Msg("Getting system status")

	uptime := time.Since(h.started)
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	response := SystemStatusResponse{
		Status:             "healthy",
		Uptime:             uptime.Truncate(time.Second).String(),
		UptimeSeconds:      int64(uptime.Seconds()),
		CPUPercent:         h.sampleCPU(),
		MemoryPercent:      h.memoryPercent(),
		HeapAllocMB:        float64(ms.HeapAlloc) / 1024 / 1024,
		Goroutines:         runtime.NumGoroutine(),
		ExchangeConfigured: h.exchangeConfigured,
		LastChecked:        time.Now().Format(time.RFC3339),
	}

	if h.scheduler != nil {
		status := h.scheduler.Status()
		response.SchedulerRunning = status.IsRunning
		response.ActiveTasks = status.ActiveTaskCount
		for _, t := range status.Tasks {
			if t.Locked {
				response.LockedPortfolios++
			}
		}
	}

	for _, db := range h.databases {
		if err := db.HealthCheck(r.Context()); err != nil {
			h.log.Warn().Err(err).Str("database", db.Name()).Msg("Database health check failed")
			response.Status = "degraded"
		}
	}

	utils.WriteData(w, http.StatusOK, response, h.log)
}

// HandleDatabaseStats handles GET /api/system/database/stats
func (h *SystemHandlers) HandleDatabaseStats(w http.ResponseWriter, r *http.Request) {
	h.log.Debug().Msg("Getting database stats")

	response := DatabaseStatsResponse{
		Databases:   make([]DatabaseStatus, 0, len(h.databases)),
		LastChecked: time.Now().Format(time.RFC3339),
	}

	for _, db := range h.databases {
		entry := DatabaseStatus{Stats: &database.Stats{Name: db.Name()}, Healthy: true}
		if stats, err := db.GetStats(); err != nil {
			entry.Healthy = false
			entry.Error = err.Error()
		} else {
			entry.Stats = stats
			response.TotalSizeMB += float64(stats.SizeBytes+stats.WALSizeBytes) / 1024 / 1024
		}
		if err := db.HealthCheck(r.Context()); err != nil {
			entry.Healthy = false
			entry.Error = err.Error()
		}
		response.Databases = append(response.Databases, entry)
	}

	utils.WriteData(w, http.StatusOK, response, h.log)
}

// cpuPercent samples CPU usage over 100ms so the call stays fast
func (h *SystemHandlers) cpuPercent() float64 {
	percent, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil || len(percent) == 0 {
		h.log.Warn().Err(err).Msg("Failed to get CPU percentage")
		return 0
	}
	return percent[0]
}

func (h *SystemHandlers) memoryPercent() float64 {
	memStat, err := mem.VirtualMemory()
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get memory statistics")
		return 0
	}
	return memStat.UsedPercent
}

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	utils.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "healthy",
		"service": "rebalancer",
		"uptime":  time.Since(s.started).Truncate(time.Second).String(),
	}, s.log)
}
