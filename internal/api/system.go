package api

import (
	"net/http"
	"runtime"
	"time"
)

// SystemInfo is the /api/v1/system response.
type SystemInfo struct {
	Timestamp     string           `json:"timestamp"`
	Version       string           `json:"version"`
	UptimeSeconds int64            `json:"uptime_seconds"`
	Runtime       RuntimeMetrics   `json:"runtime"`
	WebSocket     WSMetrics        `json:"websocket"`
	Devices       DeviceMetrics    `json:"devices"`
	Database      *DatabaseMetrics `json:"database,omitempty"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// WSMetrics contains WebSocket hub statistics.
type WSMetrics struct {
	ConnectedClients int    `json:"connected_clients"`
	DroppedFrames    uint64 `json:"dropped_frames"`
}

// DeviceMetrics contains device registry statistics.
type DeviceMetrics struct {
	Total    int            `json:"total"`
	ByHealth map[string]int `json:"by_health"`
	ByModel  map[string]int `json:"by_model"`
}

// DatabaseMetrics contains database connection pool statistics.
type DatabaseMetrics struct {
	OpenConnections int   `json:"open_connections"`
	InUse           int   `json:"in_use"`
	Idle            int   `json:"idle"`
	WaitCount       int64 `json:"wait_count"`
}

// handleSystem returns process, hub, registry and pool statistics.
func (s *Server) handleSystem(w http.ResponseWriter, _ *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	now := s.now()
	info := SystemInfo{
		Timestamp:     now.UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(now.Sub(s.startTime).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / 1024 / 1024,
			MemoryTotalMB: float64(memStats.TotalAlloc) / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
		WebSocket: WSMetrics{
			ConnectedClients: s.hub.ClientCount(),
			DroppedFrames:    s.hub.DroppedFrames(),
		},
	}

	regStats := s.devices.GetStats()
	info.Devices = DeviceMetrics{
		Total:    regStats.TotalDevices,
		ByHealth: make(map[string]int, len(regStats.ByHealthStatus)),
		ByModel:  regStats.ByModel,
	}
	for health, count := range regStats.ByHealthStatus {
		info.Devices.ByHealth[string(health)] = count
	}

	if s.db != nil {
		dbStats := s.db.Stats()
		info.Database = &DatabaseMetrics{
			OpenConnections: dbStats.OpenConnections,
			InUse:           dbStats.InUse,
			Idle:            dbStats.Idle,
			WaitCount:       dbStats.WaitCount,
		}
	}

	writeJSON(w, http.StatusOK, info)
}
