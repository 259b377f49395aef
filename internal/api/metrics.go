package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/nerrad567/gray-logic-dct/internal/bridges/dct"
)

// SystemMetrics is the response of GET /api/v1/system. Prometheus
// collectors are served separately on /metrics.
type SystemMetrics struct {
	Timestamp     string           `json:"timestamp"`
	Version       string           `json:"version"`
	UptimeSeconds int64            `json:"uptime_seconds"`
	Runtime       RuntimeMetrics   `json:"runtime"`
	WebSocket     WSMetrics        `json:"websocket"`
	Device        DeviceMetrics    `json:"device"`
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
	ConnectedClients int `json:"connected_clients"`
}

// DeviceMetrics summarises the recorder session.
type DeviceMetrics struct {
	Connection  dct.ConnectionState `json:"connection"`
	QueueLength int                 `json:"queue_length"`
	BufferCount int                 `json:"buffer_count"`
	Recording   bool                `json:"recording"`
	Playing     bool                `json:"playing"`
	Ramping     bool                `json:"ramping"`
}

// DatabaseMetrics contains database connection pool statistics.
type DatabaseMetrics struct {
	OpenConnections int    `json:"open_connections"`
	InUse           int    `json:"in_use"`
	Idle            int    `json:"idle"`
	WaitCount       int64  `json:"wait_count"`
	SchemaVersion   string `json:"schema_version,omitempty"`
	PendingSchema   int    `json:"pending_migrations"`
}

// handleSystem returns process and session statistics.
func (s *Server) handleSystem(w http.ResponseWriter, r *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	st := s.device.Snapshot()
	metrics := SystemMetrics{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / 1024 / 1024,
			MemoryTotalMB: float64(memStats.TotalAlloc) / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
		WebSocket: WSMetrics{
			ConnectedClients: s.hub.ClientCount(),
		},
		Device: DeviceMetrics{
			Connection:  st.Connection,
			QueueLength: s.device.QueueLength(),
			BufferCount: st.BufferCount,
			Recording:   st.CurrentlyRecording,
			Playing:     st.CurrentlyPlaying,
			Ramping:     st.Ramping,
		},
	}

	if s.db != nil {
		dbStats := s.db.Stats()
		metrics.Database = &DatabaseMetrics{
			OpenConnections: dbStats.OpenConnections,
			InUse:           dbStats.InUse,
			Idle:            dbStats.Idle,
			WaitCount:       dbStats.WaitCount,
		}
		if st, err := s.db.GetMigrationStatus(r.Context()); err == nil {
			metrics.Database.SchemaVersion = st.Current()
			metrics.Database.PendingSchema = len(st.Pending)
		}
	}

	writeJSON(w, http.StatusOK, metrics)
}
