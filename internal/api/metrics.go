package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/nerrad567/meterpoll/internal/fieldbus"
)

// SystemMetrics represents the complete system metrics response.
type SystemMetrics struct {
	Timestamp     string           `json:"timestamp"`
	Version       string           `json:"version"`
	UptimeSeconds int64            `json:"uptime_seconds"`
	Runtime       RuntimeMetrics   `json:"runtime"`
	WebSocket     WSMetrics        `json:"websocket"`
	MQTT          *BackendMetrics  `json:"mqtt,omitempty"`
	InfluxDB      *BackendMetrics  `json:"influxdb,omitempty"`
	Poller        PollerMetrics    `json:"poller"`
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

// BackendMetrics reports an optional backend's connection state.
type BackendMetrics struct {
	Connected bool `json:"connected"`
}

// PollerMetrics summarises the scheduler state.
type PollerMetrics struct {
	Cycle     int    `json:"cycle"`
	Mode      string `json:"mode"`
	Paused    bool   `json:"paused"`
	Source    string `json:"source"`
	Utilities int    `json:"utilities"`
	Visible   int    `json:"visible"`
	Registers int    `json:"registers"`
	OK        int    `json:"ok"`
	Errors    int    `json:"errors"`
	Rejected  int    `json:"rejected_rows"`
}

// DatabaseMetrics contains database connection pool statistics.
type DatabaseMetrics struct {
	OpenConnections int   `json:"open_connections"`
	InUse           int   `json:"in_use"`
	Idle            int   `json:"idle"`
	WaitCount       int64 `json:"wait_count"`
}

// handleMetrics returns comprehensive system metrics.
func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	snap := s.poller.Snapshot()
	pm := PollerMetrics{
		Cycle:     snap.Cycle,
		Mode:      string(snap.Mode),
		Paused:    snap.Paused,
		Source:    snap.Source,
		Utilities: len(snap.Utilities),
		Visible:   len(snap.Visible),
		Registers: len(snap.Registers),
		Rejected:  len(snap.Rejected.Utilities) + len(snap.Rejected.Registers),
	}
	for _, res := range snap.Latest {
		switch res.Status {
		case fieldbus.StatusOK:
			pm.OK++
		case fieldbus.StatusError:
			pm.Errors++
		}
	}

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
		Poller: pm,
	}

	if s.mqtt != nil {
		metrics.MQTT = &BackendMetrics{Connected: s.mqtt.IsConnected()}
	}
	if s.influx != nil {
		metrics.InfluxDB = &BackendMetrics{Connected: s.influx.IsConnected()}
	}

	if s.db != nil {
		dbStats := s.db.Stats()
		metrics.Database = &DatabaseMetrics{
			OpenConnections: dbStats.OpenConnections,
			InUse:           dbStats.InUse,
			Idle:            dbStats.Idle,
			WaitCount:       dbStats.WaitCount,
		}
	}

	writeJSON(w, http.StatusOK, metrics)
}
