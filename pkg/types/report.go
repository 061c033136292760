package types

import "time"

type LatencyMetrics struct {
	MinMs float64 `json:"min_ms"`
	MaxMs float64 `json:"max_ms"`
	AvgMs float64 `json:"avg_ms"`
	P50Ms float64 `json:"p50_ms"`
	P95Ms float64 `json:"p95_ms"`
	P99Ms float64 `json:"p99_ms"`
	Count int     `json:"count"`
}

// Snapshot is a point-in-time copy of the pool counters.
type Snapshot struct {
	RunID       string    `json:"run_id"`
	Target      string    `json:"target"`
	Attempted   uint64    `json:"attempted"`
	Established uint64    `json:"established"`
	Failed      uint64    `json:"failed"`
	Reclaimed   uint64    `json:"reclaimed"`
	Total       uint64    `json:"total"`
	InFlight    int       `json:"in_flight"`
	Elapsed     float64   `json:"elapsed_seconds"`
	Timestamp   time.Time `json:"timestamp"`
}

type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusExhausted RunStatus = "exhausted"
	RunStatusCancelled RunStatus = "cancelled"
	RunStatusFailed    RunStatus = "failed"
)

// RunReport is the summary of one finished run.
type RunReport struct {
	RunID          string         `json:"run_id"`
	Status         RunStatus      `json:"status"`
	Target         string         `json:"target"`
	Concurrency    int            `json:"concurrency"`
	Total          uint64         `json:"total"`
	Attempted      uint64         `json:"attempted"`
	Established    uint64         `json:"established"`
	Failed         uint64         `json:"failed"`
	Reclaimed      uint64         `json:"reclaimed"`
	DurationMs     int64          `json:"duration_ms"`
	PerSecond      float64        `json:"established_per_second"`
	ConnectLatency LatencyMetrics `json:"connect_latency"`
	Error          string         `json:"error,omitempty"`
	StartedAt      time.Time      `json:"started_at"`
	EndedAt        time.Time      `json:"ended_at"`
}

// EstablishedPerSecond divides established connections by elapsed wall time.
func EstablishedPerSecond(established uint64, elapsed time.Duration) float64 {
	if elapsed <= 0 {
		return 0
	}
	return float64(established) / elapsed.Seconds()
}
