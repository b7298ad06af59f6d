// Package health provides system health monitoring and status reporting.
package health

import (
	"time"

	"github.com/vietddude/txguard/internal/audit"
	"github.com/vietddude/txguard/internal/safety/breaker"
)

// SystemStatus represents the overall health state of the system or a component.
type SystemStatus string

const (
	StatusHealthy  SystemStatus = "healthy"
	StatusDegraded SystemStatus = "degraded"
	StatusCritical SystemStatus = "critical"
)

// QueueHealth describes the retry queue.
type QueueHealth struct {
	Depth    int `json:"depth"`
	InFlight int `json:"in_flight"`
}

// StorageHealth describes the ledger backend.
type StorageHealth struct {
	Driver  string `json:"driver"`
	Entries int    `json:"entries"`
	Error   string `json:"error,omitempty"`
}

// HealthReport contains the full system health report.
type HealthReport struct {
	SystemStatus SystemStatus       `json:"system_status"`
	Breaker      breaker.State      `json:"breaker"`
	RetryQueue   QueueHealth        `json:"retry_queue"`
	Storage      StorageHealth      `json:"storage"`
	RecentErrors int                `json:"recent_errors"`
	EventCounts  map[audit.Type]int `json:"event_counts,omitempty"`
	CheckedAt    time.Time          `json:"checked_at"`
}
