package health

import (
	"context"
	"sync"
	"time"

	"github.com/vietddude/txguard/internal/audit"
	"github.com/vietddude/txguard/internal/safety/breaker"
)

// BreakerSource exposes the breaker state.
type BreakerSource interface {
	Snapshot() breaker.State
}

// QueueStats exposes retry queue occupancy.
type QueueStats interface {
	Len() int
	InFlight() int
}

// LedgerCounter counts ledger entries.
type LedgerCounter interface {
	Count(ctx context.Context) (int, error)
}

// MonitorConfig tunes status evaluation.
type MonitorConfig struct {
	// StorageDriver is reported as is.
	StorageDriver string
	// ErrorWindow is how far back recent error events are counted.
	ErrorWindow time.Duration
	// QueueDegradedDepth marks the system degraded once the retry backlog reaches it.
	QueueDegradedDepth int
	// LedgerCacheTTL rate limits ledger count queries.
	LedgerCacheTTL time.Duration
}

// Monitor aggregates health status from the breaker, retry queue, ledger and audit trail.
type Monitor struct {
	cfg     MonitorConfig
	breaker BreakerSource
	queue   QueueStats
	ledger  LedgerCounter
	events  *audit.Recent
	now     func() time.Time

	mu          sync.Mutex
	lastCount   time.Time
	lastStorage StorageHealth
}

// NewMonitor creates a new health monitor. queue, ledger and events may be nil.
func NewMonitor(
	cfg MonitorConfig,
	br BreakerSource,
	queue QueueStats,
	ledger LedgerCounter,
	events *audit.Recent,
) *Monitor {
	if cfg.ErrorWindow <= 0 {
		cfg.ErrorWindow = 5 * time.Minute
	}
	if cfg.QueueDegradedDepth <= 0 {
		cfg.QueueDegradedDepth = 100
	}
	if cfg.LedgerCacheTTL <= 0 {
		cfg.LedgerCacheTTL = 10 * time.Second
	}
	return &Monitor{
		cfg:     cfg,
		breaker: br,
		queue:   queue,
		ledger:  ledger,
		events:  events,
		now:     time.Now,
	}
}

// CheckHealth builds a report. The breaker is read live on every call; the ledger count is
// cached for LedgerCacheTTL.
func (m *Monitor) CheckHealth(ctx context.Context) HealthReport {
	now := m.now()
	report := HealthReport{
		SystemStatus: StatusHealthy,
		Breaker:      m.breaker.Snapshot(),
		Storage:      m.storage(ctx, now),
		CheckedAt:    now.UTC(),
	}
	if m.queue != nil {
		report.RetryQueue = QueueHealth{Depth: m.queue.Len(), InFlight: m.queue.InFlight()}
	}
	if m.events != nil {
		report.RecentErrors = len(m.events.ErrorsSince(now.Add(-m.cfg.ErrorWindow)))
		report.EventCounts = m.events.CountsByType()
	}

	// Evaluate Status
	switch {
	case report.Breaker.Halted:
		report.SystemStatus = StatusCritical
	case report.Storage.Error != "",
		report.RetryQueue.Depth >= m.cfg.QueueDegradedDepth,
		report.RecentErrors > 0:
		report.SystemStatus = StatusDegraded
	}
	return report
}

func (m *Monitor) storage(ctx context.Context, now time.Time) StorageHealth {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ledger == nil {
		return StorageHealth{Driver: m.cfg.StorageDriver}
	}
	if !m.lastCount.IsZero() && now.Sub(m.lastCount) < m.cfg.LedgerCacheTTL {
		return m.lastStorage
	}

	s := StorageHealth{Driver: m.cfg.StorageDriver}
	count, err := m.ledger.Count(ctx)
	if err != nil {
		s.Error = err.Error()
	} else {
		s.Entries = count
	}
	m.lastCount = now
	m.lastStorage = s
	return s
}
