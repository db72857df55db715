// Package monitor tracks runtime counters for the paper-trading core.
package monitor

import (
	"runtime"
	"sync/atomic"
	"time"
)

// SystemMetrics tracks overall system activity.
type SystemMetrics struct {
	startedAt time.Time

	sessionsStarted uint64
	sessionsStopped uint64
	ticksProcessed  uint64
	barsProcessed   uint64
	barsEvaluated   uint64
	tradesExecuted  uint64
	tradesFailed    uint64
	eventsDropped   uint64
}

// NewSystemMetrics creates a new metrics instance.
func NewSystemMetrics() *SystemMetrics {
	return &SystemMetrics{startedAt: time.Now()}
}

func (m *SystemMetrics) SessionStarted() { atomic.AddUint64(&m.sessionsStarted, 1) }
func (m *SystemMetrics) SessionStopped() { atomic.AddUint64(&m.sessionsStopped, 1) }
func (m *SystemMetrics) TickProcessed()  { atomic.AddUint64(&m.ticksProcessed, 1) }
func (m *SystemMetrics) BarProcessed()   { atomic.AddUint64(&m.barsProcessed, 1) }
func (m *SystemMetrics) BarEvaluated()   { atomic.AddUint64(&m.barsEvaluated, 1) }
func (m *SystemMetrics) TradeExecuted()  { atomic.AddUint64(&m.tradesExecuted, 1) }
func (m *SystemMetrics) TradeFailed()    { atomic.AddUint64(&m.tradesFailed, 1) }
func (m *SystemMetrics) EventDropped()   { atomic.AddUint64(&m.eventsDropped, 1) }

// Snapshot returns a JSON-ready view of all counters.
func (m *SystemMetrics) Snapshot() map[string]any {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	return map[string]any{
		"uptime_seconds":   int64(time.Since(m.startedAt).Seconds()),
		"sessions_started": atomic.LoadUint64(&m.sessionsStarted),
		"sessions_stopped": atomic.LoadUint64(&m.sessionsStopped),
		"ticks_processed":  atomic.LoadUint64(&m.ticksProcessed),
		"bars_processed":   atomic.LoadUint64(&m.barsProcessed),
		"bars_evaluated":   atomic.LoadUint64(&m.barsEvaluated),
		"trades_executed":  atomic.LoadUint64(&m.tradesExecuted),
		"trades_failed":    atomic.LoadUint64(&m.tradesFailed),
		"events_dropped":   atomic.LoadUint64(&m.eventsDropped),
		"goroutines":       runtime.NumGoroutine(),
		"heap_alloc_bytes": mem.HeapAlloc,
	}
}
