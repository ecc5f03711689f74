package usecase

import (
	"sync"
	"time"

	"paymesh/internal/domain"
)

type (
	DispatchMetrics struct {
		mu       sync.RWMutex
		snapshot MetricsSnapshot
	}

	MetricsSnapshot struct {
		Processed      uint64        `json:"processed"`
		Completed      uint64        `json:"completed"`
		Pending        uint64        `json:"pending"`
		Failed         uint64        `json:"failed"`
		Timeouts       uint64        `json:"timeouts"`
		Rejected       uint64        `json:"rejected"`
		Confirmed      uint64        `json:"confirmed"`
		AuditFailures  uint64        `json:"auditFailures"`
		AvgAdapterTime time.Duration `json:"avgAdapterTime"`
	}
)

func NewDispatchMetrics() *DispatchMetrics {
	return &DispatchMetrics{}
}

// recordAttempt counts one adapter call and folds its latency into the
// running average.
func (m *DispatchMetrics) recordAttempt(status domain.Status, timedOut bool, latency time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.snapshot.Processed++
	switch status {
	case domain.StatusCompleted:
		m.snapshot.Completed++
	case domain.StatusPending:
		m.snapshot.Pending++
	default:
		m.snapshot.Failed++
	}
	if timedOut {
		m.snapshot.Timeouts++
	}

	if m.snapshot.AvgAdapterTime == 0 {
		m.snapshot.AvgAdapterTime = latency
	} else {
		m.snapshot.AvgAdapterTime = (m.snapshot.AvgAdapterTime + latency) / 2
	}
}

func (m *DispatchMetrics) incrementRejected() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshot.Rejected++
}

func (m *DispatchMetrics) incrementConfirmed() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshot.Confirmed++
}

func (m *DispatchMetrics) incrementAuditFailures() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshot.AuditFailures++
}

func (m *DispatchMetrics) Snapshot() MetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshot
}
