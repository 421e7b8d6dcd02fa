package web

import (
	"sync"

	"github.com/autoreply-dev/autoreply/internal/automation"
)

// CycleLog keeps the most recent cycle reports in memory
type CycleLog struct {
	mu      sync.RWMutex
	reports []automation.CycleReport
	size    int
}

// NewCycleLog keeps up to size reports
func NewCycleLog(size int) *CycleLog {
	if size <= 0 {
		size = 20
	}
	return &CycleLog{size: size}
}

// Add stores a copy of r, evicting the oldest report when full
func (l *CycleLog) Add(r *automation.CycleReport) {
	if r == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	l.reports = append(l.reports, *r)
	if len(l.reports) > l.size {
		l.reports = l.reports[len(l.reports)-l.size:]
	}
}

// Recent returns the stored reports, newest first
func (l *CycleLog) Recent() []automation.CycleReport {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]automation.CycleReport, 0, len(l.reports))
	for i := len(l.reports) - 1; i >= 0; i-- {
		out = append(out, l.reports[i])
	}
	return out
}
