package conversation

import (
	"sync"
	"time"
)

// SessionMetrics is the accumulated accounting for one session.
type SessionMetrics struct {
	TotalTokens   int
	Cost          float64
	ToolCalls     int
	ExecutionTime time.Duration
	Runs          int
}

func (m *SessionMetrics) add(other SessionMetrics) {
	m.TotalTokens += other.TotalTokens
	m.Cost += other.Cost
	m.ToolCalls += other.ToolCalls
	m.ExecutionTime += other.ExecutionTime
	if other.Runs > 0 {
		m.Runs += other.Runs
	} else {
		m.Runs++
	}
}

// SessionMetricsTracker accumulates token, cost, time, and tool-call counts
// per session id. Sub-agent runs record under their own session ids, so
// each child stays isolated while Total rolls everything up.
type SessionMetricsTracker struct {
	mu       sync.Mutex
	sessions map[string]*SessionMetrics
}

// NewSessionMetricsTracker creates an empty tracker.
func NewSessionMetricsTracker() *SessionMetricsTracker {
	return &SessionMetricsTracker{
		sessions: make(map[string]*SessionMetrics),
	}
}

// Record accumulates one run's metrics into the session's bucket.
func (t *SessionMetricsTracker) Record(sessionID string, metrics SessionMetrics) {
	t.mu.Lock()
	defer t.mu.Unlock()
	bucket, ok := t.sessions[sessionID]
	if !ok {
		bucket = &SessionMetrics{}
		t.sessions[sessionID] = bucket
	}
	bucket.add(metrics)
}

// Get returns the accumulated metrics for one session.
func (t *SessionMetricsTracker) Get(sessionID string) (SessionMetrics, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	bucket, ok := t.sessions[sessionID]
	if !ok {
		return SessionMetrics{}, false
	}
	return *bucket, true
}

// Total rolls up all sessions.
func (t *SessionMetricsTracker) Total() SessionMetrics {
	t.mu.Lock()
	defer t.mu.Unlock()
	var total SessionMetrics
	for _, bucket := range t.sessions {
		total.TotalTokens += bucket.TotalTokens
		total.Cost += bucket.Cost
		total.ToolCalls += bucket.ToolCalls
		total.ExecutionTime += bucket.ExecutionTime
		total.Runs += bucket.Runs
	}
	return total
}
