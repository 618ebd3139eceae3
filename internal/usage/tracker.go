package usage

import (
	"sync"
	"sync/atomic"
	"time"
)

// Tracker keeps hot per-project usage counters for the stats endpoint.
// Durable accounting lives in the log store; this is the in-memory view.
type Tracker struct {
	mu       sync.RWMutex
	projects map[string]*projectCounters

	// Stored as cost * 1e9 (nano-dollars) for atomic int64 ops.
	globalCostNano int64
}

type projectCounters struct {
	calls        int64
	failures     int64
	inputTokens  int64
	outputTokens int64
	cost         float64
	lastCall     time.Time
}

// ProjectSnapshot is a read-only view of one project's counters.
type ProjectSnapshot struct {
	ProjectID    string    `json:"project_id"`
	Calls        int64     `json:"calls"`
	Failures     int64     `json:"failures"`
	InputTokens  int64     `json:"input_tokens"`
	OutputTokens int64     `json:"output_tokens"`
	Cost         float64   `json:"cost"`
	LastCall     time.Time `json:"last_call"`
}

// NewTracker returns an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{projects: make(map[string]*projectCounters)}
}

// RecordCall accumulates one call's outcome. u may be nil (unset usage).
func (t *Tracker) RecordCall(projectID string, u *Usage, failed bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	p := t.projects[projectID]
	if p == nil {
		p = &projectCounters{}
		t.projects[projectID] = p
	}
	p.calls++
	if failed {
		p.failures++
	}
	p.lastCall = time.Now()
	if u != nil {
		p.inputTokens += int64(u.InputTokens)
		p.outputTokens += int64(u.OutputTokens)
		p.cost += u.Cost
		atomic.AddInt64(&t.globalCostNano, int64(u.Cost*1e9))
	}
}

// Snapshot returns the counters for one project (zero-valued if unseen).
func (t *Tracker) Snapshot(projectID string) ProjectSnapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()

	snap := ProjectSnapshot{ProjectID: projectID}
	if p, ok := t.projects[projectID]; ok {
		snap.Calls = p.calls
		snap.Failures = p.failures
		snap.InputTokens = p.inputTokens
		snap.OutputTokens = p.outputTokens
		snap.Cost = p.cost
		snap.LastCall = p.lastCall
	}
	return snap
}

// GlobalCost returns the total accumulated cost across all projects.
func (t *Tracker) GlobalCost() float64 {
	return float64(atomic.LoadInt64(&t.globalCostNano)) / 1e9
}
