package reconcile

import (
	"sync"
	"time"
)

// Snapshot is a point-in-time view of the active (or last) run. Current and
// Total define a percentage for polling clients; Message is human-readable.
type Snapshot struct {
	RunID      string    `json:"run_id"`
	Mode       Mode      `json:"mode"`
	Provider   string    `json:"provider"`
	Current    int       `json:"current"`
	Total      int       `json:"total"`
	Message    string    `json:"message"`
	IsRunning  bool      `json:"is_running"`
	Failed     int       `json:"failed"`
	Upserted   int       `json:"upserted"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
}

// Percent returns the completion percentage, 0 when the total is unknown.
func (s Snapshot) Percent() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Current) / float64(s.Total) * 100
}

// ProgressFunc receives progress callbacks during a run.
type ProgressFunc func(current, total int, message string)

// runContext is the mutable state of one run. Created at trigger, updated
// during the run, frozen at completion. Readers take a copy under the lock;
// there is no shared mutable state outside it.
type runContext struct {
	mu   sync.RWMutex
	snap Snapshot

	callback ProgressFunc
	publish  func(Snapshot)
}

func newRunContext(runID string, mode Mode, provider string, callback ProgressFunc, publish func(Snapshot)) *runContext {
	return &runContext{
		snap: Snapshot{
			RunID:     runID,
			Mode:      mode,
			Provider:  provider,
			IsRunning: true,
			StartedAt: time.Now(),
		},
		callback: callback,
		publish:  publish,
	}
}

// update advances the progress counters and notifies observers.
func (rc *runContext) update(current, total int, message string) {
	rc.mu.Lock()
	rc.snap.Current = current
	rc.snap.Total = total
	rc.snap.Message = message
	snap := rc.snap
	rc.mu.Unlock()

	rc.notify(snap)
}

func (rc *runContext) addUpserted(n int) {
	rc.mu.Lock()
	rc.snap.Upserted += n
	rc.mu.Unlock()
}

func (rc *runContext) addFailed() {
	rc.mu.Lock()
	rc.snap.Failed++
	rc.mu.Unlock()
}

// finish freezes the run at 100% with a final message.
func (rc *runContext) finish(message string) {
	rc.mu.Lock()
	if rc.snap.Total == 0 {
		rc.snap.Total = 1
	}
	rc.snap.Current = rc.snap.Total
	rc.snap.Message = message
	rc.snap.IsRunning = false
	rc.snap.FinishedAt = time.Now()
	snap := rc.snap
	rc.mu.Unlock()

	rc.notify(snap)
}

func (rc *runContext) notify(snap Snapshot) {
	if rc.callback != nil {
		rc.callback(snap.Current, snap.Total, snap.Message)
	}
	if rc.publish != nil {
		rc.publish(snap)
	}
}

// snapshot returns a copy of the current state.
func (rc *runContext) snapshot() Snapshot {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	return rc.snap
}
