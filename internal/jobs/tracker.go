// Package jobs tracks the progress of long-running background work so HTTP
// clients can poll or stream it. Records are in-process; a restart forgets
// unfinished jobs and clients see them as errors on reconnect.
package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	retention   = time.Hour
	gcPeriod    = 10 * time.Minute
	subscribers = 8
)

// Status is one observable snapshot of a job.
type Status struct {
	JobID         string    `json:"job_id"`
	Progress      int       `json:"progress"`
	Message       string    `json:"message"`
	EstimatedTime int       `json:"estimated_time,omitempty"`
	Error         string    `json:"error,omitempty"`
	Result        any       `json:"result,omitempty"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Done reports whether the job reached a terminal state.
func (s Status) Done() bool { return s.Error != "" || s.Progress >= 100 }

type record struct {
	status Status
	subs   []chan Status
}

type Tracker struct {
	mu   sync.Mutex
	jobs map[string]*record
}

func NewTracker() *Tracker {
	return &Tracker{jobs: make(map[string]*record)}
}

// Create registers a new job and returns its id.
func (t *Tracker) Create() string {
	id := uuid.NewString()
	t.mu.Lock()
	defer t.mu.Unlock()
	t.jobs[id] = &record{status: Status{
		JobID:     id,
		Message:   "queued",
		UpdatedAt: time.Now(),
	}}
	return id
}

// Update publishes a progress snapshot. Progress never moves backwards;
// stale updates keep the furthest value. Updates after a terminal state are
// dropped.
func (t *Tracker) Update(jobID string, progress int, message string, estimatedTime int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.jobs[jobID]
	if !ok || r.status.Done() {
		return
	}
	if progress < r.status.Progress {
		progress = r.status.Progress
	}
	if progress > 100 {
		progress = 100
	}
	r.status.Progress = progress
	r.status.Message = message
	r.status.EstimatedTime = estimatedTime
	r.status.UpdatedAt = time.Now()
	t.notifyLocked(r)
}

// Complete marks the job finished with its result.
func (t *Tracker) Complete(jobID string, message string, result any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.jobs[jobID]
	if !ok || r.status.Done() {
		return
	}
	r.status.Progress = 100
	r.status.Message = message
	r.status.EstimatedTime = 0
	r.status.Result = result
	r.status.UpdatedAt = time.Now()
	t.notifyLocked(r)
}

// Fail marks the job failed. The progress value is left where it was so the
// client can show where things stopped.
func (t *Tracker) Fail(jobID string, errMsg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.jobs[jobID]
	if !ok || r.status.Done() {
		return
	}
	r.status.Error = errMsg
	r.status.UpdatedAt = time.Now()
	t.notifyLocked(r)
}

// notifyLocked pushes the snapshot to every subscriber and closes them on
// terminal states.
func (t *Tracker) notifyLocked(r *record) {
	for _, ch := range r.subs {
		select {
		case ch <- r.status:
		default:
		}
	}
	if r.status.Done() {
		for _, ch := range r.subs {
			close(ch)
		}
		r.subs = nil
	}
}

// Get returns the current snapshot.
func (t *Tracker) Get(jobID string) (Status, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.jobs[jobID]
	if !ok {
		return Status{}, false
	}
	return r.status, true
}

// Subscribe returns a channel of snapshots starting with the current one.
// The channel is closed when the job reaches a terminal state. Unknown job
// ids return ok=false.
func (t *Tracker) Subscribe(jobID string) (<-chan Status, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.jobs[jobID]
	if !ok {
		return nil, false
	}
	ch := make(chan Status, subscribers)
	ch <- r.status
	if r.status.Done() {
		close(ch)
		return ch, true
	}
	r.subs = append(r.subs, ch)
	return ch, true
}

// RunGC sweeps records older than the retention window until ctx is
// cancelled. Terminal records age from their final update; a record abandoned
// mid-flight ages from its last one.
func (t *Tracker) RunGC(ctx context.Context) {
	ticker := time.NewTicker(gcPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.sweep(time.Now())
		}
	}
}

func (t *Tracker) sweep(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, r := range t.jobs {
		if now.Sub(r.status.UpdatedAt) <= retention {
			continue
		}
		for _, ch := range r.subs {
			close(ch)
		}
		delete(t.jobs, id)
	}
}
