// Package cooldown keeps per-(stream, trigger) last-fired times so raw
// detector hits become at most one alert per cooldown window. Tables are
// process-local; replicas may each fire once for the same trigger.
package cooldown

import (
	"sync"
	"time"
)

type key struct {
	streamID uint
	trigger  string
}

type Table struct {
	mu   sync.Mutex
	last map[key]time.Time
}

func NewTable() *Table {
	return &Table{last: make(map[key]time.Time)}
}

// Fire reports whether an alert for (streamID, trigger) may fire at now, and
// records now as the new last-fired time when it may. A first sighting always
// fires.
func (t *Table) Fire(streamID uint, trigger string, now time.Time, cooldown time.Duration) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	k := key{streamID: streamID, trigger: trigger}
	if prev, ok := t.last[k]; ok && now.Sub(prev) < cooldown {
		return false
	}
	t.last[k] = now
	return true
}

// SentimentTrigger builds the trigger key for a per-user sentiment alert.
func SentimentTrigger(username string) string {
	return "_sentiment:" + username
}

// Forget drops all state for a stream, so a re-created stream id starts
// clean.
func (t *Table) Forget(streamID uint) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for k := range t.last {
		if k.streamID == streamID {
			delete(t.last, k)
		}
	}
}
