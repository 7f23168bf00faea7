package alerts

import (
	"sync"
	"time"
)

// Debounce suppresses repeated status-change notifications for the same
// stream and status within a fixed window. Flapping streams otherwise turn
// Telegram into a firehose.
type Debounce struct {
	mu     sync.Mutex
	window time.Duration
	last   map[debounceKey]time.Time
}

type debounceKey struct {
	streamID uint
	status   string
}

func NewDebounce(window time.Duration) *Debounce {
	return &Debounce{
		window: window,
		last:   make(map[debounceKey]time.Time),
	}
}

// Allow reports whether this (stream, status) pair may notify now, and if so
// records it. Suppressed calls do not extend the window.
func (d *Debounce) Allow(streamID uint, status string, now time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	k := debounceKey{streamID: streamID, status: status}
	if last, ok := d.last[k]; ok && now.Sub(last) < d.window {
		return false
	}
	d.last[k] = now
	return true
}

// Forget drops all state for a stream, typically on deletion.
func (d *Debounce) Forget(streamID uint) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for k := range d.last {
		if k.streamID == streamID {
			delete(d.last, k)
		}
	}
}
