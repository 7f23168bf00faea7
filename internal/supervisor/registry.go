package supervisor

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
)

// Registry guarantees at most one supervisor per stream id within the
// process.
type Registry struct {
	mu     sync.Mutex
	active map[uint]*Supervisor
	deps   Deps
	log    *logrus.Entry
}

func NewRegistry(deps Deps) *Registry {
	log := deps.Log
	if log == nil {
		log = logrus.New()
	}
	return &Registry{
		active: make(map[uint]*Supervisor),
		deps:   deps,
		log:    log.WithField("component", "registry"),
	}
}

// Start returns the stream's supervisor, creating and starting it when
// absent. A second Start for the same id returns the first handle unless that
// supervisor already ran to completion, in which case a fresh one replaces
// it.
func (r *Registry) Start(ctx context.Context, streamID uint) *Supervisor {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.active[streamID]; ok {
		select {
		case <-s.Done():
		default:
			return s
		}
	}
	s := New(streamID, r.deps)
	r.active[streamID] = s
	s.Start(ctx)
	r.log.WithField("stream_id", streamID).Info("supervisor started")
	return s
}

// Stop stops and forgets the stream's supervisor if one is running.
func (r *Registry) Stop(streamID uint) {
	r.mu.Lock()
	s, ok := r.active[streamID]
	delete(r.active, streamID)
	r.mu.Unlock()
	if ok {
		s.Stop()
		r.log.WithField("stream_id", streamID).Info("supervisor stopped")
	}
}

// StopAll winds every supervisor down, used at shutdown.
func (r *Registry) StopAll() {
	r.mu.Lock()
	all := make([]*Supervisor, 0, len(r.active))
	for _, s := range r.active {
		all = append(all, s)
	}
	r.active = make(map[uint]*Supervisor)
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, s := range all {
		wg.Add(1)
		go func(s *Supervisor) {
			defer wg.Done()
			s.Stop()
		}(s)
	}
	wg.Wait()
}

// StartMonitored launches supervisors for every monitored stream.
func (r *Registry) StartMonitored(ctx context.Context) error {
	streams, err := r.deps.Streams.ListMonitored(ctx)
	if err != nil {
		return err
	}
	for _, s := range streams {
		r.Start(ctx, s.ID)
	}
	return nil
}

// Get returns the running supervisor for a stream, if any.
func (r *Registry) Get(streamID uint) (*Supervisor, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.active[streamID]
	return s, ok
}

// Size reports how many supervisors are live.
func (r *Registry) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}
