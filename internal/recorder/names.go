package recorder

import (
	"context"
	"sync"
	"time"

	"github.com/streamvigil/vigil/internal/utils"
)

// agentNames caches agent display names in-process. Assignment rows usually
// arrive with the agent preloaded; the cache covers the paths that only carry
// an id.
type agentNames struct {
	mu   sync.Mutex
	byID map[uint]string
}

func newAgentNames() *agentNames {
	return &agentNames{byID: make(map[uint]string)}
}

func (c *agentNames) get(id uint) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	name, ok := c.byID[id]
	return name, ok
}

func (c *agentNames) put(id uint, name string) {
	c.mu.Lock()
	c.byID[id] = name
	c.mu.Unlock()
}

func (c *agentNames) replace(all map[uint]string) {
	c.mu.Lock()
	c.byID = all
	c.mu.Unlock()
}

// lookupAgentName resolves an agent id to a display name through the cache,
// falling back to a user lookup on miss. Best-effort: a failed lookup just
// reports a miss.
func (r *Recorder) lookupAgentName(ctx context.Context, agentID uint) (string, bool) {
	if name, ok := r.names.get(agentID); ok {
		return name, true
	}
	if r.users == nil {
		return "", false
	}
	user, err := r.users.GetByID(ctx, agentID)
	if err != nil {
		if !utils.IsCode(err, utils.CodeNotFound) {
			r.log.WithError(err).WithField("agent_id", agentID).Warn("agent name lookup failed")
		}
		return "", false
	}
	r.names.put(agentID, user.Username)
	return user.Username, true
}

// RunNameRefresher periodically rebuilds the name cache from the user table
// so renames eventually propagate. Exits when ctx is cancelled.
func (r *Recorder) RunNameRefresher(ctx context.Context, interval time.Duration) {
	if r.users == nil {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			users, err := r.users.ListAll(ctx)
			if err != nil {
				r.log.WithError(err).Warn("agent name refresh failed")
				continue
			}
			all := make(map[uint]string, len(users))
			for _, u := range users {
				all[u.ID] = u.Username
			}
			r.names.replace(all)
		}
	}
}
