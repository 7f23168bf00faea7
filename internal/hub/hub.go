// Package hub is the realtime fan-in point: one websocket connection per
// signed-in user, room-scoped broadcasts, and a redis pub/sub backplane so
// every server instance sees every event.
package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/streamvigil/vigil/internal/models"
	"github.com/streamvigil/vigil/internal/repositories/postgres"
)

const backplaneChannel = "hub:events"

func RoomUser(id uint) string             { return fmt.Sprintf("user_%d", id) }
func RoomRole(role models.UserRole) string { return "role_" + string(role) }
func RoomStream(id uint) string           { return fmt.Sprintf("stream_%d", id) }

// envelope is what clients receive on the wire.
type envelope struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// backplaneEvent carries an envelope plus its target rooms between
// instances.
type backplaneEvent struct {
	Rooms []string        `json:"rooms"`
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[*Client]struct{}

	redis       *redis.Client
	assignments postgres.AssignmentRepository
	detections  postgres.DetectionRepository
	log         *logrus.Entry
}

func New(
	rdb *redis.Client,
	assignments postgres.AssignmentRepository,
	detections postgres.DetectionRepository,
	log *logrus.Logger,
) *Hub {
	if log == nil {
		log = logrus.New()
	}
	return &Hub{
		rooms:       make(map[string]map[*Client]struct{}),
		redis:       rdb,
		assignments: assignments,
		detections:  detections,
		log:         log.WithField("component", "hub"),
	}
}

// Run subscribes to the backplane and delivers incoming events to local
// rooms. Returns when ctx is cancelled. Without redis the hub still works,
// scoped to this process.
func (h *Hub) Run(ctx context.Context) {
	if h.redis == nil {
		<-ctx.Done()
		return
	}
	pubsub := h.redis.Subscribe(ctx, backplaneChannel)
	defer pubsub.Close()

	for {
		m, err := pubsub.ReceiveMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			h.log.WithError(err).Warn("backplane receive failed")
			continue
		}
		var ev backplaneEvent
		if err := json.Unmarshal([]byte(m.Payload), &ev); err != nil {
			h.log.WithError(err).Warn("malformed backplane event")
			continue
		}
		h.deliver(ev.Rooms, envelope{Event: ev.Event, Data: ev.Data})
	}
}

// PublishNotification routes a detection to admins, the assigned agent, and
// anyone watching the stream's room.
func (h *Hub) PublishNotification(n models.Notification) {
	rooms := []string{RoomRole(models.RoleAdmin), RoomStream(n.StreamID)}
	if n.AgentID != 0 {
		rooms = append(rooms, RoomUser(n.AgentID))
	}
	h.publish(rooms, models.EvNotification, n)
}

// PublishStreamUpdate announces a lifecycle transition to every signed-in
// user.
func (h *Hub) PublishStreamUpdate(u models.StreamUpdate) {
	rooms := []string{RoomRole(models.RoleAdmin), RoomRole(models.RoleAgent)}
	h.publish(rooms, models.EvStreamUpdate, u)
}

// PublishAssignmentUpdate tells the agent (and admins) that their assignment
// set changed.
func (h *Hub) PublishAssignmentUpdate(a models.Assignment) {
	h.publish([]string{RoomUser(a.AgentID), RoomRole(models.RoleAdmin)},
		models.EvAssignmentUpdate, a)
}

// PublishNotificationUpdate announces a read-state change so every client of
// the same user converges.
func (h *Hub) PublishNotificationUpdate(userID, notificationID uint, read bool) {
	h.publish([]string{RoomUser(userID), RoomRole(models.RoleAdmin)},
		models.EvNotificationUpdate,
		map[string]any{"id": notificationID, "read": read})
}

// publish sends through the backplane when available so all instances (this
// one included) deliver; otherwise it delivers locally.
func (h *Hub) publish(rooms []string, event string, data any) {
	if h.redis != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			h.log.WithError(err).Error("event marshal failed")
			return
		}
		payload, _ := json.Marshal(backplaneEvent{Rooms: rooms, Event: event, Data: raw})
		if err := h.redis.Publish(context.Background(), backplaneChannel, payload).Err(); err == nil {
			return
		}
		h.log.Warn("backplane publish failed, delivering locally")
	}
	h.deliver(rooms, envelope{Event: event, Data: data})
}

// deliver fans an envelope out to the union of the rooms' clients, once per
// client even when rooms overlap.
func (h *Hub) deliver(rooms []string, ev envelope) {
	payload, err := json.Marshal(ev)
	if err != nil {
		h.log.WithError(err).Error("envelope marshal failed")
		return
	}

	h.mu.RLock()
	targets := make(map[*Client]struct{})
	for _, room := range rooms {
		for c := range h.rooms[room] {
			targets[c] = struct{}{}
		}
	}
	h.mu.RUnlock()

	for c := range targets {
		if !c.trySend(payload) {
			// slow consumer: drop the connection, the client reconnects and
			// reconciles through get_unread_notifications
			h.Detach(c)
			c.Close()
		}
	}
}

// Attach registers the client in its identity rooms.
func (h *Hub) Attach(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.joinLocked(c, RoomUser(c.userID))
	h.joinLocked(c, RoomRole(c.role))
}

// Detach removes the client from every room it joined.
func (h *Hub) Detach(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for room := range c.rooms {
		if members, ok := h.rooms[room]; ok {
			delete(members, c)
			if len(members) == 0 {
				delete(h.rooms, room)
			}
		}
	}
	c.rooms = make(map[string]struct{})
}

// JoinStream subscribes the client to a stream's room. Agents must hold an
// active assignment; admins may watch anything.
func (h *Hub) JoinStream(ctx context.Context, c *Client, streamID uint) error {
	if c.role != models.RoleAdmin {
		ok, err := h.assignments.IsAgentAssigned(ctx, c.userID, streamID)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("not assigned to stream %d", streamID)
		}
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.joinLocked(c, RoomStream(streamID))
	return nil
}

func (h *Hub) LeaveStream(c *Client, streamID uint) {
	room := RoomStream(streamID)
	h.mu.Lock()
	defer h.mu.Unlock()
	if members, ok := h.rooms[room]; ok {
		delete(members, c)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	delete(c.rooms, room)
}

func (h *Hub) joinLocked(c *Client, room string) {
	if h.rooms[room] == nil {
		h.rooms[room] = make(map[*Client]struct{})
	}
	h.rooms[room][c] = struct{}{}
	c.rooms[room] = struct{}{}
}

// RoomSize reports the current member count of a room.
func (h *Hub) RoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// unread returns the reconciliation payload for one user based on role.
func (h *Hub) unread(ctx context.Context, c *Client) ([]models.DetectionLog, error) {
	if c.role == models.RoleAdmin {
		return h.detections.UnreadForAdmin(ctx)
	}
	return h.detections.UnreadForAgent(ctx, c.userID)
}
