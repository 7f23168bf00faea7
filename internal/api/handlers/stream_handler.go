package handlers

import (
	"context"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/streamvigil/vigil/internal/jobs"
	"github.com/streamvigil/vigil/internal/models"
	"github.com/streamvigil/vigil/internal/repositories/postgres"
	"github.com/streamvigil/vigil/internal/resolver"
	"github.com/streamvigil/vigil/internal/supervisor"
	"github.com/streamvigil/vigil/internal/utils"
)

// createJobTimeout bounds one interactive create, browser strategies
// included.
const createJobTimeout = 5 * time.Minute

// EventSink records lifecycle events through the detection pipeline so they
// land in the log and reach the realtime rooms.
type EventSink interface {
	Record(ctx context.Context, eventType models.EventType, s *models.Stream, details map[string]any, image []byte) (*models.DetectionLog, error)
}

// MediaResolver is the slice of the resolver the create flow needs.
type MediaResolver interface {
	Resolve(ctx context.Context, platform models.Platform, roomURL string, progress resolver.ProgressFunc) (string, error)
}

type StreamHandler struct {
	streams     postgres.StreamRepository
	assignments postgres.AssignmentRepository
	resolver    MediaResolver
	registry    *supervisor.Registry
	tracker     *jobs.Tracker
	sink        EventSink
	log         *logrus.Entry
}

func NewStreamHandler(
	streams postgres.StreamRepository,
	assignments postgres.AssignmentRepository,
	res MediaResolver,
	registry *supervisor.Registry,
	tracker *jobs.Tracker,
	sink EventSink,
	log *logrus.Logger,
) *StreamHandler {
	if log == nil {
		log = logrus.New()
	}
	return &StreamHandler{
		streams:     streams,
		assignments: assignments,
		resolver:    res,
		registry:    registry,
		tracker:     tracker,
		sink:        sink,
		log:         log.WithField("component", "stream_handler"),
	}
}

type createStreamReq struct {
	RoomURL string `json:"room_url" binding:"required"`
	AgentID uint   `json:"agent_id"`
}

// InteractiveCreate validates the room, kicks off the background create job,
// and returns the job id immediately. Clients follow progress over SSE.
func (h *StreamHandler) InteractiveCreate(c *gin.Context) {
	const op = "StreamHandler.InteractiveCreate"

	var req createStreamReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, utils.E(utils.CodeInvalidArgument, op, "room_url is required", err))
		return
	}

	platform, roomURL, err := classifyRoomURL(req.RoomURL)
	if err != nil {
		writeError(c, err)
		return
	}

	jobID := h.tracker.Create()
	go h.runCreateJob(jobID, platform, roomURL, req.AgentID)

	c.JSON(202, gin.H{"job_id": jobID})
}

// runCreateJob walks the create phases, reporting each through its progress
// band: validation to 10, scraping to 55, database to 75, assignment to 90,
// finalize to 100.
func (h *StreamHandler) runCreateJob(jobID string, platform models.Platform, roomURL string, agentID uint) {
	ctx, cancel := context.WithTimeout(context.Background(), createJobTimeout)
	defer cancel()

	h.tracker.Update(jobID, 10, "room validated", 60)

	mediaURL, err := h.resolver.Resolve(ctx, platform, roomURL,
		resolver.Banded(func(p int, msg string) {
			h.tracker.Update(jobID, p, msg, 0)
		}, 10, 55))
	if err != nil {
		h.tracker.Fail(jobID, err.Error())
		return
	}
	h.tracker.Update(jobID, 55, "media url resolved", 20)

	stream := &models.Stream{
		RoomURL:          roomURL,
		Platform:         platform,
		StreamerUsername: slugOf(roomURL),
		Status:           models.StreamOnline,
		IsMonitored:      true,
		MediaURL:         mediaURL,
	}
	if err := h.streams.Create(ctx, stream); err != nil {
		if utils.IsCode(err, utils.CodeConflict) {
			h.tracker.Fail(jobID, "stream already exists")
			return
		}
		h.tracker.Fail(jobID, err.Error())
		return
	}
	h.tracker.Update(jobID, 75, "stream stored", 10)

	if agentID != 0 {
		if err := h.assignments.Create(ctx, &models.Assignment{
			AgentID:  agentID,
			StreamID: stream.ID,
			Active:   true,
		}); err != nil {
			h.log.WithError(err).Warn("assignment create failed during interactive create")
		}
	}
	h.tracker.Update(jobID, 90, "agent assignment handled", 5)

	// after assignment so the event routes to the agent who just got it
	if h.sink != nil {
		if _, err := h.sink.Record(ctx, models.EventStreamCreated, stream, map[string]any{
			"status": string(stream.Status),
		}, nil); err != nil {
			h.log.WithError(err).Warn("stream created event record failed")
		}
	}

	h.registry.Start(context.Background(), stream.ID)
	h.tracker.Complete(jobID, "stream created", gin.H{
		"stream_id": stream.ID,
		"room_url":  stream.RoomURL,
		"platform":  stream.Platform,
		"media_url": stream.MediaURL,
	})
}

func (h *StreamHandler) List(c *gin.Context) {
	streams, err := h.streams.ListMonitored(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(200, gin.H{"streams": streams})
}

func (h *StreamHandler) Get(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	stream, err := h.streams.GetByID(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(200, stream)
}

// StartMonitoring flags the stream monitored and launches its supervisor.
func (h *StreamHandler) StartMonitoring(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if err := h.streams.SetMonitored(c.Request.Context(), id, true); err != nil {
		writeError(c, err)
		return
	}
	h.registry.Start(context.Background(), id)
	c.JSON(200, gin.H{"stream_id": id, "monitoring": true})
}

// StopMonitoring unflags the stream and winds its supervisor down.
func (h *StreamHandler) StopMonitoring(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if err := h.streams.SetMonitored(c.Request.Context(), id, false); err != nil {
		writeError(c, err)
		return
	}
	h.registry.Stop(id)
	c.JSON(200, gin.H{"stream_id": id, "monitoring": false})
}

func (h *StreamHandler) Delete(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	h.registry.Stop(id)
	if err := h.streams.Delete(c.Request.Context(), id); err != nil {
		writeError(c, err)
		return
	}
	c.Status(204)
}

func pathID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		writeError(c, utils.E(utils.CodeInvalidArgument, "StreamHandler", "invalid stream id", err))
		return 0, false
	}
	return uint(id), true
}

// classifyRoomURL derives the platform from the URL host and normalizes the
// URL to lowercase.
func classifyRoomURL(raw string) (models.Platform, string, error) {
	const op = "StreamHandler.classifyRoomURL"
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" || u.Scheme == "" {
		return "", "", utils.E(utils.CodeInvalidArgument, op, "malformed room url", err)
	}
	host := strings.ToLower(u.Host)
	normalized := strings.ToLower(strings.TrimRight(raw, "/"))
	switch {
	case strings.Contains(host, "chaturbate.com"):
		return models.PlatformChaturbate, normalized, nil
	case strings.Contains(host, "stripchat.com"):
		return models.PlatformStripchat, normalized, nil
	default:
		return "", "", utils.E(utils.CodeInvalidArgument, op, "unsupported platform", nil)
	}
}

func slugOf(roomURL string) string {
	s := strings.TrimRight(roomURL, "/")
	if i := strings.LastIndexByte(s, '/'); i >= 0 {
		return s[i+1:]
	}
	return s
}
