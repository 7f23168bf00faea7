// Package recorder persists detections and hands them to alert fan-out.
// It is the only writer of detection_logs.
package recorder

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/streamvigil/vigil/internal/models"
	"github.com/streamvigil/vigil/internal/repositories/postgres"
	"github.com/streamvigil/vigil/internal/storage"
	"github.com/streamvigil/vigil/internal/utils"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const unassigned = "Unassigned"

// Dispatcher receives the committed detection for multi-channel delivery.
// Implementations must not block the recorder; failures are theirs to log.
type Dispatcher interface {
	Dispatch(ctx context.Context, n models.Notification, image []byte)
}

type Recorder struct {
	db          *gorm.DB
	assignments postgres.AssignmentRepository
	detections  postgres.DetectionRepository
	users       postgres.UserRepository
	dispatcher  Dispatcher
	archiver    *storage.Archiver
	names       *agentNames
	log         *logrus.Entry
}

// WithArchiver enables off-site copies of annotated detection frames.
func (r *Recorder) WithArchiver(a *storage.Archiver) *Recorder {
	r.archiver = a
	return r
}

func New(
	db *gorm.DB,
	assignments postgres.AssignmentRepository,
	detections postgres.DetectionRepository,
	dispatcher Dispatcher,
	log *logrus.Logger,
) *Recorder {
	if log == nil {
		log = logrus.New()
	}
	return &Recorder{
		db:          db,
		assignments: assignments,
		detections:  detections,
		dispatcher:  dispatcher,
		names:       newAgentNames(),
		log:         log.WithField("component", "recorder"),
	}
}

// WithUsers enables agent name resolution for assignments that arrive
// without a preloaded agent.
func (r *Recorder) WithUsers(users postgres.UserRepository) *Recorder {
	r.users = users
	return r
}

// Record inserts one detection log in a transaction and dispatches the
// resulting notification. Object detections must carry an annotated image
// and at least one detection entry.
func (r *Recorder) Record(
	ctx context.Context,
	eventType models.EventType,
	stream *models.Stream,
	details map[string]any,
	image []byte,
) (*models.DetectionLog, error) {
	const op = "Recorder.Record"

	if eventType == models.EventObjectDetection {
		if len(image) == 0 {
			return nil, utils.E(utils.CodeInvalidArgument, op, "object detection requires an image", nil)
		}
		if dets, ok := details["detections"].([]any); !ok || len(dets) == 0 {
			if dets2, ok2 := details["detections"].([]models.Detection); !ok2 || len(dets2) == 0 {
				return nil, utils.E(utils.CodeInvalidArgument, op, "object detection requires detections", nil)
			}
		}
	}

	if details == nil {
		details = map[string]any{}
	}

	var (
		agentName    = unassigned
		agentID      *uint
		assignmentID *uint
	)
	assignment, err := r.assignments.FirstActiveByRoomURL(ctx, stream.RoomURL)
	switch {
	case err == nil:
		assignmentID = &assignment.ID
		agentID = &assignment.AgentID
		switch {
		case assignment.Agent != nil:
			agentName = assignment.Agent.Username
			r.names.put(assignment.AgentID, agentName)
		default:
			if name, ok := r.lookupAgentName(ctx, assignment.AgentID); ok {
				agentName = name
			} else {
				agentName = fmt.Sprintf("agent-%d", assignment.AgentID)
			}
		}
	case utils.IsCode(err, utils.CodeNotFound):
		// unassigned stream; alert routing falls back to the broadcast set
	default:
		return nil, err
	}

	// resolved agent always wins over whatever the pipeline put there
	details["assigned_agent"] = agentName
	details["streamer_name"] = stream.StreamerUsername
	details["platform"] = string(stream.Platform)

	entry := &models.DetectionLog{
		RoomURL:        stream.RoomURL,
		EventType:      eventType,
		Timestamp:      time.Now().UTC(),
		Details:        datatypes.JSONMap(details),
		DetectionImage: image,
		AssignedAgent:  agentID,
		AssignmentID:   assignmentID,
	}

	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return r.detections.CreateTx(tx, entry)
	})
	if err != nil {
		return nil, err
	}

	n := models.Notification{
		ID:            entry.ID,
		EventType:     eventType,
		RoomURL:       stream.RoomURL,
		StreamID:      stream.ID,
		Platform:      stream.Platform,
		Streamer:      stream.StreamerUsername,
		Timestamp:     entry.Timestamp,
		Details:       details,
		AssignedAgent: agentName,
	}
	if agentID != nil {
		n.AgentID = *agentID
	}

	if r.dispatcher != nil {
		r.dispatcher.Dispatch(ctx, n, image)
	}
	if r.archiver != nil && len(image) > 0 {
		r.archiver.ArchiveImage(ctx, entry.ID, image)
	}

	r.log.WithFields(logrus.Fields{
		"event_type": eventType,
		"room_url":   stream.RoomURL,
		"log_id":     entry.ID,
	}).Info("detection recorded")
	return entry, nil
}
