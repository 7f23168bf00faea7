// Package alerts fans committed detections out to the realtime hub, the
// Telegram delivery queue, and email. Channel failures are logged and never
// propagate back to the recorder.
package alerts

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/streamvigil/vigil/internal/models"
	"github.com/streamvigil/vigil/internal/repositories/postgres"
)

// Realtime is the slice of the hub the fan-out needs.
type Realtime interface {
	PublishNotification(n models.Notification)
	PublishStreamUpdate(u models.StreamUpdate)
}

// TelegramQueue enqueues a message for the worker pool; delivery is async.
type TelegramQueue interface {
	Enqueue(ctx context.Context, chatID string, text string, image []byte) error
}

// EmailSender delivers one message synchronously with its own retry policy.
type EmailSender interface {
	Send(ctx context.Context, to, subject, body string) error
}

type Service struct {
	users    postgres.UserRepository
	realtime Realtime
	telegram TelegramQueue
	email    EmailSender
	debounce *Debounce
	log      *logrus.Entry
}

func NewService(
	users postgres.UserRepository,
	realtime Realtime,
	telegram TelegramQueue,
	email EmailSender,
	debounce *Debounce,
	log *logrus.Logger,
) *Service {
	if log == nil {
		log = logrus.New()
	}
	return &Service{
		users:    users,
		realtime: realtime,
		telegram: telegram,
		email:    email,
		debounce: debounce,
		log:      log.WithField("component", "alerts"),
	}
}

// Dispatch pushes the notification to every channel its recipients qualify
// for. A repeated status change inside the debounce window is dropped before
// it reaches any channel; detection events are never debounced here, the
// cooldown table already rate-limits them.
func (s *Service) Dispatch(ctx context.Context, n models.Notification, image []byte) {
	if n.EventType == models.EventStreamStatusUpdate && s.debounce != nil {
		status := string(statusFromDetails(n.Details))
		if !s.debounce.Allow(n.StreamID, status, time.Now()) {
			s.log.WithFields(logrus.Fields{
				"stream_id": n.StreamID,
				"status":    status,
			}).Debug("status change debounced")
			return
		}
	}

	if s.realtime != nil {
		s.realtime.PublishNotification(n)
		if n.EventType == models.EventStreamStatusUpdate {
			s.realtime.PublishStreamUpdate(models.StreamUpdate{
				ID:     n.StreamID,
				URL:    n.RoomURL,
				Status: statusFromDetails(n.Details),
				Type:   n.Platform,
			})
		}
	}

	recipients, err := s.resolveRecipients(ctx, n)
	if err != nil {
		s.log.WithError(err).Error("recipient resolution failed")
		return
	}

	subject, body := Render(n)
	for _, u := range recipients {
		if s.telegram != nil && u.TelegramChatID != "" {
			if err := s.telegram.Enqueue(ctx, u.TelegramChatID, body, image); err != nil {
				s.log.WithError(err).WithField("user", u.Username).Error("telegram enqueue failed")
			}
		}
		if s.email != nil && u.Email != "" {
			if err := s.email.Send(ctx, u.Email, subject, body); err != nil {
				s.log.WithError(err).WithField("user", u.Username).Error("email send failed")
			}
		}
	}
}

// resolveRecipients picks the assigned agent when one exists and has opted
// in, otherwise every opted-in user; admins are always included either way.
func (s *Service) resolveRecipients(ctx context.Context, n models.Notification) ([]models.User, error) {
	byID := map[uint]models.User{}

	if n.AgentID != 0 {
		agent, err := s.users.GetByID(ctx, n.AgentID)
		if err == nil && agent.ReceiveUpdates {
			byID[agent.ID] = *agent
		}
	}

	if len(byID) == 0 {
		receivers, err := s.users.ListReceivers(ctx)
		if err != nil {
			return nil, err
		}
		for _, u := range receivers {
			byID[u.ID] = u
		}
	}

	admins, err := s.users.ListAdmins(ctx)
	if err != nil {
		return nil, err
	}
	for _, a := range admins {
		if a.ReceiveUpdates {
			byID[a.ID] = a
		}
	}

	out := make([]models.User, 0, len(byID))
	for _, u := range byID {
		out = append(out, u)
	}
	return out, nil
}

// Render produces the human-readable subject and body shared by Telegram and
// email.
func Render(n models.Notification) (subject, body string) {
	var b strings.Builder
	switch n.EventType {
	case models.EventObjectDetection:
		subject = fmt.Sprintf("Visual detection on %s", n.Streamer)
		fmt.Fprintf(&b, "Flagged object on %s (%s)\n", n.Streamer, n.Platform)
		if dets, ok := n.Details["detections"].([]models.Detection); ok {
			for _, d := range dets {
				fmt.Fprintf(&b, "  %s (%.0f%%)\n", d.Class, d.Confidence*100)
			}
		}
	case models.EventAudioDetection:
		subject = fmt.Sprintf("Audio keyword on %s", n.Streamer)
		fmt.Fprintf(&b, "Flagged keyword heard on %s (%s)\n", n.Streamer, n.Platform)
		if kw, ok := n.Details["keyword"].(string); ok {
			fmt.Fprintf(&b, "  keyword: %s\n", kw)
		}
		if tr, ok := n.Details["transcription"].(string); ok && tr != "" {
			fmt.Fprintf(&b, "  transcript: %s\n", tr)
		}
	case models.EventChatDetection:
		subject = fmt.Sprintf("Chat keyword on %s", n.Streamer)
		fmt.Fprintf(&b, "Flagged chat message on %s (%s)\n", n.Streamer, n.Platform)
		appendChatDetail(&b, n.Details)
	case models.EventChatSentimentDetection:
		subject = fmt.Sprintf("Negative chat sentiment on %s", n.Streamer)
		fmt.Fprintf(&b, "Negative sentiment in %s chat (%s)\n", n.Streamer, n.Platform)
		appendChatDetail(&b, n.Details)
	case models.EventStreamStatusUpdate:
		status := statusFromDetails(n.Details)
		subject = fmt.Sprintf("Stream %s is %s", n.Streamer, status)
		fmt.Fprintf(&b, "%s (%s) changed status to %s\n", n.Streamer, n.Platform, status)
	case models.EventStreamCreated:
		subject = fmt.Sprintf("Now monitoring %s", n.Streamer)
		fmt.Fprintf(&b, "%s (%s) was added for monitoring\n", n.Streamer, n.Platform)
	default:
		subject = fmt.Sprintf("Alert on %s", n.Streamer)
		fmt.Fprintf(&b, "%s event on %s (%s)\n", n.EventType, n.Streamer, n.Platform)
	}
	fmt.Fprintf(&b, "Room: %s\nAssigned agent: %s\nTime: %s",
		n.RoomURL, n.AssignedAgent, n.Timestamp.UTC().Format(time.RFC3339))
	return subject, b.String()
}

func appendChatDetail(b *strings.Builder, details map[string]any) {
	if m, ok := details["detection"].(map[string]any); ok {
		if user, ok := m["username"].(string); ok {
			fmt.Fprintf(b, "  from: %s\n", user)
		}
		if kw, ok := m["keyword"].(string); ok && kw != "" {
			fmt.Fprintf(b, "  keyword: %s\n", kw)
		}
		if text, ok := m["message"].(string); ok && text != "" {
			fmt.Fprintf(b, "  message: %s\n", text)
		}
		if score, ok := m["sentiment_score"].(float64); ok {
			fmt.Fprintf(b, "  sentiment: %.2f\n", score)
		}
	}
}

func statusFromDetails(details map[string]any) models.StreamStatus {
	if s, ok := details["status"].(string); ok {
		return models.StreamStatus(s)
	}
	return models.StreamUnknown
}
