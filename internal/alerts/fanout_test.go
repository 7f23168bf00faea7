package alerts

import (
	"context"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/streamvigil/vigil/internal/models"
	"github.com/streamvigil/vigil/internal/utils"
)

type fakeUsers struct {
	users []models.User
}

func (f *fakeUsers) GetByID(_ context.Context, id uint) (*models.User, error) {
	for _, u := range f.users {
		if u.ID == id {
			out := u
			return &out, nil
		}
	}
	return nil, utils.E(utils.CodeNotFound, "fakeUsers.GetByID", "user not found", nil)
}

func (f *fakeUsers) ListAll(_ context.Context) ([]models.User, error) { return f.users, nil }

func (f *fakeUsers) ListAdmins(_ context.Context) ([]models.User, error) {
	var out []models.User
	for _, u := range f.users {
		if u.Role == models.RoleAdmin {
			out = append(out, u)
		}
	}
	return out, nil
}

func (f *fakeUsers) ListReceivers(_ context.Context) ([]models.User, error) {
	var out []models.User
	for _, u := range f.users {
		if u.ReceiveUpdates {
			out = append(out, u)
		}
	}
	return out, nil
}

type fakeRealtime struct {
	mu            sync.Mutex
	notifications []models.Notification
	streamUpdates []models.StreamUpdate
}

func (f *fakeRealtime) PublishNotification(n models.Notification) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notifications = append(f.notifications, n)
}

func (f *fakeRealtime) PublishStreamUpdate(u models.StreamUpdate) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.streamUpdates = append(f.streamUpdates, u)
}

type fakeQueue struct {
	chatIDs []string
	images  [][]byte
}

func (f *fakeQueue) Enqueue(_ context.Context, chatID, _ string, image []byte) error {
	f.chatIDs = append(f.chatIDs, chatID)
	f.images = append(f.images, image)
	return nil
}

type fakeMail struct {
	to []string
}

func (f *fakeMail) Send(_ context.Context, to, _, _ string) error {
	f.to = append(f.to, to)
	return nil
}

func testCrew() *fakeUsers {
	return &fakeUsers{users: []models.User{
		{ID: 1, Username: "boss", Role: models.RoleAdmin, Email: "boss@example.com", TelegramChatID: "100", ReceiveUpdates: true},
		{ID: 2, Username: "smith", Role: models.RoleAgent, Email: "smith@example.com", TelegramChatID: "200", ReceiveUpdates: true},
		{ID: 3, Username: "jones", Role: models.RoleAgent, Email: "jones@example.com", TelegramChatID: "300", ReceiveUpdates: true},
		{ID: 4, Username: "mute", Role: models.RoleAgent, Email: "mute@example.com", TelegramChatID: "400", ReceiveUpdates: false},
	}}
}

func notif(eventType models.EventType, agentID uint) models.Notification {
	return models.Notification{
		ID:        7,
		EventType: eventType,
		RoomURL:   "https://chaturbate.com/alice",
		StreamID:  5,
		Platform:  models.PlatformChaturbate,
		Streamer:  "alice",
		Timestamp: time.Now(),
		Details:   map[string]any{"detection": map[string]any{"keyword": "gun"}},
		AgentID:   agentID,
	}
}

func TestDispatchAssignedAgentAndAdmins(t *testing.T) {
	rt := &fakeRealtime{}
	tq := &fakeQueue{}
	mail := &fakeMail{}
	svc := NewService(testCrew(), rt, tq, mail, nil, nil)

	svc.Dispatch(context.Background(), notif(models.EventChatDetection, 2), nil)

	if len(rt.notifications) != 1 {
		t.Fatalf("realtime must always fire, got %d", len(rt.notifications))
	}
	sort.Strings(tq.chatIDs)
	want := []string{"100", "200"} // admin + assigned agent, not jones
	if len(tq.chatIDs) != 2 || tq.chatIDs[0] != want[0] || tq.chatIDs[1] != want[1] {
		t.Fatalf("telegram recipients = %v, want %v", tq.chatIDs, want)
	}
	sort.Strings(mail.to)
	if len(mail.to) != 2 || mail.to[0] != "boss@example.com" || mail.to[1] != "smith@example.com" {
		t.Fatalf("email recipients = %v", mail.to)
	}
}

func TestDispatchUnassignedBroadcastsToReceivers(t *testing.T) {
	tq := &fakeQueue{}
	svc := NewService(testCrew(), &fakeRealtime{}, tq, nil, nil, nil)

	svc.Dispatch(context.Background(), notif(models.EventChatDetection, 0), nil)

	sort.Strings(tq.chatIDs)
	want := []string{"100", "200", "300"} // everyone opted in, never "mute"
	if len(tq.chatIDs) != len(want) {
		t.Fatalf("telegram recipients = %v, want %v", tq.chatIDs, want)
	}
	for i := range want {
		if tq.chatIDs[i] != want[i] {
			t.Fatalf("telegram recipients = %v, want %v", tq.chatIDs, want)
		}
	}
}

func TestDispatchOptedOutAgentFallsBack(t *testing.T) {
	tq := &fakeQueue{}
	svc := NewService(testCrew(), &fakeRealtime{}, tq, nil, nil, nil)

	svc.Dispatch(context.Background(), notif(models.EventChatDetection, 4), nil)

	sort.Strings(tq.chatIDs)
	// assigned agent opted out: fall back to the broadcast set
	want := []string{"100", "200", "300"}
	if len(tq.chatIDs) != len(want) {
		t.Fatalf("telegram recipients = %v, want %v", tq.chatIDs, want)
	}
}

func TestDispatchStatusUpdateDebounced(t *testing.T) {
	tq := &fakeQueue{}
	rt := &fakeRealtime{}
	svc := NewService(testCrew(), rt, tq, nil, NewDebounce(300*time.Second), nil)

	n := notif(models.EventStreamStatusUpdate, 0)
	n.Details = map[string]any{"status": "offline"}

	svc.Dispatch(context.Background(), n, nil)
	svc.Dispatch(context.Background(), n, nil)

	if len(rt.notifications) != 1 {
		t.Fatalf("want exactly one realtime delivery inside the window, got %d", len(rt.notifications))
	}
	if len(rt.streamUpdates) != 1 {
		t.Fatalf("want exactly one stream update inside the window, got %d", len(rt.streamUpdates))
	}
	if len(tq.chatIDs) != 3 {
		t.Fatalf("second status change must be debounced, got %d deliveries", len(tq.chatIDs))
	}

	// a different status for the same stream passes immediately
	online := notif(models.EventStreamStatusUpdate, 0)
	online.Details = map[string]any{"status": "monitoring"}
	svc.Dispatch(context.Background(), online, nil)
	if len(rt.notifications) != 2 {
		t.Fatalf("distinct status must not be debounced, got %d", len(rt.notifications))
	}
}

func TestDispatchDetectionEventsNeverDebounced(t *testing.T) {
	rt := &fakeRealtime{}
	svc := NewService(testCrew(), rt, nil, nil, NewDebounce(300*time.Second), nil)

	n := notif(models.EventChatDetection, 2)
	svc.Dispatch(context.Background(), n, nil)
	svc.Dispatch(context.Background(), n, nil)

	if len(rt.notifications) != 2 {
		t.Fatalf("detection events bypass the status debounce, got %d", len(rt.notifications))
	}
}

func TestDispatchPassesImageThrough(t *testing.T) {
	tq := &fakeQueue{}
	svc := NewService(testCrew(), &fakeRealtime{}, tq, nil, nil, nil)

	n := notif(models.EventObjectDetection, 2)
	n.Details = map[string]any{"detections": []models.Detection{{Class: "knife", Confidence: 0.93}}}
	svc.Dispatch(context.Background(), n, []byte{0xFF, 0xD8})

	for _, img := range tq.images {
		if len(img) == 0 {
			t.Fatal("object detection deliveries must carry the annotated frame")
		}
	}
}

func TestRenderObjectDetection(t *testing.T) {
	n := notif(models.EventObjectDetection, 0)
	n.Details = map[string]any{"detections": []models.Detection{{Class: "knife", Confidence: 0.93}}}
	n.AssignedAgent = "smith"

	subject, body := Render(n)
	if subject != "Visual detection on alice" {
		t.Fatalf("subject = %q", subject)
	}
	for _, want := range []string{"knife", "93%", "smith", "https://chaturbate.com/alice"} {
		if !strings.Contains(body, want) {
			t.Fatalf("body missing %q:\n%s", want, body)
		}
	}
}
