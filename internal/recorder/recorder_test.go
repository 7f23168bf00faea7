package recorder

import (
	"context"
	"sync"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/streamvigil/vigil/internal/models"
	"github.com/streamvigil/vigil/internal/repositories/postgres"
	"github.com/streamvigil/vigil/internal/utils"
	"gorm.io/gorm"
)

type fakeDispatcher struct {
	mu     sync.Mutex
	calls  []models.Notification
	images [][]byte
}

func (f *fakeDispatcher) Dispatch(_ context.Context, n models.Notification, image []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, n)
	f.images = append(f.images, image)
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(
		&models.User{}, &models.Stream{}, &models.Assignment{}, &models.DetectionLog{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func seed(t *testing.T, db *gorm.DB) (*models.Stream, *models.User) {
	t.Helper()
	agent := &models.User{Username: "agent_smith", Role: models.RoleAgent, ReceiveUpdates: true}
	if err := db.Create(agent).Error; err != nil {
		t.Fatal(err)
	}
	stream := &models.Stream{
		RoomURL:          "https://chaturbate.com/alice",
		Platform:         models.PlatformChaturbate,
		StreamerUsername: "alice",
		Status:           models.StreamOnline,
	}
	if err := db.Create(stream).Error; err != nil {
		t.Fatal(err)
	}
	if err := db.Create(&models.Assignment{AgentID: agent.ID, StreamID: stream.ID, Active: true}).Error; err != nil {
		t.Fatal(err)
	}
	return stream, agent
}

func TestRecordObjectDetection(t *testing.T) {
	db := newTestDB(t)
	stream, agent := seed(t, db)
	disp := &fakeDispatcher{}
	rec := New(db, postgres.NewAssignmentRepo(db), postgres.NewDetectionRepo(db), disp, nil)

	details := map[string]any{
		"detections": []any{map[string]any{"class": "knife", "confidence": 0.91}},
	}
	entry, err := rec.Record(context.Background(), models.EventObjectDetection, stream, details, []byte{0xFF, 0xD8, 0xFF, 0xD9})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if entry.ID == 0 {
		t.Fatal("entry must be persisted")
	}
	if !entry.HasImage() {
		t.Fatal("object detection must keep its image")
	}
	if entry.AssignedAgent == nil || *entry.AssignedAgent != agent.ID {
		t.Fatal("assignment must be resolved")
	}
	if entry.Details["assigned_agent"] != "agent_smith" {
		t.Fatalf("details.assigned_agent = %v", entry.Details["assigned_agent"])
	}

	if len(disp.calls) != 1 {
		t.Fatalf("expected one dispatch, got %d", len(disp.calls))
	}
	if disp.calls[0].AssignedAgent != "agent_smith" || disp.calls[0].StreamID != stream.ID {
		t.Fatalf("bad notification %+v", disp.calls[0])
	}
}

func TestRecordObjectDetectionRequiresImage(t *testing.T) {
	db := newTestDB(t)
	stream, _ := seed(t, db)
	rec := New(db, postgres.NewAssignmentRepo(db), postgres.NewDetectionRepo(db), &fakeDispatcher{}, nil)

	_, err := rec.Record(context.Background(), models.EventObjectDetection, stream,
		map[string]any{"detections": []any{map[string]any{"class": "knife"}}}, nil)
	if !utils.IsCode(err, utils.CodeInvalidArgument) {
		t.Fatalf("expected INVALID_ARGUMENT, got %v", err)
	}

	_, err = rec.Record(context.Background(), models.EventObjectDetection, stream,
		map[string]any{"detections": []any{}}, []byte{1})
	if !utils.IsCode(err, utils.CodeInvalidArgument) {
		t.Fatalf("expected INVALID_ARGUMENT for empty detections, got %v", err)
	}
}

func TestRecordUnassignedStream(t *testing.T) {
	db := newTestDB(t)
	stream := &models.Stream{RoomURL: "https://stripchat.com/bob", Platform: models.PlatformStripchat}
	if err := db.Create(stream).Error; err != nil {
		t.Fatal(err)
	}
	disp := &fakeDispatcher{}
	rec := New(db, postgres.NewAssignmentRepo(db), postgres.NewDetectionRepo(db), disp, nil)

	entry, err := rec.Record(context.Background(), models.EventChatDetection, stream,
		map[string]any{"detection": map[string]any{"keyword": "gun"}}, nil)
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if entry.Details["assigned_agent"] != "Unassigned" {
		t.Fatalf("expected Unassigned, got %v", entry.Details["assigned_agent"])
	}
	if entry.AssignmentID != nil {
		t.Fatal("unassigned stream must not carry an assignment id")
	}
	if len(disp.calls) != 1 || disp.calls[0].AssignedAgent != "Unassigned" {
		t.Fatalf("bad dispatch %+v", disp.calls)
	}
}

type fakeUsers struct {
	users map[uint]models.User
	gets  int
}

func (f *fakeUsers) GetByID(_ context.Context, id uint) (*models.User, error) {
	f.gets++
	u, ok := f.users[id]
	if !ok {
		return nil, utils.E(utils.CodeNotFound, "fakeUsers.GetByID", "no such user", nil)
	}
	return &u, nil
}

func (f *fakeUsers) ListAll(context.Context) ([]models.User, error) {
	var all []models.User
	for _, u := range f.users {
		all = append(all, u)
	}
	return all, nil
}

func (f *fakeUsers) ListAdmins(context.Context) ([]models.User, error)    { return nil, nil }
func (f *fakeUsers) ListReceivers(context.Context) ([]models.User, error) { return nil, nil }

func TestAgentNameLookupIsCached(t *testing.T) {
	db := newTestDB(t)
	users := &fakeUsers{users: map[uint]models.User{7: {ID: 7, Username: "agent_jones"}}}
	rec := New(db, postgres.NewAssignmentRepo(db), postgres.NewDetectionRepo(db), &fakeDispatcher{}, nil).
		WithUsers(users)

	for i := 0; i < 3; i++ {
		name, ok := rec.lookupAgentName(context.Background(), 7)
		if !ok || name != "agent_jones" {
			t.Fatalf("lookup %d = %q, %v", i, name, ok)
		}
	}
	if users.gets != 1 {
		t.Fatalf("expected a single repo hit, got %d", users.gets)
	}

	if _, ok := rec.lookupAgentName(context.Background(), 99); ok {
		t.Fatal("unknown agent must miss")
	}
}

func TestDuplicateRowsArePermitted(t *testing.T) {
	db := newTestDB(t)
	stream, _ := seed(t, db)
	rec := New(db, postgres.NewAssignmentRepo(db), postgres.NewDetectionRepo(db), &fakeDispatcher{}, nil)

	details := map[string]any{"detection": map[string]any{"keyword": "gun"}}
	for i := 0; i < 2; i++ {
		if _, err := rec.Record(context.Background(), models.EventChatDetection, stream, details, nil); err != nil {
			t.Fatalf("Record %d: %v", i, err)
		}
	}

	var count int64
	db.Model(&models.DetectionLog{}).Count(&count)
	if count != 2 {
		t.Fatalf("dedup belongs to the cooldown table, expected 2 rows, got %d", count)
	}
}
