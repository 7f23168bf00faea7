package supervisor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/streamvigil/vigil/config"
	"github.com/streamvigil/vigil/internal/chatfeed"
	"github.com/streamvigil/vigil/internal/cooldown"
	"github.com/streamvigil/vigil/internal/models"
	"github.com/streamvigil/vigil/internal/utils"
)

type fakeStreams struct {
	mu       sync.Mutex
	stream   models.Stream
	statuses []models.StreamStatus
}

func (f *fakeStreams) GetByID(context.Context, uint) (*models.Stream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := f.stream
	return &s, nil
}

func (f *fakeStreams) SetStatus(_ context.Context, _ uint, status models.StreamStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stream.Status = status
	f.statuses = append(f.statuses, status)
	return nil
}

func (f *fakeStreams) ListMonitored(context.Context) ([]models.Stream, error) {
	return []models.Stream{f.stream}, nil
}

func (f *fakeStreams) Create(context.Context, *models.Stream) error { return nil }
func (f *fakeStreams) GetByRoomURL(context.Context, string) (*models.Stream, error) {
	return nil, utils.E(utils.CodeNotFound, "fake", "not found", nil)
}
func (f *fakeStreams) SetMonitored(_ context.Context, _ uint, monitored bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stream.IsMonitored = monitored
	return nil
}
func (f *fakeStreams) SetMediaURL(context.Context, uint, string) error   { return nil }
func (f *fakeStreams) SetBroadcasterUID(context.Context, uint, string) error { return nil }
func (f *fakeStreams) Delete(context.Context, uint) error                { return nil }

type fakePolicy struct {
	keywords []string
	objects  map[string]float64
}

func (f *fakePolicy) Keywords(context.Context) ([]string, error)            { return f.keywords, nil }
func (f *fakePolicy) FlaggedObjects(context.Context) (map[string]float64, error) {
	return f.objects, nil
}

type fakeRefresher struct {
	url string
	err error
}

func (f *fakeRefresher) Refresh(_ context.Context, s *models.Stream) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	s.MediaURL = f.url
	return f.url, nil
}

type fakeProber struct{ ok bool }

func (f *fakeProber) Available(context.Context, string) bool { return f.ok }

type recordedEvent struct {
	eventType models.EventType
	details   map[string]any
	image     []byte
}

type fakeSink struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (f *fakeSink) Record(_ context.Context, et models.EventType, _ *models.Stream, details map[string]any, image []byte) (*models.DetectionLog, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, recordedEvent{eventType: et, details: details, image: image})
	return &models.DetectionLog{ID: uint(len(f.events))}, nil
}

func (f *fakeSink) byType(et models.EventType) []recordedEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []recordedEvent
	for _, ev := range f.events {
		if ev.eventType == et {
			out = append(out, ev)
		}
	}
	return out
}

type blockingChat struct{}

func (blockingChat) Run(ctx context.Context, _ *models.Stream, _ chatfeed.HitFunc) {
	<-ctx.Done()
}

type fakeVision struct {
	detections []models.Detection
}

func (f *fakeVision) Detect(context.Context, []byte, map[string]float64) ([]models.Detection, error) {
	return append([]models.Detection(nil), f.detections...), nil
}
func (f *fakeVision) Reload()      {}
func (f *fakeVision) Close() error { return nil }

type fakeSTT struct{ text string }

func (f *fakeSTT) Transcribe(context.Context, []float32, int) (string, error) { return f.text, nil }
func (f *fakeSTT) Close() error                                               { return nil }

func testSettings() *config.Settings {
	return &config.Settings{
		ContinuousMonitoring: true,
		VisualAlertCooldown:  30 * time.Second,
		AudioAlertCooldown:   60 * time.Second,
		ChatAlertCooldown:    45 * time.Second,
		AudioSampleDuration:  30 * time.Second,
		VideoSampleInterval:  5 * time.Second,
	}
}

func testDeps(streams *fakeStreams, sink *fakeSink) Deps {
	return Deps{
		Settings:  testSettings(),
		Streams:   streams,
		Policy:    &fakePolicy{},
		Resolver:  &fakeRefresher{url: "https://cdn/a.m3u8"},
		Prober:    &fakeProber{ok: true},
		Sink:      sink,
		Cooldowns: cooldown.NewTable(),
	}
}

func monitoredStream() models.Stream {
	return models.Stream{
		ID:               1,
		RoomURL:          "https://chaturbate.com/alice",
		Platform:         models.PlatformChaturbate,
		StreamerUsername: "alice",
		Status:           models.StreamUnknown,
		IsMonitored:      true,
		MediaURL:         "https://cdn/a.m3u8",
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for !cond() {
		select {
		case <-deadline:
			t.Fatal("condition never held")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestRegistryStartIsIdempotent(t *testing.T) {
	streams := &fakeStreams{stream: monitoredStream()}
	sink := &fakeSink{}
	deps := testDeps(streams, sink)
	deps.Chat = blockingChat{}
	deps.Settings.EnableChatMonitoring = true

	r := NewRegistry(deps)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	first := r.Start(ctx, 1)
	second := r.Start(ctx, 1)
	if first != second {
		t.Fatal("second Start must return the first handle")
	}
	if r.Size() != 1 {
		t.Fatalf("registry size = %d", r.Size())
	}
	r.StopAll()
	if r.Size() != 0 {
		t.Fatalf("registry size after StopAll = %d", r.Size())
	}
}

func TestRegistryReplacesFinishedSupervisor(t *testing.T) {
	stream := monitoredStream()
	stream.IsMonitored = false
	streams := &fakeStreams{stream: stream}
	deps := testDeps(streams, &fakeSink{})
	deps.Chat = blockingChat{}
	deps.Settings.EnableChatMonitoring = true

	r := NewRegistry(deps)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	first := r.Start(ctx, 1)
	waitFor(t, func() bool { return first.State() == StateStopped })

	streams.mu.Lock()
	streams.stream.IsMonitored = true
	streams.mu.Unlock()

	second := r.Start(ctx, 1)
	if second == first {
		t.Fatal("a finished supervisor must be replaced, not returned")
	}
	waitFor(t, func() bool { return second.State() == StateRunning })
	r.StopAll()
}

func TestSupervisorExitsWhenUnmonitored(t *testing.T) {
	stream := monitoredStream()
	stream.IsMonitored = false
	streams := &fakeStreams{stream: stream}
	s := New(1, testDeps(streams, &fakeSink{}))

	s.Start(context.Background())
	waitFor(t, func() bool { return s.State() == StateStopped })
}

func TestSupervisorExitsWhenContinuousMonitoringOff(t *testing.T) {
	streams := &fakeStreams{stream: monitoredStream()}
	deps := testDeps(streams, &fakeSink{})
	deps.Settings.ContinuousMonitoring = false
	s := New(1, deps)

	s.Start(context.Background())
	waitFor(t, func() bool { return s.State() == StateStopped })
}

func TestSupervisorMarksOfflineWhenResolutionFails(t *testing.T) {
	stream := monitoredStream()
	stream.MediaURL = ""
	streams := &fakeStreams{stream: stream}
	sink := &fakeSink{}
	deps := testDeps(streams, sink)
	deps.Prober = &fakeProber{ok: false}
	deps.Resolver = &fakeRefresher{err: errors.New("edge refused")}
	s := New(1, deps)

	s.Start(context.Background())
	waitFor(t, func() bool { return s.State() == StateOffline })

	events := sink.byType(models.EventStreamStatusUpdate)
	if len(events) != 1 || events[0].details["status"] != "offline" {
		t.Fatalf("status events = %+v", events)
	}
	streams.mu.Lock()
	defer streams.mu.Unlock()
	if streams.stream.Status != models.StreamOffline {
		t.Fatalf("persisted status = %s", streams.stream.Status)
	}
	if streams.stream.IsMonitored {
		t.Fatal("offline streams must leave the monitored set")
	}
}

func TestSupervisorAnnouncesMonitoringAndStops(t *testing.T) {
	streams := &fakeStreams{stream: monitoredStream()}
	sink := &fakeSink{}
	deps := testDeps(streams, sink)
	deps.Chat = blockingChat{}
	deps.Settings.EnableChatMonitoring = true
	s := New(1, deps)

	s.Start(context.Background())
	waitFor(t, func() bool { return s.State() == StateRunning })

	events := sink.byType(models.EventStreamStatusUpdate)
	if len(events) != 1 || events[0].details["status"] != "monitoring" {
		t.Fatalf("status events = %+v", events)
	}

	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * stopTimeout):
		t.Fatal("Stop must return promptly")
	}
	if s.State() != StateStopped {
		t.Fatalf("state after Stop = %s", s.State())
	}

	var stopped []recordedEvent
	for _, ev := range sink.byType(models.EventStreamStatusUpdate) {
		if ev.details["status"] == string(models.StreamStopped) {
			stopped = append(stopped, ev)
		}
	}
	if len(stopped) != 1 {
		t.Fatalf("want exactly one stopped status event after Stop, got %d (all: %+v)",
			len(stopped), sink.byType(models.EventStreamStatusUpdate))
	}
	streams.mu.Lock()
	defer streams.mu.Unlock()
	if streams.stream.Status != models.StreamStopped {
		t.Fatalf("persisted status after Stop = %s", streams.stream.Status)
	}
}

func TestStopAfterOfflineStaysQuiet(t *testing.T) {
	stream := monitoredStream()
	stream.MediaURL = ""
	streams := &fakeStreams{stream: stream}
	sink := &fakeSink{}
	deps := testDeps(streams, sink)
	deps.Prober = &fakeProber{ok: false}
	deps.Resolver = &fakeRefresher{err: errors.New("edge refused")}
	s := New(1, deps)

	s.Start(context.Background())
	waitFor(t, func() bool { return s.State() == StateOffline })
	s.Stop()

	for _, ev := range sink.byType(models.EventStreamStatusUpdate) {
		if ev.details["status"] == string(models.StreamStopped) {
			t.Fatal("a stream that went offline must not also announce stopped")
		}
	}
}

func TestHandleFrameAppliesCooldownPerClass(t *testing.T) {
	streams := &fakeStreams{stream: monitoredStream()}
	sink := &fakeSink{}
	deps := testDeps(streams, sink)
	deps.Policy = &fakePolicy{objects: map[string]float64{"knife": 0.5}}
	deps.Vision = &fakeVision{detections: []models.Detection{{Class: "knife", Confidence: 0.9, BBox: [4]int{1, 1, 5, 5}}}}
	s := New(1, deps)
	stream := monitoredStream()

	s.handleFrame(context.Background(), &stream, []byte{0xFF, 0xD8, 0xFF, 0xD9})
	s.handleFrame(context.Background(), &stream, []byte{0xFF, 0xD8, 0xFF, 0xD9})

	events := sink.byType(models.EventObjectDetection)
	if len(events) != 1 {
		t.Fatalf("expected one alert inside the cooldown window, got %d", len(events))
	}
	if len(events[0].image) == 0 {
		t.Fatal("object detection must carry the annotated frame")
	}
}

func TestHandleFrameSkipsEmptyPolicy(t *testing.T) {
	streams := &fakeStreams{stream: monitoredStream()}
	sink := &fakeSink{}
	deps := testDeps(streams, sink)
	deps.Vision = &fakeVision{detections: []models.Detection{{Class: "knife"}}}
	s := New(1, deps)
	stream := monitoredStream()

	s.handleFrame(context.Background(), &stream, []byte{0xFF, 0xD8})
	if len(sink.events) != 0 {
		t.Fatalf("no policy, no alerts; got %+v", sink.events)
	}
}

func TestHandleSegmentRecordsKeywordHits(t *testing.T) {
	streams := &fakeStreams{stream: monitoredStream()}
	sink := &fakeSink{}
	deps := testDeps(streams, sink)
	deps.Policy = &fakePolicy{keywords: []string{"gun", "knife"}}
	deps.STT = &fakeSTT{text: "he waved a gun around"}
	s := New(1, deps)
	stream := monitoredStream()

	pcm := make([]float32, 16000)
	pcm[0] = 0.5
	s.handleSegment(context.Background(), &stream, pcm, 16000)

	events := sink.byType(models.EventAudioDetection)
	if len(events) != 1 {
		t.Fatalf("audio events = %+v", events)
	}
	if events[0].details["keyword"] != "gun" {
		t.Fatalf("keyword = %v", events[0].details["keyword"])
	}
	if events[0].details["transcription"] != "he waved a gun around" {
		t.Fatalf("transcription = %v", events[0].details["transcription"])
	}

	// same keyword inside the cooldown window stays quiet
	s.handleSegment(context.Background(), &stream, pcm, 16000)
	if got := len(sink.byType(models.EventAudioDetection)); got != 1 {
		t.Fatalf("cooldown must hold, got %d events", got)
	}
}

func TestHandleSegmentSkipsSilence(t *testing.T) {
	streams := &fakeStreams{stream: monitoredStream()}
	sink := &fakeSink{}
	deps := testDeps(streams, sink)
	deps.STT = &fakeSTT{text: "should never run"}
	s := New(1, deps)
	stream := monitoredStream()

	s.handleSegment(context.Background(), &stream, make([]float32, 16000), 16000)
	if len(sink.events) != 0 {
		t.Fatalf("silent segments must be skipped, got %+v", sink.events)
	}
}

func TestChatHitsMapToEvents(t *testing.T) {
	streams := &fakeStreams{stream: monitoredStream()}
	sink := &fakeSink{}
	s := New(1, testDeps(streams, sink))
	stream := monitoredStream()
	onHit := s.handleChatHit(&stream)

	onHit(context.Background(), models.ChatHit{
		Kind: models.HitKeyword, Keyword: "gun", Username: "troll1", Message: "gun for sale",
	})
	onHit(context.Background(), models.ChatHit{
		Kind: models.HitSentiment, Score: -0.8, Username: "troll2", Message: "awful",
	})
	// repeats inside the window
	onHit(context.Background(), models.ChatHit{
		Kind: models.HitKeyword, Keyword: "gun", Username: "troll3", Message: "gun again",
	})
	onHit(context.Background(), models.ChatHit{
		Kind: models.HitSentiment, Score: -0.9, Username: "troll2", Message: "worse",
	})

	if got := len(sink.byType(models.EventChatDetection)); got != 1 {
		t.Fatalf("chat keyword events = %d", got)
	}
	sentiments := sink.byType(models.EventChatSentimentDetection)
	if len(sentiments) != 1 {
		t.Fatalf("sentiment events = %d", len(sentiments))
	}
	det := sentiments[0].details["detection"].(map[string]any)
	if det["username"] != "troll2" || det["sentiment_score"] != -0.8 {
		t.Fatalf("sentiment detail = %+v", det)
	}

	// a different chatter's sentiment is an independent trigger
	onHit(context.Background(), models.ChatHit{
		Kind: models.HitSentiment, Score: -0.7, Username: "troll9", Message: "bad",
	})
	if got := len(sink.byType(models.EventChatSentimentDetection)); got != 2 {
		t.Fatalf("per-user sentiment cooldown broken, got %d", got)
	}
}
