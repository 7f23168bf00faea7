// Package supervisor owns the lifecycle of one monitored stream: resolve the
// media URL, fan out into the enabled analysis pipelines, refresh on stream
// end, and mark the stream offline when the source is gone.
package supervisor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/streamvigil/vigil/config"
	"github.com/streamvigil/vigil/internal/cache"
	"github.com/streamvigil/vigil/internal/chatfeed"
	"github.com/streamvigil/vigil/internal/cooldown"
	"github.com/streamvigil/vigil/internal/media"
	"github.com/streamvigil/vigil/internal/models"
	"github.com/streamvigil/vigil/internal/providers/stt"
	"github.com/streamvigil/vigil/internal/providers/vision"
	"github.com/streamvigil/vigil/internal/repositories/postgres"
	"github.com/streamvigil/vigil/internal/transcripts"
)

type State string

const (
	StateIdle       State = "idle"
	StateResolving  State = "resolving"
	StateRunning    State = "running"
	StateRefreshing State = "refreshing"
	StateStopping   State = "stopping"
	StateStopped    State = "stopped"
	StateOffline    State = "offline"
)

const stopTimeout = 2 * time.Second

// Refresher re-resolves and persists a stream's media URL.
type Refresher interface {
	Refresh(ctx context.Context, s *models.Stream) (string, error)
}

// Availability probes whether a media URL still serves.
type Availability interface {
	Available(ctx context.Context, url string) bool
}

// Sink persists a detection and triggers alert fan-out.
type Sink interface {
	Record(ctx context.Context, eventType models.EventType, s *models.Stream, details map[string]any, image []byte) (*models.DetectionLog, error)
}

// ChatSource runs the platform chat poll loop for one stream.
type ChatSource interface {
	Run(ctx context.Context, s *models.Stream, onHit chatfeed.HitFunc)
}

// Deps carries everything one supervisor needs. All fields except the
// optional ones must be set.
type Deps struct {
	Settings *config.Settings
	Streams  postgres.StreamRepository
	Policy   postgres.PolicyRepository

	Resolver Refresher
	Prober   Availability
	Sink     Sink

	Vision vision.Provider       // nil disables the video pipeline
	STT    stt.Provider          // nil disables the audio pipeline
	Chat   ChatSource            // nil disables the chat pipeline
	Writer *transcripts.Writer   // optional transcript persistence

	Cooldowns *cooldown.Table
	Cache     cache.Cache // optional media URL cache
	Log       *logrus.Logger
}

type Supervisor struct {
	streamID uint
	deps     Deps
	log      *logrus.Entry

	mu     sync.Mutex
	state  State
	cancel context.CancelFunc
	done   chan struct{}
}

func New(streamID uint, deps Deps) *Supervisor {
	if deps.Log == nil {
		deps.Log = logrus.New()
	}
	if deps.Cooldowns == nil {
		deps.Cooldowns = cooldown.NewTable()
	}
	return &Supervisor{
		streamID: streamID,
		deps:     deps,
		state:    StateIdle,
		log: deps.Log.WithFields(logrus.Fields{
			"component": "supervisor",
			"stream_id": streamID,
		}),
	}
}

func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Supervisor) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
	s.log.WithField("state", st).Debug("state transition")
}

// Start launches the supervision loop. Calling Start on a running supervisor
// is a no-op.
func (s *Supervisor) Start(ctx context.Context) {
	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	done := s.done
	s.mu.Unlock()

	go func() {
		defer close(done)
		s.run(runCtx)
	}()
}

// Stop cancels the loop and waits for it to wind down, bounded by
// stopTimeout.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	done := s.done
	s.cancel = nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	s.setState(StateStopping)
	cancel()
	select {
	case <-done:
	case <-time.After(stopTimeout):
		s.log.Warn("supervisor did not stop in time")
	}
	s.announceStopped()
	s.setState(StateStopped)
}

// announceStopped emits the terminal status event for an operator stop.
// Streams that already left monitoring on their own (offline, unmonitored
// mid-run) have announced their terminal status already.
func (s *Supervisor) announceStopped() {
	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()

	stream, err := s.deps.Streams.GetByID(ctx, s.streamID)
	if err != nil {
		s.log.WithError(err).Warn("stopped status not announced")
		return
	}
	if stream.Status != models.StreamMonitoring {
		return
	}
	s.announceStatus(ctx, stream, models.StreamStopped)
}

// Done exposes the loop's completion channel for joiners.
func (s *Supervisor) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

func (s *Supervisor) run(ctx context.Context) {
	if !s.deps.Settings.ContinuousMonitoring {
		s.log.Info("continuous monitoring disabled, supervisor exits")
		s.setState(StateStopped)
		return
	}

	for {
		if ctx.Err() != nil {
			return
		}
		s.setState(StateResolving)

		stream, err := s.deps.Streams.GetByID(ctx, s.streamID)
		if err != nil {
			s.log.WithError(err).Error("stream row unavailable, supervisor exits")
			s.setState(StateStopped)
			return
		}
		if !stream.IsMonitored {
			s.log.Info("stream unmonitored, supervisor exits")
			s.setState(StateStopped)
			return
		}

		if !s.ensureMediaURL(ctx, stream) {
			if ctx.Err() == nil {
				s.markOffline(ctx, stream)
			}
			return
		}

		s.announceStatus(ctx, stream, models.StreamMonitoring)
		s.setState(StateRunning)

		err = s.runPipelines(ctx, stream)
		switch {
		case ctx.Err() != nil:
			return
		case errors.Is(err, media.ErrStreamEnded):
			s.setState(StateRefreshing)
			s.log.Info("media source ended, refreshing")
			// loop: the next iteration re-probes and re-resolves
		case err != nil:
			s.log.WithError(err).Warn("pipelines failed, refreshing")
			s.setState(StateRefreshing)
		}
	}
}

// ensureMediaURL probes the stored URL and re-resolves when it is missing or
// dead. False means the stream is offline or resolution failed.
func (s *Supervisor) ensureMediaURL(ctx context.Context, stream *models.Stream) bool {
	if stream.MediaURL != "" && s.deps.Prober.Available(ctx, stream.MediaURL) {
		return true
	}

	if s.deps.Cache != nil {
		var cached string
		if hit, _ := s.deps.Cache.GetJSON(ctx, cache.MediaURLKey(stream.RoomURL), &cached); hit &&
			cached != "" && cached != stream.MediaURL && s.deps.Prober.Available(ctx, cached) {
			stream.MediaURL = cached
			return true
		}
	}

	url, err := s.deps.Resolver.Refresh(ctx, stream)
	if err != nil {
		s.log.WithError(err).Info("media url refresh failed")
		return false
	}
	stream.MediaURL = url
	if s.deps.Cache != nil {
		_ = s.deps.Cache.SetJSON(ctx, cache.MediaURLKey(stream.RoomURL), url, 10*time.Minute)
	}
	return true
}

// markOffline records the transition and retires the stream from monitoring
// until an operator re-enables it.
func (s *Supervisor) markOffline(ctx context.Context, stream *models.Stream) {
	s.setState(StateOffline)
	s.announceStatus(ctx, stream, models.StreamOffline)
	if err := s.deps.Streams.SetMonitored(ctx, stream.ID, false); err != nil {
		s.log.WithError(err).Error("unmonitor persist failed")
	}
	s.deps.Cooldowns.Forget(stream.ID)
	if s.deps.Cache != nil {
		_ = s.deps.Cache.Del(ctx, cache.MediaURLKey(stream.RoomURL))
	}
}

// announceStatus persists the status and records a status-change event when
// the status actually changed.
func (s *Supervisor) announceStatus(ctx context.Context, stream *models.Stream, status models.StreamStatus) {
	if stream.Status == status {
		return
	}
	if err := s.deps.Streams.SetStatus(ctx, stream.ID, status); err != nil {
		s.log.WithError(err).Error("status persist failed")
	}
	prev := stream.Status
	stream.Status = status
	if _, err := s.deps.Sink.Record(ctx, models.EventStreamStatusUpdate, stream, map[string]any{
		"status":          string(status),
		"previous_status": string(prev),
	}, nil); err != nil {
		s.log.WithError(err).Error("status event record failed")
	}
}

// runPipelines runs the enabled pipelines against one media URL until ctx is
// cancelled or any pipeline returns. The first error wins and cancels the
// rest.
func (s *Supervisor) runPipelines(ctx context.Context, stream *models.Stream) error {
	pctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 3)
	var wg sync.WaitGroup
	launch := func(fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(pctx); err != nil && pctx.Err() == nil {
				errCh <- err
			}
			cancel()
		}()
	}

	started := 0
	if s.deps.Settings.EnableVideoMonitoring && s.deps.Vision != nil {
		launch(func(ctx context.Context) error { return s.videoPipeline(ctx, stream) })
		started++
	}
	if s.deps.Settings.EnableAudioMonitoring && s.deps.STT != nil {
		launch(func(ctx context.Context) error { return s.audioPipeline(ctx, stream) })
		started++
	}
	if s.deps.Settings.EnableChatMonitoring && s.deps.Chat != nil {
		launch(func(ctx context.Context) error {
			s.deps.Chat.Run(ctx, stream, s.handleChatHit(stream))
			return ctx.Err()
		})
		started++
	}

	if started == 0 {
		<-ctx.Done()
		return ctx.Err()
	}

	wg.Wait()
	select {
	case err := <-errCh:
		return err
	default:
		return ctx.Err()
	}
}

func (s *Supervisor) videoPipeline(ctx context.Context, stream *models.Stream) error {
	d := &media.VideoDemuxer{
		URL:            stream.MediaURL,
		SampleInterval: s.deps.Settings.VideoSampleInterval,
		Log:            s.log.WithField("pipeline", "video"),
	}
	return d.Run(ctx, func(ctx context.Context, frame []byte) error {
		s.handleFrame(ctx, stream, frame)
		return nil
	})
}

// handleFrame runs one sampled frame through the detector and records hits
// that clear the per-class cooldown.
func (s *Supervisor) handleFrame(ctx context.Context, stream *models.Stream, frame []byte) {
	policy, err := s.deps.Policy.FlaggedObjects(ctx)
	if err != nil {
		s.log.WithError(err).Error("flagged objects unavailable")
		return
	}
	if len(policy) == 0 {
		return
	}

	detections, err := s.deps.Vision.Detect(ctx, frame, policy)
	if err != nil {
		s.log.WithError(err).Warn("detector failed")
		return
	}
	if len(detections) == 0 {
		return
	}

	now := time.Now()
	fresh := detections[:0]
	for _, d := range detections {
		if s.deps.Cooldowns.Fire(stream.ID, d.Class, now, s.deps.Settings.VisualAlertCooldown) {
			fresh = append(fresh, d)
		}
	}
	if len(fresh) == 0 {
		return
	}

	annotated := vision.Annotate(frame, fresh)
	if _, err := s.deps.Sink.Record(ctx, models.EventObjectDetection, stream, map[string]any{
		"detections": fresh,
	}, annotated); err != nil {
		s.log.WithError(err).Error("object detection record failed")
	}
}

func (s *Supervisor) audioPipeline(ctx context.Context, stream *models.Stream) error {
	d := &media.AudioDemuxer{
		URL:             stream.MediaURL,
		SegmentDuration: s.deps.Settings.AudioSampleDuration,
		Log:             s.log.WithField("pipeline", "audio"),
	}
	return d.Run(ctx, func(ctx context.Context, pcm []float32, sampleRate int) error {
		s.handleSegment(ctx, stream, pcm, sampleRate)
		return nil
	})
}

// handleSegment transcribes one audio segment, persists the transcript, and
// records keyword hits that clear the cooldown.
func (s *Supervisor) handleSegment(ctx context.Context, stream *models.Stream, pcm []float32, sampleRate int) {
	prepared := stt.Prepare(pcm, sampleRate)
	if prepared == nil {
		return
	}

	text, err := s.deps.STT.Transcribe(ctx, prepared, stt.TargetSampleRate)
	if err != nil {
		s.log.WithError(err).Warn("transcription failed")
		return
	}
	if text == "" {
		return
	}

	keywords, err := s.deps.Policy.Keywords(ctx)
	if err != nil {
		s.log.WithError(err).Error("keywords unavailable")
		return
	}

	if s.deps.Writer != nil {
		if _, err := s.deps.Writer.Write(ctx, stream.RoomURL, text, keywords, time.Now()); err != nil {
			s.log.WithError(err).Warn("transcript write failed")
		}
	}

	now := time.Now()
	for _, kw := range transcripts.MatchKeywords(text, keywords) {
		if !s.deps.Cooldowns.Fire(stream.ID, kw, now, s.deps.Settings.AudioAlertCooldown) {
			continue
		}
		if _, err := s.deps.Sink.Record(ctx, models.EventAudioDetection, stream, map[string]any{
			"keyword":       kw,
			"transcription": text,
		}, nil); err != nil {
			s.log.WithError(err).Error("audio detection record failed")
		}
	}
}

// handleChatHit maps chat analyzer hits to detection events, applying the
// chat cooldown per keyword and per flagged chatter.
func (s *Supervisor) handleChatHit(stream *models.Stream) chatfeed.HitFunc {
	return func(ctx context.Context, hit models.ChatHit) {
		now := time.Now()
		switch hit.Kind {
		case models.HitKeyword:
			if !s.deps.Cooldowns.Fire(stream.ID, hit.Keyword, now, s.deps.Settings.ChatAlertCooldown) {
				return
			}
			if _, err := s.deps.Sink.Record(ctx, models.EventChatDetection, stream, map[string]any{
				"detection": map[string]any{
					"keyword":  hit.Keyword,
					"username": hit.Username,
					"message":  hit.Message,
				},
			}, nil); err != nil {
				s.log.WithError(err).Error("chat detection record failed")
			}
		case models.HitSentiment:
			if !s.deps.Cooldowns.Fire(stream.ID, cooldown.SentimentTrigger(hit.Username), now, s.deps.Settings.ChatAlertCooldown) {
				return
			}
			if _, err := s.deps.Sink.Record(ctx, models.EventChatSentimentDetection, stream, map[string]any{
				"detection": map[string]any{
					"username":        hit.Username,
					"message":         hit.Message,
					"sentiment_score": hit.Score,
				},
			}, nil); err != nil {
				s.log.WithError(err).Error("chat sentiment record failed")
			}
		}
	}
}
