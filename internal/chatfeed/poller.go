// Package chatfeed polls platform chat endpoints, normalizes messages, and
// runs them through the keyword and sentiment analyzers.
package chatfeed

import (
	"context"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/streamvigil/vigil/internal/models"
	"github.com/streamvigil/vigil/internal/providers/sentiment"
	"github.com/streamvigil/vigil/internal/proxy"
	"github.com/streamvigil/vigil/internal/repositories/postgres"
)

const (
	pollPeriod   = 30 * time.Second
	pollAttempts = 3

	browserUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"
	csrfToken = "UFVlfFcsEprIeaNQiyIaQAVGUpOcshar"
)

// HitFunc receives each policy hit in message order.
type HitFunc func(ctx context.Context, hit models.ChatHit)

type Poller struct {
	pool    *proxy.Pool
	streams postgres.StreamRepository
	policy  postgres.PolicyRepository
	scorer  sentiment.Analyzer

	threshold float64
	log       *logrus.Entry
}

func NewPoller(
	pool *proxy.Pool,
	streams postgres.StreamRepository,
	policy postgres.PolicyRepository,
	scorer sentiment.Analyzer,
	threshold float64,
	log *logrus.Logger,
) *Poller {
	if log == nil {
		log = logrus.New()
	}
	return &Poller{
		pool:      pool,
		streams:   streams,
		policy:    policy,
		scorer:    scorer,
		threshold: threshold,
		log:       log.WithField("component", "chatfeed"),
	}
}

// Fetch pulls one batch of normalized messages for the stream's platform.
func (p *Poller) Fetch(ctx context.Context, stream *models.Stream) ([]models.ChatMessage, error) {
	switch stream.Platform {
	case models.PlatformChaturbate:
		return p.fetchChaturbate(ctx, stream)
	case models.PlatformStripchat:
		return p.fetchStripchat(ctx, stream)
	default:
		return nil, fmt.Errorf("unsupported platform %q", stream.Platform)
	}
}

// Run polls the stream's chat until ctx is cancelled, feeding every policy
// hit to onHit in message order. The first poll is skewed per stream so a
// fleet of pollers does not wake at once.
func (p *Poller) Run(ctx context.Context, stream *models.Stream, onHit HitFunc) {
	log := p.log.WithFields(logrus.Fields{"room_url": stream.RoomURL, "platform": stream.Platform})

	select {
	case <-ctx.Done():
		return
	case <-time.After(pollJitter(stream.RoomURL)):
	}

	ticker := time.NewTicker(pollPeriod)
	defer ticker.Stop()

	var lastSeen time.Time
	for {
		msgs, err := p.fetchWithRetry(ctx, stream)
		if err != nil {
			log.WithError(err).Debug("chat poll failed")
		}
		lastSeen = p.processBatch(ctx, log, msgs, lastSeen, onHit)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// processBatch runs one cycle's messages through the analyzers, reading the
// keyword policy once for the whole batch. Returns the newest analyzed
// timestamp.
func (p *Poller) processBatch(ctx context.Context, log *logrus.Entry, msgs []models.ChatMessage, lastSeen time.Time, onHit HitFunc) time.Time {
	if len(msgs) == 0 {
		return lastSeen
	}
	keywords, err := p.policy.Keywords(ctx)
	if err != nil {
		log.WithError(err).Warn("failed to load chat keywords")
		return lastSeen
	}

	for _, msg := range msgs {
		// history endpoints replay the tail; only analyze new lines
		if !msg.Timestamp.After(lastSeen) {
			continue
		}
		lastSeen = msg.Timestamp

		for _, hit := range Analyze(ctx, msg, keywords, p.scorer, p.threshold) {
			onHit(ctx, hit)
		}
	}
	return lastSeen
}

func (p *Poller) fetchWithRetry(ctx context.Context, stream *models.Stream) ([]models.ChatMessage, error) {
	var lastErr error
	for attempt := 0; attempt < pollAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Second):
			}
		}
		msgs, err := p.Fetch(ctx, stream)
		if err == nil {
			return msgs, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

// pollJitter spreads poll phases across streams deterministically.
func pollJitter(roomURL string) time.Duration {
	h := fnv.New32a()
	_, _ = h.Write([]byte(roomURL))
	return time.Duration(h.Sum32()%uint32(pollPeriod/time.Millisecond)) * time.Millisecond
}
