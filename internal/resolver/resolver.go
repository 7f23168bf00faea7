// Package resolver turns a room URL into a playable HLS media URL. Platform
// scrapers are tried in order of cost: plain API calls first, a headless
// browser last. All outbound requests rotate through the shared proxy pool.
package resolver

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/streamvigil/vigil/internal/models"
	"github.com/streamvigil/vigil/internal/proxy"
	"github.com/streamvigil/vigil/internal/repositories/postgres"
)

// Resolution outcomes. Offline is terminal for the current call; everything
// else that survives the retry budget becomes ErrResolutionFailed.
var (
	ErrStreamOffline    = errors.New("resolver: stream is offline")
	ErrResolutionFailed = errors.New("resolver: could not resolve media url")
	ErrUnknownPlatform  = errors.New("resolver: unsupported platform")
)

var mediaURLRe = regexp.MustCompile(`^https?://[^\s]+\.m3u8`)

const (
	transientRetries = 15
	transientDelay   = time.Second
)

// ProgressFunc reports scrape progress. Percent values are forced monotonic
// by Banded, so UIs can animate without going backwards.
type ProgressFunc func(percent int, message string)

// Banded wraps fn so emitted percents stay inside [lo, hi] and never
// decrease.
func Banded(fn ProgressFunc, lo, hi int) ProgressFunc {
	if fn == nil {
		return func(int, string) {}
	}
	var mu sync.Mutex
	last := lo
	return func(percent int, message string) {
		mu.Lock()
		defer mu.Unlock()
		p := lo + (hi-lo)*percent/100
		if p < last {
			p = last
		}
		if p > hi {
			p = hi
		}
		last = p
		fn(p, message)
	}
}

type Resolver struct {
	pool    *proxy.Pool
	streams postgres.StreamRepository
	log     *logrus.Entry

	// browser strategies are skipped when false (tests, headless-less boxes)
	browserEnabled bool
}

func New(pool *proxy.Pool, streams postgres.StreamRepository, log *logrus.Logger) *Resolver {
	if log == nil {
		log = logrus.New()
	}
	return &Resolver{
		pool:           pool,
		streams:        streams,
		log:            log.WithField("component", "resolver"),
		browserEnabled: true,
	}
}

// Resolve produces the current HLS URL for (platform, roomURL). Strategies
// run in order; the first validated URL wins.
func (r *Resolver) Resolve(ctx context.Context, platform models.Platform, roomURL string, progress ProgressFunc) (string, error) {
	if progress == nil {
		progress = func(int, string) {}
	}
	slug := roomSlug(roomURL)
	log := r.log.WithFields(logrus.Fields{"room_url": roomURL, "platform": platform})

	type strategy struct {
		name string
		run  func(context.Context, string) (string, error)
	}

	var strategies []strategy
	switch platform {
	case models.PlatformChaturbate:
		strategies = []strategy{
			{"api", r.chaturbateAPI},
			{"curl", r.chaturbateCurl},
		}
		if r.browserEnabled {
			strategies = append(strategies, strategy{"browser", func(ctx context.Context, s string) (string, error) {
				return r.browserIntercept(ctx, roomURL)
			}})
		}
	case models.PlatformStripchat:
		if r.browserEnabled {
			strategies = []strategy{
				{"player-state", func(ctx context.Context, s string) (string, error) {
					return r.stripchatPlayerState(ctx, roomURL)
				}},
				{"browser", func(ctx context.Context, s string) (string, error) {
					return r.browserIntercept(ctx, roomURL)
				}},
			}
		}
	default:
		return "", ErrUnknownPlatform
	}

	if len(strategies) == 0 {
		return "", ErrResolutionFailed
	}

	for i, st := range strategies {
		progress(100*i/len(strategies), "trying "+st.name+" strategy")

		url, err := r.withRetry(ctx, slug, st.run)
		switch {
		case err == nil:
			if clean, ok := ValidateMediaURL(url); ok {
				progress(100, "media url resolved")
				log.WithField("strategy", st.name).Debug("resolved media url")
				return clean, nil
			}
			log.WithFields(logrus.Fields{"strategy": st.name, "url": url}).Warn("strategy produced invalid url")
		case errors.Is(err, ErrStreamOffline):
			return "", ErrStreamOffline
		case ctx.Err() != nil:
			return "", ctx.Err()
		default:
			log.WithError(err).WithField("strategy", st.name).Debug("strategy failed")
		}
	}
	return "", ErrResolutionFailed
}

// withRetry retries transient failures with a fixed delay; offline and
// cancellation short-circuit.
func (r *Resolver) withRetry(ctx context.Context, slug string, run func(context.Context, string) (string, error)) (string, error) {
	var lastErr error
	for attempt := 0; attempt < transientRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(transientDelay):
			}
		}
		url, err := run(ctx, slug)
		if err == nil {
			return url, nil
		}
		if errors.Is(err, ErrStreamOffline) {
			return "", err
		}
		lastErr = err
	}
	return "", lastErr
}

// Refresh re-resolves the stream's media URL and persists it.
func (r *Resolver) Refresh(ctx context.Context, stream *models.Stream) (string, error) {
	url, err := r.Resolve(ctx, stream.Platform, stream.RoomURL, nil)
	if err != nil {
		return "", err
	}
	if err := r.streams.SetMediaURL(ctx, stream.ID, url); err != nil {
		return "", err
	}
	stream.MediaURL = url
	return url, nil
}

// ValidateMediaURL checks the scraped URL shape and strips the query string.
func ValidateMediaURL(url string) (string, bool) {
	if !mediaURLRe.MatchString(url) {
		return "", false
	}
	if i := strings.IndexByte(url, '?'); i >= 0 {
		url = url[:i]
	}
	return url, true
}

func roomSlug(roomURL string) string {
	s := strings.TrimRight(roomURL, "/")
	if i := strings.LastIndexByte(s, '/'); i >= 0 {
		return s[i+1:]
	}
	return s
}
