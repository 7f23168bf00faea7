package media

import (
	"context"
	"net/http"
	"time"
)

// Prober answers "is this media URL still serving" with a HEAD request,
// retrying a fixed number of times before declaring the stream unavailable.
type Prober struct {
	Client   *http.Client
	Attempts int
	Interval time.Duration
}

func NewProber() *Prober {
	return &Prober{
		Client:   &http.Client{Timeout: 10 * time.Second},
		Attempts: 3,
		Interval: 10 * time.Second,
	}
}

// Available returns true as soon as one HEAD succeeds; false after Attempts
// consecutive failures spaced by Interval, or when ctx is cancelled.
func (p *Prober) Available(ctx context.Context, url string) bool {
	for i := 0; i < p.Attempts; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return false
			case <-time.After(p.Interval):
			}
		}
		if p.headOK(ctx, url) {
			return true
		}
	}
	return false
}

func (p *Prober) headOK(ctx context.Context, url string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return false
	}
	resp, err := p.Client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode < 400
}
