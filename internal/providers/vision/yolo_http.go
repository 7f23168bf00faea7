package vision

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/streamvigil/vigil/internal/models"
)

// YOLOHTTP talks to a self-hosted object-detection service over HTTP. The
// model server owns the weights; this side just ships JPEG frames and filters
// the response against policy.
type YOLOHTTP struct {
	Endpoint string

	mu     sync.Mutex
	client *http.Client
	warm   bool
}

func NewYOLOHTTP(endpoint string) *YOLOHTTP {
	return &YOLOHTTP{Endpoint: endpoint}
}

type yoloBox struct {
	Class      string  `json:"class"`
	Confidence float64 `json:"confidence"`
	BBox       [4]int  `json:"bbox"`
}

type yoloResponse struct {
	Detections []yoloBox `json:"detections"`
}

// warmUp lazily builds the client and pings the health endpoint once. Held
// under the mutex so concurrent first calls initialize exactly once.
func (y *YOLOHTTP) warmUp(ctx context.Context) error {
	y.mu.Lock()
	defer y.mu.Unlock()
	if y.warm {
		return nil
	}
	if y.Endpoint == "" {
		return fmt.Errorf("vision endpoint is not configured")
	}
	if y.client == nil {
		y.client = &http.Client{Timeout: 15 * time.Second}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, y.Endpoint+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := y.client.Do(req)
	if err != nil {
		return fmt.Errorf("vision service unavailable: %w", err)
	}
	resp.Body.Close()
	y.warm = true
	return nil
}

func (y *YOLOHTTP) Reload() {
	y.mu.Lock()
	y.warm = false
	y.mu.Unlock()
}

func (y *YOLOHTTP) Close() error { return nil }

func (y *YOLOHTTP) Detect(ctx context.Context, frame []byte, policy map[string]float64) ([]models.Detection, error) {
	if len(policy) == 0 {
		return nil, nil
	}
	if err := y.warmUp(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, y.Endpoint+"/detect", bytes.NewReader(frame))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "image/jpeg")

	resp, err := y.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("vision service returned %d", resp.StatusCode)
	}

	var parsed yoloResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	return filterByPolicy(parsed.Detections, policy, now), nil
}

// filterByPolicy keeps only boxes whose class is flagged and whose confidence
// meets that class's threshold.
func filterByPolicy(boxes []yoloBox, policy map[string]float64, ts time.Time) []models.Detection {
	var out []models.Detection
	for _, b := range boxes {
		threshold, flagged := policy[b.Class]
		if !flagged || b.Confidence < threshold {
			continue
		}
		out = append(out, models.Detection{
			Class:      b.Class,
			Confidence: b.Confidence,
			BBox:       b.BBox,
			Timestamp:  ts,
		})
	}
	return out
}
