package vision

import (
	"context"

	"github.com/streamvigil/vigil/internal/models"
)

// Provider is the video analyzer contract. Detect returns only classes that
// appear in policy at or above the configured threshold. Implementations must
// be safe for concurrent Detect calls once warmed.
type Provider interface {
	Detect(ctx context.Context, frame []byte, policy map[string]float64) ([]models.Detection, error)
	// Reload drops warm state so the next Detect re-initializes. Safe to
	// call from the control plane while Detects are in flight.
	Reload()
	Close() error
}
