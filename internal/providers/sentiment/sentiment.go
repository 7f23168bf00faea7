package sentiment

import "context"

// Analyzer scores a chat message's sentiment as a compound value in [-1, 1];
// -1 is maximally negative. Scores at or below the configured threshold flag
// the message.
type Analyzer interface {
	Score(ctx context.Context, text string) (float64, error)
	Close() error
}
