package chatfeed

import (
	"context"
	"strings"

	"github.com/streamvigil/vigil/internal/models"
	"github.com/streamvigil/vigil/internal/providers/sentiment"
)

// Analyze turns one chat message into zero or more policy hits: one per
// matched keyword (case-insensitive substring), plus one sentiment hit when
// the message scores at or below threshold. A nil scorer disables sentiment.
func Analyze(ctx context.Context, msg models.ChatMessage, keywords []string, scorer sentiment.Analyzer, threshold float64) []models.ChatHit {
	var hits []models.ChatHit

	lower := strings.ToLower(msg.Text)
	for _, kw := range keywords {
		if kw == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(kw)) {
			hits = append(hits, models.ChatHit{
				Kind:     models.HitKeyword,
				Keyword:  strings.ToLower(kw),
				Username: msg.Username,
				Message:  msg.Text,
			})
		}
	}

	if scorer != nil {
		if score, err := scorer.Score(ctx, msg.Text); err == nil && score <= threshold {
			hits = append(hits, models.ChatHit{
				Kind:     models.HitSentiment,
				Score:    score,
				Username: msg.Username,
				Message:  msg.Text,
			})
		}
	}
	return hits
}
