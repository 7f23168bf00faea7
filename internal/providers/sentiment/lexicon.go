package sentiment

import (
	"context"
	"math"
	"strings"
)

// Lexicon is the default analyzer: a VADER-style weighted lexicon with
// negation flipping and intensity boosters. It needs no model, no network,
// and is safe for concurrent use.
type Lexicon struct{}

func NewLexicon() *Lexicon { return &Lexicon{} }

func (*Lexicon) Close() error { return nil }

var wordValence = map[string]float64{
	"love": 3.0, "great": 2.6, "good": 1.9, "nice": 1.8, "happy": 2.7,
	"amazing": 2.8, "beautiful": 2.9, "fun": 2.3, "best": 3.2, "sweet": 2.0,
	"awesome": 3.1, "perfect": 3.0, "cool": 1.3, "like": 1.5, "thanks": 1.9,

	"hate": -2.7, "awful": -2.0, "terrible": -2.1, "disgusting": -2.4,
	"garbage": -1.9, "trash": -1.8, "bad": -2.5, "worst": -3.1, "ugly": -2.3,
	"stupid": -2.4, "kill": -3.0, "hurt": -2.4, "die": -2.9, "scum": -2.6,
	"threat": -2.2, "creepy": -1.9, "gross": -2.1, "sick": -1.5, "angry": -2.2,
	"pathetic": -2.5, "abuse": -2.8, "scared": -2.0, "afraid": -1.9,
}

var boosters = map[string]float64{
	"very": 0.293, "really": 0.293, "extremely": 0.293, "so": 0.293,
	"totally": 0.293, "absolutely": 0.293,
	"slightly": -0.293, "somewhat": -0.293, "kinda": -0.293,
}

var negations = map[string]bool{
	"not": true, "no": true, "never": true, "dont": true, "don't": true,
	"cant": true, "can't": true, "isnt": true, "isn't": true, "wont": true,
	"won't": true, "aint": true, "ain't": true,
}

// Score computes the normalized compound score of text.
func (*Lexicon) Score(_ context.Context, text string) (float64, error) {
	words := tokenize(text)
	if len(words) == 0 {
		return 0, nil
	}

	var sum float64
	for i, w := range words {
		valence, ok := wordValence[w]
		if !ok {
			continue
		}

		// look back up to two tokens for boosters and negation
		for back := 1; back <= 2 && i-back >= 0; back++ {
			prev := words[i-back]
			if b, ok := boosters[prev]; ok {
				if valence > 0 {
					valence += b
				} else {
					valence -= b
				}
			}
			if negations[prev] {
				valence *= -0.74
			}
		}
		sum += valence
	}

	return normalize(sum), nil
}

// normalize maps the raw valence sum into [-1, 1] the way VADER does.
func normalize(sum float64) float64 {
	compound := sum / math.Sqrt(sum*sum+15)
	if compound > 1 {
		return 1
	}
	if compound < -1 {
		return -1
	}
	return compound
}

func tokenize(text string) []string {
	fields := strings.Fields(strings.ToLower(text))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, ".,!?;:\"()[]")
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}
