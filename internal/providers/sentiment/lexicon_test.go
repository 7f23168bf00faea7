package sentiment

import (
	"context"
	"testing"
)

func TestScoreFlagsHostileMessage(t *testing.T) {
	lx := NewLexicon()
	score, err := lx.Score(context.Background(), "I hate this, disgusting garbage")
	if err != nil {
		t.Fatal(err)
	}
	if score > -0.5 {
		t.Fatalf("expected score <= -0.5, got %f", score)
	}
}

func TestScorePositiveMessage(t *testing.T) {
	lx := NewLexicon()
	score, err := lx.Score(context.Background(), "this stream is really great, love it")
	if err != nil {
		t.Fatal(err)
	}
	if score <= 0 {
		t.Fatalf("expected positive score, got %f", score)
	}
}

func TestScoreNegationFlips(t *testing.T) {
	lx := NewLexicon()
	plain, _ := lx.Score(context.Background(), "this is good")
	negated, _ := lx.Score(context.Background(), "this is not good")
	if plain <= 0 {
		t.Fatalf("baseline should be positive, got %f", plain)
	}
	if negated >= plain {
		t.Fatalf("negation should lower the score: %f vs %f", negated, plain)
	}
}

func TestScoreNeutralAndEmpty(t *testing.T) {
	lx := NewLexicon()
	if s, _ := lx.Score(context.Background(), "the quick brown fox"); s != 0 {
		t.Fatalf("neutral text should score 0, got %f", s)
	}
	if s, _ := lx.Score(context.Background(), "   "); s != 0 {
		t.Fatalf("empty text should score 0, got %f", s)
	}
}
