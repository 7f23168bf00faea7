package media

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestSampleGate(t *testing.T) {
	g := newSampleGate(5 * time.Second)
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	if !g.pass(base) {
		t.Fatal("first frame must pass")
	}
	if g.pass(base.Add(2 * time.Second)) {
		t.Fatal("frame inside interval must be gated")
	}
	if g.pass(base.Add(4 * time.Second)) {
		t.Fatal("frame inside interval must be gated")
	}
	if !g.pass(base.Add(5 * time.Second)) {
		t.Fatal("frame at interval boundary must pass")
	}
	if g.pass(base.Add(6 * time.Second)) {
		t.Fatal("gate must measure from the last passed frame")
	}
}

func TestClassifyExit(t *testing.T) {
	if !errors.Is(classifyExit(nil, ""), ErrStreamEnded) {
		t.Fatal("clean exit is terminal")
	}
	someErr := errors.New("signal: killed")
	if !errors.Is(classifyExit(someErr, "http error 404 Not Found"), ErrStreamEnded) {
		t.Fatal("404 playlist is terminal")
	}
	if !errors.Is(classifyExit(someErr, "Invalid data found when processing input"), ErrStreamEnded) {
		t.Fatal("invalid data on open is terminal")
	}
	if errors.Is(classifyExit(someErr, "Connection timed out"), ErrStreamEnded) {
		t.Fatal("network timeout must stay transient")
	}
}

func TestProberAvailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodHead {
			t.Errorf("expected HEAD, got %s", r.Method)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := NewProber()
	p.Interval = time.Millisecond
	if !p.Available(context.Background(), srv.URL) {
		t.Fatal("expected available")
	}
}

func TestProberRetriesThenFails(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := NewProber()
	p.Interval = time.Millisecond
	if p.Available(context.Background(), srv.URL) {
		t.Fatal("expected unavailable")
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Fatalf("expected exactly 3 HEAD attempts, got %d", got)
	}
}

func TestProberStopsOnCancel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := NewProber()
	p.Interval = time.Hour
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan bool, 1)
	go func() { done <- p.Available(ctx, srv.URL) }()
	cancel()

	select {
	case ok := <-done:
		if ok {
			t.Fatal("cancelled probe must report unavailable")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("probe did not honor cancellation")
	}
}
