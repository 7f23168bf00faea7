package jobs

import (
	"testing"
	"time"
)

func TestTrackerLifecycle(t *testing.T) {
	tr := NewTracker()
	id := tr.Create()

	st, ok := tr.Get(id)
	if !ok || st.Progress != 0 || st.Done() {
		t.Fatalf("fresh job = %+v", st)
	}

	tr.Update(id, 40, "scraping", 12)
	st, _ = tr.Get(id)
	if st.Progress != 40 || st.Message != "scraping" || st.EstimatedTime != 12 {
		t.Fatalf("after update = %+v", st)
	}

	tr.Complete(id, "done", map[string]any{"stream_id": 7})
	st, _ = tr.Get(id)
	if !st.Done() || st.Progress != 100 || st.Error != "" {
		t.Fatalf("after complete = %+v", st)
	}

	// terminal states are frozen
	tr.Update(id, 10, "late", 0)
	st, _ = tr.Get(id)
	if st.Progress != 100 || st.Message != "done" {
		t.Fatalf("terminal job mutated: %+v", st)
	}
}

func TestTrackerProgressNeverRegresses(t *testing.T) {
	tr := NewTracker()
	id := tr.Create()

	tr.Update(id, 60, "a", 0)
	tr.Update(id, 30, "b", 0)
	st, _ := tr.Get(id)
	if st.Progress != 60 {
		t.Fatalf("progress regressed to %d", st.Progress)
	}
	if st.Message != "b" {
		t.Fatal("message must still follow the latest update")
	}
}

func TestSubscribeStreamsUntilTerminal(t *testing.T) {
	tr := NewTracker()
	id := tr.Create()

	ch, ok := tr.Subscribe(id)
	if !ok {
		t.Fatal("Subscribe on live job must succeed")
	}

	first := <-ch
	if first.Progress != 0 {
		t.Fatalf("first snapshot = %+v", first)
	}

	tr.Update(id, 50, "halfway", 5)
	tr.Fail(id, "edge refused")

	var last Status
	for st := range ch {
		last = st
	}
	if last.Error != "edge refused" {
		t.Fatalf("last snapshot = %+v", last)
	}

	// late subscription still gets the terminal snapshot then closes
	late, ok := tr.Subscribe(id)
	if !ok {
		t.Fatal("Subscribe after terminal must succeed")
	}
	st := <-late
	if !st.Done() {
		t.Fatalf("late snapshot = %+v", st)
	}
	if _, open := <-late; open {
		t.Fatal("late channel must be closed")
	}
}

func TestSubscribeUnknownJob(t *testing.T) {
	tr := NewTracker()
	if _, ok := tr.Subscribe("nope"); ok {
		t.Fatal("unknown job must not subscribe")
	}
	if _, ok := tr.Get("nope"); ok {
		t.Fatal("unknown job must not resolve")
	}
}

func TestSweepDropsStaleJobs(t *testing.T) {
	tr := NewTracker()
	done := tr.Create()
	abandoned := tr.Create()
	tr.Complete(done, "ok", nil)
	tr.Update(abandoned, 40, "stuck", 0)

	ch, ok := tr.Subscribe(abandoned)
	if !ok {
		t.Fatal("Subscribe on live job must succeed")
	}
	<-ch // initial snapshot

	tr.sweep(time.Now())
	if _, ok := tr.Get(done); !ok {
		t.Fatal("fresh terminal job must survive the sweep")
	}
	if _, ok := tr.Get(abandoned); !ok {
		t.Fatal("fresh live job must survive the sweep")
	}

	tr.sweep(time.Now().Add(2 * time.Hour))
	if _, ok := tr.Get(done); ok {
		t.Fatal("terminal job must be swept after retention")
	}
	if _, ok := tr.Get(abandoned); ok {
		t.Fatal("a job abandoned mid-flight must be swept after retention")
	}
	if _, open := <-ch; open {
		t.Fatal("sweeping an abandoned job must release its subscribers")
	}
}
