package cooldown

import (
	"sync"
	"testing"
	"time"
)

func TestFireFirstSightingAlwaysFires(t *testing.T) {
	tab := NewTable()
	now := time.Now()

	if !tab.Fire(1, "knife", now, 30*time.Second) {
		t.Fatal("first sighting should fire")
	}
	if !tab.Fire(1, "gun", now, 30*time.Second) {
		t.Fatal("distinct trigger should fire independently")
	}
	if !tab.Fire(2, "knife", now, 30*time.Second) {
		t.Fatal("distinct stream should fire independently")
	}
}

func TestFireRespectsCooldownWindow(t *testing.T) {
	tab := NewTable()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	cd := 30 * time.Second

	if !tab.Fire(1, "knife", base, cd) {
		t.Fatal("t=0 should fire")
	}
	if tab.Fire(1, "knife", base.Add(5*time.Second), cd) {
		t.Fatal("t=5s inside window should not fire")
	}
	if tab.Fire(1, "knife", base.Add(29*time.Second), cd) {
		t.Fatal("t=29s inside window should not fire")
	}
	if !tab.Fire(1, "knife", base.Add(30*time.Second), cd) {
		t.Fatal("t=30s at boundary should fire")
	}
	// failed attempts must not extend the window: last true was t=30s
	if tab.Fire(1, "knife", base.Add(45*time.Second), cd) {
		t.Fatal("t=45s is 15s after last fire, should not fire")
	}
	if !tab.Fire(1, "knife", base.Add(60*time.Second), cd) {
		t.Fatal("t=60s is 30s after last fire, should fire")
	}
}

func TestForgetClearsStreamState(t *testing.T) {
	tab := NewTable()
	now := time.Now()
	cd := time.Minute

	tab.Fire(7, "keyword:gun", now, cd)
	tab.Fire(8, "keyword:gun", now, cd)
	tab.Forget(7)

	if !tab.Fire(7, "keyword:gun", now, cd) {
		t.Fatal("forgotten stream should fire again immediately")
	}
	if tab.Fire(8, "keyword:gun", now, cd) {
		t.Fatal("other stream state must survive Forget")
	}
}

func TestFireConcurrentSingleWinnerPerWindow(t *testing.T) {
	tab := NewTable()
	now := time.Now()

	var wg sync.WaitGroup
	fired := make(chan bool, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fired <- tab.Fire(3, "_sentiment:carol", now, time.Minute)
		}()
	}
	wg.Wait()
	close(fired)

	var wins int
	for ok := range fired {
		if ok {
			wins++
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins)
	}
}
