package clock

import (
	"testing"
	"time"
)

func TestVirtualFiresInDueOrder(t *testing.T) {
	v := NewVirtual()
	var got []string
	v.AfterFunc(2*time.Second, func() { got = append(got, "b") })
	v.AfterFunc(time.Second, func() { got = append(got, "a") })
	v.AfterFunc(2*time.Second, func() { got = append(got, "c") })

	v.Advance(1500 * time.Millisecond)
	if len(got) != 1 || got[0] != "a" {
		t.Fatalf("expected only a, got %v", got)
	}
	v.Advance(time.Second)
	if len(got) != 3 || got[1] != "b" || got[2] != "c" {
		t.Fatalf("expected a b c, got %v", got)
	}
	if v.Elapsed() != 2500*time.Millisecond {
		t.Fatalf("unexpected elapsed %v", v.Elapsed())
	}
}

func TestVirtualStopAndNested(t *testing.T) {
	v := NewVirtual()
	fired := 0
	stopped := v.AfterFunc(time.Second, func() { fired += 100 })
	v.AfterFunc(time.Second, func() {
		fired++
		v.AfterFunc(500*time.Millisecond, func() { fired += 10 })
	})
	if !stopped.Stop() {
		t.Fatalf("expected stop to succeed")
	}
	if stopped.Stop() {
		t.Fatalf("second stop should report false")
	}

	v.Advance(2 * time.Second)
	if fired != 11 {
		t.Fatalf("expected nested timer to fire within the same advance, got %d", fired)
	}
	if v.Pending() != 0 {
		t.Fatalf("expected no pending timers, got %d", v.Pending())
	}
}

func TestRealAfterFunc(t *testing.T) {
	done := make(chan struct{})
	Real{}.AfterFunc(time.Millisecond, func() { close(done) })
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("real timer did not fire")
	}
}
