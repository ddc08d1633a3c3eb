package clock

import (
	"sort"
	"sync"
	"time"
)

// Timer is a scheduled callback that can be cancelled.
type Timer interface {
	// Stop prevents the callback from running. It reports whether the call stopped it.
	Stop() bool
}

// Scheduler runs callbacks after a delay.
type Scheduler interface {
	AfterFunc(d time.Duration, fn func()) Timer
}

// Real schedules on the runtime timers. Callbacks run on their own goroutine.
type Real struct{}

func (Real) AfterFunc(d time.Duration, fn func()) Timer {
	return time.AfterFunc(d, fn)
}

// Virtual is a manually advanced scheduler for deterministic tests.
// Callbacks run synchronously inside Advance, in due order.
type Virtual struct {
	mu     sync.Mutex
	now    time.Duration
	seq    uint64
	timers []*virtualTimer
}

type virtualTimer struct {
	v   *Virtual
	at  time.Duration
	seq uint64
	fn  func()
}

func NewVirtual() *Virtual {
	return &Virtual{}
}

func (v *Virtual) AfterFunc(d time.Duration, fn func()) Timer {
	v.mu.Lock()
	defer v.mu.Unlock()
	if d < 0 {
		d = 0
	}
	v.seq++
	t := &virtualTimer{v: v, at: v.now + d, seq: v.seq, fn: fn}
	v.timers = append(v.timers, t)
	return t
}

func (t *virtualTimer) Stop() bool {
	t.v.mu.Lock()
	defer t.v.mu.Unlock()
	return t.v.removeLocked(t)
}

func (v *Virtual) removeLocked(t *virtualTimer) bool {
	for i, other := range v.timers {
		if other == t {
			v.timers = append(v.timers[:i], v.timers[i+1:]...)
			return true
		}
	}
	return false
}

// Advance moves the clock forward by d, firing every timer that falls due on the way.
// Timers scheduled by callbacks fire in the same call if they are due.
func (v *Virtual) Advance(d time.Duration) {
	v.mu.Lock()
	target := v.now + d
	for {
		next := v.nextDueLocked(target)
		if next == nil {
			break
		}
		v.removeLocked(next)
		v.now = next.at
		v.mu.Unlock()
		next.fn()
		v.mu.Lock()
	}
	v.now = target
	v.mu.Unlock()
}

func (v *Virtual) nextDueLocked(limit time.Duration) *virtualTimer {
	if len(v.timers) == 0 {
		return nil
	}
	sort.SliceStable(v.timers, func(i, j int) bool {
		if v.timers[i].at != v.timers[j].at {
			return v.timers[i].at < v.timers[j].at
		}
		return v.timers[i].seq < v.timers[j].seq
	})
	if v.timers[0].at > limit {
		return nil
	}
	return v.timers[0]
}

// Elapsed returns how far the clock has been advanced.
func (v *Virtual) Elapsed() time.Duration {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.now
}

// Pending returns the number of timers still scheduled.
func (v *Virtual) Pending() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.timers)
}
