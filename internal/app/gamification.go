package app

import (
	"sync"
	"time"

	"eartune-trainer/internal/clock"
	"eartune-trainer/internal/domain"
	"github.com/google/uuid"
)

// EventKind identifies a celebratory notification.
type EventKind string

const (
	EventXP          EventKind = "xp"
	EventLevelUp     EventKind = "level_up"
	EventAchievement EventKind = "achievement"
)

// Event is one celebratory notification. Each event is opened and closed independently.
type Event struct {
	ID          string              `json:"id"`
	Kind        EventKind           `json:"kind"`
	XP          int                 `json:"xp,omitempty"`
	Level       int                 `json:"level,omitempty"`
	Achievement *domain.Achievement `json:"achievement,omitempty"`
}

// Presenter displays and removes events. Calls are made without the queue lock held,
// so a presenter may call back into the queue, but Show can run while a Controller
// holds its own lock and must not call back into the Controller synchronously.
type Presenter interface {
	Show(Event)
	Hide(Event)
}

// Timings are the presentation offsets, all measured from the moment an outcome arrives
// except the display durations.
type Timings struct {
	XPDisplay               time.Duration
	LevelUpDelay            time.Duration
	AchievementDelay        time.Duration
	AchievementAfterLevelUp time.Duration
	AchievementDisplay      time.Duration
}

// DefaultTimings returns the standard celebration pacing.
func DefaultTimings() Timings {
	return Timings{
		XPDisplay:               3 * time.Second,
		LevelUpDelay:            time.Second,
		AchievementDelay:        2 * time.Second,
		AchievementAfterLevelUp: 4 * time.Second,
		AchievementDisplay:      3 * time.Second,
	}
}

// EventQueue sequences XP, level-up and achievement events after a correct answer.
type EventQueue struct {
	scheduler clock.Scheduler
	presenter Presenter
	timings   Timings
	newID     func() string

	mu           sync.Mutex
	generation   uint64
	pending      map[*pendingTimer]struct{}
	open         map[string]*openEvent
	order        []string
	achievements []domain.Achievement
	current      string // id of the achievement on display
	busy         bool
	onIdle       func()
}

type pendingTimer struct {
	timer clock.Timer
}

type openEvent struct {
	event     Event
	autoClose *pendingTimer
}

// QueueOption configures an EventQueue.
type QueueOption func(*EventQueue)

// WithTimings overrides the default pacing.
func WithTimings(t Timings) QueueOption {
	return func(q *EventQueue) { q.timings = t }
}

// WithEventIDs overrides how event ids are generated.
func WithEventIDs(newID func() string) QueueOption {
	return func(q *EventQueue) { q.newID = newID }
}

// WithIdleHandler registers the callback fired once everything queued has been shown
// and closed.
func WithIdleHandler(fn func()) QueueOption {
	return func(q *EventQueue) { q.onIdle = fn }
}

type nopPresenter struct{}

func (nopPresenter) Show(Event) {}
func (nopPresenter) Hide(Event) {}

func NewEventQueue(scheduler clock.Scheduler, presenter Presenter, opts ...QueueOption) *EventQueue {
	if presenter == nil {
		presenter = nopPresenter{}
	}
	q := &EventQueue{
		scheduler: scheduler,
		presenter: presenter,
		timings:   DefaultTimings(),
		newID:     uuid.NewString,
		pending:   make(map[*pendingTimer]struct{}),
		open:      make(map[string]*openEvent),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// SetIdleHandler replaces the idle callback.
func (q *EventQueue) SetIdleHandler(fn func()) {
	q.mu.Lock()
	q.onIdle = fn
	q.mu.Unlock()
}

// notices collects presenter calls made while the lock is held; they run after unlock.
type notices []func()

func (n notices) deliver() {
	for _, fn := range n {
		fn()
	}
}

// Enqueue schedules the celebrations for a correct outcome. Incorrect outcomes and
// outcomes without rewards are ignored.
func (q *EventQueue) Enqueue(outcome domain.AnswerOutcome) {
	if !outcome.Correct {
		return
	}
	if outcome.XPEarned <= 0 && !outcome.LevelUp && len(outcome.UnlockedAchievements) == 0 {
		return
	}

	q.mu.Lock()
	var out notices
	gen := q.generation
	q.busy = true

	if outcome.XPEarned > 0 {
		ev := Event{ID: q.newID(), Kind: EventXP, XP: outcome.XPEarned}
		q.openLocked(gen, ev, q.timings.XPDisplay, &out)
	}

	if outcome.LevelUp {
		ev := Event{ID: q.newID(), Kind: EventLevelUp, Level: outcome.NewLevel}
		q.scheduleLocked(gen, q.timings.LevelUpDelay, func(out *notices) {
			// stays open until acknowledged
			q.openLocked(gen, ev, 0, out)
		})
	}

	if len(outcome.UnlockedAchievements) > 0 {
		batch := append([]domain.Achievement(nil), outcome.UnlockedAchievements...)
		delay := q.timings.AchievementDelay
		if outcome.LevelUp {
			delay = q.timings.AchievementAfterLevelUp
		}
		q.scheduleLocked(gen, delay, func(out *notices) {
			q.achievements = append(q.achievements, batch...)
			q.advanceAchievementsLocked(gen, out)
		})
	}

	q.idleCheckLocked(&out)
	q.mu.Unlock()
	out.deliver()
}

// Dismiss closes one open event. Other events are unaffected.
func (q *EventQueue) Dismiss(id string) error {
	q.mu.Lock()
	var out notices
	if !q.closeLocked(q.generation, id, &out) {
		q.mu.Unlock()
		return domain.ErrEventNotOpen
	}
	q.idleCheckLocked(&out)
	q.mu.Unlock()
	out.deliver()
	return nil
}

// DismissKind closes every open event of the given kind and returns how many closed.
func (q *EventQueue) DismissKind(kind EventKind) int {
	q.mu.Lock()
	var out notices
	closed := 0
	for _, id := range append([]string(nil), q.order...) {
		if oe, ok := q.open[id]; ok && oe.event.Kind == kind {
			if q.closeLocked(q.generation, id, &out) {
				closed++
			}
		}
	}
	q.idleCheckLocked(&out)
	q.mu.Unlock()
	out.deliver()
	return closed
}

// Cancel discards every scheduled and displayed event without presenter callbacks.
func (q *EventQueue) Cancel() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.generation++
	for p := range q.pending {
		p.timer.Stop()
	}
	q.pending = make(map[*pendingTimer]struct{})
	q.open = make(map[string]*openEvent)
	q.order = nil
	q.achievements = nil
	q.current = ""
	q.busy = false
}

// Open returns the events currently displayed, oldest first.
func (q *EventQueue) Open() []Event {
	q.mu.Lock()
	defer q.mu.Unlock()
	events := make([]Event, 0, len(q.order))
	for _, id := range q.order {
		events = append(events, q.open[id].event)
	}
	return events
}

// Busy reports whether anything is displayed or still scheduled.
func (q *EventQueue) Busy() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.busy
}

func (q *EventQueue) scheduleLocked(gen uint64, d time.Duration, fn func(out *notices)) *pendingTimer {
	p := &pendingTimer{}
	q.pending[p] = struct{}{}
	// the callback takes the lock, so p.timer is assigned before it can run
	p.timer = q.scheduler.AfterFunc(d, func() {
		q.mu.Lock()
		if q.generation != gen {
			q.mu.Unlock()
			return
		}
		if _, ok := q.pending[p]; !ok {
			q.mu.Unlock()
			return
		}
		delete(q.pending, p)
		var out notices
		fn(&out)
		q.idleCheckLocked(&out)
		q.mu.Unlock()
		out.deliver()
	})
	return p
}

func (q *EventQueue) openLocked(gen uint64, ev Event, autoClose time.Duration, out *notices) {
	oe := &openEvent{event: ev}
	q.open[ev.ID] = oe
	q.order = append(q.order, ev.ID)
	if autoClose > 0 {
		oe.autoClose = q.scheduleLocked(gen, autoClose, func(out *notices) {
			oe.autoClose = nil
			q.closeLocked(gen, ev.ID, out)
		})
	}
	presenter := q.presenter
	*out = append(*out, func() { presenter.Show(ev) })
}

func (q *EventQueue) closeLocked(gen uint64, id string, out *notices) bool {
	oe, ok := q.open[id]
	if !ok {
		return false
	}
	delete(q.open, id)
	for i, other := range q.order {
		if other == id {
			q.order = append(q.order[:i], q.order[i+1:]...)
			break
		}
	}
	if oe.autoClose != nil {
		oe.autoClose.timer.Stop()
		delete(q.pending, oe.autoClose)
	}
	presenter := q.presenter
	ev := oe.event
	*out = append(*out, func() { presenter.Hide(ev) })

	if id == q.current {
		q.current = ""
		q.advanceAchievementsLocked(gen, out)
	}
	return true
}

func (q *EventQueue) advanceAchievementsLocked(gen uint64, out *notices) {
	if q.current != "" || len(q.achievements) == 0 {
		return
	}
	next := q.achievements[0]
	q.achievements = q.achievements[1:]
	ev := Event{ID: q.newID(), Kind: EventAchievement, Achievement: &next}
	q.current = ev.ID
	q.openLocked(gen, ev, q.timings.AchievementDisplay, out)
}

func (q *EventQueue) idleCheckLocked(out *notices) {
	if !q.busy || len(q.open) > 0 || len(q.pending) > 0 || len(q.achievements) > 0 {
		return
	}
	q.busy = false
	if fn := q.onIdle; fn != nil {
		*out = append(*out, fn)
	}
}
