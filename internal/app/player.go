package app

import (
	"log/slog"
	"sync"

	"eartune-trainer/internal/clock"
	"eartune-trainer/internal/domain"
)

// Sink receives one player's celebrations and ready signals, typically a connection.
type Sink interface {
	Presenter
	Ready(domain.Snapshot)
}

// Relay fans a player's presenter calls out to every attached sink. Sinks are
// called without the relay lock held.
type Relay struct {
	mu    sync.RWMutex
	next  uint64
	sinks map[uint64]Sink
}

func NewRelay() *Relay {
	return &Relay{sinks: make(map[uint64]Sink)}
}

// Attach adds s and returns the function that removes it again.
func (r *Relay) Attach(s Sink) (detach func()) {
	r.mu.Lock()
	id := r.next
	r.next++
	r.sinks[id] = s
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.sinks, id)
			r.mu.Unlock()
		})
	}
}

// Empty reports whether no sink is attached.
func (r *Relay) Empty() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sinks) == 0
}

func (r *Relay) Show(ev Event) {
	for _, s := range r.snapshot() {
		s.Show(ev)
	}
}

func (r *Relay) Hide(ev Event) {
	for _, s := range r.snapshot() {
		s.Hide(ev)
	}
}

func (r *Relay) Ready(snap domain.Snapshot) {
	for _, s := range r.snapshot() {
		s.Ready(snap)
	}
}

func (r *Relay) snapshot() []Sink {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Sink, 0, len(r.sinks))
	for _, s := range r.sinks {
		out = append(out, s)
	}
	return out
}

// Player is one player's controller together with the relay its celebrations are
// shown through.
type Player struct {
	ID         string
	Controller *Controller
	Relay      *Relay
}

// Close discards the player's session state.
func (p *Player) Close() {
	p.Controller.Close()
}

// Idle reports whether no connection is attached to the player.
func (p *Player) Idle() bool {
	return p.Relay.Empty()
}

// PlayerFactory builds players that share the remote collaborators.
type PlayerFactory struct {
	Games     GameService
	Evaluator AnswerEvaluator
	Journal   RoundRecorder
	Scheduler clock.Scheduler
	Timings   Timings
	Logger    *slog.Logger
}

func (f PlayerFactory) NewPlayer(id string) *Player {
	scheduler := f.Scheduler
	if scheduler == nil {
		scheduler = clock.Real{}
	}
	timings := f.Timings
	if timings == (Timings{}) {
		timings = DefaultTimings()
	}
	logger := f.Logger
	if logger == nil {
		logger = slog.Default()
	}

	relay := NewRelay()
	queue := NewEventQueue(scheduler, relay, WithTimings(timings))
	opts := []Option{
		WithCelebrations(queue),
		WithReadyHandler(relay.Ready),
		WithLogger(logger.With("player", id)),
	}
	if f.Journal != nil {
		opts = append(opts, WithJournal(f.Journal))
	}
	return &Player{
		ID:         id,
		Controller: NewController(f.Games, f.Evaluator, opts...),
		Relay:      relay,
	}
}
