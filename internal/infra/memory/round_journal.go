package memory

import (
	"context"
	"sort"
	"sync"

	"eartune-trainer/internal/domain"
)

// RoundJournal keeps finished rounds in process memory.
type RoundJournal struct {
	mu     sync.RWMutex
	rounds []domain.RoundSummary
}

func NewRoundJournal() *RoundJournal {
	return &RoundJournal{}
}

func (j *RoundJournal) RecordRound(_ context.Context, round domain.RoundSummary) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.rounds = append(j.rounds, round)
	return nil
}

// ListRounds returns up to limit rounds, most recently ended first. A limit of
// zero or less returns all of them.
func (j *RoundJournal) ListRounds(_ context.Context, limit int) ([]domain.RoundSummary, error) {
	j.mu.RLock()
	out := append([]domain.RoundSummary(nil), j.rounds...)
	j.mu.RUnlock()

	sort.SliceStable(out, func(a, b int) bool { return out[a].EndedAt.After(out[b].EndedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
