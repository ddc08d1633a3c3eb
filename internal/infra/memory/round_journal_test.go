package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"eartune-trainer/internal/credentials"
	"eartune-trainer/internal/domain"
)

func TestRoundJournalListsNewestFirst(t *testing.T) {
	journal := NewRoundJournal()
	base := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	for i, score := range []int{2, 0, 5} {
		round := domain.RoundSummary{
			ID:        string(rune('a' + i)),
			SessionID: "s",
			Score:     score,
			EndedAt:   base.Add(time.Duration(i) * time.Minute),
		}
		if err := journal.RecordRound(context.Background(), round); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	rounds, err := journal.ListRounds(context.Background(), 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(rounds) != 2 || rounds[0].ID != "c" || rounds[1].ID != "b" {
		t.Fatalf("unexpected order %+v", rounds)
	}
	all, _ := journal.ListRounds(context.Background(), 0)
	if len(all) != 3 {
		t.Fatalf("expected all rounds, got %d", len(all))
	}
}

func TestTokenStore(t *testing.T) {
	store := NewTokenStore(credentials.Tokens{})
	if _, err := store.Load(context.Background()); !errors.Is(err, domain.ErrNoCredentials) {
		t.Fatalf("expected no credentials, got %v", err)
	}
	want := credentials.Tokens{Access: "a", Refresh: "r"}
	_ = store.Save(context.Background(), want)
	if got, err := store.Load(context.Background()); err != nil || got != want {
		t.Fatalf("load: %+v %v", got, err)
	}
}
