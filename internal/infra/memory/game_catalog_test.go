package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"eartune-trainer/internal/domain"
)

func TestGameCatalogCaches(t *testing.T) {
	loader := &countingLoader{GameLoader: NewStaticGameLoader(sampleGames()...)}
	catalog := NewGameCatalog(loader, time.Minute)

	if _, err := catalog.ListGames(context.Background()); err != nil {
		t.Fatalf("list games: %v", err)
	}
	if loader.calls != 1 {
		t.Fatalf("expected loader once, got %d", loader.calls)
	}

	game, err := catalog.Game(context.Background(), "2")
	if err != nil || game.Name != "Chord Quality" {
		t.Fatalf("lookup game: %+v %v", game, err)
	}
	if loader.calls != 1 {
		t.Fatalf("expected cache hit, loader calls %d", loader.calls)
	}
	if _, err := catalog.Game(context.Background(), "missing"); !errors.Is(err, domain.ErrGameNotFound) {
		t.Fatalf("expected game not found, got %v", err)
	}
}

func TestGameCatalogExpires(t *testing.T) {
	loader := &countingLoader{GameLoader: NewStaticGameLoader(sampleGames()...)}
	catalog := NewGameCatalog(loader, time.Minute)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	catalog.clock = func() time.Time { return now }

	_, _ = catalog.ListGames(context.Background())
	now = now.Add(2 * time.Minute)
	_, _ = catalog.ListGames(context.Background())
	if loader.calls != 2 {
		t.Fatalf("expected reload after expiry, loader calls %d", loader.calls)
	}

	catalog.Invalidate()
	_, _ = catalog.ListGames(context.Background())
	if loader.calls != 3 {
		t.Fatalf("expected reload after invalidate, loader calls %d", loader.calls)
	}
}

func TestGameCatalogDoesNotCacheErrors(t *testing.T) {
	loader := &countingLoader{err: domain.ErrNetwork}
	catalog := NewGameCatalog(loader, time.Minute)

	for i := 0; i < 2; i++ {
		if _, err := catalog.ListGames(context.Background()); !errors.Is(err, domain.ErrNetwork) {
			t.Fatalf("expected network error, got %v", err)
		}
	}
	if loader.calls != 2 {
		t.Fatalf("errors must not be cached, loader calls %d", loader.calls)
	}
}

type countingLoader struct {
	GameLoader
	mu    sync.Mutex
	calls int
	err   error
}

func (l *countingLoader) ListGames(ctx context.Context) ([]domain.Game, error) {
	l.mu.Lock()
	l.calls++
	l.mu.Unlock()
	if l.err != nil {
		return nil, l.err
	}
	return l.GameLoader.ListGames(ctx)
}

func sampleGames() []domain.Game {
	return []domain.Game{
		{ID: "1", Name: "Note Recognition", Description: "Name the note you hear"},
		{ID: "2", Name: "Chord Quality", Description: "Major, minor, diminished"},
	}
}
