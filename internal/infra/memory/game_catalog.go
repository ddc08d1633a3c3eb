package memory

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"eartune-trainer/internal/domain"
	"golang.org/x/sync/singleflight"
)

const catalogKey = "games"

// GameLoader fetches the game list from its source (usually the remote API).
type GameLoader interface {
	ListGames(ctx context.Context) ([]domain.Game, error)
}

// GameCatalog caches the game list with a TTL so menus and session starts do not
// refetch it every time.
type GameCatalog struct {
	loader GameLoader
	ttl    time.Duration
	clock  func() time.Time
	sf     singleflight.Group
	rnd    *rand.Rand

	mu        sync.RWMutex
	games     []domain.Game
	expiresAt time.Time
}

func NewGameCatalog(loader GameLoader, ttl time.Duration) *GameCatalog {
	return &GameCatalog{
		loader: loader,
		ttl:    ttl,
		clock:  time.Now,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// ListGames returns the cached list, loading it once when missing or expired.
func (c *GameCatalog) ListGames(ctx context.Context) ([]domain.Game, error) {
	if games, ok := c.cached(c.clock()); ok {
		return games, nil
	}

	result, err, _ := c.sf.Do(catalogKey, func() (interface{}, error) {
		now := c.clock()
		if games, ok := c.cached(now); ok {
			return games, nil
		}

		games, err := c.loader.ListGames(ctx)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		c.games = clone(games)
		c.expiresAt = now.Add(c.ttlWithJitter())
		c.mu.Unlock()
		return games, nil
	})
	if err != nil {
		return nil, err
	}
	return clone(result.([]domain.Game)), nil
}

// Game looks one game up by id.
func (c *GameCatalog) Game(ctx context.Context, id string) (domain.Game, error) {
	games, err := c.ListGames(ctx)
	if err != nil {
		return domain.Game{}, err
	}
	return FindGame(games, id)
}

// Invalidate drops the cached list.
func (c *GameCatalog) Invalidate() {
	c.mu.Lock()
	c.games = nil
	c.expiresAt = time.Time{}
	c.mu.Unlock()
}

func (c *GameCatalog) cached(now time.Time) ([]domain.Game, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.games == nil || !c.expiresAt.After(now) {
		return nil, false
	}
	return clone(c.games), true
}

func (c *GameCatalog) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	// add up to 10% jitter to spread expirations
	jitterMax := int64(c.ttl) / 10
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}

// StaticGameLoader serves a fixed list (useful for tests and offline demos).
type StaticGameLoader struct {
	games []domain.Game
}

func NewStaticGameLoader(games ...domain.Game) *StaticGameLoader {
	return &StaticGameLoader{games: games}
}

func (l *StaticGameLoader) ListGames(_ context.Context) ([]domain.Game, error) {
	return clone(l.games), nil
}

// FindGame looks id up in games.
func FindGame(games []domain.Game, id string) (domain.Game, error) {
	for _, g := range games {
		if g.ID == id {
			return g, nil
		}
	}
	return domain.Game{}, domain.ErrGameNotFound
}

func clone(games []domain.Game) []domain.Game {
	out := make([]domain.Game, len(games))
	copy(out, games)
	return out
}
