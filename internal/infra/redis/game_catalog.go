package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"eartune-trainer/internal/domain"
	"eartune-trainer/internal/infra/memory"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

const gamesKey = "eartune:games"

// GameCatalog caches the game list in Redis as one JSON document so every bridge
// instance shares it, and falls back to the loader on a miss.
type GameCatalog struct {
	client *redis.Client
	loader memory.GameLoader
	ttl    time.Duration
	sf     singleflight.Group
	rnd    *rand.Rand
}

func NewGameCatalog(client *redis.Client, loader memory.GameLoader, ttl time.Duration) *GameCatalog {
	return &GameCatalog{
		client: client,
		loader: loader,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (c *GameCatalog) ListGames(ctx context.Context) ([]domain.Game, error) {
	if games, ok := c.cached(ctx); ok {
		return games, nil
	}

	result, err, _ := c.sf.Do(gamesKey, func() (interface{}, error) {
		// another caller may have filled the cache meanwhile
		if games, ok := c.cached(ctx); ok {
			return games, nil
		}

		games, err := c.loader.ListGames(ctx)
		if err != nil {
			return nil, err
		}
		data, err := json.Marshal(games)
		if err != nil {
			return nil, fmt.Errorf("encode games: %w", err)
		}
		// best effort; a failed write only costs another load
		_ = c.client.Set(ctx, gamesKey, data, c.ttlWithJitter()).Err()
		return games, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]domain.Game), nil
}

func (c *GameCatalog) Game(ctx context.Context, id string) (domain.Game, error) {
	games, err := c.ListGames(ctx)
	if err != nil {
		return domain.Game{}, err
	}
	return memory.FindGame(games, id)
}

func (c *GameCatalog) Invalidate(ctx context.Context) error {
	return c.client.Del(ctx, gamesKey).Err()
}

func (c *GameCatalog) cached(ctx context.Context) ([]domain.Game, bool) {
	data, err := c.client.Get(ctx, gamesKey).Bytes()
	if err != nil {
		return nil, false
	}
	var games []domain.Game
	if err := json.Unmarshal(data, &games); err != nil {
		return nil, false
	}
	return games, true
}

func (c *GameCatalog) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	jitterMax := int64(c.ttl) / 10
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}

// isMiss reports a missing key, which is not an error for the stores here.
func isMiss(err error) bool {
	return errors.Is(err, redis.Nil)
}
