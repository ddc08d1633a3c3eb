package redis

import (
	"context"
	"sync"
	"time"

	"eartune-trainer/internal/app"
	"eartune-trainer/internal/infra/memory"
	"github.com/redis/go-redis/v9"
)

// SessionStore keeps players in process and marks them live in Redis, so other
// instances and operators can see who is playing. The game state itself stays
// local.
type SessionStore struct {
	client    *redis.Client
	ttl       time.Duration
	newPlayer memory.PlayerFactory

	mu      sync.RWMutex
	players map[string]*app.Player
}

func NewSessionStore(client *redis.Client, ttl time.Duration, newPlayer memory.PlayerFactory) *SessionStore {
	return &SessionStore{
		client:    client,
		ttl:       ttl,
		newPlayer: newPlayer,
		players:   make(map[string]*app.Player),
	}
}

func (s *SessionStore) GetOrCreate(playerID string) (*app.Player, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getOrCreateLocked(playerID)
}

// Connect attaches sink to the player under the store lock, see memory.SessionStore.
func (s *SessionStore) Connect(playerID string, sink app.Sink) (*app.Player, bool, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	player, created := s.getOrCreateLocked(playerID)
	return player, created, player.Relay.Attach(sink)
}

func (s *SessionStore) getOrCreateLocked(playerID string) (*app.Player, bool) {
	if player, ok := s.players[playerID]; ok {
		return player, false
	}
	player := s.newPlayer(playerID)
	s.players[playerID] = player
	// best-effort liveness marker
	_ = s.client.Set(context.Background(), s.key(playerID), "1", s.ttl).Err()
	return player, true
}

func (s *SessionStore) Get(playerID string) (*app.Player, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	player, ok := s.players[playerID]
	return player, ok
}

// Touch extends the liveness marker of an active player.
func (s *SessionStore) Touch(ctx context.Context, playerID string) error {
	if _, ok := s.Get(playerID); !ok {
		return nil
	}
	return s.client.Set(ctx, s.key(playerID), "1", s.ttl).Err()
}

// Live reports whether any instance marked the player live.
func (s *SessionStore) Live(ctx context.Context, playerID string) (bool, error) {
	n, err := s.client.Exists(ctx, s.key(playerID)).Result()
	if err != nil && !isMiss(err) {
		return false, err
	}
	return n > 0, nil
}

func (s *SessionStore) DeleteIfIdle(playerID string) bool {
	s.mu.Lock()
	player, ok := s.players[playerID]
	if !ok || !player.Idle() {
		s.mu.Unlock()
		return false
	}
	delete(s.players, playerID)
	_ = s.client.Del(context.Background(), s.key(playerID)).Err()
	s.mu.Unlock()
	player.Close()
	return true
}

func (s *SessionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.players)
}

func (s *SessionStore) CloseAll() {
	s.mu.Lock()
	players := s.players
	s.players = make(map[string]*app.Player)
	s.mu.Unlock()
	keys := make([]string, 0, len(players))
	for id, p := range players {
		p.Close()
		keys = append(keys, s.key(id))
	}
	if len(keys) > 0 {
		_ = s.client.Del(context.Background(), keys...).Err()
	}
}

func (s *SessionStore) key(playerID string) string {
	return "eartune:player:" + playerID
}
