package memory

import (
	"sync"

	"eartune-trainer/internal/app"
)

// PlayerFactory creates the state of a player seen for the first time.
type PlayerFactory func(playerID string) *app.Player

// SessionStore keeps the players active in this process.
type SessionStore struct {
	newPlayer PlayerFactory

	mu      sync.RWMutex
	players map[string]*app.Player
}

func NewSessionStore(newPlayer PlayerFactory) *SessionStore {
	return &SessionStore{
		newPlayer: newPlayer,
		players:   make(map[string]*app.Player),
	}
}

// GetOrCreate returns the player's state and whether it was just created.
func (s *SessionStore) GetOrCreate(playerID string) (*app.Player, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getOrCreateLocked(playerID)
}

// Connect attaches sink to the player, creating it when needed. The attach happens
// under the store lock, so DeleteIfIdle never drops a player that just gained a sink.
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
	return player, true
}

func (s *SessionStore) Get(playerID string) (*app.Player, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	player, ok := s.players[playerID]
	return player, ok
}

// DeleteIfIdle drops the player once no connection is attached and reports whether
// it did. The player's pending celebrations are discarded.
func (s *SessionStore) DeleteIfIdle(playerID string) bool {
	s.mu.Lock()
	player, ok := s.players[playerID]
	if !ok || !player.Idle() {
		s.mu.Unlock()
		return false
	}
	delete(s.players, playerID)
	s.mu.Unlock()
	player.Close()
	return true
}

func (s *SessionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.players)
}

// CloseAll drops every player.
func (s *SessionStore) CloseAll() {
	s.mu.Lock()
	players := s.players
	s.players = make(map[string]*app.Player)
	s.mu.Unlock()
	for _, p := range players {
		p.Close()
	}
}
