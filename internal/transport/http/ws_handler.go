package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"eartune-trainer/internal/app"
	"eartune-trainer/internal/credentials"
	"eartune-trainer/internal/domain"
	"github.com/gorilla/websocket"
)

const sendBuffer = 64

// PlayerStore hands out per-player state; implemented by the memory and redis stores.
// Connect attaches the sink atomically with respect to DeleteIfIdle.
type PlayerStore interface {
	Connect(playerID string, sink app.Sink) (player *app.Player, created bool, detach func())
	DeleteIfIdle(playerID string) bool
	Len() int
}

// GameFinder resolves a game id; unknown ids fail with domain.ErrGameNotFound.
type GameFinder interface {
	Game(ctx context.Context, id string) (domain.Game, error)
}

// toucher is implemented by stores that track player liveness.
type toucher interface {
	Touch(ctx context.Context, playerID string) error
}

// WSHandler bridges a browser to a player's controller over a websocket.
//
// Remote calls made for a connection use the bearer token of its handshake, taken
// from the Authorization header or the token query parameter. Connections without
// one fall back to the bridge's stored credential.
type WSHandler struct {
	players  PlayerStore
	games    GameFinder
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

type WSOption func(*WSHandler)

// WithGameFinder makes start requests for unknown games fail before a remote
// session is opened.
func WithGameFinder(games GameFinder) WSOption {
	return func(h *WSHandler) { h.games = games }
}

func NewWSHandler(players PlayerStore, logger *slog.Logger, opts ...WSOption) *WSHandler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &WSHandler{
		players: players,
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func handshakeBearer(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); len(auth) > len("Bearer ") && strings.EqualFold(auth[:len("Bearer ")], "Bearer ") {
		return strings.TrimSpace(auth[len("Bearer "):])
	}
	return r.URL.Query().Get("token")
}

// checkGame reports unknown game ids. Catalog outages are logged and let through;
// the session start reports them.
func (h *WSHandler) checkGame(ctx context.Context, logger *slog.Logger, gameID string) error {
	if h.games == nil || strings.TrimSpace(gameID) == "" {
		return nil
	}
	_, err := h.games.Game(ctx, gameID)
	if errors.Is(err, domain.ErrGameNotFound) {
		return fmt.Errorf("%w: %s", domain.ErrGameNotFound, gameID)
	}
	if err != nil {
		logger.Warn("game catalog unavailable", "game", gameID, "err", err)
	}
	return nil
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type startPayload struct {
	GameID string `json:"gameId"`
}

type answerPayload struct {
	Answer string `json:"answer"`
}

type dismissPayload struct {
	EventID string `json:"eventId"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type errorPayload struct {
	Message  string `json:"message"`
	Kind     string `json:"kind"`
	Blocking bool   `json:"blocking"`
}

func newError(err error) outboundMessage[any] {
	return outboundMessage[any]{Type: "error", Payload: errorPayload{
		Message:  err.Error(),
		Kind:     domain.Kind(err),
		Blocking: domain.IsBlocking(err),
	}}
}

// connSink forwards a player's celebrations to one connection. Pushes never block:
// presenter calls can arrive while the controller holds its lock.
type connSink struct {
	mu      sync.Mutex
	closed  bool
	holding bool
	held    []outboundMessage[any]
	send    chan outboundMessage[any]
	logger  *slog.Logger
}

func (s *connSink) Show(ev app.Event) { s.push(outboundMessage[any]{Type: "event.show", Payload: ev}) }
func (s *connSink) Hide(ev app.Event) { s.push(outboundMessage[any]{Type: "event.hide", Payload: ev}) }

// Ready is held back while an answer is in flight so the outcome is sent first.
func (s *connSink) Ready(snap domain.Snapshot) {
	msg := outboundMessage[any]{Type: "ready", Payload: snap}
	s.mu.Lock()
	if s.holding {
		s.held = append(s.held, msg)
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	s.push(msg)
}

func (s *connSink) hold() {
	s.mu.Lock()
	s.holding = true
	s.mu.Unlock()
}

func (s *connSink) release() {
	s.mu.Lock()
	held := s.held
	s.holding, s.held = false, nil
	s.mu.Unlock()
	for _, msg := range held {
		s.push(msg)
	}
}

func (s *connSink) push(msg outboundMessage[any]) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.send <- msg:
	default:
		s.logger.Warn("ws client too slow, dropping message", "type", msg.Type)
	}
}

func (s *connSink) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.send)
	}
}

// ServeWS upgrades the request and serves one player's game until the socket closes.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	playerID := r.URL.Query().Get("playerId")
	if playerID == "" {
		http.Error(w, "missing playerId", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	logger := h.logger.With("player", playerID)
	ctx := r.Context()
	if token := handshakeBearer(r); token != "" {
		ctx = credentials.WithBearer(ctx, token)
	}

	sink := &connSink{send: make(chan outboundMessage[any], sendBuffer), logger: logger}
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for msg := range sink.send {
			if err := conn.WriteJSON(msg); err != nil {
				logger.Debug("ws write error", "err", err)
				// drain so pushes never see a full buffer for long
				for range sink.send {
				}
				return
			}
		}
	}()

	player, created, detach := h.players.Connect(playerID, sink)
	logger.Debug("ws connected", "new_player", created, "players", h.players.Len())
	sink.push(outboundMessage[any]{Type: "state", Payload: player.Controller.Snapshot()})

	ctrl := player.Controller
	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		if t, ok := h.players.(toucher); ok {
			if err := t.Touch(ctx, playerID); err != nil {
				logger.Warn("touch player failed", "err", err)
			}
		}
		switch inbound.Type {
		case "start":
			var payload startPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				sink.push(newError(errors.New("invalid start payload")))
				continue
			}
			if err := h.checkGame(ctx, logger, payload.GameID); err != nil {
				sink.push(newError(err))
				continue
			}
			snap, err := ctrl.StartSession(ctx, payload.GameID)
			if err != nil {
				sink.push(newError(err))
				continue
			}
			sink.push(outboundMessage[any]{Type: "state", Payload: snap})
		case "reset":
			snap, err := ctrl.ResetSession(ctx)
			if err != nil {
				sink.push(newError(err))
				continue
			}
			sink.push(outboundMessage[any]{Type: "state", Payload: snap})
		case "answer":
			var payload answerPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				sink.push(newError(errors.New("invalid answer payload")))
				continue
			}
			sink.hold()
			res, err := ctrl.SubmitAnswer(ctx, payload.Answer)
			if err != nil {
				sink.push(newError(err))
			} else {
				sink.push(outboundMessage[any]{Type: "outcome", Payload: res})
				if res.NextChallengeErr != nil {
					sink.push(newError(res.NextChallengeErr))
				}
			}
			sink.release()
		case "refresh":
			snap, err := ctrl.RefreshChallenge(ctx)
			if err != nil {
				sink.push(newError(err))
				continue
			}
			sink.push(outboundMessage[any]{Type: "state", Payload: snap})
		case "dismiss":
			var payload dismissPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				sink.push(newError(errors.New("invalid dismiss payload")))
				continue
			}
			if err := ctrl.DismissEvent(payload.EventID); err != nil {
				sink.push(newError(err))
			}
		case "state":
			sink.push(outboundMessage[any]{Type: "state", Payload: ctrl.Snapshot()})
		default:
			sink.push(newError(errors.New("unsupported message type")))
		}
	}

	detach()
	sink.close()
	<-writerDone
	if h.players.DeleteIfIdle(playerID) {
		logger.Debug("player released", "players", h.players.Len())
	}
}
