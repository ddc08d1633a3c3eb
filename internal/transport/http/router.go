package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"eartune-trainer/internal/app"
	"eartune-trainer/internal/domain"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// GameCatalog lists the games a player can start.
type GameCatalog interface {
	ListGames(ctx context.Context) ([]domain.Game, error)
	GameFinder
}

// PlayerLookup finds a connected player without creating one.
type PlayerLookup interface {
	Get(playerID string) (*app.Player, bool)
}

// livenessChecker is implemented by stores shared between bridge instances.
type livenessChecker interface {
	Live(ctx context.Context, playerID string) (bool, error)
}

// playerState is a player's snapshot plus whether any bridge instance serves it.
type playerState struct {
	domain.Snapshot
	Live bool `json:"live"`
}

// Checker reports the health of one dependency.
type Checker interface {
	Check(ctx context.Context) error
}

// CheckerFunc adapts a function to Checker.
type CheckerFunc func(ctx context.Context) error

func (f CheckerFunc) Check(ctx context.Context) error { return f(ctx) }

type RouterDeps struct {
	WS      *WSHandler
	Games   GameCatalog
	Players PlayerLookup
	Checks  map[string]Checker
	Logger  *slog.Logger
}

// NewRouter mounts the bridge endpoints.
func NewRouter(deps RouterDeps) chi.Router {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", healthHandler(deps.Checks, logger))
	if deps.WS != nil {
		r.Get("/ws", deps.WS.ServeWS)
	}
	r.Route("/api", func(r chi.Router) {
		if deps.Games != nil {
			r.Get("/games", gamesHandler(deps.Games))
			r.Get("/games/{gameID}", gameHandler(deps.Games))
		}
		if deps.Players != nil {
			r.Get("/players/{playerID}/state", stateHandler(deps.Players, logger))
		}
	})
	return r
}

func gameHandler(games GameFinder) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		game, err := games.Game(r.Context(), chi.URLParam(r, "gameID"))
		if err != nil {
			writeError(w, http.StatusBadGateway, err)
			return
		}
		writeJSON(w, http.StatusOK, game)
	}
}

func gamesHandler(games GameCatalog) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := games.ListGames(r.Context())
		if err != nil {
			writeError(w, http.StatusBadGateway, err)
			return
		}
		writeJSON(w, http.StatusOK, list)
	}
}

// stateHandler serves the snapshot of a player held by this instance. A player held
// by another instance sharing the store is reported live with an empty snapshot.
func stateHandler(players PlayerLookup, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		playerID := chi.URLParam(r, "playerID")
		player, local := players.Get(playerID)
		live := local
		if lc, ok := players.(livenessChecker); ok && !local {
			var err error
			if live, err = lc.Live(r.Context(), playerID); err != nil {
				logger.Warn("player liveness lookup failed", "player", playerID, "err", err)
			}
		}
		switch {
		case local:
			writeJSON(w, http.StatusOK, playerState{Snapshot: player.Controller.Snapshot(), Live: live})
		case live:
			writeJSON(w, http.StatusOK, playerState{Live: true})
		default:
			writeError(w, http.StatusNotFound, domain.ErrNoSession)
		}
	}
}

type checkResult struct {
	Status string `json:"status"`
}

func healthHandler(checks map[string]Checker, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		result := make(map[string]checkResult, len(checks))
		status := http.StatusOK
		for name, c := range checks {
			if err := c.Check(ctx); err != nil {
				logger.Error("health check failed", "check", name, "err", err)
				result[name] = checkResult{Status: "error"}
				status = http.StatusServiceUnavailable
				continue
			}
			result[name] = checkResult{Status: "ok"}
		}
		writeJSON(w, status, result)
	}
}

func requestLogger(logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				logger.Info("http request",
					"method", r.Method,
					"path", r.URL.Path,
					"status", ww.Status(),
					"duration_ms", time.Since(start).Milliseconds(),
					"request_id", middleware.GetReqID(r.Context()),
				)
			}()

			next.ServeHTTP(ww, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	if errors.Is(err, domain.ErrGameNotFound) {
		status = http.StatusNotFound
	}
	writeJSON(w, status, errorPayload{Message: err.Error(), Kind: domain.Kind(err), Blocking: domain.IsBlocking(err)})
}
