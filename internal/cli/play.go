package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"eartune-trainer/internal/app"
	"eartune-trainer/internal/clock"
	"eartune-trainer/internal/config"
	"eartune-trainer/internal/domain"
	"eartune-trainer/internal/infra/memory"
	"eartune-trainer/internal/infra/postgres"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/spf13/cobra"
)

const playHelp = "Commands: :ok dismiss level-up, :refresh new challenge, :reset restart, :state, :quit"

// NewPlayCmd builds the interactive terminal game.
func NewPlayCmd(opts *rootOptions) *cobra.Command {
	var gameID, difficulty string
	cmd := &cobra.Command{
		Use:   "play",
		Short: "Play an ear-training game in the terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			if difficulty != "" {
				cfg.API.Difficulty = difficulty
			}
			logger := newLogger(cfg.Log, cmd.ErrOrStderr())

			journal, closeJournal, err := openJournal(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer closeJournal()

			clients, release, err := connectAPI(ctx, cfg)
			if err != nil {
				return err
			}
			defer release()

			out := &syncWriter{w: cmd.OutOrStdout()}
			in := bufio.NewScanner(cmd.InOrStdin())
			catalog := memory.NewGameCatalog(clients.API, config.TTLDuration(cfg.Catalog.TTL, 10*time.Minute))

			if gameID == "" {
				gameID, err = chooseGame(ctx, catalog, in, out)
			} else {
				err = checkGame(ctx, catalog, gameID, logger)
			}
			if err != nil {
				return explain(err)
			}

			factory := app.PlayerFactory{
				Games:     clients.API,
				Evaluator: app.NewEvaluator(clients.API),
				Journal:   journal,
				Scheduler: clock.Real{},
				Timings:   cfg.Celebrations.Timings(),
				Logger:    logger,
			}
			player := factory.NewPlayer("terminal")
			defer player.Close()

			term := newTerminal(out, player.Controller)
			detach := player.Relay.Attach(term)
			defer detach()

			snap, err := player.Controller.StartSession(ctx, gameID)
			if err != nil {
				return explain(err)
			}
			out.Println(playHelp)
			term.showChallenge(snap)
			return term.run(ctx, in)
		},
	}
	cmd.Flags().StringVar(&gameID, "game", "", "game id to play (prompted when empty)")
	cmd.Flags().StringVar(&difficulty, "difficulty", "", "frequency game difficulty: beginner, intermediate or advanced")
	return cmd
}

// openJournal picks the postgres journal when configured and the in-memory one otherwise.
func openJournal(ctx context.Context, cfg config.Config, logger *slog.Logger) (app.RoundRecorder, func(), error) {
	if cfg.Postgres.URL == "" {
		return memory.NewRoundJournal(), func() {}, nil
	}
	if err := runMigrationsWithConfig(ctx, cfg, logger); err != nil {
		return nil, nil, err
	}
	pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("connect postgres: %w", err)
	}
	return postgres.NewRoundJournal(pool), pool.Close, nil
}

type gameSource interface {
	ListGames(ctx context.Context) ([]domain.Game, error)
	Game(ctx context.Context, id string) (domain.Game, error)
}

// checkGame fails for ids the catalog does not list. A catalog that cannot be
// read is left for StartSession to report.
func checkGame(ctx context.Context, games gameSource, id string, logger *slog.Logger) error {
	_, err := games.Game(ctx, id)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, domain.ErrGameNotFound):
		return fmt.Errorf("%w: %s", domain.ErrGameNotFound, id)
	default:
		logger.Warn("game lookup failed", "game", id, "err", err)
		return nil
	}
}

func chooseGame(ctx context.Context, games gameSource, in *bufio.Scanner, out *syncWriter) (string, error) {
	list, err := games.ListGames(ctx)
	if err != nil {
		return "", err
	}
	if len(list) == 0 {
		return "", errors.New("no games available")
	}
	for i, g := range list {
		out.Printf("%d) %s - %s\n", i+1, g.Name, g.Description)
	}
	out.Println("Pick a game:")
	for in.Scan() {
		choice := strings.TrimSpace(in.Text())
		for i, g := range list {
			if choice == fmt.Sprint(i+1) || strings.EqualFold(choice, g.ID) || strings.EqualFold(choice, g.Name) {
				return g.ID, nil
			}
		}
		out.Println("Unknown game, try again:")
	}
	if err := in.Err(); err != nil {
		return "", err
	}
	return "", io.EOF
}

// syncWriter serializes output from the input loop and celebration timers.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Printf(format string, args ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.w, format, args...)
}

func (s *syncWriter) Println(args ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintln(s.w, args...)
}

// terminal renders one player's game as text and turns typed lines into controller calls.
type terminal struct {
	out  *syncWriter
	ctrl *app.Controller

	mu         sync.Mutex
	levelUps   []string
	lastPrompt string
	submitting bool
	held       *domain.Snapshot
}

func newTerminal(out *syncWriter, ctrl *app.Controller) *terminal {
	return &terminal{out: out, ctrl: ctrl}
}

func (t *terminal) Show(ev app.Event) {
	switch ev.Kind {
	case app.EventXP:
		t.out.Printf("+%d XP\n", ev.XP)
	case app.EventLevelUp:
		t.mu.Lock()
		t.levelUps = append(t.levelUps, ev.ID)
		t.mu.Unlock()
		t.out.Printf("Level up! You reached level %d (type :ok)\n", ev.Level)
	case app.EventAchievement:
		if ev.Achievement != nil {
			t.out.Printf("Achievement unlocked: %s - %s\n", ev.Achievement.Name, ev.Achievement.Description)
		}
	}
}

func (t *terminal) Hide(ev app.Event) {
	if ev.Kind != app.EventLevelUp {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, id := range t.levelUps {
		if id == ev.ID {
			t.levelUps = append(t.levelUps[:i], t.levelUps[i+1:]...)
			return
		}
	}
}

// Ready shows the next challenge. While an answer is being submitted it is held back
// so the verdict prints first.
func (t *terminal) Ready(snap domain.Snapshot) {
	t.mu.Lock()
	if t.submitting {
		t.held = &snap
		t.mu.Unlock()
		return
	}
	t.mu.Unlock()
	t.showChallenge(snap)
}

// hold toggles ready buffering and returns the snapshot held back, if any.
func (t *terminal) hold(on bool) *domain.Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.submitting = on
	held := t.held
	t.held = nil
	return held
}

// showChallenge prints the current challenge once per challenge id.
func (t *terminal) showChallenge(snap domain.Snapshot) {
	if snap.Challenge == nil {
		return
	}
	t.mu.Lock()
	if t.lastPrompt == snap.Challenge.ID {
		t.mu.Unlock()
		return
	}
	t.lastPrompt = snap.Challenge.ID
	t.mu.Unlock()

	ch := snap.Challenge
	t.out.Printf("\n%s\n", ch.Prompt)
	if ch.AudioURL != "" {
		t.out.Printf("  audio: %s\n", ch.AudioURL)
	}
	if ch.CompareAudioURL != "" {
		t.out.Printf("  changed: %s\n", ch.CompareAudioURL)
	}
	if ch.Difficulty != "" {
		t.out.Printf("  difficulty: %s\n", ch.Difficulty)
	}
	if ch.Type == domain.ChallengeRhythm && ch.Tempo > 0 {
		t.out.Printf("  tempo: %d bpm\n", ch.Tempo)
	}
	if snap.Session != nil {
		t.out.Printf("  score %d, attempts left %d\n", snap.Session.Score, snap.Session.AttemptsRemaining)
	}
}

// restarted forgets the displayed prompt and level-ups; a new session cancels them silently.
func (t *terminal) restarted() {
	t.mu.Lock()
	t.lastPrompt = ""
	t.levelUps = nil
	t.mu.Unlock()
}

func (t *terminal) run(ctx context.Context, in *bufio.Scanner) error {
	for in.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		line := strings.TrimSpace(in.Text())
		if line == "" {
			continue
		}
		switch line {
		case ":quit", ":q":
			t.out.Println("Bye!")
			return nil
		case ":ok":
			t.dismissLevelUps()
		case ":reset":
			snap, err := t.ctrl.ResetSession(ctx)
			if t.report(err) {
				continue
			}
			t.restarted()
			t.showChallenge(snap)
		case ":refresh":
			snap, err := t.ctrl.RefreshChallenge(ctx)
			if t.report(err) {
				continue
			}
			t.showChallenge(snap)
		case ":state":
			t.printState(t.ctrl.Snapshot())
		case ":help":
			t.out.Println(playHelp)
		default:
			t.answer(ctx, line)
		}
	}
	return in.Err()
}

func (t *terminal) answer(ctx context.Context, line string) {
	t.hold(true)
	res, err := t.ctrl.SubmitAnswer(ctx, line)
	t.printResult(res, err)
	if snap := t.hold(false); snap != nil {
		t.showChallenge(*snap)
	}
}

func (t *terminal) printResult(res app.Result, err error) {
	if t.report(err) {
		return
	}
	switch {
	case res.Outcome.Correct:
		t.out.Println("Correct!")
	default:
		t.out.Println(res.Snapshot.Feedback)
	}
	if res.GameOver {
		score := 0
		if res.Snapshot.Session != nil {
			score = res.Snapshot.Session.Score
		}
		t.out.Printf("Game over. Score: %d (type :reset to play again)\n", score)
		return
	}
	if !res.Outcome.Correct {
		if res.Snapshot.Session != nil {
			t.out.Printf("Attempts left: %d\n", res.Snapshot.Session.AttemptsRemaining)
		}
		return
	}
	if res.NextChallengeErr != nil {
		t.out.Printf("Could not load the next challenge: %v (type :refresh)\n", res.NextChallengeErr)
	}
}

func (t *terminal) dismissLevelUps() {
	t.mu.Lock()
	ids := append([]string(nil), t.levelUps...)
	t.mu.Unlock()
	if len(ids) == 0 {
		t.out.Println("Nothing to dismiss.")
		return
	}
	for _, id := range ids {
		if err := t.ctrl.DismissEvent(id); err != nil && !errors.Is(err, domain.ErrEventNotOpen) {
			t.report(err)
		}
	}
}

func (t *terminal) printState(snap domain.Snapshot) {
	if snap.Session == nil {
		t.out.Println("No active session.")
		return
	}
	s := snap.Session
	t.out.Printf("game %s, session %s, score %d, attempts left %d, status %s\n",
		s.GameID, s.ID, s.Score, s.AttemptsRemaining, s.Status)
	if snap.Celebrating {
		t.out.Println("celebrating...")
	}
}

// report prints err and tells whether there was one.
func (t *terminal) report(err error) bool {
	if err == nil {
		return false
	}
	t.out.Printf("Error (%s): %v\n", domain.Kind(err), explain(err))
	return true
}
