package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"eartune-trainer/internal/domain"
	"github.com/google/uuid"
)

const incorrectFeedback = "Incorrect. Try again!"

// GameService is the part of the remote game API the controller drives.
type GameService interface {
	CreateSession(ctx context.Context, gameID string) (string, error)
	RandomChallenge(ctx context.Context, gameID string) (domain.Challenge, error)
}

// AnswerEvaluator turns one submission into a verdict.
type AnswerEvaluator interface {
	Evaluate(ctx context.Context, submission domain.AnswerSubmission) (domain.AnswerOutcome, error)
}

// Celebrations displays the rewards of correct answers.
type Celebrations interface {
	Enqueue(outcome domain.AnswerOutcome)
	Dismiss(id string) error
	Cancel()
	Busy() bool
}

// RoundRecorder journals rounds that reached game over.
type RoundRecorder interface {
	RecordRound(ctx context.Context, round domain.RoundSummary) error
}

// Result is what a submission produced. When NextChallengeErr is set the verdict was
// applied but no new challenge could be loaded; RefreshChallenge retries the fetch.
type Result struct {
	Outcome          domain.AnswerOutcome `json:"outcome"`
	Snapshot         domain.Snapshot      `json:"snapshot"`
	GameOver         bool                 `json:"gameOver"`
	NextChallengeErr error                `json:"-"`
}

// Controller owns one game session at a time and enforces the attempt-limited round.
// Remote calls run without the lock; each captures the session generation when it is
// issued and its result is dropped if the generation moved on in the meantime.
type Controller struct {
	games        GameService
	evaluator    AnswerEvaluator
	celebrations Celebrations
	journal      RoundRecorder
	logger       *slog.Logger
	now          func() time.Time
	newID        func() string
	onReady      func(domain.Snapshot)

	mu           sync.Mutex
	generation   uint64
	challengeSeq uint64
	starting     uint64 // generation of the StartSession in flight, 0 when none
	gameID       string
	session      *domain.Session
	challenge    *domain.Challenge
	feedback     string
}

// Option configures a Controller.
type Option func(*Controller)

// WithCelebrations routes correct outcomes to q. If q can report when it drains, the
// controller forwards that as the ready signal.
func WithCelebrations(q Celebrations) Option {
	return func(c *Controller) { c.celebrations = q }
}

func WithJournal(j RoundRecorder) Option {
	return func(c *Controller) { c.journal = j }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// WithClock is used by tests for deterministic timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// WithReadyHandler registers fn to be called once the celebrations of a correct answer
// have finished and the next challenge can be presented.
func WithReadyHandler(fn func(domain.Snapshot)) Option {
	return func(c *Controller) { c.onReady = fn }
}

func NewController(games GameService, evaluator AnswerEvaluator, opts ...Option) *Controller {
	c := &Controller{
		games:        games,
		evaluator:    evaluator,
		celebrations: noCelebrations{},
		logger:       slog.Default(),
		now:          time.Now,
		newID:        uuid.NewString,
	}
	for _, opt := range opts {
		opt(c)
	}
	if q, ok := c.celebrations.(interface{ SetIdleHandler(func()) }); ok {
		q.SetIdleHandler(c.celebrationsDone)
	}
	return c
}

// StartSession replaces the current session with a fresh one for gameID.
// Pending celebrations of the previous session are discarded. The previous session
// stays visible in snapshots until the new one is installed, so a failed start keeps
// the final score of a finished game.
func (c *Controller) StartSession(ctx context.Context, gameID string) (domain.Snapshot, error) {
	gameID = strings.TrimSpace(gameID)
	if gameID == "" {
		return domain.Snapshot{}, fmt.Errorf("%w: game id is required", domain.ErrValidation)
	}

	c.mu.Lock()
	c.generation++
	gen := c.generation
	c.starting = gen
	c.mu.Unlock()
	c.celebrations.Cancel()

	sessionID, err := c.games.CreateSession(ctx, gameID)
	if err != nil {
		c.logger.Warn("create session failed", "game", gameID, "err", err)
		c.startFailed(gen)
		return domain.Snapshot{}, fmt.Errorf("%w: create session: %w", domain.ErrSessionStart, err)
	}
	challenge, err := c.games.RandomChallenge(ctx, gameID)
	if err != nil {
		c.logger.Warn("fetch first challenge failed", "game", gameID, "err", err)
		c.startFailed(gen)
		return domain.Snapshot{}, fmt.Errorf("%w: fetch challenge: %w", domain.ErrSessionStart, err)
	}

	c.mu.Lock()
	if c.generation != gen {
		c.mu.Unlock()
		return domain.Snapshot{}, fmt.Errorf("%w: start of game %s was superseded", domain.ErrStaleResponse, gameID)
	}
	session := domain.NewSession(sessionID, gameID, c.now())
	c.starting = 0
	c.gameID = gameID
	c.session = &session
	c.feedback = ""
	c.installLocked(challenge)
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.logger.Info("session started", "session", sessionID, "game", gameID)
	return snap, nil
}

func (c *Controller) startFailed(gen uint64) {
	c.mu.Lock()
	if c.starting == gen {
		c.starting = 0
	}
	c.mu.Unlock()
}

// ResetSession starts a new session for the game of the current one.
func (c *Controller) ResetSession(ctx context.Context) (domain.Snapshot, error) {
	c.mu.Lock()
	gameID := c.gameID
	c.mu.Unlock()
	if gameID == "" {
		return domain.Snapshot{}, domain.ErrNoSession
	}
	return c.StartSession(ctx, gameID)
}

// SubmitAnswer evaluates rawAnswer against the current challenge and applies the verdict.
// Failed evaluations leave the session untouched.
func (c *Controller) SubmitAnswer(ctx context.Context, rawAnswer string) (Result, error) {
	answer := strings.TrimSpace(rawAnswer)
	if answer == "" {
		return Result{}, fmt.Errorf("%w: answer is empty", domain.ErrValidation)
	}

	c.mu.Lock()
	switch {
	case c.session == nil:
		c.mu.Unlock()
		return Result{}, domain.ErrNoSession
	case c.starting != 0:
		c.mu.Unlock()
		return Result{}, fmt.Errorf("%w: a new session is starting", domain.ErrNoSession)
	case c.session.Over():
		c.mu.Unlock()
		return Result{}, domain.ErrSessionOver
	case c.challenge == nil:
		c.mu.Unlock()
		return Result{}, domain.ErrNoChallenge
	}
	gen, seq := c.generation, c.challengeSeq
	sessionID, challengeID := c.session.ID, c.challenge.ID
	submission := domain.AnswerSubmission{
		ChallengeID: challengeID,
		SessionID:   sessionID,
		Answer:      answer,
		Type:        c.challenge.Type,
	}
	c.mu.Unlock()

	outcome, err := c.evaluator.Evaluate(ctx, submission)
	if err != nil {
		c.logger.Warn("evaluate answer failed", "session", sessionID, "challenge", challengeID, "err", err)
		return Result{}, err
	}

	c.mu.Lock()
	if c.generation != gen || c.challengeSeq != seq {
		c.mu.Unlock()
		return Result{}, fmt.Errorf("%w: verdict for challenge %s", domain.ErrStaleResponse, challengeID)
	}
	if c.session.Over() {
		c.mu.Unlock()
		return Result{}, domain.ErrSessionOver
	}
	ended := c.session.Apply(outcome.Correct)
	if outcome.Correct {
		c.feedback = ""
		// consumed; a new one is fetched below
		c.challenge = nil
		c.challengeSeq++
	} else {
		c.feedback = incorrectFeedback
		if outcome.CorrectAnswer != "" {
			c.feedback = "Incorrect. Correct answer: " + outcome.CorrectAnswer
		}
	}
	var summary domain.RoundSummary
	if ended {
		summary = c.summaryLocked()
	}
	quiet := false
	if outcome.Correct {
		// under the lock so a concurrent StartSession cannot interleave its Cancel
		c.celebrations.Enqueue(outcome)
		quiet = !c.celebrations.Busy()
	}
	res := Result{Outcome: outcome, Snapshot: c.snapshotLocked(), GameOver: ended}
	c.mu.Unlock()

	if ended {
		c.logger.Info("session over", "session", sessionID, "score", summary.Score)
		c.record(ctx, summary)
	}
	if !outcome.Correct {
		return res, nil
	}

	snap, err := c.fetchChallenge(ctx, gen)
	res.Snapshot = snap
	res.NextChallengeErr = err
	if quiet && !errors.Is(err, domain.ErrStaleResponse) {
		// nothing was displayed, so the queue will never drain into a ready signal
		c.celebrationsDone()
	}
	return res, nil
}

// RefreshChallenge replaces the current challenge with a freshly fetched one.
func (c *Controller) RefreshChallenge(ctx context.Context) (domain.Snapshot, error) {
	c.mu.Lock()
	switch {
	case c.session == nil:
		c.mu.Unlock()
		return domain.Snapshot{}, domain.ErrNoSession
	case c.starting != 0:
		c.mu.Unlock()
		return domain.Snapshot{}, fmt.Errorf("%w: a new session is starting", domain.ErrNoSession)
	case c.session.Over():
		c.mu.Unlock()
		return domain.Snapshot{}, domain.ErrSessionOver
	}
	gen := c.generation
	c.mu.Unlock()
	return c.fetchChallenge(ctx, gen)
}

// DismissEvent closes one displayed celebration.
func (c *Controller) DismissEvent(id string) error {
	return c.celebrations.Dismiss(id)
}

// Snapshot returns a copy of the current state.
func (c *Controller) Snapshot() domain.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Close tears the controller down: pending displays are discarded and in-flight calls
// are superseded.
func (c *Controller) Close() {
	c.mu.Lock()
	c.generation++
	c.mu.Unlock()
	c.celebrations.Cancel()
}

func (c *Controller) fetchChallenge(ctx context.Context, gen uint64) (domain.Snapshot, error) {
	c.mu.Lock()
	if c.generation != gen || c.session == nil {
		snap := c.snapshotLocked()
		c.mu.Unlock()
		return snap, domain.ErrStaleResponse
	}
	gameID, seq := c.session.GameID, c.challengeSeq
	c.mu.Unlock()

	challenge, err := c.games.RandomChallenge(ctx, gameID)
	if err != nil {
		if !errors.Is(err, domain.ErrNetwork) && !errors.Is(err, domain.ErrMalformedResponse) {
			err = fmt.Errorf("%w: fetch challenge: %w", domain.ErrNetwork, err)
		}
		c.logger.Warn("fetch challenge failed", "game", gameID, "err", err)
		return c.Snapshot(), err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generation != gen || c.challengeSeq != seq {
		return c.snapshotLocked(), fmt.Errorf("%w: challenge for game %s", domain.ErrStaleResponse, gameID)
	}
	c.installLocked(challenge)
	return c.snapshotLocked(), nil
}

func (c *Controller) installLocked(challenge domain.Challenge) {
	if challenge.GameID == "" {
		challenge.GameID = c.gameID
	}
	c.challenge = &challenge
	c.challengeSeq++
}

func (c *Controller) snapshotLocked() domain.Snapshot {
	snap := domain.Snapshot{Feedback: c.feedback, Celebrating: c.celebrations.Busy()}
	if c.session != nil {
		s := *c.session
		snap.Session = &s
	}
	if c.challenge != nil {
		ch := *c.challenge
		snap.Challenge = &ch
	}
	return snap
}

func (c *Controller) summaryLocked() domain.RoundSummary {
	return domain.RoundSummary{
		ID:           c.newID(),
		SessionID:    c.session.ID,
		GameID:       c.session.GameID,
		Score:        c.session.Score,
		AttemptsUsed: domain.MaxAttempts - c.session.AttemptsRemaining,
		StartedAt:    c.session.StartedAt,
		EndedAt:      c.now(),
	}
}

func (c *Controller) record(ctx context.Context, summary domain.RoundSummary) {
	if c.journal == nil {
		return
	}
	if err := c.journal.RecordRound(ctx, summary); err != nil {
		c.logger.Warn("journal round failed", "session", summary.SessionID, "err", err)
	}
}

func (c *Controller) celebrationsDone() {
	if c.onReady == nil {
		return
	}
	c.onReady(c.Snapshot())
}

type noCelebrations struct{}

func (noCelebrations) Enqueue(domain.AnswerOutcome) {}
func (noCelebrations) Dismiss(string) error        { return domain.ErrEventNotOpen }
func (noCelebrations) Cancel()                     {}
func (noCelebrations) Busy() bool                  { return false }
