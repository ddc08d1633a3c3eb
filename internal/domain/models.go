package domain

import (
	"strings"
	"time"
)

// MaxAttempts is the number of incorrect verdicts a session tolerates before it ends.
const MaxAttempts = 3

// Status is the lifecycle state of a game session.
type Status string

const (
	StatusActive   Status = "active"
	StatusGameOver Status = "game_over"
)

// ChallengeType identifies what kind of prompt a challenge carries.
type ChallengeType string

const (
	ChallengeNote      ChallengeType = "note"
	ChallengeChord     ChallengeType = "chord"
	ChallengeFrequency ChallengeType = "frequency"
	ChallengeRhythm    ChallengeType = "rhythm"
)

// Game is one playable game offered by the remote service.
type Game struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Challenge is a single prompt to be answered. It is replaced wholesale on every fetch.
type Challenge struct {
	ID            string        `json:"id"`
	GameID        string        `json:"gameId,omitempty"`
	Prompt        string        `json:"prompt"`
	CorrectAnswer string        `json:"-"`
	Type          ChallengeType `json:"type"`
	AudioURL      string        `json:"audioUrl,omitempty"`
	// CompareAudioURL is the processed sample of a frequency challenge.
	CompareAudioURL string `json:"compareAudioUrl,omitempty"`
	Tempo           int    `json:"tempo,omitempty"`
	Difficulty      string `json:"difficulty,omitempty"`
}

// AcceptedAnswers splits the canonical answer into its underscore-separated alternatives.
func (c Challenge) AcceptedAnswers() []string {
	raw := strings.ToLower(strings.TrimSpace(c.CorrectAnswer))
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, "_")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Session is one bounded round of a game.
type Session struct {
	ID                string    `json:"id"`
	GameID            string    `json:"gameId"`
	AttemptsRemaining int       `json:"attemptsRemaining"`
	Score             int       `json:"score"`
	Status            Status    `json:"status"`
	StartedAt         time.Time `json:"startedAt"`
}

// NewSession returns a fresh active session with the full attempt allowance.
func NewSession(id, gameID string, startedAt time.Time) Session {
	return Session{
		ID:                id,
		GameID:            gameID,
		AttemptsRemaining: MaxAttempts,
		Status:            StatusActive,
		StartedAt:         startedAt,
	}
}

// Over reports whether the session no longer accepts submissions.
func (s Session) Over() bool {
	return s.Status == StatusGameOver
}

// Apply records a verdict and reports whether it ended the session.
// Verdicts on a finished session are ignored.
func (s *Session) Apply(correct bool) bool {
	if s.Over() {
		return false
	}
	if correct {
		s.Score++
		return false
	}
	s.AttemptsRemaining--
	if s.AttemptsRemaining <= 0 {
		s.AttemptsRemaining = 0
		s.Status = StatusGameOver
		return true
	}
	return false
}

// Achievement is read-only display data attached to an outcome or listed for a user.
type Achievement struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Icon        string     `json:"icon"`
	XPReward    int        `json:"xpReward"`
	Unlocked    bool       `json:"unlocked,omitempty"`
	UnlockedAt  *time.Time `json:"unlockedAt,omitempty"`
}

// AnswerSubmission is what gets sent to the remote service for one answer. Type
// selects the submit flow.
type AnswerSubmission struct {
	ChallengeID string
	SessionID   string
	Answer      string
	Type        ChallengeType
}

// AnswerOutcome is the normalized verdict for one submission.
type AnswerOutcome struct {
	Correct              bool          `json:"correct"`
	CorrectAnswer        string        `json:"correctAnswer,omitempty"` // only when incorrect
	XPEarned             int           `json:"xpEarned,omitempty"`
	LevelUp              bool          `json:"levelUp,omitempty"`
	NewLevel             int           `json:"newLevel,omitempty"` // only when LevelUp
	UnlockedAchievements []Achievement `json:"unlockedAchievements,omitempty"`
	Accuracy             *float64      `json:"accuracy,omitempty"`
}

// Snapshot is a read-only copy of the controller state for presenters.
type Snapshot struct {
	Session     *Session   `json:"session,omitempty"`
	Challenge   *Challenge `json:"challenge,omitempty"`
	Feedback    string     `json:"feedback,omitempty"`
	Celebrating bool       `json:"celebrating"`
}

// Profile mirrors the remote gamification profile of the signed-in user.
type Profile struct {
	Username            string    `json:"username"`
	Level               int       `json:"level"`
	CurrentXP           int       `json:"currentXp"`
	XPForNextLevel      int       `json:"xpForNextLevel"`
	TotalGamesPlayed    int       `json:"totalGamesPlayed"`
	TotalCorrectAnswers int       `json:"totalCorrectAnswers"`
	CurrentStreak       int       `json:"currentStreak"`
	DateJoined          time.Time `json:"dateJoined"`
}

// Progress is the fraction of the current level already earned, in [0, 1].
func (p Profile) Progress() float64 {
	if p.XPForNextLevel <= 0 {
		return 0
	}
	v := float64(p.CurrentXP) / float64(p.XPForNextLevel)
	if v > 1 {
		return 1
	}
	if v < 0 {
		return 0
	}
	return v
}

// Accuracy is the percentage of correct answers over all games played.
func (p Profile) Accuracy() float64 {
	if p.TotalGamesPlayed <= 0 {
		return 0
	}
	return float64(p.TotalCorrectAnswers) / float64(p.TotalGamesPlayed) * 100
}

// HistoryEntry is one remote game-session record.
type HistoryEntry struct {
	ID          string    `json:"id"`
	ChallengeID string    `json:"challengeId"`
	Score       int       `json:"score"`
	DatePlayed  time.Time `json:"datePlayed"`
	Active      bool      `json:"active"`
}

// RoundSummary is the local journal row for a round that reached game over.
type RoundSummary struct {
	ID           string    `json:"id"`
	SessionID    string    `json:"sessionId"`
	GameID       string    `json:"gameId"`
	Score        int       `json:"score"`
	AttemptsUsed int       `json:"attemptsUsed"`
	StartedAt    time.Time `json:"startedAt"`
	EndedAt      time.Time `json:"endedAt"`
}
