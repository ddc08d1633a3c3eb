// Package wire holds the JSON shapes spoken by the remote EarTune API.
package wire

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"eartune-trainer/internal/domain"
)

// ID accepts both JSON numbers and strings; the backend uses integer primary keys.
type ID string

func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("id must be a string or number: %w", err)
	}
	*id = ID(n.String())
	return nil
}

// MarshalJSON writes numeric ids back as numbers so the backend sees its own key type.
func (id ID) MarshalJSON() ([]byte, error) {
	if id == "" {
		return []byte("null"), nil
	}
	if _, err := strconv.ParseInt(string(id), 10, 64); err == nil {
		return []byte(id), nil
	}
	return json.Marshal(string(id))
}

type Game struct {
	ID          ID     `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

func (g Game) Domain() domain.Game {
	return domain.Game{ID: string(g.ID), Name: g.Name, Description: g.Description}
}

type Challenge struct {
	ID            ID     `json:"id"`
	Game          ID     `json:"game"`
	ChallengeType string `json:"challenge_type"`
	Prompt        string `json:"prompt"`
	CorrectAnswer string `json:"correct_answer"`
	AudioFile     string `json:"audio_file"`
	Tempo         int    `json:"tempo"`
}

type Achievement struct {
	ID          ID         `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Icon        string     `json:"icon"`
	XPReward    int        `json:"xp_reward"`
	Unlocked    bool       `json:"unlocked"`
	UnlockedAt  *time.Time `json:"unlocked_at"`
}

func (a Achievement) Domain() domain.Achievement {
	return domain.Achievement{
		ID:          string(a.ID),
		Name:        a.Name,
		Description: a.Description,
		Icon:        a.Icon,
		XPReward:    a.XPReward,
		Unlocked:    a.Unlocked,
		UnlockedAt:  a.UnlockedAt,
	}
}

type SessionCreated struct {
	ID        ID `json:"id"`
	SessionID ID `json:"session_id"`
}

// Value returns whichever of the two accepted id fields is set.
func (s SessionCreated) Value() string {
	if s.SessionID != "" {
		return string(s.SessionID)
	}
	return string(s.ID)
}

type AnswerRequest struct {
	ChallengeID ID     `json:"challenge_id"`
	SessionID   ID     `json:"session_id,omitempty"`
	Answer      string `json:"answer"`
}

// EQAnswerRequest is the frequency game's submit body.
type EQAnswerRequest struct {
	ChallengeID     ID  `json:"challenge_id"`
	FrequencyBandID ID  `json:"frequency_band_id"`
	ChangeAmount    int `json:"change_amount"`
}

// RhythmAnswerRequest is the rhythm game's submit body; taps are milliseconds.
type RhythmAnswerRequest struct {
	ChallengeID ID    `json:"challenge_id"`
	UserTaps    []int `json:"user_taps"`
}

type FrequencyBand struct {
	ID           ID      `json:"id"`
	Name         string  `json:"name"`
	MinFrequency float64 `json:"min_frequency"`
	MaxFrequency float64 `json:"max_frequency"`
}

func (b FrequencyBand) Domain() domain.FrequencyBand {
	return domain.FrequencyBand{ID: string(b.ID), Name: b.Name, MinHz: b.MinFrequency, MaxHz: b.MaxFrequency}
}

// EQChallenge is a frequency challenge: source_audio with one band changed by
// change_amount dB.
type EQChallenge struct {
	ID            ID            `json:"id"`
	SourceAudio   string        `json:"source_audio"`
	FrequencyBand FrequencyBand `json:"frequency_band"`
	ChangeAmount  float64       `json:"change_amount"`
	Difficulty    string        `json:"difficulty"`
}

// Verdict is the submit-answer response. Pointer and raw fields distinguish absent
// values from zero values.
type Verdict struct {
	Correct              json.RawMessage `json:"correct"`
	Result               *string         `json:"result"`
	Accuracy             *float64        `json:"accuracy"`
	CorrectAnswer        json.RawMessage `json:"correct_answer"`
	XPEarned             *float64        `json:"xp_earned"`
	LevelUp              *bool           `json:"level_up"`
	NewLevel             *int            `json:"new_level"`
	UnlockedAchievements []Achievement   `json:"unlocked_achievements"`
}

type HistoryEntry struct {
	ID         ID        `json:"id"`
	Challenge  ID        `json:"challenge"`
	Score      int       `json:"score"`
	DatePlayed time.Time `json:"date_played"`
	Active     bool      `json:"active"`
}

func (h HistoryEntry) Domain() domain.HistoryEntry {
	return domain.HistoryEntry{
		ID:          string(h.ID),
		ChallengeID: string(h.Challenge),
		Score:       h.Score,
		DatePlayed:  h.DatePlayed,
		Active:      h.Active,
	}
}

type Profile struct {
	Username            string    `json:"username"`
	Level               int       `json:"level"`
	CurrentXP           int       `json:"current_xp"`
	XPForNextLevel      int       `json:"xp_for_next_level"`
	TotalGamesPlayed    int       `json:"total_games_played"`
	TotalCorrectAnswers int       `json:"total_correct_answers"`
	CurrentStreak       int       `json:"current_streak"`
	DateJoined          time.Time `json:"date_joined"`
}

func (p Profile) Domain() domain.Profile {
	return domain.Profile{
		Username:            p.Username,
		Level:               p.Level,
		CurrentXP:           p.CurrentXP,
		XPForNextLevel:      p.XPForNextLevel,
		TotalGamesPlayed:    p.TotalGamesPlayed,
		TotalCorrectAnswers: p.TotalCorrectAnswers,
		CurrentStreak:       p.CurrentStreak,
		DateJoined:          p.DateJoined,
	}
}

type TokenPair struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}

type RefreshRequest struct {
	Refresh string `json:"refresh"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// RegisterRequest mirrors the backend's user creation form.
type RegisterRequest struct {
	Username  string `json:"username"`
	Password1 string `json:"password1"`
	Password2 string `json:"password2"`
}

// DescribeAnswer renders the correct_answer field, which is a plain string for note
// games and an object for frequency games.
func DescribeAnswer(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var eq struct {
		FrequencyBand *string  `json:"frequency_band"`
		ChangeAmount  *float64 `json:"change_amount"`
	}
	if err := json.Unmarshal(raw, &eq); err == nil && eq.FrequencyBand != nil && eq.ChangeAmount != nil {
		sign := ""
		if *eq.ChangeAmount > 0 {
			sign = "+"
		}
		return fmt.Sprintf("%s (%s%s dB)", *eq.FrequencyBand, sign, strconv.FormatFloat(*eq.ChangeAmount, 'f', -1, 64))
	}
	return strings.TrimSpace(string(raw))
}
