package domain

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"unicode"
)

// EQChangeSteps are the gain changes, in dB, a frequency answer may name.
var EQChangeSteps = []int{-12, -9, -6, -3, 0, 3, 6, 9, 12}

// Difficulties accepted by the frequency game.
var Difficulties = []string{"beginner", "intermediate", "advanced"}

// FrequencyBand is one band a frequency challenge may have boosted or cut.
type FrequencyBand struct {
	ID    string  `json:"id"`
	Name  string  `json:"name"`
	MinHz float64 `json:"minHz"`
	MaxHz float64 `json:"maxHz"`
}

// EQAnswer is a guess of which band changed and by how much.
type EQAnswer struct {
	Band     string
	ChangeDB int
}

// ParseEQAnswer reads "<band> <±dB>", for example "mid +6" or "3 -9 dB". The band
// is a band name or id; the change must be one of EQChangeSteps.
func ParseEQAnswer(answer string) (EQAnswer, error) {
	fields := strings.Fields(answer)
	if n := len(fields); n > 0 && strings.EqualFold(fields[n-1], "db") {
		fields = fields[:n-1]
	}
	if len(fields) < 2 {
		return EQAnswer{}, fmt.Errorf("%w: answer as <band> <change dB>, e.g. \"mid +6\"", ErrValidation)
	}
	last := len(fields) - 1
	amount := strings.TrimSuffix(strings.ToLower(fields[last]), "db")
	db, err := strconv.Atoi(strings.TrimPrefix(amount, "+"))
	if err != nil || !slices.Contains(EQChangeSteps, db) {
		return EQAnswer{}, fmt.Errorf("%w: change must be one of %v dB, got %q", ErrValidation, EQChangeSteps, fields[last])
	}
	return EQAnswer{Band: strings.Join(fields[:last], " "), ChangeDB: db}, nil
}

// ParseTaps reads a rhythm answer: tap offsets in milliseconds from the start of
// the recording, separated by commas or spaces, in non-decreasing order.
func ParseTaps(answer string) ([]int, error) {
	fields := strings.FieldsFunc(answer, func(r rune) bool { return r == ',' || unicode.IsSpace(r) })
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: no taps given", ErrValidation)
	}
	taps := make([]int, 0, len(fields))
	for _, f := range fields {
		ms, err := strconv.Atoi(f)
		if err != nil || ms < 0 {
			return nil, fmt.Errorf("%w: tap %q is not a millisecond offset", ErrValidation, f)
		}
		if n := len(taps); n > 0 && ms < taps[n-1] {
			return nil, fmt.Errorf("%w: taps must be in order", ErrValidation)
		}
		taps = append(taps, ms)
	}
	return taps, nil
}

// FlowForGame guesses from a game's name which challenge flow serves it. Games
// without a dedicated flow return "".
func FlowForGame(name string) ChallengeType {
	words := strings.FieldsFunc(strings.ToLower(name), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		switch w {
		case "rhythm", "tempo", "beat":
			return ChallengeRhythm
		case "frequency", "eq", "equalizer", "equaliser":
			return ChallengeFrequency
		}
	}
	return ""
}
