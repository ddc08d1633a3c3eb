package app_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"eartune-trainer/internal/app"
	"eartune-trainer/internal/domain"
)

func TestParseVerdictRecognizedShapes(t *testing.T) {
	cases := []struct {
		name    string
		body    string
		correct bool
	}{
		{"boolean correct", `{"correct":true}`, true},
		{"boolean incorrect", `{"correct":false}`, false},
		{"rhythm accuracy overrides", `{"correct":false,"accuracy":96.5}`, true},
		{"rhythm accuracy below threshold", `{"correct":false,"accuracy":80}`, false},
		{"legacy result correct", `{"result":"Correct!"}`, true},
		{"legacy result incorrect", `{"result":"Incorrect. Try again!"}`, false},
		{"bare accuracy", `{"accuracy":95}`, true},
		{"null correct falls back to result", `{"correct":null,"result":"Correct!"}`, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			out, err := app.ParseVerdict([]byte(tc.body))
			if err != nil {
				t.Fatalf("ParseVerdict() error = %v", err)
			}
			if out.Correct != tc.correct {
				t.Fatalf("expected correct=%v, got %v", tc.correct, out.Correct)
			}
		})
	}
}

func TestParseVerdictMalformed(t *testing.T) {
	for _, body := range []string{
		`{}`,
		`{"xp_earned":10}`,
		`{"correct":"yes"}`,
		`{"result":"maybe"}`,
		`not json`,
		`[]`,
	} {
		if _, err := app.ParseVerdict([]byte(body)); !errors.Is(err, domain.ErrMalformedResponse) {
			t.Fatalf("expected malformed response for %s, got %v", body, err)
		}
	}
}

func TestParseVerdictNormalizesRewards(t *testing.T) {
	body := `{
		"correct": true,
		"correct_answer": "C",
		"xp_earned": 50,
		"level_up": true,
		"new_level": 5,
		"unlocked_achievements": [
			{"id": 1, "name": "First Note", "description": "d", "icon": "star", "xp_reward": 10},
			{"id": 1, "name": "First Note", "description": "d", "icon": "star", "xp_reward": 10},
			{"id": "streak", "name": "Streak"}
		]
	}`
	out, err := app.ParseVerdict([]byte(body))
	if err != nil {
		t.Fatalf("ParseVerdict() error = %v", err)
	}
	if out.CorrectAnswer != "" {
		t.Fatalf("correct answer must be dropped for correct verdicts, got %q", out.CorrectAnswer)
	}
	if out.XPEarned != 50 || !out.LevelUp || out.NewLevel != 5 {
		t.Fatalf("unexpected rewards %+v", out)
	}
	if len(out.UnlockedAchievements) != 3 {
		t.Fatalf("duplicates must be kept, got %d achievements", len(out.UnlockedAchievements))
	}
	if out.UnlockedAchievements[0].ID != "1" || out.UnlockedAchievements[0].XPReward != 10 || out.UnlockedAchievements[2].ID != "streak" {
		t.Fatalf("unexpected achievements %+v", out.UnlockedAchievements)
	}

	out, err = app.ParseVerdict([]byte(`{"correct":false,"correct_answer":{"frequency_band":"Mid","change_amount":6},"xp_earned":-4,"new_level":9}`))
	if err != nil {
		t.Fatalf("ParseVerdict() error = %v", err)
	}
	if out.CorrectAnswer != "Mid (+6 dB)" {
		t.Fatalf("unexpected correct answer %q", out.CorrectAnswer)
	}
	if out.XPEarned != 0 || out.LevelUp || out.NewLevel != 0 {
		t.Fatalf("expected clamped xp and no level, got %+v", out)
	}
}

func TestEvaluateWrapsTransportErrors(t *testing.T) {
	submitter := &scriptedSubmitter{err: errTransport}
	eval := app.NewEvaluator(submitter)

	_, err := eval.Evaluate(context.Background(), domain.AnswerSubmission{ChallengeID: "c1", SessionID: "s1", Answer: "c"})
	if !errors.Is(err, domain.ErrNetwork) || !errors.Is(err, errTransport) {
		t.Fatalf("expected wrapped network error, got %v", err)
	}
	if submitter.last.ChallengeID != "c1" || submitter.last.SessionID != "s1" || submitter.last.Answer != "c" {
		t.Fatalf("unexpected submission %+v", submitter.last)
	}

	already := fmt.Errorf("%w: status 502", domain.ErrNetwork)
	submitter.err = already
	if _, err := eval.Evaluate(context.Background(), domain.AnswerSubmission{ChallengeID: "c1", SessionID: "s1", Answer: "c"}); err != already {
		t.Fatalf("expected error passed through unchanged, got %v", err)
	}
	if submitter.Calls() != 2 {
		t.Fatalf("evaluate must not retry, got %d calls", submitter.Calls())
	}
}

func TestEvaluateKeepsValidationErrors(t *testing.T) {
	bad := fmt.Errorf("%w: no taps given", domain.ErrValidation)
	submitter := &scriptedSubmitter{err: bad}
	eval := app.NewEvaluator(submitter)

	sub := domain.AnswerSubmission{ChallengeID: "r1", SessionID: "s1", Answer: "x", Type: domain.ChallengeRhythm}
	_, err := eval.Evaluate(context.Background(), sub)
	if err != bad {
		t.Fatalf("expected validation error passed through, got %v", err)
	}
	if submitter.last.Type != domain.ChallengeRhythm {
		t.Fatalf("expected challenge type forwarded, got %+v", submitter.last)
	}
}
