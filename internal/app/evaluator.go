package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"eartune-trainer/internal/domain"
	"eartune-trainer/internal/wire"
)

// passingAccuracy is the rhythm accuracy, in percent, that counts as a correct answer.
const passingAccuracy = 95

// AnswerSubmitter performs the remote submit-answer call and returns the raw body.
type AnswerSubmitter interface {
	SubmitAnswer(ctx context.Context, submission domain.AnswerSubmission) (json.RawMessage, error)
}

// Evaluator performs one round-trip per submission and normalizes the verdict.
// It never retries: a failed call must leave the caller free to try again.
type Evaluator struct {
	submitter AnswerSubmitter
}

func NewEvaluator(submitter AnswerSubmitter) *Evaluator {
	return &Evaluator{submitter: submitter}
}

// Evaluate submits one answer and returns the outcome. Answers the submitter
// rejects as unparseable keep their validation error.
func (e *Evaluator) Evaluate(ctx context.Context, submission domain.AnswerSubmission) (domain.AnswerOutcome, error) {
	body, err := e.submitter.SubmitAnswer(ctx, submission)
	if err != nil {
		if errors.Is(err, domain.ErrNetwork) || errors.Is(err, domain.ErrMalformedResponse) || errors.Is(err, domain.ErrValidation) {
			return domain.AnswerOutcome{}, err
		}
		return domain.AnswerOutcome{}, fmt.Errorf("%w: submit answer: %w", domain.ErrNetwork, err)
	}
	return ParseVerdict(body)
}

// ParseVerdict turns a submit-answer body into an outcome. A body without a
// recognizable correctness signal is malformed.
func ParseVerdict(body []byte) (domain.AnswerOutcome, error) {
	var v wire.Verdict
	if err := json.Unmarshal(body, &v); err != nil {
		return domain.AnswerOutcome{}, fmt.Errorf("%w: decode verdict: %v", domain.ErrMalformedResponse, err)
	}

	correct, err := verdictCorrectness(v)
	if err != nil {
		return domain.AnswerOutcome{}, err
	}

	out := domain.AnswerOutcome{Correct: correct, Accuracy: v.Accuracy}
	if !correct {
		out.CorrectAnswer = wire.DescribeAnswer(v.CorrectAnswer)
	}
	if v.XPEarned != nil && *v.XPEarned > 0 {
		out.XPEarned = int(math.Round(*v.XPEarned))
	}
	if v.LevelUp != nil && *v.LevelUp {
		out.LevelUp = true
		if v.NewLevel != nil {
			out.NewLevel = *v.NewLevel
		}
	}
	if len(v.UnlockedAchievements) > 0 {
		out.UnlockedAchievements = make([]domain.Achievement, 0, len(v.UnlockedAchievements))
		for _, a := range v.UnlockedAchievements {
			out.UnlockedAchievements = append(out.UnlockedAchievements, a.Domain())
		}
	}
	return out, nil
}

func verdictCorrectness(v wire.Verdict) (bool, error) {
	accurate := v.Accuracy != nil && *v.Accuracy >= passingAccuracy

	raw := bytes.TrimSpace(v.Correct)
	if len(raw) > 0 && !bytes.Equal(raw, []byte("null")) {
		var correct bool
		if err := json.Unmarshal(raw, &correct); err != nil {
			return false, fmt.Errorf("%w: correct is not a boolean: %s", domain.ErrMalformedResponse, raw)
		}
		return correct || accurate, nil
	}

	if v.Result != nil {
		result := strings.ToLower(strings.TrimSpace(*v.Result))
		switch {
		case strings.HasPrefix(result, "correct"):
			return true, nil
		case strings.HasPrefix(result, "incorrect"):
			return false, nil
		}
		return false, fmt.Errorf("%w: unrecognized result %q", domain.ErrMalformedResponse, *v.Result)
	}

	if v.Accuracy != nil {
		return accurate, nil
	}
	return false, fmt.Errorf("%w: verdict has no correctness field", domain.ErrMalformedResponse)
}
