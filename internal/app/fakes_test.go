package app_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"eartune-trainer/internal/app"
	"eartune-trainer/internal/domain"
)

// fakeGames hands out sequential sessions and challenges.
type fakeGames struct {
	mu             sync.Mutex
	sessions       int
	challenges     int
	createErr      error
	challengeErr   error
	challengeCalls int
}

func (f *fakeGames) CreateSession(_ context.Context, gameID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return "", f.createErr
	}
	f.sessions++
	return fmt.Sprintf("session-%d", f.sessions), nil
}

func (f *fakeGames) RandomChallenge(_ context.Context, gameID string) (domain.Challenge, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.challengeCalls++
	if f.challengeErr != nil {
		return domain.Challenge{}, f.challengeErr
	}
	f.challenges++
	return domain.Challenge{
		ID:            fmt.Sprintf("challenge-%d", f.challenges),
		Prompt:        "Which note is this?",
		CorrectAnswer: "c",
		Type:          domain.ChallengeNote,
	}, nil
}

// scriptedSubmitter answers "c" as correct and anything else as incorrect, unless a
// body or error is forced.
type scriptedSubmitter struct {
	mu    sync.Mutex
	calls int
	body  string
	err   error
	last  domain.AnswerSubmission
}

func (s *scriptedSubmitter) SubmitAnswer(_ context.Context, sub domain.AnswerSubmission) (json.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.last = sub
	if s.err != nil {
		return nil, s.err
	}
	if s.body != "" {
		return json.RawMessage(s.body), nil
	}
	if sub.Answer == "c" {
		return json.RawMessage(`{"correct":true,"xp_earned":10}`), nil
	}
	return json.RawMessage(`{"correct":false,"correct_answer":"C"}`), nil
}

func (s *scriptedSubmitter) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type memoryJournal struct {
	mu     sync.Mutex
	rounds []domain.RoundSummary
}

func (j *memoryJournal) RecordRound(_ context.Context, round domain.RoundSummary) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.rounds = append(j.rounds, round)
	return nil
}

// recordingPresenter logs presenter calls with the virtual time at which they happen.
type recordingPresenter struct {
	mu      sync.Mutex
	elapsed func() time.Duration
	calls   []presenterCall
}

type presenterCall struct {
	action string
	event  app.Event
	at     time.Duration
}

func (p *recordingPresenter) Show(ev app.Event) { p.add("show", ev) }
func (p *recordingPresenter) Hide(ev app.Event) { p.add("hide", ev) }

func (p *recordingPresenter) add(action string, ev app.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, presenterCall{action: action, event: ev, at: p.elapsed()})
}

func (p *recordingPresenter) snapshot() []presenterCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]presenterCall(nil), p.calls...)
}

var errTransport = errors.New("connection refused")

func sequentialIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("ev-%d", n)
	}
}
