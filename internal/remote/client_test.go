package remote_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"eartune-trainer/internal/credentials"
	"eartune-trainer/internal/domain"
	"eartune-trainer/internal/remote"
)

func newBackend(t *testing.T, routes map[string]http.HandlerFunc) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	for pattern, h := range routes {
		mux.HandleFunc(pattern, h)
	}
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newClient(t *testing.T, base string) *remote.Client {
	t.Helper()
	client, err := remote.NewClient(remote.Config{BaseURL: base}, nil)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	return client
}

func TestNewClientRejectsBadURL(t *testing.T) {
	for _, raw := range []string{"", "  ", "ftp://example.com", "://bad"} {
		if _, err := remote.NewClient(remote.Config{BaseURL: raw}, nil); err == nil {
			t.Fatalf("expected error for %q", raw)
		}
	}
}

func TestListGamesAcceptsNumericIDs(t *testing.T) {
	srv := newBackend(t, map[string]http.HandlerFunc{
		"/api/v1/games/": func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.WriteString(w, `[{"id":1,"name":"Note","description":"Name the note"},{"id":"eq","name":"EQ"}]`)
		},
	})
	games, err := newClient(t, srv.URL).ListGames(context.Background())
	if err != nil {
		t.Fatalf("ListGames() error = %v", err)
	}
	if len(games) != 2 || games[0].ID != "1" || games[1].ID != "eq" || games[0].Description != "Name the note" {
		t.Fatalf("unexpected games %+v", games)
	}
}

func TestRandomChallenge(t *testing.T) {
	var query string
	srv := newBackend(t, map[string]http.HandlerFunc{
		"/api/v1/challenges/random/": func(w http.ResponseWriter, r *http.Request) {
			query = r.URL.Query().Get("game_id")
			switch query {
			case "1":
				_, _ = io.WriteString(w, `{"id":7,"game":1,"challenge_type":"note","prompt":"Which note?","correct_answer":"C_Do"}`)
			case "2":
				_, _ = io.WriteString(w, `{"id":8,"challenge_type":"rhythm","prompt":"Tap","correct_answer":"x.x.","audio_file":"/media/r.wav"}`)
			default:
				_, _ = io.WriteString(w, `{"prompt":"no id"}`)
			}
		},
	})
	client := newClient(t, srv.URL)

	ch, err := client.RandomChallenge(context.Background(), "1")
	if err != nil {
		t.Fatalf("RandomChallenge() error = %v", err)
	}
	if query != "1" || ch.ID != "7" || ch.GameID != "1" || ch.Type != domain.ChallengeNote {
		t.Fatalf("unexpected challenge %+v (query %q)", ch, query)
	}
	if ch.AudioURL != srv.URL+"/static/audio/notes/C3.wav" {
		t.Fatalf("unexpected note audio %q", ch.AudioURL)
	}

	ch, err = client.RandomChallenge(context.Background(), "2")
	if err != nil {
		t.Fatalf("RandomChallenge() error = %v", err)
	}
	if ch.GameID != "2" || ch.Tempo != 120 || ch.AudioURL != srv.URL+"/media/r.wav" {
		t.Fatalf("unexpected rhythm challenge %+v", ch)
	}

	if _, err := client.RandomChallenge(context.Background(), "3"); !errors.Is(err, domain.ErrMalformedResponse) {
		t.Fatalf("expected malformed response, got %v", err)
	}
}

func TestCreateSessionAndSubmit(t *testing.T) {
	var submitted map[string]any
	srv := newBackend(t, map[string]http.HandlerFunc{
		"/api/v1/game-sessions/": func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				w.WriteHeader(http.StatusMethodNotAllowed)
				return
			}
			var body map[string]any
			_ = json.NewDecoder(r.Body).Decode(&body)
			if body["game_id"] != float64(3) {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			w.WriteHeader(http.StatusCreated)
			_, _ = io.WriteString(w, `{"session_id":42}`)
		},
		"/api/v1/submit-answer/": func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewDecoder(r.Body).Decode(&submitted)
			_, _ = io.WriteString(w, `{"correct":true,"xp_earned":10}`)
		},
	})
	client := newClient(t, srv.URL)

	id, err := client.CreateSession(context.Background(), "3")
	if err != nil || id != "42" {
		t.Fatalf("CreateSession() = %q, %v", id, err)
	}
	raw, err := client.SubmitAnswer(context.Background(), domain.AnswerSubmission{ChallengeID: "7", SessionID: id, Answer: "c"})
	if err != nil {
		t.Fatalf("SubmitAnswer() error = %v", err)
	}
	if string(raw) != `{"correct":true,"xp_earned":10}` {
		t.Fatalf("verdict must be returned untouched, got %s", raw)
	}
	if submitted["challenge_id"] != float64(7) || submitted["session_id"] != float64(42) || submitted["answer"] != "c" {
		t.Fatalf("unexpected submission %v", submitted)
	}
}

func TestErrorsAreClassified(t *testing.T) {
	srv := newBackend(t, map[string]http.HandlerFunc{
		"/api/v1/games/": func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
			_, _ = io.WriteString(w, `{"detail":"upstream down"}`)
		},
		"/api/v1/profile/": func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.WriteString(w, `{"username":`)
		},
		"/api/v1/submit-answer/": func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.WriteString(w, `<html>oops</html>`)
		},
		"/api/v1/achievements/": func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		},
	})
	client := newClient(t, srv.URL)
	ctx := context.Background()

	_, err := client.ListGames(ctx)
	var statusErr *remote.StatusError
	if !errors.Is(err, domain.ErrNetwork) || !errors.As(err, &statusErr) || statusErr.Code != http.StatusBadGateway || statusErr.Detail != "upstream down" {
		t.Fatalf("expected network status error, got %v", err)
	}
	if _, err := client.Profile(ctx); !errors.Is(err, domain.ErrMalformedResponse) {
		t.Fatalf("expected malformed profile, got %v", err)
	}
	if _, err := client.SubmitAnswer(ctx, domain.AnswerSubmission{ChallengeID: "1", Answer: "c"}); !errors.Is(err, domain.ErrMalformedResponse) {
		t.Fatalf("expected malformed verdict, got %v", err)
	}
	if _, err := client.Achievements(ctx); !errors.Is(err, domain.ErrNetwork) || !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected unauthorized network error, got %v", err)
	}

	srv.Close()
	if _, err := client.ListGames(ctx); !errors.Is(err, domain.ErrNetwork) {
		t.Fatalf("expected network error for a closed server, got %v", err)
	}
}

func TestProfileHistoryAchievements(t *testing.T) {
	srv := newBackend(t, map[string]http.HandlerFunc{
		"/api/v1/profile/": func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.WriteString(w, `{"username":"ana","level":3,"current_xp":40,"xp_for_next_level":100,"total_games_played":5,"total_correct_answers":12,"current_streak":2,"date_joined":"2026-01-05T10:00:00Z"}`)
		},
		"/api/v1/game-sessions/": func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.WriteString(w, `[{"id":9,"challenge":7,"score":3,"date_played":"2026-02-01T08:30:00Z","active":false}]`)
		},
		"/api/v1/achievements/": func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.WriteString(w, `[{"id":1,"name":"First Note","xp_reward":10,"unlocked":true,"unlocked_at":"2026-02-01T08:31:00Z"},{"id":2,"name":"Streak"}]`)
		},
	})
	client := newClient(t, srv.URL)
	ctx := context.Background()

	profile, err := client.Profile(ctx)
	if err != nil || profile.Username != "ana" || profile.Level != 3 || profile.XPForNextLevel != 100 {
		t.Fatalf("Profile() = %+v, %v", profile, err)
	}
	history, err := client.History(ctx)
	if err != nil || len(history) != 1 || history[0].ID != "9" || history[0].ChallengeID != "7" || history[0].Score != 3 {
		t.Fatalf("History() = %+v, %v", history, err)
	}
	achievements, err := client.Achievements(ctx)
	if err != nil || len(achievements) != 2 || !achievements[0].Unlocked || achievements[0].UnlockedAt == nil || achievements[1].Unlocked {
		t.Fatalf("Achievements() = %+v, %v", achievements, err)
	}
}

func TestAuthClientAndTransport(t *testing.T) {
	var authHeaders []string
	srv := newBackend(t, map[string]http.HandlerFunc{
		"/api/token/": func(w http.ResponseWriter, r *http.Request) {
			var body map[string]string
			_ = json.NewDecoder(r.Body).Decode(&body)
			if body["username"] != "ana" || body["password"] != "secret" {
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = io.WriteString(w, `{"detail":"No active account found with the given credentials"}`)
				return
			}
			_, _ = io.WriteString(w, `{"access":"stale","refresh":"r1"}`)
		},
		"/api/token/refresh/": func(w http.ResponseWriter, r *http.Request) {
			var body map[string]string
			_ = json.NewDecoder(r.Body).Decode(&body)
			if body["refresh"] != "r1" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			_, _ = io.WriteString(w, `{"access":"fresh"}`)
		},
		"/api/v1/games/": func(w http.ResponseWriter, r *http.Request) {
			authHeaders = append(authHeaders, r.Header.Get("Authorization"))
			if r.Header.Get("Authorization") != "Bearer fresh" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			_, _ = io.WriteString(w, `[]`)
		},
	})
	ctx := context.Background()
	auth, err := remote.NewAuthClient(remote.Config{BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("NewAuthClient() error = %v", err)
	}

	if _, err := auth.Login(ctx, "ana", "wrong"); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected rejected login, got %v", err)
	}
	if _, err := auth.Login(ctx, " ", "x"); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	tokens, err := auth.Login(ctx, "ana", "secret")
	if err != nil || tokens.Access != "stale" || tokens.Refresh != "r1" {
		t.Fatalf("Login() = %+v, %v", tokens, err)
	}
	if _, err := auth.Refresh(ctx, "bogus"); !errors.Is(err, domain.ErrNoCredentials) {
		t.Fatalf("expected rejected refresh to require login, got %v", err)
	}

	store := credentials.NewFileStore(t.TempDir() + "/tokens.json")
	if err := store.Save(ctx, tokens); err != nil {
		t.Fatalf("save: %v", err)
	}
	transport := credentials.NewTransport(credentials.NewSource(store, auth), nil)
	client, err := remote.NewClient(remote.Config{BaseURL: srv.URL + "/"}, transport)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	if _, err := client.ListGames(ctx); err != nil {
		t.Fatalf("ListGames() through refreshing transport: %v", err)
	}
	if strings.Join(authHeaders, ",") != "Bearer stale,Bearer fresh" {
		t.Fatalf("unexpected auth sequence %v", authHeaders)
	}
	saved, _ := store.Load(ctx)
	if saved.Access != "fresh" || saved.Refresh != "r1" {
		t.Fatalf("refreshed tokens not persisted: %+v", saved)
	}
}

func TestFrequencyFlow(t *testing.T) {
	var (
		difficulty string
		submitted  map[string]any
		bandCalls  int
	)
	srv := newBackend(t, map[string]http.HandlerFunc{
		"/api/v1/games/": func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.WriteString(w, `[{"id":1,"name":"Note Recognition"},{"id":3,"name":"EQ Training"}]`)
		},
		"/api/v1/eq-challenge/random/": func(w http.ResponseWriter, r *http.Request) {
			difficulty = r.URL.Query().Get("difficulty")
			_, _ = io.WriteString(w, `{"id":11,"source_audio":"drums.wav","frequency_band":{"id":2,"name":"Mid","min_frequency":500,"max_frequency":2000},"change_amount":6,"difficulty":"intermediate"}`)
		},
		"/api/v1/frequency-bands/": func(w http.ResponseWriter, r *http.Request) {
			bandCalls++
			_, _ = io.WriteString(w, `[{"id":1,"name":"Low","min_frequency":20,"max_frequency":250},{"id":2,"name":"Mid","min_frequency":500,"max_frequency":2000}]`)
		},
		"/api/v1/eq-challenge/submit/": func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewDecoder(r.Body).Decode(&submitted)
			_, _ = io.WriteString(w, `{"correct":true,"xp_earned":15}`)
		},
	})
	client, err := remote.NewClient(remote.Config{BaseURL: srv.URL, Difficulty: "Intermediate"}, nil)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	ctx := context.Background()

	ch, err := client.RandomChallenge(ctx, "3")
	if err != nil {
		t.Fatalf("RandomChallenge() error = %v", err)
	}
	if difficulty != "intermediate" {
		t.Fatalf("difficulty query = %q", difficulty)
	}
	if ch.ID != "11" || ch.GameID != "3" || ch.Type != domain.ChallengeFrequency || ch.CorrectAnswer != "Mid 6" || ch.Difficulty != "intermediate" {
		t.Fatalf("unexpected challenge %+v", ch)
	}
	if ch.AudioURL != srv.URL+"/static/audio/eq_samples/drums.wav" || ch.CompareAudioURL != srv.URL+"/static/audio/eq_samples/drums.wav_mid_6db.wav" {
		t.Fatalf("unexpected audio %q %q", ch.AudioURL, ch.CompareAudioURL)
	}

	sub := domain.AnswerSubmission{ChallengeID: "11", SessionID: "5", Answer: "mid +6", Type: domain.ChallengeFrequency}
	raw, err := client.SubmitAnswer(ctx, sub)
	if err != nil || string(raw) != `{"correct":true,"xp_earned":15}` {
		t.Fatalf("SubmitAnswer() = %s, %v", raw, err)
	}
	if submitted["challenge_id"] != float64(11) || submitted["frequency_band_id"] != float64(2) || submitted["change_amount"] != float64(6) {
		t.Fatalf("unexpected submission %v", submitted)
	}

	sub.Answer = "1 -3 dB"
	if _, err := client.SubmitAnswer(ctx, sub); err != nil {
		t.Fatalf("SubmitAnswer() by band id: %v", err)
	}
	if submitted["frequency_band_id"] != float64(1) || submitted["change_amount"] != float64(-3) {
		t.Fatalf("unexpected submission %v", submitted)
	}
	if bandCalls != 1 {
		t.Fatalf("bands must be fetched once, got %d", bandCalls)
	}

	for _, bad := range []string{"treble +6", "mid +7", "mid"} {
		sub.Answer = bad
		if _, err := client.SubmitAnswer(ctx, sub); !errors.Is(err, domain.ErrValidation) {
			t.Fatalf("answer %q: expected validation error, got %v", bad, err)
		}
	}
}

func TestRhythmFlow(t *testing.T) {
	var submitted map[string]any
	srv := newBackend(t, map[string]http.HandlerFunc{
		"/api/v1/rhythm-challenge/random/": func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.WriteString(w, `{"id":4,"audio_file":"/media/beat.wav","tempo":90}`)
		},
		"/api/v1/rhythm-challenge/submit/": func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewDecoder(r.Body).Decode(&submitted)
			_, _ = io.WriteString(w, `{"accuracy":97.5,"xp_earned":20}`)
		},
	})
	client, err := remote.NewClient(remote.Config{
		BaseURL: srv.URL,
		Flows:   map[string]domain.ChallengeType{"4": domain.ChallengeRhythm},
	}, nil)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	ctx := context.Background()

	ch, err := client.RandomChallenge(ctx, "4")
	if err != nil {
		t.Fatalf("RandomChallenge() error = %v", err)
	}
	if ch.ID != "4" || ch.Type != domain.ChallengeRhythm || ch.Tempo != 90 || ch.Prompt == "" || ch.AudioURL != srv.URL+"/media/beat.wav" {
		t.Fatalf("unexpected challenge %+v", ch)
	}

	sub := domain.AnswerSubmission{ChallengeID: "4", Answer: "0, 500,1000 1500", Type: domain.ChallengeRhythm}
	if _, err := client.SubmitAnswer(ctx, sub); err != nil {
		t.Fatalf("SubmitAnswer() error = %v", err)
	}
	taps, _ := submitted["user_taps"].([]any)
	if submitted["challenge_id"] != float64(4) || len(taps) != 4 || taps[3] != float64(1500) {
		t.Fatalf("unexpected submission %v", submitted)
	}

	sub.Answer = "500,100"
	if _, err := client.SubmitAnswer(ctx, sub); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error for unordered taps, got %v", err)
	}
}

func TestGameFlowFallsBackWhenListingFails(t *testing.T) {
	var listed int
	srv := newBackend(t, map[string]http.HandlerFunc{
		"/api/v1/games/": func(w http.ResponseWriter, r *http.Request) {
			listed++
			w.WriteHeader(http.StatusBadGateway)
		},
		"/api/v1/challenges/random/": func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.WriteString(w, `{"id":7,"challenge_type":"note","prompt":"Which note?","correct_answer":"C"}`)
		},
	})
	client := newClient(t, srv.URL)
	ch, err := client.RandomChallenge(context.Background(), "1")
	if err != nil || ch.ID != "7" {
		t.Fatalf("RandomChallenge() = %+v, %v", ch, err)
	}
	if listed != 1 {
		t.Fatalf("expected one listing attempt, got %d", listed)
	}
}

func TestNewClientRejectsUnknownDifficulty(t *testing.T) {
	if _, err := remote.NewClient(remote.Config{BaseURL: "http://localhost/", Difficulty: "expert"}, nil); err == nil {
		t.Fatalf("expected difficulty error")
	}
}

func TestRegister(t *testing.T) {
	var body map[string]string
	srv := newBackend(t, map[string]http.HandlerFunc{
		"/api/v1/register/": func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewDecoder(r.Body).Decode(&body)
			if body["username"] == "taken" {
				w.WriteHeader(http.StatusBadRequest)
				_, _ = io.WriteString(w, `{"username":["A user with that username already exists."]}`)
				return
			}
			w.WriteHeader(http.StatusCreated)
			_, _ = io.WriteString(w, `{"id":1,"username":"ana"}`)
		},
	})
	auth, err := remote.NewAuthClient(remote.Config{BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("NewAuthClient() error = %v", err)
	}
	ctx := context.Background()

	if err := auth.Register(ctx, "ana", "secret"); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if body["username"] != "ana" || body["password1"] != "secret" || body["password2"] != "secret" {
		t.Fatalf("unexpected register body %v", body)
	}
	if err := auth.Register(ctx, "", "secret"); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	err = auth.Register(ctx, "taken", "secret")
	var statusErr *remote.StatusError
	if !errors.As(err, &statusErr) || statusErr.Code != http.StatusBadRequest || statusErr.Detail != "A user with that username already exists." {
		t.Fatalf("expected rejected registration with field message, got %v", err)
	}
}
