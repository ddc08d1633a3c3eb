package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"eartune-trainer/internal/domain"
	"eartune-trainer/internal/wire"
)

const (
	pathGames        = "api/v1/games/"
	pathRandom       = "api/v1/challenges/random/"
	pathSessions     = "api/v1/game-sessions/"
	pathSubmit       = "api/v1/submit-answer/"
	pathProfile      = "api/v1/profile/"
	pathAchievements = "api/v1/achievements/"
	pathBands        = "api/v1/frequency-bands/"
	pathEQRandom     = "api/v1/eq-challenge/random/"
	pathEQSubmit     = "api/v1/eq-challenge/submit/"
	pathRhythmRandom = "api/v1/rhythm-challenge/random/"
	pathRhythmSubmit = "api/v1/rhythm-challenge/submit/"
	pathRegister     = "api/v1/register/"
	pathToken        = "api/token/"
	pathRefresh      = "api/token/refresh/"

	defaultTimeout = 15 * time.Second
	maxBodyBytes   = 1 << 20
	defaultTempo   = 120

	defaultDifficulty = "beginner"
	eqPrompt          = "Which frequency band was changed, and by how much? Answer as <band> <change dB>."
	rhythmPrompt      = "Tap along: answer with your tap times in milliseconds, comma separated."
)

// StatusError is a non-2xx answer from the backend.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Detail string
}

func (e *StatusError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.Code, e.Detail)
	}
	return fmt.Sprintf("%s %s: status %d", e.Method, e.Path, e.Code)
}

type Config struct {
	BaseURL string
	Timeout time.Duration
	// Difficulty is sent with frequency challenge requests.
	Difficulty string
	// Flows pins game ids to a challenge flow; other games are matched by name.
	Flows map[string]domain.ChallengeType
}

// Client talks to the remote EarTune game API. Authorization is added by the
// transport it is constructed with.
//
// Note and chord games use the generic challenge endpoints. Frequency and rhythm
// games have their own; which flow a game uses comes from Config.Flows or from the
// game's name as seen by ListGames.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	difficulty string

	mu    sync.Mutex
	flows map[string]domain.ChallengeType
	bands []domain.FrequencyBand
}

// NewClient builds a client on transport; a nil transport uses http.DefaultTransport.
func NewClient(cfg Config, transport http.RoundTripper) (*Client, error) {
	base, err := parseBaseURL(cfg.BaseURL)
	if err != nil {
		return nil, err
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if transport == nil {
		transport = http.DefaultTransport
	}
	difficulty := strings.ToLower(strings.TrimSpace(cfg.Difficulty))
	if difficulty == "" {
		difficulty = defaultDifficulty
	}
	if !slices.Contains(domain.Difficulties, difficulty) {
		return nil, fmt.Errorf("difficulty must be one of %v, got %q", domain.Difficulties, cfg.Difficulty)
	}
	flows := make(map[string]domain.ChallengeType, len(cfg.Flows))
	for id, flow := range cfg.Flows {
		flows[id] = flow
	}
	return &Client{
		baseURL:    base,
		httpClient: &http.Client{Timeout: cfg.Timeout, Transport: transport},
		difficulty: difficulty,
		flows:      flows,
	}, nil
}

func parseBaseURL(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, errors.New("api base url is required")
	}
	if !strings.HasSuffix(raw, "/") {
		raw += "/"
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse api base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("api base url must be http or https, got %q", raw)
	}
	return u, nil
}

// ListGames returns every game offered by the backend and remembers which
// challenge flow each one uses.
func (c *Client) ListGames(ctx context.Context) ([]domain.Game, error) {
	var payload []wire.Game
	if err := c.getJSON(ctx, pathGames, nil, &payload); err != nil {
		return nil, err
	}
	games := make([]domain.Game, 0, len(payload))
	for _, g := range payload {
		games = append(games, g.Domain())
	}
	c.mu.Lock()
	for _, g := range games {
		if _, pinned := c.flows[g.ID]; !pinned {
			c.flows[g.ID] = domain.FlowForGame(g.Name)
		}
	}
	c.mu.Unlock()
	return games, nil
}

// gameFlow returns the challenge flow of gameID, listing the games once if it is
// not known yet. A listing failure falls back to the generic flow.
func (c *Client) gameFlow(ctx context.Context, gameID string) domain.ChallengeType {
	c.mu.Lock()
	flow, ok := c.flows[gameID]
	c.mu.Unlock()
	if ok {
		return flow
	}
	if _, err := c.ListGames(ctx); err != nil {
		return ""
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.flows[gameID]; !ok {
		// unknown to the backend listing; do not list again for it
		c.flows[gameID] = ""
	}
	return c.flows[gameID]
}

// RandomChallenge fetches a fresh challenge for gameID from the game's flow.
func (c *Client) RandomChallenge(ctx context.Context, gameID string) (domain.Challenge, error) {
	switch c.gameFlow(ctx, gameID) {
	case domain.ChallengeFrequency:
		return c.RandomEQChallenge(ctx, gameID)
	case domain.ChallengeRhythm:
		return c.randomRhythm(ctx, gameID)
	}
	var payload wire.Challenge
	q := url.Values{"game_id": {gameID}}
	if err := c.getJSON(ctx, pathRandom, q, &payload); err != nil {
		return domain.Challenge{}, err
	}
	if payload.ID == "" {
		return domain.Challenge{}, fmt.Errorf("%w: challenge without id", domain.ErrMalformedResponse)
	}
	return c.challenge(payload, gameID), nil
}

// CreateSession opens a remote game session and returns its id.
func (c *Client) CreateSession(ctx context.Context, gameID string) (string, error) {
	var payload wire.SessionCreated
	body := map[string]wire.ID{"game_id": wire.ID(gameID)}
	if err := c.postJSON(ctx, pathSessions, body, &payload); err != nil {
		return "", err
	}
	id := payload.Value()
	if id == "" {
		return "", fmt.Errorf("%w: session without id", domain.ErrMalformedResponse)
	}
	return id, nil
}

func (c *Client) randomRhythm(ctx context.Context, gameID string) (domain.Challenge, error) {
	var payload wire.Challenge
	if err := c.getJSON(ctx, pathRhythmRandom, nil, &payload); err != nil {
		return domain.Challenge{}, err
	}
	if payload.ID == "" {
		return domain.Challenge{}, fmt.Errorf("%w: rhythm challenge without id", domain.ErrMalformedResponse)
	}
	payload.ChallengeType = string(domain.ChallengeRhythm)
	if payload.Prompt == "" {
		payload.Prompt = rhythmPrompt
	}
	return c.challenge(payload, gameID), nil
}

// RandomEQChallenge fetches a frequency challenge at the configured difficulty.
func (c *Client) RandomEQChallenge(ctx context.Context, gameID string) (domain.Challenge, error) {
	var payload wire.EQChallenge
	q := url.Values{"difficulty": {c.difficulty}}
	if err := c.getJSON(ctx, pathEQRandom, q, &payload); err != nil {
		return domain.Challenge{}, err
	}
	if payload.ID == "" || payload.SourceAudio == "" {
		return domain.Challenge{}, fmt.Errorf("%w: frequency challenge without id or audio", domain.ErrMalformedResponse)
	}
	amount := strconv.FormatFloat(payload.ChangeAmount, 'f', -1, 64)
	band := strings.ToLower(payload.FrequencyBand.Name)
	difficulty := payload.Difficulty
	if difficulty == "" {
		difficulty = c.difficulty
	}
	return domain.Challenge{
		ID:              string(payload.ID),
		GameID:          gameID,
		Prompt:          eqPrompt,
		CorrectAnswer:   fmt.Sprintf("%s %s", payload.FrequencyBand.Name, amount),
		Type:            domain.ChallengeFrequency,
		AudioURL:        c.resolve("static/audio/eq_samples/" + url.PathEscape(payload.SourceAudio)),
		CompareAudioURL: c.resolve("static/audio/eq_samples/" + url.PathEscape(fmt.Sprintf("%s_%s_%sdb.wav", payload.SourceAudio, band, amount))),
		Difficulty:      difficulty,
	}, nil
}

// FrequencyBands lists the bands a frequency answer can name. The list is
// fetched once per client.
func (c *Client) FrequencyBands(ctx context.Context) ([]domain.FrequencyBand, error) {
	c.mu.Lock()
	cached := c.bands
	c.mu.Unlock()
	if cached != nil {
		return slices.Clone(cached), nil
	}
	var payload []wire.FrequencyBand
	if err := c.getJSON(ctx, pathBands, nil, &payload); err != nil {
		return nil, err
	}
	bands := make([]domain.FrequencyBand, 0, len(payload))
	for _, b := range payload {
		bands = append(bands, b.Domain())
	}
	c.mu.Lock()
	c.bands = bands
	c.mu.Unlock()
	return slices.Clone(bands), nil
}

// SubmitAnswer posts one answer to the flow of its challenge type and returns the
// verdict body untouched. Frequency and rhythm answers that cannot be parsed fail
// with domain.ErrValidation before any request is made.
func (c *Client) SubmitAnswer(ctx context.Context, sub domain.AnswerSubmission) (json.RawMessage, error) {
	switch sub.Type {
	case domain.ChallengeFrequency:
		return c.submitEQ(ctx, sub)
	case domain.ChallengeRhythm:
		return c.submitRhythm(ctx, sub)
	}
	req := wire.AnswerRequest{
		ChallengeID: wire.ID(sub.ChallengeID),
		SessionID:   wire.ID(sub.SessionID),
		Answer:      sub.Answer,
	}
	var raw json.RawMessage
	if err := c.postJSON(ctx, pathSubmit, req, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

func (c *Client) submitEQ(ctx context.Context, sub domain.AnswerSubmission) (json.RawMessage, error) {
	answer, err := domain.ParseEQAnswer(sub.Answer)
	if err != nil {
		return nil, err
	}
	bands, err := c.FrequencyBands(ctx)
	if err != nil {
		return nil, err
	}
	band, err := findBand(bands, answer.Band)
	if err != nil {
		return nil, err
	}
	req := wire.EQAnswerRequest{
		ChallengeID:     wire.ID(sub.ChallengeID),
		FrequencyBandID: wire.ID(band.ID),
		ChangeAmount:    answer.ChangeDB,
	}
	var raw json.RawMessage
	if err := c.postJSON(ctx, pathEQSubmit, req, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

func (c *Client) submitRhythm(ctx context.Context, sub domain.AnswerSubmission) (json.RawMessage, error) {
	taps, err := domain.ParseTaps(sub.Answer)
	if err != nil {
		return nil, err
	}
	req := wire.RhythmAnswerRequest{ChallengeID: wire.ID(sub.ChallengeID), UserTaps: taps}
	var raw json.RawMessage
	if err := c.postJSON(ctx, pathRhythmSubmit, req, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// findBand matches a band by id or by name, ignoring case.
func findBand(bands []domain.FrequencyBand, ref string) (domain.FrequencyBand, error) {
	ref = strings.TrimSpace(ref)
	names := make([]string, 0, len(bands))
	for _, b := range bands {
		if b.ID == ref || strings.EqualFold(b.Name, ref) {
			return b, nil
		}
		names = append(names, b.Name)
	}
	return domain.FrequencyBand{}, fmt.Errorf("%w: unknown frequency band %q (bands: %s)", domain.ErrValidation, ref, strings.Join(names, ", "))
}

// History lists the signed-in user's game sessions, most recent first.
func (c *Client) History(ctx context.Context) ([]domain.HistoryEntry, error) {
	var payload []wire.HistoryEntry
	if err := c.getJSON(ctx, pathSessions, nil, &payload); err != nil {
		return nil, err
	}
	entries := make([]domain.HistoryEntry, 0, len(payload))
	for _, h := range payload {
		entries = append(entries, h.Domain())
	}
	return entries, nil
}

func (c *Client) Profile(ctx context.Context) (domain.Profile, error) {
	var payload wire.Profile
	if err := c.getJSON(ctx, pathProfile, nil, &payload); err != nil {
		return domain.Profile{}, err
	}
	return payload.Domain(), nil
}

func (c *Client) Achievements(ctx context.Context) ([]domain.Achievement, error) {
	var payload []wire.Achievement
	if err := c.getJSON(ctx, pathAchievements, nil, &payload); err != nil {
		return nil, err
	}
	out := make([]domain.Achievement, 0, len(payload))
	for _, a := range payload {
		out = append(out, a.Domain())
	}
	return out, nil
}

func (c *Client) challenge(p wire.Challenge, gameID string) domain.Challenge {
	ch := domain.Challenge{
		ID:            string(p.ID),
		GameID:        string(p.Game),
		Prompt:        p.Prompt,
		CorrectAnswer: p.CorrectAnswer,
		Type:          domain.ChallengeType(p.ChallengeType),
		Tempo:         p.Tempo,
	}
	if ch.GameID == "" {
		ch.GameID = gameID
	}
	switch {
	case p.AudioFile != "":
		ch.AudioURL = c.resolve(p.AudioFile)
	case ch.Type == domain.ChallengeNote:
		// note samples are named after the first spelling, octave 3
		if note := strings.TrimSpace(strings.SplitN(p.CorrectAnswer, "_", 2)[0]); note != "" {
			ch.AudioURL = c.resolve("static/audio/notes/" + url.PathEscape(note+"3.wav"))
		}
	}
	if ch.Type == domain.ChallengeRhythm && ch.Tempo <= 0 {
		ch.Tempo = defaultTempo
	}
	return ch
}

func (c *Client) resolve(ref string) string {
	u, err := url.Parse(strings.TrimPrefix(ref, "/"))
	if err != nil {
		return ""
	}
	if u.IsAbs() {
		return u.String()
	}
	return c.baseURL.ResolveReference(u).String()
}

func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	return c.do(ctx, http.MethodGet, path, query, nil, out)
}

func (c *Client) postJSON(ctx context.Context, path string, body, out any) error {
	return c.do(ctx, http.MethodPost, path, nil, body, out)
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	return doJSON(ctx, c.httpClient, c.baseURL, method, path, query, body, out)
}

func doJSON(ctx context.Context, hc *http.Client, base *url.URL, method, path string, query url.Values, body, out any) error {
	target := base.ResolveReference(&url.URL{Path: path})
	if len(query) > 0 {
		target.RawQuery = query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s body: %w", path, err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, target.String(), reader)
	if err != nil {
		return fmt.Errorf("build %s request: %w", path, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := hc.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %w", domain.ErrNetwork, method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("%w: read %s: %w", domain.ErrNetwork, path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		statusErr := &StatusError{Method: method, Path: path, Code: resp.StatusCode, Detail: detail(data)}
		if resp.StatusCode == http.StatusUnauthorized {
			return fmt.Errorf("%w: %w: %w", domain.ErrNetwork, domain.ErrUnauthorized, statusErr)
		}
		return fmt.Errorf("%w: %w", domain.ErrNetwork, statusErr)
	}
	if out == nil {
		return nil
	}
	if raw, ok := out.(*json.RawMessage); ok {
		if !json.Valid(data) {
			return fmt.Errorf("%w: %s returned invalid json", domain.ErrMalformedResponse, path)
		}
		*raw = append((*raw)[:0], data...)
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: decode %s: %v", domain.ErrMalformedResponse, path, err)
	}
	return nil
}

// detail extracts the backend's error message, if it sent one.
func detail(data []byte) string {
	var payload struct {
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal(data, &payload); err == nil && payload.Detail != "" {
		return payload.Detail
	}
	if msg := fieldErrors(data); msg != "" {
		return msg
	}
	s := strings.TrimSpace(string(data))
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}

// fieldErrors flattens a form validation body such as
// {"username":["taken"],"password2":["too short"]} in field order.
func fieldErrors(data []byte) string {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil || len(fields) == 0 {
		return ""
	}
	var msgs []string
	for _, name := range slices.Sorted(maps.Keys(fields)) {
		var list []string
		if err := json.Unmarshal(fields[name], &list); err == nil {
			msgs = append(msgs, list...)
			continue
		}
		var one string
		if err := json.Unmarshal(fields[name], &one); err == nil {
			msgs = append(msgs, one)
		}
	}
	return strings.Join(msgs, " ")
}
