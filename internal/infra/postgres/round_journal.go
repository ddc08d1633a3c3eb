package postgres

import (
	"context"
	"fmt"

	"eartune-trainer/internal/domain"
	"github.com/jackc/pgx/v4/pgxpool"
)

// RoundJournal stores finished rounds in the rounds table.
type RoundJournal struct {
	pool *pgxpool.Pool
}

func NewRoundJournal(pool *pgxpool.Pool) *RoundJournal {
	return &RoundJournal{pool: pool}
}

func (j *RoundJournal) RecordRound(ctx context.Context, round domain.RoundSummary) error {
	_, err := j.pool.Exec(ctx, `
		INSERT INTO rounds (id, session_id, game_id, score, attempts_used, started_at, ended_at)
		VALUES ($1::uuid, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING`,
		round.ID, round.SessionID, round.GameID, round.Score, round.AttemptsUsed, round.StartedAt, round.EndedAt)
	if err != nil {
		return fmt.Errorf("record round: %w", err)
	}
	return nil
}

// ListRounds returns up to limit rounds, most recently ended first.
func (j *RoundJournal) ListRounds(ctx context.Context, limit int) ([]domain.RoundSummary, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := j.pool.Query(ctx, `
		SELECT id::text, session_id, game_id, score, attempts_used, started_at, ended_at
		FROM rounds
		ORDER BY ended_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list rounds: %w", err)
	}
	defer rows.Close()

	var rounds []domain.RoundSummary
	for rows.Next() {
		var r domain.RoundSummary
		if err := rows.Scan(&r.ID, &r.SessionID, &r.GameID, &r.Score, &r.AttemptsUsed, &r.StartedAt, &r.EndedAt); err != nil {
			return nil, fmt.Errorf("scan round: %w", err)
		}
		rounds = append(rounds, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list rounds: %w", err)
	}
	return rounds, nil
}
