package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"quiz-engine/internal/domain"
)

const upsertStatsSQL = `
INSERT INTO session_player_stats (
	session_id, player_id, nickname, avatar, score, correct_answers,
	first_place_count, total_response_time, average_response_time,
	best_streak, current_streak, updated_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, now())
ON CONFLICT (session_id, player_id) DO UPDATE SET
	nickname = EXCLUDED.nickname,
	avatar = EXCLUDED.avatar,
	score = EXCLUDED.score,
	correct_answers = EXCLUDED.correct_answers,
	first_place_count = EXCLUDED.first_place_count,
	total_response_time = EXCLUDED.total_response_time,
	average_response_time = EXCLUDED.average_response_time,
	best_streak = EXCLUDED.best_streak,
	current_streak = EXCLUDED.current_streak,
	updated_at = now()`

// StatsRepository persists player stats, one row per (session, player).
type StatsRepository struct {
	pool *pgxpool.Pool
}

func NewStatsRepository(pool *pgxpool.Pool) *StatsRepository {
	return &StatsRepository{pool: pool}
}

// SaveStats upserts every row in a single batch.
func (r *StatsRepository) SaveStats(ctx context.Context, sessionID string, stats []domain.PlayerStats) error {
	if len(stats) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, st := range stats {
		batch.Queue(upsertStatsSQL,
			sessionID, st.PlayerID, st.Nickname, st.Avatar, st.Score, st.CorrectAnswers,
			st.FirstPlaceCount, st.TotalResponseTime, st.AverageResponseTime,
			st.BestStreak, st.CurrentStreak)
	}

	results := r.pool.SendBatch(ctx, batch)
	defer results.Close()
	for range stats {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("upsert stats for session %s: %w", sessionID, err)
		}
	}
	return nil
}

// SessionStats returns a session's rows, best score first.
func (r *StatsRepository) SessionStats(ctx context.Context, sessionID string) ([]domain.PlayerStats, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT player_id, nickname, avatar, score, correct_answers, first_place_count,
		       total_response_time, average_response_time, best_streak, current_streak
		FROM session_player_stats
		WHERE session_id = $1
		ORDER BY score DESC, player_id ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query stats: %w", err)
	}
	defer rows.Close()

	var out []domain.PlayerStats
	for rows.Next() {
		var st domain.PlayerStats
		if err := rows.Scan(&st.PlayerID, &st.Nickname, &st.Avatar, &st.Score, &st.CorrectAnswers,
			&st.FirstPlaceCount, &st.TotalResponseTime, &st.AverageResponseTime,
			&st.BestStreak, &st.CurrentStreak); err != nil {
			return nil, fmt.Errorf("scan stats: %w", err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}
