package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"quiz-engine/internal/domain"
)

// StatsRepository mirrors per-session player stats into Redis:
//
//	ZADD session:{id}:leaderboard <score> <playerID>
//	HSET session:{id}:stats <playerID> <json PlayerStats>
type StatsRepository struct {
	client *redis.Client
	ttl    time.Duration
}

func NewStatsRepository(client *redis.Client, ttl time.Duration) *StatsRepository {
	return &StatsRepository{client: client, ttl: ttl}
}

// SaveStats writes every player in one pipeline round-trip.
func (r *StatsRepository) SaveStats(ctx context.Context, sessionID string, stats []domain.PlayerStats) error {
	if len(stats) == 0 {
		return nil
	}
	boardKey, statsKey := LeaderboardKey(sessionID), StatsKey(sessionID)

	pipe := r.client.Pipeline()
	for _, st := range stats {
		blob, err := json.Marshal(st)
		if err != nil {
			return fmt.Errorf("encode stats for %s: %w", st.PlayerID, err)
		}
		pipe.ZAdd(ctx, boardKey, redis.Z{Score: float64(st.Score), Member: st.PlayerID})
		pipe.HSet(ctx, statsKey, st.PlayerID, blob)
	}
	if r.ttl > 0 {
		pipe.Expire(ctx, boardKey, r.ttl)
		pipe.Expire(ctx, statsKey, r.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save stats for session %s: %w", sessionID, err)
	}
	return nil
}

// TopPlayers reads the mirrored leaderboard, highest score first. limit <= 0 returns everyone.
func (r *StatsRepository) TopPlayers(ctx context.Context, sessionID string, limit int) ([]domain.LeaderboardEntry, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}
	results, err := r.client.ZRevRangeWithScores(ctx, LeaderboardKey(sessionID), 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("read leaderboard for session %s: %w", sessionID, err)
	}
	entries := make([]domain.LeaderboardEntry, 0, len(results))
	for i, z := range results {
		member, _ := z.Member.(string)
		entries = append(entries, domain.LeaderboardEntry{
			PlayerID: member,
			Score:    int(z.Score),
			Rank:     i + 1,
		})
	}
	return entries, nil
}

// PlayerStats reads one player's mirrored stats.
func (r *StatsRepository) PlayerStats(ctx context.Context, sessionID, playerID string) (domain.PlayerStats, bool, error) {
	blob, err := r.client.HGet(ctx, StatsKey(sessionID), playerID).Bytes()
	if err == redis.Nil {
		return domain.PlayerStats{}, false, nil
	}
	if err != nil {
		return domain.PlayerStats{}, false, err
	}
	var st domain.PlayerStats
	if err := json.Unmarshal(blob, &st); err != nil {
		return domain.PlayerStats{}, false, fmt.Errorf("decode stats for %s: %w", playerID, err)
	}
	return st, true, nil
}

func LeaderboardKey(sessionID string) string { return "session:" + sessionID + ":leaderboard" }

func StatsKey(sessionID string) string { return "session:" + sessionID + ":stats" }
