package redis

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"quiz-engine/internal/domain"
)

func TestStatsRepositoryMirrorsLeaderboard(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	ctx := context.Background()
	repo := NewStatsRepository(newClient(mr), time.Hour)

	err = repo.SaveStats(ctx, "s1", []domain.PlayerStats{
		{PlayerID: "p1", Nickname: "ann", Score: 8, CorrectAnswers: 1},
		{PlayerID: "p2", Nickname: "bob", Score: 20, CorrectAnswers: 2, BestStreak: 2},
	})
	if err != nil {
		t.Fatalf("save: %v", err)
	}

	top, err := repo.TopPlayers(ctx, "s1", 0)
	if err != nil {
		t.Fatalf("top: %v", err)
	}
	if len(top) != 2 || top[0].PlayerID != "p2" || top[0].Score != 20 || top[0].Rank != 1 || top[1].Rank != 2 {
		t.Fatalf("unexpected leaderboard %+v", top)
	}

	st, ok, err := repo.PlayerStats(ctx, "s1", "p2")
	if err != nil || !ok {
		t.Fatalf("player stats: ok=%v err=%v", ok, err)
	}
	if st.Nickname != "bob" || st.BestStreak != 2 {
		t.Fatalf("unexpected stats %+v", st)
	}
	if _, ok, _ := repo.PlayerStats(ctx, "s1", "ghost"); ok {
		t.Fatalf("expected unknown player to be absent")
	}
	if mr.TTL(LeaderboardKey("s1")) != time.Hour {
		t.Fatalf("expected leaderboard ttl")
	}

	// later snapshots overwrite earlier ones
	_ = repo.SaveStats(ctx, "s1", []domain.PlayerStats{{PlayerID: "p1", Score: 30}})
	top, _ = repo.TopPlayers(ctx, "s1", 1)
	if len(top) != 1 || top[0].PlayerID != "p1" || top[0].Score != 30 {
		t.Fatalf("expected p1 on top after update, got %+v", top)
	}
}
