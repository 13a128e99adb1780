// Package scoring ranks answers by response time and folds the outcome into player statistics.
// Every function here is pure.
package scoring

import (
	"sort"

	"quiz-engine/internal/domain"
)

var pointsByRank = map[int]int{1: 10, 2: 8, 3: 5}

const defaultPoints = 1

// PointsForRank returns the award for a 1-based rank among correct answers.
func PointsForRank(rank int) int {
	if rank <= 0 {
		return 0
	}
	if p, ok := pointsByRank[rank]; ok {
		return p
	}
	return defaultPoints
}

// Score ranks answers, given in submission order, against correctIndex. Correct answers come
// first ordered by response time (ties keep submission order), followed by incorrect ones.
func Score(answers []domain.PlayerAnswer, correctIndex int) ([]domain.ScoringResult, error) {
	if correctIndex < 0 {
		return nil, domain.ErrNoCorrectIndex
	}

	correct := make([]domain.PlayerAnswer, 0, len(answers))
	incorrect := make([]domain.PlayerAnswer, 0, len(answers))
	for _, a := range answers {
		if a.AnswerIndex == correctIndex {
			correct = append(correct, a)
		} else {
			incorrect = append(incorrect, a)
		}
	}
	sort.SliceStable(correct, func(i, j int) bool {
		return correct[i].ResponseTimeSeconds < correct[j].ResponseTimeSeconds
	})

	results := make([]domain.ScoringResult, 0, len(answers))
	for i, a := range correct {
		rank := i + 1
		results = append(results, domain.ScoringResult{
			PlayerID:            a.PlayerID,
			AnswerIndex:         a.AnswerIndex,
			IsCorrect:           true,
			Points:              PointsForRank(rank),
			Rank:                rank,
			ResponseTimeSeconds: a.ResponseTimeSeconds,
		})
	}
	for _, a := range incorrect {
		results = append(results, domain.ScoringResult{
			PlayerID:            a.PlayerID,
			AnswerIndex:         a.AnswerIndex,
			ResponseTimeSeconds: a.ResponseTimeSeconds,
		})
	}
	return results, nil
}

// RankLeaderboard orders cumulative scores descending with sequential ranks.
// Equal scores do not share a rank; player id breaks the tie so output is reproducible.
func RankLeaderboard(scores map[string]int) []domain.LeaderboardEntry {
	entries := make([]domain.LeaderboardEntry, 0, len(scores))
	for id, score := range scores {
		entries = append(entries, domain.LeaderboardEntry{PlayerID: id, Score: score})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Score != entries[j].Score {
			return entries[i].Score > entries[j].Score
		}
		return entries[i].PlayerID < entries[j].PlayerID
	})
	for i := range entries {
		entries[i].Rank = i + 1
	}
	return entries
}

// InitStats returns zeroed statistics for a newly registered player.
func InitStats(playerID, nickname, avatar string) domain.PlayerStats {
	return domain.PlayerStats{PlayerID: playerID, Nickname: nickname, Avatar: avatar}
}

// FoldStats applies one question's result to prev and returns the updated copy.
func FoldStats(prev domain.PlayerStats, result domain.ScoringResult) domain.PlayerStats {
	next := prev
	if !result.IsCorrect {
		next.CurrentStreak = 0
		return next
	}
	next.Score += result.Points
	next.CorrectAnswers++
	next.CurrentStreak++
	if next.CurrentStreak > next.BestStreak {
		next.BestStreak = next.CurrentStreak
	}
	if result.Rank == 1 {
		next.FirstPlaceCount++
	}
	next.TotalResponseTime += result.ResponseTimeSeconds
	next.AverageResponseTime = next.TotalResponseTime / float64(next.CorrectAnswers)
	return next
}

// FinalRanking orders player statistics by score descending, same tie-break as RankLeaderboard.
func FinalRanking(stats map[string]domain.PlayerStats) []domain.PlayerStats {
	out := make([]domain.PlayerStats, 0, len(stats))
	for _, s := range stats {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].PlayerID < out[j].PlayerID
	})
	return out
}
