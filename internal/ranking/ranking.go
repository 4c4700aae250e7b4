// Package ranking turns a scored roster into a deterministically ordered
// leaderboard.
package ranking

import (
	"sort"

	"github.com/quizlive/quizlive/internal/domain"
)

// PodiumSize is how many top entries the staged reveal discloses.
const PodiumSize = 3

// Rank orders the roster by score descending. The sort is stable: entries with
// equal scores keep the relative order the roster fetch supplied them in.
func Rank(participants []domain.Participant) []domain.RankedEntry {
	entries := make([]domain.RankedEntry, 0, len(participants))
	for _, p := range participants {
		entries = append(entries, domain.RankedEntry{
			ParticipantID: p.ParticipantID,
			DisplayName:   p.DisplayName,
			Score:         p.Score,
		})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Score.GreaterThan(entries[j].Score)
	})

	for i := range entries {
		entries[i].Rank = i
	}

	return entries
}

// TopN returns the first n ranked entries, or fewer if the leaderboard is
// smaller. Callers must tolerate a podium smaller than PodiumSize.
func TopN(ranked []domain.RankedEntry, n int) []domain.RankedEntry {
	if n > len(ranked) {
		n = len(ranked)
	}
	if n < 0 {
		n = 0
	}

	return ranked[:n]
}
