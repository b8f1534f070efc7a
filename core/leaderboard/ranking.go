package leaderboard

import "sort"

// Rank orders standings by points, highest first, and numbers them from 1.
// Ties keep their input order. The input slice is not modified.
func Rank(standings []Standing) []Standing {
	ranked := make([]Standing, len(standings))
	copy(ranked, standings)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Points > ranked[j].Points
	})
	for i := range ranked {
		ranked[i].Rank = i + 1
	}
	return ranked
}
