// Package compare ranks a subject audit against competitor snapshots.
package compare

import (
	"sort"

	"github.com/seoscope/geoaudit/internal/audit"
)

// Rank orders the subject and its competitors by overall score descending.
// Ties break by structure, then content, then lexicographic URL, so the
// ordering is fully deterministic for rendering and tests.
func Rank(subject audit.CompetitorSnapshot, competitors []audit.CompetitorSnapshot) []audit.RankEntry {
	entries := make([]audit.RankEntry, 0, len(competitors)+1)
	entries = append(entries, audit.RankEntry{
		URL:     subject.URL,
		Scores:  subject.Scores,
		Subject: true,
	})
	for _, c := range competitors {
		entries = append(entries, audit.RankEntry{URL: c.URL, Scores: c.Scores})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.Scores.Overall != b.Scores.Overall {
			return a.Scores.Overall > b.Scores.Overall
		}
		if a.Scores.Structure != b.Scores.Structure {
			return a.Scores.Structure > b.Scores.Structure
		}
		if a.Scores.Content != b.Scores.Content {
			return a.Scores.Content > b.Scores.Content
		}
		return a.URL < b.URL
	})
	for i := range entries {
		entries[i].Rank = i + 1
	}
	return entries
}
