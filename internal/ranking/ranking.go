// Package ranking blends the Hacker News score with the relevance score into
// one ordering.
package ranking

import (
	"math"
	"sort"

	"github.com/thomaskoefod/hnpoll/pkg/models"
)

const (
	// ScoreCap is the HN score that maps to a normalized 100.
	ScoreCap      = 1000
	DefaultWeight = 0.7
)

var logCap = math.Log1p(ScoreCap)

// Normalize maps an HN score onto 0..100 on a log scale.
func Normalize(hnScore int) float64 {
	if hnScore <= 0 {
		return 0
	}
	return math.Min(100, 100*math.Log1p(float64(hnScore))/logCap)
}

// Combined is weight*Normalize(hn) + (1-weight)*relevance. Unscored stories
// count as relevance 0. weight is clamped to [0,1].
func Combined(s models.Story, weight float64) float64 {
	weight = math.Max(0, math.Min(1, weight))
	rel := 0.0
	if s.Relevance != nil {
		rel = float64(*s.Relevance)
	}
	return weight*Normalize(s.Score) + (1-weight)*rel
}

// Rank returns stories ordered by combined score, then relevance, HN score
// and id, all descending. The order is total, so equal inputs always rank the
// same way.
func Rank(stories []models.Story, weight float64) []models.RankedStory {
	out := make([]models.RankedStory, len(stories))
	for i, s := range stories {
		out[i] = models.RankedStory{Story: s, Combined: Combined(s, weight)}
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Combined != b.Combined {
			return a.Combined > b.Combined
		}
		if ra, rb := relevance(a.Story), relevance(b.Story); ra != rb {
			return ra > rb
		}
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		return a.ID > b.ID
	})
	return out
}

// Top ranks stories and keeps the first n; n <= 0 keeps all.
func Top(stories []models.Story, weight float64, n int) []models.RankedStory {
	ranked := Rank(stories, weight)
	if n > 0 && len(ranked) > n {
		ranked = ranked[:n]
	}
	return ranked
}

func relevance(s models.Story) int {
	if s.Relevance == nil {
		return -1
	}
	return *s.Relevance
}
