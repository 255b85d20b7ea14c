package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/flipper1994/discovery-engine/internal/models"
)

func TestSortCandidates_TieBreakOrder(t *testing.T) {
	candidates := []models.Candidate{
		{Symbol: "BBB", TotalScore: 80, DollarVolume: 1000},
		{Symbol: "AAA", TotalScore: 80, DollarVolume: 1000},
		{Symbol: "CCC", TotalScore: 90, DollarVolume: 500},
		{Symbol: "DDD", TotalScore: 80, DollarVolume: 2000},
	}
	sortCandidates(candidates)

	got := make([]models.Symbol, len(candidates))
	for i, c := range candidates {
		got[i] = c.Symbol
	}
	// CCC has the highest score; among the 80s, DDD has the highest
	// dollar volume, then AAA/BBB tie-break alphabetically.
	assert.Equal(t, []models.Symbol{"CCC", "DDD", "AAA", "BBB"}, got)
}

func TestSortCandidates_Stable(t *testing.T) {
	candidates := []models.Candidate{
		{Symbol: "A", TotalScore: 70, DollarVolume: 100},
		{Symbol: "B", TotalScore: 70, DollarVolume: 100},
	}
	sortCandidates(candidates)
	assert.Equal(t, models.Symbol("A"), candidates[0].Symbol)
	assert.Equal(t, models.Symbol("B"), candidates[1].Symbol)
}
