// Package draft ranks candidate reply drafts against the message they
// answer, weighing tone compatibility, length fit, and keyword
// coverage.
package draft

import (
	"sort"
	"strings"

	"autocom/internal/contextmatch"
	"autocom/internal/types"
)

// Composite score weights.
const (
	toneWeight     = 0.4
	lengthWeight   = 0.25
	coverageWeight = 0.35
)

// toneMatrix maps (original tone, candidate tone) to a compatibility
// score. An urgent message wants an urgent or neutral reply; a
// negative one wants a measured, not cheerful, reply.
var toneMatrix = map[types.Tone]map[types.Tone]float64{
	types.ToneUrgent: {
		types.ToneUrgent:   1.0,
		types.ToneNeutral:  0.8,
		types.ToneNegative: 0.4,
		types.TonePositive: 0.3,
	},
	types.ToneNegative: {
		types.ToneNeutral:  1.0,
		types.ToneNegative: 0.7,
		types.TonePositive: 0.4,
		types.ToneUrgent:   0.3,
	},
	types.TonePositive: {
		types.TonePositive: 1.0,
		types.ToneNeutral:  0.7,
		types.ToneUrgent:   0.3,
		types.ToneNegative: 0.2,
	},
	types.ToneNeutral: {
		types.ToneNeutral:  1.0,
		types.TonePositive: 0.8,
		types.ToneUrgent:   0.4,
		types.ToneNegative: 0.4,
	},
}

// Ranker scores and orders draft candidates.
type Ranker struct{}

// NewRanker creates a draft ranker.
func NewRanker() *Ranker {
	return &Ranker{}
}

// Rank fills in each candidate's sub-scores and returns the candidates
// sorted by composite score, best first. The sort is stable, so equal
// scores keep generation order.
func (r *Ranker) Rank(candidates []types.DraftCandidate, original types.Message) []types.DraftCandidate {
	origTone := types.ToneNeutral
	if original.Sentiment != nil {
		origTone = original.Sentiment.Tone
	}
	origWords := len(strings.Fields(original.Body))
	keyTerms := contextmatch.Keywords(original.Subject + " " + original.Body)

	ranked := make([]types.DraftCandidate, len(candidates))
	copy(ranked, candidates)
	for i := range ranked {
		c := &ranked[i]
		c.ToneScore = toneScore(origTone, c.Tone)
		c.LengthScore = lengthScore(len(strings.Fields(c.Text)), origWords)
		c.CoverageScore = coverage(c.Text, keyTerms)
		c.Score = toneWeight*c.ToneScore + lengthWeight*c.LengthScore + coverageWeight*c.CoverageScore
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})
	return ranked
}

func toneScore(original, candidate types.Tone) float64 {
	if row, ok := toneMatrix[original]; ok {
		if s, ok := row[candidate]; ok {
			return s
		}
	}
	return 0.5
}

// lengthScore peaks when the candidate is 0.8x to 1.2x the original's
// length and falls off linearly outside that band.
func lengthScore(candidateWords, originalWords int) float64 {
	if originalWords == 0 {
		return 1
	}
	ratio := float64(candidateWords) / float64(originalWords)
	switch {
	case ratio >= 0.8 && ratio <= 1.2:
		return 1
	case ratio < 0.8:
		return clamp01(ratio / 0.8)
	default:
		return clamp01(1 - (ratio-1.2)/2)
	}
}

// coverage is the fraction of the original's key terms present in the
// candidate text.
func coverage(text string, keyTerms map[string]bool) float64 {
	if len(keyTerms) == 0 {
		return 1
	}
	words := contextmatch.Keywords(text)
	hit := 0
	for term := range keyTerms {
		if words[term] {
			hit++
		}
	}
	return float64(hit) / float64(len(keyTerms))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
