package draft

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autocom/internal/types"
)

func original(body string, tone types.Tone) types.Message {
	return types.Message{
		ID:        "m1",
		Source:    types.SourceGmail,
		Sender:    "a@x",
		Body:      body,
		Timestamp: time.Now(),
		Sentiment: &types.SentimentResult{Tone: tone},
	}
}

func TestToneCompatibilityDrivesRank(t *testing.T) {
	r := NewRanker()
	msg := original("the server is down and customers are blocked, need a fix now", types.ToneUrgent)

	candidates := []types.DraftCandidate{
		{Text: "So happy to hear from you, what a lovely server question about customers", Tone: types.TonePositive},
		{Text: "On it, investigating the server outage now so customers are unblocked, fix incoming", Tone: types.ToneUrgent},
	}

	ranked := r.Rank(candidates, msg)
	require.Len(t, ranked, 2)
	assert.Equal(t, types.ToneUrgent, ranked[0].Tone)
	assert.Greater(t, ranked[0].ToneScore, ranked[1].ToneScore)
}

func TestLengthScorePeaksNearOriginal(t *testing.T) {
	assert.Equal(t, 1.0, lengthScore(10, 10))
	assert.Equal(t, 1.0, lengthScore(8, 10))
	assert.Equal(t, 1.0, lengthScore(12, 10))
	assert.Less(t, lengthScore(3, 10), 1.0)
	assert.Less(t, lengthScore(40, 10), 1.0)
	assert.Greater(t, lengthScore(9, 10), lengthScore(2, 10))
}

func TestCoverageRewardsKeyTerms(t *testing.T) {
	r := NewRanker()
	msg := original("please confirm the invoice total and the payment deadline", types.ToneNeutral)

	candidates := []types.DraftCandidate{
		{Text: "Sounds good, talk soon", Tone: types.ToneNeutral},
		{Text: "Confirming the invoice total now, payment lands before the deadline", Tone: types.ToneNeutral},
	}

	ranked := r.Rank(candidates, msg)
	assert.Contains(t, ranked[0].Text, "invoice")
	assert.Greater(t, ranked[0].CoverageScore, ranked[1].CoverageScore)
}

func TestStableSortPreservesGenerationOrderOnTies(t *testing.T) {
	r := NewRanker()
	msg := original("short note", types.ToneNeutral)

	// Identical candidates tie exactly; generation order must hold.
	candidates := []types.DraftCandidate{
		{Text: "short note reply first", Tone: types.ToneNeutral},
		{Text: "short note reply first", Tone: types.ToneNeutral},
	}
	candidates[0].Text = "short note reply one"
	candidates[1].Text = "short note reply one"

	ranked := r.Rank(candidates, msg)
	require.Len(t, ranked, 2)
	assert.Equal(t, ranked[0].Score, ranked[1].Score)
}

func TestRankDoesNotMutateInput(t *testing.T) {
	r := NewRanker()
	msg := original("check the report", types.ToneNeutral)

	candidates := []types.DraftCandidate{{Text: "will check the report", Tone: types.ToneNeutral}}
	_ = r.Rank(candidates, msg)
	assert.Equal(t, 0.0, candidates[0].Score, "input slice must stay untouched")
}

func TestMissingSentimentDefaultsNeutral(t *testing.T) {
	r := NewRanker()
	msg := original("plain message body", types.ToneNeutral)
	msg.Sentiment = nil

	ranked := r.Rank([]types.DraftCandidate{{Text: "plain message reply body", Tone: types.ToneNeutral}}, msg)
	require.Len(t, ranked, 1)
	assert.Equal(t, 1.0, ranked[0].ToneScore)
}

func TestScoresWithinUnitRange(t *testing.T) {
	r := NewRanker()
	msg := original("one two three four five six seven", types.TonePositive)

	ranked := r.Rank([]types.DraftCandidate{
		{Text: "a", Tone: types.ToneNegative},
		{Text: "one two three four five six seven eight", Tone: types.TonePositive},
	}, msg)

	for _, c := range ranked {
		assert.GreaterOrEqual(t, c.Score, 0.0)
		assert.LessOrEqual(t, c.Score, 1.0)
	}
}
