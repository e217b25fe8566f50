package digest

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autocom/internal/types"
)

var now = time.Date(2026, time.March, 4, 8, 0, 0, 0, time.UTC)

func msg(id, sender, body string, src types.Source) types.Message {
	return types.Message{
		ID: id, Source: src, Sender: sender, Body: body, Timestamp: now,
	}
}

func TestGenerateEmptyInput(t *testing.T) {
	g := NewGenerator(8, 0.8)
	d := g.Generate(nil, now)
	assert.Empty(t, d.Sentences)
	assert.Empty(t, d.Groups)
	assert.Equal(t, 0, d.UrgentCount)
}

func TestMaxSentencesHonored(t *testing.T) {
	g := NewGenerator(2, 0.8)
	msgs := []types.Message{
		msg("m1", "a@x", "The deploy finished early. Tests all passed cleanly. Coverage went up two points.", types.SourceGmail),
		msg("m2", "b@x", "Lunch is moved to noon. The meeting room changed to 4B.", types.SourceSlack),
	}
	d := g.Generate(msgs, now)
	assert.LessOrEqual(t, len(d.Sentences), 2)
	assert.NotEmpty(t, d.Sentences)
}

func TestNearDuplicateSentencesKeptOnce(t *testing.T) {
	g := NewGenerator(8, 0.8)
	msgs := []types.Message{
		msg("m1", "a@x", "The production database migration completed successfully tonight.", types.SourceGmail),
		msg("m2", "b@x", "The production database migration completed successfully tonight again.", types.SourceSlack),
		msg("m3", "c@x", "Reminder about the holiday party on thursday evening.", types.SourceGmail),
	}

	d := g.Generate(msgs, now)

	migrations := 0
	for _, s := range d.Sentences {
		if strings.Contains(s, "migration") {
			migrations++
		}
	}
	assert.Equal(t, 1, migrations, "near-duplicates must collapse to one sentence")
}

func TestImportantSentenceRanksFirst(t *testing.T) {
	g := NewGenerator(8, 0.8)
	// "deploy" recurs across messages, so the deploy sentences carry
	// higher corpus-frequency weight than the one-off aside.
	msgs := []types.Message{
		msg("m1", "a@x", "Deploy window opens friday. My cat sneezed.", types.SourceGmail),
		msg("m2", "b@x", "Confirming the deploy window for friday deploy.", types.SourceSlack),
	}

	d := g.Generate(msgs, now)
	require.NotEmpty(t, d.Sentences)
	assert.Contains(t, strings.ToLower(d.Sentences[0]), "deploy")
}

func TestGroupsPerSourceWithCounts(t *testing.T) {
	g := NewGenerator(8, 0.8)
	msgs := []types.Message{
		msg("m1", "a@x", "first gmail note", types.SourceGmail),
		msg("m2", "b@x", "second gmail note about invoices", types.SourceGmail),
		msg("m3", "c@x", "one slack ping", types.SourceSlack),
	}

	d := g.Generate(msgs, now)
	require.Len(t, d.Groups, 2)

	bySource := map[types.Source]types.DigestGroup{}
	for _, grp := range d.Groups {
		bySource[grp.Source] = grp
	}
	assert.Equal(t, 2, bySource[types.SourceGmail].Count)
	assert.Equal(t, 1, bySource[types.SourceSlack].Count)
	assert.Len(t, bySource[types.SourceGmail].Lines, 2)
}

func TestUrgentCount(t *testing.T) {
	g := NewGenerator(8, 0.8)
	urgent := msg("m1", "a@x", "server is on fire", types.SourceSlack)
	urgent.Sentiment = &types.SentimentResult{Urgency: 10, Tone: types.ToneUrgent}
	calm := msg("m2", "b@x", "weekly newsletter", types.SourceGmail)
	calm.Sentiment = &types.SentimentResult{Tone: types.ToneNeutral}

	d := g.Generate([]types.Message{urgent, calm}, now)
	assert.Equal(t, 1, d.UrgentCount)
}

func TestTopSenders(t *testing.T) {
	g := NewGenerator(8, 0.8)
	msgs := []types.Message{
		msg("m1", "busy@x", "note one about planning", types.SourceGmail),
		msg("m2", "busy@x", "note two about planning", types.SourceGmail),
		msg("m3", "quiet@x", "single note", types.SourceSlack),
	}

	d := g.Generate(msgs, now)
	require.NotEmpty(t, d.TopSenders)
	assert.Equal(t, "busy@x", d.TopSenders[0].Sender)
	assert.Equal(t, 2, d.TopSenders[0].Count)
}

func TestFormat(t *testing.T) {
	g := NewGenerator(8, 0.8)
	urgent := msg("m1", "ops@x", "Disk usage critical on db host.", types.SourceSlack)
	urgent.Sentiment = &types.SentimentResult{Urgency: 9, Tone: types.ToneUrgent}

	d := g.Generate([]types.Message{urgent}, now)
	out := Format(d)

	assert.Contains(t, out, "1 urgent")
	assert.Contains(t, out, "slack (1 message(s))")
	assert.Contains(t, out, "ops@x")
}
