package cluster

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autocom/internal/types"
)

var base = time.Date(2026, time.March, 4, 10, 0, 0, 0, time.UTC)

func msg(id, sender, body string, offset time.Duration) types.Message {
	return types.Message{
		ID:        id,
		Source:    types.SourceGmail,
		Sender:    sender,
		Body:      body,
		Timestamp: base.Add(offset),
	}
}

func TestLevenshteinIdentity(t *testing.T) {
	assert.Equal(t, 0, Levenshtein("kitten", "kitten"))
	assert.Equal(t, 0, Levenshtein("", ""))
}

func TestLevenshteinSymmetry(t *testing.T) {
	cases := [][2]string{
		{"kitten", "sitting"},
		{"flaw", "lawn"},
		{"", "abc"},
		{"deploy friday", "deploy on friday"},
	}
	for _, c := range cases {
		assert.Equal(t, Levenshtein(c[0], c[1]), Levenshtein(c[1], c[0]))
	}
}

func TestLevenshteinKnownValues(t *testing.T) {
	assert.Equal(t, 3, Levenshtein("kitten", "sitting"))
	assert.Equal(t, 1, Levenshtein("cat", "cats"))
	assert.Equal(t, 3, Levenshtein("", "abc"))
}

func TestSimilarityRange(t *testing.T) {
	a := msg("a", "x@y", "deploy is scheduled for friday afternoon", 0)
	b := msg("b", "x@y", "deploy is scheduled for friday afternoon", time.Minute)
	c := msg("c", "z@q", "completely unrelated grocery list items", 40*time.Hour)

	high := Similarity(a, b)
	low := Similarity(a, c)
	assert.Greater(t, high, low)
	assert.LessOrEqual(t, high, 1.0)
	assert.GreaterOrEqual(t, low, 0.0)
}

func TestSimilaritySymmetric(t *testing.T) {
	a := msg("a", "x@y", "status update on the migration", 0)
	b := msg("b", "w@y", "status of the migration effort", 2*time.Hour)
	assert.InDelta(t, Similarity(a, b), Similarity(b, a), 1e-12)
}

func TestClusterRelatedMessages(t *testing.T) {
	c := NewClusterer(0.55)
	msgs := []types.Message{
		msg("m1", "ops@x", "server alert: disk usage above 90 percent", 0),
		msg("m2", "ops@x", "server alert: disk usage above 95 percent", 10*time.Minute),
		msg("m3", "hr@x", "reminder: benefits enrollment closes next month", 20*time.Minute),
	}

	clusters := c.ClusterMessages(msgs)
	require.Len(t, clusters, 2)

	var opsCluster types.Cluster
	for _, cl := range clusters {
		if len(cl.MessageIDs) == 2 {
			opsCluster = cl
		}
	}
	assert.ElementsMatch(t, []string{"m1", "m2"}, opsCluster.MessageIDs)
	// Representative is the most recent member.
	assert.Equal(t, "m2", opsCluster.Representative.ID)
}

func TestClusteringIdempotent(t *testing.T) {
	c := NewClusterer(0.55)
	msgs := []types.Message{
		msg("m1", "a@x", "build failed on main branch", 0),
		msg("m2", "a@x", "build failed on main branch again", 5*time.Minute),
		msg("m3", "b@x", "lunch plans for thursday", time.Hour),
		msg("m4", "a@x", "build is green on main branch now", 2*time.Hour),
	}

	first := c.ClusterMessages(msgs)
	second := c.ClusterMessages(msgs)

	ignoreIDs := cmpopts.IgnoreFields(types.Cluster{}, "ID")
	if diff := cmp.Diff(first, second, ignoreIDs); diff != "" {
		t.Errorf("re-clustering diverged (-first +second):\n%s", diff)
	}
}

func TestEachMessageInExactlyOneCluster(t *testing.T) {
	c := NewClusterer(0.55)
	msgs := []types.Message{
		msg("m1", "a@x", "quarterly report draft attached", 0),
		msg("m2", "a@x", "quarterly report final attached", time.Minute),
		msg("m3", "b@x", "vpn certificate expires soon", 2*time.Minute),
		msg("m4", "c@x", "team offsite date poll", 3*time.Minute),
	}

	clusters := c.ClusterMessages(msgs)
	seen := map[string]int{}
	for _, cl := range clusters {
		for _, id := range cl.MessageIDs {
			seen[id]++
		}
	}
	assert.Len(t, seen, 4)
	for id, n := range seen {
		assert.Equal(t, 1, n, "message %s", id)
	}
}

func TestIncrementalAssignMatchesRule(t *testing.T) {
	c := NewClusterer(0.55)
	clusters := c.ClusterMessages([]types.Message{
		msg("m1", "ops@x", "incident: api latency spiking", 0),
	})

	related := msg("m2", "ops@x", "incident: api latency still spiking", 15*time.Minute)
	clusters = c.Assign(clusters, related)
	require.Len(t, clusters, 1)
	assert.Equal(t, "m2", clusters[0].Representative.ID)

	unrelated := msg("m3", "hr@x", "new parking policy effective monday", 30*time.Hour)
	clusters = c.Assign(clusters, unrelated)
	assert.Len(t, clusters, 2)
}

func TestHighThresholdKeepsSingletons(t *testing.T) {
	c := NewClusterer(0.99)
	msgs := []types.Message{
		msg("m1", "a@x", "hello there", 0),
		msg("m2", "a@x", "hello their", time.Minute),
	}
	assert.Len(t, c.ClusterMessages(msgs), 2)
}

func TestEmptyInput(t *testing.T) {
	c := NewClusterer(0.5)
	assert.Empty(t, c.ClusterMessages(nil))
}
