// Package cluster groups related messages by text similarity, sender,
// and time proximity using greedy single-pass clustering.
package cluster

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"autocom/internal/types"
)

// Similarity signal weights. Text distance dominates; a shared sender
// and close timestamps nudge related threads together.
const (
	textWeight   = 0.6
	senderWeight = 0.25
	timeWeight   = 0.15

	// timeScale is the proximity horizon: messages this far apart
	// contribute no time signal.
	timeScale = 24 * time.Hour

	// Edit distance is computed on prefixes of this length to keep
	// long bodies cheap.
	comparePrefix = 200
)

// Levenshtein returns the classic edit distance between two strings.
// It is symmetric and zero for identical inputs.
func Levenshtein(a, b string) int {
	if a == b {
		return 0
	}
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}

	prev := make([]int, len(rb)+1)
	cur := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		cur[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			cur[j] = min3(cur[j-1]+1, prev[j]+1, prev[j-1]+cost)
		}
		prev, cur = cur, prev
	}
	return prev[len(rb)]
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}

// Similarity combines normalized edit distance, sender match, and time
// proximity into a score in [0,1].
func Similarity(m1, m2 types.Message) float64 {
	t1 := prefix(normalizeText(m1.Subject + " " + m1.Body))
	t2 := prefix(normalizeText(m2.Subject + " " + m2.Body))

	var textSim float64
	maxLen := len([]rune(t1))
	if l2 := len([]rune(t2)); l2 > maxLen {
		maxLen = l2
	}
	if maxLen == 0 {
		textSim = 1
	} else {
		textSim = 1 - float64(Levenshtein(t1, t2))/float64(maxLen)
	}

	var senderSim float64
	if m1.Sender == m2.Sender {
		senderSim = 1
	}

	gap := m1.Timestamp.Sub(m2.Timestamp)
	if gap < 0 {
		gap = -gap
	}
	timeSim := 1 - float64(gap)/float64(timeScale)
	if timeSim < 0 {
		timeSim = 0
	}

	return textWeight*textSim + senderWeight*senderSim + timeWeight*timeSim
}

func normalizeText(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

func prefix(s string) string {
	r := []rune(s)
	if len(r) > comparePrefix {
		r = r[:comparePrefix]
	}
	return string(r)
}

// Clusterer groups messages whose similarity exceeds the threshold.
type Clusterer struct {
	threshold float64
}

// NewClusterer creates a clusterer with the given join threshold.
func NewClusterer(threshold float64) *Clusterer {
	return &Clusterer{threshold: threshold}
}

// ClusterMessages runs greedy single-pass clustering in chronological
// order. Each message joins the best-matching existing cluster when
// that match exceeds the threshold, otherwise it starts a new cluster.
// Clusters are never merged; re-running on the same input yields the
// same clusters.
func (c *Clusterer) ClusterMessages(messages []types.Message) []types.Cluster {
	sorted := make([]types.Message, len(messages))
	copy(sorted, messages)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	var clusters []types.Cluster
	for _, msg := range sorted {
		clusters = c.assign(clusters, msg)
	}
	return clusters
}

// Assign places one new message into the existing clusters with the
// same greedy rule, without re-clustering the whole set.
func (c *Clusterer) Assign(clusters []types.Cluster, msg types.Message) []types.Cluster {
	return c.assign(clusters, msg)
}

func (c *Clusterer) assign(clusters []types.Cluster, msg types.Message) []types.Cluster {
	bestIdx := -1
	bestScore := 0.0
	for i := range clusters {
		score := Similarity(msg, clusters[i].Representative)
		if score > c.threshold && score > bestScore {
			bestScore = score
			bestIdx = i
		}
	}

	if bestIdx >= 0 {
		cl := &clusters[bestIdx]
		cl.MessageIDs = append(cl.MessageIDs, msg.ID)
		if !msg.Timestamp.Before(cl.Representative.Timestamp) {
			cl.Representative = msg
		}
		cl.UpdatedAt = msg.Timestamp
		return clusters
	}

	return append(clusters, types.Cluster{
		ID:             uuid.NewString(),
		MessageIDs:     []string{msg.ID},
		Representative: msg,
		Summary:        summaryLine(msg),
		UpdatedAt:      msg.Timestamp,
	})
}

func summaryLine(msg types.Message) string {
	if msg.Subject != "" {
		return msg.Subject
	}
	const maxLen = 80
	body := strings.Join(strings.Fields(msg.Body), " ")
	if len(body) > maxLen {
		body = body[:maxLen]
	}
	return body
}
