// Package digest condenses a set of messages into a short summary:
// important sentences first, near-duplicates removed, grouped by
// source.
package digest

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"autocom/internal/contextmatch"
	"autocom/internal/types"
)

var sentenceRe = regexp.MustCompile(`[.!?]+\s+`)

// Generator builds digests from message sets.
type Generator struct {
	maxSentences        int
	redundancyThreshold float64
}

// NewGenerator creates a digest generator.
func NewGenerator(maxSentences int, redundancyThreshold float64) *Generator {
	if maxSentences <= 0 {
		maxSentences = 8
	}
	return &Generator{
		maxSentences:        maxSentences,
		redundancyThreshold: redundancyThreshold,
	}
}

type candidate struct {
	text       string
	importance float64
	words      map[string]bool
	order      int
}

// Generate produces a digest of the messages. Sentences are scored by
// the corpus frequency of their informative terms; a sentence too
// similar to one already selected is dropped so each fact appears once.
func (g *Generator) Generate(messages []types.Message, now time.Time) types.Digest {
	digest := types.Digest{
		ID:          uuid.NewString(),
		GeneratedAt: now,
	}
	if len(messages) == 0 {
		return digest
	}

	// Corpus term frequencies over informative words only.
	freq := make(map[string]int)
	var candidates []candidate
	order := 0
	for _, msg := range messages {
		text := strings.TrimSpace(msg.Subject + ". " + msg.Body)
		for _, sentence := range splitSentences(text) {
			words := contextmatch.Keywords(sentence)
			if len(words) == 0 {
				continue
			}
			for w := range words {
				freq[w]++
			}
			candidates = append(candidates, candidate{
				text:  sentence,
				words: words,
				order: order,
			})
			order++
		}
	}

	for i := range candidates {
		sum := 0
		for w := range candidates[i].words {
			sum += freq[w]
		}
		candidates[i].importance = float64(sum) / float64(len(candidates[i].words))
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].importance != candidates[j].importance {
			return candidates[i].importance > candidates[j].importance
		}
		return candidates[i].order < candidates[j].order
	})

	var selected []candidate
	for _, c := range candidates {
		if len(selected) >= g.maxSentences {
			break
		}
		redundant := false
		for _, s := range selected {
			if jaccard(c.words, s.words) > g.redundancyThreshold {
				redundant = true
				break
			}
		}
		if !redundant {
			selected = append(selected, c)
		}
	}
	for _, c := range selected {
		digest.Sentences = append(digest.Sentences, c.text)
	}

	digest.Groups = groupBySource(messages)
	digest.UrgentCount = urgentCount(messages)
	digest.TopSenders = topSenders(messages, 3)
	return digest
}

func splitSentences(text string) []string {
	var out []string
	for _, s := range sentenceRe.Split(text, -1) {
		s = strings.TrimSpace(strings.TrimRight(s, ".!?"))
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for w := range a {
		if b[w] {
			inter++
		}
	}
	return float64(inter) / float64(len(a)+len(b)-inter)
}

func groupBySource(messages []types.Message) []types.DigestGroup {
	bySource := make(map[types.Source][]string)
	for _, m := range messages {
		line := m.Sender + ": " + headline(m)
		bySource[m.Source] = append(bySource[m.Source], line)
	}

	sources := make([]types.Source, 0, len(bySource))
	for src := range bySource {
		sources = append(sources, src)
	}
	sort.Slice(sources, func(i, j int) bool { return sources[i] < sources[j] })

	groups := make([]types.DigestGroup, 0, len(sources))
	for _, src := range sources {
		groups = append(groups, types.DigestGroup{
			Source: src,
			Count:  len(bySource[src]),
			Lines:  bySource[src],
		})
	}
	return groups
}

func headline(m types.Message) string {
	if m.Subject != "" {
		return m.Subject
	}
	const maxLen = 60
	body := strings.Join(strings.Fields(m.Body), " ")
	if len(body) > maxLen {
		body = body[:maxLen]
	}
	return body
}

func urgentCount(messages []types.Message) int {
	n := 0
	for _, m := range messages {
		if m.Sentiment != nil && m.Sentiment.Tone == types.ToneUrgent {
			n++
		}
	}
	return n
}

func topSenders(messages []types.Message, limit int) []types.SenderCount {
	counts := make(map[string]int)
	for _, m := range messages {
		counts[m.Sender]++
	}
	out := make([]types.SenderCount, 0, len(counts))
	for s, c := range counts {
		out = append(out, types.SenderCount{Sender: s, Count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Sender < out[j].Sender
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Format renders the digest as display text.
func Format(d types.Digest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Digest (%s)\n", d.GeneratedAt.Format("Mon Jan 2 15:04"))
	if d.UrgentCount > 0 {
		fmt.Fprintf(&b, "%d urgent message(s) need attention\n", d.UrgentCount)
	}
	if len(d.Sentences) > 0 {
		b.WriteString("\nHighlights:\n")
		for _, s := range d.Sentences {
			fmt.Fprintf(&b, "  - %s\n", s)
		}
	}
	for _, g := range d.Groups {
		fmt.Fprintf(&b, "\n%s (%d message(s)):\n", g.Source, g.Count)
		for _, line := range g.Lines {
			fmt.Fprintf(&b, "  %s\n", line)
		}
	}
	if len(d.TopSenders) > 0 {
		b.WriteString("\nMost active: ")
		parts := make([]string, 0, len(d.TopSenders))
		for _, s := range d.TopSenders {
			parts = append(parts, fmt.Sprintf("%s (%d)", s.Sender, s.Count))
		}
		b.WriteString(strings.Join(parts, ", "))
		b.WriteString("\n")
	}
	return b.String()
}
