// Package contextmatch finds prior conversational turns relevant to a
// new query. Relevance combines keyword-set Jaccard similarity with a
// TF-IDF weighted overlap, discounted exponentially by entry age.
package contextmatch

import (
	"math"
	"sort"
	"strings"
	"time"

	"autocom/internal/types"
)

var stopwords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true,
	"at": true, "be": true, "but": true, "by": true, "can": true,
	"do": true, "for": true, "from": true, "had": true, "has": true,
	"have": true, "he": true, "her": true, "his": true, "i": true,
	"if": true, "in": true, "is": true, "it": true, "its": true,
	"me": true, "my": true, "no": true, "not": true, "of": true,
	"on": true, "or": true, "our": true, "she": true, "so": true,
	"that": true, "the": true, "their": true, "them": true,
	"they": true, "this": true, "to": true, "was": true, "we": true,
	"were": true, "what": true, "when": true, "which": true,
	"who": true, "will": true, "with": true, "would": true,
	"you": true, "your": true,
}

// Matcher scores history entries against a query.
type Matcher struct {
	limit       int
	decayLambda float64 // per hour of entry age
}

// NewMatcher creates a matcher returning at most limit entries.
func NewMatcher(limit int, decayLambda float64) *Matcher {
	if limit <= 0 {
		limit = 5
	}
	return &Matcher{limit: limit, decayLambda: decayLambda}
}

type scored struct {
	entry types.ContextEntry
	score float64
}

// FindContext returns up to the configured limit of history entries,
// most relevant first. Ties break toward the more recent entry. An
// empty history yields an empty result; this never fails.
func (m *Matcher) FindContext(query string, history []types.ContextEntry, now time.Time) []types.ContextEntry {
	if len(history) == 0 || strings.TrimSpace(query) == "" {
		return nil
	}

	queryKw := Keywords(query)
	if len(queryKw) == 0 {
		return nil
	}

	idf := documentFrequencies(history)

	candidates := make([]scored, 0, len(history))
	for _, entry := range history {
		kw := entryKeywords(entry)
		if len(kw) == 0 {
			continue
		}

		base := jaccard(queryKw, kw) + tfidfOverlap(queryKw, kw, idf, len(history))
		if base == 0 {
			continue
		}

		ageHours := now.Sub(entry.Timestamp).Hours()
		if ageHours < 0 {
			ageHours = 0
		}
		candidates = append(candidates, scored{
			entry: entry,
			score: base * math.Exp(-m.decayLambda*ageHours),
		})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].entry.Timestamp.After(candidates[j].entry.Timestamp)
	})

	n := m.limit
	if len(candidates) < n {
		n = len(candidates)
	}
	out := make([]types.ContextEntry, n)
	for i := 0; i < n; i++ {
		out[i] = candidates[i].entry
	}
	return out
}

// Keywords extracts the stopword-filtered keyword set of a text.
func Keywords(text string) map[string]bool {
	set := make(map[string]bool)
	for _, w := range strings.Fields(strings.ToLower(text)) {
		w = strings.Trim(w, ".,!?:;\"'()[]")
		if len(w) < 2 || stopwords[w] {
			continue
		}
		set[w] = true
	}
	return set
}

// entryKeywords uses the entry's precomputed keywords when present,
// falling back to extraction over command and response text.
func entryKeywords(e types.ContextEntry) map[string]bool {
	if len(e.Keywords) > 0 {
		set := make(map[string]bool, len(e.Keywords))
		for _, k := range e.Keywords {
			set[strings.ToLower(k)] = true
		}
		return set
	}
	return Keywords(e.Command + " " + e.Response)
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
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}

// documentFrequencies counts how many history entries contain each term.
func documentFrequencies(history []types.ContextEntry) map[string]int {
	df := make(map[string]int)
	for _, e := range history {
		for w := range entryKeywords(e) {
			df[w]++
		}
	}
	return df
}

// tfidfOverlap sums inverse-document-frequency weights over the terms
// shared by query and entry, normalized by the query size. Rare shared
// terms count for more than ubiquitous ones.
func tfidfOverlap(query, entry map[string]bool, df map[string]int, docs int) float64 {
	if len(query) == 0 {
		return 0
	}
	var sum float64
	for w := range query {
		if !entry[w] {
			continue
		}
		sum += math.Log(1 + float64(docs)/float64(1+df[w]))
	}
	return sum / float64(len(query))
}
