// Package analysis holds the deterministic message analyzers: sentiment
// and tone detection, priority scoring, and task extraction. Every
// function here is pure given its inputs; all tunables come from
// configuration.
package analysis

import (
	"regexp"
	"strings"

	"autocom/internal/types"
)

// Urgency keywords with their contribution weights.
var urgencyKeywords = map[string]float64{
	"urgent":      10,
	"asap":        10,
	"immediately": 10,
	"critical":    9,
	"emergency":   9,
	"important":   8,
	"priority":    7,
	"today":       7,
	"now":         7,
	"soon":        6,
	"tomorrow":    5,
	"this week":   4,
}

var negativeLexicon = []string{
	"problem", "issue", "error", "failed", "broken",
	"wrong", "bug", "crash", "down", "not working",
}

var positiveLexicon = []string{
	"thanks", "thank you", "great", "excellent", "awesome",
	"perfect", "good job", "well done", "appreciate",
}

var wordRe = regexp.MustCompile(`[a-zA-Z']+`)

// Analyzer computes sentiment, urgency, and tone for message text.
type Analyzer struct {
	urgentThreshold float64 // urgency at or above this forces the urgent tone
}

// NewAnalyzer creates a sentiment analyzer.
func NewAnalyzer() *Analyzer {
	return &Analyzer{urgentThreshold: 8.0}
}

// Analyze scores the text. Sentiment is lexicon hit difference
// normalized by token count in [-1,1]; urgency is a weighted keyword
// sum plus pattern bonuses in [0,10]. High urgency pre-empts sentiment
// when choosing the tone label.
func (a *Analyzer) Analyze(text string) types.SentimentResult {
	lower := strings.ToLower(text)
	tokens := wordRe.FindAllString(text, -1)

	var patterns []string

	pos := countHits(lower, positiveLexicon, &patterns)
	neg := countHits(lower, negativeLexicon, &patterns)

	score := 0.0
	if len(tokens) > 0 {
		score = float64(pos-neg) / float64(len(tokens))
	}
	score = clamp(score, -1, 1)

	urgency := a.urgencyScore(text, lower, tokens, &patterns)

	return types.SentimentResult{
		Score:    score,
		Urgency:  urgency,
		Tone:     a.tone(score, urgency),
		Patterns: patterns,
	}
}

func (a *Analyzer) urgencyScore(text, lower string, tokens []string, patterns *[]string) float64 {
	var sum float64
	for kw, weight := range urgencyKeywords {
		if containsWord(lower, kw) {
			sum += weight
			*patterns = append(*patterns, kw)
		}
	}

	// Pattern bonuses: repeated exclamations, shouting, trailing
	// question marks on a question-shaped message.
	if n := strings.Count(text, "!"); n >= 2 {
		sum += 1.5
		*patterns = append(*patterns, "exclamations")
	}
	if ratio := capsRatio(tokens); ratio > 0.5 && len(tokens) > 2 {
		sum += 2.0
		*patterns = append(*patterns, "all_caps")
	}
	if strings.HasSuffix(strings.TrimSpace(text), "??") {
		sum += 1.0
		*patterns = append(*patterns, "trailing_questions")
	}

	return clamp(sum, 0, 10)
}

func (a *Analyzer) tone(score, urgency float64) types.Tone {
	if urgency >= a.urgentThreshold {
		return types.ToneUrgent
	}
	switch {
	case score < 0:
		return types.ToneNegative
	case score > 0:
		return types.TonePositive
	default:
		return types.ToneNeutral
	}
}

// PriorityLabel buckets an urgency score for notification routing.
func PriorityLabel(urgency float64) types.Priority {
	switch {
	case urgency >= 9:
		return types.PriorityUrgent
	case urgency >= 7:
		return types.PriorityHigh
	case urgency >= 4:
		return types.PriorityNormal
	default:
		return types.PriorityLow
	}
}

// containsWord reports whether the lowercased text contains the phrase
// on word boundaries. Phrases with spaces match as substrings of the
// token stream.
func containsWord(lower, phrase string) bool {
	idx := 0
	for {
		i := strings.Index(lower[idx:], phrase)
		if i < 0 {
			return false
		}
		start := idx + i
		end := start + len(phrase)
		beforeOK := start == 0 || !isWordChar(lower[start-1])
		afterOK := end == len(lower) || !isWordChar(lower[end])
		if beforeOK && afterOK {
			return true
		}
		idx = start + 1
	}
}

func isWordChar(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '\''
}

func countHits(lower string, lexicon []string, patterns *[]string) int {
	n := 0
	for _, w := range lexicon {
		if containsWord(lower, w) {
			n++
			*patterns = append(*patterns, w)
		}
	}
	return n
}

func capsRatio(tokens []string) float64 {
	if len(tokens) == 0 {
		return 0
	}
	caps := 0
	for _, t := range tokens {
		if len(t) > 1 && t == strings.ToUpper(t) && t != strings.ToLower(t) {
			caps++
		}
	}
	return float64(caps) / float64(len(tokens))
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
