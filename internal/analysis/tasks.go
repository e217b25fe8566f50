package analysis

import (
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"autocom/internal/types"
)

// Canonical action verbs with base weights. Synonyms normalize to the
// canonical form before the weight lookup.
var actionWeights = map[string]float64{
	"send":        0.70,
	"write":       0.60,
	"prepare":     0.60,
	"create":      0.60,
	"complete":    0.70,
	"submit":      0.75,
	"review":      0.60,
	"update":      0.60,
	"schedule":    0.65,
	"plan":        0.55,
	"contact":     0.65,
	"follow up":   0.65,
	"share":       0.55,
	"deliver":     0.70,
	"verify":      0.65,
	"confirm":     0.65,
	"approve":     0.70,
	"fix":         0.80,
	"investigate": 0.70,
}

// Synonym to canonical verb.
var actionSynonyms = map[string]string{
	"email":      "send",
	"draft":      "write",
	"make":       "create",
	"finish":     "complete",
	"check":      "review",
	"arrange":    "schedule",
	"organize":   "plan",
	"coordinate": "plan",
	"call":       "contact",
	"reach out":  "contact",
	"get back":   "follow up",
	"upload":     "share",
	"distribute": "share",
	"test":       "verify",
	"validate":   "verify",
	"resolve":    "fix",
	"handle":     "fix",
	"address":    "fix",
}

// Modal verbs carry obligation weight; stronger obligation means a
// higher task priority.
var modalWeights = map[string]float64{
	"must":        0.90,
	"required to": 0.90,
	"need to":     0.85,
	"have to":     0.85,
	"need":        0.75,
	"should":      0.70,
	"ought to":    0.70,
	"expected to": 0.65,
	"supposed to": 0.60,
	"could":       0.50,
	"please":      0.50,
}

const (
	defaultModalWeight   = 0.55
	deadlineBonus        = 1.5
	dedupeOverlapRatio   = 0.6
	sentenceSplitPattern = `[.!?]+\s+`
)

var sentenceRe = regexp.MustCompile(sentenceSplitPattern)

// Deadline phrase patterns, tried in order.
type deadlinePattern struct {
	re   *regexp.Regexp
	kind string
}

var deadlinePatterns = []deadlinePattern{
	{regexp.MustCompile(`(?i)by\s+end\s+of\s+day`), "eod"},
	{regexp.MustCompile(`(?i)by\s+eod`), "eod"},
	{regexp.MustCompile(`(?i)by\s+(monday|tuesday|wednesday|thursday|friday|saturday|sunday)`), "weekday"},
	{regexp.MustCompile(`(?i)by\s+(\d{1,2})\s*(am|pm)`), "clock"},
	{regexp.MustCompile(`(?i)\btomorrow\b`), "tomorrow"},
	{regexp.MustCompile(`(?i)\btoday\b`), "today"},
	{regexp.MustCompile(`(?i)\bthis\s+week\b`), "this_week"},
	{regexp.MustCompile(`(?i)\bnext\s+week\b`), "next_week"},
	{regexp.MustCompile(`(?i)in\s+(\d+)\s+(hour|day|week)s?`), "relative"},
}

var weekdays = map[string]time.Weekday{
	"monday": time.Monday, "tuesday": time.Tuesday, "wednesday": time.Wednesday,
	"thursday": time.Thursday, "friday": time.Friday,
	"saturday": time.Saturday, "sunday": time.Sunday,
}

// Extractor finds actionable tasks in message text.
type Extractor struct{}

// NewExtractor creates a task extractor.
func NewExtractor() *Extractor {
	return &Extractor{}
}

// Extract scans the text sentence by sentence for action and modal
// verbs, assigning each candidate a priority and, when a deadline
// phrase parses, a deadline. A phrase that looks like a deadline but
// fails to parse leaves the deadline unset; it never fails extraction.
func (e *Extractor) Extract(messageID, text string, now time.Time) []types.Task {
	var tasks []types.Task

	for _, sentence := range sentenceRe.Split(text, -1) {
		sentence = strings.TrimSpace(sentence)
		if sentence == "" {
			continue
		}

		verb, base, ok := e.matchAction(sentence)
		if !ok {
			continue
		}

		modal := e.matchModal(sentence)
		deadline := ParseDeadline(sentence, now)

		bonus := 1.0
		if deadline != nil {
			bonus = deadlineBonus
		}
		priority := clamp(base*modal*bonus*100, 0, 100)

		task := types.Task{
			ID:              uuid.NewString(),
			Title:           taskTitle(sentence, verb),
			Description:     sentence,
			Priority:        priority,
			SourceMessageID: messageID,
			Deadline:        deadline,
			Status:          types.TaskPending,
			CreatedAt:       now,
		}
		if !e.isDuplicate(task, tasks) {
			tasks = append(tasks, task)
		}
	}
	return tasks
}

// matchAction returns the canonical verb and its base weight for the
// first action verb found in the sentence.
func (e *Extractor) matchAction(sentence string) (string, float64, bool) {
	lower := strings.ToLower(sentence)
	best := ""
	bestIdx := len(lower) + 1

	try := func(phrase, canonical string) {
		if !containsWord(lower, phrase) {
			return
		}
		if idx := strings.Index(lower, phrase); idx < bestIdx {
			bestIdx = idx
			best = canonical
		}
	}
	for verb := range actionWeights {
		try(verb, verb)
	}
	for syn, canonical := range actionSynonyms {
		try(syn, canonical)
	}

	if best == "" {
		return "", 0, false
	}
	return best, actionWeights[best], true
}

// matchModal returns the strongest obligation weight present, or the
// default when the sentence has no modal verb.
func (e *Extractor) matchModal(sentence string) float64 {
	lower := strings.ToLower(sentence)
	best := 0.0
	for modal, weight := range modalWeights {
		if containsWord(lower, modal) && weight > best {
			best = weight
		}
	}
	if best == 0 {
		return defaultModalWeight
	}
	return best
}

// isDuplicate reports whether the candidate substantially overlaps an
// already-extracted task.
func (e *Extractor) isDuplicate(candidate types.Task, existing []types.Task) bool {
	cw := wordSet(candidate.Description)
	for _, t := range existing {
		tw := wordSet(t.Description)
		overlap := 0
		for w := range cw {
			if tw[w] {
				overlap++
			}
		}
		min := len(cw)
		if len(tw) < min {
			min = len(tw)
		}
		if min > 0 && float64(overlap)/float64(min) > dedupeOverlapRatio {
			return true
		}
	}
	return false
}

// ParseDeadline parses the first recognizable deadline phrase relative
// to now. Returns nil when no phrase matches or the match cannot be
// resolved to a time.
func ParseDeadline(text string, now time.Time) *time.Time {
	lower := strings.ToLower(text)
	for _, p := range deadlinePatterns {
		m := p.re.FindStringSubmatch(lower)
		if m == nil {
			continue
		}
		if t := resolveDeadline(m, p.kind, now); t != nil {
			return t
		}
	}
	return nil
}

func resolveDeadline(m []string, kind string, now time.Time) *time.Time {
	at := func(t time.Time, hour, min int) *time.Time {
		r := time.Date(t.Year(), t.Month(), t.Day(), hour, min, 0, 0, t.Location())
		return &r
	}

	switch kind {
	case "eod":
		return at(now, 17, 0)
	case "today":
		return at(now, 23, 59)
	case "tomorrow":
		return at(now.AddDate(0, 0, 1), 23, 59)
	case "this_week":
		days := (int(time.Friday) - int(now.Weekday()) + 7) % 7
		return at(now.AddDate(0, 0, days), 17, 0)
	case "next_week":
		days := (int(time.Monday)-int(now.Weekday())+7)%7 + 7
		return at(now.AddDate(0, 0, days), 17, 0)
	case "weekday":
		wd, ok := weekdays[m[1]]
		if !ok {
			return nil
		}
		days := (int(wd) - int(now.Weekday()) + 7) % 7
		if days == 0 {
			days = 7
		}
		return at(now.AddDate(0, 0, days), 17, 0)
	case "clock":
		hour := 0
		for _, c := range m[1] {
			hour = hour*10 + int(c-'0')
		}
		if hour < 1 || hour > 12 {
			return nil
		}
		if m[2] == "pm" && hour != 12 {
			hour += 12
		} else if m[2] == "am" && hour == 12 {
			hour = 0
		}
		return at(now, hour, 0)
	case "relative":
		amount := 0
		for _, c := range m[1] {
			amount = amount*10 + int(c-'0')
		}
		switch m[2] {
		case "hour":
			r := now.Add(time.Duration(amount) * time.Hour)
			return &r
		case "day":
			r := now.AddDate(0, 0, amount)
			return &r
		case "week":
			r := now.AddDate(0, 0, 7*amount)
			return &r
		}
	}
	return nil
}

// taskTitle derives a short title from the sentence, anchored at the
// action verb.
func taskTitle(sentence, verb string) string {
	const maxLen = 60
	title := sentence
	lower := strings.ToLower(sentence)
	if idx := strings.Index(lower, verb); idx >= 0 {
		title = sentence[idx:]
	}
	if len(title) > maxLen {
		cut := strings.LastIndex(title[:maxLen], " ")
		if cut <= 0 {
			cut = maxLen
		}
		title = title[:cut]
	}
	return strings.TrimSpace(title)
}

func wordSet(s string) map[string]bool {
	set := make(map[string]bool)
	for _, w := range strings.Fields(strings.ToLower(s)) {
		set[strings.Trim(w, ".,!?:;\"'")] = true
	}
	return set
}
