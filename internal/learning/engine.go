// Package learning adapts sender weights and behavioral thresholds
// from user interactions. Updates to one sender are serialized on a
// per-sender record; different senders update independently.
package learning

import (
	"math"
	"sort"
	"sync"
	"time"

	"autocom/internal/config"
	"autocom/internal/logging"
	"autocom/internal/types"
)

// Interaction actions recognized by the engine.
const (
	ActionReply    = "reply"
	ActionIgnore   = "ignore"
	ActionArchive  = "archive"
	ActionPriority = "priority"
)

// InitialWeight is the neutral weight assigned to unseen senders.
const InitialWeight = 0.5

// Thresholds on action counts that promote a sender into the priority
// or ignored set.
const (
	priorityReplyCount = 5
	ignoreCount        = 3
)

type record struct {
	mu      sync.Mutex
	weight  types.SenderWeight
	actions map[string]int
	// decayedAt marks the instant the weight has been decayed through;
	// the next decay pass covers only the span after it.
	decayedAt time.Time
}

// Engine is the adaptive learning engine.
type Engine struct {
	cfg  config.LearningConfig
	repo types.Repository // optional persistence

	mu      sync.RWMutex
	records map[string]*record

	prefMu           sync.Mutex
	patternThreshold int
	tonePrefs        map[string]int
	prioritySenders  map[string]bool
	ignoredSenders   map[string]bool
	interactions     int
}

// NewEngine creates a learning engine. repo may be nil; weights are
// then held in memory only.
func NewEngine(cfg config.LearningConfig, repo types.Repository) *Engine {
	return &Engine{
		cfg:              cfg,
		repo:             repo,
		records:          make(map[string]*record),
		patternThreshold: cfg.PatternThreshold,
		tonePrefs:        make(map[string]int),
		prioritySenders:  make(map[string]bool),
		ignoredSenders:   make(map[string]bool),
	}
}

// Load restores persisted sender weights from the repository.
func (e *Engine) Load() error {
	if e.repo == nil {
		return nil
	}
	weights, err := e.repo.AllSenderWeights()
	if err != nil {
		return err
	}
	// Persisted weights already reflect every decay pass up to
	// shutdown; idle time counts from restore, not from the last
	// interaction.
	restoredAt := time.Now()
	e.mu.Lock()
	for _, w := range weights {
		e.records[w.Sender] = &record{weight: w, actions: make(map[string]int), decayedAt: restoredAt}
	}
	e.mu.Unlock()
	logging.Learning("restored %d sender weights", len(weights))
	return nil
}

// get returns (or creates) the guarded record for a sender.
func (e *Engine) get(sender string) *record {
	e.mu.RLock()
	if r, ok := e.records[sender]; ok {
		e.mu.RUnlock()
		return r
	}
	e.mu.RUnlock()

	e.mu.Lock()
	defer e.mu.Unlock()
	if r, ok := e.records[sender]; ok {
		return r
	}
	r := &record{
		weight:  types.SenderWeight{Sender: sender, Weight: InitialWeight},
		actions: make(map[string]int),
	}
	e.records[sender] = r
	return r
}

// TrackInteraction folds one interaction signal into the sender's
// weight via an exponential moving average, new = alpha*signal +
// (1-alpha)*old. The result always stays within [0,1].
func (e *Engine) TrackInteraction(sender, action string, signal float64, now time.Time) error {
	signal = clamp01(signal)
	r := e.get(sender)

	r.mu.Lock()
	alpha := e.cfg.SmoothingFactor
	r.weight.Weight = clamp01(alpha*signal + (1-alpha)*r.weight.Weight)
	r.weight.Interactions++
	r.weight.LastInteraction = now
	r.actions[action]++
	replies := r.actions[ActionReply]
	ignores := r.actions[ActionIgnore]
	snapshot := r.weight
	r.mu.Unlock()

	e.prefMu.Lock()
	e.interactions++
	if action == ActionPriority || replies > priorityReplyCount {
		e.prioritySenders[sender] = true
	}
	if ignores > ignoreCount {
		e.ignoredSenders[sender] = true
	}
	e.prefMu.Unlock()

	logging.Learning("interaction %s -> %s weight=%.3f", sender, action, snapshot.Weight)

	if e.repo != nil {
		if err := e.repo.PutSenderWeight(snapshot); err != nil {
			return err
		}
	}
	return nil
}

// Weight returns the current learned weight for a sender, or the
// initial weight for an unknown one.
func (e *Engine) Weight(sender string) float64 {
	e.mu.RLock()
	r, ok := e.records[sender]
	e.mu.RUnlock()
	if !ok {
		return InitialWeight
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.weight.Weight
}

// ApplyTimeDecay multiplies every idle sender's weight by the decay
// factor per elapsed day, clamped at the configured floor. Each pass
// decays only the span since the previous pass (or the last
// interaction, whichever is later), so repeated or overlapping runs
// never compound. Run periodically, not per event.
func (e *Engine) ApplyTimeDecay(now time.Time) {
	e.mu.RLock()
	records := make([]*record, 0, len(e.records))
	for _, r := range e.records {
		records = append(records, r)
	}
	e.mu.RUnlock()

	decayed := 0
	for _, r := range records {
		r.mu.Lock()
		since := r.weight.LastInteraction
		if r.decayedAt.After(since) {
			since = r.decayedAt
		}
		days := now.Sub(since).Hours() / 24
		if days > 0 {
			r.decayedAt = now
			factor := math.Pow(e.cfg.DecayFactor, days)
			w := r.weight.Weight * factor
			if w < e.cfg.MinWeight {
				w = e.cfg.MinWeight
			}
			if w != r.weight.Weight {
				r.weight.Weight = w
				decayed++
			}
		}
		snapshot := r.weight
		r.mu.Unlock()

		if e.repo != nil {
			if err := e.repo.PutSenderWeight(snapshot); err != nil {
				logging.Get(logging.CategoryLearning).Error(
					"persist decayed weight for %s: %v", snapshot.Sender, err)
			}
		}
	}
	logging.Learning("time decay applied, %d weights changed", decayed)
}

// DetectPattern reports whether a sender's count for the given action
// has crossed the adaptive pattern threshold.
func (e *Engine) DetectPattern(sender, action string) bool {
	e.mu.RLock()
	r, ok := e.records[sender]
	e.mu.RUnlock()
	if !ok {
		return false
	}

	r.mu.Lock()
	count := r.actions[action]
	r.mu.Unlock()

	e.prefMu.Lock()
	threshold := e.patternThreshold
	e.prefMu.Unlock()
	return count >= threshold
}

// AdjustThreshold nudges the pattern threshold from delivery feedback:
// a false positive (pattern flagged but user disagreed) raises it, a
// false negative lowers it, never below one.
func (e *Engine) AdjustThreshold(falsePositive bool) int {
	e.prefMu.Lock()
	defer e.prefMu.Unlock()
	if falsePositive {
		e.patternThreshold += e.cfg.ThresholdStep
	} else {
		e.patternThreshold -= e.cfg.ThresholdStep
		if e.patternThreshold < 1 {
			e.patternThreshold = 1
		}
	}
	logging.Learning("pattern threshold adjusted to %d", e.patternThreshold)
	return e.patternThreshold
}

// IsPrioritySender reports whether the sender has been promoted to the
// priority set.
func (e *Engine) IsPrioritySender(sender string) bool {
	e.prefMu.Lock()
	defer e.prefMu.Unlock()
	return e.prioritySenders[sender]
}

// IsIgnoredSender reports whether the sender has been demoted to the
// ignored set.
func (e *Engine) IsIgnoredSender(sender string) bool {
	e.prefMu.Lock()
	defer e.prefMu.Unlock()
	return e.ignoredSenders[sender]
}

// AddPrioritySender manually promotes a sender.
func (e *Engine) AddPrioritySender(sender string, now time.Time) error {
	e.prefMu.Lock()
	e.prioritySenders[sender] = true
	e.prefMu.Unlock()
	return e.TrackInteraction(sender, ActionPriority, 1.0, now)
}

// RemovePrioritySender manually demotes a sender.
func (e *Engine) RemovePrioritySender(sender string) {
	e.prefMu.Lock()
	delete(e.prioritySenders, sender)
	e.prefMu.Unlock()
}

// LearnFromEdit records a length preference signal from a draft edit.
func (e *Engine) LearnFromEdit(original, edited string, tone types.Tone) {
	e.prefMu.Lock()
	defer e.prefMu.Unlock()
	switch {
	case len(edited) < len(original):
		e.tonePrefs[string(tone)+"_shorter"]++
	case len(edited) > len(original):
		e.tonePrefs[string(tone)+"_longer"]++
	}
}

// LearnFromRejection records a rejected draft tone.
func (e *Engine) LearnFromRejection(tone types.Tone) {
	e.prefMu.Lock()
	defer e.prefMu.Unlock()
	e.tonePrefs[string(tone)+"_rejected"]++
}

// PreferredTone suggests a reply tone for a sender: friendly for
// frequent reply targets, professional for priority senders, empty
// when nothing is known.
func (e *Engine) PreferredTone(sender string) string {
	e.mu.RLock()
	r, ok := e.records[sender]
	e.mu.RUnlock()
	if ok {
		r.mu.Lock()
		replies := r.actions[ActionReply]
		r.mu.Unlock()
		if replies > 3 {
			return "friendly"
		}
	}
	if e.IsPrioritySender(sender) {
		return "professional"
	}
	return ""
}

// TopSenders returns the most interacted-with senders, descending.
func (e *Engine) TopSenders(limit int) []types.SenderCount {
	e.mu.RLock()
	out := make([]types.SenderCount, 0, len(e.records))
	for sender, r := range e.records {
		r.mu.Lock()
		out = append(out, types.SenderCount{Sender: sender, Count: r.weight.Interactions})
		r.mu.Unlock()
	}
	e.mu.RUnlock()

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

// Stats summarizes the engine state.
type Stats struct {
	Interactions     int
	TrackedSenders   int
	PrioritySenders  int
	IgnoredSenders   int
	PatternThreshold int
}

// Stats returns a snapshot of engine counters.
func (e *Engine) Stats() Stats {
	e.mu.RLock()
	tracked := len(e.records)
	e.mu.RUnlock()

	e.prefMu.Lock()
	defer e.prefMu.Unlock()
	return Stats{
		Interactions:     e.interactions,
		TrackedSenders:   tracked,
		PrioritySenders:  len(e.prioritySenders),
		IgnoredSenders:   len(e.ignoredSenders),
		PatternThreshold: e.patternThreshold,
	}
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
