package analysis

import (
	"math"
	"time"

	"autocom/internal/config"
	"autocom/internal/types"
)

// Scorer computes message priority from the learned sender weight, the
// message's urgency, and its age. Stateless: identical inputs always
// produce the identical score.
type Scorer struct {
	senderFactor  float64
	urgencyFactor float64
	recencyFactor float64
	decayLambda   float64 // per hour
	analyzer      *Analyzer
}

// NewScorer creates a priority scorer from configuration.
func NewScorer(cfg config.ScoringConfig, analyzer *Analyzer) *Scorer {
	return &Scorer{
		senderFactor:  cfg.SenderFactor,
		urgencyFactor: cfg.UrgencyFactor,
		recencyFactor: cfg.RecencyFactor,
		decayLambda:   cfg.DecayLambda,
		analyzer:      analyzer,
	}
}

// Score returns a priority in [0,100]. The exponential age decay is
// applied to the sender-weight term only, so a trusted sender's old
// message loses standing slower than the freshness signal itself.
func (s *Scorer) Score(msg types.Message, senderWeight float64, now time.Time) float64 {
	ageHours := now.Sub(msg.Timestamp).Hours()
	if ageHours < 0 {
		ageHours = 0
	}
	decay := math.Exp(-s.decayLambda * ageHours)

	sentiment := msg.Sentiment
	if sentiment == nil {
		r := s.analyzer.Analyze(msg.Subject + " " + msg.Body)
		sentiment = &r
	}

	senderTerm := s.senderFactor * clamp(senderWeight, 0, 1) * decay
	urgencyTerm := s.urgencyFactor * sentiment.Urgency / 10.0
	recencyTerm := s.recencyFactor * freshness(ageHours)

	return clamp(senderTerm+urgencyTerm+recencyTerm, 0, 100)
}

// freshness falls off over the first day and bottoms out near zero.
func freshness(ageHours float64) float64 {
	return math.Exp(-ageHours / 12.0)
}
