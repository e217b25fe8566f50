package inference

import (
	"context"
	"fmt"
	"strings"

	"autocom/internal/analysis"
	"autocom/internal/types"
)

// Heuristic is the deterministic fallback behind every inference
// operation. It is built entirely from the local analyzers and never
// returns an error.
type Heuristic struct {
	analyzer  *analysis.Analyzer
	extractor *analysis.Extractor
}

// intentRule maps command keywords to an action/target guess.
type intentRule struct {
	keywords   []string
	action     string
	target     string
	confidence float64
}

var intentRules = []intentRule{
	{[]string{"check email", "check my email", "fetch email", "any new email", "read email"}, "fetch", "gmail", 0.8},
	{[]string{"check slack", "fetch slack", "any slack", "slack messages"}, "fetch", "slack", 0.8},
	{[]string{"summarize", "summary", "digest", "catch me up"}, "summarize", "all", 0.75},
	{[]string{"reply", "draft", "respond", "write back"}, "draft_reply", "all", 0.7},
	{[]string{"done", "finished", "complete"}, "complete_task", "tasks", 0.7},
	{[]string{"mark read", "mark as read"}, "mark_read", "all", 0.75},
	{[]string{"archive"}, "archive", "all", 0.7},
	{[]string{"prioritize", "priority sender", "important sender"}, "add_priority_sender", "all", 0.7},
	{[]string{"check", "fetch", "anything new", "what's new"}, "fetch", "all", 0.6},
}

// NewHeuristic creates the fallback engine.
func NewHeuristic(analyzer *analysis.Analyzer, extractor *analysis.Extractor) *Heuristic {
	return &Heuristic{analyzer: analyzer, extractor: extractor}
}

// ClassifyIntent guesses intent from command keywords. Unrecognized
// commands come back as the unknown action with low confidence, never
// as an error.
func (h *Heuristic) ClassifyIntent(_ context.Context, text string, _ []types.ContextEntry) (types.Intent, error) {
	lower := strings.ToLower(text)
	for _, rule := range intentRules {
		for _, kw := range rule.keywords {
			if strings.Contains(lower, kw) {
				return types.Intent{
					Action:     rule.action,
					Target:     rule.target,
					Confidence: rule.confidence,
					RawInput:   text,
				}, nil
			}
		}
	}
	return types.Intent{
		Action:     "unknown",
		Target:     "all",
		Confidence: 0.3,
		RawInput:   text,
	}, nil
}

// AnalyzeMessage runs the deterministic analyzers: sentiment for tone
// and urgency, the extractor for tasks, a first-sentence summary.
func (h *Heuristic) AnalyzeMessage(_ context.Context, msg types.Message) (*types.Analysis, error) {
	text := strings.TrimSpace(msg.Subject + " " + msg.Body)
	sentiment := h.analyzer.Analyze(text)
	tasks := h.extractor.Extract(msg.ID, msg.Body, msg.Timestamp)

	return &types.Analysis{
		Summary:          summarize(msg),
		Sentiment:        &sentiment,
		Tasks:            tasks,
		RequiresResponse: requiresResponse(msg.Body, sentiment),
	}, nil
}

// GenerateDraft produces a plain acknowledgement shaped by the
// message's tone.
func (h *Heuristic) GenerateDraft(_ context.Context, msg types.Message, _ []types.ContextEntry) (string, error) {
	sentiment := h.analyzer.Analyze(msg.Subject + " " + msg.Body)

	switch sentiment.Tone {
	case types.ToneUrgent:
		return fmt.Sprintf("Got it, treating this as urgent. I'm looking at %q now and will follow up shortly.", topic(msg)), nil
	case types.ToneNegative:
		return fmt.Sprintf("Thanks for flagging this. I'm looking into %q and will get back to you with next steps.", topic(msg)), nil
	case types.TonePositive:
		return "Thanks for the note, much appreciated. I'll follow up if anything else is needed.", nil
	default:
		return fmt.Sprintf("Thanks, received your message about %q. I'll review and reply soon.", topic(msg)), nil
	}
}

func summarize(msg types.Message) string {
	if msg.Subject != "" {
		return msg.Subject
	}
	body := strings.Join(strings.Fields(msg.Body), " ")
	for _, sep := range []string{". ", "! ", "? "} {
		if i := strings.Index(body, sep); i > 0 {
			return body[:i+1]
		}
	}
	const maxLen = 100
	if len(body) > maxLen {
		return body[:maxLen]
	}
	return body
}

func requiresResponse(body string, sentiment types.SentimentResult) bool {
	if sentiment.Tone == types.ToneUrgent {
		return true
	}
	return strings.Contains(body, "?")
}

func topic(msg types.Message) string {
	if msg.Subject != "" {
		return msg.Subject
	}
	const maxLen = 40
	body := strings.Join(strings.Fields(msg.Body), " ")
	if len(body) > maxLen {
		body = body[:maxLen]
	}
	return body
}
