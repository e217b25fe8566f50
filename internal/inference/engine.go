package inference

import (
	"context"
	"time"

	"autocom/internal/logging"
	"autocom/internal/types"
)

// Engine fronts the external inference client with the heuristic
// fallback: engine errors, timeouts, and low-confidence intents all
// degrade to the deterministic path instead of failing the caller.
type Engine struct {
	client              types.InferenceClient // nil when inference is disabled
	fallback            *Heuristic
	timeout             time.Duration
	confidenceThreshold float64
}

// NewEngine composes a client (may be nil) with the heuristic fallback.
func NewEngine(client types.InferenceClient, fallback *Heuristic, timeout time.Duration, confidenceThreshold float64) *Engine {
	return &Engine{
		client:              client,
		fallback:            fallback,
		timeout:             timeout,
		confidenceThreshold: confidenceThreshold,
	}
}

// ClassifyIntent tries the engine first; an error or a confidence
// below the threshold hands the command to the heuristic guesser.
func (e *Engine) ClassifyIntent(ctx context.Context, text string, history []types.ContextEntry) (types.Intent, error) {
	if e.client != nil {
		tctx, cancel := context.WithTimeout(ctx, e.timeout)
		intent, err := e.client.ClassifyIntent(tctx, text, history)
		cancel()
		if err == nil && intent.Confidence >= e.confidenceThreshold {
			return intent, nil
		}
		if err != nil {
			logging.Inference("intent fallback: %v", err)
		} else {
			logging.Inference("intent fallback: confidence %.2f below %.2f",
				intent.Confidence, e.confidenceThreshold)
		}
	}
	return e.fallback.ClassifyIntent(ctx, text, history)
}

// AnalyzeMessage tries the engine first, degrading to the local
// analyzers on any failure.
func (e *Engine) AnalyzeMessage(ctx context.Context, msg types.Message) (*types.Analysis, error) {
	if e.client != nil {
		tctx, cancel := context.WithTimeout(ctx, e.timeout)
		a, err := e.client.AnalyzeMessage(tctx, msg)
		cancel()
		if err == nil && a != nil && a.Sentiment != nil {
			return a, nil
		}
		logging.Inference("analysis fallback for %s: %v", msg.ID, err)
	}
	return e.fallback.AnalyzeMessage(ctx, msg)
}

// GenerateDraft tries the engine first, degrading to a template draft.
func (e *Engine) GenerateDraft(ctx context.Context, msg types.Message, history []types.ContextEntry) (string, error) {
	if e.client != nil {
		tctx, cancel := context.WithTimeout(ctx, e.timeout)
		text, err := e.client.GenerateDraft(tctx, msg, history)
		cancel()
		if err == nil && text != "" {
			return text, nil
		}
		logging.Inference("draft fallback for %s: %v", msg.ID, err)
	}
	return e.fallback.GenerateDraft(ctx, msg, history)
}
