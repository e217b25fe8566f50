package types

import "errors"

// Error kinds surfaced by the analysis core. Nothing in the core is
// permitted to terminate the event loop; each of these degrades to a
// documented fallback or a logged no-op at the point of use.
var (
	// ErrAnalysisUnavailable signals the inference engine is down or
	// timed out; callers switch to the heuristic path.
	ErrAnalysisUnavailable = errors.New("analysis unavailable")

	// ErrInvalidInput marks a malformed message or command; the
	// operation is logged and skipped.
	ErrInvalidInput = errors.New("invalid input")

	// ErrStorageUnavailable is surfaced upward when a repository call
	// fails; retry with backoff belongs to the caller boundary outside
	// this core.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrBusFull is returned by Publish under the reject backpressure
	// policy when the ingress queue is at capacity.
	ErrBusFull = errors.New("event bus queue full")
)
