package types

import (
	"context"
	"time"
)

// InferenceClient is the narrow interface to the external inference
// engine. Every method has a deterministic heuristic fallback invoked
// by the caller on error, timeout, or low confidence.
type InferenceClient interface {
	ClassifyIntent(ctx context.Context, text string, history []ContextEntry) (Intent, error)
	AnalyzeMessage(ctx context.Context, msg Message) (*Analysis, error)
	GenerateDraft(ctx context.Context, msg Message, history []ContextEntry) (string, error)
}

// Repository is the persistence boundary for the core's records.
// Implementations must be safe for concurrent use.
type Repository interface {
	PutMessage(msg Message) error
	GetMessage(id string) (*Message, error)
	QueryMessages(since time.Time) ([]Message, error)
	MarkMessageRead(id string) error

	PutTask(task Task) error
	GetTask(id string) (*Task, error)
	QueryTasks(status TaskStatus) ([]Task, error)

	PutSenderWeight(w SenderWeight) error
	GetSenderWeight(sender string) (*SenderWeight, error)
	AllSenderWeights() ([]SenderWeight, error)

	AppendContextEntry(entry ContextEntry) error
	RecentContext(limit int) ([]ContextEntry, error)

	PutNotification(n Notification) error
	QueryNotifications(since time.Time) ([]Notification, error)

	// PruneBefore removes records older than the cutoff across all
	// retention-managed tables.
	PruneBefore(cutoff time.Time) error

	Close() error
}
