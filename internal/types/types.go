// Package types defines the core data model shared by every component
// of the autocom analysis pipeline.
package types

import (
	"time"
)

// Source identifies the platform a message came from.
type Source string

const (
	SourceGmail   Source = "gmail"
	SourceSlack   Source = "slack"
	SourceUnknown Source = "unknown"
)

// Tone is the closed set of tone labels produced by the sentiment analyzer.
type Tone string

const (
	ToneUrgent   Tone = "urgent"
	ToneNegative Tone = "negative"
	TonePositive Tone = "positive"
	ToneNeutral  Tone = "neutral"
)

// TaskStatus tracks the lifecycle of an extracted task.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
	TaskCancelled  TaskStatus = "cancelled"
)

// Priority buckets notifications for delivery decisions.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Message is a normalized inbound message from a source agent.
// Immutable once stored except for Read and Priority updates.
type Message struct {
	ID        string           `json:"id"`
	Source    Source           `json:"source"`
	Sender    string           `json:"sender"`
	Subject   string           `json:"subject,omitempty"`
	Body      string           `json:"body"`
	Timestamp time.Time        `json:"timestamp"`
	Priority  float64          `json:"priority"` // 0-100, computed
	Sentiment *SentimentResult `json:"sentiment,omitempty"`
	Read      bool             `json:"read"`
}

// Validate checks message data integrity.
func (m *Message) Validate() error {
	if m.ID == "" || m.Sender == "" || m.Body == "" {
		return ErrInvalidInput
	}
	return nil
}

// SentimentResult is the output of the sentiment/tone analyzer.
type SentimentResult struct {
	Score    float64  `json:"score"`   // -1.0 .. 1.0
	Urgency  float64  `json:"urgency"` // 0 .. 10
	Tone     Tone     `json:"tone"`
	Patterns []string `json:"patterns,omitempty"` // detected pattern flags
}

// Task is an actionable item extracted from a message.
type Task struct {
	ID              string     `json:"id"`
	Title           string     `json:"title"`
	Description     string     `json:"description"`
	Priority        float64    `json:"priority"` // 0-100
	SourceMessageID string     `json:"source_message_id"`
	Deadline        *time.Time `json:"deadline,omitempty"`
	Status          TaskStatus `json:"status"`
	CreatedAt       time.Time  `json:"created_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
}

// Validate checks task data integrity.
func (t *Task) Validate() error {
	if t.ID == "" || t.Title == "" || t.SourceMessageID == "" {
		return ErrInvalidInput
	}
	if t.Priority < 0 || t.Priority > 100 {
		return ErrInvalidInput
	}
	return nil
}

// MarkCompleted transitions the task to completed at the given time.
func (t *Task) MarkCompleted(now time.Time) {
	t.Status = TaskCompleted
	t.CompletedAt = &now
}

// Intent is the structured interpretation of a user command.
// Transient: produced per command, logged with context, never stored alone.
type Intent struct {
	Action     string            `json:"action"`
	Target     string            `json:"target"`
	Parameters map[string]string `json:"parameters,omitempty"`
	Confidence float64           `json:"confidence"` // 0.0 .. 1.0
	RawInput   string            `json:"raw_input"`
}

// Validate checks intent integrity.
func (i *Intent) Validate() error {
	if i.Action == "" || i.Target == "" {
		return ErrInvalidInput
	}
	if i.Confidence < 0 || i.Confidence > 1 {
		return ErrInvalidInput
	}
	return nil
}

// Notification is a delivery candidate produced by the pipeline.
// Never mutated after the delivery decision.
type Notification struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	Priority  Priority  `json:"priority"`
	Source    Source    `json:"source"`
	Sender    string    `json:"sender,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Actions   []string  `json:"actions,omitempty"` // permitted quick actions
	Delivered bool      `json:"delivered"`
}

// SenderWeight is the learned behavioral weight for one sender.
type SenderWeight struct {
	Sender          string    `json:"sender"`
	Weight          float64   `json:"weight"` // always within [0,1]
	Interactions    int       `json:"interactions"`
	LastInteraction time.Time `json:"last_interaction"`
}

// ContextEntry is one turn of the append-only conversational log.
type ContextEntry struct {
	Command   string    `json:"command"`
	Response  string    `json:"response"`
	Timestamp time.Time `json:"timestamp"`
	Keywords  []string  `json:"keywords,omitempty"`
}

// Cluster is an ordered group of related messages. Clusters grow by
// appending matched messages and are never merged with each other.
type Cluster struct {
	ID             string    `json:"id"`
	MessageIDs     []string  `json:"message_ids"`
	Representative Message   `json:"representative"` // most recent member
	Summary        string    `json:"summary"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// DraftCandidate is a candidate reply with its ranking sub-scores.
type DraftCandidate struct {
	Text          string  `json:"text"`
	Tone          Tone    `json:"tone"`
	ToneScore     float64 `json:"tone_score"`
	LengthScore   float64 `json:"length_score"`
	CoverageScore float64 `json:"coverage_score"`
	Score         float64 `json:"score"` // composite
}

// DigestGroup summarizes one source within a digest.
type DigestGroup struct {
	Source Source   `json:"source"`
	Count  int      `json:"count"`
	Lines  []string `json:"lines"`
}

// Digest is a formatted summary of a set of messages.
type Digest struct {
	ID          string        `json:"id"`
	GeneratedAt time.Time     `json:"generated_at"`
	Sentences   []string      `json:"sentences"`
	Groups      []DigestGroup `json:"groups"`
	UrgentCount int           `json:"urgent_count"`
	TopSenders  []SenderCount `json:"top_senders,omitempty"`
}

// SenderCount pairs a sender with a message count.
type SenderCount struct {
	Sender string `json:"sender"`
	Count  int    `json:"count"`
}

// Analysis is the inference engine's view of a message. The heuristic
// fallback produces the same shape from the deterministic analyzers.
type Analysis struct {
	Summary          string           `json:"summary"`
	Sentiment        *SentimentResult `json:"sentiment"`
	Tasks            []Task           `json:"tasks,omitempty"`
	RequiresResponse bool             `json:"requires_response"`
}
