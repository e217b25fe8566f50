// Package agent defines the source-agent contract: each communication
// platform implements the same authenticate/fetch/send surface and
// feeds normalized messages into the pipeline.
package agent

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"autocom/internal/types"
)

// Agent is implemented once per message source.
type Agent interface {
	// Name returns the source tag this agent serves.
	Name() types.Source
	// Authenticate establishes or refreshes credentials.
	Authenticate(ctx context.Context) error
	// Fetch returns normalized messages newer than since.
	Fetch(ctx context.Context, since time.Time) ([]types.Message, error)
	// Send delivers a reply through the source.
	Send(ctx context.Context, to, subject, body string) error
	// MarkRead flags a message as read at the source.
	MarkRead(ctx context.Context, messageID string) error
	// Archive archives a message at the source.
	Archive(ctx context.Context, messageID string) error
}

// Registry holds the configured agents keyed by source.
type Registry struct {
	mu     sync.RWMutex
	agents map[types.Source]Agent
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{agents: make(map[types.Source]Agent)}
}

// Register adds an agent. Registering a source twice is an error.
func (r *Registry) Register(a Agent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.agents[a.Name()]; ok {
		return fmt.Errorf("agent for %s already registered", a.Name())
	}
	r.agents[a.Name()] = a
	return nil
}

// Get returns the agent for a source.
func (r *Registry) Get(source types.Source) (Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[source]
	if !ok {
		return nil, fmt.Errorf("no agent for source %s: %w", source, types.ErrInvalidInput)
	}
	return a, nil
}

// All returns the registered agents in stable source order.
func (r *Registry) All() []Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Agent, 0, len(r.agents))
	for _, a := range r.agents {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// InMemory is an Agent backed by a slice, used for local development
// and tests.
type InMemory struct {
	source types.Source

	mu       sync.Mutex
	inbox    []types.Message
	sent     []string
	read     map[string]bool
	archived map[string]bool
}

// NewInMemory creates an in-memory agent for the given source.
func NewInMemory(source types.Source) *InMemory {
	return &InMemory{
		source:   source,
		read:     make(map[string]bool),
		archived: make(map[string]bool),
	}
}

// Name implements Agent.
func (m *InMemory) Name() types.Source { return m.source }

// Authenticate implements Agent; always succeeds.
func (m *InMemory) Authenticate(context.Context) error { return nil }

// Push seeds an inbound message.
func (m *InMemory) Push(msg types.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg.Source = m.source
	m.inbox = append(m.inbox, msg)
}

// Fetch implements Agent.
func (m *InMemory) Fetch(_ context.Context, since time.Time) ([]types.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []types.Message
	for _, msg := range m.inbox {
		if msg.Timestamp.After(since) && !m.archived[msg.ID] {
			out = append(out, msg)
		}
	}
	return out, nil
}

// Send implements Agent.
func (m *InMemory) Send(_ context.Context, to, subject, body string) error {
	if to == "" || body == "" {
		return types.ErrInvalidInput
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, fmt.Sprintf("%s|%s|%s", to, subject, body))
	return nil
}

// MarkRead implements Agent.
func (m *InMemory) MarkRead(_ context.Context, messageID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.read[messageID] = true
	return nil
}

// Archive implements Agent.
func (m *InMemory) Archive(_ context.Context, messageID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.archived[messageID] = true
	return nil
}

// Sent returns the sent log.
func (m *InMemory) Sent() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.sent))
	copy(out, m.sent)
	return out
}

// IsRead reports whether a message was marked read.
func (m *InMemory) IsRead(messageID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.read[messageID]
}
