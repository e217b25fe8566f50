// Package notify decides whether, when, and how notifications reach
// the user: quiet hours, batching, rate limiting, and the single
// explicit urgent override.
package notify

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"autocom/internal/config"
	"autocom/internal/logging"
	"autocom/internal/types"
)

// Batch is a group of notifications delivered as one unit.
type Batch struct {
	Source        types.Source
	Sender        string
	Notifications []types.Notification
}

// Scheduler applies delivery policy to notification candidates.
type Scheduler struct {
	quietStart     config.ClockTime
	quietEnd       config.ClockTime
	batchWindow    time.Duration
	rateLimit      int
	rateWindow     time.Duration
	urgentOverride bool

	mu        sync.Mutex
	history   []time.Time // recent delivery times, for the rate limit
	queued    []types.Notification
	delivered map[string]bool
}

// NewScheduler creates a scheduler from configuration.
func NewScheduler(cfg config.NotificationsConfig, batchWindow, rateWindow time.Duration) (*Scheduler, error) {
	start, err := config.ParseClock(cfg.QuietHoursStart)
	if err != nil {
		return nil, err
	}
	end, err := config.ParseClock(cfg.QuietHoursEnd)
	if err != nil {
		return nil, err
	}
	return &Scheduler{
		quietStart:     start,
		quietEnd:       end,
		batchWindow:    batchWindow,
		rateLimit:      cfg.RateLimitCount,
		rateWindow:     rateWindow,
		urgentOverride: cfg.UrgentOverride,
		delivered:      make(map[string]bool),
	}, nil
}

// IsQuietHours reports whether now falls inside the quiet window. An
// overnight window (start > end) wraps past midnight: 22:00-08:00
// covers 23:00 and 07:59 but not 08:00.
func (s *Scheduler) IsQuietHours(now time.Time) bool {
	cur := now.Hour()*60 + now.Minute()
	start := s.quietStart.Minutes()
	end := s.quietEnd.Minutes()

	if start > end {
		return cur >= start || cur < end
	}
	return cur >= start && cur < end
}

// ShouldShow decides whether the candidate is delivered now. Urgent
// candidates bypass quiet hours and the rate limit when the override
// is enabled; that is the only rule they bypass. A notification ID
// already delivered is never shown again.
func (s *Scheduler) ShouldShow(candidate types.Notification, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.delivered[candidate.ID] {
		return false
	}

	if candidate.Priority == types.PriorityUrgent && s.urgentOverride {
		logging.Notify("urgent override for %s", candidate.ID)
		return true
	}

	if s.IsQuietHours(now) {
		logging.Notify("suppressed %s: quiet hours", candidate.ID)
		return false
	}

	if s.recentDeliveriesLocked(now) >= s.rateLimit {
		logging.Notify("suppressed %s: rate limit", candidate.ID)
		return false
	}
	return true
}

// RecordDelivery marks the notification delivered and counts it
// against the rolling rate limit. Delivery is at-most-once per ID.
func (s *Scheduler) RecordDelivery(n types.Notification, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.delivered[n.ID] {
		return
	}
	s.delivered[n.ID] = true
	s.history = append(s.history, now)
	s.pruneHistoryLocked(now)
}

func (s *Scheduler) recentDeliveriesLocked(now time.Time) int {
	s.pruneHistoryLocked(now)
	return len(s.history)
}

func (s *Scheduler) pruneHistoryLocked(now time.Time) {
	cutoff := now.Add(-s.rateWindow)
	kept := s.history[:0]
	for _, t := range s.history {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	s.history = kept
}

// BatchNotifications groups pending notifications that share a source
// and sender and arrived within the sliding window. An urgent
// notification is never batched; it forms its own singleton batch.
func (s *Scheduler) BatchNotifications(pending []types.Notification) []Batch {
	if len(pending) == 0 {
		return nil
	}

	sorted := make([]types.Notification, len(pending))
	copy(sorted, pending)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	var batches []Batch
	for _, n := range sorted {
		if n.Priority == types.PriorityUrgent {
			batches = append(batches, Batch{
				Source:        n.Source,
				Sender:        n.Sender,
				Notifications: []types.Notification{n},
			})
			continue
		}

		joined := false
		for i := range batches {
			b := &batches[i]
			if len(b.Notifications) == 1 && b.Notifications[0].Priority == types.PriorityUrgent {
				continue
			}
			if b.Source != n.Source || b.Sender != n.Sender {
				continue
			}
			last := b.Notifications[len(b.Notifications)-1]
			if n.Timestamp.Sub(last.Timestamp) <= s.batchWindow {
				b.Notifications = append(b.Notifications, n)
				joined = true
				break
			}
		}
		if !joined {
			batches = append(batches, Batch{
				Source:        n.Source,
				Sender:        n.Sender,
				Notifications: []types.Notification{n},
			})
		}
	}
	return batches
}

// QueueForLater holds a suppressed notification for delivery after
// quiet hours end.
func (s *Scheduler) QueueForLater(n types.Notification) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queued = append(s.queued, n)
	logging.Notify("queued %s for later delivery (%d queued)", n.ID, len(s.queued))
}

// FlushQueued drains the deferred queue, returning a summary
// notification followed by the queued items. Returns nil when nothing
// is queued.
func (s *Scheduler) FlushQueued(now time.Time) (*types.Notification, []types.Notification) {
	s.mu.Lock()
	queued := s.queued
	s.queued = nil
	s.mu.Unlock()

	if len(queued) == 0 {
		return nil, nil
	}

	sources := make(map[types.Source]bool)
	for _, n := range queued {
		sources[n.Source] = true
	}
	names := make([]string, 0, len(sources))
	for src := range sources {
		names = append(names, string(src))
	}
	sort.Strings(names)

	summary := &types.Notification{
		ID:        uuid.NewString(),
		Title:     fmt.Sprintf("%d notifications while you were away", len(queued)),
		Body:      "From: " + strings.Join(names, ", "),
		Priority:  types.PriorityNormal,
		Source:    types.SourceUnknown,
		Timestamp: now,
	}
	logging.Notify("flushing %d queued notifications", len(queued))
	return summary, queued
}

// QueuedCount returns the number of deferred notifications.
func (s *Scheduler) QueuedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queued)
}
