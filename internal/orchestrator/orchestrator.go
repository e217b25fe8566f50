// Package orchestrator sequences the pipeline: it owns conversational
// state, routes commands to handlers by classified intent, and drives
// inbound messages through analysis, scoring, task extraction,
// clustering, and notification policy. It holds no business heuristics
// of its own.
package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"autocom/internal/agent"
	"autocom/internal/analysis"
	"autocom/internal/bus"
	"autocom/internal/cluster"
	"autocom/internal/contextmatch"
	"autocom/internal/digest"
	"autocom/internal/draft"
	"autocom/internal/learning"
	"autocom/internal/logging"
	"autocom/internal/notify"
	"autocom/internal/types"
)

// State is the per-session conversational state.
type State int

const (
	StateIdle State = iota
	StateAwaitingIntent
	StateExecuting
)

func (s State) String() string {
	switch s {
	case StateAwaitingIntent:
		return "awaiting_intent"
	case StateExecuting:
		return "executing"
	default:
		return "idle"
	}
}

type session struct {
	cancel context.CancelFunc
	state  State
}

// Orchestrator wires the pipeline components together.
type Orchestrator struct {
	bus       *bus.Bus
	repo      types.Repository
	inference types.InferenceClient
	scorer    *analysis.Scorer
	matcher   *contextmatch.Matcher
	learning  *learning.Engine
	scheduler *notify.Scheduler
	clusterer *cluster.Clusterer
	digester  *digest.Generator
	ranker    *draft.Ranker
	agents    *agent.Registry

	now func() time.Time // test hook

	sessionMu sync.Mutex
	sessions  map[string]*session

	clusterMu sync.Mutex
	clusters  []types.Cluster
}

// Deps carries the orchestrator's collaborators.
type Deps struct {
	Bus       *bus.Bus
	Repo      types.Repository
	Inference types.InferenceClient
	Scorer    *analysis.Scorer
	Matcher   *contextmatch.Matcher
	Learning  *learning.Engine
	Scheduler *notify.Scheduler
	Clusterer *cluster.Clusterer
	Digester  *digest.Generator
	Ranker    *draft.Ranker
	Agents    *agent.Registry
}

// New creates an orchestrator.
func New(d Deps) *Orchestrator {
	return &Orchestrator{
		bus:       d.Bus,
		repo:      d.Repo,
		inference: d.Inference,
		scorer:    d.Scorer,
		matcher:   d.Matcher,
		learning:  d.Learning,
		scheduler: d.Scheduler,
		clusterer: d.Clusterer,
		digester:  d.Digester,
		ranker:    d.Ranker,
		agents:    d.Agents,
		now:       time.Now,
		sessions:  make(map[string]*session),
	}
}

// Attach subscribes the orchestrator's handlers on the bus.
func (o *Orchestrator) Attach() error {
	_, err := o.bus.Subscribe(bus.TopicMessageNew, func(ctx context.Context, evt bus.Event) error {
		msg, ok := evt.Payload.(types.Message)
		if !ok {
			return fmt.Errorf("unexpected payload on %s: %w", evt.Topic, types.ErrInvalidInput)
		}
		return o.HandleMessage(ctx, msg)
	})
	return err
}

// SessionState returns the conversational state of a session.
func (o *Orchestrator) SessionState(sessionID string) State {
	o.sessionMu.Lock()
	defer o.sessionMu.Unlock()
	if s, ok := o.sessions[sessionID]; ok {
		return s.state
	}
	return StateIdle
}

// beginSession cancels any command still running for the session and
// installs a fresh cancellable context for the new one.
func (o *Orchestrator) beginSession(ctx context.Context, sessionID string) (context.Context, func()) {
	o.sessionMu.Lock()
	defer o.sessionMu.Unlock()

	if prev, ok := o.sessions[sessionID]; ok && prev.cancel != nil {
		logging.Orchestrator("session %s: cancelling in-flight command", sessionID)
		prev.cancel()
	}

	cmdCtx, cancel := context.WithCancel(ctx)
	s := &session{cancel: cancel, state: StateAwaitingIntent}
	o.sessions[sessionID] = s

	done := func() {
		o.sessionMu.Lock()
		if o.sessions[sessionID] == s {
			s.state = StateIdle
			s.cancel = nil
		}
		o.sessionMu.Unlock()
		cancel()
	}
	return cmdCtx, done
}

func (o *Orchestrator) setState(sessionID string, st State) {
	o.sessionMu.Lock()
	if s, ok := o.sessions[sessionID]; ok {
		s.state = st
	}
	o.sessionMu.Unlock()
}

// HandleCommand runs one conversational turn: recall relevant context,
// classify the intent (heuristic fallback inside the inference layer),
// execute the matching handler, and record the turn. A new command on
// the same session cancels the previous one between steps, never
// mid-mutation.
func (o *Orchestrator) HandleCommand(ctx context.Context, sessionID, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		logging.Orchestrator("session %s: empty command skipped", sessionID)
		return "", types.ErrInvalidInput
	}

	cmdCtx, done := o.beginSession(ctx, sessionID)
	defer done()

	if err := o.bus.Publish(cmdCtx, bus.TopicCommandReceived, text); err != nil {
		logging.Orchestrator("session %s: publish command.received: %v", sessionID, err)
	}

	history, err := o.repo.RecentContext(50)
	if err != nil {
		logging.Get(logging.CategoryOrchestrator).Error("session %s: recent context: %v", sessionID, err)
		history = nil
	}
	relevant := o.matcher.FindContext(text, history, o.now())

	intent, err := o.inference.ClassifyIntent(cmdCtx, text, relevant)
	if err != nil {
		return "", err
	}
	if err := cmdCtx.Err(); err != nil {
		return "", err
	}
	logging.Orchestrator("session %s: intent %s/%s conf=%.2f",
		sessionID, intent.Action, intent.Target, intent.Confidence)

	o.setState(sessionID, StateExecuting)
	response, err := o.execute(cmdCtx, intent)
	if err != nil {
		o.publishError(cmdCtx, err)
		return "", err
	}
	if err := cmdCtx.Err(); err != nil {
		return "", err
	}

	entry := types.ContextEntry{
		Command:   text,
		Response:  response,
		Timestamp: o.now(),
		Keywords:  keywordList(text),
	}
	if err := o.repo.AppendContextEntry(entry); err != nil {
		logging.Get(logging.CategoryOrchestrator).Error("session %s: append context: %v", sessionID, err)
	}

	if err := o.bus.Publish(cmdCtx, bus.TopicVoiceSpeak, response); err != nil {
		logging.Orchestrator("session %s: publish voice.speak: %v", sessionID, err)
	}
	return response, nil
}

// execute dispatches to the handler matching the intent action.
func (o *Orchestrator) execute(ctx context.Context, intent types.Intent) (string, error) {
	switch intent.Action {
	case "fetch":
		return o.fetchMessages(ctx, intent)
	case "summarize":
		return o.summarize(ctx)
	case "draft_reply":
		return o.draftReply(ctx, intent)
	case "complete_task":
		return o.completeTask(ctx, intent)
	case "mark_read":
		return o.markRead(ctx, intent)
	case "archive":
		return o.archive(ctx, intent)
	case "add_priority_sender":
		return o.addPrioritySender(intent)
	default:
		return "Sorry, I didn't understand that. Try asking me to check messages, summarize, or draft a reply.", nil
	}
}

func (o *Orchestrator) fetchMessages(ctx context.Context, intent types.Intent) (string, error) {
	agents, err := o.targetAgents(intent.Target)
	if err != nil {
		return "", err
	}

	since := o.now().Add(-24 * time.Hour)
	total := 0
	for _, a := range agents {
		msgs, err := a.Fetch(ctx, since)
		if err != nil {
			logging.Get(logging.CategoryAgent).Error("fetch from %s: %v", a.Name(), err)
			continue
		}
		for _, msg := range msgs {
			if err := o.bus.Publish(ctx, bus.TopicMessageNew, msg); err != nil {
				return "", err
			}
		}
		total += len(msgs)
	}
	if total == 0 {
		return "No new messages.", nil
	}
	return fmt.Sprintf("Fetched %d new message(s). I'll flag anything that needs you.", total), nil
}

func (o *Orchestrator) summarize(ctx context.Context) (string, error) {
	since := o.now().Add(-24 * time.Hour)
	msgs, err := o.repo.QueryMessages(since)
	if err != nil {
		return "", err
	}
	if len(msgs) == 0 {
		return "Nothing to summarize from the last day.", nil
	}
	d := o.digester.Generate(msgs, o.now())
	return digest.Format(d), nil
}

// draftReply generates an engine draft plus a deterministic variant,
// ranks them against the original, and returns the best.
func (o *Orchestrator) draftReply(ctx context.Context, intent types.Intent) (string, error) {
	msg, err := o.replyTarget(intent)
	if err != nil {
		return "", err
	}

	history, err := o.repo.RecentContext(20)
	if err != nil {
		history = nil
	}

	var candidates []types.DraftCandidate
	text, err := o.inference.GenerateDraft(ctx, *msg, history)
	if err == nil && text != "" {
		candidates = append(candidates, types.DraftCandidate{Text: text, Tone: draftTone(msg)})
	}
	candidates = append(candidates, types.DraftCandidate{
		Text: fmt.Sprintf("Thanks for your message about %q. I'll get back to you shortly.", headline(msg)),
		Tone: types.ToneNeutral,
	})

	ranked := o.ranker.Rank(candidates, *msg)
	if len(ranked) == 0 {
		return "", types.ErrAnalysisUnavailable
	}
	return fmt.Sprintf("Draft reply to %s:\n%s", msg.Sender, ranked[0].Text), nil
}

func (o *Orchestrator) completeTask(ctx context.Context, intent types.Intent) (string, error) {
	task, err := o.taskTarget(intent)
	if err != nil {
		return "", err
	}

	task.MarkCompleted(o.now())
	if err := o.repo.PutTask(*task); err != nil {
		return "", err
	}
	if err := o.bus.Publish(ctx, bus.TopicTaskCompleted, *task); err != nil {
		logging.Orchestrator("publish task.completed: %v", err)
	}
	return fmt.Sprintf("Done. Marked %q completed.", task.Title), nil
}

func (o *Orchestrator) markRead(ctx context.Context, intent types.Intent) (string, error) {
	msg, err := o.replyTarget(intent)
	if err != nil {
		return "", err
	}
	if err := o.repo.MarkMessageRead(msg.ID); err != nil {
		return "", err
	}
	if a, err := o.agents.Get(msg.Source); err == nil {
		if err := a.MarkRead(ctx, msg.ID); err != nil {
			logging.Get(logging.CategoryAgent).Error("mark read at %s: %v", msg.Source, err)
		}
	}
	return fmt.Sprintf("Marked the message from %s as read.", msg.Sender), nil
}

func (o *Orchestrator) archive(ctx context.Context, intent types.Intent) (string, error) {
	msg, err := o.replyTarget(intent)
	if err != nil {
		return "", err
	}
	a, err := o.agents.Get(msg.Source)
	if err != nil {
		return "", err
	}
	if err := a.Archive(ctx, msg.ID); err != nil {
		return "", err
	}
	if err := o.learning.TrackInteraction(msg.Sender, learning.ActionArchive, 0.3, o.now()); err != nil {
		logging.Get(logging.CategoryLearning).Error("track archive: %v", err)
	}
	return fmt.Sprintf("Archived the message from %s.", msg.Sender), nil
}

func (o *Orchestrator) addPrioritySender(intent types.Intent) (string, error) {
	sender := intent.Parameters["sender"]
	if sender == "" {
		return "", fmt.Errorf("missing sender parameter: %w", types.ErrInvalidInput)
	}
	if err := o.learning.AddPrioritySender(sender, o.now()); err != nil {
		return "", err
	}
	return fmt.Sprintf("Got it, %s is now a priority sender.", sender), nil
}

// HandleMessage drives one inbound message through the pipeline:
// analysis (with fallback), priority scoring, persistence, task
// creation, clustering, and the notification decision.
func (o *Orchestrator) HandleMessage(ctx context.Context, msg types.Message) error {
	if err := msg.Validate(); err != nil {
		logging.Orchestrator("invalid message %s skipped", msg.ID)
		return err
	}

	now := o.now()

	// Analysis and the persisted sender weight are independent.
	var result *types.Analysis
	var stored *types.SenderWeight
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a, err := o.inference.AnalyzeMessage(gctx, msg)
		if err != nil {
			return err
		}
		result = a
		return nil
	})
	g.Go(func() error {
		w, err := o.repo.GetSenderWeight(msg.Sender)
		if err != nil {
			logging.Get(logging.CategoryStore).Error("sender weight for message %s: %v", msg.ID, err)
			return nil
		}
		stored = w
		return nil
	})
	if err := g.Wait(); err != nil {
		o.publishError(ctx, err)
		return err
	}

	// The engine answers for senders it has seen; the persisted weight
	// covers senders recorded before this process started.
	weight := o.learning.Weight(msg.Sender)
	if stored != nil && weight == learning.InitialWeight {
		weight = stored.Weight
	}

	msg.Sentiment = result.Sentiment
	msg.Priority = o.scorer.Score(msg, weight, now)

	if err := o.repo.PutMessage(msg); err != nil {
		o.publishError(ctx, err)
		return err
	}

	for _, task := range result.Tasks {
		if err := o.repo.PutTask(task); err != nil {
			logging.Get(logging.CategoryStore).Error("put task %s: %v", task.ID, err)
			continue
		}
		if err := o.bus.Publish(ctx, bus.TopicTaskCreated, task); err != nil {
			logging.Orchestrator("publish task.created: %v", err)
		}
	}

	o.clusterMu.Lock()
	o.clusters = o.clusterer.Assign(o.clusters, msg)
	clusterCount := len(o.clusters)
	o.clusterMu.Unlock()
	logging.Get(logging.CategoryCluster).Debug("message %s assigned, %d clusters", msg.ID, clusterCount)

	if err := o.bus.Publish(ctx, bus.TopicMessageAnalyzed, msg); err != nil {
		logging.Orchestrator("publish message.analyzed: %v", err)
	}

	return o.decideNotification(ctx, msg, result, now)
}

// decideNotification applies the delivery policy for one analyzed
// message.
func (o *Orchestrator) decideNotification(ctx context.Context, msg types.Message, result *types.Analysis, now time.Time) error {
	if o.learning.IsIgnoredSender(msg.Sender) {
		logging.Notify("suppressed notification from ignored sender")
		return nil
	}

	n := types.Notification{
		ID:        uuid.NewString(),
		Title:     fmt.Sprintf("New %s message from %s", msg.Source, msg.Sender),
		Body:      result.Summary,
		Priority:  analysis.PriorityLabel(result.Sentiment.Urgency),
		Source:    msg.Source,
		Sender:    msg.Sender,
		Timestamp: now,
		Actions:   []string{"reply", "mark_read", "archive"},
	}

	if o.scheduler.ShouldShow(n, now) {
		n.Delivered = true
		o.scheduler.RecordDelivery(n, now)
		if err := o.repo.PutNotification(n); err != nil {
			return err
		}
		return o.bus.Publish(ctx, bus.TopicNotificationShow, n)
	}

	if err := o.repo.PutNotification(n); err != nil {
		return err
	}
	// Only quiet-hours suppressions are deferred to the end-of-window
	// flush; a rate-limited or duplicate notification stays persisted
	// but is not replayed hours later.
	if o.scheduler.IsQuietHours(now) {
		o.scheduler.QueueForLater(n)
	}
	return nil
}

// FlushQueuedNotifications delivers notifications deferred during
// quiet hours, preceded by a summary. Run after the quiet window ends.
func (o *Orchestrator) FlushQueuedNotifications(ctx context.Context, now time.Time) error {
	summary, queued := o.scheduler.FlushQueued(now)
	if summary == nil {
		return nil
	}
	if err := o.bus.Publish(ctx, bus.TopicNotificationShow, *summary); err != nil {
		return err
	}
	for _, n := range queued {
		n.Delivered = true
		o.scheduler.RecordDelivery(n, now)
		if err := o.bus.Publish(ctx, bus.TopicNotificationShow, n); err != nil {
			return err
		}
	}
	return nil
}

// Clusters returns a copy of the current cluster set.
func (o *Orchestrator) Clusters() []types.Cluster {
	o.clusterMu.Lock()
	defer o.clusterMu.Unlock()
	out := make([]types.Cluster, len(o.clusters))
	copy(out, o.clusters)
	return out
}

func (o *Orchestrator) publishError(ctx context.Context, err error) {
	if perr := o.bus.Publish(ctx, bus.TopicError, err.Error()); perr != nil {
		logging.Get(logging.CategoryOrchestrator).Error("publish error event: %v", perr)
	}
}

// targetAgents resolves an intent target to agents.
func (o *Orchestrator) targetAgents(target string) ([]agent.Agent, error) {
	if target == "" || target == "all" {
		agents := o.agents.All()
		if len(agents) == 0 {
			return nil, fmt.Errorf("no agents configured: %w", types.ErrInvalidInput)
		}
		return agents, nil
	}
	a, err := o.agents.Get(types.Source(target))
	if err != nil {
		return nil, err
	}
	return []agent.Agent{a}, nil
}

// replyTarget resolves the message an intent refers to: an explicit
// message_id parameter, else the most recent unread message.
func (o *Orchestrator) replyTarget(intent types.Intent) (*types.Message, error) {
	if id := intent.Parameters["message_id"]; id != "" {
		return o.repo.GetMessage(id)
	}

	msgs, err := o.repo.QueryMessages(o.now().Add(-7 * 24 * time.Hour))
	if err != nil {
		return nil, err
	}
	for i := len(msgs) - 1; i >= 0; i-- {
		if !msgs[i].Read {
			return &msgs[i], nil
		}
	}
	if len(msgs) > 0 {
		return &msgs[len(msgs)-1], nil
	}
	return nil, fmt.Errorf("no recent messages: %w", types.ErrInvalidInput)
}

// taskTarget resolves the task an intent refers to: an explicit
// task_id parameter, else the newest pending task.
func (o *Orchestrator) taskTarget(intent types.Intent) (*types.Task, error) {
	if id := intent.Parameters["task_id"]; id != "" {
		return o.repo.GetTask(id)
	}
	tasks, err := o.repo.QueryTasks(types.TaskPending)
	if err != nil {
		return nil, err
	}
	if len(tasks) == 0 {
		return nil, fmt.Errorf("no pending tasks: %w", types.ErrInvalidInput)
	}
	return &tasks[0], nil
}

func draftTone(msg *types.Message) types.Tone {
	if msg.Sentiment != nil && msg.Sentiment.Tone == types.ToneUrgent {
		return types.ToneUrgent
	}
	return types.ToneNeutral
}

func headline(msg *types.Message) string {
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

func keywordList(text string) []string {
	set := contextmatch.Keywords(text)
	out := make([]string, 0, len(set))
	for w := range set {
		out = append(out, w)
	}
	return out
}
