package orchestrator

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autocom/internal/agent"
	"autocom/internal/analysis"
	"autocom/internal/bus"
	"autocom/internal/cluster"
	"autocom/internal/config"
	"autocom/internal/contextmatch"
	"autocom/internal/digest"
	"autocom/internal/draft"
	"autocom/internal/learning"
	"autocom/internal/notify"
	"autocom/internal/store"
	"autocom/internal/types"
)

var noon = time.Date(2026, time.March, 4, 12, 0, 0, 0, time.UTC)

// stubInference scripts the inference layer. The first call blocks on
// blockFirst when set, modeling a slow engine call.
type stubInference struct {
	mu         sync.Mutex
	intent     types.Intent
	analysis   *types.Analysis
	draftText  string
	calls      int
	blockFirst chan struct{} // closed by the test once the call is in flight
}

func (s *stubInference) ClassifyIntent(ctx context.Context, text string, _ []types.ContextEntry) (types.Intent, error) {
	s.mu.Lock()
	s.calls++
	first := s.calls == 1
	blocker := s.blockFirst
	intent := s.intent
	s.mu.Unlock()

	if first && blocker != nil {
		close(blocker)
		<-ctx.Done()
		return types.Intent{}, ctx.Err()
	}
	intent.RawInput = text
	return intent, nil
}

func (s *stubInference) AnalyzeMessage(_ context.Context, msg types.Message) (*types.Analysis, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.analysis != nil {
		a := *s.analysis
		return &a, nil
	}
	return &types.Analysis{
		Summary:   msg.Subject,
		Sentiment: &types.SentimentResult{Score: 0, Urgency: 2, Tone: types.ToneNeutral},
	}, nil
}

func (s *stubInference) GenerateDraft(context.Context, types.Message, []types.ContextEntry) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.draftText, nil
}

// shownLog collects notification.show events.
type shownLog struct {
	mu    sync.Mutex
	items []types.Notification
}

func (l *shownLog) handler(_ context.Context, evt bus.Event) error {
	n := evt.Payload.(types.Notification)
	l.mu.Lock()
	l.items = append(l.items, n)
	l.mu.Unlock()
	return nil
}

func (l *shownLog) snapshot() []types.Notification {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]types.Notification, len(l.items))
	copy(out, l.items)
	return out
}

type env struct {
	orc   *Orchestrator
	store *store.Store
	bus   *bus.Bus
	learn *learning.Engine
	gmail *agent.InMemory
	shown *shownLog
}

func newEnv(t *testing.T, infer types.InferenceClient, notif config.NotificationsConfig) *env {
	t.Helper()
	cfg := config.DefaultConfig()

	s, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	b := bus.New(128, bus.PolicyBlock)
	t.Cleanup(b.Close)

	sched, err := notify.NewScheduler(notif, 2*time.Minute, 5*time.Minute)
	require.NoError(t, err)

	learn := learning.NewEngine(cfg.Learning, s)
	analyzer := analysis.NewAnalyzer()
	registry := agent.NewRegistry()
	gmail := agent.NewInMemory(types.SourceGmail)
	require.NoError(t, registry.Register(gmail))

	orc := New(Deps{
		Bus:       b,
		Repo:      s,
		Inference: infer,
		Scorer:    analysis.NewScorer(cfg.Scoring, analyzer),
		Matcher:   contextmatch.NewMatcher(cfg.Context.MatchLimit, cfg.Context.DecayLambda),
		Learning:  learn,
		Scheduler: sched,
		Clusterer: cluster.NewClusterer(cfg.Clustering.Threshold),
		Digester:  digest.NewGenerator(cfg.Digest.MaxSentences, cfg.Digest.RedundancyThreshold),
		Ranker:    draft.NewRanker(),
		Agents:    registry,
	})
	orc.now = func() time.Time { return noon }
	require.NoError(t, orc.Attach())

	shown := &shownLog{}
	_, err = b.Subscribe(bus.TopicNotificationShow, shown.handler)
	require.NoError(t, err)

	return &env{orc: orc, store: s, bus: b, learn: learn, gmail: gmail, shown: shown}
}

func daytime() config.NotificationsConfig {
	return config.NotificationsConfig{
		QuietHoursStart: "00:00",
		QuietHoursEnd:   "00:00", // empty window, never quiet
		BatchWindow:     "120s",
		RateLimitCount:  100,
		RateLimitWindow: "5m",
		UrgentOverride:  true,
	}
}

func nighttime() config.NotificationsConfig {
	c := daytime()
	// Covers the fixed test clock at 12:00.
	c.QuietHoursStart = "11:00"
	c.QuietHoursEnd = "13:00"
	return c
}

func inboundMessage(id string) types.Message {
	return types.Message{
		ID:        id,
		Source:    types.SourceGmail,
		Sender:    "boss@example.com",
		Subject:   "deploy window",
		Body:      "Please confirm the deploy window for tonight.",
		Timestamp: noon.Add(-10 * time.Minute),
	}
}

func TestHandleMessageStoresScoresAndNotifies(t *testing.T) {
	infer := &stubInference{analysis: &types.Analysis{
		Summary:   "confirm the deploy window",
		Sentiment: &types.SentimentResult{Score: -0.1, Urgency: 9, Tone: types.ToneUrgent},
		Tasks: []types.Task{{
			ID: "t1", Title: "confirm deploy window", Priority: 70,
			SourceMessageID: "m1", Status: types.TaskPending, CreatedAt: noon,
		}},
	}}
	e := newEnv(t, infer, daytime())

	require.NoError(t, e.orc.HandleMessage(context.Background(), inboundMessage("m1")))

	got, err := e.store.GetMessage("m1")
	require.NoError(t, err)
	assert.Greater(t, got.Priority, 0.0)
	require.NotNil(t, got.Sentiment)
	assert.Equal(t, types.ToneUrgent, got.Sentiment.Tone)

	tasks, err := e.store.QueryTasks(types.TaskPending)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "confirm deploy window", tasks[0].Title)

	require.Eventually(t, func() bool { return len(e.shown.snapshot()) == 1 },
		2*time.Second, 10*time.Millisecond)
	n := e.shown.snapshot()[0]
	assert.Equal(t, types.PriorityUrgent, n.Priority)
	assert.Equal(t, "boss@example.com", n.Sender)
	assert.True(t, n.Delivered)

	assert.Len(t, e.orc.Clusters(), 1)
}

func TestHandleMessageInvalidSkipped(t *testing.T) {
	e := newEnv(t, &stubInference{}, daytime())

	err := e.orc.HandleMessage(context.Background(), types.Message{ID: "m1"})
	assert.ErrorIs(t, err, types.ErrInvalidInput)

	msgs, err := e.store.QueryMessages(time.Time{})
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestHandleMessageIgnoredSenderSuppressed(t *testing.T) {
	e := newEnv(t, &stubInference{}, daytime())

	// Four ignores demote the sender.
	for i := 0; i < 4; i++ {
		require.NoError(t, e.learn.TrackInteraction("boss@example.com", learning.ActionIgnore, 0.1, noon))
	}

	require.NoError(t, e.orc.HandleMessage(context.Background(), inboundMessage("m1")))

	// The message is still stored and analyzed.
	_, err := e.store.GetMessage("m1")
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, e.shown.snapshot())
}

func TestQuietHoursQueueAndFlush(t *testing.T) {
	e := newEnv(t, &stubInference{}, nighttime())

	require.NoError(t, e.orc.HandleMessage(context.Background(), inboundMessage("m1")))
	require.NoError(t, e.orc.HandleMessage(context.Background(), inboundMessage("m2")))

	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, e.shown.snapshot(), "normal notifications deferred during quiet hours")

	// Notifications persisted as undelivered.
	saved, err := e.store.QueryNotifications(time.Time{})
	require.NoError(t, err)
	require.Len(t, saved, 2)
	assert.False(t, saved[0].Delivered)

	require.NoError(t, e.orc.FlushQueuedNotifications(context.Background(), noon.Add(2*time.Hour)))

	require.Eventually(t, func() bool { return len(e.shown.snapshot()) == 3 },
		2*time.Second, 10*time.Millisecond)
	summary := e.shown.snapshot()[0]
	assert.Contains(t, summary.Title, "2 notifications while you were away")
	assert.Contains(t, summary.Body, "gmail")

	// A second flush with an empty queue publishes nothing.
	require.NoError(t, e.orc.FlushQueuedNotifications(context.Background(), noon.Add(3*time.Hour)))
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, e.shown.snapshot(), 3)
}

func TestRateLimitedNotificationNotDeferred(t *testing.T) {
	notif := daytime()
	notif.RateLimitCount = 1
	e := newEnv(t, &stubInference{}, notif)

	require.NoError(t, e.orc.HandleMessage(context.Background(), inboundMessage("m1")))
	require.Eventually(t, func() bool { return len(e.shown.snapshot()) == 1 },
		2*time.Second, 10*time.Millisecond)

	// The second message trips the rate limit outside quiet hours.
	require.NoError(t, e.orc.HandleMessage(context.Background(), inboundMessage("m2")))
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, e.shown.snapshot(), 1)

	// It stays persisted undelivered and the quiet-hours flush does
	// not replay it.
	saved, err := e.store.QueryNotifications(time.Time{})
	require.NoError(t, err)
	require.Len(t, saved, 2)

	require.NoError(t, e.orc.FlushQueuedNotifications(context.Background(), noon.Add(2*time.Hour)))
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, e.shown.snapshot(), 1)
}

func TestUrgentOverridesQuietHours(t *testing.T) {
	infer := &stubInference{analysis: &types.Analysis{
		Summary:   "production is down",
		Sentiment: &types.SentimentResult{Score: -0.5, Urgency: 10, Tone: types.ToneUrgent},
	}}
	e := newEnv(t, infer, nighttime())

	require.NoError(t, e.orc.HandleMessage(context.Background(), inboundMessage("m1")))

	require.Eventually(t, func() bool { return len(e.shown.snapshot()) == 1 },
		2*time.Second, 10*time.Millisecond)
	assert.Equal(t, types.PriorityUrgent, e.shown.snapshot()[0].Priority)
}

func TestHandleCommandUnknownIntent(t *testing.T) {
	infer := &stubInference{intent: types.Intent{Action: "unknown", Target: "all", Confidence: 0.3}}
	e := newEnv(t, infer, daytime())

	resp, err := e.orc.HandleCommand(context.Background(), "s1", "mumble mumble")
	require.NoError(t, err)
	assert.Contains(t, resp, "didn't understand")
	assert.Equal(t, StateIdle, e.orc.SessionState("s1"))

	history, err := e.store.RecentContext(5)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "mumble mumble", history[0].Command)
	assert.Equal(t, resp, history[0].Response)
}

func TestHandleCommandEmptyRejected(t *testing.T) {
	e := newEnv(t, &stubInference{}, daytime())
	_, err := e.orc.HandleCommand(context.Background(), "s1", "   ")
	assert.ErrorIs(t, err, types.ErrInvalidInput)
}

func TestHandleCommandFetchRunsPipeline(t *testing.T) {
	infer := &stubInference{intent: types.Intent{Action: "fetch", Target: "gmail", Confidence: 0.9}}
	e := newEnv(t, infer, daytime())

	e.gmail.Push(inboundMessage("m1"))
	e.gmail.Push(inboundMessage("m2"))

	resp, err := e.orc.HandleCommand(context.Background(), "s1", "check my email")
	require.NoError(t, err)
	assert.Contains(t, resp, "Fetched 2 new message(s)")

	// The fetched messages flow through the bus into the store.
	require.Eventually(t, func() bool {
		msgs, err := e.store.QueryMessages(time.Time{})
		return err == nil && len(msgs) == 2
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHandleCommandFetchNothingNew(t *testing.T) {
	infer := &stubInference{intent: types.Intent{Action: "fetch", Target: "all", Confidence: 0.9}}
	e := newEnv(t, infer, daytime())

	resp, err := e.orc.HandleCommand(context.Background(), "s1", "check messages")
	require.NoError(t, err)
	assert.Equal(t, "No new messages.", resp)
}

func TestHandleCommandSummarize(t *testing.T) {
	infer := &stubInference{intent: types.Intent{Action: "summarize", Target: "all", Confidence: 0.9}}
	e := newEnv(t, infer, daytime())

	msg := inboundMessage("m1")
	msg.Sentiment = &types.SentimentResult{Urgency: 9, Tone: types.ToneUrgent}
	require.NoError(t, e.store.PutMessage(msg))

	resp, err := e.orc.HandleCommand(context.Background(), "s1", "what did I miss")
	require.NoError(t, err)
	assert.Contains(t, resp, "Digest")
	assert.Contains(t, resp, "boss@example.com")
}

func TestHandleCommandSummarizeEmpty(t *testing.T) {
	infer := &stubInference{intent: types.Intent{Action: "summarize", Target: "all", Confidence: 0.9}}
	e := newEnv(t, infer, daytime())

	resp, err := e.orc.HandleCommand(context.Background(), "s1", "what did I miss")
	require.NoError(t, err)
	assert.Equal(t, "Nothing to summarize from the last day.", resp)
}

func TestHandleCommandDraftReply(t *testing.T) {
	infer := &stubInference{
		intent:    types.Intent{Action: "draft_reply", Target: "gmail", Confidence: 0.9},
		draftText: "Confirmed, the deploy window works for me.",
	}
	e := newEnv(t, infer, daytime())
	require.NoError(t, e.store.PutMessage(inboundMessage("m1")))

	resp, err := e.orc.HandleCommand(context.Background(), "s1", "draft a reply")
	require.NoError(t, err)
	assert.Contains(t, resp, "Draft reply to boss@example.com")
	assert.Contains(t, resp, "Confirmed, the deploy window works for me.")
}

func TestHandleCommandCompleteTask(t *testing.T) {
	infer := &stubInference{intent: types.Intent{Action: "complete_task", Target: "tasks", Confidence: 0.9}}
	e := newEnv(t, infer, daytime())

	require.NoError(t, e.store.PutTask(types.Task{
		ID: "t1", Title: "confirm deploy window", SourceMessageID: "m1",
		Status: types.TaskPending, CreatedAt: noon.Add(-time.Hour),
	}))

	resp, err := e.orc.HandleCommand(context.Background(), "s1", "mark that done")
	require.NoError(t, err)
	assert.Contains(t, resp, "confirm deploy window")

	got, err := e.store.GetTask("t1")
	require.NoError(t, err)
	assert.Equal(t, types.TaskCompleted, got.Status)
	require.NotNil(t, got.CompletedAt)
}

func TestHandleCommandCompleteTaskNonePending(t *testing.T) {
	infer := &stubInference{intent: types.Intent{Action: "complete_task", Target: "tasks", Confidence: 0.9}}
	e := newEnv(t, infer, daytime())

	_, err := e.orc.HandleCommand(context.Background(), "s1", "mark that done")
	assert.ErrorIs(t, err, types.ErrInvalidInput)
}

func TestHandleCommandMarkRead(t *testing.T) {
	infer := &stubInference{intent: types.Intent{
		Action: "mark_read", Target: "gmail", Confidence: 0.9,
		Parameters: map[string]string{"message_id": "m1"},
	}}
	e := newEnv(t, infer, daytime())
	require.NoError(t, e.store.PutMessage(inboundMessage("m1")))

	resp, err := e.orc.HandleCommand(context.Background(), "s1", "mark it read")
	require.NoError(t, err)
	assert.Contains(t, resp, "boss@example.com")

	got, err := e.store.GetMessage("m1")
	require.NoError(t, err)
	assert.True(t, got.Read)
	assert.True(t, e.gmail.IsRead("m1"))
}

func TestHandleCommandArchiveTracksInteraction(t *testing.T) {
	infer := &stubInference{intent: types.Intent{
		Action: "archive", Target: "gmail", Confidence: 0.9,
		Parameters: map[string]string{"message_id": "m1"},
	}}
	e := newEnv(t, infer, daytime())
	require.NoError(t, e.store.PutMessage(inboundMessage("m1")))

	before := e.learn.Weight("boss@example.com")
	resp, err := e.orc.HandleCommand(context.Background(), "s1", "archive it")
	require.NoError(t, err)
	assert.Contains(t, resp, "Archived")
	assert.NotEqual(t, before, e.learn.Weight("boss@example.com"))
}

func TestHandleCommandAddPrioritySender(t *testing.T) {
	infer := &stubInference{intent: types.Intent{
		Action: "add_priority_sender", Target: "all", Confidence: 0.9,
		Parameters: map[string]string{"sender": "ceo@example.com"},
	}}
	e := newEnv(t, infer, daytime())

	resp, err := e.orc.HandleCommand(context.Background(), "s1", "always notify me about the ceo")
	require.NoError(t, err)
	assert.Contains(t, resp, "ceo@example.com")
	assert.True(t, e.learn.IsPrioritySender("ceo@example.com"))
}

func TestHandleCommandAddPrioritySenderMissingParam(t *testing.T) {
	infer := &stubInference{intent: types.Intent{Action: "add_priority_sender", Target: "all", Confidence: 0.9}}
	e := newEnv(t, infer, daytime())

	_, err := e.orc.HandleCommand(context.Background(), "s1", "always notify me")
	assert.ErrorIs(t, err, types.ErrInvalidInput)
}

func TestConflictingCommandCancelsPrevious(t *testing.T) {
	blocked := make(chan struct{})
	infer := &stubInference{
		intent:     types.Intent{Action: "unknown", Target: "all", Confidence: 0.3},
		blockFirst: blocked,
	}
	e := newEnv(t, infer, daytime())

	firstErr := make(chan error, 1)
	go func() {
		_, err := e.orc.HandleCommand(context.Background(), "s1", "summarize everything")
		firstErr <- err
	}()

	<-blocked // first command is now waiting on the engine

	resp, err := e.orc.HandleCommand(context.Background(), "s1", "never mind, check email")
	require.NoError(t, err)
	assert.NotEmpty(t, resp)

	select {
	case err := <-firstErr:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("first command was not cancelled")
	}
	assert.Equal(t, StateIdle, e.orc.SessionState("s1"))
}

func TestSessionsAreIndependent(t *testing.T) {
	infer := &stubInference{intent: types.Intent{Action: "unknown", Target: "all", Confidence: 0.3}}
	e := newEnv(t, infer, daytime())

	_, err := e.orc.HandleCommand(context.Background(), "s1", "hello")
	require.NoError(t, err)
	_, err = e.orc.HandleCommand(context.Background(), "s2", "hello there")
	require.NoError(t, err)

	assert.Equal(t, StateIdle, e.orc.SessionState("s1"))
	assert.Equal(t, StateIdle, e.orc.SessionState("s2"))
	assert.Equal(t, StateIdle, e.orc.SessionState("unseen"))
}

func TestClustersGroupRelatedMessages(t *testing.T) {
	e := newEnv(t, &stubInference{}, daytime())

	m1 := inboundMessage("m1")
	m2 := inboundMessage("m2")
	m2.Timestamp = m1.Timestamp.Add(5 * time.Minute)
	other := types.Message{
		ID: "m3", Source: types.SourceSlack, Sender: "pager@example.com",
		Subject: "disk usage alert", Body: "volume /data is at 91 percent capacity",
		Timestamp: noon,
	}

	require.NoError(t, e.orc.HandleMessage(context.Background(), m1))
	require.NoError(t, e.orc.HandleMessage(context.Background(), m2))
	require.NoError(t, e.orc.HandleMessage(context.Background(), other))

	clusters := e.orc.Clusters()
	require.Len(t, clusters, 2)
}
