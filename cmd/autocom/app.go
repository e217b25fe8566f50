package main

import (
	"go.uber.org/zap"

	"autocom/internal/agent"
	"autocom/internal/analysis"
	"autocom/internal/bus"
	"autocom/internal/cluster"
	"autocom/internal/config"
	"autocom/internal/contextmatch"
	"autocom/internal/digest"
	"autocom/internal/draft"
	"autocom/internal/inference"
	"autocom/internal/learning"
	"autocom/internal/logging"
	"autocom/internal/notify"
	"autocom/internal/orchestrator"
	"autocom/internal/store"
	"autocom/internal/types"
)

// app holds the wired pipeline shared by the daemon and the one-shot
// commands.
type app struct {
	cfg      *config.Config
	bus      *bus.Bus
	store    *store.Store
	learning *learning.Engine
	digester *digest.Generator
	orc      *orchestrator.Orchestrator
	agents   *agent.Registry
}

// newApp wires every component from the configuration.
func newApp(cfg *config.Config) (*app, error) {
	st, err := store.New(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, err
	}

	policy, err := bus.ParsePolicy(cfg.Bus.PublishPolicy)
	if err != nil {
		st.Close()
		return nil, err
	}
	b := bus.New(cfg.Bus.QueueSize, policy)

	learn := learning.NewEngine(cfg.Learning, st)
	if err := learn.Load(); err != nil {
		logger.Warn("could not restore sender weights", zap.Error(err))
	}

	analyzer := analysis.NewAnalyzer()
	heuristic := inference.NewHeuristic(analyzer, analysis.NewExtractor())

	var client types.InferenceClient
	if cfg.Inference.Enabled {
		client = inference.NewHTTPClient(cfg.Inference, cfg.GetInferenceTimeout())
	}
	engine := inference.NewEngine(client, heuristic, cfg.GetInferenceTimeout(), cfg.Inference.ConfidenceThreshold)

	scheduler, err := notify.NewScheduler(cfg.Notifications, cfg.GetBatchWindow(), cfg.GetRateLimitWindow())
	if err != nil {
		b.Close()
		st.Close()
		return nil, err
	}

	registry := agent.NewRegistry()
	// Local development agents. Real connectors register here once
	// their credentials layer lands.
	if err := registry.Register(agent.NewInMemory(types.SourceGmail)); err != nil {
		b.Close()
		st.Close()
		return nil, err
	}
	if err := registry.Register(agent.NewInMemory(types.SourceSlack)); err != nil {
		b.Close()
		st.Close()
		return nil, err
	}

	digester := digest.NewGenerator(cfg.Digest.MaxSentences, cfg.Digest.RedundancyThreshold)

	orc := orchestrator.New(orchestrator.Deps{
		Bus:       b,
		Repo:      st,
		Inference: engine,
		Scorer:    analysis.NewScorer(cfg.Scoring, analyzer),
		Matcher:   contextmatch.NewMatcher(cfg.Context.MatchLimit, cfg.Context.DecayLambda),
		Learning:  learn,
		Scheduler: scheduler,
		Clusterer: cluster.NewClusterer(cfg.Clustering.Threshold),
		Digester:  digester,
		Ranker:    draft.NewRanker(),
		Agents:    registry,
	})
	if err := orc.Attach(); err != nil {
		b.Close()
		st.Close()
		return nil, err
	}

	logging.Boot("pipeline wired: %d agents, inference enabled=%v",
		len(registry.All()), cfg.Inference.Enabled)

	return &app{
		cfg:      cfg,
		bus:      b,
		store:    st,
		learning: learn,
		digester: digester,
		orc:      orc,
		agents:   registry,
	}, nil
}

// close shuts the pipeline down in dependency order: stop accepting
// events, then release storage.
func (a *app) close() {
	a.bus.Close()
	if err := a.store.Close(); err != nil {
		logger.Warn("store close", zap.Error(err))
	}
	logging.CloseAll()
}
