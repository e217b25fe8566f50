package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"autocom/internal/bus"
	"autocom/internal/config"
	"autocom/internal/digest"
	"autocom/internal/types"
)

// runCmd starts the long-running daemon
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the autocom daemon",
	Long: `Starts the full pipeline: source agents feed messages onto the bus,
the orchestrator analyzes and scores them, and scheduled jobs handle
sender-weight decay, the morning digest, and record pruning. The config
file is watched and reloaded on change.`,
	RunE: runDaemon,
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Console sinks for spoken responses and delivered notifications.
	if _, err := a.bus.Subscribe(bus.TopicVoiceSpeak, func(_ context.Context, evt bus.Event) error {
		if text, ok := evt.Payload.(string); ok {
			fmt.Println(text)
		}
		return nil
	}); err != nil {
		return err
	}
	if _, err := a.bus.Subscribe(bus.TopicNotificationShow, func(_ context.Context, evt bus.Event) error {
		n, ok := evt.Payload.(types.Notification)
		if !ok {
			return nil
		}
		fmt.Printf("[%s] %s\n        %s\n", n.Priority, n.Title, n.Body)
		return nil
	}); err != nil {
		return err
	}
	if _, err := a.bus.Subscribe(bus.TopicError, func(_ context.Context, evt bus.Event) error {
		if msg, ok := evt.Payload.(string); ok {
			logger.Error("pipeline error", zap.String("detail", msg))
		}
		return nil
	}); err != nil {
		return err
	}

	jobs, err := startJobs(ctx, a)
	if err != nil {
		return err
	}
	defer func() { <-jobs.Stop().Done() }()

	watcher, err := config.NewWatcher(configPath, func(next *config.Config) {
		// Tunables are consumed at component construction; a changed
		// file takes full effect on restart. Surface the reload so the
		// operator knows it was seen.
		logger.Info("config file changed",
			zap.String("path", configPath),
			zap.String("version", next.Version))
	})
	if err != nil {
		return err
	}
	if err := watcher.Start(ctx); err != nil {
		return err
	}
	defer watcher.Stop()

	logger.Info("autocom daemon started",
		zap.String("db", cfg.Storage.DatabasePath),
		zap.Bool("inference", cfg.Inference.Enabled))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("shutting down")
	return nil
}

// startJobs schedules the periodic maintenance work.
func startJobs(ctx context.Context, a *app) (*cron.Cron, error) {
	c := cron.New()

	if _, err := c.AddFunc(a.cfg.Jobs.DecaySchedule, func() {
		a.learning.ApplyTimeDecay(time.Now())
	}); err != nil {
		return nil, fmt.Errorf("decay schedule: %w", err)
	}

	if _, err := c.AddFunc(a.cfg.Jobs.DigestSchedule, func() {
		now := time.Now()
		msgs, err := a.store.QueryMessages(now.Add(-24 * time.Hour))
		if err != nil {
			logger.Warn("digest query failed", zap.Error(err))
			return
		}
		if len(msgs) == 0 {
			return
		}
		d := a.digester.Generate(msgs, now)
		if err := a.bus.Publish(ctx, bus.TopicVoiceSpeak, digest.Format(d)); err != nil {
			logger.Warn("digest publish failed", zap.Error(err))
		}
	}); err != nil {
		return nil, fmt.Errorf("digest schedule: %w", err)
	}

	if _, err := c.AddFunc(a.cfg.Jobs.PruneSchedule, func() {
		cutoff := time.Now().Add(-a.cfg.GetRetention())
		if err := a.store.PruneBefore(cutoff); err != nil {
			logger.Warn("prune failed", zap.Error(err))
		}
	}); err != nil {
		return nil, fmt.Errorf("prune schedule: %w", err)
	}

	// Deliver deferred notifications when quiet hours end each day.
	_, quietEnd, err := a.cfg.QuietHours()
	if err != nil {
		return nil, err
	}
	flushSpec := fmt.Sprintf("%d %d * * *", quietEnd.Minute, quietEnd.Hour)
	if _, err := c.AddFunc(flushSpec, func() {
		if err := a.orc.FlushQueuedNotifications(ctx, time.Now()); err != nil {
			logger.Warn("notification flush failed", zap.Error(err))
		}
	}); err != nil {
		return nil, fmt.Errorf("flush schedule: %w", err)
	}

	c.Start()
	return c, nil
}
