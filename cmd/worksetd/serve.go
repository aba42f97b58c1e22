package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/groblegark/workset/internal/action"
	"github.com/groblegark/workset/internal/alert"
	"github.com/groblegark/workset/internal/bridge"
	"github.com/groblegark/workset/internal/bus"
	"github.com/groblegark/workset/internal/config"
	"github.com/groblegark/workset/internal/consumers"
	"github.com/groblegark/workset/internal/distributor"
	"github.com/groblegark/workset/internal/model"
	"github.com/groblegark/workset/internal/notify"
	"github.com/groblegark/workset/internal/relay"
	"github.com/groblegark/workset/internal/sink"
	"github.com/groblegark/workset/internal/store"
	"github.com/groblegark/workset/internal/store/postgres"
	"github.com/groblegark/workset/internal/topic"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the event pipeline daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

		cfg, err := config.Load()
		if err != nil {
			return err
		}

		st, err := postgres.New(cfg.DatabaseURL)
		if err != nil {
			return err
		}

		var eventBus bus.Bus
		if cfg.NATSURL != "" {
			nb, err := bus.NewNATSBus(cfg.NATSURL)
			if err != nil {
				st.Close()
				return err
			}
			eventBus = nb
			logger.Info("bus enabled", "nats_url", cfg.NATSURL)
		} else {
			eventBus = &bus.NoopBus{}
			logger.Info("bus disabled (WORKSET_NATS_URL not set)")
		}

		var tracker action.Tracker
		var trackerClose func() error
		if cfg.RedisAddr != "" {
			rt, err := action.NewRedisTracker(cmd.Context(), cfg.RedisAddr, cfg.ActionTTL)
			if err != nil {
				eventBus.Close()
				st.Close()
				return err
			}
			tracker = rt
			trackerClose = rt.Close
			logger.Info("action tracking on redis", "addr", cfg.RedisAddr)
		} else {
			tracker = action.NewMemoryTracker(cfg.ActionTTL)
			logger.Info("action tracking in memory (WORKSET_REDIS_ADDR not set)")
		}

		registry := topic.NewRegistry()
		factory := sink.NewFactory(cfg.GlobalTenantID, cfg.MultiTenant)

		// Alerts go to the log and, when the bus is up, out as system
		// events so operators can consume them like any other topic.
		alerter := alert.Multi{
			alert.NewLogAlerter(logger),
			alertPublisher(eventBus, factory),
		}

		notifier := notify.New(eventBus, logger)
		dist := distributor.New(
			[]distributor.Consumer{consumers.NewAudit(logger)},
			registry, tracker, notifier, alerter, logger,
		)
		br := bridge.New(eventBus, dist, alerter, logger)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		if err := br.Start(ctx); err != nil {
			eventBus.Close()
			st.Close()
			return err
		}
		logger.Info("bridge started", "subject", bus.SubjectEvents, "queue", bus.DistributorQueue)

		var rel *relay.Relay
		if cfg.RelayInterval > 0 {
			var dl relay.DeadLetter
			if cfg.DeadLetterS3Bucket != "" {
				s3dl, err := relay.NewS3DeadLetter(ctx, cfg.DeadLetterS3Bucket, cfg.DeadLetterS3Prefix, cfg.DeadLetterS3Region, cfg.DeadLetterS3Endpoint)
				if err != nil {
					logger.Error("failed to create dead-letter archive", "err", err)
				} else {
					dl = s3dl
					logger.Info("dead-letter archive enabled", "bucket", cfg.DeadLetterS3Bucket, "prefix", cfg.DeadLetterS3Prefix)
				}
			}
			rel = relay.New(st, eventBus, dl, alerter, logger, relay.Config{
				Interval:   cfg.RelayInterval,
				BatchSize:  cfg.RelayBatchSize,
				LeaseTTL:   cfg.LeaseTTL,
				RetryLimit: cfg.SendRetryLimit,
			})
			rel.Start()
			logger.Info("relay started", "interval", cfg.RelayInterval, "batch", cfg.RelayBatchSize)
		} else {
			logger.Info("relay disabled (WORKSET_RELAY_INTERVAL=0)")
		}

		if err := recordStartup(ctx, st, factory); err != nil {
			logger.Error("failed to record startup event", "err", err)
		}

		logger.Info("worksetd started", "multi_tenant", cfg.MultiTenant, "generation_ceiling", cfg.GenerationCeiling)

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		logger.Info("received signal, shutting down", "signal", sig)

		br.Stop()
		logger.Info("bridge stopped")

		if rel != nil {
			rel.Stop()
			logger.Info("relay stopped")
		}

		if trackerClose != nil {
			if err := trackerClose(); err != nil {
				logger.Error("error closing tracker", "err", err)
			}
		}
		if err := eventBus.Close(); err != nil {
			logger.Error("error closing bus", "err", err)
		}
		if err := st.Close(); err != nil {
			logger.Error("error closing store", "err", err)
		}

		logger.Info("shutdown complete")
		return nil
	},
}

// alertPublisher forwards critical alerts to the bus as system events.
func alertPublisher(b bus.Bus, factory *sink.Factory) alert.Func {
	return func(ctx context.Context, severity, msg string, err error, args ...any) {
		if severity != alert.SeverityCritical {
			return
		}
		payload := map[string]any{"message": msg, "severity": severity}
		if err != nil {
			payload["error"] = err.Error()
		}
		e, ferr := factory.CreateSystemEvent("system.alert", "worksetd", payload, "")
		if ferr != nil {
			return
		}
		data, merr := json.Marshal(e)
		if merr != nil {
			return
		}
		// Best effort; the log alerter already recorded the failure.
		_ = b.Publish(ctx, bus.SubjectAlerts, data)
	}
}

// recordStartup writes a pipeline-started system event through the outbox so
// a fresh deployment exercises the full path end to end.
func recordStartup(ctx context.Context, st store.Store, factory *sink.Factory) error {
	e, err := factory.CreateSystemEvent("system.pipeline.started", "worksetd", map[string]string{"version": version}, "")
	if err != nil {
		return err
	}
	return st.RunInTransaction(ctx, func(tx store.Tx) error {
		return tx.CreateEvents(ctx, []*model.EventRecord{e})
	})
}
