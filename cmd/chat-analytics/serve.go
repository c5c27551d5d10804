package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"twitch-chat-analytics/api"
	"twitch-chat-analytics/bus"
	"twitch-chat-analytics/config"
	"twitch-chat-analytics/engine"
	"twitch-chat-analytics/logging"
	"twitch-chat-analytics/moderation"
	"twitch-chat-analytics/service"
	"twitch-chat-analytics/storage"
	"twitch-chat-analytics/twitch"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Запустить движок, HTTP API и коннекторы",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return serve(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func serve(parent context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	log := logging.Component(logger, "main")

	rules, err := config.LoadRules(cfg.RulesPath)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var (
		pool    *pgxpool.Pool
		batcher *storage.Batcher
	)
	storeCtx, stopStore := context.WithCancel(context.Background())
	defer stopStore()

	events := bus.New(logging.Component(logger, "bus"))
	// шина закрывается раньше пула: её обработчики пишут в БД
	defer func() {
		if err := events.Close(); err != nil {
			log.WithError(err).Warn("bus close failed")
		}
		if batcher != nil {
			stopStore()
			<-batcher.Done()
			if dropped := batcher.Dropped(); dropped > 0 {
				log.WithField("dropped", dropped).Warn("storage dropped rows")
			}
		}
		if pool != nil {
			pool.Close()
		}
	}()
	// подписки живут до Close: итог последней сессии публикуется уже после сигнала
	if cfg.Export.Dir != "" {
		if err := events.Subscribe(context.Background(), "csv", bus.WriteCSV(cfg.Export.Dir, log)); err != nil {
			return err
		}
	}

	blocklist := moderation.NewBlocklist()
	for _, u := range rules.BlockedUsers {
		blocklist.Add(u)
	}

	opts := []engine.Option{engine.WithEmitter(events), engine.WithBlocklist(blocklist)}

	if cfg.Postgres.Enabled() {
		pool, err = pgxpool.New(ctx, cfg.Postgres.DSN())
		if err != nil {
			return fmt.Errorf("pgxpool.New: %w", err)
		}

		if err := storage.EnsureSchema(ctx, pool); err != nil {
			return err
		}
		batcher = storage.NewBatcher(storeCtx, pool, storage.BatchConfig{
			MaxBatch:      cfg.Batch.MaxBatch,
			FlushEvery:    cfg.Batch.FlushEvery,
			ChanBuffer:    cfg.Batch.ChanBuffer,
			StatsLogEvery: cfg.Batch.StatsLogEvery,
			FlushTimeout:  cfg.Batch.FlushTimeout,
		}, logging.Component(logger, "storage"))
		opts = append(opts, engine.WithSink(batcher))

		flushTimeout := cfg.Batch.FlushTimeout
		if err := events.Subscribe(context.Background(), "postgres", func(ctx context.Context, ev bus.SessionClosed) error {
			return storage.SaveSession(ctx, pool, ev.Record, flushTimeout)
		}); err != nil {
			return err
		}
	}

	eng := engine.New(cfg.Engine.Engine(rules.Weights, rules.Moderation.HistorySize), rules.Moderation,
		logging.Component(logger, "engine"), opts...)
	eng.Start()

	var connector service.Runner
	if cfg.Twitch.Enabled() {
		connector = twitch.NewClient(cfg.Twitch, service.NewHandler(eng, log), logrus.NewEntry(logger))
	}
	server := api.NewServer(eng, logrus.NewEntry(logger))

	log.WithFields(logrus.Fields{
		"addr":     cfg.HTTP.Addr,
		"twitch":   cfg.Twitch.Enabled(),
		"postgres": cfg.Postgres.Enabled(),
		"rules":    cfg.RulesPath,
	}).Info("starting chat analytics")

	runErr := service.New(cfg, eng, server, connector, log).Run(ctx)

	// незакрытая сессия закрывается, чтобы её итог дошёл до подписчиков
	if _, ok := eng.CurrentSession(); ok {
		endCtx, cancelEnd := context.WithTimeout(context.Background(), time.Second)
		if rec, err := eng.EndSession(endCtx); err != nil {
			log.WithError(err).Warn("failed to close open session on shutdown")
		} else {
			log.WithField("session_id", rec.ID).Info("open session closed on shutdown")
		}
		cancelEnd()
	}

	log.Info("shutting down")
	return runErr
}
