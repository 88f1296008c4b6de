package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"OptionLedger/internal/config"
	"OptionLedger/internal/core"
	"OptionLedger/internal/ingestion"
	"OptionLedger/internal/observability"
	"OptionLedger/internal/persistence"
	"OptionLedger/internal/projection"
	"OptionLedger/internal/query"
	"OptionLedger/internal/server"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/lib/pq"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:          "optionledger",
		Short:        "Options liquidity pool ledger",
		SilenceUsage: true,
	}
	root.PersistentFlags().String("config", "", "config file path")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Restore state, then ingest commands and serve the API",
		RunE:  runServe,
	}
	config.RegisterFlags(serveCmd.Flags())
	root.AddCommand(serveCmd)

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply, roll back or inspect SQL migrations",
	}
	migrateCmd.PersistentFlags().String("postgres-dsn", "", "Postgres connection string")
	migrateCmd.PersistentFlags().String("dir", "", "migrations directory (default: compiled-in set)")
	migrateCmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			RunE:  func(cmd *cobra.Command, _ []string) error { return runMigrate(cmd, "up") },
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the last migration",
			RunE:  func(cmd *cobra.Command, _ []string) error { return runMigrate(cmd, "down") },
		},
		&cobra.Command{
			Use:   "status",
			Short: "List migrations and whether each is applied",
			RunE:  func(cmd *cobra.Command, _ []string) error { return runMigrate(cmd, "status") },
		},
	)
	root.AddCommand(migrateCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func runMigrate(cmd *cobra.Command, action string) error {
	log := observability.NewLogger("migrate")

	cfgFile, _ := cmd.Flags().GetString("config")
	dir, _ := cmd.Flags().GetString("dir")
	dsn, _ := cmd.Flags().GetString("postgres-dsn")
	if dsn == "" {
		cfg, err := config.Load(cfgFile, nil)
		if err != nil {
			return err
		}
		dsn = cfg.PostgresURL
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()

	migrator := persistence.NewMigrator(db, dir, log)
	switch action {
	case "up":
		if err := migrator.Up(cmd.Context()); err != nil {
			return fmt.Errorf("migrate up: %w", err)
		}
		log.Info().Msg("all migrations applied")
	case "down":
		if err := migrator.Down(cmd.Context()); err != nil {
			return fmt.Errorf("migrate down: %w", err)
		}
		log.Info().Msg("last migration rolled back")
	case "status":
		all, err := migrator.Status(cmd.Context())
		if err != nil {
			return fmt.Errorf("migrate status: %w", err)
		}
		out := cmd.OutOrStdout()
		for _, st := range all {
			mark := "pending"
			if st.Applied {
				mark = "applied"
			}
			fmt.Fprintf(out, "%-8s %s\n", mark, st.File)
		}
	}
	return nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	log := observability.NewLoggerWithLevel("optionledger", observability.ParseLogLevel(cfg.LogLevel))
	log.Info().Msg("OptionLedger starting")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics := observability.NewMetrics()
	healthChecker := observability.NewHealthChecker()

	// --- Postgres ---
	// database/sql + lib/pq for the event log; pgx pool for projections and queries.
	db, err := sql.Open("postgres", cfg.PostgresURL)
	if err != nil {
		return fmt.Errorf("postgres open: %w", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("postgres ping: %w", err)
	}

	pgPool, err := pgxpool.New(ctx, cfg.PostgresURL)
	if err != nil {
		return fmt.Errorf("pgx pool: %w", err)
	}
	defer pgPool.Close()
	log.Info().Msg("Postgres connected")

	healthChecker.SetPhase("migrating")
	if err := persistence.NewMigrator(db, "", log).Up(ctx); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	snapMgr := persistence.NewSnapshotManager(db)
	dbChecker := persistence.NewPostgresIdempotencyChecker(db)

	// --- Channels ---
	// persist channel blocks (backpressure), projection channel drops
	persistCoreChan := make(chan core.CoreOutput, cfg.PersistChanSize)
	projectionCoreChan := make(chan core.CoreOutput, cfg.ProjectionChanSize)
	persistWorkerChan := make(chan persistence.CoreOutput, cfg.PersistChanSize)
	projectionWorkerChan := make(chan projection.ProjectionOutput, cfg.ProjectionChanSize)
	publishChan := make(chan ingestion.PublishableEvent, cfg.PublishChanSize)

	deterministicCore, err := core.NewDeterministicCore(core.Config{
		Addresses:           cfg.Addresses,
		Params:              cfg.Params,
		IdempotencyCapacity: cfg.IdempotencyLRUCapacity,
	}, persistCoreChan, projectionCoreChan, dbChecker, log, metrics)
	if err != nil {
		return fmt.Errorf("create core: %w", err)
	}

	// --- Recovery: snapshot + replay ---
	healthChecker.SetPhase("restoring")
	rec := &recovery{snapMgr: snapMgr, idem: dbChecker, log: log}
	if err := rec.restore(ctx, deterministicCore); err != nil {
		return err
	}
	healthChecker.SetPhase("replaying")
	if err := rec.replay(ctx, deterministicCore); err != nil {
		return err
	}
	if err := rec.warmLRU(ctx, deterministicCore, cfg.IdempotencyLRUCapacity); err != nil {
		log.Warn().Err(err).Msg("LRU warm-up from event log failed")
	}

	engine := core.NewEngine(deterministicCore, cfg.EngineQueueSize).WithClock(time.Now)

	// --- NATS ---
	nc, js, err := ingestion.ConnectNATS(cfg.NATSURL, log)
	if err != nil {
		return err
	}
	defer nc.Close()
	if err := ingestion.EnsureStreams(ctx, js, log); err != nil {
		return fmt.Errorf("ensure NATS streams: %w", err)
	}
	log.Info().Msg("NATS connected")

	healthChecker.AddCheck("postgres", db.PingContext)
	healthChecker.AddCheck("nats", func(context.Context) error {
		if st := nc.Status(); st != nats.CONNECTED {
			return fmt.Errorf("nats status %s", st)
		}
		return nil
	})

	// --- Workers ---
	// Workers drain on their own context so a shutdown flushes everything the
	// core already emitted.
	workCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()
	var workers sync.WaitGroup
	errChan := make(chan error, 16)

	persistWorker := persistence.NewPersistenceWorker(db, persistWorkerChan, cfg.PersistBatchSize, cfg.PersistFlushTimeout, log, metrics)
	projWorker := projection.NewProjectionWorker(pgPool, projectionWorkerChan, log, metrics)
	publisher := ingestion.NewOutboundPublisher(js, publishChan, log, metrics)
	bridge := &outputBridge{
		persistIn:     persistCoreChan,
		projectionIn:  projectionCoreChan,
		persistOut:    persistWorkerChan,
		projectionOut: projectionWorkerChan,
		publishOut:    publishChan,
		log:           log,
		metrics:       metrics,
	}
	for _, run := range []func(context.Context) error{persistWorker.Run, projWorker.Run, publisher.Run, bridge.Run} {
		workers.Add(1)
		go func(run func(context.Context) error) {
			defer workers.Done()
			if err := run(workCtx); err != nil && !errors.Is(err, context.Canceled) {
				errChan <- err
			}
		}(run)
	}

	// --- Engine and ingress ---
	engineDone := make(chan struct{})
	go func() {
		defer close(engineDone)
		engine.Run(ctx)
	}()

	rawEventChan := make(chan ingestion.RawEvent, cfg.IngestChanSize)
	subscriber := ingestion.NewNATSSubscriber(js, rawEventChan, log)
	if err := subscriber.Subscribe(ctx, ingestion.DefaultSubjects()); err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}
	router := ingestion.NewRouter(engine, rawEventChan, log, metrics)
	go router.Run(ctx)

	snapshotter := &snapshotter{engine: engine, snapMgr: snapMgr, log: log, metrics: metrics}
	go snapshotter.RunPeriodic(ctx, cfg.SnapshotInterval)

	grpcServer := server.NewGRPCServer(cfg.GRPCAddr, cfg.HTTPAddr, &server.ServerDeps{
		Engine:       engine,
		Admin:        ingestion.NewAdminIngest(engine),
		Query:        query.NewQueryService(pgPool, metrics),
		EventLog:     snapMgr,
		TakeSnapshot: snapshotter.Take,
		RebuildProjections: func(ctx context.Context) error {
			return projection.RebuildProjections(ctx, pgPool, log)
		},
		HealthChecker: healthChecker,
		Metrics:       metrics,
		Log:           log,
	})
	go func() {
		if err := grpcServer.StartGRPC(ctx); err != nil {
			errChan <- fmt.Errorf("grpc server: %w", err)
		}
	}()
	go func() {
		if err := grpcServer.StartHTTPGateway(ctx); err != nil {
			errChan <- fmt.Errorf("http gateway: %w", err)
		}
	}()
	go serveMetrics(ctx, cfg.MetricsAddr, log, errChan)
	go reportChannels(ctx, metrics, map[string]func() (int, int){
		"persist":    func() (int, int) { return len(persistCoreChan), cap(persistCoreChan) },
		"projection": func() (int, int) { return len(projectionCoreChan), cap(projectionCoreChan) },
		"publish":    func() (int, int) { return len(publishChan), cap(publishChan) },
		"ingest":     func() (int, int) { return len(rawEventChan), cap(rawEventChan) },
	})

	grpcServer.SetServing(true)
	log.Info().
		Int64("sequence", deterministicCore.GetSequence()).
		Str("grpc", cfg.GRPCAddr).
		Str("http", cfg.HTTPAddr).
		Str("metrics", cfg.MetricsAddr).
		Msg("OptionLedger ready")

	failure := awaitShutdown(ctx, errChan, log)

	// --- Graceful shutdown ---
	// Stop ingress, let the engine finish its current command, then drain the
	// workers and take a final snapshot of the quiesced core.
	grpcServer.SetServing(false)
	stop()
	subscriber.Stop()
	<-engineDone

	close(persistCoreChan)
	close(projectionCoreChan)

	drained := make(chan struct{})
	go func() {
		workers.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(30 * time.Second):
		log.Error().Msg("workers did not drain in 30s")
		stopWorkers()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := snapshotter.save(shutdownCtx, deterministicCore.CreateSnapshotState()); err != nil {
		log.Error().Err(err).Msg("final snapshot failed")
	}

	if failure != nil {
		log.Error().Err(failure).Msg("OptionLedger stopped after component failure")
		return failure
	}
	log.Info().Msg("OptionLedger shutdown complete")
	return nil
}

// awaitShutdown blocks until a signal cancels ctx or a component reports a
// failure. It returns that failure, or nil for a clean signal.
func awaitShutdown(ctx context.Context, errChan <-chan error, log zerolog.Logger) error {
	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
		return nil
	case err := <-errChan:
		log.Error().Err(err).Msg("component failed, shutting down")
		return err
	}
}

func serveMetrics(ctx context.Context, addr string, log zerolog.Logger, errChan chan<- error) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutCtx)
	}()
	log.Info().Str("addr", addr).Msg("metrics server listening")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		errChan <- fmt.Errorf("metrics server: %w", err)
	}
}

func reportChannels(ctx context.Context, metrics *observability.Metrics, chans map[string]func() (int, int)) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for name, sizeOf := range chans {
				size, capacity := sizeOf()
				metrics.SetChannelMetrics(name, size, capacity)
			}
		}
	}
}
