// Package main is the entry point for the DRS daemon.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/limiquantix/drsim/internal/cluster"
	"github.com/limiquantix/drsim/internal/config"
	"github.com/limiquantix/drsim/internal/domain"
	"github.com/limiquantix/drsim/internal/drs"
	"github.com/limiquantix/drsim/internal/executor"
	"github.com/limiquantix/drsim/internal/metrics"
	"github.com/limiquantix/drsim/internal/planlog"
	"github.com/limiquantix/drsim/internal/relocation"
	"github.com/limiquantix/drsim/internal/repository/etcd"
	"github.com/limiquantix/drsim/internal/repository/memory"
	"github.com/limiquantix/drsim/internal/repository/postgres"
	"github.com/limiquantix/drsim/internal/repository/redis"
	"github.com/limiquantix/drsim/internal/scheduler"
	"github.com/limiquantix/drsim/internal/server"
	"github.com/limiquantix/drsim/internal/server/middleware"
	"github.com/limiquantix/drsim/internal/workload"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "", "Path to config file")
	showVersion := flag.Bool("version", false, "Show version information")
	tokenSubject := flag.String("token", "", "Print a signed API token for the given operator and exit")
	flag.Parse()

	if *showVersion {
		println("drsd")
		println("Version:", version)
		println("Commit:", commit)
		println("Build Date:", buildDate)
		os.Exit(0)
	}

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		println("Failed to load config:", err.Error())
		os.Exit(1)
	}

	if *tokenSubject != "" {
		token, err := middleware.NewTokenManager(cfg.Auth).Generate(*tokenSubject)
		if err != nil {
			println("Failed to generate token:", err.Error())
			os.Exit(1)
		}
		fmt.Println(token)
		os.Exit(0)
	}

	// Setup logger
	logger := setupLogger(cfg.Logging)
	defer logger.Sync()

	logger.Info("Starting drsd",
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("algorithm", cfg.Scheduler.Algorithm),
	)

	// Setup signal handling
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Info("Received signal", zap.String("signal", sig.String()))
		cancel()
	}()

	if err := run(ctx, cfg, logger); err != nil {
		if errors.Is(err, domain.ErrStuckExecution) {
			logger.Fatal("Reconfiguration stuck after the end of the injection", zap.Error(err))
		}
		logger.Fatal("drsd error", zap.Error(err))
	}

	logger.Info("Goodbye!")
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	if err := metrics.InitMetrics(registry); err != nil {
		return err
	}

	// Cluster
	state := cluster.NewState(logger)
	topology, err := loadTopology(cfg.Cluster)
	if err != nil {
		return err
	}
	if err := topology.Apply(state); err != nil {
		return fmt.Errorf("failed to apply topology: %w", err)
	}
	logger.Info("Cluster loaded",
		zap.Int("hosts", len(state.Hosts())),
		zap.Int("hosting_hosts", len(state.HostingHosts())),
		zap.Int("vms", state.VMCount()),
	)

	planLog := planlog.New(cfg.DRS.LogDir, logger)
	planLog.Clean()

	// Scheduling pipeline
	relocator := relocation.NewSimulator(state, cfg.Relocation, logger)
	exec := executor.New(state, relocator, cfg.Executor, logger)
	planner, err := scheduler.NewPlanner(cfg.Scheduler, logger)
	if err != nil {
		return err
	}
	builder := scheduler.NewBuilder(cfg.Scheduler, planner, exec, state, planLog, logger)

	engineOpts := []drs.Option{drs.WithSnapshotWriter(planLog)}
	serverOpts := []server.ServerOption{server.WithMetrics(registry)}

	// Pass history
	if cfg.Database.Enabled {
		if cfg.Database.AutoMigrate {
			if err := migrateSchema(cfg.Database, logger); err != nil {
				return err
			}
		}
		db, err := postgres.NewDB(ctx, cfg.Database, logger)
		if err != nil {
			return err
		}
		engineOpts = append(engineOpts, drs.WithHistory(postgres.NewPassRepository(db, logger)))
		serverOpts = append(serverOpts, server.WithPostgreSQL(db))
	} else {
		engineOpts = append(engineOpts, drs.WithHistory(memory.NewPassRepository(cfg.DRS.HistorySize)))
	}

	// Event publishing
	if cfg.Redis.Enabled {
		publisher, err := redis.NewPublisher(cfg.Redis, logger)
		if err != nil {
			return err
		}
		engineOpts = append(engineOpts, drs.WithPublisher(publisher))
		serverOpts = append(serverOpts, server.WithRedis(publisher))
	}

	// Leader election
	if cfg.Etcd.Enabled {
		client, err := etcd.NewClient(cfg.Etcd, logger)
		if err != nil {
			return err
		}
		identity, _ := os.Hostname()
		leader := client.Campaign(ctx, cfg.Etcd.ElectionKey, fmt.Sprintf("%s-%d", identity, os.Getpid()), func(isLeader bool) {
			if isLeader {
				logger.Info("This instance is now the leader")
			} else {
				logger.Info("This instance is now a follower")
			}
		})
		engineOpts = append(engineOpts, drs.WithLeaderChecker(leader))
		serverOpts = append(serverOpts, server.WithEtcd(client, leader))
	}

	engine := drs.NewEngine(cfg.DRS, builder, state, logger, engineOpts...)
	srv := server.New(cfg, engine, state, logger, serverOpts...)

	replayer, err := newReplayer(cfg.Workload, state, logger)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 3)

	go func() {
		errCh <- srv.Run(ctx)
	}()

	if replayer != nil {
		go func() {
			if err := replayer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- err
			}
		}()
	}

	engineDone := make(chan error, 1)
	go func() {
		engineDone <- engine.Start(ctx)
	}()

	select {
	case err := <-engineDone:
		if err != nil {
			cancel()
			<-errCh
			return err
		}
		if state.InjectionEnded() {
			logger.Info("Simulation finished", zap.Any("stats", engine.Stats()))
			state.LogSummary()
		} else {
			// The loop is disabled or stopped by a signal; keep serving until shutdown.
			select {
			case <-ctx.Done():
			case err := <-errCh:
				return err
			}
		}
	case err := <-errCh:
		cancel()
		<-engineDone
		return err
	}

	cancel()
	return <-errCh
}

func migrateSchema(cfg config.DatabaseConfig, logger *zap.Logger) error {
	migrator, err := postgres.NewMigrator(cfg, logger)
	if err != nil {
		return err
	}
	defer migrator.Close()
	return migrator.Up()
}

func loadTopology(cfg config.ClusterConfig) (*cluster.Topology, error) {
	if cfg.TopologyFile != "" {
		return cluster.LoadTopology(cfg.TopologyFile)
	}
	return cluster.Generate(cluster.GenerateConfig{
		Hosts:        cfg.Hosts,
		ServiceHosts: cfg.ServiceHosts,
		HostCores:    cfg.HostCores,
		HostCoreRate: cfg.HostCoreRate,
		HostMemMiB:   cfg.HostMemMiB,
		VMs:          cfg.VMs,
		VMCores:      cfg.VMCores,
		VMCoreRate:   cfg.VMCoreRate,
		VMMemMiB:     cfg.VMMemMiB,
		VMInitialCPU: cfg.VMInitialCPU,
	}), nil
}

// newReplayer returns nil when nothing is injected; the injection then never ends.
func newReplayer(cfg config.WorkloadConfig, state *cluster.State, logger *zap.Logger) (*workload.Replayer, error) {
	if cfg.TraceFile == "" && cfg.Duration <= 0 {
		return nil, nil
	}

	var trace *workload.Trace
	if cfg.TraceFile != "" {
		t, err := workload.LoadTrace(cfg.TraceFile)
		if err != nil {
			return nil, err
		}
		trace = t
	}
	return workload.NewReplayer(state, trace, cfg.TimeScale, cfg.Duration, logger), nil
}

// setupLogger configures the zap logger based on configuration.
func setupLogger(cfg config.LoggingConfig) *zap.Logger {
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "info":
		level = zapcore.InfoLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	var zapConfig zap.Config
	if cfg.Format == "console" {
		zapConfig = zap.NewDevelopmentConfig()
	} else {
		zapConfig = zap.NewProductionConfig()
	}

	zapConfig.Level = zap.NewAtomicLevelAt(level)
	if cfg.Output != "" {
		zapConfig.OutputPaths = []string{cfg.Output}
	}

	logger, err := zapConfig.Build()
	if err != nil {
		panic("Failed to create logger: " + err.Error())
	}

	return logger
}
