// fleetdeployd runs deployments continuously: it serves the push
// webhook and journal API, and optionally polls GitHub or a config
// repo to trigger runs without inbound connectivity.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/fleetdeploy/fleetdeploy/internal/api"
	"github.com/fleetdeploy/fleetdeploy/internal/config"
	"github.com/fleetdeploy/fleetdeploy/internal/events"
	"github.com/fleetdeploy/fleetdeploy/internal/gitwatch"
	"github.com/fleetdeploy/fleetdeploy/internal/logger"
	"github.com/fleetdeploy/fleetdeploy/internal/metrics"
	"github.com/fleetdeploy/fleetdeploy/internal/orchestrator"
	"github.com/fleetdeploy/fleetdeploy/internal/secrets"
	"github.com/fleetdeploy/fleetdeploy/internal/telemetry"
	"github.com/fleetdeploy/fleetdeploy/internal/transport"
	"github.com/fleetdeploy/fleetdeploy/internal/trigger"
)

func init() {
	if err := godotenv.Load("./.env"); err != nil {
		log.Println("No .env file found, reading from system environment")
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	configPath := flag.String("config", "./configs/fleetdeploy.yaml", "path to config file")
	otlpEndpoint := flag.String("otlp-endpoint", os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"), "OTLP gRPC endpoint for traces")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("error loading config: %v", err)
	}

	zlog, err := logger.New(cfg.Env)
	if err != nil {
		log.Fatalf("error building logger: %v", err)
	}
	defer zlog.Sync()

	shutdownTracer, err := telemetry.InitTracer(ctx, "fleetdeployd", *otlpEndpoint)
	if err != nil {
		zlog.Fatal("tracer init failed", zap.Error(err))
	}
	defer shutdownTracer(context.Background())

	metrics.Init("daemon")
	if cfg.Server.MetricsPort != 0 {
		metrics.StartServer(cfg.Server.MetricsPort)
		zlog.Info("metrics server started", zap.Int("port", cfg.Server.MetricsPort))
	}

	store, err := secrets.New(cfg.Secrets.Backend, cfg.Secrets.EnvFile)
	if err != nil {
		zlog.Fatal("secrets backend init failed", zap.Error(err))
	}

	journal, err := orchestrator.OpenJournal(cfg.JournalPath)
	if err != nil {
		zlog.Fatal("journal open failed", zap.Error(err))
	}
	defer journal.Close()

	orch := orchestrator.New(cfg, transport.NewSSHDialer(30*time.Second), store, zlog)
	orch.Journal = journal

	if cfg.Events.NATSURL != "" {
		publisher, err := events.Connect(cfg.Events.NATSURL, cfg.Events.SubjectPrefix, zlog)
		if err != nil {
			zlog.Warn("NATS unavailable, continuing without events", zap.Error(err))
		} else {
			defer publisher.Close()
			orch.Events = publisher
		}
	}

	router := api.NewRouter(api.Deps{
		Runner:  orch,
		Journal: journal,
		Branch:  cfg.Trigger.Branch,
		Logger:  zlog,
	})

	httpSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		zlog.Info("HTTP server started", zap.String("addr", httpSrv.Addr))
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	deploy := func(runCtx context.Context) {
		if _, err := orch.Run(runCtx); err != nil {
			zlog.Error("triggered run failed", zap.Error(err))
		}
	}

	if cfg.Trigger.Type == "poll" {
		poll := trigger.NewPollTrigger(
			cfg.Trigger.RepoOwner,
			cfg.Trigger.RepoName,
			cfg.Trigger.Branch,
			os.Getenv(cfg.Trigger.TokenEnv),
			cfg.Trigger.Interval,
			deploy,
			zlog,
		)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := poll.Start(ctx); err != nil && ctx.Err() == nil {
				zlog.Error("poll trigger stopped", zap.Error(err))
			}
		}()
	}

	if cfg.GitWatch.RepoURL != "" {
		watcher := gitwatch.New(
			cfg.GitWatch.RepoURL,
			cfg.GitWatch.Branch,
			cfg.GitWatch.LocalPath,
			cfg.GitWatch.Interval,
			zlog,
		)
		watcher.OnChange = func(commit string) {
			zlog.Info("config repo changed, redeploying", zap.String("commit", commit))
			deploy(ctx)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := watcher.Start(ctx); err != nil && ctx.Err() == nil {
				zlog.Error("config watcher stopped", zap.Error(err))
			}
		}()
	}

	<-ctx.Done()
	zlog.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		zlog.Error("error shutting down HTTP server", zap.Error(err))
	}

	wg.Wait()
	zlog.Info("clean exit")
}
