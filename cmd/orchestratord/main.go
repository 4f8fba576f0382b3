// Command orchestratord is the process entrypoint: it wires configuration,
// persistence, the event bus, and every pipeline component into one
// process, then runs the orchestrator's FSM-driving consumer loops
// alongside the HTTP boundary, exactly as cmd/tarsy/main.go wires
// tarsy's services and starts its gin router in one main().
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/aibozo/codeurv2/pkg/api"
	"github.com/aibozo/codeurv2/pkg/bus"
	"github.com/aibozo/codeurv2/pkg/cirunner"
	"github.com/aibozo/codeurv2/pkg/codeplanner"
	"github.com/aibozo/codeurv2/pkg/codingagent"
	"github.com/aibozo/codeurv2/pkg/config"
	"github.com/aibozo/codeurv2/pkg/dbx"
	"github.com/aibozo/codeurv2/pkg/gitadapter"
	"github.com/aibozo/codeurv2/pkg/llmgateway"
	"github.com/aibozo/codeurv2/pkg/orchestrator"
	"github.com/aibozo/codeurv2/pkg/planner"
	"github.com/aibozo/codeurv2/pkg/registry"
	"github.com/aibozo/codeurv2/pkg/retrieval"
	"github.com/aibozo/codeurv2/pkg/testbuilder"
	"github.com/aibozo/codeurv2/pkg/testplanner"
	"github.com/aibozo/codeurv2/pkg/version"
)

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	configDir := flag.String("config-dir", getEnv("CONFIG_DIR", "./deploy/config"), "Path to configuration directory")
	flag.Parse()

	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		log.Printf("warning: could not load %s: %v (continuing with existing environment)", envPath, err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	slog.Info("starting", "app", version.Full())

	cfg, err := config.Load(*configDir)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	dbClient, err := dbx.NewClient(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer dbClient.Close()
	slog.Info("connected to postgres and applied migrations")

	b, err := bus.Connect(ctx, cfg.Bus)
	if err != nil {
		log.Fatalf("failed to connect to event bus: %v", err)
	}
	defer b.Close()
	for _, topic := range []string{
		orchestrator.TopicChangeRequestIn,
		orchestrator.TopicPlanOut,
		orchestrator.TopicTaskBundleOut,
		orchestrator.TopicCommitResultOut,
		orchestrator.TopicBuildReportOut,
		orchestrator.TopicTestSpecOut,
		orchestrator.TopicGeneratedTestsOut,
		orchestrator.TopicRegressionOut,
	} {
		if err := b.EnsureStream(ctx, topic); err != nil {
			log.Fatalf("failed to ensure stream %s: %v", topic, err)
		}
	}
	slog.Info("event bus connected and streams ensured")

	reg := registry.New(dbClient.DB(), cfg.Registry)
	retrievalEngine := retrieval.New(dbClient.DB(), retrieval.NewHashEmbedder(), cfg.Retrieval)
	defer retrievalEngine.Close()
	gitAdapter := gitadapter.New(cfg.Git)

	provider, err := llmgateway.NewProvider(cfg.LLM)
	if err != nil {
		log.Fatalf("failed to construct llm provider: %v", err)
	}
	gateway, err := llmgateway.New(provider, cfg.LLM)
	if err != nil {
		log.Fatalf("failed to construct llm gateway: %v", err)
	}

	reqPlanner := planner.New(retrievalEngine, gateway, reg, cfg.LLM.Model)
	codePlanner := codeplanner.New(retrievalEngine)
	agent := codingagent.New(gitAdapter, retrievalEngine, gateway, reg, codingagent.Config{
		Model:      cfg.LLM.Model,
		RemoteRepo: cfg.Git.RemoteRepo,
		MaxRetries: cfg.Queue.MaxRetries,
	})
	runner := cirunner.New(cfg.Git.RemoteRepo, cfg.ArtefactRoot)
	tPlanner := testplanner.New(retrievalEngine, gateway, cfg.LLM.Model)
	tBuilder := testbuilder.New(gitAdapter, retrievalEngine, gateway, testbuilder.Config{
		Model:      cfg.LLM.Model,
		RemoteRepo: cfg.Git.RemoteRepo,
		MaxRetries: cfg.Queue.MaxRetries,
	})

	orchStore := orchestrator.NewStore(dbClient.DB())
	engine, err := orchestrator.New(ctx, b, orchStore)
	if err != nil {
		log.Fatalf("failed to construct orchestrator engine: %v", err)
	}

	pipeline := newPipeline(b, reqPlanner, codePlanner, agent, runner, tPlanner, tBuilder)

	apiRepo := api.NewRepository(dbClient.DB())
	server := api.New(apiRepo, orchStore, b, dbClient.DB())

	errCh := make(chan error, 3)
	go func() {
		if err := engine.Run(ctx); err != nil {
			errCh <- fmt.Errorf("orchestrator engine stopped: %w", err)
		}
	}()
	go func() {
		if err := pipeline.run(ctx); err != nil {
			errCh <- fmt.Errorf("pipeline workers stopped: %w", err)
		}
	}()
	go func() {
		if err := server.Run(":" + cfg.HTTPPort); err != nil {
			errCh <- fmt.Errorf("http server stopped: %w", err)
		}
	}()

	slog.Info("orchestratord started", "http_port", cfg.HTTPPort)
	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received")
	case err := <-errCh:
		slog.Error("orchestratord component failed", "error", err)
	}
}
