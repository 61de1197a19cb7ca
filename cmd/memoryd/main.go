// Command memoryd runs the agent memory service: the hybrid-search and
// CRUD tool surface over HTTP, the autonomous capture pipeline observing
// conversation traffic, and the maintenance scheduler running the
// librarian and its companion tasks on a cron schedule, per spec.md.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coccobas/agent-memory/internal/boundary"
	"github.com/coccobas/agent-memory/internal/capture"
	"github.com/coccobas/agent-memory/internal/config"
	"github.com/coccobas/agent-memory/internal/maintenance"
	"github.com/coccobas/agent-memory/internal/query"
	"github.com/coccobas/agent-memory/internal/store"
	"github.com/coccobas/agent-memory/internal/vector"
)

func main() {
	logger := newLogger()

	cfg, err := config.Load()
	if err != nil {
		logger.Error("load config", "error", err)
		os.Exit(1)
	}

	db, err := store.Open(cfg.DBPath)
	if err != nil {
		logger.Error("open store", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	compressor, err := vector.NewScalarQuantizer(8, -1, 1)
	if err != nil {
		logger.Error("init vector compressor", "error", err)
		os.Exit(1)
	}
	vecSvc := vector.NewService(db, 384, compressor)

	pipeline := query.New(db, vector.NullEmbedder{}, vecSvc, query.NewCache(1024, 10*time.Minute), logger)

	globalScope := store.Scope{Type: store.ScopeGlobal}

	registry := boundary.NewRegistry()
	registry.Register(&boundary.SearchTool{Pipeline: pipeline})
	entryRepos := make(map[store.EntryKind]*store.EntryRepository)
	for _, kind := range []store.EntryKind{store.KindTool, store.KindGuideline, store.KindKnowledge, store.KindExperience} {
		entryRepos[kind] = store.NewEntryRepository(db, kind)
	}
	for _, kind := range []store.EntryKind{store.KindTool, store.KindGuideline, store.KindKnowledge} {
		registry.Register(&boundary.EntriesTool{Kind: kind, Repo: entryRepos[kind]})
	}
	registry.Register(&boundary.ExperienceTool{Repo: entryRepos[store.KindExperience]})
	registry.Register(&boundary.RememberTool{Repo: entryRepos})
	registry.Register(&boundary.ConflictTool{Repo: store.NewConflictRepository(db)})
	registry.Register(&boundary.GraphNodeTool{Repo: store.NewTagRepository(db)})
	registry.Register(&boundary.GraphEdgeTool{Repo: store.NewRelationRepository(db)})
	registry.Register(&boundary.HealthTool{Store: db})
	registry.Register(&boundary.ProjectTool{Repo: store.NewProjectRepository(db)})

	auth := boundary.NewAuthPolicy(cfg)
	dispatcher := boundary.NewDispatcher(registry)
	server := boundary.NewServer(dispatcher, auth, logger)

	detector, err := capture.NewDetector(0.45)
	if err != nil {
		logger.Error("init trigger detector", "error", err)
		os.Exit(1)
	}
	classifier := &capture.HTTPClassifier{
		BaseURL: cfg.ClassifierBaseURL,
		Model:   cfg.ClassifierModel,
		Client:  &http.Client{Timeout: 10 * time.Second},
	}
	queue := capture.NewQueue(256, cfg.ClassifierBaseURL == "", nil)
	capturePipeline := capture.NewPipeline(db, globalScope, detector, classifier, queue, logger, cfg.CaptureCooldownMs)
	sessions := store.NewSessionRepository(db)
	registry.Register(&boundary.IngestTool{Sessions: sessions, Pipeline: capturePipeline})
	registry.Register(&boundary.SuggestTool{Pipeline: capturePipeline})

	maintRepo := store.NewMaintenanceRepository(db)
	registry.Register(&boundary.EvidenceTool{Repo: maintRepo})
	scheduler, err := maintenance.NewScheduler(cfg.Maintenance.LibrarianSchedule, maintRepo, logger)
	if err != nil {
		logger.Error("init maintenance scheduler", "error", err)
		os.Exit(1)
	}
	deps := maintenance.Deps{Store: db, Vector: vecSvc, Repo: maintRepo, Config: cfg.Maintenance}
	scheduler.AddTask(&maintenance.ExtractionQualityTask{Deps: deps, MinSessions: 5})
	scheduler.AddTask(&maintenance.DuplicateRefinementTask{Deps: deps})
	scheduler.AddTask(&maintenance.CategoryAccuracyTask{Deps: deps})
	scheduler.AddTask(&maintenance.RelevanceCalibrationTask{Deps: deps})
	scheduler.AddTask(&maintenance.LibrarianTask{
		Deps:           deps,
		MinExperiences: cfg.Maintenance.MinPatternSize,
		MaxExperiences: cfg.Maintenance.MaxEntriesPerRun,
		ExpirationDays: 30,
	})
	scheduler.AddTask(&maintenance.FeedbackLoopTask{Deps: deps, MinConfidenceForApplication: 0.6})

	if cfg.Maintenance.LLMMaintenanceTasksEnabled {
		llm := maintenance.NewHTTPLLM(cfg.ClassifierBaseURL, cfg.ClassifierModel, "")
		scheduler.AddTask(&maintenance.MessageRelevanceScoringTask{Deps: deps, Scorer: &maintenance.HTTPScorer{HTTPLLM: llm}})
		scheduler.AddTask(&maintenance.ExperienceTitleImprovementTask{Deps: deps, Titler: &maintenance.HTTPTitler{HTTPLLM: llm}})
		scheduler.AddTask(&maintenance.MessageInsightExtractionTask{Deps: deps, MinMessages: 4, Extractor: &maintenance.HTTPExtractor{HTTPLLM: llm}})
	}
	scheduler.AddScope(globalScope)
	scheduler.SetDryRun(!cfg.Production)
	registry.Register(&boundary.TaskTool{Scheduler: scheduler})

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	scheduler.Start(ctx)
	defer scheduler.Stop()

	httpServer := &http.Server{Addr: cfg.HTTPAddr, Handler: server.Handler()}
	go func() {
		logger.Info("memoryd listening", "addr", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("memoryd shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", "error", err)
	}
}

// newLogger builds the process-wide structured logger: a text handler on
// stderr at info level, or debug level when MEMORY_DEBUG is set,
// matching the teacher's slog setup.
func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if os.Getenv("MEMORY_DEBUG") != "" {
		level = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	return slog.New(handler)
}
