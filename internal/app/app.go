package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/nsqio/go-nsq"

	"lens/apps/backend/features/deadletter"
	"lens/apps/backend/features/image"
	"lens/apps/backend/features/search"
	"lens/apps/backend/features/stats"
	"lens/apps/backend/internal/adapter/gemini"
	"lens/apps/backend/internal/adapter/reranker"
	wstore "lens/apps/backend/internal/adapter/weaviate"
	"lens/apps/backend/internal/asset"
	"lens/apps/backend/internal/config"
	"lens/apps/backend/internal/crawler"
	"lens/apps/backend/internal/evolution"
	"lens/apps/backend/internal/feed"
	"lens/apps/backend/internal/middleware"
	"lens/apps/backend/internal/ranking"
	"lens/apps/backend/internal/state"
	"lens/apps/backend/internal/workflow"
)

type App struct {
	Handler   http.Handler
	Consumer  *workflow.Consumer
	Crawler   *crawler.Scheduler
	Evolution *evolution.Scheduler

	cfg *config.Config
}

func New(ctx context.Context, cfg *config.Config, deps *Dependencies) (*App, error) {
	states := state.NewPostgresStore(deps.DB)
	imageRepo := image.NewPostgresRepo(deps.DB)
	dlRepo := deadletter.NewPostgresRepo(deps.DB)

	feedClient := feed.NewClient(cfg.FeedBaseURL, cfg.FeedAPIKey)
	assets := asset.NewFSStore(cfg.AssetDir)
	fetcher := asset.NewHTTPFetcher(feedClient)
	vecStore := wstore.NewStore(deps.Weaviate)

	vision, err := gemini.NewVision(ctx, cfg.GeminiAPIKey, cfg.VisionModel)
	if err != nil {
		return nil, fmt.Errorf("vision client: %w", err)
	}
	embedder, err := gemini.NewEmbedder(ctx, cfg.GeminiAPIKey, cfg.EmbeddingModel)
	if err != nil {
		return nil, fmt.Errorf("embedder client: %w", err)
	}
	expander, err := gemini.NewExpander(ctx, cfg.GeminiAPIKey, cfg.ExpansionModel)
	if err != nil {
		return nil, fmt.Errorf("expander client: %w", err)
	}
	rerankClient := reranker.NewClient(cfg.RerankProvider, cfg.RerankAPIKey)

	meter := evolution.NewMeter(states)

	consumer := workflow.NewConsumer(
		imageRepo, assets, fetcher, vision, embedder, vecStore, states, dlRepo, meter,
		workflow.Options{
			MaxAttempts:   cfg.TaskMaxAttempts,
			StepRetryBase: time.Duration(cfg.StepRetryBaseSeconds) * time.Second,
			CostPerItem:   cfg.CostPerItemUnits,
		},
	)

	enqueuer := crawler.NewEnqueuer(imageRepo, deps.NSQProducer)
	crawlSched := crawler.NewScheduler(feedClient, enqueuer, states, crawler.Options{
		PageSize:         cfg.FeedPageSize,
		ForwardMaxPages:  cfg.ForwardMaxPages,
		BackfillEnabled:  cfg.BackfillEnabled,
		BackfillMaxPages: cfg.BackfillMaxPages,
	})

	evoSched := evolution.NewScheduler(states, imageRepo, meter, deps.NSQProducer, evolution.Options{
		DailyBudget:  cfg.DailyBudgetUnits,
		Reserve:      cfg.BudgetReserveUnits,
		CostPerItem:  cfg.CostPerItemUnits,
		ModelVersion: vision.ModelVersion(),
	})

	queryLogger, err := ranking.NewFileQueryLogger(cfg.QueryLogPath)
	if err != nil {
		slog.Warn("failed to create query logger, falling back to stdout", "error", err)
		queryLogger = ranking.NewQueryLogger(os.Stdout)
	}

	rankingSvc := ranking.NewService(expander, embedder, vecStore, imageRepo, rerankClient, states, queryLogger, ranking.Options{
		TopK:        cfg.SearchTopK,
		CutoffDecay: cfg.CutoffDecay,
		CutoffFloor: cfg.CutoffFloor,
		RerankDepth: cfg.RerankDepth,
	})

	searchHandler := search.NewHandler(
		rankingSvc,
		search.NewResponseCache(time.Duration(cfg.SearchCacheTTLM)*time.Minute),
		search.NewSuggestIndex(states),
	)
	dlHandler := deadletter.NewHandler(deadletter.NewService(dlRepo, deps.NSQProducer))
	statsHandler := stats.NewHandler(imageRepo, dlRepo)

	return &App{
		Handler:   routes(searchHandler, dlHandler, statsHandler),
		Consumer:  consumer,
		Crawler:   crawlSched,
		Evolution: evoSched,
		cfg:       cfg,
	}, nil
}

func routes(searchHandler *search.Handler, dlHandler *deadletter.Handler, statsHandler *stats.Handler) http.Handler {
	enableCORS := func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, DELETE")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}
			next(w, r)
		}
	}

	mux := http.NewServeMux()
	mux.Handle("GET /search", middleware.CorrelationID(enableCORS(searchHandler.Search)))
	mux.Handle("GET /suggest", middleware.CorrelationID(enableCORS(searchHandler.Suggest)))
	mux.Handle("GET /stats", middleware.CorrelationID(enableCORS(statsHandler.GetStats)))
	mux.Handle("GET /tasks/failed", middleware.CorrelationID(enableCORS(dlHandler.List)))
	mux.Handle("POST /tasks/{id}/retry", middleware.CorrelationID(enableCORS(dlHandler.Retry)))

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	return mux
}

// Run starts the HTTP server, the NSQ consumer and the scheduler loops,
// and blocks until the context is canceled.
func (a *App) Run(ctx context.Context) error {
	nsqCfg := nsq.NewConfig()
	// The workflow dead-letters exhausted messages itself; NSQ must not
	// silently discard them first.
	nsqCfg.MaxAttempts = 0
	nsqCfg.MaxInFlight = a.cfg.WorkerConcurrency
	// Step retries keep a message in flight far longer than the default 60s
	// timeout; the handler also touches the message between attempts.
	nsqCfg.MsgTimeout = 10 * time.Minute

	nsqConsumer, err := nsq.NewConsumer(config.TopicIngestTask, config.ChannelWorkflow, nsqCfg)
	if err != nil {
		return fmt.Errorf("nsq consumer: %w", err)
	}
	nsqConsumer.AddConcurrentHandlers(a.Consumer, a.cfg.WorkerConcurrency)
	if err := nsqConsumer.ConnectToNSQLookupd(a.cfg.NSQLookupd); err != nil {
		return fmt.Errorf("nsq lookupd connect: %w", err)
	}
	defer nsqConsumer.Stop()

	go a.runCrawlLoop(ctx)
	if a.cfg.EvolutionEnabled {
		go a.runEvolutionLoop(ctx)
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.ServerPort),
		Handler:           a.Handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutting down server...")
		if err := srv.Shutdown(context.Background()); err != nil {
			slog.Error("server shutdown failed", "error", err)
		}
	}()

	slog.Info("server starting", "port", a.cfg.ServerPort)
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (a *App) runCrawlLoop(ctx context.Context) {
	interval := time.Duration(a.cfg.CrawlIntervalMinutes) * time.Minute
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// First cycle right away; an empty mirror should start filling on boot
	if err := a.Crawler.RunCycle(ctx); err != nil {
		slog.Error("crawl cycle failed", "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := a.Crawler.RunCycle(ctx); err != nil {
				slog.Error("crawl cycle failed", "error", err)
			}
		}
	}
}

func (a *App) runEvolutionLoop(ctx context.Context) {
	// Hourly tick; the scheduler's own date gate keeps it to one real
	// run per day.
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := a.Evolution.RunCycle(ctx); err != nil {
				slog.Error("evolution cycle failed", "error", err)
			}
		}
	}
}
