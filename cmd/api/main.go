package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/zhouzirui/mora-bot/backend/internal/config"
	"github.com/zhouzirui/mora-bot/backend/internal/handler"
	"github.com/zhouzirui/mora-bot/backend/internal/logging"
	"github.com/zhouzirui/mora-bot/backend/internal/service/ai"
	"github.com/zhouzirui/mora-bot/backend/internal/service/negotiation"
	"github.com/zhouzirui/mora-bot/backend/internal/service/rag"
	"github.com/zhouzirui/mora-bot/backend/internal/service/session"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
		log.Println("continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger)

	sessions := session.NewStore(session.WithIdleTTL(cfg.Session.IdleTTL), session.WithLogger(logger))
	go sessions.Run(ctx, cfg.Session.SweepInterval)

	// The retrieval index and chat chain are built once and shared by all requests.
	var generator negotiation.Generator
	documents := 0
	if cfg.AI.Enabled() {
		aiService, indexed, err := buildGenerator(ctx, cfg, logger)
		if err != nil {
			logger.Fatal("failed to initialize negotiation pipeline", zap.Error(err))
		}
		generator = aiService
		documents = indexed
		logger.Info("negotiation pipeline initialized",
			zap.String("provider", cfg.AI.Provider),
			zap.String("model", cfg.AI.Model),
			zap.Int("documents", documents),
		)
	} else {
		logger.Warn("AI credentials not configured, chat endpoints will fail until AI_MODEL and provider keys are set")
	}

	svc := negotiation.NewService(sessions, generator, cfg.AI.GenerationTimeout, logger)
	router := handler.NewRouter(svc, documents, logger)

	startServer(ctx, cfg.Server, router, logger)
}

func buildGenerator(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*ai.Service, int, error) {
	docs, err := rag.LoadCorpus(cfg.RAG.CorpusDir)
	if err != nil {
		return nil, 0, err
	}

	embedder, err := cfg.AI.NewEmbedder(ctx)
	if err != nil {
		return nil, 0, err
	}

	index, err := rag.NewMemoryIndex(ctx, embedder, docs, rag.IndexConfig{
		TopK:           cfg.RAG.TopK,
		ScoreThreshold: cfg.RAG.ScoreThreshold,
		BatchSize:      cfg.RAG.EmbedBatchSize,
	})
	if err != nil {
		return nil, 0, err
	}

	aiService, err := ai.NewService(ctx, cfg.AI, index, logger)
	if err != nil {
		return nil, 0, err
	}
	return aiService, index.Len(), nil
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler, logger *zap.Logger) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	logger.Info("negotiation backend listening", zap.String("addr", addr))
	if err := runServer(ctx, srv); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
