package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"time"

	"companychat/internal/chat"
	"companychat/internal/config"
	"companychat/internal/feedback"
	"companychat/internal/ingest"
	"companychat/internal/registry"
	"companychat/internal/retrieval"
	"companychat/internal/server"
	"companychat/internal/util"
	"companychat/pkg/ai"
	"companychat/pkg/queue"
	"companychat/pkg/storage"
	"companychat/pkg/store"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.InitLogger(cfg.LogLevel, cfg.LogFormat)

	db, err := store.NewGormStore(cfg.DatabaseURL, store.WithEmbeddingDim(cfg.EmbeddingDim))
	if err != nil {
		log.Fatalf("failed to init store: %v", err)
	}

	objects, err := storage.NewMinioStore(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
	if err != nil {
		log.Fatalf("failed to init object store: %v", err)
	}

	taskQueue, err := newTaskQueue(cfg)
	if err != nil {
		log.Fatalf("failed to init task queue: %v", err)
	}

	embedder, generator, err := newAIClients(cfg)
	if err != nil {
		log.Fatalf("failed to init ai clients: %v", err)
	}

	pipeline, err := ingest.New(ingest.Config{
		Store:              db,
		Objects:            objects,
		Embedder:           embedder,
		Queue:              taskQueue,
		Logger:             logger,
		ChunkSize:          cfg.ChunkSizeTokens,
		ChunkOverlap:       cfg.ChunkOverlapTokens,
		ActivateOnComplete: cfg.ActivateOnComplete,
		PendingGrace:       time.Duration(cfg.PendingGraceSeconds) * time.Second,
		StaleProcessing:    time.Duration(cfg.StaleProcessingSeconds) * time.Second,
	})
	if err != nil {
		log.Fatalf("failed to init ingest pipeline: %v", err)
	}

	retriever, err := retrieval.New(retrieval.Config{
		Store:    db,
		Embedder: embedder,
		TopK:     cfg.TopK,
		MinScore: cfg.MinScore,
	})
	if err != nil {
		log.Fatalf("failed to init retriever: %v", err)
	}

	engine, err := chat.New(chat.Config{
		Store:        db,
		Generator:    generator,
		Retriever:    retriever,
		Logger:       logger,
		HistoryLimit: cfg.HistoryLimit,
	})
	if err != nil {
		log.Fatalf("failed to init chat engine: %v", err)
	}

	sources, err := registry.New(registry.Config{
		Store:   db,
		Objects: objects,
		Queue:   taskQueue,
		Logger:  logger,
	})
	if err != nil {
		log.Fatalf("failed to init source registry: %v", err)
	}

	tracker, err := feedback.New(feedback.Config{Store: db})
	if err != nil {
		log.Fatalf("failed to init feedback tracker: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pipeline.Start(ctx, cfg.QueueConcurrency)
	go reconcileLoop(ctx, pipeline, logger)

	httpServer := server.New(server.Config{
		Engine:         engine,
		Registry:       sources,
		Feedback:       tracker,
		MaxUploadBytes: cfg.MaxUploadBytes,
	})

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	slog.Info("server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "err", err)
	}
}

func newTaskQueue(cfg config.FileConfig) (queue.TaskQueue, error) {
	retryDelay := time.Duration(cfg.RetryDelaySeconds) * time.Second
	switch cfg.QueueDriver {
	case "amqp":
		return queue.NewAMQPJobQueue(queue.AMQPQueueConfig{
			URL:        cfg.AMQPURL,
			Queue:      cfg.QueueName,
			MaxRetries: cfg.QueueMaxRetries,
			RetryDelay: retryDelay,
		})
	default:
		return queue.NewRedisJobQueue(queue.RedisQueueConfig{
			Addr:       cfg.RedisAddr,
			Password:   cfg.RedisPassword,
			Stream:     cfg.QueueName,
			Group:      cfg.QueueGroup,
			MaxRetries: cfg.QueueMaxRetries,
			RetryDelay: retryDelay,
		})
	}
}

func newAIClients(cfg config.FileConfig) (ai.Embedder, ai.ChatGenerator, error) {
	var embedder ai.Embedder
	switch cfg.EmbeddingProvider {
	case "openai-compat":
		client := ai.NewOpenAICompatClient(cfg.EmbeddingBaseURL, cfg.EmbeddingAPIKey)
		embedder = ai.NewOpenAICompatEmbedder(client, cfg.EmbeddingModel)
	default:
		client := ai.NewOllamaClient(cfg.EmbeddingBaseURL)
		embedder = ai.NewOllamaEmbedder(client, cfg.EmbeddingModel, cfg.EmbeddingDim)
	}

	var generator ai.ChatGenerator
	switch cfg.GenerationProvider {
	case "openai-compat":
		client := ai.NewOpenAICompatClient(cfg.GenerationBaseURL, cfg.GenerationAPIKey)
		generator = ai.NewOpenAICompatGenerator(client, cfg.GenerationModel)
	default:
		client := ai.NewOllamaClient(cfg.GenerationBaseURL)
		generator = ai.NewOllamaGenerator(client, cfg.GenerationModel)
	}
	return embedder, generator, nil
}

func reconcileLoop(ctx context.Context, pipeline *ingest.Pipeline, logger *slog.Logger) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		if err := pipeline.Reconcile(ctx); err != nil {
			logger.Error("reconcile sources", "err", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
