package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"companychat/internal/util"
	"companychat/pkg/ai"
	"companychat/pkg/domain"
	"companychat/pkg/queue"
	"companychat/pkg/storage"
	"companychat/pkg/store"
)

const embedBatchSize = 16

// Config wires pipeline dependencies.
type Config struct {
	Store    store.Store
	Objects  storage.ObjectStore
	Embedder ai.Embedder
	Queue    queue.TaskQueue
	Logger   *slog.Logger

	ChunkSize          int
	ChunkOverlap       int
	EmbedConcurrency   int
	ActivateOnComplete bool
	PendingGrace       time.Duration
	StaleProcessing    time.Duration
}

// Pipeline turns an uploaded document into embedded chunks. Ingestion is
// all-or-nothing: any extraction or embedding failure marks the source
// failed and leaves zero chunks behind.
type Pipeline struct {
	store    store.Store
	objects  storage.ObjectStore
	embedder ai.Embedder
	queue    queue.TaskQueue
	logger   *slog.Logger

	chunker            Chunker
	embedConcurrency   int
	activateOnComplete bool
	pendingGrace       time.Duration
	staleProcessing    time.Duration
}

// New validates cfg and builds a Pipeline.
func New(cfg Config) (*Pipeline, error) {
	if cfg.Store == nil {
		return nil, errors.New("ingest: store is required")
	}
	if cfg.Objects == nil {
		return nil, errors.New("ingest: object store is required")
	}
	if cfg.Embedder == nil {
		return nil, errors.New("ingest: embedder is required")
	}
	if cfg.Queue == nil {
		return nil, errors.New("ingest: queue is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	chunkSize := cfg.ChunkSize
	if chunkSize <= 0 {
		chunkSize = 500
	}
	chunkOverlap := cfg.ChunkOverlap
	if chunkOverlap < 0 || chunkOverlap >= chunkSize {
		chunkOverlap = 0
	}
	embedConcurrency := cfg.EmbedConcurrency
	if embedConcurrency <= 0 {
		embedConcurrency = 4
	}
	pendingGrace := cfg.PendingGrace
	if pendingGrace <= 0 {
		pendingGrace = 5 * time.Minute
	}
	staleProcessing := cfg.StaleProcessing
	if staleProcessing <= 0 {
		staleProcessing = 30 * time.Minute
	}
	return &Pipeline{
		store:              cfg.Store,
		objects:            cfg.Objects,
		embedder:           cfg.Embedder,
		queue:              cfg.Queue,
		logger:             logger,
		chunker:            Chunker{Size: chunkSize, Overlap: chunkOverlap},
		embedConcurrency:   embedConcurrency,
		activateOnComplete: cfg.ActivateOnComplete,
		pendingGrace:       pendingGrace,
		staleProcessing:    staleProcessing,
	}, nil
}

// Start launches queue consumers feeding Ingest.
func (p *Pipeline) Start(ctx context.Context, concurrency int) {
	p.queue.Start(ctx, concurrency, p.Ingest)
}

// Ingest processes one data source end to end. A nil return acknowledges
// the task; an error return asks the queue to retry.
func (p *Pipeline) Ingest(ctx context.Context, sourceID string) error {
	src, ok, err := p.store.GetDataSource(sourceID)
	if err != nil {
		return fmt.Errorf("load data source: %w", err)
	}
	if !ok {
		p.logger.Warn("ingest task for unknown source", "sourceId", sourceID)
		return nil
	}
	// Completed and failed are terminal; a redelivered task is a no-op.
	if src.Status == domain.StatusCompleted || src.Status == domain.StatusFailed {
		return nil
	}

	if err := p.store.SetSourceStatus(sourceID, domain.StatusProcessing, ""); err != nil {
		return fmt.Errorf("mark processing: %w", err)
	}

	data, err := p.objects.Get(ctx, src.StorageKey)
	if err != nil {
		// Infrastructure failure, let the queue retry.
		return fmt.Errorf("fetch document: %w", err)
	}

	pages, err := ExtractText(src.OriginalFilename, data)
	if err != nil {
		return p.fail(sourceID, err)
	}
	pieces := p.chunker.Split(pages)
	if len(pieces) == 0 {
		return p.fail(sourceID, fmt.Errorf("document produced no chunks"))
	}

	embeddings, err := p.embedAll(ctx, pieces)
	if err != nil {
		return p.fail(sourceID, err)
	}

	now := time.Now().UTC()
	chunks := make([]domain.Chunk, len(pieces))
	totalTokens := 0
	for i, piece := range pieces {
		chunks[i] = domain.Chunk{
			ID:         util.NewID(),
			SourceID:   sourceID,
			Content:    piece.Content,
			TokenCount: piece.TokenCount,
			Position:   piece.Position,
			Metadata:   piece.Metadata,
			Embedding:  embeddings[i],
			CreatedAt:  now,
		}
		totalTokens += piece.TokenCount
	}
	if err := p.store.ReplaceChunks(sourceID, chunks); err != nil {
		return p.fail(sourceID, fmt.Errorf("persist chunks: %w", err))
	}
	if err := p.store.FinishSourceIngest(sourceID, len(chunks), totalTokens, p.activateOnComplete); err != nil {
		return fmt.Errorf("finish ingest: %w", err)
	}
	p.logger.Info("source ingested",
		"sourceId", sourceID,
		"chunks", len(chunks),
		"tokens", totalTokens,
	)
	return nil
}

// embedAll embeds every piece, aborting on the first failure.
func (p *Pipeline) embedAll(ctx context.Context, pieces []Piece) ([][]float32, error) {
	embeddings := make([][]float32, len(pieces))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.embedConcurrency)

	if batcher, ok := p.embedder.(ai.BatchEmbedder); ok {
		for start := 0; start < len(pieces); start += embedBatchSize {
			start := start
			end := start + embedBatchSize
			if end > len(pieces) {
				end = len(pieces)
			}
			g.Go(func() error {
				texts := make([]string, end-start)
				for i, piece := range pieces[start:end] {
					texts[i] = piece.Content
				}
				vecs, err := batcher.EmbedTexts(gctx, texts, "RETRIEVAL_DOCUMENT")
				if err != nil {
					return &EmbeddingError{Position: pieces[start].Position, Err: err}
				}
				if len(vecs) != len(texts) {
					return &EmbeddingError{Position: pieces[start].Position, Err: fmt.Errorf("got %d embeddings for %d texts", len(vecs), len(texts))}
				}
				for i, vec := range vecs {
					embeddings[start+i] = vec
				}
				return nil
			})
		}
	} else {
		for i, piece := range pieces {
			i, piece := i, piece
			g.Go(func() error {
				vec, err := p.embedder.EmbedText(gctx, piece.Content, "RETRIEVAL_DOCUMENT")
				if err != nil {
					return &EmbeddingError{Position: piece.Position, Err: err}
				}
				embeddings[i] = vec
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return embeddings, nil
}

// fail marks the source failed and clears any chunks written for it.
// The nil return acknowledges the task: failed is terminal.
func (p *Pipeline) fail(sourceID string, cause error) error {
	p.logger.Error("ingest failed", "sourceId", sourceID, "error", cause)
	if err := p.store.SetSourceStatus(sourceID, domain.StatusFailed, cause.Error()); err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	if err := p.store.DeleteChunksBySource(sourceID); err != nil {
		p.logger.Error("clear chunks after failure", "sourceId", sourceID, "error", err)
	}
	return nil
}

// Reconcile re-enqueues sources stuck in pending and fails sources stuck
// in processing, covering lost tasks and dead workers.
func (p *Pipeline) Reconcile(ctx context.Context) error {
	now := time.Now().UTC()

	pending, err := p.store.ListDataSourcesByStatus(domain.StatusPending)
	if err != nil {
		return fmt.Errorf("list pending sources: %w", err)
	}
	for _, src := range pending {
		if now.Sub(src.CreatedAt) < p.pendingGrace {
			continue
		}
		if err := p.queue.Enqueue(ctx, src.ID); err != nil {
			p.logger.Error("re-enqueue pending source", "sourceId", src.ID, "error", err)
			continue
		}
		p.logger.Info("re-enqueued stale pending source", "sourceId", src.ID)
	}

	processing, err := p.store.ListDataSourcesByStatus(domain.StatusProcessing)
	if err != nil {
		return fmt.Errorf("list processing sources: %w", err)
	}
	for _, src := range processing {
		startedAt := src.CreatedAt
		if src.ProcessingStartedAt != nil {
			startedAt = *src.ProcessingStartedAt
		}
		if now.Sub(startedAt) < p.staleProcessing {
			continue
		}
		if err := p.fail(src.ID, fmt.Errorf("processing timed out")); err != nil {
			p.logger.Error("fail stale processing source", "sourceId", src.ID, "error", err)
		}
	}
	return nil
}
