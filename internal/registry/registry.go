package registry

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"path/filepath"
	"strings"
	"time"

	"companychat/internal/util"
	"companychat/pkg/domain"
	"companychat/pkg/queue"
	"companychat/pkg/storage"
	"companychat/pkg/store"
)

var allowedExtensions = map[string]bool{
	".pdf": true,
	".txt": true,
	".md":  true,
}

// Config wires registry dependencies.
type Config struct {
	Store   store.Store
	Objects storage.ObjectStore
	Queue   queue.TaskQueue
	Logger  *slog.Logger
}

// Registry manages the data source lifecycle: upload, activation, and
// deletion. Processing happens asynchronously through the ingest queue.
type Registry struct {
	store   store.Store
	objects storage.ObjectStore
	queue   queue.TaskQueue
	logger  *slog.Logger
}

// New validates cfg and builds a Registry.
func New(cfg Config) (*Registry, error) {
	if cfg.Store == nil {
		return nil, errors.New("registry: store is required")
	}
	if cfg.Objects == nil {
		return nil, errors.New("registry: object store is required")
	}
	if cfg.Queue == nil {
		return nil, errors.New("registry: queue is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		store:   cfg.Store,
		objects: cfg.Objects,
		queue:   cfg.Queue,
		logger:  logger,
	}, nil
}

// Create registers an uploaded document and queues it for ingestion. The
// source starts pending and inactive; it only becomes searchable after
// ingestion completes and it is activated.
func (r *Registry) Create(ctx context.Context, name, filename string, data []byte) (domain.DataSource, error) {
	name = strings.TrimSpace(name)
	filename = strings.TrimSpace(filename)
	if filename == "" {
		return domain.DataSource{}, domain.Validationf("filename is required")
	}
	ext := strings.ToLower(filepath.Ext(filename))
	if !allowedExtensions[ext] {
		return domain.DataSource{}, domain.Validationf("unsupported file type %q (allowed: .pdf, .txt, .md)", ext)
	}
	if len(data) == 0 {
		return domain.DataSource{}, domain.Validationf("file is empty")
	}
	if name == "" {
		name = strings.TrimSuffix(filepath.Base(filename), ext)
	}

	now := time.Now().UTC()
	src := domain.DataSource{
		ID:               util.NewID(),
		Name:             name,
		SourceType:       domain.SourceTypeDocument,
		OriginalFilename: filepath.Base(filename),
		Status:           domain.StatusPending,
		IsActive:         false,
		SizeBytes:        int64(len(data)),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	src.StorageKey = "sources/" + src.ID + ext

	contentType := mime.TypeByExtension(ext)
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	if err := r.objects.Put(ctx, src.StorageKey, bytes.NewReader(data), int64(len(data)), contentType); err != nil {
		return domain.DataSource{}, fmt.Errorf("store upload: %w", err)
	}
	if err := r.store.SaveDataSource(src); err != nil {
		return domain.DataSource{}, fmt.Errorf("save data source: %w", err)
	}
	if err := r.queue.Enqueue(ctx, src.ID); err != nil {
		// The reconcile sweep re-enqueues stale pending sources.
		r.logger.Error("enqueue ingest task", "sourceId", src.ID, "error", err)
	}
	return src, nil
}

// Get returns one data source.
func (r *Registry) Get(id string) (domain.DataSource, error) {
	src, ok, err := r.store.GetDataSource(id)
	if err != nil {
		return domain.DataSource{}, fmt.Errorf("load data source: %w", err)
	}
	if !ok {
		return domain.DataSource{}, fmt.Errorf("data source %s: %w", id, domain.ErrNotFound)
	}
	return src, nil
}

// List returns all data sources, newest first.
func (r *Registry) List() ([]domain.DataSource, error) {
	return r.store.ListDataSources()
}

// SetActive toggles whether a source participates in retrieval. The active
// flag is only mutable while the source is completed.
func (r *Registry) SetActive(id string, active bool) (domain.DataSource, error) {
	src, err := r.Get(id)
	if err != nil {
		return domain.DataSource{}, err
	}
	if src.Status != domain.StatusCompleted {
		op := "activate"
		if !active {
			op = "deactivate"
		}
		return domain.DataSource{}, &domain.InvalidStateError{Op: op, Current: src.Status}
	}
	if err := r.store.SetSourceActive(id, active); err != nil {
		return domain.DataSource{}, fmt.Errorf("set source active: %w", err)
	}
	src.IsActive = active
	src.UpdatedAt = time.Now().UTC()
	return src, nil
}

// Delete removes a source with its chunks and stored file. A source that
// is mid-processing cannot be deleted.
func (r *Registry) Delete(ctx context.Context, id string) error {
	src, err := r.Get(id)
	if err != nil {
		return err
	}
	if src.Status == domain.StatusProcessing {
		return &domain.InvalidStateError{Op: "delete", Current: src.Status}
	}
	if err := r.store.DeleteChunksBySource(id); err != nil {
		return fmt.Errorf("delete chunks: %w", err)
	}
	if err := r.objects.Delete(ctx, src.StorageKey); err != nil {
		r.logger.Error("delete stored file", "sourceId", id, "error", err)
	}
	if err := r.store.DeleteDataSource(id); err != nil {
		return fmt.Errorf("delete data source: %w", err)
	}
	return nil
}

// Stats aggregates counters across all sources.
func (r *Registry) Stats() (domain.SourceStats, error) {
	return r.store.SourceStats()
}
