package registry

import (
	"context"
	"errors"
	"sync"
	"testing"

	"companychat/pkg/domain"
	"companychat/pkg/queue"
	"companychat/pkg/storage"
	"companychat/pkg/store"
)

type recordQueue struct {
	mu       sync.Mutex
	enqueued []string
}

func (q *recordQueue) Enqueue(ctx context.Context, sourceID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.enqueued = append(q.enqueued, sourceID)
	return nil
}

func (q *recordQueue) Start(ctx context.Context, concurrency int, handler queue.Handler) {}

func newTestRegistry(t *testing.T) (*Registry, *store.MemoryStore, *storage.MemoryStore, *recordQueue) {
	t.Helper()
	db := store.NewMemoryStore()
	objects := storage.NewMemoryStore()
	q := &recordQueue{}
	r, err := New(Config{Store: db, Objects: objects, Queue: q})
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	return r, db, objects, q
}

func TestCreateRejectsUnsupportedFiles(t *testing.T) {
	r, _, _, _ := newTestRegistry(t)

	var validationErr *domain.ValidationError
	if _, err := r.Create(context.Background(), "", "virus.exe", []byte("x")); !errors.As(err, &validationErr) {
		t.Fatalf("expected ValidationError for .exe, got %v", err)
	}
	if _, err := r.Create(context.Background(), "", "empty.pdf", nil); !errors.As(err, &validationErr) {
		t.Fatalf("expected ValidationError for empty file, got %v", err)
	}
	if _, err := r.Create(context.Background(), "", "", []byte("x")); !errors.As(err, &validationErr) {
		t.Fatalf("expected ValidationError for missing filename, got %v", err)
	}
}

func TestCreateStoresFileAndEnqueues(t *testing.T) {
	r, db, objects, q := newTestRegistry(t)

	src, err := r.Create(context.Background(), "", "Employee Handbook.txt", []byte("hello world"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if src.Status != domain.StatusPending || src.IsActive {
		t.Fatalf("new source = %+v", src)
	}
	if src.Name != "Employee Handbook" {
		t.Fatalf("derived name = %q", src.Name)
	}
	if objects.Len() != 1 {
		t.Fatalf("objects stored = %d", objects.Len())
	}
	if len(q.enqueued) != 1 || q.enqueued[0] != src.ID {
		t.Fatalf("enqueued = %v", q.enqueued)
	}
	stored, ok, _ := db.GetDataSource(src.ID)
	if !ok || stored.StorageKey == "" {
		t.Fatalf("stored source = %+v ok=%v", stored, ok)
	}
}

func TestSetActiveRequiresCompletedStatus(t *testing.T) {
	r, db, _, _ := newTestRegistry(t)
	src, err := r.Create(context.Background(), "", "doc.txt", []byte("hello"))
	if err != nil {
		t.Fatal(err)
	}

	// The active flag is only mutable while completed, in either direction.
	for _, status := range []domain.SourceStatus{domain.StatusPending, domain.StatusProcessing, domain.StatusFailed} {
		_ = db.SetSourceStatus(src.ID, status, "")
		var stateErr *domain.InvalidStateError
		if _, err := r.SetActive(src.ID, true); !errors.As(err, &stateErr) {
			t.Fatalf("activate in %q: expected InvalidStateError, got %v", status, err)
		}
		if _, err := r.SetActive(src.ID, false); !errors.As(err, &stateErr) {
			t.Fatalf("deactivate in %q: expected InvalidStateError, got %v", status, err)
		}
	}

	_ = db.FinishSourceIngest(src.ID, 3, 30, false)
	got, err := r.SetActive(src.ID, true)
	if err != nil {
		t.Fatalf("activate completed: %v", err)
	}
	if !got.IsActive {
		t.Fatal("source not active")
	}
	if _, err := r.SetActive(src.ID, false); err != nil {
		t.Fatalf("deactivate completed: %v", err)
	}
}

func TestSetActiveFalseOnPendingSourceRejected(t *testing.T) {
	r, _, _, _ := newTestRegistry(t)
	src, err := r.Create(context.Background(), "", "doc.txt", []byte("hello"))
	if err != nil {
		t.Fatal(err)
	}

	var stateErr *domain.InvalidStateError
	if _, err := r.SetActive(src.ID, false); !errors.As(err, &stateErr) {
		t.Fatalf("SetActive(pending, false): expected InvalidStateError, got %v", err)
	}
	if stateErr.Current != domain.StatusPending {
		t.Fatalf("error names status %q, want pending", stateErr.Current)
	}
}

func TestDeleteRejectedWhileProcessing(t *testing.T) {
	r, db, _, _ := newTestRegistry(t)
	src, err := r.Create(context.Background(), "", "doc.txt", []byte("hello"))
	if err != nil {
		t.Fatal(err)
	}
	_ = db.SetSourceStatus(src.ID, domain.StatusProcessing, "")

	var stateErr *domain.InvalidStateError
	if err := r.Delete(context.Background(), src.ID); !errors.As(err, &stateErr) {
		t.Fatalf("expected InvalidStateError, got %v", err)
	}
}

func TestDeleteRemovesChunksAndObject(t *testing.T) {
	r, db, objects, _ := newTestRegistry(t)
	src, err := r.Create(context.Background(), "", "doc.txt", []byte("hello"))
	if err != nil {
		t.Fatal(err)
	}
	_ = db.FinishSourceIngest(src.ID, 1, 10, true)
	_ = db.ReplaceChunks(src.ID, []domain.Chunk{{ID: "c1", SourceID: src.ID, Content: "x", Embedding: []float32{1}}})

	if err := r.Delete(context.Background(), src.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if objects.Len() != 0 {
		t.Fatalf("object not removed, %d left", objects.Len())
	}
	// Gone even from unfiltered search.
	chunks, _ := db.SearchChunks([]float32{1}, store.SearchOptions{TopK: 10})
	if len(chunks) != 0 {
		t.Fatalf("chunks remain after delete: %d", len(chunks))
	}
	if _, err := r.Get(src.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStatsAggregates(t *testing.T) {
	r, db, _, _ := newTestRegistry(t)
	a, _ := r.Create(context.Background(), "", "a.txt", []byte("hello"))
	b, _ := r.Create(context.Background(), "", "b.txt", []byte("hello"))
	_ = db.FinishSourceIngest(a.ID, 2, 20, true)
	_ = db.ReplaceChunks(a.ID, []domain.Chunk{
		{ID: "c1", SourceID: a.ID, TokenCount: 10},
		{ID: "c2", SourceID: a.ID, TokenCount: 10},
	})
	_ = b

	stats, err := r.Stats()
	if err != nil {
		t.Fatal(err)
	}
	if stats.TotalSources != 2 || stats.ActiveSources != 1 {
		t.Fatalf("stats = %+v", stats)
	}
	if stats.TotalChunks != 2 || stats.TotalTokens != 20 {
		t.Fatalf("stats = %+v", stats)
	}
}
