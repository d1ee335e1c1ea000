package store

import (
	"testing"
	"time"

	"companychat/pkg/domain"
)

func seedSearchFixture(t *testing.T) *MemoryStore {
	t.Helper()
	m := NewMemoryStore()
	now := time.Now().UTC()
	sources := []domain.DataSource{
		{ID: "active", Status: domain.StatusCompleted, IsActive: true, CreatedAt: now},
		{ID: "dormant", Status: domain.StatusCompleted, IsActive: false, CreatedAt: now},
		{ID: "failed", Status: domain.StatusFailed, IsActive: true, CreatedAt: now},
	}
	for _, src := range sources {
		if err := m.SaveDataSource(src); err != nil {
			t.Fatal(err)
		}
	}
	_ = m.ReplaceChunks("active", []domain.Chunk{
		{ID: "a1", SourceID: "active", Embedding: []float32{1, 0}},
		{ID: "a2", SourceID: "active", Embedding: []float32{0.9, 0.1}},
	})
	_ = m.ReplaceChunks("dormant", []domain.Chunk{
		{ID: "d1", SourceID: "dormant", Embedding: []float32{1, 0}},
	})
	_ = m.ReplaceChunks("failed", []domain.Chunk{
		{ID: "f1", SourceID: "failed", Embedding: []float32{1, 0}},
	})
	return m
}

func TestSearchChunksActiveOnly(t *testing.T) {
	m := seedSearchFixture(t)

	got, err := m.SearchChunks([]float32{1, 0}, SearchOptions{ActiveOnly: true, TopK: 10})
	if err != nil {
		t.Fatal(err)
	}
	for _, chunk := range got {
		if chunk.SourceID != "active" {
			t.Fatalf("chunk from filtered source leaked: %+v", chunk)
		}
	}
	if len(got) != 2 {
		t.Fatalf("got %d chunks, want 2", len(got))
	}

	all, err := m.SearchChunks([]float32{1, 0}, SearchOptions{TopK: 10})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 4 {
		t.Fatalf("unfiltered search got %d chunks, want 4", len(all))
	}
}

func TestSearchChunksTieBreakByID(t *testing.T) {
	m := NewMemoryStore()
	_ = m.SaveDataSource(domain.DataSource{ID: "s", Status: domain.StatusCompleted, IsActive: true})
	_ = m.ReplaceChunks("s", []domain.Chunk{
		{ID: "z", SourceID: "s", Embedding: []float32{1, 0}},
		{ID: "a", SourceID: "s", Embedding: []float32{1, 0}},
	})

	got, err := m.SearchChunks([]float32{1, 0}, SearchOptions{ActiveOnly: true, TopK: 10})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].ID != "a" || got[1].ID != "z" {
		t.Fatalf("tie-break order wrong: %+v", got)
	}
}

func TestSearchChunksMinScoreAndTopK(t *testing.T) {
	m := NewMemoryStore()
	_ = m.SaveDataSource(domain.DataSource{ID: "s", Status: domain.StatusCompleted, IsActive: true})
	_ = m.ReplaceChunks("s", []domain.Chunk{
		{ID: "near", SourceID: "s", Embedding: []float32{1, 0}},
		{ID: "mid", SourceID: "s", Embedding: []float32{0.7, 0.7}},
		{ID: "far", SourceID: "s", Embedding: []float32{0, 1}},
	})

	got, err := m.SearchChunks([]float32{1, 0}, SearchOptions{ActiveOnly: true, TopK: 10, MinScore: 0.5})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("minScore filter got %d chunks, want 2", len(got))
	}

	got, err = m.SearchChunks([]float32{1, 0}, SearchOptions{ActiveOnly: true, TopK: 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != "near" {
		t.Fatalf("topK got %+v", got)
	}
}

func TestDeleteConversationCascades(t *testing.T) {
	m := NewMemoryStore()
	now := time.Now().UTC()
	_ = m.CreateConversation(domain.Conversation{ID: "c1", CreatedAt: now, UpdatedAt: now})
	_ = m.AppendMessage(domain.Message{ID: "m1", ConversationID: "c1", Role: domain.RoleUser})
	_ = m.AppendFeedback(domain.Feedback{ID: "f1", ConversationID: "c1", MessageID: "m1", Kind: domain.FeedbackThumbsUp})

	if err := m.DeleteConversation("c1"); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := m.GetConversation("c1"); ok {
		t.Fatal("conversation still present")
	}
	if _, ok, _ := m.GetMessage("m1"); ok {
		t.Fatal("message index still holds deleted message")
	}
	count, _ := m.CountFeedback("c1")
	if count != 0 {
		t.Fatalf("feedback count = %d", count)
	}
}

func TestFinishSourceIngestSetsCounters(t *testing.T) {
	m := NewMemoryStore()
	_ = m.SaveDataSource(domain.DataSource{ID: "s", Status: domain.StatusProcessing})

	if err := m.FinishSourceIngest("s", 7, 700, true); err != nil {
		t.Fatal(err)
	}
	src, _, _ := m.GetDataSource("s")
	if src.Status != domain.StatusCompleted || !src.IsActive {
		t.Fatalf("source = %+v", src)
	}
	if src.TotalChunks != 7 || src.TotalTokens != 700 {
		t.Fatalf("counters = %d/%d", src.TotalChunks, src.TotalTokens)
	}
	if src.ProcessingCompletedAt == nil {
		t.Fatal("completion timestamp missing")
	}
}

func TestListConversationsNewestFirst(t *testing.T) {
	m := NewMemoryStore()
	base := time.Now().UTC()
	_ = m.CreateConversation(domain.Conversation{ID: "old", CreatedAt: base, UpdatedAt: base})
	_ = m.CreateConversation(domain.Conversation{ID: "new", CreatedAt: base, UpdatedAt: base.Add(time.Minute)})

	got, err := m.ListConversations(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].ID != "new" {
		t.Fatalf("order = %+v", got)
	}
}
