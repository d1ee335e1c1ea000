package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"companychat/pkg/ai"
	"companychat/pkg/domain"
	"companychat/pkg/store"
)

type stubGenerator struct {
	reply string
	err   error
	got   [][]ai.ChatMessage
}

func (g *stubGenerator) GenerateChat(ctx context.Context, messages []ai.ChatMessage) (string, error) {
	copied := make([]ai.ChatMessage, len(messages))
	copy(copied, messages)
	g.got = append(g.got, copied)
	if g.err != nil {
		return "", g.err
	}
	return g.reply, nil
}

type stubRetriever struct {
	chunks []domain.ScoredChunk
	err    error
	calls  int
}

func (r *stubRetriever) Retrieve(ctx context.Context, query string) ([]domain.ScoredChunk, error) {
	r.calls++
	return r.chunks, r.err
}

func newTestEngine(t *testing.T, gen *stubGenerator, ret *stubRetriever) (*Engine, *store.MemoryStore) {
	t.Helper()
	db := store.NewMemoryStore()
	e, err := New(Config{Store: db, Generator: gen, Retriever: ret, HistoryLimit: 4})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return e, db
}

func TestPostMessageCreatesConversationWithTitle(t *testing.T) {
	gen := &stubGenerator{reply: "hi there"}
	e, db := newTestEngine(t, gen, &stubRetriever{})

	res, err := e.PostMessage(context.Background(), "", "How do I submit expenses?", false)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	if res.Conversation.Title != "How do I submit expenses?" {
		t.Fatalf("title = %q", res.Conversation.Title)
	}
	if res.Conversation.UseCompanyData {
		t.Fatal("useCompanyData should be false")
	}
	if res.AssistantMessage.Content != "hi there" {
		t.Fatalf("assistant content = %q", res.AssistantMessage.Content)
	}
	count, _ := db.CountMessages(res.Conversation.ID)
	if count != 2 {
		t.Fatalf("messages = %d, want 2", count)
	}
}

func TestPostMessageTruncatesLongTitle(t *testing.T) {
	e, _ := newTestEngine(t, &stubGenerator{reply: "ok"}, &stubRetriever{})
	long := strings.Repeat("word ", 40)

	res, err := e.PostMessage(context.Background(), "", long, false)
	if err != nil {
		t.Fatal(err)
	}
	if got := len([]rune(res.Conversation.Title)); got > 60 {
		t.Fatalf("title length = %d runes", got)
	}
}

func TestCompanyDataFlagFixedAtCreation(t *testing.T) {
	ret := &stubRetriever{}
	e, _ := newTestEngine(t, &stubGenerator{reply: "ok"}, ret)

	res, err := e.PostMessage(context.Background(), "", "first", false)
	if err != nil {
		t.Fatal(err)
	}
	if ret.calls != 0 {
		t.Fatalf("retriever called %d times for plain conversation", ret.calls)
	}

	// The flag in a follow-up request is ignored; the stored value wins.
	if _, err := e.PostMessage(context.Background(), res.Conversation.ID, "second", true); err != nil {
		t.Fatal(err)
	}
	if ret.calls != 0 {
		t.Fatalf("retriever called %d times despite conversation created without company data", ret.calls)
	}
}

func TestCompanyDataPersistsWhenFlagOmitted(t *testing.T) {
	ret := &stubRetriever{}
	e, _ := newTestEngine(t, &stubGenerator{reply: "ok"}, ret)

	res, err := e.PostMessage(context.Background(), "", "first", true)
	if err != nil {
		t.Fatal(err)
	}
	if ret.calls != 1 {
		t.Fatalf("retriever calls = %d, want 1", ret.calls)
	}

	// A follow-up without the flag (zero value false) must still retrieve.
	if _, err := e.PostMessage(context.Background(), res.Conversation.ID, "second", false); err != nil {
		t.Fatal(err)
	}
	if ret.calls != 2 {
		t.Fatalf("retriever calls = %d, want 2", ret.calls)
	}
}

func TestPostMessageAugmentsPromptAndLogsQuery(t *testing.T) {
	ret := &stubRetriever{chunks: []domain.ScoredChunk{
		{Chunk: domain.Chunk{ID: "c1", SourceID: "src", Content: "Expenses are filed in Workday."}, Score: 0.9},
	}}
	gen := &stubGenerator{reply: "File them in Workday [1]."}
	e, db := newTestEngine(t, gen, ret)

	res, err := e.PostMessage(context.Background(), "", "How do I file expenses?", true)
	if err != nil {
		t.Fatal(err)
	}
	if !res.UsedCompanyData || res.RetrievedChunks != 1 {
		t.Fatalf("result = %+v", res)
	}
	if len(gen.got) != 1 {
		t.Fatalf("generator calls = %d", len(gen.got))
	}
	system := gen.got[0][0]
	if system.Role != domain.RoleSystem {
		t.Fatalf("first message role = %q", system.Role)
	}
	if !strings.Contains(system.Content, "[1]") || !strings.Contains(system.Content, "Workday") {
		t.Fatalf("system prompt missing context: %q", system.Content)
	}
	logs, _ := db.CountQueryLogs()
	if logs != 1 {
		t.Fatalf("query logs = %d, want 1", logs)
	}
}

func TestPostMessageRetrievalFailureDegrades(t *testing.T) {
	ret := &stubRetriever{err: fmt.Errorf("index offline")}
	gen := &stubGenerator{reply: "best effort answer"}
	e, db := newTestEngine(t, gen, ret)

	res, err := e.PostMessage(context.Background(), "", "question", true)
	if err != nil {
		t.Fatalf("retrieval failure must not fail the turn: %v", err)
	}
	if res.RetrievedChunks != 0 {
		t.Fatalf("retrievedChunks = %d", res.RetrievedChunks)
	}
	if !strings.Contains(gen.got[0][0].Content, "helpful assistant") || strings.Contains(gen.got[0][0].Content, "COMPANY DOCUMENTS") {
		t.Fatalf("expected plain system prompt, got %q", gen.got[0][0].Content)
	}
	logs, _ := db.CountQueryLogs()
	if logs != 0 {
		t.Fatalf("query logs = %d, want 0", logs)
	}
}

func TestPostMessageGenerationErrorKeepsUserMessage(t *testing.T) {
	gen := &stubGenerator{err: fmt.Errorf("model timeout")}
	e, db := newTestEngine(t, gen, &stubRetriever{})

	res, err := e.PostMessage(context.Background(), "", "hello", false)
	var genErr *GenerationError
	if !errors.As(err, &genErr) {
		t.Fatalf("expected GenerationError, got %v", err)
	}
	count, _ := db.CountMessages(res.Conversation.ID)
	if count != 1 {
		t.Fatalf("messages = %d, want the user message persisted", count)
	}
	msgs, _ := db.ListMessages(res.Conversation.ID, 0)
	if msgs[0].Role != domain.RoleUser || msgs[0].Content != "hello" {
		t.Fatalf("persisted message = %+v", msgs[0])
	}
}

func TestPostMessageHistoryLimit(t *testing.T) {
	gen := &stubGenerator{reply: "ok"}
	e, _ := newTestEngine(t, gen, &stubRetriever{})

	res, err := e.PostMessage(context.Background(), "", "m1", false)
	if err != nil {
		t.Fatal(err)
	}
	for i := 2; i <= 4; i++ {
		if _, err := e.PostMessage(context.Background(), res.Conversation.ID, fmt.Sprintf("m%d", i), false); err != nil {
			t.Fatal(err)
		}
	}
	last := gen.got[len(gen.got)-1]
	// 1 system message plus at most historyLimit (4) history messages.
	if len(last) != 5 {
		t.Fatalf("prompt messages = %d, want 5", len(last))
	}
	if last[len(last)-1].Content != "m4" {
		t.Fatalf("last prompt message = %q", last[len(last)-1].Content)
	}
}

func TestPostMessageValidation(t *testing.T) {
	e, _ := newTestEngine(t, &stubGenerator{reply: "ok"}, &stubRetriever{})

	var validationErr *domain.ValidationError
	if _, err := e.PostMessage(context.Background(), "", "   ", false); !errors.As(err, &validationErr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if _, err := e.PostMessage(context.Background(), "missing", "hello", false); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteConversation(t *testing.T) {
	e, _ := newTestEngine(t, &stubGenerator{reply: "ok"}, &stubRetriever{})
	res, err := e.PostMessage(context.Background(), "", "hello", false)
	if err != nil {
		t.Fatal(err)
	}
	if err := e.DeleteConversation(res.Conversation.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := e.GetConversation(res.Conversation.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
	if err := e.DeleteConversation(res.Conversation.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("double delete should be ErrNotFound, got %v", err)
	}
}

func TestCreateConversationDefaults(t *testing.T) {
	e, _ := newTestEngine(t, &stubGenerator{reply: "ok"}, &stubRetriever{})
	conv, err := e.CreateConversation(true)
	if err != nil {
		t.Fatal(err)
	}
	if conv.Title != "New conversation" || !conv.UseCompanyData {
		t.Fatalf("conversation = %+v", conv)
	}
}
