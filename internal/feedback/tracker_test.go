package feedback

import (
	"errors"
	"testing"
	"time"

	"companychat/pkg/domain"
	"companychat/pkg/store"
)

func intPtr(v int) *int { return &v }

func newTestTracker(t *testing.T) (*Tracker, *store.MemoryStore) {
	t.Helper()
	db := store.NewMemoryStore()
	tracker, err := New(Config{Store: db})
	if err != nil {
		t.Fatalf("new tracker: %v", err)
	}
	now := time.Now().UTC()
	if err := db.CreateConversation(domain.Conversation{ID: "conv-1", Title: "t", CreatedAt: now, UpdatedAt: now}); err != nil {
		t.Fatal(err)
	}
	if err := db.AppendMessage(domain.Message{ID: "msg-1", ConversationID: "conv-1", Role: domain.RoleAssistant, Content: "answer", CreatedAt: now}); err != nil {
		t.Fatal(err)
	}
	return tracker, db
}

func TestSubmitRatingBounds(t *testing.T) {
	tracker, _ := newTestTracker(t)

	var validationErr *domain.ValidationError
	for _, rating := range []int{0, 6, -1} {
		_, err := tracker.Submit(Submission{ConversationID: "conv-1", MessageID: "msg-1", Kind: domain.FeedbackRating, Rating: intPtr(rating)})
		if !errors.As(err, &validationErr) {
			t.Fatalf("rating %d: expected ValidationError, got %v", rating, err)
		}
	}
	for _, rating := range []int{1, 5} {
		if _, err := tracker.Submit(Submission{ConversationID: "conv-1", MessageID: "msg-1", Kind: domain.FeedbackRating, Rating: intPtr(rating)}); err != nil {
			t.Fatalf("rating %d: %v", rating, err)
		}
	}
}

func TestSubmitRatingRequiredOnlyForRatingKind(t *testing.T) {
	tracker, _ := newTestTracker(t)

	var validationErr *domain.ValidationError
	if _, err := tracker.Submit(Submission{ConversationID: "conv-1", MessageID: "msg-1", Kind: domain.FeedbackRating}); !errors.As(err, &validationErr) {
		t.Fatalf("missing rating: expected ValidationError, got %v", err)
	}
	if _, err := tracker.Submit(Submission{ConversationID: "conv-1", MessageID: "msg-1", Kind: domain.FeedbackThumbsUp, Rating: intPtr(4)}); !errors.As(err, &validationErr) {
		t.Fatalf("thumbs_up with rating: expected ValidationError, got %v", err)
	}
	if _, err := tracker.Submit(Submission{ConversationID: "conv-1", MessageID: "msg-1", Kind: "meh"}); !errors.As(err, &validationErr) {
		t.Fatalf("unknown kind: expected ValidationError, got %v", err)
	}
}

func TestSubmitChecksOwnership(t *testing.T) {
	tracker, db := newTestTracker(t)
	now := time.Now().UTC()
	_ = db.CreateConversation(domain.Conversation{ID: "conv-2", CreatedAt: now, UpdatedAt: now})

	var validationErr *domain.ValidationError
	if _, err := tracker.Submit(Submission{ConversationID: "conv-2", MessageID: "msg-1", Kind: domain.FeedbackThumbsUp}); !errors.As(err, &validationErr) {
		t.Fatalf("cross-conversation feedback: expected ValidationError, got %v", err)
	}
	if _, err := tracker.Submit(Submission{ConversationID: "missing", MessageID: "msg-1", Kind: domain.FeedbackThumbsUp}); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("missing conversation: expected ErrNotFound, got %v", err)
	}
	if _, err := tracker.Submit(Submission{ConversationID: "conv-1", MessageID: "missing", Kind: domain.FeedbackThumbsUp}); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("missing message: expected ErrNotFound, got %v", err)
	}
}

func TestSubmitAccumulates(t *testing.T) {
	tracker, db := newTestTracker(t)

	if _, err := tracker.Submit(Submission{ConversationID: "conv-1", MessageID: "msg-1", Kind: domain.FeedbackThumbsDown, Comment: "off topic"}); err != nil {
		t.Fatal(err)
	}
	fb, err := tracker.Submit(Submission{ConversationID: "conv-1", MessageID: "msg-1", Kind: domain.FeedbackRating, Rating: intPtr(4)})
	if err != nil {
		t.Fatal(err)
	}
	if fb.Rating == nil || *fb.Rating != 4 {
		t.Fatalf("feedback = %+v", fb)
	}
	count, _ := db.CountFeedback("conv-1")
	if count != 2 {
		t.Fatalf("feedback count = %d, want 2", count)
	}
}
