package feedback

import (
	"errors"
	"fmt"
	"time"

	"companychat/internal/util"
	"companychat/pkg/domain"
	"companychat/pkg/store"
)

// Config wires tracker dependencies.
type Config struct {
	Store store.Store
}

// Tracker records user feedback on assistant messages.
type Tracker struct {
	store store.Store
}

// New validates cfg and builds a Tracker.
func New(cfg Config) (*Tracker, error) {
	if cfg.Store == nil {
		return nil, errors.New("feedback: store is required")
	}
	return &Tracker{store: cfg.Store}, nil
}

// Submission is one feedback entry as received from the client.
type Submission struct {
	ConversationID string
	MessageID      string
	Kind           domain.FeedbackKind
	Rating         *int
	Comment        string
}

// Submit validates and stores one feedback entry. A numeric rating in
// [1, 5] is required for kind "rating" and rejected for the thumb kinds.
func (t *Tracker) Submit(sub Submission) (domain.Feedback, error) {
	switch sub.Kind {
	case domain.FeedbackThumbsUp, domain.FeedbackThumbsDown:
		if sub.Rating != nil {
			return domain.Feedback{}, domain.Validationf("rating is only allowed for kind %q", domain.FeedbackRating)
		}
	case domain.FeedbackRating:
		if sub.Rating == nil {
			return domain.Feedback{}, domain.Validationf("rating is required for kind %q", domain.FeedbackRating)
		}
		if *sub.Rating < 1 || *sub.Rating > 5 {
			return domain.Feedback{}, domain.Validationf("rating must be between 1 and 5, got %d", *sub.Rating)
		}
	default:
		return domain.Feedback{}, domain.Validationf("unknown feedback kind %q", sub.Kind)
	}

	if _, ok, err := t.store.GetConversation(sub.ConversationID); err != nil {
		return domain.Feedback{}, fmt.Errorf("load conversation: %w", err)
	} else if !ok {
		return domain.Feedback{}, fmt.Errorf("conversation %s: %w", sub.ConversationID, domain.ErrNotFound)
	}
	msg, ok, err := t.store.GetMessage(sub.MessageID)
	if err != nil {
		return domain.Feedback{}, fmt.Errorf("load message: %w", err)
	}
	if !ok {
		return domain.Feedback{}, fmt.Errorf("message %s: %w", sub.MessageID, domain.ErrNotFound)
	}
	if msg.ConversationID != sub.ConversationID {
		return domain.Feedback{}, domain.Validationf("message %s does not belong to conversation %s", sub.MessageID, sub.ConversationID)
	}

	fb := domain.Feedback{
		ID:             util.NewID(),
		ConversationID: sub.ConversationID,
		MessageID:      sub.MessageID,
		Kind:           sub.Kind,
		Rating:         sub.Rating,
		Comment:        sub.Comment,
		CreatedAt:      time.Now().UTC(),
	}
	if err := t.store.AppendFeedback(fb); err != nil {
		return domain.Feedback{}, fmt.Errorf("append feedback: %w", err)
	}
	return fb, nil
}
