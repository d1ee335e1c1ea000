package queue

import "context"

// Handler processes one ingestion task for a data source.
type Handler func(ctx context.Context, sourceID string) error

// TaskQueue dispatches background ingestion work decoupled from the request
// that created it.
type TaskQueue interface {
	Enqueue(ctx context.Context, sourceID string) error
	Start(ctx context.Context, concurrency int, handler Handler)
}
