package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const attemptsHeader = "x-ingest-attempts"

// AMQPJobQueue is a RabbitMQ backed TaskQueue. Deliveries are persistent;
// failed tasks are republished with an attempts header until MaxRetries is
// reached, then dropped (the data source status is the durable record).
type AMQPJobQueue struct {
	conn       *amqp.Connection
	queueName  string
	maxRetries int
	retryDelay time.Duration
}

type AMQPQueueConfig struct {
	URL        string
	Queue      string
	MaxRetries int
	RetryDelay time.Duration
}

func NewAMQPJobQueue(cfg AMQPQueueConfig) (*AMQPJobQueue, error) {
	url := strings.TrimSpace(cfg.URL)
	if url == "" {
		return nil, errors.New("amqp url required")
	}
	queueName := strings.TrimSpace(cfg.Queue)
	if queueName == "" {
		return nil, errors.New("queue name required")
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	retryDelay := cfg.RetryDelay
	if retryDelay <= 0 {
		retryDelay = 2 * time.Second
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()
	if _, err := ch.QueueDeclare(queueName, true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declare queue: %w", err)
	}
	return &AMQPJobQueue{
		conn:       conn,
		queueName:  queueName,
		maxRetries: maxRetries,
		retryDelay: retryDelay,
	}, nil
}

// Enqueue publishes a persistent ingestion task.
func (q *AMQPJobQueue) Enqueue(ctx context.Context, sourceID string) error {
	sourceID = strings.TrimSpace(sourceID)
	if sourceID == "" {
		return errors.New("sourceId required")
	}
	return q.publish(ctx, sourceID, 0)
}

func (q *AMQPJobQueue) publish(ctx context.Context, sourceID string, attempts int) error {
	ch, err := q.conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()
	return ch.PublishWithContext(ctx, "", q.queueName, false, false, amqp.Publishing{
		DeliveryMode: amqp.Persistent,
		ContentType:  "text/plain",
		Body:         []byte(sourceID),
		Headers:      amqp.Table{attemptsHeader: int32(attempts)},
	})
}

// Start launches consumer goroutines feeding the handler.
func (q *AMQPJobQueue) Start(ctx context.Context, concurrency int, handler Handler) {
	if concurrency <= 0 {
		concurrency = 1
	}
	for i := 0; i < concurrency; i++ {
		go q.consumeLoop(ctx, fmt.Sprintf("ingest-%d", i), handler)
	}
}

func (q *AMQPJobQueue) consumeLoop(ctx context.Context, consumer string, handler Handler) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if err := q.consume(ctx, consumer, handler); err != nil {
			select {
			case <-ctx.Done():
				return
			case <-time.After(q.retryDelay):
			}
		}
	}
}

func (q *AMQPJobQueue) consume(ctx context.Context, consumer string, handler Handler) error {
	ch, err := q.conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()
	if err := ch.Qos(1, 0, false); err != nil {
		return err
	}
	deliveries, err := ch.Consume(q.queueName, consumer, false, false, false, false, nil)
	if err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case delivery, ok := <-deliveries:
			if !ok {
				return errors.New("delivery channel closed")
			}
			q.handleDelivery(ctx, delivery, handler)
		}
	}
}

func (q *AMQPJobQueue) handleDelivery(ctx context.Context, delivery amqp.Delivery, handler Handler) {
	sourceID := strings.TrimSpace(string(delivery.Body))
	if sourceID == "" {
		_ = delivery.Ack(false)
		return
	}
	attempts := deliveryAttempts(delivery) + 1
	if err := handler(ctx, sourceID); err == nil {
		_ = delivery.Ack(false)
		return
	}
	if attempts >= q.maxRetries {
		_ = delivery.Ack(false)
		return
	}
	select {
	case <-ctx.Done():
		_ = delivery.Nack(false, true)
		return
	case <-time.After(q.retryDelay):
	}
	if err := q.publish(ctx, sourceID, attempts); err != nil {
		_ = delivery.Nack(false, true)
		return
	}
	_ = delivery.Ack(false)
}

func deliveryAttempts(delivery amqp.Delivery) int {
	if delivery.Headers == nil {
		return 0
	}
	switch v := delivery.Headers[attemptsHeader].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}

// Close releases the AMQP connection.
func (q *AMQPJobQueue) Close() error {
	return q.conn.Close()
}
