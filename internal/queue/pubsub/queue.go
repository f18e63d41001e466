// Package pubsub implements the capture job queue on Google Cloud Pub/Sub
// so accepted jobs survive restarts and spread across service replicas.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	pubsub "cloud.google.com/go/pubsub/v2"
	"go.uber.org/zap"

	"github.com/dealbridge/dealroom-capture/internal/engine"
)

// Queue is a durable job queue bound to one topic and subscription pair.
// Workers on any replica share the subscription.
type Queue struct {
	publisher  *pubsub.Publisher
	subscriber *pubsub.Subscriber
	items      chan engine.QueueItem
	stop       context.CancelFunc
	done       chan struct{}
	logger     *zap.Logger
}

// New creates the queue and starts its receive loop. The client stays owned
// by the caller; Close stops the loop without closing the client.
func New(client *pubsub.Client, topicID, subscriptionID string, logger *zap.Logger) (*Queue, error) {
	if client == nil {
		return nil, fmt.Errorf("pubsub client is required")
	}
	if topicID == "" || subscriptionID == "" {
		return nil, fmt.Errorf("pubsub queue needs both a topic and a subscription")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	runCtx, stop := context.WithCancel(context.Background())
	q := &Queue{
		publisher:  client.Publisher(topicID),
		subscriber: client.Subscriber(subscriptionID),
		items:      make(chan engine.QueueItem),
		stop:       stop,
		done:       make(chan struct{}),
		logger:     logger,
	}
	go q.receive(runCtx)
	return q, nil
}

// Enqueue publishes the job and waits for the server ack so an accepted
// webhook is never silently lost.
func (q *Queue) Enqueue(ctx context.Context, item engine.QueueItem) error {
	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("marshal queue item: %w", err)
	}
	result := q.publisher.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: map[string]string{"job_id": item.JobID},
	})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish queue item: %w", err)
	}
	return nil
}

// Dequeue blocks until a job arrives or the context ends.
func (q *Queue) Dequeue(ctx context.Context) (engine.QueueItem, error) {
	select {
	case <-ctx.Done():
		return engine.QueueItem{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case item, ok := <-q.items:
		if !ok {
			return engine.QueueItem{}, fmt.Errorf("queue closed")
		}
		return item, nil
	}
}

// Close stops the receive loop and waits for it to drain. Messages handed to
// a worker stay acked; anything in flight is nacked and redelivers elsewhere.
func (q *Queue) Close() {
	q.stop()
	<-q.done
}

func (q *Queue) receive(ctx context.Context) {
	defer close(q.done)
	err := q.subscriber.Receive(ctx, func(mctx context.Context, msg *pubsub.Message) {
		var item engine.QueueItem
		if err := json.Unmarshal(msg.Data, &item); err != nil {
			// An undecodable message would redeliver forever. Ack and drop.
			q.logger.Warn("dropping undecodable queue message",
				zap.String("message_id", msg.ID),
				zap.Error(err))
			msg.Ack()
			return
		}
		select {
		case q.items <- item:
			msg.Ack()
		case <-mctx.Done():
			msg.Nack()
		}
	})
	if err != nil && ctx.Err() == nil {
		q.logger.Error("queue receive loop ended", zap.Error(err))
	}
}
