// Package pubsub implements the job queue on a Google Cloud Pub/Sub topic and
// subscription, so several service replicas can share one backlog.
package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	"github.com/iantaiahn/topicscraper/internal/jobs"
)

type delivery struct {
	item jobs.QueueItem
	msg  *pubsub.Message
}

// Queue publishes items to a topic and hands received messages to Dequeue
// callers one at a time. A message is acked once a caller has taken it.
type Queue struct {
	topic  *pubsub.Topic
	sub    *pubsub.Subscription
	logger *zap.Logger

	deliveries chan delivery
	startOnce  sync.Once
	closeOnce  sync.Once
	stop       context.CancelFunc
	done       chan struct{}
	receiveErr error
}

// New builds a Queue on existing topic and subscription IDs.
func New(client *pubsub.Client, topicID, subscriptionID string, logger *zap.Logger) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	sub := client.Subscription(subscriptionID)
	sub.ReceiveSettings.NumGoroutines = 1
	sub.ReceiveSettings.MaxOutstandingMessages = 1
	return &Queue{
		topic:      client.Topic(topicID),
		sub:        sub,
		logger:     logger.Named("pubsub_queue"),
		deliveries: make(chan delivery),
		done:       make(chan struct{}),
	}
}

// Enqueue publishes the item and waits for the server acknowledgement.
func (q *Queue) Enqueue(ctx context.Context, item jobs.QueueItem) error {
	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("marshal queue item: %w", err)
	}
	msg := &pubsub.Message{
		Data:       data,
		Attributes: map[string]string{"job_id": item.JobID},
	}
	if _, err := q.topic.Publish(ctx, msg).Get(ctx); err != nil {
		return fmt.Errorf("publish queue item: %w", err)
	}
	return nil
}

// Dequeue blocks until a message arrives, ctx ends, or the queue is closed.
func (q *Queue) Dequeue(ctx context.Context) (jobs.QueueItem, error) {
	q.startOnce.Do(q.start)
	select {
	case <-ctx.Done():
		return jobs.QueueItem{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case <-q.done:
		if q.receiveErr != nil {
			return jobs.QueueItem{}, fmt.Errorf("%w: %w", jobs.ErrQueueClosed, q.receiveErr)
		}
		return jobs.QueueItem{}, jobs.ErrQueueClosed
	case d := <-q.deliveries:
		d.msg.Ack()
		return d.item, nil
	}
}

func (q *Queue) start() {
	ctx, cancel := context.WithCancel(context.Background())
	q.stop = cancel
	go func() {
		defer close(q.done)
		err := q.sub.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
			var item jobs.QueueItem
			if err := json.Unmarshal(msg.Data, &item); err != nil || item.JobID == "" {
				q.logger.Warn("dropping malformed queue message", zap.String("message_id", msg.ID), zap.Error(err))
				msg.Ack()
				return
			}
			select {
			case q.deliveries <- delivery{item: item, msg: msg}:
			case <-ctx.Done():
				msg.Nack()
			}
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			q.logger.Error("pubsub receive stopped", zap.Error(err))
			q.receiveErr = err
		}
	}()
}

// Close stops receiving and flushes pending publishes. The client is owned
// by the caller.
func (q *Queue) Close() {
	q.closeOnce.Do(func() {
		q.startOnce.Do(func() { close(q.done) })
		if q.stop != nil {
			q.stop()
			<-q.done
		}
		q.topic.Stop()
	})
}
