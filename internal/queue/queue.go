package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// IngestQueueName feeds the classification/delivery worker.
	IngestQueueName = "message_queue"
	// SendQueueName feeds the outbound SMPP sender.
	SendQueueName = "send_queue"
)

// Ingestion task actions.
const (
	ActionClassifyAndDeliver = "classify_and_deliver"
	ActionClassifyOnly       = "classify_only"
	ActionDeliverOnly        = "deliver_only"
)

// ErrEmpty is returned by a blocking pop that timed out with no task.
var ErrEmpty = errors.New("queue: empty")

// IngestTask asks a worker to classify and/or deliver a stored message.
type IngestTask struct {
	MessageID int64  `json:"message_id"`
	Action    string `json:"action"`
}

// SendTask asks the outbound sender to transmit a stored message.
type SendTask struct {
	MessageID       int64  `json:"message_id"`
	DestinationAddr string `json:"destination_addr"`
	ShortMessage    string `json:"short_message"`
	SourceAddr      string `json:"source_addr,omitempty"`
}

// Queue is a FIFO work queue on a redis list: LPUSH to enqueue, BRPOP to
// consume. Pop removal happens at pop time, so the queue itself provides
// at-most-once semantics; consumers keep their processing idempotent.
type Queue struct {
	rdb  *redis.Client
	name string
}

func New(rdb *redis.Client, name string) *Queue {
	return &Queue{rdb: rdb, name: name}
}

func (q *Queue) Name() string { return q.name }

func (q *Queue) push(ctx context.Context, task any) error {
	payload, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal %s task: %w", q.name, err)
	}
	if err := q.rdb.LPush(ctx, q.name, payload).Err(); err != nil {
		return fmt.Errorf("push to %s: %w", q.name, err)
	}
	return nil
}

// pop blocks up to timeout for the oldest task. ErrEmpty on timeout so
// loops can check for shutdown between pops.
func (q *Queue) pop(ctx context.Context, timeout time.Duration, dest any) error {
	res, err := q.rdb.BRPop(ctx, timeout, q.name).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrEmpty
		}
		return fmt.Errorf("pop from %s: %w", q.name, err)
	}
	// BRPop returns [key, value].
	if err := json.Unmarshal([]byte(res[1]), dest); err != nil {
		return fmt.Errorf("decode %s task: %w", q.name, err)
	}
	return nil
}

// IngestQueue is the typed ingestion work queue.
type IngestQueue struct {
	q *Queue
}

func NewIngestQueue(rdb *redis.Client) *IngestQueue {
	return &IngestQueue{q: New(rdb, IngestQueueName)}
}

func (iq *IngestQueue) Name() string { return iq.q.name }

func (iq *IngestQueue) Enqueue(ctx context.Context, task IngestTask) error {
	return iq.q.push(ctx, task)
}

func (iq *IngestQueue) Dequeue(ctx context.Context, timeout time.Duration) (IngestTask, error) {
	var task IngestTask
	err := iq.q.pop(ctx, timeout, &task)
	return task, err
}

// SendQueue is the typed outbound send queue.
type SendQueue struct {
	q *Queue
}

func NewSendQueue(rdb *redis.Client) *SendQueue {
	return &SendQueue{q: New(rdb, SendQueueName)}
}

func (sq *SendQueue) Name() string { return sq.q.name }

func (sq *SendQueue) Enqueue(ctx context.Context, task SendTask) error {
	return sq.q.push(ctx, task)
}

func (sq *SendQueue) Dequeue(ctx context.Context, timeout time.Duration) (SendTask, error) {
	var task SendTask
	err := sq.q.pop(ctx, timeout, &task)
	return task, err
}
