package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/mantecinfox/smpp-gateway/internal/logging"
	"github.com/mantecinfox/smpp-gateway/internal/queue"
)

// Loop tuning shared by both consumers. The pop timeout bounds how long a
// shutdown signal can go unobserved; the error backoff keeps a poisoned
// task or a down dependency from spinning the loop.
const (
	DefaultPopTimeout   = 5 * time.Second
	DefaultErrorBackoff = 5 * time.Second
)

// IngestWorker consumes the ingestion queue and runs each task through the
// processor. The loop never exits on a task failure, only on context
// cancellation.
type IngestWorker struct {
	queue        *queue.IngestQueue
	processor    *Processor
	popTimeout   time.Duration
	errorBackoff time.Duration
}

func NewIngestWorker(q *queue.IngestQueue, p *Processor, popTimeout, errorBackoff time.Duration) *IngestWorker {
	if popTimeout <= 0 {
		popTimeout = DefaultPopTimeout
	}
	if errorBackoff <= 0 {
		errorBackoff = DefaultErrorBackoff
	}
	return &IngestWorker{queue: q, processor: p, popTimeout: popTimeout, errorBackoff: errorBackoff}
}

func (w *IngestWorker) Run(ctx context.Context) {
	ctx = logging.ContextWithWorker(ctx, "ingest")
	ctx = logging.ContextWithQueue(ctx, w.queue.Name())
	slog.InfoContext(ctx, "Ingestion worker started")

	for {
		if ctx.Err() != nil {
			slog.InfoContext(ctx, "Ingestion worker stopped")
			return
		}

		task, err := w.queue.Dequeue(ctx, w.popTimeout)
		if err != nil {
			if errors.Is(err, queue.ErrEmpty) {
				continue
			}
			if ctx.Err() != nil {
				continue
			}
			slog.ErrorContext(ctx, "Failed to pop ingestion task", slog.Any("error", err))
			sleep(ctx, w.errorBackoff)
			continue
		}

		if err := w.processor.ProcessIngestion(ctx, task); err != nil {
			slog.ErrorContext(ctx, "Ingestion task failed",
				slog.Int64("msg_id", task.MessageID),
				slog.String("action", task.Action),
				slog.Any("error", err),
			)
			sleep(ctx, w.errorBackoff)
		}
	}
}

// SendWorker consumes the outbound send queue.
type SendWorker struct {
	queue        *queue.SendQueue
	processor    *SendProcessor
	popTimeout   time.Duration
	errorBackoff time.Duration
}

func NewSendWorker(q *queue.SendQueue, p *SendProcessor, popTimeout, errorBackoff time.Duration) *SendWorker {
	if popTimeout <= 0 {
		popTimeout = DefaultPopTimeout
	}
	if errorBackoff <= 0 {
		errorBackoff = DefaultErrorBackoff
	}
	return &SendWorker{queue: q, processor: p, popTimeout: popTimeout, errorBackoff: errorBackoff}
}

func (w *SendWorker) Run(ctx context.Context) {
	ctx = logging.ContextWithWorker(ctx, "send")
	ctx = logging.ContextWithQueue(ctx, w.queue.Name())
	slog.InfoContext(ctx, "Send worker started")

	for {
		if ctx.Err() != nil {
			slog.InfoContext(ctx, "Send worker stopped")
			return
		}

		task, err := w.queue.Dequeue(ctx, w.popTimeout)
		if err != nil {
			if errors.Is(err, queue.ErrEmpty) {
				continue
			}
			if ctx.Err() != nil {
				continue
			}
			slog.ErrorContext(ctx, "Failed to pop send task", slog.Any("error", err))
			sleep(ctx, w.errorBackoff)
			continue
		}

		if err := w.processor.ProcessSend(ctx, task); err != nil {
			slog.ErrorContext(ctx, "Send task failed",
				slog.Int64("msg_id", task.MessageID),
				slog.Any("error", err),
			)
			sleep(ctx, w.errorBackoff)
		}
	}
}

func sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
