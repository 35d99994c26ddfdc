package logging

import (
	"context"
	"log/slog"
)

type contextKey string

const (
	MessageIDKey     contextKey = "msg_id"
	ExternalIDKey    contextKey = "external_id"
	ClientIDKey      contextKey = "client_id"
	ServiceIDKey     contextKey = "service_id"
	ProviderMsgIDKey contextKey = "provider_msg_id"
	QueueKey         contextKey = "queue"
	CallbackURLKey   contextKey = "callback_url"
	WorkerKey        contextKey = "worker"
	SeqNumberKey     contextKey = "seq_num"
)

// ContextHandler wraps another slog.Handler and adds attributes from context.
type ContextHandler struct {
	slog.Handler
}

// NewContextHandler creates a handler that extracts values from context.
func NewContextHandler(h slog.Handler) *ContextHandler {
	return &ContextHandler{Handler: h}
}

// Handle adds context attributes before calling the wrapped handler.
func (h *ContextHandler) Handle(ctx context.Context, r slog.Record) error {
	if msgID, ok := ctx.Value(MessageIDKey).(int64); ok {
		r.AddAttrs(slog.Int64("msg_id", msgID))
	}
	if extID, ok := ctx.Value(ExternalIDKey).(string); ok {
		r.AddAttrs(slog.String("external_id", extID))
	}
	if clientID, ok := ctx.Value(ClientIDKey).(int64); ok {
		r.AddAttrs(slog.Int64("client_id", clientID))
	}
	if svcID, ok := ctx.Value(ServiceIDKey).(int64); ok {
		r.AddAttrs(slog.Int64("service_id", svcID))
	}
	if provID, ok := ctx.Value(ProviderMsgIDKey).(string); ok {
		r.AddAttrs(slog.String("provider_msg_id", provID))
	}
	if queue, ok := ctx.Value(QueueKey).(string); ok {
		r.AddAttrs(slog.String("queue", queue))
	}
	if worker, ok := ctx.Value(WorkerKey).(string); ok {
		r.AddAttrs(slog.String("worker", worker))
	}

	return h.Handler.Handle(ctx, r)
}

// Helper functions to add values to context

func ContextWithMessageID(ctx context.Context, msgID int64) context.Context {
	return context.WithValue(ctx, MessageIDKey, msgID)
}

func ContextWithExternalID(ctx context.Context, externalID string) context.Context {
	return context.WithValue(ctx, ExternalIDKey, externalID)
}

func ContextWithClientID(ctx context.Context, clientID int64) context.Context {
	return context.WithValue(ctx, ClientIDKey, clientID)
}

func ContextWithServiceID(ctx context.Context, serviceID int64) context.Context {
	return context.WithValue(ctx, ServiceIDKey, serviceID)
}

func ContextWithProviderMsgID(ctx context.Context, providerMsgID string) context.Context {
	return context.WithValue(ctx, ProviderMsgIDKey, providerMsgID)
}

func ContextWithQueue(ctx context.Context, queue string) context.Context {
	return context.WithValue(ctx, QueueKey, queue)
}

func ContextWithCallbackURL(ctx context.Context, callbackURL string) context.Context {
	return context.WithValue(ctx, CallbackURLKey, callbackURL)
}

func ContextWithWorker(ctx context.Context, worker string) context.Context {
	return context.WithValue(ctx, WorkerKey, worker)
}

func ContextWithSeqNumber(ctx context.Context, seqNumber int32) context.Context {
	return context.WithValue(ctx, SeqNumberKey, seqNumber)
}
