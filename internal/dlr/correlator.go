package dlr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mantecinfox/smpp-gateway/internal/logging"
	"github.com/mantecinfox/smpp-gateway/internal/store"
)

// MessageUpdater is the slice of the store the correlator needs.
type MessageUpdater interface {
	GetMessageByProviderID(ctx context.Context, providerMsgID string) (store.Message, error)
	UpdateMessageStatus(ctx context.Context, id int64, status string) error
}

// Correlator resolves delivery receipts against previously sent messages
// and moves their status forward.
type Correlator struct {
	store MessageUpdater
}

func NewCorrelator(s MessageUpdater) *Correlator {
	return &Correlator{store: s}
}

// Process parses a receipt body and applies the mapped status to the
// message carrying the receipt's provider id. A receipt without an id, or
// for an unknown id, is logged and dropped; receipts for expired or
// unknown messages are expected under normal operation and are not errors.
func (c *Correlator) Process(ctx context.Context, body string) error {
	receipt := ParseReceipt(body)

	providerID := receipt.ID()
	if providerID == "" {
		slog.WarnContext(ctx, "Delivery receipt missing provider message id", slog.String("body", body))
		return nil
	}
	logCtx := logging.ContextWithProviderMsgID(ctx, providerID)

	msg, err := c.store.GetMessageByProviderID(logCtx, providerID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			slog.WarnContext(logCtx, "Delivery receipt for unknown message, dropping",
				slog.String("stat", receipt.Stat()))
			return nil
		}
		return fmt.Errorf("lookup message for receipt %s: %w", providerID, err)
	}

	status := MapStatus(receipt.Stat())
	if err := c.store.UpdateMessageStatus(logCtx, msg.ID, status); err != nil {
		return fmt.Errorf("update message %d from receipt: %w", msg.ID, err)
	}

	slog.InfoContext(logCtx, "Delivery receipt processed",
		slog.Int64("msg_id", msg.ID),
		slog.String("stat", receipt.Stat()),
		slog.String("status", status),
	)
	return nil
}
