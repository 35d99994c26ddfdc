package worker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mantecinfox/smpp-gateway/internal/logging"
	"github.com/mantecinfox/smpp-gateway/internal/queue"
	"github.com/mantecinfox/smpp-gateway/pkg/codes"
)

// Sender submits one message to the carrier and returns its provider id.
type Sender interface {
	Send(ctx context.Context, destinationAddr, text, sourceAddr string) (string, error)
}

// SendStore is the slice of the store the send processor writes through.
type SendStore interface {
	MarkMessageSent(ctx context.Context, id int64, providerMsgID string) error
	UpdateMessageStatus(ctx context.Context, id int64, status string) error
}

// SendProcessor executes outbound send tasks. A successful submit records
// the provider message id so the later delivery receipt can be correlated;
// a failed submit marks the message failed rather than requeueing it.
type SendProcessor struct {
	store  SendStore
	sender Sender
}

func NewSendProcessor(s SendStore, sender Sender) *SendProcessor {
	return &SendProcessor{store: s, sender: sender}
}

func (p *SendProcessor) ProcessSend(ctx context.Context, task queue.SendTask) error {
	ctx = logging.ContextWithMessageID(ctx, task.MessageID)

	providerID, err := p.sender.Send(ctx, task.DestinationAddr, task.ShortMessage, task.SourceAddr)
	if err != nil {
		if uerr := p.store.UpdateMessageStatus(ctx, task.MessageID, codes.MsgStatusFailed); uerr != nil {
			slog.ErrorContext(ctx, "Failed to mark message failed after submit error",
				slog.Any("error", uerr))
		}
		return fmt.Errorf("submit message %d: %w", task.MessageID, err)
	}

	ctx = logging.ContextWithProviderMsgID(ctx, providerID)
	if err := p.store.MarkMessageSent(ctx, task.MessageID, providerID); err != nil {
		return fmt.Errorf("mark message %d sent: %w", task.MessageID, err)
	}

	slog.InfoContext(ctx, "Message submitted to carrier",
		slog.String("destination_addr", task.DestinationAddr))
	return nil
}
