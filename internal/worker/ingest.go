package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/mantecinfox/smpp-gateway/internal/logging"
	"github.com/mantecinfox/smpp-gateway/internal/queue"
	"github.com/mantecinfox/smpp-gateway/internal/smpp"
	"github.com/mantecinfox/smpp-gateway/internal/store"
	"github.com/mantecinfox/smpp-gateway/pkg/codes"
)

// IngestStore is the slice of the store the ingestor writes through.
type IngestStore interface {
	CreateMessage(ctx context.Context, params store.CreateMessageParams) (store.Message, error)
	GetNumberOwner(ctx context.Context, destinationAddr string) (store.NumberOwner, error)
}

// IngestEnqueuer hands persisted messages to the processing pipeline.
type IngestEnqueuer interface {
	Enqueue(ctx context.Context, task queue.IngestTask) error
}

// ReceiptProcessor resolves delivery receipts against sent messages.
type ReceiptProcessor interface {
	Process(ctx context.Context, body string) error
}

// Ingestor receives decoded transport events, persists them and enqueues
// processing work. Mobile-originated messages become stored messages plus
// an ingestion task; delivery receipts go straight to the correlator.
type Ingestor struct {
	store    IngestStore
	queue    IngestEnqueuer
	receipts ReceiptProcessor
}

var _ smpp.InboundHandler = (*Ingestor)(nil)

func NewIngestor(s IngestStore, q IngestEnqueuer, receipts ReceiptProcessor) *Ingestor {
	return &Ingestor{store: s, queue: q, receipts: receipts}
}

// HandleMO persists an inbound mobile-originated message and enqueues it
// for classification and delivery. The bound address owner, when one
// exists, is attached at ingestion time so downstream fan-out does not
// depend on ownership changing between receipt and delivery.
func (i *Ingestor) HandleMO(ctx context.Context, evt smpp.MOEvent) error {
	externalID := "mo_" + uuid.NewString()
	ctx = logging.ContextWithExternalID(ctx, externalID)

	var numberID *int64
	owner, err := i.store.GetNumberOwner(ctx, evt.DestinationAddr)
	switch {
	case err == nil:
		numberID = &owner.Number.ID
	case errors.Is(err, store.ErrNotFound):
		// Unowned number, the message is broadcast at delivery time.
	default:
		slog.WarnContext(ctx, "Number owner lookup failed, ingesting without owner",
			slog.String("destination_addr", evt.DestinationAddr),
			slog.Any("error", err),
		)
	}

	msg, err := i.store.CreateMessage(ctx, store.CreateMessageParams{
		ExternalID:      externalID,
		SourceAddr:      evt.SourceAddr,
		DestinationAddr: evt.DestinationAddr,
		ShortMessage:    evt.Text,
		MessageType:     codes.MsgTypeMO,
		Status:          codes.MsgStatusReceived,
		NumberID:        numberID,
	})
	if err != nil {
		return fmt.Errorf("persist inbound message: %w", err)
	}

	ctx = logging.ContextWithMessageID(ctx, msg.ID)
	if err := i.queue.Enqueue(ctx, queue.IngestTask{
		MessageID: msg.ID,
		Action:    queue.ActionClassifyAndDeliver,
	}); err != nil {
		return fmt.Errorf("enqueue inbound message %d: %w", msg.ID, err)
	}

	slog.InfoContext(ctx, "Inbound message ingested",
		slog.String("source_addr", evt.SourceAddr),
		slog.String("destination_addr", evt.DestinationAddr),
	)
	return nil
}

// HandleDLR forwards a delivery receipt body to the correlator.
func (i *Ingestor) HandleDLR(ctx context.Context, receiptBody string) error {
	return i.receipts.Process(ctx, receiptBody)
}
