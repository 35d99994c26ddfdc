package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mantecinfox/smpp-gateway/internal/classifier"
	"github.com/mantecinfox/smpp-gateway/internal/logging"
	"github.com/mantecinfox/smpp-gateway/internal/queue"
	"github.com/mantecinfox/smpp-gateway/internal/store"
	"github.com/mantecinfox/smpp-gateway/pkg/codes"
)

// ProcessorStore is the slice of the store the ingestion processor uses.
type ProcessorStore interface {
	GetMessage(ctx context.Context, id int64) (store.Message, error)
	SetClassification(ctx context.Context, id int64, serviceID *int64, status string) (bool, error)
	GetNumberOwner(ctx context.Context, destinationAddr string) (store.NumberOwner, error)
	ListActiveClients(ctx context.Context) ([]store.Client, error)
}

// TextClassifier scores message text against the active service set.
type TextClassifier interface {
	Classify(text string) (classifier.Match, bool)
}

// Deliverer pushes one message to one client callback endpoint.
type Deliverer interface {
	DeliverWithRetry(ctx context.Context, messageID, clientID int64, webhookURL string) (bool, error)
}

// Processor executes ingestion tasks: classify the stored message, then
// fan its payload out to client callbacks. Classification is written with
// a conditional claim, so a duplicated task classifies and delivers at
// most once.
type Processor struct {
	store      ProcessorStore
	classifier TextClassifier
	agent      Deliverer
}

func NewProcessor(s ProcessorStore, c TextClassifier, agent Deliverer) *Processor {
	return &Processor{store: s, classifier: c, agent: agent}
}

// ProcessIngestion runs one task to completion. A task for a message that
// no longer exists is logged and dropped.
func (p *Processor) ProcessIngestion(ctx context.Context, task queue.IngestTask) error {
	ctx = logging.ContextWithMessageID(ctx, task.MessageID)

	msg, err := p.store.GetMessage(ctx, task.MessageID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			slog.WarnContext(ctx, "Ingestion task for unknown message, dropping",
				slog.String("action", task.Action))
			return nil
		}
		return fmt.Errorf("load message %d: %w", task.MessageID, err)
	}
	ctx = logging.ContextWithExternalID(ctx, msg.ExternalID)

	switch task.Action {
	case queue.ActionClassifyOnly:
		_, err := p.classify(ctx, msg)
		return err

	case queue.ActionDeliverOnly:
		return p.deliver(ctx, msg)

	case queue.ActionClassifyAndDeliver:
		claimed, err := p.classify(ctx, msg)
		if err != nil {
			return err
		}
		if !claimed {
			// Another pass already owns this message; it delivers too.
			return nil
		}
		return p.deliver(ctx, msg)

	default:
		slog.WarnContext(ctx, "Unknown ingestion action, dropping task",
			slog.String("action", task.Action))
		return nil
	}
}

// classify scores the message and records the winning service. The write
// is conditional on no service being assigned yet; claimed reports whether
// this call won the claim.
func (p *Processor) classify(ctx context.Context, msg store.Message) (bool, error) {
	var serviceID *int64
	status := codes.MsgStatusUnclassified

	match, ok := p.classifier.Classify(msg.ShortMessage)
	if ok {
		serviceID = &match.ServiceID
		status = codes.MsgStatusClassified
		ctx = logging.ContextWithServiceID(ctx, match.ServiceID)
	}

	claimed, err := p.store.SetClassification(ctx, msg.ID, serviceID, status)
	if err != nil {
		return false, fmt.Errorf("record classification for message %d: %w", msg.ID, err)
	}
	if !claimed {
		slog.InfoContext(ctx, "Message already classified, skipping")
		return false, nil
	}

	if ok {
		slog.InfoContext(ctx, "Message classified",
			slog.String("service", match.Name),
			slog.Float64("confidence", match.Confidence),
		)
	} else {
		slog.InfoContext(ctx, "No service matched, message unclassified")
	}
	return true, nil
}

// deliver fans the message out to callbacks. A message on an owned number
// goes only to the owning client; an unowned one is broadcast to every
// active client with a callback endpoint. One client's failure does not
// stop the others.
func (p *Processor) deliver(ctx context.Context, msg store.Message) error {
	owner, err := p.store.GetNumberOwner(ctx, msg.DestinationAddr)
	if err == nil {
		if owner.Client.WebhookURL == nil {
			slog.InfoContext(ctx, "Owning client has no callback endpoint, skipping delivery",
				slog.Int64("client_id", owner.Client.ID))
			return nil
		}
		_, err := p.agent.DeliverWithRetry(ctx, msg.ID, owner.Client.ID, *owner.Client.WebhookURL)
		return err
	}
	if !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("resolve owner of %s: %w", msg.DestinationAddr, err)
	}

	clients, err := p.store.ListActiveClients(ctx)
	if err != nil {
		return fmt.Errorf("list clients for broadcast: %w", err)
	}

	var delivered int
	var errs []error
	for _, client := range clients {
		if client.WebhookURL == nil {
			continue
		}
		if _, err := p.agent.DeliverWithRetry(ctx, msg.ID, client.ID, *client.WebhookURL); err != nil {
			errs = append(errs, fmt.Errorf("client %d: %w", client.ID, err))
			continue
		}
		delivered++
	}

	slog.InfoContext(ctx, "Broadcast delivery finished",
		slog.Int("delivered", delivered),
		slog.Int("failed", len(errs)),
	)
	return errors.Join(errs...)
}
