package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("store: not found")

// CreateMessageParams carries the fields set at ingestion time.
type CreateMessageParams struct {
	ExternalID      string
	SourceAddr      string
	DestinationAddr string
	ShortMessage    string
	MessageType     string
	Status          string
	ServiceID       *int64
	NumberID        *int64
	ProviderMsgID   *string
}

// CreateDeliveryAttemptParams records one callback push outcome.
type CreateDeliveryAttemptParams struct {
	MessageID  int64
	ClientID   int64
	WebhookURL string
	Status     string
	Response   *string
	Attempt    int
	Sent       bool
}

// Store is the persistence boundary of the pipeline. Each method is a
// single short transaction; no call spans more than one write.
type Store interface {
	CreateMessage(ctx context.Context, params CreateMessageParams) (Message, error)
	GetMessage(ctx context.Context, id int64) (Message, error)
	GetMessageByProviderID(ctx context.Context, providerMsgID string) (Message, error)

	// SetClassification assigns a service and status only when no service
	// has been assigned yet. Returns false when another pass already
	// classified the message (the write is skipped).
	SetClassification(ctx context.Context, id int64, serviceID *int64, status string) (bool, error)
	UpdateMessageStatus(ctx context.Context, id int64, status string) error
	MarkMessageSent(ctx context.Context, id int64, providerMsgID string) error

	ListActiveServices(ctx context.Context) ([]Service, error)
	GetServiceName(ctx context.Context, id int64) (string, error)

	GetNumberOwner(ctx context.Context, destinationAddr string) (NumberOwner, error)
	ListActiveClients(ctx context.Context) ([]Client, error)
	GetClientByAPIKey(ctx context.Context, apiKey string) (Client, error)

	CreateDeliveryAttempt(ctx context.Context, params CreateDeliveryAttemptParams) (DeliveryAttempt, error)

	GetActiveSMSCConfig(ctx context.Context) (SMSCConfig, error)
}
