package store

import "time"

// Message is the aggregate root of the pipeline. ExternalID is immutable
// once set; status moves forward only (received → classified/unclassified →
// delivery outcomes), never back to received.
type Message struct {
	ID              int64
	ExternalID      string
	SourceAddr      string
	DestinationAddr string
	ShortMessage    string
	MessageType     string // SMS, MO, DLR, WEBHOOK
	Status          string
	ServiceID       *int64
	NumberID        *int64
	ProviderMsgID   *string
	CreatedAt       time.Time
	ProcessedAt     *time.Time
}

// Service is a detection signature. Priority is the enumeration order of
// the active set (ordered by id), not an incidental map ordering.
type Service struct {
	ID           int64
	Name         string
	RegexPattern string
	IsActive     bool
}

// Client is a subscriber receiving classified messages on its callback URL.
type Client struct {
	ID            int64
	Name          string
	APIKey        string
	WebhookURL    *string
	WebhookSecret *string
	IsActive      bool
}

// Number binds an inbound destination address to its owning client.
// At most one active owner per address.
type Number struct {
	ID       int64
	Number   string
	ClientID int64
	IsActive bool
}

// NumberOwner is the resolved owner of a destination address.
type NumberOwner struct {
	Number Number
	Client Client
}

// DeliveryAttempt records one callback push. One row per try; the attempt
// number distinguishes retries of the same message/client pair.
type DeliveryAttempt struct {
	ID         int64
	MessageID  int64
	ClientID   int64
	WebhookURL string
	Status     string // pending, sent, failed
	Response   *string
	Attempt    int
	CreatedAt  time.Time
	SentAt     *time.Time
}

// SMSCConfig selects the carrier endpoint a session binds with. Loaded once
// at session start and immutable for the session's lifetime.
type SMSCConfig struct {
	ID         int64
	Name       string
	Host       string
	Port       int
	Username   string
	Password   string
	SystemType string
	IsActive   bool
}
