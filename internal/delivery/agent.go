package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/mantecinfox/smpp-gateway/internal/logging"
	"github.com/mantecinfox/smpp-gateway/internal/store"
	"github.com/mantecinfox/smpp-gateway/pkg/codes"
)

// Recorder is the slice of the store the agent needs.
type Recorder interface {
	GetMessage(ctx context.Context, id int64) (store.Message, error)
	GetServiceName(ctx context.Context, id int64) (string, error)
	CreateDeliveryAttempt(ctx context.Context, params store.CreateDeliveryAttemptParams) (store.DeliveryAttempt, error)
}

// Payload is the JSON body POSTed to a subscriber callback.
type Payload struct {
	MessageID       string  `json:"message_id"`
	SourceAddr      string  `json:"source_addr"`
	DestinationAddr string  `json:"destination_addr"`
	ShortMessage    string  `json:"short_message"`
	MessageType     string  `json:"message_type"`
	ServiceName     *string `json:"service_name"`
	CreatedAt       string  `json:"created_at"`
	Timestamp       int64   `json:"timestamp"`
}

// Result is the typed outcome of one delivery try. Retryable is true only
// for transport-level failures (network error, timeout): a non-2xx response
// is a definitive answer from the endpoint and is not retried.
type Result struct {
	Success    bool
	StatusCode int
	Response   string
	Retryable  bool
}

// Agent pushes classified messages to subscriber callback endpoints and
// records every try as a delivery attempt row.
type Agent struct {
	store         Recorder
	httpClient    *http.Client
	retryAttempts int
	retryBackoff  time.Duration
}

func NewAgent(s Recorder, timeout time.Duration, retryAttempts int) *Agent {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if retryAttempts < 1 {
		retryAttempts = 1
	}
	return &Agent{
		store:         s,
		httpClient:    &http.Client{Timeout: timeout},
		retryAttempts: retryAttempts,
		retryBackoff:  5 * time.Second,
	}
}

// Deliver performs a single callback push and records exactly one delivery
// attempt row. Success is an HTTP 200, 201 or 202; anything else, a timeout
// or a network error is a failure.
func (a *Agent) Deliver(ctx context.Context, messageID, clientID int64, webhookURL string) (bool, error) {
	result, err := a.deliverOnce(ctx, messageID, clientID, webhookURL, 1)
	if err != nil {
		return false, err
	}
	return result.Success, nil
}

// DeliverWithRetry pushes with up to the configured number of attempts,
// backing off linearly between tries. Only retryable failures (network
// error, timeout) trigger another attempt; each try records its own
// delivery attempt row with its attempt number.
func (a *Agent) DeliverWithRetry(ctx context.Context, messageID, clientID int64, webhookURL string) (bool, error) {
	for attempt := 1; attempt <= a.retryAttempts; attempt++ {
		result, err := a.deliverOnce(ctx, messageID, clientID, webhookURL, attempt)
		if err != nil {
			return false, err
		}
		if result.Success {
			return true, nil
		}
		if !result.Retryable || attempt == a.retryAttempts {
			return false, nil
		}

		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(a.retryBackoff * time.Duration(attempt)):
		}
	}
	return false, nil
}

func (a *Agent) deliverOnce(ctx context.Context, messageID, clientID int64, webhookURL string, attempt int) (Result, error) {
	logCtx := logging.ContextWithMessageID(ctx, messageID)
	logCtx = logging.ContextWithClientID(logCtx, clientID)

	msg, err := a.store.GetMessage(logCtx, messageID)
	if err != nil {
		return Result{}, fmt.Errorf("load message %d for delivery: %w", messageID, err)
	}

	payload, err := a.buildPayload(logCtx, msg)
	if err != nil {
		return Result{}, err
	}

	result := a.post(logCtx, webhookURL, payload)

	status := codes.DeliveryStatusFailed
	if result.Success {
		status = codes.DeliveryStatusSent
	}
	response := result.Response
	if _, err := a.store.CreateDeliveryAttempt(logCtx, store.CreateDeliveryAttemptParams{
		MessageID:  messageID,
		ClientID:   clientID,
		WebhookURL: webhookURL,
		Status:     status,
		Response:   &response,
		Attempt:    attempt,
		Sent:       result.Success,
	}); err != nil {
		// The push already happened; surface the bookkeeping failure.
		return Result{}, fmt.Errorf("record delivery attempt: %w", err)
	}

	if result.Success {
		slog.InfoContext(logCtx, "Message delivered to client webhook",
			slog.Int("attempt", attempt),
			slog.Int("status_code", result.StatusCode),
		)
	} else {
		slog.WarnContext(logCtx, "Webhook delivery failed",
			slog.Int("attempt", attempt),
			slog.Int("status_code", result.StatusCode),
			slog.Bool("retryable", result.Retryable),
			slog.String("url", webhookURL),
		)
	}
	return result, nil
}

func (a *Agent) buildPayload(ctx context.Context, msg store.Message) (Payload, error) {
	var serviceName *string
	if msg.ServiceID != nil {
		name, err := a.store.GetServiceName(ctx, *msg.ServiceID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return Payload{}, fmt.Errorf("resolve service name: %w", err)
		}
		if err == nil {
			serviceName = &name
		}
	}

	return Payload{
		MessageID:       msg.ExternalID,
		SourceAddr:      msg.SourceAddr,
		DestinationAddr: msg.DestinationAddr,
		ShortMessage:    msg.ShortMessage,
		MessageType:     msg.MessageType,
		ServiceName:     serviceName,
		CreatedAt:       msg.CreatedAt.UTC().Format(time.RFC3339),
		Timestamp:       time.Now().UTC().Unix(),
	}, nil
}

func (a *Agent) post(ctx context.Context, webhookURL string, payload Payload) Result {
	body, err := json.Marshal(payload)
	if err != nil {
		return Result{Response: err.Error()}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhookURL, bytes.NewReader(body))
	if err != nil {
		return Result{Response: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		// Timeout or network failure: the endpoint never answered.
		return Result{Response: err.Error(), Retryable: true}
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusAccepted:
		return Result{Success: true, StatusCode: resp.StatusCode, Response: string(respBody)}
	default:
		return Result{StatusCode: resp.StatusCode, Response: string(respBody)}
	}
}
