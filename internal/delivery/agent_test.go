package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mantecinfox/smpp-gateway/internal/store"
	"github.com/mantecinfox/smpp-gateway/pkg/codes"
)

type fakeRecorder struct {
	message    store.Message
	services   map[int64]string
	serviceErr error
	attempts   []store.CreateDeliveryAttemptParams
}

func (f *fakeRecorder) GetMessage(_ context.Context, id int64) (store.Message, error) {
	if id != f.message.ID {
		return store.Message{}, store.ErrNotFound
	}
	return f.message, nil
}

func (f *fakeRecorder) GetServiceName(_ context.Context, id int64) (string, error) {
	if f.serviceErr != nil {
		return "", f.serviceErr
	}
	name, ok := f.services[id]
	if !ok {
		return "", store.ErrNotFound
	}
	return name, nil
}

func (f *fakeRecorder) CreateDeliveryAttempt(_ context.Context, params store.CreateDeliveryAttemptParams) (store.DeliveryAttempt, error) {
	f.attempts = append(f.attempts, params)
	return store.DeliveryAttempt{ID: int64(len(f.attempts))}, nil
}

func testMessage() store.Message {
	svcID := int64(3)
	return store.Message{
		ID:              10,
		ExternalID:      "mo_abc123",
		SourceAddr:      "5511988887777",
		DestinationAddr: "28100",
		ShortMessage:    "Seu codigo WhatsApp e 123456",
		MessageType:     codes.MsgTypeMO,
		Status:          codes.MsgStatusClassified,
		ServiceID:       &svcID,
		CreatedAt:       time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestAgent_Deliver_Accepted(t *testing.T) {
	var got Payload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	rec := &fakeRecorder{message: testMessage(), services: map[int64]string{3: "WhatsApp"}}
	agent := NewAgent(rec, time.Second, 1)

	ok, err := agent.Deliver(context.Background(), 10, 5, srv.URL)
	require.NoError(t, err)
	assert.True(t, ok)

	require.Len(t, rec.attempts, 1)
	attempt := rec.attempts[0]
	assert.Equal(t, codes.DeliveryStatusSent, attempt.Status)
	assert.Equal(t, 1, attempt.Attempt)
	assert.True(t, attempt.Sent)

	assert.Equal(t, "mo_abc123", got.MessageID)
	assert.Equal(t, "5511988887777", got.SourceAddr)
	assert.Equal(t, codes.MsgTypeMO, got.MessageType)
	require.NotNil(t, got.ServiceName)
	assert.Equal(t, "WhatsApp", *got.ServiceName)
	assert.Equal(t, "2026-08-01T12:00:00Z", got.CreatedAt)
	assert.NotZero(t, got.Timestamp)
}

func TestAgent_Deliver_ServerError_OneFailedAttempt(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	rec := &fakeRecorder{message: testMessage()}
	agent := NewAgent(rec, time.Second, 1)

	ok, err := agent.Deliver(context.Background(), 10, 5, srv.URL)
	require.NoError(t, err)
	assert.False(t, ok)

	require.Len(t, rec.attempts, 1)
	assert.Equal(t, codes.DeliveryStatusFailed, rec.attempts[0].Status)
	assert.False(t, rec.attempts[0].Sent)
}

func TestAgent_Deliver_UnclassifiedMessage_NilServiceName(t *testing.T) {
	var got Payload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	msg := testMessage()
	msg.ServiceID = nil
	rec := &fakeRecorder{message: msg}
	agent := NewAgent(rec, time.Second, 1)

	ok, err := agent.Deliver(context.Background(), 10, 5, srv.URL)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Nil(t, got.ServiceName)
}

func TestAgent_Deliver_WrappedServiceLookupMiss(t *testing.T) {
	var got Payload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	// Drivers wrap sentinel errors; a wrapped not-found still means the
	// service row is simply gone, not a delivery failure.
	rec := &fakeRecorder{
		message:    testMessage(),
		serviceErr: fmt.Errorf("query services: %w", store.ErrNotFound),
	}
	agent := NewAgent(rec, time.Second, 1)

	ok, err := agent.Deliver(context.Background(), 10, 5, srv.URL)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Nil(t, got.ServiceName)
}

func TestAgent_Deliver_Timeout_Fails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
	}))
	defer srv.Close()

	rec := &fakeRecorder{message: testMessage()}
	agent := NewAgent(rec, 50*time.Millisecond, 1)

	ok, err := agent.Deliver(context.Background(), 10, 5, srv.URL)
	require.NoError(t, err)
	assert.False(t, ok)

	require.Len(t, rec.attempts, 1)
	assert.Equal(t, codes.DeliveryStatusFailed, rec.attempts[0].Status)
}

func TestAgent_DeliverWithRetry_NetworkErrorRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			time.Sleep(200 * time.Millisecond) // force client timeout
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	rec := &fakeRecorder{message: testMessage()}
	agent := NewAgent(rec, 50*time.Millisecond, 3)
	agent.retryBackoff = time.Millisecond

	ok, err := agent.DeliverWithRetry(context.Background(), 10, 5, srv.URL)
	require.NoError(t, err)
	assert.True(t, ok)

	require.Len(t, rec.attempts, 3)
	assert.Equal(t, 1, rec.attempts[0].Attempt)
	assert.Equal(t, 2, rec.attempts[1].Attempt)
	assert.Equal(t, 3, rec.attempts[2].Attempt)
	assert.Equal(t, codes.DeliveryStatusSent, rec.attempts[2].Status)
}

func TestAgent_DeliverWithRetry_HTTPErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer srv.Close()

	rec := &fakeRecorder{message: testMessage()}
	agent := NewAgent(rec, time.Second, 3)
	agent.retryBackoff = time.Millisecond

	ok, err := agent.DeliverWithRetry(context.Background(), 10, 5, srv.URL)
	require.NoError(t, err)
	assert.False(t, ok)

	// A definitive non-2xx answer records exactly one failed attempt.
	assert.Equal(t, int32(1), calls.Load())
	require.Len(t, rec.attempts, 1)
	assert.Equal(t, codes.DeliveryStatusFailed, rec.attempts[0].Status)
}
