package httpserver

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mantecinfox/smpp-gateway/internal/config"
	"github.com/mantecinfox/smpp-gateway/internal/queue"
	"github.com/mantecinfox/smpp-gateway/internal/store"
	"github.com/mantecinfox/smpp-gateway/pkg/codes"
)

const testSecret = "webhook-test-secret"

type serverFakeStore struct {
	clients map[string]store.Client
	owners  map[string]store.NumberOwner
	created []store.CreateMessageParams
	nextID  int64
}

func newServerFakeStore() *serverFakeStore {
	return &serverFakeStore{
		clients: make(map[string]store.Client),
		owners:  make(map[string]store.NumberOwner),
	}
}

func (f *serverFakeStore) GetClientByAPIKey(_ context.Context, apiKey string) (store.Client, error) {
	client, ok := f.clients[apiKey]
	if !ok {
		return store.Client{}, store.ErrNotFound
	}
	return client, nil
}

func (f *serverFakeStore) CreateMessage(_ context.Context, params store.CreateMessageParams) (store.Message, error) {
	f.created = append(f.created, params)
	f.nextID++
	return store.Message{ID: f.nextID, ExternalID: params.ExternalID}, nil
}

func (f *serverFakeStore) GetNumberOwner(_ context.Context, destinationAddr string) (store.NumberOwner, error) {
	owner, ok := f.owners[destinationAddr]
	if !ok {
		return store.NumberOwner{}, store.ErrNotFound
	}
	return owner, nil
}

type fakeIngestEnqueuer struct {
	tasks []queue.IngestTask
}

func (f *fakeIngestEnqueuer) Enqueue(_ context.Context, task queue.IngestTask) error {
	f.tasks = append(f.tasks, task)
	return nil
}

type fakeSendEnqueuer struct {
	tasks []queue.SendTask
}

func (f *fakeSendEnqueuer) Enqueue(_ context.Context, task queue.SendTask) error {
	f.tasks = append(f.tasks, task)
	return nil
}

type fakeSession struct{ state string }

func (f fakeSession) State() string { return f.state }

type serverFixture struct {
	store   *serverFakeStore
	ingest  *fakeIngestEnqueuer
	send    *fakeSendEnqueuer
	handler http.Handler
}

func newFixture(t *testing.T) *serverFixture {
	t.Helper()
	fs := newServerFakeStore()
	fs.clients["key-1"] = store.Client{ID: 42, Name: "acme", APIKey: "key-1"}
	iq := &fakeIngestEnqueuer{}
	sq := &fakeSendEnqueuer{}
	srv := NewServer(config.HTTPConfig{Addr: ":0"}, testSecret, fs, iq, sq, fakeSession{state: codes.StatusBound})
	return &serverFixture{store: fs, ingest: iq, send: sq, handler: srv.Handler()}
}

func sign(body []byte) string {
	mac := hmac.New(sha256.New, []byte(testSecret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestHandleSend_Accepted(t *testing.T) {
	fx := newFixture(t)

	body := `{"destination_addr":"5511988887777","short_message":"ola","source_addr":"BRAND"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/send", strings.NewReader(body))
	req.Header.Set("X-API-Key", "key-1")
	rec := httptest.NewRecorder()
	fx.handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "accepted", resp["status"])
	assert.True(t, strings.HasPrefix(resp["message_id"], "send_"))

	require.Len(t, fx.store.created, 1)
	params := fx.store.created[0]
	assert.Equal(t, codes.MsgTypeSMS, params.MessageType)
	assert.Equal(t, codes.MsgStatusPending, params.Status)

	require.Len(t, fx.send.tasks, 1)
	task := fx.send.tasks[0]
	assert.EqualValues(t, 1, task.MessageID)
	assert.Equal(t, "5511988887777", task.DestinationAddr)
	assert.Equal(t, "ola", task.ShortMessage)
	assert.Equal(t, "BRAND", task.SourceAddr)
}

func TestHandleSend_Unauthorized(t *testing.T) {
	fx := newFixture(t)

	for name, key := range map[string]string{"missing key": "", "wrong key": "nope"} {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/send", strings.NewReader(`{"destination_addr":"1","short_message":"x"}`))
			if key != "" {
				req.Header.Set("X-API-Key", key)
			}
			rec := httptest.NewRecorder()
			fx.handler.ServeHTTP(rec, req)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
		})
	}
	assert.Empty(t, fx.send.tasks)
}

func TestHandleSend_Validation(t *testing.T) {
	fx := newFixture(t)

	for name, body := range map[string]string{
		"missing destination_addr": `{"short_message":"ola"}`,
		"missing short_message":    `{"destination_addr":"5511988887777"}`,
		"invalid json":             `{`,
		"unknown field":            `{"destination_addr":"1","short_message":"x","priority":9}`,
	} {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/send", strings.NewReader(body))
			req.Header.Set("X-API-Key", "key-1")
			rec := httptest.NewRecorder()
			fx.handler.ServeHTTP(rec, req)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
	assert.Empty(t, fx.store.created)
}

func TestHandleReceiveMO_Accepted(t *testing.T) {
	fx := newFixture(t)
	fx.store.owners["5511000000001"] = store.NumberOwner{
		Number: store.Number{ID: 9},
		Client: store.Client{ID: 42},
	}

	body := []byte(`{"source_addr":"5511988887777","destination_addr":"5511000000001","short_message":"Seu codigo e 42","smpp_message_id":"abc123"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/mo", bytes.NewReader(body))
	req.Header.Set("X-Signature", sign(body))
	rec := httptest.NewRecorder()
	fx.handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)

	require.Len(t, fx.store.created, 1)
	params := fx.store.created[0]
	assert.True(t, strings.HasPrefix(params.ExternalID, "mo_"))
	assert.Equal(t, codes.MsgTypeMO, params.MessageType)
	assert.Equal(t, codes.MsgStatusReceived, params.Status)
	require.NotNil(t, params.NumberID)
	assert.EqualValues(t, 9, *params.NumberID)
	require.NotNil(t, params.ProviderMsgID)
	assert.Equal(t, "abc123", *params.ProviderMsgID)

	require.Len(t, fx.ingest.tasks, 1)
	assert.Equal(t, queue.ActionClassifyAndDeliver, fx.ingest.tasks[0].Action)
	assert.EqualValues(t, 1, fx.ingest.tasks[0].MessageID)
}

func TestHandleReceiveMO_Validation(t *testing.T) {
	fx := newFixture(t)

	for name, body := range map[string]string{
		"missing source_addr":      `{"destination_addr":"1","short_message":"x"}`,
		"missing destination_addr": `{"source_addr":"1","short_message":"x"}`,
		"missing short_message":    `{"source_addr":"1","destination_addr":"2"}`,
		"invalid json":             `{`,
	} {
		t.Run(name, func(t *testing.T) {
			payload := []byte(body)
			req := httptest.NewRequest(http.MethodPost, "/api/v1/mo", bytes.NewReader(payload))
			req.Header.Set("X-Signature", sign(payload))
			rec := httptest.NewRecorder()
			fx.handler.ServeHTTP(rec, req)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
	assert.Empty(t, fx.store.created)
}

func TestHandleReceiveMO_BadSignature(t *testing.T) {
	fx := newFixture(t)

	body := []byte(`{"source_addr":"1","destination_addr":"2","short_message":"x"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/mo", bytes.NewReader(body))
	req.Header.Set("X-Signature", sign([]byte("other body")))
	rec := httptest.NewRecorder()
	fx.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, fx.store.created)
	assert.Empty(t, fx.ingest.tasks)
}

func TestHandleWebhookSMS_Accepted(t *testing.T) {
	fx := newFixture(t)
	fx.store.owners["5511000000001"] = store.NumberOwner{
		Number: store.Number{ID: 7},
		Client: store.Client{ID: 42},
	}

	body := []byte(`{"source_addr":"5511988887777","destination_addr":"5511000000001","short_message":"Seu codigo WhatsApp e 123456"}`)
	req := httptest.NewRequest(http.MethodPost, "/webhook/sms", bytes.NewReader(body))
	req.Header.Set("X-Signature", sign(body))
	rec := httptest.NewRecorder()
	fx.handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)

	require.Len(t, fx.store.created, 1)
	params := fx.store.created[0]
	assert.True(t, strings.HasPrefix(params.ExternalID, "webhook_"))
	assert.Equal(t, codes.MsgTypeWebhook, params.MessageType)
	assert.Equal(t, codes.MsgStatusReceived, params.Status)
	require.NotNil(t, params.NumberID)
	assert.EqualValues(t, 7, *params.NumberID)

	require.Len(t, fx.ingest.tasks, 1)
	assert.Equal(t, queue.ActionClassifyAndDeliver, fx.ingest.tasks[0].Action)
}

func TestHandleWebhookSMS_BadSignature(t *testing.T) {
	fx := newFixture(t)

	body := []byte(`{"source_addr":"5511988887777","short_message":"oi"}`)

	for name, signature := range map[string]string{
		"missing":       "",
		"wrong":         sign([]byte("other body")),
		"not hex":       "zzzz",
		"tampered body": sign([]byte(`{"source_addr":"5511988887777","short_message":"oi!"}`)),
	} {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/webhook/sms", bytes.NewReader(body))
			if signature != "" {
				req.Header.Set("X-Signature", signature)
			}
			rec := httptest.NewRecorder()
			fx.handler.ServeHTTP(rec, req)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
		})
	}
	assert.Empty(t, fx.store.created)
	assert.Empty(t, fx.ingest.tasks)
}

func TestHandleWebhookSMS_NoSecretConfigured(t *testing.T) {
	fs := newServerFakeStore()
	srv := NewServer(config.HTTPConfig{}, "", fs, &fakeIngestEnqueuer{}, &fakeSendEnqueuer{}, nil)

	body := []byte(`{"source_addr":"1","short_message":"x"}`)
	req := httptest.NewRequest(http.MethodPost, "/webhook/sms", bytes.NewReader(body))
	req.Header.Set("X-Signature", sign(body))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleHealth(t *testing.T) {
	fx := newFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	fx.handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp["status"])
	assert.Equal(t, codes.StatusBound, resp["smpp_session"])
}
