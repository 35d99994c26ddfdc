package httpserver

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mantecinfox/smpp-gateway/internal/config"
	"github.com/mantecinfox/smpp-gateway/internal/logging"
	"github.com/mantecinfox/smpp-gateway/internal/queue"
	"github.com/mantecinfox/smpp-gateway/internal/store"
	"github.com/mantecinfox/smpp-gateway/pkg/codes"
)

const maxBodyBytes = 64 * 1024

// ServerStore is the slice of the store the HTTP surface uses.
type ServerStore interface {
	GetClientByAPIKey(ctx context.Context, apiKey string) (store.Client, error)
	CreateMessage(ctx context.Context, params store.CreateMessageParams) (store.Message, error)
	GetNumberOwner(ctx context.Context, destinationAddr string) (store.NumberOwner, error)
}

// IngestEnqueuer feeds the classification pipeline.
type IngestEnqueuer interface {
	Enqueue(ctx context.Context, task queue.IngestTask) error
}

// SendEnqueuer feeds the outbound sender.
type SendEnqueuer interface {
	Enqueue(ctx context.Context, task queue.SendTask) error
}

// SessionReporter exposes the transport session status for health checks.
type SessionReporter interface {
	State() string
}

// Server is the HTTP surface of the gateway: authenticated outbound send,
// signature-verified MO and generic ingestion, and a health endpoint.
type Server struct {
	cfg           config.HTTPConfig
	webhookSecret string

	store       ServerStore
	ingestQueue IngestEnqueuer
	sendQueue   SendEnqueuer
	session     SessionReporter

	httpServer *http.Server
	stopOnce   sync.Once
}

func NewServer(cfg config.HTTPConfig, webhookSecret string, s ServerStore, iq IngestEnqueuer, sq SendEnqueuer, session SessionReporter) *Server {
	return &Server{
		cfg:           cfg,
		webhookSecret: webhookSecret,
		store:         s,
		ingestQueue:   iq,
		sendQueue:     sq,
		session:       session,
	}
}

// Handler builds the route table. Exposed separately from ListenAndServe
// so tests can drive the mux without a listener.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/send", s.authMiddleware(s.handleSend))
	mux.HandleFunc("POST /api/v1/mo", s.handleReceiveMO)
	mux.HandleFunc("POST /webhook/sms", s.handleWebhookSMS)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	return mux
}

// ListenAndServe starts the HTTP server and blocks until shutdown.
func (s *Server) ListenAndServe() error {
	if s.httpServer != nil {
		return errors.New("http server already started")
	}

	s.httpServer = &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s.Handler(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
		ErrorLog:     slog.NewLogLogger(slog.Default().Handler(), slog.LevelWarn),
	}

	slog.Info("Starting HTTP server", slog.String("address", s.cfg.Addr))
	err := s.httpServer.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("HTTP server ListenAndServe error", slog.Any("error", err))
		return err
	}
	slog.Info("HTTP server stopped")
	return nil
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.stopOnce.Do(func() {
		if s.httpServer != nil {
			s.httpServer.SetKeepAlivesEnabled(false)
			err = s.httpServer.Shutdown(ctx)
			s.httpServer = nil
		}
	})
	return err
}

// =============================================================================
// Authentication
// =============================================================================

type contextKey string

const authedClientKey contextKey = "authedClient"

func (s *Server) authMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		apiKey := r.Header.Get("X-API-Key")
		if apiKey == "" {
			http.Error(w, "Unauthorized: Missing API key", http.StatusUnauthorized)
			return
		}

		authCtx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		client, err := s.store.GetClientByAPIKey(authCtx, apiKey)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				slog.WarnContext(r.Context(), "HTTP auth failed: invalid API key")
				// Keep the rejection generic.
				http.Error(w, "Unauthorized: Invalid API key", http.StatusUnauthorized)
			} else {
				slog.ErrorContext(r.Context(), "HTTP auth lookup failed", slog.Any("error", err))
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			}
			return
		}

		reqCtx := context.WithValue(r.Context(), authedClientKey, client)
		reqCtx = logging.ContextWithClientID(reqCtx, client.ID)
		next.ServeHTTP(w, r.WithContext(reqCtx))
	}
}

// =============================================================================
// Handlers
// =============================================================================

type sendRequest struct {
	DestinationAddr string `json:"destination_addr"`
	ShortMessage    string `json:"short_message"`
	SourceAddr      string `json:"source_addr,omitempty"`
}

// handleSend accepts an authenticated outbound send: the message is
// persisted as pending and queued; the carrier submit happens off the
// request path in the send worker.
func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	client, ok := ctx.Value(authedClientKey).(store.Client)
	if !ok {
		slog.ErrorContext(ctx, "Authenticated client missing from context")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	var req sendRequest
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		http.Error(w, "Bad Request: Invalid JSON body", http.StatusBadRequest)
		return
	}
	if req.DestinationAddr == "" || req.ShortMessage == "" {
		http.Error(w, "Bad Request: Missing required fields (destination_addr, short_message)", http.StatusBadRequest)
		return
	}

	externalID := "send_" + uuid.NewString()
	ctx = logging.ContextWithExternalID(ctx, externalID)

	msg, err := s.store.CreateMessage(ctx, store.CreateMessageParams{
		ExternalID:      externalID,
		SourceAddr:      req.SourceAddr,
		DestinationAddr: req.DestinationAddr,
		ShortMessage:    req.ShortMessage,
		MessageType:     codes.MsgTypeSMS,
		Status:          codes.MsgStatusPending,
	})
	if err != nil {
		slog.ErrorContext(ctx, "Failed to persist outbound message", slog.Any("error", err))
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	ctx = logging.ContextWithMessageID(ctx, msg.ID)
	if err := s.sendQueue.Enqueue(ctx, queue.SendTask{
		MessageID:       msg.ID,
		DestinationAddr: req.DestinationAddr,
		ShortMessage:    req.ShortMessage,
		SourceAddr:      req.SourceAddr,
	}); err != nil {
		slog.ErrorContext(ctx, "Failed to enqueue send task", slog.Any("error", err))
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	slog.InfoContext(ctx, "Outbound message accepted",
		slog.Int64("client_id", client.ID),
		slog.String("destination_addr", req.DestinationAddr),
	)
	writeJSON(ctx, w, http.StatusAccepted, map[string]any{
		"status":     "accepted",
		"message_id": msg.ExternalID,
	})
}

type moRequest struct {
	SourceAddr      string `json:"source_addr"`
	DestinationAddr string `json:"destination_addr"`
	ShortMessage    string `json:"short_message"`
	SMPPMessageID   string `json:"smpp_message_id,omitempty"`
}

// handleReceiveMO ingests mobile-originated traffic posted by an upstream
// carrier integration instead of arriving over the SMPP bind. The body is
// signed like the generic webhook; smpp_message_id, when present, is kept
// as the provider message id so later receipts still correlate.
func (s *Server) handleReceiveMO(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if s.webhookSecret == "" {
		slog.ErrorContext(ctx, "MO ingestion called but no secret is configured")
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "Bad Request: Unreadable body", http.StatusBadRequest)
		return
	}

	if !verifySignature(body, r.Header.Get("X-Signature"), s.webhookSecret) {
		slog.WarnContext(ctx, "MO ingestion rejected: bad signature")
		http.Error(w, "Unauthorized: Invalid signature", http.StatusUnauthorized)
		return
	}

	var req moRequest
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, "Bad Request: Invalid JSON body", http.StatusBadRequest)
		return
	}
	if req.SourceAddr == "" || req.DestinationAddr == "" || req.ShortMessage == "" {
		http.Error(w, "Bad Request: Missing required fields (source_addr, destination_addr, short_message)", http.StatusBadRequest)
		return
	}

	externalID := "mo_" + uuid.NewString()
	ctx = logging.ContextWithExternalID(ctx, externalID)

	var numberID *int64
	if owner, err := s.store.GetNumberOwner(ctx, req.DestinationAddr); err == nil {
		numberID = &owner.Number.ID
	} else if !errors.Is(err, store.ErrNotFound) {
		slog.WarnContext(ctx, "Number owner lookup failed, ingesting without owner", slog.Any("error", err))
	}

	var providerMsgID *string
	if req.SMPPMessageID != "" {
		providerMsgID = &req.SMPPMessageID
	}

	msg, err := s.store.CreateMessage(ctx, store.CreateMessageParams{
		ExternalID:      externalID,
		SourceAddr:      req.SourceAddr,
		DestinationAddr: req.DestinationAddr,
		ShortMessage:    req.ShortMessage,
		MessageType:     codes.MsgTypeMO,
		Status:          codes.MsgStatusReceived,
		NumberID:        numberID,
		ProviderMsgID:   providerMsgID,
	})
	if err != nil {
		slog.ErrorContext(ctx, "Failed to persist MO message", slog.Any("error", err))
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	ctx = logging.ContextWithMessageID(ctx, msg.ID)
	if err := s.ingestQueue.Enqueue(ctx, queue.IngestTask{
		MessageID: msg.ID,
		Action:    queue.ActionClassifyAndDeliver,
	}); err != nil {
		slog.ErrorContext(ctx, "Failed to enqueue ingestion task", slog.Any("error", err))
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	slog.InfoContext(ctx, "MO message ingested", slog.String("source_addr", req.SourceAddr))
	writeJSON(ctx, w, http.StatusAccepted, map[string]any{
		"status":     "accepted",
		"message_id": msg.ExternalID,
	})
}

type webhookSMSRequest struct {
	SourceAddr      string `json:"source_addr"`
	DestinationAddr string `json:"destination_addr"`
	ShortMessage    string `json:"short_message"`
}

// handleWebhookSMS is the generic ingestion endpoint for messages arriving
// outside the carrier transport. The caller signs the raw body with the
// shared secret; verification is constant-time.
func (s *Server) handleWebhookSMS(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if s.webhookSecret == "" {
		slog.ErrorContext(ctx, "Webhook ingestion called but no secret is configured")
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "Bad Request: Unreadable body", http.StatusBadRequest)
		return
	}

	if !verifySignature(body, r.Header.Get("X-Signature"), s.webhookSecret) {
		slog.WarnContext(ctx, "Webhook ingestion rejected: bad signature")
		http.Error(w, "Unauthorized: Invalid signature", http.StatusUnauthorized)
		return
	}

	var req webhookSMSRequest
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, "Bad Request: Invalid JSON body", http.StatusBadRequest)
		return
	}
	if req.SourceAddr == "" || req.ShortMessage == "" {
		http.Error(w, "Bad Request: Missing required fields (source_addr, short_message)", http.StatusBadRequest)
		return
	}

	externalID := "webhook_" + uuid.NewString()
	ctx = logging.ContextWithExternalID(ctx, externalID)

	var numberID *int64
	if req.DestinationAddr != "" {
		if owner, err := s.store.GetNumberOwner(ctx, req.DestinationAddr); err == nil {
			numberID = &owner.Number.ID
		} else if !errors.Is(err, store.ErrNotFound) {
			slog.WarnContext(ctx, "Number owner lookup failed, ingesting without owner", slog.Any("error", err))
		}
	}

	msg, err := s.store.CreateMessage(ctx, store.CreateMessageParams{
		ExternalID:      externalID,
		SourceAddr:      req.SourceAddr,
		DestinationAddr: req.DestinationAddr,
		ShortMessage:    req.ShortMessage,
		MessageType:     codes.MsgTypeWebhook,
		Status:          codes.MsgStatusReceived,
		NumberID:        numberID,
	})
	if err != nil {
		slog.ErrorContext(ctx, "Failed to persist webhook message", slog.Any("error", err))
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	ctx = logging.ContextWithMessageID(ctx, msg.ID)
	if err := s.ingestQueue.Enqueue(ctx, queue.IngestTask{
		MessageID: msg.ID,
		Action:    queue.ActionClassifyAndDeliver,
	}); err != nil {
		slog.ErrorContext(ctx, "Failed to enqueue ingestion task", slog.Any("error", err))
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	slog.InfoContext(ctx, "Webhook message ingested", slog.String("source_addr", req.SourceAddr))
	writeJSON(ctx, w, http.StatusAccepted, map[string]any{
		"status":     "accepted",
		"message_id": msg.ExternalID,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{"status": "ok"}
	if s.session != nil {
		resp["smpp_session"] = s.session.State()
	}
	writeJSON(r.Context(), w, http.StatusOK, resp)
}

func verifySignature(body []byte, signature, secret string) bool {
	if signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(signature), []byte(expected))
}

func writeJSON(ctx context.Context, w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.ErrorContext(ctx, "Failed to encode HTTP response", slog.Any("error", err))
	}
}
