package smpp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/linxGnu/gosmpp"
	"github.com/linxGnu/gosmpp/data"
	"github.com/linxGnu/gosmpp/pdu"
	cmap "github.com/orcaman/concurrent-map/v2"

	"github.com/mantecinfox/smpp-gateway/internal/logging"
	"github.com/mantecinfox/smpp-gateway/pkg/codes"
	"github.com/mantecinfox/smpp-gateway/pkg/segmenter"
)

// Typed session errors. Callers distinguish a session that cannot send
// right now (ErrNotBound, ErrSubmitFailed) from a submit the carrier never
// answered (ErrSubmitTimeout): the former means "could not send", the
// latter "sent but unconfirmed", resolved later by a delivery receipt.
var (
	ErrBindFailed     = errors.New("smpp: bind failed")
	ErrNotBound       = errors.New("smpp: session not bound")
	ErrSubmitFailed   = errors.New("smpp: submit failed")
	ErrSubmitTimeout  = errors.New("smpp: no submit response before timeout")
	ErrSessionStopped = errors.New("smpp: session stopped, reconnect attempts exhausted")
)

// errStopRequested aborts a reconnect loop interrupted by Stop. Unlike
// ErrSessionStopped it is an orderly shutdown, not a fatal condition.
var errStopRequested = errors.New("smpp: stop requested")

// MOEvent is a decoded mobile-originated message from the carrier.
type MOEvent struct {
	SourceAddr      string
	DestinationAddr string
	Text            string
}

// InboundHandler receives decoded inbound transport events. The session
// acknowledges every inbound PDU to the transport before the handler runs,
// so handler failures never cause transport-level redelivery.
type InboundHandler interface {
	HandleMO(ctx context.Context, evt MOEvent) error
	HandleDLR(ctx context.Context, receiptBody string) error
}

// SessionConfig is the carrier endpoint plus session tuning. Loaded once;
// changing it requires a new session.
type SessionConfig struct {
	Host              string
	Port              int
	SystemID          string
	Password          string
	SystemType        string
	DefaultSourceAddr string

	EnquireLink          time.Duration
	RequestTimeout       time.Duration
	MaxReconnectAttempts int
}

func (c *SessionConfig) applyDefaults() {
	if c.EnquireLink <= 0 {
		c.EnquireLink = 30 * time.Second
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 10 * time.Second
	}
	if c.MaxReconnectAttempts <= 0 {
		c.MaxReconnectAttempts = 10
	}
	if c.DefaultSourceAddr == "" {
		c.DefaultSourceAddr = "SMPP"
	}
}

// Session owns the transceiver connection to the carrier: bind, inbound
// dispatch, reconnection with capped backoff, and outbound submits. All
// transport I/O goes through this one owner; submits are serialized by a
// mutex so the handle is never written concurrently.
type Session struct {
	cfg       SessionConfig
	handler   InboundHandler
	segmenter segmenter.Segmenter

	state   atomic.Value // session status string
	running atomic.Bool

	connMu sync.Mutex
	sess   *gosmpp.Session

	sendMu  sync.Mutex
	pending cmap.ConcurrentMap[string, chan *pdu.SubmitSMResp]

	lost    chan struct{}
	quit    chan struct{}
	stopped chan struct{}
	wg      sync.WaitGroup

	// Indirections for the reconnect loop; replaced in tests.
	connectFn func(ctx context.Context) error
	backoff   func(attempt int) time.Duration
}

func NewSession(cfg SessionConfig, handler InboundHandler) *Session {
	cfg.applyDefaults()
	s := &Session{
		cfg:       cfg,
		handler:   handler,
		segmenter: segmenter.NewDefaultSegmenter(),
		pending:   cmap.New[chan *pdu.SubmitSMResp](),
		lost:      make(chan struct{}, 1),
		quit:      make(chan struct{}),
		stopped:   make(chan struct{}),
	}
	s.state.Store(codes.StatusDisconnected)
	s.connectFn = s.connectAndBind
	s.backoff = ReconnectDelay
	return s
}

// State returns the current session status.
func (s *Session) State() string {
	return s.state.Load().(string)
}

// Stopped is closed when reconnect attempts are exhausted. This is the
// fatal, operator-visible condition: the session will not recover on its
// own and must be restarted.
func (s *Session) Stopped() <-chan struct{} {
	return s.stopped
}

// Start connects, binds and begins supervising the connection. A bind
// failure at startup is returned to the caller; once started, connection
// loss is handled by the reconnect loop.
func (s *Session) Start(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return errors.New("smpp: session already started")
	}

	if err := s.connectFn(ctx); err != nil {
		s.running.Store(false)
		return err
	}

	s.wg.Add(1)
	go s.supervise(ctx)
	return nil
}

// Stop unbinds and closes the session.
func (s *Session) Stop(ctx context.Context) {
	if !s.running.CompareAndSwap(true, false) {
		return
	}
	s.closeSession(ctx)
	// Wake the supervisor so it observes the stop and exits, even from the
	// middle of a reconnect backoff sleep.
	close(s.quit)
	select {
	case s.lost <- struct{}{}:
	default:
	}
	s.wg.Wait()
	slog.InfoContext(ctx, "SMPP session stopped")
}

func (s *Session) connectAndBind(ctx context.Context) error {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	s.state.Store(codes.StatusConnecting)
	slog.InfoContext(ctx, "Connecting to SMSC",
		slog.String("host", s.cfg.Host),
		slog.Int("port", s.cfg.Port),
		slog.String("system_id", s.cfg.SystemID),
	)

	auth := gosmpp.Auth{
		SMSC:       fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		SystemID:   s.cfg.SystemID,
		Password:   s.cfg.Password,
		SystemType: s.cfg.SystemType,
	}

	settings := gosmpp.Settings{
		EnquireLink:      s.cfg.EnquireLink,
		ReadTimeout:      s.cfg.EnquireLink + s.cfg.RequestTimeout,
		WriteTimeout:     s.cfg.RequestTimeout,
		OnPDU:            s.handlePDU,
		OnReceivingError: s.onReceivingError,
		OnSubmitError:    s.onSubmitError,
		OnClosed:         s.onClosed,
	}

	// Rebind interval 0: the session owns reconnection, the library must
	// not race it with its own rebind attempts.
	sess, err := gosmpp.NewSession(gosmpp.TRXConnector(gosmpp.NonTLSDialer, auth), settings, 0)
	if err != nil {
		s.state.Store(codes.StatusDisconnected)
		return fmt.Errorf("%w: %v", ErrBindFailed, err)
	}

	s.sess = sess
	s.state.Store(codes.StatusBound)
	slog.InfoContext(ctx, "SMPP session bound")
	return nil
}

func (s *Session) closeSession(ctx context.Context) {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	if s.sess == nil {
		s.state.Store(codes.StatusDisconnected)
		return
	}

	s.state.Store(codes.StatusUnbinding)
	if err := s.sess.Close(); err != nil {
		slog.WarnContext(ctx, "Error closing SMPP session", slog.Any("error", err))
	}
	s.sess = nil
	s.state.Store(codes.StatusDisconnected)
}

// supervise waits for connection-lost signals and runs the reconnect loop.
func (s *Session) supervise(ctx context.Context) {
	defer s.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.lost:
			if !s.running.Load() {
				return
			}
			if err := s.reconnect(ctx); err != nil {
				return
			}
		}
	}
}

// reconnect retries with backoff delay = min(30s, 5s * attempt), up to the
// configured cap. Exhausting the cap is terminal: the session transitions
// to stopped and will not retry further.
func (s *Session) reconnect(ctx context.Context) error {
	s.state.Store(codes.StatusReconnecting)

	for attempt := 1; attempt <= s.cfg.MaxReconnectAttempts; attempt++ {
		delay := s.backoff(attempt)
		slog.WarnContext(ctx, "Connection lost, reconnecting",
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", s.cfg.MaxReconnectAttempts),
			slog.Duration("delay", delay),
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.quit:
			return errStopRequested
		case <-time.After(delay):
		}

		if err := s.connectFn(ctx); err != nil {
			slog.WarnContext(ctx, "Reconnect attempt failed",
				slog.Int("attempt", attempt),
				slog.Any("error", err),
			)
			s.state.Store(codes.StatusReconnecting)
			continue
		}

		// Counter resets by construction: the next loss starts at 1.
		slog.InfoContext(ctx, "Reconnected to SMSC", slog.Int("attempt", attempt))
		return nil
	}

	s.state.Store(codes.StatusStopped)
	s.running.Store(false)
	close(s.stopped)
	slog.ErrorContext(ctx, "Reconnect attempts exhausted, session stopped; operator intervention required",
		slog.Int("max_attempts", s.cfg.MaxReconnectAttempts),
	)
	return ErrSessionStopped
}

// =============================================================================
// Transport callbacks
// =============================================================================

func (s *Session) onClosed(state gosmpp.State) {
	slog.Warn("SMPP connection closed", slog.String("transport_state", state.String()))
	if !s.running.Load() {
		return
	}
	if st := s.State(); st == codes.StatusUnbinding || st == codes.StatusStopped {
		return
	}
	select {
	case s.lost <- struct{}{}:
	default:
	}
}

func (s *Session) onReceivingError(err error) {
	slog.Error("SMPP receive error", slog.Any("error", err))
}

func (s *Session) onSubmitError(p pdu.PDU, err error) {
	slog.Warn("SMPP submit error",
		slog.Any("error", err),
		slog.Int("seq_num", int(p.GetSequenceNumber())),
	)
}

// handlePDU dispatches inbound PDUs. The library has already acknowledged
// any request PDU (responded=true) before this runs, so a decode or
// handler failure drops the event without triggering carrier redelivery.
func (s *Session) handlePDU(p pdu.PDU, responded bool) {
	ctx := context.Background()

	switch pd := p.(type) {
	case *pdu.DeliverSM:
		s.handleDeliverSM(ctx, pd)

	case *pdu.SubmitSMResp:
		key := seqKey(pd.GetSequenceNumber())
		if ch, ok := s.pending.Get(key); ok {
			select {
			case ch <- pd:
			default:
			}
		} else {
			slog.Warn("SubmitSMResp for unknown sequence number",
				slog.Int("seq_num", int(pd.GetSequenceNumber())))
		}

	case *pdu.EnquireLinkResp, *pdu.UnbindResp:
		// Keepalive / shutdown bookkeeping, nothing to do.

	default:
		slog.Debug("Unhandled inbound PDU", slog.String("command", p.GetHeader().CommandID.String()))
	}
	_ = responded
}

// esm_class message-type bits; 0x04 there marks an SMSC delivery receipt
// (SMPP 3.4, section 5.2.12). Anything else is a mobile-originated message.
const (
	esmClassMessageTypeMask byte = 0x3c
	esmClassDeliveryReceipt byte = 0x04
)

func (s *Session) handleDeliverSM(ctx context.Context, pd *pdu.DeliverSM) {
	logCtx := logging.ContextWithSeqNumber(ctx, pd.GetSequenceNumber())

	text, err := pd.Message.GetMessage()
	if err != nil {
		slog.WarnContext(logCtx, "Failed to decode DeliverSM body, dropping event", slog.Any("error", err))
		return
	}

	if pd.EsmClass&esmClassMessageTypeMask == esmClassDeliveryReceipt {
		if err := s.handler.HandleDLR(logCtx, text); err != nil {
			slog.ErrorContext(logCtx, "DLR handler failed", slog.Any("error", err))
		}
		return
	}

	evt := MOEvent{
		SourceAddr:      pd.SourceAddr.Address(),
		DestinationAddr: pd.DestAddr.Address(),
		Text:            text,
	}
	if err := s.handler.HandleMO(logCtx, evt); err != nil {
		slog.ErrorContext(logCtx, "MO handler failed", slog.Any("error", err))
	}
}

// =============================================================================
// Outbound send
// =============================================================================

// Text beyond a single segment is split and submitted as a concatenated
// message; carriers reassemble on the handset side.
const maxSegments = 10

// UDHI bit in esm_class, set on segments carrying a user data header.
const esmClassUDHI byte = 0x40

// Send submits one message and waits for the carrier's response. Returns
// the provider-assigned message id on success (the first segment's id for
// multipart messages). sourceAddr falls back to the configured default
// sender id. Delivery receipts are requested so the message's fate arrives
// later as a DLR.
func (s *Session) Send(ctx context.Context, destinationAddr, text, sourceAddr string) (string, error) {
	if s.State() != codes.StatusBound {
		return "", fmt.Errorf("%w (state: %s)", ErrNotBound, s.State())
	}
	if sourceAddr == "" {
		sourceAddr = s.cfg.DefaultSourceAddr
	}

	parts, requiresUCS2 := s.segmenter.Segments(text)
	if len(parts) > maxSegments {
		return "", fmt.Errorf("%w: message needs %d segments, max %d", ErrSubmitFailed, len(parts), maxSegments)
	}
	enc := data.GSM7BIT
	if requiresUCS2 {
		enc = data.UCS2
	}

	if len(parts) == 1 {
		p, err := buildSubmitSM(sourceAddr, destinationAddr, parts[0], enc, nil)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrSubmitFailed, err)
		}
		return s.submit(ctx, p)
	}

	// All segments share one concat reference so the handset can
	// reassemble them.
	ref := byte(time.Now().UnixNano())
	var firstID string
	for i, part := range parts {
		p, err := buildSubmitSM(sourceAddr, destinationAddr, part, enc, &concatInfo{
			ref:   ref,
			total: byte(len(parts)),
			seq:   byte(i + 1),
		})
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrSubmitFailed, err)
		}
		id, err := s.submit(ctx, p)
		if err != nil {
			return "", fmt.Errorf("segment %d/%d: %w", i+1, len(parts), err)
		}
		if i == 0 {
			firstID = id
		}
	}
	return firstID, nil
}

// submit sends one PDU and waits for its SubmitSMResp, correlated by the
// pre-assigned sequence number.
func (s *Session) submit(ctx context.Context, p *pdu.SubmitSM) (string, error) {
	key := seqKey(p.GetSequenceNumber())
	ch := make(chan *pdu.SubmitSMResp, 1)
	s.pending.Set(key, ch)
	defer s.pending.Remove(key)

	s.sendMu.Lock()
	s.connMu.Lock()
	sess := s.sess
	s.connMu.Unlock()
	if sess == nil {
		s.sendMu.Unlock()
		return "", ErrNotBound
	}
	err := sess.Transceiver().Submit(p)
	s.sendMu.Unlock()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSubmitFailed, err)
	}

	select {
	case resp := <-ch:
		if resp.CommandStatus != data.ESME_ROK {
			return "", fmt.Errorf("%w: carrier rejected submit (status 0x%X)", ErrSubmitFailed, uint32(resp.CommandStatus))
		}
		return resp.MessageID, nil
	case <-time.After(s.cfg.RequestTimeout):
		return "", ErrSubmitTimeout
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

type concatInfo struct {
	ref   byte
	total byte
	seq   byte
}

func buildSubmitSM(sourceAddr, destinationAddr, text string, enc data.Encoding, concat *concatInfo) (*pdu.SubmitSM, error) {
	p := pdu.NewSubmitSM().(*pdu.SubmitSM)

	src := pdu.NewAddress()
	src.SetTon(0)
	src.SetNpi(0)
	if err := src.SetAddress(sourceAddr); err != nil {
		return nil, fmt.Errorf("invalid source address %q: %w", sourceAddr, err)
	}
	p.SourceAddr = src

	dst := pdu.NewAddress()
	dst.SetTon(1)
	dst.SetNpi(1)
	if err := dst.SetAddress(destinationAddr); err != nil {
		return nil, fmt.Errorf("invalid destination address %q: %w", destinationAddr, err)
	}
	p.DestAddr = dst

	if err := p.Message.SetMessageWithEncoding(text, enc); err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}

	p.ProtocolID = 0
	p.EsmClass = 0
	if concat != nil {
		p.Message.SetUDH(pdu.UDH{pdu.NewIEConcatMessage(concat.total, concat.seq, concat.ref)})
		p.EsmClass = esmClassUDHI
	}
	p.RegisteredDelivery = 1 // solicit delivery receipts
	return p, nil
}

func seqKey(seq int32) string {
	return strconv.FormatInt(int64(seq), 10)
}
