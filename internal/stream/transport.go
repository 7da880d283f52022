// Package stream implements the Stream Transport: a long-lived,
// auto-reconnecting WebSocket client that dials with the bearer token
// as a query parameter, sends the initial subscribe frame, waits for
// its "subscribed" confirmation, and thereafter correlates runtime
// subscribe requests and delivers data frames to a caller-supplied
// handler.
//
// Its connection handling follows a connMu-guarded *websocket.Conn, a
// pending-response map keyed by request id with a dedicated response
// channel per in-flight request, a readLoop goroutine dispatching by
// frame type, and a resubscribe-on-connect pattern generalized here to
// "resubscribe with the Subscription Manager's committed state," since
// this protocol carries exactly one subscription per connection rather
// than N independent event-type subscriptions. The reconnect backoff
// schedule generalizes the BackoffConfig shape in backoff.go. This
// Transport owns its reconnect loop directly, driven by read-loop
// failures and by the protocol's own "shutdown" control frame, rather
// than relying on an external watcher probing a separate health
// endpoint — this upstream exposes no separate health surface to poll.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/alphastream/streamclient/internal/config"
	"github.com/alphastream/streamclient/internal/errs"
)

// shutdownRetryDelay is the fixed wait after a "shutdown" control
// frame, before attempting a fresh connect with a reset reconnect
// counter.
const shutdownRetryDelay = 5 * time.Second

// SubscriptionSource supplies the channels/users the Transport should
// (re)subscribe with on every successful connect. *subscription.Manager
// satisfies this structurally; stream never imports subscription,
// avoiding an import cycle with subscription's own Transport interface.
type SubscriptionSource interface {
	CurrentSubscribe() (channels []string, users []string)
}

// EventHandler receives a decoded inbound data frame's event_type and
// raw payload. Called synchronously from the Transport's read loop; it
// must not block for long.
type EventHandler func(eventType string, data json.RawMessage)

// Config configures a Transport.
type Config struct {
	URL   string // e.g. wss://actor.example.com/stream (http/https auto-upgraded)
	Token string

	Backoff BackoffConfig

	// ConfirmTimeout bounds waiting for the initial "subscribed" frame
	// after connecting (default 30s).
	ConfirmTimeout time.Duration
	// UpdateTimeout is the default bound for a runtime RequestSubscribe
	// call that doesn't supply its own timeout (default 10s).
	UpdateTimeout time.Duration
	// CloseGrace bounds how long Close waits while sending the local
	// close handshake.
	CloseGrace time.Duration

	Logger *slog.Logger
}

func (c *Config) applyDefaults() {
	if c.Backoff == (BackoffConfig{}) {
		c.Backoff = DefaultBackoffConfig()
	}
	if c.ConfirmTimeout == 0 {
		c.ConfirmTimeout = 30 * time.Second
	}
	if c.UpdateTimeout == 0 {
		c.UpdateTimeout = 10 * time.Second
	}
	if c.CloseGrace == 0 {
		c.CloseGrace = 5 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

type pendingRequest struct {
	resultCh chan ackResult
}

type ackResult struct {
	status string
	reason string
}

// Transport manages one logical connection to the upstream actor,
// transparently reconnecting on drop.
type Transport struct {
	cfg Config

	subs EventHandler
	src  SubscriptionSource

	connMu sync.Mutex
	conn   *websocket.Conn

	stateMu sync.RWMutex
	state   ConnectionState

	pendingMu sync.Mutex
	pending   map[string]pendingRequest

	flagsMu          sync.Mutex
	reconnectEnabled bool
	expectedShutdown bool
	attempt          int
	forcedDelay      time.Duration

	errMu       sync.Mutex
	errObserver []ErrorObserver

	closeOnce sync.Once
	closed    chan struct{}
}

// ErrorObserver receives an error that the Transport does not treat as
// fatal to the pipeline — a retriable transport failure, a protocol
// violation, a server-side subscription rejection, or a terminal
// condition (auth failure, reconnect attempts exhausted). Per spec.md
// §4.1/§7: once Connect has resolved, these are the only channel
// through which later transport failures are reported; the
// EventHandler and Connect's own return value never carry them again.
// Called synchronously from whichever internal goroutine detected the
// error; an observer must not block.
type ErrorObserver func(error)

// OnError registers obs to be called for every error the Transport
// reports through its error-observer channel. Safe to call at any
// time; multiple observers may be registered and all are invoked, in
// registration order, for each error.
func (t *Transport) OnError(obs ErrorObserver) {
	t.errMu.Lock()
	defer t.errMu.Unlock()
	t.errObserver = append(t.errObserver, obs)
}

func (t *Transport) emitError(err error) {
	t.errMu.Lock()
	observers := append([]ErrorObserver(nil), t.errObserver...)
	t.errMu.Unlock()
	for _, obs := range observers {
		obs(err)
	}
}

// New creates a Transport. handler receives the raw event_type and data
// of each inbound data frame; src supplies the subscription to (re)send on every connect
// (attach it before the first Connect call).
func New(cfg Config, src SubscriptionSource, handler EventHandler) *Transport {
	cfg.applyDefaults()
	return &Transport{
		cfg:              cfg,
		subs:             handler,
		src:              src,
		pending:          make(map[string]pendingRequest),
		closed:           make(chan struct{}),
		state:            StateDisconnected,
		reconnectEnabled: true,
	}
}

// State returns the current connection state.
func (t *Transport) State() ConnectionState {
	t.stateMu.RLock()
	defer t.stateMu.RUnlock()
	return t.state
}

func (t *Transport) setState(s ConnectionState) {
	t.stateMu.Lock()
	t.state = s
	t.stateMu.Unlock()
}

// Connected reports whether the Transport currently believes it has a
// live, subscribed connection. Part of subscription.Transport.
func (t *Transport) Connected() bool {
	return t.State() == StateConnected
}

// Attempts returns the number of reconnect attempts fired since the
// last successful connect (or since construction, if none has
// succeeded yet).
func (t *Transport) Attempts() int {
	t.flagsMu.Lock()
	defer t.flagsMu.Unlock()
	return t.attempt
}

// Connect performs exactly one synchronous connect/subscribe attempt
// and returns its result, settling exactly once. Regardless of outcome
// — except a terminal failure
// (invalid token, authentication rejection) — it spawns a background
// reconnect loop that keeps retrying so later drops are recovered
// without ever re-rejecting this call.
func (t *Transport) Connect(ctx context.Context) error {
	err := t.connectOnce(ctx)
	if isTerminalConnectError(err) {
		return err
	}
	go t.reconnectLoop()
	return err
}

func isTerminalConnectError(err error) bool {
	return errors.Is(err, errs.ErrAuth) || errors.Is(err, errs.ErrValidation)
}

// connectOnce dials, sends the initial subscribe frame, and waits for
// its confirmation. On any failure it tears down the partial
// connection and returns a classified error.
func (t *Transport) connectOnce(ctx context.Context) error {
	t.setState(StateConnecting)

	token := strings.TrimSpace(t.cfg.Token)
	if token == "" {
		return fmt.Errorf("%w: empty or whitespace token", errs.ErrValidation)
	}

	u, err := url.Parse(t.cfg.URL)
	if err != nil {
		return fmt.Errorf("%w: parse url: %v", errs.ErrTransport, err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	q := u.Query()
	q.Set("token", t.cfg.Token)
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("%w: dial: %v", errs.ErrTransport, err)
	}

	t.connMu.Lock()
	t.conn = conn
	t.connMu.Unlock()

	go t.readLoop(conn)

	channels, users := t.src.CurrentSubscribe()
	if err := t.sendSubscribe(ctx, channels, users, t.cfg.ConfirmTimeout); err != nil {
		t.teardown(conn)
		return err
	}

	t.setState(StateConnected)
	t.flagsMu.Lock()
	t.attempt = 0
	t.expectedShutdown = false
	t.flagsMu.Unlock()
	t.cfg.Logger.Info("stream connected", "url", t.cfg.URL, "channels", channels)
	return nil
}

func (t *Transport) teardown(conn *websocket.Conn) {
	t.connMu.Lock()
	if t.conn == conn {
		t.conn = nil
	}
	t.connMu.Unlock()
	conn.Close()
}

// RequestSubscribe sends a correlated subscribe frame and waits for
// its confirmation or rejection, honoring timeout. Part of
// subscription.Transport; does not tear down the connection on
// failure — a rejected or timed-out runtime update leaves the
// transport connected with its previously committed subscription.
func (t *Transport) RequestSubscribe(ctx context.Context, channels, users []string, timeout time.Duration) error {
	if timeout == 0 {
		timeout = t.cfg.UpdateTimeout
	}
	return t.sendSubscribe(ctx, channels, users, timeout)
}

func (t *Transport) sendSubscribe(ctx context.Context, channels, users []string, timeout time.Duration) error {
	requestID := newRequestID()

	resultCh := make(chan ackResult, 1)
	t.pendingMu.Lock()
	t.pending[requestID] = pendingRequest{resultCh: resultCh}
	t.pendingMu.Unlock()
	defer func() {
		t.pendingMu.Lock()
		delete(t.pending, requestID)
		t.pendingMu.Unlock()
	}()

	frame := clientFrame{
		Op:        opSubscribe,
		RequestID: requestID,
		Channels:  channels,
		Users:     users,
	}

	t.connMu.Lock()
	conn := t.conn
	t.connMu.Unlock()
	if conn == nil {
		return fmt.Errorf("%w: not connected", errs.ErrTransport)
	}
	if err := conn.WriteJSON(frame); err != nil {
		return fmt.Errorf("%w: send subscribe: %v", errs.ErrTransport, err)
	}

	select {
	case res := <-resultCh:
		if res.status != statusOK {
			return fmt.Errorf("%w: %s", errs.ErrSubscription, firstNonEmpty(res.reason, res.status))
		}
		return nil
	case <-t.closed:
		return fmt.Errorf("%w: transport closed while awaiting subscribe confirmation", errs.ErrTransport)
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", errs.ErrTimeout, ctx.Err())
	case <-time.After(timeout):
		return fmt.Errorf("%w: subscribed confirmation not received within %s", errs.ErrTimeout, timeout)
	}
}

func newRequestID() string {
	if id, err := uuid.NewV7(); err == nil {
		return id.String()
	}
	return uuid.NewString()
}

func firstNonEmpty(s, fallback string) string {
	if s != "" {
		return s
	}
	return fallback
}

// readLoop dispatches inbound frames until the connection fails or is
// closed, then hands off to handleDisconnect.
func (t *Transport) readLoop(conn *websocket.Conn) {
	for {
		var frame serverFrame
		if err := conn.ReadJSON(&frame); err != nil {
			t.handleDisconnect(conn, err)
			return
		}
		t.cfg.Logger.Log(context.Background(), config.LevelTrace, "stream: received frame",
			"event_type", frame.EventType, "data", string(frame.Data))

		switch frame.EventType {
		case eventTypeConnected:
			t.cfg.Logger.Debug("stream: received connected frame")
		case eventTypeSubscribed:
			var data subscribedData
			if err := json.Unmarshal(frame.Data, &data); err != nil {
				t.cfg.Logger.Debug("stream: malformed subscribed frame", "error", err)
				t.emitError(fmt.Errorf("%w: malformed subscribed frame: %v", errs.ErrProtocol, err))
				continue
			}
			t.resolvePending(data.RequestID, ackResult{status: statusOK})
		case eventTypeError:
			var data errorData
			if err := json.Unmarshal(frame.Data, &data); err != nil {
				t.cfg.Logger.Debug("stream: malformed error frame", "error", err)
				t.emitError(fmt.Errorf("%w: malformed error frame: %v", errs.ErrProtocol, err))
				continue
			}
			t.resolvePending(data.RequestID, ackResult{status: statusRejected, reason: data.Message})
			t.cfg.Logger.Error("stream: server reported error", "code", data.Code, "message", data.Message)
			// Always surfaced to error observers, per spec.md §4.1 —
			// independent of whether a pending request was correlated
			// and rejected above.
			t.emitError(fmt.Errorf("%w: %s", errs.ErrSubscription, firstNonEmpty(data.Message, data.Code)))
		case eventTypeShutdown:
			t.handleShutdown(conn)
			return
		default:
			if t.subs != nil {
				t.subs(frame.EventType, frame.Data)
			}
		}
	}
}

// resolvePending delivers res to the pending request matching
// requestID. An exact match is required when requestID is non-empty;
// an empty requestID is accepted as a backwards-compatible fallback
// only when there is exactly one outstanding request.
func (t *Transport) resolvePending(requestID string, res ackResult) {
	t.pendingMu.Lock()
	defer t.pendingMu.Unlock()

	if requestID != "" {
		if p, ok := t.pending[requestID]; ok {
			select {
			case p.resultCh <- res:
			default:
			}
		}
		return
	}
	if len(t.pending) == 1 {
		for _, p := range t.pending {
			select {
			case p.resultCh <- res:
			default:
			}
		}
	}
}

func (t *Transport) failAllPending(reason error) {
	t.pendingMu.Lock()
	defer t.pendingMu.Unlock()
	for _, p := range t.pending {
		select {
		case p.resultCh <- ackResult{status: statusRejected, reason: reason.Error()}:
		default:
		}
	}
}

// handleShutdown implements the "shutdown" control frame: mark
// expected_shutdown, drop to disconnected without an error, and
// schedule a fresh connect after the fixed delay with the reconnect
// counter reset.
func (t *Transport) handleShutdown(conn *websocket.Conn) {
	t.flagsMu.Lock()
	t.expectedShutdown = true
	t.attempt = 0
	t.forcedDelay = shutdownRetryDelay
	t.flagsMu.Unlock()

	t.teardown(conn)
	t.setState(StateDisconnected)
	t.cfg.Logger.Info("stream: upstream requested shutdown, reconnecting after fixed delay", "delay", shutdownRetryDelay)
}

// handleDisconnect classifies a read-loop failure by close code (when
// available) and decides whether reconnection stays enabled.
func (t *Transport) handleDisconnect(conn *websocket.Conn, err error) {
	t.connMu.Lock()
	if t.conn == conn {
		t.conn = nil
	}
	t.connMu.Unlock()

	select {
	case <-t.closed:
		return
	default:
	}

	var ce *websocket.CloseError
	authFailure := false
	stopReconnect := false
	if errors.As(err, &ce) {
		switch ce.Code {
		case closeCodeNormal:
			stopReconnect = true
		case closeCodePolicyViolation, closeCodeAuthFailureCustom:
			stopReconnect = true
			authFailure = true
		}
	}

	if authFailure {
		t.failAllPending(errs.ErrAuth)
	}

	if stopReconnect {
		t.flagsMu.Lock()
		t.reconnectEnabled = false
		t.flagsMu.Unlock()
		t.setState(StateDisconnected)
	} else {
		t.setState(StateReconnecting)
	}

	if authFailure {
		t.cfg.Logger.Error("stream: disconnected due to authentication failure", "error", err)
		t.emitError(fmt.Errorf("%w: %v", errs.ErrAuth, err))
	} else {
		t.cfg.Logger.Warn("stream: disconnected", "error", err, "will_reconnect", !stopReconnect)
		t.emitError(fmt.Errorf("%w: %v", errs.ErrTransport, err))
	}
}

// reconnectLoop retries connectOnce with exponential backoff (or the
// fixed shutdown delay, when one is pending) until it succeeds,
// MaxAttempts is exhausted, reconnection is disabled, or the Transport
// is closed. The attempt counter increments only when a backoff-driven
// retry actually fires (i.e. immediately before connectOnce runs); a
// fixed shutdown-delay retry resets it to zero instead.
func (t *Transport) reconnectLoop() {
	for {
		select {
		case <-t.closed:
			return
		default:
		}

		if t.State() == StateConnected {
			if !t.waitForDisconnectOrClose() {
				return
			}
		}

		t.flagsMu.Lock()
		enabled := t.reconnectEnabled
		forced := t.forcedDelay
		t.forcedDelay = 0
		attempt := t.attempt
		t.flagsMu.Unlock()

		if !enabled {
			return
		}

		if forced == 0 && t.cfg.Backoff.MaxAttempts > 0 && attempt >= t.cfg.Backoff.MaxAttempts {
			t.cfg.Logger.Error("stream: giving up after max reconnect attempts", "attempts", attempt)
			t.flagsMu.Lock()
			t.reconnectEnabled = false
			t.flagsMu.Unlock()
			t.setState(StateDisconnected)
			t.emitError(fmt.Errorf("%w: giving up after %d reconnect attempts", errs.ErrTransport, attempt))
			return
		}

		delay := forced
		if delay == 0 {
			delay = t.cfg.Backoff.Delay(attempt)
		}

		select {
		case <-t.closed:
			return
		case <-time.After(delay):
		}

		t.flagsMu.Lock()
		if forced == 0 {
			t.attempt++
		} else {
			t.attempt = 0
		}
		t.flagsMu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), t.cfg.ConfirmTimeout+t.cfg.UpdateTimeout)
		err := t.connectOnce(ctx)
		cancel()
		if err != nil {
			if isTerminalConnectError(err) {
				t.cfg.Logger.Error("stream: terminal connect failure, stopping reconnect", "error", err)
				t.flagsMu.Lock()
				t.reconnectEnabled = false
				t.flagsMu.Unlock()
				t.setState(StateDisconnected)
				t.emitError(err)
				return
			}
			t.cfg.Logger.Warn("stream: reconnect attempt failed", "attempt", attempt, "error", err)
		}
	}
}

// waitForDisconnectOrClose blocks until the Transport leaves the
// connected state or is closed. Returns false if closed.
func (t *Transport) waitForDisconnectOrClose() bool {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-t.closed:
			return false
		case <-ticker.C:
			if t.State() != StateConnected {
				return true
			}
		}
	}
}

// Close shuts the Transport down gracefully: it stops the reconnect
// loop, sends a normal close frame (the write is bounded by CloseGrace),
// and closes the underlying connection. It does not wait for the peer's
// close reply.
func (t *Transport) Close() error {
	t.closeOnce.Do(func() {
		close(t.closed)
	})

	t.connMu.Lock()
	conn := t.conn
	t.conn = nil
	t.connMu.Unlock()

	if conn == nil {
		t.setState(StateDisconnected)
		return nil
	}

	deadline := time.Now().Add(t.cfg.CloseGrace)
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	err := conn.Close()
	t.setState(StateDisconnected)
	return err
}
