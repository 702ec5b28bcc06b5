package ryobi

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Session defaults.
const (
	// defaultIOTimeout bounds each dial, handshake read and write.
	defaultIOTimeout = 10 * time.Second

	// defaultCommandAckTimeout is how long a sent request waits for its response.
	defaultCommandAckTimeout = 15 * time.Second
)

// SessionState is the lifecycle state of a Session.
type SessionState int

// Session states.
const (
	StateNotStarted SessionState = iota
	StateStarting
	StateConnected
	StateClosed
	StateError
	StateStopped
)

func (s SessionState) String() string {
	switch s {
	case StateNotStarted:
		return "not_started"
	case StateStarting:
		return "starting"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	case StateError:
		return "error"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// MarshalText renders the state by name in JSON payloads.
func (s SessionState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// SessionConfig holds live session settings.
type SessionConfig struct {
	// URL is the WebSocket JSON-RPC endpoint.
	URL string

	// Username is sent as varName in the auth request.
	Username string

	// APIKey is obtained from the login exchange.
	APIKey string

	// DeviceID selects the notification topic.
	DeviceID string

	// MaxRetries is the number of failed attempts tolerated before Run
	// stops with ErrRetryBudgetExhausted. Zero disables the budget and the
	// session retries until stopped.
	MaxRetries int

	// IOTimeout bounds each dial, handshake read and write.
	// Default: 10 seconds.
	IOTimeout time.Duration

	// RetryDelay and MaxRetryDelay shape the reconnect backoff.
	RetryDelay    time.Duration
	MaxRetryDelay time.Duration

	// PingInterval is the keepalive period once connected. Zero disables
	// keepalive and the steady-state read deadline.
	PingInterval time.Duration

	// CommandAckTimeout is how long a request sent with Send waits for its
	// response before a timed-out CommandAckEvent is emitted.
	// Default: 15 seconds.
	CommandAckTimeout time.Duration

	// Dialer opens connections. Default: WebSocketDialer.
	Dialer Dialer
}

// SessionStatus is a point-in-time copy of session state and statistics.
type SessionStatus struct {
	State          SessionState `json:"state"`
	FailedAttempts int          `json:"failed_attempts"`
	Authenticated  bool         `json:"authenticated"`
	Subscribed     bool         `json:"subscribed"`
	LastError      string       `json:"last_error,omitempty"`

	FramesRx       uint64    `json:"frames_rx"`
	FramesTx       uint64    `json:"frames_tx"`
	DecodeErrors   uint64    `json:"decode_errors"`
	ConnectsTotal  uint64    `json:"connects_total"`
	PendingAcks    int       `json:"pending_acks"`
	LastActivity   time.Time `json:"last_activity,omitzero"`
	ConnectedSince time.Time `json:"connected_since,omitzero"`
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// closeOnce wraps a channel with sync.Once to prevent double-close panics.
type closeOnce struct {
	ch   chan struct{}
	once sync.Once
}

func newCloseOnce() *closeOnce {
	return &closeOnce{ch: make(chan struct{})}
}

func (c *closeOnce) Close() {
	c.once.Do(func() { close(c.ch) })
}

func (c *closeOnce) Done() <-chan struct{} {
	return c.ch
}

// pendingRequest is a sent request awaiting its response.
type pendingRequest struct {
	method string
	sentAt time.Time
}

// Session owns the live connection to one device: it dials, authenticates,
// subscribes, streams notifications and reconnects with backoff.
//
// Thread Safety:
//   - Run must be called from a single goroutine, once.
//   - Send, RequestStop, Status and SetEventHandler are safe for concurrent use.
//   - The event handler is invoked synchronously on the Run goroutine,
//     except for the Stopped transition caused by RequestStop, which is
//     delivered on the caller's goroutine.
type Session struct {
	cfg     SessionConfig
	dialer  Dialer
	backoff *Backoff

	// State guarded by mu
	mu             sync.Mutex
	state          SessionState
	failedAttempts int
	authenticated  bool
	subscribed     bool
	lastErr        error
	conn           Conn
	connectedSince time.Time
	used           bool
	pending        map[string]pendingRequest

	// gorilla/websocket allows one concurrent writer
	writeMu sync.Mutex

	stop *closeOnce

	handler   func(Event)
	handlerMu sync.RWMutex

	logger   Logger
	loggerMu sync.RWMutex

	// Statistics
	framesRx      atomic.Uint64
	framesTx      atomic.Uint64
	decodeErrors  atomic.Uint64
	connectsTotal atomic.Uint64
	lastActivity  atomic.Int64 // Unix nanoseconds
}

// NewSession creates a session in the NotStarted state.
func NewSession(cfg SessionConfig) (*Session, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("session URL is required")
	}
	if cfg.DeviceID == "" {
		return nil, fmt.Errorf("device ID is required")
	}
	if cfg.MaxRetries < 0 {
		return nil, fmt.Errorf("max retries must not be negative")
	}
	if cfg.IOTimeout <= 0 {
		cfg.IOTimeout = defaultIOTimeout
	}
	if cfg.CommandAckTimeout <= 0 {
		cfg.CommandAckTimeout = defaultCommandAckTimeout
	}
	if cfg.RetryDelay == 0 && cfg.MaxRetryDelay == 0 {
		cfg.RetryDelay = defaultRetryDelay
		cfg.MaxRetryDelay = defaultMaxRetryDelay
	}

	dialer := cfg.Dialer
	if dialer == nil {
		dialer = WebSocketDialer{HandshakeTimeout: cfg.IOTimeout}
	}

	return &Session{
		cfg:     cfg,
		dialer:  dialer,
		backoff: NewBackoff(cfg.RetryDelay, cfg.MaxRetryDelay),
		state:   StateNotStarted,
		pending: make(map[string]pendingRequest),
		stop:    newCloseOnce(),
	}, nil
}

// SetEventHandler registers the sink for every session event.
func (s *Session) SetEventHandler(handler func(Event)) {
	s.handlerMu.Lock()
	s.handler = handler
	s.handlerMu.Unlock()
}

// SetLogger sets the logger for this session.
func (s *Session) SetLogger(logger Logger) {
	s.loggerMu.Lock()
	s.logger = logger
	s.loggerMu.Unlock()
}

// DeviceID returns the device this session is subscribed to.
func (s *Session) DeviceID() string {
	return s.cfg.DeviceID
}

// State returns the current state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// IsConnected returns true while the session is in the Connected state.
func (s *Session) IsConnected() bool {
	return s.State() == StateConnected
}

// Status returns a copy of the session state and statistics.
func (s *Session) Status() SessionStatus {
	s.mu.Lock()
	st := SessionStatus{
		State:          s.state,
		FailedAttempts: s.failedAttempts,
		Authenticated:  s.authenticated,
		Subscribed:     s.subscribed,
		PendingAcks:    len(s.pending),
		ConnectedSince: s.connectedSince,
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	s.mu.Unlock()

	st.FramesRx = s.framesRx.Load()
	st.FramesTx = s.framesTx.Load()
	st.DecodeErrors = s.decodeErrors.Load()
	st.ConnectsTotal = s.connectsTotal.Load()
	if ns := s.lastActivity.Load(); ns != 0 {
		st.LastActivity = time.Unix(0, ns)
	}
	return st
}

// Run connects and keeps the session alive until RequestStop is called,
// ctx is cancelled, or the retry budget is exhausted.
//
// Returns:
//   - nil after RequestStop
//   - an error wrapping ErrRetryBudgetExhausted once failed attempts exceed MaxRetries
//   - ctx.Err() if the context is cancelled
//   - ErrSessionUsed if the session has already been run
func (s *Session) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.used {
		s.mu.Unlock()
		return ErrSessionUsed
	}
	s.used = true
	s.mu.Unlock()

	// Cancellation closes the live socket so a blocked read returns.
	stopWatch := context.AfterFunc(ctx, s.closeConn)
	defer stopWatch()

	for {
		if s.stopRequested() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			s.transition(StateStopped, err)
			return err
		}
		if err := s.checkBudget(); err != nil {
			s.logError("retry budget exhausted, stopping session", err)
			s.transition(StateStopped, err)
			return err
		}

		if !s.transition(StateStarting, nil) {
			return nil
		}

		connected, err := s.attempt(ctx)

		if s.stopRequested() {
			return nil
		}
		if ctx.Err() != nil {
			continue
		}

		s.recordFailure(connected, err)

		if s.checkBudget() != nil {
			continue
		}

		delay := s.backoff.Next()
		s.logInfo("reconnecting",
			"delay", delay.String(),
			"failed_attempts", s.Status().FailedAttempts,
			"backoff_attempt", s.backoff.Attempts(),
			"next_base_delay", s.backoff.Current().String(),
		)
		s.wait(ctx, delay)
	}
}

// RequestStop moves the session to Stopped and closes the live socket.
// Run returns at its next check point. Safe to call multiple times.
func (s *Session) RequestStop() {
	s.mu.Lock()
	if s.state == StateStopped {
		s.mu.Unlock()
		s.stop.Close()
		return
	}
	s.state = StateStopped
	s.authenticated = false
	s.subscribed = false
	conn := s.conn
	ev := ConnectionStateEvent{State: StateStopped, FailedAttempts: s.failedAttempts, At: time.Now()}
	s.mu.Unlock()

	s.stop.Close()
	if conn != nil {
		conn.Close()
	}

	s.logInfo("session stop requested")
	s.emit(ev)
}

// Send transmits a JSON-RPC request while the session is Connected and
// returns its request id. The response, if any, arrives as a CommandAckEvent.
//
// Returns ErrNotConnected in any other state.
func (s *Session) Send(ctx context.Context, method string, params any) (string, error) {
	s.mu.Lock()
	conn := s.conn
	state := s.state
	s.mu.Unlock()

	if state != StateConnected || conn == nil {
		return "", ErrNotConnected
	}

	id := uuid.NewString()
	data, err := json.Marshal(Request{JSONRPC: jsonRPCVersion, ID: id, Method: method, Params: params})
	if err != nil {
		return "", fmt.Errorf("encode %s: %w", method, err)
	}

	if err := ctx.Err(); err != nil {
		return "", err
	}

	// Register before writing so a fast response finds its entry.
	s.mu.Lock()
	s.pending[id] = pendingRequest{method: method, sentAt: time.Now()}
	s.mu.Unlock()

	if err := s.write(ctx, conn, data); err != nil {
		s.mu.Lock()
		delete(s.pending, id)
		s.mu.Unlock()
		return "", err
	}

	s.logDebug("request sent", "method", method, "id", id)
	return id, nil
}

// attempt runs one dial, handshake and stream cycle. It reports whether
// Connected was reached and the error that ended the attempt.
func (s *Session) attempt(ctx context.Context) (connected bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic during attempt: %v", ErrTransport, r)
		}
	}()

	dialCtx, cancel := context.WithTimeout(ctx, s.cfg.IOTimeout)
	conn, err := s.dialer.Dial(dialCtx, s.cfg.URL)
	cancel()
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrTransport, err)
	}

	if !s.setConn(conn) {
		conn.Close()
		return false, nil
	}
	defer s.dropConn(conn)

	if err := s.handshake(ctx, conn); err != nil {
		return false, err
	}

	if !s.markConnected() {
		return false, nil
	}
	s.backoff.Reset()
	s.connectsTotal.Add(1)
	s.logInfo("session connected", "device_id", s.cfg.DeviceID)

	return true, s.stream(conn)
}

// handshake authenticates and subscribes on a fresh connection.
func (s *Session) handshake(ctx context.Context, conn Conn) error {
	if err := s.writeRequest(ctx, conn, MethodAuth, authParams{
		VarName: s.cfg.Username,
		APIKey:  s.cfg.APIKey,
	}); err != nil {
		return err
	}

	// The server sends one unrelated frame before the auth result.
	if _, err := s.readHandshakeFrame(conn); err != nil {
		return err
	}

	data, err := s.readHandshakeFrame(conn)
	if err != nil {
		return err
	}
	var auth authResult
	if err := decodeResult(data, &auth); err != nil {
		return &HandshakeError{Step: StepAuth, Reason: "authentication failed", Err: err}
	}
	if !auth.Authorized {
		return &HandshakeError{Step: StepAuth, Reason: "authentication failed"}
	}
	s.mu.Lock()
	s.authenticated = true
	s.mu.Unlock()

	if err := s.writeRequest(ctx, conn, MethodSubscribe, subscribeParams{
		Topic: subscribeTopic(s.cfg.DeviceID),
	}); err != nil {
		return err
	}

	data, err = s.readHandshakeFrame(conn)
	if err != nil {
		return err
	}
	var sub subscribeResult
	if err := decodeResult(data, &sub); err != nil {
		return &HandshakeError{Step: StepSubscribe, Reason: "subscription failed", Err: err}
	}
	if sub.Result != "OK" {
		return &HandshakeError{Step: StepSubscribe, Reason: "subscription failed"}
	}
	s.mu.Lock()
	s.subscribed = true
	s.mu.Unlock()

	return nil
}

// decodeResult decodes the result member of a response frame into v.
func decodeResult(data []byte, v any) error {
	f, err := decodeFrame(data)
	if err != nil {
		return err
	}
	if f.Error != nil {
		return f.Error
	}
	if len(f.Result) == 0 {
		return fmt.Errorf("%w: response has no result", ErrProtocolDecode)
	}
	if err := json.Unmarshal(f.Result, v); err != nil {
		return fmt.Errorf("%w: %w", ErrProtocolDecode, err)
	}
	return nil
}

// stream reads frames until the connection fails.
func (s *Session) stream(conn Conn) error {
	readWindow := time.Duration(0)
	if s.cfg.PingInterval > 0 {
		readWindow = s.cfg.PingInterval + s.cfg.IOTimeout
	}

	conn.SetPongHandler(func(string) error {
		s.touch()
		s.expirePending(time.Now())
		if readWindow > 0 {
			return conn.SetReadDeadline(time.Now().Add(readWindow))
		}
		return nil
	})

	pingDone := make(chan struct{})
	defer close(pingDone)
	if s.cfg.PingInterval > 0 {
		go s.keepalive(conn, pingDone)
	}

	for {
		deadline := time.Time{}
		if readWindow > 0 {
			deadline = time.Now().Add(readWindow)
		}
		if err := conn.SetReadDeadline(deadline); err != nil {
			return fmt.Errorf("%w: set read deadline: %w", ErrTransport, err)
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("%w: read: %w", ErrTransport, err)
		}
		s.framesRx.Add(1)
		s.touch()

		s.dispatchFrame(data)
		s.expirePending(time.Now())
	}
}

// keepalive sends pings until done is closed. A failed ping closes the
// connection so the read loop observes the drop.
func (s *Session) keepalive(conn Conn, done <-chan struct{}) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			s.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.cfg.IOTimeout))
			s.writeMu.Unlock()
			if err != nil {
				s.logWarn("keepalive ping failed", "error", err)
				conn.Close()
				return
			}
		}
	}
}

// dispatchFrame classifies one steady-state frame.
func (s *Session) dispatchFrame(data []byte) {
	f, err := decodeFrame(data)
	if err != nil {
		s.decodeErrors.Add(1)
		s.logWarn("dropping undecodable frame", "error", err, "size", len(data))
		return
	}

	if f.IsNotification() {
		s.emit(EntityUpdateEvent{
			Notification: Notification{Method: f.Method, Params: f.Params},
			At:           time.Now(),
		})
		return
	}

	id := f.IDString()
	s.mu.Lock()
	req, ok := s.pending[id]
	if ok {
		delete(s.pending, id)
	}
	s.mu.Unlock()

	if !ok {
		s.logDebug("ignoring uncorrelated response", "id", id)
		return
	}

	ack := CommandAckEvent{
		ID:      id,
		Method:  req.method,
		Result:  f.Result,
		Latency: time.Since(req.sentAt),
	}
	if f.Error != nil {
		ack.Err = f.Error
	}
	s.emit(ack)
}

// expirePending emits timed-out acks for requests older than the ack timeout.
func (s *Session) expirePending(now time.Time) {
	var expired []CommandAckEvent

	s.mu.Lock()
	for id, req := range s.pending {
		if age := now.Sub(req.sentAt); age >= s.cfg.CommandAckTimeout {
			expired = append(expired, CommandAckEvent{
				ID:      id,
				Method:  req.method,
				Err:     context.DeadlineExceeded,
				Latency: age,
			})
			delete(s.pending, id)
		}
	}
	s.mu.Unlock()

	for _, ack := range expired {
		s.emit(ack)
	}
}

// failPending reports every outstanding request as lost with the connection.
func (s *Session) failPending(reason error) {
	var lost []CommandAckEvent

	s.mu.Lock()
	for id, req := range s.pending {
		lost = append(lost, CommandAckEvent{
			ID:      id,
			Method:  req.method,
			Err:     fmt.Errorf("%w: connection lost before response: %w", ErrTransport, reason),
			Latency: time.Since(req.sentAt),
		})
	}
	clear(s.pending)
	s.mu.Unlock()

	for _, ack := range lost {
		s.emit(ack)
	}
}

// writeRequest encodes and writes a handshake request.
func (s *Session) writeRequest(ctx context.Context, conn Conn, method string, params any) error {
	data, err := json.Marshal(Request{
		JSONRPC: jsonRPCVersion,
		ID:      uuid.NewString(),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("encode %s: %w", method, err)
	}
	return s.write(ctx, conn, data)
}

// write sends one text frame, honouring the I/O timeout and ctx deadline.
func (s *Session) write(ctx context.Context, conn Conn, data []byte) error {
	deadline := time.Now().Add(s.cfg.IOTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("%w: set write deadline: %w", ErrTransport, err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("%w: write: %w", ErrTransport, err)
	}

	s.framesTx.Add(1)
	s.touch()
	return nil
}

// readHandshakeFrame reads one frame within the I/O timeout.
func (s *Session) readHandshakeFrame(conn Conn) ([]byte, error) {
	if err := conn.SetReadDeadline(time.Now().Add(s.cfg.IOTimeout)); err != nil {
		return nil, fmt.Errorf("%w: set read deadline: %w", ErrTransport, err)
	}
	_, data, err := conn.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("%w: read: %w", ErrTransport, err)
	}
	s.framesRx.Add(1)
	s.touch()
	return data, nil
}

// transition moves to a new state unless the session is already Stopped.
// It reports whether the transition happened.
func (s *Session) transition(to SessionState, reason error) bool {
	s.mu.Lock()
	if s.state == StateStopped {
		s.mu.Unlock()
		return false
	}
	s.state = to
	if reason != nil {
		s.lastErr = reason
	}
	if to == StateStopped {
		s.authenticated = false
		s.subscribed = false
	}
	ev := ConnectionStateEvent{State: to, Err: reason, FailedAttempts: s.failedAttempts, At: time.Now()}
	s.mu.Unlock()

	if to == StateStopped {
		s.stop.Close()
	}
	s.emit(ev)
	return true
}

// recordFailure classifies a finished attempt: a drop after Connected is
// Closed, anything earlier is Error.
func (s *Session) recordFailure(connected bool, reason error) {
	if reason == nil {
		reason = fmt.Errorf("%w: connection ended", ErrTransport)
	}
	to := StateError
	if connected {
		to = StateClosed
	}

	s.mu.Lock()
	if s.state == StateStopped {
		s.mu.Unlock()
		return
	}
	s.failedAttempts++
	s.authenticated = false
	s.subscribed = false
	s.state = to
	s.lastErr = reason
	ev := ConnectionStateEvent{State: to, Err: reason, FailedAttempts: s.failedAttempts, At: time.Now()}
	s.mu.Unlock()

	if connected {
		s.logWarn("session closed", "error", reason, "failed_attempts", ev.FailedAttempts)
	} else {
		s.logError("connection attempt failed", reason)
	}

	s.failPending(reason)
	s.emit(ev)
}

// checkBudget returns an error wrapping ErrRetryBudgetExhausted once
// failed attempts exceed MaxRetries.
func (s *Session) checkBudget() error {
	if s.cfg.MaxRetries == 0 {
		return nil
	}
	s.mu.Lock()
	failed := s.failedAttempts
	last := s.lastErr
	s.mu.Unlock()

	if failed <= s.cfg.MaxRetries {
		return nil
	}
	if last != nil {
		return fmt.Errorf("%w after %d failed attempts: %w", ErrRetryBudgetExhausted, failed, last)
	}
	return fmt.Errorf("%w after %d failed attempts", ErrRetryBudgetExhausted, failed)
}

// wait sleeps for d unless stop is requested or ctx is cancelled.
func (s *Session) wait(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
	case <-s.stop.Done():
	case <-timer.C:
	}
}

// setConn installs conn as the live connection unless stop was requested.
func (s *Session) setConn(conn Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateStopped {
		return false
	}
	s.conn = conn
	return true
}

// markConnected records a completed handshake.
func (s *Session) markConnected() bool {
	s.mu.Lock()
	if s.state == StateStopped {
		s.mu.Unlock()
		return false
	}
	s.state = StateConnected
	s.connectedSince = time.Now()
	ev := ConnectionStateEvent{State: StateConnected, FailedAttempts: s.failedAttempts, At: s.connectedSince}
	s.mu.Unlock()

	s.emit(ev)
	return true
}

// dropConn closes conn and clears it if it is still the live connection.
func (s *Session) dropConn(conn Conn) {
	s.mu.Lock()
	if s.conn == conn {
		s.conn = nil
		s.connectedSince = time.Time{}
	}
	s.mu.Unlock()
	conn.Close()
}

// closeConn closes the live connection, if any.
func (s *Session) closeConn() {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

func (s *Session) stopRequested() bool {
	select {
	case <-s.stop.Done():
		return true
	default:
		return false
	}
}

func (s *Session) touch() {
	s.lastActivity.Store(time.Now().UnixNano())
}

// emit delivers ev to the handler, recovering handler panics.
func (s *Session) emit(ev Event) {
	s.handlerMu.RLock()
	handler := s.handler
	s.handlerMu.RUnlock()

	if handler == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			s.logError("event handler panic", fmt.Errorf("%v", r))
		}
	}()
	handler(ev)
}

// logInfo logs an info message if logger is set.
func (s *Session) logInfo(msg string, keysAndValues ...any) {
	if logger := s.getLogger(); logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

func (s *Session) logDebug(msg string, keysAndValues ...any) {
	if logger := s.getLogger(); logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}

func (s *Session) logWarn(msg string, keysAndValues ...any) {
	if logger := s.getLogger(); logger != nil {
		logger.Warn(msg, keysAndValues...)
	}
}

// logError logs an error message if logger is set.
func (s *Session) logError(msg string, err error) {
	if logger := s.getLogger(); logger != nil {
		logger.Error(msg, "error", err)
	}
}

func (s *Session) getLogger() Logger {
	s.loggerMu.RLock()
	defer s.loggerMu.RUnlock()
	return s.logger
}

