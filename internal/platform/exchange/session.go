package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/domsync/internal/crypto"
	"github.com/alanyoungcy/domsync/internal/domain"
)

const (
	defaultPingInterval      = 15 * time.Second
	defaultIdleTimeout       = 30 * time.Second
	defaultReconnectDelay    = 2 * time.Second
	defaultMaxReconnectDelay = 60 * time.Second
	defaultHandshakeTimeout  = 15 * time.Second
	defaultWriteTimeout      = 10 * time.Second
)

// State is the lifecycle phase of a Session.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateAuthenticating
	StateAuthenticated
	StateReconnecting
	StateClosed
)

var stateNames = [...]string{
	StateDisconnected:   "disconnected",
	StateConnecting:     "connecting",
	StateConnected:      "connected",
	StateAuthenticating: "authenticating",
	StateAuthenticated:  "authenticated",
	StateReconnecting:   "reconnecting",
	StateClosed:         "closed",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Handler receives data frames on the read goroutine, in arrival order.
type Handler func(Message)

// SessionConfig configures one push socket. Zero durations fall back to the
// package defaults. A nil Auth runs the session without login.
type SessionConfig struct {
	URL               string
	Auth              *crypto.HMACAuth
	PingInterval      time.Duration
	IdleTimeout       time.Duration
	ReconnectDelay    time.Duration
	MaxReconnectDelay time.Duration
	HandshakeTimeout  time.Duration
	WriteTimeout      time.Duration
}

func (c SessionConfig) withDefaults() SessionConfig {
	if c.PingInterval <= 0 {
		c.PingInterval = defaultPingInterval
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = defaultIdleTimeout
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = defaultReconnectDelay
	}
	if c.MaxReconnectDelay < c.ReconnectDelay {
		c.MaxReconnectDelay = max(defaultMaxReconnectDelay, c.ReconnectDelay)
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = defaultHandshakeTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = defaultWriteTimeout
	}
	return c
}

// Session is a reconnecting websocket connection to the exchange push API.
// It owns the live subscription set and replays it, after login, on every
// connect. All writes are serialized by mu, which is also held for the
// whole connect, login and replay sequence.
type Session struct {
	cfg    SessionConfig
	id     string
	logger *slog.Logger
	dialer websocket.Dialer

	mu      sync.Mutex
	conn    *websocket.Conn
	subs    []domain.Subscription
	state   State
	started bool
	onState func(State)

	handler   Handler
	handlerMu sync.RWMutex

	runCtx   context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	finished chan struct{}
	stopOnce sync.Once
}

// NewSession creates a disconnected session. Nothing is dialed until
// Connect.
func NewSession(cfg SessionConfig, logger *slog.Logger) *Session {
	cfg = cfg.withDefaults()
	id := uuid.NewString()
	runCtx, cancel := context.WithCancel(context.Background())
	return &Session{
		cfg: cfg,
		id:  id,
		logger: logger.With(
			slog.String("component", "exchange_session"),
			slog.String("session_id", id),
		),
		dialer:   websocket.Dialer{HandshakeTimeout: cfg.HandshakeTimeout},
		runCtx:   runCtx,
		cancel:   cancel,
		done:     make(chan struct{}),
		finished: make(chan struct{}),
	}
}

// ID identifies the session in logs and session_state events.
func (s *Session) ID() string { return s.id }

// OnMessage registers the frame handler. Set it before Connect.
func (s *Session) OnMessage(h Handler) {
	s.handlerMu.Lock()
	defer s.handlerMu.Unlock()
	s.handler = h
}

// OnStateChange registers a callback for lifecycle transitions. It runs
// with the session lock held and must not block or call back into the
// Session.
func (s *Session) OnStateChange(f func(State)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onState = f
}

// State returns the current lifecycle phase.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Subscriptions returns a copy of the live subscription set.
func (s *Session) Subscriptions() []domain.Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Subscription(nil), s.subs...)
}

// Connect starts the connection loop. It is idempotent and returns
// immediately; cancelling ctx stops the session.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateClosed {
		return fmt.Errorf("exchange/ws: connect: %w", domain.ErrSessionClosed)
	}
	if s.started {
		return nil
	}
	s.started = true

	go s.run(ctx)
	return nil
}

// Subscribe adds sub to the live set and sends it when connected. While
// disconnected the subscription is queued and sent after the next connect.
func (s *Session) Subscribe(sub domain.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateClosed {
		return fmt.Errorf("exchange/ws: subscribe %s: %w", sub, domain.ErrSessionClosed)
	}
	if s.indexLocked(sub) >= 0 {
		return nil
	}
	s.subs = append(s.subs, sub)
	s.sendLocked("subscribe", sub)
	return nil
}

// Unsubscribe removes sub from the live set and tells the exchange when
// connected.
func (s *Session) Unsubscribe(sub domain.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateClosed {
		return fmt.Errorf("exchange/ws: unsubscribe %s: %w", sub, domain.ErrSessionClosed)
	}
	i := s.indexLocked(sub)
	if i < 0 {
		return nil
	}
	s.subs = append(s.subs[:i], s.subs[i+1:]...)
	s.sendLocked("unsubscribe", sub)
	return nil
}

// Stop closes the session for good: the subscription set is cleared, a
// close frame is sent and the socket torn down. It does not wait for the
// run loop; use Done for that.
func (s *Session) Stop() {
	s.stopOnce.Do(func() {
		s.cancel()
		close(s.done)

		s.mu.Lock()
		s.subs = nil
		conn := s.conn
		s.conn = nil
		started := s.started
		s.setStateLocked(StateClosed)
		if conn != nil {
			_ = conn.SetWriteDeadline(time.Now().Add(time.Second))
			_ = conn.WriteMessage(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			)
			_ = conn.Close()
		}
		s.mu.Unlock()

		if !started {
			close(s.finished)
		}
		s.logger.Info("session stopped")
	})
}

// Done is closed once the run loop has exited after Stop.
func (s *Session) Done() <-chan struct{} { return s.finished }

// --------------------------------------------------------------------------
// Internal methods
// --------------------------------------------------------------------------

// run dials, serves and reconnects until the session is stopped.
func (s *Session) run(ctx context.Context) {
	defer close(s.finished)

	go func() {
		select {
		case <-ctx.Done():
			s.Stop()
		case <-s.done:
		}
	}()

	delay := s.cfg.ReconnectDelay
	for {
		conn, err := s.establish()
		if err != nil {
			if s.closing() {
				return
			}
			s.logger.Warn("connect failed",
				slog.String("error", err.Error()),
				slog.Duration("retry_in", delay),
			)
			s.setState(StateReconnecting)
			if !s.wait(delay) {
				return
			}
			delay = min(delay*2, s.cfg.MaxReconnectDelay)
			continue
		}
		delay = s.cfg.ReconnectDelay

		err = s.serve(conn)
		if s.closing() {
			return
		}
		s.logger.Warn("connection lost, reconnecting", slog.String("error", err.Error()))
		s.setState(StateReconnecting)
		if !s.wait(delay) {
			return
		}
	}
}

// establish dials, logs in and replays the live set with mu held, so no
// other command reaches the socket before the replay is complete.
func (s *Session) establish() (*websocket.Conn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateClosed {
		return nil, domain.ErrSessionClosed
	}
	s.setStateLocked(StateConnecting)

	dialCtx, cancel := context.WithTimeout(s.runCtx, s.cfg.HandshakeTimeout)
	defer cancel()
	conn, _, err := s.dialer.DialContext(dialCtx, s.cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("exchange/ws: dial: %w", err)
	}

	idle := s.cfg.IdleTimeout
	_ = conn.SetReadDeadline(time.Now().Add(idle))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(idle))
	})
	s.conn = conn
	s.setStateLocked(StateConnected)

	if s.cfg.Auth != nil {
		s.setStateLocked(StateAuthenticating)
		args := s.cfg.Auth.Login()
		if err := s.writeLocked(WSCommand{Op: "login", Args: &args}); err != nil {
			s.dropLocked()
			return nil, fmt.Errorf("exchange/ws: login: %w", err)
		}
		s.setStateLocked(StateAuthenticated)
	}

	for _, sub := range s.subs {
		if err := s.writeLocked(subscribeCommand("subscribe", sub)); err != nil {
			s.dropLocked()
			return nil, fmt.Errorf("exchange/ws: replay %s: %w", sub, err)
		}
	}

	s.logger.Info("session connected",
		slog.String("url", s.cfg.URL),
		slog.Int("subscriptions", len(s.subs)),
		slog.Bool("authenticated", s.cfg.Auth != nil),
	)
	return conn, nil
}

// serve reads frames until the connection fails. Control frames are
// consumed here; everything else goes to the handler.
func (s *Session) serve(conn *websocket.Conn) error {
	pingDone := make(chan struct{})
	go s.pingLoop(conn, pingDone)

	defer func() {
		close(pingDone)
		s.mu.Lock()
		if s.conn == conn {
			s.conn = nil
		}
		s.mu.Unlock()
		_ = conn.Close()
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("exchange/ws: read: %w", err)
		}
		_ = conn.SetReadDeadline(time.Now().Add(s.cfg.IdleTimeout))

		var msg Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			return fmt.Errorf("exchange/ws: %w: %v", domain.ErrMalformedFrame, err)
		}

		switch msg.Type {
		case TypePong, TypeSubscribed, TypeUnsubscribed:
			continue
		case TypeInfo:
			if msg.Code == infoCodeReconnect {
				return fmt.Errorf("exchange/ws: %w", domain.ErrReconnectRequest)
			}
			s.logger.Info("exchange info", slog.Int("code", msg.Code), slog.String("msg", msg.Msg))
			continue
		case TypeError:
			if s.cfg.Auth != nil && isAuthError(msg.Msg) {
				return fmt.Errorf("exchange/ws: %w: %s", domain.ErrUnauthorized, msg.Msg)
			}
			s.logger.Warn("exchange error frame", slog.Int("code", msg.Code), slog.String("msg", msg.Msg))
			continue
		case "":
			return fmt.Errorf("exchange/ws: %w: missing type", domain.ErrMalformedFrame)
		}

		s.dispatch(msg)
	}
}

func (s *Session) dispatch(msg Message) {
	s.handlerMu.RLock()
	h := s.handler
	s.handlerMu.RUnlock()
	if h != nil {
		h(msg)
	}
}

// pingLoop sends application-level pings while conn is current.
func (s *Session) pingLoop(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			s.mu.Lock()
			var err error
			if s.conn == conn {
				err = s.writeLocked(WSCommand{Op: "ping"})
			}
			s.mu.Unlock()
			if err != nil {
				s.logger.Warn("ping failed", slog.String("error", err.Error()))
				_ = conn.Close()
				return
			}
		}
	}
}

// sendLocked writes a subscribe/unsubscribe frame when live. A failed write
// closes the socket; the reconnect replays the set. Caller must hold s.mu.
func (s *Session) sendLocked(op string, sub domain.Subscription) {
	if !s.liveLocked() {
		return
	}
	if err := s.writeLocked(subscribeCommand(op, sub)); err != nil {
		s.logger.Warn("command write failed",
			slog.String("op", op),
			slog.String("subscription", sub.String()),
			slog.String("error", err.Error()),
		)
		_ = s.conn.Close()
	}
}

// writeLocked sends a JSON command. Caller must hold s.mu.
func (s *Session) writeLocked(cmd WSCommand) error {
	if s.conn == nil {
		return domain.ErrWSDisconnect
	}
	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}
	_ = s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

func (s *Session) dropLocked() {
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
}

func (s *Session) liveLocked() bool {
	return s.conn != nil && (s.state == StateConnected || s.state == StateAuthenticated)
}

func (s *Session) indexLocked(sub domain.Subscription) int {
	key := sub.Key()
	for i, existing := range s.subs {
		if existing.Key() == key {
			return i
		}
	}
	return -1
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setStateLocked(st)
}

// setStateLocked records a transition. Closed is terminal.
func (s *Session) setStateLocked(st State) {
	if s.state == st || s.state == StateClosed {
		return
	}
	s.state = st
	if s.onState != nil {
		s.onState(st)
	}
}

func (s *Session) closing() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// wait sleeps for d unless the session is stopped first.
func (s *Session) wait(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-s.done:
		return false
	case <-t.C:
		return true
	}
}

func isAuthError(msg string) bool {
	m := strings.ToLower(msg)
	return strings.Contains(m, "login") || strings.Contains(m, "auth")
}
