// Package session maintains the live STOMP-over-WebSocket connection to the
// chat backend: handshake, subscriptions, heartbeats, reconnection, and
// typed fan-out of inbound frames.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"talanta/internal/auth"
	"talanta/internal/models"
	"talanta/internal/stomp"
)

type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateReconnecting:
		return "RECONNECTING"
	}
	return "UNKNOWN"
}

const (
	defaultHeartbeat      = 4 * time.Second
	defaultReconnectDelay = 5 * time.Second
	handshakeTimeout      = 10 * time.Second
)

type Config struct {
	// URL is the WebSocket endpoint, e.g. ws://host/ws.
	URL    string
	UserID int64
	Tokens auth.TokenSource

	// HeartbeatInterval is advertised in both directions of the heart-beat
	// header. The read deadline allows twice this before declaring the
	// server gone.
	HeartbeatInterval time.Duration
	// ReconnectDelay is the fixed pause between attempts. No backoff: the
	// backend sits one hop away and a flat delay recovers fast without
	// hammering it.
	ReconnectDelay time.Duration

	Dialer *websocket.Dialer
}

type Session struct {
	cfg      Config
	clientID string
	d        dispatcher

	// writeMu serializes frame and heartbeat writes on the shared conn.
	writeMu sync.Mutex

	mu     sync.Mutex
	state  State
	conn   *websocket.Conn
	cancel context.CancelFunc
	done   chan struct{}
	gen    uint64
}

func New(cfg Config) *Session {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = defaultHeartbeat
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = defaultReconnectDelay
	}
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}
	return &Session{
		cfg:      cfg,
		clientID: uuid.NewString(),
	}
}

// Connect starts the connection loop. Calling it while a loop is already
// running is a logged no-op; calling it without an obtainable token is an
// error, because the handshake is guaranteed to be rejected.
func (s *Session) Connect(ctx context.Context) error {
	if _, err := s.cfg.Tokens.Token(ctx); err != nil {
		return fmt.Errorf("session connect: %w", err)
	}

	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		log.Printf("session already active, ignoring connect")
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.setStateLocked(StateConnecting)
	done := s.done
	s.mu.Unlock()

	go s.run(runCtx, done)
	return nil
}

// Disconnect tears the session down and waits for the loop to exit. Safe to
// call twice; the second call is a no-op.
func (s *Session) Disconnect() {
	s.mu.Lock()
	cancel := s.cancel
	done := s.done
	conn := s.conn
	s.cancel = nil
	s.done = nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}

	if conn != nil {
		s.writeMu.Lock()
		_ = conn.WriteMessage(websocket.TextMessage, stomp.New(stomp.CmdDisconnect).Marshal())
		s.writeMu.Unlock()
		_ = conn.Close()
	}
	cancel()
	<-done
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Generation counts successful handshakes. Subscribers compare it to detect
// results that straddled a reconnect.
func (s *Session) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen
}

func (s *Session) OnMessage(fn func(models.Message)) func() { return s.d.message.add(fn) }

func (s *Session) OnTyping(fn func(models.TypingIndicator)) func() { return s.d.typing.add(fn) }

func (s *Session) OnUserStatus(fn func(models.PresenceStatus)) func() { return s.d.userStatus.add(fn) }

func (s *Session) OnReadReceipt(fn func(models.ReadReceipt)) func() { return s.d.readReceipt.add(fn) }

func (s *Session) OnDisconnect(fn func(error)) func() { return s.d.disconnect.add(fn) }

func (s *Session) OnError(fn func(error)) func() { return s.d.errs.add(fn) }

func (s *Session) OnConnect(fn func()) func() {
	return s.d.connect.add(func(struct{}) { fn() })
}

// PublishMessage sends a chat message on the live path. When the session is
// not connected the frame is dropped with a log line; durable delivery is
// the REST client's job, not this one's.
func (s *Session) PublishMessage(msg models.OutboundMessage) {
	s.publish("/app/chat", msg)
}

func (s *Session) PublishTyping(receiverID int64, isTyping bool) {
	s.publish("/app/typing", models.TypingIndicator{
		SenderID:   s.cfg.UserID,
		ReceiverID: receiverID,
		IsTyping:   isTyping,
	})
}

// PublishReadReceipt announces that this user has read senderID's messages.
// The wire shape mirrors the inbound one: the reader travels as receiverId.
func (s *Session) PublishReadReceipt(senderID int64) {
	s.publish("/app/messages-read", models.ReadReceipt{
		SenderID:   senderID,
		ReceiverID: s.cfg.UserID,
	})
}

func (s *Session) publish(destination string, body any) {
	raw, err := json.Marshal(body)
	if err != nil {
		log.Printf("publish to %s: %v", destination, err)
		return
	}

	frame := stomp.New(stomp.CmdSend).
		Set("destination", destination).
		Set("content-type", "application/json")
	frame.Body = raw

	if err := s.send(frame); err != nil {
		log.Printf("dropping frame for %s: %v", destination, err)
	}
}

func (s *Session) send(f *stomp.Frame) error {
	s.mu.Lock()
	conn, state := s.conn, s.state
	s.mu.Unlock()

	if state != StateConnected || conn == nil {
		return models.ErrNotConnected
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, f.Marshal())
}

// run drives the connect/reconnect loop until the context is cancelled.
func (s *Session) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer s.setState(StateDisconnected)

	for {
		err := s.attempt(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			log.Printf("session attempt failed: %v", err)
			s.d.errs.emit(err)
		}

		s.setState(StateReconnecting)
		select {
		case <-time.After(s.cfg.ReconnectDelay):
		case <-ctx.Done():
			return
		}
	}
}

// attempt runs one full connection lifetime: dial, handshake, subscribe,
// then pump frames until the connection dies.
func (s *Session) attempt(ctx context.Context) error {
	token, err := s.cfg.Tokens.Token(ctx)
	if err != nil {
		return fmt.Errorf("obtain token: %w", err)
	}

	conn, resp, err := s.cfg.Dialer.DialContext(ctx, s.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", s.cfg.URL, err)
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	defer func() { _ = conn.Close() }()

	if err := s.handshake(conn, token); err != nil {
		return err
	}
	if err := s.subscribeAll(conn); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	s.mu.Lock()
	s.conn = conn
	s.gen++
	s.setStateLocked(StateConnected)
	s.mu.Unlock()

	s.d.connect.emit(struct{}{})

	err = s.pump(ctx, conn)

	s.mu.Lock()
	s.conn = nil
	s.mu.Unlock()

	s.d.disconnect.emit(err)
	return err
}

func (s *Session) handshake(conn *websocket.Conn, token string) error {
	hbMillis := strconv.FormatInt(s.cfg.HeartbeatInterval.Milliseconds(), 10)
	connect := stomp.New(stomp.CmdConnect).
		Set("accept-version", "1.2").
		Set("heart-beat", hbMillis+","+hbMillis).
		Set("Authorization", "Bearer "+token).
		Set("client-id", s.clientID)

	s.writeMu.Lock()
	err := conn.WriteMessage(websocket.TextMessage, connect.Marshal())
	s.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("send CONNECT: %w", err)
	}

	deadline := time.Now().Add(handshakeTimeout)
	for {
		if err := conn.SetReadDeadline(deadline); err != nil {
			return err
		}
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("await CONNECTED: %w", err)
		}
		if stomp.IsHeartbeat(raw) {
			continue
		}

		frame, err := stomp.Parse(raw)
		if err != nil {
			return fmt.Errorf("handshake: %w", err)
		}
		switch frame.Command {
		case stomp.CmdConnected:
			return nil
		case stomp.CmdError:
			msg, _ := frame.Header("message")
			return fmt.Errorf("handshake rejected: %s", msg)
		default:
			return fmt.Errorf("handshake: unexpected %s frame", frame.Command)
		}
	}
}

type subscription struct {
	destination string
	kind        models.FrameKind
}

func (s *Session) subscriptions() []subscription {
	uid := strconv.FormatInt(s.cfg.UserID, 10)
	return []subscription{
		{"/user/" + uid + "/queue/messages", models.FrameMessage},
		{"/user/" + uid + "/queue/typing", models.FrameTyping},
		{"/user/" + uid + "/queue/read-receipts", models.FrameReadReceipt},
		{"/topic/user-status", models.FrameUserStatus},
	}
}

func (s *Session) subscribeAll(conn *websocket.Conn) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	for i, sub := range s.subscriptions() {
		frame := stomp.New(stomp.CmdSubscribe).
			Set("id", "sub-"+strconv.Itoa(i)).
			Set("destination", sub.destination)
		if err := conn.WriteMessage(websocket.TextMessage, frame.Marshal()); err != nil {
			return err
		}
	}
	return nil
}

// pump reads frames until the connection fails, forwarding them to the
// dispatcher. A second goroutine writes outgoing heartbeats; a missing
// incoming heartbeat past twice the interval trips the read deadline.
func (s *Session) pump(ctx context.Context, conn *websocket.Conn) error {
	stop := make(chan struct{})
	defer close(stop)

	go func() {
		ticker := time.NewTicker(s.cfg.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.writeMu.Lock()
				err := conn.WriteMessage(websocket.TextMessage, stomp.Heartbeat)
				s.writeMu.Unlock()
				if err != nil {
					_ = conn.Close()
					return
				}
			case <-stop:
				return
			case <-ctx.Done():
				_ = conn.Close()
				return
			}
		}
	}()

	grace := 2 * s.cfg.HeartbeatInterval
	for {
		if err := conn.SetReadDeadline(time.Now().Add(grace)); err != nil {
			return err
		}
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read frame: %w", err)
		}
		if stomp.IsHeartbeat(raw) {
			continue
		}

		frame, err := stomp.Parse(raw)
		if err != nil {
			log.Printf("dropping unparseable frame: %v", err)
			continue
		}
		s.route(frame)
	}
}

func (s *Session) route(f *stomp.Frame) {
	switch f.Command {
	case stomp.CmdMessage:
		dest, _ := f.Header("destination")
		kind, ok := kindForDestination(dest)
		if !ok {
			log.Printf("dropping frame for unknown destination %q", dest)
			return
		}
		parsed, err := models.ParseFrame(kind, f.Body)
		if err != nil {
			log.Printf("dropping frame from %s: %v", dest, err)
			return
		}
		s.d.dispatch(parsed)
	case stomp.CmdError:
		msg, _ := f.Header("message")
		s.d.errs.emit(fmt.Errorf("server error: %s", msg))
	case stomp.CmdReceipt:
		// Receipts are not requested; tolerate them anyway.
	default:
		log.Printf("dropping unexpected %s frame", f.Command)
	}
}

// kindForDestination matches by path segment rather than exact string
// because the broker may rewrite user destinations with session suffixes.
func kindForDestination(dest string) (models.FrameKind, bool) {
	switch {
	case strings.Contains(dest, "/queue/messages"):
		return models.FrameMessage, true
	case strings.Contains(dest, "/queue/typing"):
		return models.FrameTyping, true
	case strings.Contains(dest, "/queue/read-receipts"):
		return models.FrameReadReceipt, true
	case strings.Contains(dest, "/topic/user-status"):
		return models.FrameUserStatus, true
	}
	return "", false
}

func (s *Session) setState(next State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setStateLocked(next)
}

func (s *Session) setStateLocked(next State) {
	if s.state == next {
		return
	}
	log.Printf("session %s -> %s", s.state, next)
	s.state = next
}
