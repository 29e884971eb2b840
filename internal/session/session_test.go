package session

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"talanta/internal/auth"
	"talanta/internal/models"
	"talanta/internal/stomp"
)

// stompServer is a minimal broker-side peer for integration tests: it
// accepts one WebSocket at a time, answers CONNECT, records subscriptions
// and SENDs, and lets the test push MESSAGE frames down.
type stompServer struct {
	upgrader websocket.Upgrader

	connects   chan string // Authorization header of each CONNECT
	subscribes chan string
	sends      chan *stomp.Frame

	reject bool

	mu   sync.Mutex
	conn *websocket.Conn
	wmu  sync.Mutex
}

func (s *stompServer) write(conn *websocket.Conn, payload []byte) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, payload)
}

func newStompServer() *stompServer {
	return &stompServer{
		connects:   make(chan string, 8),
		subscribes: make(chan string, 16),
		sends:      make(chan *stomp.Frame, 16),
	}
}

func (s *stompServer) handler(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	go s.serve(conn)
}

func (s *stompServer) serve(conn *websocket.Conn) {
	defer func() { _ = conn.Close() }()
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if stomp.IsHeartbeat(raw) {
			// Echo so the client's incoming-heartbeat deadline stays fed.
			_ = s.write(conn, stomp.Heartbeat)
			continue
		}
		frame, err := stomp.Parse(raw)
		if err != nil {
			return
		}
		switch frame.Command {
		case stomp.CmdConnect:
			authz, _ := frame.Header("Authorization")
			s.connects <- authz
			if s.reject {
				reply := stomp.New(stomp.CmdError).Set("message", "bad credentials")
				_ = s.write(conn, reply.Marshal())
				return
			}
			reply := stomp.New(stomp.CmdConnected).
				Set("version", "1.2").
				Set("heart-beat", "4000,4000")
			_ = s.write(conn, reply.Marshal())
		case stomp.CmdSubscribe:
			dest, _ := frame.Header("destination")
			s.subscribes <- dest
		case stomp.CmdSend:
			s.sends <- frame
		case stomp.CmdDisconnect:
			return
		}
	}
}

func (s *stompServer) push(t *testing.T, destination string, body string) {
	t.Helper()
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	require.NotNil(t, conn)

	frame := stomp.New(stomp.CmdMessage).
		Set("destination", destination).
		Set("subscription", "sub-0").
		Set("message-id", "m-1")
	frame.Body = []byte(body)
	require.NoError(t, s.write(conn, frame.Marshal()))
}

func (s *stompServer) drop() {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

func startSession(t *testing.T, srv *stompServer) *Session {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(srv.handler))
	t.Cleanup(ts.Close)

	sess := New(Config{
		URL:               "ws" + strings.TrimPrefix(ts.URL, "http"),
		UserID:            1,
		Tokens:            auth.StaticToken("test-token"),
		HeartbeatInterval: 50 * time.Millisecond,
		ReconnectDelay:    30 * time.Millisecond,
	})
	t.Cleanup(sess.Disconnect)
	return sess
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestConnectHandshakeAndSubscriptions(t *testing.T) {
	srv := newStompServer()
	sess := startSession(t, srv)

	require.NoError(t, sess.Connect(context.Background()))

	authz := <-srv.connects
	require.Equal(t, "Bearer test-token", authz)

	var dests []string
	for i := 0; i < 4; i++ {
		select {
		case d := <-srv.subscribes:
			dests = append(dests, d)
		case <-time.After(2 * time.Second):
			t.Fatalf("subscription %d never arrived", i)
		}
	}
	require.ElementsMatch(t, []string{
		"/user/1/queue/messages",
		"/user/1/queue/typing",
		"/user/1/queue/read-receipts",
		"/topic/user-status",
	}, dests)

	waitFor(t, func() bool { return sess.State() == StateConnected }, "never reached CONNECTED")
	require.EqualValues(t, 1, sess.Generation())
}

func TestConnectTwiceIsNoOp(t *testing.T) {
	srv := newStompServer()
	sess := startSession(t, srv)

	require.NoError(t, sess.Connect(context.Background()))
	require.NoError(t, sess.Connect(context.Background()))

	<-srv.connects
	select {
	case <-srv.connects:
		t.Fatal("second connect opened a second handshake")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestConnectRequiresToken(t *testing.T) {
	sess := New(Config{URL: "ws://unused", UserID: 1, Tokens: auth.StaticToken("")})
	err := sess.Connect(context.Background())
	require.ErrorIs(t, err, auth.ErrNoToken)
	require.Equal(t, StateDisconnected, sess.State())
}

func TestInboundMessageReachesSubscriber(t *testing.T) {
	srv := newStompServer()
	sess := startSession(t, srv)

	var mu sync.Mutex
	var got []models.Message
	sess.OnMessage(func(m models.Message) {
		mu.Lock()
		got = append(got, m)
		mu.Unlock()
	})

	require.NoError(t, sess.Connect(context.Background()))
	waitFor(t, func() bool { return sess.State() == StateConnected }, "never connected")

	srv.push(t, "/user/1/queue/messages", `{"id":10,"senderId":2,"receiverId":1,"text":"hello"}`)
	// A malformed frame must be dropped without breaking the pump.
	srv.push(t, "/user/1/queue/messages", `{"id":11`)
	srv.push(t, "/user/1/queue/messages", `{"id":12,"senderId":2,"receiverId":1,"text":"still alive"}`)

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	}, "expected exactly the two valid messages")

	mu.Lock()
	defer mu.Unlock()
	require.EqualValues(t, 10, got[0].ID)
	require.EqualValues(t, 12, got[1].ID)
}

func TestPublishMessageFrame(t *testing.T) {
	srv := newStompServer()
	sess := startSession(t, srv)

	require.NoError(t, sess.Connect(context.Background()))
	waitFor(t, func() bool { return sess.State() == StateConnected }, "never connected")

	sess.PublishTyping(2, true)

	select {
	case frame := <-srv.sends:
		dest, _ := frame.Header("destination")
		require.Equal(t, "/app/typing", dest)
		require.Contains(t, string(frame.Body), `"isTyping":true`)
	case <-time.After(2 * time.Second):
		t.Fatal("SEND frame never arrived")
	}
}

func TestPublishReadReceiptWireShape(t *testing.T) {
	srv := newStompServer()
	sess := startSession(t, srv)

	require.NoError(t, sess.Connect(context.Background()))
	waitFor(t, func() bool { return sess.State() == StateConnected }, "never connected")

	sess.PublishReadReceipt(2)

	select {
	case frame := <-srv.sends:
		dest, _ := frame.Header("destination")
		require.Equal(t, "/app/messages-read", dest)

		var body map[string]int64
		require.NoError(t, json.Unmarshal(frame.Body, &body))
		// The reader travels as receiverId, same shape the inbound path
		// parses.
		require.Equal(t, map[string]int64{"senderId": 2, "receiverId": 1}, body)
	case <-time.After(2 * time.Second):
		t.Fatal("SEND frame never arrived")
	}
}

func TestPublishWhileDisconnectedIsDropped(t *testing.T) {
	sess := New(Config{URL: "ws://unused", UserID: 1, Tokens: auth.StaticToken("t")})
	// Must not panic or block.
	sess.PublishMessage(models.OutboundMessage{SenderID: 1, ReceiverID: 2, Text: "void"})
	sess.PublishReadReceipt(2)
}

func TestReconnectsAfterDrop(t *testing.T) {
	srv := newStompServer()
	sess := startSession(t, srv)

	var mu sync.Mutex
	connects, disconnects := 0, 0
	sess.OnConnect(func() { mu.Lock(); connects++; mu.Unlock() })
	sess.OnDisconnect(func(error) { mu.Lock(); disconnects++; mu.Unlock() })

	require.NoError(t, sess.Connect(context.Background()))
	waitFor(t, func() bool { return sess.State() == StateConnected }, "never connected")

	srv.drop()

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return connects >= 2 && disconnects >= 1
	}, "session did not reconnect after drop")
	require.GreaterOrEqual(t, sess.Generation(), uint64(2))
}

func TestHandshakeRejectionSurfacesError(t *testing.T) {
	srv := newStompServer()
	srv.reject = true
	sess := startSession(t, srv)

	errs := make(chan error, 8)
	sess.OnError(func(err error) { errs <- err })

	require.NoError(t, sess.Connect(context.Background()))

	select {
	case err := <-errs:
		require.Contains(t, err.Error(), "bad credentials")
	case <-time.After(2 * time.Second):
		t.Fatal("handshake rejection never surfaced")
	}
}

func TestDisconnectTwiceIsSafe(t *testing.T) {
	srv := newStompServer()
	sess := startSession(t, srv)

	require.NoError(t, sess.Connect(context.Background()))
	waitFor(t, func() bool { return sess.State() == StateConnected }, "never connected")

	sess.Disconnect()
	require.Equal(t, StateDisconnected, sess.State())
	sess.Disconnect()
	require.Equal(t, StateDisconnected, sess.State())
}
