package realtime

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"homehub/auth"
	"homehub/internal/utils"
)

// fakeSocket records writes; ReadMessage blocks until Close or an inbound
// frame is pushed.
type fakeSocket struct {
	mu       sync.Mutex
	written  [][]byte
	controls []int
	closed   bool
	inbound  chan []byte
	done     chan struct{}
	pong     func(string) error
}

func newFakeSocket() *fakeSocket {
	return &fakeSocket{inbound: make(chan []byte, 8), done: make(chan struct{})}
}

func (s *fakeSocket) ReadMessage() (int, []byte, error) {
	select {
	case data := <-s.inbound:
		return websocket.TextMessage, data, nil
	case <-s.done:
		return 0, nil, errors.New("closed")
	}
}

func (s *fakeSocket) WriteMessage(_ int, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("closed")
	}
	s.written = append(s.written, append([]byte(nil), data...))
	return nil
}

func (s *fakeSocket) WriteControl(messageType int, _ []byte, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.controls = append(s.controls, messageType)
	return nil
}

func (s *fakeSocket) SetReadLimit(int64)               {}
func (s *fakeSocket) SetWriteDeadline(time.Time) error { return nil }
func (s *fakeSocket) SetPongHandler(h func(string) error) {
	s.mu.Lock()
	s.pong = h
	s.mu.Unlock()
}

func (s *fakeSocket) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.done)
	}
	return nil
}

func (s *fakeSocket) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *fakeSocket) pings() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.controls {
		if c == websocket.PingMessage {
			n++
		}
	}
	return n
}

func (s *fakeSocket) answerPong() {
	s.mu.Lock()
	h := s.pong
	s.mu.Unlock()
	if h != nil {
		_ = h("")
	}
}

var admin = auth.Principal{UserID: "root", Role: auth.RoleAdmin}

func newClient(h *Hub, p auth.Principal) (*Client, *fakeSocket) {
	s := newFakeSocket()
	c := NewClient(h, s, p, 16, utils.Discard())
	h.Register(c)
	return c, s
}

// drain returns the messages queued for c without running the write pump.
func drain(c *Client) []map[string]any {
	var out []map[string]any
	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				return out
			}
			var m map[string]any
			_ = json.Unmarshal(data, &m)
			out = append(out, m)
		default:
			return out
		}
	}
}

func TestJoinAndRejoinFanOut(t *testing.T) {
	h := NewHub(utils.Discard())
	c1, _ := newClient(h, admin)
	c2, _ := newClient(h, admin)

	h.Join("A", c1)
	h.Join("B", c2)
	if n := h.Broadcast("A", map[string]string{"type": "device_state"}); n != 1 {
		t.Errorf("Broadcast(A) delivered %d, want 1", n)
	}
	if got := drain(c1); len(got) != 1 {
		t.Errorf("c1 received %d messages, want 1", len(got))
	}
	if got := drain(c2); len(got) != 0 {
		t.Errorf("c2 received %d messages, want 0", len(got))
	}

	h.Join("B", c1)
	if h.RoomSize("A") != 0 {
		t.Errorf("RoomSize(A) = %d after rejoin, want 0", h.RoomSize("A"))
	}
	if h.Broadcast("A", map[string]string{"type": "device_state"}) != 0 {
		t.Error("broadcast to A after rejoin should reach nobody")
	}
	if n := h.Broadcast("B", map[string]string{"type": "device_state"}); n != 2 {
		t.Errorf("Broadcast(B) delivered %d, want 2", n)
	}
	if len(drain(c1)) != 1 || len(drain(c2)) != 1 {
		t.Error("both clients should receive the B broadcast")
	}
}

func TestLeaveDeletesEmptyRoom(t *testing.T) {
	h := NewHub(utils.Discard())
	c, _ := newClient(h, admin)

	h.Join("A", c)
	h.Leave("A", c)
	if h.RoomSize("A") != 0 {
		t.Errorf("RoomSize(A) = %d, want 0", h.RoomSize("A"))
	}
	h.mu.RLock()
	_, exists := h.rooms["A"]
	h.mu.RUnlock()
	if exists {
		t.Error("empty room was not deleted")
	}
}

func TestBroadcastSkipsClosedClients(t *testing.T) {
	h := NewHub(utils.Discard())
	c1, _ := newClient(h, admin)
	c2, _ := newClient(h, admin)
	h.Join("A", c1)
	h.Join("A", c2)

	// a connection closing concurrently with a broadcast snapshot
	c2.mu.Lock()
	c2.closed = true
	c2.mu.Unlock()

	if n := h.Broadcast("A", map[string]int{"n": 1}); n != 1 {
		t.Errorf("Broadcast() delivered %d, want 1", n)
	}
	if h.RoomSize("A") != 2 {
		t.Errorf("RoomSize(A) = %d, broadcast must not remove clients", h.RoomSize("A"))
	}
}

func TestCloseRemovesFromRoomBeforeSocketRelease(t *testing.T) {
	h := NewHub(utils.Discard())
	c, s := newClient(h, admin)
	h.Join("A", c)

	c.Close(websocket.CloseNormalClosure, "bye")

	if !s.isClosed() {
		t.Error("socket not closed")
	}
	if h.RoomSize("A") != 0 || h.ClientCount() != 0 {
		t.Errorf("RoomSize = %d, ClientCount = %d after close", h.RoomSize("A"), h.ClientCount())
	}
	if c.IsOpen() {
		t.Error("IsOpen() = true after close")
	}
	if c.trySend([]byte("x")) {
		t.Error("trySend succeeded on a closed client")
	}
	c.Close(websocket.CloseNormalClosure, "again")
}

func TestSweepTwoProbeLiveness(t *testing.T) {
	h := NewHub(utils.Discard())
	responsive, rs := newClient(h, admin)
	silent, ss := newClient(h, admin)
	h.Join("A", responsive)
	h.Join("A", silent)
	rs.SetPongHandler(func(string) error { responsive.alive.Store(true); return nil })

	if n := h.Sweep(); n != 0 {
		t.Fatalf("first Sweep() terminated %d, want 0", n)
	}
	if rs.pings() != 1 || ss.pings() != 1 {
		t.Errorf("pings = %d, %d; want 1 each", rs.pings(), ss.pings())
	}

	rs.answerPong()

	if n := h.Sweep(); n != 1 {
		t.Fatalf("second Sweep() terminated %d, want 1", n)
	}
	if !ss.isClosed() {
		t.Error("silent client was not terminated")
	}
	if rs.isClosed() {
		t.Error("responsive client was terminated")
	}
	if h.RoomSize("A") != 1 || h.ClientCount() != 1 {
		t.Errorf("RoomSize = %d, ClientCount = %d; want 1, 1", h.RoomSize("A"), h.ClientCount())
	}
}

func TestClientJoinChecksScope(t *testing.T) {
	h := NewHub(utils.Discard())
	c, _ := newClient(h, auth.Principal{UserID: "u1", Role: "user", HomeIDs: []string{"A"}})

	if c.Join("B") {
		t.Error("Join(B) should be refused")
	}
	if !c.Join("A") {
		t.Error("Join(A) should succeed")
	}
	msgs := drain(c)
	if len(msgs) != 2 || msgs[0]["type"] != TypeError || msgs[1]["type"] != TypeJoined {
		t.Errorf("messages = %v", msgs)
	}
	if h.HomeOf(c) != "A" {
		t.Errorf("HomeOf() = %q, want A", h.HomeOf(c))
	}
}

func TestClientHandleMessage(t *testing.T) {
	h := NewHub(utils.Discard())
	c, _ := newClient(h, admin)

	c.handleMessage([]byte(`{"type":"join","tenantId":"T1"}`))
	if h.HomeOf(c) != "T1" {
		t.Errorf("HomeOf() = %q after tenantId join", h.HomeOf(c))
	}
	c.handleMessage([]byte(`{"type":"join","homeId":"H2"}`))
	if h.RoomSize("T1") != 0 || h.RoomSize("H2") != 1 {
		t.Error("join message did not move the client")
	}
	c.handleMessage([]byte(`{"type":"leave"}`))
	if h.HomeOf(c) != "" {
		t.Error("leave did not clear the room")
	}
	c.handleMessage([]byte(`not json`))
	c.handleMessage([]byte(`{"type":"dance"}`))

	msgs := drain(c)
	types := make([]any, len(msgs))
	for i, m := range msgs {
		types[i] = m["type"]
	}
	want := []any{TypeJoined, TypeJoined, TypeLeft, TypeError, TypeError}
	if len(types) != len(want) {
		t.Fatalf("message types = %v, want %v", types, want)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Errorf("message %d type = %v, want %v", i, types[i], want[i])
		}
	}
}

func TestRunPumpsMessagesAndCleansUp(t *testing.T) {
	h := NewHub(utils.Discard())
	c, s := newClient(h, admin)

	done := make(chan struct{})
	go func() {
		c.Run(1024)
		close(done)
	}()

	s.inbound <- []byte(`{"type":"join","homeId":"A"}`)
	deadline := time.Now().Add(2 * time.Second)
	for h.RoomSize("A") != 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if h.RoomSize("A") != 1 {
		t.Fatal("client did not join through the read pump")
	}

	_ = s.Close()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after the socket closed")
	}
	if h.ClientCount() != 0 {
		t.Errorf("ClientCount() = %d after disconnect", h.ClientCount())
	}
}
