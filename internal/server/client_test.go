package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/whitecloud/save-agent/internal/comm"
)

// testGateway is a minimal in-process gateway speaking the packet protocol.
type testGateway struct {
	upgrader websocket.Upgrader
	handle   func(conn *websocket.Conn, pkt *comm.Packet)

	mu    sync.Mutex
	conns []*websocket.Conn
}

func newTestGateway(t *testing.T, handle func(conn *websocket.Conn, pkt *comm.Packet)) (*testGateway, *httptest.Server) {
	t.Helper()
	g := &testGateway{
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		handle:   handle,
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := g.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		g.mu.Lock()
		g.conns = append(g.conns, conn)
		g.mu.Unlock()
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}
			pkt := &comm.Packet{}
			if err := json.Unmarshal(raw, pkt); err != nil {
				continue
			}
			if g.handle != nil {
				g.handle(conn, pkt)
			}
		}
	}))
	t.Cleanup(srv.Close)
	return g, srv
}

func wsURL(srv *httptest.Server) string {
	return "ws://" + strings.TrimPrefix(srv.URL, "http://")
}

func respond(conn *websocket.Conn, rpcID uint64, payload comm.ResponsePayload) {
	body, _ := json.Marshal(payload)
	raw, _ := json.Marshal(&comm.Packet{
		OpCode:  comm.OpResponse,
		Headers: map[string]any{comm.HeaderRPCID: rpcID},
		Payload: body,
	})
	conn.WriteMessage(websocket.TextMessage, raw)
}

func TestCallRoundTrip(t *testing.T) {
	_, srv := newTestGateway(t, func(conn *websocket.Conn, pkt *comm.Packet) {
		if pkt.OpCode != comm.OpRequest || pkt.Service != ServiceBusiness || pkt.Method != "fetchUserGame" {
			t.Errorf("unexpected request: %+v", pkt)
		}
		id, _ := pkt.RPCID()
		respond(conn, id, comm.ResponsePayload{Result: json.RawMessage(`[{"gameId":"g1","name":"Elden"}]`)})
	})

	c := NewClient(wsURL(srv))
	defer c.Close()
	c.SetToken("tok-1")

	games, err := c.Business().FetchUserGame()
	if err != nil {
		t.Fatal(err)
	}
	if len(games) != 1 || games[0].GameID != "g1" {
		t.Fatalf("got %+v", games)
	}
}

func TestCallCarriesAuthHeaders(t *testing.T) {
	headerCh := make(chan map[string]any, 1)
	_, srv := newTestGateway(t, func(conn *websocket.Conn, pkt *comm.Packet) {
		headerCh <- pkt.Headers
		id, _ := pkt.RPCID()
		respond(conn, id, comm.ResponsePayload{Result: json.RawMessage(`{}`)})
	})

	c := NewClient(wsURL(srv))
	defer c.Close()
	c.SetToken("session-9")

	if err := c.Call(ServiceAuth, "logout", nil, nil); err != nil {
		t.Fatal(err)
	}

	headers := <-headerCh
	if headers[comm.HeaderRPCAuth] != "session-9" {
		t.Fatalf("rpc-authorization = %v", headers[comm.HeaderRPCAuth])
	}
	if headers[comm.HeaderAuth] != comm.SessionPrefix+"session-9" {
		t.Fatalf("authorization = %v", headers[comm.HeaderAuth])
	}
}

func TestBusinessErrorBecomesUserError(t *testing.T) {
	_, srv := newTestGateway(t, func(conn *websocket.Conn, pkt *comm.Packet) {
		id, _ := pkt.RPCID()
		respond(conn, id, comm.ResponsePayload{Error: &comm.PayloadError{
			Code:  CodeSpaceNotEnough,
			Level: comm.LevelExpected,
		}})
	})

	c := NewClient(wsURL(srv))
	defer c.Close()

	err := c.Call(ServiceBusiness, "syncGameSave", nil, nil)
	userErr := &UserError{}
	if !errors.As(err, &userErr) {
		t.Fatalf("got %T %v, want UserError", err, err)
	}
	if userErr.Code != CodeSpaceNotEnough {
		t.Fatalf("code = %s", userErr.Code)
	}
	if userErr.ShowMessage() == userErr.Code {
		t.Fatal("known code should resolve to display text")
	}
}

func TestUnexpectedErrorBecomesServerError(t *testing.T) {
	_, srv := newTestGateway(t, func(conn *websocket.Conn, pkt *comm.Packet) {
		id, _ := pkt.RPCID()
		respond(conn, id, comm.ResponsePayload{Error: &comm.PayloadError{
			Code:  "ERR_DB_NOT_FOUND",
			Level: comm.LevelUnexpected,
		}})
	})

	c := NewClient(wsURL(srv))
	defer c.Close()

	err := c.Call(ServiceBusiness, "fetchUserGame", nil, nil)
	serverErr := &ServerError{}
	if !errors.As(err, &serverErr) {
		t.Fatalf("got %T %v, want ServerError", err, err)
	}
}

func TestCallTimeoutIsDistinct(t *testing.T) {
	_, srv := newTestGateway(t, func(conn *websocket.Conn, pkt *comm.Packet) {
		// Swallow the request.
	})

	c := NewClient(wsURL(srv))
	defer c.Close()
	c.callTTL = 20 * time.Millisecond

	err := c.Call(ServiceBusiness, "fetchUserGame", nil, nil)
	timeoutErr := &TimeoutError{}
	if !errors.As(err, &timeoutErr) {
		t.Fatalf("got %T %v, want TimeoutError", err, err)
	}
	netErr := &NetError{}
	if errors.As(err, &netErr) {
		t.Fatal("timeout must not classify as NetError")
	}
}

func TestDisconnectRejectsAllPending(t *testing.T) {
	g, srv := newTestGateway(t, func(conn *websocket.Conn, pkt *comm.Packet) {
		// Never respond; the test drops the connection instead.
	})

	c := NewClient(wsURL(srv))
	defer c.Close()
	if err := c.Connect(); err != nil {
		t.Fatal(err)
	}

	const calls = 4
	errCh := make(chan error, calls)
	for i := 0; i < calls; i++ {
		go func() {
			errCh <- c.Call(ServiceBusiness, "fetchUserGame", nil, nil)
		}()
	}

	deadline := time.After(2 * time.Second)
	for c.Pending() < calls {
		select {
		case <-deadline:
			t.Fatalf("pending = %d, want %d", c.Pending(), calls)
		case <-time.After(5 * time.Millisecond):
		}
	}

	g.mu.Lock()
	for _, conn := range g.conns {
		conn.Close()
	}
	g.mu.Unlock()

	for i := 0; i < calls; i++ {
		err := <-errCh
		netErr := &NetError{}
		if !errors.As(err, &netErr) {
			t.Fatalf("call %d got %T %v, want NetError", i, err, err)
		}
	}
	if c.Pending() != 0 {
		t.Fatalf("pending after disconnect = %d", c.Pending())
	}
}

func TestPingAnsweredWithPong(t *testing.T) {
	pongCh := make(chan *comm.Packet, 1)
	g, srv := newTestGateway(t, func(conn *websocket.Conn, pkt *comm.Packet) {
		if pkt.OpCode == comm.OpOperation && pkt.Command == comm.CommandPong {
			pongCh <- pkt
		}
	})

	c := NewClient(wsURL(srv))
	defer c.Close()
	if err := c.Connect(); err != nil {
		t.Fatal(err)
	}

	g.mu.Lock()
	conn := g.conns[0]
	g.mu.Unlock()
	raw, _ := json.Marshal(comm.OperationPacket(comm.CommandPing, json.RawMessage(`"k"`)))
	conn.WriteMessage(websocket.TextMessage, raw)

	select {
	case pkt := <-pongCh:
		if string(pkt.Args) != `"k"` {
			t.Fatalf("pong args = %s", pkt.Args)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no pong received")
	}
}

func TestNotifyFanOut(t *testing.T) {
	g, srv := newTestGateway(t, nil)

	c := NewClient(wsURL(srv))
	defer c.Close()

	got := make(chan GameDeleted, 2)
	SubscribeNotify(c, NotifyGameDeleted, func(n GameDeleted) { got <- n })
	SubscribeNotify(c, NotifyGameDeleted, func(n GameDeleted) { got <- n })

	if err := c.Connect(); err != nil {
		t.Fatal(err)
	}

	g.mu.Lock()
	conn := g.conns[0]
	g.mu.Unlock()
	raw, _ := json.Marshal(&comm.Packet{
		OpCode:  comm.OpNotify,
		Method:  NotifyGameDeleted,
		Payload: json.RawMessage(`{"gameId":"g7"}`),
	})
	conn.WriteMessage(websocket.TextMessage, raw)

	for i := 0; i < 2; i++ {
		select {
		case n := <-got:
			if n.GameID != "g7" {
				t.Fatalf("notify payload = %+v", n)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("subscriber did not receive notify")
		}
	}
}

func TestReconnectDelaySchedule(t *testing.T) {
	want := []time.Duration{time.Second, 2 * time.Second, 5 * time.Second, 10 * time.Second, 10 * time.Second}
	for attempt, d := range want {
		if got := reconnectDelay(attempt); got != d {
			t.Fatalf("reconnectDelay(%d) = %s, want %s", attempt, got, d)
		}
	}
}

func TestSuccessfulConnectResetsAttemptCounter(t *testing.T) {
	_, srv := newTestGateway(t, nil)

	c := NewClient(wsURL(srv))
	defer c.Close()

	c.mu.Lock()
	c.attempt = 3
	c.mu.Unlock()

	if err := c.Connect(); err != nil {
		t.Fatal(err)
	}

	c.mu.Lock()
	attempt := c.attempt
	c.mu.Unlock()
	if attempt != 0 {
		t.Fatalf("attempt = %d after successful connect, want 0", attempt)
	}
}

func TestConcurrentConnectSharesAttempt(t *testing.T) {
	_, srv := newTestGateway(t, nil)

	c := NewClient(wsURL(srv))
	defer c.Close()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := c.Connect(); err != nil {
				t.Errorf("connect: %v", err)
			}
		}()
	}
	wg.Wait()
}
