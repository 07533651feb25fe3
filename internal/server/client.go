// Package server implements the client side of the correlated
// request/response protocol spoken over one persistent websocket
// connection, plus the typed facade the rest of the agent calls.
package server

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/whitecloud/save-agent/internal/bus"
	"github.com/whitecloud/save-agent/internal/comm"
	"github.com/whitecloud/save-agent/internal/waiter"
)

// State tracks the connection lifecycle.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
)

// reconnectDelays is consumed index-by-attempt; attempts past the end reuse
// the last entry.
var reconnectDelays = []time.Duration{
	1 * time.Second,
	2 * time.Second,
	5 * time.Second,
	10 * time.Second,
}

const callTimeout = 10 * time.Second

// reconnectDelay picks the backoff for the given consecutive attempt count.
func reconnectDelay(attempt int) time.Duration {
	if attempt >= len(reconnectDelays) {
		attempt = len(reconnectDelays) - 1
	}
	return reconnectDelays[attempt]
}

// Client maintains the websocket connection, correlates responses to
// requests, and fans out push notifications by event name.
type Client struct {
	endpoint string

	mu       sync.Mutex
	conn     *websocket.Conn
	inflight chan struct{} // non-nil while a connect attempt is running
	dialErr  error
	attempt  int
	closed   bool
	token    string

	writeMu sync.Mutex

	waiter *waiter.Waiter[json.RawMessage]

	notifyMu sync.Mutex
	notify   map[string]*bus.Feed[json.RawMessage]

	state *bus.Value[State]

	callTTL time.Duration
}

func NewClient(endpoint string) *Client {
	return &Client{
		endpoint: endpoint,
		waiter:   waiter.New[json.RawMessage](),
		notify:   make(map[string]*bus.Feed[json.RawMessage]),
		state:    bus.NewValue(Disconnected),
		callTTL:  callTimeout,
	}
}

// State exposes the connection state for subscribers.
func (c *Client) State() *bus.Value[State] { return c.state }

// SetToken stores the bearer token attached to every request.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// Notify returns the feed for a named push event, creating it on first use.
func (c *Client) Notify(method string) *bus.Feed[json.RawMessage] {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()
	feed, ok := c.notify[method]
	if !ok {
		feed = bus.NewFeed[json.RawMessage]()
		c.notify[method] = feed
	}
	return feed
}

// Connect establishes the connection, reusing any in-flight attempt so
// concurrent callers never open parallel sockets.
func (c *Client) Connect() error {
	_, err := c.connect(0)
	return err
}

func (c *Client) connect(delay time.Duration) (*websocket.Conn, error) {
	for {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return nil, &NetError{Reason: "client closed"}
		}
		if c.conn != nil {
			conn := c.conn
			c.mu.Unlock()
			return conn, nil
		}
		if c.inflight != nil {
			done := c.inflight
			c.mu.Unlock()
			<-done
			c.mu.Lock()
			conn, err := c.conn, c.dialErr
			c.mu.Unlock()
			if conn != nil {
				return conn, nil
			}
			if err != nil {
				return nil, err
			}
			continue
		}
		done := make(chan struct{})
		c.inflight = done
		c.mu.Unlock()

		c.state.Set(Connecting)
		if delay > 0 {
			time.Sleep(delay)
		}

		conn, _, err := websocket.DefaultDialer.Dial(c.endpoint, nil)

		c.mu.Lock()
		c.inflight = nil
		if err != nil {
			c.dialErr = &NetError{Reason: err.Error()}
			dialErr := c.dialErr
			c.mu.Unlock()
			close(done)
			log.Errorf("websocket dial failed: %v", err)
			c.scheduleReconnect()
			return nil, dialErr
		}
		c.conn = conn
		c.dialErr = nil
		c.attempt = 0
		c.mu.Unlock()
		close(done)

		c.state.Set(Connected)
		log.Infof("connected to %s", c.endpoint)
		go c.readLoop(conn)
		return conn, nil
	}
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Errorf("websocket closed unexpectedly: %v", err)
			} else {
				log.Infof("websocket closed: %v", err)
			}
			c.handleDisconnect(conn, err)
			return
		}

		packet := &comm.Packet{}
		if err := json.Unmarshal(raw, packet); err != nil {
			log.Errorf("failed to decode packet: %v", err)
			continue
		}
		c.handlePacket(conn, packet)
	}
}

func (c *Client) handlePacket(conn *websocket.Conn, packet *comm.Packet) {
	switch packet.OpCode {
	case comm.OpResponse:
		c.handleResponse(packet)
	case comm.OpNotify:
		c.Notify(packet.Method).Emit(packet.Payload)
	case comm.OpOperation:
		c.handleOperation(conn, packet)
	default:
		log.Warnf("unknown opcode received: %d", packet.OpCode)
	}
}

func (c *Client) handleResponse(packet *comm.Packet) {
	rpcID, ok := packet.RPCID()
	if !ok {
		log.Warnf("response without %s header", comm.HeaderRPCID)
		return
	}

	payload := &comm.ResponsePayload{}
	if err := json.Unmarshal(packet.Payload, payload); err != nil {
		c.waiter.EmitError(rpcID, &ServerError{Code: CodeServerInternal})
		return
	}

	if payload.Error != nil {
		switch payload.Error.Level {
		case comm.LevelExpected:
			c.waiter.EmitError(rpcID, &UserError{Code: payload.Error.Code, Message: payload.Error.Message})
		default:
			c.waiter.EmitError(rpcID, &ServerError{Code: payload.Error.Code})
		}
		return
	}
	c.waiter.Emit(rpcID, payload.Result)
}

func (c *Client) handleOperation(conn *websocket.Conn, packet *comm.Packet) {
	switch packet.Command {
	case comm.CommandPing:
		c.send(conn, comm.OperationPacket(comm.CommandPong, packet.Args))
	case comm.CommandClose:
		conn.Close()
	}
}

func (c *Client) handleDisconnect(conn *websocket.Conn, cause error) {
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	closed := c.closed
	c.mu.Unlock()

	conn.Close()
	c.waiter.RejectAll(&NetError{Reason: "connection lost"})
	c.state.Set(Disconnected)

	if !closed {
		c.scheduleReconnect()
	}
}

func (c *Client) scheduleReconnect() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	delay := reconnectDelay(c.attempt)
	c.attempt++
	c.mu.Unlock()

	log.Infof("reconnecting in %s", delay)
	go c.connect(delay)
}

// Call sends one correlated request and blocks for its response, the call
// deadline, or a connection loss, whichever comes first. The decoded result
// is stored into out when out is non-nil.
func (c *Client) Call(service, method string, body, out any) error {
	conn, err := c.connect(0)
	if err != nil {
		return err
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	call := c.waiter.Wait(c.callTTL)

	c.mu.Lock()
	token := c.token
	c.mu.Unlock()

	if err := c.send(conn, comm.RequestPacket(service, method, call.ID, token, payload)); err != nil {
		c.waiter.Remove(call.ID)
		return &NetError{Reason: err.Error()}
	}

	result, err := call.Result()
	if err != nil {
		if errors.Is(err, waiter.ErrTimeout) {
			return &TimeoutError{}
		}
		return err
	}
	if out == nil || len(result) == 0 {
		return nil
	}
	return json.Unmarshal(result, out)
}

func (c *Client) send(conn *websocket.Conn, packet *comm.Packet) error {
	raw, err := json.Marshal(packet)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, raw)
}

// Pending reports how many correlated calls are outstanding.
func (c *Client) Pending() int { return c.waiter.Pending() }

// Close tears the connection down and stops reconnecting.
func (c *Client) Close() error {
	c.mu.Lock()
	c.closed = true
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	c.waiter.RejectAll(&NetError{Reason: "client closed"})
	c.state.Set(Disconnected)
	if conn != nil {
		return conn.Close()
	}
	return nil
}
