package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/graphql-go/graphql"

	"github.com/openctl/ctrlgraph/internal/session"
)

// WebSocket message types.
const (
	WSTypeStart    = "start"    // client: begin a GraphQL operation
	WSTypeStop     = "stop"     // client: end a running operation
	WSTypePing     = "ping"     // client: application-level keepalive
	WSTypePong     = "pong"     // server: keepalive reply
	WSTypeData     = "data"     // server: one operation result
	WSTypeError    = "error"    // server: protocol-level failure
	WSTypeComplete = "complete" // server: operation finished

	// wsSendBufferSize is the per-client outbound message buffer size.
	wsSendBufferSize = 256

	// wsWriteWait is the deadline applied to each outbound socket
	// write, pings included.
	wsWriteWait = 10 * time.Second
)

// WSMessage is the frame exchanged with WebSocket clients. ID correlates
// data, error, and complete frames with the start that opened the
// operation.
type WSMessage struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// wsStartPayload is the payload of a start message.
type wsStartPayload struct {
	Query         string         `json:"query"`
	OperationName string         `json:"operationName,omitempty"`
	Variables     map[string]any `json:"variables,omitempty"`
}

// upgrader configures the WebSocket upgrader.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		// Origin checking is handled by CORS middleware
		return true
	},
}

// connSet tracks live WebSocket connections so shutdown can close them
// and release their subscription registrations.
type connSet struct {
	mu    sync.Mutex
	conns map[*wsConn]struct{}
	ctx   context.Context // server lifetime, set by Start
}

func newConnSet() *connSet {
	return &connSet{conns: make(map[*wsConn]struct{}), ctx: context.Background()}
}

func (cs *connSet) add(c *wsConn) {
	cs.mu.Lock()
	cs.conns[c] = struct{}{}
	cs.mu.Unlock()
}

func (cs *connSet) remove(c *wsConn) {
	cs.mu.Lock()
	delete(cs.conns, c)
	cs.mu.Unlock()
}

func (cs *connSet) closeAll() {
	cs.mu.Lock()
	conns := make([]*wsConn, 0, len(cs.conns))
	for c := range cs.conns {
		conns = append(conns, c)
	}
	cs.mu.Unlock()

	for _, c := range conns {
		c.teardown()
	}
}

func (cs *connSet) count() int {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return len(cs.conns)
}

// wsConn is one client connection carrying zero or more GraphQL
// operations. Every operation owns a context cancelled on stop, on
// disconnect, and on server shutdown, so hub registrations release as
// soon as the last interested client goes away.
type wsConn struct {
	server *Server
	conn   *websocket.Conn
	send   chan []byte

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	ops    map[string]context.CancelFunc
	closed bool
}

// handleWebSocket upgrades the connection and starts the read and write
// pumps. Authentication already happened in the middleware; the
// validated identity is carried over to the connection context so
// mutations started over this socket still reach the audit trail.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	ctx, cancel := context.WithCancel(s.conns.ctx)
	if id, ok := session.IdentityFrom(r.Context()); ok {
		ctx = session.WithIdentity(ctx, id)
	}

	c := &wsConn{
		server: s,
		conn:   conn,
		send:   make(chan []byte, wsSendBufferSize),
		ctx:    ctx,
		cancel: cancel,
		ops:    make(map[string]context.CancelFunc),
	}
	s.conns.add(c)
	s.logger.Debug("websocket client connected", "clients", s.conns.count())

	go c.writePump()
	go c.readPump()
}

// teardown cancels every running operation and closes the socket. Safe
// to call from any goroutine, more than once.
func (c *wsConn) teardown() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	c.conn.Close()
	c.server.conns.remove(c)
	c.server.logger.Debug("websocket client disconnected", "clients", c.server.conns.count())
}

// readPump reads messages from the WebSocket connection.
func (c *wsConn) readPump() {
	defer c.teardown()

	cfg := c.server.wsCfg
	c.conn.SetReadLimit(int64(cfg.MaxMessageSize))
	pingInterval := time.Duration(cfg.PingInterval) * time.Second
	pongWait := time.Duration(cfg.PongTimeout) * time.Second
	//nolint:errcheck // Best-effort deadline on connection setup
	c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.server.logger.Warn("websocket read error", "error", err)
			} else {
				c.server.logger.Debug("websocket closed", "error", err)
			}
			return
		}
		// Any client message resets the read deadline (keeps connection
		// alive even if the client doesn't answer protocol-level pings).
		//nolint:errcheck // Best-effort deadline reset
		c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
		c.handleMessage(message)
	}
}

// writePump writes messages to the WebSocket connection.
func (c *wsConn) writePump() {
	cfg := c.server.wsCfg
	pingInterval := time.Duration(cfg.PingInterval) * time.Second
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.teardown()
	}()

	for {
		select {
		case <-c.ctx.Done():
			//nolint:errcheck // Best-effort close message
			c.conn.WriteMessage(websocket.CloseMessage, nil)
			return
		case message := <-c.send:
			//nolint:errcheck // Best-effort deadline; write error caught below
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			//nolint:errcheck // Best-effort deadline; ping error caught below
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage processes an incoming WebSocket frame.
func (c *wsConn) handleMessage(data []byte) {
	var msg WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendError("", "invalid JSON message")
		return
	}

	switch msg.Type {
	case WSTypeStart:
		c.handleStart(msg)
	case WSTypeStop:
		c.handleStop(msg.ID)
	case WSTypePing:
		c.sendFrame(WSMessage{Type: WSTypePong})
	default:
		c.sendError(msg.ID, "unknown message type: "+msg.Type)
	}
}

// handleStart begins a GraphQL operation on this connection.
func (c *wsConn) handleStart(msg WSMessage) {
	if msg.ID == "" {
		c.sendError("", "start requires an id")
		return
	}

	var payload wsStartPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil || payload.Query == "" {
		c.sendError(msg.ID, "invalid start payload")
		return
	}

	opCtx, opCancel := context.WithCancel(c.ctx)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		opCancel()
		return
	}
	if _, exists := c.ops[msg.ID]; exists {
		c.mu.Unlock()
		opCancel()
		c.sendError(msg.ID, "operation id already in use")
		return
	}
	c.ops[msg.ID] = opCancel
	c.mu.Unlock()

	results := graphql.Subscribe(graphql.Params{
		Schema:         c.server.schema,
		RequestString:  payload.Query,
		OperationName:  payload.OperationName,
		VariableValues: payload.Variables,
		Context:        opCtx,
	})

	go c.forward(msg.ID, opCancel, results)
}

// forward pumps operation results to the client until the result stream
// ends, then reports completion and releases the operation slot.
func (c *wsConn) forward(id string, opCancel context.CancelFunc, results <-chan *graphql.Result) {
	defer func() {
		opCancel()
		c.mu.Lock()
		delete(c.ops, id)
		closed := c.closed
		c.mu.Unlock()
		if !closed {
			c.sendFrame(WSMessage{Type: WSTypeComplete, ID: id})
		}
	}()

	for result := range results {
		data, err := json.Marshal(result)
		if err != nil {
			c.server.logger.Error("marshalling subscription result", "error", err)
			continue
		}
		c.sendFrame(WSMessage{Type: WSTypeData, ID: id, Payload: data})
	}
}

// handleStop cancels a running operation. The forward goroutine sends
// the complete frame once the result stream drains.
func (c *wsConn) handleStop(id string) {
	c.mu.Lock()
	opCancel := c.ops[id]
	c.mu.Unlock()

	if opCancel == nil {
		c.sendError(id, "unknown operation id")
		return
	}
	opCancel()
}

// sendFrame marshals and queues one frame for the write pump. Frames to
// a slow client are dropped rather than blocking resolver goroutines.
func (c *wsConn) sendFrame(msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	case <-c.ctx.Done():
	default:
	}
}

// sendError sends a protocol error frame to the client.
func (c *wsConn) sendError(id, message string) {
	payload, err := json.Marshal(map[string]string{"message": message})
	if err != nil {
		return
	}
	c.sendFrame(WSMessage{Type: WSTypeError, ID: id, Payload: payload})
}
