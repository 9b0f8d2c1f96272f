package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"meshlink/internal/core/domain"
	"meshlink/internal/core/ports"
	"meshlink/internal/protocol"
	"meshlink/pkg/retry"
	"meshlink/pkg/utils"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// WebSocketClient implements ports.ClientTransport over a single gorilla
// websocket connection. The read loop resolves acknowledgement frames by id
// and hands pushed events to a separate dispatch loop, so a handler may
// itself call EmitWithAck without starving the reader that delivers its ack.
type WebSocketClient struct {
	conn    *websocket.Conn
	writeMu sync.Mutex

	handlers   map[string]func(json.RawMessage)
	handlersMu sync.RWMutex

	pending   map[string]chan protocol.Ack
	pendingMu sync.Mutex

	// dispatchQueue grows without bound so the read loop never blocks on a
	// slow handler; events still dispatch one at a time, in arrival order.
	dispatchMu    sync.Mutex
	dispatchCond  *sync.Cond
	dispatchQueue []protocol.Envelope
	readDone      bool

	onDisconnect func()
	closeOnce    sync.Once
	closed       chan struct{}

	writeTimeout time.Duration
	logger       *zap.SugaredLogger
}

// DialOptions configure the connect handshake.
type DialOptions struct {
	ServerURL    string
	UserID       domain.UserID
	Password     string
	WriteTimeout time.Duration
	Retry        retry.Config
}

// Dial connects to the coordinator, retrying with backoff on transient
// failures. The returned transport is ready once the handshake succeeds.
func Dial(ctx context.Context, opts DialOptions, logger *zap.SugaredLogger) (ports.ClientTransport, error) {
	u, err := url.Parse(opts.ServerURL)
	if err != nil {
		return nil, fmt.Errorf("invalid server url: %w", err)
	}
	q := u.Query()
	q.Set("userId", string(opts.UserID))
	if opts.Password != "" {
		q.Set("password", opts.Password)
	}
	u.RawQuery = q.Encode()

	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}

	var conn *websocket.Conn
	dial := func() error {
		var dialErr error
		conn, _, dialErr = websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
		return dialErr
	}
	if err := retry.Do(ctx, opts.Retry, dial); err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", opts.ServerURL, err)
	}

	c := &WebSocketClient{
		conn:         conn,
		handlers:     make(map[string]func(json.RawMessage)),
		pending:      make(map[string]chan protocol.Ack),
		closed:       make(chan struct{}),
		writeTimeout: opts.WriteTimeout,
		logger:       logger,
	}
	c.dispatchCond = sync.NewCond(&c.dispatchMu)
	go c.readLoop()
	go c.dispatchLoop()
	return c, nil
}

func (c *WebSocketClient) Emit(event string, payload interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode %s payload: %w", event, err)
	}
	return c.writeJSON(protocol.Envelope{Event: event, Payload: raw})
}

func (c *WebSocketClient) EmitWithAck(ctx context.Context, event string, payload interface{}, ackOut interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode %s payload: %w", event, err)
	}

	ackID := utils.GenerateAckID()
	ackChan := make(chan protocol.Ack, 1)

	c.pendingMu.Lock()
	c.pending[ackID] = ackChan
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, ackID)
		c.pendingMu.Unlock()
	}()

	if err := c.writeJSON(protocol.Envelope{Event: event, AckID: ackID, Payload: raw}); err != nil {
		return err
	}

	select {
	case ack := <-ackChan:
		if ack.Error != "" {
			return fmt.Errorf("%s rejected: %s (%s)", event, ack.Error, ack.Code)
		}
		if ackOut != nil && len(ack.Payload) > 0 {
			return json.Unmarshal(ack.Payload, ackOut)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.closed:
		return fmt.Errorf("transport closed while awaiting %s acknowledgement", event)
	}
}

func (c *WebSocketClient) On(event string, handler func(payload json.RawMessage)) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	c.handlers[event] = handler
}

func (c *WebSocketClient) OnDisconnect(handler func()) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	c.onDisconnect = handler
}

func (c *WebSocketClient) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		c.writeMu.Lock()
		c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
		c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()
		err = c.conn.Close()
	})
	return err
}

// readLoop is the single reader: acknowledgements resolve pending calls
// inline, pushed events are queued for the dispatch loop.
func (c *WebSocketClient) readLoop() {
	defer func() {
		c.dispatchMu.Lock()
		c.readDone = true
		c.dispatchMu.Unlock()
		c.dispatchCond.Signal()
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.closed:
			default:
				c.logger.Infow("transport read failed", "error", err)
			}
			return
		}

		var ack protocol.Ack
		if err := json.Unmarshal(data, &ack); err == nil && ack.AckID != "" {
			c.pendingMu.Lock()
			ackChan, ok := c.pending[ack.AckID]
			c.pendingMu.Unlock()
			if ok {
				ackChan <- ack
			}
			continue
		}

		var env protocol.Envelope
		if err := json.Unmarshal(data, &env); err != nil || env.Event == "" {
			c.logger.Debugw("discarding unrecognized frame", "error", err)
			continue
		}

		c.dispatchMu.Lock()
		c.dispatchQueue = append(c.dispatchQueue, env)
		c.dispatchMu.Unlock()
		c.dispatchCond.Signal()
	}
}

// dispatchLoop delivers queued events to their handlers in arrival order.
// It drains the queue after the reader stops, then reports the disconnect.
func (c *WebSocketClient) dispatchLoop() {
	for {
		c.dispatchMu.Lock()
		for len(c.dispatchQueue) == 0 && !c.readDone {
			c.dispatchCond.Wait()
		}
		if len(c.dispatchQueue) == 0 {
			c.dispatchMu.Unlock()
			break
		}
		env := c.dispatchQueue[0]
		c.dispatchQueue = c.dispatchQueue[1:]
		c.dispatchMu.Unlock()

		c.handlersMu.RLock()
		handler, ok := c.handlers[env.Event]
		c.handlersMu.RUnlock()
		if !ok {
			c.logger.Debugw("no handler for event", "event", env.Event)
			continue
		}
		handler(env.Payload)
	}
	c.notifyDisconnect()
}

func (c *WebSocketClient) notifyDisconnect() {
	c.handlersMu.RLock()
	handler := c.onDisconnect
	c.handlersMu.RUnlock()

	select {
	case <-c.closed:
		// Deliberate close, not a drop.
		return
	default:
	}
	if handler != nil {
		handler()
	}
}

func (c *WebSocketClient) writeJSON(v interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	return c.conn.WriteJSON(v)
}
