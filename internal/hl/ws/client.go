package ws

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

// Subscription is the body of a subscribe request, for example
// {"type":"orderUpdates","user":"0x..."}.
type Subscription struct {
	Type string `json:"type"`
	User string `json:"user,omitempty"`
	Coin string `json:"coin,omitempty"`
}

type subscribeRequest struct {
	Method       string       `json:"method"`
	Subscription Subscription `json:"subscription"`
}

// Message is one pushed frame. Pong and subscription acknowledgements are
// filtered before reaching the handler.
type Message struct {
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
}

type Client struct {
	url            string
	reconnectDelay time.Duration
	maxDelay       time.Duration
	pingInterval   time.Duration
	log            *zap.Logger

	mu        sync.Mutex
	conn      *websocket.Conn
	subs      []Subscription
	onConnect func(ctx context.Context)
}

func New(url string, reconnectDelay, pingInterval time.Duration, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	if reconnectDelay <= 0 {
		reconnectDelay = time.Second
	}
	return &Client{
		url:            url,
		reconnectDelay: reconnectDelay,
		maxDelay:       30 * reconnectDelay,
		pingInterval:   pingInterval,
		log:            log,
	}
}

// OnConnect registers fn to run after every successful (re)subscription.
// Updates pushed while disconnected are lost, so callers use it to
// reconcile against REST.
func (c *Client) OnConnect(fn func(ctx context.Context)) {
	c.mu.Lock()
	c.onConnect = fn
	c.mu.Unlock()
}

func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return nil
	}
	conn, _, err := websocket.Dial(ctx, c.url, nil)
	if err != nil {
		return err
	}
	c.conn = conn
	return nil
}

// Subscribe records sub for replay on reconnect and sends it when connected.
func (c *Client) Subscribe(ctx context.Context, sub Subscription) error {
	c.mu.Lock()
	c.subs = append(c.subs, sub)
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return nil
	}
	return writeJSON(ctx, conn, subscribeRequest{Method: "subscribe", Subscription: sub})
}

// Run reads until ctx is done, reconnecting with exponential backoff.
func (c *Client) Run(ctx context.Context, handler func(Message)) error {
	delay := c.reconnectDelay
	for {
		err := c.ensureConnected(ctx)
		if err == nil {
			delay = c.reconnectDelay
			c.connected(ctx)
			err = c.session(ctx, handler)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.logReadLoopError(err)
		c.resetConn()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > c.maxDelay {
			delay = c.maxDelay
		}
	}
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close(websocket.StatusNormalClosure, "closing")
	c.conn = nil
	return err
}

func (c *Client) session(ctx context.Context, handler func(Message)) error {
	pingCtx, cancel := context.WithCancel(ctx)
	pingDone := make(chan struct{})
	go func() {
		defer close(pingDone)
		c.pingLoop(pingCtx)
	}()
	err := c.readLoop(ctx, handler)
	cancel()
	<-pingDone
	return err
}

func (c *Client) connected(ctx context.Context) {
	c.mu.Lock()
	fn := c.onConnect
	c.mu.Unlock()
	if fn != nil {
		fn(ctx)
	}
}

func (c *Client) ensureConnected(ctx context.Context) error {
	if err := c.Connect(ctx); err != nil {
		return err
	}
	c.mu.Lock()
	conn := c.conn
	subs := append([]Subscription(nil), c.subs...)
	c.mu.Unlock()
	for _, sub := range subs {
		if err := writeJSON(ctx, conn, subscribeRequest{Method: "subscribe", Subscription: sub}); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) readLoop(ctx context.Context, handler func(Message)) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return errors.New("ws not connected")
	}
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.log.Debug("ws frame ignored", zap.Error(err))
			continue
		}
		if msg.Channel == "pong" || msg.Channel == "subscriptionResponse" {
			continue
		}
		if handler != nil {
			handler(msg)
		}
	}
}

func (c *Client) pingLoop(ctx context.Context) {
	c.mu.Lock()
	conn := c.conn
	interval := c.pingInterval
	c.mu.Unlock()
	if conn == nil || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := writeJSON(ctx, conn, pingMessage); err != nil {
				return
			}
		}
	}
}

func (c *Client) logReadLoopError(err error) {
	status := websocket.CloseStatus(err)
	if status == websocket.StatusNormalClosure {
		var closeErr websocket.CloseError
		if errors.As(err, &closeErr) {
			c.log.Info("ws read loop ended", zap.Int("status", int(closeErr.Code)), zap.String("reason", closeErr.Reason))
			return
		}
		c.log.Info("ws read loop ended", zap.Error(err))
		return
	}
	c.log.Warn("ws read loop ended", zap.Error(err))
}

func (c *Client) resetConn() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		_ = c.conn.Close(websocket.StatusNormalClosure, "reset")
		c.conn = nil
	}
}

func writeJSON(ctx context.Context, conn *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}

var pingMessage = map[string]any{"method": "ping"}
