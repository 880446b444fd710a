// Package realtime keeps a WebSocket subscription to one visit number alive
// and hands every pushed queue snapshot to a callback.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"expvar"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"qms/visit-queue/internal/models"
)

var (
	connectsTotal  = expvar.NewInt("realtime_connects_total")
	messagesTotal  = expvar.NewInt("realtime_messages_total")
	malformedTotal = expvar.NewInt("realtime_malformed_total")

	pingFailuresTotal = expvar.NewInt("realtime_ping_failures_total")
)

const (
	DefaultReconnectDelay = 3 * time.Second
	DefaultPingInterval   = 30 * time.Second
)

type State int

const (
	Disconnected State = iota
	Connected
)

func (s State) String() string {
	if s == Connected {
		return "connected"
	}
	return "disconnected"
}

type Options struct {
	URL            string
	ReconnectDelay time.Duration
	// PingInterval paces keepalive pings. A connection that shows no traffic
	// or pong for two intervals is treated as lost.
	PingInterval time.Duration
	Dialer       *websocket.Dialer
	Logger       zerolog.Logger
	// OnState is invoked on every connectivity change.
	OnState func(State)
}

type subscribeMessage struct {
	Type string `json:"type"`
	VN   string `json:"vn"`
}

type envelope struct {
	Type string          `json:"type"`
	VN   string          `json:"vn,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Channel is one live subscription. Callbacks run on the channel's own
// goroutine and must not call Close.
type Channel struct {
	vn         string
	opts       Options
	onSnapshot func(models.QueueEntry)
	logger     zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	// cbMu is held while a callback runs so Close can wait it out.
	cbMu   sync.Mutex
	mu     sync.Mutex
	closed bool
	conn   *websocket.Conn
	state  State
}

// Open starts connecting in the background and returns immediately. The
// channel starts Disconnected.
func Open(vn string, onSnapshot func(models.QueueEntry), opts Options) *Channel {
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = DefaultReconnectDelay
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = DefaultPingInterval
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	if onSnapshot == nil {
		onSnapshot = func(models.QueueEntry) {}
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Channel{
		vn:         vn,
		opts:       opts,
		onSnapshot: onSnapshot,
		logger:     opts.Logger.With().Str("vn", vn).Logger(),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	go c.run()
	return c
}

func (c *Channel) VN() string {
	return c.vn
}

func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Channel) Connected() bool {
	return c.State() == Connected
}

// Close cancels any pending reconnect and terminates the connection. Once
// Close returns no callback is running and none will run again.
func (c *Channel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	c.mu.Unlock()

	c.cancel()
	var err error
	if conn != nil {
		err = conn.Close()
	}
	c.cbMu.Lock()
	defer c.cbMu.Unlock()
	return err
}

// Done is closed when the background goroutine has exited.
func (c *Channel) Done() <-chan struct{} {
	return c.done
}

func (c *Channel) run() {
	defer close(c.done)
	for {
		if err := c.session(); err != nil && c.ctx.Err() == nil {
			c.logger.Warn().Err(err).Msg("websocket disconnected")
		}
		c.setState(Disconnected)

		timer := time.NewTimer(c.opts.ReconnectDelay)
		select {
		case <-c.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			c.logger.Debug().Msg("websocket reconnecting")
		}
	}
}

// session dials, subscribes and reads until the connection fails.
func (c *Channel) session() error {
	conn, _, err := c.opts.Dialer.DialContext(c.ctx, c.opts.URL, nil)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = conn.Close()
		return nil
	}
	c.conn = conn
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		_ = conn.Close()
	}()

	if err := conn.WriteJSON(subscribeMessage{Type: "subscribe", VN: c.vn}); err != nil {
		return err
	}
	connectsTotal.Add(1)
	c.logger.Info().Msg("websocket connected")
	c.setState(Connected)

	readWait := 2 * c.opts.PingInterval
	extend := func() error { return conn.SetReadDeadline(time.Now().Add(readWait)) }
	if err := extend(); err != nil {
		return err
	}
	conn.SetPongHandler(func(string) error { return extend() })

	stop := make(chan struct{})
	defer close(stop)
	go c.keepalive(conn, stop)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		if err := extend(); err != nil {
			return err
		}
		c.handle(data)
	}
}

// keepalive pings until stop closes. A failed ping closes the connection
// so the blocked read returns.
func (c *Channel) keepalive(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			deadline := time.Now().Add(c.opts.PingInterval)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				pingFailuresTotal.Add(1)
				c.logger.Debug().Err(err).Msg("websocket ping failed")
				_ = conn.Close()
				return
			}
		}
	}
}

func (c *Channel) handle(data []byte) {
	messagesTotal.Add(1)
	var msg envelope
	if err := json.Unmarshal(data, &msg); err != nil {
		malformedTotal.Add(1)
		c.logger.Warn().Err(err).Msg("websocket message parse error")
		return
	}

	switch msg.Type {
	case "queue_update":
		entry, err := decodeEntry(msg.Data)
		if err != nil {
			malformedTotal.Add(1)
			c.logger.Warn().Err(err).Msg("websocket queue_update parse error")
			return
		}
		if entry.VN != "" && entry.VN != c.vn {
			c.logger.Debug().Str("other_vn", entry.VN).Msg("ignoring update for another visit")
			return
		}
		c.deliver(func() { c.onSnapshot(entry) })
	case "subscribed":
		c.logger.Debug().Str("subscribed_vn", msg.VN).Msg("websocket subscribed")
	default:
		c.logger.Debug().Str("type", msg.Type).Msg("ignoring websocket message")
	}
}

func decodeEntry(raw json.RawMessage) (models.QueueEntry, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return models.QueueEntry{}, errors.New("missing data")
	}
	var entry models.QueueEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return models.QueueEntry{}, err
	}
	return entry.Normalize(), nil
}

func (c *Channel) setState(state State) {
	c.mu.Lock()
	changed := c.state != state
	c.state = state
	c.mu.Unlock()
	if changed && c.opts.OnState != nil {
		c.deliver(func() { c.opts.OnState(state) })
	}
}

func (c *Channel) deliver(fn func()) {
	c.cbMu.Lock()
	defer c.cbMu.Unlock()
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed || fn == nil {
		return
	}
	fn()
}
