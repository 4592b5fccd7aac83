// Package marketfeed maintains a resilient websocket subscription to the
// MEXC push API and relays incoming market frames to a handler.
package marketfeed

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// The server drops connections that stay silent for 30 seconds.
	defaultPingInterval   = 20 * time.Second
	defaultReconnectDelay = 5 * time.Second
)

// Message is one frame from the feed. Control frames (subscription acks and
// the like) arrive as JSON; market data arrives as protobuf payloads which
// are handed over raw.
type Message struct {
	Control map[string]any // set for JSON control frames
	Data    []byte         // set for binary market-data frames
}

// Handler receives feed messages. It is called from the feed's read
// goroutine and must not block for long.
type Handler func(Message)

type command struct {
	Method string   `json:"method"`
	Params []string `json:"params,omitempty"`
}

// Feed is a self-reconnecting MEXC websocket client. Subscriptions are
// tracked and replayed after every reconnect.
type Feed struct {
	url     string
	logger  *slog.Logger
	handler Handler

	// Overridable before Start; tests shorten them.
	PingInterval   time.Duration
	ReconnectDelay time.Duration

	mu        sync.Mutex
	conn      *websocket.Conn
	subs      map[string]struct{}
	started   bool
	connected atomic.Bool
}

// New creates a Feed for the given websocket URL. Call Start to connect.
func New(log *slog.Logger, url string, handler Handler) *Feed {
	if log == nil {
		log = slog.Default()
	}
	if handler == nil {
		handler = func(Message) {}
	}
	return &Feed{
		url:            url,
		logger:         log.With(slog.String("service", "marketfeed")),
		handler:        handler,
		PingInterval:   defaultPingInterval,
		ReconnectDelay: defaultReconnectDelay,
		subs:           make(map[string]struct{}),
	}
}

// Start runs the connect/read/reconnect loop until ctx is cancelled.
func (f *Feed) Start(ctx context.Context) {
	f.mu.Lock()
	if f.started {
		f.mu.Unlock()
		return
	}
	f.started = true
	f.mu.Unlock()

	go f.run(ctx)
}

// Connected reports whether the feed currently holds a live connection.
func (f *Feed) Connected() bool {
	return f.connected.Load()
}

// Subscribe adds channels to the tracked set and, when connected, requests
// them immediately. Tracked channels survive reconnects.
func (f *Feed) Subscribe(channels ...string) {
	f.mu.Lock()
	for _, ch := range channels {
		f.subs[ch] = struct{}{}
	}
	conn := f.conn
	f.mu.Unlock()
	if conn != nil {
		f.send(conn, command{Method: "SUBSCRIPTION", Params: channels})
	}
}

// Unsubscribe removes channels from the tracked set and, when connected,
// releases them on the server.
func (f *Feed) Unsubscribe(channels ...string) {
	f.mu.Lock()
	for _, ch := range channels {
		delete(f.subs, ch)
	}
	conn := f.conn
	f.mu.Unlock()
	if conn != nil {
		f.send(conn, command{Method: "UNSUBSCRIPTION", Params: channels})
	}
}

func (f *Feed) run(ctx context.Context) {
	for {
		if err := f.connectAndRead(ctx); err != nil && ctx.Err() == nil {
			f.logger.Warn("connection lost, reconnecting",
				slog.Duration("delay", f.ReconnectDelay),
				slog.Any("error", err),
			)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(f.ReconnectDelay):
		}
	}
}

func (f *Feed) connectAndRead(ctx context.Context) error {
	f.logger.Info("connecting", slog.String("url", f.url))
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return err
	}

	f.mu.Lock()
	f.conn = conn
	pending := make([]string, 0, len(f.subs))
	for ch := range f.subs {
		pending = append(pending, ch)
	}
	f.mu.Unlock()
	f.connected.Store(true)
	f.logger.Info("connected")

	defer func() {
		f.connected.Store(false)
		f.mu.Lock()
		f.conn = nil
		f.mu.Unlock()
		conn.Close()
	}()

	if len(pending) > 0 {
		f.send(conn, command{Method: "SUBSCRIPTION", Params: pending})
	}

	stopPing := make(chan struct{})
	defer close(stopPing)
	go f.pingLoop(ctx, conn, stopPing)

	// Close the connection when ctx ends so ReadMessage unblocks.
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stopPing:
		}
	}()

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		switch msgType {
		case websocket.TextMessage:
			var control map[string]any
			if err := json.Unmarshal(data, &control); err != nil {
				f.logger.Warn("malformed control frame", slog.String("data", string(data)))
				continue
			}
			if msg, ok := control["msg"].(string); ok && msg == "PONG" {
				continue
			}
			f.handler(Message{Control: control})
		case websocket.BinaryMessage:
			f.handler(Message{Data: data})
		}
	}
}

func (f *Feed) pingLoop(ctx context.Context, conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(f.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			f.send(conn, command{Method: "PING"})
		case <-stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (f *Feed) send(conn *websocket.Conn, cmd command) {
	payload, err := json.Marshal(cmd)
	if err != nil {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		f.logger.Warn("write failed", slog.String("method", cmd.Method), slog.Any("error", err))
	}
}
