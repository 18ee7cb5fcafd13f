package broadcast

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rickgao/kabu-market/internal/model"
)

// ErrHubClosed is returned by Notify after Close.
var ErrHubClosed = errors.New("hub closed")

const maxInboundMessage = 512

// HubConfig holds websocket hub settings.
type HubConfig struct {
	QueueSize    int           // frames buffered per subscriber before the oldest is dropped
	WriteTimeout time.Duration // deadline for a single frame write
	PingInterval time.Duration // zero disables keepalive pings
}

func (c HubConfig) withDefaults() HubConfig {
	if c.QueueSize < 1 {
		c.QueueSize = 16
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	return c
}

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithSubscriberGauge is called with the subscriber count whenever it
// changes.
func WithSubscriberGauge(fn func(n int)) HubOption {
	return func(h *Hub) {
		h.gauge = fn
	}
}

// WithCheckOrigin replaces the upgrader's origin check.
func WithCheckOrigin(fn func(r *http.Request) bool) HubOption {
	return func(h *Hub) {
		h.upgrader.CheckOrigin = fn
	}
}

// Hub is an http.Handler that upgrades requests to websockets and pushes
// every price event to each connected subscriber. New subscribers first
// receive the latest event as a snapshot frame.
type Hub struct {
	cfg      HubConfig
	logger   *slog.Logger
	upgrader websocket.Upgrader
	gauge    func(n int)

	mu     sync.Mutex
	subs   map[*subscriber]struct{}
	latest *model.PriceEvent
	closed bool

	wg sync.WaitGroup
}

type subscriber struct {
	conn  *websocket.Conn
	queue *dropQueue[[]byte]
	done  chan struct{}
	once  sync.Once
}

func (s *subscriber) close() {
	s.once.Do(func() {
		close(s.done)
		s.queue.Close()
	})
}

// NewHub creates a Hub.
func NewHub(cfg HubConfig, logger *slog.Logger, opts ...HubOption) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Hub{
		cfg:    cfg.withDefaults(),
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		subs: make(map[*subscriber]struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Prime sets the snapshot replayed to new subscribers without broadcasting.
func (h *Hub) Prime(event model.PriceEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.latest = &event
}

// Latest returns the most recent event, if any.
func (h *Hub) Latest() (model.PriceEvent, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.latest == nil {
		return model.PriceEvent{}, false
	}
	return *h.latest, true
}

// Subscribers returns the number of connected subscribers.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Notify queues event for every subscriber. It never blocks on a slow
// subscriber.
func (h *Hub) Notify(_ context.Context, event model.PriceEvent) error {
	frame, err := encodeFrame(FramePrice, event)
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrHubClosed
	}
	h.latest = &event
	for sub := range h.subs {
		sub.queue.Push(frame)
	}
	return nil
}

// ServeHTTP upgrades the connection and streams frames until the client
// goes away or the hub closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()
	if closed {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", "error", err, "remote", r.RemoteAddr)
		return
	}

	sub := &subscriber{
		conn:  conn,
		queue: newDropQueue[[]byte](h.cfg.QueueSize),
		done:  make(chan struct{}),
	}
	if !h.add(sub) {
		conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(time.Second),
		)
		conn.Close()
		return
	}
	defer h.wg.Done()

	h.logger.Debug("subscriber connected", "remote", r.RemoteAddr)

	go h.readLoop(sub)
	if h.cfg.PingInterval > 0 {
		go h.pingLoop(sub)
	}
	h.writeLoop(sub)

	h.remove(sub)
	sub.close()
	conn.Close()

	h.logger.Debug("subscriber disconnected",
		"remote", r.RemoteAddr,
		"dropped", sub.queue.Dropped(),
	)
}

// add registers sub and queues the snapshot. Returns false if closed.
func (h *Hub) add(sub *subscriber) bool {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return false
	}
	h.subs[sub] = struct{}{}
	h.wg.Add(1)
	if h.latest != nil {
		if frame, err := encodeFrame(FrameSnapshot, *h.latest); err == nil {
			sub.queue.Push(frame)
		}
	}
	n := len(h.subs)
	h.mu.Unlock()

	h.report(n)
	return true
}

func (h *Hub) remove(sub *subscriber) {
	h.mu.Lock()
	_, ok := h.subs[sub]
	delete(h.subs, sub)
	n := len(h.subs)
	h.mu.Unlock()

	if ok {
		h.report(n)
	}
}

func (h *Hub) report(n int) {
	if h.gauge != nil {
		h.gauge(n)
	}
}

// writeLoop sends queued frames until the queue closes or a write fails.
func (h *Hub) writeLoop(sub *subscriber) {
	for {
		frame, ok := sub.queue.Pop()
		if !ok {
			return
		}
		sub.conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
		if err := sub.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			h.logger.Debug("websocket write failed", "error", err)
			return
		}
	}
}

// readLoop discards inbound messages and notices disconnects.
func (h *Hub) readLoop(sub *subscriber) {
	defer sub.close()

	sub.conn.SetReadLimit(maxInboundMessage)
	if h.cfg.PingInterval > 0 {
		pongWait := 2 * h.cfg.PingInterval
		sub.conn.SetReadDeadline(time.Now().Add(pongWait))
		sub.conn.SetPongHandler(func(string) error {
			return sub.conn.SetReadDeadline(time.Now().Add(pongWait))
		})
	}

	for {
		if _, _, err := sub.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) pingLoop(sub *subscriber) {
	ticker := time.NewTicker(h.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-sub.done:
			return
		case <-ticker.C:
			err := sub.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(h.cfg.WriteTimeout))
			if err != nil {
				sub.close()
				return
			}
		}
	}
}

// Close disconnects every subscriber and waits for their handlers to
// return or ctx to end.
func (h *Hub) Close(ctx context.Context) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	subs := make([]*subscriber, 0, len(h.subs))
	for sub := range h.subs {
		subs = append(subs, sub)
	}
	h.mu.Unlock()

	for _, sub := range subs {
		sub.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(time.Second),
		)
		sub.close()
	}

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
