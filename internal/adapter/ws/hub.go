// Package ws implements the real-time push channel: a WebSocket hub that
// fans monitoring snapshots out to every connected dashboard.
package ws

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	promobs "github.com/fairyhunter13/jobflow/internal/adapter/observability"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Dashboards are served from arbitrary origins in development.
		return true
	},
}

// Message is the push-channel envelope. Payload is marshalled as-is.
type Message struct {
	Type      string    `json:"type"`
	Payload   any       `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
}

const subscriberBuffer = 32

type subscriber struct {
	conn *websocket.Conn

	mu     sync.Mutex
	send   chan []byte
	closed bool
}

// trySend queues data for the writer. Returns false when the buffer is full
// or the subscriber is already gone.
func (s *subscriber) trySend(data []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.send <- data:
		return true
	default:
		return false
	}
}

// shutdown closes the send channel exactly once, under the same mutex
// trySend holds, so a broadcaster with a stale snapshot of the subscriber
// set can never send on a closed channel.
func (s *subscriber) shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.send)
}

// Hub tracks push subscribers and broadcasts monitoring messages to all of
// them. A slow subscriber loses messages rather than slowing the hub; a dead
// one is evicted when its writer fails.
type Hub struct {
	logger   *slog.Logger
	throttle *rate.Limiter

	mu   sync.RWMutex
	subs map[*subscriber]struct{}

	closed chan struct{}
	once   sync.Once
}

// NewHub creates a hub. minInterval bounds how often broadcasts go out;
// zero disables throttling.
func NewHub(logger *slog.Logger, minInterval time.Duration) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Hub{
		logger: logger,
		subs:   make(map[*subscriber]struct{}),
		closed: make(chan struct{}),
	}
	if minInterval > 0 {
		h.throttle = rate.NewLimiter(rate.Every(minInterval), 1)
	}
	return h
}

// Handle upgrades the request and keeps the connection registered until the
// client goes away.
func (h *Hub) Handle(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", slog.Any("error", err))
		return
	}

	sub := &subscriber{conn: conn, send: make(chan []byte, subscriberBuffer)}
	h.register(sub)
	go h.writeLoop(sub)

	// Reads are discarded; the channel is push-only. The loop exists to
	// observe the close handshake.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("websocket read error", slog.Any("error", err))
			}
			break
		}
	}
	h.unregister(sub)
}

func (h *Hub) register(sub *subscriber) {
	h.mu.Lock()
	h.subs[sub] = struct{}{}
	n := len(h.subs)
	h.mu.Unlock()
	promobs.PushSubscribers.Set(float64(n))
	h.logger.Debug("push subscriber connected", slog.Int("total", n))
}

func (h *Hub) unregister(sub *subscriber) {
	h.mu.Lock()
	if _, ok := h.subs[sub]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.subs, sub)
	n := len(h.subs)
	h.mu.Unlock()

	sub.shutdown()
	_ = sub.conn.Close()
	promobs.PushSubscribers.Set(float64(n))
	h.logger.Debug("push subscriber disconnected", slog.Int("remaining", n))
}

func (h *Hub) writeLoop(sub *subscriber) {
	for data := range sub.send {
		_ = sub.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := sub.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			h.logger.Debug("push write failed, evicting subscriber", slog.Any("error", err))
			h.unregister(sub)
			return
		}
	}
}

// SubscriberCount reports connected subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Broadcast pushes one typed message to every subscriber. Messages to a
// subscriber with a full buffer are dropped and counted.
func (h *Hub) Broadcast(msgType string, payload any) {
	select {
	case <-h.closed:
		return
	default:
	}
	if h.throttle != nil && !h.throttle.Allow() {
		promobs.PushMessagesDroppedTotal.Inc()
		return
	}

	data, err := json.Marshal(Message{Type: msgType, Payload: payload, Timestamp: time.Now().UTC()})
	if err != nil {
		h.logger.Error("push message marshal failed", slog.String("type", msgType), slog.Any("error", err))
		return
	}

	h.mu.RLock()
	subs := make([]*subscriber, 0, len(h.subs))
	for sub := range h.subs {
		subs = append(subs, sub)
	}
	h.mu.RUnlock()

	for _, sub := range subs {
		if !sub.trySend(data) {
			promobs.PushMessagesDroppedTotal.Inc()
		}
	}
}

// Close disconnects every subscriber and rejects further broadcasts.
func (h *Hub) Close() {
	h.once.Do(func() {
		close(h.closed)
		h.mu.Lock()
		subs := make([]*subscriber, 0, len(h.subs))
		for sub := range h.subs {
			subs = append(subs, sub)
		}
		h.mu.Unlock()
		for _, sub := range subs {
			h.unregister(sub)
		}
	})
}
