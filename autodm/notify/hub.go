package notify

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// In-process fan-out from channels to live dashboard subscribers. Slow subscribers drop events
// instead of stalling the publisher.
type Hub struct {
	logger *slog.Logger
	// per-subscriber buffer
	bufferSize int

	mu   sync.Mutex
	subs map[string]map[chan Event]struct{}
}

var _ Notifier = (*Hub)(nil)

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		logger:     logger.With("system", "notify-hub"),
		bufferSize: 64,
		subs:       make(map[string]map[chan Event]struct{}),
	}
}

func (h *Hub) Publish(ctx context.Context, channel string, evt Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs[channel] {
		select {
		case ch <- evt:
		default:
			subscriberDrops.Inc()
			h.logger.Debug("dropping event for slow subscriber", "channel", channel, "type", evt.Type)
		}
	}
	return nil
}

// Returns a channel of events published to `channel`, and a function which must be called to
// unsubscribe.
func (h *Hub) Subscribe(channel string) (<-chan Event, func()) {
	ch := make(chan Event, h.bufferSize)
	h.mu.Lock()
	if h.subs[channel] == nil {
		h.subs[channel] = make(map[chan Event]struct{})
	}
	h.subs[channel][ch] = struct{}{}
	h.mu.Unlock()
	activeSubscribers.Inc()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs[channel], ch)
			if len(h.subs[channel]) == 0 {
				delete(h.subs, channel)
			}
			h.mu.Unlock()
			activeSubscribers.Dec()
		})
	}
}

func (h *Hub) SubscriberCount(channel string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[channel])
}

var wsUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Upgrades the request and streams the channel's events as JSON text frames until the client
// disconnects or ctx is done.
func (h *Hub) ServeWebsocket(ctx context.Context, w http.ResponseWriter, r *http.Request, channel string) error {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	events, unsubscribe := h.Subscribe(channel)
	defer unsubscribe()

	// dashboards never send anything meaningful; reading only detects disconnects
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				cancel()
				return
			}
		}
	}()

	logger := h.logger.With("channel", channel, "remote", r.RemoteAddr)
	logger.Info("dashboard subscriber connected")

	ping := time.NewTicker(30 * time.Second)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Info("dashboard subscriber disconnected")
			return nil
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(5*time.Second)); err != nil {
				logger.Info("failed to ping dashboard subscriber", "err", err)
				return nil
			}
		case evt := <-events:
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(evt); err != nil {
				logger.Info("websocket write error", "err", err)
				return nil
			}
		}
	}
}
