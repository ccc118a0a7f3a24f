package realtime

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

var patterns = []string{"user:*", "tenant:*"}

const sendBuffer = 32

// session is one websocket connection's outbound queue.
type session struct {
	send     chan []byte
	channels []string
}

// Hub fans Redis pub/sub messages out to local sessions.
type Hub struct {
	client redis.UniversalClient
	logger *zap.Logger

	mu   sync.RWMutex
	subs map[string]map[*session]struct{}
}

func NewHub(client redis.UniversalClient, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{client: client, logger: logger, subs: make(map[string]map[*session]struct{})}
}

// Run subscribes and forwards until ctx is done. ready, if non-nil, is closed once the
// subscription is confirmed.
func (h *Hub) Run(ctx context.Context, ready chan<- struct{}) error {
	ps := h.client.PSubscribe(ctx, patterns...)
	defer ps.Close()
	for range patterns {
		if _, err := ps.Receive(ctx); err != nil {
			return fmt.Errorf("realtime: subscribe: %w", err)
		}
	}
	if ready != nil {
		close(ready)
	}
	h.logger.Info("realtime hub subscribed", zap.Strings("patterns", patterns))

	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			h.deliver(msg.Channel, []byte(msg.Payload))
		}
	}
}

func (h *Hub) register(channels ...string) *session {
	s := &session{send: make(chan []byte, sendBuffer), channels: channels}
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, c := range channels {
		set, ok := h.subs[c]
		if !ok {
			set = make(map[*session]struct{})
			h.subs[c] = set
		}
		set[s] = struct{}{}
	}
	return s
}

func (h *Hub) unregister(s *session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, c := range s.channels {
		if set, ok := h.subs[c]; ok {
			delete(set, s)
			if len(set) == 0 {
				delete(h.subs, c)
			}
		}
	}
}

// deliver never blocks: a session whose buffer is full misses the frame.
func (h *Hub) deliver(channel string, payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.subs[channel] {
		select {
		case s.send <- payload:
		default:
			h.logger.Warn("realtime session too slow, dropping frame", zap.String("channel", channel))
		}
	}
}

// Sessions reports how many sessions listen on channel.
func (h *Hub) Sessions(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[channel])
}
