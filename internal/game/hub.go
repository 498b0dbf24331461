package game

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"badma/internal/protocol"
)

// NewHub creates an empty hub. Idle games are dropped by Run.
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{games: make(map[string]*Game), logger: logger, now: time.Now}
}

// Get retrieves the watcher set of a game, creating it on first use.
func (h *Hub) Get(id string) *Game {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.getLocked(id)
}

// Watch registers ch on the game under the hub lock, so Cleanup cannot
// drop the game between lookup and registration.
func (h *Hub) Watch(id string, ch chan []byte) *Game {
	h.mu.Lock()
	defer h.mu.Unlock()
	g := h.getLocked(id)
	g.AddWatcher(ch)
	return g
}

func (h *Hub) getLocked(id string) *Game {
	if g, ok := h.games[id]; ok {
		return g
	}
	g := &Game{
		id:       id,
		watchers: make(map[chan []byte]struct{}),
		lastSeen: h.now(),
		now:      h.now,
	}
	h.games[id] = g
	return g
}

// Publish broadcasts d to everyone watching gameID.
func (h *Hub) Publish(gameID string, d protocol.Data) {
	h.mu.Lock()
	g := h.getLocked(gameID)
	g.Touch()
	h.mu.Unlock()

	g.mu.Lock()
	payload, err := json.Marshal(Event{Kind: "state", Data: d, Watchers: len(g.watchers)})
	if err != nil {
		g.mu.Unlock()
		h.logger.Error("encode game view", zap.String("game_id", gameID), zap.Error(err))
		return
	}
	g.last = payload
	g.mu.Unlock()

	g.Broadcast(payload)
}

// Cleanup drops games without watchers that have been idle longer than idle
// and returns how many were removed.
func (h *Hub) Cleanup(idle time.Duration) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	removed := 0
	for id, g := range h.games {
		g.mu.Lock()
		stale := len(g.watchers) == 0 && h.now().Sub(g.lastSeen) > idle
		g.mu.Unlock()
		if stale {
			delete(h.games, id)
			removed++
		}
	}
	return removed
}

// Len reports how many games the hub tracks.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.games)
}

// Run calls Cleanup every interval until ctx is done.
func (h *Hub) Run(ctx context.Context, every, idle time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := h.Cleanup(idle); n > 0 {
				h.logger.Debug("dropped idle games", zap.Int("count", n))
			}
		}
	}
}
