package game

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"badma/internal/protocol"
)

// Hub fans authoritative game views out to live watchers.
type Hub struct {
	mu     sync.Mutex
	games  map[string]*Game
	logger *zap.Logger
	now    func() time.Time
}

// Game is the watcher set of a single match plus its latest view.
type Game struct {
	mu       sync.Mutex
	id       string
	watchers map[chan []byte]struct{}
	last     []byte
	lastSeen time.Time
	now      func() time.Time
}

// Event is what watchers receive, one JSON object per published view.
type Event struct {
	Kind string `json:"kind"`
	protocol.Data
	Watchers int `json:"watchers"`
}
