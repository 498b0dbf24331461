package game

// Touch updates the last seen timestamp for a game
func (g *Game) Touch() {
	g.mu.Lock()
	g.lastSeen = g.now()
	g.mu.Unlock()
}

// ID returns the game identifier.
func (g *Game) ID() string { return g.id }

// Snapshot returns the most recently published view, or nil.
func (g *Game) Snapshot() []byte {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.last
}

// Broadcast sends payload to all watchers. Slow watchers miss it.
func (g *Game) Broadcast(payload []byte) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for ch := range g.watchers {
		select {
		case ch <- payload:
		default:
		}
	}
}

// AddWatcher adds a new watcher channel
func (g *Game) AddWatcher(ch chan []byte) {
	g.mu.Lock()
	g.watchers[ch] = struct{}{}
	g.lastSeen = g.now()
	g.mu.Unlock()
}

// RemoveWatcher removes a watcher channel
func (g *Game) RemoveWatcher(ch chan []byte) {
	g.mu.Lock()
	delete(g.watchers, ch)
	g.lastSeen = g.now()
	g.mu.Unlock()
}

// Watchers reports the number of live watchers.
func (g *Game) Watchers() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.watchers)
}
