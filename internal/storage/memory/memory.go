// Package memory is the in-process Backend: an append-only arena of join
// records with a monotonic counter, and plain maps for users, games and
// moves. All state belongs to one Store value.
package memory

import (
	"context"
	"sync"
	"time"

	"badma/internal/coordinator"
	"badma/internal/protocol"
)

// Store is the reference coordinator.Backend.
type Store struct {
	mu      sync.RWMutex
	users   map[string]time.Time
	games   map[string]coordinator.GameRecord
	joins   []coordinator.JoinRecord
	moves   map[string][]coordinator.MoveRecord
	counter int64

	locksMu sync.Mutex
	locks   map[string]*gameLock
}

// gameLock is shared by every caller of Atomic for one game and dropped
// when the last of them releases it.
type gameLock struct {
	mu   sync.Mutex
	refs int
}

var _ coordinator.Backend = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{
		users: make(map[string]time.Time),
		games: make(map[string]coordinator.GameRecord),
		moves: make(map[string][]coordinator.MoveRecord),
		locks: make(map[string]*gameLock),
	}
}

func (s *Store) lockGame(gameID string) (unlock func()) {
	s.locksMu.Lock()
	l, ok := s.locks[gameID]
	if !ok {
		l = &gameLock{}
		s.locks[gameID] = l
	}
	l.refs++
	s.locksMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.locksMu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, gameID)
		}
		s.locksMu.Unlock()
	}
}

func (s *Store) Atomic(ctx context.Context, gameID string, fn func(coordinator.Backend) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	unlock := s.lockGame(gameID)
	defer unlock()
	return fn(s)
}

func (s *Store) UserExists(_ context.Context, userID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.users[userID]
	return ok, nil
}

func (s *Store) AddUser(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[userID]; ok {
		return coordinator.ErrExists
	}
	s.users[userID] = time.Now()
	return nil
}

func (s *Store) GameExists(_ context.Context, gameID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.games[gameID]
	return ok, nil
}

func (s *Store) GetGame(_ context.Context, gameID string) (*coordinator.GameRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.games[gameID]
	if !ok {
		return nil, nil
	}
	return &g, nil
}

func (s *Store) CreateGame(_ context.Context, game coordinator.GameRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.games[game.ID]; ok {
		return coordinator.ErrExists
	}
	s.games[game.ID] = game
	return nil
}

func (s *Store) UpdateGame(_ context.Context, game coordinator.GameRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.games[game.ID]; !ok {
		return coordinator.ErrNotFound
	}
	s.games[game.ID] = game
	return nil
}

// DeleteGame removes the game and its moves. Join records are kept; the
// ledger is append-only.
func (s *Store) DeleteGame(_ context.Context, gameID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.games[gameID]; !ok {
		return coordinator.ErrNotFound
	}
	delete(s.games, gameID)
	delete(s.moves, gameID)
	return nil
}

func (s *Store) AppendJoin(_ context.Context, rec coordinator.JoinRecord) (coordinator.JoinRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, j := range s.joins {
		if j.JoinID == rec.JoinID {
			return coordinator.JoinRecord{}, coordinator.ErrExists
		}
	}
	s.counter++
	rec.JoinCounterID = s.counter
	s.joins = append(s.joins, rec)
	return rec, nil
}

func (s *Store) JoinExists(_ context.Context, joinID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, j := range s.joins {
		if j.JoinID == joinID {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) ListJoins(_ context.Context, gameID string) ([]coordinator.JoinRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []coordinator.JoinRecord
	for _, j := range s.joins {
		if j.GameID == gameID {
			out = append(out, j)
		}
	}
	return out, nil
}

// latest scans the arena backwards; records are appended in counter order.
func (s *Store) latest(match func(coordinator.JoinRecord) bool) *coordinator.JoinRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.joins) - 1; i >= 0; i-- {
		if match(s.joins[i]) {
			rec := s.joins[i]
			return &rec
		}
	}
	return nil
}

func (s *Store) LatestActivePlayerByUser(_ context.Context, gameID, userID string) (*coordinator.JoinRecord, error) {
	return s.latest(func(j coordinator.JoinRecord) bool {
		return j.GameID == gameID && j.UserID == userID && j.ActivePlayer()
	}), nil
}

func (s *Store) LatestActivePlayerBySide(_ context.Context, gameID string, side protocol.Side) (*coordinator.JoinRecord, error) {
	return s.latest(func(j coordinator.JoinRecord) bool {
		return j.GameID == gameID && j.Side == side && j.ActivePlayer()
	}), nil
}

func (s *Store) FindActiveJoin(_ context.Context, joinID, userID string) (*coordinator.JoinRecord, error) {
	return s.latest(func(j coordinator.JoinRecord) bool {
		return j.JoinID == joinID && j.UserID == userID && j.Active()
	}), nil
}

func (s *Store) ClearConnection(_ context.Context, joinID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.joins {
		if s.joins[i].JoinID == joinID {
			s.joins[i].ConnectionRef = ""
			return nil
		}
	}
	return coordinator.ErrNotFound
}

func (s *Store) ActiveJoinsByConnection(_ context.Context, connectionRef string) ([]coordinator.JoinRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []coordinator.JoinRecord
	if connectionRef == "" {
		return out, nil
	}
	for _, j := range s.joins {
		if j.ConnectionRef == connectionRef {
			out = append(out, j)
		}
	}
	return out, nil
}

func (s *Store) AppendMove(_ context.Context, move coordinator.MoveRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.games[move.GameID]; !ok {
		return coordinator.ErrNotFound
	}
	s.moves[move.GameID] = append(s.moves[move.GameID], move)
	return nil
}

func (s *Store) ListMoves(_ context.Context, gameID string) ([]coordinator.MoveRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]coordinator.MoveRecord, len(s.moves[gameID]))
	copy(out, s.moves[gameID])
	return out, nil
}

// FetchStats aggregates game counts.
func (s *Store) FetchStats(_ context.Context) (coordinator.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var st coordinator.Stats
	for _, g := range s.games {
		st.Started++
		switch {
		case g.Status.Terminal():
			st.Completed++
		case g.Status.Leavable():
			st.Active++
		}
	}
	return st, nil
}
