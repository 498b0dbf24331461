package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"badma/internal/coordinator"
	"badma/internal/protocol"
)

func TestAppendJoinAssignsMonotonicCounter(t *testing.T) {
	ctx := context.Background()
	s := New()

	var last int64
	for _, id := range []string{"j1", "j2", "j3"} {
		rec, err := s.AppendJoin(ctx, coordinator.JoinRecord{JoinID: id, GameID: "g"})
		require.NoError(t, err)
		assert.Greater(t, rec.JoinCounterID, last)
		last = rec.JoinCounterID
	}

	_, err := s.AppendJoin(ctx, coordinator.JoinRecord{JoinID: "j2", GameID: "g"})
	assert.ErrorIs(t, err, coordinator.ErrExists)
}

func TestLatestActivePlayerIgnoresClearedRecords(t *testing.T) {
	ctx := context.Background()
	s := New()

	_, err := s.AppendJoin(ctx, coordinator.JoinRecord{
		JoinID: "a1", GameID: "g", UserID: "A",
		Side: protocol.SideFirst, Role: protocol.RolePlayer, ConnectionRef: "c1",
	})
	require.NoError(t, err)

	rec, err := s.LatestActivePlayerBySide(ctx, "g", protocol.SideFirst)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "a1", rec.JoinID)

	require.NoError(t, s.ClearConnection(ctx, "a1"))

	rec, err = s.LatestActivePlayerBySide(ctx, "g", protocol.SideFirst)
	require.NoError(t, err)
	assert.Nil(t, rec)

	rec, err = s.LatestActivePlayerByUser(ctx, "g", "A")
	require.NoError(t, err)
	assert.Nil(t, rec)

	assert.ErrorIs(t, s.ClearConnection(ctx, "missing"), coordinator.ErrNotFound)
}

func TestFindActiveJoinChecksOwner(t *testing.T) {
	ctx := context.Background()
	s := New()
	_, err := s.AppendJoin(ctx, coordinator.JoinRecord{
		JoinID: "a1", GameID: "g", UserID: "A", Role: protocol.RoleVoter, ConnectionRef: "c1",
	})
	require.NoError(t, err)

	rec, err := s.FindActiveJoin(ctx, "a1", "B")
	require.NoError(t, err)
	assert.Nil(t, rec)

	rec, err = s.FindActiveJoin(ctx, "a1", "A")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, protocol.RoleVoter, rec.Role)

	joins, err := s.ActiveJoinsByConnection(ctx, "c1")
	require.NoError(t, err)
	assert.Len(t, joins, 1)

	joins, err = s.ActiveJoinsByConnection(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, joins)
}

func TestGamesAndMoves(t *testing.T) {
	ctx := context.Background()
	s := New()
	now := time.Now()

	got, err := s.GetGame(ctx, "g")
	require.NoError(t, err)
	assert.Nil(t, got)

	game := coordinator.GameRecord{ID: "g", Status: protocol.StatusAwait, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, s.CreateGame(ctx, game))
	assert.ErrorIs(t, s.CreateGame(ctx, game), coordinator.ErrExists)

	game.Status = protocol.StatusReady
	require.NoError(t, s.UpdateGame(ctx, game))
	got, err = s.GetGame(ctx, "g")
	require.NoError(t, err)
	assert.Equal(t, protocol.StatusReady, got.Status)

	require.NoError(t, s.AppendMove(ctx, coordinator.MoveRecord{GameID: "g", Number: 1, UCI: "e2e4"}))
	assert.ErrorIs(t, s.AppendMove(ctx, coordinator.MoveRecord{GameID: "nope"}), coordinator.ErrNotFound)

	moves, err := s.ListMoves(ctx, "g")
	require.NoError(t, err)
	require.Len(t, moves, 1)
	moves[0].UCI = "mutated"
	again, _ := s.ListMoves(ctx, "g")
	assert.Equal(t, "e2e4", again[0].UCI)

	require.NoError(t, s.DeleteGame(ctx, "g"))
	assert.ErrorIs(t, s.DeleteGame(ctx, "g"), coordinator.ErrNotFound)
	assert.ErrorIs(t, s.UpdateGame(ctx, game), coordinator.ErrNotFound)
}

func TestUsers(t *testing.T) {
	ctx := context.Background()
	s := New()
	ok, err := s.UserExists(ctx, "A")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.AddUser(ctx, "A"))
	assert.ErrorIs(t, s.AddUser(ctx, "A"), coordinator.ErrExists)

	ok, _ = s.UserExists(ctx, "A")
	assert.True(t, ok)
}

func TestAtomicSerializesPerGame(t *testing.T) {
	ctx := context.Background()
	s := New()

	var (
		wg      sync.WaitGroup
		inside  int
		maxSeen int
		mu      sync.Mutex
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.Atomic(ctx, "g", func(coordinator.Backend) error {
				mu.Lock()
				inside++
				if inside > maxSeen {
					maxSeen = inside
				}
				mu.Unlock()
				time.Sleep(time.Millisecond)
				mu.Lock()
				inside--
				mu.Unlock()
				return nil
			})
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, maxSeen)

	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	assert.Empty(t, s.locks)
}

func TestAtomicReleasesLocksPerGame(t *testing.T) {
	ctx := context.Background()
	s := New()
	for i := 0; i < 100; i++ {
		gameID := fmt.Sprintf("g%d", i)
		require.NoError(t, s.Atomic(ctx, gameID, func(coordinator.Backend) error {
			s.locksMu.Lock()
			defer s.locksMu.Unlock()
			assert.Contains(t, s.locks, gameID)
			return nil
		}))
	}

	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	assert.Empty(t, s.locks)
}

func TestAtomicReturnsCallbackError(t *testing.T) {
	boom := errors.New("boom")
	err := New().Atomic(context.Background(), "g", func(coordinator.Backend) error { return boom })
	assert.ErrorIs(t, err, boom)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = New().Atomic(ctx, "g", func(coordinator.Backend) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}
