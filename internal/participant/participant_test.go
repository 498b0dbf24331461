package participant_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"badma/internal/coordinator"
	"badma/internal/participant"
	"badma/internal/protocol"
	"badma/internal/rules"
	"badma/internal/storage/memory"
)

// countingTransport forwards to the coordinator and counts round trips.
type countingTransport struct {
	mu    sync.Mutex
	next  participant.Transport
	calls int
}

func (t *countingTransport) Do(ctx context.Context, req protocol.Request) (protocol.Response, error) {
	t.mu.Lock()
	t.calls++
	t.mu.Unlock()
	return t.next.Do(ctx, req)
}

func (t *countingTransport) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.calls
}

// fixedTransport answers every request with the same response.
type fixedTransport struct {
	resp protocol.Response
	err  error
}

func (t fixedTransport) Do(context.Context, protocol.Request) (protocol.Response, error) {
	return t.resp, t.err
}

type mismatches struct {
	mu   sync.Mutex
	errs []error
}

func (m *mismatches) hook(_ protocol.Operation, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errs = append(m.errs, err)
}

func (m *mismatches) all() []error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]error(nil), m.errs...)
}

type fixture struct {
	ctx   context.Context
	coord *coordinator.Server
}

func newFixture(t *testing.T, users ...string) *fixture {
	t.Helper()
	f := &fixture{ctx: context.Background(), coord: coordinator.New(memory.New())}
	for _, u := range users {
		require.NoError(t, f.coord.RegisterUser(f.ctx, u))
	}
	return f
}

func (f *fixture) client(user, gameID string, hook participant.MismatchHandler) *participant.Client {
	return participant.New(participant.Options{
		ClientID: "c-" + user, UserID: user, GameID: gameID,
		Transport: f.coord, OnMismatch: hook,
	})
}

var (
	white = participant.Seat{Side: protocol.SideFirst, Role: protocol.RolePlayer}
	black = participant.Seat{Side: protocol.SideSecond, Role: protocol.RolePlayer}
)

func TestAwaitAndApplyFullGame(t *testing.T) {
	f := newFixture(t, "A", "B")
	a := f.client("A", "", nil)
	st, err := a.Create(f.ctx, participant.CreateOptions{GameID: "G", Seat: &white})
	require.NoError(t, err)
	assert.Equal(t, "G", st.GameID)
	assert.Equal(t, protocol.SideFirst, st.Side)
	assert.Equal(t, protocol.StatusAwait, st.Status)
	assert.False(t, st.CreatedAt.IsZero())

	b := f.client("B", "G", nil)
	st, err = b.Join(f.ctx, black)
	require.NoError(t, err)
	assert.Equal(t, protocol.StatusReady, st.Status)

	_, err = a.Sync(f.ctx)
	require.NoError(t, err)

	for i, uci := range []string{"f2f3", "e7e5", "g2g4", "d8h4"} {
		m, err := rules.ParseUCI(uci)
		require.NoError(t, err)
		mover := a
		if i%2 == 1 {
			mover = b
		}
		_, err = mover.Sync(f.ctx)
		require.NoError(t, err)
		_, err = mover.Move(f.ctx, m)
		require.NoError(t, err, uci)
	}

	st, err = a.Sync(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, protocol.StatusCheckmate, st.Status)
	assert.Len(t, st.Moves, 4)

	_, err = a.Leave(f.ctx)
	assert.ErrorIs(t, err, participant.ErrNotLeavable)
}

func TestLeaveVacatesSeatAndAllowsRejoin(t *testing.T) {
	f := newFixture(t, "A")
	a := f.client("A", "", nil)
	created, err := a.Create(f.ctx, participant.CreateOptions{GameID: "G", Seat: &white})
	require.NoError(t, err)

	st, err := a.Leave(f.ctx)
	require.NoError(t, err)
	assert.Empty(t, st.JoinID)
	assert.NotEmpty(t, st.LeaveID)
	assert.NotEqual(t, created.JoinID, st.LeaveID)
	assert.Equal(t, protocol.SideNone, st.Side)
	assert.Equal(t, protocol.RoleAnonymous, st.Role)
	assert.Equal(t, protocol.StatusAwait, st.Status)

	_, err = a.Leave(f.ctx)
	assert.ErrorIs(t, err, participant.ErrNoJoinID)

	st, err = a.Join(f.ctx, black)
	require.NoError(t, err)
	assert.NotEmpty(t, st.JoinID)
	assert.NotEqual(t, created.JoinID, st.JoinID)
	assert.Equal(t, protocol.SideSecond, st.Side)
	assert.Equal(t, protocol.RolePlayer, st.Role)
}

func TestPreconditions(t *testing.T) {
	ctx := context.Background()
	noTransport := participant.New(participant.Options{ClientID: "c", UserID: "u"})

	cases := []struct {
		name string
		c    *participant.Client
		op   func(*participant.Client) error
		want error
	}{
		{"create without client", participant.New(participant.Options{UserID: "u"}), func(c *participant.Client) error {
			_, err := c.Create(ctx, participant.CreateOptions{})
			return err
		}, participant.ErrNoClientID},
		{"create without user", participant.New(participant.Options{ClientID: "c"}), func(c *participant.Client) error {
			_, err := c.CreateAsync(ctx, participant.CreateOptions{})
			return err
		}, participant.ErrNoUserID},
		{"create with game", participant.New(participant.Options{ClientID: "c", UserID: "u", GameID: "G"}), func(c *participant.Client) error {
			_, err := c.Create(ctx, participant.CreateOptions{})
			return err
		}, participant.ErrHasGameID},
		{"join without game", noTransport, func(c *participant.Client) error {
			_, err := c.Join(ctx, white)
			return err
		}, participant.ErrNoGameID},
		{"leave without join", participant.New(participant.Options{ClientID: "c", UserID: "u", GameID: "G"}), func(c *participant.Client) error {
			_, err := c.LeaveAsync(ctx)
			return err
		}, participant.ErrNoJoinID},
		{"move without join", participant.New(participant.Options{ClientID: "c", UserID: "u", GameID: "G"}), func(c *participant.Client) error {
			_, err := c.Move(ctx, protocol.Move{From: "e2", To: "e4"})
			return err
		}, participant.ErrNoJoinID},
		{"create without transport", noTransport, func(c *participant.Client) error {
			_, err := c.CreateAsync(ctx, participant.CreateOptions{})
			return err
		}, participant.ErrNoTransport},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.ErrorIs(t, tc.op(tc.c), tc.want)
		})
	}
}

func TestSeatedPreconditions(t *testing.T) {
	ctx := context.Background()
	seated := func(status protocol.Status, side protocol.Side, role protocol.Role) *participant.Client {
		c := participant.New(participant.Options{ClientID: "c", UserID: "u"})
		require.NoError(t, c.Restore(participant.State{
			ClientID: "c", UserID: "u", GameID: "G", JoinID: "j", Side: side, Role: role, Status: status,
		}))
		return c
	}

	_, err := seated(protocol.StatusAwait, protocol.SideFirst, protocol.RolePlayer).Join(ctx, black)
	assert.ErrorIs(t, err, participant.ErrHasJoinID)

	_, err = seated(protocol.StatusAwait, protocol.SideFirst, protocol.RolePlayer).Move(ctx, protocol.Move{From: "e2", To: "e4"})
	assert.ErrorIs(t, err, participant.ErrNotPlayable)

	_, err = seated(protocol.StatusReady, protocol.SideNone, protocol.RoleVoter).Move(ctx, protocol.Move{From: "e2", To: "e4"})
	assert.ErrorIs(t, err, participant.ErrNoSide)

	_, err = seated(protocol.StatusReady, protocol.SideFirst, protocol.RoleAnonymous).MoveAsync(ctx, protocol.Move{From: "e2", To: "e4"})
	assert.ErrorIs(t, err, participant.ErrAnonymous)

	_, err = seated(protocol.StatusDraw, protocol.SideFirst, protocol.RolePlayer).Leave(ctx)
	assert.ErrorIs(t, err, participant.ErrNotLeavable)

	c := participant.New(participant.Options{ClientID: "c", UserID: "u", GameID: "G"})
	require.NoError(t, c.Restore(participant.State{ClientID: "c", UserID: "u", GameID: "G", Side: protocol.SideFirst, Status: protocol.StatusAwait}))
	_, err = c.Join(ctx, white)
	assert.ErrorIs(t, err, participant.ErrSideAssigned)

	require.NoError(t, c.Restore(participant.State{ClientID: "c", UserID: "u", GameID: "G", Status: protocol.StatusReady}))
	_, err = c.JoinAsync(ctx, white)
	assert.ErrorIs(t, err, participant.ErrNotAwait)
}

func TestIllegalMoveNeverReachesNetwork(t *testing.T) {
	f := newFixture(t, "A", "B")
	tr := &countingTransport{next: f.coord}
	a := participant.New(participant.Options{ClientID: "c-A", UserID: "A", Transport: tr})
	_, err := a.Create(f.ctx, participant.CreateOptions{GameID: "G", Seat: &white})
	require.NoError(t, err)
	_, err = f.client("B", "G", nil).Join(f.ctx, black)
	require.NoError(t, err)
	_, err = a.Sync(f.ctx)
	require.NoError(t, err)
	calls := tr.count()

	_, err = a.Move(f.ctx, protocol.Move{From: "e2", To: "e5"})
	assert.ErrorIs(t, err, rules.ErrIllegalMove)
	_, err = a.MoveAsync(f.ctx, protocol.Move{From: "e7", To: "e5"})
	assert.ErrorIs(t, err, rules.ErrWrongColor)
	assert.Equal(t, calls, tr.count())
}

func TestAsyncCommitsBeforeConfirmation(t *testing.T) {
	f := newFixture(t, "A", "B")
	var mm mismatches
	a := f.client("A", "", mm.hook)

	st, err := a.CreateAsync(f.ctx, participant.CreateOptions{GameID: "G", Seat: &white})
	require.NoError(t, err)
	assert.Equal(t, "G", st.GameID)
	assert.NotEmpty(t, st.JoinID)
	assert.Equal(t, protocol.SideFirst, st.Side)
	a.Wait()
	assert.Empty(t, mm.all())

	b := f.client("B", "G", mm.hook)
	st, err = b.JoinAsync(f.ctx, black)
	require.NoError(t, err)
	assert.Equal(t, protocol.SideSecond, st.Side)
	b.Wait()
	assert.Empty(t, mm.all())
	assert.Equal(t, protocol.StatusReady, b.State().Status)
	assert.Equal(t, st.JoinID, b.State().JoinID)

	_, err = a.Sync(f.ctx)
	require.NoError(t, err)
	st, err = a.MoveAsync(f.ctx, protocol.Move{From: "e2", To: "e4"})
	require.NoError(t, err)
	assert.Equal(t, protocol.StatusContinue, st.Status)
	assert.Equal(t, []string{"e2e4"}, st.Moves)
	a.Wait()
	assert.Empty(t, mm.all())

	_, err = b.Sync(f.ctx)
	require.NoError(t, err)
	st, err = b.LeaveAsync(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, protocol.StatusWhiteSurrender, st.Status)
	assert.Equal(t, protocol.RoleAnonymous, st.Role)
	assert.Empty(t, st.JoinID)
	b.Wait()
	assert.Empty(t, mm.all())
	assert.Empty(t, b.State().JoinID)
	assert.NotEmpty(t, b.State().LeaveID)
}

func TestRepetitionDrawIsPredictedLocally(t *testing.T) {
	f := newFixture(t, "A", "B")
	var mm mismatches
	a := f.client("A", "", mm.hook)
	_, err := a.Create(f.ctx, participant.CreateOptions{GameID: "G", Seat: &white})
	require.NoError(t, err)
	b := f.client("B", "G", mm.hook)
	_, err = b.Join(f.ctx, black)
	require.NoError(t, err)

	var shuffle []string
	for i := 0; i < 4; i++ {
		shuffle = append(shuffle, "g1f3", "g8f6", "f3g1", "f6g8")
	}
	last := len(shuffle) - 1
	for i, uci := range shuffle[:last] {
		mover := a
		if i%2 == 1 {
			mover = b
		}
		_, err := mover.Sync(f.ctx)
		require.NoError(t, err)
		m, err := rules.ParseUCI(uci)
		require.NoError(t, err)
		st, err := mover.Move(f.ctx, m)
		require.NoError(t, err, uci)
		assert.Equal(t, protocol.StatusContinue, st.Status, uci)
	}

	_, err = b.Sync(f.ctx)
	require.NoError(t, err)
	m, err := rules.ParseUCI(shuffle[last])
	require.NoError(t, err)
	st, err := b.MoveAsync(f.ctx, m)
	require.NoError(t, err)
	assert.Equal(t, protocol.StatusDraw, st.Status)
	b.Wait()
	assert.Empty(t, mm.all())
	assert.Equal(t, protocol.StatusDraw, b.State().Status)

	_, err = a.Sync(f.ctx)
	require.NoError(t, err)
	_, err = a.Move(f.ctx, protocol.Move{From: "g1", To: "f3"})
	assert.ErrorIs(t, err, participant.ErrNotPlayable)
}

func TestAsyncRejectionIsReportedNotRolledBack(t *testing.T) {
	f := newFixture(t, "A", "X")
	_, err := f.client("X", "", nil).Create(f.ctx, participant.CreateOptions{GameID: "G", Seat: &white})
	require.NoError(t, err)

	var mm mismatches
	a := f.client("A", "G", mm.hook)
	st, err := a.JoinAsync(f.ctx, white)
	require.NoError(t, err)
	assert.Equal(t, protocol.SideFirst, st.Side)
	a.Wait()

	errs := mm.all()
	require.Len(t, errs, 1)
	var rerr *protocol.ResponseError
	require.ErrorAs(t, errs[0], &rerr)
	assert.Equal(t, protocol.MsgSideTaken(protocol.SideFirst), rerr.Message)

	after := a.State()
	assert.Equal(t, protocol.SideFirst, after.Side, "no automatic rollback")
	assert.Equal(t, protocol.StatusError, after.Status)
}

func TestAsyncMismatchIsReportedPerField(t *testing.T) {
	var mm mismatches
	remote := protocol.Data{
		GameID: "other", Status: protocol.StatusAwait,
		JoinID: "server-join", Side: protocol.SideOf(protocol.SideFirst), Role: protocol.RoleOf(protocol.RolePlayer),
	}
	c := participant.New(participant.Options{
		ClientID: "c", UserID: "u",
		Transport:  fixedTransport{resp: protocol.Response{Data: &remote}},
		OnMismatch: mm.hook,
		NewID:      func() string { return "local" },
	})

	_, err := c.CreateAsync(context.Background(), participant.CreateOptions{GameID: "G", Seat: &white})
	require.NoError(t, err)
	c.Wait()

	var fields []string
	for _, err := range mm.all() {
		var m *participant.MismatchError
		require.ErrorAs(t, err, &m)
		assert.Equal(t, protocol.OpCreate, m.Operation)
		fields = append(fields, m.Field)
	}
	assert.ElementsMatch(t, []string{"gameId", "joinId"}, fields)
	assert.Equal(t, protocol.StatusError, c.State().Status)
}

func TestAsyncTransportFailureIsReported(t *testing.T) {
	var mm mismatches
	boom := errors.New("network down")
	c := participant.New(participant.Options{
		ClientID: "c", UserID: "u",
		Transport:  fixedTransport{err: boom},
		OnMismatch: mm.hook,
	})
	_, err := c.CreateAsync(context.Background(), participant.CreateOptions{})
	require.NoError(t, err)
	c.Wait()

	errs := mm.all()
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], boom)
}

func TestSyncRecoversFromError(t *testing.T) {
	f := newFixture(t, "A", "X")
	_, err := f.client("X", "", nil).Create(f.ctx, participant.CreateOptions{GameID: "G", Seat: &white})
	require.NoError(t, err)

	var mm mismatches
	a := f.client("A", "G", mm.hook)
	_, err = a.JoinAsync(f.ctx, white)
	require.NoError(t, err)
	a.Wait()
	require.Equal(t, protocol.StatusError, a.State().Status)

	st, err := a.Sync(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, protocol.StatusAwait, st.Status)
}

func TestAwaitRejectionRefreshesView(t *testing.T) {
	f := newFixture(t, "A", "B")
	a := f.client("A", "", nil)
	_, err := a.Create(f.ctx, participant.CreateOptions{GameID: "G", Seat: &white})
	require.NoError(t, err)
	b := f.client("B", "G", nil)
	_, err = b.Join(f.ctx, black)
	require.NoError(t, err)
	_, err = a.Sync(f.ctx)
	require.NoError(t, err)

	_, err = b.Leave(f.ctx)
	require.NoError(t, err)

	st, err := a.Move(f.ctx, protocol.Move{From: "e2", To: "e4"})
	var rerr *protocol.ResponseError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, protocol.MsgNotPlayable(protocol.StatusAwait), rerr.Message)
	assert.Equal(t, protocol.RecommendSync, rerr.Recommend)
	assert.Equal(t, protocol.StatusAwait, st.Status)
	assert.Equal(t, rules.InitialPosition, st.Position)
	assert.Equal(t, protocol.SideFirst, st.Side, "identity survives a rejection")
}
