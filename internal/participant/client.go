// Package participant holds one connection's view of one match and keeps
// it in step with the coordinator.
//
// Every operation exists in two calling conventions. The plain form
// (Create, Join, Leave, Move) waits for the coordinator and then applies
// its authoritative answer. The Async form commits the expected outcome
// locally first, returns it at once, and reconciles in the background;
// divergence is reported through the MismatchHandler and never rolled back.
package participant

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"badma/internal/protocol"
	"badma/internal/rules"
)

// Precondition errors. Each names exactly what was missing or unexpected.
var (
	ErrNoClientID   = errors.New("!clientId")
	ErrNoUserID     = errors.New("!userId")
	ErrNoGameID     = errors.New("!gameId")
	ErrHasGameID    = errors.New("!!gameId")
	ErrNoJoinID     = errors.New("!joinId")
	ErrHasJoinID    = errors.New("!!joinId")
	ErrSideAssigned = errors.New("side!=undefined")
	ErrNoSide       = errors.New("side==0")
	ErrAnonymous    = errors.New("role==Anonymous")
	ErrNotAwait     = errors.New("status!=await")
	ErrNotLeavable  = errors.New("status!~await|ready|continue")
	ErrNotPlayable  = errors.New("status!~ready|continue")
	ErrNoTransport  = errors.New("!transport")
)

// Transport carries a request to the coordinator and returns its response.
// A non-nil error means the round trip itself failed.
type Transport interface {
	Do(ctx context.Context, req protocol.Request) (protocol.Response, error)
}

// MismatchHandler receives reconciliation failures of Async operations:
// a *MismatchError, a *protocol.ResponseError or a transport error.
type MismatchHandler func(op protocol.Operation, err error)

// Seat is the side and role requested when joining.
type Seat struct {
	Side protocol.Side
	Role protocol.Role
}

// State is a snapshot of the participant's view.
type State struct {
	ClientID  string
	UserID    string
	GameID    string
	JoinID    string
	LeaveID   string // leave record that ended the last seat
	Side      protocol.Side
	Role      protocol.Role
	Position  string
	Status    protocol.Status
	Moves     []string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Options struct {
	ClientID   string
	UserID     string
	GameID     string
	Transport  Transport
	Engine     rules.Factory
	OnMismatch MismatchHandler
	Logger     *zap.Logger
	Now        func() time.Time
	NewID      func() string
}

// Client is a Session Participant.
type Client struct {
	mu sync.Mutex

	clientID  string
	userID    string
	gameID    string
	joinID    string
	leaveID   string
	side      protocol.Side
	role      protocol.Role
	position  string
	status    protocol.Status
	moves     []string
	createdAt time.Time
	updatedAt time.Time

	// version increments on every optimistic commit so a late response
	// does not overwrite a newer local view.
	version uint64

	engine     rules.Engine
	newEngine  rules.Factory
	transport  Transport
	onMismatch MismatchHandler
	logger     *zap.Logger
	now        func() time.Time
	newID      func() string

	inflight sync.WaitGroup
}

// New creates a participant in status await at the initial position.
func New(opts Options) *Client {
	c := &Client{
		clientID:   opts.ClientID,
		userID:     opts.UserID,
		gameID:     opts.GameID,
		status:     protocol.StatusAwait,
		newEngine:  opts.Engine,
		transport:  opts.Transport,
		onMismatch: opts.OnMismatch,
		logger:     opts.Logger,
		now:        opts.Now,
		newID:      opts.NewID,
	}
	if c.newEngine == nil {
		c.newEngine = rules.NewEngine
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.newID == nil {
		c.newID = uuid.NewString
	}
	c.engine = c.newEngine()
	c.position = c.engine.Position()
	return c
}

// State returns a snapshot of the current view.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked()
}

func (c *Client) stateLocked() State {
	moves := make([]string, len(c.moves))
	copy(moves, c.moves)
	return State{
		ClientID:  c.clientID,
		UserID:    c.userID,
		GameID:    c.gameID,
		JoinID:    c.joinID,
		LeaveID:   c.leaveID,
		Side:      c.side,
		Role:      c.role,
		Position:  c.position,
		Status:    c.status,
		Moves:     moves,
		CreatedAt: c.createdAt,
		UpdatedAt: c.updatedAt,
	}
}

// Restore replaces the whole view. The engine is rebuilt by replaying
// st.Moves when there are any, so repetition is judged on the full history.
func (c *Client) Restore(st State) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := seed(c.engine, st.Position, st.Moves); err != nil {
		return err
	}
	c.clientID = st.ClientID
	c.userID = st.UserID
	c.gameID = st.GameID
	c.joinID = st.JoinID
	c.leaveID = st.LeaveID
	c.side = st.Side
	c.role = st.Role
	c.position = c.engine.Position()
	c.status = st.Status
	c.moves = append([]string(nil), st.Moves...)
	c.createdAt = st.CreatedAt
	c.updatedAt = st.UpdatedAt
	c.version++
	return nil
}

// Wait blocks until every in-flight Async round trip has been reconciled.
func (c *Client) Wait() {
	c.inflight.Wait()
}

func (c *Client) checkIdentity() error {
	if c.clientID == "" {
		return ErrNoClientID
	}
	if c.userID == "" {
		return ErrNoUserID
	}
	return nil
}

func (c *Client) checkCreate() error {
	if err := c.checkIdentity(); err != nil {
		return err
	}
	if c.gameID != "" {
		return ErrHasGameID
	}
	return nil
}

func (c *Client) checkJoin() error {
	if err := c.checkIdentity(); err != nil {
		return err
	}
	if c.gameID == "" {
		return ErrNoGameID
	}
	if c.joinID != "" {
		return ErrHasJoinID
	}
	if c.side != protocol.SideNone {
		return ErrSideAssigned
	}
	if c.status != protocol.StatusAwait {
		return ErrNotAwait
	}
	return nil
}

func (c *Client) checkLeave() error {
	if err := c.checkIdentity(); err != nil {
		return err
	}
	if c.gameID == "" {
		return ErrNoGameID
	}
	if c.joinID == "" {
		return ErrNoJoinID
	}
	if c.role == protocol.RoleAnonymous {
		return ErrAnonymous
	}
	if !c.status.Leavable() {
		return ErrNotLeavable
	}
	return nil
}

func (c *Client) checkMove() error {
	if err := c.checkIdentity(); err != nil {
		return err
	}
	if c.gameID == "" {
		return ErrNoGameID
	}
	if c.joinID == "" {
		return ErrNoJoinID
	}
	if c.side == protocol.SideNone {
		return ErrNoSide
	}
	if c.role == protocol.RoleAnonymous {
		return ErrAnonymous
	}
	if !c.status.Playable() {
		return ErrNotPlayable
	}
	return nil
}

func (c *Client) request(op protocol.Operation) protocol.Request {
	return protocol.Request{
		Operation: op,
		ClientID:  c.clientID,
		UserID:    c.userID,
		GameID:    c.gameID,
		JoinID:    c.joinID,
		UpdatedAt: protocol.Millis(c.updatedAt),
		CreatedAt: protocol.Millis(c.createdAt),
	}
}

// Simulate validates and applies m to the local view without contacting
// the coordinator. The coordinator uses it to evaluate moves.
func (c *Client) Simulate(m protocol.Move) (State, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkMove(); err != nil {
		return State{}, err
	}
	if err := c.applyMoveLocked(m); err != nil {
		return State{}, err
	}
	return c.stateLocked(), nil
}

// applyMoveLocked runs m through the engine and commits the result.
func (c *Client) applyMoveLocked(m protocol.Move) error {
	if err := c.engine.ApplyMove(m, c.side); err != nil {
		return err
	}
	c.position = c.engine.Position()
	c.status = c.engine.Status()
	c.moves = append(c.moves, m.UCI())
	c.updatedAt = c.now()
	c.version++
	return nil
}

// adoptLocked copies the authoritative view from d. Identity fields are
// copied only when identity is true.
func (c *Client) adoptLocked(d *protocol.Data, identity bool) {
	if d == nil {
		return
	}
	if identity {
		if d.GameID != "" {
			c.gameID = d.GameID
		}
		if d.JoinID != "" {
			c.joinID = d.JoinID
		}
		if d.Side != nil {
			c.side = *d.Side
		}
		if d.Role != nil {
			c.role = *d.Role
		}
	}
	if d.Position != "" || len(d.Moves) > 0 {
		if err := seed(c.engine, d.Position, d.Moves); err != nil {
			c.logger.Warn("authoritative position rejected by engine",
				zap.String("game_id", d.GameID), zap.String("position", d.Position), zap.Error(err))
		} else {
			c.position = c.engine.Position()
		}
	}
	if d.Status != "" {
		c.status = d.Status
	}
	if d.Moves != nil {
		c.moves = append([]string(nil), d.Moves...)
	}
	c.createdAt = protocol.Time(d.CreatedAt)
	c.updatedAt = protocol.Time(d.UpdatedAt)
}

// vacateLocked moves the adopted leave record out of the seat so the
// client can join again.
func (c *Client) vacateLocked() {
	if c.joinID != "" {
		c.leaveID = c.joinID
	}
	c.joinID = ""
}

// seed positions e from the move history, falling back to the bare
// position for a game without moves.
func seed(e rules.Engine, position string, moves []string) error {
	if len(moves) > 0 {
		return e.Replay(moves)
	}
	if position == "" {
		position = rules.InitialPosition
	}
	return e.SetPosition(position)
}

func (c *Client) report(op protocol.Operation, err error) {
	if c.onMismatch != nil {
		c.onMismatch(op, err)
		return
	}
	c.logger.Warn("reconciliation failed",
		zap.String("operation", string(op)), zap.String("client_id", c.clientID), zap.Error(err))
}
