package participant

import (
	"context"

	"badma/internal/protocol"
)

// CreateOptions configures Create. A zero GameID lets the participant pick
// one; a nil Seat creates the game without occupying it.
type CreateOptions struct {
	GameID string
	JoinID string
	Seat   *Seat
}

// Create asks the coordinator for a new game and applies the answer.
func (c *Client) Create(ctx context.Context, opts CreateOptions) (State, error) {
	c.mu.Lock()
	if err := c.checkCreate(); err != nil {
		c.mu.Unlock()
		return State{}, err
	}
	req := c.request(protocol.OpCreate)
	req.GameID = opts.GameID
	if req.GameID == "" {
		req.GameID = c.newID()
	}
	if opts.Seat != nil {
		req.Side = protocol.SideOf(opts.Seat.Side)
		req.Role = protocol.RoleOf(opts.Seat.Role)
		req.JoinID = opts.JoinID
	}
	c.mu.Unlock()

	return c.roundTrip(ctx, req)
}

// Join occupies seat in the participant's game.
func (c *Client) Join(ctx context.Context, seat Seat) (State, error) {
	c.mu.Lock()
	if err := c.checkJoin(); err != nil {
		c.mu.Unlock()
		return State{}, err
	}
	req := c.request(protocol.OpJoin)
	req.Side = protocol.SideOf(seat.Side)
	req.Role = protocol.RoleOf(seat.Role)
	c.mu.Unlock()

	return c.roundTrip(ctx, req)
}

// Leave gives up the current join. On success the seat is empty again:
// side 0, role Anonymous, no joinId, and LeaveID holds the leave record.
// The client may Join again while the game is in await.
func (c *Client) Leave(ctx context.Context) (State, error) {
	c.mu.Lock()
	if err := c.checkLeave(); err != nil {
		c.mu.Unlock()
		return State{}, err
	}
	req := c.request(protocol.OpLeave)
	c.mu.Unlock()

	return c.roundTrip(ctx, req)
}

// Move validates m against a scratch engine, sends it and applies the
// authoritative position once confirmed. A move the local engine rejects
// never reaches the network.
func (c *Client) Move(ctx context.Context, m protocol.Move) (State, error) {
	c.mu.Lock()
	if err := c.checkMove(); err != nil {
		c.mu.Unlock()
		return State{}, err
	}
	scratch := c.newEngine()
	if err := seed(scratch, c.position, c.moves); err != nil {
		c.mu.Unlock()
		return State{}, err
	}
	if err := scratch.ApplyMove(m, c.side); err != nil {
		c.mu.Unlock()
		return State{}, err
	}
	req := c.request(protocol.OpMove)
	req.Side = protocol.SideOf(c.side)
	req.Role = protocol.RoleOf(c.role)
	req.Move = &m
	c.mu.Unlock()

	return c.roundTrip(ctx, req)
}

// Sync fetches the authoritative view and adopts it, clearing a previous
// reconciliation error.
func (c *Client) Sync(ctx context.Context) (State, error) {
	c.mu.Lock()
	if err := c.checkIdentity(); err != nil {
		c.mu.Unlock()
		return State{}, err
	}
	if c.gameID == "" {
		c.mu.Unlock()
		return State{}, ErrNoGameID
	}
	req := c.request(protocol.OpSync)
	c.mu.Unlock()

	return c.roundTrip(ctx, req)
}

// roundTrip sends req, waits, and applies the response. A rejection that
// carries data still refreshes the shared view so the caller is not left
// guessing.
func (c *Client) roundTrip(ctx context.Context, req protocol.Request) (State, error) {
	if c.transport == nil {
		return State{}, ErrNoTransport
	}
	resp, err := c.transport.Do(ctx, req)
	if err != nil {
		return c.State(), err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := resp.Err(); err != nil {
		if resp.Data != nil && resp.Data.GameID == c.gameID {
			c.adoptLocked(resp.Data, false)
		}
		return c.stateLocked(), err
	}
	c.adoptLocked(resp.Data, true)
	if req.Operation == protocol.OpLeave {
		c.vacateLocked()
	}
	c.version++
	return c.stateLocked(), nil
}
