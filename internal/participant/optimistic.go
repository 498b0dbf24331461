package participant

import (
	"context"
	"errors"
	"fmt"

	"badma/internal/protocol"
)

// MismatchError reports a field where the coordinator's answer differs from
// what an Async operation had already committed locally.
type MismatchError struct {
	Operation protocol.Operation
	Field     string
	Local     any
	Remote    any
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("%s: %s mismatch: local=%v remote=%v", e.Operation, e.Field, e.Local, e.Remote)
}

var errEmptyResponse = errors.New("response carries no data")

// expectation compares committed fields against the authoritative data.
type expectation func(d *protocol.Data) []*MismatchError

// CreateAsync commits a new game locally and returns immediately.
func (c *Client) CreateAsync(ctx context.Context, opts CreateOptions) (State, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkCreate(); err != nil {
		return State{}, err
	}
	if c.transport == nil {
		return State{}, ErrNoTransport
	}
	if err := c.engine.SetPosition(c.newEngine().Position()); err != nil {
		return State{}, err
	}

	now := c.now()
	c.gameID = opts.GameID
	if c.gameID == "" {
		c.gameID = c.newID()
	}
	c.position = c.engine.Position()
	c.status = protocol.StatusAwait
	c.moves = nil
	c.createdAt = now
	c.updatedAt = now
	if opts.Seat != nil {
		c.joinID = opts.JoinID
		if c.joinID == "" {
			c.joinID = c.newID()
		}
		c.side = opts.Seat.Side
		c.role = opts.Seat.Role
	}
	c.version++

	req := c.request(protocol.OpCreate)
	if opts.Seat != nil {
		req.Side = protocol.SideOf(c.side)
		req.Role = protocol.RoleOf(c.role)
	} else {
		req.JoinID = ""
	}
	committed := c.stateLocked()
	c.dispatch(ctx, req, c.version, func(d *protocol.Data) []*MismatchError {
		out := compare(protocol.OpCreate, nil, "gameId", committed.GameID, d.GameID)
		out = compare(protocol.OpCreate, out, "status", committed.Status, d.Status)
		if opts.Seat != nil {
			out = compare(protocol.OpCreate, out, "joinId", committed.JoinID, d.JoinID)
			out = compareSeat(protocol.OpCreate, out, committed, d)
		}
		return out
	})
	return committed, nil
}

// JoinAsync commits seat locally and returns immediately. The resulting
// status is not predicted; the coordinator's value is adopted.
func (c *Client) JoinAsync(ctx context.Context, seat Seat) (State, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkJoin(); err != nil {
		return State{}, err
	}
	if c.transport == nil {
		return State{}, ErrNoTransport
	}

	c.joinID = c.newID()
	c.side = seat.Side
	c.role = seat.Role
	c.updatedAt = c.now()
	c.version++

	req := c.request(protocol.OpJoin)
	req.Side = protocol.SideOf(seat.Side)
	req.Role = protocol.RoleOf(seat.Role)
	committed := c.stateLocked()
	c.dispatch(ctx, req, c.version, func(d *protocol.Data) []*MismatchError {
		out := compare(protocol.OpJoin, nil, "gameId", committed.GameID, d.GameID)
		out = compare(protocol.OpJoin, out, "joinId", committed.JoinID, d.JoinID)
		return compareSeat(protocol.OpJoin, out, committed, d)
	})
	return committed, nil
}

// LeaveAsync commits the departure locally, including the predicted
// status change, and returns immediately.
func (c *Client) LeaveAsync(ctx context.Context) (State, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkLeave(); err != nil {
		return State{}, err
	}
	if c.transport == nil {
		return State{}, ErrNoTransport
	}

	req := c.request(protocol.OpLeave)
	c.status = protocol.AfterLeave(c.status, c.side, c.role)
	c.side = protocol.SideNone
	c.role = protocol.RoleAnonymous
	c.joinID = ""
	c.updatedAt = c.now()
	c.version++

	committed := c.stateLocked()
	c.dispatch(ctx, req, c.version, func(d *protocol.Data) []*MismatchError {
		out := compareSeat(protocol.OpLeave, nil, committed, d)
		return compare(protocol.OpLeave, out, "status", committed.Status, d.Status)
	})
	return committed, nil
}

// MoveAsync applies m to the local engine, returns the new position at
// once and confirms it in the background. A move the local engine rejects
// fails here with no network call.
func (c *Client) MoveAsync(ctx context.Context, m protocol.Move) (State, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkMove(); err != nil {
		return State{}, err
	}
	if c.transport == nil {
		return State{}, ErrNoTransport
	}

	req := c.request(protocol.OpMove)
	req.Side = protocol.SideOf(c.side)
	req.Role = protocol.RoleOf(c.role)
	req.Move = &m
	if err := c.applyMoveLocked(m); err != nil {
		return State{}, err
	}

	committed := c.stateLocked()
	c.dispatch(ctx, req, c.version, func(d *protocol.Data) []*MismatchError {
		out := compare(protocol.OpMove, nil, "position", committed.Position, d.Position)
		return compare(protocol.OpMove, out, "status", committed.Status, d.Status)
	})
	return committed, nil
}

// dispatch performs the round trip in the background. It must be called
// with c.mu held; the goroutine takes the lock itself once the response
// arrives.
func (c *Client) dispatch(ctx context.Context, req protocol.Request, version uint64, expect expectation) {
	ctx = context.WithoutCancel(ctx)
	c.inflight.Add(1)
	go func() {
		defer c.inflight.Done()

		resp, err := c.transport.Do(ctx, req)
		if err == nil {
			err = resp.Err()
		}
		if err == nil && resp.Data == nil {
			err = errEmptyResponse
		}
		if err != nil {
			c.mu.Lock()
			c.status = protocol.StatusError
			c.mu.Unlock()
			c.report(req.Operation, err)
			return
		}

		mismatches := expect(resp.Data)

		c.mu.Lock()
		if len(mismatches) > 0 {
			c.status = protocol.StatusError
		} else if c.version == version {
			// Nothing newer was committed meanwhile; take the fields the
			// optimistic path could not know, like timestamps.
			c.adoptLocked(resp.Data, true)
			if req.Operation == protocol.OpLeave {
				c.vacateLocked()
			}
		}
		c.mu.Unlock()

		for _, m := range mismatches {
			c.report(req.Operation, m)
		}
	}()
}

func compare[T comparable](op protocol.Operation, out []*MismatchError, field string, local, remote T) []*MismatchError {
	if local == remote {
		return out
	}
	return append(out, &MismatchError{Operation: op, Field: field, Local: local, Remote: remote})
}

func compareSeat(op protocol.Operation, out []*MismatchError, st State, d *protocol.Data) []*MismatchError {
	side, role := protocol.SideNone, protocol.RoleAnonymous
	if d.Side != nil {
		side = *d.Side
	}
	if d.Role != nil {
		role = *d.Role
	}
	out = compare(op, out, "side", st.Side, side)
	return compare(op, out, "role", st.Role, role)
}
