package coordinator

import (
	"context"
	"errors"
	"fmt"

	"badma/internal/participant"
	"badma/internal/protocol"
)

func (s *Server) create(ctx context.Context, b Backend, req protocol.Request) (protocol.Response, error) {
	if req.UserID == "" {
		return s.reject(req, "!userId"), nil
	}
	known, err := b.UserExists(ctx, req.UserID)
	if err != nil {
		return protocol.Response{}, fmt.Errorf("user exists %s: %w", req.UserID, err)
	}
	if !known {
		if err := b.AddUser(ctx, req.UserID); err != nil {
			return protocol.Response{}, fmt.Errorf("add user %s: %w", req.UserID, err)
		}
	}

	exists, err := b.GameExists(ctx, req.GameID)
	if err != nil {
		return protocol.Response{}, fmt.Errorf("game exists %s: %w", req.GameID, err)
	}
	if exists {
		return s.reject(req, protocol.MsgGameExists(req.GameID)), nil
	}

	now := s.now()
	game := GameRecord{
		ID:         req.GameID,
		HostUserID: req.UserID,
		Position:   s.engines().Position(),
		Status:     protocol.StatusAwait,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := b.CreateGame(ctx, game); err != nil {
		if errors.Is(err, ErrExists) {
			return s.reject(req, protocol.MsgGameExists(req.GameID)), nil
		}
		return protocol.Response{}, fmt.Errorf("create game %s: %w", req.GameID, err)
	}

	if req.Side == nil || req.Role == nil {
		d, err := s.data(ctx, b, req.ClientID, &game, nil)
		if err != nil {
			return protocol.Response{}, err
		}
		return protocol.Response{Data: d}, nil
	}

	resp, err := s.join(ctx, b, req)
	if err != nil || !resp.OK() {
		if delErr := b.DeleteGame(ctx, game.ID); delErr != nil {
			return protocol.Response{}, errors.Join(err, fmt.Errorf("rollback game %s: %w", game.ID, delErr))
		}
	}
	return resp, err
}

func (s *Server) join(ctx context.Context, b Backend, req protocol.Request) (protocol.Response, error) {
	game, msg, err := s.loadGame(ctx, b, req)
	if err != nil {
		return protocol.Response{}, err
	}
	if msg != "" {
		return s.reject(req, msg), nil
	}

	side, role := protocol.SideNone, protocol.RoleAnonymous
	if req.Side != nil {
		side = *req.Side
	}
	if req.Role != nil {
		role = *req.Role
	}
	if !side.Valid() {
		return s.reject(req, protocol.MsgInvalidSide(side)), nil
	}
	if !role.Valid() {
		return s.reject(req, protocol.MsgInvalidRole(role)), nil
	}
	if role == protocol.RolePlayer && side == protocol.SideNone {
		return s.reject(req, protocol.MsgPlayerNeedsSide), nil
	}

	mine, err := b.LatestActivePlayerByUser(ctx, game.ID, req.UserID)
	if err != nil {
		return protocol.Response{}, fmt.Errorf("latest join by user: %w", err)
	}
	if mine != nil {
		return s.reject(req, protocol.MsgUserAlreadyPlayer), nil
	}
	if side != protocol.SideNone {
		taken, err := b.LatestActivePlayerBySide(ctx, game.ID, side)
		if err != nil {
			return protocol.Response{}, fmt.Errorf("latest join by side: %w", err)
		}
		if taken != nil {
			return s.reject(req, protocol.MsgSideTaken(side)), nil
		}
	}
	if role == protocol.RolePlayer && game.Status != protocol.StatusAwait {
		return s.reject(req, protocol.MsgNotJoinable(game.Status)), nil
	}
	if game.Status.Terminal() {
		return s.reject(req, protocol.MsgNotJoinable(game.Status)), nil
	}

	joinID := req.JoinID
	if joinID == "" {
		joinID = s.newID()
	} else {
		used, err := b.JoinExists(ctx, joinID)
		if err != nil {
			return protocol.Response{}, fmt.Errorf("join exists %s: %w", joinID, err)
		}
		if used {
			return s.reject(req, protocol.MsgJoinExists(joinID)), nil
		}
	}

	now := s.now()
	rec, err := b.AppendJoin(ctx, JoinRecord{
		JoinID:        joinID,
		GameID:        game.ID,
		UserID:        req.UserID,
		Side:          side,
		Role:          role,
		ConnectionRef: req.ClientID,
		CreatedAt:     now,
		UpdatedAt:     now,
	})
	if err != nil {
		return protocol.Response{}, fmt.Errorf("append join %s: %w", joinID, err)
	}

	if role == protocol.RolePlayer && game.Status == protocol.StatusAwait {
		joins, err := b.ListJoins(ctx, game.ID)
		if err != nil {
			return protocol.Response{}, fmt.Errorf("list joins %s: %w", game.ID, err)
		}
		if countActivePlayers(joins) == 2 {
			if err := s.advance(ctx, b, game, protocol.StatusReady); err != nil {
				return protocol.Response{}, err
			}
		}
	}

	d, err := s.data(ctx, b, req.ClientID, game, &rec)
	if err != nil {
		return protocol.Response{}, err
	}
	return protocol.Response{Data: d}, nil
}

func (s *Server) leave(ctx context.Context, b Backend, req protocol.Request) (protocol.Response, error) {
	game, msg, err := s.loadGame(ctx, b, req)
	if err != nil {
		return protocol.Response{}, err
	}
	if msg != "" {
		return s.reject(req, msg), nil
	}

	rec, err := b.FindActiveJoin(ctx, req.JoinID, req.UserID)
	if err != nil {
		return protocol.Response{}, fmt.Errorf("find join %s: %w", req.JoinID, err)
	}
	if rec == nil || rec.GameID != game.ID {
		return s.reject(req, protocol.MsgLeaveJoinNotFound), nil
	}

	now := s.now()
	leaveRec, err := b.AppendJoin(ctx, JoinRecord{
		JoinID:    s.newID(),
		GameID:    game.ID,
		UserID:    req.UserID,
		Side:      protocol.SideNone,
		Role:      protocol.RoleAnonymous,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		return protocol.Response{}, fmt.Errorf("append leave for %s: %w", rec.JoinID, err)
	}
	if err := b.ClearConnection(ctx, rec.JoinID); err != nil {
		return protocol.Response{}, fmt.Errorf("clear connection %s: %w", rec.JoinID, err)
	}

	if next := protocol.AfterLeave(game.Status, rec.Side, rec.Role); next != game.Status {
		if err := s.advance(ctx, b, game, next); err != nil {
			return protocol.Response{}, err
		}
	}

	d, err := s.data(ctx, b, req.ClientID, game, &leaveRec)
	if err != nil {
		return protocol.Response{}, err
	}
	return protocol.Response{Data: d}, nil
}

func (s *Server) move(ctx context.Context, b Backend, req protocol.Request) (protocol.Response, error) {
	if req.Move == nil {
		return s.reject(req, protocol.MsgMissingMove), nil
	}
	game, msg, err := s.loadGame(ctx, b, req)
	if err != nil {
		return protocol.Response{}, err
	}
	if msg != "" {
		return s.reject(req, msg), nil
	}

	current, err := s.data(ctx, b, req.ClientID, game, nil)
	if err != nil {
		return protocol.Response{}, err
	}
	if !game.Status.Playable() {
		return s.rejectStale(protocol.MsgNotPlayable(game.Status), current), nil
	}

	rec, err := b.FindActiveJoin(ctx, req.JoinID, req.UserID)
	if err != nil {
		return protocol.Response{}, fmt.Errorf("find join %s: %w", req.JoinID, err)
	}
	if rec == nil || rec.GameID != game.ID {
		return s.rejectStale(protocol.MsgMoveJoinNotFound, current), nil
	}
	if (req.Side != nil && *req.Side != rec.Side) || (req.Role != nil && *req.Role != rec.Role) {
		return s.rejectStale(protocol.MsgMoveJoinMismatch, current), nil
	}
	if rec.Role != protocol.RolePlayer {
		return s.rejectStale(protocol.MsgMoveNotPlayer, current), nil
	}

	// The move is evaluated on a throwaway participant that replays the
	// stored moves; nothing is shared between requests.
	sim := participant.New(participant.Options{
		ClientID: req.ClientID,
		UserID:   req.UserID,
		GameID:   game.ID,
		Engine:   s.engines,
		Logger:   s.logger,
		Now:      s.now,
	})
	if err := sim.Restore(participant.State{
		ClientID: req.ClientID,
		UserID:   req.UserID,
		GameID:   game.ID,
		JoinID:   rec.JoinID,
		Side:     rec.Side,
		Role:     rec.Role,
		Position: game.Position,
		Status:   game.Status,
		Moves:    current.Moves,
	}); err != nil {
		return protocol.Response{}, fmt.Errorf("restore game %s: %w", game.ID, err)
	}
	st, err := sim.Simulate(*req.Move)
	if err != nil {
		return s.rejectStale(err.Error(), current), nil
	}

	if game.Status == protocol.StatusReady {
		// First move starts play before the engine's verdict is applied.
		game.Status = protocol.StatusContinue
	}
	game.Position = st.Position
	if err := s.advance(ctx, b, game, st.Status); err != nil {
		return protocol.Response{}, err
	}
	if err := b.AppendMove(ctx, MoveRecord{
		GameID:    game.ID,
		UserID:    req.UserID,
		Number:    len(current.Moves) + 1,
		UCI:       req.Move.UCI(),
		Side:      rec.Side,
		FENAfter:  st.Position,
		CreatedAt: game.UpdatedAt,
	}); err != nil {
		return protocol.Response{}, fmt.Errorf("append move %s: %w", game.ID, err)
	}

	d, err := s.data(ctx, b, req.ClientID, game, rec)
	if err != nil {
		return protocol.Response{}, err
	}
	return protocol.Response{Data: d}, nil
}

func (s *Server) sync(ctx context.Context, b Backend, req protocol.Request) (protocol.Response, error) {
	if req.GameID == "" {
		return s.reject(req, "!gameId"), nil
	}
	game, err := b.GetGame(ctx, req.GameID)
	if err != nil {
		return protocol.Response{}, fmt.Errorf("get game %s: %w", req.GameID, err)
	}
	if game == nil {
		return s.reject(req, protocol.MsgUnknownGame), nil
	}

	var rec *JoinRecord
	if req.JoinID != "" {
		joins, err := b.ListJoins(ctx, game.ID)
		if err != nil {
			return protocol.Response{}, fmt.Errorf("list joins %s: %w", game.ID, err)
		}
		for i := range joins {
			if joins[i].JoinID == req.JoinID && joins[i].UserID == req.UserID {
				rec = &joins[i]
				break
			}
		}
	}

	d, err := s.data(ctx, b, req.ClientID, game, rec)
	if err != nil {
		return protocol.Response{}, err
	}
	return protocol.Response{Data: d}, nil
}

func countActivePlayers(joins []JoinRecord) int {
	n := 0
	for _, j := range joins {
		if j.ActivePlayer() {
			n++
		}
	}
	return n
}
