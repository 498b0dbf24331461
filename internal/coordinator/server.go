// Package coordinator is the authoritative side of the session protocol.
// It validates every request against the Backend ledger, decides the
// outcome and answers with a Response. Rejections are data, never panics.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"badma/internal/protocol"
	"badma/internal/rules"
)

var errIllegalTransition = errors.New("illegal lifecycle transition")

// Server is the Session Coordinator.
type Server struct {
	backend   Backend
	engines   rules.Factory
	publisher Publisher
	logger    *zap.Logger
	now       func() time.Time
	newID     func() string
}

type Option func(*Server)

func WithPublisher(p Publisher) Option { return func(s *Server) { s.publisher = p } }
func WithLogger(l *zap.Logger) Option  { return func(s *Server) { s.logger = l } }
func WithEngine(f rules.Factory) Option {
	return func(s *Server) { s.engines = f }
}

// WithClock overrides time.Now, mostly for tests.
func WithClock(now func() time.Time) Option { return func(s *Server) { s.now = now } }

// WithIDs overrides identifier generation.
func WithIDs(newID func() string) Option { return func(s *Server) { s.newID = newID } }

// New builds a coordinator over backend.
func New(backend Backend, opts ...Option) *Server {
	s := &Server{
		backend: backend,
		engines: rules.NewEngine,
		logger:  zap.NewNop(),
		now:     time.Now,
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Do makes the coordinator usable as an in-process participant transport.
func (s *Server) Do(ctx context.Context, req protocol.Request) (protocol.Response, error) {
	return s.Handle(ctx, req), nil
}

// Handle answers one request.
func (s *Server) Handle(ctx context.Context, req protocol.Request) protocol.Response {
	if req.ClientID == "" {
		return s.reject(req, "!clientId")
	}
	switch req.Operation {
	case protocol.OpCreate:
		return s.mutate(ctx, req, s.create)
	case protocol.OpJoin:
		return s.mutate(ctx, req, s.join)
	case protocol.OpLeave:
		return s.mutate(ctx, req, s.leave)
	case protocol.OpMove:
		return s.mutate(ctx, req, s.move)
	case protocol.OpSync:
		resp, err := s.sync(ctx, s.backend, req)
		if err != nil {
			return s.internal(req, err)
		}
		return resp
	}
	return s.reject(req, protocol.MsgUnknownOperation(req.Operation))
}

type handlerFunc func(ctx context.Context, b Backend, req protocol.Request) (protocol.Response, error)

// mutate runs h serialized per game and publishes the outcome.
func (s *Server) mutate(ctx context.Context, req protocol.Request, h handlerFunc) protocol.Response {
	if req.Operation == protocol.OpCreate && req.GameID == "" {
		req.GameID = s.newID()
	}
	if req.GameID == "" {
		return s.reject(req, "!gameId")
	}

	var resp protocol.Response
	err := s.backend.Atomic(ctx, req.GameID, func(b Backend) error {
		var err error
		resp, err = h(ctx, b, req)
		return err
	})
	if err != nil {
		return s.internal(req, err)
	}
	if !resp.OK() {
		s.logger.Debug("request rejected",
			zap.String("operation", string(req.Operation)),
			zap.String("game_id", req.GameID),
			zap.String("user_id", req.UserID),
			zap.String("error", resp.Error))
		return resp
	}
	s.publish(resp.Data)
	return resp
}

// Disconnect leaves every active join held by the connection clientID.
func (s *Server) Disconnect(ctx context.Context, clientID string) error {
	joins, err := s.backend.ActiveJoinsByConnection(ctx, clientID)
	if err != nil {
		return fmt.Errorf("coordinator.Disconnect: %w", err)
	}
	var errs []error
	for _, j := range joins {
		resp := s.Handle(ctx, protocol.Request{
			Operation: protocol.OpLeave,
			ClientID:  clientID,
			UserID:    j.UserID,
			GameID:    j.GameID,
			JoinID:    j.JoinID,
		})
		if !resp.OK() {
			errs = append(errs, fmt.Errorf("leave %s: %s", j.JoinID, resp.Error))
		}
	}
	return errors.Join(errs...)
}

func (s *Server) reject(req protocol.Request, msg string) protocol.Response {
	return protocol.Response{Error: msg}
}

// rejectStale rejects and hands back the unchanged authoritative view.
func (s *Server) rejectStale(msg string, data *protocol.Data) protocol.Response {
	return protocol.Response{Error: msg, Recommend: protocol.RecommendSync, Data: data}
}

func (s *Server) internal(req protocol.Request, err error) protocol.Response {
	s.logger.Error("internal error",
		zap.String("operation", string(req.Operation)),
		zap.String("game_id", req.GameID),
		zap.String("user_id", req.UserID),
		zap.String("join_id", req.JoinID),
		zap.Error(err))
	return protocol.Response{Error: protocol.MsgInternal}
}

func (s *Server) publish(d *protocol.Data) {
	if s.publisher == nil || d == nil {
		return
	}
	view := *d
	view.ClientID = ""
	view.JoinID = ""
	view.Side = nil
	view.Role = nil
	s.publisher.Publish(d.GameID, view)
}

// advance moves game to status, enforcing the lifecycle graph, and writes
// it back with a fresh updatedAt.
func (s *Server) advance(ctx context.Context, b Backend, game *GameRecord, to protocol.Status) error {
	if !protocol.CanTransition(game.Status, to) {
		return fmt.Errorf("%w: game %s %s -> %s", errIllegalTransition, game.ID, game.Status, to)
	}
	game.Status = to
	game.UpdatedAt = s.now()
	if err := b.UpdateGame(ctx, *game); err != nil {
		return fmt.Errorf("update game %s: %w", game.ID, err)
	}
	return nil
}

// data renders the authoritative view of game, and of rec when given.
func (s *Server) data(ctx context.Context, b Backend, clientID string, game *GameRecord, rec *JoinRecord) (*protocol.Data, error) {
	moves, err := b.ListMoves(ctx, game.ID)
	if err != nil {
		return nil, fmt.Errorf("list moves %s: %w", game.ID, err)
	}
	d := &protocol.Data{
		ClientID:  clientID,
		GameID:    game.ID,
		Position:  game.Position,
		Status:    game.Status,
		Moves:     make([]string, 0, len(moves)),
		UpdatedAt: protocol.Millis(game.UpdatedAt),
		CreatedAt: protocol.Millis(game.CreatedAt),
	}
	for _, m := range moves {
		d.Moves = append(d.Moves, m.UCI)
	}
	if rec != nil {
		d.JoinID = rec.JoinID
		d.Side = protocol.SideOf(rec.Side)
		d.Role = protocol.RoleOf(rec.Role)
	}
	return d, nil
}

// loadGame resolves the user and game every operation but create needs.
// A nil game with an empty message means an internal error occurred.
func (s *Server) loadGame(ctx context.Context, b Backend, req protocol.Request) (*GameRecord, string, error) {
	if req.UserID == "" {
		return nil, "!userId", nil
	}
	ok, err := b.UserExists(ctx, req.UserID)
	if err != nil {
		return nil, "", fmt.Errorf("user exists %s: %w", req.UserID, err)
	}
	if !ok {
		return nil, protocol.MsgUnknownUser, nil
	}
	game, err := b.GetGame(ctx, req.GameID)
	if err != nil {
		return nil, "", fmt.Errorf("get game %s: %w", req.GameID, err)
	}
	if game == nil {
		return nil, protocol.MsgUnknownGame, nil
	}
	return game, "", nil
}

// RegisterUser makes userID known to the backend. Authentication is outside
// the protocol; transports call this for users they have vetted.
func (s *Server) RegisterUser(ctx context.Context, userID string) error {
	if userID == "" {
		return errors.New("coordinator.RegisterUser: empty user id")
	}
	known, err := s.backend.UserExists(ctx, userID)
	if err != nil {
		return fmt.Errorf("coordinator.RegisterUser: %w", err)
	}
	if known {
		return nil
	}
	if err := s.backend.AddUser(ctx, userID); err != nil && !errors.Is(err, ErrExists) {
		return fmt.Errorf("coordinator.RegisterUser: %w", err)
	}
	return nil
}
