package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"badma/internal/coordinator"
	"badma/internal/protocol"
)

// Store is the durable coordinator.Backend. Every Atomic call is one
// transaction holding a row lock on the game.
type Store struct {
	db *gorm.DB
}

var _ coordinator.Backend = (*Store)(nil)

// NewStore creates a new store helper from a gorm DB.
func NewStore(db *gorm.DB) *Store {
	if db == nil {
		return nil
	}
	return &Store{db: db}
}

// DB exposes the underlying gorm DB instance.
func (s *Store) DB() *gorm.DB {
	if s == nil {
		return nil
	}
	return s.db
}

// Close releases the connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// mapErr converts gorm errors into the coordinator's sentinels.
func mapErr(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return fmt.Errorf("%s: %w", op, coordinator.ErrNotFound)
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return fmt.Errorf("%s: %w", op, coordinator.ErrExists)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func (s *Store) Atomic(ctx context.Context, gameID string, fn func(coordinator.Backend) error) error {
	const op = "storage.Atomic"

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var locked []Game
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", gameID).Limit(1).Find(&locked).Error; err != nil {
			return mapErr(op, err)
		}
		return fn(&Store{db: tx})
	})
}

func (s *Store) count(ctx context.Context, model any, query string, args ...any) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(model).Where(query, args...).Count(&n).Error
	return n, err
}

func (s *Store) UserExists(ctx context.Context, userID string) (bool, error) {
	n, err := s.count(ctx, &User{}, "id = ?", userID)
	return n > 0, mapErr("storage.UserExists", err)
}

func (s *Store) AddUser(ctx context.Context, userID string) error {
	err := s.db.WithContext(ctx).Create(&User{ID: userID, CreatedAt: time.Now()}).Error
	return mapErr("storage.AddUser", err)
}

func (s *Store) GameExists(ctx context.Context, gameID string) (bool, error) {
	n, err := s.count(ctx, &Game{}, "id = ?", gameID)
	return n > 0, mapErr("storage.GameExists", err)
}

func (s *Store) GetGame(ctx context.Context, gameID string) (*coordinator.GameRecord, error) {
	const op = "storage.GetGame"

	var games []Game
	if err := s.db.WithContext(ctx).Where("id = ?", gameID).Limit(1).Find(&games).Error; err != nil {
		return nil, mapErr(op, err)
	}
	if len(games) == 0 {
		return nil, nil
	}
	return games[0].record(), nil
}

func (s *Store) CreateGame(ctx context.Context, game coordinator.GameRecord) error {
	row := gameFromRecord(game)
	return mapErr("storage.CreateGame", s.db.WithContext(ctx).Create(&row).Error)
}

func (s *Store) UpdateGame(ctx context.Context, game coordinator.GameRecord) error {
	const op = "storage.UpdateGame"

	res := s.db.WithContext(ctx).Model(&Game{}).Where("id = ?", game.ID).Updates(map[string]any{
		"fen":        game.Position,
		"status":     string(game.Status),
		"updated_at": game.UpdatedAt,
	})
	if res.Error != nil {
		return mapErr(op, res.Error)
	}
	if res.RowsAffected == 0 {
		// MySQL reports zero rows when nothing changed.
		ok, err := s.GameExists(ctx, game.ID)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%s: %w", op, coordinator.ErrNotFound)
		}
	}
	return nil
}

// DeleteGame removes the game and its moves. Join rows stay.
func (s *Store) DeleteGame(ctx context.Context, gameID string) error {
	const op = "storage.DeleteGame"

	db := s.db.WithContext(ctx)
	if err := db.Where("game_id = ?", gameID).Delete(&Move{}).Error; err != nil {
		return mapErr(op, err)
	}
	res := db.Where("id = ?", gameID).Delete(&Game{})
	if res.Error != nil {
		return mapErr(op, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%s: %w", op, coordinator.ErrNotFound)
	}
	return nil
}

// AppendJoin must run inside Atomic: the counter row stays locked until
// the transaction commits.
func (s *Store) AppendJoin(ctx context.Context, rec coordinator.JoinRecord) (coordinator.JoinRecord, error) {
	const op = "storage.AppendJoin"

	db := s.db.WithContext(ctx)
	if err := db.Model(&Sequence{}).Where("name = ?", joinSequence).
		UpdateColumn("value", gorm.Expr("value + ?", 1)).Error; err != nil {
		return coordinator.JoinRecord{}, mapErr(op, err)
	}
	var seq Sequence
	if err := db.Where("name = ?", joinSequence).First(&seq).Error; err != nil {
		return coordinator.JoinRecord{}, mapErr(op, err)
	}

	rec.JoinCounterID = seq.Value
	row := joinFromRecord(rec)
	if err := db.Create(&row).Error; err != nil {
		return coordinator.JoinRecord{}, mapErr(op, err)
	}
	return rec, nil
}

func (s *Store) JoinExists(ctx context.Context, joinID string) (bool, error) {
	n, err := s.count(ctx, &Join{}, "join_id = ?", joinID)
	return n > 0, mapErr("storage.JoinExists", err)
}

func (s *Store) ListJoins(ctx context.Context, gameID string) ([]coordinator.JoinRecord, error) {
	var rows []Join
	if err := s.db.WithContext(ctx).Where("game_id = ?", gameID).
		Order("join_counter_id").Find(&rows).Error; err != nil {
		return nil, mapErr("storage.ListJoins", err)
	}
	out := make([]coordinator.JoinRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.record())
	}
	return out, nil
}

// latest returns the newest active join matching the conditions.
func (s *Store) latest(ctx context.Context, op string, query string, args ...any) (*coordinator.JoinRecord, error) {
	var rows []Join
	if err := s.db.WithContext(ctx).Where(query, args...).
		Where("connection_ref IS NOT NULL").
		Order("join_counter_id DESC").Limit(1).Find(&rows).Error; err != nil {
		return nil, mapErr(op, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	rec := rows[0].record()
	return &rec, nil
}

func (s *Store) LatestActivePlayerByUser(ctx context.Context, gameID, userID string) (*coordinator.JoinRecord, error) {
	return s.latest(ctx, "storage.LatestActivePlayerByUser",
		"game_id = ? AND user_id = ? AND role = ?", gameID, userID, int(protocol.RolePlayer))
}

func (s *Store) LatestActivePlayerBySide(ctx context.Context, gameID string, side protocol.Side) (*coordinator.JoinRecord, error) {
	return s.latest(ctx, "storage.LatestActivePlayerBySide",
		"game_id = ? AND side = ? AND role = ?", gameID, int(side), int(protocol.RolePlayer))
}

func (s *Store) FindActiveJoin(ctx context.Context, joinID, userID string) (*coordinator.JoinRecord, error) {
	return s.latest(ctx, "storage.FindActiveJoin", "join_id = ? AND user_id = ?", joinID, userID)
}

func (s *Store) ClearConnection(ctx context.Context, joinID string) error {
	const op = "storage.ClearConnection"

	res := s.db.WithContext(ctx).Model(&Join{}).Where("join_id = ?", joinID).
		UpdateColumn("connection_ref", nil)
	if res.Error != nil {
		return mapErr(op, res.Error)
	}
	if res.RowsAffected == 0 {
		ok, err := s.JoinExists(ctx, joinID)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%s: %w", op, coordinator.ErrNotFound)
		}
	}
	return nil
}

func (s *Store) ActiveJoinsByConnection(ctx context.Context, connectionRef string) ([]coordinator.JoinRecord, error) {
	out := []coordinator.JoinRecord{}
	if connectionRef == "" {
		return out, nil
	}
	var rows []Join
	if err := s.db.WithContext(ctx).Where("connection_ref = ?", connectionRef).
		Order("join_counter_id").Find(&rows).Error; err != nil {
		return nil, mapErr("storage.ActiveJoinsByConnection", err)
	}
	for _, r := range rows {
		out = append(out, r.record())
	}
	return out, nil
}

func (s *Store) AppendMove(ctx context.Context, move coordinator.MoveRecord) error {
	const op = "storage.AppendMove"

	ok, err := s.GameExists(ctx, move.GameID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%s: %w", op, coordinator.ErrNotFound)
	}
	row := Move{
		GameID:    move.GameID,
		UserID:    move.UserID,
		Number:    move.Number,
		UCI:       move.UCI,
		Side:      int(move.Side),
		FENAfter:  move.FENAfter,
		CreatedAt: move.CreatedAt,
	}
	return mapErr(op, s.db.WithContext(ctx).Create(&row).Error)
}

func (s *Store) ListMoves(ctx context.Context, gameID string) ([]coordinator.MoveRecord, error) {
	var rows []Move
	if err := s.db.WithContext(ctx).Where("game_id = ?", gameID).
		Order("number").Find(&rows).Error; err != nil {
		return nil, mapErr("storage.ListMoves", err)
	}
	out := make([]coordinator.MoveRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.record())
	}
	return out, nil
}

var (
	liveStatuses     = []string{string(protocol.StatusAwait), string(protocol.StatusReady), string(protocol.StatusContinue)}
	terminalStatuses = []string{
		string(protocol.StatusCheckmate), string(protocol.StatusStalemate), string(protocol.StatusDraw),
		string(protocol.StatusWhiteSurrender), string(protocol.StatusBlackSurrender),
	}
)

// FetchStats aggregates game counts.
func (s *Store) FetchStats(ctx context.Context) (coordinator.Stats, error) {
	const op = "storage.FetchStats"

	var stats coordinator.Stats
	db := s.db.WithContext(ctx)
	if err := db.Model(&Game{}).Count(&stats.Started).Error; err != nil {
		return stats, mapErr(op, err)
	}
	if err := db.Model(&Game{}).Where("status IN ?", liveStatuses).Count(&stats.Active).Error; err != nil {
		return stats, mapErr(op, err)
	}
	if err := db.Model(&Game{}).Where("status IN ?", terminalStatuses).Count(&stats.Completed).Error; err != nil {
		return stats, mapErr(op, err)
	}
	return stats, nil
}
