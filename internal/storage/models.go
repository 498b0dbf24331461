package storage

import (
	"time"

	"badma/internal/coordinator"
	"badma/internal/protocol"
)

// User is a known user. Users are created by the coordinator or by a
// transport vouching for them.
type User struct {
	ID        string `gorm:"primaryKey;size:64"`
	CreatedAt time.Time
}

// Game stores the authoritative state of one match. Timestamps come from
// the coordinator's clock, never from gorm.
type Game struct {
	ID         string    `gorm:"primaryKey;size:64"`
	HostUserID string    `gorm:"size:64;index"`
	FEN        string    `gorm:"size:128"`
	Status     string    `gorm:"size:32;index"`
	CreatedAt  time.Time `gorm:"autoCreateTime:false"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime:false"`
}

// Join is one ledger entry. Rows are never deleted; a NULL ConnectionRef
// marks the entry inactive.
type Join struct {
	JoinID        string    `gorm:"primaryKey;size:64"`
	JoinCounterID int64     `gorm:"uniqueIndex"`
	GameID        string    `gorm:"size:64;index"`
	UserID        string    `gorm:"size:64;index"`
	Side          int       `gorm:"not null;default:0"`
	Role          int       `gorm:"not null;default:0"`
	ConnectionRef *string   `gorm:"size:64;index"`
	CreatedAt     time.Time `gorm:"autoCreateTime:false"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime:false"`
}

func (Join) TableName() string { return "join_records" }

// Move stores a single accepted move in a game.
type Move struct {
	ID        uint   `gorm:"primaryKey"`
	GameID    string `gorm:"size:64;index"`
	UserID    string `gorm:"size:64;index"`
	Number    int
	UCI       string `gorm:"size:8"`
	Side      int
	FENAfter  string    `gorm:"size:128"`
	CreatedAt time.Time `gorm:"autoCreateTime:false"`
}

// Sequence is a named monotonic counter.
type Sequence struct {
	Name  string `gorm:"primaryKey;size:32"`
	Value int64
}

const joinSequence = "join_counter"

func gameFromRecord(g coordinator.GameRecord) Game {
	return Game{
		ID:         g.ID,
		HostUserID: g.HostUserID,
		FEN:        g.Position,
		Status:     string(g.Status),
		CreatedAt:  g.CreatedAt,
		UpdatedAt:  g.UpdatedAt,
	}
}

func (g Game) record() *coordinator.GameRecord {
	return &coordinator.GameRecord{
		ID:         g.ID,
		HostUserID: g.HostUserID,
		Position:   g.FEN,
		Status:     protocol.Status(g.Status),
		CreatedAt:  g.CreatedAt,
		UpdatedAt:  g.UpdatedAt,
	}
}

func joinFromRecord(j coordinator.JoinRecord) Join {
	out := Join{
		JoinID:        j.JoinID,
		JoinCounterID: j.JoinCounterID,
		GameID:        j.GameID,
		UserID:        j.UserID,
		Side:          int(j.Side),
		Role:          int(j.Role),
		CreatedAt:     j.CreatedAt,
		UpdatedAt:     j.UpdatedAt,
	}
	if j.ConnectionRef != "" {
		ref := j.ConnectionRef
		out.ConnectionRef = &ref
	}
	return out
}

func (j Join) record() coordinator.JoinRecord {
	out := coordinator.JoinRecord{
		JoinID:        j.JoinID,
		JoinCounterID: j.JoinCounterID,
		GameID:        j.GameID,
		UserID:        j.UserID,
		Side:          protocol.Side(j.Side),
		Role:          protocol.Role(j.Role),
		CreatedAt:     j.CreatedAt,
		UpdatedAt:     j.UpdatedAt,
	}
	if j.ConnectionRef != nil {
		out.ConnectionRef = *j.ConnectionRef
	}
	return out
}

func (m Move) record() coordinator.MoveRecord {
	return coordinator.MoveRecord{
		GameID:    m.GameID,
		UserID:    m.UserID,
		Number:    m.Number,
		UCI:       m.UCI,
		Side:      protocol.Side(m.Side),
		FENAfter:  m.FENAfter,
		CreatedAt: m.CreatedAt,
	}
}
