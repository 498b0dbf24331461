package coordinator

import (
	"context"
	"errors"
	"time"

	"badma/internal/protocol"
)

var (
	// ErrNotFound is returned by a Backend when a game or record is missing.
	ErrNotFound = errors.New("not found")
	// ErrExists is returned by a Backend when an identifier is already taken.
	ErrExists = errors.New("already exists")
)

// GameRecord is the authoritative state of one match.
type GameRecord struct {
	ID         string
	HostUserID string
	Position   string
	Status     protocol.Status
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// JoinRecord is one append-only ledger entry. A record is active while
// ConnectionRef is non-empty; leaving clears it and appends a new record.
type JoinRecord struct {
	JoinID        string
	JoinCounterID int64
	GameID        string
	UserID        string
	Side          protocol.Side
	Role          protocol.Role
	ConnectionRef string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Active reports whether the record is backed by a live connection.
func (j JoinRecord) Active() bool { return j.ConnectionRef != "" }

// ActivePlayer reports whether the record is an active Player join.
func (j JoinRecord) ActivePlayer() bool { return j.Active() && j.Role == protocol.RolePlayer }

// MoveRecord is one accepted move.
type MoveRecord struct {
	GameID    string
	UserID    string
	Number    int
	UCI       string
	Side      protocol.Side
	FENAfter  string
	CreatedAt time.Time
}

// Backend is the storage port the coordinator arbitrates against. Lookups
// that find nothing return (nil, nil); mutations of missing records return
// ErrNotFound.
type Backend interface {
	// Atomic runs fn with every mutation for gameID serialized against
	// other Atomic calls for the same game. fn must use the Backend it is
	// given.
	Atomic(ctx context.Context, gameID string, fn func(Backend) error) error

	UserExists(ctx context.Context, userID string) (bool, error)
	AddUser(ctx context.Context, userID string) error

	GameExists(ctx context.Context, gameID string) (bool, error)
	GetGame(ctx context.Context, gameID string) (*GameRecord, error)
	CreateGame(ctx context.Context, game GameRecord) error
	UpdateGame(ctx context.Context, game GameRecord) error
	DeleteGame(ctx context.Context, gameID string) error

	// AppendJoin stores rec and assigns its JoinCounterID.
	AppendJoin(ctx context.Context, rec JoinRecord) (JoinRecord, error)
	JoinExists(ctx context.Context, joinID string) (bool, error)
	ListJoins(ctx context.Context, gameID string) ([]JoinRecord, error)
	LatestActivePlayerByUser(ctx context.Context, gameID, userID string) (*JoinRecord, error)
	LatestActivePlayerBySide(ctx context.Context, gameID string, side protocol.Side) (*JoinRecord, error)
	// FindActiveJoin returns the record with joinID owned by userID, only
	// while it is active.
	FindActiveJoin(ctx context.Context, joinID, userID string) (*JoinRecord, error)
	ClearConnection(ctx context.Context, joinID string) error
	ActiveJoinsByConnection(ctx context.Context, connectionRef string) ([]JoinRecord, error)

	AppendMove(ctx context.Context, move MoveRecord) error
	ListMoves(ctx context.Context, gameID string) ([]MoveRecord, error)
}

// Publisher receives the authoritative view after every successful mutation.
type Publisher interface {
	Publish(gameID string, data protocol.Data)
}

// Stats represents aggregate counts for games.
type Stats struct {
	Started   int64 `json:"started"`
	Completed int64 `json:"completed"`
	Active    int64 `json:"active"`
}
