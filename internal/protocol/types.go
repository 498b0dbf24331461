package protocol

import (
	"fmt"
	"time"
)

// Side identifies which seat of a match a join occupies.
type Side int

const (
	SideNone   Side = 0 // spectator
	SideFirst  Side = 1 // white
	SideSecond Side = 2 // black
)

func (s Side) String() string {
	switch s {
	case SideNone:
		return "spectator"
	case SideFirst:
		return "white"
	case SideSecond:
		return "black"
	}
	return fmt.Sprintf("side(%d)", int(s))
}

// Valid reports whether s is one of the three known sides.
func (s Side) Valid() bool {
	return s == SideNone || s == SideFirst || s == SideSecond
}

// Opponent returns the other playing side. SideNone has no opponent.
func (s Side) Opponent() Side {
	switch s {
	case SideFirst:
		return SideSecond
	case SideSecond:
		return SideFirst
	}
	return SideNone
}

// Role describes the rights a join grants.
type Role int

const (
	RoleAnonymous Role = 0
	RolePlayer    Role = 1
	RoleVoter     Role = 2
)

func (r Role) String() string {
	switch r {
	case RoleAnonymous:
		return "Anonymous"
	case RolePlayer:
		return "Player"
	case RoleVoter:
		return "Voter"
	}
	return fmt.Sprintf("role(%d)", int(r))
}

func (r Role) Valid() bool {
	return r == RoleAnonymous || r == RolePlayer || r == RoleVoter
}

// Operation names one protocol request kind.
type Operation string

const (
	OpCreate Operation = "create"
	OpJoin   Operation = "join"
	OpLeave  Operation = "leave"
	OpMove   Operation = "move"
	OpSync   Operation = "sync"
)

// Move is a move expressed by squares, e.g. From "e2", To "e4", Promotion "q".
type Move struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Promotion string `json:"promotion,omitempty"`
}

// UCI returns the move in UCI notation.
func (m Move) UCI() string {
	return m.From + m.To + m.Promotion
}

// Request is sent by a participant to the coordinator.
type Request struct {
	Operation Operation `json:"operation"`
	ClientID  string    `json:"clientId"`
	UserID    string    `json:"userId,omitempty"`
	GameID    string    `json:"gameId,omitempty"`
	JoinID    string    `json:"joinId,omitempty"`
	Side      *Side     `json:"side,omitempty"`
	Role      *Role     `json:"role,omitempty"`
	Move      *Move     `json:"move,omitempty"`
	UpdatedAt int64     `json:"updatedAt"`
	CreatedAt int64     `json:"createdAt"`
}

// Data is the authoritative view returned by the coordinator.
type Data struct {
	ClientID  string   `json:"clientId"`
	GameID    string   `json:"gameId"`
	JoinID    string   `json:"joinId,omitempty"`
	Side      *Side    `json:"side,omitempty"`
	Role      *Role    `json:"role,omitempty"`
	Position  string   `json:"position"`
	Status    Status   `json:"status"`
	Moves     []string `json:"moves,omitempty"`
	UpdatedAt int64    `json:"updatedAt"`
	CreatedAt int64    `json:"createdAt"`
}

// Response is the coordinator's answer to a Request. Callers must inspect
// Error before trusting Data.
type Response struct {
	Error     string `json:"error,omitempty"`
	Recommend string `json:"recommend,omitempty"`
	Data      *Data  `json:"data,omitempty"`
}

// OK reports whether the response carries no error.
func (r Response) OK() bool { return r.Error == "" }

// SideOf and RoleOf are small helpers for filling optional envelope fields.
func SideOf(s Side) *Side { return &s }
func RoleOf(r Role) *Role { return &r }

// Millis converts a timestamp to the wire representation.
func Millis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

// Time converts a wire timestamp back to time.Time.
func Time(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
