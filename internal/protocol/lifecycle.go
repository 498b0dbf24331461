package protocol

// Status is the lifecycle state of a match.
type Status string

const (
	StatusAwait          Status = "await"
	StatusReady          Status = "ready"
	StatusContinue       Status = "continue"
	StatusCheckmate      Status = "checkmate"
	StatusStalemate      Status = "stalemate"
	StatusDraw           Status = "draw"
	StatusWhiteSurrender Status = "white_surrender"
	StatusBlackSurrender Status = "black_surrender"

	// StatusError only ever appears on a participant whose local view
	// diverged from the coordinator.
	StatusError Status = "error"
)

// transitions lists every permitted edge of the lifecycle graph.
var transitions = map[Status][]Status{
	StatusAwait: {StatusReady},
	StatusReady: {StatusAwait, StatusContinue},
	StatusContinue: {
		StatusContinue,
		StatusCheckmate,
		StatusStalemate,
		StatusDraw,
		StatusWhiteSurrender,
		StatusBlackSurrender,
	},
}

// CanTransition reports whether the lifecycle may move from one status to
// another. Staying in place is always allowed.
func CanTransition(from, to Status) bool {
	if from == to {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no further move or player join is accepted.
func (s Status) Terminal() bool {
	switch s {
	case StatusCheckmate, StatusStalemate, StatusDraw, StatusWhiteSurrender, StatusBlackSurrender:
		return true
	}
	return false
}

// Playable reports whether moves are accepted in this status.
func (s Status) Playable() bool {
	return s == StatusReady || s == StatusContinue
}

// Leavable reports whether a participant may leave in this status.
func (s Status) Leavable() bool {
	return s == StatusAwait || s == StatusReady || s == StatusContinue
}

// Known reports whether s is part of the shared vocabulary.
func (s Status) Known() bool {
	switch s {
	case StatusAwait, StatusReady, StatusContinue, StatusError:
		return true
	}
	return s.Terminal()
}

// SurrenderOf returns the terminal status caused by a player of side leaving
// a game in progress. The status names the side the game is conceded to:
// the second player walking out ends in white_surrender.
func SurrenderOf(side Side) (Status, bool) {
	switch side {
	case SideFirst:
		return StatusBlackSurrender, true
	case SideSecond:
		return StatusWhiteSurrender, true
	}
	return "", false
}

// AfterLeave computes the status that follows a join of the given side and
// role leaving a game currently in status.
func AfterLeave(status Status, side Side, role Role) Status {
	if role != RolePlayer {
		return status
	}
	switch status {
	case StatusContinue:
		if s, ok := SurrenderOf(side); ok {
			return s
		}
	case StatusReady:
		return StatusAwait
	}
	return status
}
