// Package rules is the boundary to the chess rules engine. The session
// layer only ever talks to the Engine interface; Chess backs it with
// corentings/chess.
package rules

import (
	"errors"
	"fmt"
	"strings"

	"badma/internal/protocol"
)

// InitialPosition is the FEN of the standard starting position.
const InitialPosition = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"

var (
	ErrBadPosition = errors.New("bad position")
	ErrBadSquare   = errors.New("bad square")
	ErrNotYourTurn = errors.New("not your turn")
	ErrWrongColor  = errors.New("wrong color")
	ErrIllegalMove = errors.New("illegal move")
)

// Engine owns one board position and validates moves against it.
type Engine interface {
	// Position returns the current position as FEN.
	Position() string
	// SetPosition replaces the current position. The move history is
	// lost, so repetition draws are only seen from then on.
	SetPosition(fen string) error
	// Replay resets to the initial position and applies the UCI moves in
	// order, keeping the history. On error the engine is left unchanged.
	Replay(moves []string) error
	// Turn returns the side to move.
	Turn() protocol.Side
	// ApplyMove validates m and, when legal, applies it. A non-zero
	// expected side is checked against the side to move first.
	ApplyMove(m protocol.Move, expected protocol.Side) error
	// Status derives continue, checkmate, stalemate or draw from the
	// current position.
	Status() protocol.Status
}

// Factory builds a fresh engine at the initial position.
type Factory func() Engine

// ParseUCI splits a UCI string like "e7e8q" into a Move.
func ParseUCI(uci string) (protocol.Move, error) {
	uci = strings.ToLower(strings.TrimSpace(uci))
	if len(uci) != 4 && len(uci) != 5 {
		return protocol.Move{}, fmt.Errorf("%w: %q", ErrIllegalMove, uci)
	}
	m := protocol.Move{From: uci[:2], To: uci[2:4]}
	if len(uci) == 5 {
		m.Promotion = uci[4:]
	}
	if _, err := squareIndex(m.From); err != nil {
		return protocol.Move{}, err
	}
	if _, err := squareIndex(m.To); err != nil {
		return protocol.Move{}, err
	}
	return m, nil
}

// squareIndex maps "a1".."h8" to 0..63, a1 first and h8 last.
func squareIndex(s string) (int, error) {
	if len(s) != 2 {
		return 0, fmt.Errorf("%w: %q", ErrBadSquare, s)
	}
	file := int(s[0]) - 'a'
	rank := int(s[1]) - '1'
	if file < 0 || file > 7 || rank < 0 || rank > 7 {
		return 0, fmt.Errorf("%w: %q", ErrBadSquare, s)
	}
	return rank*8 + file, nil
}

// isLastRank reports whether a destination square sits on rank 1 or 8.
func isLastRank(square string) bool {
	return len(square) == 2 && (square[1] == '1' || square[1] == '8')
}
