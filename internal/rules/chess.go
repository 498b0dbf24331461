package rules

import (
	"fmt"
	"strings"

	"github.com/corentings/chess/v2"

	"badma/internal/protocol"
)

// Chess is an Engine backed by corentings/chess.
type Chess struct {
	g *chess.Game
}

var _ Engine = (*Chess)(nil)

// NewChess returns an engine at the initial position.
func NewChess() *Chess {
	return &Chess{g: chess.NewGame()}
}

// NewEngine is a Factory producing Chess engines.
func NewEngine() Engine { return NewChess() }

func (c *Chess) Position() string {
	return c.g.Position().String()
}

func (c *Chess) SetPosition(fen string) error {
	opt, err := chess.FEN(fen)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadPosition, err)
	}
	c.g = chess.NewGame(opt)
	return nil
}

func (c *Chess) Replay(moves []string) error {
	next := NewChess()
	for i, uci := range moves {
		m, err := ParseUCI(uci)
		if err != nil {
			return fmt.Errorf("replay move %d: %w", i+1, err)
		}
		if err := next.ApplyMove(m, protocol.SideNone); err != nil {
			return fmt.Errorf("replay move %d: %w", i+1, err)
		}
	}
	c.g = next.g
	return nil
}

func (c *Chess) Turn() protocol.Side {
	return sideOf(c.g.Position().Turn())
}

func (c *Chess) ApplyMove(m protocol.Move, expected protocol.Side) error {
	pos := c.g.Position()
	if expected != protocol.SideNone && sideOf(pos.Turn()) != expected {
		return ErrNotYourTurn
	}

	m = c.withPromotion(m)
	uci := strings.ToLower(m.UCI())

	from, err := squareIndex(m.From)
	if err != nil {
		return err
	}
	piece := pos.Board().Piece(chess.Square(from))
	if piece == chess.NoPiece || piece.Color() != pos.Turn() {
		return ErrWrongColor
	}

	mv, err := chess.UCINotation{}.Decode(pos, uci)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrIllegalMove, uci)
	}

	for _, valid := range c.g.ValidMoves() {
		if valid.S1() != mv.S1() || valid.S2() != mv.S2() || valid.Promo() != mv.Promo() {
			continue
		}
		chosen := valid
		if err := c.g.Move(&chosen, nil); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrIllegalMove, uci, err)
		}
		return nil
	}
	return fmt.Errorf("%w: %s", ErrIllegalMove, uci)
}

func (c *Chess) Status() protocol.Status {
	if c.g.Outcome() == chess.NoOutcome {
		return protocol.StatusContinue
	}
	switch c.g.Method() {
	case chess.Checkmate:
		return protocol.StatusCheckmate
	case chess.Stalemate:
		return protocol.StatusStalemate
	}
	return protocol.StatusDraw
}

// withPromotion auto-queens a pawn reaching the last rank when the caller
// left the promotion piece out.
func (c *Chess) withPromotion(m protocol.Move) protocol.Move {
	m.From = strings.ToLower(m.From)
	m.To = strings.ToLower(m.To)
	m.Promotion = strings.ToLower(m.Promotion)
	if m.Promotion != "" || !isLastRank(m.To) {
		return m
	}
	from, err := squareIndex(m.From)
	if err != nil {
		return m
	}
	if c.g.Position().Board().Piece(chess.Square(from)).Type() == chess.Pawn {
		m.Promotion = "q"
	}
	return m
}

func sideOf(color chess.Color) protocol.Side {
	if color == chess.Black {
		return protocol.SideSecond
	}
	return protocol.SideFirst
}
