// Package game implements the tic-tac-toe board: move legality, winner
// detection and the textual rendering shown to players.
package game

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// Role identifies a side of the game.  First plays X, Second plays O.
type Role uint8

const (
	NoRole Role = iota
	First
	Second
)

// Other returns the opposing role.  NoRole has no opponent.
func (r Role) Other() Role {
	switch r {
	case First:
		return Second
	case Second:
		return First
	default:
		return NoRole
	}
}

// Mark returns the board character for the role.
func (r Role) Mark() byte {
	switch r {
	case First:
		return 'X'
	case Second:
		return 'O'
	default:
		return ' '
	}
}

func (r Role) String() string {
	switch r {
	case First:
		return "FIRST"
	case Second:
		return "SECOND"
	default:
		return "NONE"
	}
}

// Move is one move in a game.  Cell is a board index 0..8
// (cells are numbered 1..9 on the wire, left-to-right, top-to-bottom).
type Move struct {
	Cell int
	Role Role
}

var (
	ErrGameOver    = errors.New("game has already terminated")
	ErrNotYourTurn = errors.New("player trying to move is not the current player")
	ErrCellTaken   = errors.New("cell is already occupied")
	ErrBadMove     = errors.New("move string not recognized")
)

// winning lines: 3 rows, 3 columns, 2 diagonals
var lines = [8][3]int{
	{0, 1, 2}, {3, 4, 5}, {6, 7, 8},
	{0, 3, 6}, {1, 4, 7}, {2, 5, 8},
	{0, 4, 8}, {2, 4, 6},
}

// Game is the mutable state of one tic-tac-toe game.  All operations are
// safe for concurrent use.  The reference count tracks outstanding handles;
// it exists so the owning invitation and in-flight peer operations can share
// the game without dangling access.
type Game struct {
	mu     sync.Mutex
	cells  [9]Role
	toMove Role
	over   bool
	winner Role
	refs   int
}

// New creates a game in its initial state with a reference count of one.
// X moves first.
func New() *Game {
	g := &Game{toMove: First}
	g.Ref("game created")
	return g
}

// Ref increases the reference count by one.  The why string is only for the
// debug trace.
func (g *Game) Ref(why string) *Game {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.refs++
	slog.Debug("game ref", "refs", g.refs, "why", why)
	return g
}

// Unref decreases the reference count by one.
func (g *Game) Unref(why string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.refs--
	slog.Debug("game unref", "refs", g.refs, "why", why)
	if g.refs < 0 {
		panic("game reference count went negative")
	}
}

// Apply makes a move.  It fails if the game is over, if it is not the moving
// role's turn, or if the target cell is occupied.  After a successful move
// the termination conditions are checked.
func (g *Game) Apply(m Move) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.over {
		return ErrGameOver
	}
	if m.Role != g.toMove {
		return ErrNotYourTurn
	}
	if m.Cell < 0 || m.Cell > 8 {
		return fmt.Errorf("%w: cell %d out of range", ErrBadMove, m.Cell)
	}
	if g.cells[m.Cell] != NoRole {
		return ErrCellTaken
	}

	g.cells[m.Cell] = m.Role
	g.toMove = g.toMove.Other()
	g.checkOverLocked()
	return nil
}

// checkOverLocked scans the 8 lines for a winner, then for a draw.
// Caller holds g.mu.
func (g *Game) checkOverLocked() {
	for _, ln := range lines {
		c := g.cells[ln[0]]
		if c != NoRole && c == g.cells[ln[1]] && c == g.cells[ln[2]] {
			g.winner = c
			g.over = true
			return
		}
	}
	for _, c := range g.cells {
		if c == NoRole {
			return
		}
	}
	g.winner = NoRole // draw
	g.over = true
}

// Resign terminates the game with the opponent of role as the winner.
// It fails if the game has already terminated.
func (g *Game) Resign(role Role) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.over {
		return ErrGameOver
	}
	g.over = true
	g.toMove = NoRole
	g.winner = role.Other()
	return nil
}

// Over reports whether the game has terminated.  Once true it never
// becomes false.
func (g *Game) Over() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.over
}

// Winner returns the winning role, or NoRole if the game is drawn or still
// in progress.
func (g *Game) Winner() Role {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.winner
}

// ToMove returns the role currently on the move, or NoRole after termination.
func (g *Game) ToMove() Role {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.toMove
}

// ParseMove interprets str as a move by role.  Two forms are accepted:
// a single digit '1'..'9' naming the cell, and the four-character form
// "<digit><-<P>" where P is 'X' or 'O' and must match the side to move.
func (g *Game) ParseMove(role Role, str string) (Move, error) {
	switch len(str) {
	case 1:
		// single digit form
	case 4:
		if str[1] != '<' || str[2] != '-' {
			return Move{}, fmt.Errorf("%w: %q", ErrBadMove, str)
		}
		var player Role
		switch str[3] {
		case 'X':
			player = First
		case 'O':
			player = Second
		default:
			return Move{}, fmt.Errorf("%w: %q", ErrBadMove, str)
		}
		if player != g.ToMove() {
			return Move{}, fmt.Errorf("%w: %q: %c is not on the move", ErrBadMove, str, str[3])
		}
	default:
		return Move{}, fmt.Errorf("%w: %q", ErrBadMove, str)
	}

	d := str[0]
	if d < '1' || d > '9' {
		return Move{}, fmt.Errorf("%w: %q: cell must be 1-9", ErrBadMove, str)
	}
	return Move{Cell: int(d - '1'), Role: role}, nil
}

// FormatMove renders a move back into its canonical single-digit form, from
// which ParseMove recovers an equal move.
func FormatMove(m Move) string {
	return string(byte('1' + m.Cell))
}

// Render produces the ASCII board diagram sent to players:
//
//	c|c|c
//	-----
//	c|c|c
//	-----
//	c|c|c
//	X to move
func (g *Game) Render() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	buf := make([]byte, 0, 40)
	for row := range 3 {
		for col := range 3 {
			buf = append(buf, g.cells[row*3+col].Mark())
			if col != 2 {
				buf = append(buf, '|')
			}
		}
		buf = append(buf, '\n')
		if row != 2 {
			buf = append(buf, "-----\n"...)
		}
	}
	if g.toMove == First {
		buf = append(buf, 'X')
	} else {
		buf = append(buf, 'O')
	}
	buf = append(buf, " to move\n"...)
	return string(buf)
}
