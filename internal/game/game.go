// Package game implements the parity-sum game played in league matches.
//
// Two players hold the roles EVEN and ODD. Each round both pick an integer
// in [1,5]; the round goes to the player whose role matches the parity of
// the sum. A match is won by the first player to reach the configured
// number of points.
package game

import (
	"errors"
	"fmt"
)

// Sentinel errors for move and match validation.
var (
	// ErrInvalidMove rejects a move outside [MinMove, MaxMove].
	ErrInvalidMove = errors.New("invalid move")

	// ErrMatchOver rejects rounds played after a match is decided.
	ErrMatchOver = errors.New("match already decided")
)

// Move bounds. Both are inclusive.
const (
	MinMove = 1
	MaxMove = 5
)

// DefaultPointsToWin is the standard league match length.
const DefaultPointsToWin = 3

// Role is a player's parity assignment for one match.
type Role int

const (
	Even Role = iota
	Odd
)

func (r Role) String() string {
	if r == Even {
		return "EVEN"
	}
	return "ODD"
}

// Opposite returns the other role.
func (r Role) Opposite() Role {
	if r == Even {
		return Odd
	}
	return Even
}

// ValidateMove checks that a move is inside the legal range.
func ValidateMove(move int) error {
	if move < MinMove || move > MaxMove {
		return fmt.Errorf("%w: %d not in [%d,%d]", ErrInvalidMove, move, MinMove, MaxMove)
	}
	return nil
}

// RoundWinner returns the role that wins a round with the given moves.
// Both moves must already be validated.
func RoundWinner(evenMove, oddMove int) Role {
	if (evenMove+oddMove)%2 == 0 {
		return Even
	}
	return Odd
}

// Round records one played round.
type Round struct {
	EvenMove int  `json:"even_move"`
	OddMove  int  `json:"odd_move"`
	Winner   Role `json:"winner"`
}

// Match is the scorekeeper for one match. The zero value is not usable;
// construct with NewMatch. Match is not safe for concurrent use; the
// referee drives it from one goroutine.
type Match struct {
	pointsToWin int
	evenScore   int
	oddScore    int
	rounds      []Round
}

// NewMatch starts a match playing to pointsToWin; values below 1 fall back
// to the default.
func NewMatch(pointsToWin int) *Match {
	if pointsToWin < 1 {
		pointsToWin = DefaultPointsToWin
	}
	return &Match{pointsToWin: pointsToWin}
}

// PlayRound validates both moves, scores the round, and records it.
func (m *Match) PlayRound(evenMove, oddMove int) (Round, error) {
	if m.Decided() {
		return Round{}, ErrMatchOver
	}
	if err := ValidateMove(evenMove); err != nil {
		return Round{}, fmt.Errorf("even player: %w", err)
	}
	if err := ValidateMove(oddMove); err != nil {
		return Round{}, fmt.Errorf("odd player: %w", err)
	}

	r := Round{EvenMove: evenMove, OddMove: oddMove, Winner: RoundWinner(evenMove, oddMove)}
	if r.Winner == Even {
		m.evenScore++
	} else {
		m.oddScore++
	}
	m.rounds = append(m.rounds, r)
	return r, nil
}

// Decided reports whether either player has reached the target score.
func (m *Match) Decided() bool {
	return m.evenScore >= m.pointsToWin || m.oddScore >= m.pointsToWin
}

// Winner returns the winning role. Only meaningful once Decided.
func (m *Match) Winner() Role {
	if m.evenScore >= m.pointsToWin {
		return Even
	}
	return Odd
}

// Score returns the current points of the even and odd players.
func (m *Match) Score() (even, odd int) {
	return m.evenScore, m.oddScore
}

// Rounds returns the rounds played so far, in order.
func (m *Match) Rounds() []Round {
	out := make([]Round, len(m.rounds))
	copy(out, m.rounds)
	return out
}
