// Package agent implements the three league roles (player, referee, and
// league manager) as peers of the same communication core: each exposes
// tools through an mcp.Server and calls other agents through the mcp.Client
// facade.
//
// Application payloads travel inside protocol.Envelope, which the
// communication layer carries opaquely.
package agent

import "github.com/parityleague/league/internal/game"

// Envelope message types exchanged between agents.
const (
	TypeMoveRequest    = "move_request"
	TypeMoveResponse   = "move_response"
	TypeRoundResult    = "round_result"
	TypeStartMatch     = "start_match"
	TypeMatchReport    = "match_report"
	TypeRegisterPlayer = "register_player"
	TypeStandings      = "standings"
)

// MoveRequest asks a player for its next move.
type MoveRequest struct {
	MatchID string    `json:"match_id"`
	Round   int       `json:"round"`
	Role    game.Role `json:"role"`
}

// MoveResponse is a player's answer to a MoveRequest.
type MoveResponse struct {
	Move int `json:"move"`
}

// RoundResult tells a player how a round it played went.
type RoundResult struct {
	MatchID string `json:"match_id"`
	Round   int    `json:"round"`
	Move    int    `json:"move"`
	Won     bool   `json:"won"`
}

// StartMatch instructs a referee to run a match between two players,
// addressed by their server names.
type StartMatch struct {
	MatchID     string `json:"match_id,omitempty"`
	EvenPlayer  string `json:"even_player"`
	OddPlayer   string `json:"odd_player"`
	PointsToWin int    `json:"points_to_win,omitempty"`
}

// MatchReport is the referee's summary of a finished match.
type MatchReport struct {
	MatchID     string       `json:"match_id"`
	LeagueID    string       `json:"league_id,omitempty"`
	WinnerID    string       `json:"winner_id"`
	LoserID     string       `json:"loser_id"`
	WinnerScore int          `json:"winner_score"`
	LoserScore  int          `json:"loser_score"`
	Rounds      []game.Round `json:"rounds"`
}

// RegisterPlayer announces a player to the league manager.
type RegisterPlayer struct {
	PlayerID string `json:"player_id"`
	Name     string `json:"name"`
}
