// Package standings persists players and match results and computes the
// league table. Two implementations exist: Postgres for real deployments
// and Memory for storage-less runs and unit tests.
package standings

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrPlayerNotFound is returned when a result names an unknown player.
	ErrPlayerNotFound = errors.New("player not found")

	// ErrDuplicateMatch rejects a second report for the same match id.
	ErrDuplicateMatch = errors.New("match already recorded")
)

// Player is one registered league participant.
type Player struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	RegisteredAt time.Time `json:"registered_at"`
}

// MatchResult is a referee's report of one finished match.
type MatchResult struct {
	MatchID     string    `json:"match_id"`
	LeagueID    string    `json:"league_id"`
	WinnerID    string    `json:"winner_id"`
	LoserID     string    `json:"loser_id"`
	WinnerScore int       `json:"winner_score"`
	LoserScore  int       `json:"loser_score"`
	PlayedAt    time.Time `json:"played_at"`
}

// Row is one line of the league table.
type Row struct {
	PlayerID string `json:"player_id"`
	Name     string `json:"name"`
	Wins     int    `json:"wins"`
	Losses   int    `json:"losses"`
	Points   int    `json:"points"`
}

// PointsPerWin is the league scoring rule.
const PointsPerWin = 3

// Store is the persistence surface the league manager depends on.
type Store interface {
	// RegisterPlayer stores a player; re-registering the same id updates
	// the name and is not an error.
	RegisterPlayer(ctx context.Context, p Player) error

	// RecordMatch stores one result. Reporting the same match id twice
	// returns ErrDuplicateMatch.
	RecordMatch(ctx context.Context, r MatchResult) error

	// Standings returns the table ordered by points descending, wins
	// descending, then name.
	Standings(ctx context.Context) ([]Row, error)

	Close()
}
