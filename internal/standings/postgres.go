package standings

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/parityleague/league/internal/log"
)

// Postgres is the production Store backed by a pgx connection pool.
// Safe for concurrent use.
type Postgres struct {
	pool   *pgxpool.Pool
	logger log.Logger
}

// NewPostgres connects to the database, applies pending migrations, and
// returns a ready store.
func NewPostgres(ctx context.Context, dsn string, logger log.Logger) (*Postgres, error) {
	if err := Migrate(dsn); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return &Postgres{pool: pool, logger: logger}, nil
}

// NewPostgresWithPool wraps an existing pool. The caller owns migrations;
// tests use this with a container-backed pool.
func NewPostgresWithPool(pool *pgxpool.Pool, logger log.Logger) *Postgres {
	return &Postgres{pool: pool, logger: logger}
}

func (s *Postgres) RegisterPlayer(ctx context.Context, p Player) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO players (id, name)
		VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name`,
		p.ID, p.Name)
	if err != nil {
		return fmt.Errorf("register player %s: %w", p.ID, err)
	}
	s.logger.Debug("player registered", "player_id", p.ID, "name", p.Name)
	return nil
}

func (s *Postgres) RecordMatch(ctx context.Context, r MatchResult) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO matches (match_id, league_id, winner_id, loser_id, winner_score, loser_score)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		r.MatchID, r.LeagueID, r.WinnerID, r.LoserID, r.WinnerScore, r.LoserScore)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			switch pgErr.Code {
			case "23505": // unique_violation: the match was already reported
				return fmt.Errorf("match %s: %w", r.MatchID, ErrDuplicateMatch)
			case "23503": // foreign_key_violation: unregistered player
				return fmt.Errorf("match %s: %w", r.MatchID, ErrPlayerNotFound)
			}
		}
		return fmt.Errorf("record match %s: %w", r.MatchID, err)
	}
	s.logger.Debug("match recorded", "match_id", r.MatchID, "winner", r.WinnerID)
	return nil
}

func (s *Postgres) Standings(ctx context.Context) ([]Row, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT p.id,
		       p.name,
		       COUNT(w.match_id) AS wins,
		       COUNT(l.match_id) AS losses,
		       COUNT(w.match_id) * $1 AS points
		FROM players p
		LEFT JOIN matches w ON w.winner_id = p.id
		LEFT JOIN matches l ON l.loser_id = p.id
		GROUP BY p.id, p.name
		ORDER BY points DESC, wins DESC, p.name`,
		PointsPerWin)
	if err != nil {
		return nil, fmt.Errorf("query standings: %w", err)
	}
	defer rows.Close()

	table, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Row, error) {
		var r Row
		err := row.Scan(&r.PlayerID, &r.Name, &r.Wins, &r.Losses, &r.Points)
		return r, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan standings: %w", err)
	}
	return table, nil
}

func (s *Postgres) Close() {
	s.pool.Close()
}
