package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/google/uuid"

	"github.com/parityleague/league/internal/config"
	"github.com/parityleague/league/internal/game"
	"github.com/parityleague/league/internal/log"
	"github.com/parityleague/league/internal/mcp"
	"github.com/parityleague/league/internal/protocol"
	"github.com/parityleague/league/internal/queue"
)

// Referee drives matches. It exposes start_match, polls both players for
// moves at HIGH priority so match traffic outranks background calls, applies
// the game rules, and reports the outcome to the league manager.
type Referee struct {
	id       string
	leagueID string
	token    string
	// manager is the server name of the league manager; empty means
	// results are not reported (useful in exhibitions and tests).
	manager string

	client *mcp.Client
	server *mcp.Server
	logger log.Logger
}

// NewReferee builds a referee around an already-configured client. manager
// names the league manager's session; pass "" to skip result reporting.
func NewReferee(client *mcp.Client, manager string, cfg config.AgentConfig, logger log.Logger) (*Referee, error) {
	r := &Referee{
		id:       cfg.Name,
		leagueID: cfg.LeagueID,
		token:    cfg.AuthToken,
		manager:  manager,
		client:   client,
		logger:   logger.With("agent", cfg.Name),
	}
	r.server = mcp.NewServer(cfg.Name, logger)

	schema, err := jsonschema.For[protocol.Envelope](nil)
	if err != nil {
		return nil, fmt.Errorf("schema for start_match: %w", err)
	}
	if err := r.server.RegisterTool("start_match",
		"Run a match between two players and return the report.",
		schema, r.startMatch); err != nil {
		return nil, err
	}
	return r, nil
}

// Server exposes the referee's tool surface for serving.
func (r *Referee) Server() *mcp.Server { return r.server }

func (r *Referee) sender() protocol.Sender {
	return protocol.Sender{AgentType: "referee", AgentID: r.id}
}

func (r *Referee) startMatch(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
	env, err := decodeEnvelope(args, TypeStartMatch, r.token)
	if err != nil {
		return nil, err
	}
	var params StartMatch
	if err := env.DecodePayload(&params); err != nil {
		return nil, err
	}

	report, err := r.RunMatch(ctx, params)
	if err != nil {
		return nil, err
	}
	return envelopeJSON(TypeMatchReport, r.sender(),
		r.leagueID, env.ConversationID, r.token, report)
}

// RunMatch plays one full match between the named players and reports the
// result to the league manager when one is configured.
func (r *Referee) RunMatch(ctx context.Context, params StartMatch) (MatchReport, error) {
	if params.EvenPlayer == "" || params.OddPlayer == "" || params.EvenPlayer == params.OddPlayer {
		return MatchReport{}, fmt.Errorf("a match needs two distinct players")
	}
	matchID := params.MatchID
	if matchID == "" {
		matchID = uuid.NewString()
	}
	conversationID := uuid.NewString()

	logger := r.logger.With("match_id", matchID)
	logger.Info("match starting",
		"even", params.EvenPlayer, "odd", params.OddPlayer)

	m := game.NewMatch(params.PointsToWin)
	round := 0
	for !m.Decided() {
		round++

		evenMove, err := r.requestMove(ctx, params.EvenPlayer, matchID, conversationID, round, game.Even)
		if err != nil {
			return MatchReport{}, fmt.Errorf("round %d: %w", round, err)
		}
		oddMove, err := r.requestMove(ctx, params.OddPlayer, matchID, conversationID, round, game.Odd)
		if err != nil {
			return MatchReport{}, fmt.Errorf("round %d: %w", round, err)
		}

		played, err := m.PlayRound(evenMove, oddMove)
		if err != nil {
			return MatchReport{}, fmt.Errorf("round %d: %w", round, err)
		}
		logger.Debug("round played",
			"round", round, "even_move", evenMove, "odd_move", oddMove, "winner", played.Winner)

		r.notifyRound(ctx, params.EvenPlayer, matchID, conversationID, round, evenMove, played.Winner == game.Even)
		r.notifyRound(ctx, params.OddPlayer, matchID, conversationID, round, oddMove, played.Winner == game.Odd)
	}

	evenScore, oddScore := m.Score()
	report := MatchReport{
		MatchID:  matchID,
		LeagueID: r.leagueID,
		Rounds:   m.Rounds(),
	}
	if m.Winner() == game.Even {
		report.WinnerID, report.LoserID = params.EvenPlayer, params.OddPlayer
		report.WinnerScore, report.LoserScore = evenScore, oddScore
	} else {
		report.WinnerID, report.LoserID = params.OddPlayer, params.EvenPlayer
		report.WinnerScore, report.LoserScore = oddScore, evenScore
	}
	logger.Info("match finished", "winner", report.WinnerID,
		"score", fmt.Sprintf("%d-%d", report.WinnerScore, report.LoserScore))

	if r.manager != "" {
		if err := r.reportResult(ctx, conversationID, report); err != nil {
			return MatchReport{}, fmt.Errorf("report match %s: %w", matchID, err)
		}
	}
	return report, nil
}

func (r *Referee) requestMove(ctx context.Context, player, matchID, conversationID string, round int, role game.Role) (int, error) {
	args, err := envelopeJSON(TypeMoveRequest, r.sender(), r.leagueID, conversationID, r.token,
		MoveRequest{MatchID: matchID, Round: round, Role: role})
	if err != nil {
		return 0, err
	}

	content, err := r.client.CallTool(ctx, player+".choose_move", json.RawMessage(args),
		mcp.WithPriority(queue.High))
	if err != nil {
		return 0, fmt.Errorf("player %s: %w", player, err)
	}

	var env protocol.Envelope
	if err := json.Unmarshal(content, &env); err != nil {
		return 0, fmt.Errorf("player %s: decode move envelope: %w", player, err)
	}
	var resp MoveResponse
	if err := env.DecodePayload(&resp); err != nil {
		return 0, fmt.Errorf("player %s: %w", player, err)
	}
	if err := game.ValidateMove(resp.Move); err != nil {
		return 0, fmt.Errorf("player %s: %w", player, err)
	}
	return resp.Move, nil
}

// notifyRound is best-effort: a player that misses a result notification
// only loses strategy input, not the match.
func (r *Referee) notifyRound(ctx context.Context, player, matchID, conversationID string, round, move int, won bool) {
	args, err := envelopeJSON(TypeRoundResult, r.sender(), r.leagueID, conversationID, r.token,
		RoundResult{MatchID: matchID, Round: round, Move: move, Won: won})
	if err != nil {
		r.logger.Warn("encode round result", "err", err)
		return
	}
	if _, err := r.client.CallTool(ctx, player+".notify_result", json.RawMessage(args)); err != nil {
		r.logger.Warn("notify round result", "player", player, "err", err)
	}
}

func (r *Referee) reportResult(ctx context.Context, conversationID string, report MatchReport) error {
	args, err := envelopeJSON(TypeMatchReport, r.sender(), r.leagueID, conversationID, r.token, report)
	if err != nil {
		return err
	}
	_, err = r.client.CallTool(ctx, r.manager+".report_result", json.RawMessage(args))
	return err
}
