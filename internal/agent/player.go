package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/parityleague/league/internal/config"
	"github.com/parityleague/league/internal/game"
	"github.com/parityleague/league/internal/log"
	"github.com/parityleague/league/internal/mcp"
	"github.com/parityleague/league/internal/protocol"
)

// Player is a league participant. It exposes choose_move and notify_result
// and picks moves by weighted random over its own win history: moves that
// have won rounds before are drawn proportionally more often.
type Player struct {
	id     string
	name   string
	token  string
	logger log.Logger
	server *mcp.Server

	mu   sync.Mutex
	wins [game.MaxMove + 1]int // wins[m] = rounds won playing m
	rand func(n int) int
}

// NewPlayer builds a player agent and registers its tools.
func NewPlayer(cfg config.AgentConfig, logger log.Logger) (*Player, error) {
	p := &Player{
		id:     cfg.Name,
		name:   cfg.Name,
		token:  cfg.AuthToken,
		logger: logger.With("agent", cfg.Name),
		rand:   rand.IntN,
	}
	p.server = mcp.NewServer(cfg.Name, logger)
	if err := p.registerTools(); err != nil {
		return nil, err
	}
	return p, nil
}

// Server exposes the player's tool surface for serving.
func (p *Player) Server() *mcp.Server { return p.server }

func (p *Player) sender() protocol.Sender {
	return protocol.Sender{AgentType: "player", AgentID: p.id}
}

func (p *Player) registerTools() error {
	moveSchema, err := jsonschema.For[protocol.Envelope](nil)
	if err != nil {
		return fmt.Errorf("schema for choose_move: %w", err)
	}
	if err := p.server.RegisterTool("choose_move",
		"Pick the player's next move for a match round.",
		moveSchema, p.chooseMove); err != nil {
		return err
	}
	return p.server.RegisterTool("notify_result",
		"Inform the player how a round it played went.",
		moveSchema, p.notifyResult)
}

func (p *Player) chooseMove(_ context.Context, args json.RawMessage) (json.RawMessage, error) {
	env, err := decodeEnvelope(args, TypeMoveRequest, p.token)
	if err != nil {
		return nil, err
	}
	var req MoveRequest
	if err := env.DecodePayload(&req); err != nil {
		return nil, err
	}

	move := p.pickMove()
	p.logger.Debug("move chosen", "match_id", req.MatchID, "round", req.Round, "move", move)

	return envelopeJSON(TypeMoveResponse, p.sender(),
		env.LeagueID, env.ConversationID, p.token, MoveResponse{Move: move})
}

func (p *Player) notifyResult(_ context.Context, args json.RawMessage) (json.RawMessage, error) {
	env, err := decodeEnvelope(args, TypeRoundResult, p.token)
	if err != nil {
		return nil, err
	}
	var result RoundResult
	if err := env.DecodePayload(&result); err != nil {
		return nil, err
	}
	if err := game.ValidateMove(result.Move); err != nil {
		return nil, err
	}

	if result.Won {
		p.mu.Lock()
		p.wins[result.Move]++
		p.mu.Unlock()
	}
	return json.Marshal(map[string]bool{"ok": true})
}

// pickMove draws a move with weight 1 + rounds won playing it, so the
// strategy starts uniform and drifts toward historically winning moves.
func (p *Player) pickMove() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	total := 0
	for move := game.MinMove; move <= game.MaxMove; move++ {
		total += 1 + p.wins[move]
	}
	n := p.rand(total)
	for move := game.MinMove; move <= game.MaxMove; move++ {
		n -= 1 + p.wins[move]
		if n < 0 {
			return move
		}
	}
	return game.MaxMove
}
