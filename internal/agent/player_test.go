package agent

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parityleague/league/internal/config"
	"github.com/parityleague/league/internal/game"
	"github.com/parityleague/league/internal/log"
	"github.com/parityleague/league/internal/protocol"
)

func newTestPlayer(t *testing.T, token string) *Player {
	t.Helper()
	p, err := NewPlayer(config.AgentConfig{Name: "player-1", AuthToken: token}, log.NewNop())
	require.NoError(t, err)
	return p
}

func moveRequestArgs(t *testing.T, token string) json.RawMessage {
	t.Helper()
	sender := protocol.Sender{AgentType: "referee", AgentID: "referee-1"}
	args, err := envelopeJSON(TypeMoveRequest, sender, "league-1", "conv-1", token,
		MoveRequest{MatchID: "m1", Round: 1, Role: game.Even})
	require.NoError(t, err)
	return args
}

func TestPlayerChooseMove(t *testing.T) {
	p := newTestPlayer(t, "tok")

	content, err := p.chooseMove(context.Background(), moveRequestArgs(t, "tok"))
	require.NoError(t, err)

	var env protocol.Envelope
	require.NoError(t, json.Unmarshal(content, &env))
	assert.Equal(t, TypeMoveResponse, env.MessageType)
	assert.Equal(t, "player", env.Sender.AgentType)
	assert.Equal(t, "league-1", env.LeagueID)
	assert.Equal(t, "conv-1", env.ConversationID)

	var resp MoveResponse
	require.NoError(t, env.DecodePayload(&resp))
	assert.NoError(t, game.ValidateMove(resp.Move))
}

func TestPlayerRejectsBadToken(t *testing.T) {
	p := newTestPlayer(t, "tok")

	_, err := p.chooseMove(context.Background(), moveRequestArgs(t, "wrong"))
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestPlayerRejectsWrongMessageType(t *testing.T) {
	p := newTestPlayer(t, "")
	sender := protocol.Sender{AgentType: "referee", AgentID: "referee-1"}
	args, err := envelopeJSON(TypeRoundResult, sender, "", "", "", RoundResult{})
	require.NoError(t, err)

	_, err = p.chooseMove(context.Background(), args)
	assert.Error(t, err)
}

func TestPlayerStrategyLearnsFromWins(t *testing.T) {
	p := newTestPlayer(t, "")

	// Record wins with move 4 so its weight grows.
	sender := protocol.Sender{AgentType: "referee", AgentID: "referee-1"}
	for range 10 {
		args, err := envelopeJSON(TypeRoundResult, sender, "", "", "",
			RoundResult{MatchID: "m1", Round: 1, Move: 4, Won: true})
		require.NoError(t, err)
		_, err = p.notifyResult(context.Background(), args)
		require.NoError(t, err)
	}

	// Weights: moves 1,2,3,5 get 1 each; move 4 gets 11. Drawing the first
	// index past the uniform region must land on 4.
	p.rand = func(int) int { return 4 }
	assert.Equal(t, 4, p.pickMove())

	// The first indices still map to the uniform region.
	p.rand = func(int) int { return 0 }
	assert.Equal(t, 1, p.pickMove())
}

func TestPlayerNotifyResultValidatesMove(t *testing.T) {
	p := newTestPlayer(t, "")
	sender := protocol.Sender{AgentType: "referee", AgentID: "referee-1"}
	args, err := envelopeJSON(TypeRoundResult, sender, "", "", "",
		RoundResult{MatchID: "m1", Round: 1, Move: 9, Won: true})
	require.NoError(t, err)

	_, err = p.notifyResult(context.Background(), args)
	assert.ErrorIs(t, err, game.ErrInvalidMove)
}
