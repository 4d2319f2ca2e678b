package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/parityleague/league/internal/config"
	"github.com/parityleague/league/internal/log"
	"github.com/parityleague/league/internal/mcp"
	"github.com/parityleague/league/internal/protocol"
	"github.com/parityleague/league/internal/standings"
)

// StandingsURI is the resource the manager publishes; every recorded result
// pushes the fresh table to subscribers.
const StandingsURI = "league://standings"

// Manager is the league manager: it registers players, records reported
// results in the standings store, and publishes the league table.
type Manager struct {
	id       string
	leagueID string
	token    string

	store  standings.Store
	server *mcp.Server
	logger log.Logger
}

// NewManager builds the manager agent around a standings store and
// registers its tools and the standings resource.
func NewManager(store standings.Store, cfg config.AgentConfig, logger log.Logger) (*Manager, error) {
	m := &Manager{
		id:       cfg.Name,
		leagueID: cfg.LeagueID,
		token:    cfg.AuthToken,
		store:    store,
		logger:   logger.With("agent", cfg.Name),
	}
	m.server = mcp.NewServer(cfg.Name, logger)

	schema, err := jsonschema.For[protocol.Envelope](nil)
	if err != nil {
		return nil, fmt.Errorf("schema for manager tools: %w", err)
	}
	for _, tool := range []struct {
		name, description string
		handler           mcp.ToolHandler
	}{
		{"register_player", "Register a player with the league.", m.registerPlayer},
		{"report_result", "Record the result of a finished match.", m.reportResult},
		{"get_standings", "Return the current league table.", m.getStandings},
	} {
		if err := m.server.RegisterTool(tool.name, tool.description, schema, tool.handler); err != nil {
			return nil, err
		}
	}

	if err := m.server.RegisterResource(StandingsURI, []standings.Row{}); err != nil {
		return nil, err
	}
	return m, nil
}

// Server exposes the manager's tool surface for serving.
func (m *Manager) Server() *mcp.Server { return m.server }

func (m *Manager) sender() protocol.Sender {
	return protocol.Sender{AgentType: "league_manager", AgentID: m.id}
}

func (m *Manager) registerPlayer(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
	env, err := decodeEnvelope(args, TypeRegisterPlayer, m.token)
	if err != nil {
		return nil, err
	}
	var reg RegisterPlayer
	if err := env.DecodePayload(&reg); err != nil {
		return nil, err
	}
	if reg.PlayerID == "" {
		return nil, fmt.Errorf("register_player: player_id required")
	}
	if reg.Name == "" {
		reg.Name = reg.PlayerID
	}

	if err := m.store.RegisterPlayer(ctx, standings.Player{ID: reg.PlayerID, Name: reg.Name}); err != nil {
		return nil, err
	}
	m.logger.Info("player registered", "player_id", reg.PlayerID, "envelope", env)

	if err := m.publishStandings(ctx); err != nil {
		return nil, err
	}
	return json.Marshal(map[string]bool{"ok": true})
}

func (m *Manager) reportResult(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
	env, err := decodeEnvelope(args, TypeMatchReport, m.token)
	if err != nil {
		return nil, err
	}
	var report MatchReport
	if err := env.DecodePayload(&report); err != nil {
		return nil, err
	}

	result := standings.MatchResult{
		MatchID:     report.MatchID,
		LeagueID:    report.LeagueID,
		WinnerID:    report.WinnerID,
		LoserID:     report.LoserID,
		WinnerScore: report.WinnerScore,
		LoserScore:  report.LoserScore,
	}
	if err := m.store.RecordMatch(ctx, result); err != nil {
		return nil, err
	}
	m.logger.Info("result recorded",
		"match_id", report.MatchID, "winner", report.WinnerID, "envelope", env)

	if err := m.publishStandings(ctx); err != nil {
		return nil, err
	}
	return json.Marshal(map[string]bool{"ok": true})
}

func (m *Manager) getStandings(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
	env, err := decodeEnvelope(args, TypeStandings, m.token)
	if err != nil {
		return nil, err
	}

	table, err := m.store.Standings(ctx)
	if err != nil {
		return nil, err
	}
	return envelopeJSON(TypeStandings, m.sender(),
		m.leagueID, env.ConversationID, m.token, table)
}

// publishStandings refreshes the standings resource so subscribers see the
// new table without polling.
func (m *Manager) publishStandings(ctx context.Context) error {
	table, err := m.store.Standings(ctx)
	if err != nil {
		return fmt.Errorf("load standings: %w", err)
	}
	return m.server.UpdateResource(StandingsURI, table)
}
