package standings

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()
	for _, p := range []Player{
		{ID: "p1", Name: "alpha"},
		{ID: "p2", Name: "beta"},
		{ID: "p3", Name: "gamma"},
	} {
		require.NoError(t, s.RegisterPlayer(ctx, p))
	}
}

func TestMemoryRegisterPlayerIdempotent(t *testing.T) {
	s := NewMemory()
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.RegisterPlayer(ctx, Player{ID: "p1", Name: "alpha"}))
	require.NoError(t, s.RegisterPlayer(ctx, Player{ID: "p1", Name: "renamed"}))

	table, err := s.Standings(ctx)
	require.NoError(t, err)
	require.Len(t, table, 1)
	assert.Equal(t, "renamed", table[0].Name)
}

func TestMemoryRecordMatchValidation(t *testing.T) {
	s := NewMemory()
	defer s.Close()
	seedStore(t, s)
	ctx := context.Background()

	r := MatchResult{MatchID: "m1", LeagueID: "l1", WinnerID: "p1", LoserID: "p2", WinnerScore: 3, LoserScore: 1}
	require.NoError(t, s.RecordMatch(ctx, r))

	assert.ErrorIs(t, s.RecordMatch(ctx, r), ErrDuplicateMatch)
	assert.ErrorIs(t, s.RecordMatch(ctx, MatchResult{MatchID: "m2", WinnerID: "ghost", LoserID: "p2"}), ErrPlayerNotFound)
	assert.ErrorIs(t, s.RecordMatch(ctx, MatchResult{MatchID: "m3", WinnerID: "p1", LoserID: "ghost"}), ErrPlayerNotFound)
}

func TestMemoryStandingsOrdering(t *testing.T) {
	s := NewMemory()
	defer s.Close()
	seedStore(t, s)
	ctx := context.Background()

	// p1 wins twice, p2 wins once, p3 loses everything.
	require.NoError(t, s.RecordMatch(ctx, MatchResult{MatchID: "m1", WinnerID: "p1", LoserID: "p3", WinnerScore: 3, LoserScore: 0}))
	require.NoError(t, s.RecordMatch(ctx, MatchResult{MatchID: "m2", WinnerID: "p1", LoserID: "p2", WinnerScore: 3, LoserScore: 2}))
	require.NoError(t, s.RecordMatch(ctx, MatchResult{MatchID: "m3", WinnerID: "p2", LoserID: "p3", WinnerScore: 3, LoserScore: 1}))

	table, err := s.Standings(ctx)
	require.NoError(t, err)
	require.Len(t, table, 3)

	assert.Equal(t, "p1", table[0].PlayerID)
	assert.Equal(t, 2, table[0].Wins)
	assert.Equal(t, 2*PointsPerWin, table[0].Points)

	assert.Equal(t, "p2", table[1].PlayerID)
	assert.Equal(t, 1, table[1].Wins)
	assert.Equal(t, 1, table[1].Losses)

	assert.Equal(t, "p3", table[2].PlayerID)
	assert.Zero(t, table[2].Points)
	assert.Equal(t, 2, table[2].Losses)
}
