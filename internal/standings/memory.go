package standings

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Memory is an in-process Store for storage-less runs and unit tests. It
// applies the same scoring and ordering rules as Postgres.
type Memory struct {
	mu      sync.Mutex
	players map[string]Player
	matches map[string]MatchResult
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		players: make(map[string]Player),
		matches: make(map[string]MatchResult),
	}
}

func (s *Memory) RegisterPlayer(_ context.Context, p Player) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.players[p.ID]; ok {
		existing.Name = p.Name
		s.players[p.ID] = existing
		return nil
	}
	if p.RegisteredAt.IsZero() {
		p.RegisteredAt = time.Now()
	}
	s.players[p.ID] = p
	return nil
}

func (s *Memory) RecordMatch(_ context.Context, r MatchResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.matches[r.MatchID]; ok {
		return fmt.Errorf("match %s: %w", r.MatchID, ErrDuplicateMatch)
	}
	if _, ok := s.players[r.WinnerID]; !ok {
		return fmt.Errorf("match %s winner %s: %w", r.MatchID, r.WinnerID, ErrPlayerNotFound)
	}
	if _, ok := s.players[r.LoserID]; !ok {
		return fmt.Errorf("match %s loser %s: %w", r.MatchID, r.LoserID, ErrPlayerNotFound)
	}
	if r.PlayedAt.IsZero() {
		r.PlayedAt = time.Now()
	}
	s.matches[r.MatchID] = r
	return nil
}

func (s *Memory) Standings(context.Context) ([]Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	byID := make(map[string]*Row, len(s.players))
	for id, p := range s.players {
		byID[id] = &Row{PlayerID: id, Name: p.Name}
	}
	for _, m := range s.matches {
		if w, ok := byID[m.WinnerID]; ok {
			w.Wins++
			w.Points += PointsPerWin
		}
		if l, ok := byID[m.LoserID]; ok {
			l.Losses++
		}
	}

	table := make([]Row, 0, len(byID))
	for _, r := range byID {
		table = append(table, *r)
	}
	sort.Slice(table, func(i, j int) bool {
		if table[i].Points != table[j].Points {
			return table[i].Points > table[j].Points
		}
		if table[i].Wins != table[j].Wins {
			return table[i].Wins > table[j].Wins
		}
		return table[i].Name < table[j].Name
	})
	return table, nil
}

func (s *Memory) Close() {}
