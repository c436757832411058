package redis

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"daily-quiz-service/internal/domain"
)

type countingSource struct {
	epoch int64
	calls int
	board domain.Leaderboard
}

func (s *countingSource) Leaderboard(_ context.Context, date string) (domain.Leaderboard, error) {
	s.calls++
	board := s.board
	board.Epoch = s.epoch
	board.Date = date
	return board, nil
}

func (s *countingSource) CurrentEpoch(_ context.Context) (int64, error) {
	return s.epoch, nil
}

func sampleBoard() domain.Leaderboard {
	return domain.Leaderboard{
		Entries: []domain.LeaderboardEntry{
			{Rank: 1, ParticipantID: "p1", Name: "Alice", TotalScore: decimal.NewFromInt(800), CorrectCount: 1, AvgAnswerOrder: 1},
		},
		UpdatedAt: time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC),
	}
}

func TestBoardCacheServesFromRedis(t *testing.T) {
	_, client := newTestClient(t)
	source := &countingSource{epoch: 1, board: sampleBoard()}
	cache := NewBoardCache(client, source, time.Minute)

	first, err := cache.Leaderboard(context.Background(), "")
	if err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	if source.calls != 1 {
		t.Fatalf("expected one source call, got %d", source.calls)
	}
	if len(first.Entries) != 1 || !first.Entries[0].TotalScore.Equal(decimal.NewFromInt(800)) {
		t.Fatalf("unexpected board: %+v", first.Entries)
	}

	second, err := cache.Leaderboard(context.Background(), "")
	if err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	if source.calls != 1 {
		t.Fatalf("expected cache hit, source calls = %d", source.calls)
	}
	if len(second.Entries) != 1 || second.Entries[0].Name != "Alice" {
		t.Fatalf("cached board does not round-trip: %+v", second.Entries)
	}
}

func TestBoardCacheKeyedByEpoch(t *testing.T) {
	_, client := newTestClient(t)
	source := &countingSource{epoch: 1, board: sampleBoard()}
	cache := NewBoardCache(client, source, time.Minute)

	if _, err := cache.Leaderboard(context.Background(), ""); err != nil {
		t.Fatalf("leaderboard: %v", err)
	}

	// A reset moves the key space; the stale epoch-1 snapshot is never served.
	source.epoch = 2
	source.board = domain.Leaderboard{}
	if _, err := cache.Leaderboard(context.Background(), ""); err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	if source.calls != 2 {
		t.Fatalf("expected a fresh load after epoch advance, calls = %d", source.calls)
	}
}

func TestBoardCacheSeparatesDates(t *testing.T) {
	_, client := newTestClient(t)
	source := &countingSource{epoch: 1, board: sampleBoard()}
	cache := NewBoardCache(client, source, time.Minute)

	if _, err := cache.Leaderboard(context.Background(), "2026-03-14"); err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	if _, err := cache.Leaderboard(context.Background(), ""); err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	if source.calls != 2 {
		t.Fatalf("date-scoped and epoch-wide boards must not share keys, calls = %d", source.calls)
	}
}
