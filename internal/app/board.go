package app

import (
	"context"
	"sync"

	"daily-quiz-service/internal/domain"
)

// boardFeed fans leaderboard snapshots out to subscribers after every
// accepted submission or reset.
type boardFeed struct {
	mu          sync.Mutex
	subscribers map[chan domain.Leaderboard]struct{}
}

func (f *boardFeed) init() {
	f.subscribers = make(map[chan domain.Leaderboard]struct{})
}

// SubscribeBoard returns a channel of epoch-wide leaderboard snapshots,
// primed with the current standings. The caller must invoke the returned
// cancel function to avoid leaks.
func (s *ContestService) SubscribeBoard(ctx context.Context) (<-chan domain.Leaderboard, func(), error) {
	initial, err := s.Leaderboard(ctx, "")
	if err != nil {
		return nil, nil, err
	}

	ch := make(chan domain.Leaderboard, 8)

	s.feed.mu.Lock()
	s.feed.subscribers[ch] = struct{}{}
	s.feed.mu.Unlock()

	ch <- initial

	cancel := func() {
		s.feed.mu.Lock()
		if _, ok := s.feed.subscribers[ch]; ok {
			delete(s.feed.subscribers, ch)
			close(ch)
		}
		s.feed.mu.Unlock()
	}
	return ch, cancel, nil
}

// publishBoard pushes fresh standings to all subscribers, best-effort. A slow
// subscriber has its stale snapshot dropped rather than blocking the rest.
func (s *ContestService) publishBoard(ctx context.Context) {
	s.feed.mu.Lock()
	empty := len(s.feed.subscribers) == 0
	s.feed.mu.Unlock()
	if empty {
		return
	}

	board, err := s.Leaderboard(ctx, "")
	if err != nil {
		return
	}

	s.feed.mu.Lock()
	defer s.feed.mu.Unlock()
	for ch := range s.feed.subscribers {
		select {
		case ch <- board:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- board
		}
	}
}
