package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"daily-quiz-service/internal/app"
	"daily-quiz-service/internal/domain"
)

func seedQuestion(t *testing.T, store *Store) domain.Question {
	t.Helper()
	q := domain.Question{
		ID:           uuid.NewString(),
		Content:      "concurrent question",
		Options:      []string{"A", "B", "C", "D"},
		CorrectIndex: 0,
		Date:         "2026-03-14",
		DayOrder:     1,
		Active:       true,
		Epoch:        1,
		CreatedAt:    time.Now(),
	}
	if err := store.CreateQuestion(context.Background(), &q); err != nil {
		t.Fatalf("create question: %v", err)
	}
	return q
}

func buildSubmission(participantID, questionID string) app.SubmissionBuilder {
	return func(answerOrder int, previousScore decimal.Decimal, hasPrevious bool) (domain.Submission, error) {
		return domain.Submission{
			ID:            uuid.NewString(),
			ParticipantID: participantID,
			QuestionID:    questionID,
			ScoreBreakdown: domain.ScoreBreakdown{
				Status:            domain.StatusCorrect,
				AnswerOrder:       answerOrder,
				WrongAttemptOrder: 1,
				BaseMarks:         decimal.NewFromInt(500),
				FinalScore:        decimal.NewFromInt(500),
			},
			Epoch:       1,
			SubmittedAt: time.Now(),
		}, nil
	}
}

func TestAppendAssignsGaplessOrdersUnderConcurrency(t *testing.T) {
	store := NewStore()
	q := seedQuestion(t, store)

	const participants = 64
	var wg sync.WaitGroup
	for i := 0; i < participants; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			pid := uuid.NewString()
			if _, err := store.Append(context.Background(), pid, q.ID, buildSubmission(pid, q.ID)); err != nil {
				t.Errorf("append %d: %v", n, err)
			}
		}(i)
	}
	wg.Wait()

	rows, err := store.BoardRows(context.Background(), 1, "")
	if err != nil {
		t.Fatalf("board rows: %v", err)
	}
	if len(rows) != participants {
		t.Fatalf("expected %d submissions, got %d", participants, len(rows))
	}
	seen := make(map[int]bool, participants)
	for _, row := range rows {
		if row.AnswerOrder < 1 || row.AnswerOrder > participants {
			t.Fatalf("answer order %d outside 1..%d", row.AnswerOrder, participants)
		}
		if seen[row.AnswerOrder] {
			t.Fatalf("duplicate answer order %d", row.AnswerOrder)
		}
		seen[row.AnswerOrder] = true
	}
}

func TestAppendDuplicatePairOneWinner(t *testing.T) {
	store := NewStore()
	q := seedQuestion(t, store)
	pid := uuid.NewString()

	const attempts = 16
	var wg sync.WaitGroup
	results := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Append(context.Background(), pid, q.ID, buildSubmission(pid, q.ID))
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var successes, duplicates int
	for err := range results {
		switch {
		case err == nil:
			successes++
		case errors.Is(err, domain.ErrAlreadySubmitted):
			duplicates++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if successes != 1 || duplicates != attempts-1 {
		t.Fatalf("expected exactly one winner, got %d successes and %d duplicates", successes, duplicates)
	}
}

func TestAppendUnknownQuestion(t *testing.T) {
	store := NewStore()
	pid := uuid.NewString()
	_, err := store.Append(context.Background(), pid, "missing", buildSubmission(pid, "missing"))
	if !errors.Is(err, domain.ErrQuestionNotFound) {
		t.Fatalf("expected ErrQuestionNotFound, got %v", err)
	}
}

func TestAppendSuppliesPreviousScore(t *testing.T) {
	store := NewStore()
	q1 := seedQuestion(t, store)
	q2 := seedQuestion(t, store)
	pid := uuid.NewString()

	var sawPrevious bool
	_, err := store.Append(context.Background(), pid, q1.ID,
		func(order int, previous decimal.Decimal, hasPrevious bool) (domain.Submission, error) {
			if hasPrevious {
				t.Fatalf("first submission reported a previous score")
			}
			sub, _ := buildSubmission(pid, q1.ID)(order, previous, hasPrevious)
			sub.FinalScore = decimal.NewFromInt(-7)
			return sub, nil
		})
	if err != nil {
		t.Fatalf("first append: %v", err)
	}

	_, err = store.Append(context.Background(), pid, q2.ID,
		func(order int, previous decimal.Decimal, hasPrevious bool) (domain.Submission, error) {
			sawPrevious = hasPrevious
			if !previous.Equal(decimal.NewFromInt(-7)) {
				t.Fatalf("previous score = %s, want -7", previous)
			}
			return buildSubmission(pid, q2.ID)(order, previous, hasPrevious)
		})
	if err != nil {
		t.Fatalf("second append: %v", err)
	}
	if !sawPrevious {
		t.Fatalf("second submission did not see the prior score")
	}
}

func TestEpochAdvanceKeepsHistory(t *testing.T) {
	store := NewStore()
	q := seedQuestion(t, store)
	pid := uuid.NewString()
	if _, err := store.Append(context.Background(), pid, q.ID, buildSubmission(pid, q.ID)); err != nil {
		t.Fatalf("append: %v", err)
	}

	epoch, err := store.AdvanceEpoch(context.Background())
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if epoch != 2 {
		t.Fatalf("epoch = %d, want 2", epoch)
	}

	current, err := store.BoardRows(context.Background(), 2, "")
	if err != nil {
		t.Fatalf("board rows: %v", err)
	}
	if len(current) != 0 {
		t.Fatalf("new epoch should start empty, got %d rows", len(current))
	}
	historic, err := store.BoardRows(context.Background(), 1, "")
	if err != nil {
		t.Fatalf("board rows: %v", err)
	}
	if len(historic) != 1 {
		t.Fatalf("history lost after epoch advance")
	}
}

func TestConcurrentEpochAdvance(t *testing.T) {
	store := NewStore()

	const resets = 20
	var wg sync.WaitGroup
	for i := 0; i < resets; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.AdvanceEpoch(context.Background()); err != nil {
				t.Errorf("advance: %v", err)
			}
		}()
	}
	wg.Wait()

	epoch, err := store.CurrentEpoch(context.Background())
	if err != nil {
		t.Fatalf("current: %v", err)
	}
	if epoch != 1+resets {
		t.Fatalf("lost epoch updates: epoch = %d, want %d", epoch, 1+resets)
	}
}
