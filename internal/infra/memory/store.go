// Package memory provides an in-process implementation of the contest store,
// used for tests and the zero-dependency demo mode.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"daily-quiz-service/internal/app"
	"daily-quiz-service/internal/domain"
)

type pairKey struct {
	participantID string
	questionID    string
}

// Store keeps all contest state behind one mutex. A single lock is the
// in-memory equivalent of the serializable transaction the Postgres store
// uses: the uniqueness check, the order count and the insert in Append can
// never interleave.
type Store struct {
	mu sync.Mutex

	epoch   int64
	resetAt time.Time

	questions    map[string]domain.Question
	submissions  []domain.Submission
	byPair       map[pairKey]struct{}
	perQuestion  map[string]int
	participants map[string]domain.Participant
	idByName     map[string]string
	idByDevice   map[string]string

	clock func() time.Time
}

var _ app.Store = (*Store)(nil)

func NewStore() *Store {
	return NewStoreWithClock(time.Now)
}

// NewStoreWithClock allows deterministic timestamps in tests.
func NewStoreWithClock(clock func() time.Time) *Store {
	return &Store{
		epoch:        1,
		resetAt:      clock(),
		questions:    make(map[string]domain.Question),
		byPair:       make(map[pairKey]struct{}),
		perQuestion:  make(map[string]int),
		participants: make(map[string]domain.Participant),
		idByName:     make(map[string]string),
		idByDevice:   make(map[string]string),
		clock:        clock,
	}
}

// CurrentEpoch returns the epoch new writes are tagged with.
func (s *Store) CurrentEpoch(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.epoch, nil
}

// AdvanceEpoch atomically increments the epoch counter. Existing rows keep
// their tags untouched.
func (s *Store) AdvanceEpoch(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.epoch++
	s.resetAt = s.clock()
	return s.epoch, nil
}

func (s *Store) CreateQuestion(_ context.Context, q *domain.Question) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.questions[q.ID] = cloneQuestion(*q)
	return nil
}

func (s *Store) UpdateQuestion(_ context.Context, q *domain.Question) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.questions[q.ID]; !ok {
		return domain.ErrQuestionNotFound
	}
	s.questions[q.ID] = cloneQuestion(*q)
	return nil
}

func (s *Store) DeleteQuestion(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.questions[id]; !ok {
		return domain.ErrQuestionNotFound
	}
	if s.perQuestion[id] > 0 {
		return domain.ErrDeleteBlocked
	}
	delete(s.questions, id)
	return nil
}

func (s *Store) QuestionByID(_ context.Context, id string) (domain.Question, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.questions[id]
	if !ok {
		return domain.Question{}, domain.ErrQuestionNotFound
	}
	return cloneQuestion(q), nil
}

func (s *Store) QuestionsOn(_ context.Context, epoch int64, date string) ([]domain.Question, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Question
	for _, q := range s.questions {
		if q.Epoch == epoch && q.Date == date {
			out = append(out, cloneQuestion(q))
		}
	}
	sortQuestions(out)
	return out, nil
}

func (s *Store) Questions(_ context.Context, epoch int64) ([]domain.Question, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Question
	for _, q := range s.questions {
		if q.Epoch == epoch {
			out = append(out, cloneQuestion(q))
		}
	}
	sortQuestions(out)
	return out, nil
}

// Append implements the ledger's atomicity contract: uniqueness check, order
// assignment, previous-score lookup and insert all happen under one lock.
func (s *Store) Append(_ context.Context, participantID, questionID string, build app.SubmissionBuilder) (domain.Submission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.questions[questionID]; !ok {
		return domain.Submission{}, domain.ErrQuestionNotFound
	}
	key := pairKey{participantID: participantID, questionID: questionID}
	if _, ok := s.byPair[key]; ok {
		return domain.Submission{}, domain.ErrAlreadySubmitted
	}

	answerOrder := s.perQuestion[questionID] + 1
	previous, hasPrevious := s.latestScoreLocked(participantID)

	submission, err := build(answerOrder, previous, hasPrevious)
	if err != nil {
		return domain.Submission{}, err
	}

	s.submissions = append(s.submissions, submission)
	s.byPair[key] = struct{}{}
	s.perQuestion[questionID] = answerOrder
	return submission, nil
}

// latestScoreLocked finds the participant's most recent prior final score,
// across epochs. Submissions are appended in insertion order, so the last
// match is the most recent.
func (s *Store) latestScoreLocked(participantID string) (decimal.Decimal, bool) {
	for i := len(s.submissions) - 1; i >= 0; i-- {
		if s.submissions[i].ParticipantID == participantID {
			return s.submissions[i].FinalScore, true
		}
	}
	return decimal.Zero, false
}

func (s *Store) HasSubmission(_ context.Context, participantID, questionID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.byPair[pairKey{participantID: participantID, questionID: questionID}]
	return ok, nil
}

func (s *Store) BoardRows(_ context.Context, epoch int64, date string) ([]domain.BoardRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var rows []domain.BoardRow
	for _, sub := range s.submissions {
		if sub.Epoch != epoch {
			continue
		}
		if date != "" {
			q, ok := s.questions[sub.QuestionID]
			if !ok || q.Date != date {
				continue
			}
		}
		name := ""
		if p, ok := s.participants[sub.ParticipantID]; ok {
			name = p.Name
		}
		rows = append(rows, domain.BoardRow{
			ParticipantID: sub.ParticipantID,
			Name:          name,
			Status:        sub.Status,
			AnswerOrder:   sub.AnswerOrder,
			FinalScore:    sub.FinalScore,
		})
	}
	return rows, nil
}

func (s *Store) DeleteSubmissionsFor(_ context.Context, questionID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.submissions[:0]
	removed := 0
	for _, sub := range s.submissions {
		if sub.QuestionID == questionID {
			removed++
			delete(s.byPair, pairKey{participantID: sub.ParticipantID, questionID: questionID})
			continue
		}
		kept = append(kept, sub)
	}
	s.submissions = kept
	delete(s.perQuestion, questionID)
	return removed, nil
}

func (s *Store) ExportRows(_ context.Context, epoch int64) ([]domain.ExportRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var rows []domain.ExportRow
	for _, sub := range s.submissions {
		if sub.Epoch != epoch {
			continue
		}
		name := ""
		if p, ok := s.participants[sub.ParticipantID]; ok {
			name = p.Name
		}
		text, date := "", ""
		if q, ok := s.questions[sub.QuestionID]; ok {
			text, date = q.Content, q.Date
		}
		rows = append(rows, domain.ExportRow{
			ParticipantName:  name,
			QuestionText:     text,
			QuestionDate:     date,
			Status:           sub.Status,
			AnswerOrder:      sub.AnswerOrder,
			BaseMarks:        sub.BaseMarks,
			DeductionMarks:   sub.DeductionMarks,
			BonusPercent:     sub.BonusPercent,
			ExtraApplied:     sub.ExtraApplied,
			FinalScore:       sub.FinalScore,
			AutoSubmitted:    sub.AutoSubmitted,
			AutoSubmitReason: sub.AutoSubmitReason,
			Epoch:            sub.Epoch,
			SubmittedAt:      sub.SubmittedAt,
		})
	}
	return rows, nil
}

// Identify binds (name, device) to a participant, creating one when neither
// side is bound. A crossed binding is rejected with no state change.
func (s *Store) Identify(_ context.Context, name, deviceID string) (domain.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	byName, nameBound := s.idByName[name]
	byDevice, deviceBound := s.idByDevice[deviceID]

	switch {
	case nameBound && deviceBound && byName == byDevice:
		p := s.participants[byName]
		p.LastActiveAt = s.clock()
		s.participants[byName] = p
		return p, nil
	case nameBound || deviceBound:
		return domain.Participant{}, domain.ErrNameDeviceConflict
	}

	p := domain.Participant{
		ID:           uuid.NewString(),
		Name:         name,
		DeviceID:     deviceID,
		LastActiveAt: s.clock(),
	}
	s.participants[p.ID] = p
	s.idByName[name] = p.ID
	s.idByDevice[deviceID] = p.ID
	return p, nil
}

func (s *Store) ParticipantByID(_ context.Context, id string) (domain.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.participants[id]
	if !ok {
		return domain.Participant{}, domain.ErrParticipantNotFound
	}
	return p, nil
}

func (s *Store) SetBanned(_ context.Context, id string, banned bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.participants[id]
	if !ok {
		return domain.ErrParticipantNotFound
	}
	p.Banned = banned
	s.participants[id] = p
	return nil
}

func (s *Store) Touch(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.participants[id]
	if !ok {
		return domain.ErrParticipantNotFound
	}
	if at.After(p.LastActiveAt) {
		p.LastActiveAt = at
		s.participants[id] = p
	}
	return nil
}

func cloneQuestion(q domain.Question) domain.Question {
	q.Options = append([]string(nil), q.Options...)
	return q
}

func sortQuestions(qs []domain.Question) {
	sort.Slice(qs, func(i, j int) bool {
		if qs[i].Date != qs[j].Date {
			return qs[i].Date < qs[j].Date
		}
		return qs[i].DayOrder < qs[j].DayOrder
	})
}
