package app

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"daily-quiz-service/internal/domain"
)

// EpochStore holds the single current-epoch counter.
type EpochStore interface {
	CurrentEpoch(ctx context.Context) (int64, error)
	AdvanceEpoch(ctx context.Context) (int64, error)
}

// QuestionStore is the question catalog.
type QuestionStore interface {
	CreateQuestion(ctx context.Context, q *domain.Question) error
	UpdateQuestion(ctx context.Context, q *domain.Question) error
	// DeleteQuestion fails with domain.ErrDeleteBlocked while submissions
	// still reference the question.
	DeleteQuestion(ctx context.Context, id string) error
	QuestionByID(ctx context.Context, id string) (domain.Question, error)
	QuestionsOn(ctx context.Context, epoch int64, date string) ([]domain.Question, error)
	Questions(ctx context.Context, epoch int64) ([]domain.Question, error)
}

// SubmissionBuilder assembles the record to persist, given the answer order
// and previous-score signal the ledger computed inside its critical section.
// hasPrevious is false when the participant has no prior submission at all.
type SubmissionBuilder func(answerOrder int, previousScore decimal.Decimal, hasPrevious bool) (domain.Submission, error)

// SubmissionLedger owns the at-most-one-submission-per-pair invariant and the
// gap-free assignment of answer orders. Append runs the uniqueness check, the
// order count, the previous-score lookup and the insert atomically with
// respect to concurrent appends.
type SubmissionLedger interface {
	Append(ctx context.Context, participantID, questionID string, build SubmissionBuilder) (domain.Submission, error)
	HasSubmission(ctx context.Context, participantID, questionID string) (bool, error)
	BoardRows(ctx context.Context, epoch int64, date string) ([]domain.BoardRow, error)
	DeleteSubmissionsFor(ctx context.Context, questionID string) (int, error)
	ExportRows(ctx context.Context, epoch int64) ([]domain.ExportRow, error)
}

// ParticipantStore manages name↔device identification and ban state.
type ParticipantStore interface {
	// Identify returns the participant bound to (name, deviceID), creating it
	// when neither side is bound yet. Crossed bindings fail with
	// domain.ErrNameDeviceConflict.
	Identify(ctx context.Context, name, deviceID string) (domain.Participant, error)
	ParticipantByID(ctx context.Context, id string) (domain.Participant, error)
	SetBanned(ctx context.Context, id string, banned bool) error
	Touch(ctx context.Context, id string, at time.Time) error
}

// Store is the durable store the contest runs on.
type Store interface {
	EpochStore
	QuestionStore
	SubmissionLedger
	ParticipantStore
}

// HeartbeatSink receives best-effort liveness signals (e.g. a Redis TTL key).
type HeartbeatSink interface {
	Beat(ctx context.Context, participantID string, at time.Time) error
}

// ContestService contains the contest use cases: question delivery, scored
// submission, standings and the epoch reset.
type ContestService struct {
	store      Store
	now        func() time.Time
	heartbeats HeartbeatSink
	feed       boardFeed
}

func NewContestService(store Store) *ContestService {
	return NewContestServiceWithClock(store, time.Now)
}

// NewContestServiceWithClock allows deterministic timestamps in tests.
func NewContestServiceWithClock(store Store, now func() time.Time) *ContestService {
	s := &ContestService{store: store, now: now}
	s.feed.init()
	return s
}

// AttachHeartbeats wires an optional liveness sink; heartbeats stay
// best-effort and never fail a submission.
func (s *ContestService) AttachHeartbeats(sink HeartbeatSink) {
	s.heartbeats = sink
}

const (
	dateLayout = "2006-01-02"
	slotLayout = "15:04"
)

// Identify resolves or creates the participant for a (name, device) pair.
func (s *ContestService) Identify(ctx context.Context, name, deviceID string) (domain.Participant, error) {
	if name == "" || deviceID == "" {
		return domain.Participant{}, fmt.Errorf("%w: name and device id are required", domain.ErrInvalidInput)
	}
	participant, err := s.store.Identify(ctx, name, deviceID)
	if err != nil {
		return domain.Participant{}, err
	}
	if participant.Banned {
		return domain.Participant{}, domain.ErrBanned
	}
	s.Heartbeat(ctx, participant.ID)
	return participant, nil
}

// Heartbeat refreshes a participant's last-active timestamp. Last write wins;
// failures are swallowed because liveness never gates a submission.
func (s *ContestService) Heartbeat(ctx context.Context, participantID string) {
	now := s.now()
	_ = s.store.Touch(ctx, participantID, now)
	if s.heartbeats != nil {
		_ = s.heartbeats.Beat(ctx, participantID, now)
	}
}

// ResolveVisibleQuestion returns the question the participant may answer
// right now, or nil when none is open or today's question is already
// answered.
func (s *ContestService) ResolveVisibleQuestion(ctx context.Context, participantID string) (*domain.QuestionView, error) {
	participant, err := s.store.ParticipantByID(ctx, participantID)
	if err != nil {
		return nil, err
	}
	if participant.Banned {
		return nil, domain.ErrBanned
	}

	epoch, err := s.store.CurrentEpoch(ctx)
	if err != nil {
		return nil, err
	}

	now := s.now()
	today := now.Format(dateLayout)
	wallClock := now.Format(slotLayout)

	questions, err := s.store.QuestionsOn(ctx, epoch, today)
	if err != nil {
		return nil, err
	}

	var pick *domain.Question
	for i := range questions {
		q := &questions[i]
		if !q.Active {
			continue
		}
		// Zero-padded HH:mm strings order lexicographically the same way
		// they order chronologically; an empty slot is open immediately.
		if q.ScheduledTime != "" && q.ScheduledTime > wallClock {
			continue
		}
		if pick == nil || laterSlot(*q, *pick) {
			pick = q
		}
	}
	if pick == nil {
		return nil, nil
	}

	answered, err := s.store.HasSubmission(ctx, participantID, pick.ID)
	if err != nil {
		return nil, err
	}
	if answered {
		return nil, nil
	}

	view := pick.View()
	return &view, nil
}

// laterSlot reports whether a opened later than b: the most recently opened
// slot wins, with the higher day order breaking ties. A question without a
// slot compares as "00:00", so it yields to any opened timed question.
func laterSlot(a, b domain.Question) bool {
	at, bt := a.ScheduledTime, b.ScheduledTime
	if at == "" {
		at = "00:00"
	}
	if bt == "" {
		bt = "00:00"
	}
	if at != bt {
		return at > bt
	}
	return a.DayOrder > b.DayOrder
}

// SubmitRequest carries one answer into the ledger. A non-empty ForcedReason
// marks an auto-submission: the answer index is discarded and the reason is
// stored verbatim.
type SubmitRequest struct {
	ParticipantID string
	QuestionID    string
	AnswerIndex   *int
	DeviceID      string
	ForcedReason  string
}

// Submit scores and records one answer. It fails with
// domain.ErrAlreadySubmitted on a duplicate pair and never persists a partial
// record.
func (s *ContestService) Submit(ctx context.Context, req SubmitRequest) (domain.Submission, error) {
	participant, err := s.store.ParticipantByID(ctx, req.ParticipantID)
	if err != nil {
		return domain.Submission{}, err
	}
	if participant.Banned {
		return domain.Submission{}, domain.ErrBanned
	}

	question, err := s.store.QuestionByID(ctx, req.QuestionID)
	if err != nil {
		return domain.Submission{}, err
	}

	answer := req.AnswerIndex
	forced := req.ForcedReason != ""
	if forced {
		answer = nil
	}
	if answer != nil && (*answer < 0 || *answer >= domain.OptionCount) {
		return domain.Submission{}, fmt.Errorf("%w: answer index %d out of range", domain.ErrInvalidInput, *answer)
	}

	epoch, err := s.store.CurrentEpoch(ctx)
	if err != nil {
		return domain.Submission{}, err
	}
	now := s.now()

	submission, err := s.store.Append(ctx, participant.ID, question.ID,
		func(answerOrder int, previousScore decimal.Decimal, hasPrevious bool) (domain.Submission, error) {
			if !hasPrevious {
				previousScore = FirstSubmissionScore
			}
			return domain.Submission{
				ID:               uuid.NewString(),
				ParticipantID:    participant.ID,
				QuestionID:       question.ID,
				AnswerIndex:      answer,
				ScoreBreakdown:   Score(question, answer, answerOrder, previousScore),
				DeviceID:         req.DeviceID,
				AutoSubmitted:    forced,
				AutoSubmitReason: req.ForcedReason,
				Epoch:            epoch,
				SubmittedAt:      now,
			}, nil
		})
	if err != nil {
		return domain.Submission{}, err
	}

	s.Heartbeat(ctx, participant.ID)
	s.publishBoard(ctx)
	return submission, nil
}

// Leaderboard aggregates standings for the current epoch, optionally limited
// to questions on one date (empty date means epoch-wide).
func (s *ContestService) Leaderboard(ctx context.Context, date string) (domain.Leaderboard, error) {
	epoch, err := s.store.CurrentEpoch(ctx)
	if err != nil {
		return domain.Leaderboard{}, err
	}
	rows, err := s.store.BoardRows(ctx, epoch, date)
	if err != nil {
		return domain.Leaderboard{}, err
	}

	type standing struct {
		id       string
		name     string
		total    decimal.Decimal
		correct  int
		orderSum int
		count    int
	}
	byParticipant := make(map[string]*standing)
	for _, row := range rows {
		st, ok := byParticipant[row.ParticipantID]
		if !ok {
			st = &standing{id: row.ParticipantID, name: row.Name, total: decimal.Zero}
			byParticipant[row.ParticipantID] = st
		}
		st.total = st.total.Add(row.FinalScore)
		if row.Status == domain.StatusCorrect {
			st.correct++
		}
		st.orderSum += row.AnswerOrder
		st.count++
	}

	entries := make([]domain.LeaderboardEntry, 0, len(byParticipant))
	for _, st := range byParticipant {
		entries = append(entries, domain.LeaderboardEntry{
			ParticipantID:  st.id,
			Name:           st.name,
			TotalScore:     st.total,
			CorrectCount:   st.correct,
			AvgAnswerOrder: float64(st.orderSum) / float64(st.count),
		})
	}

	sort.Slice(entries, func(i, j int) bool {
		if c := entries[i].TotalScore.Cmp(entries[j].TotalScore); c != 0 {
			return c > 0
		}
		if entries[i].CorrectCount != entries[j].CorrectCount {
			return entries[i].CorrectCount > entries[j].CorrectCount
		}
		if entries[i].AvgAnswerOrder != entries[j].AvgAnswerOrder {
			return entries[i].AvgAnswerOrder < entries[j].AvgAnswerOrder
		}
		return entries[i].Name < entries[j].Name
	})
	// Ranks are positional: full ties still get distinct consecutive ranks.
	for i := range entries {
		entries[i].Rank = i + 1
	}

	return domain.Leaderboard{
		Epoch:     epoch,
		Date:      date,
		Entries:   entries,
		UpdatedAt: s.now(),
	}, nil
}

// CurrentEpoch exposes the epoch new writes are tagged with.
func (s *ContestService) CurrentEpoch(ctx context.Context) (int64, error) {
	return s.store.CurrentEpoch(ctx)
}

// PerformReset starts a new scoring season. History keeps its epoch tag and
// stays queryable; only what counts as "current" changes.
func (s *ContestService) PerformReset(ctx context.Context) (int64, error) {
	epoch, err := s.store.AdvanceEpoch(ctx)
	if err != nil {
		return 0, err
	}
	s.publishBoard(ctx)
	return epoch, nil
}

// QuestionInput is the operator-supplied shape for catalog writes.
type QuestionInput struct {
	Content       string   `json:"content"`
	Options       []string `json:"options"`
	CorrectIndex  int      `json:"correctIndex"`
	Date          string   `json:"date"`
	DayOrder      int      `json:"dayOrder"`
	ScheduledTime string   `json:"scheduledTime"`
	Active        bool     `json:"active"`
}

func (in QuestionInput) validate() error {
	if in.Content == "" {
		return fmt.Errorf("%w: content is required", domain.ErrInvalidInput)
	}
	if len(in.Options) != domain.OptionCount {
		return fmt.Errorf("%w: exactly %d options are required", domain.ErrInvalidInput, domain.OptionCount)
	}
	for i, opt := range in.Options {
		if opt == "" {
			return fmt.Errorf("%w: option %d is empty", domain.ErrInvalidInput, i)
		}
	}
	if in.CorrectIndex < 0 || in.CorrectIndex >= domain.OptionCount {
		return fmt.Errorf("%w: correct index %d out of range", domain.ErrInvalidInput, in.CorrectIndex)
	}
	if _, err := time.Parse(dateLayout, in.Date); err != nil {
		return fmt.Errorf("%w: date must be YYYY-MM-DD", domain.ErrInvalidInput)
	}
	if in.ScheduledTime != "" {
		if _, err := time.Parse(slotLayout, in.ScheduledTime); err != nil {
			return fmt.Errorf("%w: scheduled time must be HH:mm", domain.ErrInvalidInput)
		}
	}
	return nil
}

// Questions lists the catalog for the current epoch.
func (s *ContestService) Questions(ctx context.Context) ([]domain.Question, error) {
	epoch, err := s.store.CurrentEpoch(ctx)
	if err != nil {
		return nil, err
	}
	return s.store.Questions(ctx, epoch)
}

// CreateQuestion adds a question tagged with the current epoch.
func (s *ContestService) CreateQuestion(ctx context.Context, in QuestionInput) (domain.Question, error) {
	if err := in.validate(); err != nil {
		return domain.Question{}, err
	}
	epoch, err := s.store.CurrentEpoch(ctx)
	if err != nil {
		return domain.Question{}, err
	}
	dayOrder := in.DayOrder
	if dayOrder <= 0 {
		dayOrder = 1
	}
	question := domain.Question{
		ID:            uuid.NewString(),
		Content:       in.Content,
		Options:       append([]string(nil), in.Options...),
		CorrectIndex:  in.CorrectIndex,
		Date:          in.Date,
		DayOrder:      dayOrder,
		ScheduledTime: in.ScheduledTime,
		Active:        in.Active,
		Epoch:         epoch,
		CreatedAt:     s.now(),
	}
	if err := s.store.CreateQuestion(ctx, &question); err != nil {
		return domain.Question{}, err
	}
	return question, nil
}

// UpdateQuestion rewrites a question's content and scheduling. The epoch tag
// and creation time never change on update.
func (s *ContestService) UpdateQuestion(ctx context.Context, id string, in QuestionInput) (domain.Question, error) {
	if err := in.validate(); err != nil {
		return domain.Question{}, err
	}
	question, err := s.store.QuestionByID(ctx, id)
	if err != nil {
		return domain.Question{}, err
	}
	question.Content = in.Content
	question.Options = append([]string(nil), in.Options...)
	question.CorrectIndex = in.CorrectIndex
	question.Date = in.Date
	if in.DayOrder > 0 {
		question.DayOrder = in.DayOrder
	}
	question.ScheduledTime = in.ScheduledTime
	question.Active = in.Active
	if err := s.store.UpdateQuestion(ctx, &question); err != nil {
		return domain.Question{}, err
	}
	return question, nil
}

// DeleteQuestion removes a question; it fails with domain.ErrDeleteBlocked
// while submissions still reference it, never cascading.
func (s *ContestService) DeleteQuestion(ctx context.Context, id string) error {
	return s.store.DeleteQuestion(ctx, id)
}

// ClearSubmissions deletes a question's submissions, the operator's explicit
// path to unblock a question delete. Returns the number removed.
func (s *ContestService) ClearSubmissions(ctx context.Context, questionID string) (int, error) {
	if _, err := s.store.QuestionByID(ctx, questionID); err != nil {
		return 0, err
	}
	removed, err := s.store.DeleteSubmissionsFor(ctx, questionID)
	if err != nil {
		return 0, err
	}
	s.publishBoard(ctx)
	return removed, nil
}

// Export returns the flat submission rows of the current epoch for offline
// reporting.
func (s *ContestService) Export(ctx context.Context) ([]domain.ExportRow, error) {
	epoch, err := s.store.CurrentEpoch(ctx)
	if err != nil {
		return nil, err
	}
	return s.store.ExportRows(ctx, epoch)
}

// Stats summarizes the current epoch for the admin surface.
func (s *ContestService) Stats(ctx context.Context) (domain.Stats, error) {
	epoch, err := s.store.CurrentEpoch(ctx)
	if err != nil {
		return domain.Stats{}, err
	}
	rows, err := s.store.BoardRows(ctx, epoch, "")
	if err != nil {
		return domain.Stats{}, err
	}
	stats := domain.Stats{Epoch: epoch}
	seen := make(map[string]struct{})
	for _, row := range rows {
		if _, ok := seen[row.ParticipantID]; !ok {
			seen[row.ParticipantID] = struct{}{}
			stats.Participants++
		}
		stats.Submissions++
		if row.Status == domain.StatusCorrect {
			stats.CorrectAnswers++
		}
	}
	return stats, nil
}

// SetBanned toggles a participant's ban flag.
func (s *ContestService) SetBanned(ctx context.Context, participantID string, banned bool) error {
	return s.store.SetBanned(ctx, participantID, banned)
}
