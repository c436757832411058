// Package postgres implements the contest store on PostgreSQL via pgx.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/shopspring/decimal"

	"daily-quiz-service/internal/app"
	"daily-quiz-service/internal/domain"
)

const (
	pgUniqueViolation      = "23505"
	pgSerializationFailure = "40001"

	// submitRetries bounds optimistic retries when concurrent submissions
	// for the same question collide at the serializable isolation level.
	submitRetries = 10

	pairConstraint  = "submissions_pair_key"
	orderConstraint = "submissions_order_key"
)

// Store is the durable contest store. The submission path runs under
// serializable isolation so the uniqueness check, the answer-order count and
// the insert observe one consistent ledger state.
type Store struct {
	pool *pgxpool.Pool
}

var _ app.Store = (*Store)(nil)

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) CurrentEpoch(ctx context.Context) (int64, error) {
	var epoch int64
	err := s.pool.QueryRow(ctx, `SELECT current_epoch FROM epoch_state WHERE id = 1`).Scan(&epoch)
	if err != nil {
		return 0, fmt.Errorf("current epoch: %w", err)
	}
	return epoch, nil
}

// AdvanceEpoch bumps the counter in a single atomic statement; a lost update
// here would silently merge new writes into the prior epoch.
func (s *Store) AdvanceEpoch(ctx context.Context) (int64, error) {
	var epoch int64
	err := s.pool.QueryRow(ctx,
		`UPDATE epoch_state SET current_epoch = current_epoch + 1, reset_at = now() WHERE id = 1 RETURNING current_epoch`,
	).Scan(&epoch)
	if err != nil {
		return 0, fmt.Errorf("advance epoch: %w", err)
	}
	return epoch, nil
}

func (s *Store) CreateQuestion(ctx context.Context, q *domain.Question) error {
	options, err := json.Marshal(q.Options)
	if err != nil {
		return fmt.Errorf("encode options: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO questions (id, content, options, correct_index, quiz_date, day_order, scheduled_time, active, epoch, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		q.ID, q.Content, options, q.CorrectIndex, q.Date, q.DayOrder, q.ScheduledTime, q.Active, q.Epoch, q.CreatedAt)
	if err != nil {
		return fmt.Errorf("create question: %w", err)
	}
	return nil
}

func (s *Store) UpdateQuestion(ctx context.Context, q *domain.Question) error {
	options, err := json.Marshal(q.Options)
	if err != nil {
		return fmt.Errorf("encode options: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE questions
		SET content = $2, options = $3, correct_index = $4, quiz_date = $5,
		    day_order = $6, scheduled_time = $7, active = $8
		WHERE id = $1`,
		q.ID, q.Content, options, q.CorrectIndex, q.Date, q.DayOrder, q.ScheduledTime, q.Active)
	if err != nil {
		return fmt.Errorf("update question: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrQuestionNotFound
	}
	return nil
}

// DeleteQuestion refuses to cascade: dependents must be removed explicitly
// first, so submission history is never lost by accident.
func (s *Store) DeleteQuestion(ctx context.Context, id string) error {
	var dependents int
	err := s.pool.QueryRow(ctx, `SELECT count(*) FROM submissions WHERE question_id = $1`, id).Scan(&dependents)
	if err != nil {
		return fmt.Errorf("count dependents: %w", err)
	}
	if dependents > 0 {
		return domain.ErrDeleteBlocked
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM questions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete question: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrQuestionNotFound
	}
	return nil
}

const questionColumns = `id, content, options, correct_index, quiz_date, day_order, scheduled_time, active, epoch, created_at`

func (s *Store) QuestionByID(ctx context.Context, id string) (domain.Question, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+questionColumns+` FROM questions WHERE id = $1`, id)
	q, err := scanQuestion(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Question{}, domain.ErrQuestionNotFound
	}
	if err != nil {
		return domain.Question{}, fmt.Errorf("question by id: %w", err)
	}
	return q, nil
}

func (s *Store) QuestionsOn(ctx context.Context, epoch int64, date string) ([]domain.Question, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+questionColumns+` FROM questions WHERE epoch = $1 AND quiz_date = $2 ORDER BY day_order`,
		epoch, date)
	if err != nil {
		return nil, fmt.Errorf("questions on date: %w", err)
	}
	defer rows.Close()
	return collectQuestions(rows)
}

func (s *Store) Questions(ctx context.Context, epoch int64) ([]domain.Question, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+questionColumns+` FROM questions WHERE epoch = $1 ORDER BY quiz_date, day_order`,
		epoch)
	if err != nil {
		return nil, fmt.Errorf("questions: %w", err)
	}
	defer rows.Close()
	return collectQuestions(rows)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanQuestion(row rowScanner) (domain.Question, error) {
	var q domain.Question
	var options []byte
	err := row.Scan(&q.ID, &q.Content, &options, &q.CorrectIndex, &q.Date,
		&q.DayOrder, &q.ScheduledTime, &q.Active, &q.Epoch, &q.CreatedAt)
	if err != nil {
		return domain.Question{}, err
	}
	if err := json.Unmarshal(options, &q.Options); err != nil {
		return domain.Question{}, fmt.Errorf("decode options: %w", err)
	}
	return q, nil
}

func collectQuestions(rows pgx.Rows) ([]domain.Question, error) {
	var out []domain.Question
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

// Append inserts one submission inside a serializable transaction. The count
// that yields the answer order, the previous-score lookup and the insert all
// see the same snapshot; conflicting writers are retried, and the unique
// (participant_id, question_id) constraint backstops the duplicate check.
func (s *Store) Append(ctx context.Context, participantID, questionID string, build app.SubmissionBuilder) (domain.Submission, error) {
	var lastErr error
	for attempt := 0; attempt < submitRetries; attempt++ {
		submission, err := s.appendOnce(ctx, participantID, questionID, build)
		if err == nil {
			return submission, nil
		}
		if isSerializationFailure(err) || uniqueViolationOn(err, orderConstraint) {
			lastErr = err
			continue
		}
		return domain.Submission{}, err
	}
	return domain.Submission{}, fmt.Errorf("append submission: retries exhausted: %w", lastErr)
}

func (s *Store) appendOnce(ctx context.Context, participantID, questionID string, build app.SubmissionBuilder) (domain.Submission, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return domain.Submission{}, fmt.Errorf("begin submit tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var exists bool
	err = tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM questions WHERE id = $1)`, questionID).Scan(&exists)
	if err != nil {
		return domain.Submission{}, fmt.Errorf("check question: %w", err)
	}
	if !exists {
		return domain.Submission{}, domain.ErrQuestionNotFound
	}

	var submitted bool
	err = tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM submissions WHERE participant_id = $1 AND question_id = $2)`,
		participantID, questionID).Scan(&submitted)
	if err != nil {
		return domain.Submission{}, fmt.Errorf("check pair: %w", err)
	}
	if submitted {
		return domain.Submission{}, domain.ErrAlreadySubmitted
	}

	var count int
	err = tx.QueryRow(ctx,
		`SELECT count(*) FROM submissions WHERE question_id = $1`, questionID).Scan(&count)
	if err != nil {
		return domain.Submission{}, fmt.Errorf("count submissions: %w", err)
	}

	// Most recent prior submission across all epochs; absence is signaled to
	// the builder, which substitutes the first-submission sentinel.
	var prevText string
	hasPrevious := true
	err = tx.QueryRow(ctx,
		`SELECT final_score::text FROM submissions
		 WHERE participant_id = $1 ORDER BY submitted_at DESC, id DESC LIMIT 1`,
		participantID).Scan(&prevText)
	if errors.Is(err, pgx.ErrNoRows) {
		hasPrevious = false
	} else if err != nil {
		return domain.Submission{}, fmt.Errorf("previous score: %w", err)
	}
	previous := decimal.Zero
	if hasPrevious {
		previous, err = decimal.NewFromString(prevText)
		if err != nil {
			return domain.Submission{}, fmt.Errorf("parse previous score: %w", err)
		}
	}

	submission, err := build(count+1, previous, hasPrevious)
	if err != nil {
		return domain.Submission{}, err
	}

	var answerIndex sql.NullInt32
	if submission.AnswerIndex != nil {
		answerIndex = sql.NullInt32{Int32: int32(*submission.AnswerIndex), Valid: true}
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO submissions (
			id, participant_id, question_id, answer_index, status,
			answer_order, wrong_attempt_order, base_marks, deduction_marks,
			bonus_percent, extra_applied, final_score, device_id,
			auto_submitted, auto_submit_reason, epoch, submitted_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		submission.ID, submission.ParticipantID, submission.QuestionID, answerIndex, string(submission.Status),
		submission.AnswerOrder, submission.WrongAttemptOrder, submission.BaseMarks.String(), submission.DeductionMarks.String(),
		submission.BonusPercent.String(), submission.ExtraApplied, submission.FinalScore.String(), submission.DeviceID,
		submission.AutoSubmitted, submission.AutoSubmitReason, submission.Epoch, submission.SubmittedAt)
	if err != nil {
		if uniqueViolationOn(err, pairConstraint) {
			return domain.Submission{}, domain.ErrAlreadySubmitted
		}
		// An answer_order collision surfaces as the order constraint and is
		// retried by Append.
		return domain.Submission{}, fmt.Errorf("insert submission: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.Submission{}, fmt.Errorf("commit submit tx: %w", err)
	}
	return submission, nil
}

func (s *Store) HasSubmission(ctx context.Context, participantID, questionID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM submissions WHERE participant_id = $1 AND question_id = $2)`,
		participantID, questionID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("has submission: %w", err)
	}
	return exists, nil
}

func (s *Store) BoardRows(ctx context.Context, epoch int64, date string) ([]domain.BoardRow, error) {
	query := `
		SELECT s.participant_id, p.name, s.status, s.answer_order, s.final_score::text
		FROM submissions s
		JOIN participants p ON p.id = s.participant_id
		JOIN questions q ON q.id = s.question_id
		WHERE s.epoch = $1`
	args := []interface{}{epoch}
	if date != "" {
		query += ` AND q.quiz_date = $2`
		args = append(args, date)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("board rows: %w", err)
	}
	defer rows.Close()

	var out []domain.BoardRow
	for rows.Next() {
		var row domain.BoardRow
		var status, score string
		if err := rows.Scan(&row.ParticipantID, &row.Name, &status, &row.AnswerOrder, &score); err != nil {
			return nil, fmt.Errorf("scan board row: %w", err)
		}
		row.Status = domain.SubmissionStatus(status)
		if row.FinalScore, err = decimal.NewFromString(score); err != nil {
			return nil, fmt.Errorf("parse final score: %w", err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (s *Store) DeleteSubmissionsFor(ctx context.Context, questionID string) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM submissions WHERE question_id = $1`, questionID)
	if err != nil {
		return 0, fmt.Errorf("delete submissions: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *Store) ExportRows(ctx context.Context, epoch int64) ([]domain.ExportRow, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT p.name, q.content, q.quiz_date, s.status, s.answer_order,
		       s.base_marks::text, s.deduction_marks::text, s.bonus_percent::text,
		       s.extra_applied, s.final_score::text,
		       s.auto_submitted, s.auto_submit_reason, s.epoch, s.submitted_at
		FROM submissions s
		JOIN participants p ON p.id = s.participant_id
		JOIN questions q ON q.id = s.question_id
		WHERE s.epoch = $1
		ORDER BY s.submitted_at`, epoch)
	if err != nil {
		return nil, fmt.Errorf("export rows: %w", err)
	}
	defer rows.Close()

	var out []domain.ExportRow
	for rows.Next() {
		var row domain.ExportRow
		var status, base, deduction, bonus, final string
		err := rows.Scan(&row.ParticipantName, &row.QuestionText, &row.QuestionDate, &status, &row.AnswerOrder,
			&base, &deduction, &bonus, &row.ExtraApplied, &final,
			&row.AutoSubmitted, &row.AutoSubmitReason, &row.Epoch, &row.SubmittedAt)
		if err != nil {
			return nil, fmt.Errorf("scan export row: %w", err)
		}
		row.Status = domain.SubmissionStatus(status)
		if row.BaseMarks, err = decimal.NewFromString(base); err != nil {
			return nil, err
		}
		if row.DeductionMarks, err = decimal.NewFromString(deduction); err != nil {
			return nil, err
		}
		if row.BonusPercent, err = decimal.NewFromString(bonus); err != nil {
			return nil, err
		}
		if row.FinalScore, err = decimal.NewFromString(final); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// Identify resolves the bijective name↔device binding. The unique constraints
// on both columns backstop concurrent first identifications.
func (s *Store) Identify(ctx context.Context, name, deviceID string) (domain.Participant, error) {
	byName, nameErr := s.participantBy(ctx, "name", name)
	if nameErr != nil && !errors.Is(nameErr, domain.ErrParticipantNotFound) {
		return domain.Participant{}, nameErr
	}
	byDevice, deviceErr := s.participantBy(ctx, "device_id", deviceID)
	if deviceErr != nil && !errors.Is(deviceErr, domain.ErrParticipantNotFound) {
		return domain.Participant{}, deviceErr
	}

	nameBound := nameErr == nil
	deviceBound := deviceErr == nil
	switch {
	case nameBound && deviceBound && byName.ID == byDevice.ID:
		return byName, nil
	case nameBound || deviceBound:
		return domain.Participant{}, domain.ErrNameDeviceConflict
	}

	p := domain.Participant{Name: name, DeviceID: deviceID, LastActiveAt: time.Now()}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO participants (id, name, device_id, banned, last_active_at)
		VALUES (gen_random_uuid(), $1, $2, false, $3)
		RETURNING id`,
		name, deviceID, p.LastActiveAt).Scan(&p.ID)
	if err != nil {
		if isUniqueViolation(err) {
			// Lost a race with another first identification; one more read
			// settles whether it was the same pair.
			return s.Identify(ctx, name, deviceID)
		}
		return domain.Participant{}, fmt.Errorf("create participant: %w", err)
	}
	return p, nil
}

func (s *Store) participantBy(ctx context.Context, column, value string) (domain.Participant, error) {
	var p domain.Participant
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, device_id, banned, last_active_at FROM participants WHERE `+column+` = $1`,
		value).Scan(&p.ID, &p.Name, &p.DeviceID, &p.Banned, &p.LastActiveAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Participant{}, domain.ErrParticipantNotFound
	}
	if err != nil {
		return domain.Participant{}, fmt.Errorf("participant by %s: %w", column, err)
	}
	return p, nil
}

func (s *Store) ParticipantByID(ctx context.Context, id string) (domain.Participant, error) {
	return s.participantBy(ctx, "id", id)
}

func (s *Store) SetBanned(ctx context.Context, id string, banned bool) error {
	tag, err := s.pool.Exec(ctx, `UPDATE participants SET banned = $2 WHERE id = $1`, id, banned)
	if err != nil {
		return fmt.Errorf("set banned: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrParticipantNotFound
	}
	return nil
}

// Touch is last-write-wins by timestamp and never joins the submission
// transaction.
func (s *Store) Touch(ctx context.Context, id string, at time.Time) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE participants SET last_active_at = $2 WHERE id = $1 AND last_active_at < $2`,
		id, at)
	if err != nil {
		return fmt.Errorf("touch participant: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

func uniqueViolationOn(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation && pgErr.ConstraintName == constraint
}

func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgSerializationFailure
}
