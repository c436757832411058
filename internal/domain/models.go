package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// SubmissionStatus classifies the outcome of a submission.
type SubmissionStatus string

const (
	StatusCorrect     SubmissionStatus = "CORRECT"
	StatusWrong       SubmissionStatus = "WRONG"
	StatusUnattempted SubmissionStatus = "UNATTEMPTED"
)

// OptionCount is the fixed number of answer options per question.
const OptionCount = 4

// Question is one MCQ scheduled for a calendar date. Date is an opaque
// YYYY-MM-DD string and ScheduledTime an HH:mm wall-clock string; both are
// compared lexicographically, never converted between time zones.
type Question struct {
	ID            string    `json:"id"`
	Content       string    `json:"content"`
	Options       []string  `json:"options"`
	CorrectIndex  int       `json:"correctIndex"`
	Date          string    `json:"date"`
	DayOrder      int       `json:"dayOrder"`
	ScheduledTime string    `json:"scheduledTime,omitempty"` // empty means immediate
	Active        bool      `json:"active"`
	Epoch         int64     `json:"epoch"`
	CreatedAt     time.Time `json:"createdAt"`
}

// QuestionView is the participant-facing projection of a Question.
// It never carries the correct answer index.
type QuestionView struct {
	ID       string   `json:"id"`
	Content  string   `json:"content"`
	Options  []string `json:"options"`
	Date     string   `json:"date"`
	DayOrder int      `json:"dayOrder"`
}

// View strips the answer key from a question.
func (q Question) View() QuestionView {
	options := make([]string, len(q.Options))
	copy(options, q.Options)
	return QuestionView{
		ID:       q.ID,
		Content:  q.Content,
		Options:  options,
		Date:     q.Date,
		DayOrder: q.DayOrder,
	}
}

// Participant is a player identified by a name permanently bound to one
// device. The binding is bijective; neither side may ever be rebound.
type Participant struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	DeviceID     string    `json:"deviceId"`
	Banned       bool      `json:"banned"`
	LastActiveAt time.Time `json:"lastActiveAt"`
}

// ScoreBreakdown holds every intermediate scoring component so a stored
// submission can be re-displayed without recomputation.
type ScoreBreakdown struct {
	Status            SubmissionStatus `json:"status"`
	AnswerOrder       int              `json:"answerOrder"`
	WrongAttemptOrder int              `json:"wrongAttemptOrder"`
	BaseMarks         decimal.Decimal  `json:"baseMarks"`
	DeductionMarks    decimal.Decimal  `json:"deductionMarks"`
	BonusPercent      decimal.Decimal  `json:"bonusPercent"`
	ExtraApplied      bool             `json:"extraApplied"`
	FinalScore        decimal.Decimal  `json:"finalScore"`
}

// Submission is the immutable record of one participant's answer to one
// question. At most one exists per (participant, question) pair.
type Submission struct {
	ID            string `json:"id"`
	ParticipantID string `json:"participantId"`
	QuestionID    string `json:"questionId"`
	AnswerIndex   *int   `json:"answerIndex"` // nil denotes a forced/empty submission
	ScoreBreakdown
	DeviceID         string    `json:"deviceId"`
	AutoSubmitted    bool      `json:"autoSubmitted"`
	AutoSubmitReason string    `json:"autoSubmitReason,omitempty"`
	Epoch            int64     `json:"epoch"`
	SubmittedAt      time.Time `json:"submittedAt"`
}

// LeaderboardEntry is one ranked row of the standings. Ranks are dense and
// purely positional; exact ties still receive distinct consecutive ranks.
type LeaderboardEntry struct {
	Rank           int             `json:"rank"`
	ParticipantID  string          `json:"participantId"`
	Name           string          `json:"name"`
	TotalScore     decimal.Decimal `json:"totalScore"`
	CorrectCount   int             `json:"correctCount"`
	AvgAnswerOrder float64         `json:"avgAnswerOrder"`
}

// Leaderboard is a snapshot of the standings for one epoch.
type Leaderboard struct {
	Epoch     int64              `json:"epoch"`
	Date      string             `json:"date,omitempty"` // empty when epoch-wide
	Entries   []LeaderboardEntry `json:"entries"`
	UpdatedAt time.Time          `json:"updatedAt"`
}

// BoardRow is the flat join the aggregator consumes: one submission plus the
// participant identity it belongs to.
type BoardRow struct {
	ParticipantID string
	Name          string
	Status        SubmissionStatus
	AnswerOrder   int
	FinalScore    decimal.Decimal
}

// ExportRow is the flat projection of one submission for offline reporting.
type ExportRow struct {
	ParticipantName  string
	QuestionText     string
	QuestionDate     string
	Status           SubmissionStatus
	AnswerOrder      int
	BaseMarks        decimal.Decimal
	DeductionMarks   decimal.Decimal
	BonusPercent     decimal.Decimal
	ExtraApplied     bool
	FinalScore       decimal.Decimal
	AutoSubmitted    bool
	AutoSubmitReason string
	Epoch            int64
	SubmittedAt      time.Time
}

// Stats is the admin summary for one epoch.
type Stats struct {
	Epoch          int64 `json:"epoch"`
	Participants   int   `json:"participants"`
	Submissions    int   `json:"submissions"`
	CorrectAnswers int   `json:"correctAnswers"`
}
