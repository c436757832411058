package app

import (
	"testing"

	"github.com/shopspring/decimal"

	"daily-quiz-service/internal/domain"
)

func scoringQuestion() domain.Question {
	return domain.Question{
		ID:           "q1",
		Content:      "Pick the right option",
		Options:      []string{"a", "b", "c", "d"},
		CorrectIndex: 2,
	}
}

func intPtr(v int) *int { return &v }

func requireDecimal(t *testing.T, got decimal.Decimal, want string, field string) {
	t.Helper()
	if !got.Equal(decimal.RequireFromString(want)) {
		t.Fatalf("%s = %s, want %s", field, got, want)
	}
}

func TestScoreFirstResponderNoBonus(t *testing.T) {
	b := Score(scoringQuestion(), intPtr(2), 1, decimal.NewFromInt(100))

	if b.Status != domain.StatusCorrect {
		t.Fatalf("status = %s, want CORRECT", b.Status)
	}
	requireDecimal(t, b.BaseMarks, "500", "base marks")
	requireDecimal(t, b.BonusPercent, "0.6", "bonus percent")
	if b.ExtraApplied {
		t.Fatalf("bonus applied despite positive previous score")
	}
	requireDecimal(t, b.FinalScore, "500", "final score")
}

func TestScoreRecoveryBonusApplied(t *testing.T) {
	b := Score(scoringQuestion(), intPtr(2), 1, decimal.NewFromInt(-10))

	if !b.ExtraApplied {
		t.Fatalf("expected recovery bonus for previous score <= 0")
	}
	requireDecimal(t, b.BaseMarks, "500", "base marks")
	requireDecimal(t, b.BonusPercent, "0.6", "bonus percent")
	requireDecimal(t, b.FinalScore, "800", "final score")
}

func TestScoreZeroPreviousIsEligible(t *testing.T) {
	b := Score(scoringQuestion(), intPtr(2), 2, decimal.Zero)

	if !b.ExtraApplied {
		t.Fatalf("previous score of exactly 0 must be eligible")
	}
	requireDecimal(t, b.BaseMarks, "490", "base marks")
	requireDecimal(t, b.BonusPercent, "0.5", "bonus percent")
	requireDecimal(t, b.FinalScore, "735", "final score")
}

func TestScoreSixthResponder(t *testing.T) {
	b := Score(scoringQuestion(), intPtr(2), 6, decimal.NewFromInt(50))

	requireDecimal(t, b.BaseMarks, "450", "base marks")
	requireDecimal(t, b.BonusPercent, "0.1", "bonus percent")
	if b.ExtraApplied {
		t.Fatalf("bonus applied despite positive previous score")
	}
	requireDecimal(t, b.FinalScore, "450", "final score")
}

func TestScoreBonusExhaustedFromSeventh(t *testing.T) {
	b := Score(scoringQuestion(), intPtr(2), 7, decimal.NewFromInt(-5))

	requireDecimal(t, b.BonusPercent, "0", "bonus percent")
	if !b.ExtraApplied {
		t.Fatalf("eligibility is independent of the percentage value")
	}
	requireDecimal(t, b.FinalScore, "440", "final score")
}

func TestScoreBaseMarksFloorAtZero(t *testing.T) {
	b := Score(scoringQuestion(), intPtr(2), 60, decimal.NewFromInt(10))

	requireDecimal(t, b.BaseMarks, "0", "base marks")
	requireDecimal(t, b.FinalScore, "0", "final score")
}

func TestScoreWrongAnswer(t *testing.T) {
	b := Score(scoringQuestion(), intPtr(0), 3, decimal.NewFromInt(-20))

	if b.Status != domain.StatusWrong {
		t.Fatalf("status = %s, want WRONG", b.Status)
	}
	if b.WrongAttemptOrder != 1 {
		t.Fatalf("wrong attempt order = %d, want 1", b.WrongAttemptOrder)
	}
	requireDecimal(t, b.DeductionMarks, "0", "deduction marks")
	requireDecimal(t, b.FinalScore, "0", "final score")
	if b.ExtraApplied {
		t.Fatalf("recovery bonus never applies to a wrong answer")
	}
}

func TestScoreUnattempted(t *testing.T) {
	b := Score(scoringQuestion(), nil, 4, decimal.NewFromInt(-20))

	if b.Status != domain.StatusUnattempted {
		t.Fatalf("status = %s, want UNATTEMPTED", b.Status)
	}
	requireDecimal(t, b.FinalScore, "0", "final score")
	if b.ExtraApplied {
		t.Fatalf("no bonus on an empty submission")
	}
}

func TestScoreDeterministic(t *testing.T) {
	q := scoringQuestion()
	first := Score(q, intPtr(2), 3, decimal.NewFromInt(-1))
	second := Score(q, intPtr(2), 3, decimal.NewFromInt(-1))

	if first.Status != second.Status ||
		!first.BaseMarks.Equal(second.BaseMarks) ||
		!first.BonusPercent.Equal(second.BonusPercent) ||
		!first.FinalScore.Equal(second.FinalScore) ||
		first.ExtraApplied != second.ExtraApplied {
		t.Fatalf("identical inputs produced different breakdowns: %+v vs %+v", first, second)
	}
}

func TestScoreComponentsRoundTrip(t *testing.T) {
	b := Score(scoringQuestion(), intPtr(2), 1, decimal.NewFromInt(-10))

	// 500 * (1 + 0.6) must reconstruct exactly from the stored components.
	rebuilt := b.BaseMarks.Mul(decimal.NewFromInt(1).Add(b.BonusPercent))
	if !rebuilt.Equal(b.FinalScore) {
		t.Fatalf("stored components do not reproduce the final score: %s vs %s", rebuilt, b.FinalScore)
	}
}
