package app

import (
	"github.com/shopspring/decimal"

	"daily-quiz-service/internal/domain"
)

// Scoring constants. Base marks decay by 10 per answer-order step from a 510
// ceiling; the recovery bonus decays by 10 percentage points per step from 70%.
var (
	baseCeiling   = decimal.NewFromInt(510)
	basePerOrder  = decimal.NewFromInt(10)
	bonusCeiling  = decimal.RequireFromString("0.7")
	bonusPerOrder = decimal.RequireFromString("0.1")
	deductionStep = decimal.NewFromInt(5)
	scoreFloor    = decimal.NewFromInt(-50)
	one           = decimal.NewFromInt(1)

	// FirstSubmissionScore stands in for "previous score" on a participant's
	// very first submission. Positive, so the recovery bonus never applies
	// to a first question.
	FirstSubmissionScore = decimal.NewFromInt(100)
)

// singleAttemptOrder is the fixed wrong-attempt order under the enforced
// single-attempt model. The deduction formula below evaluates to zero with it;
// both are kept for a future multi-attempt mode, not as live behavior.
const singleAttemptOrder = 1

// Score computes the full breakdown for one submission. It is a pure
// function: identical inputs always yield an identical breakdown. The caller
// owns supplying answerOrder and previousScore consistently with concurrent
// writers; pass FirstSubmissionScore when the participant has no prior
// submission.
func Score(question domain.Question, answerIndex *int, answerOrder int, previousScore decimal.Decimal) domain.ScoreBreakdown {
	b := domain.ScoreBreakdown{
		AnswerOrder:       answerOrder,
		WrongAttemptOrder: singleAttemptOrder,
		BaseMarks:         baseMarks(answerOrder),
		DeductionMarks:    decimal.Zero,
		BonusPercent:      decimal.Zero,
		FinalScore:        decimal.Zero,
	}

	if answerIndex == nil {
		b.Status = domain.StatusUnattempted
		return b
	}

	b.BonusPercent = bonusPercent(answerOrder)

	if *answerIndex != question.CorrectIndex {
		b.Status = domain.StatusWrong
		b.DeductionMarks = deductionMarks(singleAttemptOrder)
		b.FinalScore = clampFloor(b.DeductionMarks)
		return b
	}

	b.Status = domain.StatusCorrect
	b.FinalScore = b.BaseMarks
	if previousScore.Cmp(decimal.Zero) <= 0 {
		b.ExtraApplied = true
		b.FinalScore = b.BaseMarks.Mul(one.Add(b.BonusPercent))
	}
	b.FinalScore = clampFloor(b.FinalScore)
	return b
}

// baseMarks is max(0, 510 - order*10) with a 1-based order.
func baseMarks(answerOrder int) decimal.Decimal {
	marks := baseCeiling.Sub(basePerOrder.Mul(decimal.NewFromInt(int64(answerOrder))))
	if marks.IsNegative() {
		return decimal.Zero
	}
	return marks
}

// bonusPercent is max(0, 0.7 - order*0.1); order 7 and later earn nothing.
func bonusPercent(answerOrder int) decimal.Decimal {
	pct := bonusCeiling.Sub(bonusPerOrder.Mul(decimal.NewFromInt(int64(answerOrder))))
	if pct.IsNegative() {
		return decimal.Zero
	}
	return pct
}

// deductionMarks is -5 * (wrongAttemptOrder - 1); always zero while the
// single-attempt invariant holds.
func deductionMarks(wrongAttemptOrder int) decimal.Decimal {
	return deductionStep.Neg().Mul(decimal.NewFromInt(int64(wrongAttemptOrder - 1)))
}

func clampFloor(score decimal.Decimal) decimal.Decimal {
	if score.Cmp(scoreFloor) < 0 {
		return scoreFloor
	}
	return score
}
