// Package scoring computes score breakdowns for quiz attempts. It holds no state;
// the negative mark is always supplied by the caller so stored results can be
// rescored under a different penalty without being rewritten.
package scoring

import (
	"math"

	"quiz-session-service/internal/domain"
)

// Outcome classifies one stored answer.
type Outcome int

const (
	NotAttempted Outcome = iota
	Correct
	Incorrect
)

// Classify maps the stored answer of a question to an outcome. An answer naming a
// choice the question no longer has counts as not attempted.
func Classify(q domain.Question, answer string) Outcome {
	if answer == "" || !q.HasChoice(answer) {
		return NotAttempted
	}
	if answer == q.CorrectAnswer {
		return Correct
	}
	return Incorrect
}

// Score computes the breakdown for state against quiz. The total is floored at zero.
func Score(quiz domain.Quiz, state domain.SessionState, negativeMarkPerWrong float64) domain.ScoreBreakdown {
	if negativeMarkPerWrong < 0 {
		negativeMarkPerWrong = 0
	}

	var b domain.ScoreBreakdown
	for _, q := range quiz.Questions {
		switch Classify(q, state.Answers[q.ID]) {
		case Correct:
			b.Correct++
		case Incorrect:
			b.Incorrect++
		default:
			b.NotAttempted++
		}
	}

	b.MarksGained = float64(b.Correct)
	b.MarksDeducted = float64(b.Incorrect) * negativeMarkPerWrong
	b.Total = math.Max(0, b.MarksGained-b.MarksDeducted)
	if n := len(quiz.Questions); n > 0 {
		b.Percentage = b.Total / float64(n) * 100
	}
	return b
}

// TimeTaken is the number of seconds consumed from the time limit, never negative.
func TimeTaken(quiz domain.Quiz, state domain.SessionState) int {
	taken := quiz.Settings.TimeLimit - state.TimeRemaining
	if taken < 0 {
		return 0
	}
	return taken
}

// Rescore recomputes a stored result's breakdown under a different negative mark.
// The result itself is returned unchanged apart from Score.
func Rescore(result domain.QuizResult, negativeMarkPerWrong float64) domain.QuizResult {
	result.Score = Score(result.QuizSnapshot, result.State, negativeMarkPerWrong)
	return result
}
