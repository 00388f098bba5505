package scoring_test

import (
	"math/rand"
	"testing"

	"quiz-session-service/internal/domain"
	"quiz-session-service/internal/scoring"
)

func TestPerfectScore(t *testing.T) {
	quiz := quizWithAnswers("a", "b")
	state := domain.SessionState{Answers: map[string]string{"q1": "a", "q2": "b"}}

	got := scoring.Score(quiz, state, 0)
	if got.Percentage != 100 || got.Correct != 2 || got.Incorrect != 0 || got.NotAttempted != 0 {
		t.Fatalf("unexpected breakdown %+v", got)
	}
}

func TestNegativeMarkingFloor(t *testing.T) {
	quiz := quizWithAnswers("a", "a", "a", "a")
	state := domain.SessionState{Answers: map[string]string{"q1": "b", "q2": "c", "q3": "d", "q4": "b"}}

	got := scoring.Score(quiz, state, 0.25)
	if got.Incorrect != 4 || got.MarksDeducted != 1.0 {
		t.Fatalf("expected four wrong answers costing 1.0, got %+v", got)
	}
	if got.Total != 0 || got.Percentage != 0 {
		t.Fatalf("expected total clamped to 0, got %+v", got)
	}
}

func TestMixedAnswers(t *testing.T) {
	quiz := quizWithAnswers("a", "b", "c", "d")
	state := domain.SessionState{Answers: map[string]string{"q1": "a", "q2": "b", "q3": "a", "q4": ""}}

	got := scoring.Score(quiz, state, 0.5)
	if got.Correct != 2 || got.Incorrect != 1 || got.NotAttempted != 1 {
		t.Fatalf("unexpected counts %+v", got)
	}
	if got.Total != 1.5 || got.Percentage != 37.5 {
		t.Fatalf("unexpected total %+v", got)
	}
}

func TestUnknownChoiceCountsAsNotAttempted(t *testing.T) {
	quiz := quizWithAnswers("a")
	state := domain.SessionState{Answers: map[string]string{"q1": "zz"}}

	got := scoring.Score(quiz, state, 1)
	if got.NotAttempted != 1 || got.Incorrect != 0 {
		t.Fatalf("expected stale choice to be not attempted, got %+v", got)
	}
}

func TestScoreNeverNegative(t *testing.T) {
	rnd := rand.New(rand.NewSource(7))
	choices := []string{"", "a", "b", "c", "d"}
	for i := 0; i < 200; i++ {
		quiz := quizWithAnswers("a", "b", "c", "d", "a", "b")
		state := domain.SessionState{Answers: map[string]string{}}
		for _, q := range quiz.Questions {
			state.Answers[q.ID] = choices[rnd.Intn(len(choices))]
		}
		mark := rnd.Float64() * 3
		if got := scoring.Score(quiz, state, mark); got.Total < 0 || got.Percentage < 0 {
			t.Fatalf("negative score %+v with mark %v", got, mark)
		}
	}
}

func TestTimeTakenAndRescore(t *testing.T) {
	quiz := quizWithAnswers("a", "b")
	quiz.Settings.TimeLimit = 120
	state := domain.SessionState{TimeRemaining: 45, Answers: map[string]string{"q1": "a", "q2": "a"}}
	if got := scoring.TimeTaken(quiz, state); got != 75 {
		t.Fatalf("expected 75 seconds, got %d", got)
	}
	state.TimeRemaining = 500
	if got := scoring.TimeTaken(quiz, state); got != 0 {
		t.Fatalf("expected floor at 0, got %d", got)
	}

	result := domain.QuizResult{ID: "r1", QuizSnapshot: quiz, State: state, Score: scoring.Score(quiz, state, 0)}
	rescored := scoring.Rescore(result, 1)
	if rescored.Score.Total != 0 || result.Score.Total != 1 {
		t.Fatalf("expected rescore to leave original untouched, got %v / %v", result.Score.Total, rescored.Score.Total)
	}
}

func quizWithAnswers(correct ...string) domain.Quiz {
	quiz := domain.Quiz{ID: "quiz", Title: "Quiz", Settings: domain.Settings{TimeLimit: 60}}
	for i, c := range correct {
		quiz.Questions = append(quiz.Questions, domain.Question{
			ID:            "q" + string(rune('1'+i)),
			Type:          domain.QuestionTypeMCQ,
			CorrectAnswer: c,
			Choices: []domain.Choice{
				{ID: "a", Text: "A"}, {ID: "b", Text: "B"}, {ID: "c", Text: "C"}, {ID: "d", Text: "D"},
			},
		})
	}
	return quiz
}
