package domain

import (
	"hash/fnv"
	"math/rand"
	"strconv"
	"time"
)

// SessionState is the mutable state of one attempt. Times are seconds except
// StartTime and TotalPausedTime, which are unix / duration millis kept for audit only.
type SessionState struct {
	CurrentQuestionIndex int               `json:"currentQuestionIndex"`
	Answers              map[string]string `json:"answers"`
	MarkedForReview      []string          `json:"markedForReview"`
	TimeRemaining        int               `json:"timeRemaining"`
	IsPaused             bool              `json:"isPaused"`
	StartTime            int64             `json:"startTime"`
	TotalPausedTime      int64             `json:"totalPausedTime"`
	IsComplete           bool              `json:"isComplete"`
	// QuestionOrder maps display position to quiz question index when shuffling.
	QuestionOrder []int `json:"questionOrder,omitempty"`
}

// NewSessionState returns a fresh, paused state with every answer pre-seeded empty.
// createdAt seeds the question shuffle when the quiz asks for one.
func NewSessionState(quiz Quiz, createdAt time.Time) SessionState {
	answers := make(map[string]string, len(quiz.Questions))
	for _, q := range quiz.Questions {
		answers[q.ID] = ""
	}
	state := SessionState{
		Answers:         answers,
		MarkedForReview: []string{},
		TimeRemaining:   quiz.Settings.TimeLimit,
		IsPaused:        true,
	}
	if quiz.Settings.ShuffleQuestions {
		state.QuestionOrder = ShuffledOrder(quiz.ID, createdAt, len(quiz.Questions))
	}
	return state
}

// ShuffledOrder is a Fisher-Yates permutation of [0, n) that is stable for a given
// quiz id and session creation time.
func ShuffledOrder(quizID string, createdAt time.Time, n int) []int {
	h := fnv.New64a()
	_, _ = h.Write([]byte(quizID))
	_, _ = h.Write([]byte(strconv.FormatInt(createdAt.UnixNano(), 10)))
	rnd := rand.New(rand.NewSource(int64(h.Sum64())))

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	for i := n - 1; i > 0; i-- {
		j := rnd.Intn(i + 1)
		order[i], order[j] = order[j], order[i]
	}
	return order
}

// Clone returns a deep copy safe to hand to other goroutines or storage.
func (s SessionState) Clone() SessionState {
	out := s
	out.Answers = make(map[string]string, len(s.Answers))
	for k, v := range s.Answers {
		out.Answers[k] = v
	}
	out.MarkedForReview = append([]string{}, s.MarkedForReview...)
	if s.QuestionOrder != nil {
		out.QuestionOrder = append([]int(nil), s.QuestionOrder...)
	}
	return out
}

// Answer returns the stored choice for a question; "" means unanswered.
func (s SessionState) Answer(questionID string) string {
	return s.Answers[questionID]
}

// IsMarked reports whether the question is marked for review.
func (s SessionState) IsMarked(questionID string) bool {
	for _, id := range s.MarkedForReview {
		if id == questionID {
			return true
		}
	}
	return false
}

// StatusOf computes the navigation status. Review wins over attempted.
func (s SessionState) StatusOf(questionID string) QuestionStatus {
	if s.IsMarked(questionID) {
		return StatusReview
	}
	if s.Answers[questionID] != "" {
		return StatusAttempted
	}
	return StatusUnattempted
}

// AnsweredCount counts non-empty answers.
func (s SessionState) AnsweredCount() int {
	n := 0
	for _, a := range s.Answers {
		if a != "" {
			n++
		}
	}
	return n
}

// QuestionAt resolves a display index to a quiz question index.
func (s SessionState) QuestionAt(displayIndex int) int {
	if displayIndex >= 0 && displayIndex < len(s.QuestionOrder) {
		return s.QuestionOrder[displayIndex]
	}
	return displayIndex
}

// Sanitize aligns a state loaded from storage with the quiz it will run against:
// unknown ids are dropped, every question is seeded, and index and time are clamped.
func (s SessionState) Sanitize(quiz Quiz) SessionState {
	out := s.Clone()
	n := len(quiz.Questions)

	answers := make(map[string]string, n)
	for _, q := range quiz.Questions {
		a := out.Answers[q.ID]
		if a != "" && !q.HasChoice(a) {
			a = ""
		}
		answers[q.ID] = a
	}
	out.Answers = answers

	marked := make([]string, 0, len(out.MarkedForReview))
	seen := make(map[string]bool, len(out.MarkedForReview))
	for _, id := range out.MarkedForReview {
		if _, ok := quiz.Question(id); ok && !seen[id] {
			seen[id] = true
			marked = append(marked, id)
		}
	}
	out.MarkedForReview = marked

	if out.CurrentQuestionIndex < 0 {
		out.CurrentQuestionIndex = 0
	}
	if n > 0 && out.CurrentQuestionIndex > n-1 {
		out.CurrentQuestionIndex = n - 1
	}
	if out.TimeRemaining < 0 {
		out.TimeRemaining = 0
	}
	if out.TimeRemaining > quiz.Settings.TimeLimit {
		out.TimeRemaining = quiz.Settings.TimeLimit
	}
	if out.QuestionOrder != nil && !isPermutation(out.QuestionOrder, n) {
		out.QuestionOrder = nil
	}
	return out
}

func isPermutation(order []int, n int) bool {
	if len(order) != n {
		return false
	}
	seen := make([]bool, n)
	for _, idx := range order {
		if idx < 0 || idx >= n || seen[idx] {
			return false
		}
		seen[idx] = true
	}
	return true
}
