package domain

// QuestionType enumerates the question kinds a quiz may declare.
// Only MCQ is fully supported by sessions and scoring.
type QuestionType string

const (
	QuestionTypeMCQ         QuestionType = "MCQ"
	QuestionTypeTrueFalse   QuestionType = "TRUE_FALSE"
	QuestionTypeShortAnswer QuestionType = "SHORT_ANSWER"
)

// Choice is one selectable answer of a question. Text is markdown.
type Choice struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// Question models an MCQ question whose CorrectAnswer references one choice id.
type Question struct {
	ID            string       `json:"id"`
	Type          QuestionType `json:"type"`
	Text          string       `json:"text"`
	Choices       []Choice     `json:"choices,omitempty"`
	CorrectAnswer string       `json:"correctAnswer"`
	Explanation   string       `json:"explanation"`
}

// HasChoice reports whether id names one of the question's choices.
func (q Question) HasChoice(id string) bool {
	for _, c := range q.Choices {
		if c.ID == id {
			return true
		}
	}
	return false
}

// Settings holds per-quiz session settings. TimeLimit is in seconds.
type Settings struct {
	TimeLimit        int  `json:"timeLimit"`
	ShuffleQuestions bool `json:"shuffleQuestions"`
}

// Quiz is the authored definition consumed read-only by sessions.
type Quiz struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Questions   []Question `json:"questions"`
	Settings    Settings   `json:"settings"`
}

// Question looks a question up by id.
func (q Quiz) Question(id string) (Question, bool) {
	for _, question := range q.Questions {
		if question.ID == id {
			return question, true
		}
	}
	return Question{}, false
}

// QuestionStatus is the navigation status of a single question.
type QuestionStatus string

const (
	StatusUnattempted QuestionStatus = "unattempted"
	StatusAttempted   QuestionStatus = "attempted"
	StatusReview      QuestionStatus = "review"
)

// SaveSlot is a stored checkpoint of a session for one quiz.
type SaveSlot struct {
	ID         string       `json:"id"`
	State      SessionState `json:"state"`
	Timestamp  int64        `json:"timestamp"` // unix millis
	Name       string       `json:"name"`
	IsAutosave bool         `json:"isAutosave"`
}

// AutosaveName is the fixed display name of the autosave slot.
const AutosaveName = "Autosave"

// ScoreBreakdown is the outcome of scoring one attempt.
type ScoreBreakdown struct {
	Total         float64 `json:"total"`
	Percentage    float64 `json:"percentage"`
	Correct       int     `json:"correct"`
	Incorrect     int     `json:"incorrect"`
	NotAttempted  int     `json:"notAttempted"`
	MarksGained   float64 `json:"marksGained"`
	MarksDeducted float64 `json:"marksDeducted"`
}

// QuizResult is the immutable record of a completed attempt. QuizSnapshot keeps the
// quiz as it was when the attempt finished.
type QuizResult struct {
	ID           string         `json:"id"`
	QuizID       string         `json:"quizId"`
	QuizTitle    string         `json:"quizTitle"`
	QuizSnapshot Quiz           `json:"quizSnapshot"`
	State        SessionState   `json:"state"`
	Timestamp    int64          `json:"timestamp"` // unix millis
	Score        ScoreBreakdown `json:"score"`
	TimeTaken    int            `json:"timeTaken"` // seconds
}

// EditConflict describes saved progress that an edit of the quiz could invalidate.
type EditConflict struct {
	QuizID    string `json:"quizId"`
	HasSaves  bool   `json:"hasSaves"`
	SaveCount int    `json:"saveCount"`
}

// EditResolution is the user's answer to an edit conflict.
type EditResolution string

const (
	EditClearSaves EditResolution = "clear"
	EditAnyway     EditResolution = "anyway"
	EditCancel     EditResolution = "cancel"
)
