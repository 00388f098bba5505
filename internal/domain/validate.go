package domain

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// CanonicalChoiceCount is the number of choices the importer requires per MCQ.
const CanonicalChoiceCount = 4

// ValidateStructure checks the invariants a session relies on: unique question and
// choice ids, at least two choices per MCQ, a correct answer that names a choice and a
// positive time limit. It does not look at authoring concerns such as empty titles.
func ValidateStructure(quiz Quiz) error {
	if quiz.ID == "" {
		return invalid("id", "quiz must have an id")
	}
	if len(quiz.Questions) == 0 {
		return invalid("questions", "quiz must have at least one question")
	}
	if quiz.Settings.TimeLimit <= 0 {
		return invalid("settings.timeLimit", "must be positive, got %d", quiz.Settings.TimeLimit)
	}

	questionIDs := make(map[string]int, len(quiz.Questions))
	for i, q := range quiz.Questions {
		field := fmt.Sprintf("questions[%d]", i)
		if q.ID == "" {
			return invalid(field+".id", "question %d has no id", i+1)
		}
		if prev, ok := questionIDs[q.ID]; ok {
			return invalid(field+".id", "duplicate question id %q (also question %d)", q.ID, prev+1)
		}
		questionIDs[q.ID] = i

		if q.Type != "" && q.Type != QuestionTypeMCQ {
			return invalid(field+".type", "question %q has unsupported type %q", q.ID, q.Type)
		}
		if len(q.Choices) < 2 {
			return invalid(field+".choices", "question %q needs at least 2 choices, got %d", q.ID, len(q.Choices))
		}
		choiceIDs := make(map[string]bool, len(q.Choices))
		for j, c := range q.Choices {
			if c.ID == "" {
				return invalid(fmt.Sprintf("%s.choices[%d].id", field, j), "choice %d of question %q has no id", j+1, q.ID)
			}
			if choiceIDs[c.ID] {
				return invalid(fmt.Sprintf("%s.choices[%d].id", field, j), "duplicate choice id %q in question %q", c.ID, q.ID)
			}
			choiceIDs[c.ID] = true
		}
		if !choiceIDs[q.CorrectAnswer] {
			return invalid(field+".correctAnswer", "question %q: correct answer %q does not match any choice", q.ID, q.CorrectAnswer)
		}
	}
	return nil
}

// ValidateImport applies the authoring rules used when a quiz is pasted or uploaded as
// JSON, then the structural checks. The first failing field is reported.
func ValidateImport(quiz Quiz) error {
	if strings.TrimSpace(quiz.ID) == "" {
		return invalid("id", "quiz must have a string id")
	}
	if strings.TrimSpace(quiz.Title) == "" {
		return invalid("title", "quiz must have a string title")
	}
	if strings.TrimSpace(quiz.Description) == "" {
		return invalid("description", "quiz must have a string description")
	}
	if len(quiz.Questions) == 0 {
		return invalid("questions", "quiz must have an array of questions")
	}
	for i, q := range quiz.Questions {
		field := fmt.Sprintf("questions[%d]", i)
		n := i + 1
		switch {
		case strings.TrimSpace(q.ID) == "":
			return invalid(field+".id", "question %d must have a string id", n)
		case q.Type != QuestionTypeMCQ:
			return invalid(field+".type", "question %d must have type %q", n, QuestionTypeMCQ)
		case strings.TrimSpace(q.Text) == "":
			return invalid(field+".text", "question %d must have text", n)
		case len(q.Choices) != CanonicalChoiceCount:
			return invalid(field+".choices", "question %d must have exactly %d choices", n, CanonicalChoiceCount)
		case strings.TrimSpace(q.CorrectAnswer) == "":
			return invalid(field+".correctAnswer", "question %d must have a correct answer", n)
		case strings.TrimSpace(q.Explanation) == "":
			return invalid(field+".explanation", "question %d must have an explanation", n)
		}
		for j, c := range q.Choices {
			if strings.TrimSpace(c.ID) == "" {
				return invalid(fmt.Sprintf("%s.choices[%d].id", field, j), "choice %d in question %d must have an id", j+1, n)
			}
			if strings.TrimSpace(c.Text) == "" {
				return invalid(fmt.Sprintf("%s.choices[%d].text", field, j), "choice %d in question %d must have text", j+1, n)
			}
		}
	}
	if quiz.Settings.TimeLimit <= 0 {
		return invalid("settings.timeLimit", "quiz settings must have a positive timeLimit")
	}
	return ValidateStructure(quiz)
}

// DecodeQuiz parses and validates quiz JSON. Nothing is returned unless the whole
// document passes ValidateImport.
func DecodeQuiz(r io.Reader) (Quiz, error) {
	var quiz Quiz
	if err := json.NewDecoder(r).Decode(&quiz); err != nil {
		return Quiz{}, &ValidationError{Message: fmt.Sprintf("invalid JSON format: %v", err)}
	}
	if err := ValidateImport(quiz); err != nil {
		return Quiz{}, err
	}
	return quiz, nil
}
