package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionNotFound is returned when no live session exists for a quiz.
	ErrSessionNotFound = errors.New("quiz session not found")
	// ErrQuizNotFound indicates the quiz content could not be loaded.
	ErrQuizNotFound = errors.New("quiz not found")
	// ErrQuestionNotFound indicates a question ID is not part of the quiz.
	ErrQuestionNotFound = errors.New("question not found")
	// ErrChoiceNotFound indicates a choice ID is not part of the question.
	ErrChoiceNotFound = errors.New("choice not found")
	// ErrIndexOutOfRange is returned for navigation outside the question list.
	ErrIndexOutOfRange = errors.New("question index out of range")
	// ErrSessionComplete is returned when mutating a finished attempt.
	ErrSessionComplete = errors.New("quiz session already complete")
	// ErrSaveNotFound is the not-found sentinel for save slot lookups.
	ErrSaveNotFound = errors.New("save not found")
	// ErrUnusableSave marks a stored slot that cannot be resumed.
	ErrUnusableSave = errors.New("save cannot be resumed")
	// ErrSaveLimitReached is returned when the manual slot cap is hit.
	ErrSaveLimitReached = errors.New("maximum number of save slots reached")
	// ErrResultNotFound indicates a result ID is unknown.
	ErrResultNotFound = errors.New("result not found")
	// ErrResultNotSaved is returned when a completed attempt could not be persisted.
	ErrResultNotSaved = errors.New("results were not saved")
	// ErrInvalidQuiz is matched by every quiz validation failure.
	ErrInvalidQuiz = errors.New("invalid quiz")
	// ErrEditConflict is returned when editing a quiz that still has saved progress.
	ErrEditConflict = errors.New("quiz has saved progress")
)

// ValidationError reports a field-level problem with a quiz definition.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Is lets errors.Is(err, ErrInvalidQuiz) match any validation error.
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidQuiz
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}
